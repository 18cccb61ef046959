package events

// Topic constants for domain events emitted by the service.
const (
	TopicPriceRuleCreated       = "price_rule.created"
	TopicPriceRuleClosed        = "price_rule.closed"
	TopicDocumentCreated        = "document.created"
	TopicDocumentTotalsChanged  = "document.totals_changed"
	TopicDocumentSyncFailed     = "document.sync_failed"
	TopicDocumentStatusChanged  = "document.status_changed"
	TopicDocumentInvoiceCreated = "document.invoice_created"
)

// DefaultTopics returns the canonical list of topics.
func DefaultTopics() []string {
	return []string{
		TopicPriceRuleCreated,
		TopicPriceRuleClosed,
		TopicDocumentCreated,
		TopicDocumentTotalsChanged,
		TopicDocumentSyncFailed,
		TopicDocumentStatusChanged,
		TopicDocumentInvoiceCreated,
	}
}
