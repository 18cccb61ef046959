package document

import "github.com/emirsalihagic/miniERP-sub001/internal/common"

// Status is a document lifecycle state.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusInvoiceCreated Status = "INVOICE_CREATED"
	StatusDraft          Status = "DRAFT"
	StatusIssued         Status = "ISSUED"
	StatusSent           Status = "SENT"
	StatusPaid           Status = "PAID"
	StatusVoid           Status = "VOID"
)

var lifecycles = map[Kind][]Status{
	KindOrder:   {StatusPending, StatusInvoiceCreated, StatusSent, StatusPaid},
	KindInvoice: {StatusDraft, StatusIssued, StatusSent, StatusPaid},
}

// InitialStatus is the only state in which a document accepts edits.
func InitialStatus(kind Kind) Status {
	return lifecycles[kind][0]
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusVoid
}

// ParseStatus validates raw against the lifecycle of kind.
func ParseStatus(kind Kind, raw string) (Status, bool) {
	s := Status(raw)
	if s == StatusVoid {
		return s, true
	}
	for _, candidate := range lifecycles[kind] {
		if candidate == s {
			return s, true
		}
	}
	return "", false
}

// CheckTransition validates a status change requested through Transition.
// Documents advance one step at a time or are voided. Orders reach
// INVOICE_CREATED only through CreateInvoiceFromOrder.
func CheckTransition(kind Kind, from, to Status) error {
	details := map[string]string{"kind": string(kind), "from": string(from), "to": string(to)}
	if from.Terminal() {
		return common.WithDetails(ErrInvalidTransition, details)
	}
	if to == StatusVoid {
		return nil
	}
	if kind == KindOrder && to == StatusInvoiceCreated {
		details["hint"] = "use the invoice endpoint"
		return common.WithDetails(ErrInvalidTransition, details)
	}
	if next, ok := nextStatus(kind, from); ok && next == to {
		return nil
	}
	return common.WithDetails(ErrInvalidTransition, details)
}

func nextStatus(kind Kind, from Status) (Status, bool) {
	steps := lifecycles[kind]
	for i := 0; i < len(steps)-1; i++ {
		if steps[i] == from {
			return steps[i+1], true
		}
	}
	return "", false
}
