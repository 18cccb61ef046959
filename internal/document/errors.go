package document

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/emirsalihagic/miniERP-sub001/internal/common"
)

var (
	// ErrDocumentLocked is returned when a document is no longer in its
	// initial state and its lines or discount are frozen.
	ErrDocumentLocked = common.NewAppError("DOCUMENT_LOCKED", "document can no longer be modified", http.StatusConflict, nil)
	// ErrNotFound is returned when a document id is unknown to the tenant.
	ErrNotFound = common.NewAppError("DOCUMENT_NOT_FOUND", "document not found", http.StatusNotFound, nil)
	// ErrLineNotFound is returned when a line does not belong to the document.
	ErrLineNotFound = common.NewAppError("LINE_NOT_FOUND", "line item not found", http.StatusNotFound, nil)
	// ErrInvalidTransition is returned for status changes the state machine does not allow.
	ErrInvalidTransition = common.NewAppError("INVALID_TRANSITION", "status transition not allowed", http.StatusConflict, nil)
	// ErrCurrencyMismatch is returned when a resolved price is in another currency than the document.
	ErrCurrencyMismatch = common.NewAppError("CURRENCY_MISMATCH", "price currency does not match the document", http.StatusUnprocessableEntity, nil)
	// ErrAlreadyLinked is returned when a document already has a counterpart.
	ErrAlreadyLinked = common.NewAppError("ALREADY_LINKED", "document is already linked", http.StatusConflict, nil)
	// ErrEmptyDocument is returned when an operation needs at least one line.
	ErrEmptyDocument = common.NewAppError("EMPTY_DOCUMENT", "document has no lines", http.StatusUnprocessableEntity, nil)
	// ErrInvalidPercent reports a percent outside [0, 100] or finer than the
	// internal scale.
	ErrInvalidPercent = common.NewAppError("INVALID_PERCENT", "percent must be between 0 and 100 with at most 4 decimals", http.StatusUnprocessableEntity, nil)
	// ErrInvalidDocument reports malformed create input.
	ErrInvalidDocument = common.NewAppError("INVALID_DOCUMENT", "document is invalid", http.StatusUnprocessableEntity, nil)
	// ErrNotLinked is returned by RetrySync for a document without counterpart.
	ErrNotLinked = common.NewAppError("NOT_LINKED", "document has no linked counterpart", http.StatusConflict, nil)

	// ErrSyncFailure marks a failed mirror of totals into a counterpart. It
	// is logged and retried, never returned to HTTP callers.
	ErrSyncFailure = errors.New("document: sync failure")
)

// SyncError describes a failed synchronization between two documents.
type SyncError struct {
	SourceID      uuid.UUID
	CounterpartID uuid.UUID
	SourceVersion int64
	Err           error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("document: sync %s -> %s: %v", e.SourceID, e.CounterpartID, e.Err)
}

// Is lets errors.Is(err, ErrSyncFailure) match any SyncError.
func (e *SyncError) Is(target error) bool {
	return target == ErrSyncFailure
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
