package ledger

import (
	"errors"
	"fmt"

	"github.com/facturo/ledger/models"
)

// Sentinel errors returned by the reconciliation engine. All of them mean the
// caller did something wrong (or lost a race); none are retried automatically
// except ErrConflict, which is safe to retry from scratch.
var (
	// ErrDocumentNotFound is returned when a payment references an unknown document.
	ErrDocumentNotFound = errors.New("ledger: document not found")

	// ErrPaymentNotFound is returned when the payment id does not exist.
	ErrPaymentNotFound = errors.New("ledger: payment not found")

	// ErrInvalidAmount is returned for non-positive payment amounts, before
	// any store access.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrMissingDocument is returned when a payment is submitted without a
	// document reference. Payments cannot exist unattached.
	ErrMissingDocument = errors.New("ledger: payment must reference a document")

	// ErrDocumentHasPayments is returned when deleting a document that still
	// has payments attached. The payments must be removed or moved first.
	ErrDocumentHasPayments = errors.New("ledger: document has payments")

	// ErrConflict is returned when the transaction lost a serialization race
	// and exhausted its retries. The whole operation can be retried.
	ErrConflict = errors.New("ledger: transaction conflict")
)

// OverpaymentError is returned when a payment would push a document's paid
// sum past its total. It carries the figures so callers can render a precise
// message. The rejected operation performs no writes.
type OverpaymentError struct {
	Remaining   models.Money
	Total       models.Money
	AlreadyPaid models.Money
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("ledger: amount exceeds remaining balance %s (total %s, already paid %s)",
		e.Remaining, e.Total, e.AlreadyPaid)
}
