// Package ledger implements the payment ledger and document-status
// reconciliation engine. It is the sole writer of payment rows and of the
// derived status column on documents: every mutation runs in a single
// immediate transaction, so the balance check, the payment write and the
// status write are atomic with respect to other operations on the same
// document.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/facturo/ledger/models"
)

// Engine orchestrates payment mutations against documents and keeps each
// document's status consistent with its payment sum.
type Engine struct {
	db     *sql.DB
	broker *Broker
	now    func() time.Time
}

func NewEngine(db *sql.DB, broker *Broker) *Engine {
	return &Engine{db: db, broker: broker, now: time.Now}
}

// CreatePayment validates and applies a new payment to a document. The
// payment is rejected without any write if it would exceed the document's
// remaining balance.
func (e *Engine) CreatePayment(ctx context.Context, input models.PaymentInput) (models.Payment, error) {
	if input.DocumentID <= 0 {
		return models.Payment{}, ErrMissingDocument
	}
	if input.Amount <= 0 {
		return models.Payment{}, ErrInvalidAmount
	}
	if input.PaymentDate == nil || *input.PaymentDate == "" {
		today := e.now().Format(dateLayout)
		input.PaymentDate = &today
	}

	var created models.Payment
	var events []Event
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		events = events[:0]

		doc, err := GetDocument(tx, input.DocumentID)
		if err != nil {
			return err
		}
		if input.Amount > doc.Remaining {
			return &OverpaymentError{Remaining: doc.Remaining, Total: doc.TotalAmount, AlreadyPaid: doc.Paid}
		}

		id, err := insertPayment(tx, input)
		if err != nil {
			return err
		}
		change, err := e.reconcile(tx, doc.ID)
		if err != nil {
			return err
		}
		created, err = GetPayment(tx, id)
		if err != nil {
			return err
		}

		events = append(events,
			Event{Entity: EntityPayment, Op: OpCreate, Payload: created},
			Event{Entity: EntityDocument, Op: OpUpdate, Payload: change})
		return nil
	})
	if err != nil {
		return models.Payment{}, err
	}

	e.publish(events)
	slog.Debug("payment created", "payment_id", created.ID, "document_id", created.DocumentID, "amount", created.Amount)
	return created, nil
}

// UpdatePayment rewrites a payment and reconciles every document it touched.
// If the payment moved to a different document, both the document it left and
// the document it joined are reconciled in the same transaction; partial
// success is not a possible outcome.
func (e *Engine) UpdatePayment(ctx context.Context, id int, input models.PaymentInput) (models.Payment, error) {
	if input.DocumentID <= 0 {
		return models.Payment{}, ErrMissingDocument
	}
	if input.Amount <= 0 {
		return models.Payment{}, ErrInvalidAmount
	}

	var updated models.Payment
	var events []Event
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		events = events[:0]

		prior, err := GetPayment(tx, id)
		if err != nil {
			return err
		}
		doc, err := GetDocument(tx, input.DocumentID)
		if err != nil {
			return err
		}

		// The payment being edited must not count against itself when
		// validating the new document's balance.
		paidByOthers, err := sumPayments(tx, doc.ID, id)
		if err != nil {
			return err
		}
		remaining := doc.TotalAmount - paidByOthers
		if input.Amount > remaining {
			return &OverpaymentError{Remaining: remaining, Total: doc.TotalAmount, AlreadyPaid: paidByOthers}
		}

		if input.PaymentDate == nil || *input.PaymentDate == "" {
			input.PaymentDate = prior.PaymentDate
		}
		if err := updatePayment(tx, id, input); err != nil {
			return err
		}

		change, err := e.reconcile(tx, doc.ID)
		if err != nil {
			return err
		}
		events = append(events, Event{Entity: EntityDocument, Op: OpUpdate, Payload: change})

		if prior.DocumentID != doc.ID {
			oldChange, err := e.reconcile(tx, prior.DocumentID)
			if err != nil {
				return err
			}
			events = append(events, Event{Entity: EntityDocument, Op: OpUpdate, Payload: oldChange})
		}

		updated, err = GetPayment(tx, id)
		if err != nil {
			return err
		}
		events = append(events, Event{Entity: EntityPayment, Op: OpUpdate, Payload: updated})
		return nil
	})
	if err != nil {
		return models.Payment{}, err
	}

	e.publish(events)
	slog.Debug("payment updated", "payment_id", id, "document_id", updated.DocumentID, "amount", updated.Amount)
	return updated, nil
}

// DeletePayment removes a payment and reconciles its document. A document
// that loses its only payment reverts to pending, or overdue if past due.
func (e *Engine) DeletePayment(ctx context.Context, id int) error {
	var events []Event
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		events = events[:0]

		prior, err := GetPayment(tx, id)
		if err != nil {
			return err
		}
		if err := deletePayment(tx, id); err != nil {
			return err
		}
		change, err := e.reconcile(tx, prior.DocumentID)
		if err != nil {
			return err
		}

		events = append(events,
			Event{Entity: EntityPayment, Op: OpDelete, Payload: prior},
			Event{Entity: EntityDocument, Op: OpUpdate, Payload: change})
		return nil
	})
	if err != nil {
		return err
	}

	e.publish(events)
	slog.Debug("payment deleted", "payment_id", id)
	return nil
}

// ReconcileDocument recomputes one document's status from its current
// payments. Called after document edits that can affect the status, such as
// a due-date change.
func (e *Engine) ReconcileDocument(ctx context.Context, documentID int) (models.Document, error) {
	var doc models.Document
	var change DocumentChange
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if change, err = e.reconcile(tx, documentID); err != nil {
			return err
		}
		doc, err = GetDocument(tx, documentID)
		return err
	})
	if err != nil {
		return models.Document{}, err
	}

	e.publish([]Event{{Entity: EntityDocument, Op: OpUpdate, Payload: change}})
	return doc, nil
}

// CreateDocument inserts a document and derives its initial status in the
// same transaction, so a document issued past its due date is never visible
// as pending.
func (e *Engine) CreateDocument(ctx context.Context, kind models.DocumentKind, input models.DocumentInput) (models.Document, error) {
	var created models.Document
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		id, err := insertDocument(tx, kind, input)
		if err != nil {
			return err
		}
		if _, err := e.reconcile(tx, id); err != nil {
			return err
		}
		created, err = GetDocument(tx, id)
		return err
	})
	if err != nil {
		return models.Document{}, err
	}

	e.publish([]Event{{Entity: EntityDocument, Op: OpCreate, Payload: created}})
	slog.Debug("document created", "document_id", created.ID, "kind", created.Kind)
	return created, nil
}

// DeleteDocument removes a document of the given kind. A document with
// payments attached cannot be deleted; the check and the delete run in one
// transaction so a concurrent payment cannot slip between them.
func (e *Engine) DeleteDocument(ctx context.Context, kind models.DocumentKind, id int) error {
	var prior models.Document
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		doc, err := GetDocument(tx, id)
		if err != nil {
			return err
		}
		if doc.Kind != kind {
			return ErrDocumentNotFound
		}
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM payments WHERE document_id = ?`, id).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return ErrDocumentHasPayments
		}
		if _, err := tx.Exec(`DELETE FROM documents WHERE id = ?`, id); err != nil {
			return err
		}
		prior = doc
		return nil
	})
	if err != nil {
		return err
	}

	e.publish([]Event{{Entity: EntityDocument, Op: OpDelete, Payload: prior}})
	slog.Debug("document deleted", "document_id", id, "kind", kind)
	return nil
}

// RefreshOverdue promotes pending and partially paid documents past their due
// date to overdue, and returns how many changed. Statuses otherwise only move
// when the ledger changes, so a sweep is needed for the calendar to catch up.
func (e *Engine) RefreshOverdue(ctx context.Context) (int, error) {
	today := e.now().Format(dateLayout)

	var changed []int
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		changed = changed[:0]

		rows, err := tx.Query(`SELECT id FROM documents
			WHERE status IN ('pending', 'partially_paid') AND due_date IS NOT NULL AND due_date < ?`, today)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int
			if err := rows.Scan(&id); err != nil {
				return err
			}
			changed = append(changed, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range changed {
			if err := setDocumentStatus(tx, id, models.StatusOverdue); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, id := range changed {
		e.publish([]Event{{Entity: EntityDocument, Op: OpUpdate, Payload: DocumentChange{DocumentID: id, Status: models.StatusOverdue}}})
	}
	return len(changed), nil
}

// ListPaymentsForDocument returns a document's payments. The document must
// exist.
func (e *Engine) ListPaymentsForDocument(documentID int) ([]models.Payment, error) {
	if _, err := GetDocument(e.db, documentID); err != nil {
		return nil, err
	}
	return ListPayments(e.db, PaymentFilter{DocumentID: fmt.Sprint(documentID)})
}

// ListPaymentsForParty returns all payments against a party's documents.
func (e *Engine) ListPaymentsForParty(partyID int) ([]models.Payment, error) {
	return ListPayments(e.db, PaymentFilter{PartyID: fmt.Sprint(partyID)})
}

// reconcile recomputes a document's status from its payment sum and writes it
// back if it moved.
func (e *Engine) reconcile(tx *sql.Tx, documentID int) (DocumentChange, error) {
	doc, err := GetDocument(tx, documentID)
	if err != nil {
		return DocumentChange{}, err
	}
	status := DeriveStatus(doc.TotalAmount, doc.Paid, doc.DueDate, e.now())
	if status != doc.Status {
		if err := setDocumentStatus(tx, documentID, status); err != nil {
			return DocumentChange{}, err
		}
	}
	return DocumentChange{DocumentID: documentID, Status: status, Paid: doc.Paid, Remaining: doc.Remaining}, nil
}

// withTx runs fn inside one immediate transaction, retrying with backoff when
// SQLite reports the database busy or locked. Anything fn wrote is rolled
// back on error, including status writes already staged.
func (e *Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(10*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := e.runTx(ctx, fn)
		if isBusy(err) {
			return retry.RetryableError(fmt.Errorf("%w: %v", ErrConflict, err))
		}
		return err
	})
}

func (e *Engine) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

func (e *Engine) publish(events []Event) {
	if e.broker == nil {
		return
	}
	for _, ev := range events {
		e.broker.Publish(ev)
	}
}
