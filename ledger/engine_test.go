package ledger

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturo/ledger/db"
	"github.com/facturo/ledger/models"
)

func newTestEngine(t *testing.T) (*Engine, *sql.DB) {
	t.Helper()
	conn, err := sql.Open("sqlite", db.DSN(filepath.Join(t.TempDir(), "ledger.db")))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(conn))
	return NewEngine(conn, NewBroker()), conn
}

func createTestDocument(t *testing.T, conn *sql.DB, total models.Money, dueDate *string) int {
	t.Helper()
	res, err := conn.Exec(`INSERT INTO documents (kind, number, due_date, total_amount) VALUES ('receivable', 'INV-001', ?, ?)`,
		dueDate, total)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return int(id)
}

func documentState(t *testing.T, conn *sql.DB, id int) models.Document {
	t.Helper()
	doc, err := GetDocument(conn, id)
	require.NoError(t, err)
	return doc
}

func pastDate(days int) *string {
	s := time.Now().AddDate(0, 0, -days).Format(dateLayout)
	return &s
}

func futureDate(days int) *string {
	s := time.Now().AddDate(0, 0, days).Format(dateLayout)
	return &s
}

func TestCreatePaymentLifecycle(t *testing.T) {
	engine, conn := newTestEngine(t)
	ctx := context.Background()
	docID := createTestDocument(t, conn, models.FromUnits(1000), futureDate(30))

	p1, err := engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docID, Amount: models.FromUnits(400)})
	require.NoError(t, err)
	assert.Equal(t, docID, p1.DocumentID)
	assert.NotNil(t, p1.PaymentDate) // defaults to today

	doc := documentState(t, conn, docID)
	assert.Equal(t, models.FromUnits(400), doc.Paid)
	assert.Equal(t, models.StatusPartiallyPaid, doc.Status)

	_, err = engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docID, Amount: models.FromUnits(600)})
	require.NoError(t, err)

	doc = documentState(t, conn, docID)
	assert.Equal(t, models.FromUnits(1000), doc.Paid)
	assert.Equal(t, models.Money(0), doc.Remaining)
	assert.Equal(t, models.StatusPaid, doc.Status)

	// One more millime is one too many.
	_, err = engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docID, Amount: models.FromUnits(1)})
	var over *OverpaymentError
	require.ErrorAs(t, err, &over)
	assert.Equal(t, models.Money(0), over.Remaining)
	assert.Equal(t, models.FromUnits(1000), over.Total)
	assert.Equal(t, models.FromUnits(1000), over.AlreadyPaid)
}

func TestCreatePaymentRejectionWritesNothing(t *testing.T) {
	engine, conn := newTestEngine(t)
	ctx := context.Background()
	docID := createTestDocument(t, conn, models.FromUnits(100), nil)

	_, err := engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docID, Amount: models.FromUnits(150)})
	var over *OverpaymentError
	require.ErrorAs(t, err, &over)
	assert.Equal(t, models.FromUnits(100), over.Remaining)

	var count int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM payments").Scan(&count))
	assert.Zero(t, count)

	doc := documentState(t, conn, docID)
	assert.Equal(t, models.StatusPending, doc.Status)
}

func TestCreatePaymentValidation(t *testing.T) {
	engine, conn := newTestEngine(t)
	ctx := context.Background()
	docID := createTestDocument(t, conn, models.FromUnits(100), nil)

	_, err := engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docID, Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docID, Amount: -5})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = engine.CreatePayment(ctx, models.PaymentInput{Amount: models.FromUnits(10)})
	assert.ErrorIs(t, err, ErrMissingDocument)

	_, err = engine.CreatePayment(ctx, models.PaymentInput{DocumentID: 9999, Amount: models.FromUnits(10)})
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestOverdueStatusProgression(t *testing.T) {
	engine, conn := newTestEngine(t)
	ctx := context.Background()

	// Due date passed, no payments.
	docID := createTestDocument(t, conn, models.FromUnits(500), pastDate(1))
	_, err := engine.ReconcileDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOverdue, documentState(t, conn, docID).Status)

	// A partial payment does not lift overdue.
	_, err = engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docID, Amount: models.FromUnits(200)})
	require.NoError(t, err)
	doc := documentState(t, conn, docID)
	assert.Equal(t, models.FromUnits(200), doc.Paid)
	assert.Equal(t, models.StatusOverdue, doc.Status)

	// Full payment does, even after the due date.
	final, err := engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docID, Amount: models.FromUnits(300)})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, documentState(t, conn, docID).Status)

	// Deleting the settling payment reverts to overdue, not pending.
	require.NoError(t, engine.DeletePayment(ctx, final.ID))
	doc = documentState(t, conn, docID)
	assert.Equal(t, models.FromUnits(200), doc.Paid)
	assert.Equal(t, models.StatusOverdue, doc.Status)
}

func TestDeletePaymentRestoresPriorState(t *testing.T) {
	engine, conn := newTestEngine(t)
	ctx := context.Background()
	docID := createTestDocument(t, conn, models.FromUnits(300), futureDate(10))

	before := documentState(t, conn, docID)
	p, err := engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docID, Amount: models.FromUnits(120)})
	require.NoError(t, err)
	require.NoError(t, engine.DeletePayment(ctx, p.ID))

	after := documentState(t, conn, docID)
	assert.Equal(t, before.Paid, after.Paid)
	assert.Equal(t, before.Status, after.Status)

	err = engine.DeletePayment(ctx, p.ID)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestUpdatePaymentSameDocument(t *testing.T) {
	engine, conn := newTestEngine(t)
	ctx := context.Background()
	docID := createTestDocument(t, conn, models.FromUnits(1000), futureDate(10))

	p, err := engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docID, Amount: models.FromUnits(400)})
	require.NoError(t, err)

	// Raising the amount to the full total must not count the edited payment
	// against itself.
	updated, err := engine.UpdatePayment(ctx, p.ID, models.PaymentInput{DocumentID: docID, Amount: models.FromUnits(1000)})
	require.NoError(t, err)
	assert.Equal(t, models.FromUnits(1000), updated.Amount)
	assert.Equal(t, models.StatusPaid, documentState(t, conn, docID).Status)

	// Lowering it reverts to partially paid.
	_, err = engine.UpdatePayment(ctx, p.ID, models.PaymentInput{DocumentID: docID, Amount: models.FromUnits(250)})
	require.NoError(t, err)
	doc := documentState(t, conn, docID)
	assert.Equal(t, models.FromUnits(250), doc.Paid)
	assert.Equal(t, models.StatusPartiallyPaid, doc.Status)
}

func TestUpdatePaymentMoveReconcilesBothDocuments(t *testing.T) {
	engine, conn := newTestEngine(t)
	ctx := context.Background()
	docA := createTestDocument(t, conn, models.FromUnits(300), futureDate(10))
	docB := createTestDocument(t, conn, models.FromUnits(300), futureDate(10))

	p, err := engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docA, Amount: models.FromUnits(150)})
	require.NoError(t, err)

	_, err = engine.UpdatePayment(ctx, p.ID, models.PaymentInput{DocumentID: docB, Amount: models.FromUnits(150)})
	require.NoError(t, err)

	a := documentState(t, conn, docA)
	assert.Equal(t, models.Money(0), a.Paid)
	assert.Equal(t, models.StatusPending, a.Status)

	b := documentState(t, conn, docB)
	assert.Equal(t, models.FromUnits(150), b.Paid)
	assert.Equal(t, models.StatusPartiallyPaid, b.Status)
}

func TestUpdatePaymentMoveRejectedLeavesSourceUntouched(t *testing.T) {
	engine, conn := newTestEngine(t)
	ctx := context.Background()
	docA := createTestDocument(t, conn, models.FromUnits(300), futureDate(10))
	docB := createTestDocument(t, conn, models.FromUnits(300), futureDate(10))

	p, err := engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docA, Amount: models.FromUnits(150)})
	require.NoError(t, err)
	_, err = engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docB, Amount: models.FromUnits(200)})
	require.NoError(t, err)

	// Moving the 150 onto B would put B at 350 of 300.
	_, err = engine.UpdatePayment(ctx, p.ID, models.PaymentInput{DocumentID: docB, Amount: models.FromUnits(150)})
	var over *OverpaymentError
	require.ErrorAs(t, err, &over)
	assert.Equal(t, models.FromUnits(100), over.Remaining)
	assert.Equal(t, models.FromUnits(200), over.AlreadyPaid)

	// A is untouched by the rejected operation.
	a := documentState(t, conn, docA)
	assert.Equal(t, models.FromUnits(150), a.Paid)
	assert.Equal(t, models.StatusPartiallyPaid, a.Status)

	moved, err := GetPayment(conn, p.ID)
	require.NoError(t, err)
	assert.Equal(t, docA, moved.DocumentID)
}

func TestStatusNeverDrifts(t *testing.T) {
	engine, conn := newTestEngine(t)
	ctx := context.Background()
	docID := createTestDocument(t, conn, models.FromUnits(1000), futureDate(5))

	checkNoDrift := func() {
		t.Helper()
		doc := documentState(t, conn, docID)
		assert.Equal(t, DeriveStatus(doc.TotalAmount, doc.Paid, doc.DueDate, time.Now()), doc.Status)
	}

	p1, err := engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docID, Amount: models.FromUnits(300)})
	require.NoError(t, err)
	checkNoDrift()

	p2, err := engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docID, Amount: models.FromUnits(700)})
	require.NoError(t, err)
	checkNoDrift()

	_, err = engine.UpdatePayment(ctx, p2.ID, models.PaymentInput{DocumentID: docID, Amount: models.FromUnits(100)})
	require.NoError(t, err)
	checkNoDrift()

	require.NoError(t, engine.DeletePayment(ctx, p1.ID))
	checkNoDrift()

	require.NoError(t, engine.DeletePayment(ctx, p2.ID))
	checkNoDrift()
	assert.Equal(t, models.StatusPending, documentState(t, conn, docID).Status)
}

func TestSumInvariantNeverExceedsTotal(t *testing.T) {
	engine, conn := newTestEngine(t)
	ctx := context.Background()
	docID := createTestDocument(t, conn, models.FromUnits(100), nil)

	amounts := []models.Money{models.FromUnits(60), models.FromUnits(60), models.FromUnits(40), models.FromUnits(1)}
	for _, amt := range amounts {
		engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docID, Amount: amt})
		doc := documentState(t, conn, docID)
		assert.LessOrEqual(t, doc.Paid, doc.TotalAmount)
	}
}

func TestConcurrentCreatesDoNotOverpay(t *testing.T) {
	engine, conn := newTestEngine(t)
	docID := createTestDocument(t, conn, models.FromUnits(1000), nil)

	// Each payment is valid in isolation; together they would overpay.
	const workers = 4
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.CreatePayment(context.Background(), models.PaymentInput{
				DocumentID: docID,
				Amount:     models.FromUnits(600),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var over *OverpaymentError
		if !errors.As(err, &over) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)

	doc := documentState(t, conn, docID)
	assert.Equal(t, models.FromUnits(600), doc.Paid)
	assert.LessOrEqual(t, doc.Paid, doc.TotalAmount)
}

func TestRefreshOverdue(t *testing.T) {
	engine, conn := newTestEngine(t)
	ctx := context.Background()

	pastDue := createTestDocument(t, conn, models.FromUnits(100), pastDate(2))
	futureDue := createTestDocument(t, conn, models.FromUnits(100), futureDate(2))
	noDue := createTestDocument(t, conn, models.FromUnits(100), nil)

	n, err := engine.RefreshOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, models.StatusOverdue, documentState(t, conn, pastDue).Status)
	assert.Equal(t, models.StatusPending, documentState(t, conn, futureDue).Status)
	assert.Equal(t, models.StatusPending, documentState(t, conn, noDue).Status)

	// Idempotent: nothing left to promote.
	n, err = engine.RefreshOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreatePaymentEmitsEventsAfterCommit(t *testing.T) {
	engine, conn := newTestEngine(t)
	ctx := context.Background()
	docID := createTestDocument(t, conn, models.FromUnits(100), nil)

	_, ch := engine.broker.Subscribe(8)

	p, err := engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docID, Amount: models.FromUnits(40)})
	require.NoError(t, err)

	ev := <-ch
	assert.Equal(t, EntityPayment, ev.Entity)
	assert.Equal(t, OpCreate, ev.Op)
	assert.Equal(t, p, ev.Payload)

	ev = <-ch
	assert.Equal(t, EntityDocument, ev.Entity)
	assert.Equal(t, OpUpdate, ev.Op)
	change, ok := ev.Payload.(DocumentChange)
	require.True(t, ok)
	assert.Equal(t, docID, change.DocumentID)
	assert.Equal(t, models.StatusPartiallyPaid, change.Status)

	// A rejected operation emits nothing.
	_, err = engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docID, Amount: models.FromUnits(500)})
	require.Error(t, err)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event after rejected payment: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// Dates must come back from the store in the same YYYY-MM-DD form they were
// written in. The driver maps DATE-declared columns to time.Time, which would
// surface here as RFC3339 strings and break the overdue derivation.
func TestDateColumnsRoundTripAsPlainDates(t *testing.T) {
	engine, conn := newTestEngine(t)
	ctx := context.Background()

	due := pastDate(3)
	doc, err := engine.CreateDocument(ctx, models.DocumentReceivable, models.DocumentInput{
		Number:      "INV-010",
		IssueDate:   pastDate(10),
		DueDate:     due,
		TotalAmount: models.FromUnits(300),
	})
	require.NoError(t, err)
	require.NotNil(t, doc.DueDate)
	assert.Equal(t, *due, *doc.DueDate)
	assert.Equal(t, models.StatusOverdue, doc.Status)

	paymentDate := pastDate(1)
	p, err := engine.CreatePayment(ctx, models.PaymentInput{
		DocumentID:  doc.ID,
		Amount:      models.FromUnits(150),
		PaymentDate: paymentDate,
	})
	require.NoError(t, err)
	require.NotNil(t, p.PaymentDate)
	assert.Equal(t, *paymentDate, *p.PaymentDate)

	// A re-read through a fresh query must see the same plain dates, and the
	// derivation must still see the document as overdue.
	reread := documentState(t, conn, doc.ID)
	require.NotNil(t, reread.DueDate)
	assert.Equal(t, *due, *reread.DueDate)
	assert.Equal(t, models.StatusOverdue, reread.Status)
	assert.Equal(t, models.StatusOverdue, DeriveStatus(reread.TotalAmount, reread.Paid, reread.DueDate, time.Now()))

	// An amount edit leaves the stored payment date byte-identical.
	updated, err := engine.UpdatePayment(ctx, p.ID, models.PaymentInput{DocumentID: doc.ID, Amount: models.FromUnits(100)})
	require.NoError(t, err)
	require.NotNil(t, updated.PaymentDate)
	assert.Equal(t, *paymentDate, *updated.PaymentDate)
}

func TestCreateDocumentDerivesInitialStatus(t *testing.T) {
	engine, conn := newTestEngine(t)
	ctx := context.Background()

	overdue, err := engine.CreateDocument(ctx, models.DocumentReceivable, models.DocumentInput{
		Number: "INV-020", DueDate: pastDate(1), TotalAmount: models.FromUnits(100),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOverdue, overdue.Status)
	assert.Equal(t, models.StatusOverdue, documentState(t, conn, overdue.ID).Status)

	pending, err := engine.CreateDocument(ctx, models.DocumentPayable, models.DocumentInput{
		Number: "BILL-020", DueDate: futureDate(5), TotalAmount: models.FromUnits(100),
	})
	require.NoError(t, err)
	assert.Equal(t, models.DocumentPayable, pending.Kind)
	assert.Equal(t, models.StatusPending, pending.Status)

	// Zero-total documents are born paid.
	free, err := engine.CreateDocument(ctx, models.DocumentReceivable, models.DocumentInput{Number: "INV-021"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, free.Status)
}

func TestDeleteDocumentGuards(t *testing.T) {
	engine, conn := newTestEngine(t)
	ctx := context.Background()
	docID := createTestDocument(t, conn, models.FromUnits(200), nil)

	p, err := engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docID, Amount: models.FromUnits(50)})
	require.NoError(t, err)

	// Blocked while payments reference it, and the document survives.
	err = engine.DeleteDocument(ctx, models.DocumentReceivable, docID)
	assert.ErrorIs(t, err, ErrDocumentHasPayments)
	assert.Equal(t, models.FromUnits(50), documentState(t, conn, docID).Paid)

	// The wrong kind reads as not found, never as a cross-kind delete.
	require.NoError(t, engine.DeletePayment(ctx, p.ID))
	err = engine.DeleteDocument(ctx, models.DocumentPayable, docID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	require.NoError(t, engine.DeleteDocument(ctx, models.DocumentReceivable, docID))
	_, err = GetDocument(conn, docID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	err = engine.DeleteDocument(ctx, models.DocumentReceivable, docID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestListPaymentsForDocumentAndParty(t *testing.T) {
	engine, conn := newTestEngine(t)
	ctx := context.Background()

	res, err := conn.Exec(`INSERT INTO parties (name, kind) VALUES ('Acme', 'client')`)
	require.NoError(t, err)
	partyID64, _ := res.LastInsertId()
	partyID := int(partyID64)

	res, err = conn.Exec(`INSERT INTO documents (kind, party_id, number, total_amount) VALUES ('receivable', ?, 'INV-002', ?)`,
		partyID, models.FromUnits(500))
	require.NoError(t, err)
	docID64, _ := res.LastInsertId()
	docID := int(docID64)
	otherDoc := createTestDocument(t, conn, models.FromUnits(500), nil)

	_, err = engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docID, Amount: models.FromUnits(100)})
	require.NoError(t, err)
	_, err = engine.CreatePayment(ctx, models.PaymentInput{DocumentID: docID, Amount: models.FromUnits(200)})
	require.NoError(t, err)
	_, err = engine.CreatePayment(ctx, models.PaymentInput{DocumentID: otherDoc, Amount: models.FromUnits(50)})
	require.NoError(t, err)

	forDoc, err := engine.ListPaymentsForDocument(docID)
	require.NoError(t, err)
	assert.Len(t, forDoc, 2)

	forParty, err := engine.ListPaymentsForParty(partyID)
	require.NoError(t, err)
	assert.Len(t, forParty, 2)

	_, err = engine.ListPaymentsForDocument(9999)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}
