package ledger

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/facturo/ledger/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx, so the same queries run
// standalone for reads or inside an engine transaction for reconciliation.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

const documentSelectQuery = `SELECT d.id, d.kind, d.party_id, d.number, d.issue_date, d.due_date,
	d.total_amount, d.status, d.notes, d.created_at, d.updated_at,
	p.name,
	COALESCE((SELECT SUM(pm.amount) FROM payments pm WHERE pm.document_id = d.id), 0)
	FROM documents d
	LEFT JOIN parties p ON d.party_id = p.id`

func scanDocument(scanner interface{ Scan(...any) error }) (models.Document, error) {
	var d models.Document
	err := scanner.Scan(&d.ID, &d.Kind, &d.PartyID, &d.Number, &d.IssueDate, &d.DueDate,
		&d.TotalAmount, &d.Status, &d.Notes, &d.CreatedAt, &d.UpdatedAt,
		&d.PartyName, &d.Paid)
	d.Remaining = d.TotalAmount - d.Paid
	return d, err
}

// GetDocument loads a document with its paid sum and remaining balance.
func GetDocument(q querier, id int) (models.Document, error) {
	d, err := scanDocument(q.QueryRow(documentSelectQuery+" WHERE d.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, ErrDocumentNotFound
	}
	return d, err
}

// DocumentFilter narrows ListDocuments results.
type DocumentFilter struct {
	Status  string
	PartyID string
	From    string // issue_date >=
	To      string // issue_date <=
	Search  string // number, notes or party name
}

// ListDocuments lists documents of one kind, newest first.
func ListDocuments(q querier, kind models.DocumentKind, f DocumentFilter) ([]models.Document, error) {
	query := documentSelectQuery + " WHERE d.kind = ?"
	args := []any{kind}

	if f.Status != "" {
		query += " AND d.status = ?"
		args = append(args, f.Status)
	}
	if f.PartyID != "" {
		query += " AND d.party_id = ?"
		args = append(args, f.PartyID)
	}
	if f.From != "" {
		query += " AND d.issue_date >= ?"
		args = append(args, f.From)
	}
	if f.To != "" {
		query += " AND d.issue_date <= ?"
		args = append(args, f.To)
	}
	if f.Search != "" {
		query += " AND (d.number LIKE ? OR d.notes LIKE ? OR p.name LIKE ?)"
		s := "%" + f.Search + "%"
		args = append(args, s, s, s)
	}
	query += " ORDER BY d.created_at DESC"

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

const paymentSelectQuery = `SELECT pm.id, pm.document_id, pm.amount, pm.payment_date,
	pm.method, pm.reference, pm.notes, pm.created_at, pm.updated_at,
	d.kind, d.number
	FROM payments pm
	JOIN documents d ON pm.document_id = d.id`

func scanPayment(scanner interface{ Scan(...any) error }) (models.Payment, error) {
	var p models.Payment
	err := scanner.Scan(&p.ID, &p.DocumentID, &p.Amount, &p.PaymentDate,
		&p.Method, &p.Reference, &p.Notes, &p.CreatedAt, &p.UpdatedAt,
		&p.DocumentKind, &p.DocumentNumber)
	return p, err
}

// GetPayment loads a single payment.
func GetPayment(q querier, id int) (models.Payment, error) {
	p, err := scanPayment(q.QueryRow(paymentSelectQuery+" WHERE pm.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Payment{}, ErrPaymentNotFound
	}
	return p, err
}

// PaymentFilter narrows ListPayments results.
type PaymentFilter struct {
	DocumentID string
	PartyID    string
}

// ListPayments lists payments, oldest first, optionally scoped to one
// document or one party's documents.
func ListPayments(q querier, f PaymentFilter) ([]models.Payment, error) {
	query := paymentSelectQuery
	var conditions []string
	var args []any

	if f.DocumentID != "" {
		conditions = append(conditions, "pm.document_id = ?")
		args = append(args, f.DocumentID)
	}
	if f.PartyID != "" {
		conditions = append(conditions, "d.party_id = ?")
		args = append(args, f.PartyID)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY pm.created_at, pm.id"

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []models.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// sumPayments returns the paid sum for a document. A non-zero
// excludingPaymentID leaves that payment out, so the update path can compute
// "paid by other payments" without the edited payment counting against
// itself.
func sumPayments(q querier, documentID, excludingPaymentID int) (models.Money, error) {
	var sum models.Money
	err := q.QueryRow(`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE document_id = ? AND id != ?`,
		documentID, excludingPaymentID).Scan(&sum)
	return sum, err
}

func insertDocument(q querier, kind models.DocumentKind, in models.DocumentInput) (int, error) {
	res, err := q.Exec(`INSERT INTO documents (kind, party_id, number, issue_date, due_date, total_amount, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		kind, in.PartyID, in.Number, in.IssueDate, in.DueDate, in.TotalAmount, in.Notes)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return int(id), err
}

func insertPayment(q querier, in models.PaymentInput) (int, error) {
	res, err := q.Exec(`INSERT INTO payments (document_id, amount, payment_date, method, reference, notes)
		VALUES (?, ?, ?, ?, ?, ?)`,
		in.DocumentID, in.Amount, in.PaymentDate, in.Method, in.Reference, in.Notes)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return int(id), err
}

func updatePayment(q querier, id int, in models.PaymentInput) error {
	_, err := q.Exec(`UPDATE payments SET document_id = ?, amount = ?, payment_date = ?,
		method = ?, reference = ?, notes = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		in.DocumentID, in.Amount, in.PaymentDate, in.Method, in.Reference, in.Notes, id)
	return err
}

func deletePayment(q querier, id int) error {
	_, err := q.Exec("DELETE FROM payments WHERE id = ?", id)
	return err
}

// setDocumentStatus writes the derived status back to the document. Only the
// engine calls this; nothing else in the repository writes the status column.
func setDocumentStatus(q querier, documentID int, status models.Status) error {
	_, err := q.Exec("UPDATE documents SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, documentID)
	return err
}
