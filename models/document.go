package models

import "time"

// DocumentKind distinguishes the two sides of the ledger.
type DocumentKind string

const (
	// DocumentReceivable is a client invoice: money owed to us.
	DocumentReceivable DocumentKind = "receivable"
	// DocumentPayable is a supplier invoice: money we owe.
	DocumentPayable DocumentKind = "payable"
)

func (k DocumentKind) Valid() bool {
	return k == DocumentReceivable || k == DocumentPayable
}

// Document is a payable document: a client or supplier invoice carrying a
// fixed total and a status derived from its payments.
type Document struct {
	ID          int          `json:"id"`
	Kind        DocumentKind `json:"kind"`
	PartyID     *int         `json:"party_id"`
	Number      string       `json:"number"`
	IssueDate   *string      `json:"issue_date"`
	DueDate     *string      `json:"due_date"`
	TotalAmount Money        `json:"total_amount"`
	Status      Status       `json:"status"`
	Notes       *string      `json:"notes"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	// Computed fields
	PartyName *string `json:"party_name,omitempty"`
	Paid      Money   `json:"paid"`
	Remaining Money   `json:"remaining"`
}

// DocumentInput is used for creating/updating documents. The total amount is
// fixed at issuance: update handlers ignore it.
type DocumentInput struct {
	PartyID     *int    `json:"party_id"`
	Number      string  `json:"number"`
	IssueDate   *string `json:"issue_date"`
	DueDate     *string `json:"due_date"`
	TotalAmount Money   `json:"total_amount"`
	Notes       *string `json:"notes"`
}

func (d *DocumentInput) Validate() string {
	if d.TotalAmount < 0 {
		return "total_amount must be non-negative"
	}
	if !validDate(d.IssueDate) {
		return "issue_date must be YYYY-MM-DD"
	}
	if !validDate(d.DueDate) {
		return "due_date must be YYYY-MM-DD"
	}
	return ""
}

func validDate(s *string) bool {
	if s == nil || *s == "" {
		return true
	}
	_, err := time.Parse("2006-01-02", *s)
	return err == nil
}
