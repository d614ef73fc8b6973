package models

import "time"

// Payment is a single amount applied against a document. A payment always
// references exactly one document; it cannot exist unattached.
type Payment struct {
	ID          int       `json:"id"`
	DocumentID  int       `json:"document_id"`
	Amount      Money     `json:"amount"`
	PaymentDate *string   `json:"payment_date"`
	Method      *string   `json:"method"`
	Reference   *string   `json:"reference"`
	Notes       *string   `json:"notes"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	// Computed fields
	DocumentKind   DocumentKind `json:"document_kind,omitempty"`
	DocumentNumber *string      `json:"document_number,omitempty"`
}

// PaymentInput is used for creating/updating payments. Method, reference and
// notes are opaque metadata; the ledger does not interpret them.
type PaymentInput struct {
	DocumentID  int     `json:"document_id"`
	Amount      Money   `json:"amount"`
	PaymentDate *string `json:"payment_date"`
	Method      *string `json:"method"`
	Reference   *string `json:"reference"`
	Notes       *string `json:"notes"`
}

func (p *PaymentInput) Validate() string {
	if p.DocumentID <= 0 {
		return "document_id is required"
	}
	if p.Amount <= 0 {
		return "amount must be positive"
	}
	if !validDate(p.PaymentDate) {
		return "payment_date must be YYYY-MM-DD"
	}
	return ""
}
