package models

import "time"

// Party is a client or supplier owning documents. Attribution only: the
// ledger never reconciles across a party, only per document.
type Party struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"` // client, supplier
	Email     *string   `json:"email"`
	Phone     *string   `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Computed fields
	TotalBilled Money `json:"total_billed"` // sum of document totals
	TotalPaid   Money `json:"total_paid"`   // sum of payments on those documents
	Balance     Money `json:"balance"`      // billed - paid
}

// PartyInput is used for creating/updating parties.
type PartyInput struct {
	Name  string  `json:"name"`
	Kind  string  `json:"kind"`
	Email *string `json:"email"`
	Phone *string `json:"phone"`
}

func (p *PartyInput) Validate() string {
	if p.Name == "" {
		return "name is required"
	}
	switch p.Kind {
	case "client", "supplier":
	default:
		return "kind must be one of: client, supplier"
	}
	return ""
}
