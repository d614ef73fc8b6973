package handlers

import (
	"net/http"

	"github.com/facturo/ledger/models"
)

type dashboardData struct {
	TotalParties   int `json:"total_parties"`
	TotalDocuments int `json:"total_documents"`
	TotalPayments  int `json:"total_payments"`

	OutstandingReceivable models.Money `json:"outstanding_receivable"`
	OutstandingPayable    models.Money `json:"outstanding_payable"`

	OverdueReceivable int `json:"overdue_receivable"`
	OverduePayable    int `json:"overdue_payable"`

	RecentPayments []models.Payment `json:"recent_payments"`
}

const outstandingQuery = `SELECT COALESCE(SUM(total_amount - (SELECT COALESCE(SUM(pm.amount), 0) FROM payments pm WHERE pm.document_id = documents.id)), 0)
	FROM documents WHERE kind = ? AND status != 'paid'`

// GetDashboard retrieves dashboard summary statistics
// @Summary      Get dashboard
// @Description  Get outstanding receivable/payable balances, overdue counts, and recent payments.
// @Tags         dashboard
// @Produce      json
// @Success      200  {object}  Response{data=dashboardData}
// @Router       /dashboard [get]
// @Security     BasicAuth
func GetDashboard(w http.ResponseWriter, r *http.Request) {
	var d dashboardData

	DB.QueryRow("SELECT COUNT(*) FROM parties").Scan(&d.TotalParties)
	DB.QueryRow("SELECT COUNT(*) FROM documents").Scan(&d.TotalDocuments)
	DB.QueryRow("SELECT COUNT(*) FROM payments").Scan(&d.TotalPayments)

	DB.QueryRow(outstandingQuery, models.DocumentReceivable).Scan(&d.OutstandingReceivable)
	DB.QueryRow(outstandingQuery, models.DocumentPayable).Scan(&d.OutstandingPayable)

	DB.QueryRow("SELECT COUNT(*) FROM documents WHERE kind = ? AND status = 'overdue'", models.DocumentReceivable).Scan(&d.OverdueReceivable)
	DB.QueryRow("SELECT COUNT(*) FROM documents WHERE kind = ? AND status = 'overdue'", models.DocumentPayable).Scan(&d.OverduePayable)

	// Recent 5 payments
	rows, err := DB.Query(`SELECT pm.id, pm.document_id, pm.amount, pm.payment_date,
		pm.method, pm.reference, pm.notes, pm.created_at, pm.updated_at, d.kind, d.number
		FROM payments pm JOIN documents d ON pm.document_id = d.id
		ORDER BY pm.created_at DESC LIMIT 5`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var p models.Payment
			if err := rows.Scan(&p.ID, &p.DocumentID, &p.Amount, &p.PaymentDate,
				&p.Method, &p.Reference, &p.Notes, &p.CreatedAt, &p.UpdatedAt,
				&p.DocumentKind, &p.DocumentNumber); err == nil {
				d.RecentPayments = append(d.RecentPayments, p)
			}
		}
	}
	if d.RecentPayments == nil {
		d.RecentPayments = []models.Payment{}
	}

	writeJSON(w, http.StatusOK, d)
}
