package ledger

import (
	"log/slog"
	"time"

	"github.com/facturo/ledger/models"
)

const dateLayout = "2006-01-02"

// DeriveStatus maps a document's totals onto its payment status. It is a pure
// function: the stored status column must always equal DeriveStatus applied to
// the document's current ledger.
//
// Precedence: fully paid wins over overdue (an invoice settled after its due
// date is paid, not overdue), and overdue overlays any unpaid balance,
// partial or not.
func DeriveStatus(total, paid models.Money, dueDate *string, now time.Time) models.Status {
	if total-paid <= 0 {
		return models.StatusPaid
	}
	if pastDue(dueDate, now) {
		return models.StatusOverdue
	}
	if paid > 0 {
		return models.StatusPartiallyPaid
	}
	return models.StatusPending
}

// pastDue reports whether the due date is strictly before today. Comparison
// is date-only; time of day is ignored. Missing dates never count as
// overdue; a stored date that does not parse as YYYY-MM-DD is logged, so a
// schema or driver regression cannot pass silently as "no due date".
func pastDue(dueDate *string, now time.Time) bool {
	if dueDate == nil || *dueDate == "" {
		return false
	}
	due, err := time.ParseInLocation(dateLayout, *dueDate, now.Location())
	if err != nil {
		slog.Warn("unparseable due date, treating as none", "due_date", *dueDate)
		return false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return due.Before(today)
}
