package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/facturo/ledger/ledger"
	"github.com/facturo/ledger/models"
)

// ledgerError maps the engine's typed errors to HTTP statuses. Overpayment
// rejections carry the computed figures in the message.
func ledgerError(w http.ResponseWriter, err error) {
	var over *ledger.OverpaymentError
	switch {
	case errors.Is(err, ledger.ErrDocumentNotFound), errors.Is(err, ledger.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrMissingDocument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &over), errors.Is(err, ledger.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// ListPayments lists payments
// @Summary      List payments
// @Description  Get payments, optionally scoped to one document or one party.
// @Tags         payments
// @Produce      json
// @Param        document_id  query     int  false  "Filter by document"
// @Param        party_id     query     int  false  "Filter by party"
// @Success      200          {object}  Response{data=[]models.Payment}
// @Router       /payments [get]
// @Security     BasicAuth
func ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := ledger.ListPayments(DB, ledger.PaymentFilter{
		DocumentID: r.URL.Query().Get("document_id"),
		PartyID:    r.URL.Query().Get("party_id"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

// GetPayment retrieves a single payment by ID
// @Summary      Get payment
// @Description  Get a single payment.
// @Tags         payments
// @Produce      json
// @Param        id   path      int  true  "Payment ID"
// @Success      200  {object}  Response{data=models.Payment}
// @Failure      404  {object}  Response{error=string}
// @Router       /payments/{id} [get]
// @Security     BasicAuth
func GetPayment(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	p, err := ledger.GetPayment(DB, id)
	if err != nil {
		ledgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CreatePayment applies a payment to a document
// @Summary      Create payment
// @Description  Apply a payment to a document. Rejected if it exceeds the document's remaining balance; the document status is recomputed in the same transaction.
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        payment  body      models.PaymentInput  true  "Payment contents"
// @Success      201      {object}  Response{data=models.Payment}
// @Failure      400      {object}  Response{error=string}
// @Failure      404      {object}  Response{error=string}
// @Failure      409      {object}  Response{error=string}
// @Router       /payments [post]
// @Security     BasicAuth
func CreatePayment(w http.ResponseWriter, r *http.Request) {
	var input models.PaymentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if msg := input.Validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	p, err := Ledger.CreatePayment(r.Context(), input)
	if err != nil {
		ledgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdatePayment updates an existing payment
// @Summary      Update payment
// @Description  Update a payment. If it moves to a different document, both documents are reconciled in the same transaction.
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        id       path      int                  true  "Payment ID"
// @Param        payment  body      models.PaymentInput  true  "Updated payment contents"
// @Success      200      {object}  Response{data=models.Payment}
// @Failure      400      {object}  Response{error=string}
// @Failure      404      {object}  Response{error=string}
// @Failure      409      {object}  Response{error=string}
// @Router       /payments/{id} [put]
// @Security     BasicAuth
func UpdatePayment(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	var input models.PaymentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if msg := input.Validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	p, err := Ledger.UpdatePayment(r.Context(), id, input)
	if err != nil {
		ledgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeletePayment deletes a payment
// @Summary      Delete payment
// @Description  Remove a payment and reconcile its document's status.
// @Tags         payments
// @Produce      json
// @Param        id   path      int  true  "Payment ID"
// @Success      200  {object}  Response{data=map[string]string}
// @Failure      404  {object}  Response{error=string}
// @Router       /payments/{id} [delete]
// @Security     BasicAuth
func DeletePayment(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	if err := Ledger.DeletePayment(r.Context(), id); err != nil {
		ledgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

// RefreshOverdue sweeps past-due documents
// @Summary      Refresh overdue statuses
// @Description  Promote pending and partially paid documents past their due date to overdue.
// @Tags         documents
// @Produce      json
// @Success      200  {object}  Response{data=map[string]int}
// @Router       /reconcile/overdue [post]
// @Security     BasicAuth
func RefreshOverdue(w http.ResponseWriter, r *http.Request) {
	n, err := Ledger.RefreshOverdue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}
