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

// Document handlers are parameterized over the document kind: the /invoices
// and /supplier-invoices routes are two thin instantiations of the same
// implementation, receivable and payable respectively.

// ListDocuments lists documents of one kind
// @Summary      List documents
// @Description  Get documents of one kind with payment and status info.
// @Tags         documents
// @Produce      json
// @Param        status    query     string  false  "Filter by status"
// @Param        party_id  query     int     false  "Filter by party"
// @Param        from      query     string  false  "Issue date from (YYYY-MM-DD)"
// @Param        to        query     string  false  "Issue date to (YYYY-MM-DD)"
// @Param        search    query     string  false  "Search by number, notes, or party name"
// @Success      200       {object}  Response{data=[]models.Document}
// @Router       /invoices [get]
// @Router       /supplier-invoices [get]
// @Security     BasicAuth
func ListDocuments(kind models.DocumentKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		docs, err := ledger.ListDocuments(DB, kind, ledger.DocumentFilter{
			Status:  q.Get("status"),
			PartyID: q.Get("party_id"),
			From:    q.Get("from"),
			To:      q.Get("to"),
			Search:  q.Get("search"),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

// GetDocument retrieves a single document by ID
// @Summary      Get document
// @Description  Get a document with its paid sum, remaining balance and status.
// @Tags         documents
// @Produce      json
// @Param        id   path      int  true  "Document ID"
// @Success      200  {object}  Response{data=models.Document}
// @Failure      404  {object}  Response{error=string}
// @Router       /invoices/{id} [get]
// @Router       /supplier-invoices/{id} [get]
// @Security     BasicAuth
func GetDocument(kind models.DocumentKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(chi.URLParam(r, "id"))
		doc, err := ledger.GetDocument(DB, id)
		if err != nil || doc.Kind != kind {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

// CreateDocument creates a new document
// @Summary      Create document
// @Description  Create a new document. The total amount is fixed at issuance.
// @Tags         documents
// @Accept       json
// @Produce      json
// @Param        document  body      models.DocumentInput  true  "Document contents"
// @Success      201       {object}  Response{data=models.Document}
// @Failure      400       {object}  Response{error=string}
// @Router       /invoices [post]
// @Router       /supplier-invoices [post]
// @Security     BasicAuth
func CreateDocument(kind models.DocumentKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input models.DocumentInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if msg := input.Validate(); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}

		doc, err := Ledger.CreateDocument(r.Context(), kind, input)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	}
}

// UpdateDocument updates an existing document
// @Summary      Update document
// @Description  Update document metadata. The total amount and status are never changed here; a due-date change re-reconciles the status.
// @Tags         documents
// @Accept       json
// @Produce      json
// @Param        id        path      int                   true  "Document ID"
// @Param        document  body      models.DocumentInput  true  "Updated document contents"
// @Success      200       {object}  Response{data=models.Document}
// @Failure      404       {object}  Response{error=string}
// @Router       /invoices/{id} [put]
// @Router       /supplier-invoices/{id} [put]
// @Security     BasicAuth
func UpdateDocument(kind models.DocumentKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(chi.URLParam(r, "id"))
		var input models.DocumentInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if msg := input.Validate(); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}

		res, err := DB.Exec(`UPDATE documents SET party_id = ?, number = ?, issue_date = ?, due_date = ?,
			notes = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND kind = ?`,
			input.PartyID, input.Number, input.IssueDate, input.DueDate, input.Notes, id, kind)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}

		doc, err := Ledger.ReconcileDocument(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

// DeleteDocument deletes a document
// @Summary      Delete document
// @Description  Remove a document. Blocked while payments reference it.
// @Tags         documents
// @Produce      json
// @Param        id   path      int  true  "Document ID"
// @Success      200  {object}  Response{data=map[string]string}
// @Failure      404  {object}  Response{error=string}
// @Failure      409  {object}  Response{error=string}
// @Router       /invoices/{id} [delete]
// @Router       /supplier-invoices/{id} [delete]
// @Security     BasicAuth
func DeleteDocument(kind models.DocumentKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(chi.URLParam(r, "id"))

		switch err := Ledger.DeleteDocument(r.Context(), kind, id); {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
		case errors.Is(err, ledger.ErrDocumentNotFound):
			writeError(w, http.StatusNotFound, "document not found")
		case errors.Is(err, ledger.ErrDocumentHasPayments):
			writeError(w, http.StatusConflict, "document has payments; delete them first")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	}
}

// ListDocumentPayments lists a document's payments
// @Summary      List document payments
// @Description  Get all payments applied against a document.
// @Tags         payments
// @Produce      json
// @Param        id   path      int  true  "Document ID"
// @Success      200  {object}  Response{data=[]models.Payment}
// @Failure      404  {object}  Response{error=string}
// @Router       /invoices/{id}/payments [get]
// @Router       /supplier-invoices/{id}/payments [get]
// @Security     BasicAuth
func ListDocumentPayments(kind models.DocumentKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(chi.URLParam(r, "id"))
		doc, err := ledger.GetDocument(DB, id)
		if err != nil || doc.Kind != kind {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		payments, err := Ledger.ListPaymentsForDocument(id)
		if err != nil {
			if errors.Is(err, ledger.ErrDocumentNotFound) {
				writeError(w, http.StatusNotFound, "document not found")
			} else {
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		writeJSON(w, http.StatusOK, payments)
	}
}
