package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/facturo/ledger/models"
)

const partySelectQuery = `SELECT p.id, p.name, p.kind, p.email, p.phone, p.created_at, p.updated_at,
	COALESCE((SELECT SUM(d.total_amount) FROM documents d WHERE d.party_id = p.id), 0),
	COALESCE((SELECT SUM(pm.amount) FROM payments pm JOIN documents d ON pm.document_id = d.id WHERE d.party_id = p.id), 0)
	FROM parties p`

func scanParty(scanner interface{ Scan(...any) error }) (models.Party, error) {
	var p models.Party
	err := scanner.Scan(&p.ID, &p.Name, &p.Kind, &p.Email, &p.Phone, &p.CreatedAt, &p.UpdatedAt,
		&p.TotalBilled, &p.TotalPaid)
	p.Balance = p.TotalBilled - p.TotalPaid
	return p, err
}

// ListParties lists all parties
// @Summary      List parties
// @Description  Get all clients and suppliers with billed/paid/balance summaries.
// @Tags         parties
// @Produce      json
// @Param        kind    query     string  false  "Filter by kind (client/supplier)"
// @Param        search  query     string  false  "Search by name, email, or phone"
// @Success      200     {object}  Response{data=[]models.Party}
// @Router       /parties [get]
// @Security     BasicAuth
func ListParties(w http.ResponseWriter, r *http.Request) {
	query := partySelectQuery
	var conditions []string
	var args []any

	if k := r.URL.Query().Get("kind"); k != "" {
		conditions = append(conditions, "p.kind = ?")
		args = append(args, k)
	}
	if search := r.URL.Query().Get("search"); search != "" {
		conditions = append(conditions, "(p.name LIKE ? OR p.email LIKE ? OR p.phone LIKE ?)")
		s := "%" + search + "%"
		args = append(args, s, s, s)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY p.name"

	rows, err := DB.Query(query, args...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer rows.Close()

	parties := []models.Party{}
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		parties = append(parties, p)
	}
	writeJSON(w, http.StatusOK, parties)
}

// GetParty retrieves a single party by ID
// @Summary      Get party
// @Description  Get a party with its financial summary.
// @Tags         parties
// @Produce      json
// @Param        id   path      int  true  "Party ID"
// @Success      200  {object}  Response{data=models.Party}
// @Failure      404  {object}  Response{error=string}
// @Router       /parties/{id} [get]
// @Security     BasicAuth
func GetParty(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	p, err := scanParty(DB.QueryRow(partySelectQuery+" WHERE p.id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "party not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CreateParty creates a new party
// @Summary      Create party
// @Description  Create a new client or supplier.
// @Tags         parties
// @Accept       json
// @Produce      json
// @Param        party  body      models.PartyInput  true  "Party contents"
// @Success      201    {object}  Response{data=models.Party}
// @Failure      400    {object}  Response{error=string}
// @Router       /parties [post]
// @Security     BasicAuth
func CreateParty(w http.ResponseWriter, r *http.Request) {
	var input models.PartyInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if msg := input.Validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	res, err := DB.Exec("INSERT INTO parties (name, kind, email, phone) VALUES (?, ?, ?, ?)",
		input.Name, input.Kind, input.Email, input.Phone)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	id, _ := res.LastInsertId()

	p, err := scanParty(DB.QueryRow(partySelectQuery+" WHERE p.id = ?", id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to re-fetch created party: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdateParty updates an existing party
// @Summary      Update party
// @Description  Update a party's details.
// @Tags         parties
// @Accept       json
// @Produce      json
// @Param        id     path      int                true  "Party ID"
// @Param        party  body      models.PartyInput  true  "Updated party contents"
// @Success      200    {object}  Response{data=models.Party}
// @Failure      404    {object}  Response{error=string}
// @Router       /parties/{id} [put]
// @Security     BasicAuth
func UpdateParty(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	var input models.PartyInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if msg := input.Validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	res, err := DB.Exec(`UPDATE parties SET name = ?, kind = ?, email = ?, phone = ?,
		updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		input.Name, input.Kind, input.Email, input.Phone, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, http.StatusNotFound, "party not found")
		return
	}

	p, err := scanParty(DB.QueryRow(partySelectQuery+" WHERE p.id = ?", id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to re-fetch updated party: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteParty deletes a party
// @Summary      Delete party
// @Description  Remove a party. Its documents keep their rows with the party reference cleared.
// @Tags         parties
// @Produce      json
// @Param        id   path      int  true  "Party ID"
// @Success      200  {object}  Response{data=map[string]string}
// @Failure      404  {object}  Response{error=string}
// @Router       /parties/{id} [delete]
// @Security     BasicAuth
func DeleteParty(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	res, err := DB.Exec("DELETE FROM parties WHERE id = ?", id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, http.StatusNotFound, "party not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

// ListPartyPayments lists a party's payments
// @Summary      List party payments
// @Description  Get all payments applied against a party's documents.
// @Tags         payments
// @Produce      json
// @Param        id   path      int  true  "Party ID"
// @Success      200  {object}  Response{data=[]models.Payment}
// @Router       /parties/{id}/payments [get]
// @Security     BasicAuth
func ListPartyPayments(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	payments, err := Ledger.ListPaymentsForParty(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, payments)
}
