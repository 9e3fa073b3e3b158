package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"novapharm/m/domain"
)

const profileColumns = `id, user_id, name, owner_name, email, phone, address, description, logo_url, is_active, created_at, updated_at`

// ownProfile rejects access to any profile but the caller's.
func (h *Handler) ownProfile(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id != principalFrom(r.Context()).UserID {
		respondError(w, http.StatusForbidden, "profile belongs to another account")
		return "", false
	}
	return id, true
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownProfile(w, r)
	if !ok {
		return
	}
	var p domain.Pharmacy
	err := h.db.GetContext(r.Context(), &p, h.db.Rebind(`SELECT `+profileColumns+` FROM pharmacies WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load profile")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownProfile(w, r)
	if !ok {
		return
	}
	var req domain.PharmacyUpdate
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Owner = strings.TrimSpace(req.Owner)
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	res, err := h.db.ExecContext(r.Context(), h.db.Rebind(`UPDATE pharmacies SET name = ?, owner_name = COALESCE(NULLIF(?, ''), owner_name), phone = ?, address = ?, description = ?, logo_url = ?, updated_at = ? WHERE id = ?`),
		req.Name, req.Owner, req.Phone, req.Address, req.Description, req.LogoURL, h.timestamp(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update profile")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		respondError(w, http.StatusNotFound, "profile not found")
		return
	}
	h.getProfile(w, r)
}
