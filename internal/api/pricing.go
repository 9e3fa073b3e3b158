package api

import (
	"net/http"

	"go.uber.org/zap"

	"novapharm/m/domain"
	"novapharm/m/internal/events"
	"novapharm/m/internal/pricing"
)

// bulkPricing applies one adjustment to the selected or filtered products in
// a single transaction.
func (h *Handler) bulkPricing(w http.ResponseWriter, r *http.Request) {
	var req pricing.BulkRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	pharmacyID := principalFrom(r.Context()).UserID

	tx, err := h.db.Beginx()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to start price update")
		return
	}
	defer tx.Rollback()

	var products []domain.Product
	if err := tx.Select(&products, tx.Rebind(`SELECT id, pharmacy_id, name, scientific_name, barcode, category, manufacturer, price, cost_price, stock, min_stock, max_stock, expiry_date, created_at, updated_at
                FROM products WHERE pharmacy_id = ?`), pharmacyID); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load products")
		return
	}

	changes, err := pricing.Plan(products, req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(changes) == 0 {
		respondJSON(w, http.StatusOK, pricing.BulkResult{Changes: []pricing.Change{}})
		return
	}

	now := h.timestamp()
	stmt := tx.Rebind(`UPDATE products SET price = ?, updated_at = ? WHERE id = ? AND pharmacy_id = ?`)
	for _, c := range changes {
		if _, err := tx.Exec(stmt, c.NewPrice, now, c.ProductID, pharmacyID); err != nil {
			h.log.Error("update price", zap.String("product_id", c.ProductID), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "unable to update prices")
			return
		}
	}
	if err := tx.Commit(); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to finalize price update")
		return
	}

	h.publish(r.Context(), events.TopicPricingUpdated, events.PricingUpdated{PharmacyID: pharmacyID, Count: len(changes)})
	respondJSON(w, http.StatusOK, pricing.BulkResult{Updated: len(changes), Changes: changes})
}
