package api

import (
	"database/sql"
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"novapharm/m/domain"
	"novapharm/m/internal/events"
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = "cash"
	}
	pharmacyID := principalFrom(r.Context()).UserID

	// Repeated lines for one product are sold as a single line.
	quantities := make(map[string]int64)
	var order []string
	for _, item := range req.Items {
		if _, seen := quantities[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}

	type productSnapshot struct {
		ID    string  `db:"id"`
		Name  string  `db:"name"`
		Price float64 `db:"price"`
		Stock int64   `db:"stock"`
	}

	tx, err := h.db.Beginx()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to start sale")
		return
	}
	defer tx.Rollback()

	var customerID *string
	if id := strings.TrimSpace(req.CustomerID); id != "" {
		var n int
		if err := tx.Get(&n, tx.Rebind(`SELECT COUNT(*) FROM customers WHERE id = ? AND pharmacy_id = ?`), id, pharmacyID); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to verify customer")
			return
		}
		if n == 0 {
			respondError(w, http.StatusBadRequest, "customer not found")
			return
		}
		customerID = &id
	}

	snapshots := make(map[string]productSnapshot, len(order))
	var total float64
	for _, productID := range order {
		var snap productSnapshot
		err := tx.Get(&snap, tx.Rebind(`SELECT id, name, price, stock FROM products WHERE id = ? AND pharmacy_id = ?`), productID, pharmacyID)
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusBadRequest, "product not found for one or more items")
			return
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, "unable to fetch products")
			return
		}
		if snap.Stock < quantities[productID] {
			respondError(w, http.StatusBadRequest, "insufficient stock for "+snap.Name)
			return
		}
		snapshots[productID] = snap
		total += float64(quantities[productID]) * snap.Price
	}
	total = round2(total)
	final := round2(math.Max(0, total-req.Discount))
	discount := round2(total - final)

	saleID := uuid.NewString()
	now := h.timestamp()
	if _, err := tx.Exec(tx.Rebind(`INSERT INTO sales (id, pharmacy_id, customer_id, total_amount, discount, payment_method, status, created_at) VALUES (?, ?, ?, ?, ?, ?, 'completed', ?)`),
		saleID, pharmacyID, customerID, total, discount, req.PaymentMethod, now); err != nil {
		h.log.Error("insert sale", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to create sale")
		return
	}

	for _, productID := range order {
		snap := snapshots[productID]
		qty := quantities[productID]
		// The stock guard makes a concurrent sale of the last units fail
		// instead of going negative.
		res, err := tx.Exec(tx.Rebind(`UPDATE products SET stock = stock - ?, updated_at = ? WHERE id = ? AND pharmacy_id = ? AND stock >= ?`),
			qty, now, productID, pharmacyID, qty)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "unable to update stock")
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			respondError(w, http.StatusConflict, "stock changed for "+snap.Name)
			return
		}
		subtotal := round2(float64(qty) * snap.Price)
		if _, err := tx.Exec(tx.Rebind(`INSERT INTO sale_items (id, sale_id, product_id, quantity, price, subtotal, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
			uuid.NewString(), saleID, productID, qty, snap.Price, subtotal, now); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to save sale items")
			return
		}
	}

	if customerID != nil {
		// One loyalty point per whole unit of currency paid.
		if _, err := tx.Exec(tx.Rebind(`UPDATE customers SET loyalty_points = loyalty_points + ?, updated_at = ? WHERE id = ?`),
			int64(final), now, *customerID); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to update customer")
			return
		}
	}

	if err := tx.Commit(); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to finalize sale")
		return
	}

	h.metrics.salesCreated.Inc()
	h.publish(r.Context(), events.TopicSaleCreated, events.SaleCreated{SaleID: saleID, PharmacyID: pharmacyID, Total: final})
	respondJSON(w, http.StatusCreated, domain.SaleReceipt{
		SaleID:      saleID,
		Total:       total,
		Discount:    discount,
		FinalAmount: final,
		Items:       len(order),
	})
}
