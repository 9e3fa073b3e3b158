package api

import (
	"net/http"
	"strconv"
	"time"

	"novapharm/m/domain"
)

const (
	defaultLowStock   = 10
	defaultExpiryDays = 30
	topProductsLimit  = 5
)

type revenueRow struct {
	Revenue float64 `db:"revenue"`
	Count   int64   `db:"count"`
}

// salesSummary reports revenue for today, the current month and all time,
// plus the best selling products. Days are UTC.
func (h *Handler) salesSummary(w http.ResponseWriter, r *http.Request) {
	pharmacyID := principalFrom(r.Context()).UserID
	now := h.now().UTC()
	today := now.Format("2006-01-02")
	month := now.Format("2006-01") + "-01"

	revenue := func(since string) (revenueRow, error) {
		var row revenueRow
		err := h.db.GetContext(r.Context(), &row, h.db.Rebind(`SELECT COALESCE(SUM(total_amount - discount), 0) AS revenue, COUNT(*) AS count
                FROM sales WHERE pharmacy_id = ? AND created_at >= ?`), pharmacyID, since)
		return row, err
	}

	day, err := revenue(today)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch daily sales")
		return
	}
	monthly, err := revenue(month)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch monthly sales")
		return
	}
	all, err := revenue("")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch sales")
		return
	}

	top := []domain.ProductSummary{}
	if err := h.db.SelectContext(r.Context(), &top, h.db.Rebind(`SELECT si.product_id, p.name, SUM(si.quantity) AS quantity, SUM(si.subtotal) AS revenue
                FROM sale_items si
                JOIN sales s ON s.id = si.sale_id
                JOIN products p ON p.id = si.product_id
                WHERE s.pharmacy_id = ?
                GROUP BY si.product_id, p.name
                ORDER BY quantity DESC, p.name ASC
                LIMIT `+strconv.Itoa(topProductsLimit)), pharmacyID); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch top products")
		return
	}

	respondJSON(w, http.StatusOK, domain.SalesSummary{
		TodayRevenue: round2(day.Revenue),
		TodayCount:   day.Count,
		MonthRevenue: round2(monthly.Revenue),
		MonthCount:   monthly.Count,
		TotalRevenue: round2(all.Revenue),
		TopProducts:  top,
	})
}

// stockAlerts lists products below their minimum stock (or below the
// threshold when no minimum is set) and products expiring within N days.
func (h *Handler) stockAlerts(w http.ResponseWriter, r *http.Request) {
	threshold, _ := strconv.Atoi(r.URL.Query().Get("threshold"))
	if threshold <= 0 {
		threshold = defaultLowStock
	}
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days <= 0 {
		days = defaultExpiryDays
	}
	pharmacyID := principalFrom(r.Context()).UserID
	now := h.now().UTC()
	horizon := now.Add(time.Duration(days) * 24 * time.Hour).Format("2006-01-02")

	alerts := []domain.StockAlert{}
	var low []domain.StockAlert
	if err := h.db.SelectContext(r.Context(), &low, h.db.Rebind(`SELECT id, name, stock, min_stock, expiry_date, '`+domain.AlertLowStock+`' AS reason
                FROM products
                WHERE pharmacy_id = ? AND ((min_stock > 0 AND stock < min_stock) OR (min_stock = 0 AND stock < ?))
                ORDER BY stock ASC, name ASC`), pharmacyID, threshold); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch alerts")
		return
	}
	var expiring []domain.StockAlert
	if err := h.db.SelectContext(r.Context(), &expiring, h.db.Rebind(`SELECT id, name, stock, min_stock, expiry_date, '`+domain.AlertExpiring+`' AS reason
                FROM products
                WHERE pharmacy_id = ? AND expiry_date <> '' AND expiry_date <= ?
                ORDER BY expiry_date ASC, name ASC`), pharmacyID, horizon); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch alerts")
		return
	}
	alerts = append(alerts, low...)
	alerts = append(alerts, expiring...)
	respondJSON(w, http.StatusOK, alerts)
}
