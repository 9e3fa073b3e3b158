package api

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"novapharm/m/internal/barcode"
)

type columnKind int

const (
	kindText columnKind = iota
	kindInt
	kindFloat
)

type column struct {
	name     string
	kind     columnKind
	writable bool
}

// table describes a pharmacy-scoped table reachable through /rest. Only the
// listed columns can be selected, filtered, ordered or written.
type table struct {
	name         string
	columns      []column
	required     []string
	search       []string
	defaultOrder string
	readOnly     bool
	timestamps   bool
}

func (t table) column(name string) (column, bool) {
	for _, c := range t.columns {
		if c.name == name {
			return c, true
		}
	}
	return column{}, false
}

func (t table) selectList() string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.name
	}
	return strings.Join(names, ", ")
}

func text(name string) column   { return column{name: name, kind: kindText, writable: true} }
func integer(name string) column { return column{name: name, kind: kindInt, writable: true} }
func number(name string) column  { return column{name: name, kind: kindFloat, writable: true} }
func fixed(c column) column      { c.writable = false; return c }

var tables = map[string]table{
	"products": {
		name: "products",
		columns: []column{
			fixed(text("id")), fixed(text("pharmacy_id")), text("name"), text("scientific_name"),
			text("barcode"), text("category"), text("manufacturer"), number("price"), number("cost_price"),
			integer("stock"), integer("min_stock"), integer("max_stock"), text("expiry_date"),
			fixed(text("created_at")), fixed(text("updated_at")),
		},
		required:     []string{"name", "price"},
		search:       []string{"name", "scientific_name", "barcode"},
		defaultOrder: "name",
		timestamps:   true,
	},
	"categories": {
		name: "categories",
		columns: []column{
			fixed(text("id")), fixed(text("pharmacy_id")), text("name"), text("description"), fixed(text("created_at")),
		},
		required:     []string{"name"},
		search:       []string{"name"},
		defaultOrder: "name",
	},
	"customers": {
		name: "customers",
		columns: []column{
			fixed(text("id")), fixed(text("pharmacy_id")), text("name"), text("phone"), text("email"),
			text("address"), integer("loyalty_points"), fixed(text("created_at")), fixed(text("updated_at")),
		},
		required:     []string{"name"},
		search:       []string{"name", "phone", "email"},
		defaultOrder: "name",
		timestamps:   true,
	},
	"suppliers": {
		name: "suppliers",
		columns: []column{
			fixed(text("id")), fixed(text("pharmacy_id")), text("name"), text("contact_person"), text("phone"),
			text("email"), text("address"), fixed(text("created_at")), fixed(text("updated_at")),
		},
		required:     []string{"name"},
		search:       []string{"name", "contact_person", "phone", "email"},
		defaultOrder: "name",
		timestamps:   true,
	},
	"sales": {
		name: "sales",
		columns: []column{
			fixed(text("id")), fixed(text("pharmacy_id")), fixed(text("customer_id")), fixed(number("total_amount")),
			fixed(number("discount")), fixed(text("payment_method")), fixed(text("status")), fixed(text("created_at")),
		},
		defaultOrder: "created_at.desc",
		readOnly:     true,
	},
	"purchases": {
		name: "purchases",
		columns: []column{
			fixed(text("id")), fixed(text("pharmacy_id")), fixed(text("supplier_id")), fixed(number("total_amount")),
			fixed(text("status")), fixed(text("created_at")),
		},
		defaultOrder: "created_at.desc",
		readOnly:     true,
	},
}

const (
	defaultLimit = 100
	maxLimit     = 1000
)

var errNotFound = errors.New("not found")

// badRequest is a client error whose message is returned verbatim.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return badRequest{msg: fmt.Sprintf(format, args...)}
}

var filterOps = map[string]string{
	"eq":  "=",
	"neq": "<>",
	"lt":  "<",
	"lte": "<=",
	"gt":  ">",
	"gte": ">=",
}

var reservedParams = map[string]bool{"order": true, "limit": true, "offset": true, "search": true, "column": true}

// query is a WHERE clause under construction. Placeholders are '?' and
// rebound for the driver once the statement is complete.
type query struct {
	clauses []string
	args    []any
}

func (q *query) add(clause string, args ...any) {
	q.clauses = append(q.clauses, clause)
	q.args = append(q.args, args...)
}

func (q *query) where() string {
	return " WHERE " + strings.Join(q.clauses, " AND ")
}

func parseValue(c column, raw string) (any, error) {
	switch c.kind {
	case kindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, badRequestf("%s expects an integer", c.name)
		}
		return n, nil
	case kindFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, badRequestf("%s expects a number", c.name)
		}
		return f, nil
	default:
		return raw, nil
	}
}

// scopedQuery turns filters and search into a WHERE clause limited to the
// caller's pharmacy.
func scopedQuery(t table, pharmacyID string, values url.Values) (*query, error) {
	q := &query{}
	q.add("pharmacy_id = ?", pharmacyID)

	for key, vals := range values {
		if reservedParams[key] {
			continue
		}
		c, ok := t.column(key)
		if !ok {
			return nil, badRequestf("unknown column %q", key)
		}
		for _, raw := range vals {
			op, operand, found := strings.Cut(raw, ".")
			if !found {
				return nil, badRequestf("filter %s must look like op.value", key)
			}
			if op == "in" {
				parts := strings.Split(strings.Trim(operand, "()"), ",")
				placeholders := make([]string, 0, len(parts))
				for _, part := range parts {
					v, err := parseValue(c, strings.TrimSpace(part))
					if err != nil {
						return nil, err
					}
					placeholders = append(placeholders, "?")
					q.args = append(q.args, v)
				}
				q.clauses = append(q.clauses, fmt.Sprintf("%s IN (%s)", c.name, strings.Join(placeholders, ", ")))
				continue
			}
			sqlOp, ok := filterOps[op]
			if !ok {
				return nil, badRequestf("unsupported operator %q", op)
			}
			v, err := parseValue(c, operand)
			if err != nil {
				return nil, err
			}
			q.add(fmt.Sprintf("%s %s ?", c.name, sqlOp), v)
		}
	}

	if term := strings.TrimSpace(values.Get("search")); term != "" && len(t.search) > 0 {
		like := "%" + strings.ToLower(term) + "%"
		ors := make([]string, len(t.search))
		args := make([]any, len(t.search))
		for i, col := range t.search {
			ors[i] = "LOWER(" + col + ") LIKE ?"
			args[i] = like
		}
		q.add("("+strings.Join(ors, " OR ")+")", args...)
	}
	return q, nil
}

func orderClause(t table, raw string) (string, error) {
	if raw == "" {
		raw = t.defaultOrder
	}
	var parts []string
	for _, item := range strings.Split(raw, ",") {
		name, dir, _ := strings.Cut(strings.TrimSpace(item), ".")
		if _, ok := t.column(name); !ok {
			return "", badRequestf("cannot order by %q", name)
		}
		switch dir {
		case "", "asc":
			parts = append(parts, name+" ASC")
		case "desc":
			parts = append(parts, name+" DESC")
		default:
			return "", badRequestf("order direction must be asc or desc")
		}
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func pageClause(values url.Values) (string, error) {
	limit := defaultLimit
	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return "", badRequestf("limit must be a positive integer")
		}
		limit = min(n, maxLimit)
	}
	offset := 0
	if raw := values.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return "", badRequestf("offset must be a non-negative integer")
		}
		offset = n
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset), nil
}

// coerce converts a decoded JSON value to the column's storage type.
func coerce(c column, v any) (any, error) {
	switch c.kind {
	case kindInt:
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) {
			return nil, badRequestf("%s expects an integer", c.name)
		}
		return int64(f), nil
	case kindFloat:
		f, ok := v.(float64)
		if !ok {
			return nil, badRequestf("%s expects a number", c.name)
		}
		return f, nil
	default:
		s, ok := v.(string)
		if !ok {
			return nil, badRequestf("%s expects a string", c.name)
		}
		return strings.TrimSpace(s), nil
	}
}

// normalizeRow converts driver values so rows encode the same on every
// driver.
func normalizeRow(row map[string]any) map[string]any {
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}
	return row
}

func (h *Handler) tableFor(w http.ResponseWriter, r *http.Request) (table, bool) {
	t, ok := tables[chi.URLParam(r, "table")]
	if !ok {
		respondError(w, http.StatusNotFound, "unknown table")
		return table{}, false
	}
	return t, true
}

func (h *Handler) respondQueryError(w http.ResponseWriter, err error, action string) {
	var br badRequest
	switch {
	case errors.As(err, &br):
		respondError(w, http.StatusBadRequest, br.msg)
	case errors.Is(err, errNotFound):
		respondError(w, http.StatusNotFound, "record not found")
	case constraintViolation(err):
		respondError(w, http.StatusConflict, "record conflicts with existing records")
	default:
		h.log.Error(action, zap.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to "+action)
	}
}

// constraintViolation reports a foreign-key or uniqueness failure from
// either database driver.
func constraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23")
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

func (h *Handler) listRows(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tableFor(w, r)
	if !ok {
		return
	}
	values := r.URL.Query()
	q, err := scopedQuery(t, principalFrom(r.Context()).UserID, values)
	if err != nil {
		h.respondQueryError(w, err, "list "+t.name)
		return
	}
	order, err := orderClause(t, values.Get("order"))
	if err != nil {
		h.respondQueryError(w, err, "list "+t.name)
		return
	}
	page, err := pageClause(values)
	if err != nil {
		h.respondQueryError(w, err, "list "+t.name)
		return
	}

	stmt := h.db.Rebind("SELECT " + t.selectList() + " FROM " + t.name + q.where() + order + page)
	rows, err := h.db.QueryxContext(r.Context(), stmt, q.args...)
	if err != nil {
		h.respondQueryError(w, err, "list "+t.name)
		return
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			h.respondQueryError(w, err, "list "+t.name)
			return
		}
		out = append(out, normalizeRow(row))
	}
	if err := rows.Err(); err != nil {
		h.respondQueryError(w, err, "list "+t.name)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) countRows(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tableFor(w, r)
	if !ok {
		return
	}
	q, err := scopedQuery(t, principalFrom(r.Context()).UserID, r.URL.Query())
	if err != nil {
		h.respondQueryError(w, err, "count "+t.name)
		return
	}
	var n int64
	if err := h.db.GetContext(r.Context(), &n, h.db.Rebind("SELECT COUNT(*) FROM "+t.name+q.where()), q.args...); err != nil {
		h.respondQueryError(w, err, "count "+t.name)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (h *Handler) sumRows(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tableFor(w, r)
	if !ok {
		return
	}
	values := r.URL.Query()
	c, ok := t.column(values.Get("column"))
	if !ok || c.kind == kindText {
		respondError(w, http.StatusBadRequest, "column must name a numeric column")
		return
	}
	q, err := scopedQuery(t, principalFrom(r.Context()).UserID, values)
	if err != nil {
		h.respondQueryError(w, err, "sum "+t.name)
		return
	}
	var total float64
	stmt := h.db.Rebind("SELECT COALESCE(SUM(" + c.name + "), 0) FROM " + t.name + q.where())
	if err := h.db.GetContext(r.Context(), &total, stmt, q.args...); err != nil {
		h.respondQueryError(w, err, "sum "+t.name)
		return
	}
	respondJSON(w, http.StatusOK, map[string]float64{"sum": total})
}

func (h *Handler) loadRow(r *http.Request, t table, id string) (map[string]any, error) {
	stmt := h.db.Rebind("SELECT " + t.selectList() + " FROM " + t.name + " WHERE id = ? AND pharmacy_id = ?")
	row := map[string]any{}
	err := h.db.QueryRowxContext(r.Context(), stmt, id, principalFrom(r.Context()).UserID).MapScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	return normalizeRow(row), nil
}

func (h *Handler) getRow(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tableFor(w, r)
	if !ok {
		return
	}
	row, err := h.loadRow(r, t, chi.URLParam(r, "id"))
	if err != nil {
		h.respondQueryError(w, err, "load "+t.name)
		return
	}
	respondJSON(w, http.StatusOK, row)
}

// writableFields validates a JSON body against the table's writable columns.
func writableFields(t table, body map[string]any) ([]string, []any, error) {
	var (
		names []string
		args  []any
	)
	for _, c := range t.columns {
		v, present := body[c.name]
		if !present {
			continue
		}
		if !c.writable {
			return nil, nil, badRequestf("%s cannot be written", c.name)
		}
		val, err := coerce(c, v)
		if err != nil {
			return nil, nil, err
		}
		names = append(names, c.name)
		args = append(args, val)
	}
	for key := range body {
		if _, ok := t.column(key); !ok {
			return nil, nil, badRequestf("unknown column %q", key)
		}
	}
	return names, args, nil
}

func (h *Handler) insertRow(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tableFor(w, r)
	if !ok {
		return
	}
	if t.readOnly {
		respondError(w, http.StatusMethodNotAllowed, t.name+" is read-only")
		return
	}
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, req := range t.required {
		if v, ok := body[req]; !ok || v == nil || v == "" {
			respondError(w, http.StatusBadRequest, req+" is required")
			return
		}
	}
	if t.name == "products" {
		if code, _ := body["barcode"].(string); strings.TrimSpace(code) == "" {
			generated, err := barcode.Generate(barcode.DefaultPrefix)
			if err != nil {
				h.log.Error("generate barcode", zap.Error(err))
				respondError(w, http.StatusInternalServerError, "unable to generate barcode")
				return
			}
			body["barcode"] = generated
		}
	}
	names, args, err := writableFields(t, body)
	if err != nil {
		h.respondQueryError(w, err, "insert "+t.name)
		return
	}

	id := uuid.NewString()
	names = append([]string{"id", "pharmacy_id"}, names...)
	args = append([]any{id, principalFrom(r.Context()).UserID}, args...)
	now := h.timestamp()
	names = append(names, "created_at")
	args = append(args, now)
	if t.timestamps {
		names = append(names, "updated_at")
		args = append(args, now)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	stmt := h.db.Rebind("INSERT INTO " + t.name + " (" + strings.Join(names, ", ") + ") VALUES (" + placeholders + ")")
	if _, err := h.db.ExecContext(r.Context(), stmt, args...); err != nil {
		h.respondQueryError(w, err, "insert "+t.name)
		return
	}
	row, err := h.loadRow(r, t, id)
	if err != nil {
		h.respondQueryError(w, err, "insert "+t.name)
		return
	}
	respondJSON(w, http.StatusCreated, row)
}

func (h *Handler) updateRow(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tableFor(w, r)
	if !ok {
		return
	}
	if t.readOnly {
		respondError(w, http.StatusMethodNotAllowed, t.name+" is read-only")
		return
	}
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	names, args, err := writableFields(t, body)
	if err != nil {
		h.respondQueryError(w, err, "update "+t.name)
		return
	}
	if len(names) == 0 {
		respondError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if t.timestamps {
		names = append(names, "updated_at")
		args = append(args, h.timestamp())
	}
	sets := make([]string, len(names))
	for i, n := range names {
		sets[i] = n + " = ?"
	}
	id := chi.URLParam(r, "id")
	args = append(args, id, principalFrom(r.Context()).UserID)
	stmt := h.db.Rebind("UPDATE " + t.name + " SET " + strings.Join(sets, ", ") + " WHERE id = ? AND pharmacy_id = ?")
	res, err := h.db.ExecContext(r.Context(), stmt, args...)
	if err != nil {
		h.respondQueryError(w, err, "update "+t.name)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		respondError(w, http.StatusNotFound, "record not found")
		return
	}
	row, err := h.loadRow(r, t, id)
	if err != nil {
		h.respondQueryError(w, err, "update "+t.name)
		return
	}
	respondJSON(w, http.StatusOK, row)
}

func (h *Handler) deleteRow(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tableFor(w, r)
	if !ok {
		return
	}
	if t.readOnly {
		respondError(w, http.StatusMethodNotAllowed, t.name+" is read-only")
		return
	}
	stmt := h.db.Rebind("DELETE FROM " + t.name + " WHERE id = ? AND pharmacy_id = ?")
	res, err := h.db.ExecContext(r.Context(), stmt, chi.URLParam(r, "id"), principalFrom(r.Context()).UserID)
	if constraintViolation(err) {
		respondError(w, http.StatusConflict, "record is still used by other records and cannot be deleted")
		return
	}
	if err != nil {
		h.respondQueryError(w, err, "delete "+t.name)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		respondError(w, http.StatusNotFound, "record not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
