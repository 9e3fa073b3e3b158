package authclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"novapharm/m/domain"
	"novapharm/m/internal/pricing"
)

// Filter is one column condition, sent as column=op.value.
type Filter struct {
	Column string
	Op     string
	Value  string
}

func Eq(column, value string) Filter  { return Filter{Column: column, Op: "eq", Value: value} }
func Lt(column, value string) Filter  { return Filter{Column: column, Op: "lt", Value: value} }
func Gte(column, value string) Filter { return Filter{Column: column, Op: "gte", Value: value} }

// Query narrows a table listing.
type Query struct {
	Filters []Filter
	Order   string
	Search  string
	Limit   int
	Offset  int
}

func (q Query) values() url.Values {
	v := url.Values{}
	for _, f := range q.Filters {
		v.Add(f.Column, f.Op+"."+f.Value)
	}
	if q.Order != "" {
		v.Set("order", q.Order)
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	return v
}

func withQuery(path string, v url.Values) string {
	if len(v) == 0 {
		return path
	}
	return path + "?" + v.Encode()
}

func tablePath(table string) string {
	return "/rest/" + url.PathEscape(table)
}

// SelectProfile returns the pharmacy profile for id, or nil when none exists.
func (c *Client) SelectProfile(ctx context.Context, id string) (*domain.Pharmacy, error) {
	var p domain.Pharmacy
	err := c.do(ctx, http.MethodGet, "/profiles/"+url.PathEscape(id), nil, &p)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) UpdateProfile(ctx context.Context, id string, update domain.PharmacyUpdate) (*domain.Pharmacy, error) {
	var p domain.Pharmacy
	if err := c.do(ctx, http.MethodPatch, "/profiles/"+url.PathEscape(id), update, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// List decodes the matching rows of table into dest, a pointer to a slice.
func (c *Client) List(ctx context.Context, table string, q Query, dest any) error {
	return c.do(ctx, http.MethodGet, withQuery(tablePath(table), q.values()), nil, dest)
}

func (c *Client) Get(ctx context.Context, table, id string, dest any) error {
	return c.do(ctx, http.MethodGet, tablePath(table)+"/"+url.PathEscape(id), nil, dest)
}

// Insert creates a row from fields and decodes the stored row into dest.
func (c *Client) Insert(ctx context.Context, table string, fields map[string]any, dest any) error {
	return c.do(ctx, http.MethodPost, tablePath(table), fields, dest)
}

func (c *Client) Update(ctx context.Context, table, id string, fields map[string]any, dest any) error {
	return c.do(ctx, http.MethodPatch, tablePath(table)+"/"+url.PathEscape(id), fields, dest)
}

func (c *Client) Delete(ctx context.Context, table, id string) error {
	return c.do(ctx, http.MethodDelete, tablePath(table)+"/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Count(ctx context.Context, table string, q Query) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	err := c.do(ctx, http.MethodGet, withQuery(tablePath(table)+"/count", q.values()), nil, &out)
	return out.Count, err
}

func (c *Client) Sum(ctx context.Context, table, column string, q Query) (float64, error) {
	v := q.values()
	v.Set("column", column)
	var out struct {
		Sum float64 `json:"sum"`
	}
	err := c.do(ctx, http.MethodGet, withQuery(tablePath(table)+"/sum", v), nil, &out)
	return out.Sum, err
}

func (c *Client) CreateSale(ctx context.Context, req domain.SaleRequest) (*domain.SaleReceipt, error) {
	var receipt domain.SaleReceipt
	if err := c.do(ctx, http.MethodPost, "/sales", req, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *Client) BulkUpdatePrices(ctx context.Context, req pricing.BulkRequest) (*pricing.BulkResult, error) {
	var result pricing.BulkResult
	if err := c.do(ctx, http.MethodPost, "/pricing/bulk", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) SalesSummary(ctx context.Context) (*domain.SalesSummary, error) {
	var summary domain.SalesSummary
	if err := c.do(ctx, http.MethodGet, "/reports/sales", nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// StockAlerts lists low-stock and expiring products. Zero arguments use the
// service defaults.
func (c *Client) StockAlerts(ctx context.Context, threshold, days int) ([]domain.StockAlert, error) {
	v := url.Values{}
	if threshold > 0 {
		v.Set("threshold", strconv.Itoa(threshold))
	}
	if days > 0 {
		v.Set("days", strconv.Itoa(days))
	}
	var alerts []domain.StockAlert
	if err := c.do(ctx, http.MethodGet, withQuery("/inventory/alerts", v), nil, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}
