package console

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"novapharm/m/domain"
	"novapharm/m/internal/authclient"
	"novapharm/m/internal/pricing"
	"novapharm/m/internal/session"
)

type inventoryData struct {
	Products []domain.Product
	Alerts   []domain.StockAlert
	Search   string
}

func (s *Server) inventory(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	data := inventoryData{Search: strings.TrimSpace(r.URL.Query().Get("q"))}
	if err := bc.Client.List(r.Context(), "products", authclient.Query{Search: data.Search, Order: "stock.asc"}, &data.Products); err != nil {
		if s.reportError(w, r, bc, err, "load inventory") {
			return
		}
	}
	alerts, err := bc.Client.StockAlerts(r.Context(), lowStockThreshold, 30)
	if err != nil {
		if s.reportError(w, r, bc, err, "load stock alerts") {
			return
		}
	}
	data.Alerts = alerts
	v := s.viewFor(r, snap, "Inventory")
	v.Data = data
	s.render(w, bc, http.StatusOK, "inventory", v)
}

type productsData struct {
	Products []domain.Product
	Search   string
}

func (s *Server) products(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	s.renderProducts(w, r, bc, snap, http.StatusOK, nil)
}

func (s *Server) renderProducts(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot, status int, errs []string) {
	data := productsData{Search: strings.TrimSpace(r.URL.Query().Get("q"))}
	if err := bc.Client.List(r.Context(), "products", authclient.Query{Search: data.Search}, &data.Products); err != nil {
		if s.reportError(w, r, bc, err, "load products") {
			return
		}
	}
	v := s.viewFor(r, snap, "Products")
	v.Data = data
	v.Errors = errs
	if errs != nil {
		v.Form = r.PostForm
	}
	s.render(w, bc, status, "products", v)
}

// parseProduct reads and validates the product form.
func (s *Server) parseProduct(r *http.Request) (productForm, []string) {
	if err := r.ParseForm(); err != nil {
		return productForm{}, []string{"The form could not be read"}
	}
	p := &numberParser{form: r.PostForm}
	f := productForm{
		Name:           trimmed(r.PostForm, "name"),
		ScientificName: trimmed(r.PostForm, "scientific_name"),
		Barcode:        trimmed(r.PostForm, "barcode"),
		Category:       trimmed(r.PostForm, "category"),
		Manufacturer:   trimmed(r.PostForm, "manufacturer"),
		Price:          p.float("price", "Price"),
		CostPrice:      p.float("cost_price", "Cost price"),
		Stock:          p.integer("stock", "Stock"),
		MinStock:       p.integer("min_stock", "Minimum stock"),
		MaxStock:       p.integer("max_stock", "Maximum stock"),
		ExpiryDate:     trimmed(r.PostForm, "expiry_date"),
	}
	errs := p.errors
	if err := s.validate.Struct(f); err != nil {
		errs = append(errs, formErrors(err)...)
	}
	return f, errs
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	f, errs := s.parseProduct(r)
	if len(errs) > 0 {
		s.renderProducts(w, r, bc, snap, http.StatusUnprocessableEntity, errs)
		return
	}
	var created domain.Product
	if err := bc.Client.Insert(r.Context(), "products", f.fields(), &created); err != nil {
		if !s.reportError(w, r, bc, err, "add product") {
			http.Redirect(w, r, "/products", http.StatusSeeOther)
		}
		return
	}
	bc.Notify(FlashSuccess, "Added "+created.Name+" ("+created.Barcode+").")
	http.Redirect(w, r, "/products", http.StatusSeeOther)
}

func (s *Server) updateProduct(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	f, errs := s.parseProduct(r)
	if len(errs) > 0 {
		s.renderProducts(w, r, bc, snap, http.StatusUnprocessableEntity, errs)
		return
	}
	fields := f.fields()
	if f.Barcode == "" {
		delete(fields, "barcode")
	}
	var updated domain.Product
	if err := bc.Client.Update(r.Context(), "products", chi.URLParam(r, "id"), fields, &updated); err != nil {
		if !s.reportError(w, r, bc, err, "update product") {
			http.Redirect(w, r, "/products", http.StatusSeeOther)
		}
		return
	}
	bc.Notify(FlashSuccess, "Updated "+updated.Name+".")
	http.Redirect(w, r, "/products", http.StatusSeeOther)
}

func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	s.deleteRecord(w, r, bc, "products", "product")
}

func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request, bc *BrowserContext, table, noun string) {
	back := "/" + table
	if err := bc.Client.Delete(r.Context(), table, chi.URLParam(r, "id")); err != nil {
		if !s.reportError(w, r, bc, err, "delete "+noun) {
			http.Redirect(w, r, back, http.StatusSeeOther)
		}
		return
	}
	bc.Notify(FlashSuccess, sentence(noun)+" deleted.")
	http.Redirect(w, r, back, http.StatusSeeOther)
}

type partiesData struct {
	Customers []domain.Customer
	Suppliers []domain.Supplier
	Search    string
}

func (s *Server) customers(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	s.renderParties(w, r, bc, snap, "customers", http.StatusOK, nil)
}

func (s *Server) suppliers(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	s.renderParties(w, r, bc, snap, "suppliers", http.StatusOK, nil)
}

func (s *Server) renderParties(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot, table string, status int, errs []string) {
	data := partiesData{Search: strings.TrimSpace(r.URL.Query().Get("q"))}
	var dest any = &data.Customers
	title := "Customers"
	if table == "suppliers" {
		dest = &data.Suppliers
		title = "Suppliers"
	}
	if err := bc.Client.List(r.Context(), table, authclient.Query{Search: data.Search}, dest); err != nil {
		if s.reportError(w, r, bc, err, "load "+table) {
			return
		}
	}
	v := s.viewFor(r, snap, title)
	v.Data = data
	v.Errors = errs
	if errs != nil {
		v.Form = r.PostForm
	}
	s.render(w, bc, status, table, v)
}

func (s *Server) createCustomer(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	s.createParty(w, r, bc, snap, "customers", "customer")
}

func (s *Server) createSupplier(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	s.createParty(w, r, bc, snap, "suppliers", "supplier")
}

func (s *Server) createParty(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot, table, noun string) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	f := partyForm{
		Name:          trimmed(r.PostForm, "name"),
		ContactPerson: trimmed(r.PostForm, "contact_person"),
		Phone:         trimmed(r.PostForm, "phone"),
		Email:         trimmed(r.PostForm, "email"),
		Address:       trimmed(r.PostForm, "address"),
	}
	if err := s.validate.Struct(f); err != nil {
		s.renderParties(w, r, bc, snap, table, http.StatusUnprocessableEntity, formErrors(err))
		return
	}
	fields := map[string]any{"name": f.Name, "phone": f.Phone, "email": f.Email, "address": f.Address}
	if table == "suppliers" {
		fields["contact_person"] = f.ContactPerson
	}
	if err := bc.Client.Insert(r.Context(), table, fields, nil); err != nil {
		if !s.reportError(w, r, bc, err, "add "+noun) {
			http.Redirect(w, r, "/"+table, http.StatusSeeOther)
		}
		return
	}
	bc.Notify(FlashSuccess, "Added "+f.Name+".")
	http.Redirect(w, r, "/"+table, http.StatusSeeOther)
}

func (s *Server) deleteCustomer(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	s.deleteRecord(w, r, bc, "customers", "customer")
}

func (s *Server) deleteSupplier(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	s.deleteRecord(w, r, bc, "suppliers", "supplier")
}

type salesData struct {
	Sales     []domain.Sale
	Products  []domain.Product
	Customers []domain.Customer
}

func (s *Server) sales(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	s.renderSales(w, r, bc, snap, http.StatusOK, nil)
}

func (s *Server) renderSales(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot, status int, errs []string) {
	ctx := r.Context()
	var data salesData
	if err := bc.Client.List(ctx, "sales", authclient.Query{Limit: 20}, &data.Sales); err != nil {
		if s.reportError(w, r, bc, err, "load sales") {
			return
		}
	}
	if err := bc.Client.List(ctx, "products", authclient.Query{Filters: []authclient.Filter{authclient.Gte("stock", "1")}}, &data.Products); err != nil {
		if s.reportError(w, r, bc, err, "load products") {
			return
		}
	}
	if err := bc.Client.List(ctx, "customers", authclient.Query{}, &data.Customers); err != nil {
		if s.reportError(w, r, bc, err, "load customers") {
			return
		}
	}
	v := s.viewFor(r, snap, "Sales")
	v.Data = data
	v.Errors = errs
	s.render(w, bc, status, "sales", v)
}

// parseInvoice reads the repeated product_id/quantity rows of the invoice
// form, skipping rows left blank.
func parseInvoice(r *http.Request) (domain.SaleRequest, []string) {
	p := &numberParser{form: r.PostForm}
	req := domain.SaleRequest{
		CustomerID:    trimmed(r.PostForm, "customer_id"),
		PaymentMethod: trimmed(r.PostForm, "payment_method"),
		Discount:      p.float("discount", "Discount"),
	}
	qtys := r.PostForm["quantity"]
	for i, id := range r.PostForm["product_id"] {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		qty := int64(1)
		if i < len(qtys) && strings.TrimSpace(qtys[i]) != "" {
			n, err := strconv.ParseInt(strings.TrimSpace(qtys[i]), 10, 64)
			if err != nil {
				p.errors = append(p.errors, "Quantity must be a whole number")
				continue
			}
			qty = n
		}
		req.Items = append(req.Items, domain.SaleItemRequest{ProductID: id, Quantity: qty})
	}
	return req, p.errors
}

func (s *Server) createSale(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	req, errs := parseInvoice(r)
	if err := s.validate.Struct(req); err != nil {
		errs = append(errs, formErrors(err)...)
	}
	if len(errs) > 0 {
		s.renderSales(w, r, bc, snap, http.StatusUnprocessableEntity, errs)
		return
	}
	receipt, err := bc.Client.CreateSale(r.Context(), req)
	if err != nil {
		if !s.reportError(w, r, bc, err, "record sale") {
			http.Redirect(w, r, "/sales", http.StatusSeeOther)
		}
		return
	}
	bc.Notify(FlashSuccess, "Sale recorded. Amount due: "+money(receipt.FinalAmount)+".")
	http.Redirect(w, r, "/sales", http.StatusSeeOther)
}

type pricingData struct {
	Products []domain.Product
	Filter   pricing.Filter
}

func (s *Server) pricing(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	s.renderPricing(w, r, bc, snap, http.StatusOK, nil)
}

func (s *Server) renderPricing(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot, status int, errs []string) {
	q := r.URL.Query()
	data := pricingData{Filter: pricing.Filter{Search: strings.TrimSpace(q.Get("q")), Category: strings.TrimSpace(q.Get("category"))}}
	var all []domain.Product
	if err := bc.Client.List(r.Context(), "products", authclient.Query{}, &all); err != nil {
		if s.reportError(w, r, bc, err, "load products") {
			return
		}
	}
	data.Products = pricing.Select(all, nil, data.Filter)
	v := s.viewFor(r, snap, "Bulk pricing")
	v.Data = data
	v.Errors = errs
	if errs != nil {
		v.Form = r.PostForm
	}
	s.render(w, bc, status, "pricing", v)
}

func (s *Server) applyPricing(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	p := &numberParser{form: r.PostForm}
	req := pricing.BulkRequest{
		Adjustment: pricing.Adjustment{
			Amount:    p.float("amount", "Amount"),
			Type:      pricing.Type(trimmed(r.PostForm, "type")),
			Operation: pricing.Operation(trimmed(r.PostForm, "operation")),
		},
		Filter: pricing.Filter{Search: trimmed(r.PostForm, "search"), Category: trimmed(r.PostForm, "category")},
	}
	for _, id := range r.PostForm["product_ids"] {
		if id = strings.TrimSpace(id); id != "" {
			req.ProductIDs = append(req.ProductIDs, id)
		}
	}
	errs := p.errors
	if err := s.validate.Struct(req); err != nil {
		errs = append(errs, formErrors(err)...)
	} else if err := req.Validate(); err != nil {
		errs = append(errs, sentence(strings.TrimPrefix(err.Error(), "pricing: ")))
	}
	if len(errs) > 0 {
		s.renderPricing(w, r, bc, snap, http.StatusUnprocessableEntity, errs)
		return
	}

	res, err := bc.Client.BulkUpdatePrices(r.Context(), req)
	if err != nil {
		if !s.reportError(w, r, bc, err, "update prices") {
			http.Redirect(w, r, "/pricing", http.StatusSeeOther)
		}
		return
	}
	if res.Updated == 0 {
		bc.Notify(FlashInfo, "No products matched the selection.")
	} else {
		bc.Notify(FlashSuccess, "Updated prices of "+pluralProducts(res.Updated)+".")
	}
	http.Redirect(w, r, "/pricing", http.StatusSeeOther)
}

func pluralProducts(n int) string {
	if n == 1 {
		return "1 product"
	}
	return strconv.Itoa(n) + " products"
}
