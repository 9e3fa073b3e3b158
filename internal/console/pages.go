package console

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"novapharm/m/domain"
	"novapharm/m/internal/authclient"
	"novapharm/m/internal/routes"
	"novapharm/m/internal/session"
)

// lowStockThreshold marks products the dashboard counts as running low.
const lowStockThreshold = 10

func sentence(msg string) string {
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return msg
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}

func errMessage(err error) string {
	var apiErr *authclient.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return "the data service is unavailable"
}

// reportError logs a failed data call and queues a notification. It reports
// true when the data service rejected the session and the caller has been
// redirected to sign in.
func (s *Server) reportError(w http.ResponseWriter, r *http.Request, bc *BrowserContext, err error, what string) bool {
	s.log.Warn(what, zap.String("context", bc.ID), zap.Error(err))
	var apiErr *authclient.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		bc.Notify(FlashInfo, "Your session has ended. Please sign in again.")
		http.Redirect(w, r, routes.LoginPath, http.StatusSeeOther)
		return true
	}
	bc.Notify(FlashError, sentence(what)+": "+errMessage(err))
	return false
}

// formWithoutSecrets echoes submitted values back into a form.
func formWithoutSecrets(form url.Values) url.Values {
	out := url.Values{}
	for k, v := range form {
		if strings.Contains(k, "password") || k == "confirm" {
			continue
		}
		out[k] = v
	}
	return out
}

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	s.render(w, bc, http.StatusOK, "login", s.viewFor(r, snap, "Sign in"))
}

func (s *Server) login(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	f := loginForm{Email: trimmed(r.PostForm, "email"), Password: r.PostForm.Get("password")}
	v := s.viewFor(r, snap, "Sign in")
	v.Form = formWithoutSecrets(r.PostForm)
	if err := s.validate.Struct(f); err != nil {
		v.Errors = formErrors(err)
		s.render(w, bc, http.StatusUnprocessableEntity, "login", v)
		return
	}

	if _, err := bc.Client.SignInWithPassword(r.Context(), f.Email, f.Password); err != nil {
		var authErr *session.AuthError
		if errors.As(err, &authErr) {
			bc.Notify(FlashError, sentence(authErr.Message))
			s.render(w, bc, http.StatusUnauthorized, "login", v)
			return
		}
		s.log.Error("sign in", zap.String("context", bc.ID), zap.Error(err))
		bc.Notify(FlashError, "Sign in is unavailable right now. Please try again.")
		s.render(w, bc, http.StatusBadGateway, "login", v)
		return
	}
	bc.Notify(FlashSuccess, "Welcome back!")
	http.Redirect(w, r, routes.RootPath, http.StatusSeeOther)
}

func (s *Server) registerPage(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	s.render(w, bc, http.StatusOK, "register", s.viewFor(r, snap, "Register your pharmacy"))
}

func (s *Server) register(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	f := registerForm{
		PharmacyName: trimmed(r.PostForm, "pharmacy_name"),
		Owner:        trimmed(r.PostForm, "owner"),
		Email:        trimmed(r.PostForm, "email"),
		Phone:        trimmed(r.PostForm, "phone"),
		Address:      trimmed(r.PostForm, "address"),
		Password:     r.PostForm.Get("password"),
		Confirm:      r.PostForm.Get("confirm"),
	}
	v := s.viewFor(r, snap, "Register your pharmacy")
	v.Form = formWithoutSecrets(r.PostForm)
	if err := s.validate.Struct(f); err != nil {
		v.Errors = formErrors(err)
		s.render(w, bc, http.StatusUnprocessableEntity, "register", v)
		return
	}

	_, err := bc.Client.SignUp(r.Context(), domain.SignUpRequest{
		Email:    f.Email,
		Password: f.Password,
		Name:     f.PharmacyName,
		Phone:    f.Phone,
		Address:  f.Address,
		Owner:    f.Owner,
	})
	if err != nil {
		var authErr *session.AuthError
		if errors.As(err, &authErr) {
			bc.Notify(FlashError, sentence(authErr.Message))
			s.render(w, bc, http.StatusConflict, "register", v)
			return
		}
		s.log.Error("sign up", zap.String("context", bc.ID), zap.Error(err))
		bc.Notify(FlashError, "Registration is unavailable right now. Please try again.")
		s.render(w, bc, http.StatusBadGateway, "register", v)
		return
	}
	bc.Notify(FlashSuccess, "Your pharmacy is registered. Welcome to NovaPharm!")
	http.Redirect(w, r, routes.RootPath, http.StatusSeeOther)
}

func (s *Server) forgotPage(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	s.render(w, bc, http.StatusOK, "forgot", s.viewFor(r, snap, "Forgot password"))
}

// forgot only acknowledges the request; the data service sends no mail.
func (s *Server) forgot(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	f := forgotForm{Email: trimmed(r.PostForm, "email")}
	v := s.viewFor(r, snap, "Forgot password")
	v.Form = r.PostForm
	if err := s.validate.Struct(f); err != nil {
		v.Errors = formErrors(err)
		s.render(w, bc, http.StatusUnprocessableEntity, "forgot", v)
		return
	}
	bc.Notify(FlashInfo, fmt.Sprintf("If %s is registered, contact your administrator to reset the password.", f.Email))
	s.render(w, bc, http.StatusOK, "forgot", v)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	next := safeNext(r.PostForm.Get("next"))
	if err := bc.Store.SignOut(r.Context()); err != nil {
		bc.Notify(FlashError, "Could not sign out. Please try again.")
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	bc.Notify(FlashSuccess, "You have been signed out.")
	http.Redirect(w, r, next, http.StatusSeeOther)
}

type dashboardData struct {
	Products    int64
	LowStock    int64
	Customers   int64
	TotalSales  float64
	RecentSales []domain.Sale
	Threshold   int
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	ctx := r.Context()
	data := dashboardData{Threshold: lowStockThreshold}
	var err error

	if data.Products, err = bc.Client.Count(ctx, "products", authclient.Query{}); err != nil {
		if s.reportError(w, r, bc, err, "load product count") {
			return
		}
	}
	low := authclient.Query{Filters: []authclient.Filter{authclient.Lt("stock", fmt.Sprint(lowStockThreshold))}}
	if data.LowStock, err = bc.Client.Count(ctx, "products", low); err != nil {
		if s.reportError(w, r, bc, err, "load low stock count") {
			return
		}
	}
	if data.Customers, err = bc.Client.Count(ctx, "customers", authclient.Query{}); err != nil {
		if s.reportError(w, r, bc, err, "load customer count") {
			return
		}
	}
	if data.TotalSales, err = bc.Client.Sum(ctx, "sales", "total_amount", authclient.Query{}); err != nil {
		if s.reportError(w, r, bc, err, "load sales total") {
			return
		}
	}
	if err := bc.Client.List(ctx, "sales", authclient.Query{Limit: 5}, &data.RecentSales); err != nil {
		if s.reportError(w, r, bc, err, "load recent sales") {
			return
		}
	}

	v := s.viewFor(r, bc.Store.Snapshot(), "Dashboard")
	v.Data = data
	s.render(w, bc, http.StatusOK, "dashboard", v)
}

type reportsData struct {
	Summary *domain.SalesSummary
	Alerts  []domain.StockAlert
}

func (s *Server) reports(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	var data reportsData
	summary, err := bc.Client.SalesSummary(r.Context())
	if err != nil {
		if s.reportError(w, r, bc, err, "load sales summary") {
			return
		}
	}
	data.Summary = summary
	if data.Alerts, err = bc.Client.StockAlerts(r.Context(), lowStockThreshold, 30); err != nil {
		if s.reportError(w, r, bc, err, "load stock alerts") {
			return
		}
	}
	v := s.viewFor(r, snap, "Reports")
	v.Data = data
	s.render(w, bc, http.StatusOK, "reports", v)
}

func (s *Server) settings(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	v := s.viewFor(r, snap, "Settings")
	v.Form = url.Values{}
	if p := snap.Profile; p != nil {
		v.Form.Set("name", p.Name)
		v.Form.Set("owner_name", p.Owner)
		v.Form.Set("phone", p.Phone)
		v.Form.Set("address", p.Address)
		v.Form.Set("description", p.Description)
		v.Form.Set("logo_url", p.LogoURL)
		v.Data = p
	}
	s.render(w, bc, http.StatusOK, "settings", v)
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	upd := domain.PharmacyUpdate{
		Name:        trimmed(r.PostForm, "name"),
		Owner:       trimmed(r.PostForm, "owner_name"),
		Phone:       trimmed(r.PostForm, "phone"),
		Address:     trimmed(r.PostForm, "address"),
		Description: trimmed(r.PostForm, "description"),
		LogoURL:     trimmed(r.PostForm, "logo_url"),
	}
	if err := s.validate.Struct(upd); err != nil {
		v := s.viewFor(r, snap, "Settings")
		v.Form = r.PostForm
		v.Errors = formErrors(err)
		if snap.Profile != nil {
			v.Data = snap.Profile
		}
		s.render(w, bc, http.StatusUnprocessableEntity, "settings", v)
		return
	}

	id := snap.IdentityID()
	p, err := bc.Client.UpdateProfile(r.Context(), id, upd)
	if err != nil {
		if !s.reportError(w, r, bc, err, "update profile") {
			http.Redirect(w, r, "/settings", http.StatusSeeOther)
		}
		return
	}
	bc.Store.SetProfile(id, p)
	bc.Notify(FlashSuccess, "Pharmacy profile updated.")
	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	f := passwordForm{Password: r.PostForm.Get("password"), Confirm: r.PostForm.Get("confirm")}
	if err := s.validate.Struct(f); err != nil {
		for _, msg := range formErrors(err) {
			bc.Notify(FlashError, msg)
		}
		http.Redirect(w, r, "/settings", http.StatusSeeOther)
		return
	}
	if err := bc.Client.ResetPassword(r.Context(), f.Password); err != nil {
		if !s.reportError(w, r, bc, err, "change password") {
			http.Redirect(w, r, "/settings", http.StatusSeeOther)
		}
		return
	}
	bc.Notify(FlashSuccess, "Password changed. Other devices have been signed out.")
	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}
