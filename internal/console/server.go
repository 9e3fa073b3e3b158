package console

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"novapharm/m/domain"
	"novapharm/m/internal/gate"
	"novapharm/m/internal/logging"
	"novapharm/m/internal/routes"
	"novapharm/m/internal/session"
)

const (
	ContextCookie = "np_ctx"
	TokenCookie   = "np_token"
)

//go:embed templates/*.html
var templateFS embed.FS

// pageFunc renders a route once the gate has allowed it.
type pageFunc func(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot)

// Options configures a Server. RefreshWithin rotates a token on navigation
// once it expires within that window; zero disables rotation.
type Options struct {
	Registry      *Registry
	Logger        *zap.Logger
	ResolveWait   time.Duration
	RefreshWithin time.Duration
	SecureCookies bool
}

type Server struct {
	registry    *Registry
	log         *zap.Logger
	classifier  routes.Classifier
	validate    *validator.Validate
	pages       map[string]*template.Template
	resolveWait time.Duration
	refresh     time.Duration
	secure      bool
}

func NewServer(opts Options) (*Server, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("console: registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pages, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	return &Server{
		registry:    opts.Registry,
		log:         logger,
		classifier:  routes.NewClassifier(),
		validate:    validator.New(),
		pages:       pages,
		resolveWait: opts.ResolveWait,
		refresh:     opts.RefreshWithin,
		secure:      opts.SecureCookies,
	}, nil
}

func money(v float64) string { return fmt.Sprintf("%.2f", v) }

var templateFuncs = template.FuncMap{
	"money": money,
	"rows": func(n int) []int { return make([]int, n) },
}

// parseTemplates pairs every page with the shared layout.
func parseTemplates() (map[string]*template.Template, error) {
	names := []string{
		"landing", "login", "register", "forgot", "dashboard", "inventory",
		"products", "customers", "suppliers", "sales", "reports", "pricing",
		"settings", "spinner", "notfound",
	}
	out := make(map[string]*template.Template, len(names))
	for _, name := range names {
		t, err := template.New("layout.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(s.log))
	r.Use(middleware.Recoverer)

	r.Get(routes.RootPath, s.guard(false, s.root))

	r.Get(routes.LoginPath, s.guard(false, s.loginPage))
	r.Post(routes.LoginPath, s.guard(false, s.login))
	r.Get(routes.RegisterPath, s.guard(false, s.registerPage))
	r.Post(routes.RegisterPath, s.guard(false, s.register))
	r.Get(routes.ForgotPasswordPath, s.guard(false, s.forgotPage))
	r.Post(routes.ForgotPasswordPath, s.guard(false, s.forgot))
	r.Post("/auth/logout", s.guard(true, s.logout))

	r.Get("/dashboard", s.guard(true, s.dashboard))

	r.Get("/inventory", s.guard(true, s.inventory))

	r.Get("/products", s.guard(true, s.products))
	r.Post("/products", s.guard(true, s.createProduct))
	r.Post("/products/{id}", s.guard(true, s.updateProduct))
	r.Post("/products/{id}/delete", s.guard(true, s.deleteProduct))

	r.Get("/customers", s.guard(true, s.customers))
	r.Post("/customers", s.guard(true, s.createCustomer))
	r.Post("/customers/{id}/delete", s.guard(true, s.deleteCustomer))

	r.Get("/suppliers", s.guard(true, s.suppliers))
	r.Post("/suppliers", s.guard(true, s.createSupplier))
	r.Post("/suppliers/{id}/delete", s.guard(true, s.deleteSupplier))

	r.Get("/sales", s.guard(true, s.sales))
	r.Post("/sales", s.guard(true, s.createSale))

	r.Get("/reports", s.guard(true, s.reports))

	r.Get("/pricing", s.guard(true, s.pricing))
	r.Post("/pricing", s.guard(true, s.applyPricing))

	r.Get("/settings", s.guard(true, s.settings))
	r.Post("/settings", s.guard(true, s.updateSettings))
	r.Post("/settings/password", s.guard(true, s.changePassword))

	r.NotFound(s.notFound)
	return r
}

// browserContext returns the caller's context, creating one (and restoring
// a persisted token) when the cookie is missing or stale. Writes through the
// returned writer keep the token cookie in sync.
func (s *Server) browserContext(w http.ResponseWriter, r *http.Request) (*BrowserContext, http.ResponseWriter, error) {
	var bc *BrowserContext
	if c, err := r.Cookie(ContextCookie); err == nil {
		bc, _ = s.registry.Get(c.Value)
	}
	sent := ""
	if c, err := r.Cookie(TokenCookie); err == nil {
		sent = c.Value
	}
	if bc == nil {
		created, err := s.registry.Create(sent)
		if err != nil {
			return nil, w, err
		}
		bc = created
		http.SetCookie(w, &http.Cookie{
			Name:     ContextCookie,
			Value:    bc.ID,
			Path:     "/",
			HttpOnly: true,
			Secure:   s.secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return bc, &tokenWriter{ResponseWriter: w, sync: func() { s.syncToken(w, sent, bc) }}, nil
}

// existingContext looks up the caller's context without creating one.
func (s *Server) existingContext(r *http.Request) *BrowserContext {
	c, err := r.Cookie(ContextCookie)
	if err != nil {
		return nil
	}
	bc, _ := s.registry.Get(c.Value)
	return bc
}

// syncToken mirrors the client's current token into the cookie when it
// differs from what the browser sent.
func (s *Server) syncToken(w http.ResponseWriter, sent string, bc *BrowserContext) {
	current := bc.Client.Token()
	if current == sent {
		return
	}
	c := &http.Cookie{
		Name:     TokenCookie,
		Value:    current,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if current == "" {
		c.MaxAge = -1
	} else if sess, ok := bc.Store.Current(); ok && sess != nil && sess.AccessToken == current {
		c.Expires = sess.ExpiresAt
	}
	http.SetCookie(w, c)
}

type tokenWriter struct {
	http.ResponseWriter
	sync   func()
	synced bool
}

func (tw *tokenWriter) flush() {
	if !tw.synced {
		tw.synced = true
		tw.sync()
	}
}

func (tw *tokenWriter) WriteHeader(status int) {
	tw.flush()
	tw.ResponseWriter.WriteHeader(status)
}

func (tw *tokenWriter) Write(b []byte) (int, error) {
	tw.flush()
	return tw.ResponseWriter.Write(b)
}

// awaitResolution gives a fresh context a short window to resolve so the
// first page is usually not the spinner. It never blocks past that window.
func (s *Server) awaitResolution(ctx context.Context, store *session.Store) {
	if s.resolveWait <= 0 || !store.Loading() {
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.resolveWait)
	defer cancel()
	_ = store.Wait(waitCtx)
}

// guard runs the navigation gate for a route before its page.
func (s *Server) guard(requireAuth bool, page pageFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bc, tw, err := s.browserContext(w, r)
		if errors.Is(err, ErrTooManyContexts) {
			s.log.Warn("browser context limit reached", zap.String("path", r.URL.Path))
			http.Error(w, "console is busy, please try again shortly", http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			s.log.Error("create browser context", zap.Error(err))
			http.Error(w, "console unavailable", http.StatusInternalServerError)
			return
		}
		w = tw
		s.awaitResolution(r.Context(), bc.Store)
		snap := bc.Store.Snapshot()
		if s.refresh > 0 && snap.Session != nil && time.Until(snap.Session.ExpiresAt) < s.refresh {
			if _, err := bc.Client.Refresh(r.Context()); err != nil {
				s.log.Warn("refresh token", zap.String("context", bc.ID), zap.Error(err))
			}
			snap = bc.Store.Snapshot()
		}

		d := gate.Evaluate(s.classifier, gate.Input{
			SessionPresent: snap.Authenticated(),
			Loading:        snap.Loading(),
			Path:           r.URL.Path,
			RequireAuth:    requireAuth,
		})
		switch {
		case d.Waiting:
			s.render(w, bc, http.StatusOK, "spinner", view{Title: "Loading", Path: r.URL.Path})
		case d.Redirect != "":
			http.Redirect(w, r, d.Redirect, http.StatusSeeOther)
		case !d.RenderChildren:
			w.WriteHeader(http.StatusOK)
		default:
			page(w, r, bc, snap)
		}
	}
}

func (s *Server) root(w http.ResponseWriter, r *http.Request, bc *BrowserContext, snap session.Snapshot) {
	switch gate.DispatchRoot(snap.Loading(), snap.Authenticated()) {
	case gate.RootDashboard:
		s.dashboard(w, r, bc, snap)
	case gate.RootLanding:
		s.render(w, bc, http.StatusOK, "landing", s.viewFor(r, snap, "NovaPharm"))
	default:
		s.render(w, bc, http.StatusOK, "spinner", view{Title: "Loading", Path: r.URL.Path})
	}
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	var snap session.Snapshot
	bc := s.existingContext(r)
	if bc != nil {
		snap = bc.Store.Snapshot()
	}
	s.render(w, bc, http.StatusNotFound, "notfound", s.viewFor(r, snap, "Page not found"))
}

// view is the data handed to every template.
type view struct {
	Title         string
	Path          string
	Authenticated bool
	Email         string
	PharmacyName  string
	OwnerName     string
	Flashes       []Flash
	Errors        []string
	Form          url.Values
	Data          any
}

func (s *Server) viewFor(r *http.Request, snap session.Snapshot, title string) view {
	v := view{Title: title, Path: r.URL.Path, Authenticated: snap.Authenticated()}
	if snap.Session != nil {
		v.Email = snap.Session.Identity.Email
	}
	v.PharmacyName = displayIdentity(snap.Session, snap.Profile)
	v.OwnerName = snap.Profile.OwnerName()
	return v
}

func (s *Server) render(w http.ResponseWriter, bc *BrowserContext, status int, name string, v view) {
	t, ok := s.pages[name]
	if !ok {
		s.log.Error("unknown template", zap.String("template", name))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if bc != nil {
		v.Flashes = append(v.Flashes, bc.TakeFlashes()...)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if name == "spinner" {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(status)
	if err := t.ExecuteTemplate(w, "layout", v); err != nil {
		s.log.Error("render template", zap.String("template", name), zap.Error(err))
	}
}

// safeNext accepts only local absolute paths.
func safeNext(next string) string {
	if !localPath(next) {
		return routes.RootPath
	}
	u, err := url.Parse(next)
	if err != nil || u.Host != "" || u.Scheme != "" || !localPath(u.Path) {
		return routes.RootPath
	}
	return u.Path
}

// localPath rejects anything a browser could resolve off-site.
func localPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.Contains(p, "\\")
}

// displayIdentity picks a label for the signed-in pharmacy.
func displayIdentity(sess *domain.Session, profile *domain.Pharmacy) string {
	if profile != nil {
		return profile.DisplayName()
	}
	if sess != nil {
		return sess.Identity.Email
	}
	return ""
}
