package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"novapharm/m/internal/events"
	"novapharm/m/internal/logging"
)

type ctxKey string

const (
	ctxPrincipal ctxKey = "principal"
)

// timeLayout is the textual timestamp format stored in every table.
const timeLayout = "2006-01-02 15:04:05"

// Options configures a Handler. Zero values select working defaults.
type Options struct {
	Secret          string
	TokenTTL        time.Duration
	Sessions        SessionRegistry
	Events          events.Publisher
	Logger          *zap.Logger
	Registerer      prometheus.Registerer
	CORSOrigins     []string
	LoginRatePerMin int
}

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	db       *sqlx.DB
	secret   string
	ttl      time.Duration
	sessions SessionRegistry
	events   events.Publisher
	log      *zap.Logger
	metrics  *metrics
	limiter  *ipLimiter
	validate *validator.Validate
	origins  []string
	now      func() time.Time
}

// New constructs a Handler.
func New(db *sqlx.DB, opts Options) *Handler {
	h := &Handler{
		db:       db,
		secret:   opts.Secret,
		ttl:      opts.TokenTTL,
		sessions: opts.Sessions,
		events:   opts.Events,
		log:      opts.Logger,
		validate: validator.New(),
		origins:  opts.CORSOrigins,
		now:      time.Now,
	}
	if h.ttl <= 0 {
		h.ttl = 24 * time.Hour
	}
	if h.sessions == nil {
		h.sessions = NewSQLSessions(db)
	}
	if h.events == nil {
		h.events = &events.NoopPublisher{}
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	if len(h.origins) == 0 {
		h.origins = []string{"*"}
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	h.metrics = newMetrics(reg)
	rate := opts.LoginRatePerMin
	if rate <= 0 {
		rate = 20
	}
	h.limiter = newIPLimiter(rate, h.log)
	return h
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(h.metrics.middleware)

	r.Get("/health", h.health)
	r.Handle("/metrics", h.metrics.handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.signUp)
		r.With(h.limiter.middleware).Post("/token", h.signIn)
		r.Group(func(protected chi.Router) {
			protected.Use(h.authMiddleware)
			protected.Get("/session", h.currentSession)
			protected.Post("/refresh", h.refresh)
			protected.Post("/logout", h.logout)
			protected.Post("/reset-password", h.resetPassword)
		})
	})

	r.Group(func(pr chi.Router) {
		pr.Use(h.authMiddleware)

		pr.Route("/profiles/{id}", func(r chi.Router) {
			r.Get("/", h.getProfile)
			r.Patch("/", h.updateProfile)
		})

		pr.Route("/rest/{table}", func(r chi.Router) {
			r.Get("/", h.listRows)
			r.Post("/", h.insertRow)
			r.Get("/count", h.countRows)
			r.Get("/sum", h.sumRows)
			r.Get("/{id}", h.getRow)
			r.Patch("/{id}", h.updateRow)
			r.Delete("/{id}", h.deleteRow)
		})

		pr.Post("/sales", h.createSale)
		pr.Post("/pricing/bulk", h.bulkPricing)
		pr.Get("/reports/sales", h.salesSummary)
		pr.Get("/inventory/alerts", h.stockAlerts)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) timestamp() string {
	return h.now().UTC().Format(timeLayout)
}

// publish never fails the request; delivery problems are logged.
func (h *Handler) publish(ctx context.Context, topic string, event any) {
	if err := h.events.Publish(ctx, topic, event); err != nil {
		h.log.Warn("publish event", zap.String("topic", topic), zap.Error(err))
	}
}

// Helpers

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// validationMessage flattens validator errors into one line.
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "email":
			parts = append(parts, field+" must be a valid email")
		case "url":
			parts = append(parts, field+" must be a valid URL")
		case "min":
			parts = append(parts, field+" must be at least "+fe.Param())
		case "oneof":
			parts = append(parts, field+" must be one of "+fe.Param())
		default:
			parts = append(parts, field+" is invalid")
		}
	}
	return strings.Join(parts, ", ")
}
