package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"novapharm/m/domain"
	"novapharm/m/internal/events"
)

// principal is the authenticated caller of a protected request. The pharmacy
// it may touch is always the one whose id equals UserID.
type principal struct {
	UserID    string
	Email     string
	TokenID   string
	Token     string
	ExpiresAt time.Time
}

func principalFrom(ctx context.Context) principal {
	p, _ := ctx.Value(ctxPrincipal).(principal)
	return p
}

type authClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (h *Handler) generateToken(userID, email, tokenID string, expires time.Time) (string, error) {
	claims := authClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        tokenID,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(h.now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.secret))
}

func (h *Handler) parseToken(tokenString string) (*authClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &authClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(h.secret), nil
	}, jwt.WithTimeFunc(h.now))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*authClaims)
	if !ok || !token.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// openSession signs a token and records it in the session registry.
func (h *Handler) openSession(ctx context.Context, userID, email string) (*domain.Session, error) {
	now := h.now()
	expires := now.Add(h.ttl).Truncate(time.Second)
	tokenID := uuid.NewString()
	token, err := h.generateToken(userID, email, tokenID, expires)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	if err := h.sessions.Create(ctx, SessionRecord{ID: tokenID, UserID: userID, CreatedAt: now, ExpiresAt: expires}); err != nil {
		return nil, fmt.Errorf("record session: %w", err)
	}
	h.metrics.sessionsOpened.Inc()
	h.publish(ctx, events.TopicSessionCreated, events.SessionCreated{SessionID: tokenID, UserID: userID})
	return &domain.Session{
		AccessToken: token,
		TokenID:     tokenID,
		ExpiresAt:   expires,
		Identity:    domain.Identity{ID: userID, Email: email},
	}, nil
}

func (h *Handler) revokeSession(ctx context.Context, tokenID, userID, reason string) error {
	if err := h.sessions.Revoke(ctx, tokenID); err != nil {
		return err
	}
	h.metrics.sessionsRevoked.Inc()
	h.publish(ctx, events.TopicSessionRevoked, events.SessionRevoked{SessionID: tokenID, UserID: userID, Reason: reason})
	return nil
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenString := strings.TrimSpace(header[len("Bearer "):])
		claims, err := h.parseToken(tokenString)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		active, err := h.sessions.Active(r.Context(), claims.ID)
		if err != nil {
			h.log.Error("session lookup", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "unable to verify session")
			return
		}
		if !active {
			respondError(w, http.StatusUnauthorized, "session revoked")
			return
		}
		p := principal{
			UserID:    claims.Subject,
			Email:     claims.Email,
			TokenID:   claims.ID,
			Token:     tokenString,
			ExpiresAt: claims.ExpiresAt.Time,
		}
		ctx := context.WithValue(r.Context(), ctxPrincipal, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Auth handlers

func (h *Handler) signUp(w http.ResponseWriter, r *http.Request) {
	var req domain.SignUpRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to secure password")
		return
	}

	var existing int
	if err := h.db.Get(&existing, h.db.Rebind(`SELECT COUNT(*) FROM users WHERE email = ?`), req.Email); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to start registration")
		return
	}
	if existing > 0 {
		respondError(w, http.StatusConflict, "email already registered")
		return
	}

	tx, err := h.db.Beginx()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to start registration")
		return
	}
	defer tx.Rollback()

	userID := uuid.NewString()
	now := h.timestamp()
	if _, err := tx.Exec(tx.Rebind(`INSERT INTO users (id, email, password, created_at) VALUES (?, ?, ?, ?)`),
		userID, req.Email, string(hashed), now); err != nil {
		respondError(w, http.StatusConflict, "email already registered")
		return
	}
	if _, err := tx.Exec(tx.Rebind(`INSERT INTO pharmacies (id, user_id, name, owner_name, email, phone, address, description, logo_url, is_active, created_at, updated_at)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?, ?)`),
		userID, userID, req.Name, req.Owner, req.Email, req.Phone, req.Address, req.Description, true, now, now); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create pharmacy profile")
		return
	}
	if err := tx.Commit(); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to complete registration")
		return
	}

	sess, err := h.openSession(r.Context(), userID, req.Email)
	if err != nil {
		h.log.Error("open session", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to open session")
		return
	}
	h.log.Info("pharmacy registered", zap.String("user_id", userID))
	respondJSON(w, http.StatusCreated, sess)
}

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	var user domain.User
	err := h.db.Get(&user, h.db.Rebind(`SELECT id, email, password, created_at FROM users WHERE email = ?`), req.Email)
	if errors.Is(err, sql.ErrNoRows) {
		h.metrics.signInFailures.Inc()
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to sign in")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		h.metrics.signInFailures.Inc()
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	sess, err := h.openSession(r.Context(), user.ID, user.Email)
	if err != nil {
		h.log.Error("open session", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to open session")
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (h *Handler) currentSession(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	respondJSON(w, http.StatusOK, domain.Session{
		AccessToken: p.Token,
		TokenID:     p.TokenID,
		ExpiresAt:   p.ExpiresAt,
		Identity:    domain.Identity{ID: p.UserID, Email: p.Email},
	})
}

// refresh rotates the token: a new session is opened and the presented one
// revoked.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	sess, err := h.openSession(r.Context(), p.UserID, p.Email)
	if err != nil {
		h.log.Error("open session", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to refresh session")
		return
	}
	if err := h.revokeSession(r.Context(), p.TokenID, p.UserID, "refreshed"); err != nil {
		h.log.Error("revoke refreshed session", zap.Error(err))
	}
	respondJSON(w, http.StatusOK, sess)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if err := h.revokeSession(r.Context(), p.TokenID, p.UserID, "signed_out"); err != nil {
		h.log.Error("revoke session", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to sign out")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		NewPassword string `json:"new_password" validate:"required,min=8"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	p := principalFrom(r.Context())
	hashed, err := bcrypt.GenerateFromPassword([]byte(payload.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to secure password")
		return
	}
	if _, err := h.db.Exec(h.db.Rebind(`UPDATE users SET password = ? WHERE id = ?`), string(hashed), p.UserID); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update password")
		return
	}
	revoked, err := h.sessions.RevokeUser(r.Context(), p.UserID, p.TokenID)
	if err != nil {
		h.log.Error("revoke other sessions", zap.Error(err))
	}
	for _, id := range revoked {
		h.metrics.sessionsRevoked.Inc()
		h.publish(r.Context(), events.TopicSessionRevoked, events.SessionRevoked{SessionID: id, UserID: p.UserID, Reason: "password_reset"})
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "password updated", "revoked_sessions": len(revoked)})
}
