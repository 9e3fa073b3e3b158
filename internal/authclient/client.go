// Package authclient talks to the data service on behalf of one browser
// context. It holds that context's access token and pushes session changes
// to local subscribers.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"novapharm/m/domain"
	"novapharm/m/internal/session"
)

// APIError is a non-2xx response from the data service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("data service returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the data service.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// WithToken restores a persisted access token. GetSession validates it.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger

	mu        sync.Mutex
	token     string
	session   *domain.Session
	listeners map[int]func(domain.AuthChange)
	nextID    int
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 15 * time.Second},
		log:       zap.NewNop(),
		listeners: make(map[int]func(domain.AuthChange)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the access token to persist, or "" when signed out.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// OnSessionChange registers fn for every later sign-in, sign-out and token
// refresh. The returned function unsubscribes.
func (c *Client) OnSessionChange(fn func(domain.AuthChange)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Client) emit(change domain.AuthChange) {
	c.mu.Lock()
	fns := make([]func(domain.AuthChange), 0, len(c.listeners))
	for id := 1; id <= c.nextID; id++ {
		if fn, ok := c.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

func (c *Client) setSession(sess *domain.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = sess
	if sess == nil {
		c.token = ""
	} else {
		c.token = sess.AccessToken
	}
}

// dropSession clears a session the service no longer honours and reports
// whether there was one.
func (c *Client) dropSession(tokenID string) bool {
	return c.clearIf(func() bool { return c.session != nil && c.session.TokenID == tokenID })
}

// dropToken clears the session only while token is still the one held, so
// a late rejection of a rotated token is ignored.
func (c *Client) dropToken(token string) bool {
	return c.clearIf(func() bool { return c.token == token })
}

func (c *Client) clearIf(match func() bool) bool {
	c.mu.Lock()
	if c.token == "" || !match() {
		c.mu.Unlock()
		return false
	}
	c.session = nil
	c.token = ""
	c.mu.Unlock()
	c.emit(domain.AuthChange{Kind: domain.AuthSignedOut})
	return true
}

// GetSession validates the held token once. It returns nil without error
// when there is no token or the service rejects it.
func (c *Client) GetSession(ctx context.Context) (*domain.Session, error) {
	if c.Token() == "" {
		return nil, nil
	}
	var sess domain.Session
	err := c.do(ctx, http.MethodGet, "/auth/session", nil, &sess)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		c.setSession(nil)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.session = &sess
	c.mu.Unlock()
	return &sess, nil
}

// SignInWithPassword returns a *session.AuthError for rejected credentials.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	body := map[string]string{"email": email, "password": password}
	return c.authenticate(ctx, "/auth/token", body)
}

// SignUp registers the login and its pharmacy profile, then signs in.
func (c *Client) SignUp(ctx context.Context, req domain.SignUpRequest) (*domain.Session, error) {
	return c.authenticate(ctx, "/auth/signup", req)
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (*domain.Session, error) {
	var sess domain.Session
	if err := c.send(ctx, http.MethodPost, path, "", body, &sess); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
			return nil, &session.AuthError{Message: apiErr.Message, Err: err}
		}
		return nil, err
	}
	c.setSession(&sess)
	c.emit(domain.AuthChange{Kind: domain.AuthSignedIn, Session: &sess})
	return &sess, nil
}

// SignOut revokes the session remotely and then clears it locally. A
// session the service already forgot counts as signed out.
func (c *Client) SignOut(ctx context.Context) error {
	if c.Token() != "" {
		err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
		var apiErr *APIError
		if err != nil && !(errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized) {
			return err
		}
	}
	c.setSession(nil)
	c.emit(domain.AuthChange{Kind: domain.AuthSignedOut})
	return nil
}

// ErrSessionChanged is returned by Refresh when the session was signed out
// or replaced while the refresh was in flight.
var ErrSessionChanged = errors.New("session changed during refresh")

// Refresh exchanges the held token for a new one. A rotated token that
// arrives after the session changed is revoked instead of applied.
func (c *Client) Refresh(ctx context.Context) (*domain.Session, error) {
	token := c.Token()
	var sess domain.Session
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", nil, &sess); err != nil {
		return nil, err
	}
	if !c.replaceToken(token, &sess) {
		c.log.Info("discarding token refreshed after the session changed")
		if err := c.send(context.WithoutCancel(ctx), http.MethodPost, "/auth/logout", sess.AccessToken, nil, nil); err != nil {
			c.log.Warn("revoke discarded token", zap.Error(err))
		}
		return nil, ErrSessionChanged
	}
	c.emit(domain.AuthChange{Kind: domain.AuthTokenRefreshed, Session: &sess})
	return &sess, nil
}

// replaceToken installs sess only while old is still the held token.
func (c *Client) replaceToken(old string, sess *domain.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old == "" || c.token != old {
		return false
	}
	c.session = sess
	c.token = sess.AccessToken
	return true
}

// ResetPassword changes the password of the signed-in login. Other sessions
// of the login are revoked by the service.
func (c *Client) ResetPassword(ctx context.Context, newPassword string) error {
	return c.do(ctx, http.MethodPost, "/auth/reset-password", map[string]string{"new_password": newPassword}, nil)
}

// do sends an authenticated request. A 401 means the service revoked or
// expired the session, which is then dropped locally.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token := c.Token()
	err := c.send(ctx, method, path, token, body, out)
	var apiErr *APIError
	if token != "" && errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized && path != "/auth/session" && path != "/auth/logout" {
		if c.dropToken(token) {
			c.log.Info("session rejected by data service", zap.String("path", path))
		}
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var envelope struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		if envelope.Error == "" {
			envelope.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: envelope.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
