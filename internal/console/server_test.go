package console

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novapharm/m/domain"
	"novapharm/m/internal/api"
	"novapharm/m/internal/authclient"
	"novapharm/m/internal/database"
	"novapharm/m/internal/migrations"
	"novapharm/m/internal/routes"
)

// faults makes the data service misbehave for chosen path prefixes.
type faults struct {
	mu     sync.Mutex
	status map[string]int
	hold   chan struct{}
	once   sync.Once
}

func newFaults() *faults {
	return &faults{status: make(map[string]int)}
}

func (f *faults) fail(prefix string, status int) {
	f.mu.Lock()
	f.status[prefix] = status
	f.mu.Unlock()
}

func (f *faults) clear(prefix string) {
	f.mu.Lock()
	delete(f.status, prefix)
	f.mu.Unlock()
}

// holdSessionLookups blocks /auth/session until release is called.
func (f *faults) holdSessionLookups() {
	f.mu.Lock()
	f.hold = make(chan struct{})
	f.mu.Unlock()
}

func (f *faults) release() {
	f.mu.Lock()
	hold := f.hold
	f.mu.Unlock()
	if hold != nil {
		f.once.Do(func() { close(hold) })
	}
}

func (f *faults) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		hold := f.hold
		status := 0
		for prefix, s := range f.status {
			if strings.HasPrefix(r.URL.Path, prefix) {
				status = s
			}
		}
		f.mu.Unlock()

		if hold != nil && r.URL.Path == "/auth/session" {
			<-hold
		}
		if status != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"error":"injected failure"}`)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type testConsole struct {
	t        *testing.T
	apiURL   string
	url      string
	registry *Registry
	faults   *faults
	client   *http.Client
}

func newTestConsole(t *testing.T, opts Options) *testConsole {
	t.Helper()
	db, err := database.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(db))

	f := newFaults()
	apiSrv := httptest.NewServer(f.wrap(api.New(db, api.Options{Secret: "test-secret"}).Router()))

	registry := NewRegistry(RegistryOptions{APIURL: apiSrv.URL})
	opts.Registry = registry
	srv, err := NewServer(opts)
	require.NoError(t, err)
	consoleSrv := httptest.NewServer(srv.Router())

	t.Cleanup(func() {
		f.release()
		consoleSrv.Close()
		registry.Close()
		apiSrv.Close()
		db.Close()
	})

	tc := &testConsole{t: t, apiURL: apiSrv.URL, url: consoleSrv.URL, registry: registry, faults: f}
	tc.client = tc.newBrowser()
	return tc
}

func (tc *testConsole) newBrowser() *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(tc.t, err)
	return &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

type page struct {
	status   int
	location string
	body     string
}

func (tc *testConsole) read(resp *http.Response, err error) page {
	tc.t.Helper()
	require.NoError(tc.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(tc.t, err)
	return page{status: resp.StatusCode, location: resp.Header.Get("Location"), body: string(body)}
}

func (tc *testConsole) get(path string) page {
	tc.t.Helper()
	return tc.read(tc.client.Get(tc.url + path))
}

func (tc *testConsole) post(path string, form url.Values) page {
	tc.t.Helper()
	return tc.read(tc.client.PostForm(tc.url+path, form))
}

func (tc *testConsole) cookie(name string) string {
	u, err := url.Parse(tc.url)
	require.NoError(tc.t, err)
	for _, c := range tc.client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func (tc *testConsole) context() *BrowserContext {
	tc.t.Helper()
	bc, ok := tc.registry.Get(tc.cookie(ContextCookie))
	require.True(tc.t, ok, "no browser context")
	return bc
}

var registration = url.Values{
	"pharmacy_name": {"Corner Pharmacy"},
	"owner":         {"Jane Doe"},
	"email":         {"owner@example.com"},
	"phone":         {"0123456789"},
	"address":       {"1 High Street"},
	"password":      {"correct-horse"},
	"confirm":       {"correct-horse"},
}

func (tc *testConsole) register() {
	tc.t.Helper()
	p := tc.post(routes.RegisterPath, registration)
	require.Equal(tc.t, http.StatusSeeOther, p.status, p.body)
	require.Equal(tc.t, routes.RootPath, p.location)
}

func TestAnonymousVisitorIsSentToLogin(t *testing.T) {
	tc := newTestConsole(t, Options{ResolveWait: 2 * time.Second})

	p := tc.get("/inventory")
	assert.Equal(t, http.StatusSeeOther, p.status)
	assert.Equal(t, routes.LoginPath, p.location)

	p = tc.get("/")
	assert.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, "Register your pharmacy")

	p = tc.get(routes.LoginPath)
	assert.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, `action="/auth/login"`)
}

func TestSpinnerUntilSessionResolves(t *testing.T) {
	tc := newTestConsole(t, Options{})
	tc.faults.holdSessionLookups()

	u, err := url.Parse(tc.url)
	require.NoError(t, err)
	tc.client.Jar.SetCookies(u, []*http.Cookie{{Name: TokenCookie, Value: "stale-token", Path: "/"}})

	for i := 0; i < 2; i++ {
		p := tc.get("/inventory")
		assert.Equal(t, http.StatusOK, p.status)
		assert.Contains(t, p.body, `http-equiv="refresh"`)
		assert.Empty(t, p.location)
	}

	tc.faults.release()
	waitResolved(t, tc.context())

	p := tc.get("/inventory")
	assert.Equal(t, http.StatusSeeOther, p.status)
	assert.Equal(t, routes.LoginPath, p.location)
	assert.Empty(t, tc.cookie(TokenCookie), "rejected token is cleared")
}

func TestSignedInVisitorLeavesPublicPages(t *testing.T) {
	tc := newTestConsole(t, Options{ResolveWait: 2 * time.Second})
	tc.register()
	assert.NotEmpty(t, tc.cookie(TokenCookie))

	for _, path := range []string{routes.LoginPath, routes.RegisterPath, routes.ForgotPasswordPath} {
		p := tc.get(path)
		assert.Equal(t, http.StatusSeeOther, p.status, path)
		assert.Equal(t, routes.RootPath, p.location, path)
	}
}

func TestRootShowsDashboardWhenSignedIn(t *testing.T) {
	tc := newTestConsole(t, Options{ResolveWait: 2 * time.Second})
	tc.register()

	assert.Eventually(t, func() bool {
		p := tc.get("/")
		return p.status == http.StatusOK && strings.Contains(p.body, "Welcome, Jane Doe")
	}, 5*time.Second, 20*time.Millisecond)

	p := tc.get("/")
	assert.Contains(t, p.body, `data-stat="products"`)
	assert.Contains(t, p.body, "Corner Pharmacy")
}

func TestSignOutThenProtectedPageRedirects(t *testing.T) {
	tc := newTestConsole(t, Options{ResolveWait: 2 * time.Second})
	tc.register()

	p := tc.get("/reports")
	require.Equal(t, http.StatusOK, p.status)

	p = tc.post("/auth/logout", url.Values{"next": {"/reports"}})
	assert.Equal(t, http.StatusSeeOther, p.status)
	assert.Equal(t, "/reports", p.location)

	snap := tc.context().Store.Snapshot()
	assert.Nil(t, snap.Session)
	assert.Nil(t, snap.Profile)
	assert.Empty(t, tc.cookie(TokenCookie))

	p = tc.get("/reports")
	assert.Equal(t, http.StatusSeeOther, p.status)
	assert.Equal(t, routes.LoginPath, p.location)
}

func TestProfileFailureKeepsSession(t *testing.T) {
	tc := newTestConsole(t, Options{ResolveWait: 2 * time.Second})
	tc.faults.fail("/profiles/", http.StatusInternalServerError)
	tc.register()

	p := tc.get("/")
	assert.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, "Welcome, owner@example.com")

	p = tc.get("/settings")
	assert.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, "profile is not available")

	bc := tc.context()
	sess, ok := bc.Store.Current()
	require.True(t, ok)
	assert.NotNil(t, sess)
	assert.Nil(t, bc.Store.Profile())
}

func TestSignOutFailureIsReported(t *testing.T) {
	tc := newTestConsole(t, Options{ResolveWait: 2 * time.Second})
	tc.register()
	tc.faults.fail("/auth/logout", http.StatusInternalServerError)

	p := tc.post("/auth/logout", url.Values{"next": {"/dashboard"}})
	assert.Equal(t, http.StatusSeeOther, p.status)
	assert.Equal(t, "/dashboard", p.location)

	p = tc.get("/dashboard")
	assert.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, "Could not sign out")
	assert.True(t, tc.context().Store.Snapshot().Authenticated())
	assert.NotEmpty(t, tc.cookie(TokenCookie))
}

func TestSignOutNextStaysOnSite(t *testing.T) {
	tc := newTestConsole(t, Options{ResolveWait: 2 * time.Second})
	tc.register()

	p := tc.post("/auth/logout", url.Values{"next": {"/%2Fevil.example"}})
	assert.Equal(t, http.StatusSeeOther, p.status)
	assert.Equal(t, "/", p.location)
}

func TestWrongPasswordShowsAuthError(t *testing.T) {
	tc := newTestConsole(t, Options{ResolveWait: 2 * time.Second})
	tc.register()
	tc.post("/auth/logout", nil)

	p := tc.post(routes.LoginPath, url.Values{"email": {"owner@example.com"}, "password": {"wrong-password"}})
	assert.Equal(t, http.StatusUnauthorized, p.status)
	assert.Contains(t, p.body, "Invalid credentials")
	assert.Contains(t, p.body, `value="owner@example.com"`)
	assert.False(t, tc.context().Store.Snapshot().Authenticated())

	p = tc.post(routes.LoginPath, url.Values{"email": {"owner@example.com"}, "password": {"correct-horse"}})
	assert.Equal(t, http.StatusSeeOther, p.status)
	assert.Equal(t, routes.RootPath, p.location)
}

func TestRegisterValidation(t *testing.T) {
	tc := newTestConsole(t, Options{ResolveWait: 2 * time.Second})
	form := url.Values{
		"pharmacy_name": {"C"},
		"owner":         {"Jane"},
		"email":         {"not-an-email"},
		"phone":         {"123"},
		"address":       {"1 High Street"},
		"password":      {"short"},
		"confirm":       {"other"},
	}
	p := tc.post(routes.RegisterPath, form)
	assert.Equal(t, http.StatusUnprocessableEntity, p.status)
	for _, msg := range []string{
		"Pharmacy name must be at least 2 characters",
		"Email must be a valid email address",
		"Phone must be at least 10 characters",
		"Password must be at least 8 characters",
		"Passwords do not match",
	} {
		assert.Contains(t, p.body, msg)
	}
	assert.NotContains(t, p.body, "short", "passwords are not echoed")
}

func TestTokenCookieRestoresSession(t *testing.T) {
	tc := newTestConsole(t, Options{ResolveWait: 2 * time.Second})
	tc.register()
	token := tc.cookie(TokenCookie)

	browser := tc.newBrowser()
	u, err := url.Parse(tc.url)
	require.NoError(t, err)
	browser.Jar.SetCookies(u, []*http.Cookie{{Name: TokenCookie, Value: token, Path: "/"}})

	p := tc.read(browser.Get(tc.url + "/inventory"))
	assert.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, "Stock levels")
}

func TestRevokedSessionReturnsToLogin(t *testing.T) {
	tc := newTestConsole(t, Options{ResolveWait: 2 * time.Second})
	tc.register()

	other := authclient.New(tc.apiURL)
	_, err := other.SignInWithPassword(context.Background(), "owner@example.com", "correct-horse")
	require.NoError(t, err)
	require.NoError(t, other.ResetPassword(context.Background(), "battery-staple"))

	p := tc.get("/dashboard")
	assert.Equal(t, http.StatusSeeOther, p.status)
	assert.Equal(t, routes.LoginPath, p.location)
	assert.False(t, tc.context().Store.Snapshot().Authenticated())
	assert.Empty(t, tc.cookie(TokenCookie))
}

func TestExpiringTokenIsRotated(t *testing.T) {
	tc := newTestConsole(t, Options{ResolveWait: 2 * time.Second, RefreshWithin: 48 * time.Hour})
	tc.register()
	first := tc.cookie(TokenCookie)
	require.NotEmpty(t, first)

	p := tc.get("/inventory")
	assert.Equal(t, http.StatusOK, p.status)
	second := tc.cookie(TokenCookie)
	assert.NotEmpty(t, second)
	assert.NotEqual(t, first, second)
	assert.True(t, tc.context().Store.Snapshot().Authenticated())
}

func TestProductAndSaleFlow(t *testing.T) {
	tc := newTestConsole(t, Options{ResolveWait: 2 * time.Second})
	tc.register()

	p := tc.post("/products", url.Values{"name": {"P"}, "price": {"-1"}})
	assert.Equal(t, http.StatusUnprocessableEntity, p.status)
	assert.Contains(t, p.body, "Name must be at least 2 characters")
	assert.Contains(t, p.body, "Price must not be negative")

	p = tc.post("/products", url.Values{"name": {"Paracetamol"}, "price": {"2.50"}, "stock": {"20"}, "expiry_date": {"2030-01-31"}})
	require.Equal(t, http.StatusSeeOther, p.status)

	p = tc.get("/products")
	assert.Contains(t, p.body, "Paracetamol")
	assert.Contains(t, p.body, "Added Paracetamol")

	var products []domain.Product
	require.NoError(t, tc.context().Client.List(context.Background(), "products", authclient.Query{}, &products))
	require.Len(t, products, 1)

	p = tc.post("/sales", url.Values{
		"product_id":     {products[0].ID, ""},
		"quantity":       {"4", ""},
		"discount":       {"1"},
		"payment_method": {"cash"},
	})
	require.Equal(t, http.StatusSeeOther, p.status)
	p = tc.get("/sales")
	assert.Contains(t, p.body, "Amount due: 9.00")

	var after domain.Product
	require.NoError(t, tc.context().Client.Get(context.Background(), "products", products[0].ID, &after))
	assert.Equal(t, int64(16), after.Stock)

	p = tc.post("/sales", url.Values{"product_id": {products[0].ID}, "quantity": {"0"}})
	assert.Equal(t, http.StatusUnprocessableEntity, p.status)
	assert.Contains(t, p.body, "Quantity must be greater than 0")
}

func TestCustomerValidation(t *testing.T) {
	tc := newTestConsole(t, Options{ResolveWait: 2 * time.Second})
	tc.register()

	p := tc.post("/customers", url.Values{"name": {"Al"}, "email": {"bad"}})
	assert.Equal(t, http.StatusUnprocessableEntity, p.status)
	assert.Contains(t, p.body, "Email must be a valid email address")

	p = tc.post("/suppliers", url.Values{"name": {"Acme Pharma"}, "contact_person": {"Bob"}})
	assert.Equal(t, http.StatusSeeOther, p.status)
	p = tc.get("/suppliers")
	assert.Contains(t, p.body, "Acme Pharma")
	assert.Contains(t, p.body, "Bob")
}

func TestUnknownPathIsNotFound(t *testing.T) {
	tc := newTestConsole(t, Options{ResolveWait: 2 * time.Second})
	p := tc.get("/nowhere")
	assert.Equal(t, http.StatusNotFound, p.status)
	assert.Contains(t, p.body, "Page not found")
	assert.Empty(t, tc.cookie(ContextCookie))
	assert.Zero(t, tc.registry.Len())
}

func TestSafeNext(t *testing.T) {
	assert.Equal(t, "/reports", safeNext("/reports"))
	assert.Equal(t, "/", safeNext(""))
	assert.Equal(t, "/", safeNext("https://evil.example"))
	assert.Equal(t, "/", safeNext("//evil.example"))
	assert.Equal(t, "/", safeNext(`/\evil.example`))
	assert.Equal(t, "/", safeNext("/%2Fevil.example"))
	assert.Equal(t, "/", safeNext("/%5Cevil.example"))
	assert.Equal(t, "/products/a b", safeNext("/products/a%20b"))
}
