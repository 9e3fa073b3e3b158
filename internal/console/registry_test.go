package console

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novapharm/m/domain"
	"novapharm/m/internal/api"
	"novapharm/m/internal/authclient"
	"novapharm/m/internal/database"
	"novapharm/m/internal/events"
	"novapharm/m/internal/migrations"
)

func startAPI(t *testing.T, opts api.Options) *httptest.Server {
	t.Helper()
	db, err := database.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(db))
	if opts.Secret == "" {
		opts.Secret = "test-secret"
	}
	srv := httptest.NewServer(api.New(db, opts).Router())
	t.Cleanup(func() {
		srv.Close()
		db.Close()
	})
	return srv
}

func startTestNATS(t *testing.T) string {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func signedUpSession(t *testing.T, apiURL string) *domain.Session {
	t.Helper()
	sess, err := authclient.New(apiURL).SignUp(context.Background(), domain.SignUpRequest{
		Email:    "owner@example.com",
		Password: "correct-horse",
		Name:     "Corner Pharmacy",
		Owner:    "Jane Doe",
	})
	require.NoError(t, err)
	return sess
}

func waitResolved(t *testing.T, bc *BrowserContext) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, bc.Store.Wait(ctx))
}

func TestRegistryCreateAndGet(t *testing.T) {
	srv := startAPI(t, api.Options{})
	r := NewRegistry(RegistryOptions{APIURL: srv.URL})
	defer r.Close()

	bc, err := r.Create("")
	require.NoError(t, err)
	waitResolved(t, bc)
	assert.False(t, bc.Store.Snapshot().Authenticated())

	got, ok := r.Get(bc.ID)
	require.True(t, ok)
	assert.Same(t, bc, got)
	assert.Equal(t, 1, r.Len())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryCapsLiveContexts(t *testing.T) {
	srv := startAPI(t, api.Options{})
	r := NewRegistry(RegistryOptions{APIURL: srv.URL, MaxContexts: 1})
	defer r.Close()

	_, err := r.Create("")
	require.NoError(t, err)
	_, err = r.Create("")
	assert.ErrorIs(t, err, ErrTooManyContexts)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRestoresToken(t *testing.T) {
	srv := startAPI(t, api.Options{})
	sess := signedUpSession(t, srv.URL)

	r := NewRegistry(RegistryOptions{APIURL: srv.URL})
	defer r.Close()

	bc, err := r.Create(sess.AccessToken)
	require.NoError(t, err)
	waitResolved(t, bc)

	current, ok := bc.Store.Current()
	require.True(t, ok)
	require.NotNil(t, current)
	assert.Equal(t, sess.Identity.ID, current.Identity.ID)

	assert.Eventually(t, func() bool { return bc.Store.Profile() != nil }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Jane Doe", bc.Store.Profile().OwnerName())
}

func TestRegistryCleanupIdle(t *testing.T) {
	srv := startAPI(t, api.Options{})
	r := NewRegistry(RegistryOptions{APIURL: srv.URL, IdleTimeout: time.Minute})
	defer r.Close()

	now := time.Now()
	r.now = func() time.Time { return now }

	stale, err := r.Create("")
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	fresh, err := r.Create("")
	require.NoError(t, err)

	require.NoError(t, r.CleanupIdle(context.Background()))
	assert.Equal(t, 1, r.Len())
	_, ok := r.Get(stale.ID)
	assert.False(t, ok)
	_, ok = r.Get(fresh.ID)
	assert.True(t, ok)
}

func TestRegistryCleanupHonoursContext(t *testing.T) {
	r := NewRegistry(RegistryOptions{APIURL: "http://127.0.0.1:0"})
	defer r.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.CleanupIdle(ctx), context.Canceled)
}

func TestRegistryCloseEmptiesContexts(t *testing.T) {
	srv := startAPI(t, api.Options{})
	r := NewRegistry(RegistryOptions{APIURL: srv.URL})
	r.StartCleanupWorker(time.Hour)

	_, err := r.Create("")
	require.NoError(t, err)
	r.Close()
	r.Close()
	assert.Equal(t, 0, r.Len())
}

func TestRegistryHandleRevocation(t *testing.T) {
	srv := startAPI(t, api.Options{})
	sess := signedUpSession(t, srv.URL)

	r := NewRegistry(RegistryOptions{APIURL: srv.URL})
	defer r.Close()
	bc, err := r.Create(sess.AccessToken)
	require.NoError(t, err)
	waitResolved(t, bc)
	require.True(t, bc.Store.Snapshot().Authenticated())

	r.HandleRevocation(events.SessionRevoked{SessionID: "someone-else", UserID: sess.Identity.ID, Reason: "signed_out"})
	assert.True(t, bc.Store.Snapshot().Authenticated())

	r.HandleRevocation(events.SessionRevoked{SessionID: sess.TokenID, UserID: sess.Identity.ID, Reason: "password_reset"})
	snap := bc.Store.Snapshot()
	assert.False(t, snap.Authenticated())
	assert.Nil(t, snap.Profile)
	assert.Empty(t, bc.Client.Token())
}

func TestRegistryWatchRevocations(t *testing.T) {
	url := startTestNATS(t)
	pub, err := events.NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()

	srv := startAPI(t, api.Options{Events: pub})
	sess := signedUpSession(t, srv.URL)

	r := NewRegistry(RegistryOptions{APIURL: srv.URL})
	defer r.Close()
	bc, err := r.Create(sess.AccessToken)
	require.NoError(t, err)
	waitResolved(t, bc)

	sub, err := events.NewNATSSubscriber(url)
	require.NoError(t, err)
	defer sub.Close()
	stop, err := r.WatchRevocations(sub)
	require.NoError(t, err)
	defer stop()

	// Sign the same login out from another client; the console context
	// learns about it without making a request.
	other := authclient.New(srv.URL, authclient.WithToken(sess.AccessToken))
	require.NoError(t, other.SignOut(context.Background()))

	assert.Eventually(t, func() bool { return !bc.Store.Snapshot().Authenticated() }, 5*time.Second, 10*time.Millisecond)
}

func TestFlashesAreTakenOnce(t *testing.T) {
	bc := &BrowserContext{}
	bc.Notify(FlashError, "first")
	bc.Notify(FlashInfo, "second")
	assert.Equal(t, []Flash{{Kind: FlashError, Message: "first"}, {Kind: FlashInfo, Message: "second"}}, bc.TakeFlashes())
	assert.Empty(t, bc.TakeFlashes())
}
