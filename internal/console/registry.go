package console

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"novapharm/m/internal/authclient"
	"novapharm/m/internal/events"
	"novapharm/m/internal/session"
)

// FlashKind selects how a notification is styled.
type FlashKind string

const (
	FlashSuccess FlashKind = "success"
	FlashError   FlashKind = "error"
	FlashInfo    FlashKind = "info"
)

type Flash struct {
	Kind    FlashKind
	Message string
}

// BrowserContext is everything one browser holds: its data-service client,
// its session store and pending notifications.
type BrowserContext struct {
	ID     string
	Client *authclient.Client
	Store  *session.Store

	detach func()

	mu       sync.Mutex
	lastSeen time.Time
	flashes  []Flash
}

func (bc *BrowserContext) touch(now time.Time) {
	bc.mu.Lock()
	bc.lastSeen = now
	bc.mu.Unlock()
}

func (bc *BrowserContext) idleSince() time.Time {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.lastSeen
}

// Notify queues a message for the next rendered page.
func (bc *BrowserContext) Notify(kind FlashKind, message string) {
	bc.mu.Lock()
	bc.flashes = append(bc.flashes, Flash{Kind: kind, Message: message})
	bc.mu.Unlock()
}

// TakeFlashes returns and clears the queued messages.
func (bc *BrowserContext) TakeFlashes() []Flash {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	out := bc.flashes
	bc.flashes = nil
	return out
}

func (bc *BrowserContext) close() {
	bc.detach()
	bc.Store.Close()
}

// ErrTooManyContexts is returned by Create once the registry holds its
// maximum number of live contexts.
var ErrTooManyContexts = errors.New("too many browser contexts")

// Registry owns the live browser contexts. Each context is started once
// when created and closed once when evicted or at shutdown.
type Registry struct {
	apiURL string
	http   *http.Client
	log    *zap.Logger
	idle   time.Duration
	max    int
	now    func() time.Time

	mu       sync.Mutex
	contexts map[string]*BrowserContext

	stopCh   chan struct{}
	stopOnce sync.Once
}

type RegistryOptions struct {
	APIURL      string
	HTTPClient  *http.Client
	Logger      *zap.Logger
	IdleTimeout time.Duration
	// MaxContexts caps live contexts; 0 means 10000.
	MaxContexts int
}

func NewRegistry(opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	limit := opts.MaxContexts
	if limit <= 0 {
		limit = 10000
	}
	r := &Registry{
		apiURL:   opts.APIURL,
		http:     opts.HTTPClient,
		log:      logger,
		idle:     idle,
		max:      limit,
		now:      time.Now,
		contexts: make(map[string]*BrowserContext),
		stopCh:   make(chan struct{}),
	}
	return r
}

// Get returns a live context and marks it used.
func (r *Registry) Get(id string) (*BrowserContext, bool) {
	r.mu.Lock()
	bc, ok := r.contexts[id]
	r.mu.Unlock()
	if ok {
		bc.touch(r.now())
	}
	return bc, ok
}

// Create starts a new context, restoring token when non-empty.
func (r *Registry) Create(token string) (*BrowserContext, error) {
	if r.Len() >= r.max {
		return nil, ErrTooManyContexts
	}
	opts := []authclient.Option{authclient.WithLogger(r.log)}
	if r.http != nil {
		opts = append(opts, authclient.WithHTTPClient(r.http))
	}
	if token != "" {
		opts = append(opts, authclient.WithToken(token))
	}
	client := authclient.New(r.apiURL, opts...)
	id := uuid.NewString()
	store := session.NewStore(client, r.log.With(zap.String("context", id)))
	resolver := session.NewResolver(client, r.log.With(zap.String("context", id)))

	bc := &BrowserContext{
		ID:       id,
		Client:   client,
		Store:    store,
		detach:   resolver.Attach(store),
		lastSeen: r.now(),
	}
	if err := store.Start(context.Background()); err != nil {
		bc.close()
		return nil, err
	}

	r.mu.Lock()
	if len(r.contexts) >= r.max {
		r.mu.Unlock()
		bc.close()
		return nil, ErrTooManyContexts
	}
	r.contexts[id] = bc
	r.mu.Unlock()
	r.log.Debug("browser context created", zap.String("context", id), zap.Bool("restored", token != ""))
	return bc, nil
}

// Len reports the number of live contexts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

// CleanupIdle closes contexts unused for longer than the idle timeout.
func (r *Registry) CleanupIdle(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	cutoff := r.now().Add(-r.idle)
	var evicted []*BrowserContext
	r.mu.Lock()
	for id, bc := range r.contexts {
		if bc.idleSince().Before(cutoff) {
			delete(r.contexts, id)
			evicted = append(evicted, bc)
		}
	}
	r.mu.Unlock()

	for _, bc := range evicted {
		bc.close()
		r.log.Debug("evicted idle browser context", zap.String("context", bc.ID))
	}
	return nil
}

// StartCleanupWorker evicts idle contexts every interval until Close.
func (r *Registry) StartCleanupWorker(interval time.Duration) {
	r.log.Debug("starting browser context cleanup worker", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cleanupCtx, cancel := context.WithTimeout(context.Background(), interval/2)
				if err := r.CleanupIdle(cleanupCtx); err != nil && err != context.Canceled && err != context.DeadlineExceeded {
					r.log.Error("failed to clean up browser contexts", zap.Error(err))
				}
				cancel()
			case <-r.stopCh:
				r.log.Info("stopping browser context cleanup worker")
				return
			}
		}
	}()
}

// HandleRevocation forwards a revocation to every context.
func (r *Registry) HandleRevocation(ev events.SessionRevoked) {
	r.mu.Lock()
	live := make([]*BrowserContext, 0, len(r.contexts))
	for _, bc := range r.contexts {
		live = append(live, bc)
	}
	r.mu.Unlock()
	for _, bc := range live {
		bc.Client.HandleRevocation(ev)
	}
}

// WatchRevocations applies revocations published on the event bus until
// stop is called.
func (r *Registry) WatchRevocations(sub events.Subscriber) (stop func(), err error) {
	return authclient.WatchRevocations(sub, r.log, r.HandleRevocation)
}

// Close stops the cleanup worker and closes every context.
func (r *Registry) Close() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.mu.Lock()
		live := r.contexts
		r.contexts = make(map[string]*BrowserContext)
		r.mu.Unlock()
		for _, bc := range live {
			bc.close()
		}
	})
}
