package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"novapharm/m/domain"
)

// ProfileSource loads the pharmacy profile whose id equals the user id.
type ProfileSource interface {
	SelectProfile(ctx context.Context, id string) (*domain.Pharmacy, error)
}

// DefaultFetchTimeout bounds a single profile request.
const DefaultFetchTimeout = 10 * time.Second

// Resolver keeps a Store's profile in step with its identity. Fetches are
// fire and forget: nothing waits on them and failures leave the profile empty.
type Resolver struct {
	source  ProfileSource
	log     *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewResolver(source ProfileSource, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{source: source, log: logger, timeout: DefaultFetchTimeout}
}

// Fetch returns the profile for id, or nil when it is missing or the request
// fails. Failures are logged as *ProfileFetchError.
func (r *Resolver) Fetch(ctx context.Context, id string) *domain.Pharmacy {
	p, err := r.source.SelectProfile(ctx, id)
	if err != nil {
		ferr := &ProfileFetchError{UserID: id, Err: err}
		r.log.Warn("profile fetch failed", zap.Error(ferr))
		return nil
	}
	return p
}

// Attach starts following store. A fetch is issued whenever the identity
// becomes non-empty or changes, including when store already holds a
// session without a profile. The returned function detaches.
func (r *Resolver) Attach(store *Store) (detach func()) {
	ctx, cancel := context.WithCancel(context.Background())

	unsubscribe := store.Subscribe(func(c Change) {
		id := c.Current.IdentityID()
		if id == "" || id == c.Previous.IdentityID() {
			return
		}
		r.load(ctx, store, id)
	})

	if snap := store.Snapshot(); snap.Session != nil && snap.Profile == nil {
		r.load(ctx, store, snap.IdentityID())
	}

	return func() {
		unsubscribe()
		cancel()
	}
}

func (r *Resolver) load(ctx context.Context, store *Store, id string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		// SetProfile drops the result if the identity moved on meanwhile.
		store.SetProfile(id, r.Fetch(fctx, id))
	}()
}

// Wait blocks until in-flight fetches finish.
func (r *Resolver) Wait() {
	r.wg.Wait()
}
