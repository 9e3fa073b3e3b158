// Package session holds the signed-in identity of one browser context and the
// pharmacy profile derived from it.
package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"novapharm/m/domain"
)

// State is the store lifecycle. Resolving is entered exactly once, by Start;
// later sign-ins and sign-outs move between resolved sessions without passing
// through Resolving again.
type State int

const (
	Uninitialized State = iota
	Resolving
	Resolved
)

func (s State) String() string {
	switch s {
	case Resolving:
		return "resolving"
	case Resolved:
		return "resolved"
	default:
		return "uninitialized"
	}
}

// AuthAPI is the part of the data service the store depends on.
type AuthAPI interface {
	GetSession(ctx context.Context) (*domain.Session, error)
	SignOut(ctx context.Context) error
	OnSessionChange(fn func(domain.AuthChange)) (unsubscribe func())
}

// Snapshot is a consistent view of the store.
type Snapshot struct {
	State   State
	Session *domain.Session
	Profile *domain.Pharmacy
}

func (s Snapshot) Loading() bool { return s.State != Resolved }

func (s Snapshot) Authenticated() bool { return s.State == Resolved && s.Session != nil }

// IdentityID is "" without a session.
func (s Snapshot) IdentityID() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.Identity.ID
}

// Change is delivered to subscribers after every state transition.
type Change struct {
	Kind     domain.AuthEventKind
	Previous Snapshot
	Current  Snapshot
}

// KindProfileLoaded marks changes caused by SetProfile.
const KindProfileLoaded domain.AuthEventKind = "profile_loaded"

type handlerEntry struct {
	id int
	fn func(Change)
}

// Store is the single source of truth for who, if anyone, is signed in within
// one browser context. Construct one per context with NewStore, call Start
// once and Close once.
type Store struct {
	api AuthAPI
	log *zap.Logger

	mu          sync.Mutex
	state       State
	session     *domain.Session
	profile     *domain.Pharmacy
	eventSeen   bool
	closed      bool
	unsubscribe func()

	handlers    []handlerEntry
	nextID      int
	pending     []Change
	dispatching bool

	resolved  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewStore(api AuthAPI, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		api:      api,
		log:      logger,
		resolved: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start subscribes to session changes and resolves the persisted session in
// the background. It returns ErrAlreadyStarted on any later call.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != Uninitialized {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	prev := s.snapshotLocked()
	s.state = Resolving
	drain := s.enqueueLocked(Change{Kind: "", Previous: prev, Current: s.snapshotLocked()})
	s.mu.Unlock()
	if drain {
		s.drain()
	}

	// Listen before resolving so a sign-in racing the initial lookup is
	// not lost.
	unsubscribe := s.api.OnSessionChange(s.handleAuthChange)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsubscribe()
		return ErrClosed
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	go s.resolve(ctx)
	return nil
}

func (s *Store) resolve(ctx context.Context) {
	sess, err := s.api.GetSession(ctx)
	if err != nil {
		s.log.Warn("initial session lookup failed, continuing anonymous", zap.Error(err))
		sess = nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.snapshotLocked()
	// A change event received while resolving is newer than the lookup.
	if !s.eventSeen {
		s.setSessionLocked(sess)
	}
	s.state = Resolved
	cur := s.snapshotLocked()
	drain := s.enqueueLocked(Change{Kind: domain.AuthInitialSession, Previous: prev, Current: cur})
	s.mu.Unlock()

	s.log.Debug("session resolved", zap.Bool("authenticated", cur.Session != nil))
	if drain {
		s.drain()
	}
	close(s.resolved)
}

func (s *Store) handleAuthChange(c domain.AuthChange) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	// A rotated token only replaces the session it was issued for.
	if c.Kind == domain.AuthTokenRefreshed && (s.state == Resolved || s.eventSeen) &&
		(s.session == nil || c.Session == nil || s.session.Identity.ID != c.Session.Identity.ID) {
		s.mu.Unlock()
		s.log.Debug("ignoring token refresh without a matching session")
		return
	}
	prev := s.snapshotLocked()
	if c.Kind == domain.AuthSignedOut {
		s.setSessionLocked(nil)
	} else {
		s.setSessionLocked(c.Session)
	}
	if s.state == Resolving {
		s.eventSeen = true
	}
	drain := s.enqueueLocked(Change{Kind: c.Kind, Previous: prev, Current: s.snapshotLocked()})
	s.mu.Unlock()

	s.log.Debug("session changed", zap.String("kind", string(c.Kind)))
	if drain {
		s.drain()
	}
}

// setSessionLocked swaps the session and drops the profile in the same
// critical section whenever the identity goes away or changes, so a stale
// profile is never observable.
func (s *Store) setSessionLocked(sess *domain.Session) {
	if sess == nil || s.session == nil || s.session.Identity.ID != sess.Identity.ID {
		s.profile = nil
	}
	s.session = sess
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{State: s.state, Session: s.session, Profile: s.profile}
}

// enqueueLocked queues c and reports whether the caller must drain the queue.
// A single drainer delivers changes in order; handlers may call back into the
// store, their changes are delivered after the current one.
func (s *Store) enqueueLocked(c Change) bool {
	if len(s.handlers) == 0 && !s.dispatching {
		return false
	}
	s.pending = append(s.pending, c)
	if s.dispatching {
		return false
	}
	s.dispatching = true
	return true
}

func (s *Store) drain() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 || s.closed {
			s.pending = nil
			s.dispatching = false
			s.mu.Unlock()
			return
		}
		c := s.pending[0]
		s.pending = s.pending[1:]
		handlers := append([]handlerEntry(nil), s.handlers...)
		s.mu.Unlock()

		for _, h := range handlers {
			h.fn(c)
		}
	}
}

// Subscribe registers fn for every later change. The returned function
// unsubscribes and may be called more than once.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.handlers = append(s.handlers, handlerEntry{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, h := range s.handlers {
				if h.id == id {
					s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Snapshot returns state, session and profile read together.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Current returns the last known session. ok is false until the initial
// resolution has completed; callers must consult Loading before that.
func (s *Store) Current() (sess *domain.Session, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Resolved {
		return nil, false
	}
	return s.session, true
}

func (s *Store) Profile() *domain.Pharmacy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != Resolved
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetProfile stores p when forID still names the current identity and reports
// whether it was applied. Late results for a previous identity are dropped.
func (s *Store) SetProfile(forID string, p *domain.Pharmacy) bool {
	s.mu.Lock()
	if s.closed || s.session == nil || s.session.Identity.ID != forID {
		s.mu.Unlock()
		s.log.Debug("dropping stale profile", zap.String("user_id", forID))
		return false
	}
	if p != nil && p.ID != forID {
		s.mu.Unlock()
		s.log.Warn("profile does not belong to identity", zap.String("user_id", forID), zap.String("profile_id", p.ID))
		return false
	}
	prev := s.snapshotLocked()
	s.profile = p
	drain := s.enqueueLocked(Change{Kind: KindProfileLoaded, Previous: prev, Current: s.snapshotLocked()})
	s.mu.Unlock()
	if drain {
		s.drain()
	}
	return true
}

// SignOut asks the data service to end the session. The local session is
// cleared only when the service confirms through the change subscription; on
// failure a *SignOutError is returned and nothing changes locally.
func (s *Store) SignOut(ctx context.Context) error {
	if err := s.api.SignOut(ctx); err != nil {
		s.log.Warn("sign out failed", zap.Error(err))
		return &SignOutError{Err: err}
	}
	return nil
}

// Wait blocks until the initial resolution completes.
func (s *Store) Wait(ctx context.Context) error {
	select {
	case <-s.resolved:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close unsubscribes from the data service and drops every handler.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		unsubscribe := s.unsubscribe
		s.unsubscribe = nil
		s.handlers = nil
		s.pending = nil
		s.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		close(s.done)
	})
}
