package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/menta2k/brandimage/internal/session"
	"github.com/menta2k/brandimage/pkg/types"
)

// identityKey is the session key of the persisted anonymous identity.
const identityKey = "storage.identity"

// Authenticator yields the identity storage writes are made with.
type Authenticator interface {
	SignIn(ctx context.Context) (types.Identity, error)
}

// AnonymousAuth signs in with an anonymous identity. The identity is created
// once, cached for the lifetime of the process and persisted to a session
// store so later runs reuse it. When the store keeps failing, persistence
// falls back to memory for the rest of the process.
type AnonymousAuth struct {
	mu       sync.Mutex
	identity *types.Identity
	store    session.Store
	fallback bool

	retries int
	backoff time.Duration
	now     func() time.Time
	newUID  func() string
}

// AuthOption configures an AnonymousAuth.
type AuthOption func(*AnonymousAuth)

// WithRetries sets how often a failed write to the session store is retried
// and the initial delay between attempts. The delay doubles on each retry.
func WithRetries(retries int, backoff time.Duration) AuthOption {
	return func(a *AnonymousAuth) {
		a.retries = max(retries, 0)
		a.backoff = backoff
	}
}

// WithClock sets the time source used for CreatedAt.
func WithClock(now func() time.Time) AuthOption {
	return func(a *AnonymousAuth) {
		a.now = now
	}
}

// NewAnonymousAuth returns an AnonymousAuth persisting to store. A nil store
// keeps the identity in memory only.
func NewAnonymousAuth(store session.Store, opts ...AuthOption) *AnonymousAuth {
	a := &AnonymousAuth{
		store:   store,
		retries: 2,
		backoff: 100 * time.Millisecond,
		now:     time.Now,
		newUID:  func() string { return uuid.NewString() },
	}
	if store == nil {
		a.store = session.NewMemoryStore()
		a.fallback = true
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SignIn returns the cached identity, loading or creating it on first use.
// Concurrent callers share a single sign-in.
func (a *AnonymousAuth) SignIn(ctx context.Context) (types.Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.identity != nil {
		return *a.identity, nil
	}
	if err := ctx.Err(); err != nil {
		return types.Identity{}, err
	}

	var id types.Identity
	err := session.GetJSON(a.store, identityKey, &id)
	switch {
	case err == nil && id.UID != "":
		log.Debug().Str("uid", id.UID).Msg("Restored anonymous identity")
		a.identity = &id
		return id, nil
	case err != nil && !errors.Is(err, session.ErrNotFound):
		log.Warn().Err(err).Msg("Failed to read persisted identity")
	}

	id = types.Identity{UID: a.newUID(), Anonymous: true, CreatedAt: a.now().UTC()}
	if err := a.persist(ctx, id); err != nil {
		return types.Identity{}, err
	}

	log.Info().
		Str("uid", id.UID).
		Bool("memory_only", a.fallback).
		Msg("Signed in anonymously")

	a.identity = &id
	return id, nil
}

// persist writes id to the store, retrying with backoff. After the last
// retry fails the store is replaced by a memory store.
func (a *AnonymousAuth) persist(ctx context.Context, id types.Identity) error {
	delay := a.backoff
	var err error
	for attempt := 0; attempt <= a.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err = session.SetJSON(a.store, identityKey, id); err == nil {
			return nil
		}
		log.Debug().Err(err).Int("attempt", attempt+1).Msg("Persisting identity failed")
	}

	log.Warn().Err(err).Msg("Identity persistence unavailable, falling back to memory")
	a.store = session.NewMemoryStore()
	a.fallback = true
	if err := session.SetJSON(a.store, identityKey, id); err != nil {
		return fmt.Errorf("persist identity: %w", err)
	}
	return nil
}

// SignOut forgets the cached identity and removes it from the store.
func (a *AnonymousAuth) SignOut() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.identity = nil
	return a.store.Delete(identityKey)
}

// MemoryOnly reports whether the identity is no longer persisted to disk.
func (a *AnonymousAuth) MemoryOnly() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fallback
}
