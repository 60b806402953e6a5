// Package identity resolves opaque API tokens to tenant principals.
//
// Resolution is a single joined lookup through a [storage.TokenResolver].
// Successful lookups may be cached for a short bound; failures are never
// cached, so a freshly issued token works on the next request.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meetscribe/meetscribe/internal/apperr"
	"github.com/meetscribe/meetscribe/internal/storage"
)

// Principal is an authenticated caller: the tenant plus the exact token it
// presented. The token travels with the principal because it is part of the
// canonical triple.
type Principal struct {
	Tenant storage.Tenant
	Token  string
}

// defaultCacheTTL bounds how long a positive token resolution may be reused.
const defaultCacheTTL = 30 * time.Second

// Option configures a [Resolver].
type Option func(*Resolver)

// WithCacheTTL overrides the positive-cache lifetime. A zero or negative TTL
// disables caching entirely.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cacheTTL = ttl
	}
}

// WithClock substitutes the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// Resolver authenticates API tokens against the token store. Safe for
// concurrent use.
type Resolver struct {
	store    storage.TokenResolver
	cacheTTL time.Duration
	now      func() time.Time

	// group collapses concurrent cache misses for the same token into one
	// store query.
	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	tenant  storage.Tenant
	expires time.Time
}

// New creates a Resolver backed by store.
func New(store storage.TokenResolver, opts ...Option) *Resolver {
	r := &Resolver{
		store:    store,
		cacheTTL: defaultCacheTTL,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve maps token to its principal. An empty token yields
// [apperr.ErrMissingCredential]; an unknown one [apperr.ErrInvalidCredential].
// Both rejections are logged at warning level.
func (r *Resolver) Resolve(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		slog.Warn("identity: request without API token")
		return Principal{}, fmt.Errorf("identity: %w", apperr.ErrMissingCredential)
	}

	if tenant, ok := r.cached(token); ok {
		return Principal{Tenant: tenant, Token: token}, nil
	}

	v, err, _ := r.group.Do(token, func() (any, error) {
		// The result is shared with every caller that joined the flight, so
		// the lookup must not die with whichever request happened to lead it.
		tenant, err := r.store.ResolveToken(context.WithoutCancel(ctx), token)
		if err != nil {
			return nil, err
		}
		r.remember(token, tenant)
		return tenant, nil
	})
	if err != nil {
		// Invalid tokens are warned about but never cached; everything else
		// (store outages) passes through untouched.
		if isCredentialErr(err) {
			slog.Warn("identity: invalid API token", "token_prefix", prefix(token))
		}
		return Principal{}, fmt.Errorf("identity: resolve: %w", err)
	}

	return Principal{Tenant: v.(storage.Tenant), Token: token}, nil
}

func (r *Resolver) cached(token string) (storage.Tenant, bool) {
	if r.cacheTTL <= 0 {
		return storage.Tenant{}, false
	}
	r.mu.RLock()
	entry, ok := r.cache[token]
	r.mu.RUnlock()
	if !ok || r.now().After(entry.expires) {
		return storage.Tenant{}, false
	}
	return entry.tenant, true
}

func (r *Resolver) remember(token string, tenant storage.Tenant) {
	if r.cacheTTL <= 0 {
		return
	}
	r.mu.Lock()
	r.cache[token] = cacheEntry{tenant: tenant, expires: r.now().Add(r.cacheTTL)}
	r.mu.Unlock()
}

func isCredentialErr(err error) bool {
	return errors.Is(err, apperr.ErrInvalidCredential) || errors.Is(err, apperr.ErrMissingCredential)
}

// prefix returns the first few characters of token for log correlation
// without exposing the credential.
func prefix(token string) string {
	if len(token) <= 5 {
		return token
	}
	return token[:5]
}
