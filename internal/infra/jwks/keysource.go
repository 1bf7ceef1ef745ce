// Package jwks caches the identity provider's signing keys.
package jwks

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/astro-web3/request-authorizer/internal/infra/cache"
	"github.com/astro-web3/request-authorizer/pkg/logger"
	"github.com/astro-web3/request-authorizer/pkg/metrics"
	"github.com/astro-web3/request-authorizer/pkg/tracer"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// ErrKeyUnavailable is returned when no verification key can be produced for
// a key id: upstream failure, timeout, malformed key set or unknown kid.
var ErrKeyUnavailable = errors.New("signing key unavailable")

const (
	DefaultCacheTTL           = 10 * time.Minute
	DefaultFetchTimeout       = 5 * time.Second
	DefaultMinRefreshInterval = 30 * time.Second
)

type entry struct {
	key       crypto.PublicKey
	expiresAt time.Time
}

// KeySource resolves key ids to public keys. Entries live for the configured
// TTL. Every miss, expiry and Refresh shares one flight keyed by the key set
// URL, so concurrent callers cause at most one upstream fetch. A key id still
// unknown within the minimum refresh interval of the last successful load
// fails without contacting the issuer.
type KeySource struct {
	url        string
	fetcher    Fetcher
	shared     cache.KeySetCache
	ttl        time.Duration
	timeout    time.Duration
	minRefresh time.Duration
	now        func() time.Time
	metrics    *metrics.Recorder

	mu          sync.RWMutex
	entries     map[string]entry
	refreshedAt time.Time

	group singleflight.Group
}

type Option func(*KeySource)

func WithCacheTTL(ttl time.Duration) Option {
	return func(s *KeySource) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithFetchTimeout(d time.Duration) Option {
	return func(s *KeySource) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMinRefreshInterval bounds how often an unknown key id can send the
// source back to the issuer. Zero disables the bound.
func WithMinRefreshInterval(d time.Duration) Option {
	return func(s *KeySource) {
		if d >= 0 {
			s.minRefresh = d
		}
	}
}

// WithSharedCache adds a second cache tier consulted before the issuer.
func WithSharedCache(c cache.KeySetCache) Option {
	return func(s *KeySource) {
		s.shared = c
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *KeySource) {
		s.now = now
	}
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(s *KeySource) {
		s.metrics = m
	}
}

func NewKeySource(url string, fetcher Fetcher, opts ...Option) *KeySource {
	s := &KeySource{
		url:        url,
		fetcher:    fetcher,
		ttl:        DefaultCacheTTL,
		timeout:    DefaultFetchTimeout,
		minRefresh: DefaultMinRefreshInterval,
		now:        time.Now,
		entries:    make(map[string]entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the public key published under kid.
func (s *KeySource) Get(ctx context.Context, kid string) (crypto.PublicKey, error) {
	if kid == "" {
		return nil, fmt.Errorf("%w: empty key id", ErrKeyUnavailable)
	}

	if key, ok := s.lookup(kid); ok {
		return key, nil
	}

	ch := s.group.DoChan(s.url, func() (any, error) {
		return nil, s.load(ctx, kid, false)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
	}

	if key, ok := s.lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: key id %q not published", ErrKeyUnavailable, kid)
}

// Refresh fetches the key set from the issuer regardless of cache state. It
// joins a load already in flight instead of starting a second one.
func (s *KeySource) Refresh(ctx context.Context) error {
	_, err, _ := s.group.Do(s.url, func() (any, error) {
		return nil, s.load(ctx, "", true)
	})
	return err
}

// Invalidate drops every cached key.
func (s *KeySource) Invalidate() {
	s.mu.Lock()
	s.entries = make(map[string]entry)
	s.refreshedAt = time.Time{}
	s.mu.Unlock()
}

func (s *KeySource) lookup(kid string) (crypto.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[kid]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.key, true
}

// recentlyLoaded reports whether the installed set was fetched within the
// minimum refresh interval and the TTL.
func (s *KeySource) recentlyLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.refreshedAt.IsZero() {
		return false
	}
	age := s.now().Sub(s.refreshedAt)
	return age < s.minRefresh && age < s.ttl
}

// fetchContext detaches the flight from the first caller's cancellation so
// one impatient caller cannot fail the fetch for everyone waiting on it.
func (s *KeySource) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

// load runs inside the shared flight. kid is the key the initiating caller
// wants; callers that joined the flight look their own ids up afterwards.
func (s *KeySource) load(ctx context.Context, kid string, force bool) error {
	if !force {
		// a flight that finished just before this one may have filled the entry
		if _, ok := s.lookup(kid); ok {
			return nil
		}
		if s.recentlyLoaded() {
			s.metrics.JWKSFetch("upstream", "throttled")
			logger.DebugContext(ctx, "key set refreshed recently, not refetching",
				slog.String("kid", kid),
			)
			return nil
		}
	}

	ctx, cancel := s.fetchContext(ctx)
	defer cancel()

	ctx, span := tracer.Start(ctx, "infra.jwks.Load")
	defer span.End()
	span.SetAttributes(attribute.String("jwks.kid", kid))

	if !force && s.loadShared(ctx, kid) {
		span.SetAttributes(attribute.String("jwks.source", "shared"))
		return nil
	}

	span.SetAttributes(attribute.String("jwks.source", "upstream"))
	if err := s.fetchUpstream(ctx); err != nil {
		tracer.Fail(span, err)
		return err
	}
	return nil
}

// loadShared installs the shared tier's copy when it is fresh and publishes
// kid. Shared tier errors are logged and treated as a miss.
func (s *KeySource) loadShared(ctx context.Context, kid string) bool {
	if s.shared == nil {
		return false
	}

	cached, err := s.shared.Get(ctx, s.url)
	if err != nil {
		logger.WarnContext(ctx, "shared key set cache unavailable", logger.Err(err))
		s.metrics.JWKSFetch("shared", "error")
		return false
	}
	if cached == nil {
		s.metrics.JWKSFetch("shared", "miss")
		return false
	}

	expiresAt := cached.FetchedAt.Add(s.ttl)
	if !s.now().Before(expiresAt) {
		s.metrics.JWKSFetch("shared", "stale")
		return false
	}

	keys, err := parseKeySet(cached.Document)
	if err != nil {
		logger.WarnContext(ctx, "shared key set cache holds an unusable document", logger.Err(err))
		s.metrics.JWKSFetch("shared", "error")
		return false
	}
	if _, ok := keys[kid]; !ok {
		s.metrics.JWKSFetch("shared", "miss")
		return false
	}

	s.install(keys, expiresAt, cached.FetchedAt)
	s.metrics.JWKSFetch("shared", "ok")
	return true
}

func (s *KeySource) fetchUpstream(ctx context.Context) error {
	doc, err := s.fetcher.Fetch(ctx, s.url)
	if err != nil {
		s.metrics.JWKSFetch("upstream", "error")
		logger.ErrorContext(ctx, "failed to fetch signing keys",
			slog.String("jwks_url", s.url),
			logger.Err(err),
		)
		return fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}

	keys, err := parseKeySet(doc)
	if err != nil {
		s.metrics.JWKSFetch("upstream", "malformed")
		logger.ErrorContext(ctx, "issuer published an unusable key set",
			slog.String("jwks_url", s.url),
			logger.Err(err),
		)
		return fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}

	fetchedAt := s.now()
	s.install(keys, fetchedAt.Add(s.ttl), fetchedAt)
	s.metrics.JWKSFetch("upstream", "ok")
	logger.InfoContext(ctx, "signing keys refreshed",
		slog.String("jwks_url", s.url),
		slog.Int("keys", len(keys)),
	)

	if s.shared != nil {
		if err := s.shared.Set(ctx, s.url, &cache.CachedKeySet{Document: doc, FetchedAt: fetchedAt}, s.ttl); err != nil {
			logger.WarnContext(ctx, "failed to share key set", logger.Err(err))
		}
	}
	return nil
}

// install replaces the whole set so keys the issuer retired stop verifying.
func (s *KeySource) install(keys map[string]crypto.PublicKey, expiresAt, loadedAt time.Time) {
	entries := make(map[string]entry, len(keys))
	for kid, key := range keys {
		entries[kid] = entry{key: key, expiresAt: expiresAt}
	}

	s.mu.Lock()
	s.entries = entries
	s.refreshedAt = loadedAt
	s.mu.Unlock()
}

// parseKeySet extracts the signature keys that carry a key id.
func parseKeySet(doc []byte) (map[string]crypto.PublicKey, error) {
	set, err := jwk.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key set: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		kid := key.KeyID()
		if kid == "" || key.KeyUsage() == string(jwk.ForEncryption) {
			continue
		}
		pub, err := key.PublicKey()
		if err != nil {
			continue
		}
		var raw any
		if err := pub.Raw(&raw); err != nil {
			continue
		}
		keys[kid] = raw
	}

	if len(keys) == 0 {
		return nil, errors.New("key set contains no usable signing keys")
	}
	return keys, nil
}
