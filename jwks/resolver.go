// Package jwks resolves RSA signing keys of trusted OAuth providers and caches
// them by provider and key id.
package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/mynextid/zklogin-prover/common"
	"github.com/mynextid/zklogin-prover/metrics"
	"github.com/mynextid/zklogin-prover/models"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultRetryInterval = 200 * time.Millisecond
	DefaultMissInterval  = 30 * time.Second
	MinModulusBits       = 2048

	maxBodyBytes = 1 << 20
)

// PublicKey converts the key material to an rsa.PublicKey
func (k *ResolvedKey) PublicKey() (*rsa.PublicKey, error) {
	e := new(big.Int).SetBytes(k.Exponent)
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("%w: exponent out of range", models.ErrUnsupportedKeyType)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(k.Modulus),
		E: int(e.Int64()),
	}, nil
}

// Resolver maps (issuer, kid) to a verified-shape RSA key
type Resolver struct {
	providers     Providers
	cache         Cache
	client        *http.Client
	ttl           time.Duration
	retryInterval time.Duration
	missInterval  time.Duration
	now           func() time.Time
	logger        common.Logger
	metrics       *metrics.Metrics

	group singleflight.Group

	mu      sync.Mutex
	lastErr error
	misses  map[string]time.Time
}

// Option configures a Resolver
type Option func(*Resolver)

func WithCache(c Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.client = &http.Client{Timeout: d} }
}

func WithTTL(d time.Duration) Option {
	return func(r *Resolver) { r.ttl = d }
}

func WithRetryInterval(d time.Duration) Option {
	return func(r *Resolver) { r.retryInterval = d }
}

// WithMissInterval sets how long a provider's key set is not refetched after
// it was found to lack a requested kid. Zero disables the throttle.
func WithMissInterval(d time.Duration) Option {
	return func(r *Resolver) { r.missInterval = d }
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithLogger(l common.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a resolver for the given providers. Defaults: in-memory
// cache, one hour TTL, ten second fetch timeout.
func NewResolver(providers Providers, opts ...Option) *Resolver {
	r := &Resolver{
		providers:     providers,
		cache:         NewMemoryCache(),
		client:        &http.Client{Timeout: DefaultTimeout},
		ttl:           DefaultTTL,
		retryInterval: DefaultRetryInterval,
		missInterval:  DefaultMissInterval,
		now:           time.Now,
		logger:        common.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Providers returns the configured providers
func (r *Resolver) Providers() Providers {
	return r.providers
}

// Resolve returns the signing key for keyID published by the provider of issuer.
// Fresh cache entries are served without network access.
func (r *Resolver) Resolve(ctx context.Context, issuer, keyID string) (*ResolvedKey, error) {
	p, err := r.providers.Lookup(issuer)
	if err != nil {
		return nil, err
	}

	key, ok, err := r.cache.Get(ctx, p.Name, keyID)
	if err != nil {
		r.logger.Warn("key cache lookup failed", "provider", p.Name, "kid", keyID, "error", err)
		ok = false
	}
	if ok {
		if r.now().Sub(key.FetchedAt) < r.ttl {
			r.metrics.CacheLookup(metrics.CacheHit)
			return key, nil
		}
		r.metrics.CacheLookup(metrics.CacheExpired)
		if err := r.cache.Invalidate(ctx, p.Name, keyID); err != nil {
			r.logger.Warn("key cache invalidation failed", "provider", p.Name, "kid", keyID, "error", err)
		}
	} else {
		r.metrics.CacheLookup(metrics.CacheMiss)
	}

	if at, ok := r.recentMiss(p.Name); ok {
		return nil, fmt.Errorf("%w: kid %q (key set of %s checked %s ago)", models.ErrKeyNotFound, keyID, p.Name, r.now().Sub(at))
	}

	// concurrent misses for the same key share one fetch
	v, err, _ := r.group.Do(p.Name+"|"+keyID, func() (any, error) {
		return r.fetch(context.WithoutCancel(ctx), p, keyID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ResolvedKey), nil
}

func (r *Resolver) fetch(ctx context.Context, p Provider, keyID string) (*ResolvedKey, error) {
	uri := p.JWKSURI
	if uri == "" {
		var err error
		if uri, err = r.discover(ctx, p); err != nil {
			r.metrics.KeyFetch(metrics.OutcomeError)
			return nil, err
		}
	}

	body, err := r.get(ctx, uri)
	if err != nil {
		r.metrics.KeyFetch(metrics.OutcomeError)
		return nil, err
	}
	r.metrics.KeyFetch(metrics.OutcomeSuccess)

	keys, err := keySet(body)
	if err != nil {
		return nil, err
	}

	// cache the rest of the set so a kid miss does not hide keys that exist
	fetchedAt := r.now()
	for _, other := range otherKeys(keys, keyID) {
		other.Provider = p.Name
		other.FetchedAt = fetchedAt
		if err := r.cache.Put(ctx, other); err != nil {
			r.logger.Warn("key cache store failed", "provider", p.Name, "kid", other.KeyID, "error", err)
		}
	}

	key, err := findKey(keys, keyID)
	if err != nil {
		if errors.Is(err, models.ErrKeyNotFound) {
			r.recordMiss(p.Name)
			r.logger.Warn("kid not in key set", "provider", p.Name, "kid", keyID)
		}
		return nil, err
	}
	key.Provider = p.Name
	key.FetchedAt = fetchedAt

	if err := r.cache.Put(ctx, key); err != nil {
		r.logger.Warn("key cache store failed", "provider", p.Name, "kid", keyID, "error", err)
	}

	r.logger.Debug("resolved signing key", "provider", p.Name, "kid", keyID, "bits", new(big.Int).SetBytes(key.Modulus).BitLen())
	return key, nil
}

func (r *Resolver) discover(ctx context.Context, p Provider) (string, error) {
	body, err := r.get(ctx, p.DiscoveryURL)
	if err != nil {
		return "", err
	}
	uri := gjson.GetBytes(body, "jwks_uri")
	if uri.Type != gjson.String || uri.String() == "" {
		return "", fmt.Errorf("%w: discovery document of %s has no jwks_uri", models.ErrInvalidKeySet, p.Name)
	}
	return uri.String(), nil
}

// get fetches uri, retrying transport failures and 5xx responses once
func (r *Resolver) get(ctx context.Context, uri string) ([]byte, error) {
	var body []byte

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", models.ErrKeyDiscoveryUnavailable, err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", models.ErrKeyDiscoveryUnavailable, err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("%w: reading response: %v", models.ErrKeyDiscoveryUnavailable, err)
		}

		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %s returned %d", models.ErrKeyDiscoveryUnavailable, uri, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("%w: %s returned %d", models.ErrKeyDiscoveryUnavailable, uri, resp.StatusCode))
		}

		body = b
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.retryInterval

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(exp, 1), ctx),
		func(err error, d time.Duration) {
			r.logger.Warn("key set fetch failed, retrying", "uri", uri, "error", err, "backoff", d)
		})
	if err != nil {
		if !errors.Is(err, models.ErrKeyDiscoveryUnavailable) {
			err = fmt.Errorf("%w: %v", models.ErrKeyDiscoveryUnavailable, err)
		}
		r.setHealth(err)
		return nil, err
	}

	r.setHealth(nil)
	return body, nil
}

func (r *Resolver) setHealth(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

func (r *Resolver) recordMiss(provider string) {
	if r.missInterval <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.misses == nil {
		r.misses = make(map[string]time.Time)
	}
	r.misses[provider] = r.now()
}

// recentMiss reports whether the provider's key set missed a kid within the
// miss interval, capped at the cache TTL
func (r *Resolver) recentMiss(provider string) (time.Time, bool) {
	interval := min(r.missInterval, r.ttl)
	if interval <= 0 {
		return time.Time{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.misses[provider]
	if !ok {
		return time.Time{}, false
	}
	if r.now().Sub(at) >= interval {
		delete(r.misses, provider)
		return time.Time{}, false
	}
	return at, true
}

// Healthy returns the error of the most recent key set fetch, if it failed
func (r *Resolver) Healthy(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// CachedKeys lists cached entries when the cache supports enumeration
func (r *Resolver) CachedKeys() ([]ResolvedKey, bool) {
	l, ok := r.cache.(Lister)
	if !ok {
		return nil, false
	}
	return l.Snapshot(), true
}

func keySet(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: response is not JSON", models.ErrInvalidKeySet)
	}
	keys := gjson.GetBytes(body, "keys")
	if !keys.IsArray() {
		return gjson.Result{}, fmt.Errorf("%w: missing keys array", models.ErrInvalidKeySet)
	}
	return keys, nil
}

func findKey(keys gjson.Result, keyID string) (*ResolvedKey, error) {
	var jwk gjson.Result
	keys.ForEach(func(_, k gjson.Result) bool {
		if k.IsObject() && k.Get("kid").String() == keyID {
			jwk = k
			return false
		}
		return true
	})
	if !jwk.Exists() {
		return nil, fmt.Errorf("%w: kid %q", models.ErrKeyNotFound, keyID)
	}
	return parseJWK(jwk, keyID)
}

// otherKeys returns the usable keys of the set except keyID
func otherKeys(keys gjson.Result, keyID string) []*ResolvedKey {
	var out []*ResolvedKey
	keys.ForEach(func(_, k gjson.Result) bool {
		kid := k.Get("kid").String()
		if !k.IsObject() || kid == "" || kid == keyID {
			return true
		}
		if key, err := parseJWK(k, kid); err == nil {
			out = append(out, key)
		}
		return true
	})
	return out
}

func parseJWK(jwk gjson.Result, keyID string) (*ResolvedKey, error) {
	if kty := jwk.Get("kty").String(); kty != "RSA" {
		return nil, fmt.Errorf("%w: kty %q", models.ErrUnsupportedKeyType, kty)
	}
	if alg := jwk.Get("alg"); alg.Exists() && alg.String() != "RS256" {
		return nil, fmt.Errorf("%w: alg %q", models.ErrUnsupportedKeyType, alg.String())
	}
	if use := jwk.Get("use"); use.Exists() && use.String() != "sig" {
		return nil, fmt.Errorf("%w: use %q", models.ErrInvalidKeyUsage, use.String())
	}

	n, err := decodeKeyParam(jwk.Get("n").String())
	if err != nil {
		return nil, fmt.Errorf("%w: modulus: %v", models.ErrInvalidKeySet, err)
	}
	e, err := decodeKeyParam(jwk.Get("e").String())
	if err != nil {
		return nil, fmt.Errorf("%w: exponent: %v", models.ErrInvalidKeySet, err)
	}

	mod := new(big.Int).SetBytes(n)
	if bits := mod.BitLen(); bits < MinModulusBits {
		return nil, fmt.Errorf("%w: %d-bit modulus", models.ErrInsufficientKeySize, bits)
	}

	return &ResolvedKey{
		KeyID:    keyID,
		Modulus:  mod.Bytes(),
		Exponent: new(big.Int).SetBytes(e).Bytes(),
	}, nil
}

func decodeKeyParam(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("missing")
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, errors.New("empty")
	}
	return b, nil
}
