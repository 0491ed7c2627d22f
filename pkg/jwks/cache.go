// SPDX-License-Identifier: Apache-2.0

// Package jwks fetches and caches JSON Web Key Sets.
//
// The cache honours the endpoint's Cache-Control max-age: a response without
// a parseable max-age is served but not retained, so every verification
// fetches again. Entries are keyed by endpoint URL so verifiers configured
// with the same endpoint share an entry and distinct endpoints never
// interfere with each other's lifetimes.
package jwks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/credentis/credentis/pkg/logger"
)

var maxAgePattern = regexp.MustCompile(`(?i)max-age=(\d+)`)

// EndpointError reports a non-2xx response from a JWKS endpoint.
type EndpointError struct {
	URL        string
	StatusCode int
}

// Error implements the error interface.
func (e *EndpointError) Error() string {
	return fmt.Sprintf("JWKS endpoint %s returned status %d", e.URL, e.StatusCode)
}

type entry struct {
	keySet    jwk.Set
	expiresAt time.Time
}

// Cache is a process-wide cache of fetched key sets, shared across warm
// invocations. It must be constructed once per execution environment and
// passed by handle into each verifier.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	client  *http.Client
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithHTTPClient sets the HTTP client used for fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		c.client = client
	}
}

// WithClock sets the time source, for tests that probe TTL boundaries.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates an empty Cache.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		client:  http.DefaultClient,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the key set for the given endpoint, fetching it if there is no
// unexpired cached entry.
func (c *Cache) Get(ctx context.Context, endpoint string) (jwk.Set, error) {
	c.mu.Lock()
	cached, ok := c.entries[endpoint]
	if ok && c.now().Before(cached.expiresAt) {
		c.mu.Unlock()
		return cached.keySet, nil
	}
	c.mu.Unlock()

	keySet, ttl, err := c.fetch(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	if ttl > 0 {
		c.mu.Lock()
		c.entries[endpoint] = &entry{keySet: keySet, expiresAt: c.now().Add(ttl)}
		c.mu.Unlock()
	}

	return keySet, nil
}

// fetch retrieves and parses the key set, returning the cache TTL derived
// from the Cache-Control header (zero means do not cache).
func (c *Cache) fetch(ctx context.Context, endpoint string) (jwk.Set, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build JWKS request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch JWKS from %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, 0, &EndpointError{URL: endpoint, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read JWKS response: %w", err)
	}

	keySet, err := jwk.Parse(body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse JWKS from %s: %w", endpoint, err)
	}

	ttl := cacheTTL(resp.Header.Get("Cache-Control"))
	logger.Debugw("fetched JWKS", "endpoint", endpoint, "keys", keySet.Len(), "ttl", ttl)

	return keySet, ttl, nil
}

// cacheTTL extracts max-age from a Cache-Control header value. Anything
// absent or non-numeric means no caching.
func cacheTTL(cacheControl string) time.Duration {
	match := maxAgePattern.FindStringSubmatch(cacheControl)
	if match == nil {
		return 0
	}
	seconds, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// Invalidate drops the cached entry for one endpoint.
func (c *Cache) Invalidate(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, endpoint)
}

// InvalidateAll drops every cached entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}
