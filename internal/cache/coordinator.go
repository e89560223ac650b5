// Package cache provides the result cache and single-flight coordinator for
// the query gateway. A coordinator is an explicitly constructed instance with
// process lifetime; tests create fresh ones for isolation.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"datalens-gateway/internal/models"
)

// DefaultTTL is how long a computed result stays servable.
const DefaultTTL = 24 * time.Hour

type entry struct {
	value     *models.QueryResult
	expiresAt time.Time
}

// flight is the settled outcome of one single-flight computation, carrying
// whether the value was ultimately served from cache.
type flight struct {
	value     *models.QueryResult
	fromCache bool
}

// Coordinator maps a normalized query key to a cached result or an
// in-progress computation. At most one concurrent computation runs per key;
// all concurrent callers for that key share its outcome. Failures are never
// cached and clear the in-flight registration so later callers retry.
type Coordinator struct {
	mu      sync.Mutex
	entries map[string]entry
	group   singleflight.Group
	ttl     time.Duration

	// now is replaceable in tests to exercise expiry.
	now func() time.Time
}

func NewCoordinator(ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Lookup returns the live cached value for key, or nil. A value observed past
// its expiry is removed and treated as absent (lazy eviction).
func (c *Coordinator) Lookup(key string) *models.QueryResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	return e.value
}

// Store caches a computed result under key with a fresh expiry.
func (c *Coordinator) Store(key string, value *models.QueryResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Do returns the cached result for key if one is live, otherwise runs compute
// at most once across all concurrent callers of the same key, caches its
// success and returns it. The second return reports whether the value came
// from cache.
//
// compute receives context.Background-derived cancellation from its own
// timeouts, not the caller's ctx: singleflight reuses the first caller's
// invocation, and cancelling it would poison every waiter's result.
func (c *Coordinator) Do(ctx context.Context, key string, compute func() (*models.QueryResult, error)) (*models.QueryResult, bool, error) {
	if v := c.Lookup(key); v != nil {
		return v, true, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.computeOrCached(key, compute)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		f := res.Val.(flight)
		return f.value, f.fromCache, nil
	case <-ctx.Done():
		// The shared computation keeps running for the other waiters;
		// only this caller gives up.
		return nil, false, ctx.Err()
	}
}

// computeOrCached runs inside the single-flight slot for key. The re-check
// covers a concurrent caller having completed and cached between the outer
// lookup and here; a hit there is still a cache hit and is reported as one.
func (c *Coordinator) computeOrCached(key string, compute func() (*models.QueryResult, error)) (interface{}, error) {
	if v := c.Lookup(key); v != nil {
		return flight{value: v, fromCache: true}, nil
	}
	v, err := compute()
	if err != nil {
		return nil, err
	}
	c.Store(key, v)
	return flight{value: v, fromCache: false}, nil
}

// Len reports the number of live plus expired-but-unswept entries.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
