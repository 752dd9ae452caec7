package provider

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"lcars-os/internal/domain"
	"lcars-os/internal/observability"
)

// DefaultCommsTTL bounds how long a comms status is reused.
const DefaultCommsTTL = 30 * time.Second

// CommsFetcher is the slow source behind CommsCache.
type CommsFetcher interface {
	Comms(ctx context.Context) (domain.CommsStatus, error)
}

// CommsCache memoizes the last comms status for a fixed TTL.
type CommsCache struct {
	fetcher CommsFetcher
	ttl     time.Duration
	now     func() time.Time
	metrics *observability.Metrics
	group   singleflight.Group

	mu        sync.Mutex
	value     domain.CommsStatus
	fetchedAt time.Time
	valid     bool
}

// NewCommsCache creates an empty cache. A non-positive ttl uses DefaultCommsTTL.
func NewCommsCache(fetcher CommsFetcher, ttl time.Duration, metrics *observability.Metrics) *CommsCache {
	if ttl <= 0 {
		ttl = DefaultCommsTTL
	}
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}
	return &CommsCache{
		fetcher: fetcher,
		ttl:     ttl,
		now:     time.Now,
		metrics: metrics,
	}
}

// Get returns the cached status while fresh, otherwise fetches. Concurrent
// misses share a single fetch. A failed fetch leaves the cache untouched.
func (c *CommsCache) Get(ctx context.Context) (domain.CommsStatus, error) {
	if v, ok := c.fresh(); ok {
		c.metrics.CommsCacheHits.Inc()
		return v, nil
	}

	c.metrics.CommsCacheMisses.Inc()
	v, err, _ := c.group.Do("comms", func() (any, error) {
		if v, ok := c.fresh(); ok {
			return v, nil
		}
		status, err := c.fetcher.Comms(ctx)
		if err != nil {
			return domain.CommsStatus{}, err
		}

		c.mu.Lock()
		c.value = status
		c.fetchedAt = c.now()
		c.valid = true
		c.mu.Unlock()
		return status, nil
	})
	if err != nil {
		return domain.CommsStatus{}, err
	}
	return v.(domain.CommsStatus), nil
}

// Invalidate drops the cached value.
func (c *CommsCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}

func (c *CommsCache) fresh() (domain.CommsStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.value, true
	}
	return domain.CommsStatus{}, false
}
