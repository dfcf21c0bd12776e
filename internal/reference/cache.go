package reference

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iyulab/actor-profiler/internal/logging"
	"github.com/iyulab/actor-profiler/internal/metrics"
)

// DefaultURL is the MITRE CTI enterprise ATT&CK bundle.
const DefaultURL = "https://raw.githubusercontent.com/mitre/cti/master/enterprise-attack/enterprise-attack.json"

// DefaultTTL is how long a fetched taxonomy is considered fresh.
const DefaultTTL = 24 * time.Hour

// Fetcher retrieves a fresh taxonomy.
type Fetcher interface {
	Fetch(ctx context.Context) (*Taxonomy, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (*Taxonomy, error)

func (f FetcherFunc) Fetch(ctx context.Context) (*Taxonomy, error) { return f(ctx) }

// HTTPFetcher downloads and parses the STIX bundle.
type HTTPFetcher struct {
	URL    string
	Client *http.Client
}

// NewHTTPFetcher returns a fetcher with its own timeout.
func NewHTTPFetcher(url string, timeout time.Duration) *HTTPFetcher {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPFetcher{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (*Taxonomy, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch taxonomy: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch taxonomy: status %d", resp.StatusCode)
	}
	return ParseSTIX(resp.Body)
}

// Cache holds the last fetched taxonomy and refreshes it lazily once it is
// older than the TTL.
//
// Refreshes are not deduplicated: requests that observe a stale snapshot at
// the same time may each fetch. The mutex only guards the fields.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Collector

	mu        sync.RWMutex
	taxonomy  *Taxonomy
	fetchedAt time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

// NewCache creates an empty cache. Nothing is fetched until the first Snapshot.
func NewCache(fetcher Fetcher, ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{fetcher: fetcher, ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	c.logger = logging.OrNop(c.logger)
	return c
}

// Snapshot returns the current taxonomy, refreshing it first when it is
// missing or expired. A failed refresh returns the stale taxonomy if there is
// one and an empty taxonomy otherwise; the error is reported alongside so the
// caller can log it, but the returned taxonomy is always usable.
func (c *Cache) Snapshot(ctx context.Context) (*Taxonomy, error) {
	c.mu.RLock()
	tax, at := c.taxonomy, c.fetchedAt
	c.mu.RUnlock()

	if tax != nil && c.now().Sub(at) < c.ttl {
		return tax, nil
	}

	fresh, err := c.fetcher.Fetch(ctx)
	if err != nil {
		c.metrics.CountReferenceRefresh("error")
		if tax != nil {
			c.logger.Warn("reference refresh failed, serving stale taxonomy",
				zap.Error(err), zap.Time("fetched_at", at))
			return tax, fmt.Errorf("refresh reference taxonomy (serving stale): %w", err)
		}
		c.logger.Warn("reference fetch failed, no taxonomy available", zap.Error(err))
		return Empty(), fmt.Errorf("fetch reference taxonomy: %w", err)
	}

	c.mu.Lock()
	c.taxonomy = fresh
	c.fetchedAt = c.now()
	c.mu.Unlock()

	c.metrics.CountReferenceRefresh("ok")
	c.logger.Info("reference taxonomy refreshed",
		zap.Int("intrusion_sets", fresh.Len()), zap.Int("tools", fresh.ToolCount()))
	return fresh, nil
}

// FetchedAt returns when the cached taxonomy was last refreshed.
func (c *Cache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}
