// Package billing serves classified billing records through a single-flight
// cache and nets tagged sub-costs into their components.
package billing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/de-tools/hubcost/pkg/models/domain"
	"github.com/de-tools/hubcost/pkg/retry"
	"github.com/de-tools/hubcost/pkg/services/classifier"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

const (
	DefaultTTL     = time.Hour
	DefaultTimeout = 30 * time.Second
)

// Fetcher issues one billing API call for a query.
type Fetcher interface {
	Fetch(ctx context.Context, q domain.BillingQuery) ([]domain.LineItem, error)
}

// CacheEntry is never modified after it is stored.
type CacheEntry struct {
	Key       string
	Records   []domain.BillingRecord
	FetchedAt time.Time
}

type Stats struct {
	Hits          int64
	Misses        int64
	Coalesced     int64
	UpstreamCalls int64
	Entries       int
}

type CacheSettings struct {
	TTL     time.Duration
	Timeout time.Duration
	Retry   retry.Settings
	// HubTag is the tag key copied into BillingRecord.Hub.
	HubTag string
}

type Option func(*Cache)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

type call struct {
	done    chan struct{}
	records []domain.BillingRecord
	err     error
	waiters int
	cancel  context.CancelFunc
}

type Cache struct {
	fetcher    Fetcher
	classifier *classifier.Classifier
	settings   CacheSettings
	now        func() time.Time

	entries *gocache.Cache

	mu       sync.Mutex
	inflight map[string]*call

	hits, misses, coalesced, upstreamCalls atomic.Int64

	unclassified sync.Map
}

func NewCache(fetcher Fetcher, cls *classifier.Classifier, settings CacheSettings, opts ...Option) *Cache {
	if settings.TTL <= 0 {
		settings.TTL = DefaultTTL
	}
	c := &Cache{
		fetcher:    fetcher,
		classifier: cls,
		settings:   settings,
		now:        time.Now,
		entries:    gocache.New(settings.TTL, 2*settings.TTL),
		inflight:   map[string]*call{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrFetch returns the classified records for q. Identical queries share
// one upstream fetch; the fetch outlives any single caller and is cancelled
// once no caller waits for it anymore.
func (c *Cache) GetOrFetch(ctx context.Context, q domain.BillingQuery) ([]domain.BillingRecord, error) {
	key := q.Key()
	if entry, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return slices.Clone(entry.Records), nil
	}

	c.mu.Lock()
	if entry, ok := c.lookup(key); ok {
		c.mu.Unlock()
		c.hits.Add(1)
		return slices.Clone(entry.Records), nil
	}
	cl, ok := c.inflight[key]
	if ok {
		c.coalesced.Add(1)
	} else {
		c.misses.Add(1)
		fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		cl = &call{done: make(chan struct{}), cancel: cancel}
		c.inflight[key] = cl
		go c.run(fetchCtx, key, q, cl)
	}
	cl.waiters++
	c.mu.Unlock()

	select {
	case <-cl.done:
		if cl.err != nil {
			return nil, cl.err
		}
		return slices.Clone(cl.records), nil
	case <-ctx.Done():
		c.leave(key, cl)
		return nil, ctx.Err()
	}
}

func (c *Cache) leave(key string, cl *call) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl.waiters--
	if cl.waiters > 0 {
		return
	}
	cl.cancel()
	if c.inflight[key] == cl {
		delete(c.inflight, key)
	}
}

func (c *Cache) run(ctx context.Context, key string, q domain.BillingQuery, cl *call) {
	defer cl.cancel()

	records, err := c.fetch(ctx, q)

	c.mu.Lock()
	if err == nil {
		c.entries.SetDefault(key, &CacheEntry{Key: key, Records: records, FetchedAt: c.now()})
	}
	if c.inflight[key] == cl {
		delete(c.inflight, key)
	}
	cl.records, cl.err = records, err
	close(cl.done)
	c.mu.Unlock()
}

func (c *Cache) fetch(ctx context.Context, q domain.BillingQuery) ([]domain.BillingRecord, error) {
	logger := zerolog.Ctx(ctx)

	var items []domain.LineItem
	err := retry.Do(ctx, c.settings.Retry, "billing", func(ctx context.Context) error {
		c.upstreamCalls.Add(1)

		callCtx := ctx
		if c.settings.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.settings.Timeout)
			defer cancel()
		}

		result, err := c.fetcher.Fetch(callCtx, q)
		if err != nil {
			return err
		}
		items = result
		return nil
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, domain.ErrPaginatedResponse) {
			return nil, err
		}
		logger.Error().Err(err).Str("query", q.Key()).Msg("billing query failed")
		return nil, fmt.Errorf("%w: billing: %w", domain.ErrUpstreamUnavailable, err)
	}

	return c.classify(ctx, items), nil
}

func (c *Cache) classify(ctx context.Context, items []domain.LineItem) []domain.BillingRecord {
	records := make([]domain.BillingRecord, 0, len(items))
	for _, item := range items {
		component, ok := c.classifier.Classify(item.Service, item.Tags)
		if !ok && item.Service != "" {
			if _, seen := c.unclassified.LoadOrStore(item.Service, struct{}{}); !seen {
				zerolog.Ctx(ctx).Warn().
					Str("service", item.Service).
					Msg("service is not classified, excluding it from attributable cost")
			}
		}
		records = append(records, domain.BillingRecord{
			Date:      item.Date,
			Service:   item.Service,
			Component: component,
			Hub:       item.Tags[c.settings.HubTag],
			Amount:    item.Amount,
		})
	}
	return records
}

func (c *Cache) lookup(key string) (*CacheEntry, bool) {
	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	entry := v.(*CacheEntry)
	if c.now().Sub(entry.FetchedAt) >= c.settings.TTL {
		return nil, false
	}
	return entry, true
}

// Invalidate drops the entry for q. A fetch already in flight still stores
// its result.
func (c *Cache) Invalidate(q domain.BillingQuery) {
	c.entries.Delete(q.Key())
}

func (c *Cache) Flush() {
	c.entries.Flush()
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Coalesced:     c.coalesced.Load(),
		UpstreamCalls: c.upstreamCalls.Load(),
		Entries:       c.entries.ItemCount(),
	}
}
