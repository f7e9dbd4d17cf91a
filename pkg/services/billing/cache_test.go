package billing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/de-tools/hubcost/pkg/models/domain"
	"github.com/de-tools/hubcost/pkg/retry"
	"github.com/de-tools/hubcost/pkg/services/classifier"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testHubTag = "2i2c:hub-name"

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, q domain.BillingQuery) ([]domain.LineItem, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.LineItem), args.Error(1)
}

// blockingFetcher holds every call until release is closed or the call's
// context ends.
type blockingFetcher struct {
	calls     atomic.Int32
	cancelled atomic.Int32
	release   chan struct{}
	items     []domain.LineItem
}

func newBlockingFetcher(items []domain.LineItem) *blockingFetcher {
	return &blockingFetcher{release: make(chan struct{}), items: items}
}

func (f *blockingFetcher) Fetch(ctx context.Context, _ domain.BillingQuery) ([]domain.LineItem, error) {
	f.calls.Add(1)
	select {
	case <-f.release:
		return f.items, nil
	case <-ctx.Done():
		f.cancelled.Add(1)
		return nil, ctx.Err()
	}
}

func day(d int) time.Time {
	return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
}

func testQuery() domain.BillingQuery {
	return domain.BillingQuery{
		Range:   domain.NewDateRange(day(1), day(3)),
		Scope:   domain.ScopeAttributable,
		GroupBy: []domain.GroupDef{{Type: domain.GroupDimension, Key: domain.DimensionService}},
	}
}

func testItems() []domain.LineItem {
	return []domain.LineItem{
		{Date: day(1), Service: classifier.ServiceEC2Other, Tags: map[string]string{}, Amount: decimal.NewFromInt(100)},
		{Date: day(1), Service: classifier.ServiceEKS, Tags: map[string]string{testHubTag: "prod"}, Amount: decimal.NewFromInt(10)},
		{Date: day(1), Service: "Tax", Tags: map[string]string{}, Amount: decimal.NewFromInt(3)},
	}
}

func noRetry() retry.Settings {
	return retry.Settings{MaxRetries: 0, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

func newTestCache(f Fetcher, opts ...Option) *Cache {
	return NewCache(f, classifier.NewDefault(), CacheSettings{
		TTL:    time.Hour,
		Retry:  noRetry(),
		HubTag: testHubTag,
	}, opts...)
}

func TestGetOrFetch_ClassifiesLineItems(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(testItems(), nil)
	cache := newTestCache(fetcher)

	records, err := cache.GetOrFetch(context.Background(), testQuery())
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, domain.ComponentCompute, records[0].Component)
	assert.Equal(t, domain.ComponentCore, records[1].Component)
	assert.Equal(t, "prod", records[1].Hub)
	assert.False(t, records[2].Attributable())
}

func TestGetOrFetch_HitWithinTTL(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(testItems(), nil)
	cache := newTestCache(fetcher)

	first, err := cache.GetOrFetch(context.Background(), testQuery())
	require.NoError(t, err)
	second, err := cache.GetOrFetch(context.Background(), testQuery())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	fetcher.AssertNumberOfCalls(t, "Fetch", 1)

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.UpstreamCalls)
	assert.Equal(t, 1, stats.Entries)
}

func TestGetOrFetch_DistinctKeys(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(testItems(), nil)
	cache := newTestCache(fetcher)

	other := testQuery()
	other.Filters = []domain.Predicate{domain.TagEquals(testHubTag, "prod")}

	_, err := cache.GetOrFetch(context.Background(), testQuery())
	require.NoError(t, err)
	_, err = cache.GetOrFetch(context.Background(), other)
	require.NoError(t, err)

	fetcher.AssertNumberOfCalls(t, "Fetch", 2)
}

func TestGetOrFetch_ExpiresAfterTTL(t *testing.T) {
	now := time.Date(2025, 1, 4, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	fetcher := new(mockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(testItems(), nil)
	cache := newTestCache(fetcher, WithClock(clock))

	_, err := cache.GetOrFetch(context.Background(), testQuery())
	require.NoError(t, err)

	now = now.Add(59 * time.Minute)
	_, err = cache.GetOrFetch(context.Background(), testQuery())
	require.NoError(t, err)
	fetcher.AssertNumberOfCalls(t, "Fetch", 1)

	now = now.Add(time.Minute)
	_, err = cache.GetOrFetch(context.Background(), testQuery())
	require.NoError(t, err)
	fetcher.AssertNumberOfCalls(t, "Fetch", 2)
}

func TestGetOrFetch_ConcurrentCallersShareOneFetch(t *testing.T) {
	const callers = 20

	fetcher := newBlockingFetcher(testItems())
	cache := newTestCache(fetcher)

	results := make([][]domain.BillingRecord, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = cache.GetOrFetch(context.Background(), testQuery())
		}()
	}

	require.Eventually(t, func() bool {
		s := cache.Stats()
		return s.Misses+s.Coalesced == callers
	}, time.Second, time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	assert.Equal(t, int32(1), fetcher.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
}

func TestGetOrFetch_FailureIsNotCached(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(testItems(), nil).Once()
	cache := newTestCache(fetcher)

	_, err := cache.GetOrFetch(context.Background(), testQuery())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, 0, cache.Stats().Entries)

	records, err := cache.GetOrFetch(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Len(t, records, 3)
	fetcher.AssertNumberOfCalls(t, "Fetch", 2)
}

func TestGetOrFetch_RetriesTransientFailures(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset")).Twice()
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(testItems(), nil).Once()

	cache := NewCache(fetcher, classifier.NewDefault(), CacheSettings{
		TTL:    time.Hour,
		Retry:  retry.Settings{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		HubTag: testHubTag,
	})

	records, err := cache.GetOrFetch(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, int64(3), cache.Stats().UpstreamCalls)
	assert.Equal(t, int64(1), cache.Stats().Misses)
}

func TestGetOrFetch_PaginatedResponseIsNotUpstreamFailure(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(nil, retry.Permanent(domain.ErrPaginatedResponse))
	cache := newTestCache(fetcher)

	_, err := cache.GetOrFetch(context.Background(), testQuery())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPaginatedResponse)
	assert.NotErrorIs(t, err, domain.ErrUpstreamUnavailable)
	fetcher.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestGetOrFetch_CancelledCallerDoesNotAbortOthers(t *testing.T) {
	fetcher := newBlockingFetcher(testItems())
	cache := newTestCache(fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancelledErr := make(chan error, 1)
	go func() {
		_, err := cache.GetOrFetch(ctx, testQuery())
		cancelledErr <- err
	}()
	require.Eventually(t, func() bool { return cache.Stats().Misses == 1 }, time.Second, time.Millisecond)

	type result struct {
		records []domain.BillingRecord
		err     error
	}
	waiting := make(chan result, 1)
	go func() {
		records, err := cache.GetOrFetch(context.Background(), testQuery())
		waiting <- result{records, err}
	}()
	require.Eventually(t, func() bool { return cache.Stats().Coalesced == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-cancelledErr, context.Canceled)

	close(fetcher.release)
	got := <-waiting
	require.NoError(t, got.err)
	assert.Len(t, got.records, 3)
	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.Equal(t, int32(0), fetcher.cancelled.Load())
}

func TestGetOrFetch_LastWaiterLeavingCancelsFetch(t *testing.T) {
	fetcher := newBlockingFetcher(testItems())
	cache := newTestCache(fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cache.GetOrFetch(ctx, testQuery())
		done <- err
	}()
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	require.Eventually(t, func() bool { return fetcher.cancelled.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, cache.Stats().Entries)
}

func TestInvalidateAndFlush(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(testItems(), nil)
	cache := newTestCache(fetcher)
	ctx := context.Background()

	_, err := cache.GetOrFetch(ctx, testQuery())
	require.NoError(t, err)

	cache.Invalidate(testQuery())
	_, err = cache.GetOrFetch(ctx, testQuery())
	require.NoError(t, err)
	fetcher.AssertNumberOfCalls(t, "Fetch", 2)

	cache.Flush()
	assert.Equal(t, 0, cache.Stats().Entries)
	_, err = cache.GetOrFetch(ctx, testQuery())
	require.NoError(t, err)
	fetcher.AssertNumberOfCalls(t, "Fetch", 3)
}

func TestGetOrFetch_ReturnedRecordsAreCopies(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(testItems(), nil)
	cache := newTestCache(fetcher)

	first, err := cache.GetOrFetch(context.Background(), testQuery())
	require.NoError(t, err)
	first[0].Amount = decimal.Zero

	second, err := cache.GetOrFetch(context.Background(), testQuery())
	require.NoError(t, err)
	assert.True(t, second[0].Amount.Equal(decimal.NewFromInt(100)))
}
