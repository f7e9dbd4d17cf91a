package usage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/de-tools/hubcost/pkg/models/domain"
	"github.com/de-tools/hubcost/pkg/models/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMetricsStore struct {
	mock.Mock
}

func (m *mockMetricsStore) QueryRange(ctx context.Context, query string, start, end time.Time) ([]store.Series, error) {
	args := m.Called(ctx, query, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.Series), args.Error(1)
}

func at(d, h int) time.Time {
	return time.Date(2025, 1, d, h, 0, 0, 0, time.UTC)
}

func computeSeries(hub, user string, samples ...store.Sample) store.Series {
	return store.Series{
		Labels:  map[string]string{LabelNamespace: hub, LabelUsername: user},
		Samples: samples,
	}
}

func testRange() domain.DateRange {
	return domain.NewDateRange(at(1, 0), at(2, 0))
}

func TestTemplateRender(t *testing.T) {
	tmpl := DefaultTemplates()[0]

	plain := tmpl.Render("", "")
	assert.NotContains(t, plain, "$")
	assert.NotContains(t, plain, "namespace=\"")

	filtered := tmpl.Render("prod", "alice")
	assert.Contains(t, filtered, `, namespace="prod"`)
	assert.Contains(t, filtered, `, annotation_hub_jupyter_org_username="alice"`)

	escaped := tmpl.Render(`we"ird`, "")
	assert.Contains(t, escaped, `namespace="we\"ird"`)

	assert.Contains(t, tmpl.Render("", "a.b"), `annotation_hub_jupyter_org_username="a.b"`)
	assert.Contains(t, DefaultTemplates()[1].Render("", "a.b"), `directory="a-2eb"`)
}

func TestAggregate_LatestSamplePerDay(t *testing.T) {
	metrics := new(mockMetricsStore)
	start, end := testRange().MetricsWindow()
	metrics.On("QueryRange", mock.Anything, mock.Anything, start, end).Return([]store.Series{
		computeSeries("prod", "alice",
			store.Sample{Time: at(1, 1), Value: 100},
			store.Sample{Time: at(1, 23), Value: 300},
			store.Sample{Time: at(1, 12), Value: 900},
			store.Sample{Time: at(2, 6), Value: 50},
		),
	}, nil)

	agg := NewAggregator(metrics, DefaultTemplates())
	records, err := agg.Aggregate(context.Background(), testRange(), domain.ComponentCompute, "", "")
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, domain.UsageRecord{Date: at(1, 0), Hub: "prod", User: "alice", Component: domain.ComponentCompute, Value: 300}, records[0])
	assert.Equal(t, 50.0, records[1].Value)
}

func TestAggregate_SumsSeriesAndDropsOutOfRange(t *testing.T) {
	metrics := new(mockMetricsStore)
	metrics.On("QueryRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]store.Series{
		computeSeries("prod", "alice", store.Sample{Time: at(1, 5), Value: 10}),
		computeSeries("prod", "alice", store.Sample{Time: at(1, 6), Value: 5}),
		computeSeries("prod", "bob", store.Sample{Time: at(3, 0), Value: 99}),
		{Labels: map[string]string{LabelNamespace: "prod"}, Samples: []store.Sample{{Time: at(1, 1), Value: 1}}},
	}, nil)

	agg := NewAggregator(metrics, DefaultTemplates())
	records, err := agg.Aggregate(context.Background(), testRange(), domain.ComponentCompute, "", "")
	require.NoError(t, err)

	require.Len(t, records, 1, "bob has no sample inside the range and the unlabelled series is skipped")
	assert.Equal(t, "alice", records[0].User)
	assert.Equal(t, 15.0, records[0].Value)
}

func TestAggregate_ExplicitZeroIsKept(t *testing.T) {
	metrics := new(mockMetricsStore)
	metrics.On("QueryRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]store.Series{
		computeSeries("prod", "idle", store.Sample{Time: at(1, 5), Value: 0}),
	}, nil)

	agg := NewAggregator(metrics, DefaultTemplates())
	records, err := agg.Aggregate(context.Background(), testRange(), domain.ComponentCompute, "", "")
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Zero(t, records[0].Value)
}

func TestAggregate_FiltersArePushedDown(t *testing.T) {
	metrics := new(mockMetricsStore)
	metrics.On("QueryRange", mock.Anything, mock.MatchedBy(func(q string) bool {
		return strings.Contains(q, `namespace="prod"`) && strings.Contains(q, `directory="alice"`)
	}), mock.Anything, mock.Anything).Return([]store.Series{
		{Labels: map[string]string{LabelNamespace: "prod", LabelDirectory: "alice"}, Samples: []store.Sample{{Time: at(1, 5), Value: 7}}},
		// a store that ignored the matcher
		{Labels: map[string]string{LabelNamespace: "staging", LabelDirectory: "alice"}, Samples: []store.Sample{{Time: at(1, 5), Value: 3}}},
	}, nil)

	agg := NewAggregator(metrics, DefaultTemplates())
	records, err := agg.Aggregate(context.Background(), testRange(), domain.ComponentHomeStorage, "prod", "alice")
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, domain.ComponentHomeStorage, records[0].Component)
	assert.Equal(t, 7.0, records[0].Value)
}

func TestAggregate_HomeDirectoryUsesEscapedUsername(t *testing.T) {
	metrics := new(mockMetricsStore)
	metrics.On("QueryRange", mock.Anything, mock.MatchedBy(func(q string) bool {
		return strings.Contains(q, `directory="a-2eb"`)
	}), mock.Anything, mock.Anything).Return([]store.Series{
		{Labels: map[string]string{LabelNamespace: "prod", LabelDirectory: "a-2eb"}, Samples: []store.Sample{{Time: at(1, 5), Value: 4}}},
	}, nil)

	agg := NewAggregator(metrics, DefaultTemplates())
	records, err := agg.Aggregate(context.Background(), testRange(), domain.ComponentHomeStorage, "prod", "a.b")
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, "a.b", records[0].User)
	assert.Equal(t, 4.0, records[0].Value)
}

func TestAggregate_HomeDirectoryUnfilteredUnescapes(t *testing.T) {
	metrics := new(mockMetricsStore)
	metrics.On("QueryRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]store.Series{
		{Labels: map[string]string{LabelNamespace: "prod", LabelDirectory: "a-2eb"}, Samples: []store.Sample{{Time: at(1, 5), Value: 4}}},
		{Labels: map[string]string{LabelNamespace: "prod", LabelDirectory: "carol"}, Samples: []store.Sample{{Time: at(1, 5), Value: 1}}},
	}, nil)

	agg := NewAggregator(metrics, DefaultTemplates())
	records, err := agg.Aggregate(context.Background(), testRange(), domain.ComponentHomeStorage, "", "")
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "a.b", records[0].User)
	assert.Equal(t, "carol", records[1].User)
}

func TestAggregate_AllComponents(t *testing.T) {
	metrics := new(mockMetricsStore)
	metrics.On("QueryRange", mock.Anything, mock.MatchedBy(func(q string) bool {
		return strings.Contains(q, "kube_pod_container_resource_requests")
	}), mock.Anything, mock.Anything).Return([]store.Series{
		computeSeries("prod", "alice", store.Sample{Time: at(1, 5), Value: 1}),
	}, nil)
	metrics.On("QueryRange", mock.Anything, mock.MatchedBy(func(q string) bool {
		return strings.Contains(q, "dirsize_total_size_bytes")
	}), mock.Anything, mock.Anything).Return([]store.Series{
		{Labels: map[string]string{LabelNamespace: "prod", LabelDirectory: "alice"}, Samples: []store.Sample{{Time: at(1, 5), Value: 2}}},
	}, nil)

	agg := NewAggregator(metrics, DefaultTemplates())
	records, err := agg.Aggregate(context.Background(), testRange(), "", "", "")
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, domain.ComponentCompute, records[0].Component)
	assert.Equal(t, domain.ComponentHomeStorage, records[1].Component)
	metrics.AssertNumberOfCalls(t, "QueryRange", 2)
}

func TestAggregate_UnmeasuredComponent(t *testing.T) {
	metrics := new(mockMetricsStore)
	agg := NewAggregator(metrics, DefaultTemplates())

	records, err := agg.Aggregate(context.Background(), testRange(), domain.ComponentNetworking, "", "")
	require.NoError(t, err)
	assert.Empty(t, records)
	metrics.AssertNotCalled(t, "QueryRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAggregate_StoreFailure(t *testing.T) {
	metrics := new(mockMetricsStore)
	metrics.On("QueryRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.ErrUpstreamUnavailable)

	agg := NewAggregator(metrics, DefaultTemplates())
	_, err := agg.Aggregate(context.Background(), testRange(), domain.ComponentCompute, "", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
}
