package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/de-tools/hubcost/pkg/models/domain"
	"github.com/de-tools/hubcost/pkg/models/store"
)

const (
	DefaultLookback = 7 * 24 * time.Hour

	groupInfoQuery = `max(jupyterhub_user_group_info) by (namespace, username, usergroup)`
)

type MetricsStore interface {
	QueryRange(ctx context.Context, query string, start, end time.Time) ([]store.Series, error)
}

// PrometheusSource reads memberships exported by the hubs as the
// jupyterhub_user_group_info metric. A series is observed on the day of its
// last sample.
type PrometheusSource struct {
	store    MetricsStore
	lookback time.Duration
}

func NewPrometheusSource(metrics MetricsStore, lookback time.Duration) *PrometheusSource {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &PrometheusSource{store: metrics, lookback: lookback}
}

func (s *PrometheusSource) Observations(ctx context.Context, asOf time.Time) ([]domain.GroupMembership, error) {
	end := domain.Day(asOf).AddDate(0, 0, 1).Add(-time.Second)
	start := domain.Day(asOf).Add(-s.lookback)

	series, err := s.store.QueryRange(ctx, groupInfoQuery, start, end)
	if err != nil {
		return nil, fmt.Errorf("membership feed: %w", err)
	}

	memberships := make([]domain.GroupMembership, 0, len(series))
	for _, ser := range series {
		if len(ser.Samples) == 0 {
			continue
		}
		last := ser.Samples[0].Time
		for _, sample := range ser.Samples[1:] {
			if sample.Time.After(last) {
				last = sample.Time
			}
		}
		user, hub := ser.Labels["username"], ser.Labels["namespace"]
		if user == "" || hub == "" {
			continue
		}
		memberships = append(memberships, domain.GroupMembership{
			User:       user,
			Hub:        hub,
			Usergroup:  ser.Labels["usergroup"],
			ObservedAt: domain.Day(last),
		})
	}
	return memberships, nil
}
