// Package usage turns metrics store series into daily per-user usage and
// usage fractions.
package usage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/de-tools/hubcost/pkg/models/domain"
	"github.com/de-tools/hubcost/pkg/models/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type MetricsStore interface {
	QueryRange(ctx context.Context, query string, start, end time.Time) ([]store.Series, error)
}

type Aggregator struct {
	store     MetricsStore
	templates map[domain.Component]Template
	order     []domain.Component
}

func NewAggregator(metrics MetricsStore, templates []Template) *Aggregator {
	a := &Aggregator{
		store:     metrics,
		templates: make(map[domain.Component]Template, len(templates)),
	}
	for _, t := range templates {
		if _, ok := a.templates[t.Component]; !ok {
			a.order = append(a.order, t.Component)
		}
		a.templates[t.Component] = t
	}
	return a
}

// Components lists the components usage can be measured for.
func (a *Aggregator) Components() []domain.Component {
	return append([]domain.Component(nil), a.order...)
}

func (a *Aggregator) Measures(component domain.Component) bool {
	_, ok := a.templates[component]
	return ok
}

// Aggregate returns one record per day, hub and user holding the latest
// sample of each day. An empty component aggregates every measured
// component. Days without samples produce no record.
func (a *Aggregator) Aggregate(
	ctx context.Context,
	r domain.DateRange,
	component domain.Component,
	hub, user string,
) ([]domain.UsageRecord, error) {
	components := a.order
	if component != "" {
		if !a.Measures(component) {
			return nil, nil
		}
		components = []domain.Component{component}
	}

	results := make([][]domain.UsageRecord, len(components))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range components {
		i, c := i, c
		g.Go(func() error {
			records, err := a.aggregate(gctx, r, a.templates[c], hub, user)
			if err != nil {
				return fmt.Errorf("%s usage: %w", c, err)
			}
			results[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var records []domain.UsageRecord
	for _, rs := range results {
		records = append(records, rs...)
	}
	sortRecords(records)
	return records, nil
}

func (a *Aggregator) aggregate(
	ctx context.Context,
	r domain.DateRange,
	t Template,
	hub, user string,
) ([]domain.UsageRecord, error) {
	logger := zerolog.Ctx(ctx)
	start, end := r.MetricsWindow()

	series, err := a.store.QueryRange(ctx, t.Render(hub, user), start, end)
	if err != nil {
		return nil, err
	}

	type key struct {
		date time.Time
		hub  string
		user string
	}
	daily := map[key]float64{}
	skipped := 0

	for _, s := range series {
		seriesHub, seriesUser := s.Labels[t.HubLabel], t.User(s.Labels)
		if seriesHub == "" || seriesUser == "" {
			skipped++
			continue
		}
		if (hub != "" && seriesHub != hub) || (user != "" && seriesUser != user) {
			continue
		}
		for date, value := range latestPerDay(s.Samples, r) {
			k := key{date: date, hub: seriesHub, user: seriesUser}
			daily[k] += value
		}
	}
	if skipped > 0 {
		logger.Debug().
			Str("component", t.Component.String()).
			Int("series", skipped).
			Msg("ignoring series without hub or user label")
	}

	records := make([]domain.UsageRecord, 0, len(daily))
	for k, v := range daily {
		records = append(records, domain.UsageRecord{
			Date:      k.date,
			Hub:       k.hub,
			User:      k.user,
			Component: t.Component,
			Value:     v,
		})
	}
	return records, nil
}

// latestPerDay keeps the value of the last sample of every UTC day inside r.
func latestPerDay(samples []store.Sample, r domain.DateRange) map[time.Time]float64 {
	latest := map[time.Time]store.Sample{}
	for _, s := range samples {
		if !r.Contains(s.Time) {
			continue
		}
		date := domain.Day(s.Time)
		if prev, ok := latest[date]; !ok || !s.Time.Before(prev.Time) {
			latest[date] = s
		}
	}

	values := make(map[time.Time]float64, len(latest))
	for date, s := range latest {
		values[date] = s.Value
	}
	return values
}

func sortRecords(records []domain.UsageRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Component != b.Component {
			return a.Component < b.Component
		}
		if a.Hub != b.Hub {
			return a.Hub < b.Hub
		}
		return a.User < b.User
	})
}
