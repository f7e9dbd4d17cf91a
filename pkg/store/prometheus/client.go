// Package prometheus runs range queries against the Prometheus HTTP API.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/de-tools/hubcost/pkg/models/domain"
	"github.com/de-tools/hubcost/pkg/models/store"
	"github.com/de-tools/hubcost/pkg/retry"
	promapi "github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"
)

const (
	DefaultStep    = 5 * time.Minute
	DefaultTimeout = 30 * time.Second

	// maxPointsPerSeries is the server side limit of a range query.
	maxPointsPerSeries = 11000
)

type Settings struct {
	URL     string
	Timeout time.Duration
	Step    time.Duration
	Retry   retry.Settings
}

type Client struct {
	api      v1.API
	settings Settings
}

func New(settings Settings) (*Client, error) {
	client, err := promapi.NewClient(promapi.Config{Address: settings.URL})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}
	return NewWithAPI(v1.NewAPI(client), settings), nil
}

func NewWithAPI(api v1.API, settings Settings) *Client {
	if settings.Step <= 0 {
		settings.Step = DefaultStep
	}
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}
	return &Client{api: api, settings: settings}
}

// QueryRange evaluates query over [start, end]. Failures that persist after
// retries are reported as domain.ErrUpstreamUnavailable; a rejected query is
// returned as is.
func (c *Client) QueryRange(ctx context.Context, query string, start, end time.Time) ([]store.Series, error) {
	logger := zerolog.Ctx(ctx)
	r := v1.Range{Start: start, End: end, Step: c.step(start, end)}

	var matrix model.Matrix
	err := retry.Do(ctx, c.settings.Retry, "prometheus", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.settings.Timeout)
		defer cancel()

		value, warnings, err := c.api.QueryRange(callCtx, query, r)
		if err != nil {
			var apiErr *v1.Error
			if errors.As(err, &apiErr) && apiErr.Type == v1.ErrBadData {
				return retry.Permanent(err)
			}
			return err
		}
		for _, w := range warnings {
			logger.Warn().Str("warning", w).Msg("prometheus query returned a warning")
		}

		m, ok := value.(model.Matrix)
		if !ok {
			return retry.Permanent(fmt.Errorf("unexpected result type %s", value.Type()))
		}
		matrix = m
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		var apiErr *v1.Error
		if errors.As(err, &apiErr) && apiErr.Type == v1.ErrBadData {
			return nil, fmt.Errorf("prometheus rejected query: %w", err)
		}
		return nil, fmt.Errorf("%w: prometheus: %w", domain.ErrUpstreamUnavailable, err)
	}

	return toSeries(matrix), nil
}

// step widens the configured resolution when the window would exceed the
// number of points a single series may return.
func (c *Client) step(start, end time.Time) time.Duration {
	step := c.settings.Step
	if minimum := end.Sub(start) / maxPointsPerSeries; minimum > step {
		step = minimum.Truncate(time.Second) + time.Second
	}
	return step
}

func toSeries(matrix model.Matrix) []store.Series {
	series := make([]store.Series, 0, len(matrix))
	for _, stream := range matrix {
		labels := make(map[string]string, len(stream.Metric))
		for k, v := range stream.Metric {
			labels[string(k)] = string(v)
		}
		samples := make([]store.Sample, 0, len(stream.Values))
		for _, pair := range stream.Values {
			samples = append(samples, store.Sample{
				Time:  pair.Timestamp.Time().UTC(),
				Value: float64(pair.Value),
			})
		}
		series = append(series, store.Series{Labels: labels, Samples: samples})
	}
	return series
}
