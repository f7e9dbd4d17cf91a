// Package app assembles the report engine from a loaded configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/de-tools/hubcost/pkg/retry"
	"github.com/de-tools/hubcost/pkg/services/attribution"
	"github.com/de-tools/hubcost/pkg/services/billing"
	"github.com/de-tools/hubcost/pkg/services/classifier"
	"github.com/de-tools/hubcost/pkg/services/config"
	"github.com/de-tools/hubcost/pkg/services/membership"
	"github.com/de-tools/hubcost/pkg/services/usage"
	"github.com/de-tools/hubcost/pkg/store/costexplorer"
	"github.com/de-tools/hubcost/pkg/store/prometheus"
	sqlstore "github.com/de-tools/hubcost/pkg/store/sql"
	"github.com/rs/zerolog"
)

type App struct {
	Calculator *attribution.Calculator
	Billing    *billing.Cache

	db *sql.DB
}

// NewLogger builds the process logger from the log section of the config.
func NewLogger(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := zerolog.Ctx(ctx)

	awsCfg, err := costexplorer.LoadConfig(ctx, cfg.AWS.Profile, cfg.AWS.Region)
	if err != nil {
		return nil, err
	}
	ce := costexplorer.NewFromConfig(*awsCfg, costexplorer.Settings{
		ClusterName: cfg.Billing.ClusterName,
		HubTag:      cfg.Billing.HubTag,
	})

	cls := classifier.NewDefault()
	cache := billing.NewCache(ce, cls, billing.CacheSettings{
		TTL:     cfg.Billing.CacheTTL,
		Timeout: cfg.Billing.Timeout,
		Retry:   retrySettings(cfg.Billing.MaxRetries),
		HubTag:  ce.HubTag(),
	})
	billingService := billing.NewService(cache, cls, ce.HubTag(), cfg.Billing.HubBreakdown)

	metrics, err := prometheus.New(prometheus.Settings{
		URL:     cfg.Prometheus.URL,
		Timeout: cfg.Prometheus.Timeout,
		Step:    cfg.Prometheus.Step,
		Retry:   retrySettings(cfg.Prometheus.MaxRetries),
	})
	if err != nil {
		return nil, err
	}
	aggregator := usage.NewAggregator(metrics, usage.DefaultTemplates())

	a := &App{Billing: cache}

	var source membership.Source
	switch cfg.Membership.Source {
	case config.MembershipSourcePostgres:
		db, err := sqlstore.NewDB(ctx, sqlstore.Settings{DSN: cfg.Membership.DSN})
		if err != nil {
			return nil, err
		}
		a.db = db
		source = sqlstore.NewMembershipStore(db)
	case config.MembershipSourcePrometheus:
		source = membership.NewPrometheusSource(metrics, cfg.Membership.Lookback)
	default:
		return nil, fmt.Errorf("unknown membership source %q", cfg.Membership.Source)
	}

	a.Calculator = attribution.NewCalculator(
		billingService,
		aggregator,
		membership.NewResolver(source),
		attribution.Settings{ExcludedHubs: cfg.Attribution.ExcludedHubs},
	)

	logger.Info().
		Str("cluster", cfg.Billing.ClusterName).
		Str("prometheus", cfg.Prometheus.URL).
		Str("membership_source", cfg.Membership.Source).
		Bool("hub_breakdown", cfg.Billing.HubBreakdown).
		Msg("report engine ready")

	return a, nil
}

func (a *App) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func retrySettings(maxRetries int) retry.Settings {
	s := retry.DefaultSettings()
	s.MaxRetries = maxRetries
	return s
}
