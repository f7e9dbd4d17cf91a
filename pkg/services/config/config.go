// Package config loads service settings and lists the AWS profiles
// available to the billing client.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix = "HUBCOST"

	MembershipSourcePrometheus = "prometheus"
	MembershipSourcePostgres   = "postgres"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	AWS         AWSConfig         `mapstructure:"aws"`
	Billing     BillingConfig     `mapstructure:"billing"`
	Prometheus  PrometheusConfig  `mapstructure:"prometheus"`
	Membership  MembershipConfig  `mapstructure:"membership"`
	Attribution AttributionConfig `mapstructure:"attribution"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type AWSConfig struct {
	Profile string `mapstructure:"profile"`
	Region  string `mapstructure:"region"`
}

type BillingConfig struct {
	ClusterName  string        `mapstructure:"cluster_name"`
	HubTag       string        `mapstructure:"hub_tag"`
	HubBreakdown bool          `mapstructure:"hub_breakdown"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type PrometheusConfig struct {
	URL        string        `mapstructure:"url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Step       time.Duration `mapstructure:"step"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type MembershipConfig struct {
	Source   string        `mapstructure:"source"`
	DSN      string        `mapstructure:"dsn"`
	Lookback time.Duration `mapstructure:"lookback"`
}

type AttributionConfig struct {
	ExcludedHubs []string `mapstructure:"excluded_hubs"`
	MaxRangeDays int      `mapstructure:"max_range_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("billing.cluster_name", "")
	v.SetDefault("billing.hub_tag", "2i2c:hub-name")
	v.SetDefault("billing.hub_breakdown", false)
	v.SetDefault("billing.cache_ttl", "1h")
	v.SetDefault("billing.timeout", "30s")
	v.SetDefault("billing.max_retries", 3)
	v.SetDefault("prometheus.url", "http://localhost:9090")
	v.SetDefault("prometheus.timeout", "30s")
	v.SetDefault("prometheus.step", "5m")
	v.SetDefault("prometheus.max_retries", 3)
	v.SetDefault("membership.source", MembershipSourcePrometheus)
	v.SetDefault("membership.dsn", "")
	v.SetDefault("membership.lookback", "168h")
	v.SetDefault("attribution.excluded_hubs", []string{"binder"})
	v.SetDefault("attribution.max_range_days", 400)
}

// LoadConfig reads path when it is not empty, then applies HUBCOST_*
// environment variables on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Billing.ClusterName == "" {
		errs = append(errs, errors.New("billing.cluster_name is required"))
	}
	if c.Billing.CacheTTL <= 0 {
		errs = append(errs, errors.New("billing.cache_ttl must be positive"))
	}
	if c.Billing.MaxRetries < 0 || c.Prometheus.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}
	switch c.Membership.Source {
	case MembershipSourcePrometheus:
	case MembershipSourcePostgres:
		if c.Membership.DSN == "" {
			errs = append(errs, errors.New("membership.dsn is required for the postgres source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown membership.source %q", c.Membership.Source))
	}
	if c.Attribution.MaxRangeDays <= 0 {
		errs = append(errs, errors.New("attribution.max_range_days must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
