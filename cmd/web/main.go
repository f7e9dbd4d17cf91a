package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/de-tools/hubcost/pkg/runtime/app"
	"github.com/de-tools/hubcost/pkg/server"
	"github.com/de-tools/hubcost/pkg/services/config"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	var rootCmd = &cobra.Command{
		Use:   "web",
		Short: "Start the web server for the hub cost reports",
		RunE:  runServer,
	}

	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "",
		"Path to the hubcost config file (HUBCOST_* environment variables override it)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Error loading .env file: %v\n", err)
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	logger := app.NewLogger(cfg.Log, os.Stdout)
	ctx := logger.WithContext(cmd.Context())

	logProfiles(ctx, cfg)

	engine, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize report engine: %w", err)
	}
	defer engine.Close()

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	api := server.NewWebAPI(logger, server.Config{
		Addr:            addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Dependencies: server.Dependencies{
			Calculator:   engine.Calculator,
			MaxRangeDays: cfg.Attribution.MaxRangeDays,
		},
	})

	err = api.Start()

	stats := engine.Billing.Stats()
	logger.Info().
		Int64("hits", stats.Hits).
		Int64("misses", stats.Misses).
		Int64("coalesced", stats.Coalesced).
		Int64("upstream_calls", stats.UpstreamCalls).
		Msg("billing cache stats")

	return err
}

func logProfiles(ctx context.Context, cfg *config.Config) {
	logger := zerolog.Ctx(ctx)
	path := config.DefaultAWSConfigPath()

	registry, err := config.NewRegistry(path)
	if err != nil {
		logger.Warn().Err(err).Msg("no shared AWS config found, using the default credential chain")
		return
	}

	profiles, _ := registry.GetProfiles(ctx)
	logger.Info().Msgf("Configuration found at `%s` successfully loaded.", path)
	logger.Info().Msgf("Found the following profiles:")
	for _, profile := range profiles {
		logger.Info().Msgf("Name: `%s`, Region: `%s`", profile.Name, profile.Region)
	}
	if cfg.AWS.Profile != "" {
		if _, err := registry.GetProfile(ctx, cfg.AWS.Profile); err != nil {
			logger.Warn().Err(err).Str("profile", cfg.AWS.Profile).Msg("configured profile is missing")
		}
	}
}
