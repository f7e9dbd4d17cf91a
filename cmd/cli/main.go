package main

import (
	"context"
	"fmt"
	"os"

	"github.com/de-tools/hubcost/pkg/runtime/app"
	"github.com/de-tools/hubcost/pkg/runtime/terminal"
	"github.com/de-tools/hubcost/pkg/runtime/terminal/commands"
	"github.com/de-tools/hubcost/pkg/services/config"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cli := terminal.NewCLI(terminal.Options{
		Sessions: newSession,
		Registry: config.NewRegistry,
		Output:   os.Stdout,
	})

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newSession(ctx context.Context, cfgPath string) (*commands.Session, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	logger := app.NewLogger(cfg.Log, os.Stderr)
	ctx = logger.WithContext(ctx)

	engine, err := app.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize report engine: %w", err)
	}

	return &commands.Session{
		Engine:       engine.Calculator,
		MaxRangeDays: cfg.Attribution.MaxRangeDays,
		Close:        engine.Close,
	}, nil
}
