package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

type Settings struct {
	DSN          string
	MaxOpenConns int
	PingTimeout  time.Duration
}

// NewDB opens the PostgreSQL database holding the membership feed.
func NewDB(ctx context.Context, settings Settings) (*sql.DB, error) {
	db, err := sql.Open("postgres", settings.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open membership database: %w", err)
	}
	if settings.MaxOpenConns > 0 {
		db.SetMaxOpenConns(settings.MaxOpenConns)
	}

	timeout := settings.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach membership database: %w", err)
	}
	return db, nil
}
