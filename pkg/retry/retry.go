// Package retry runs upstream calls with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

type Settings struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls op until it succeeds, returns a permanent error, the retry budget
// is spent or ctx is done. The returned error is the last one op produced.
func Do(ctx context.Context, settings Settings, name string, op func(ctx context.Context) error) error {
	logger := zerolog.Ctx(ctx)

	b := backoff.NewExponentialBackOff()
	if settings.InitialInterval > 0 {
		b.InitialInterval = settings.InitialInterval
	}
	if settings.MaxInterval > 0 {
		b.MaxInterval = settings.MaxInterval
	}
	b.MaxElapsedTime = 0

	retries := settings.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		logger.Warn().
			Err(err).
			Str("call", name).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("upstream call failed, retrying")
	})

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
