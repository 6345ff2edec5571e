package memory

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/engram/pkg/model"
	"github.com/m-mizutani/engram/pkg/utils/logging"
)

// retry runs fn with the configured per-call timeout, retrying up to
// MaxAttempts with doubling backoff. Validation failures and context
// cancellation stop the loop immediately.
func (s *Store) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	interval := s.cfg.RetryInterval

	var err error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		err = fn(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		if errors.Is(err, model.ErrInvalidInput) || ctx.Err() != nil {
			return err
		}
		if attempt == s.cfg.MaxAttempts {
			break
		}

		logging.From(ctx).Debug("retrying after failure",
			"attempt", attempt, "error", err)

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
		interval *= 2
	}

	return err
}
