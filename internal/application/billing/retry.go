package billing

import (
	"context"
	"errors"
	"time"

	"github.com/saaskit/backend/internal/domain/shared"
	"go.uber.org/zap"
)

const (
	// lock contention retry budget
	maxRetries       = 3
	baseRetryBackoff = 50 * time.Millisecond
)

// withRetry runs fn up to maxRetries+1 times, backing off between attempts.
// Only transient errors (LOCK_TIMEOUT, GATEWAY_FAILURE) are retried; domain
// errors propagate immediately.
func withRetry(ctx context.Context, logger *zap.Logger, operation string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var domainErr *shared.DomainError
		if !errors.As(err, &domainErr) || !domainErr.IsRetryable() || attempt >= maxRetries {
			return err
		}

		backoff := baseRetryBackoff << attempt
		logger.Warn("retrying billing operation",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}
