package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"live-quiz-service/internal/domain"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often transient store failures are retried.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries three times, starting at 20ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     250 * time.Millisecond,
	}
}

// Do runs fn until it succeeds, fails with a domain error, or the budget runs out.
// Exhaustion is reported as domain.ErrStoreUnavailable so callers can retry the whole operation.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if domain.IsDomainError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		log.Printf("store %s failed (attempt %d): %v", op, attempt, err)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx))
	if err == nil || domain.IsDomainError(err) || ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrResultsNotFound) ||
		errors.Is(err, domain.ErrSessionNotFound) ||
		errors.Is(err, domain.ErrQuestionSetNotFound)
}
