// Package retry re-runs atomic storage operations that failed with a
// retryable error, using bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is three attempts starting at 100ms.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialInterval: 100 * time.Millisecond, MaxInterval: 2 * time.Second}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, returns a non-retryable error, the policy's
// attempts are used up, or ctx is done. Only errors matching
// domain.ErrTransactionFailed are retried; everything else is returned on
// the first occurrence.
func Do(ctx context.Context, p Policy, log *logger.Logger, name string, op func(context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("retrying after transaction failure",
			"op", name, "attempt", attempt, "wait", wait.String(), "error", err.Error())
	}
	return backoff.RetryNotify(operation, p.backOff(ctx), notify)
}

// Run is Do under a deadline covering every attempt. A blown deadline is
// reported as domain.ErrTransactionFailed so callers can retry the whole
// request later.
func Run(ctx context.Context, timeout time.Duration, p Policy, log *logger.Logger, name string, op func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := Do(ctx, p, log, name, op)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrTransactionFailed) {
		return fmt.Errorf("%s: %w: %v", name, domain.ErrTransactionFailed, err)
	}
	return err
}
