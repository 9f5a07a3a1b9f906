package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestDoRetriesTransactionFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), logger.Nop(), "enroll", func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("serialization: %w", domain.ErrTransactionFailed)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), logger.Nop(), "enroll", func(context.Context) error {
		calls++
		return fmt.Errorf("list x: %w", domain.ErrNotFound)
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(2), logger.Nop(), "enroll", func(context.Context) error {
		calls++
		return domain.ErrTransactionFailed
	})
	assert.True(t, errors.Is(err, domain.ErrTransactionFailed))
	assert.Equal(t, 2, calls)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastPolicy(10), logger.Nop(), "enroll", func(context.Context) error {
		calls++
		return domain.ErrTransactionFailed
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunMapsDeadlineToTransactionFailure(t *testing.T) {
	err := Run(context.Background(), 5*time.Millisecond, fastPolicy(1), logger.Nop(), "enroll", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, domain.ErrTransactionFailed)
}

func TestRunPassesThroughOtherErrors(t *testing.T) {
	err := Run(context.Background(), time.Second, fastPolicy(3), logger.Nop(), "enroll", func(context.Context) error {
		return domain.ErrUnauthorized
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.NotErrorIs(t, err, domain.ErrTransactionFailed)
}
