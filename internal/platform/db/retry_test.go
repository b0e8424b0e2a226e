package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestRetryOnConflict_SuccessWithoutRetry(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryOnConflict_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	var retried []int
	err := RetryOnConflict(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return ErrWriteConflict
		}
		return nil
	}, WithOnRetry(func(attempt int, _ error) { retried = append(retried, attempt) }))

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetryOnConflict_StopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("insert loan: %w", ErrWriteConflict)
	})

	assert.ErrorIs(t, err, ErrWriteConflict)
	assert.Equal(t, DefaultMaxAttempts, calls)
}

func TestRetryOnConflict_CustomMaxAttempts(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), func(context.Context) error {
		calls++
		return ErrWriteConflict
	}, WithMaxAttempts(2))

	assert.ErrorIs(t, err, ErrWriteConflict)
	assert.Equal(t, 2, calls)
}

func TestRetryOnConflict_FailsFastOnOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := RetryOnConflict(context.Background(), func(context.Context) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryOnConflict_RecognisesMySQLDeadlock(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &mysql.MySQLError{Number: ErrNumDeadlock, Message: "Deadlock found"}
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryOnConflict_HonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryOnConflict(ctx, func(context.Context) error {
		calls++
		cancel()
		return ErrWriteConflict
	}, WithBaseDelay(time.Millisecond))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryOnConflict_InvalidOptions(t *testing.T) {
	fn := func(context.Context) error { return nil }

	assert.ErrorIs(t, RetryOnConflict(context.Background(), fn, WithMaxAttempts(0)), ErrInvalidMaxAttempts)
	assert.ErrorIs(t, RetryOnConflict(context.Background(), fn, WithBaseDelay(-time.Second)), ErrNegativeBaseDelay)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.ErrorIs(t, classify(&mysql.MySQLError{Number: ErrNumLockWaitTimeout}), ErrWriteConflict)

	dup := &mysql.MySQLError{Number: ErrNumDuplicateKey}
	assert.Same(t, error(dup), classify(dup))
	assert.True(t, IsDuplicateKey(dup))
	assert.False(t, IsForeignKey(dup))
}
