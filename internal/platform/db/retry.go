package db

import (
	"context"
	"errors"
	"time"
)

// DefaultMaxAttempts は初回を含む試行回数
const DefaultMaxAttempts = 5

var (
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")
	ErrNegativeBaseDelay  = errors.New("base delay must not be negative")
)

// RetryableFunc は1回分のトランザクション処理
type RetryableFunc func(ctx context.Context) error

type retryConfig struct {
	maxAttempts int
	baseDelay   time.Duration
	onRetry     func(attempt int, err error)
}

type RetryOption func(*retryConfig) error

func WithMaxAttempts(attempts int) RetryOption {
	return func(c *retryConfig) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		c.maxAttempts = attempts
		return nil
	}
}

// WithBaseDelay: 2回目以降 baseDelay, baseDelay*2, ... 待つ。既定は待ち無し
func WithBaseDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) error {
		if d < 0 {
			return ErrNegativeBaseDelay
		}
		c.baseDelay = d
		return nil
	}
}

// WithOnRetry は競合でやり直す直前に呼ばれる（attempt は 1 始まり）
func WithOnRetry(fn func(attempt int, err error)) RetryOption {
	return func(c *retryConfig) error {
		c.onRetry = fn
		return nil
	}
}

// RetryOnConflict は fn を ErrWriteConflict の間だけ最大 maxAttempts 回まで実行する。
// それ以外のエラーは即座に返す。上限に達したら最後のエラーを返す。
func RetryOnConflict(ctx context.Context, fn RetryableFunc, opts ...RetryOption) error {
	cfg := &retryConfig{maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 0; attempt < cfg.maxAttempts; attempt++ {
		if attempt > 0 && cfg.baseDelay > 0 {
			delay := cfg.baseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsWriteConflict(lastErr) {
			return lastErr
		}
		if cfg.onRetry != nil && attempt < cfg.maxAttempts-1 {
			cfg.onRetry(attempt+1, lastErr)
		}
	}
	return lastErr
}
