package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	retryInitialInterval = 20 * time.Millisecond
	retryMaxInterval     = 500 * time.Millisecond
	retryMaxElapsed      = 10 * time.Second
	retryMaxRetries      = 8
)

// WithRetry 执行 op，遇到 IsRetryableError 的错误时按指数退避整体重试。
// 其他错误立即返回，且保持原始错误可以被 errors.Is 识别。
func WithRetry(ctx context.Context, op func() error) error {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(retryInitialInterval),
		backoff.WithMaxInterval(retryMaxInterval),
		backoff.WithMaxElapsedTime(retryMaxElapsed),
	), retryMaxRetries)

	var lastErr error
	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) {
			return backoff.Permanent(err)
		}
		lastErr = err
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil && lastErr != nil && err == lastErr {
		return fmt.Errorf("重试后仍然失败: %w", err)
	}
	return err
}
