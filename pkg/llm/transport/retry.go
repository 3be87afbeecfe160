// Retry политика транспорта: exponential backoff с учётом Retry-After.
package transport

import (
	"context"
	"time"

	"github.com/ilkoid/deskpilot/pkg/llm"
	"github.com/ilkoid/deskpilot/pkg/utils"
)

// RetryConfig настраивает повторы запросов.
type RetryConfig struct {
	// MaxAttempts включает первую попытку. Если <= 1, повторы выключены.
	MaxAttempts int

	// BaseDelay — задержка перед первым повтором.
	BaseDelay time.Duration

	// MaxDelay — потолок задержки после удвоений.
	MaxDelay time.Duration
}

// DefaultRetryConfig возвращает консервативную базовую политику.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// backoff вычисляет задержку перед повтором attempt (attempt начинается с 1).
//
// base * 2^(attempt-1), с потолком MaxDelay.
func (c RetryConfig) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := c.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	max := c.MaxDelay
	if max <= 0 {
		max = 10 * time.Second
	}

	d := base
	for i := 1; i < attempt; i++ {
		if d >= max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

// Do выполняет fn с повторами по политике cfg.
//
// Повторяются только ошибки, которые llm.IsRetryable считает retryable
// (сетевые сбои, 5xx, rate limit). Явный Retry-After из ошибки
// переопределяет вычисленный backoff. Фатальные классы (auth, bad request,
// malformed) возвращаются сразу.
func Do(ctx context.Context, cfg RetryConfig, fn func() error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !llm.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		delay := cfg.backoff(attempt)
		if ae, ok := llm.AsAPIError(lastErr); ok && ae.RetryAfter > 0 {
			delay = ae.RetryAfter
		}

		utils.Warn("Request failed, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay,
			"error", lastErr,
		)

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// sleep ждёт d с уважением к отмене контекста.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
