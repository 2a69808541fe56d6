package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTooManyAttempts signals that an identifier exceeded its attempt budget.
var ErrTooManyAttempts = errors.New("too many attempts")

// ErrLimiterUnavailable wraps redis failures so callers can fail open.
var ErrLimiterUnavailable = errors.New("attempt limiter unavailable")

// AttemptLimiter throttles repeated login and registration attempts per
// identifier using redis counters. A nil client disables it.
type AttemptLimiter struct {
	client      *redis.Client
	maxAttempts int
	window      time.Duration
}

// NewAttemptLimiter builds a limiter. maxAttempts <= 0 disables it.
func NewAttemptLimiter(client *redis.Client, maxAttempts int, window time.Duration) *AttemptLimiter {
	return &AttemptLimiter{client: client, maxAttempts: maxAttempts, window: window}
}

// Enforce counts an attempt and rejects once the budget for the current
// window is exhausted.
func (l *AttemptLimiter) Enforce(ctx context.Context, kind, identifier string) error {
	if l == nil || l.client == nil || l.maxAttempts <= 0 {
		return nil
	}

	key := attemptKey(kind, identifier)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
		}
	}
	if count > int64(l.maxAttempts) {
		return ErrTooManyAttempts
	}
	return nil
}

// Reset clears the counter, typically after a successful login.
func (l *AttemptLimiter) Reset(ctx context.Context, kind, identifier string) error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Del(ctx, attemptKey(kind, identifier)).Err()
}

func attemptKey(kind, identifier string) string {
	return "attempts:" + kind + ":" + identifier
}
