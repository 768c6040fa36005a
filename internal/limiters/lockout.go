package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/rentauth/internal/rate"
	"github.com/redis/go-redis/v9"
)

// LockoutConfig controls automatic deactivation after repeated password
// failures against one account.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	// Window is the rolling period failures are counted over.
	Window time.Duration
}

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// LockoutLimiter counts failed logins per user ID. Unlike the login throttle
// it survives identifier changes and reports when the account should be
// deactivated.
type LockoutLimiter struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

func NewLockoutLimiter(redisClient redis.UniversalClient, cfg LockoutConfig) *LockoutLimiter {
	return &LockoutLimiter{redis: redisClient, config: cfg}
}

func lockoutKey(userID string) string {
	return "ra:lock:" + userID
}

// RecordFailure returns true when the threshold is reached.
func (l *LockoutLimiter) RecordFailure(ctx context.Context, userID string) (bool, error) {
	if l == nil || !l.config.Enabled || userID == "" {
		return false, nil
	}
	count, err := rate.Incr(ctx, l.redis, lockoutKey(userID), l.config.Window)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return count >= int64(l.config.Threshold), nil
}

// Reset clears the failure counter (successful login or manual reactivation).
func (l *LockoutLimiter) Reset(ctx context.Context, userID string) error {
	if l == nil || !l.config.Enabled || userID == "" {
		return nil
	}
	if err := l.redis.Del(ctx, lockoutKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// FailureCount returns the failures in the current window.
func (l *LockoutLimiter) FailureCount(ctx context.Context, userID string) (int, error) {
	if l == nil || !l.config.Enabled || userID == "" {
		return 0, nil
	}
	count, err := rate.Peek(ctx, l.redis, lockoutKey(userID))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(count), nil
}
