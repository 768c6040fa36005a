package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/rentauth/internal/rate"
	"github.com/redis/go-redis/v9"
)

const (
	defaultOTPMaxAttempts = 5
	defaultOTPCooldown    = 5 * time.Minute
)

var (
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
	ErrOTPUnavailable      = errors.New("otp limiter unavailable")
)

// OTPAttemptConfig holds the failed-verification budget per (user, purpose).
type OTPAttemptConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// OTPAttemptLimiter caps wrong guesses against a single code stream. Six
// digits give a million codes; five guesses per window keep brute force
// impractical.
type OTPAttemptLimiter struct {
	redis       redis.UniversalClient
	maxAttempts int64
	cooldown    time.Duration
}

// NewOTPAttemptLimiter falls back to 5 attempts per 5 minutes for zero fields.
func NewOTPAttemptLimiter(redisClient redis.UniversalClient, cfg OTPAttemptConfig) *OTPAttemptLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultOTPMaxAttempts
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = defaultOTPCooldown
	}
	return &OTPAttemptLimiter{redis: redisClient, maxAttempts: int64(max), cooldown: cd}
}

func otpAttemptKey(purpose, userID string) string {
	return "ra:otpatt:" + purpose + ":" + userID
}

// Check fails once the budget is spent.
func (l *OTPAttemptLimiter) Check(ctx context.Context, purpose, userID string) error {
	if l == nil {
		return nil
	}
	count, err := rate.Peek(ctx, l.redis, otpAttemptKey(purpose, userID))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrOTPAttemptsExceeded
	}
	return nil
}

// RecordFailure counts one wrong code and reports exhaustion.
func (l *OTPAttemptLimiter) RecordFailure(ctx context.Context, purpose, userID string) error {
	if l == nil {
		return nil
	}
	count, err := rate.Incr(ctx, l.redis, otpAttemptKey(purpose, userID), l.cooldown)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrOTPAttemptsExceeded
	}
	return nil
}

// Reset clears the counter after a successful verification.
func (l *OTPAttemptLimiter) Reset(ctx context.Context, purpose, userID string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, otpAttemptKey(purpose, userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}
	return nil
}
