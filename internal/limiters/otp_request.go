package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/rentauth/internal/rate"
	"github.com/redis/go-redis/v9"
)

var (
	ErrOTPRequestRateLimited = errors.New("otp request rate limited")
)

// OTPRequestConfig bounds how often a code may be dispatched.
type OTPRequestConfig struct {
	MaxRequests int
	Window      time.Duration
}

// OTPRequestLimiter throttles code dispatch per (user, purpose) so the
// notification channel cannot be used to flood a mailbox.
type OTPRequestLimiter struct {
	redis  redis.UniversalClient
	config OTPRequestConfig
}

func NewOTPRequestLimiter(redisClient redis.UniversalClient, cfg OTPRequestConfig) *OTPRequestLimiter {
	return &OTPRequestLimiter{redis: redisClient, config: cfg}
}

// Enforce counts one request and fails past the budget. A zero MaxRequests
// disables the limiter.
func (l *OTPRequestLimiter) Enforce(ctx context.Context, purpose, userID string) error {
	if l == nil || l.config.MaxRequests <= 0 {
		return nil
	}
	count, err := rate.Incr(ctx, l.redis, "ra:otpreq:"+purpose+":"+userID, l.config.Window)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}
	if count > int64(l.config.MaxRequests) {
		return ErrOTPRequestRateLimited
	}
	return nil
}
