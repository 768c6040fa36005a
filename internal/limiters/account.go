package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/rentauth/internal/rate"
	"github.com/redis/go-redis/v9"
)

var (
	ErrRegistrationRateLimited = errors.New("registration rate limited")
	ErrRegistrationUnavailable = errors.New("registration limiter unavailable")
)

type RegistrationConfig struct {
	EnableIdentifierThrottle bool
	EnableIPThrottle         bool
	MaxAttempts              int
	Cooldown                 time.Duration
}

// RegistrationLimiter throttles sign-ups per email and per client IP.
type RegistrationLimiter struct {
	redis  redis.UniversalClient
	config RegistrationConfig
}

func NewRegistrationLimiter(redisClient redis.UniversalClient, cfg RegistrationConfig) *RegistrationLimiter {
	return &RegistrationLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *RegistrationLimiter) Enforce(ctx context.Context, email, ip string) error {
	if l == nil || l.config.MaxAttempts <= 0 {
		return nil
	}
	if l.config.EnableIdentifierThrottle {
		if err := l.enforceKey(ctx, "ra:reg:"+strings.ToLower(strings.TrimSpace(email))); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceKey(ctx, "ra:regip:"+ip); err != nil {
			return err
		}
	}
	return nil
}

func (l *RegistrationLimiter) enforceKey(ctx context.Context, key string) error {
	count, err := rate.Incr(ctx, l.redis, key, l.config.Cooldown)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistrationUnavailable, err)
	}
	if count > int64(l.config.MaxAttempts) {
		return ErrRegistrationRateLimited
	}
	return nil
}
