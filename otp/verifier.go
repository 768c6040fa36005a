package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/rentauth/internal/limiters"
	"github.com/redis/go-redis/v9"
)

// Purpose scopes a code stream. A code generated for one purpose never
// verifies for another.
type Purpose string

const (
	PurposeEmailVerify Purpose = "email-verify"
	PurposeLoginStepUp Purpose = "login-step-up"
)

var (
	ErrExpired          = errors.New("otp: code expired")
	ErrMismatch         = errors.New("otp: code mismatch")
	ErrReplayed         = errors.New("otp: code already used")
	ErrAttemptsExceeded = errors.New("otp: too many failed attempts")
	ErrRateLimited      = errors.New("otp: too many code requests")
	// ErrUnavailable wraps Redis failures. Callers may retry.
	ErrUnavailable = errors.New("otp: replay store unavailable")
)

// Config describes code shape and validity.
type Config struct {
	// Secret is the master key every per-user secret is derived from.
	Secret []byte
	Digits int
	// TTL is the length of one time step; a code is valid for its own step
	// plus Skew steps either side.
	TTL       time.Duration
	Skew      int
	Lookback  int
	Algorithm string

	MaxAttempts   int
	MaxRequests   int
	RequestWindow time.Duration
	Now           func() time.Time
}

// Validate checks the bounds New enforces.
func (c Config) Validate() error {
	if len(c.Secret) < 32 {
		return errors.New("otp secret must be at least 32 bytes")
	}
	if c.Digits < 6 || c.Digits > 9 {
		return errors.New("otp digits must be between 6 and 9")
	}
	if c.TTL < time.Second {
		return errors.New("otp ttl must be >= 1s")
	}
	if c.Skew < 0 || c.Skew > 3 {
		return errors.New("otp skew must be between 0 and 3")
	}
	if c.Lookback < 0 {
		return errors.New("otp lookback must be >= 0")
	}
	if _, err := hmacFunc(c.Algorithm); err != nil {
		return err
	}
	return nil
}

// Verifier generates and checks one-time codes without persisting them.
// Only the last consumed counter per (user, purpose) is stored, in Redis.
type Verifier struct {
	config   Config
	guard    *replayGuard
	attempts *limiters.OTPAttemptLimiter
	requests *limiters.OTPRequestLimiter
}

// New builds a Verifier using rdb for replay markers and attempt counters.
func New(cfg Config, rdb redis.UniversalClient) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rdb == nil {
		return nil, errors.New("otp verifier requires redis")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	step := cfg.TTL
	if cfg.RequestWindow <= 0 {
		cfg.RequestWindow = step
	}
	return &Verifier{
		config: cfg,
		// The marker must outlive every counter still inside the accept window.
		guard:    &replayGuard{redis: rdb, ttl: step * time.Duration(2*cfg.Skew+2)},
		attempts: limiters.NewOTPAttemptLimiter(rdb, limiters.OTPAttemptConfig{MaxAttempts: cfg.MaxAttempts, Cooldown: step}),
		requests: limiters.NewOTPRequestLimiter(rdb, limiters.OTPRequestConfig{MaxRequests: cfg.MaxRequests, Window: cfg.RequestWindow}),
	}, nil
}

// TTL is the configured time step.
func (v *Verifier) TTL() time.Duration { return v.config.TTL }

func (v *Verifier) counterAt(t time.Time) int64 {
	return t.Unix() / int64(v.config.TTL/time.Second)
}

// Generate returns the code for the current step. If the current step was
// already consumed (a second step-up inside one window), the next step's code
// is returned instead; it verifies through the skew allowance.
func (v *Verifier) Generate(ctx context.Context, userID string, purpose Purpose) (string, error) {
	if userID == "" || purpose == "" {
		return "", errors.New("otp: user and purpose required")
	}
	if err := v.requests.Enforce(ctx, string(purpose), userID); err != nil {
		if errors.Is(err, limiters.ErrOTPRequestRateLimited) {
			return "", ErrRateLimited
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	counter := v.counterAt(v.config.Now())
	last, err := v.guard.last(ctx, purpose, userID)
	if err != nil {
		return "", err
	}
	if last >= counter {
		if last+1 > counter+int64(v.config.Skew) {
			return "", ErrReplayed
		}
		counter = last + 1
	}
	return v.codeFor(userID, purpose, counter)
}

func (v *Verifier) codeFor(userID string, purpose Purpose, counter int64) (string, error) {
	return hotp(deriveSecret(v.config.Secret, purpose, userID), counter, v.config.Digits, v.config.Algorithm)
}

// Verify accepts a code from the current step or Skew steps either side, at
// most once. A code from up to Lookback older steps is reported as expired
// rather than mismatched.
func (v *Verifier) Verify(ctx context.Context, userID string, purpose Purpose, code string) error {
	if err := v.attempts.Check(ctx, string(purpose), userID); err != nil {
		return v.limiterErr(err)
	}

	counter, err := v.match(userID, purpose, strings.TrimSpace(code))
	if err != nil {
		if errors.Is(err, ErrMismatch) || errors.Is(err, ErrExpired) {
			if lerr := v.attempts.RecordFailure(ctx, string(purpose), userID); lerr != nil && !errors.Is(lerr, limiters.ErrOTPAttemptsExceeded) {
				return v.limiterErr(lerr)
			}
		}
		return err
	}

	ok, err := v.guard.consume(ctx, purpose, userID, counter)
	if err != nil {
		return err
	}
	if !ok {
		if lerr := v.attempts.RecordFailure(ctx, string(purpose), userID); lerr != nil && !errors.Is(lerr, limiters.ErrOTPAttemptsExceeded) {
			return v.limiterErr(lerr)
		}
		return ErrReplayed
	}
	if err := v.attempts.Reset(ctx, string(purpose), userID); err != nil {
		return v.limiterErr(err)
	}
	return nil
}

// match returns the counter whose code equals code. Every candidate in the
// accept window is compared so timing does not reveal which step matched.
func (v *Verifier) match(userID string, purpose Purpose, code string) (int64, error) {
	if len(code) != v.config.Digits || !isNumeric(code) {
		return 0, ErrMismatch
	}

	secret := deriveSecret(v.config.Secret, purpose, userID)
	base := v.counterAt(v.config.Now())
	skew := int64(v.config.Skew)

	matched := int64(-1)
	for c := base - skew; c <= base+skew; c++ {
		if c < 0 {
			continue
		}
		expected, err := hotp(secret, c, v.config.Digits, v.config.Algorithm)
		if err != nil {
			return 0, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 && matched < 0 {
			matched = c
		}
	}
	if matched >= 0 {
		return matched, nil
	}

	for c := base - skew - 1; c >= base-skew-int64(v.config.Lookback) && c >= 0; c-- {
		expected, err := hotp(secret, c, v.config.Digits, v.config.Algorithm)
		if err != nil {
			return 0, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return 0, ErrExpired
		}
	}
	return 0, ErrMismatch
}

func (v *Verifier) limiterErr(err error) error {
	if errors.Is(err, limiters.ErrOTPAttemptsExceeded) {
		return ErrAttemptsExceeded
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
