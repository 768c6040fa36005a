package rentauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrEthical07/rentauth/credential"
	"github.com/MrEthical07/rentauth/internal/limiters"
	"github.com/MrEthical07/rentauth/internal/rate"
	"github.com/MrEthical07/rentauth/jwt"
	"github.com/MrEthical07/rentauth/otp"
	"github.com/MrEthical07/rentauth/permission"
	"github.com/MrEthical07/rentauth/token"
)

var (
	// ErrInvalidCredentials covers both an unknown identifier and a wrong
	// password; the two are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account inactive")
	ErrAccountUnverified  = errors.New("account unverified")
	ErrAccountExists      = errors.New("account already exists")

	ErrOTPRequired         = errors.New("one-time code required")
	ErrOTPExpired          = errors.New("one-time code expired")
	ErrOTPMismatch         = errors.New("one-time code mismatch")
	ErrOTPReplayed         = errors.New("one-time code already used")
	ErrOTPAttemptsExceeded = errors.New("one-time code attempts exceeded")
	ErrOTPRateLimited      = errors.New("one-time code requests rate limited")

	ErrTokenExpired          = errors.New("token expired")
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
	// ErrTokenRevokedOrRotated is returned for refresh tokens that were
	// already used, revoked, or never issued.
	ErrTokenRevokedOrRotated = errors.New("token revoked or rotated")

	ErrPermissionDenied        = errors.New("permission denied")
	ErrLoginRateLimited        = errors.New("login rate limited")
	ErrRegistrationRateLimited = errors.New("registration rate limited")
	ErrInvalidRequest          = errors.New("invalid request")

	// ErrStorageUnavailable wraps every backend failure. It is the only
	// retryable error.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrEngineNotReady     = errors.New("engine not initialized")
)

// ErrorClass groups errors by how a transport should answer them.
type ErrorClass int

const (
	ClassInternal ErrorClass = iota
	ClassUnauthenticated
	ClassForbidden
	ClassRateLimited
	ClassConflict
	ClassInvalidInput
	ClassUnavailable
)

func (c ErrorClass) String() string {
	switch c {
	case ClassUnauthenticated:
		return "unauthenticated"
	case ClassForbidden:
		return "forbidden"
	case ClassRateLimited:
		return "rate_limited"
	case ClassConflict:
		return "conflict"
	case ClassInvalidInput:
		return "invalid_input"
	case ClassUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Classify maps any error returned by the Engine to its class. Unknown
// errors, including nil, are ClassInternal.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassInternal
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrOTPRequired),
		errors.Is(err, ErrOTPExpired),
		errors.Is(err, ErrOTPMismatch),
		errors.Is(err, ErrOTPReplayed),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrTokenSignatureInvalid),
		errors.Is(err, ErrTokenRevokedOrRotated):
		return ClassUnauthenticated
	case errors.Is(err, ErrAccountInactive),
		errors.Is(err, ErrAccountUnverified),
		errors.Is(err, ErrPermissionDenied):
		return ClassForbidden
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrRegistrationRateLimited),
		errors.Is(err, ErrOTPAttemptsExceeded),
		errors.Is(err, ErrOTPRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrAccountExists):
		return ClassConflict
	case errors.Is(err, ErrInvalidRequest):
		return ClassInvalidInput
	case errors.Is(err, ErrStorageUnavailable):
		return ClassUnavailable
	default:
		return ClassInternal
	}
}

// StatusCode is the HTTP status for err.
func StatusCode(err error) int {
	switch Classify(err) {
	case ClassUnauthenticated:
		return http.StatusUnauthorized
	case ClassForbidden:
		return http.StatusForbidden
	case ClassRateLimited:
		return http.StatusTooManyRequests
	case ClassConflict:
		return http.StatusConflict
	case ClassInvalidInput:
		return http.StatusBadRequest
	case ClassUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the same call may succeed later unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

// mapTokenErr translates token and jwt package errors into root sentinels.
func mapTokenErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrSignatureInvalid):
		return ErrTokenSignatureInvalid
	case errors.Is(err, jwt.ErrExpired), errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrMalformed), errors.Is(err, jwt.ErrUnsupportedAlgorithm), errors.Is(err, token.ErrMalformed):
		return ErrTokenMalformed
	case errors.Is(err, token.ErrRevokedOrRotated):
		return ErrTokenRevokedOrRotated
	case errors.Is(err, token.ErrStorage):
		return unavailable(err)
	default:
		return err
	}
}

func mapOTPErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, otp.ErrExpired):
		return ErrOTPExpired
	case errors.Is(err, otp.ErrMismatch):
		return ErrOTPMismatch
	case errors.Is(err, otp.ErrReplayed):
		return ErrOTPReplayed
	case errors.Is(err, otp.ErrAttemptsExceeded):
		return ErrOTPAttemptsExceeded
	case errors.Is(err, otp.ErrRateLimited):
		return ErrOTPRateLimited
	case errors.Is(err, otp.ErrUnavailable):
		return unavailable(err)
	default:
		return err
	}
}

func mapCredentialErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, credential.ErrNotFound):
		return ErrInvalidRequest
	case errors.Is(err, credential.ErrDuplicate):
		return ErrAccountExists
	case errors.Is(err, credential.ErrInvalid):
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	case errors.Is(err, credential.ErrUnavailable):
		return unavailable(err)
	default:
		return err
	}
}

func mapRBACErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, permission.ErrNotFound), errors.Is(err, permission.ErrInvalid), errors.Is(err, permission.ErrConflict):
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return unavailable(err)
	}
}

// mapLimiterErr folds throttle failures into limited, and backend failures
// into ErrStorageUnavailable.
func mapLimiterErr(err, limited error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited), errors.Is(err, limiters.ErrRegistrationRateLimited):
		return limited
	default:
		return unavailable(err)
	}
}
