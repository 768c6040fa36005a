package rentauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/MrEthical07/rentauth/credential"
	"github.com/MrEthical07/rentauth/jwt"
	"github.com/MrEthical07/rentauth/otp"
	"github.com/MrEthical07/rentauth/token"
)

func TestClassifyStatusTable(t *testing.T) {
	cases := []struct {
		err    error
		class  ErrorClass
		status int
	}{
		{ErrInvalidCredentials, ClassUnauthenticated, http.StatusUnauthorized},
		{ErrOTPRequired, ClassUnauthenticated, http.StatusUnauthorized},
		{ErrOTPExpired, ClassUnauthenticated, http.StatusUnauthorized},
		{ErrOTPMismatch, ClassUnauthenticated, http.StatusUnauthorized},
		{ErrOTPReplayed, ClassUnauthenticated, http.StatusUnauthorized},
		{ErrTokenExpired, ClassUnauthenticated, http.StatusUnauthorized},
		{ErrTokenMalformed, ClassUnauthenticated, http.StatusUnauthorized},
		{ErrTokenSignatureInvalid, ClassUnauthenticated, http.StatusUnauthorized},
		{ErrTokenRevokedOrRotated, ClassUnauthenticated, http.StatusUnauthorized},
		{ErrAccountInactive, ClassForbidden, http.StatusForbidden},
		{ErrAccountUnverified, ClassForbidden, http.StatusForbidden},
		{ErrPermissionDenied, ClassForbidden, http.StatusForbidden},
		{ErrLoginRateLimited, ClassRateLimited, http.StatusTooManyRequests},
		{ErrRegistrationRateLimited, ClassRateLimited, http.StatusTooManyRequests},
		{ErrOTPAttemptsExceeded, ClassRateLimited, http.StatusTooManyRequests},
		{ErrOTPRateLimited, ClassRateLimited, http.StatusTooManyRequests},
		{ErrAccountExists, ClassConflict, http.StatusConflict},
		{ErrInvalidRequest, ClassInvalidInput, http.StatusBadRequest},
		{unavailable(errors.New("conn refused")), ClassUnavailable, http.StatusServiceUnavailable},
		{ErrEngineNotReady, ClassInternal, http.StatusInternalServerError},
		{errors.New("boom"), ClassInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.class {
			t.Fatalf("%v: class %s, want %s", tc.err, got, tc.class)
		}
		if got := StatusCode(tc.err); got != tc.status {
			t.Fatalf("%v: status %d, want %d", tc.err, got, tc.status)
		}
		if Retryable(tc.err) != (tc.class == ClassUnavailable) {
			t.Fatalf("%v: only unavailable errors are retryable", tc.err)
		}
	}
}

func TestMapTokenErr(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{fmt.Errorf("verify: %w", jwt.ErrSignatureInvalid), ErrTokenSignatureInvalid},
		{jwt.ErrExpired, ErrTokenExpired},
		{jwt.ErrMalformed, ErrTokenMalformed},
		{&token.RefreshError{Err: token.ErrMalformed}, ErrTokenMalformed},
		{&token.RefreshError{Err: token.ErrExpired}, ErrTokenExpired},
		{&token.RefreshError{UserID: "u", Reused: true, Err: token.ErrRevokedOrRotated}, ErrTokenRevokedOrRotated},
		{fmt.Errorf("%w: redis down", token.ErrStorage), ErrStorageUnavailable},
	}
	for _, tc := range cases {
		if got := mapTokenErr(tc.in); !errors.Is(got, tc.want) {
			t.Fatalf("%v: got %v, want %v", tc.in, got, tc.want)
		}
	}
	if mapTokenErr(nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

func TestMapComponentErrors(t *testing.T) {
	if got := mapOTPErr(otp.ErrReplayed); !errors.Is(got, ErrOTPReplayed) {
		t.Fatalf("otp replay: %v", got)
	}
	if got := mapOTPErr(fmt.Errorf("%w: timeout", otp.ErrUnavailable)); !Retryable(got) {
		t.Fatalf("otp outage must be retryable: %v", got)
	}
	if got := mapCredentialErr(credential.ErrDuplicate); !errors.Is(got, ErrAccountExists) {
		t.Fatalf("duplicate: %v", got)
	}
	if got := mapCredentialErr(fmt.Errorf("%w: bad email", credential.ErrInvalid)); !errors.Is(got, ErrInvalidRequest) || !errors.Is(got, credential.ErrInvalid) {
		t.Fatalf("invalid: %v", got)
	}
	if got := mapRBACErr(context.DeadlineExceeded); !errors.Is(got, context.DeadlineExceeded) || Retryable(got) {
		t.Fatalf("deadline must pass through: %v", got)
	}
	if got := mapRBACErr(errors.New("pg: conn reset")); !Retryable(got) {
		t.Fatalf("rbac outage must be retryable: %v", got)
	}
}

func TestAuditErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		want AuditErrorCode
	}{
		{ErrInvalidCredentials, auditErrInvalidCredentials},
		{ErrOTPMismatch, auditErrOTPInvalid},
		{ErrTokenRevokedOrRotated, auditErrTokenReused},
		{ErrLoginRateLimited, auditErrRateLimited},
		{unavailable(errors.New("x")), auditErrUnavailable},
		{errors.New("x"), auditErrInternal},
	}
	for _, tc := range cases {
		if got := auditErrorCode(tc.err); got != tc.want {
			t.Fatalf("%v: %q, want %q", tc.err, got, tc.want)
		}
	}
	if auditErrorCode(nil) != "" {
		t.Fatal("nil error must have no code")
	}
}
