package rentauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/rentauth/credential"
	"github.com/MrEthical07/rentauth/otp"
)

func validPurpose(p otp.Purpose) bool {
	return p == otp.PurposeEmailVerify || p == otp.PurposeLoginStepUp
}

// RequestOTP generates a code for (userID, purpose) and hands it to the
// Notifier. The code itself is never returned or logged.
func (e *Engine) RequestOTP(ctx context.Context, userID string, purpose otp.Purpose) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !validPurpose(purpose) {
		return fmt.Errorf("%w: unknown otp purpose", ErrInvalidRequest)
	}
	user, err := e.credentials.FindUserByID(ctx, userID)
	if err != nil {
		return mapCredentialErr(err)
	}
	if purpose == otp.PurposeEmailVerify && user.Verified {
		return fmt.Errorf("%w: email already verified", ErrInvalidRequest)
	}
	return e.sendOTP(ctx, user, purpose)
}

func (e *Engine) sendOTP(ctx context.Context, user credential.User, purpose otp.Purpose) error {
	code, err := e.otp.Generate(ctx, user.ID, purpose)
	if err != nil {
		return mapOTPErr(err)
	}
	if err := e.notifier.NotifyOTP(ctx, user, purpose, code); err != nil {
		return unavailable(fmt.Errorf("notify otp: %w", err))
	}
	e.metricInc(MetricOTPIssued)
	e.emitAudit(ctx, auditEventOTPIssued, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"purpose": string(purpose)}
	})
	return nil
}

// VerifyOTP checks code for (userID, purpose). A code verifies at most once.
func (e *Engine) VerifyOTP(ctx context.Context, userID string, purpose otp.Purpose, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if userID == "" || !validPurpose(purpose) {
		return ErrInvalidRequest
	}
	return e.verifyOTP(ctx, userID, purpose, code)
}

func (e *Engine) verifyOTP(ctx context.Context, userID string, purpose otp.Purpose, code string) error {
	meta := func() map[string]string {
		return map[string]string{"purpose": string(purpose)}
	}
	if err := e.otp.Verify(ctx, userID, purpose, code); err != nil {
		err = mapOTPErr(err)
		e.otpFailureMetric(err)
		if Classify(err) != ClassUnavailable {
			e.recordBestEffort(ctx, userID, credential.ActionOTPFailed)
		}
		e.emitAudit(ctx, auditEventOTPFailure, false, userID, "", err, meta)
		return err
	}
	e.metricInc(MetricOTPVerified)
	e.emitAudit(ctx, auditEventOTPVerified, true, userID, "", nil, meta)
	return nil
}

func (e *Engine) otpFailureMetric(err error) {
	switch {
	case errors.Is(err, ErrOTPReplayed):
		e.metricInc(MetricOTPReplayDetected)
	case errors.Is(err, ErrOTPAttemptsExceeded):
		e.metricInc(MetricOTPAttemptsExceeded)
	default:
		e.metricInc(MetricOTPFailed)
	}
}

// VerifyEmail confirms userID's email with an email-verify code. Verifying
// an already verified account succeeds without consuming a code.
func (e *Engine) VerifyEmail(ctx context.Context, userID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	user, err := e.credentials.FindUserByID(ctx, userID)
	if err != nil {
		return mapCredentialErr(err)
	}
	if user.Verified {
		return nil
	}
	if err := e.verifyOTP(ctx, user.ID, otp.PurposeEmailVerify, code); err != nil {
		return err
	}
	if err := e.credentials.MarkVerified(ctx, user.ID); err != nil {
		return mapCredentialErr(err)
	}
	e.recordBestEffort(ctx, user.ID, credential.ActionVerifyEmail)
	e.metricInc(MetricEmailVerified)
	e.emitAudit(ctx, auditEventEmailVerified, true, user.ID, "", nil, nil)
	return nil
}
