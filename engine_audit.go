package rentauth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrEthical07/rentauth/credential"
)

const (
	auditEventLoginSuccess      = "login_success"
	auditEventLoginFailure      = "login_failure"
	auditEventLoginRateLimited  = "login_rate_limited"
	auditEventLoginStepUp       = "login_step_up"
	auditEventAccountLocked     = "account_locked"
	auditEventRefreshSuccess    = "refresh_success"
	auditEventRefreshInvalid    = "refresh_invalid"
	auditEventRefreshReuse      = "refresh_reuse_detected"
	auditEventLogout            = "logout"
	auditEventLogoutAll         = "logout_all"
	auditEventAuthorizeDenied   = "authorize_denied"
	auditEventAuthorizeRejected = "authorize_rejected"
	auditEventOTPIssued         = "otp_issued"
	auditEventOTPVerified       = "otp_verified"
	auditEventOTPFailure        = "otp_failure"
	auditEventRegister          = "account_created"
	auditEventRegisterDuplicate = "account_duplicate"
	auditEventEmailVerified     = "email_verified"
	auditEventPasswordChanged   = "password_changed"
	auditEventPasswordInvalid   = "password_change_invalid_old"
	auditEventAccountStatus     = "account_status_change"
)

// AuditErrorCode is the stable error label carried by audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountInactive    AuditErrorCode = "account_inactive"
	auditErrAccountUnverified  AuditErrorCode = "account_unverified"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrOTPRequired        AuditErrorCode = "otp_required"
	auditErrOTPInvalid         AuditErrorCode = "otp_invalid"
	auditErrOTPReplayed        AuditErrorCode = "otp_replayed"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenInvalid       AuditErrorCode = "token_invalid"
	auditErrTokenReused        AuditErrorCode = "token_revoked_or_rotated"
	auditErrPermissionDenied   AuditErrorCode = "permission_denied"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInvalidRequest     AuditErrorCode = "invalid_request"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func auditErrorCode(err error) AuditErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountInactive):
		return auditErrAccountInactive
	case errors.Is(err, ErrAccountUnverified):
		return auditErrAccountUnverified
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case errors.Is(err, ErrOTPRequired):
		return auditErrOTPRequired
	case errors.Is(err, ErrOTPExpired), errors.Is(err, ErrOTPMismatch):
		return auditErrOTPInvalid
	case errors.Is(err, ErrOTPReplayed):
		return auditErrOTPReplayed
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenMalformed), errors.Is(err, ErrTokenSignatureInvalid):
		return auditErrTokenInvalid
	case errors.Is(err, ErrTokenRevokedOrRotated):
		return auditErrTokenReused
	case errors.Is(err, ErrPermissionDenied):
		return auditErrPermissionDenied
	case Classify(err) == ClassRateLimited:
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidRequest):
		return auditErrInvalidRequest
	case errors.Is(err, ErrStorageUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// emitAudit hands one event to the dispatcher. metadataBuilder runs only
// when audit is enabled.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	refreshID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		Type:      eventType,
		UserID:    userID,
		RefreshID: refreshID,
		IP:        ClientIPFromContext(ctx),
		UserAgent: UserAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}
	e.audit.Emit(ctx, event)
}

func (e *Engine) activity(ctx context.Context, userID string, action credential.Action) credential.Activity {
	return credential.Activity{
		UserID:    userID,
		Action:    action,
		IP:        ClientIPFromContext(ctx),
		UserAgent: UserAgentFromContext(ctx),
		CreatedAt: e.now(),
	}
}

// recordActivity appends the mandatory activity row on a success path. A
// failed write fails the operation before anything is issued.
func (e *Engine) recordActivity(ctx context.Context, userID string, action credential.Action) error {
	if err := e.credentials.RecordActivity(ctx, e.activity(ctx, userID, action)); err != nil {
		e.metricInc(MetricActivityWriteFailure)
		e.logger.ErrorContext(ctx, "activity write failed", slog.String("action", string(action)), slog.String("user_id", userID), slog.Any("error", err))
		return unavailable(err)
	}
	return nil
}

// recordBestEffort appends the activity row for a rejected attempt, or for a
// success whose state change has already committed. A failed write is logged
// and never changes the outcome.
func (e *Engine) recordBestEffort(ctx context.Context, userID string, action credential.Action) {
	if err := e.credentials.RecordActivity(ctx, e.activity(ctx, userID, action)); err != nil {
		e.metricInc(MetricActivityWriteFailure)
		e.logger.WarnContext(ctx, "activity write failed", slog.String("action", string(action)), slog.String("user_id", userID), slog.Any("error", err))
	}
}
