package rentauth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/MrEthical07/rentauth/credential"
	"github.com/MrEthical07/rentauth/otp"
)

// Register creates an unverified account, assigns Account.DefaultRole and
// sends an email-verify code. Registering again with the email of an
// unverified account re-sends the code and returns that account's ID; a
// verified one is ErrAccountExists.
//
// A failed code dispatch is logged and does not fail registration; the
// caller can RequestOTP later.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if err := e.registration.Enforce(ctx, req.Email, ClientIPFromContext(ctx)); err != nil {
		return "", mapLimiterErr(err, ErrRegistrationRateLimited)
	}
	if req.Password == "" || credential.Normalize(req.Email) == "" {
		return "", ErrInvalidRequest
	}

	existing, err := e.credentials.FindUserByIdentifier(ctx, req.Email)
	switch {
	case err == nil && !existing.Verified:
		if err := e.sendOTP(ctx, existing, otp.PurposeEmailVerify); err != nil {
			return "", err
		}
		return existing.ID, nil
	case err == nil:
		return "", e.registerDuplicate(ctx, req)
	case !errors.Is(err, credential.ErrNotFound):
		return "", mapCredentialErr(err)
	}

	role := e.config.Account.DefaultRole
	if role != "" {
		if _, err := e.rbac.Store().RoleByName(ctx, role); err != nil {
			return "", mapRBACErr(err)
		}
	}

	user, err := e.credentials.CreateUser(ctx, req.Username, req.Email, req.Password)
	if err != nil {
		err = mapCredentialErr(err)
		if errors.Is(err, ErrAccountExists) {
			return "", e.registerDuplicate(ctx, req)
		}
		return "", err
	}

	if role != "" {
		if err := e.rbac.AssignRole(ctx, user.ID, role); err != nil {
			e.logger.ErrorContext(ctx, "default role assignment failed", slog.String("user_id", user.ID), slog.String("role", role), slog.Any("error", err))
			return "", mapRBACErr(err)
		}
	}
	if req.FullName != "" {
		if _, err := e.credentials.UpsertProfile(ctx, credential.Profile{UserID: user.ID, FullName: req.FullName}); err != nil {
			return "", mapCredentialErr(err)
		}
	}
	if err := e.recordActivity(ctx, user.ID, credential.ActionRegister); err != nil {
		return "", err
	}

	if err := e.sendOTP(ctx, user, otp.PurposeEmailVerify); err != nil {
		e.logger.WarnContext(ctx, "verification code dispatch failed", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegister, true, user.ID, "", nil, nil)
	return user.ID, nil
}

func (e *Engine) registerDuplicate(ctx context.Context, req RegisterRequest) error {
	e.metricInc(MetricRegisterDuplicate)
	e.emitAudit(ctx, auditEventRegisterDuplicate, false, "", "", ErrAccountExists, func() map[string]string {
		return map[string]string{"email": credential.Normalize(req.Email)}
	})
	return ErrAccountExists
}

// ChangePassword replaces userID's password after checking the old one and
// revokes every refresh token. Access tokens already issued stay valid until
// they expire.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if newPassword == "" {
		return ErrInvalidRequest
	}
	user, err := e.credentials.FindUserByID(ctx, userID)
	if err != nil {
		return mapCredentialErr(err)
	}
	if !user.Active {
		return ErrAccountInactive
	}
	if !e.credentials.VerifyPassword(user, oldPassword) {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.recordBestEffort(ctx, user.ID, credential.ActionPasswordFailed)
		e.emitAudit(ctx, auditEventPasswordInvalid, false, user.ID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	hash, err := e.credentials.HashPassword(newPassword)
	if err != nil {
		return mapCredentialErr(err)
	}
	if err := e.credentials.UpdatePassword(ctx, user.ID, hash); err != nil {
		return mapCredentialErr(err)
	}
	if _, err := e.tokens.RevokeAll(ctx, user.ID); err != nil {
		e.logger.ErrorContext(ctx, "revoke after password change failed", slog.String("user_id", user.ID), slog.Any("error", err))
		return mapTokenErr(err)
	}

	e.recordBestEffort(ctx, user.ID, credential.ActionPasswordChange)
	e.notifySecurity(ctx, user, SecurityEventPasswordChanged)
	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChanged, true, user.ID, "", nil, nil)
	return nil
}

// UpdateProfile creates userID's profile on first call and replaces it
// after.
func (e *Engine) UpdateProfile(ctx context.Context, p credential.Profile) (credential.Profile, error) {
	if err := e.ready(); err != nil {
		return credential.Profile{}, err
	}
	if _, err := e.credentials.FindUserByID(ctx, p.UserID); err != nil {
		return credential.Profile{}, mapCredentialErr(err)
	}
	out, err := e.credentials.UpsertProfile(ctx, p)
	return out, mapCredentialErr(err)
}

// Profile returns userID's profile. A user who never set one gets
// ErrInvalidRequest.
func (e *Engine) Profile(ctx context.Context, userID string) (credential.Profile, error) {
	if err := e.ready(); err != nil {
		return credential.Profile{}, err
	}
	p, err := e.credentials.ProfileOf(ctx, userID)
	return p, mapCredentialErr(err)
}

// SetAccountActive activates or deactivates userID. Deactivation revokes
// every refresh token; activation clears the lockout counter.
func (e *Engine) SetAccountActive(ctx context.Context, userID string, active bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.credentials.SetActive(ctx, userID, active); err != nil {
		return mapCredentialErr(err)
	}
	if active {
		if err := e.lockout.Reset(ctx, userID); err != nil {
			e.logger.WarnContext(ctx, "lockout reset failed", slog.String("user_id", userID), slog.Any("error", err))
		}
	} else if _, err := e.tokens.RevokeAll(ctx, userID); err != nil {
		return mapTokenErr(err)
	}

	e.recordBestEffort(ctx, userID, credential.ActionStatusChange)
	e.emitAudit(ctx, auditEventAccountStatus, true, userID, "", nil, func() map[string]string {
		return map[string]string{"active": strconv.FormatBool(active)}
	})
	return nil
}
