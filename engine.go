package rentauth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/rentauth/credential"
	"github.com/MrEthical07/rentauth/internal/audit"
	"github.com/MrEthical07/rentauth/internal/limiters"
	"github.com/MrEthical07/rentauth/internal/rate"
	"github.com/MrEthical07/rentauth/otp"
	"github.com/MrEthical07/rentauth/permission"
	"github.com/MrEthical07/rentauth/token"
)

// Engine is the authentication façade. Build one with New().Build(); it is
// safe for concurrent use.
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	credentials  *credential.Store
	rbac         *permission.Graph
	tokens       *token.Service
	otp          *otp.Verifier
	limiter      *rate.Limiter
	lockout      *limiters.LockoutLimiter
	registration *limiters.RegistrationLimiter
	notifier     Notifier

	audit   *audit.Dispatcher
	metrics *Metrics

	highPrivilege map[string]struct{}
}

// Close flushes pending audit events. The engine must not be used after.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped is the number of audit events lost to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// RBAC exposes the permission graph for role administration. Edits made
// through it are visible to the next Authorize.
func (e *Engine) RBAC() *permission.Graph {
	if e == nil {
		return nil
	}
	return e.rbac
}

func (e *Engine) ready() error {
	if e == nil || e.credentials == nil || e.tokens == nil || e.rbac == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

// subject is the snapshot embedded in access tokens.
func (e *Engine) subject(ctx context.Context, userID string) (token.Subject, error) {
	res, err := e.rbac.Resolve(ctx, userID)
	if err != nil {
		return token.Subject{}, mapRBACErr(err)
	}
	return token.Subject{Roles: res.RoleNames(), Permissions: res.PermissionNames()}, nil
}

// refreshSubject runs before a refresh token is rotated. A deactivated or
// deleted account is ErrAccountInactive.
func (e *Engine) refreshSubject(ctx context.Context, userID string) (token.Subject, error) {
	user, err := e.credentials.FindUserByID(ctx, userID)
	switch {
	case errors.Is(err, credential.ErrNotFound):
		return token.Subject{}, ErrAccountInactive
	case err != nil:
		return token.Subject{}, mapCredentialErr(err)
	case !user.Active:
		return token.Subject{}, ErrAccountInactive
	}
	return e.subject(ctx, userID)
}

func toTokenPair(p *token.Pair) *TokenPair {
	return &TokenPair{
		UserID:           p.UserID,
		AccessToken:      p.AccessToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshToken:     p.RefreshToken,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

// Login authenticates identifier (username or email, any case) and issues a
// token pair. With Login.RequireOTP it sends a step-up code and returns
// ErrOTPRequired instead; finish with LoginWithOTP.
func (e *Engine) Login(ctx context.Context, identifier, password string) (*TokenPair, error) {
	return e.loginInternal(ctx, identifier, password, "", false)
}

// LoginWithOTP is Login with a login-step-up code. The code is checked
// whether or not Login.RequireOTP is set.
func (e *Engine) LoginWithOTP(ctx context.Context, identifier, password, code string) (*TokenPair, error) {
	return e.loginInternal(ctx, identifier, password, code, true)
}

func (e *Engine) loginInternal(ctx context.Context, identifier, password, code string, withCode bool) (*TokenPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	defer e.observe(MetricLoginLatency, time.Now())

	ip := ClientIPFromContext(ctx)
	identifier = credential.Normalize(identifier)

	if err := e.limiter.CheckLogin(ctx, identifier, ip); err != nil {
		err = mapLimiterErr(err, ErrLoginRateLimited)
		if errors.Is(err, ErrLoginRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.recordBestEffort(ctx, "", credential.ActionLoginFailed)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", err, func() map[string]string {
				return map[string]string{"identifier": identifier}
			})
		}
		return nil, err
	}

	if password == "" {
		e.countFailure(ctx, identifier, ip, nil)
		return e.failLogin(ctx, identifier, "", "empty_password", ErrInvalidCredentials)
	}

	user, err := e.credentials.FindUserByIdentifier(ctx, identifier)
	if errors.Is(err, credential.ErrNotFound) {
		e.credentials.VerifyDummy(password)
		e.countFailure(ctx, identifier, ip, nil)
		return e.failLogin(ctx, identifier, "", "user_not_found", ErrInvalidCredentials)
	}
	if err != nil {
		return nil, mapCredentialErr(err)
	}

	if !e.credentials.VerifyPassword(user, password) {
		e.countFailure(ctx, identifier, ip, &user)
		return e.failLogin(ctx, identifier, user.ID, "password_mismatch", ErrInvalidCredentials)
	}
	if !user.Active {
		return e.failLogin(ctx, identifier, user.ID, "account_inactive", ErrAccountInactive)
	}
	if e.config.Login.RequireVerified && !user.Verified {
		return e.failLogin(ctx, identifier, user.ID, "account_unverified", ErrAccountUnverified)
	}

	switch {
	case withCode:
		if err := e.otp.Verify(ctx, user.ID, otp.PurposeLoginStepUp, code); err != nil {
			err = mapOTPErr(err)
			e.otpFailureMetric(err)
			if Classify(err) == ClassUnavailable {
				return nil, err
			}
			return e.failLogin(ctx, identifier, user.ID, "otp_validation", err)
		}
		e.metricInc(MetricOTPVerified)
	case e.config.Login.RequireOTP:
		if err := e.sendOTP(ctx, user, otp.PurposeLoginStepUp); err != nil {
			return nil, err
		}
		e.metricInc(MetricLoginStepUpRequired)
		e.recordBestEffort(ctx, user.ID, credential.ActionLoginStepUp)
		e.emitAudit(ctx, auditEventLoginStepUp, false, user.ID, "", ErrOTPRequired, nil)
		return nil, ErrOTPRequired
	}

	if e.config.Password.UpgradeOnLogin && e.credentials.NeedsRehash(user) {
		e.upgradeHash(ctx, user.ID, password)
	}
	password = ""

	if err := e.limiter.ResetLogin(ctx, identifier); err != nil {
		e.logger.WarnContext(ctx, "login throttle reset failed", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	if err := e.lockout.Reset(ctx, user.ID); err != nil {
		e.logger.WarnContext(ctx, "lockout reset failed", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	if err := e.recordActivity(ctx, user.ID, credential.ActionLogin); err != nil {
		return nil, err
	}
	pair, err := e.tokens.IssuePair(ctx, user.ID)
	if err != nil {
		return nil, mapTokenErr(err)
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, pair.RefreshID, nil, nil)
	return toTokenPair(pair), nil
}

func (e *Engine) failLogin(ctx context.Context, identifier, userID, reason string, err error) (*TokenPair, error) {
	e.metricInc(MetricLoginFailure)
	e.recordBestEffort(ctx, userID, credential.ActionLoginFailed)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", err, func() map[string]string {
		return map[string]string{
			"identifier": identifier,
			"reason":     reason,
		}
	})
	return nil, err
}

// countFailure feeds the throttle and, for known users, the lockout counter.
// Backend errors are logged; the rejection already decided stands.
func (e *Engine) countFailure(ctx context.Context, identifier, ip string, user *credential.User) {
	if err := e.limiter.IncrementLogin(ctx, identifier, ip); err != nil {
		e.logger.WarnContext(ctx, "login throttle increment failed", slog.Any("error", err))
	}
	if user == nil {
		return
	}
	locked, err := e.lockout.RecordFailure(ctx, user.ID)
	if err != nil {
		e.logger.WarnContext(ctx, "lockout increment failed", slog.String("user_id", user.ID), slog.Any("error", err))
		return
	}
	if locked && user.Active {
		e.lockAccount(ctx, *user)
	}
}

// lockAccount deactivates user after too many password failures and kills
// every session. It runs detached from ctx so a cancelled login cannot leave
// the account half-locked.
func (e *Engine) lockAccount(ctx context.Context, user credential.User) {
	ctx = context.WithoutCancel(ctx)
	if err := e.credentials.SetActive(ctx, user.ID, false); err != nil {
		e.logger.ErrorContext(ctx, "account lock failed", slog.String("user_id", user.ID), slog.Any("error", err))
		return
	}
	if _, err := e.tokens.RevokeAll(ctx, user.ID); err != nil {
		e.logger.ErrorContext(ctx, "revoke on lock failed", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	e.notifySecurity(ctx, user, SecurityEventAccountLocked)
	e.logger.WarnContext(ctx, "account locked after repeated login failures", slog.String("user_id", user.ID))
	e.emitAudit(ctx, auditEventAccountLocked, true, user.ID, "", nil, nil)
}

func (e *Engine) upgradeHash(ctx context.Context, userID, password string) {
	hash, err := e.credentials.HashPassword(password)
	if err == nil {
		err = e.credentials.UpdatePassword(ctx, userID, hash)
	}
	if err != nil {
		// Login proceeds on the old hash.
		e.logger.WarnContext(ctx, "password hash upgrade failed", slog.String("user_id", userID), slog.Any("error", err))
		return
	}
	e.metricInc(MetricPasswordHashUpgraded)
}

func (e *Engine) notifySecurity(ctx context.Context, user credential.User, kind SecurityEventType) {
	event := SecurityEvent{
		Type:      kind,
		At:        e.now(),
		IP:        ClientIPFromContext(ctx),
		UserAgent: UserAgentFromContext(ctx),
	}
	if err := e.notifier.NotifySecurityEvent(ctx, user, event); err != nil {
		e.logger.WarnContext(ctx, "security notification failed", slog.String("user_id", user.ID), slog.String("event", string(kind)), slog.Any("error", err))
	}
}

// Authorize verifies accessToken and checks that its owner holds perm. With
// Authorize.UseTokenSnapshot the role snapshot in the token can grant
// non-high-privilege permissions; everything else goes to the live graph and
// requires the account to still be active.
func (e *Engine) Authorize(ctx context.Context, accessToken, perm string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	defer e.observe(MetricAuthorizeLatency, time.Now())

	if perm == "" {
		e.metricInc(MetricAuthorizeRejected)
		return "", ErrInvalidRequest
	}
	claims, err := e.tokens.VerifyAccess(accessToken)
	if err != nil {
		mapped := mapTokenErr(err)
		e.metricInc(MetricAuthorizeRejected)
		e.emitAudit(ctx, auditEventAuthorizeRejected, false, "", "", mapped, func() map[string]string {
			return map[string]string{"permission": perm}
		})
		return "", mapped
	}
	userID := claims.UserID()

	_, high := e.highPrivilege[perm]
	if !high && e.config.Authorize.UseTokenSnapshot && claims.HasPermission(perm) {
		e.metricInc(MetricAuthorizeAllowed)
		return userID, nil
	}

	user, err := e.credentials.FindUserByID(ctx, userID)
	switch {
	case err != nil && !errors.Is(err, credential.ErrNotFound):
		return "", mapCredentialErr(err)
	case err != nil || !user.Active:
		e.metricInc(MetricAuthorizeRejected)
		e.emitAudit(ctx, auditEventAuthorizeRejected, false, userID, "", ErrAccountInactive, func() map[string]string {
			return map[string]string{"permission": perm}
		})
		return "", ErrAccountInactive
	}

	ok, err := e.rbac.HasPermission(ctx, userID, perm)
	if err != nil {
		return "", mapRBACErr(err)
	}
	if !ok {
		e.metricInc(MetricAuthorizeDenied)
		e.emitAudit(ctx, auditEventAuthorizeDenied, false, userID, "", ErrPermissionDenied, func() map[string]string {
			return map[string]string{"permission": perm}
		})
		return "", ErrPermissionDenied
	}
	e.metricInc(MetricAuthorizeAllowed)
	return userID, nil
}

// Refresh rotates refreshToken into a new pair. Presenting a token that was
// already rotated is treated as theft: with Refresh.RevokeAllOnReuse every
// session of the owner is revoked and the owner is notified.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	pair, err := e.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		mapped := e.refreshRejected(ctx, err)
		if errors.Is(mapped, ErrAccountInactive) {
			if _, rerr := e.tokens.Revoke(context.WithoutCancel(ctx), refreshToken); rerr != nil {
				e.logger.WarnContext(ctx, "revoking refresh token of inactive account failed", slog.Any("error", rerr))
			}
		}
		return nil, mapped
	}

	// The rotation has committed; a lost activity row must not strand the
	// caller without a live token.
	e.recordBestEffort(ctx, pair.UserID, credential.ActionRefresh)
	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, pair.UserID, pair.RefreshID, nil, nil)
	return toTokenPair(pair), nil
}

func (e *Engine) refreshRejected(ctx context.Context, err error) error {
	var rerr *token.RefreshError
	var userID string
	if errors.As(err, &rerr) {
		userID = rerr.UserID
	}
	mapped := mapTokenErr(err)
	if rerr != nil && mapped == err {
		mapped = rerr.Err
	}

	if rerr != nil && rerr.Reused {
		e.metricInc(MetricRefreshReuseDetected)
		e.recordBestEffort(ctx, userID, credential.ActionRefreshReuse)
		e.logger.WarnContext(ctx, "refresh token reuse detected", slog.String("user_id", userID), slog.Bool("revoked_all", rerr.RevokedAll))
		if user, uerr := e.credentials.FindUserByID(ctx, userID); uerr == nil {
			e.notifySecurity(ctx, user, SecurityEventRefreshReuse)
		}
		e.emitAudit(ctx, auditEventRefreshReuse, false, userID, "", mapped, func() map[string]string {
			if rerr.RevokedAll {
				return map[string]string{"revoked_all": "true"}
			}
			return map[string]string{"revoked_all": "false"}
		})
		return mapped
	}

	e.metricInc(MetricRefreshFailure)
	if Classify(mapped) != ClassUnavailable {
		e.recordBestEffort(ctx, userID, credential.ActionRefreshFailed)
	}
	e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, "", mapped, nil)
	return mapped
}

// Logout revokes one refresh token. Revoking a token that is already dead
// succeeds; a token that was never issued is ErrTokenRevokedOrRotated.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if err := e.ready(); err != nil {
		return err
	}
	userID, err := e.tokens.Revoke(ctx, refreshToken)
	if err != nil {
		return mapTokenErr(err)
	}
	e.recordBestEffort(ctx, userID, credential.ActionLogout)
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, userID, "", nil, nil)
	return nil
}

// LogoutEverywhere revokes every live refresh token of userID. A second call
// finds nothing to revoke and succeeds.
func (e *Engine) LogoutEverywhere(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if userID == "" {
		return ErrInvalidRequest
	}
	n, err := e.tokens.RevokeAll(ctx, userID)
	if err != nil {
		return mapTokenErr(err)
	}
	e.recordBestEffort(ctx, userID, credential.ActionLogoutAll)
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(n)}
	})
	return nil
}

// ActiveSessions counts live refresh tokens of userID.
func (e *Engine) ActiveSessions(ctx context.Context, userID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	n, err := e.tokens.ActiveSessions(ctx, userID)
	return n, mapTokenErr(err)
}

// PurgeExpiredTokens deletes refresh token rows that died more than
// Refresh.Retention ago. Run it periodically.
func (e *Engine) PurgeExpiredTokens(ctx context.Context) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	n, err := e.tokens.PurgeDead(ctx, e.config.Refresh.Retention)
	if err != nil {
		return 0, mapTokenErr(err)
	}
	if n > 0 {
		e.logger.InfoContext(ctx, "purged dead refresh tokens", slog.Int("count", n))
	}
	return n, nil
}
