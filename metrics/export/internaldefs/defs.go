package internaldefs

import (
	"github.com/MrEthical07/rentauth/internal/metrics"
)

// CounterDef binds a counter slot to its exported name.
type CounterDef struct {
	ID   metrics.ID
	Name string
	Help string
}

// HistogramDef binds a histogram slot to its exported name.
type HistogramDef struct {
	ID   metrics.ID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: metrics.LoginSuccess, Name: "rentauth_login_success_total", Help: "Successful logins."},
	{ID: metrics.LoginFailure, Name: "rentauth_login_failure_total", Help: "Rejected logins."},
	{ID: metrics.LoginRateLimited, Name: "rentauth_login_rate_limited_total", Help: "Logins rejected by throttling."},
	{ID: metrics.LoginStepUpRequired, Name: "rentauth_login_step_up_required_total", Help: "Logins that required a one-time code."},
	{ID: metrics.RefreshSuccess, Name: "rentauth_refresh_success_total", Help: "Successful refresh-token rotations."},
	{ID: metrics.RefreshFailure, Name: "rentauth_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: metrics.RefreshReuseDetected, Name: "rentauth_refresh_reuse_detected_total", Help: "Presentations of an already rotated refresh token."},
	{ID: metrics.Logout, Name: "rentauth_logout_total", Help: "Single-token logouts."},
	{ID: metrics.LogoutAll, Name: "rentauth_logout_all_total", Help: "Logout-everywhere operations."},
	{ID: metrics.AuthorizeAllowed, Name: "rentauth_authorize_allowed_total", Help: "Authorize calls that allowed the request."},
	{ID: metrics.AuthorizeDenied, Name: "rentauth_authorize_denied_total", Help: "Authorize calls denied for a missing permission."},
	{ID: metrics.AuthorizeRejected, Name: "rentauth_authorize_rejected_total", Help: "Authorize calls with an unusable access token."},
	{ID: metrics.OTPIssued, Name: "rentauth_otp_issued_total", Help: "One-time codes generated."},
	{ID: metrics.OTPVerified, Name: "rentauth_otp_verified_total", Help: "One-time codes accepted."},
	{ID: metrics.OTPFailed, Name: "rentauth_otp_failed_total", Help: "One-time codes rejected."},
	{ID: metrics.OTPReplayDetected, Name: "rentauth_otp_replay_detected_total", Help: "One-time codes presented twice."},
	{ID: metrics.OTPAttemptsExceeded, Name: "rentauth_otp_attempts_exceeded_total", Help: "Verifications blocked by the attempt limit."},
	{ID: metrics.RegisterSuccess, Name: "rentauth_register_success_total", Help: "Accounts created."},
	{ID: metrics.RegisterDuplicate, Name: "rentauth_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: metrics.EmailVerified, Name: "rentauth_email_verified_total", Help: "Email addresses confirmed."},
	{ID: metrics.PasswordChangeSuccess, Name: "rentauth_password_change_success_total", Help: "Password changes."},
	{ID: metrics.PasswordChangeInvalidOld, Name: "rentauth_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: metrics.PasswordHashUpgraded, Name: "rentauth_password_hash_upgraded_total", Help: "Stored hashes re-encoded on login."},
	{ID: metrics.ActivityWriteFailure, Name: "rentauth_activity_write_failure_total", Help: "Activity log writes that failed."},
}

var HistogramDefs = []HistogramDef{
	{ID: metrics.LoginLatency, Name: "rentauth_login_latency_seconds", Help: "Login latency."},
	{ID: metrics.AuthorizeLatency, Name: "rentauth_authorize_latency_seconds", Help: "Authorize latency."},
}

// HistogramBoundsSeconds mirrors metrics.BucketBoundsMs; +Inf is implied.
var HistogramBoundsSeconds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [metrics.BucketCount]uint64 {
	var out [metrics.BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [metrics.BucketCount]uint64) [metrics.BucketCount]uint64 {
	var out [metrics.BucketCount]uint64
	var running uint64
	for i := range raw {
		running += raw[i]
		out[i] = running
	}
	return out
}
