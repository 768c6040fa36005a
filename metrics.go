package rentauth

import (
	internalmetrics "github.com/MrEthical07/rentauth/internal/metrics"
)

// MetricID names one in-process counter or latency histogram.
type MetricID = internalmetrics.ID

const (
	MetricLoginSuccess             = internalmetrics.LoginSuccess
	MetricLoginFailure             = internalmetrics.LoginFailure
	MetricLoginRateLimited         = internalmetrics.LoginRateLimited
	MetricLoginStepUpRequired      = internalmetrics.LoginStepUpRequired
	MetricRefreshSuccess           = internalmetrics.RefreshSuccess
	MetricRefreshFailure           = internalmetrics.RefreshFailure
	MetricRefreshReuseDetected     = internalmetrics.RefreshReuseDetected
	MetricLogout                   = internalmetrics.Logout
	MetricLogoutAll                = internalmetrics.LogoutAll
	MetricAuthorizeAllowed         = internalmetrics.AuthorizeAllowed
	MetricAuthorizeDenied          = internalmetrics.AuthorizeDenied
	MetricAuthorizeRejected        = internalmetrics.AuthorizeRejected
	MetricOTPIssued                = internalmetrics.OTPIssued
	MetricOTPVerified              = internalmetrics.OTPVerified
	MetricOTPFailed                = internalmetrics.OTPFailed
	MetricOTPReplayDetected        = internalmetrics.OTPReplayDetected
	MetricOTPAttemptsExceeded      = internalmetrics.OTPAttemptsExceeded
	MetricRegisterSuccess          = internalmetrics.RegisterSuccess
	MetricRegisterDuplicate        = internalmetrics.RegisterDuplicate
	MetricEmailVerified            = internalmetrics.EmailVerified
	MetricPasswordChangeSuccess    = internalmetrics.PasswordChangeSuccess
	MetricPasswordChangeInvalidOld = internalmetrics.PasswordChangeInvalidOld
	MetricPasswordHashUpgraded     = internalmetrics.PasswordHashUpgraded
	MetricActivityWriteFailure     = internalmetrics.ActivityWriteFailure
	MetricLoginLatency             = internalmetrics.LoginLatency
	MetricAuthorizeLatency         = internalmetrics.AuthorizeLatency
)

// Metrics holds the engine's lock-free counters.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot = internalmetrics.Snapshot

func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:                 cfg.Enabled,
		EnableLatencyHistograms: cfg.EnableLatencyHistograms,
	})
}
