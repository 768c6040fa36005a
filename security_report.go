package rentauth

import "github.com/MrEthical07/rentauth/internal/security"

// SecurityReport summarizes the security posture the Engine was built with.
// It never contains keys or secrets.
type SecurityReport = security.Report

// PasswordConfigReport is the argon2id part of a SecurityReport.
type PasswordConfigReport = security.PasswordReport

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	c := e.config
	return security.BuildReport(security.ReportInput{
		SigningAlgorithm: string(c.JWT.Algorithm),
		AccessTTL:        c.JWT.AccessTTL(),
		RefreshTTL:       c.Refresh.TTL(),
		Password: PasswordConfigReport{
			Memory:         c.Password.Argon2.Memory,
			Time:           c.Password.Argon2.Time,
			Parallelism:    c.Password.Argon2.Parallelism,
			SaltLength:     c.Password.Argon2.SaltLength,
			KeyLength:      c.Password.Argon2.KeyLength,
			UpgradeOnLogin: c.Password.UpgradeOnLogin,
		},
		RevokeAllOnReuse: c.Refresh.RevokeAllOnReuse,
		MaxActivePerUser: c.Refresh.MaxActivePerUser,
		MaxLoginAttempts: c.RateLimit.MaxLoginAttempts,
		LoginCooldown:    c.RateLimit.LoginCooldown,
		EnableIPThrottle: c.RateLimit.EnableIPThrottle,
		LockoutEnabled:   c.Login.LockoutEnabled,
		LockoutThreshold: c.Login.LockoutThreshold,
		RequireVerified:  c.Login.RequireVerified,
		RequireOTP:       c.Login.RequireOTP,
		OTPDigits:        c.OTP.Digits,
		UseTokenSnapshot: c.Authorize.UseTokenSnapshot,
		HighPrivilege:    c.Authorize.HighPrivilege,
		AuditEnabled:     c.Audit.Enabled,
	})
}
