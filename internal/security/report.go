package security

import "time"

type PasswordReport struct {
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// Report is a read-only summary of the security posture an Engine was built
// with. It carries no key material.
type Report struct {
	SigningAlgorithm        string
	AccessTTL               time.Duration
	RefreshTTL              time.Duration
	Argon2                  PasswordReport
	ReuseRevokesAllSessions bool
	SessionCapActive        bool
	MaxActiveSessions       int
	LoginThrottleActive     bool
	IPThrottleActive        bool
	LockoutActive           bool
	EmailVerificationActive bool
	OTPStepUpActive         bool
	OTPDigits               int
	TokenSnapshotActive     bool
	HighPrivilegeCount      int
	AuditActive             bool
}

type ReportInput struct {
	SigningAlgorithm string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	Password         PasswordReport
	RevokeAllOnReuse bool
	MaxActivePerUser int
	MaxLoginAttempts int
	LoginCooldown    time.Duration
	EnableIPThrottle bool
	LockoutEnabled   bool
	LockoutThreshold int
	RequireVerified  bool
	RequireOTP       bool
	OTPDigits        int
	UseTokenSnapshot bool
	HighPrivilege    []string
	AuditEnabled     bool
}

func BuildReport(input ReportInput) Report {
	throttle := input.MaxLoginAttempts > 0 &&
		input.LoginCooldown > 0

	return Report{
		SigningAlgorithm:        input.SigningAlgorithm,
		AccessTTL:               input.AccessTTL,
		RefreshTTL:              input.RefreshTTL,
		Argon2:                  input.Password,
		ReuseRevokesAllSessions: input.RevokeAllOnReuse,
		SessionCapActive:        input.MaxActivePerUser > 0,
		MaxActiveSessions:       input.MaxActivePerUser,
		LoginThrottleActive:     throttle,
		IPThrottleActive:        throttle && input.EnableIPThrottle,
		LockoutActive:           input.LockoutEnabled && input.LockoutThreshold > 0,
		EmailVerificationActive: input.RequireVerified,
		OTPStepUpActive:         input.RequireOTP,
		OTPDigits:               input.OTPDigits,
		TokenSnapshotActive:     input.UseTokenSnapshot,
		HighPrivilegeCount:      len(input.HighPrivilege),
		AuditActive:             input.AuditEnabled,
	}
}
