package security

import "time"

// PasswordReport echoes the Argon2id cost parameters.
type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Report summarizes the active defense posture.
type Report struct {
	SigningAlgorithm   string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	Argon2             PasswordReport
	RateLimitingActive bool
	LoginLimit         int
	LockoutThreshold   int
	LockoutDuration    time.Duration
	CSRFActive         bool
	MaxBodyBytes       int64
	AuditActive        bool
	// Warnings lists settings that weaken the posture, in a stable order.
	Warnings []string
}

// ReportInput is the raw configuration a Report is derived from.
type ReportInput struct {
	SigningAlgorithm   string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	Password           PasswordReport
	RateLimitEnabled   bool
	LoginLimit         int
	LockoutThreshold   int
	LockoutDuration    time.Duration
	CSRFEnabled        bool
	CSRFSecureCookie   bool
	CSRFSameSite       string
	MaxBodyBytes       int64
	AuditEnabled       bool
	Debug              bool
	TrustProxy         bool
	WildcardCORSOrigin bool
}

// BuildReport derives a Report from in.
func BuildReport(in ReportInput) Report {
	r := Report{
		SigningAlgorithm:   in.SigningAlgorithm,
		AccessTTL:          in.AccessTTL,
		RefreshTTL:         in.RefreshTTL,
		Argon2:             in.Password,
		RateLimitingActive: in.RateLimitEnabled && in.LoginLimit > 0,
		LoginLimit:         in.LoginLimit,
		LockoutThreshold:   in.LockoutThreshold,
		LockoutDuration:    in.LockoutDuration,
		CSRFActive:         in.CSRFEnabled,
		MaxBodyBytes:       in.MaxBodyBytes,
		AuditActive:        in.AuditEnabled,
	}

	if in.Debug {
		r.Warnings = append(r.Warnings, "debug mode exposes exception details in error responses")
	}
	if !r.RateLimitingActive {
		r.Warnings = append(r.Warnings, "rate limiting is disabled")
	}
	if !in.CSRFEnabled {
		r.Warnings = append(r.Warnings, "csrf protection is disabled")
	} else if !in.CSRFSecureCookie {
		r.Warnings = append(r.Warnings, "csrf cookie is sent without the Secure attribute")
	}
	if in.CSRFEnabled && in.CSRFSameSite != "" && in.CSRFSameSite != "strict" {
		r.Warnings = append(r.Warnings, "csrf cookie SameSite is "+in.CSRFSameSite)
	}
	if in.TrustProxy {
		r.Warnings = append(r.Warnings, "X-Forwarded-For is trusted; the listener must sit behind a proxy that overwrites it")
	}
	if in.WildcardCORSOrigin {
		r.Warnings = append(r.Warnings, "cors allows any origin")
	}
	if in.Password.Memory < 64*1024 {
		r.Warnings = append(r.Warnings, "argon2 memory is below 64 MiB")
	}
	if !in.AuditEnabled {
		r.Warnings = append(r.Warnings, "security events are not dispatched")
	}
	return r
}
