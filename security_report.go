package goShield

import (
	"slices"
	"strings"

	"github.com/MrEthical07/goShield/internal/security"
)

// SecurityReport summarizes the active defense posture.
type SecurityReport = security.Report

// SecurityReport derives the posture report from the built configuration.
func (s *Shield) SecurityReport() SecurityReport {
	if s == nil {
		return SecurityReport{}
	}
	cfg := s.config
	hash := cfg.Password.Hash

	return security.BuildReport(security.ReportInput{
		SigningAlgorithm: strings.ToLower(cfg.JWT.SigningMethod),
		AccessTTL:        cfg.JWT.AccessTTL,
		RefreshTTL:       cfg.JWT.RefreshTTL,
		Password: security.PasswordReport{
			Memory:      hash.Memory,
			Time:        hash.Time,
			Parallelism: hash.Parallelism,
			SaltLength:  hash.SaltLength,
			KeyLength:   hash.KeyLength,
		},
		RateLimitEnabled:   s.limiter != nil,
		LoginLimit:         cfg.RateLimit.Policy.Resolve(PathLogin).Limit,
		LockoutThreshold:   cfg.Lockout.MaxFailedAttempts,
		LockoutDuration:    cfg.Lockout.LockoutDuration,
		CSRFEnabled:        s.csrf != nil,
		CSRFSecureCookie:   cfg.CSRF.Secure,
		CSRFSameSite:       strings.ToLower(cfg.CSRF.SameSite),
		MaxBodyBytes:       cfg.RequestSize.MaxBodyBytes,
		AuditEnabled:       s.dispatcher != nil,
		Debug:              cfg.Server.Debug,
		TrustProxy:         cfg.Server.TrustProxy,
		WildcardCORSOrigin: slices.Contains(cfg.Server.AllowedOrigins, "*"),
	})
}
