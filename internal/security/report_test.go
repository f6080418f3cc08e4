package security

import (
	"testing"
	"time"
)

func hardenedInput() ReportInput {
	return ReportInput{
		SigningAlgorithm: "ed25519",
		AccessTTL:        30 * time.Minute,
		RefreshTTL:       24 * time.Hour,
		Password:         PasswordReport{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32},
		RateLimitEnabled: true,
		LoginLimit:       5,
		LockoutThreshold: 5,
		LockoutDuration:  30 * time.Minute,
		CSRFEnabled:      true,
		CSRFSecureCookie: true,
		CSRFSameSite:     "strict",
		MaxBodyBytes:     10 << 20,
		AuditEnabled:     true,
	}
}

func TestBuildReportHardenedHasNoWarnings(t *testing.T) {
	r := BuildReport(hardenedInput())
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
	if !r.RateLimitingActive || !r.CSRFActive || !r.AuditActive {
		t.Fatalf("expected every stage active: %+v", r)
	}
}

func TestBuildReportWarnings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ReportInput)
		want   string
	}{
		{"debug", func(in *ReportInput) { in.Debug = true }, "debug mode exposes exception details in error responses"},
		{"rate limit off", func(in *ReportInput) { in.RateLimitEnabled = false }, "rate limiting is disabled"},
		{"csrf off", func(in *ReportInput) { in.CSRFEnabled = false }, "csrf protection is disabled"},
		{"insecure cookie", func(in *ReportInput) { in.CSRFSecureCookie = false }, "csrf cookie is sent without the Secure attribute"},
		{"lax cookie", func(in *ReportInput) { in.CSRFSameSite = "lax" }, "csrf cookie SameSite is lax"},
		{"wildcard cors", func(in *ReportInput) { in.WildcardCORSOrigin = true }, "cors allows any origin"},
		{"cheap argon2", func(in *ReportInput) { in.Password.Memory = 8 * 1024 }, "argon2 memory is below 64 MiB"},
		{"audit off", func(in *ReportInput) { in.AuditEnabled = false }, "security events are not dispatched"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := hardenedInput()
			tt.mutate(&in)
			r := BuildReport(in)
			if len(r.Warnings) != 1 || r.Warnings[0] != tt.want {
				t.Fatalf("warnings = %v, want [%q]", r.Warnings, tt.want)
			}
		})
	}
}

func TestBuildReportZeroLoginLimitIsInactive(t *testing.T) {
	in := hardenedInput()
	in.LoginLimit = 0
	if BuildReport(in).RateLimitingActive {
		t.Fatal("expected rate limiting to be reported inactive without a login budget")
	}
}
