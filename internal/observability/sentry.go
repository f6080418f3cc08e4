package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryConfig configures error capture. An empty DSN disables it.
type SentryConfig struct {
	DSN         string  `koanf:"dsn"`
	Environment string  `koanf:"environment"`
	Release     string  `koanf:"release"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// InitSentry installs the global Sentry client. It reports whether capture
// is enabled.
func InitSentry(cfg SentryConfig) (bool, error) {
	if cfg.DSN == "" {
		return false, nil
	}
	rate := cfg.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		SampleRate:       rate,
		AttachStacktrace: true,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// FlushSentry waits up to two seconds for buffered events.
func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
