package confloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testConfig struct {
	Server struct {
		Addr           string        `koanf:"addr"`
		AllowedOrigins []string      `koanf:"allowed_origins"`
		ReadTimeout    time.Duration `koanf:"read_timeout"`
	} `koanf:"server"`
	RateLimit struct {
		StoreTimeout time.Duration `koanf:"store_timeout"`
		Enabled      bool          `koanf:"enabled"`
	} `koanf:"rate_limit"`
	Debug bool `koanf:"debug"`
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadKeepsDefaultsForAbsentKeys(t *testing.T) {
	cfg := testConfig{}
	cfg.Server.Addr = ":8080"
	cfg.RateLimit.StoreTimeout = 250 * time.Millisecond

	path := writeFile(t, "config.yaml", "server:\n  read_timeout: 15s\n")
	l := NewLoader(WithEnvPrefix("GSTEST_DEFAULTS_"), WithConfigFile(path), WithEnvFiles(writeFile(t, "empty.env", "")))
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q, want default", cfg.Server.Addr)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.RateLimit.StoreTimeout != 250*time.Millisecond {
		t.Errorf("StoreTimeout = %v, want default", cfg.RateLimit.StoreTimeout)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "server:\n  addr: \":9000\"\nrate_limit:\n  store_timeout: 1s\n")
	t.Setenv("GSTEST_ENV_SERVER__ADDR", ":7000")
	t.Setenv("GSTEST_ENV_RATE_LIMIT__STORE_TIMEOUT", "100ms")
	t.Setenv("GSTEST_ENV_SERVER__ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("GSTEST_ENV_DEBUG", "true")

	var cfg testConfig
	l := NewLoader(WithEnvPrefix("GSTEST_ENV_"), WithConfigFile(path), WithEnvFiles(writeFile(t, "empty.env", "")))
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":7000" {
		t.Errorf("Addr = %q, want env value", cfg.Server.Addr)
	}
	if cfg.RateLimit.StoreTimeout != 100*time.Millisecond {
		t.Errorf("StoreTimeout = %v, want 100ms", cfg.RateLimit.StoreTimeout)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if !cfg.Debug {
		t.Error("Debug should be true")
	}
}

func TestDotEnvFileFeedsEnvironment(t *testing.T) {
	t.Cleanup(func() {
		os.Unsetenv("GSTEST_DOTENV_SERVER__ADDR")
		os.Unsetenv("GSTEST_DOTENV_RATE_LIMIT__ENABLED")
	})

	envFile := writeFile(t, "test.env", "GSTEST_DOTENV_SERVER__ADDR=:6000\nGSTEST_DOTENV_RATE_LIMIT__ENABLED=true\n")

	var cfg testConfig
	l := NewLoader(WithEnvPrefix("GSTEST_DOTENV_"), WithEnvFiles(envFile))
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":6000" || !cfg.RateLimit.Enabled {
		t.Fatalf("unexpected config from .env: %+v", cfg)
	}
}

func TestMissingExplicitEnvFileFails(t *testing.T) {
	l := NewLoader(WithEnvFiles(filepath.Join(t.TempDir(), "missing.env")))
	var cfg testConfig
	if err := l.Load(&cfg); err == nil {
		t.Fatal("expected error for missing explicit .env file")
	}
}

func TestMissingConfigFileFails(t *testing.T) {
	l := NewLoader(WithConfigFile("/nonexistent/goshield.yaml"))
	var cfg testConfig
	if err := l.Load(&cfg); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadMapOverridesEverything(t *testing.T) {
	t.Setenv("GSTEST_MAP_SERVER__ADDR", ":7000")

	var cfg testConfig
	l := NewLoader(WithEnvPrefix("GSTEST_MAP_"), WithEnvFiles(writeFile(t, "empty.env", "")))
	if err := l.LoadEnv(); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if err := l.LoadMap(map[string]any{"server.addr": ":5000", "debug": true}); err != nil {
		t.Fatalf("LoadMap: %v", err)
	}
	if err := l.Unmarshal(&cfg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if cfg.Server.Addr != ":5000" || !cfg.Debug {
		t.Fatalf("flags must win: %+v", cfg)
	}
}

func TestYAMLListStaysAList(t *testing.T) {
	path := writeFile(t, "list.yaml", "server:\n  allowed_origins:\n    - https://a.example,with-comma\n    - https://b.example\n")

	var cfg testConfig
	l := NewLoader(WithConfigFile(path), WithEnvPrefix("GSTEST_LIST_"), WithEnvFiles(writeFile(t, "empty.env", "")))
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"https://a.example,with-comma", "https://b.example"}
	if len(cfg.Server.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %v, want %v", cfg.Server.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.Server.AllowedOrigins[i] != want[i] {
			t.Fatalf("AllowedOrigins = %v, want %v", cfg.Server.AllowedOrigins, want)
		}
	}
}
