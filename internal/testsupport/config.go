package testsupport

import (
	"path/filepath"
	"testing"

	"cardiolink/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.IncomingDir = filepath.Join(base, "incoming")
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithTolerance overrides the matching window tolerance in minutes.
func WithTolerance(minutes int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Matching.WindowToleranceMinutes = minutes
	}
}

// WithLocale overrides the date token locale.
func WithLocale(locale string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Matching.DateTokenLocale = locale
	}
}

// WithRemote points the remote object store section at a test server.
func WithRemote(baseURL, bucket, token string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Remote.Enabled = true
		cfg.Remote.BaseURL = baseURL
		cfg.Remote.Bucket = bucket
		cfg.Remote.APIToken = token
	}
}
