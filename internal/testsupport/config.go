package testsupport

import (
	"path/filepath"
	"testing"

	"stepdeck/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Intervals are shortened so polling tests finish quickly. Any provided
// options are applied last.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Polling.IntervalMs = 5
	cfgVal.Polling.FastIntervalMs = 2
	cfgVal.Polling.WaitIntervalMs = 2
	cfgVal.Polling.TimerIntervalMs = 5
	cfgVal.Monitoring.CancelGraceIntervalMs = 2
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithPipelineURL points the test config at a fake pipeline.
func WithPipelineURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.BaseURL = url
	}
}

// WithNtfyTopic enables notifications against the given endpoint.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// WithLockFile enables the cross-process sequence lock under the temp dir.
func WithLockFile() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.LockFile = filepath.Join(b.baseDir, "state", "sequence.lock")
	}
}

// WithSequence appends a predefined sequence.
func WithSequence(name string, steps ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sequences = append(b.cfg.Sequences, config.Sequence{Name: name, Steps: steps})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
