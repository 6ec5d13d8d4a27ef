package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Pipeline describes how to reach the remote processing pipeline.
type Pipeline struct {
	BaseURL        string `toml:"base_url"`
	APIToken       string `toml:"api_token"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Polling contains intervals and budgets for status refresh work.
type Polling struct {
	IntervalMs      int `toml:"interval_ms"`
	FastIntervalMs  int `toml:"fast_interval_ms"`
	MaxErrors       int `toml:"max_errors"`
	WaitIntervalMs  int `toml:"wait_interval_ms"`
	TimerIntervalMs int `toml:"timer_interval_ms"`
}

// Monitoring contains the system-wide monitoring modes and cancellation
// follow-up behaviour.
type Monitoring struct {
	// Fast switches step polling to the high-frequency interval.
	Fast bool `toml:"fast"`
	// Continuous keeps polling steps that report idle.
	Continuous            bool `toml:"continuous"`
	CancelGraceAttempts   int  `toml:"cancel_grace_attempts"`
	CancelGraceIntervalMs int  `toml:"cancel_grace_interval_ms"`
	MessageLimit          int  `toml:"message_limit"`
}

// Paths contains local directories used by the console.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	// LockFile guards sequence runs across console processes. Empty disables it.
	LockFile string `toml:"lock_file"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	StepCompleted  bool   `toml:"step_completed"`
	StepFailed     bool   `toml:"step_failed"`
	Sequences      bool   `toml:"sequences"`
}

// History controls persistence of sequence summaries.
type History struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`

	// RetentionDays prunes daily log files older than this many days. Zero keeps everything.
	RetentionDays int `toml:"retention_days"`
}

// Sequence is a named, ordered list of step keys.
type Sequence struct {
	Name  string   `toml:"name"`
	Steps []string `toml:"steps"`
}

// Config encapsulates all configuration values for stepdeck.
//
// Configuration sections by subsystem:
//   - Pipeline: remote endpoint and credentials
//   - Polling: status refresh cadence and error budget
//   - Monitoring: fast/continuous modes and cancellation follow-up
//   - Paths: state, log and lock file locations
//   - Notifications: ntfy push notification settings
//   - History: sequence summary persistence
//   - Logging: log format and level
//   - Sequences: predefined step sequences
type Config struct {
	Pipeline      Pipeline      `toml:"pipeline"`
	Polling       Polling       `toml:"polling"`
	Monitoring    Monitoring    `toml:"monitoring"`
	Paths         Paths         `toml:"paths"`
	Notifications Notifications `toml:"notifications"`
	History       History       `toml:"history"`
	Logging       Logging       `toml:"logging"`
	Sequences     []Sequence    `toml:"sequences"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("stepdeck.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// HistoryPath returns the location of the sequence history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// PollInterval is the default step polling interval.
func (c *Config) PollInterval() time.Duration {
	return millis(c.Polling.IntervalMs)
}

// FastPollInterval is the step polling interval while fast monitoring is on.
func (c *Config) FastPollInterval() time.Duration {
	return millis(c.Polling.FastIntervalMs)
}

// WaitInterval is how often the orchestrator samples the state store while
// waiting on a step.
func (c *Config) WaitInterval() time.Duration {
	return millis(c.Polling.WaitIntervalMs)
}

// TimerInterval is the step timer refresh cadence.
func (c *Config) TimerInterval() time.Duration {
	return millis(c.Polling.TimerIntervalMs)
}

// CancelGraceInterval is the delay between post-cancel status checks.
func (c *Config) CancelGraceInterval() time.Duration {
	return millis(c.Monitoring.CancelGraceIntervalMs)
}

// RequestTimeout bounds a single pipeline HTTP request.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Pipeline.RequestTimeout) * time.Second
}

// SequenceByName returns the predefined sequence with the given name.
func (c *Config) SequenceByName(name string) (Sequence, bool) {
	name = strings.TrimSpace(name)
	for _, seq := range c.Sequences {
		if strings.EqualFold(seq.Name, name) {
			return seq, true
		}
	}
	return Sequence{}, false
}

func millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
