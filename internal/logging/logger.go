package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"stepdeck/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// Console receives terminal output. Defaults to stderr so command output
	// on stdout stays clean.
	Console io.Writer
	// FilePath, when set, mirrors every record as JSON into the file.
	FilePath string
	// SessionID is attached to file records only.
	SessionID   string
	Development bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)
	addSource := opts.Development || level <= slog.LevelDebug

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	var terminal slog.Handler
	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "json":
		terminal = newJSONHandler(console, level, addSource)
	case "console", "":
		terminal = newPrettyHandler(console, level, addSource)
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	handlers := []slog.Handler{terminal}
	if path := strings.TrimSpace(opts.FilePath); path != "" {
		file, err := openLogFile(path)
		if err != nil {
			return nil, err
		}
		// The file keeps info and above even when the terminal is quieter.
		var fileHandler slog.Handler = newJSONHandler(file, min(level, slog.LevelInfo), addSource)
		if id := strings.TrimSpace(opts.SessionID); id != "" {
			fileHandler = fileHandler.WithAttrs([]slog.Attr{slog.String(FieldSessionID, id)})
		}
		handlers = append(handlers, fileHandler)
	}

	return slog.New(newFanoutHandler(handlers...)), nil
}

// NewFromConfig creates the console logger: terminal output at the configured
// level and format plus a daily JSON file under the log directory. Daily files
// past the retention window are removed.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info", Format: "console"})
	}

	now := time.Now()
	opts := Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		SessionID: uuid.NewString(),
	}
	if dir := strings.TrimSpace(cfg.Paths.LogDir); dir != "" {
		opts.FilePath = DailyLogPath(dir, now)
	}

	logger, err := New(opts)
	if err != nil {
		return nil, err
	}
	if opts.FilePath != "" {
		CleanupOldLogs(logger, cfg.Paths.LogDir, cfg.Logging.RetentionDays, now, opts.FilePath)
	}
	return logger, nil
}

// DailyLogPath returns the log file used for records written on day now.
func DailyLogPath(dir string, now time.Time) string {
	return filepath.Join(dir, "stepdeck-"+now.Format("20060102")+".log")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, nil
}
