package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	c.normalizePipeline()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePolling()
	c.normalizeNotifications()
	c.normalizeLogging()
	c.normalizeSequences()
	return nil
}

func (c *Config) normalizePipeline() {
	if value, ok := os.LookupEnv(envPipelineURL); ok && strings.TrimSpace(value) != "" {
		c.Pipeline.BaseURL = value
	}
	if value, ok := os.LookupEnv(envPipelineToken); ok && strings.TrimSpace(c.Pipeline.APIToken) == "" {
		c.Pipeline.APIToken = value
	}
	c.Pipeline.BaseURL = strings.TrimRight(strings.TrimSpace(c.Pipeline.BaseURL), "/")
	c.Pipeline.APIToken = strings.TrimSpace(c.Pipeline.APIToken)
	if c.Pipeline.RequestTimeout <= 0 {
		c.Pipeline.RequestTimeout = defaultPipelineRequestTimeout
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LockFile) != "" {
		if c.Paths.LockFile, err = expandPath(c.Paths.LockFile); err != nil {
			return fmt.Errorf("paths.lock_file: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizePolling() {
	if c.Polling.IntervalMs <= 0 {
		c.Polling.IntervalMs = defaultPollIntervalMs
	}
	if c.Polling.FastIntervalMs <= 0 {
		c.Polling.FastIntervalMs = defaultFastPollIntervalMs
	}
	if c.Polling.WaitIntervalMs <= 0 {
		c.Polling.WaitIntervalMs = c.Polling.IntervalMs / 2
	}
	if c.Polling.TimerIntervalMs <= 0 {
		c.Polling.TimerIntervalMs = defaultTimerIntervalMs
	}
	if c.Monitoring.CancelGraceIntervalMs <= 0 {
		c.Monitoring.CancelGraceIntervalMs = defaultCancelGraceIntervalMs
	}
	if c.Monitoring.MessageLimit <= 0 {
		c.Monitoring.MessageLimit = defaultMessageLimit
	}
}

func (c *Config) normalizeNotifications() {
	if value, ok := os.LookupEnv(envNtfyTopic); ok && strings.TrimSpace(c.Notifications.NtfyTopic) == "" {
		c.Notifications.NtfyTopic = value
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level

	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeSequences() {
	for i := range c.Sequences {
		c.Sequences[i].Name = strings.TrimSpace(c.Sequences[i].Name)
		steps := make([]string, 0, len(c.Sequences[i].Steps))
		for _, step := range c.Sequences[i].Steps {
			if step = strings.TrimSpace(step); step != "" {
				steps = append(steps, step)
			}
		}
		c.Sequences[i].Steps = steps
	}
}
