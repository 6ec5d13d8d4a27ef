package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validatePolling(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateSequences(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.BaseURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("pipeline.base_url is required. Set %s or edit %s (create with 'stepdeck config init')", envPipelineURL, defaultPath)
	}
	parsed, err := url.Parse(c.Pipeline.BaseURL)
	if err != nil {
		return fmt.Errorf("pipeline.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("pipeline.base_url must use http or https, got %q", c.Pipeline.BaseURL)
	}
	return nil
}

func (c *Config) validatePolling() error {
	if c.Polling.MaxErrors < 1 {
		return errors.New("polling.max_errors must be at least 1")
	}
	if c.Polling.FastIntervalMs > c.Polling.IntervalMs {
		return errors.New("polling.fast_interval_ms must not exceed polling.interval_ms")
	}
	if c.Monitoring.CancelGraceAttempts < 0 {
		return errors.New("monitoring.cancel_grace_attempts must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateSequences() error {
	seen := make(map[string]struct{}, len(c.Sequences))
	for i, seq := range c.Sequences {
		if seq.Name == "" {
			return fmt.Errorf("sequences[%d].name must be set", i)
		}
		key := strings.ToLower(seq.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("sequences[%d]: duplicate name %q", i, seq.Name)
		}
		seen[key] = struct{}{}
		if len(seq.Steps) == 0 {
			return fmt.Errorf("sequence %q must list at least one step", seq.Name)
		}
		for _, step := range seq.Steps {
			if strings.Contains(step, ".") || strings.Contains(step, "/") {
				return fmt.Errorf("sequence %q: invalid step key %q", seq.Name, step)
			}
		}
	}
	return nil
}
