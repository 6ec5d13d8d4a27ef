package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"stepdeck/internal/config"
	"stepdeck/internal/console"
	"stepdeck/internal/history"
)

// errReported marks a failure whose details were already printed.
var errReported = errors.New("failure reported")

type commandContext struct {
	configFlag  *string
	consoleOpts []console.Option

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string, opts ...console.Option) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		consoleOpts: opts,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(c.configFlagValue())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

func (c *commandContext) configFlagValue() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// withConsole wires the engine for one command. The context passed to fn is
// cancelled on SIGINT or SIGTERM.
func (c *commandContext) withConsole(cmd *cobra.Command, fn func(context.Context, *console.Console) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	con, err := console.New(runCtx, cfg, c.consoleOpts...)
	if err != nil {
		return err
	}
	defer con.Close()
	return fn(runCtx, con)
}

// withHistory opens the history database without wiring the engine.
func (c *commandContext) withHistory(fn func(*config.Config, *history.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := history.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
