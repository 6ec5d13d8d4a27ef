package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogsCommandFiltersByStep(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.MkdirAll(env.cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	content := strings.Join([]string{
		`{"ts":"2026-03-01T10:00:00Z","level":"info","msg":"step initiated","component":"lifecycle","step_key":"STEP1"}`,
		`{"ts":"2026-03-01T10:00:02Z","level":"info","msg":"step initiated","component":"lifecycle","step_key":"STEP2"}`,
		"",
	}, "\n")
	if err := os.WriteFile(filepath.Join(env.cfg.Paths.LogDir, "stepdeck-20260301.log"), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "--step", "STEP2"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "STEP2")
	if strings.Contains(out, "STEP1") {
		t.Fatalf("expected STEP1 entries to be filtered out: %q", out)
	}
}

func TestLogsCommandWithoutFiles(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"logs"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "No log files found")
}
