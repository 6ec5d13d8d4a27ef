package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"stepdeck/internal/state"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 14
	statusIndent     = "  "
	runIDDisplayLen  = 8
)

var titleCaser = cases.Title(language.Und)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + line + ansiReset
		}
	}
	return line
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func stepStatusKind(info state.ProcessInfo) statusKind {
	switch {
	case info.Cancelled():
		return statusWarn
	case info.Status == state.StatusCompleted:
		return statusOK
	case info.Status == state.StatusFailed:
		return statusError
	default:
		return statusInfo
	}
}

// describeStep summarizes a status record on one line.
func describeStep(info state.ProcessInfo) string {
	status := string(info.Status)
	if status == "" {
		status = "unknown"
	}
	if info.Cancelled() && info.Status != state.StatusCancelled {
		status += " (cancelled)"
	}
	parts := []string{status}
	if pct := info.Percent(); pct >= 0 {
		parts = append(parts, formatPercent(pct))
	}
	if text := strings.TrimSpace(info.ProgressText); text != "" {
		parts = append(parts, text)
	}
	if info.ReturnCode != nil {
		parts = append(parts, "rc="+strconv.Itoa(*info.ReturnCode))
	}
	if info.ErrorMessage != "" {
		parts = append(parts, info.ErrorMessage)
	}
	return strings.Join(parts, " · ")
}

func formatPercent(pct float64) string {
	return strconv.FormatFloat(pct, 'f', 1, 64) + "%"
}

// displayName title-cases a sequence name for headings.
func displayName(name string) string {
	name = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(name))
	if name == "" {
		return ""
	}
	return titleCaser.String(name)
}

func shortRunID(id string) string {
	if len(id) > runIDDisplayLen {
		return id[:runIDDisplayLen]
	}
	return id
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.In(time.Local).Format("2006-01-02 15:04:05")
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// progressPrinter prints a step line whenever the visible status changes.
type progressPrinter struct {
	out      io.Writer
	stepKey  string
	colorize bool
	last     string
}

func newProgressPrinter(out io.Writer, stepKey string) *progressPrinter {
	return &progressPrinter{out: out, stepKey: stepKey, colorize: shouldColorize(out)}
}

func (p *progressPrinter) update(info state.ProcessInfo) {
	line := describeStep(info)
	if line == p.last {
		return
	}
	p.last = line
	fmt.Fprintln(p.out, renderStatusLine(p.stepKey, stepStatusKind(info), line, p.colorize))
}
