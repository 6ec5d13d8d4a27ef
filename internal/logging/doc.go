// Package logging assembles structured slog loggers and formatting helpers used
// across stepdeck components.
//
// A logger built from config writes human-readable (or JSON) records to the
// terminal and mirrors them as JSON into a daily file under the log
// directory, tagged with a per-process session id so that concurrent console
// processes can be told apart. Old daily files are pruned at startup.
//
// Context helpers tag log lines with step keys, sequence names and run
// identifiers; the console handler turns those into a short subject in front
// of each message. The package also provides a no-op logger for tests and a
// progress sampler that keeps high-frequency polling from flooding the log.
package logging
