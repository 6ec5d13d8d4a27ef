// Package main hosts the stepdeck CLI entrypoint and command graph.
//
// The Cobra-based command tree turns terminal invocations into calls on the
// orchestration engine: starting, watching and cancelling individual pipeline
// steps, running predefined or ad-hoc sequences, browsing the sequence
// history, reading back the daily logs and scaffolding configuration.
// Configuration resolution and engine wiring live in commandContext so
// subcommands only deal with presentation.
package main
