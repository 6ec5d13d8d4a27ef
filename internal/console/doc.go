// Package console wires the orchestration engine for one CLI process.
//
// New builds the State Store, polling scheduler, pipeline client, step
// lifecycle controller and sequence orchestrator from configuration and
// attaches the optional reporters (ntfy notifications and the SQLite history
// store). Commands hold a *Console for their lifetime and call Close before
// exiting so background polling stops cleanly.
package console
