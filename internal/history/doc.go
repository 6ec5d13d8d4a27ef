// Package history persists finished sequence summaries in a SQLite database
// under the state directory.
//
// Store implements sequence.Reporter so the orchestrator can record every run
// without knowing about storage. Each run is one row in sequence_runs with its
// per-step results in sequence_steps; deleting a run cascades to its steps.
// Writes retry briefly on SQLITE_BUSY so that two console processes sharing a
// state directory do not drop summaries.
package history
