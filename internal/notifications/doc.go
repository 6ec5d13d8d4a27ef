// Package notifications publishes passive ntfy alerts about step and
// sequence outcomes.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers can publish unconditionally. Notifications never change what the
// orchestration core does; a failed delivery is logged and forgotten.
package notifications
