// Package lifecycle drives single steps on the remote pipeline.
//
// A Controller initiates and cancels steps, runs one polling task per active
// step ("step-<key>") and one timer task ("timer-<key>"), and keeps the
// step's status record, timer and control state in the state store. All
// failures, whether from initiation, status transport or an exhausted error
// budget, go through Fail so a step never ends up non-terminal with a live
// timer or polling task.
//
// Cancellation is a request: the step is only reported settled once the
// pipeline confirms it, or after a short grace re-poll in which case it is
// marked cancelled locally with return code -9.
package lifecycle
