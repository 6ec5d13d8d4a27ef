// Package polling runs named, repeating callbacks with a per-task
// consecutive-error budget.
//
// Each task is keyed by id; starting a task whose id is already registered
// tears the old one down first, and a per-id run lock guarantees that two
// invocations for the same id never overlap, even across restarts. The next
// tick is scheduled only after the current callback returns, so a slow
// callback delays rather than stacks its successors.
//
// When the budget is spent the task removes itself and calls the optional
// OnExhausted hook. What that means for the work being polled is the
// caller's decision.
package polling
