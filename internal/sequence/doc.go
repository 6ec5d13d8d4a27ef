// Package sequence runs ordered lists of steps.
//
// An Orchestrator takes the global run-lock (the isAnySequenceRunning flag in
// the state store, optionally backed by a lock file shared between
// processes), initiates each step through the lifecycle controller and waits
// on the store until the step settles before moving on. The first failed
// step aborts the run. The finished Summary is handed to every registered
// Reporter, such as the history store or the ntfy notifier.
package sequence
