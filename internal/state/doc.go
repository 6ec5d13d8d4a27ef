// Package state owns the single snapshot describing every step, timer and
// sequence flag the console knows about.
//
// The Store never edits a published snapshot. Writers hand it a partial tree
// that is merged into a fresh clone; readers fetch copies by dotted path
// (for example "processInfo.STEP1" or "isAnySequenceRunning"). Listeners are
// told about changes only when the merge produced a structural difference,
// and property subscriptions narrow that further to a single path.
//
// Typed views (ProcessInfo, StepTimer, StepControl) convert between the tree
// representation and Go structs so callers do not hand-assemble maps.
package state
