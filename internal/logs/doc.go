// Package logs reads back the daily JSON log files written by the console.
//
// Tail returns the last matching entries of a file and, in follow mode, waits
// for new ones from a byte offset. Entries are filtered by step key, sequence
// and minimum level so `stepdeck logs --step STEP1` shows one step's history
// across console sessions.
package logs
