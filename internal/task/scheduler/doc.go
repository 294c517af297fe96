// Package scheduler keeps a registry of named tasks and fires each one at most
// once per matching second.
//
// A single tick loop wakes on every whole-second boundary. For each task it
// asks the execution guard whether the task may start (not running and not
// already fired this second) and the schedule whether the current time is due.
// Survivors are handed to a Dispatcher, normally the task engine, which runs
// the body on its own goroutine and reports completion back so the guard can
// clear the running flag.
package scheduler
