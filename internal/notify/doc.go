// Package notify turns task failures into Telegram alerts.
//
// It listens on the event bus for task.failed events, suppresses repeats of
// the same task inside a configurable window and sends the rest through a
// rate-limited Sender.
package notify
