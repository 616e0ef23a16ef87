// Package watch keeps a long-lived ingress watch open and feeds its events to
// a handler.
//
// # State Machine
//
// A Session moves through four states:
//
//	Disconnected -> Connecting -> Streaming -> Disconnected
//	                                        -> Closing
//
// The first connection is made immediately. Whenever the stream ends, for any
// reason, the session returns to Disconnected, waits the configured reconnect
// delay and connects again. There is no limit on reconnection attempts.
// Cancelling the context passed to Run moves the session to Closing and stops
// the active stream.
//
// # Resume
//
// The session remembers the resource version of the last event it saw and
// subscribes from it on reconnect, so events delivered before the break are
// not delivered again. An expired resource version (HTTP 410) resets it and
// the next subscription starts from the current state.
//
// # Event Handling
//
// Events are handled one at a time on the session goroutine. Handler errors
// and panics are logged and never stop the session. A handler runs on a
// context that is not cancelled by shutdown so an in-flight DNS update can
// finish; provider calls bound it with their own timeout.
package watch
