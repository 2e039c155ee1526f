// Package clock abstracts the time operations used by the realtime
// connection so that keepalive, staleness and backoff timers can be
// driven deterministically in tests.
//
// Production code injects Real(); tests inject Fake() and move time
// forward with Advance.
package clock

import "time"

// Clock is the subset of the time package the connection layer uses.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for d, then calls f in its own goroutine (real)
	// or synchronously from Advance (fake).
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending AfterFunc call.
type Timer interface {
	// Stop prevents the timer from firing. Returns false if the timer
	// already fired or was already stopped.
	Stop() bool
}

// Since returns the time elapsed since t according to c.
func Since(c Clock, t time.Time) time.Duration {
	return c.Now().Sub(t)
}
