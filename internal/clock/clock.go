// Package clock lets the feed, idle and alert timers run against either
// wall time or a hand-advanced fake in tests.
package clock

import "time"

// Clock is the subset of the time package the notification components use.
type Clock interface {
	Now() time.Time

	// After receives on the returned channel once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// AfterFunc runs f once d has elapsed. Stop on the returned Timer
	// prevents a pending call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stop func() bool
}

// Stop cancels the pending call. It reports false if the call already ran
// or was already stopped.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	return t.stop()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}
