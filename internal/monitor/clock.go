package monitor

import "time"

// Clock abstracts timer scheduling so tests can step time deterministically
// instead of sleeping through real poll intervals.
type Clock interface {
	Now() time.Time
	// NewTimer returns a timer that fires once after d.
	NewTimer(d time.Duration) Timer
	// AfterFunc runs fn after d unless the returned timer is stopped first.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	// C is the firing channel. Timers created with AfterFunc never signal C.
	C() <-chan time.Time
	// Stop cancels the timer. Returns false if it already fired or was stopped.
	Stop() bool
}

// RealClock schedules on the runtime timers.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

func (RealClock) AfterFunc(d time.Duration, fn func()) Timer {
	return &realTimer{t: time.AfterFunc(d, fn)}
}

type realTimer struct {
	t *time.Timer
}

func (rt *realTimer) C() <-chan time.Time { return rt.t.C }
func (rt *realTimer) Stop() bool          { return rt.t.Stop() }
