// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package timeutil

import (
	"sync"
	"time"
)

var timeTimerPool sync.Pool

// The Timer type represents a single event. When the Timer expires,
// the current time will be sent on Timer.C.
//
// Unlike the standard library's Timer type, this Timer does not begin
// counting down until Reset is called for the first time. The zero value is
// ready to use. Stopped timers are returned to a pool.
type Timer struct {
	timer *time.Timer
	// C is a local "copy" of timer.C that can be used in a select case before
	// the timer has been initialized (via Reset).
	C <-chan time.Time
	// Read must be set to true by the caller after receiving from C, so that
	// Reset knows the channel is already drained.
	Read bool
}

// Reset changes the timer to expire after duration d.
func (t *Timer) Reset(d time.Duration) {
	if t.timer == nil {
		switch timer := timeTimerPool.Get(); timer {
		case nil:
			t.timer = time.NewTimer(d)
		default:
			t.timer = timer.(*time.Timer)
			t.timer.Reset(d)
		}
		t.C = t.timer.C
		t.Read = false
		return
	}
	if !t.timer.Stop() && !t.Read {
		select {
		case <-t.C:
		default:
		}
	}
	t.timer.Reset(d)
	t.Read = false
}

// Stop prevents the Timer from firing. It returns true if the call stops
// the timer, false if the timer has already expired, been stopped previously,
// or had never been initialized with a call to Reset.
func (t *Timer) Stop() bool {
	var res bool
	if t.timer != nil {
		res = t.timer.Stop()
		if res || t.Read {
			// The channel is known to be empty, so the timer can be reused.
			timeTimerPool.Put(t.timer)
		}
	}
	*t = Timer{}
	return res
}
