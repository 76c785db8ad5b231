// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

//go:build deadlock

package syncutil

import (
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/petermattis/goid"
	deadlock "github.com/sasha-s/go-deadlock"
)

func init() {
	deadlock.Opts.DeadlockTimeout = 5 * time.Minute
}

// A Mutex is a mutual exclusion lock that reports lock-order violations
// and locks held for longer than the deadlock timeout.
type Mutex struct {
	mu    deadlock.Mutex
	owner atomic.Int64
}

// Lock locks m.
func (m *Mutex) Lock() {
	m.mu.Lock()
	m.owner.Store(goid.Get())
}

// Unlock unlocks m.
func (m *Mutex) Unlock() {
	m.owner.Store(0)
	m.mu.Unlock()
}

// AssertHeld panics if the mutex is not held by the calling goroutine.
func (m *Mutex) AssertHeld() {
	if g := goid.Get(); m.owner.Load() != g {
		panic(errors.AssertionFailedf("mutex not held by goroutine %d", g))
	}
}
