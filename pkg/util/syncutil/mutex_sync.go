// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

//go:build !deadlock

package syncutil

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/petermattis/goid"
)

// A Mutex is a mutual exclusion lock that remembers the goroutine holding
// it, so that callers can assert ownership.
type Mutex struct {
	mu    sync.Mutex
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
// Functions which require that their callers hold a particular lock may use
// this to enforce the requirement more directly than relying on the race
// detector.
func (m *Mutex) AssertHeld() {
	if g := goid.Get(); m.owner.Load() != g {
		panic(errors.AssertionFailedf("mutex not held by goroutine %d", g))
	}
}
