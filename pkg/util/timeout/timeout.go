// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package timeout multiplexes any number of timeouts over a single timer.
// Each timeout reason has a handler that runs on the multiplexer's
// goroutine when the reason fires. Handlers must only set flags: the
// session goroutine acts on them at its next safe point.
package timeout

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgcode"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgerror"
	"github.com/Arenadata-Labs/gpdb/pkg/util/log"
	"github.com/Arenadata-Labs/gpdb/pkg/util/syncutil"
	"github.com/Arenadata-Labs/gpdb/pkg/util/timeutil"
	"github.com/cockroachdb/errors"
	"github.com/google/btree"
)

// ID identifies a timeout reason.
type ID int

// Predefined timeout reasons.
const (
	DeadlockTimeout ID = iota
	StatementTimeout
	LockTimeout
	IdleInTransactionSessionTimeout
	IdleSessionTimeout
	// UserTimeout is the first reason available to Register callers that
	// don't use a predefined one.
	UserTimeout
)

// MaxTimeouts bounds the number of reasons, predefined and user.
const MaxTimeouts = UserTimeout + 10

// ErrConfigurationLimitExceeded is returned by Register when every user
// slot is taken.
var ErrConfigurationLimitExceeded = pgerror.New(pgcode.ConfigurationLimitExceeded,
	"cannot add more timeout reasons")

// Handler is called when a timeout fires.
type Handler func()

type reason struct {
	id        ID
	handler   Handler
	indicator bool
	active    bool
	startTime time.Time
	finTime   time.Time
}

func lessReason(a, b *reason) bool {
	if !a.finTime.Equal(b.finTime) {
		return a.finTime.Before(b.finTime)
	}
	return a.id < b.id
}

// Multiplexer owns the timer shared by every timeout reason.
type Multiplexer struct {
	wake    chan struct{}
	stopper chan struct{}
	done    chan struct{}
	// started is set once the timer goroutine, which closes done, runs.
	started atomic.Bool

	mu struct {
		syncutil.Mutex
		reasons [MaxTimeouts]reason
		// active is ordered by finish time, then by id.
		active *btree.BTreeG[*reason]
	}
}

// NewMultiplexer creates a multiplexer. Start must be called before any
// timeout can fire.
func NewMultiplexer() *Multiplexer {
	m := &Multiplexer{
		wake:    make(chan struct{}, 1),
		stopper: make(chan struct{}),
		done:    make(chan struct{}),
	}
	m.mu.active = btree.NewG(8, lessReason)
	for i := range m.mu.reasons {
		m.mu.reasons[i].id = ID(i)
	}
	return m
}

// Start runs the timer goroutine until Close. Calls after the first are
// no-ops.
func (m *Multiplexer) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go m.run(ctx)
}

// Close stops the timer goroutine. Pending timeouts never fire.
func (m *Multiplexer) Close() {
	select {
	case <-m.stopper:
		return
	default:
	}
	close(m.stopper)
	if m.started.Load() {
		<-m.done
	}
}

// Register installs handler for id. If id is UserTimeout, the first free
// user slot is taken and returned.
func (m *Multiplexer) Register(id ID, handler Handler) (ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 || id >= MaxTimeouts {
		return 0, errors.AssertionFailedf("invalid timeout reason %d", id)
	}
	if id >= UserTimeout {
		for id = UserTimeout; id < MaxTimeouts; id++ {
			if m.mu.reasons[id].handler == nil {
				break
			}
		}
		if id >= MaxTimeouts {
			return 0, ErrConfigurationLimitExceeded
		}
	} else if m.mu.reasons[id].handler != nil {
		return 0, errors.AssertionFailedf("timeout reason %d registered twice", id)
	}
	m.mu.reasons[id].handler = handler
	m.mu.reasons[id].indicator = false
	return id, nil
}

// EnableAfter schedules id to fire after delay.
func (m *Multiplexer) EnableAfter(id ID, delay time.Duration) error {
	now := timeutil.Now()
	return m.enable(id, now, now.Add(delay))
}

// EnableAt schedules id to fire at finTime.
func (m *Multiplexer) EnableAt(id ID, finTime time.Time) error {
	return m.enable(id, timeutil.Now(), finTime)
}

// Spec is one entry of a batch passed to EnableAll.
type Spec struct {
	ID ID
	// Exactly one of Delay and FinTime is used: FinTime when non-zero.
	Delay   time.Duration
	FinTime time.Time
}

// EnableAll schedules several reasons at once, rescheduling the timer only
// once.
func (m *Multiplexer) EnableAll(specs []Spec) error {
	now := timeutil.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range specs {
		fin := s.FinTime
		if fin.IsZero() {
			fin = now.Add(s.Delay)
		}
		if err := m.enableLocked(s.ID, now, fin); err != nil {
			return err
		}
	}
	m.poke()
	return nil
}

func (m *Multiplexer) enable(id ID, now, finTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enableLocked(id, now, finTime); err != nil {
		return err
	}
	m.poke()
	return nil
}

func (m *Multiplexer) enableLocked(id ID, now, finTime time.Time) error {
	if id < 0 || id >= MaxTimeouts || m.mu.reasons[id].handler == nil {
		return errors.AssertionFailedf("timeout reason %d is not registered", id)
	}
	r := &m.mu.reasons[id]
	if r.active {
		m.mu.active.Delete(r)
	}
	r.indicator = false
	r.active = true
	r.startTime = now
	r.finTime = finTime
	m.mu.active.ReplaceOrInsert(r)
	return nil
}

// Disable cancels id if it is active. The indicator is cleared unless
// keepIndicator is set.
func (m *Multiplexer) Disable(id ID, keepIndicator bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disableLocked(id, keepIndicator)
	m.poke()
}

// DisableAll cancels every active reason.
func (m *Multiplexer) DisableAll(keepIndicators bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.mu.reasons {
		m.disableLocked(ID(id), keepIndicators)
	}
	m.poke()
}

func (m *Multiplexer) disableLocked(id ID, keepIndicator bool) {
	if id < 0 || id >= MaxTimeouts {
		return
	}
	r := &m.mu.reasons[id]
	if r.active {
		m.mu.active.Delete(r)
		r.active = false
	}
	if !keepIndicator {
		r.indicator = false
	}
}

// IsActive returns whether id is scheduled.
func (m *Multiplexer) IsActive(id ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.reasons[id].active
}

// NumActive returns the number of scheduled reasons.
func (m *Multiplexer) NumActive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.active.Len()
}

// Indicator returns whether id has fired since it was last enabled or
// reset. The indicator is cleared if reset is set.
func (m *Multiplexer) Indicator(id ID, reset bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &m.mu.reasons[id]
	fired := r.indicator
	if fired && reset {
		r.indicator = false
	}
	return fired
}

// StartTime returns when id was last enabled.
func (m *Multiplexer) StartTime(id ID) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.reasons[id].startTime
}

// FinishTime returns when id is, or was last, due to fire.
func (m *Multiplexer) FinishTime(id ID) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.reasons[id].finTime
}

// poke wakes the timer goroutine so it reschedules.
func (m *Multiplexer) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// nextLocked returns the earliest finish time, if any.
func (m *Multiplexer) nextLocked() (time.Time, bool) {
	r, ok := m.mu.active.Min()
	if !ok {
		return time.Time{}, false
	}
	return r.finTime, true
}

// fireDue marks every due reason as fired and returns their handlers, in
// finish time order.
func (m *Multiplexer) fireDue(now time.Time) []Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []Handler
	for {
		r, ok := m.mu.active.Min()
		if !ok || r.finTime.After(now) {
			break
		}
		m.mu.active.DeleteMin()
		r.active = false
		r.indicator = true
		due = append(due, r.handler)
	}
	return due
}

func (m *Multiplexer) run(ctx context.Context) {
	defer close(m.done)
	var timer timeutil.Timer
	defer timer.Stop()
	schedule := func() {
		m.mu.Lock()
		next, ok := m.nextLocked()
		m.mu.Unlock()
		if !ok {
			timer.Stop()
			return
		}
		timer.Reset(timeutil.Until(next))
	}
	for {
		select {
		case <-m.stopper:
			return
		case <-m.wake:
			schedule()
		case <-timer.C:
			timer.Read = true
			for _, h := range m.fireDue(timeutil.Now()) {
				h()
			}
			log.VEventf(ctx, 3, "timeouts fired, %d still active", m.NumActive())
			schedule()
		}
	}
}
