// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package timeout

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgcode"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgerror"
	"github.com/Arenadata-Labs/gpdb/pkg/util/syncutil"
	"github.com/Arenadata-Labs/gpdb/pkg/util/timeutil"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestRegisterUserSlots(t *testing.T) {
	m := NewMultiplexer()
	noop := func() {}
	for i := 0; i < int(MaxTimeouts-UserTimeout); i++ {
		id, err := m.Register(UserTimeout, noop)
		require.NoError(t, err)
		require.Equal(t, UserTimeout+ID(i), id)
	}
	_, err := m.Register(UserTimeout, noop)
	require.True(t, errors.Is(err, ErrConfigurationLimitExceeded))
	require.Equal(t, pgcode.ConfigurationLimitExceeded, pgerror.GetPGCode(err))

	id, err := m.Register(StatementTimeout, noop)
	require.NoError(t, err)
	require.Equal(t, StatementTimeout, id)
	_, err = m.Register(StatementTimeout, noop)
	require.True(t, errors.HasAssertionFailure(err))

	require.True(t, errors.HasAssertionFailure(m.EnableAfter(LockTimeout, time.Second)))
}

func TestTimeoutsFireInOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMultiplexer()
	m.Start(ctx)
	defer m.Close()

	var mu syncutil.Mutex
	var fired []ID
	record := func(id ID) Handler {
		return func() {
			mu.Lock()
			defer mu.Unlock()
			fired = append(fired, id)
		}
	}
	for _, id := range []ID{StatementTimeout, LockTimeout, IdleSessionTimeout} {
		_, err := m.Register(id, record(id))
		require.NoError(t, err)
	}

	now := timeutil.Now()
	require.NoError(t, m.EnableAll([]Spec{
		{ID: LockTimeout, FinTime: now.Add(20 * time.Millisecond)},
		{ID: StatementTimeout, Delay: 5 * time.Millisecond},
		{ID: IdleSessionTimeout, Delay: time.Hour},
	}))
	require.Equal(t, 3, m.NumActive())
	require.Equal(t, now.Add(20*time.Millisecond), m.FinishTime(LockTimeout))
	require.False(t, m.StartTime(StatementTimeout).Before(now))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 2
	}, 10*time.Second, time.Millisecond)

	mu.Lock()
	require.Equal(t, []ID{StatementTimeout, LockTimeout}, fired)
	mu.Unlock()
	require.True(t, m.Indicator(LockTimeout, false /* reset */))
	require.True(t, m.Indicator(StatementTimeout, true /* reset */))
	require.False(t, m.Indicator(StatementTimeout, false))
	require.False(t, m.IsActive(StatementTimeout))
	require.True(t, m.IsActive(IdleSessionTimeout))

	m.DisableAll(false /* keepIndicators */)
	require.Zero(t, m.NumActive())
	require.False(t, m.Indicator(LockTimeout, false))
}

func TestDisableBeforeFiring(t *testing.T) {
	ctx := context.Background()
	m := NewMultiplexer()
	m.Start(ctx)
	defer m.Close()

	var calls atomic.Int32
	_, err := m.Register(StatementTimeout, func() { calls.Add(1) })
	require.NoError(t, err)
	var other atomic.Bool
	_, err = m.Register(DeadlockTimeout, func() { other.Store(true) })
	require.NoError(t, err)

	require.NoError(t, m.EnableAfter(StatementTimeout, 50*time.Millisecond))
	require.NoError(t, m.EnableAfter(DeadlockTimeout, 100*time.Millisecond))
	m.Disable(StatementTimeout, false /* keepIndicator */)
	require.False(t, m.IsActive(StatementTimeout))

	// Re-enabling a reason reschedules it.
	require.NoError(t, m.EnableAt(DeadlockTimeout, timeutil.Now().Add(time.Millisecond)))
	require.Eventually(t, other.Load, 10*time.Second, time.Millisecond)
	require.Zero(t, calls.Load())
}

func TestCloseWithoutStart(t *testing.T) {
	m := NewMultiplexer()
	_, err := m.Register(StatementTimeout, func() {})
	require.NoError(t, err)
	require.NoError(t, m.EnableAfter(StatementTimeout, time.Millisecond))

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		m.Close()
		m.Close()
	}()
	select {
	case <-closed:
	case <-time.After(10 * time.Second):
		t.Fatal("Close blocked on a multiplexer that was never started")
	}

	// Starting after Close exits immediately and leaves Close a no-op.
	m.Start(context.Background())
	m.Close()
}
