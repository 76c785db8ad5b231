// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package mon

import (
	"context"
	"testing"

	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgcode"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgerror"
	"github.com/stretchr/testify/require"
)

func TestMonitorHierarchy(t *testing.T) {
	ctx := context.Background()
	root := NewMonitor("root", 1000)
	root.Start(ctx, nil)
	child := NewMonitor("child", NoLimit)
	child.Start(ctx, root)
	grandchild := NewMonitor("grandchild", 100)
	grandchild.Start(ctx, child)

	acc := grandchild.MakeBoundAccount()
	require.NoError(t, acc.Grow(ctx, 60))
	require.Equal(t, int64(60), root.AllocBytes())
	require.Equal(t, int64(60), child.AllocBytes())

	err := acc.Grow(ctx, 60)
	require.Error(t, err)
	require.Equal(t, pgcode.OutOfMemory, pgerror.GetPGCode(err))
	require.Contains(t, err.Error(), "grandchild: memory budget exceeded")
	require.Equal(t, int64(60), acc.Used())

	acc.Shrink(ctx, 20)
	require.Equal(t, int64(40), root.AllocBytes())

	// Stopping the child releases the grandchild's bytes as well.
	child.Stop(ctx)
	require.True(t, grandchild.Stopped())
	require.Equal(t, int64(0), root.AllocBytes())
	require.Equal(t, int64(60), root.MaximumBytes())
	require.Equal(t, 0, root.NumChildren())

	// Closing an account of a stopped monitor is harmless.
	acc.Close(ctx)
	require.Equal(t, int64(0), acc.Used())

	root.Stop(ctx)
}

func TestMonitorParentLimit(t *testing.T) {
	ctx := context.Background()
	root := NewMonitor("session", 100)
	root.Start(ctx, nil)
	defer root.Stop(ctx)
	a := NewMonitor("a", NoLimit)
	a.Start(ctx, root)
	b := NewMonitor("b", NoLimit)
	b.Start(ctx, root)

	accA, accB := a.MakeBoundAccount(), b.MakeBoundAccount()
	require.NoError(t, accA.Grow(ctx, 70))
	require.ErrorContains(t, accB.Grow(ctx, 70), "session: memory budget exceeded")
	require.Equal(t, int64(0), b.AllocBytes())
	a.Stop(ctx)
	require.NoError(t, accB.Grow(ctx, 70))
	root.StopChildren(ctx)
	require.True(t, b.Stopped())
	require.Equal(t, int64(0), root.AllocBytes())
}

func TestMonitorMisuse(t *testing.T) {
	ctx := context.Background()
	m := NewMonitor("m", NoLimit)
	acc := m.MakeBoundAccount()
	require.ErrorContains(t, acc.Grow(ctx, 1), "not running")

	m.Start(ctx, nil)
	m.Stop(ctx)
	require.Panics(t, func() { m.Stop(ctx) })
	require.ErrorContains(t, acc.Grow(ctx, 1), "not running")

	var nilAcc *BoundAccount
	require.NoError(t, nilAcc.Grow(ctx, 10))
}
