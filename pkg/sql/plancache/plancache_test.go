// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package plancache

import (
	"context"
	"testing"

	"github.com/Arenadata-Labs/gpdb/pkg/sql/mon"
	"github.com/stretchr/testify/require"
)

type stmt struct{}

func (stmt) CanSetTag() bool { return true }
func (stmt) IsUtility() bool { return false }

func TestCachedPlanRefCount(t *testing.T) {
	ctx := context.Background()
	root := mon.NewMonitor("root", mon.NoLimit)
	root.Start(ctx, nil)
	defer root.Stop(ctx)

	plan := NewCachedPlan(ctx, "select-1", []Statement{stmt{}}, root)
	acc := plan.Monitor().MakeBoundAccount()
	require.NoError(t, acc.Grow(ctx, 128))
	require.Equal(t, int64(128), root.AllocBytes())

	require.Same(t, plan, plan.Acquire())
	require.Equal(t, 2, plan.RefCount())

	plan.Release(ctx)
	require.False(t, plan.Monitor().Stopped())
	require.Len(t, plan.Stmts(), 1)

	plan.Release(ctx)
	require.True(t, plan.Monitor().Stopped())
	require.Empty(t, plan.Stmts())
	require.Equal(t, int64(0), root.AllocBytes())

	require.PanicsWithError(t, "select-1: too many releases", func() { plan.Release(ctx) })
	require.Panics(t, func() { plan.Acquire() })
}
