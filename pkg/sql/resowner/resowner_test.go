// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package resowner

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []string
}

func (r *recorder) resource(name string) Resource {
	return ResourceFunc(func(_ context.Context, isCommit bool) error {
		r.events = append(r.events, fmt.Sprintf("%s commit=%t", name, isCommit))
		return nil
	})
}

func TestReleaseOrder(t *testing.T) {
	ctx := context.Background()
	var rec recorder
	top := NewOwner(nil, "top")
	portal := NewOwner(top, "portal")
	require.NoError(t, top.Remember(BeforeLocks, rec.resource("top pin")))
	require.NoError(t, top.Remember(Locks, rec.resource("top lock 1")))
	require.NoError(t, top.Remember(Locks, rec.resource("top lock 2")))
	require.NoError(t, portal.Remember(Locks, rec.resource("portal lock")))
	require.NoError(t, portal.Remember(AfterLocks, rec.resource("portal cache")))

	require.NoError(t, top.ReleaseAll(ctx, false /* isCommit */, true /* isTopLevel */))
	require.Equal(t, []string{
		"top pin commit=false",
		"portal lock commit=false",
		"top lock 2 commit=false",
		"top lock 1 commit=false",
		"portal cache commit=false",
	}, rec.events)

	err := top.Release(ctx, Locks, false, true)
	require.True(t, errors.HasAssertionFailure(err))
	require.Contains(t, err.Error(), "owner top: phase locks released twice")

	require.NoError(t, top.Delete())
	require.True(t, portal.Deleted())
	require.Error(t, top.Delete())
	require.Error(t, top.Remember(Locks, rec.resource("late")))
	require.Error(t, portal.NewParent(nil))
}

func TestSubCommitReassignsLocks(t *testing.T) {
	ctx := context.Background()
	var rec recorder
	top := NewOwner(nil, "top")
	sub := NewOwner(top, "sub")
	require.NoError(t, sub.Remember(BeforeLocks, rec.resource("sub pin")))
	require.NoError(t, sub.Remember(Locks, rec.resource("sub lock")))

	require.NoError(t, sub.ReleaseAll(ctx, true /* isCommit */, false /* isTopLevel */))
	require.Equal(t, []string{"sub pin commit=true"}, rec.events)
	require.Equal(t, 1, top.NumResources(Locks))
	require.NoError(t, sub.Delete())
	require.Equal(t, 0, top.NumChildren())

	require.NoError(t, top.ReleaseAll(ctx, true, true))
	require.Equal(t, []string{"sub pin commit=true", "sub lock commit=true"}, rec.events)
	require.NoError(t, top.Delete())
}

func TestNewParent(t *testing.T) {
	ctx := context.Background()
	var rec recorder
	top := NewOwner(nil, "top")
	sub := NewOwner(top, "sub")
	portal := NewOwner(sub, "portal")
	require.NoError(t, portal.Remember(Locks, rec.resource("portal lock")))

	// Moving a portal's owner under the parent scope keeps its resources
	// alive past the end of the subtransaction.
	require.NoError(t, portal.NewParent(top))
	require.Equal(t, top, portal.Parent())
	require.Equal(t, 0, sub.NumChildren())
	require.Equal(t, 2, top.NumChildren())
	require.NoError(t, sub.ReleaseAll(ctx, false, false))
	require.NoError(t, sub.Delete())
	require.Empty(t, rec.events)
	require.False(t, portal.Deleted())

	require.Error(t, top.NewParent(portal))

	require.NoError(t, top.ReleaseAll(ctx, true, true))
	require.Equal(t, []string{"portal lock commit=true"}, rec.events)
	require.NoError(t, top.Delete())
}

func TestDeleteWithUnreleasedResources(t *testing.T) {
	o := NewOwner(nil, "o")
	require.NoError(t, o.Remember(AfterLocks, ResourceFunc(func(context.Context, bool) error { return nil })))
	err := o.Delete()
	require.True(t, errors.HasAssertionFailure(err))
	require.Contains(t, err.Error(), "1 unreleased after-locks resources")
}

func TestReleaseCombinesErrors(t *testing.T) {
	ctx := context.Background()
	o := NewOwner(nil, "o")
	released := 0
	for i := 0; i < 2; i++ {
		require.NoError(t, o.Remember(BeforeLocks, ResourceFunc(func(context.Context, bool) error {
			released++
			return errors.New("boom")
		})))
	}
	require.ErrorContains(t, o.Release(ctx, BeforeLocks, false, true), "boom")
	require.Equal(t, 2, released)
}
