// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package portal

import (
	"bytes"
	"context"
	"testing"

	"github.com/kr/pretty"
	"github.com/lib/pq/oid"
	"github.com/stretchr/testify/require"
)

func TestCursors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	b := env.create(t, "b")
	b.SetCursorOptions(Binary | Scroll | Hold)
	env.create(t, "a")
	hidden, err := env.reg.CreateAnonymous(ctx)
	require.NoError(t, err)
	hidden.SetVisible(false)

	ts := env.txn.ts
	want := []CursorRow{
		{Name: "a", Statement: "SELECT * FROM t", CreationTime: ts},
		{Name: "b", Statement: "SELECT * FROM t", IsHoldable: true, IsBinary: true, IsScrollable: true, CreationTime: ts},
	}
	got := env.reg.Cursors()
	require.Empty(t, pretty.Diff(want, got))

	var buf bytes.Buffer
	RenderCursors(&buf, got)
	out := buf.String()
	require.Contains(t, out, "is_scrollable")
	require.Contains(t, out, "SELECT * FROM t")
	require.Contains(t, out, "2026-10-17T12:00:00Z")
	require.NotContains(t, out, "unnamed")

	require.Len(t, CursorColumns, 6)
	require.Equal(t, oid.T_timestamptz, CursorColumns[5].Oid)
}

func TestParallelRetrieveCursors(t *testing.T) {
	env := newTestEnv(t, nil)

	p, _ := env.createReady(t, "p")
	p.SetCursorOptions(ParallelRetrieve)
	unstarted := env.create(t, "q")
	unstarted.SetCursorOptions(ParallelRetrieve)
	env.createReady(t, "r")

	require.Equal(t, 1, env.reg.NumParallelRetrieveCursors())
	got := env.reg.ParallelRetrieveCursors()
	require.Len(t, got, 1)
	require.Same(t, p, got[0])
}

func TestNoReadyPortals(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.True(t, env.reg.NoReadyPortals())
	p, _ := env.createReady(t, "p")
	require.False(t, env.reg.NoReadyPortals())
	require.NoError(t, p.MarkActive(ctx))
	require.True(t, env.reg.NoReadyPortals())
}
