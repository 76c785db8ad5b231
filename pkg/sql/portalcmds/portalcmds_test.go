// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package portalcmds

import (
	"context"
	"fmt"
	"testing"

	"github.com/Arenadata-Labs/gpdb/pkg/base"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgcode"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgerror"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/portal"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/rowcontainer"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/xact"
	"github.com/Arenadata-Labs/gpdb/pkg/storage"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

// fakeQuery produces a fixed list of rows.
type fakeQuery struct {
	name string
	rows []rowcontainer.Row
	next int
}

func (q *fakeQuery) CancelUnfinished() {}

type fakeQueryExecutor struct {
	events []string
	runErr error
}

func (e *fakeQueryExecutor) Run(
	_ context.Context, qd portal.QueryDesc, count int64, fn func(row rowcontainer.Row) error,
) (bool, error) {
	if e.runErr != nil {
		return false, e.runErr
	}
	q := qd.(*fakeQuery)
	for n := int64(0); q.next < len(q.rows) && (count <= 0 || n < count); n++ {
		if err := fn(q.rows[q.next]); err != nil {
			return false, err
		}
		q.next++
	}
	return q.next == len(q.rows), nil
}

func (e *fakeQueryExecutor) End(_ context.Context, qd portal.QueryDesc, failed bool) error {
	e.events = append(e.events, fmt.Sprintf("end %s failed=%t", qd.(*fakeQuery).name, failed))
	return nil
}

func makeRows(vals ...string) []rowcontainer.Row {
	rows := make([]rowcontainer.Row, len(vals))
	for i, v := range vals {
		rows[i] = rowcontainer.Row(v)
	}
	return rows
}

type testSession struct {
	mgr  *xact.Manager
	reg  *portal.Registry
	qe   *fakeQueryExecutor
	cmds *Commands
}

func newTestSession(t *testing.T, mutate func(*portal.Config)) *testSession {
	t.Helper()
	ctx := context.Background()
	cfg := portal.Config{Config: base.TestingConfig(), PID: 1}
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := storage.NewTempEngine(ctx, cfg.TempStorage)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, engine.Close()) })

	s := &testSession{qe: &fakeQueryExecutor{}}
	s.cmds = NewCommands(s.qe)
	s.mgr, err = xact.NewManager(ctx, cfg, xact.Deps{Executor: s.cmds, TempEngine: engine})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.mgr.Close(ctx)) })
	s.reg = s.mgr.Registry()
	return s
}

func (s *testSession) declare(
	t *testing.T, name string, opts portal.CursorOptions, vals ...string,
) *portal.Portal {
	t.Helper()
	p, err := s.cmds.Declare(context.Background(), s.reg, Cursor{
		Name:    name,
		Options: opts,
		Query:   portal.QueryDef{SourceText: "SELECT v FROM t", CommandTag: "SELECT"},
	}, &fakeQuery{name: name, rows: makeRows(vals...)})
	require.NoError(t, err)
	return p
}

func (s *testSession) fetch(t *testing.T, name string, count int64) []rowcontainer.Row {
	t.Helper()
	rows, err := s.cmds.Fetch(context.Background(), s.reg, name, count)
	require.NoError(t, err)
	return rows
}

func TestDeclareAndFetch(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, nil)
	require.NoError(t, s.mgr.Begin(ctx))

	p := s.declare(t, "c", 0, "r1", "r2", "r3", "r4", "r5")
	require.Equal(t, portal.Ready, p.Status())
	require.Equal(t, portal.OneSelect, p.Strategy())
	require.True(t, p.CursorOptions().Has(portal.NoScroll))
	require.True(t, p.AtStart())

	require.Equal(t, makeRows("r1", "r2"), s.fetch(t, "c", 2))
	require.Equal(t, portal.Ready, p.Status())
	require.False(t, p.AtStart())
	require.False(t, p.AtEnd())
	require.Equal(t, int64(2), p.Pos())

	require.Equal(t, makeRows("r3", "r4", "r5"), s.fetch(t, "c", 0))
	require.True(t, p.AtEnd())
	require.Equal(t, int64(5), p.Pos())

	require.NoError(t, s.mgr.Commit(ctx))
	require.True(t, p.Freed())
	require.Equal(t, []string{"end c failed=false"}, s.qe.events)
}

func TestDeclareScrollCursor(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, nil)
	require.NoError(t, s.mgr.Begin(ctx))

	p := s.declare(t, "c", portal.Scroll|portal.Binary)
	require.True(t, p.CursorOptions().Has(portal.Scroll))
	require.False(t, p.CursorOptions().Has(portal.NoScroll))
	require.Equal(t, "SELECT v FROM t", p.SourceText())
}

func TestDeclareErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, nil)
	require.NoError(t, s.mgr.Begin(ctx))

	_, err := s.cmds.Declare(ctx, s.reg, Cursor{}, &fakeQuery{})
	require.Equal(t, pgcode.InvalidCursorName, pgerror.GetPGCode(err))

	s.declare(t, "c", 0)
	_, err = s.cmds.Declare(ctx, s.reg, Cursor{Name: "c"}, &fakeQuery{name: "c"})
	require.True(t, errors.Is(err, portal.ErrDuplicateName))
	require.Equal(t, pgcode.DuplicateCursor, pgerror.GetPGCode(err))
	require.Equal(t, 1, s.reg.Len())
}

func TestHoldableCursorOutlivesCommit(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, nil)
	require.NoError(t, s.mgr.Begin(ctx))

	p := s.declare(t, "c", portal.Hold, "r1", "r2", "r3", "r4")
	require.Equal(t, makeRows("r1"), s.fetch(t, "c", 1))
	require.NoError(t, s.mgr.Commit(ctx))

	require.False(t, p.Freed())
	require.Nil(t, p.QueryDesc())
	require.Equal(t, []string{"end c failed=false"}, s.qe.events)
	require.Equal(t, 3, p.HoldStore().Len())
	require.True(t, p.AtStart())

	// Outside of any transaction the rows come from the hold store.
	require.Equal(t, makeRows("r2", "r3"), s.fetch(t, "c", 2))
	require.Equal(t, int64(2), p.Pos())
	require.False(t, p.AtEnd())
	require.Equal(t, makeRows("r4"), s.fetch(t, "c", 0))
	require.True(t, p.AtEnd())
	require.Empty(t, s.fetch(t, "c", 1))

	require.NoError(t, PerformPortalClose(ctx, s.reg, "c"))
	require.True(t, p.Freed())
	require.Equal(t, []string{"end c failed=false"}, s.qe.events)
}

func TestFetchError(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, nil)
	require.NoError(t, s.mgr.Begin(ctx))

	p := s.declare(t, "c", 0, "r1")
	s.qe.runErr = errors.New("boom")
	_, err := s.cmds.Fetch(ctx, s.reg, "c", 1)
	require.EqualError(t, err, "boom")
	require.Equal(t, portal.Failed, p.Status())
	require.Equal(t, []string{"end c failed=true"}, s.qe.events)

	// A failed cursor cannot run again.
	_, err = s.cmds.Fetch(ctx, s.reg, "c", 1)
	require.True(t, errors.Is(err, portal.ErrInvalidState))

	require.NoError(t, s.mgr.Fail(ctx))
	require.NoError(t, s.mgr.Rollback(ctx))
	require.True(t, p.Freed())
}

func TestRollbackEndsQueries(t *testing.T) {
	for _, failReady := range []bool{false, true} {
		t.Run(fmt.Sprintf("fail-ready=%t", failReady), func(t *testing.T) {
			ctx := context.Background()
			s := newTestSession(t, func(cfg *portal.Config) { cfg.FailReadyPortalsOnAbort = failReady })
			require.NoError(t, s.mgr.Begin(ctx))

			p := s.declare(t, "c", portal.Hold, "r1")
			require.NoError(t, s.mgr.Rollback(ctx))
			require.True(t, p.Freed())
			require.Equal(t, []string{fmt.Sprintf("end c failed=%t", failReady)}, s.qe.events)
		})
	}
}

func TestPerformPortalClose(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, nil)
	require.NoError(t, s.mgr.Begin(ctx))

	err := PerformPortalClose(ctx, s.reg, "")
	require.Equal(t, pgcode.InvalidCursorName, pgerror.GetPGCode(err))
	require.EqualError(t, err, "invalid cursor name: must not be empty")

	err = PerformPortalClose(ctx, s.reg, "nope")
	require.Equal(t, pgcode.InvalidCursorName, pgerror.GetPGCode(err))
	require.EqualError(t, err, `cursor "nope" does not exist`)

	_, err = s.cmds.Fetch(ctx, s.reg, "nope", 1)
	require.Equal(t, pgcode.InvalidCursorName, pgerror.GetPGCode(err))

	p := s.declare(t, "c", 0, "r1")
	require.NoError(t, PerformPortalClose(ctx, s.reg, "c"))
	require.True(t, p.Freed())
	require.Nil(t, s.reg.Lookup("c"))
	require.Equal(t, []string{"end c failed=false"}, s.qe.events)
}

func TestCloseAll(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, nil)
	require.NoError(t, s.mgr.Begin(ctx))

	a := s.declare(t, "a", 0, "r1")
	b := s.declare(t, "b", portal.Hold, "r1")
	require.NoError(t, CloseAll(ctx, s.reg))
	require.True(t, a.Freed())
	require.True(t, b.Freed())
	require.Zero(t, s.reg.Len())
	require.ElementsMatch(t, []string{"end a failed=false", "end b failed=false"}, s.qe.events)
}
