// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package portalcmds implements the cursor commands (DECLARE, FETCH, CLOSE)
// on top of the portal registry, and the executor callbacks the registry
// needs to clean up and persist portals.
package portalcmds

import (
	"context"

	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgcode"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgerror"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/portal"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/rowcontainer"
	"github.com/Arenadata-Labs/gpdb/pkg/util/log"
	"github.com/cockroachdb/errors"
)

// QueryExecutor runs started queries.
type QueryExecutor interface {
	// Run produces up to count rows of the query, or all remaining rows if
	// count is not positive, passing each to fn. done is true once the query
	// has no more rows.
	Run(ctx context.Context, qd portal.QueryDesc, count int64,
		fn func(row rowcontainer.Row) error) (done bool, err error)
	// End shuts the query down. failed is set if the portal failed, in
	// which case the query must not be completed.
	End(ctx context.Context, qd portal.QueryDesc, failed bool) error
}

// Commands implements portal.Executor on top of a QueryExecutor.
type Commands struct {
	qe QueryExecutor
}

var _ portal.Executor = (*Commands)(nil)

// NewCommands returns Commands running queries with qe.
func NewCommands(qe QueryExecutor) *Commands {
	return &Commands{qe: qe}
}

// Cleanup implements portal.Executor. It shuts down the query of the
// portal, if it still has one.
func (c *Commands) Cleanup(ctx context.Context, p *portal.Portal) error {
	qd := p.QueryDesc()
	if qd == nil {
		return nil
	}
	p.SetQueryDesc(nil)
	failed := p.Status() == portal.Failed
	if err := c.qe.End(ctx, qd, failed); err != nil {
		return errors.Wrapf(err, "shutting down query of portal %q", p.Name())
	}
	return nil
}

// PersistHoldable implements portal.Executor. The remaining rows of the
// cursor are drained into its hold store, after which the cursor is
// positioned before the first stored row.
func (c *Commands) PersistHoldable(ctx context.Context, p *portal.Portal) error {
	qd := p.QueryDesc()
	if qd == nil {
		return errors.AssertionFailedf("holdable cursor %q has no query to persist", p.Name())
	}
	store := p.HoldStore()
	if _, err := c.qe.Run(ctx, qd, 0, func(row rowcontainer.Row) error {
		return store.AddRow(ctx, row)
	}); err != nil {
		return err
	}
	p.SetQueryDesc(nil)
	if err := c.qe.End(ctx, qd, false /* failed */); err != nil {
		return err
	}
	// Executor state lives in children of the heap.
	p.Heap().StopChildren(ctx)
	p.SetPosition(true /* atStart */, store.Len() == 0 /* atEnd */, 0)
	log.VEventf(ctx, 2, "persisted %d rows of cursor %q", store.Len(), p.Name())
	return nil
}

// Cursor is a DECLARE CURSOR statement.
type Cursor struct {
	Name    string
	Options portal.CursorOptions
	Query   portal.QueryDef
}

// Declare creates and starts the portal of a cursor. qd is the executor
// state of the started query.
func (c *Commands) Declare(
	ctx context.Context, reg *portal.Registry, cur Cursor, qd portal.QueryDesc,
) (*portal.Portal, error) {
	if cur.Name == "" {
		return nil, pgerror.New(pgcode.InvalidCursorName, "invalid cursor name: must not be empty")
	}
	p, err := reg.Create(ctx, cur.Name, false /* allowDup */, false /* dupSilent */)
	if err != nil {
		return nil, err
	}
	opts := cur.Options
	if !opts.Has(portal.Scroll) {
		opts |= portal.NoScroll
	}
	p.SetCursorOptions(opts)
	if err := p.DefineQuery(cur.Query); err != nil {
		return nil, errors.CombineErrors(err, reg.Drop(ctx, p, false /* isTopCommit */))
	}
	if err := p.Start(portal.OneSelect, qd); err != nil {
		return nil, errors.CombineErrors(err, reg.Drop(ctx, p, false /* isTopCommit */))
	}
	return p, nil
}

// Fetch returns up to count rows of the cursor, or all remaining rows if
// count is not positive. Persisted cursors are read from their hold store.
func (c *Commands) Fetch(
	ctx context.Context, reg *portal.Registry, name string, count int64,
) ([]rowcontainer.Row, error) {
	p, err := lookupCursor(reg, name)
	if err != nil {
		return nil, err
	}
	if p.HoldStore() != nil {
		return fetchHeld(ctx, p, count)
	}
	if err := p.MarkActive(ctx); err != nil {
		return nil, err
	}
	var rows []rowcontainer.Row
	done, err := c.qe.Run(ctx, p.QueryDesc(), count, func(row rowcontainer.Row) error {
		rows = append(rows, append(rowcontainer.Row(nil), row...))
		return nil
	})
	if err != nil {
		return nil, errors.CombineErrors(err, p.MarkFailed(ctx))
	}
	if err := p.MarkSuspended(ctx); err != nil {
		return nil, err
	}
	p.SetPosition(p.AtStart() && len(rows) == 0, done, p.Pos()+int64(len(rows)))
	return rows, nil
}

func fetchHeld(ctx context.Context, p *portal.Portal, count int64) ([]rowcontainer.Row, error) {
	store := p.HoldStore()
	it, err := store.NewIterator(ctx)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var rows []rowcontainer.Row
	pos := int64(0)
	for it.Rewind(); ; it.Next() {
		if ok, err := it.Valid(); err != nil {
			return nil, err
		} else if !ok {
			break
		}
		if pos < p.Pos() {
			pos++
			continue
		}
		if count > 0 && int64(len(rows)) == count {
			break
		}
		row, err := it.Row()
		if err != nil {
			return nil, err
		}
		rows = append(rows, append(rowcontainer.Row(nil), row...))
		pos++
	}
	p.SetPosition(pos == 0, pos == int64(store.Len()), pos)
	return rows, nil
}

// PerformPortalClose implements CLOSE name.
func PerformPortalClose(ctx context.Context, reg *portal.Registry, name string) error {
	p, err := lookupCursor(reg, name)
	if err != nil {
		return err
	}
	return reg.Drop(ctx, p, false /* isTopCommit */)
}

// CloseAll implements CLOSE ALL and the portal part of DISCARD ALL.
func CloseAll(ctx context.Context, reg *portal.Registry) error {
	return reg.DeleteAll(ctx)
}

func lookupCursor(reg *portal.Registry, name string) (*portal.Portal, error) {
	if name == "" {
		return nil, pgerror.New(pgcode.InvalidCursorName, "invalid cursor name: must not be empty")
	}
	p := reg.Lookup(name)
	if p == nil {
		return nil, pgerror.Newf(pgcode.InvalidCursorName, "cursor %q does not exist", name)
	}
	return p, nil
}
