// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package portal

import (
	"io"
	"strconv"
	"time"

	"github.com/lib/pq/oid"
	"github.com/olekukonko/tablewriter"
)

// CursorRow is a row of the pg_cursors view.
type CursorRow struct {
	Name         string
	Statement    string
	IsHoldable   bool
	IsBinary     bool
	IsScrollable bool
	CreationTime time.Time
}

// CursorColumn describes a column of the pg_cursors view.
type CursorColumn struct {
	Name string
	Oid  oid.Oid
}

// CursorColumns are the columns of the pg_cursors view.
var CursorColumns = []CursorColumn{
	{Name: "name", Oid: oid.T_text},
	{Name: "statement", Oid: oid.T_text},
	{Name: "is_holdable", Oid: oid.T_bool},
	{Name: "is_binary", Oid: oid.T_bool},
	{Name: "is_scrollable", Oid: oid.T_bool},
	{Name: "creation_time", Oid: oid.T_timestamptz},
}

// Cursors returns the pg_cursors view: one row per visible portal, ordered
// by name.
func (r *Registry) Cursors() []CursorRow {
	var rows []CursorRow
	for _, name := range r.sortedNames() {
		p := r.portals[name]
		if !p.visible {
			continue
		}
		rows = append(rows, CursorRow{
			Name:         p.name,
			Statement:    p.sourceText,
			IsHoldable:   p.cursorOptions.Has(Hold),
			IsBinary:     p.cursorOptions.Has(Binary),
			IsScrollable: p.cursorOptions.Has(Scroll),
			CreationTime: p.creationTime,
		})
	}
	return rows
}

// RenderCursors writes rows as a text table.
func RenderCursors(w io.Writer, rows []CursorRow) {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	header := make([]string, len(CursorColumns))
	for i, c := range CursorColumns {
		header[i] = c.Name
	}
	table.SetHeader(header)
	for _, row := range rows {
		table.Append([]string{
			row.Name,
			row.Statement,
			strconv.FormatBool(row.IsHoldable),
			strconv.FormatBool(row.IsBinary),
			strconv.FormatBool(row.IsScrollable),
			row.CreationTime.Format(time.RFC3339Nano),
		})
	}
	table.Render()
}

// ParallelRetrieveCursors returns the started parallel retrieve cursors,
// ordered by name.
func (r *Registry) ParallelRetrieveCursors() []*Portal {
	var res []*Portal
	for _, name := range r.sortedNames() {
		p := r.portals[name]
		if p.cursorOptions.Has(ParallelRetrieve) && p.queryDesc != nil {
			res = append(res, p)
		}
	}
	return res
}

// NumParallelRetrieveCursors returns len(ParallelRetrieveCursors()).
func (r *Registry) NumParallelRetrieveCursors() int {
	n := 0
	for _, p := range r.portals {
		if p.cursorOptions.Has(ParallelRetrieve) && p.queryDesc != nil {
			n++
		}
	}
	return n
}

// NoReadyPortals returns whether no portal is in the Ready state.
func (r *Registry) NoReadyPortals() bool {
	for _, p := range r.portals {
		if p.status == Ready {
			return false
		}
	}
	return true
}
