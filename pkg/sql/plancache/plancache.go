// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package plancache holds reference-counted execution plans shared by the
// portals that run them.
package plancache

import (
	"context"

	"github.com/Arenadata-Labs/gpdb/pkg/sql/mon"
	"github.com/Arenadata-Labs/gpdb/pkg/util/log"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Statement is an opaque planned statement tree.
type Statement interface {
	// CanSetTag is true for the statement whose command tag is reported to
	// the client.
	CanSetTag() bool
	// IsUtility is true for statements that are not planned queries.
	IsUtility() bool
}

// CachedPlan is a plan shared by every portal executing it. The plan's
// memory lives in its own monitor, which is stopped when the last reference
// is released.
//
// A caller acquires a reference before handing the plan to a portal; the
// portal releases it exactly once.
type CachedPlan struct {
	name     redact.SafeString
	stmts    []Statement
	mon      *mon.BytesMonitor
	refCount int
}

// NewCachedPlan creates a plan with a single reference held by the caller
// (the plan cache itself). The plan memory is accounted under parent.
func NewCachedPlan(
	ctx context.Context, name redact.SafeString, stmts []Statement, parent *mon.BytesMonitor,
) *CachedPlan {
	m := mon.NewMonitor(name, mon.NoLimit)
	m.Start(ctx, parent)
	return &CachedPlan{
		name:     name,
		stmts:    stmts,
		mon:      m,
		refCount: 1,
	}
}

// Name returns the name of the plan.
func (p *CachedPlan) Name() redact.SafeString {
	return p.name
}

// Stmts returns the statement list of the plan. The slice is owned by the
// plan and must not be used after the last release.
func (p *CachedPlan) Stmts() []Statement {
	return p.stmts
}

// Monitor returns the monitor holding the plan's memory.
func (p *CachedPlan) Monitor() *mon.BytesMonitor {
	return p.mon
}

// RefCount returns the number of outstanding references.
func (p *CachedPlan) RefCount() int {
	return p.refCount
}

// Acquire takes an additional reference.
func (p *CachedPlan) Acquire() *CachedPlan {
	if p.refCount <= 0 {
		panic(errors.AssertionFailedf("%s: acquiring a released plan", p.name))
	}
	p.refCount++
	return p
}

// Release drops one reference. Releasing more references than were
// acquired is a programming error.
func (p *CachedPlan) Release(ctx context.Context) {
	if p.refCount <= 0 {
		panic(errors.AssertionFailedf("%s: too many releases", p.name))
	}
	p.refCount--
	if p.refCount == 0 {
		log.VEventf(ctx, 2, "%s: releasing plan memory", p.name)
		p.stmts = nil
		p.mon.Stop(ctx)
	}
}
