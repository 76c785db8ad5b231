// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package portal implements the portal registry of a backend session.
//
// A portal is the execution state of a query or cursor. Portals are created
// in the current subtransaction, driven by the executor through a monotonic
// state machine and destroyed either explicitly or by one of the sweeps the
// transaction manager runs at commit, abort, subtransaction commit and
// subtransaction abort.
//
// The registry is confined to the session goroutine. Cleanup hooks may
// create or drop other portals while a sweep is running; every traversal of
// the registry is written to tolerate that.
package portal

import (
	"context"
	"time"

	"github.com/Arenadata-Labs/gpdb/pkg/sql/mon"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/plancache"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/resowner"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/rowcontainer"
	"github.com/Arenadata-Labs/gpdb/pkg/util/log"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Status is the state of a portal.
type Status int

const (
	// New portals have no query attached.
	New Status = iota
	// Defined portals have a query but were not started.
	Defined
	// Ready portals can be run.
	Ready
	// Active portals are running.
	Active
	// Done portals ran to completion.
	Done
	// Failed portals got an error, or were forced into this state by an
	// abort.
	Failed
)

var statusNames = [...]string{
	New:     "NEW",
	Defined: "DEFINED",
	Ready:   "READY",
	Active:  "ACTIVE",
	Done:    "DONE",
	Failed:  "FAILED",
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "UNKNOWN"
	}
	return statusNames[s]
}

// SafeValue implements redact.SafeValue.
func (Status) SafeValue() {}

// Strategy describes how the executor produces the results of a portal.
type Strategy int

const (
	// MultiQuery portals run any number of statements to completion,
	// returning no rows.
	MultiQuery Strategy = iota
	// OneSelect portals run a single SELECT-like query, producing rows on
	// demand.
	OneSelect
	// OneReturning portals run a single modifying query with RETURNING,
	// materializing its rows on the first fetch.
	OneReturning
	// OneModSelect portals run a single modifying CTE query.
	OneModSelect
	// UtilSelect portals run a utility statement that returns rows.
	UtilSelect
)

var strategyNames = [...]string{
	MultiQuery:   "MULTI_QUERY",
	OneSelect:    "ONE_SELECT",
	OneReturning: "ONE_RETURNING",
	OneModSelect: "ONE_MOD_WITH",
	UtilSelect:   "UTIL_SELECT",
}

// String implements fmt.Stringer.
func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return "UNKNOWN"
	}
	return strategyNames[s]
}

// SafeValue implements redact.SafeValue.
func (Strategy) SafeValue() {}

// CursorOptions are the options given to DECLARE CURSOR.
type CursorOptions uint32

const (
	// Binary cursors return rows in binary format.
	Binary CursorOptions = 1 << iota
	// Scroll cursors can be fetched backwards.
	Scroll
	// NoScroll cursors cannot be fetched backwards.
	NoScroll
	// Insensitive cursors do not see concurrent changes.
	Insensitive
	// Hold cursors survive the commit of the creating transaction.
	Hold
	// ParallelRetrieve cursors are retrieved through endpoints on the
	// executors.
	ParallelRetrieve
)

// Has returns whether every option of o2 is set in o.
func (o CursorOptions) Has(o2 CursorOptions) bool {
	return o&o2 == o2
}

// SubTxnID identifies a subtransaction of the current transaction.
type SubTxnID uint32

// InvalidSubTxnID is the create/active scope of portals inherited from a
// prior transaction.
const InvalidSubTxnID SubTxnID = 0

// QueryDesc is the executor's state of a started portal.
type QueryDesc interface {
	// CancelUnfinished tells the executor that whatever remains of the
	// query must be cancelled rather than completed when it is shut down.
	CancelUnfinished()
}

// CleanupHook releases the executor state of a portal. It is invoked at
// most once per portal and is cleared before it runs.
type CleanupHook func(ctx context.Context, p *Portal) error

// Portal is the execution state of a query or cursor.
type Portal struct {
	reg *Registry
	// name is the registry key. It is set once at creation.
	name string

	prepStmtName  string
	status        Status
	strategy      Strategy
	cursorOptions CursorOptions

	createSubID SubTxnID
	activeSubID SubTxnID

	sourceText      string
	commandTag      string
	stmts           []plancache.Statement
	cachedPlan      *plancache.CachedPlan
	queryDesc       QueryDesc
	isExtendedQuery bool

	// heap is the portal's private memory. Executor state lives in children
	// of heap.
	heap *mon.BytesMonitor
	// owner is non-nil while the portal owns resources of its own.
	owner *resowner.Owner

	// holdStore and holdMon are set once the portal is persisted. holdMon
	// is a sibling of heap, not a child.
	holdStore *rowcontainer.DiskBackedRowContainer
	holdMon   *mon.BytesMonitor

	atStart bool
	atEnd   bool
	pos     int64

	portalID uint32
	queueID  uint32

	pinned       bool
	visible      bool
	cleanup      CleanupHook
	creationTime time.Time

	freed bool
}

// Name returns the name of the portal.
func (p *Portal) Name() string { return p.name }

// PrepStmtName returns the name of the prepared statement the portal runs,
// if any.
func (p *Portal) PrepStmtName() string { return p.prepStmtName }

// Status returns the status of the portal.
func (p *Portal) Status() Status { return p.status }

// Strategy returns the execution strategy chosen by Start.
func (p *Portal) Strategy() Strategy { return p.strategy }

// CursorOptions returns the cursor options.
func (p *Portal) CursorOptions() CursorOptions { return p.cursorOptions }

// SetCursorOptions sets the cursor options. They must be set before the
// portal is started.
func (p *Portal) SetCursorOptions(o CursorOptions) { p.cursorOptions = o }

// CreateSubID returns the subtransaction that created the portal, or
// InvalidSubTxnID for portals inherited from a prior transaction.
func (p *Portal) CreateSubID() SubTxnID { return p.createSubID }

// ActiveSubID returns the subtransaction in which the portal last ran.
func (p *Portal) ActiveSubID() SubTxnID { return p.activeSubID }

// SourceText returns the query text.
func (p *Portal) SourceText() string { return p.sourceText }

// CommandTag returns the command tag. ok is false for empty queries.
func (p *Portal) CommandTag() (tag string, ok bool) {
	return p.commandTag, p.commandTag != ""
}

// Stmts returns the planned statements.
func (p *Portal) Stmts() []plancache.Statement { return p.stmts }

// CachedPlan returns the cached plan the statements belong to, if any.
func (p *Portal) CachedPlan() *plancache.CachedPlan { return p.cachedPlan }

// QueryDesc returns the executor state set by Start.
func (p *Portal) QueryDesc() QueryDesc { return p.queryDesc }

// SetQueryDesc replaces the executor state. The executor clears it once the
// query has been shut down.
func (p *Portal) SetQueryDesc(qd QueryDesc) { p.queryDesc = qd }

// IsExtendedQuery returns whether the portal was created through the
// extended query protocol.
func (p *Portal) IsExtendedQuery() bool { return p.isExtendedQuery }

// SetExtendedQuery marks the portal as created through the extended query
// protocol.
func (p *Portal) SetExtendedQuery(b bool) { p.isExtendedQuery = b }

// Heap returns the portal's private memory monitor. Executor state must be
// allocated in children of it, which are released on abort.
func (p *Portal) Heap() *mon.BytesMonitor { return p.heap }

// ResourceOwner returns the portal's resource owner, nil once the portal
// no longer owns resources of its own.
func (p *Portal) ResourceOwner() *resowner.Owner { return p.owner }

// HoldStore returns the materialized rows of a persisted holdable cursor.
func (p *Portal) HoldStore() *rowcontainer.DiskBackedRowContainer { return p.holdStore }

// AtStart returns whether the cursor is positioned before the first row.
func (p *Portal) AtStart() bool { return p.atStart }

// AtEnd returns whether the cursor is positioned after the last row.
func (p *Portal) AtEnd() bool { return p.atEnd }

// Pos returns the number of the row the cursor is positioned on.
func (p *Portal) Pos() int64 { return p.pos }

// SetPosition records the cursor position.
func (p *Portal) SetPosition(atStart, atEnd bool, pos int64) {
	p.atStart, p.atEnd, p.pos = atStart, atEnd, pos
}

// PortalID returns the resource queue portal id.
func (p *Portal) PortalID() uint32 { return p.portalID }

// QueueID returns the resource queue the portal runs under.
func (p *Portal) QueueID() uint32 { return p.queueID }

// Pinned returns whether the portal is pinned.
func (p *Portal) Pinned() bool { return p.pinned }

// Visible returns whether the portal is listed in pg_cursors.
func (p *Portal) Visible() bool { return p.visible }

// SetVisible sets whether the portal is listed in pg_cursors.
func (p *Portal) SetVisible(b bool) { p.visible = b }

// SetCleanupHook replaces the cleanup hook. A nil hook disables cleanup.
func (p *Portal) SetCleanupHook(hook CleanupHook) { p.cleanup = hook }

// HasCleanupHook returns whether the cleanup hook is still pending.
func (p *Portal) HasCleanupHook() bool { return p.cleanup != nil }

// CreationTime returns the start time of the statement that created the
// portal.
func (p *Portal) CreationTime() time.Time { return p.creationTime }

// Freed returns whether the portal has been dropped.
func (p *Portal) Freed() bool { return p.freed }

// SafeFormat implements redact.SafeFormatter.
func (p *Portal) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("portal %q (%s)", p.name, p.status)
}

// String implements fmt.Stringer.
func (p *Portal) String() string {
	return redact.StringWithoutMarkers(p)
}

// QueryDef is the query attached to a portal by DefineQuery.
type QueryDef struct {
	PrepStmtName string
	SourceText   string
	// CommandTag is empty if and only if the query text was empty.
	CommandTag string
	Stmts      []plancache.Statement
	// CachedPlan, if set, holds Stmts. The caller must have acquired a
	// reference for the portal; the portal releases it when dropped.
	CachedPlan *plancache.CachedPlan
}

// DefineQuery attaches a query to a new portal. On error the portal is
// unchanged and the plan reference still belongs to the caller; after the
// checks only field assignment happens.
func (p *Portal) DefineQuery(def QueryDef) error {
	if p.status != New {
		return unexpectedStatusError(p.name, "define query", p.status)
	}
	if def.CommandTag == "" && len(def.Stmts) > 0 {
		return errors.AssertionFailedf("portal %q: a command tag is required for a non-empty query", p.name)
	}

	p.prepStmtName = def.PrepStmtName
	p.sourceText = def.SourceText
	p.commandTag = def.CommandTag
	p.stmts = def.Stmts
	p.cachedPlan = def.CachedPlan
	p.status = Defined
	return nil
}

// Start records the executor's choice of strategy and state and makes the
// portal runnable.
func (p *Portal) Start(strategy Strategy, qd QueryDesc) error {
	if p.status != Defined {
		return unexpectedStatusError(p.name, "start", p.status)
	}
	p.strategy = strategy
	p.queryDesc = qd
	p.atStart = true
	p.atEnd = false
	p.pos = 0
	p.status = Ready
	return nil
}

// MarkActive transitions a portal from Ready to Active.
func (p *Portal) MarkActive(ctx context.Context) error {
	if p.status != Ready {
		return cannotRunError(p.name)
	}
	p.status = Active
	p.activeSubID = p.reg.txn.CurrentSubTxnID()
	return nil
}

// MarkSuspended returns an Active portal to Ready once a fetch stopped
// before the end of the result.
func (p *Portal) MarkSuspended(ctx context.Context) error {
	if p.status != Active {
		return unexpectedStatusError(p.name, "suspend", p.status)
	}
	p.status = Ready
	return nil
}

// MarkDone transitions a portal from Active to Done and runs its cleanup
// hook.
func (p *Portal) MarkDone(ctx context.Context) error {
	if p.status != Active {
		return unexpectedStatusError(p.name, "mark done", p.status)
	}
	p.status = Done
	return p.runCleanup(ctx)
}

// MarkFailed transitions a portal that is not Done to Failed and runs its
// cleanup hook.
func (p *Portal) MarkFailed(ctx context.Context) error {
	if p.status == Done {
		return unexpectedStatusError(p.name, "mark failed", p.status)
	}
	p.status = Failed
	return p.runCleanup(ctx)
}

// runCleanup invokes the cleanup hook, if still pending. The hook is
// cleared before it runs so that it never runs twice, even if it fails.
func (p *Portal) runCleanup(ctx context.Context) error {
	hook := p.cleanup
	if hook == nil {
		return nil
	}
	p.cleanup = nil
	log.VEventf(ctx, 2, "running cleanup hook of %s", p)
	return hook(ctx, p)
}

// Pin protects the portal from being dropped. A pinned portal is still
// unpinned and dropped by abort cleanup.
func (p *Portal) Pin() error {
	if p.pinned {
		return pinImbalanceError("portal already pinned")
	}
	p.pinned = true
	return nil
}

// Unpin undoes Pin.
func (p *Portal) Unpin() error {
	if !p.pinned {
		return pinImbalanceError("portal not pinned")
	}
	p.pinned = false
	return nil
}

// PrimaryStmt returns the statement whose command tag is reported for the
// portal, or nil.
func (p *Portal) PrimaryStmt() plancache.Statement {
	return PrimaryStmt(p.stmts)
}

// PrimaryStmt returns the first statement that can set the command tag.
// A lone utility statement is assumed to set it.
func PrimaryStmt(stmts []plancache.Statement) plancache.Statement {
	for _, s := range stmts {
		if s.IsUtility() {
			if len(stmts) == 1 {
				return s
			}
			continue
		}
		if s.CanSetTag() {
			return s
		}
	}
	return nil
}

// releaseCachedPlan drops the portal's plan reference. The statements are
// cleared first since they belong to the plan.
func (p *Portal) releaseCachedPlan(ctx context.Context) {
	if p.cachedPlan == nil {
		return
	}
	plan := p.cachedPlan
	p.cachedPlan = nil
	p.stmts = nil
	plan.Release(ctx)
}

// releaseSubsidiaryMemory frees executor state allocated under the heap,
// keeping the portal record itself.
func (p *Portal) releaseSubsidiaryMemory(ctx context.Context) {
	if p.heap != nil && !p.heap.Stopped() {
		p.heap.StopChildren(ctx)
	}
}
