// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package portal

import (
	"context"
	"fmt"
	"time"

	"github.com/Arenadata-Labs/gpdb/pkg/base"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/mon"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgnotice"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/resowner"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/resqueue"
	"github.com/Arenadata-Labs/gpdb/pkg/storage"
	"github.com/Arenadata-Labs/gpdb/pkg/util/log"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
)

// Executor is the part of the query executor the registry calls back into.
type Executor interface {
	// Cleanup shuts down the executor state of a portal. It is installed as
	// the cleanup hook of every new portal.
	Cleanup(ctx context.Context, p *Portal) error
	// PersistHoldable drains the remaining rows of a holdable cursor into
	// its hold store and detaches the portal from the executor.
	PersistHoldable(ctx context.Context, p *Portal) error
}

// TxnState is the state of the enclosing transaction the registry reads.
type TxnState interface {
	CurrentSubTxnID() SubTxnID
	// CurrentResourceOwner is the owner of the current subtransaction. New
	// portal owners are created under it.
	CurrentResourceOwner() *resowner.Owner
	StatementTimestamp() time.Time
}

// NoticeSender buffers notices for the client.
type NoticeSender interface {
	BufferClientNotice(ctx context.Context, notice pgnotice.Notice)
}

// Config configures a Registry.
type Config struct {
	base.Config
	// PID identifies the backend in resource queues.
	PID int32
}

// Deps are the collaborators of a Registry. Txn is required; the others may
// be nil.
type Deps struct {
	Txn      TxnState
	Executor Executor
	Notices  NoticeSender
	// Queue is the resource queue of the session's role, if any.
	Queue *resqueue.Queue
	// TempEngine receives hold store rows past the work_mem budget.
	TempEngine *storage.TempEngine
	Metrics    *Metrics
	// ParentMonitor, if set, is charged for all portal memory.
	ParentMonitor *mon.BytesMonitor
}

// Registry is the set of portals of a session, keyed by name.
//
// A Registry is not safe for concurrent use.
type Registry struct {
	cfg        Config
	txn        TxnState
	exec       Executor
	notices    NoticeSender
	queue      *resqueue.Queue
	tempEngine *storage.TempEngine
	metrics    *Metrics

	// portalMem is the parent of every portal heap and hold monitor.
	portalMem *mon.BytesMonitor
	// holdDiskMon accounts for hold store rows spilled to tempEngine.
	holdDiskMon *mon.BytesMonitor

	portals map[string]*Portal
	// gen is bumped whenever a portal is added to or removed from portals.
	gen uint64
	// snapshots counts the sorted name lists taken by traversals.
	snapshots      int
	unnamedCounter uint64
	closed         bool
}

// NewRegistry creates the portal registry of a session.
func NewRegistry(ctx context.Context, cfg Config, deps Deps) (*Registry, error) {
	if deps.Txn == nil {
		return nil, errors.AssertionFailedf("portal registry requires a transaction state")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid portal registry configuration")
	}
	r := &Registry{
		cfg:        cfg,
		txn:        deps.Txn,
		exec:       deps.Executor,
		notices:    deps.Notices,
		queue:      deps.Queue,
		tempEngine: deps.TempEngine,
		metrics:    deps.Metrics,
		portals:    make(map[string]*Portal),
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil)
	}
	r.portalMem = mon.NewMonitor("portal memory", int64(cfg.PortalMemoryLimit))
	r.portalMem.Start(ctx, deps.ParentMonitor)
	r.holdDiskMon = mon.NewDiskMonitor("portal hold disk", int64(cfg.TempStorage.MaxSize))
	r.holdDiskMon.Start(ctx, nil)
	log.VEventf(ctx, 1, "portal registry of backend %d initialized (role %s)", cfg.PID, cfg.Role)
	return r, nil
}

// Close shuts the registry down at backend exit. Resource queue locks still
// held by the backend are released, every portal that is not active is
// dropped, and all portal memory is freed.
func (r *Registry) Close(ctx context.Context) error {
	if r.closed {
		return nil
	}
	r.closed = true

	if r.queueEnabled() {
		if n := r.queue.UnlockAll(ctx, r.cfg.PID); n > 0 {
			log.Dev.Infof(ctx, "released %d resource queue locks of backend %d", n, r.cfg.PID)
		}
	}

	var retErr error
	r.forEachPortal(func(p *Portal) {
		if p.status == Active {
			return
		}
		p.pinned = false
		if err := r.Drop(ctx, p, false /* isTopCommit */); err != nil {
			retErr = errors.CombineErrors(retErr, err)
		}
	})

	// Anything left is active or failed to drop. Its memory goes away with
	// portal memory.
	for _, name := range r.sortedNames() {
		p := r.portals[name]
		log.Dev.Warningf(ctx, "discarding %s at registry shutdown", p)
		if p.holdStore != nil {
			p.holdStore.Close(ctx)
			p.holdStore = nil
		}
		p.releaseCachedPlan(ctx)
		delete(r.portals, name)
		r.gen++
		p.freed = true
		r.metrics.Open.Dec()
	}
	r.holdDiskMon.Stop(ctx)
	r.portalMem.Stop(ctx)
	return retErr
}

// Len returns the number of registered portals.
func (r *Registry) Len() int {
	return len(r.portals)
}

// PortalMemory returns the monitor every portal heap is a child of.
func (r *Registry) PortalMemory() *mon.BytesMonitor {
	return r.portalMem
}

// Lookup returns the portal with the given name, or nil.
func (r *Registry) Lookup(name string) *Portal {
	return r.portals[name]
}

// Create creates a portal in the current subtransaction.
//
// If a portal of the same name exists, Create fails unless allowDup is set,
// in which case the existing portal is dropped first. Dropping it warns the
// client unless dupSilent is set or the backend is an executor.
func (r *Registry) Create(ctx context.Context, name string, allowDup, dupSilent bool) (*Portal, error) {
	if r.closed {
		return nil, errors.AssertionFailedf("creating portal %q in a closed registry", name)
	}
	if r.txn.CurrentSubTxnID() == InvalidSubTxnID || r.txn.CurrentResourceOwner() == nil {
		return nil, errors.AssertionFailedf("creating portal %q outside of a transaction", name)
	}
	if old := r.portals[name]; old != nil {
		if !allowDup {
			return nil, duplicateNameError(name)
		}
		if !dupSilent && r.cfg.Role != base.RoleExecute && r.notices != nil {
			r.notices.BufferClientNotice(ctx,
				pgnotice.NewWithSeverityf("WARNING", "closing existing cursor %q", name))
		}
		if err := r.Drop(ctx, old, false /* isTopCommit */); err != nil {
			return nil, err
		}
	}

	p := &Portal{
		reg:           r,
		name:          name,
		status:        New,
		strategy:      MultiQuery,
		cursorOptions: NoScroll,
		atStart:       true,
		atEnd:         true,
		visible:       true,
		creationTime:  r.txn.StatementTimestamp(),
	}
	p.heap = mon.NewMonitor("portal heap", mon.NoLimit)
	p.heap.Start(ctx, r.portalMem)
	p.owner = resowner.NewOwner(r.txn.CurrentResourceOwner(), "portal")
	p.createSubID = r.txn.CurrentSubTxnID()
	p.activeSubID = p.createSubID
	if r.exec != nil {
		p.cleanup = r.exec.Cleanup
	}
	if r.queueEnabled() {
		switch r.cfg.Role {
		case base.RoleDispatch:
			p.portalID = r.queue.CreatePortalID(r.cfg.PID)
			p.queueID = r.queue.ID()
		case base.RoleExecute:
			p.queueID = r.queue.ID()
		}
	}

	r.portals[name] = p
	r.gen++
	r.metrics.Created.Inc()
	r.metrics.Open.Inc()
	log.VEventf(logtags.AddTag(ctx, "portal", name), 2, "created in subtransaction %d", p.createSubID)
	return p, nil
}

// CreateAnonymous creates a portal with a generated name that is not in use.
func (r *Registry) CreateAnonymous(ctx context.Context) (*Portal, error) {
	for {
		r.unnamedCounter++
		name := fmt.Sprintf("<unnamed portal %d>", r.unnamedCounter)
		if r.portals[name] == nil {
			return r.Create(ctx, name, false /* allowDup */, false /* dupSilent */)
		}
	}
}

// DeleteAll drops every portal except the active ones, which are running
// the command that requested the deletion.
func (r *Registry) DeleteAll(ctx context.Context) error {
	var retErr error
	r.forEachPortal(func(p *Portal) {
		if p.status == Active {
			return
		}
		if err := r.Drop(ctx, p, false /* isTopCommit */); err != nil {
			retErr = errors.CombineErrors(retErr, err)
		}
	})
	return retErr
}

// LockQueue charges the portal to the session's resource queue. It is a
// no-op for portals that are not subject to a queue.
func (p *Portal) LockQueue(ctx context.Context, cost float64) error {
	r := p.reg
	if !r.queueEnabled() || p.portalID == resqueue.InvalidPortalID {
		return nil
	}
	tag := resqueue.PortalTag{PID: r.cfg.PID, PortalID: p.portalID}
	return r.queue.LockPortal(ctx, tag, cost, p.cursorOptions.Has(Hold))
}

// TotalPortalIncrements sums the resource queue increments of the portals
// of backend pid that run under queueID.
func (r *Registry) TotalPortalIncrements(pid int32, queueID uint32) (cost float64, count int) {
	if r.queue == nil {
		return 0, 0
	}
	for _, name := range r.sortedNames() {
		p := r.portals[name]
		if p.queueID != queueID {
			continue
		}
		inc, ok := r.queue.FindIncrement(resqueue.PortalTag{PID: pid, PortalID: p.portalID})
		if !ok {
			continue
		}
		cost += inc.Cost
		count++
	}
	return cost, count
}

func (r *Registry) queueEnabled() bool {
	return r.queue != nil && r.queue.Enabled()
}
