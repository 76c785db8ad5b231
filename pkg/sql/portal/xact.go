// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package portal

import (
	"context"
	"sort"

	"github.com/Arenadata-Labs/gpdb/pkg/sql/resowner"
	"github.com/Arenadata-Labs/gpdb/pkg/util/log"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"golang.org/x/exp/maps"
)

// sortedNames returns the names of the registered portals in order.
func (r *Registry) sortedNames() []string {
	r.snapshots++
	names := maps.Keys(r.portals)
	sort.Strings(names)
	return names
}

// forEachPortal calls fn for every registered portal in name order. fn may
// create and drop portals, including other portals than the one it was
// called with. Every portal registered at any point of the traversal is
// visited at most once, unless it is dropped before its turn.
//
// The names are sorted once and only sorted again after fn changed the set
// of registered portals, at which point the walk restarts from the first
// name not yet visited.
func (r *Registry) forEachPortal(fn func(p *Portal)) {
	visited := make(map[*Portal]struct{}, len(r.portals))
	for {
		gen := r.gen
		changed := false
		for _, name := range r.sortedNames() {
			p := r.portals[name]
			if p == nil {
				continue
			}
			if _, ok := visited[p]; ok {
				continue
			}
			visited[p] = struct{}{}
			fn(p)
			if r.gen != gen {
				changed = true
				break
			}
		}
		if !changed {
			return
		}
	}
}

// PreCommit runs before the resource owner of a committing top-level
// transaction is released. Holdable cursors created in the transaction are
// persisted and detached from it, and every other portal it created is
// dropped. isPrepare is set for PREPARE TRANSACTION, which cannot persist
// holdable cursors.
//
// PreCommit returns whether any portal changed state. As dropping portals
// can run cleanup code that creates more work, the caller repeats PreCommit
// until it returns false.
func (r *Registry) PreCommit(ctx context.Context, isPrepare bool) (changed bool, _ error) {
	var retErr error
	r.forEachPortal(func(p *Portal) {
		if retErr != nil {
			return
		}
		ctx := logtags.AddTag(ctx, "portal", p.name)
		if p.pinned {
			retErr = errors.AssertionFailedf("cannot commit while a portal is pinned: %s", p)
			return
		}
		if p.status == Active {
			// The portal running the COMMIT. Its owner goes away with the
			// transaction's.
			p.owner = nil
			return
		}
		if p.cursorOptions.Has(Hold) && p.createSubID != InvalidSubTxnID && p.status == Ready {
			if isPrepare {
				retErr = prepareWithHoldError()
				return
			}
			if err := r.persistHoldable(ctx, p); err != nil {
				retErr = err
				return
			}
			changed = true
			return
		}
		if p.createSubID == InvalidSubTxnID {
			return
		}
		if err := r.Drop(ctx, p, true /* isTopCommit */); err != nil {
			retErr = err
			return
		}
		changed = true
	})
	return changed, retErr
}

// AtAbort runs when a top-level transaction aborts, before its resource
// owner is released. Portals created in the transaction lose their
// executor state but stay registered until AtCleanup.
//
// Cleanup hook errors do not stop the sweep; they are combined and
// returned.
func (r *Registry) AtAbort(ctx context.Context) error {
	var retErr error
	r.forEachPortal(func(p *Portal) {
		ctx := logtags.AddTag(ctx, "portal", p.name)
		if p.status == Active {
			retErr = errors.CombineErrors(retErr, p.MarkFailed(ctx))
		}
		if p.isExtendedQuery && p.queryDesc != nil {
			p.queryDesc.CancelUnfinished()
		}
		if p.createSubID == InvalidSubTxnID {
			return
		}
		if r.cfg.FailReadyPortalsOnAbort && p.status == Ready {
			retErr = errors.CombineErrors(retErr, p.MarkFailed(ctx))
		}
		retErr = errors.CombineErrors(retErr, p.runCleanup(ctx))
		p.releaseCachedPlan(ctx)
		p.owner = nil
		p.releaseSubsidiaryMemory(ctx)
	})
	return retErr
}

// AtCleanup runs after the resource owner of an aborted top-level
// transaction was released. Every portal the transaction created is
// dropped, without running cleanup hooks that are still pending.
func (r *Registry) AtCleanup(ctx context.Context) error {
	var retErr error
	r.forEachPortal(func(p *Portal) {
		ctx := logtags.AddTag(ctx, "portal", p.name)
		if p.createSubID == InvalidSubTxnID {
			if p.status == Active || p.owner != nil {
				retErr = errors.CombineErrors(retErr, errors.AssertionFailedf(
					"inherited %s still owns transaction resources", p))
			}
			return
		}
		retErr = errors.CombineErrors(retErr, r.forceDrop(ctx, p))
	})
	return retErr
}

// AtSubCommit moves the portals of a committing subtransaction to its
// parent. parentOwner is the resource owner of the parent.
func (r *Registry) AtSubCommit(
	ctx context.Context, mySubID, parentSubID SubTxnID, parentOwner *resowner.Owner,
) error {
	var retErr error
	r.forEachPortal(func(p *Portal) {
		if p.createSubID == mySubID {
			p.createSubID = parentSubID
			if p.owner != nil {
				retErr = errors.CombineErrors(retErr, p.owner.NewParent(parentOwner))
			}
		}
		if p.activeSubID == mySubID {
			p.activeSubID = parentSubID
		}
	})
	return retErr
}

// AtSubAbort runs when a subtransaction aborts, before its resource owner
// is released. Portals that ran in it fail. Portals created in it lose
// their executor state but stay registered until AtSubCleanup. myOwner is
// the owner of the aborting subtransaction.
func (r *Registry) AtSubAbort(
	ctx context.Context, mySubID, parentSubID SubTxnID, myOwner, parentOwner *resowner.Owner,
) error {
	var retErr error
	r.forEachPortal(func(p *Portal) {
		ctx := logtags.AddTag(ctx, "portal", p.name)
		if p.createSubID != mySubID {
			if p.activeSubID != mySubID {
				return
			}
			// Created in an outer scope, failed in this one.
			p.activeSubID = parentSubID
			if p.status == Active {
				retErr = errors.CombineErrors(retErr, p.MarkFailed(ctx))
			}
			if p.status == Failed && p.owner != nil {
				// Have its resources released with the aborting
				// subtransaction's.
				retErr = errors.CombineErrors(retErr, p.owner.NewParent(myOwner))
				p.owner = nil
			}
			return
		}
		if p.status == Active {
			retErr = errors.CombineErrors(retErr, p.MarkFailed(ctx))
		}
		retErr = errors.CombineErrors(retErr, p.runCleanup(ctx))
		p.releaseCachedPlan(ctx)
		p.owner = nil
		p.releaseSubsidiaryMemory(ctx)
	})
	return retErr
}

// AtSubCleanup runs after the resource owner of an aborted subtransaction
// was released. Every portal created in it is dropped, without running
// cleanup hooks that are still pending.
func (r *Registry) AtSubCleanup(ctx context.Context, mySubID SubTxnID) error {
	var retErr error
	r.forEachPortal(func(p *Portal) {
		if p.createSubID != mySubID {
			return
		}
		ctx := logtags.AddTag(ctx, "portal", p.name)
		retErr = errors.CombineErrors(retErr, r.forceDrop(ctx, p))
	})
	return retErr
}

// forceDrop drops a portal of an aborted scope. Whoever pinned it aborted
// as well, and no cleanup code may run at this point.
func (r *Registry) forceDrop(ctx context.Context, p *Portal) error {
	p.pinned = false
	if p.cleanup != nil {
		log.Dev.Warningf(ctx, "skipping cleanup for portal %q", p.name)
		r.metrics.CleanupSkipped.Inc()
		p.cleanup = nil
	}
	return r.Drop(ctx, p, false /* isTopCommit */)
}
