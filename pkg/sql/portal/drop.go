// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package portal

import (
	"context"

	"github.com/Arenadata-Labs/gpdb/pkg/sql/resowner"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/resqueue"
	"github.com/Arenadata-Labs/gpdb/pkg/util/log"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
)

// Drop destroys a portal. isTopCommit is set when the portal is dropped by
// the pre-commit sweep of a top-level transaction, in which case its
// resources are left to the commit of the transaction owner.
//
// Every step is skipped if it already happened, so Drop can be retried
// after a failure and dropping a freed portal is a no-op. Once the portal
// has been removed from the registry, the remaining steps all run and their
// errors are combined.
func (r *Registry) Drop(ctx context.Context, p *Portal, isTopCommit bool) error {
	if p.freed {
		return nil
	}
	if p.pinned {
		return cannotDropPinnedError(p.name)
	}
	if p.status == Active {
		return cannotDropActiveError(p.name)
	}
	ctx = logtags.AddTag(ctx, "portal", p.name)

	// A failing hook leaves the portal registered. The hook is already
	// cleared, so the next attempt gets past this point.
	if err := p.runCleanup(ctx); err != nil {
		return errors.Wrapf(err, "dropping portal %q", p.name)
	}
	if p.freed {
		// The hook dropped the portal.
		return nil
	}

	if r.portals[p.name] == p {
		delete(r.portals, p.name)
		r.gen++
	}

	if r.queueEnabled() && p.portalID != resqueue.InvalidPortalID {
		tag := resqueue.PortalTag{PID: r.cfg.PID, PortalID: p.portalID}
		if r.queue.IsLocked(tag) {
			r.queue.UnlockPortal(ctx, tag)
		}
	}

	p.releaseCachedPlan(ctx)

	var retErr error
	if owner := p.owner; owner != nil {
		p.owner = nil
		if !isTopCommit || p.status == Failed {
			retErr = releaseOwner(ctx, owner, p.status != Failed)
		}
	}

	if p.holdStore != nil {
		p.holdStore.Close(ctx)
		p.holdStore = nil
	}
	if p.holdMon != nil {
		p.holdMon.Stop(ctx)
		p.holdMon = nil
	}

	if p.heap != nil && !p.heap.Stopped() {
		p.heap.Stop(ctx)
	}

	p.freed = true
	r.metrics.Dropped.Inc()
	r.metrics.Open.Dec()
	log.VEventf(ctx, 2, "dropped (status %s)", p.status)
	return retErr
}

// releaseOwner releases every phase of a portal's owner that was not yet
// released, as a subtransaction would, and deletes it.
func releaseOwner(ctx context.Context, owner *resowner.Owner, isCommit bool) error {
	var retErr error
	for _, phase := range resowner.Phases {
		if owner.Released(phase) {
			continue
		}
		retErr = errors.CombineErrors(retErr,
			owner.Release(ctx, phase, isCommit, false /* isTopLevel */))
	}
	if owner.Deleted() {
		return retErr
	}
	return errors.CombineErrors(retErr, owner.Delete())
}
