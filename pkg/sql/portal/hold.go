// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package portal

import (
	"context"

	"github.com/Arenadata-Labs/gpdb/pkg/sql/mon"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/rowcontainer"
	"github.com/Arenadata-Labs/gpdb/pkg/util/log"
	"github.com/cockroachdb/errors"
)

// createHoldStore sets up the store the rows of a holdable cursor are
// materialized into. Its monitor is a sibling of the portal heap, since the
// store outlives the transaction-local state kept in the heap. Rows past
// work_mem spill to temporary storage.
func (r *Registry) createHoldStore(ctx context.Context, p *Portal) error {
	if p.holdStore != nil {
		return errors.AssertionFailedf("%s already has a hold store", p)
	}
	p.holdMon = mon.NewMonitor("portal hold", int64(r.cfg.WorkMem))
	p.holdMon.Start(ctx, r.portalMem)
	p.holdStore = rowcontainer.NewDiskBackedRowContainer(
		p.holdMon, r.holdDiskMon, r.tempEngine, p.cursorOptions.Has(Scroll))
	return nil
}

// persistHoldable materializes a holdable cursor created in the committing
// transaction and detaches it from the transaction. Afterwards the portal
// is treated like a portal inherited from an earlier transaction.
func (r *Registry) persistHoldable(ctx context.Context, p *Portal) error {
	if err := r.createHoldStore(ctx, p); err != nil {
		return err
	}
	if r.exec != nil {
		if err := r.exec.PersistHoldable(ctx, p); err != nil {
			return errors.Wrapf(err, "persisting holdable cursor %q", p.name)
		}
	}
	p.releaseCachedPlan(ctx)
	p.owner = nil
	p.createSubID = InvalidSubTxnID
	p.activeSubID = InvalidSubTxnID
	r.metrics.Persisted.Inc()
	log.VEventf(ctx, 2, "persisted %d rows (spilled: %t)", p.holdStore.Len(), p.holdStore.Spilled())
	return nil
}
