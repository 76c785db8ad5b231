// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package resqueue implements resource queue admission for portals. A
// portal that runs under a queue holds one active-statement slot and a
// cost increment from the moment it is locked until it is unlocked, which
// happens when the portal is dropped at the latest.
package resqueue

import (
	"context"

	"github.com/Arenadata-Labs/gpdb/pkg/base"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgcode"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgerror"
	"github.com/Arenadata-Labs/gpdb/pkg/util/log"
	"github.com/Arenadata-Labs/gpdb/pkg/util/syncutil"
	"github.com/cockroachdb/errors"
	"github.com/marusama/semaphore"
)

// InvalidPortalID is the portal id of portals that are not subject to a
// resource queue.
const InvalidPortalID uint32 = 0

// InvalidQueueID is the queue id of portals that are not subject to a
// resource queue.
const InvalidQueueID uint32 = 0

// PortalTag identifies a locked portal: the backend process and the portal
// id it was given by CreatePortalID.
type PortalTag struct {
	PID      int32
	PortalID uint32
}

// Increment is the share of a queue held by a locked portal.
type Increment struct {
	PortalTag
	QueueID uint32
	Cost    float64
	// IsHold is set for holdable cursors, whose increment survives the end
	// of the transaction.
	IsHold bool
}

// Queue is a resource queue. Every backend sharing a queue competes for its
// active-statement slots.
type Queue struct {
	id  uint32
	cfg base.ResourceQueueConfig
	sem semaphore.Semaphore

	mu struct {
		syncutil.Mutex
		costInUse    float64
		increments   map[PortalTag]Increment
		nextPortalID map[int32]uint32
	}
}

// NewQueue creates a queue. The id must not be InvalidQueueID.
func NewQueue(id uint32, cfg base.ResourceQueueConfig) *Queue {
	slots := cfg.ActiveStatements
	if slots <= 0 {
		slots = 1
	}
	q := &Queue{
		id:  id,
		cfg: cfg,
		sem: semaphore.New(slots),
	}
	q.mu.increments = make(map[PortalTag]Increment)
	q.mu.nextPortalID = make(map[int32]uint32)
	return q
}

// ID returns the queue id.
func (q *Queue) ID() uint32 {
	return q.id
}

// Enabled returns whether the queue enforces admission.
func (q *Queue) Enabled() bool {
	return q.cfg.Enabled
}

// CreatePortalID returns a new portal id for backend pid, never
// InvalidPortalID.
func (q *Queue) CreatePortalID(pid int32) uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.mu.nextPortalID[pid] + 1
	if id == InvalidPortalID {
		id++
	}
	q.mu.nextPortalID[pid] = id
	return id
}

// LockPortal waits for an active-statement slot and charges cost to the
// queue on behalf of the portal identified by tag.
func (q *Queue) LockPortal(ctx context.Context, tag PortalTag, cost float64, isHold bool) error {
	if !q.cfg.Enabled {
		return nil
	}
	if q.cfg.CostLimit > 0 && cost > q.cfg.CostLimit {
		return errors.WithDetailf(
			pgerror.Newf(pgcode.InsufficientResources,
				"statement requires more resources than resource queue allows"),
			"cost %.2f, limit %.2f", cost, q.cfg.CostLimit)
	}
	q.mu.Lock()
	_, ok := q.mu.increments[tag]
	q.mu.Unlock()
	if ok {
		return errors.AssertionFailedf("portal %d of backend %d already locked", tag.PortalID, tag.PID)
	}

	if err := q.sem.Acquire(ctx, 1); err != nil {
		return pgerror.Wrap(err, pgcode.QueryCanceled, "waiting for resource queue")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cfg.CostLimit > 0 && q.mu.costInUse+cost > q.cfg.CostLimit {
		q.sem.Release(1)
		return pgerror.Newf(pgcode.InsufficientResources,
			"resource queue cost limit exceeded: %.2f in use, %.2f requested, limit %.2f",
			q.mu.costInUse, cost, q.cfg.CostLimit)
	}
	q.mu.costInUse += cost
	q.mu.increments[tag] = Increment{PortalTag: tag, QueueID: q.id, Cost: cost, IsHold: isHold}
	log.VEventf(ctx, 2, "resource queue %d: locked portal %d (cost %.2f)", q.id, tag.PortalID, cost)
	return nil
}

// IsLocked returns whether the portal identified by tag holds a slot.
func (q *Queue) IsLocked(tag PortalTag) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.mu.increments[tag]
	return ok
}

// FindIncrement returns the increment held by the portal identified by tag.
func (q *Queue) FindIncrement(tag PortalTag) (Increment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	inc, ok := q.mu.increments[tag]
	return inc, ok
}

// UnlockPortal releases the slot and cost held by the portal identified by
// tag. Unlocking a portal that is not locked is a no-op.
func (q *Queue) UnlockPortal(ctx context.Context, tag PortalTag) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.unlockLocked(ctx, tag)
}

func (q *Queue) unlockLocked(ctx context.Context, tag PortalTag) {
	inc, ok := q.mu.increments[tag]
	if !ok {
		return
	}
	delete(q.mu.increments, tag)
	q.mu.costInUse -= inc.Cost
	q.sem.Release(1)
	log.VEventf(ctx, 2, "resource queue %d: unlocked portal %d", q.id, tag.PortalID)
}

// UnlockAll releases every slot held by backend pid and returns how many
// were held.
func (q *Queue) UnlockAll(ctx context.Context, pid int32) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for tag := range q.mu.increments {
		if tag.PID == pid {
			q.unlockLocked(ctx, tag)
			n++
		}
	}
	return n
}

// TotalPortalIncrements sums the increments held by the portals of backend
// pid in queue queueID.
func (q *Queue) TotalPortalIncrements(pid int32, queueID uint32) (cost float64, count int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for tag, inc := range q.mu.increments {
		if tag.PID == pid && inc.QueueID == queueID {
			cost += inc.Cost
			count++
		}
	}
	return cost, count
}

// ActiveStatements returns the number of slots in use.
func (q *Queue) ActiveStatements() int {
	return q.sem.GetCount()
}
