// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package mon

import "context"

// BoundAccount tracks a set of allocations charged to a specific monitor.
// It is not safe for concurrent use.
type BoundAccount struct {
	used int64
	mon  *BytesMonitor
}

// MakeBoundAccount creates a BoundAccount connected to the given monitor.
func (mm *BytesMonitor) MakeBoundAccount() BoundAccount {
	return BoundAccount{mon: mm}
}

// Monitor returns the monitor the account charges.
func (b *BoundAccount) Monitor() *BytesMonitor {
	return b.mon
}

// Used returns the number of bytes currently allocated through the account.
func (b *BoundAccount) Used() int64 {
	return b.used
}

// Grow is an accessor for b.mon.reserveBytes.
func (b *BoundAccount) Grow(ctx context.Context, x int64) error {
	if b == nil || b.mon == nil {
		return nil
	}
	if err := b.mon.reserveBytes(ctx, x); err != nil {
		return err
	}
	b.used += x
	return nil
}

// Shrink releases part of the cumulated allocations by the specified size.
func (b *BoundAccount) Shrink(ctx context.Context, delta int64) {
	if b == nil || b.mon == nil {
		return
	}
	if b.used < delta {
		delta = b.used
	}
	b.used -= delta
	// A stopped monitor has already returned its bytes to its parent.
	if !b.mon.Stopped() {
		b.mon.releaseBytes(ctx, delta)
	}
}

// Clear releases all the cumulated allocations of the account at once.
func (b *BoundAccount) Clear(ctx context.Context) {
	b.Shrink(ctx, b.used)
}

// Close releases all the cumulated allocations of the account and detaches
// it from its monitor.
func (b *BoundAccount) Close(ctx context.Context) {
	if b == nil || b.mon == nil {
		return
	}
	b.Clear(ctx)
	b.mon = nil
}
