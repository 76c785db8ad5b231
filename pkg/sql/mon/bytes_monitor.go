// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package mon implements hierarchical byte accounting. Every portal owns a
// BytesMonitor that stands for its private memory context; stopping the
// monitor frees everything allocated within it, including its children.
package mon

import (
	"context"
	"math"

	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgcode"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgerror"
	"github.com/Arenadata-Labs/gpdb/pkg/util/log"
	"github.com/Arenadata-Labs/gpdb/pkg/util/syncutil"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/dustin/go-humanize"
)

// NoLimit can be passed to NewMonitor for monitors that are only bounded
// by their parent.
const NoLimit = math.MaxInt64

// Resource is the kind of bytes a monitor accounts for.
type Resource int

const (
	// MemoryResource is the default.
	MemoryResource Resource = iota
	// DiskResource accounts for bytes written to temporary storage.
	DiskResource
)

// BytesMonitor tracks the bytes allocated by a set of accounts and child
// monitors. A monitor is created unstarted, becomes usable after Start and
// is unusable after Stop.
type BytesMonitor struct {
	name     redact.SafeString
	limit    int64
	resource Resource

	mu struct {
		syncutil.Mutex
		started      bool
		stopped      bool
		curAllocated int64
		maxAllocated int64
		parent       *BytesMonitor
		children     map[*BytesMonitor]struct{}
	}
}

// NewMonitor creates an unstarted monitor. limit bounds the bytes allocated
// through this monitor and its children.
func NewMonitor(name redact.SafeString, limit int64) *BytesMonitor {
	m := &BytesMonitor{name: name, limit: limit}
	m.mu.children = make(map[*BytesMonitor]struct{})
	return m
}

// NewDiskMonitor creates an unstarted monitor for temporary storage usage.
func NewDiskMonitor(name redact.SafeString, limit int64) *BytesMonitor {
	m := NewMonitor(name, limit)
	m.resource = DiskResource
	return m
}

// Name returns the name of the monitor.
func (mm *BytesMonitor) Name() redact.SafeString {
	return mm.name
}

// Limit returns the limit passed to NewMonitor.
func (mm *BytesMonitor) Limit() int64 {
	return mm.limit
}

// Start begins a monitoring region. Allocations are also charged to parent
// if non-nil.
func (mm *BytesMonitor) Start(ctx context.Context, parent *BytesMonitor) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.mu.started {
		panic(errors.AssertionFailedf("%s: monitor started twice", mm.name))
	}
	mm.mu.started = true
	if parent != nil {
		parent.mu.Lock()
		if parent.mu.stopped {
			parent.mu.Unlock()
			panic(errors.AssertionFailedf("%s: starting under stopped monitor %s", mm.name, parent.name))
		}
		parent.mu.children[mm] = struct{}{}
		parent.mu.Unlock()
		mm.mu.parent = parent
	}
	if log.V(2) {
		log.Dev.Infof(ctx, "%s: starting monitor", mm.name)
	}
}

// Stop completes a monitoring region. Children are stopped first and any
// bytes still allocated are released to the parent. Stopping a monitor
// twice is a programming error.
func (mm *BytesMonitor) Stop(ctx context.Context) {
	mm.StopChildren(ctx)

	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.mu.stopped {
		panic(errors.AssertionFailedf("%s: monitor stopped twice", mm.name))
	}
	mm.mu.stopped = true
	if mm.mu.curAllocated != 0 {
		if log.V(1) {
			log.Dev.Infof(ctx, "%s: releasing %s still allocated at stop",
				mm.name, redact.Safe(humanize.IBytes(uint64(mm.mu.curAllocated))))
		}
	}
	if parent := mm.mu.parent; parent != nil {
		parent.mu.Lock()
		delete(parent.mu.children, mm)
		parent.mu.Unlock()
		parent.releaseBytes(ctx, mm.mu.curAllocated)
		mm.mu.parent = nil
	}
	mm.mu.curAllocated = 0
}

// StopChildren stops every started child of the monitor, leaving the
// monitor itself usable.
func (mm *BytesMonitor) StopChildren(ctx context.Context) {
	mm.mu.Lock()
	children := make([]*BytesMonitor, 0, len(mm.mu.children))
	for c := range mm.mu.children {
		children = append(children, c)
	}
	mm.mu.Unlock()
	for _, c := range children {
		c.Stop(ctx)
	}
}

// Stopped returns true once Stop has been called.
func (mm *BytesMonitor) Stopped() bool {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.mu.stopped
}

// NumChildren returns the number of started, unstopped children.
func (mm *BytesMonitor) NumChildren() int {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return len(mm.mu.children)
}

// AllocBytes returns the bytes currently allocated through the monitor,
// including its children.
func (mm *BytesMonitor) AllocBytes() int64 {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.mu.curAllocated
}

// MaximumBytes returns the high watermark of AllocBytes.
func (mm *BytesMonitor) MaximumBytes() int64 {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.mu.maxAllocated
}

func (mm *BytesMonitor) reserveBytes(ctx context.Context, x int64) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if !mm.mu.started || mm.mu.stopped {
		return errors.AssertionFailedf("%s: allocating in a monitor that is not running", mm.name)
	}
	if mm.mu.curAllocated > mm.limit-x {
		code, kind := pgcode.OutOfMemory, redact.SafeString("memory")
		if mm.resource == DiskResource {
			code, kind = pgcode.DiskFull, "disk"
		}
		return pgerror.Newf(code,
			"%s: %s budget exceeded: %s requested, %s already allocated, limit %s",
			mm.name, kind,
			redact.Safe(humanize.IBytes(uint64(x))),
			redact.Safe(humanize.IBytes(uint64(mm.mu.curAllocated))),
			redact.Safe(humanize.IBytes(uint64(mm.limit))))
	}
	if mm.mu.parent != nil {
		if err := mm.mu.parent.reserveBytes(ctx, x); err != nil {
			return err
		}
	}
	mm.mu.curAllocated += x
	if mm.mu.curAllocated > mm.mu.maxAllocated {
		mm.mu.maxAllocated = mm.mu.curAllocated
	}
	return nil
}

func (mm *BytesMonitor) releaseBytes(ctx context.Context, sz int64) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.mu.curAllocated < sz {
		log.Dev.Errorf(ctx, "%s: no bytes to release, current %d, free %d",
			mm.name, mm.mu.curAllocated, sz)
		sz = mm.mu.curAllocated
	}
	mm.mu.curAllocated -= sz
	if mm.mu.parent != nil {
		mm.mu.parent.releaseBytes(ctx, sz)
	}
}
