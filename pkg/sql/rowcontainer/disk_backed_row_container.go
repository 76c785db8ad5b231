// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package rowcontainer materializes result rows. Rows are kept in memory
// until the memory budget is exhausted and then spill to temporary storage.
package rowcontainer

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/Arenadata-Labs/gpdb/pkg/sql/mon"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgcode"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgerror"
	"github.com/Arenadata-Labs/gpdb/pkg/storage"
	"github.com/Arenadata-Labs/gpdb/pkg/util/log"
	"github.com/cockroachdb/errors"
)

// Row is an encoded result row. Its encoding is owned by the executor that
// produced it.
type Row []byte

// rowOverhead is the memory accounted per row on top of its bytes.
const rowOverhead = 24

// ErrNoRandomAccess is returned by GetRow on a container that was created
// for sequential access only.
var ErrNoRandomAccess = errors.New("row container does not support random access")

// DiskBackedRowContainer is a row container that starts in memory and
// switches to a SortedDiskMap once its memory account cannot grow anymore.
// Rows are kept in insertion order.
type DiskBackedRowContainer struct {
	randomAccess bool

	memAcc  mon.BoundAccount
	diskAcc mon.BoundAccount
	engine  *storage.TempEngine

	rows     []Row
	diskMap  *storage.SortedDiskMap
	numRows  int
	closed   bool
	keyScrap []byte
}

// NewDiskBackedRowContainer creates a container charging memory to
// memMonitor and disk usage to diskMonitor (which may be nil). Random
// access through GetRow is only allowed if randomAccess is set.
func NewDiskBackedRowContainer(
	memMonitor, diskMonitor *mon.BytesMonitor, engine *storage.TempEngine, randomAccess bool,
) *DiskBackedRowContainer {
	rc := &DiskBackedRowContainer{
		randomAccess: randomAccess,
		memAcc:       memMonitor.MakeBoundAccount(),
		engine:       engine,
	}
	if diskMonitor != nil {
		rc.diskAcc = diskMonitor.MakeBoundAccount()
	}
	return rc
}

// Len returns the number of rows in the container.
func (rc *DiskBackedRowContainer) Len() int {
	return rc.numRows
}

// Spilled returns whether the rows are in temporary storage.
func (rc *DiskBackedRowContainer) Spilled() bool {
	return rc.diskMap != nil
}

// RandomAccess returns whether GetRow is allowed.
func (rc *DiskBackedRowContainer) RandomAccess() bool {
	return rc.randomAccess
}

// MemUsage returns the bytes accounted in memory.
func (rc *DiskBackedRowContainer) MemUsage() int64 {
	return rc.memAcc.Used()
}

func (rc *DiskBackedRowContainer) makeKey(idx int) []byte {
	rc.keyScrap = binary.BigEndian.AppendUint64(rc.keyScrap[:0], uint64(idx))
	return rc.keyScrap
}

var spillLogLimiter = log.Every(10 * time.Second)

// AddRow appends a copy of row to the container, spilling to temporary
// storage if the memory budget is exhausted.
func (rc *DiskBackedRowContainer) AddRow(ctx context.Context, row Row) error {
	if rc.closed {
		return errors.AssertionFailedf("adding a row to a closed container")
	}
	if !rc.Spilled() {
		err := rc.memAcc.Grow(ctx, int64(len(row))+rowOverhead)
		if err == nil {
			rc.rows = append(rc.rows, append(Row(nil), row...))
			rc.numRows++
			return nil
		}
		if pgerror.GetPGCode(err) != pgcode.OutOfMemory {
			return err
		}
		if spillLogLimiter.ShouldLog() {
			log.Dev.Infof(ctx, "spilling %d rows to temporary storage", rc.numRows)
		}
		if err := rc.SpillToDisk(ctx); err != nil {
			return err
		}
	}
	if err := rc.diskAcc.Grow(ctx, int64(len(row))+8); err != nil {
		return err
	}
	if err := rc.diskMap.Put(rc.makeKey(rc.numRows), row); err != nil {
		return errors.Wrap(err, "writing to temporary storage")
	}
	rc.numRows++
	return nil
}

// SpillToDisk moves the in-memory rows to temporary storage.
func (rc *DiskBackedRowContainer) SpillToDisk(ctx context.Context) error {
	if rc.Spilled() {
		return errors.AssertionFailedf("container already spilled")
	}
	if rc.engine == nil {
		return pgerror.New(pgcode.OutOfMemory, "row container has no temporary storage to spill to")
	}
	rc.diskMap = rc.engine.NewSortedDiskMap()
	batch := rc.diskMap.NewBatchWriter()
	for i, row := range rc.rows {
		if err := rc.diskAcc.Grow(ctx, int64(len(row))+8); err != nil {
			_ = batch.Close(ctx)
			return err
		}
		if err := batch.Put(rc.makeKey(i), row); err != nil {
			_ = batch.Close(ctx)
			return err
		}
	}
	if err := batch.Close(ctx); err != nil {
		return err
	}
	rc.rows = nil
	rc.memAcc.Clear(ctx)
	return nil
}

// GetRow returns the row at idx. The container must allow random access.
func (rc *DiskBackedRowContainer) GetRow(ctx context.Context, idx int) (Row, error) {
	if !rc.randomAccess {
		return nil, ErrNoRandomAccess
	}
	if idx < 0 || idx >= rc.numRows {
		return nil, errors.Newf("row %d out of range [0, %d)", idx, rc.numRows)
	}
	if !rc.Spilled() {
		return rc.rows[idx], nil
	}
	v, ok, err := rc.diskMap.Get(rc.makeKey(idx))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.AssertionFailedf("row %d missing from temporary storage", idx)
	}
	return v, nil
}

// RowIterator iterates over the rows of a container in insertion order.
type RowIterator interface {
	// Rewind seeks to the first row.
	Rewind()
	// Valid must be called after any call to Rewind or Next.
	Valid() (bool, error)
	// Next advances the iterator.
	Next()
	// Row returns the current row. It is only valid until the next call to
	// Rewind or Next.
	Row() (Row, error)
	Close()
}

// NewIterator returns an iterator over the rows.
func (rc *DiskBackedRowContainer) NewIterator(ctx context.Context) (RowIterator, error) {
	if !rc.Spilled() {
		return &memRowIterator{rows: rc.rows}, nil
	}
	iter, err := rc.diskMap.NewIterator()
	if err != nil {
		return nil, err
	}
	return &diskRowIterator{ctx: ctx, iter: iter}, nil
}

// Close releases the rows, in memory and in temporary storage.
func (rc *DiskBackedRowContainer) Close(ctx context.Context) {
	if rc.closed {
		return
	}
	rc.closed = true
	if rc.diskMap != nil {
		rc.diskMap.Close(ctx)
		rc.diskMap = nil
	}
	rc.rows = nil
	rc.numRows = 0
	rc.memAcc.Close(ctx)
	rc.diskAcc.Close(ctx)
}

type memRowIterator struct {
	rows []Row
	pos  int
}

var _ RowIterator = &memRowIterator{}

func (i *memRowIterator) Rewind()              { i.pos = 0 }
func (i *memRowIterator) Valid() (bool, error) { return i.pos < len(i.rows), nil }
func (i *memRowIterator) Next()                { i.pos++ }
func (i *memRowIterator) Row() (Row, error)    { return i.rows[i.pos], nil }
func (i *memRowIterator) Close()               {}

type diskRowIterator struct {
	ctx  context.Context
	iter *storage.SortedDiskMapIterator
}

var _ RowIterator = &diskRowIterator{}

func (i *diskRowIterator) Rewind()              { i.iter.Rewind() }
func (i *diskRowIterator) Valid() (bool, error) { return i.iter.Valid() }
func (i *diskRowIterator) Next()                { i.iter.Next() }
func (i *diskRowIterator) Row() (Row, error)    { return i.iter.UnsafeValue(), nil }

func (i *diskRowIterator) Close() {
	if err := i.iter.Close(); err != nil {
		log.Dev.Warningf(i.ctx, "closing row iterator: %v", err)
	}
}
