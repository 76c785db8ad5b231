// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package storage

import (
	"bytes"
	"context"

	"github.com/Arenadata-Labs/gpdb/pkg/util/log"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

// defaultBatchCapacityBytes is the size at which a SortedDiskMapBatchWriter
// flushes.
const defaultBatchCapacityBytes = 4 << 20

// SortedDiskMap is an ordered key-value map backed by a TempEngine. Keys
// written through the map are prefixed so that maps sharing an engine never
// observe each other.
type SortedDiskMap struct {
	db     *pebble.DB
	prefix []byte
	closed bool
}

func (m *SortedDiskMap) makeKey(k []byte) []byte {
	key := make([]byte, 0, len(m.prefix)+len(k))
	key = append(key, m.prefix...)
	return append(key, k...)
}

// prefixEnd returns the first key after every key with the map's prefix.
func (m *SortedDiskMap) prefixEnd() []byte {
	end := append([]byte(nil), m.prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Put writes a single key.
func (m *SortedDiskMap) Put(k, v []byte) error {
	return m.db.Set(m.makeKey(k), v, pebble.NoSync)
}

// Get reads a single key. The returned value is a copy.
func (m *SortedDiskMap) Get(k []byte) (_ []byte, ok bool, _ error) {
	v, closer, err := m.db.Get(m.makeKey(k))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), true, nil
}

// NewBatchWriter returns a writer that buffers puts and flushes them in
// batches.
func (m *SortedDiskMap) NewBatchWriter() *SortedDiskMapBatchWriter {
	return &SortedDiskMapBatchWriter{m: m, batch: m.db.NewBatch(), capacity: defaultBatchCapacityBytes}
}

// NewIterator returns an iterator over the map, positioned nowhere. Call
// Rewind or SeekGE before use.
func (m *SortedDiskMap) NewIterator() (*SortedDiskMapIterator, error) {
	iter, err := m.db.NewIter(&pebble.IterOptions{
		LowerBound: m.prefix,
		UpperBound: m.prefixEnd(),
	})
	if err != nil {
		return nil, err
	}
	return &SortedDiskMapIterator{m: m, iter: iter}, nil
}

// Clear deletes every key of the map.
func (m *SortedDiskMap) Clear() error {
	return m.db.DeleteRange(m.prefix, m.prefixEnd(), pebble.NoSync)
}

// Close deletes every key of the map. The map must not be used afterwards.
func (m *SortedDiskMap) Close(ctx context.Context) {
	if m.closed {
		return
	}
	m.closed = true
	if err := m.Clear(); err != nil {
		log.Dev.Errorf(ctx, "unable to clear temporary storage: %v", err)
	}
}

// SortedDiskMapBatchWriter batches puts into a SortedDiskMap.
type SortedDiskMapBatchWriter struct {
	m        *SortedDiskMap
	batch    *pebble.Batch
	capacity int
	numPuts  int
}

// Put buffers a key, flushing once the batch outgrows its capacity.
func (b *SortedDiskMapBatchWriter) Put(k, v []byte) error {
	if err := b.batch.Set(b.m.makeKey(k), v, nil); err != nil {
		return err
	}
	b.numPuts++
	if b.batch.Len() >= b.capacity {
		return b.Flush()
	}
	return nil
}

// NumPutsSinceFlush returns the number of puts buffered since the last
// flush.
func (b *SortedDiskMapBatchWriter) NumPutsSinceFlush() int {
	return b.numPuts
}

// Flush commits the buffered puts.
func (b *SortedDiskMapBatchWriter) Flush() error {
	if b.batch.Empty() {
		return nil
	}
	if err := b.batch.Commit(pebble.NoSync); err != nil {
		return err
	}
	b.numPuts = 0
	b.batch.Reset()
	return nil
}

// Close flushes the remaining puts and releases the batch.
func (b *SortedDiskMapBatchWriter) Close(ctx context.Context) error {
	err := b.Flush()
	if closeErr := b.batch.Close(); closeErr != nil {
		log.Dev.Warningf(ctx, "closing batch: %v", closeErr)
	}
	return err
}

// SortedDiskMapIterator iterates over the keys of a SortedDiskMap in
// order.
type SortedDiskMapIterator struct {
	m     *SortedDiskMap
	iter  *pebble.Iterator
	valid bool
}

// SeekGE positions the iterator at the first key >= k.
func (i *SortedDiskMapIterator) SeekGE(k []byte) {
	i.valid = i.iter.SeekGE(i.m.makeKey(k))
}

// Rewind positions the iterator at the first key.
func (i *SortedDiskMapIterator) Rewind() {
	i.valid = i.iter.First()
}

// Next advances the iterator.
func (i *SortedDiskMapIterator) Next() {
	i.valid = i.iter.Next()
}

// Valid returns whether the iterator points at a key.
func (i *SortedDiskMapIterator) Valid() (bool, error) {
	return i.valid, i.iter.Error()
}

// UnsafeKey returns the current key, without the map prefix. It is only
// valid until the next call to a positioning method.
func (i *SortedDiskMapIterator) UnsafeKey() []byte {
	return bytes.TrimPrefix(i.iter.Key(), i.m.prefix)
}

// UnsafeValue returns the current value. It is only valid until the next
// call to a positioning method.
func (i *SortedDiskMapIterator) UnsafeValue() []byte {
	return i.iter.Value()
}

// Close releases the iterator.
func (i *SortedDiskMapIterator) Close() error {
	return i.iter.Close()
}
