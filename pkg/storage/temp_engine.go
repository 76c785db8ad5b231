// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package storage provides the temporary storage engine that materialized
// cursor results spill to once they outgrow their memory budget.
package storage

import (
	"context"
	"encoding/binary"
	"sync/atomic"

	"github.com/Arenadata-Labs/gpdb/pkg/base"
	"github.com/Arenadata-Labs/gpdb/pkg/util/log"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// TempEngine is a pebble instance holding temporary, unreplicated data. Its
// contents do not survive a restart: on-disk stores are wiped on open.
type TempEngine struct {
	db     *pebble.DB
	fs     vfs.FS
	path   string
	nextID atomic.Uint64
	closed atomic.Bool
}

// pebbleLogger routes pebble's own logging through util/log.
type pebbleLogger struct {
	ctx context.Context
}

var _ pebble.Logger = pebbleLogger{}

func (l pebbleLogger) Infof(format string, args ...interface{}) {
	if log.V(3) {
		log.Dev.Infof(l.ctx, format, args...)
	}
}

func (l pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Dev.Errorf(l.ctx, format, args...)
}

func (l pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Dev.Fatalf(l.ctx, format, args...)
}

// NewTempEngine opens a temporary engine according to cfg.
func NewTempEngine(ctx context.Context, cfg base.TempStorageConfig) (*TempEngine, error) {
	e := &TempEngine{path: cfg.Path}
	if cfg.InMemory {
		e.fs = vfs.NewMem()
		e.path = ""
	} else {
		e.fs = vfs.Default
		// Leftovers from a previous process are garbage.
		if err := e.fs.RemoveAll(cfg.Path); err != nil {
			return nil, errors.Wrapf(err, "clearing temporary storage %s", cfg.Path)
		}
		if err := e.fs.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, errors.Wrapf(err, "creating temporary storage %s", cfg.Path)
		}
	}
	opts := &pebble.Options{
		FS:         e.fs,
		DisableWAL: true,
		Logger:     pebbleLogger{ctx: ctx},
	}
	db, err := pebble.Open(e.path, opts)
	if err != nil {
		return nil, errors.Wrap(err, "opening temporary storage")
	}
	e.db = db
	log.Dev.Infof(ctx, "opened temporary storage (in memory: %t)", cfg.InMemory)
	return e, nil
}

// Close closes the engine and removes its files.
func (e *TempEngine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := e.db.Close()
	if e.path != "" {
		err = errors.CombineErrors(err, e.fs.RemoveAll(e.path))
	}
	return err
}

// NewSortedDiskMap returns a key-value map stored in the engine, isolated
// from every other map of the engine by a unique key prefix.
func (e *TempEngine) NewSortedDiskMap() *SortedDiskMap {
	id := e.nextID.Add(1)
	prefix := binary.BigEndian.AppendUint64(nil, id)
	return &SortedDiskMap{db: e.db, prefix: prefix}
}

// rawKeyCount returns the number of keys in the whole engine.
func (e *TempEngine) rawKeyCount() (int, error) {
	iter, err := e.db.NewIter(nil)
	if err != nil {
		return 0, err
	}
	n := 0
	for valid := iter.First(); valid; valid = iter.Next() {
		n++
	}
	return n, iter.Close()
}
