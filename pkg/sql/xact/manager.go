// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package xact drives the portal registry through the transaction and
// savepoint boundaries of a session, and turns statement timeouts into
// query cancellation at safe points.
package xact

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Arenadata-Labs/gpdb/pkg/sql/mon"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgcode"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgerror"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/portal"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/resowner"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/resqueue"
	"github.com/Arenadata-Labs/gpdb/pkg/storage"
	"github.com/Arenadata-Labs/gpdb/pkg/util/log"
	"github.com/Arenadata-Labs/gpdb/pkg/util/timeout"
	"github.com/Arenadata-Labs/gpdb/pkg/util/timeutil"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Deps are the collaborators of a Manager. All of them may be nil.
type Deps struct {
	Executor      portal.Executor
	Notices       portal.NoticeSender
	Queue         *resqueue.Queue
	TempEngine    *storage.TempEngine
	Metrics       *portal.Metrics
	ParentMonitor *mon.BytesMonitor
	// Clock stamps statements. It defaults to the system clock.
	Clock timeutil.TimeSource
}

// level is the top-level transaction (levels[0]) or one savepoint.
type level struct {
	name  string
	id    portal.SubTxnID
	owner *resowner.Owner
	// aborted is set once the level's abort sweep ran.
	aborted bool
}

// Manager tracks the transaction state of one session and owns its portal
// registry. Besides Cancel, a Manager is not safe for concurrent use.
type Manager struct {
	cfg      portal.Config
	clock    timeutil.TimeSource
	reg      *portal.Registry
	timeouts *timeout.Multiplexer

	levels    []level
	nextSubID portal.SubTxnID
	stmtTS    time.Time

	// cancelRequested is set from the timeout goroutine or by Cancel.
	cancelRequested atomic.Bool
}

var _ portal.TxnState = (*Manager)(nil)

// NewManager creates the transaction manager of a session, along with its
// portal registry and timeout multiplexer.
func NewManager(ctx context.Context, cfg portal.Config, deps Deps) (*Manager, error) {
	m := &Manager{
		cfg:      cfg,
		clock:    deps.Clock,
		timeouts: timeout.NewMultiplexer(),
	}
	if m.clock == nil {
		m.clock = timeutil.DefaultTimeSource{}
	}
	m.stmtTS = m.clock.Now()
	reg, err := portal.NewRegistry(ctx, cfg, portal.Deps{
		Txn:           m,
		Executor:      deps.Executor,
		Notices:       deps.Notices,
		Queue:         deps.Queue,
		TempEngine:    deps.TempEngine,
		Metrics:       deps.Metrics,
		ParentMonitor: deps.ParentMonitor,
	})
	if err != nil {
		return nil, err
	}
	m.reg = reg
	if _, err := m.timeouts.Register(timeout.StatementTimeout, func() {
		m.cancelRequested.Store(true)
	}); err != nil {
		return nil, errors.CombineErrors(err, reg.Close(ctx))
	}
	m.timeouts.Start(ctx)
	return m, nil
}

// Close rolls back any open transaction and shuts the registry down.
func (m *Manager) Close(ctx context.Context) error {
	var retErr error
	if m.InTxn() {
		retErr = m.Rollback(ctx)
	}
	m.timeouts.Close()
	return errors.CombineErrors(retErr, m.reg.Close(ctx))
}

// Registry returns the portal registry of the session.
func (m *Manager) Registry() *portal.Registry {
	return m.reg
}

// Timeouts returns the timeout multiplexer of the session.
func (m *Manager) Timeouts() *timeout.Multiplexer {
	return m.timeouts
}

// CurrentSubTxnID implements portal.TxnState. It is InvalidSubTxnID outside
// a transaction.
func (m *Manager) CurrentSubTxnID() portal.SubTxnID {
	if len(m.levels) == 0 {
		return portal.InvalidSubTxnID
	}
	return m.levels[len(m.levels)-1].id
}

// CurrentResourceOwner implements portal.TxnState. It is nil outside a
// transaction.
func (m *Manager) CurrentResourceOwner() *resowner.Owner {
	if len(m.levels) == 0 {
		return nil
	}
	return m.levels[len(m.levels)-1].owner
}

// StatementTimestamp implements portal.TxnState.
func (m *Manager) StatementTimestamp() time.Time {
	return m.stmtTS
}

// InTxn returns whether a transaction block is open.
func (m *Manager) InTxn() bool {
	return len(m.levels) > 0
}

// Depth returns the number of open savepoints.
func (m *Manager) Depth() int {
	if len(m.levels) == 0 {
		return 0
	}
	return len(m.levels) - 1
}

// Aborted returns whether the innermost level failed and awaits a rollback.
func (m *Manager) Aborted() bool {
	return len(m.levels) > 0 && m.levels[len(m.levels)-1].aborted
}

// CheckUsable returns an error if the transaction failed, in which case
// only rollbacks are accepted.
func (m *Manager) CheckUsable() error {
	if m.Aborted() {
		return pgerror.New(pgcode.InFailedSQLTransaction,
			"current transaction is aborted, commands ignored until end of transaction block")
	}
	return nil
}

// StartStatement stamps a new statement and arms the statement timeout.
func (m *Manager) StartStatement(ctx context.Context) error {
	m.stmtTS = m.clock.Now()
	m.cancelRequested.Store(false)
	if m.cfg.StatementTimeout > 0 {
		if err := m.timeouts.EnableAfter(timeout.StatementTimeout, m.cfg.StatementTimeout); err != nil {
			return err
		}
	}
	return nil
}

// FinishStatement disarms the statement timeout.
func (m *Manager) FinishStatement(ctx context.Context) {
	if m.timeouts.IsActive(timeout.StatementTimeout) {
		m.timeouts.Disable(timeout.StatementTimeout, false /* keepIndicator */)
	}
}

// Cancel requests cancellation of the running statement. It may be called
// from any goroutine.
func (m *Manager) Cancel() {
	m.cancelRequested.Store(true)
}

// CheckForInterrupts returns a QueryCanceled error if cancellation was
// requested since the last check.
func (m *Manager) CheckForInterrupts(ctx context.Context) error {
	if !m.cancelRequested.Swap(false) {
		return nil
	}
	if m.timeouts.Indicator(timeout.StatementTimeout, true /* reset */) {
		return pgerror.New(pgcode.QueryCanceled, "canceling statement due to statement timeout")
	}
	return pgerror.New(pgcode.QueryCanceled, "canceling statement due to user request")
}

// Begin opens a transaction block.
func (m *Manager) Begin(ctx context.Context) error {
	if m.InTxn() {
		return pgerror.New(pgcode.ActiveSQLTransaction, "there is already a transaction in progress")
	}
	m.nextSubID = 1
	m.levels = append(m.levels[:0], level{
		id:    m.nextSubID,
		owner: resowner.NewOwner(nil, "TopTransaction"),
	})
	log.VEventf(ctx, 2, "began transaction")
	return nil
}

// Commit commits the transaction, releasing open savepoints first. Holdable
// cursors created in the transaction are persisted. Committing a failed
// transaction rolls it back.
func (m *Manager) Commit(ctx context.Context) error {
	return m.commit(ctx, false /* isPrepare */)
}

// Prepare prepares the transaction for two-phase commit. It fails if the
// transaction created a holdable cursor.
func (m *Manager) Prepare(ctx context.Context) error {
	return m.commit(ctx, true /* isPrepare */)
}

func (m *Manager) commit(ctx context.Context, isPrepare bool) error {
	if !m.InTxn() {
		return pgerror.New(pgcode.NoActiveSQLTransaction, "there is no transaction in progress")
	}
	for _, l := range m.levels {
		if l.aborted {
			return m.Rollback(ctx)
		}
	}
	for len(m.levels) > 1 {
		if err := m.releaseLevel(ctx); err != nil {
			return m.abortAfter(ctx, err)
		}
	}
	for {
		changed, err := m.reg.PreCommit(ctx, isPrepare)
		if err != nil {
			return m.abortAfter(ctx, err)
		}
		if !changed {
			break
		}
	}
	owner := m.levels[0].owner
	err := owner.ReleaseAll(ctx, true /* isCommit */, true /* isTopLevel */)
	err = errors.CombineErrors(err, owner.Delete())
	m.levels = m.levels[:0]
	if err != nil {
		return err
	}
	if isPrepare {
		log.VEventf(ctx, 2, "prepared transaction")
	} else {
		log.VEventf(ctx, 2, "committed transaction")
	}
	return nil
}

// abortAfter rolls the transaction back after cause stopped a commit.
func (m *Manager) abortAfter(ctx context.Context, cause error) error {
	if err := m.Rollback(ctx); err != nil {
		log.Dev.Warningf(ctx, "rolling back after failed commit: %v", err)
	}
	return cause
}

// Fail aborts the innermost level after an error. Portals that belong to
// it are failed and their executor state shut down; the level stays open
// until it is rolled back.
func (m *Manager) Fail(ctx context.Context) error {
	if !m.InTxn() || m.Aborted() {
		return nil
	}
	return m.abortLevel(ctx)
}

// Rollback aborts and ends the transaction, including all savepoints.
func (m *Manager) Rollback(ctx context.Context) error {
	if !m.InTxn() {
		return pgerror.New(pgcode.NoActiveSQLTransaction, "there is no transaction in progress")
	}
	var retErr error
	for len(m.levels) > 1 {
		retErr = errors.CombineErrors(retErr, m.rollbackLevel(ctx))
	}
	top := &m.levels[0]
	if !top.aborted {
		retErr = errors.CombineErrors(retErr, m.abortLevel(ctx))
	}
	retErr = errors.CombineErrors(retErr, m.reg.AtCleanup(ctx))
	retErr = errors.CombineErrors(retErr, top.owner.Delete())
	m.levels = m.levels[:0]
	log.VEventf(ctx, 2, "rolled back transaction")
	return retErr
}

// Savepoint opens a subtransaction.
func (m *Manager) Savepoint(ctx context.Context, name string) error {
	if !m.InTxn() {
		return pgerror.New(pgcode.NoActiveSQLTransaction, "SAVEPOINT can only be used in transaction blocks")
	}
	if err := m.CheckUsable(); err != nil {
		return err
	}
	m.pushLevel(name)
	log.VEventf(ctx, 2, "savepoint %q (sub %d)", name, m.CurrentSubTxnID())
	return nil
}

// ReleaseSavepoint commits the named savepoint and every savepoint opened
// after it.
func (m *Manager) ReleaseSavepoint(ctx context.Context, name string) error {
	idx, err := m.findSavepoint("RELEASE SAVEPOINT", name)
	if err != nil {
		return err
	}
	if err := m.CheckUsable(); err != nil {
		return err
	}
	for len(m.levels) > idx {
		if err := m.releaseLevel(ctx); err != nil {
			return errors.CombineErrors(err, m.Fail(ctx))
		}
	}
	return nil
}

// RollbackToSavepoint aborts every subtransaction opened since the named
// savepoint, including its own, and opens it again.
func (m *Manager) RollbackToSavepoint(ctx context.Context, name string) error {
	idx, err := m.findSavepoint("ROLLBACK TO SAVEPOINT", name)
	if err != nil {
		return err
	}
	var retErr error
	for len(m.levels) > idx {
		retErr = errors.CombineErrors(retErr, m.rollbackLevel(ctx))
	}
	m.pushLevel(name)
	return retErr
}

func (m *Manager) findSavepoint(stmt redact.SafeString, name string) (int, error) {
	if !m.InTxn() {
		return 0, pgerror.Newf(pgcode.NoActiveSQLTransaction, "%s can only be used in transaction blocks", stmt)
	}
	for i := len(m.levels) - 1; i > 0; i-- {
		if m.levels[i].name == name {
			return i, nil
		}
	}
	return 0, pgerror.Newf(pgcode.InvalidSavepointSpecification, "savepoint %q does not exist", name)
}

func (m *Manager) pushLevel(name string) {
	m.nextSubID++
	m.levels = append(m.levels, level{
		name:  name,
		id:    m.nextSubID,
		owner: resowner.NewOwner(m.CurrentResourceOwner(), "SubTransaction"),
	})
}

// releaseLevel commits the innermost subtransaction into its parent.
func (m *Manager) releaseLevel(ctx context.Context) error {
	n := len(m.levels)
	my, parent := m.levels[n-1], m.levels[n-2]
	if err := m.reg.AtSubCommit(ctx, my.id, parent.id, parent.owner); err != nil {
		return err
	}
	err := my.owner.ReleaseAll(ctx, true /* isCommit */, false /* isTopLevel */)
	err = errors.CombineErrors(err, my.owner.Delete())
	m.levels = m.levels[:n-1]
	return err
}

// abortLevel runs the abort sweep of the innermost level and releases its
// resources.
func (m *Manager) abortLevel(ctx context.Context) error {
	n := len(m.levels)
	my := &m.levels[n-1]
	my.aborted = true
	if n == 1 {
		err := m.reg.AtAbort(ctx)
		return errors.CombineErrors(err,
			my.owner.ReleaseAll(ctx, false /* isCommit */, true /* isTopLevel */))
	}
	parent := m.levels[n-2]
	err := m.reg.AtSubAbort(ctx, my.id, parent.id, my.owner, parent.owner)
	return errors.CombineErrors(err,
		my.owner.ReleaseAll(ctx, false /* isCommit */, false /* isTopLevel */))
}

// rollbackLevel aborts the innermost subtransaction if needed, cleans it up
// and closes it.
func (m *Manager) rollbackLevel(ctx context.Context) error {
	var retErr error
	n := len(m.levels)
	if !m.levels[n-1].aborted {
		retErr = m.abortLevel(ctx)
	}
	my := m.levels[n-1]
	retErr = errors.CombineErrors(retErr, m.reg.AtSubCleanup(ctx, my.id))
	retErr = errors.CombineErrors(retErr, my.owner.Delete())
	m.levels = m.levels[:n-1]
	return retErr
}
