// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package portal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Arenadata-Labs/gpdb/pkg/base"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/mon"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgnotice"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/plancache"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/resowner"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/resqueue"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/rowcontainer"
	"github.com/Arenadata-Labs/gpdb/pkg/storage"
	"github.com/stretchr/testify/require"
)

// testTxn is a transaction with a stack of subtransactions, each with its
// own resource owner.
type testTxn struct {
	subIDs []SubTxnID
	owners []*resowner.Owner
	nextID SubTxnID
	ts     time.Time
}

func newTestTxn() *testTxn {
	txn := &testTxn{ts: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)}
	txn.begin()
	return txn
}

func (txn *testTxn) begin() {
	txn.nextID = 1
	txn.subIDs = []SubTxnID{1}
	txn.owners = []*resowner.Owner{resowner.NewOwner(nil, "txn")}
}

func (txn *testTxn) push() {
	txn.nextID++
	txn.subIDs = append(txn.subIDs, txn.nextID)
	txn.owners = append(txn.owners, resowner.NewOwner(txn.CurrentResourceOwner(), "subxact"))
}

func (txn *testTxn) pop() {
	txn.subIDs = txn.subIDs[:len(txn.subIDs)-1]
	txn.owners = txn.owners[:len(txn.owners)-1]
}

// parent returns the subtransaction id and owner of the parent of the
// current subtransaction.
func (txn *testTxn) parent() (SubTxnID, *resowner.Owner) {
	n := len(txn.subIDs)
	return txn.subIDs[n-2], txn.owners[n-2]
}

// end leaves the transaction without opening another one.
func (txn *testTxn) end() {
	txn.subIDs = nil
	txn.owners = nil
}

func (txn *testTxn) CurrentSubTxnID() SubTxnID {
	if len(txn.subIDs) == 0 {
		return InvalidSubTxnID
	}
	return txn.subIDs[len(txn.subIDs)-1]
}

func (txn *testTxn) CurrentResourceOwner() *resowner.Owner {
	if len(txn.owners) == 0 {
		return nil
	}
	return txn.owners[len(txn.owners)-1]
}

func (txn *testTxn) StatementTimestamp() time.Time {
	return txn.ts
}

// testExecutor records cleanups and persists the rows queued in pending.
type testExecutor struct {
	events     []string
	cleanupErr error
	pending    map[string][]rowcontainer.Row
	// onCleanup, if set, runs inside Cleanup.
	onCleanup func(ctx context.Context, p *Portal)
}

func (e *testExecutor) Cleanup(ctx context.Context, p *Portal) error {
	e.events = append(e.events, fmt.Sprintf("cleanup %s", p.Name()))
	if e.onCleanup != nil {
		e.onCleanup(ctx, p)
	}
	return e.cleanupErr
}

func (e *testExecutor) PersistHoldable(ctx context.Context, p *Portal) error {
	e.events = append(e.events, fmt.Sprintf("persist %s", p.Name()))
	for _, row := range e.pending[p.Name()] {
		if err := p.HoldStore().AddRow(ctx, row); err != nil {
			return err
		}
	}
	delete(e.pending, p.Name())
	p.SetQueryDesc(nil)
	p.SetPosition(true, false, 0)
	return nil
}

type testNotices struct {
	notices []pgnotice.Notice
}

func (n *testNotices) BufferClientNotice(_ context.Context, notice pgnotice.Notice) {
	n.notices = append(n.notices, notice)
}

type testStmt struct {
	name      string
	canSetTag bool
	utility   bool
}

func (s *testStmt) CanSetTag() bool { return s.canSetTag }
func (s *testStmt) IsUtility() bool { return s.utility }

type testQueryDesc struct {
	cancelled bool
}

func (qd *testQueryDesc) CancelUnfinished() { qd.cancelled = true }

type testEnv struct {
	reg     *Registry
	txn     *testTxn
	exec    *testExecutor
	notices *testNotices
	queue   *resqueue.Queue
	metrics *Metrics
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	ctx := context.Background()
	cfg := Config{Config: base.TestingConfig(), PID: 42}
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := storage.NewTempEngine(ctx, cfg.TempStorage)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, engine.Close()) })

	env := &testEnv{
		txn:     newTestTxn(),
		exec:    &testExecutor{pending: make(map[string][]rowcontainer.Row)},
		notices: &testNotices{},
		queue:   resqueue.NewQueue(7, cfg.ResourceQueue),
		metrics: NewMetrics(nil),
	}
	env.reg, err = NewRegistry(ctx, cfg, Deps{
		Txn:        env.txn,
		Executor:   env.exec,
		Notices:    env.notices,
		Queue:      env.queue,
		TempEngine: engine,
		Metrics:    env.metrics,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.reg.Close(ctx) })
	return env
}

// create creates a portal and attaches a single SELECT to it.
func (env *testEnv) create(t *testing.T, name string) *Portal {
	t.Helper()
	p, err := env.reg.Create(context.Background(), name, false /* allowDup */, false /* dupSilent */)
	require.NoError(t, err)
	require.NoError(t, p.DefineQuery(QueryDef{
		SourceText: "SELECT * FROM t",
		CommandTag: "SELECT",
		Stmts:      []plancache.Statement{&testStmt{name: "select", canSetTag: true}},
	}))
	return p
}

// createReady creates a portal and starts it.
func (env *testEnv) createReady(t *testing.T, name string) (*Portal, *testQueryDesc) {
	t.Helper()
	p := env.create(t, name)
	qd := &testQueryDesc{}
	require.NoError(t, p.Start(OneSelect, qd))
	return p, qd
}

// createActive creates a portal and starts running it.
func (env *testEnv) createActive(t *testing.T, name string) *Portal {
	t.Helper()
	p, _ := env.createReady(t, name)
	require.NoError(t, p.MarkActive(context.Background()))
	return p
}

// newChildMonitor starts a monitor for executor state under the heap of p.
func newChildMonitor(ctx context.Context, p *Portal) *mon.BytesMonitor {
	m := mon.NewMonitor("executor", mon.NoLimit)
	m.Start(ctx, p.Heap())
	return m
}
