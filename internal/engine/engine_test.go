package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/reinhardbuyabo/chronosdb/internal/chronoserr"
	"github.com/reinhardbuyabo/chronosdb/internal/config"
	"github.com/reinhardbuyabo/chronosdb/internal/diag"
	"github.com/reinhardbuyabo/chronosdb/internal/heap"
	"github.com/reinhardbuyabo/chronosdb/internal/plan"
	"github.com/reinhardbuyabo/chronosdb/internal/values"
)

func usersSchema() values.Schema {
	return values.Schema{Fields: []values.Field{
		{Name: "id", DataType: values.Integer, Visible: true},
		{Name: "name", DataType: values.Text, Visible: true},
	}}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataFile = filepath.Join(dir, "chronos.db")
	cfg.BufferPoolFrames = 64
	return cfg
}

func openEngine(t *testing.T, cfg config.Config) *Engine {
	t.Helper()
	e, err := Open(cfg, diag.NullSink{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// S1: create table, insert rows, select them back.
func TestCreateInsertSelect(t *testing.T) {
	cfg := testConfig(t)
	e := openEngine(t, cfg)
	ctx := context.Background()

	if _, err := e.ExecuteStatus(ctx, plan.CreateTable{Table: "users", Schema: usersSchema()}); err != nil {
		t.Fatalf("create table: %v", err)
	}

	txCtx, h, err := e.BeginTxn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rows := []values.Tuple{
		values.NewTuple([]values.Value{values.IntVal(1), values.TextVal("alice")}),
		values.NewTuple([]values.Value{values.IntVal(2), values.TextVal("bob")}),
	}
	if _, err := e.ExecuteStatus(txCtx, plan.Insert{Table: "users", Rows: rows}); err != nil {
		t.Fatal(err)
	}
	if err := e.CommitTxn(h); err != nil {
		t.Fatal(err)
	}

	result, err := e.Execute(ctx, plan.Select{Query: plan.Scan{Table: "users"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Tuples) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Tuples))
	}
}

// S2: duplicate primary key is rejected with a constraint-violation error
// carrying {table, constraint, key}.
func TestDuplicatePrimaryKeyRejected(t *testing.T) {
	cfg := testConfig(t)
	e := openEngine(t, cfg)
	ctx := context.Background()

	if _, err := e.ExecuteStatus(ctx, plan.CreateTable{Table: "users", Schema: usersSchema()}); err != nil {
		t.Fatal(err)
	}
	if err := e.CreateIndex(ctx, "users", "users_id_pk", []string{"id"}, true); err != nil {
		t.Fatal(err)
	}

	txCtx, h, err := e.BeginTxn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	first := []values.Tuple{values.NewTuple([]values.Value{values.IntVal(1), values.TextVal("alice")})}
	if _, err := e.ExecuteStatus(txCtx, plan.Insert{Table: "users", Rows: first}); err != nil {
		t.Fatal(err)
	}
	if err := e.CommitTxn(h); err != nil {
		t.Fatal(err)
	}

	txCtx2, h2, err := e.BeginTxn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	dup := []values.Tuple{values.NewTuple([]values.Value{values.IntVal(1), values.TextVal("carol")})}
	_, err = e.ExecuteStatus(txCtx2, plan.Insert{Table: "users", Rows: dup})
	e.AbortTxn(h2)
	if err == nil {
		t.Fatal("expected duplicate primary key to fail")
	}
	ce, ok := err.(*chronoserr.Error)
	if !ok || ce.Kind != chronoserr.KindConstraintViolation {
		t.Fatalf("expected constraint violation, got %v", err)
	}
	if ce.Table != "users" || ce.Constraint != "users_id_pk" || ce.Key != "1" {
		t.Fatalf("unexpected constraint error shape: %+v", ce)
	}

	result, err := e.Execute(ctx, plan.Select{Query: plan.Scan{Table: "users"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Tuples) != 1 {
		t.Fatalf("expected rejected duplicate to leave exactly 1 row, got %d", len(result.Tuples))
	}
	if result.Tuples[0].Values[1].Text() != "alice" {
		t.Fatalf("expected surviving row to still be alice, got %+v", result.Tuples[0])
	}
}

// S6: an equality lookup through an index fetches strictly fewer buffer
// pool pages than scanning the whole table.
func TestIndexScanFetchesFewerPagesThanSeqScan(t *testing.T) {
	cfg := testConfig(t)
	e := openEngine(t, cfg)
	ctx := context.Background()

	if _, err := e.ExecuteStatus(ctx, plan.CreateTable{Table: "users", Schema: usersSchema()}); err != nil {
		t.Fatal(err)
	}
	if err := e.CreateIndex(ctx, "users", "users_id_pk", []string{"id"}, true); err != nil {
		t.Fatal(err)
	}

	txCtx, h, err := e.BeginTxn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// Large enough that the heap spans many more pages than the B+tree
	// needs to resolve a single key, so the fetch-count margin below holds
	// regardless of exact row/page packing.
	const rowCount = 5000
	var rows []values.Tuple
	for i := int64(1); i <= rowCount; i++ {
		rows = append(rows, values.NewTuple([]values.Value{values.IntVal(i), values.TextVal("user")}))
	}
	if _, err := e.ExecuteStatus(txCtx, plan.Insert{Table: "users", Rows: rows}); err != nil {
		t.Fatal(err)
	}
	if err := e.CommitTxn(h); err != nil {
		t.Fatal(err)
	}

	seqQuery := plan.Select{Query: plan.Filter{
		Input:     plan.Scan{Table: "users"},
		Predicate: plan.BinaryExpr{Left: plan.Column{Name: "name"}, Op: plan.OpEq, Right: plan.Literal{Value: values.TextVal("user")}},
	}}
	before := e.pool.FetchCount()
	if _, err := e.Execute(ctx, seqQuery); err != nil {
		t.Fatal(err)
	}
	seqFetches := e.pool.FetchCount() - before

	indexQuery := plan.Select{Query: plan.Filter{
		Input:     plan.Scan{Table: "users"},
		Predicate: plan.BinaryExpr{Left: plan.Column{Name: "id"}, Op: plan.OpEq, Right: plan.Literal{Value: values.IntVal(rowCount / 2)}},
	}}
	before = e.pool.FetchCount()
	if _, err := e.Execute(ctx, indexQuery); err != nil {
		t.Fatal(err)
	}
	indexFetches := e.pool.FetchCount() - before

	if indexFetches*5 >= seqFetches {
		t.Fatalf("expected index fetches (%d) to be strictly less than one-fifth of seq fetches (%d)", indexFetches, seqFetches)
	}
}

// S3: a committed write survives a restart: Close (which force-flushes
// every page) and reopen, with ARIES recovery run again on open.
// The catalog itself is in-memory only (see DESIGN.md), so this probes
// durability at the page/heap level the catalog would sit on top of: the
// same first-page-id scanned through a freshly opened heap after restart
// must still show the committed row.
func TestCommittedWriteSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	e := openEngine(t, cfg)
	ctx := context.Background()

	if _, err := e.ExecuteStatus(ctx, plan.CreateTable{Table: "users", Schema: usersSchema()}); err != nil {
		t.Fatal(err)
	}
	table, _ := e.Catalog.Lookup("users")
	firstPageID := table.Heap.FirstPageID()

	txCtx, h, err := e.BeginTxn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rows := []values.Tuple{values.NewTuple([]values.Value{values.IntVal(1), values.TextVal("alice")})}
	if _, err := e.ExecuteStatus(txCtx, plan.Insert{Table: "users", Rows: rows}); err != nil {
		t.Fatal(err)
	}
	if err := e.CommitTxn(h); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	e2, err := Open(cfg, diag.NullSink{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	reopened := heap.Open(e2.pool, e2.txnMgr, firstPageID)
	scan := heap.NewScan(reopened, usersSchema())
	if err := scan.Open(); err != nil {
		t.Fatal(err)
	}
	defer scan.Close()
	tuple, _, ok, err := scan.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected committed row to survive restart")
	}
	if tuple.Values[0].Int() != 1 || tuple.Values[1].Text() != "alice" {
		t.Fatalf("unexpected recovered row: %v", tuple)
	}
}

// S4: an aborted transaction's write does not survive, even after the
// dirty page it wrote has already reached disk (buffer-pool eviction,
// a checkpoint flush) before the abort runs. AbortTxn must restore the
// page's pre-mutation bytes, not just mark the transaction dead.
func TestAbortedWriteDoesNotSurviveAfterPageFlush(t *testing.T) {
	cfg := testConfig(t)
	e := openEngine(t, cfg)
	ctx := context.Background()

	if _, err := e.ExecuteStatus(ctx, plan.CreateTable{Table: "users", Schema: usersSchema()}); err != nil {
		t.Fatal(err)
	}
	table, _ := e.Catalog.Lookup("users")
	firstPageID := table.Heap.FirstPageID()

	txCtx, h, err := e.BeginTxn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rows := []values.Tuple{values.NewTuple([]values.Value{values.IntVal(1), values.TextVal("alice")})}
	if _, err := e.ExecuteStatus(txCtx, plan.Insert{Table: "users", Rows: rows}); err != nil {
		t.Fatal(err)
	}

	// Force the uncommitted page to disk, as an eviction or checkpoint
	// tick would before the transaction ever commits or aborts.
	if err := e.pool.FlushPage(firstPageID); err != nil {
		t.Fatal(err)
	}

	if err := e.AbortTxn(h); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	e2, err := Open(cfg, diag.NullSink{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	reopened := heap.Open(e2.pool, e2.txnMgr, firstPageID)
	scan := heap.NewScan(reopened, usersSchema())
	if err := scan.Open(); err != nil {
		t.Fatal(err)
	}
	defer scan.Close()
	_, _, ok, err := scan.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected aborted row not to survive a restart after its page reached disk")
	}
}
