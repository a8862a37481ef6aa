package exec

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/reinhardbuyabo/chronosdb/internal/btree"
	"github.com/reinhardbuyabo/chronosdb/internal/buffer"
	"github.com/reinhardbuyabo/chronosdb/internal/catalog"
	"github.com/reinhardbuyabo/chronosdb/internal/diskmgr"
	"github.com/reinhardbuyabo/chronosdb/internal/heap"
	"github.com/reinhardbuyabo/chronosdb/internal/plan"
	"github.com/reinhardbuyabo/chronosdb/internal/txn"
	"github.com/reinhardbuyabo/chronosdb/internal/values"
	"github.com/reinhardbuyabo/chronosdb/internal/walog"
)

func newTestTable(t *testing.T) (*catalog.TableInfo, *txn.Manager) {
	t.Helper()
	dir := t.TempDir()
	disk, err := diskmgr.Open(filepath.Join(dir, "data.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { disk.Close() })
	log, err := walog.Open(filepath.Join(dir, "data.wal"), 0, 4096)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { log.Close() })
	pool := buffer.New(disk, log, 64)
	txnMgr := txn.New(log, nil)

	h, err := heap.Create(pool, txnMgr)
	if err != nil {
		t.Fatal(err)
	}
	idTree, err := btree.Create(pool, txnMgr, values.KeyTypeInteger, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	info := &catalog.TableInfo{
		Name:   "people",
		Schema: peopleSchema(),
		Heap:   h,
		Indexes: []*catalog.IndexInfo{
			{Name: "people_pk", Columns: []string{"id"}, Unique: true, Primary: true, Tree: idTree},
		},
	}
	return info, txnMgr
}

func withTxn(t *testing.T, txnMgr *txn.Manager) context.Context {
	t.Helper()
	h, err := txnMgr.Begin()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { txnMgr.Commit(h) })
	return txn.WithTransaction(context.Background(), h)
}

func seedPeople(t *testing.T, table *catalog.TableInfo, txnMgr *txn.Manager, rows [][2]interface{}) {
	t.Helper()
	ctx := withTxn(t, txnMgr)
	for _, r := range rows {
		_, err := table.InsertTuple(ctx, values.NewTuple([]values.Value{
			values.IntVal(r[0].(int64)), values.TextVal(r[1].(string)), values.IntVal(30),
		}))
		if err != nil {
			t.Fatal(err)
		}
	}
}

func drain(t *testing.T, op PhysicalOperator) []values.Tuple {
	t.Helper()
	if err := op.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	var out []values.Tuple
	for {
		tuple, ok, err := op.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		out = append(out, tuple)
	}
	if err := op.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return out
}

func TestSeqScanYieldsInsertedRows(t *testing.T) {
	table, txnMgr := newTestTable(t)
	seedPeople(t, table, txnMgr, [][2]interface{}{{int64(1), "alice"}, {int64(2), "bob"}})

	op := NewSeqScan(table.Heap, table.Schema)
	rows := drain(t, op)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
}

func TestIndexScanEqualityMatchesSingleRow(t *testing.T) {
	table, txnMgr := newTestTable(t)
	seedPeople(t, table, txnMgr, [][2]interface{}{{int64(1), "alice"}, {int64(2), "bob"}})

	op := NewIndexScan(table.Heap, table.Schema, table.Indexes[0].Tree, btree.Equality(values.IntKey(2)))
	rows := drain(t, op)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Values[1].Text() != "bob" {
		t.Fatalf("expected bob, got %v", rows[0])
	}
}

func TestFilterDropsNonMatchingRows(t *testing.T) {
	table, txnMgr := newTestTable(t)
	seedPeople(t, table, txnMgr, [][2]interface{}{{int64(1), "alice"}, {int64(2), "bob"}})

	child := NewSeqScan(table.Heap, table.Schema)
	predicate := plan.BinaryExpr{Left: plan.Column{Name: "id"}, Op: plan.OpEq, Right: plan.Literal{Value: values.IntVal(2)}}
	f := &Filter{Child: child, Predicate: predicate, Schema: table.Schema}
	rows := drain(t, f)
	if len(rows) != 1 || rows[0].Values[0].Int() != 2 {
		t.Fatalf("expected only id=2, got %v", rows)
	}
}

func TestProjectionSelectsNamedColumn(t *testing.T) {
	table, txnMgr := newTestTable(t)
	seedPeople(t, table, txnMgr, [][2]interface{}{{int64(1), "alice"}})

	child := NewSeqScan(table.Heap, table.Schema)
	p := &Projection{
		Child:       child,
		Exprs:       []plan.Expr{plan.Column{Name: "name"}},
		InputSchema: table.Schema,
	}
	rows := drain(t, p)
	if len(rows) != 1 || rows[0].Values[0].Text() != "alice" {
		t.Fatalf("unexpected projection result: %v", rows)
	}
}

func TestNestedLoopJoinMatchesOnCondition(t *testing.T) {
	table, txnMgr := newTestTable(t)
	seedPeople(t, table, txnMgr, [][2]interface{}{{int64(1), "alice"}, {int64(2), "bob"}})

	left := NewSeqScan(table.Heap, table.Schema)
	right := NewSeqScan(table.Heap, table.Schema)
	combined := values.Schema{Fields: append(append([]values.Field{}, table.Schema.Fields...), table.Schema.Fields...)}
	join := &NestedLoopJoin{
		Left:           left,
		Right:          right,
		Predicate:      plan.BinaryExpr{Left: plan.Column{Name: "id"}, Op: plan.OpEq, Right: plan.Column{Name: "id"}},
		CombinedSchema: combined,
	}
	rows := drain(t, join)
	if len(rows) != 2 {
		t.Fatalf("expected 2 self-joined rows, got %d", len(rows))
	}
}

func TestUpdateOperatorAppliesAssignment(t *testing.T) {
	table, txnMgr := newTestTable(t)
	seedPeople(t, table, txnMgr, [][2]interface{}{{int64(1), "alice"}})
	ctx := withTxn(t, txnMgr)

	u := &Update{
		Ctx:   ctx,
		Table: table,
		Match: func(tup values.Tuple) (bool, error) { return tup.Values[0].Int() == 1, nil },
		Assign: func(tup values.Tuple) (values.Tuple, error) {
			return values.NewTuple([]values.Value{tup.Values[0], values.TextVal("alice2"), tup.Values[2]}), nil
		},
	}
	rows := drain(t, u)
	if len(rows) != 1 || rows[0].Values[1].Text() != "alice2" {
		t.Fatalf("unexpected update result: %v", rows)
	}
}
