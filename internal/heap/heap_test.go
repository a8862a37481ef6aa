package heap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/reinhardbuyabo/chronosdb/internal/buffer"
	"github.com/reinhardbuyabo/chronosdb/internal/diskmgr"
	"github.com/reinhardbuyabo/chronosdb/internal/txn"
	"github.com/reinhardbuyabo/chronosdb/internal/values"
	"github.com/reinhardbuyabo/chronosdb/internal/walog"
)

func testSchema() values.Schema {
	return values.Schema{Fields: []values.Field{
		{Name: "id", DataType: values.Integer, Visible: true},
		{Name: "name", DataType: values.Text, Visible: true},
	}}
}

func newTestHeap(t *testing.T) (*Heap, *txn.Manager) {
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
	pool := buffer.New(disk, log, 16)
	txnMgr := txn.New(log, nil)
	h, err := Create(pool, txnMgr)
	if err != nil {
		t.Fatal(err)
	}
	return h, txnMgr
}

func TestInsertAndScanRoundTrip(t *testing.T) {
	h, txnMgr := newTestHeap(t)
	schema := testSchema()
	th, err := txnMgr.Begin()
	if err != nil {
		t.Fatal(err)
	}
	ctx := txn.WithTransaction(context.Background(), th)

	want := []values.Tuple{
		values.NewTuple([]values.Value{values.IntVal(1), values.TextVal("alice")}),
		values.NewTuple([]values.Value{values.IntVal(2), values.TextVal("bob")}),
		values.NewTuple([]values.Value{values.IntVal(3), values.TextVal("carol")}),
	}
	for _, tup := range want {
		if _, err := h.InsertTuple(ctx, tup, schema); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := txnMgr.Commit(th); err != nil {
		t.Fatal(err)
	}

	scan := NewScan(h, schema)
	if err := scan.Open(); err != nil {
		t.Fatal(err)
	}
	var got []values.Tuple
	for {
		tup, _, ok, err := scan.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		got = append(got, tup)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d tuples, want %d", len(got), len(want))
	}
	for i, tup := range got {
		if tup.Values[0].Int() != want[i].Values[0].Int() || tup.Values[1].Text() != want[i].Values[1].Text() {
			t.Fatalf("tuple %d mismatch: got %v want %v", i, tup, want[i])
		}
	}
}

func TestDeleteTombstonesSlot(t *testing.T) {
	h, txnMgr := newTestHeap(t)
	schema := testSchema()
	th, err := txnMgr.Begin()
	if err != nil {
		t.Fatal(err)
	}
	ctx := txn.WithTransaction(context.Background(), th)

	rid, err := h.InsertTuple(ctx, values.NewTuple([]values.Value{values.IntVal(1), values.TextVal("x")}), schema)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.DeleteTuple(ctx, rid); err != nil {
		t.Fatal(err)
	}
	if err := txnMgr.Commit(th); err != nil {
		t.Fatal(err)
	}

	_, found, err := h.GetTuple(rid, schema)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected deleted tuple to be absent")
	}
}

func TestUpdateInPlacePreservesSlotSize(t *testing.T) {
	h, txnMgr := newTestHeap(t)
	schema := testSchema()
	th, err := txnMgr.Begin()
	if err != nil {
		t.Fatal(err)
	}
	ctx := txn.WithTransaction(context.Background(), th)

	rid, err := h.InsertTuple(ctx, values.NewTuple([]values.Value{values.IntVal(1), values.TextVal("aaaaa")}), schema)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.UpdateInPlace(ctx, rid, values.NewTuple([]values.Value{values.IntVal(9), values.TextVal("bbbbb")}), schema); err != nil {
		t.Fatal(err)
	}
	if err := txnMgr.Commit(th); err != nil {
		t.Fatal(err)
	}

	tup, found, err := h.GetTuple(rid, schema)
	if err != nil {
		t.Fatal(err)
	}
	if !found || tup.Values[0].Int() != 9 || tup.Values[1].Text() != "bbbbb" {
		t.Fatalf("unexpected tuple after update: %v found=%v", tup, found)
	}
}

func TestInsertSpillsAcrossPages(t *testing.T) {
	h, txnMgr := newTestHeap(t)
	schema := testSchema()
	th, err := txnMgr.Begin()
	if err != nil {
		t.Fatal(err)
	}
	ctx := txn.WithTransaction(context.Background(), th)

	// A large text value forces many tuples per page to exhaust free
	// space and roll over onto a second page.
	big := make([]byte, 500)
	for i := range big {
		big[i] = 'z'
	}
	inserted := 0
	for i := 0; i < 20; i++ {
		if _, err := h.InsertTuple(ctx, values.NewTuple([]values.Value{values.IntVal(int64(i)), values.TextVal(string(big))}), schema); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		inserted++
	}
	if err := txnMgr.Commit(th); err != nil {
		t.Fatal(err)
	}

	scan := NewScan(h, schema)
	if err := scan.Open(); err != nil {
		t.Fatal(err)
	}
	count := 0
	for {
		_, _, ok, err := scan.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != inserted {
		t.Fatalf("scanned %d tuples, want %d", count, inserted)
	}
}
