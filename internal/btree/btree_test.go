package btree

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

func newTestTree(t *testing.T, keyType values.IndexKeyType, unique bool) (*Tree, *txn.Manager) {
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
	pool := buffer.New(disk, log, 32)
	txnMgr := txn.New(log, nil)
	tree, err := Create(pool, txnMgr, keyType, 0, unique)
	if err != nil {
		t.Fatal(err)
	}
	return tree, txnMgr
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

func TestInsertAndGetRoundTrip(t *testing.T) {
	tree, txnMgr := newTestTree(t, values.KeyTypeInteger, false)
	ctx := withTxn(t, txnMgr)

	for i := int64(0); i < 5; i++ {
		rid := Rid{PageID: uint64(i + 1), SlotID: 0}
		if err := tree.Insert(ctx, values.IntKey(i), rid); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	rids, err := tree.Get(values.IntKey(3))
	if err != nil {
		t.Fatal(err)
	}
	if len(rids) != 1 || rids[0].PageID != 4 {
		t.Fatalf("unexpected result for key 3: %v", rids)
	}
}

func TestUniqueIndexRejectsDuplicate(t *testing.T) {
	tree, txnMgr := newTestTree(t, values.KeyTypeInteger, true)
	ctx := withTxn(t, txnMgr)

	if err := tree.Insert(ctx, values.IntKey(1), Rid{PageID: 1, SlotID: 0}); err != nil {
		t.Fatal(err)
	}
	if err := tree.Insert(ctx, values.IntKey(1), Rid{PageID: 2, SlotID: 0}); err == nil {
		t.Fatal("expected duplicate key error")
	}
}

func TestRangeScanOrdered(t *testing.T) {
	tree, txnMgr := newTestTree(t, values.KeyTypeInteger, false)
	ctx := withTxn(t, txnMgr)

	for i := int64(10); i >= 1; i-- {
		if err := tree.Insert(ctx, values.IntKey(i), Rid{PageID: uint64(i), SlotID: 0}); err != nil {
			t.Fatal(err)
		}
	}

	lower := values.IntKey(3)
	upper := values.IntKey(7)
	rids, err := tree.RangeScan(Range{Lower: &lower, LowerIncl: true, Upper: &upper, UpperIncl: false})
	if err != nil {
		t.Fatal(err)
	}
	want := []uint64{3, 4, 5, 6}
	if len(rids) != len(want) {
		t.Fatalf("got %d rids, want %d: %v", len(rids), len(want), rids)
	}
	for i, r := range rids {
		if r.PageID != want[i] {
			t.Fatalf("rid %d: got %d want %d", i, r.PageID, want[i])
		}
	}
}

func TestInsertForcesLeafSplit(t *testing.T) {
	tree, txnMgr := newTestTree(t, values.KeyTypeInteger, false)
	ctx := withTxn(t, txnMgr)

	const n = 400
	for i := int64(0); i < n; i++ {
		if err := tree.Insert(ctx, values.IntKey(i), Rid{PageID: uint64(i + 1), SlotID: 0}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	entries, err := tree.IterAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != n {
		t.Fatalf("got %d entries after split, want %d", len(entries), n)
	}
	for i, e := range entries {
		if e.Rid.PageID != uint64(i+1) {
			t.Fatalf("entry %d out of order: %v", i, e)
		}
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	tree, txnMgr := newTestTree(t, values.KeyTypeInteger, false)
	ctx := withTxn(t, txnMgr)

	rid := Rid{PageID: 7, SlotID: 1}
	if err := tree.Insert(ctx, values.IntKey(42), rid); err != nil {
		t.Fatal(err)
	}
	ok, err := tree.Delete(ctx, values.IntKey(42), rid)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected delete to report found")
	}
	rids, err := tree.Get(values.IntKey(42))
	if err != nil {
		t.Fatal(err)
	}
	if len(rids) != 0 {
		t.Fatalf("expected no rids after delete, got %v", rids)
	}
}

func TestTextKeysIterateInOrder(t *testing.T) {
	tree, txnMgr := newTestTree(t, values.KeyTypeText, false)
	ctx := withTxn(t, txnMgr)

	if err := tree.Insert(ctx, values.TextKey("banana"), Rid{PageID: 1, SlotID: 0}); err != nil {
		t.Fatal(err)
	}
	if err := tree.Insert(ctx, values.TextKey("apple"), Rid{PageID: 2, SlotID: 0}); err != nil {
		t.Fatal(err)
	}
	entries, err := tree.IterAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Rid.PageID != 2 || entries[1].Rid.PageID != 1 {
		t.Fatalf("expected lexicographic order, got %v", entries)
	}
}

func TestCompositeIndex(t *testing.T) {
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
	pool := buffer.New(disk, log, 32)
	txnMgr := txn.New(log, nil)

	tree, err := CreateComposite(pool, txnMgr, []values.IndexKeyType{values.KeyTypeInteger, values.KeyTypeText}, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	ctx := withTxn(t, txnMgr)

	key := values.CompositeKey(values.IntKey(1), values.TextKey("a"))
	if err := tree.Insert(ctx, key, Rid{PageID: 9, SlotID: 0}); err != nil {
		t.Fatal(err)
	}
	rids, err := tree.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if len(rids) != 1 || rids[0].PageID != 9 {
		t.Fatalf("unexpected composite lookup result: %v", rids)
	}
}

func TestOpenReloadsKeyShape(t *testing.T) {
	tree, txnMgr := newTestTree(t, values.KeyTypeInteger, false)
	ctx := withTxn(t, txnMgr)
	if err := tree.Insert(ctx, values.IntKey(5), Rid{PageID: 1, SlotID: 0}); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(tree.pool, txnMgr, tree.HeaderPageID())
	if err != nil {
		t.Fatal(err)
	}
	rids, err := reopened.Get(values.IntKey(5))
	if err != nil {
		t.Fatal(err)
	}
	if len(rids) != 1 || rids[0].PageID != 1 {
		t.Fatalf("reopened tree lookup mismatch: %v", rids)
	}
}
