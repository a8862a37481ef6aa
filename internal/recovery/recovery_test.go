package recovery

import (
	"path/filepath"
	"testing"

	"github.com/reinhardbuyabo/chronosdb/internal/buffer"
	"github.com/reinhardbuyabo/chronosdb/internal/diskmgr"
	"github.com/reinhardbuyabo/chronosdb/internal/txn"
	"github.com/reinhardbuyabo/chronosdb/internal/walog"
)

type poolAdapter struct{ log *walog.LogManager }

func (a poolAdapter) Flush(lsn uint64) error { return a.log.Flush(lsn) }

func newHarness(t *testing.T) (*buffer.Pool, *txn.Manager, string) {
	t.Helper()
	dir := t.TempDir()
	disk, err := diskmgr.Open(filepath.Join(dir, "data.db"))
	if err != nil {
		t.Fatalf("open disk: %v", err)
	}
	t.Cleanup(func() { disk.Close() })

	walPath := filepath.Join(dir, "data.wal")
	log, err := walog.Open(walPath, 0, 4096)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	pool := buffer.New(disk, poolAdapter{log: log}, 8)
	txnMgr := txn.New(log, nil)
	return pool, txnMgr, walPath
}

func TestRedoReappliesCommittedUpdateAfterCrash(t *testing.T) {
	pool, txnMgr, walPath := newHarness(t)

	g, err := pool.NewPage()
	if err != nil {
		t.Fatal(err)
	}
	pageID := g.Page.ID
	g.Unpin(false)

	h, err := txnMgr.Begin()
	if err != nil {
		t.Fatal(err)
	}
	before := make([]byte, 5)
	after := []byte("hello")
	lsn, err := txnMgr.LogPageUpdate(h, uint64(pageID), 16, before, after)
	if err != nil {
		t.Fatal(err)
	}
	if err := txnMgr.Commit(h); err != nil {
		t.Fatal(err)
	}
	if err := txnMgr.LogManager().Flush(lsn); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash: the dirty page update was logged but never
	// written back to the data file (buffer pool evicted nothing yet).
	mgr := New(walPath, txnMgr, nil)
	if err := mgr.Recover(pool); err != nil {
		t.Fatalf("recover: %v", err)
	}

	fetched, err := pool.FetchPage(pageID)
	if err != nil {
		t.Fatal(err)
	}
	b, ok := fetched.Page.ReadBytes(16, 5)
	fetched.Unpin(false)
	if !ok || string(b) != "hello" {
		t.Fatalf("expected redo to reapply committed update, got %v %q", ok, b)
	}
}

func TestUndoRevertsUncommittedUpdate(t *testing.T) {
	pool, txnMgr, walPath := newHarness(t)

	g, err := pool.NewPage()
	if err != nil {
		t.Fatal(err)
	}
	pageID := g.Page.ID
	g.Page.WriteBytes(16, []byte("abcde"))
	g.Unpin(true)
	if err := pool.FlushPage(pageID); err != nil {
		t.Fatal(err)
	}

	h, err := txnMgr.Begin()
	if err != nil {
		t.Fatal(err)
	}
	lsn, err := txnMgr.LogPageUpdate(h, uint64(pageID), 16, []byte("abcde"), []byte("NEWVAL"[:5]))
	if err != nil {
		t.Fatal(err)
	}
	if err := txnMgr.LogManager().Flush(lsn); err != nil {
		t.Fatal(err)
	}
	// No Commit/End: this transaction is left running, simulating a crash
	// mid-transaction.

	mgr := New(walPath, txnMgr, nil)
	if err := mgr.Recover(pool); err != nil {
		t.Fatalf("recover: %v", err)
	}

	fetched, err := pool.FetchPage(pageID)
	if err != nil {
		t.Fatal(err)
	}
	b, ok := fetched.Page.ReadBytes(16, 5)
	fetched.Unpin(false)
	if !ok || string(b) != "abcde" {
		t.Fatalf("expected undo to restore before-image, got %v %q", ok, b)
	}
}
