package txn

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/reinhardbuyabo/chronosdb/internal/lockmgr"
	"github.com/reinhardbuyabo/chronosdb/internal/walog"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	log, err := walog.Open(filepath.Join(t.TempDir(), "txn.wal"), 0, 4096)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return New(log, lockmgr.New(0))
}

func TestBeginAssignsIncreasingIDs(t *testing.T) {
	m := newTestManager(t)
	h1, err := m.Begin()
	if err != nil {
		t.Fatal(err)
	}
	h2, err := m.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if h2.ID() <= h1.ID() {
		t.Fatalf("expected increasing txn ids, got %d then %d", h1.ID(), h2.ID())
	}
}

func TestCommitChainsAndReleasesLocks(t *testing.T) {
	m := newTestManager(t)
	h, err := m.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.LogPageUpdate(h, 1, 0, []byte("a"), []byte("b")); err != nil {
		t.Fatal(err)
	}
	if err := m.Locks().LockExclusive(h.ID(), lockmgr.Key(1)); err != nil {
		t.Fatal(err)
	}
	if err := m.Commit(h); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if held := m.Locks().HeldKeysFor(h.ID()); len(held) != 0 {
		t.Fatalf("expected locks released after commit, got %v", held)
	}
}

func TestAbortReleasesLocks(t *testing.T) {
	m := newTestManager(t)
	h, err := m.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Locks().LockShared(h.ID(), lockmgr.Key(5)); err != nil {
		t.Fatal(err)
	}
	if err := m.Abort(h); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if held := m.Locks().HeldKeysFor(h.ID()); len(held) != 0 {
		t.Fatalf("expected locks released after abort, got %v", held)
	}
}

func TestContextRoundTrip(t *testing.T) {
	m := newTestManager(t)
	h, err := m.Begin()
	if err != nil {
		t.Fatal(err)
	}
	ctx := WithTransaction(context.Background(), h)
	got, ok := FromContext(ctx)
	if !ok || got != h {
		t.Fatalf("expected to retrieve the same handle, got %v ok=%v", got, ok)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("expected no transaction in a bare context")
	}
}
