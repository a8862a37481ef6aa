// Package txn implements the transaction manager: begin/commit/abort
// bookkeeping, ambient propagation of the active transaction through
// context.Context, and the LogPageUpdate/LogCompensation helpers mutating
// code uses to append WAL records under the current transaction's chain
// (spec §4.5), grounded on the original engine's TransactionManager.
package txn

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/reinhardbuyabo/chronosdb/internal/lockmgr"
	"github.com/reinhardbuyabo/chronosdb/internal/walog"
)

// Handle is a live transaction: its id and the LSN of the last record it
// appended, used to chain prev_lsn pointers.
type Handle struct {
	mu      sync.Mutex
	id      uint64
	lastLsn uint64
	hasLast bool
}

// ID returns the transaction's id.
func (h *Handle) ID() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id
}

// LastLsn returns the LSN of the last record h appended, or (0, false) if
// h has not appended anything yet (which cannot happen once Begin has
// returned, since Begin always appends a Begin record first).
func (h *Handle) LastLsn() (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastLsn, h.hasLast
}

func (h *Handle) prevLsn() uint64 {
	if !h.hasLast {
		return walog.InvalidLsn
	}
	return h.lastLsn
}

func (h *Handle) setLastLsn(lsn uint64) {
	h.lastLsn = lsn
	h.hasLast = true
}

// Manager hands out transaction ids and drives the WAL/lock-manager side
// effects of begin/commit/abort.
type Manager struct {
	log       *walog.LogManager
	locks     *lockmgr.Manager // nil if unlocked mode
	nextTxnID atomic.Uint64
}

// New creates a transaction manager over log, optionally coordinating
// with locks (nil runs without locking, e.g. in single-threaded tests).
func New(log *walog.LogManager, locks *lockmgr.Manager) *Manager {
	m := &Manager{log: log, locks: locks}
	m.nextTxnID.Store(1)
	return m
}

// LogManager exposes the underlying log manager, e.g. for recovery to
// call Close/FlushedLsn.
func (m *Manager) LogManager() *walog.LogManager { return m.log }

// Locks exposes the lock manager, or nil if running without locking.
func (m *Manager) Locks() *lockmgr.Manager { return m.locks }

// Begin starts a new transaction and appends its Begin record.
func (m *Manager) Begin() (*Handle, error) {
	id := m.nextTxnID.Add(1) - 1
	h := &Handle{id: id}
	lsn, err := m.log.Append(walog.Record{TxnID: id, PrevLsn: walog.InvalidLsn, Type: walog.Begin})
	if err != nil {
		return nil, err
	}
	h.setLastLsn(lsn)
	return h, nil
}

// Commit appends Commit then End records, force-flushing the commit
// record before returning (write-ahead durability), then releases locks.
func (m *Manager) Commit(h *Handle) error {
	h.mu.Lock()
	lsn, err := m.log.Append(walog.Record{TxnID: h.id, PrevLsn: h.prevLsn(), Type: walog.Commit})
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.setLastLsn(lsn)
	h.mu.Unlock()

	if err := m.log.Flush(lsn); err != nil {
		return err
	}

	h.mu.Lock()
	endLsn, err := m.log.Append(walog.Record{TxnID: h.id, PrevLsn: h.prevLsn(), Type: walog.End})
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.setLastLsn(endLsn)
	h.mu.Unlock()

	if err := m.log.Flush(endLsn); err != nil {
		return err
	}
	if m.locks != nil {
		m.locks.UnlockAll(h.id)
	}
	return nil
}

// Abort appends an Abort record and releases locks. Undoing this
// transaction's page writes is the recovery package's job
// (RollbackTransaction), not the transaction manager's.
func (m *Manager) Abort(h *Handle) error {
	h.mu.Lock()
	lsn, err := m.log.Append(walog.Record{TxnID: h.id, PrevLsn: h.prevLsn(), Type: walog.Abort})
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.setLastLsn(lsn)
	h.mu.Unlock()

	if m.locks != nil {
		m.locks.UnlockAll(h.id)
	}
	return nil
}

// LogPageUpdate appends a PageUpdate record chained off h's current
// prev_lsn and advances h's chain pointer.
func (m *Manager) LogPageUpdate(h *Handle, pageID uint64, offset uint32, before, after []byte) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	lsn, err := m.log.Append(walog.Record{
		TxnID: h.id, PrevLsn: h.prevLsn(), Type: walog.PageUpdate,
		PageUpdate: &walog.PageUpdatePayload{PageID: pageID, Offset: offset, Before: before, After: after},
	})
	if err != nil {
		return 0, err
	}
	h.setLastLsn(lsn)
	return lsn, nil
}

// LogCompensation appends a CLR chained off h's current prev_lsn.
func (m *Manager) LogCompensation(h *Handle, pageID uint64, offset uint32, after []byte, undoNextLsn uint64) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	lsn, err := m.log.Append(walog.Record{
		TxnID: h.id, PrevLsn: h.prevLsn(), Type: walog.Compensation,
		Compensation: &walog.CompensationPayload{PageID: pageID, Offset: offset, After: after, UndoNextLsn: undoNextLsn},
	})
	if err != nil {
		return 0, err
	}
	h.setLastLsn(lsn)
	return lsn, nil
}

type ctxKey struct{}

// WithTransaction attaches h to ctx for ambient propagation through the
// call stack (no package-global mutable state).
func WithTransaction(ctx context.Context, h *Handle) context.Context {
	return context.WithValue(ctx, ctxKey{}, h)
}

// FromContext retrieves the transaction handle attached by WithTransaction.
func FromContext(ctx context.Context) (*Handle, bool) {
	h, ok := ctx.Value(ctxKey{}).(*Handle)
	return h, ok
}
