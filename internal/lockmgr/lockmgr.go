// Package lockmgr implements key-grained shared/exclusive locking with a
// FIFO waiter queue and a single deadlock policy: a wait deadline (spec
// §4.6), grounded on the original engine's page-level lock manager.
package lockmgr

import (
	"sync"
	"time"

	"github.com/reinhardbuyabo/chronosdb/internal/chronoserr"
)

// TxnID identifies a lock holder/waiter.
type TxnID = uint64

// Key names a lockable resource. The engine locks pages; keys are page ids.
type Key uint64

// Mode is the lock mode requested.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

type lockRequest struct {
	txnID TxnID
	mode  Mode
}

type lockState struct {
	mode    *Mode
	holders map[TxnID]bool
	waiters []lockRequest
}

// Manager grants and releases Shared/Exclusive locks over Keys, blocking
// waiters on a condition variable with a fixed wait timeout.
type Manager struct {
	mu       sync.Mutex
	cond     *sync.Cond
	locks    map[Key]*lockState
	heldKeys map[TxnID]map[Key]bool
	timeout  time.Duration
}

// New creates a lock manager whose sole deadlock policy is a wait
// deadline: a lock request that cannot be granted within timeout fails
// with KindDeadlockTimeout.
func New(timeout time.Duration) *Manager {
	m := &Manager{
		locks:    make(map[Key]*lockState),
		heldKeys: make(map[TxnID]map[Key]bool),
		timeout:  timeout,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// LockShared acquires (or confirms already-held) a shared lock on key.
func (m *Manager) LockShared(txnID TxnID, key Key) error {
	return m.lock(txnID, key, Shared)
}

// LockExclusive acquires (or upgrades to) an exclusive lock on key.
func (m *Manager) LockExclusive(txnID TxnID, key Key) error {
	return m.lock(txnID, key, Exclusive)
}

// UnlockAll releases every key held by txnID and wakes eligible waiters.
func (m *Manager) UnlockAll(txnID TxnID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, ok := m.heldKeys[txnID]
	if !ok {
		return
	}
	delete(m.heldKeys, txnID)
	for key := range keys {
		ls := m.locks[key]
		delete(ls.holders, txnID)
		if len(ls.holders) == 0 {
			ls.mode = nil
		}
	}
	m.processWaitersLocked()
	m.cond.Broadcast()
}

// HeldKeysFor returns the keys currently held by txnID, for diagnostics
// and tests.
func (m *Manager) HeldKeysFor(txnID TxnID) []Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.heldKeys[txnID]
	out := make([]Key, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	return out
}

func (m *Manager) lock(txnID TxnID, key Key, mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.holdsLock(txnID, key, mode) {
		return nil
	}

	deadline := time.Now().Add(m.timeout)
	for {
		ls, ok := m.locks[key]
		if !ok {
			ls = &lockState{holders: make(map[TxnID]bool)}
			m.locks[key] = ls
		}
		if m.canGrant(ls, txnID, mode) && len(ls.waiters) == 0 {
			granted := mode
			ls.mode = &granted
			ls.holders[txnID] = true
			if m.heldKeys[txnID] == nil {
				m.heldKeys[txnID] = make(map[Key]bool)
			}
			m.heldKeys[txnID][key] = true
			return nil
		}
		alreadyWaiting := false
		for _, w := range ls.waiters {
			if w.txnID == txnID {
				alreadyWaiting = true
				break
			}
		}
		if !alreadyWaiting {
			ls.waiters = append(ls.waiters, lockRequest{txnID: txnID, mode: mode})
		}

		if err := m.waitLocked(deadline); err != nil {
			return err
		}
	}
}

// waitLocked blocks on the condition variable until deadline, or forever
// if timeout is zero. m.mu must be held; it is released during the wait.
func (m *Manager) waitLocked(deadline time.Time) error {
	if m.timeout <= 0 {
		m.cond.Wait()
		return nil
	}
	if !time.Now().Before(deadline) {
		return chronoserr.Sentinel(chronoserr.KindDeadlockTimeout)
	}
	remaining := time.Until(deadline)
	timedOut := make(chan struct{})
	timer := time.AfterFunc(remaining, func() {
		m.mu.Lock()
		close(timedOut)
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	m.cond.Wait()
	timer.Stop()
	select {
	case <-timedOut:
		if !time.Now().Before(deadline) {
			return chronoserr.Sentinel(chronoserr.KindDeadlockTimeout)
		}
	default:
	}
	return nil
}

func (m *Manager) canGrant(ls *lockState, txnID TxnID, mode Mode) bool {
	if ls.mode == nil {
		return true
	}
	switch *ls.mode {
	case Shared:
		return mode == Shared || (len(ls.holders) == 1 && ls.holders[txnID])
	case Exclusive:
		return ls.holders[txnID]
	default:
		return false
	}
}

func (m *Manager) holdsLock(txnID TxnID, key Key, mode Mode) bool {
	ls, ok := m.locks[key]
	if !ok || !ls.holders[txnID] {
		return false
	}
	if ls.mode == nil {
		return false
	}
	if *ls.mode == Exclusive {
		return true
	}
	return mode == Shared
}

func (m *Manager) processWaitersLocked() {
	for key, ls := range m.locks {
		if len(ls.holders) == 0 {
			ls.mode = nil
		}
		m.promoteWaitersLocked(key, ls)
	}
}

func (m *Manager) promoteWaitersLocked(key Key, ls *lockState) {
	promoted := false
	for len(ls.waiters) > 0 {
		req := ls.waiters[0]
		if !m.canGrant(ls, req.txnID, req.mode) {
			break
		}
		ls.waiters = ls.waiters[1:]
		granted := req.mode
		ls.mode = &granted
		ls.holders[req.txnID] = true
		if m.heldKeys[req.txnID] == nil {
			m.heldKeys[req.txnID] = make(map[Key]bool)
		}
		m.heldKeys[req.txnID][key] = true
		promoted = true
		if req.mode == Exclusive {
			break
		}
	}
	if promoted {
		m.cond.Broadcast()
	}
}
