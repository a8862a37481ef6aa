// Package recovery implements ARIES-style crash recovery: Analysis, Redo
// and Undo passes over the write-ahead log, plus a single-transaction
// rollback path distinct from full crash recovery (spec §4.7), grounded
// on the original engine's RecoveryManager.
package recovery

import (
	"os"

	"github.com/reinhardbuyabo/chronosdb/internal/buffer"
	"github.com/reinhardbuyabo/chronosdb/internal/chronoserr"
	"github.com/reinhardbuyabo/chronosdb/internal/diag"
	"github.com/reinhardbuyabo/chronosdb/internal/txn"
	"github.com/reinhardbuyabo/chronosdb/internal/walog"
)

type txnStatus int

const (
	running txnStatus = iota
	committed
	aborted
)

type txnState struct {
	status  txnStatus
	lastLsn walog.Lsn
	hasLast bool
}

// Manager drives recovery against a WAL file on a buffer pool.
type Manager struct {
	logPath string
	txnMgr  *txn.Manager
	sink    diag.Sink
}

// New creates a recovery manager reading records from logPath, appending
// end-of-undo bookkeeping through txnMgr's log manager.
func New(logPath string, txnMgr *txn.Manager, sink diag.Sink) *Manager {
	if sink == nil {
		sink = diag.NullSink{}
	}
	return &Manager{logPath: logPath, txnMgr: txnMgr, sink: sink}
}

// Recover runs the full Analysis/Redo/Undo sequence against pool, then
// force-flushes every page, matching crash-restart recovery.
func (m *Manager) Recover(pool *buffer.Pool) error {
	records, err := m.loadRecords()
	if err != nil {
		return err
	}
	m.sink.Recordf("recovery: loaded %d log records", len(records))

	txnTable, dirtyPages := m.analyze(records)
	if err := m.redo(pool, records, dirtyPages); err != nil {
		return err
	}
	if err := m.undo(pool, records, txnTable); err != nil {
		return err
	}
	return pool.FlushAll(buffer.FlushForce)
}

// RollbackTransaction undoes a single in-flight transaction's page
// writes without touching any other transaction, used for an explicit
// statement-level abort rather than crash recovery. After the CLRs it
// appends Abort and then End and flushes the log through End, so a later
// restart does not undo the transaction a second time.
func (m *Manager) RollbackTransaction(pool *buffer.Pool, h *txn.Handle) error {
	log := m.txnMgr.LogManager()
	if err := log.Flush(log.FlushedLsn()); err != nil {
		return err
	}

	records, err := m.loadRecords()
	if err != nil {
		return err
	}
	recordMap := buildRecordMap(records)

	startLsn, ok := h.LastLsn()
	if !ok {
		return nil
	}
	if err := m.undoSingle(pool, recordMap, h, startLsn); err != nil {
		return err
	}
	if err := m.txnMgr.Abort(h); err != nil {
		return err
	}
	abortLsn, _ := h.LastLsn()
	endLsn, err := log.Append(walog.Record{TxnID: h.ID(), PrevLsn: abortLsn, Type: walog.End})
	if err != nil {
		return err
	}
	return log.Flush(endLsn)
}

func (m *Manager) analyze(records []walog.Record) (map[walog.TxnID]*txnState, map[walog.PageID]walog.Lsn) {
	txnTable := make(map[walog.TxnID]*txnState)
	dirtyPages := make(map[walog.PageID]walog.Lsn)

	for _, rec := range records {
		entry, ok := txnTable[rec.TxnID]
		if !ok {
			entry = &txnState{status: running}
			txnTable[rec.TxnID] = entry
		}
		entry.lastLsn = rec.Lsn
		entry.hasLast = true

		switch rec.Type {
		case walog.Begin:
			entry.status = running
		case walog.Commit:
			entry.status = committed
		case walog.Abort:
			entry.status = aborted
		case walog.End:
			delete(txnTable, rec.TxnID)
		case walog.Checkpoint:
		case walog.PageUpdate, walog.Compensation:
			if pageID, ok := rec.PageIDOf(); ok {
				if _, exists := dirtyPages[pageID]; !exists {
					dirtyPages[pageID] = rec.Lsn
				}
			}
		}
	}
	return txnTable, dirtyPages
}

func (m *Manager) redo(pool *buffer.Pool, records []walog.Record, dirtyPages map[walog.PageID]walog.Lsn) error {
	if len(dirtyPages) == 0 {
		return nil
	}
	var startLsn walog.Lsn
	first := true
	for _, lsn := range dirtyPages {
		if first || lsn < startLsn {
			startLsn = lsn
			first = false
		}
	}

	for _, rec := range records {
		if rec.Lsn < startLsn {
			continue
		}
		pageID, ok := rec.PageIDOf()
		if !ok || pageID == 0 {
			continue
		}
		var offset uint32
		var after []byte
		if rec.Type == walog.PageUpdate {
			offset, after = rec.PageUpdate.Offset, rec.PageUpdate.After
		} else {
			offset, after = rec.Compensation.Offset, rec.Compensation.After
		}
		if err := applyImage(pool, pageID, rec.Lsn, offset, after); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) undo(pool *buffer.Pool, records []walog.Record, txnTable map[walog.TxnID]*txnState) error {
	recordMap := buildRecordMap(records)
	for txnID, state := range txnTable {
		if state.status == committed {
			continue
		}
		if !state.hasLast {
			continue
		}
		h := &replayHandle{id: txnID, lastLsn: state.lastLsn, hasLast: true}
		if err := m.undoSingleReplay(pool, recordMap, h, state.lastLsn); err != nil {
			return err
		}
		endLsn, err := m.txnMgr.LogManager().Append(walog.Record{TxnID: txnID, PrevLsn: h.lastLsn, Type: walog.End})
		if err != nil {
			return err
		}
		if err := m.txnMgr.LogManager().Flush(endLsn); err != nil {
			return err
		}
	}
	return nil
}

// replayHandle tracks a reconstructed transaction's undo chain pointer
// during crash recovery, where no live *txn.Handle exists.
type replayHandle struct {
	id      walog.TxnID
	lastLsn walog.Lsn
	hasLast bool
}

func (m *Manager) undoSingleReplay(pool *buffer.Pool, records map[walog.Lsn]walog.Record, h *replayHandle, start walog.Lsn) error {
	current := start
	hasCurrent := h.hasLast
	for hasCurrent {
		rec, ok := records[current]
		if !ok {
			m.sink.Recordf("recovery: missing log record at lsn=%d, stopping undo", current)
			break
		}
		switch rec.Type {
		case walog.PageUpdate:
			p := rec.PageUpdate
			if p.PageID == 0 {
				current, hasCurrent = rec.PrevLsn, rec.PrevLsn != walog.InvalidLsn
				continue
			}
			clrLsn, err := m.txnMgr.LogManager().Append(walog.Record{
				TxnID: h.id, PrevLsn: h.lastLsn, Type: walog.Compensation,
				Compensation: &walog.CompensationPayload{PageID: p.PageID, Offset: p.Offset, After: p.Before, UndoNextLsn: rec.PrevLsn},
			})
			if err != nil {
				return err
			}
			h.lastLsn = clrLsn
			if err := applyImage(pool, p.PageID, clrLsn, p.Offset, p.Before); err != nil {
				return err
			}
			current, hasCurrent = rec.PrevLsn, rec.PrevLsn != walog.InvalidLsn
		case walog.Compensation:
			current, hasCurrent = rec.Compensation.UndoNextLsn, rec.Compensation.UndoNextLsn != walog.InvalidLsn
		default:
			current, hasCurrent = rec.PrevLsn, rec.PrevLsn != walog.InvalidLsn
		}
	}
	return nil
}

// undoSingle is the statement-level rollback path: it walks h's chain
// backwards from start through a replay handle, appending CLRs directly to
// the log as it goes; h's own chain pointer is not advanced past them.
func (m *Manager) undoSingle(pool *buffer.Pool, records map[walog.Lsn]walog.Record, h *txn.Handle, start walog.Lsn) error {
	rh := &replayHandle{id: h.ID(), lastLsn: start, hasLast: true}
	if err := m.undoSingleReplay(pool, records, rh, start); err != nil {
		return err
	}
	return nil
}

// applyImage writes image into pageID at offset if lsn is newer than the
// page's current LSN (idempotent redo/undo gate per spec §4.7).
func applyImage(pool *buffer.Pool, pageID walog.PageID, lsn walog.Lsn, offset uint32, image []byte) error {
	g, err := pool.FetchPage(pageID)
	if err != nil {
		return err
	}
	if lsn <= g.Page.LSN() {
		return g.Unpin(false)
	}
	ok := g.Page.WriteBytes(int(offset), image)
	if !ok {
		g.Unpin(false)
		return chronoserr.New(chronoserr.KindExecution, "recovery: failed to apply page image")
	}
	g.Page.SetLSN(lsn)
	return g.Unpin(true)
}

func buildRecordMap(records []walog.Record) map[walog.Lsn]walog.Record {
	m := make(map[walog.Lsn]walog.Record, len(records))
	for _, r := range records {
		m[r.Lsn] = r
	}
	return m
}

// loadRecords reads every framed record from the WAL file in order.
func (m *Manager) loadRecords() ([]walog.Record, error) {
	data, err := os.ReadFile(m.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, chronoserr.Wrap(chronoserr.KindIO, "recovery: read wal file", err)
	}
	var records []walog.Record
	off := 0
	for off < len(data) {
		rec, n, err := walog.FromBytes(data[off:])
		if err != nil {
			break // trailing partial record from a torn write; stop here
		}
		records = append(records, rec)
		off += n
	}
	return records, nil
}
