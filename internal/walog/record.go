// Package walog implements the append-only physiological write-ahead log
// with async group commit (spec §4.4), and its on-disk record framing
// (spec §6).
package walog

import (
	"encoding/binary"

	"github.com/reinhardbuyabo/chronosdb/internal/chronoserr"
)

// Lsn is a log sequence number: the byte offset of a record's length
// prefix from the start of the WAL file.
type Lsn = uint64

// TxnID identifies a transaction.
type TxnID = uint64

// PageID identifies a data-file page touched by a record.
type PageID = uint64

// InvalidLsn is the sentinel for "no previous record" / "no skip target",
// spec §6: 0xFFFF_FFFF_FFFF_FFFF.
const InvalidLsn Lsn = ^uint64(0)

// RecordType tags a log record's shape.
type RecordType uint8

const (
	Begin RecordType = iota + 1
	Commit
	Abort
	End
	PageUpdate
	Compensation
	Checkpoint
)

// PageUpdatePayload carries a before/after image pair for a single
// in-page write.
type PageUpdatePayload struct {
	PageID PageID
	Offset uint32
	Before []byte
	After  []byte
}

// CompensationPayload is a CLR: the before-image re-applied as this
// record's after-image, plus the forward-skip pointer used during undo.
type CompensationPayload struct {
	PageID      PageID
	Offset      uint32
	After       []byte
	UndoNextLsn Lsn
}

// Record is one WAL entry.
type Record struct {
	Lsn     Lsn
	TxnID   TxnID
	PrevLsn Lsn // InvalidLsn if none
	Type    RecordType

	// Exactly one of these is populated, matching Type.
	PageUpdate   *PageUpdatePayload
	Compensation *CompensationPayload
}

// PageIDOf returns the page id touched by a PageUpdate/Compensation
// record, or (0, false) otherwise.
func (r Record) PageIDOf() (PageID, bool) {
	switch r.Type {
	case PageUpdate:
		return r.PageUpdate.PageID, true
	case Compensation:
		return r.Compensation.PageID, true
	default:
		return 0, false
	}
}

// ToBytes serializes r per spec §6's framing: u32 total length, u8 tag,
// u64 lsn, u64 txn_id, u64 prev_lsn, then type-specific payload.
func (r Record) ToBytes() []byte {
	var payload []byte
	switch r.Type {
	case PageUpdate:
		p := r.PageUpdate
		payload = make([]byte, 0, 8+4+4+4+len(p.Before)+len(p.After))
		payload = appendU64(payload, p.PageID)
		payload = appendU32(payload, p.Offset)
		payload = appendU32(payload, uint32(len(p.Before)))
		payload = appendU32(payload, uint32(len(p.After)))
		payload = append(payload, p.Before...)
		payload = append(payload, p.After...)
	case Compensation:
		c := r.Compensation
		payload = make([]byte, 0, 8+4+4+8+len(c.After))
		payload = appendU64(payload, c.PageID)
		payload = appendU32(payload, c.Offset)
		payload = appendU32(payload, uint32(len(c.After)))
		payload = appendU64(payload, c.UndoNextLsn)
		payload = append(payload, c.After...)
	default:
		payload = nil
	}

	body := make([]byte, 0, 1+8+8+8+len(payload))
	body = append(body, byte(r.Type))
	body = appendU64(body, r.Lsn)
	body = appendU64(body, r.TxnID)
	body = appendU64(body, r.PrevLsn)
	body = append(body, payload...)

	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(out)))
	copy(out[4:], body)
	return out
}

// FromBytes parses a single framed record from data (the whole frame,
// including the u32 length prefix). It returns the record and the total
// number of bytes consumed.
func FromBytes(data []byte) (Record, int, error) {
	if len(data) < 4 {
		return Record{}, 0, chronoserr.New(chronoserr.KindCorrupt, "wal: truncated length prefix")
	}
	total := int(binary.LittleEndian.Uint32(data[0:4]))
	if total < 4+1+8+8+8 || total > len(data) {
		return Record{}, 0, chronoserr.New(chronoserr.KindCorrupt, "wal: truncated record")
	}
	body := data[4:total]
	off := 0
	typ := RecordType(body[off])
	off++
	lsn := readU64(body, off)
	off += 8
	txnID := readU64(body, off)
	off += 8
	prevLsn := readU64(body, off)
	off += 8

	r := Record{Lsn: lsn, TxnID: txnID, PrevLsn: prevLsn, Type: typ}
	switch typ {
	case PageUpdate:
		pageID := readU64(body, off)
		off += 8
		offset := readU32(body, off)
		off += 4
		beforeLen := int(readU32(body, off))
		off += 4
		afterLen := int(readU32(body, off))
		off += 4
		if off+beforeLen+afterLen > len(body) {
			return Record{}, 0, chronoserr.New(chronoserr.KindCorrupt, "wal: truncated page update payload")
		}
		before := append([]byte(nil), body[off:off+beforeLen]...)
		off += beforeLen
		after := append([]byte(nil), body[off:off+afterLen]...)
		r.PageUpdate = &PageUpdatePayload{PageID: pageID, Offset: offset, Before: before, After: after}
	case Compensation:
		pageID := readU64(body, off)
		off += 8
		offset := readU32(body, off)
		off += 4
		afterLen := int(readU32(body, off))
		off += 4
		undoNext := readU64(body, off)
		off += 8
		if off+afterLen > len(body) {
			return Record{}, 0, chronoserr.New(chronoserr.KindCorrupt, "wal: truncated compensation payload")
		}
		after := append([]byte(nil), body[off:off+afterLen]...)
		r.Compensation = &CompensationPayload{PageID: pageID, Offset: offset, After: after, UndoNextLsn: undoNext}
	}
	return r, total, nil
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func readU64(b []byte, off int) uint64 { return binary.LittleEndian.Uint64(b[off : off+8]) }
func readU32(b []byte, off int) uint32 { return binary.LittleEndian.Uint32(b[off : off+4]) }
