// Package heap implements the table heap: an unordered collection of
// slotted pages chained through a next-page pointer, holding a table's
// tuples (spec §4.8), grounded on the original engine's TableHeap/SeqScan.
//
// Every page's first page.LSNSize bytes are the universal page-LSN (see
// internal/page); the table page header described here therefore begins
// at byte offset page.LSNSize, not 0.
package heap

import (
	"context"
	"encoding/binary"

	"github.com/reinhardbuyabo/chronosdb/internal/buffer"
	"github.com/reinhardbuyabo/chronosdb/internal/chronoserr"
	"github.com/reinhardbuyabo/chronosdb/internal/diskmgr"
	"github.com/reinhardbuyabo/chronosdb/internal/page"
	"github.com/reinhardbuyabo/chronosdb/internal/txn"
	"github.com/reinhardbuyabo/chronosdb/internal/values"
)

const (
	headerOffset = page.LSNSize // 8
	headerSize   = 16
	slotSize     = 8
	slotsStart   = headerOffset + headerSize
)

const invalidPageID diskmgr.PageID = 0

// pageHeader is the table page's own header, physically stored at
// [headerOffset : headerOffset+headerSize).
type pageHeader struct {
	nextPageID diskmgr.PageID // invalidPageID (0) means none
	slotCount  uint32
	freeSpace  uint32 // byte offset where the next tuple's bytes would start
}

type slot struct {
	offset uint32
	length uint32 // 0 means the slot is a tombstone (deleted)
}

// Heap is a table's physical storage: a chain of slotted pages reachable
// from a first page id.
type Heap struct {
	pool        *buffer.Pool
	txnMgr      *txn.Manager
	firstPageID diskmgr.PageID
}

// Create allocates a fresh, empty heap.
func Create(pool *buffer.Pool, txnMgr *txn.Manager) (*Heap, error) {
	h := &Heap{pool: pool, txnMgr: txnMgr}
	id, err := h.allocatePage()
	if err != nil {
		return nil, err
	}
	h.firstPageID = id
	return h, nil
}

// Open wraps an existing heap whose first page id the caller already
// knows (for example one kept from FirstPageID before a restart).
func Open(pool *buffer.Pool, txnMgr *txn.Manager, firstPageID diskmgr.PageID) *Heap {
	return &Heap{pool: pool, txnMgr: txnMgr, firstPageID: firstPageID}
}

// FirstPageID reports the heap's entry page, from which Open can reattach
// to it.
func (h *Heap) FirstPageID() diskmgr.PageID { return h.firstPageID }

func (h *Heap) allocatePage() (diskmgr.PageID, error) {
	g, err := h.pool.NewPage()
	if err != nil {
		return 0, err
	}
	writeHeader(g.Page, pageHeader{freeSpace: uint32(diskmgr.PageSize)})
	id := g.Page.ID
	if err := g.Unpin(true); err != nil {
		return 0, err
	}
	return id, nil
}

// InsertTuple appends tuple to the first page with enough free space,
// allocating a new page at the end of the chain if none has room.
// Returns the Rid assigning the tuple its physical location.
func (h *Heap) InsertTuple(ctx context.Context, tuple values.Tuple, schema values.Schema) (values.Rid, error) {
	encoded, err := values.EncodeTuple(tuple, schema)
	if err != nil {
		return values.Rid{}, err
	}

	pageID := h.firstPageID
	for {
		g, err := h.pool.FetchPage(pageID)
		if err != nil {
			return values.Rid{}, err
		}
		before := append([]byte(nil), g.Page.Data[:]...)
		hdr := readHeader(g.Page)
		available := int(hdr.freeSpace) - (slotsStart + int(hdr.slotCount)*slotSize)

		if available >= len(encoded)+slotSize {
			tupleOffset := uint32(int(hdr.freeSpace) - len(encoded))
			if !g.Page.WriteBytes(int(tupleOffset), encoded) {
				g.Unpin(false)
				return values.Rid{}, chronoserr.New(chronoserr.KindExecution, "heap: failed to write tuple bytes")
			}
			slotIndex := hdr.slotCount
			writeSlot(g.Page, int(slotIndex), slot{offset: tupleOffset, length: uint32(len(encoded))})
			hdr.slotCount++
			hdr.freeSpace = tupleOffset
			writeHeader(g.Page, hdr)
			if err := h.logAndUnpin(ctx, g, pageID, before); err != nil {
				return values.Rid{}, err
			}
			return values.Rid{PageID: uint64(pageID), SlotID: slotIndex}, nil
		}

		next := hdr.nextPageID
		if next == invalidPageID {
			newID, err := h.allocatePage()
			if err != nil {
				g.Unpin(false)
				return values.Rid{}, err
			}
			hdr.nextPageID = newID
			writeHeader(g.Page, hdr)
			if err := h.logAndUnpin(ctx, g, pageID, before); err != nil {
				return values.Rid{}, err
			}
			next = newID
		} else {
			g.Unpin(false)
		}
		pageID = next
	}
}

// GetTuple fetches the tuple at rid, or (zero, false) if it was deleted.
func (h *Heap) GetTuple(rid values.Rid, schema values.Schema) (values.Tuple, bool, error) {
	pageID := diskmgr.PageID(rid.PageID)
	g, err := h.pool.FetchPage(pageID)
	if err != nil {
		return values.Tuple{}, false, err
	}
	defer g.Unpin(false)

	s, ok := readSlot(g.Page, int(rid.SlotID))
	if !ok || s.length == 0 {
		return values.Tuple{}, false, nil
	}
	raw, ok := g.Page.ReadBytes(int(s.offset), int(s.length))
	if !ok {
		return values.Tuple{}, false, chronoserr.New(chronoserr.KindExecution, "heap: failed to read tuple bytes")
	}
	t, err := values.DecodeTuple(schema, raw)
	if err != nil {
		return values.Tuple{}, false, err
	}
	return t, true, nil
}

// UpdateInPlace overwrites the tuple at rid with newTuple's post-image
// (spec §9: Update is resolved to post-image), failing unless the new
// encoding is exactly as long as the slot's current bytes. Callers needing
// a grow/shrink update must Delete+InsertTuple instead.
func (h *Heap) UpdateInPlace(ctx context.Context, rid values.Rid, newTuple values.Tuple, schema values.Schema) error {
	encoded, err := values.EncodeTuple(newTuple, schema)
	if err != nil {
		return err
	}
	pageID := diskmgr.PageID(rid.PageID)
	g, err := h.pool.FetchPage(pageID)
	if err != nil {
		return err
	}
	before := append([]byte(nil), g.Page.Data[:]...)
	s, ok := readSlot(g.Page, int(rid.SlotID))
	if !ok || s.length == 0 {
		g.Unpin(false)
		return chronoserr.New(chronoserr.KindExecution, "heap: update target does not exist")
	}
	if uint32(len(encoded)) != s.length {
		g.Unpin(false)
		return chronoserr.New(chronoserr.KindExecution, "heap: in-place update changed tuple size")
	}
	if !g.Page.WriteBytes(int(s.offset), encoded) {
		g.Unpin(false)
		return chronoserr.New(chronoserr.KindExecution, "heap: failed to write updated tuple")
	}
	return h.logAndUnpin(ctx, g, pageID, before)
}

// DeleteTuple tombstones the slot at rid (zero-length marker); the bytes
// are not reclaimed (spec's teaching-grade simplification: no compaction).
func (h *Heap) DeleteTuple(ctx context.Context, rid values.Rid) error {
	pageID := diskmgr.PageID(rid.PageID)
	g, err := h.pool.FetchPage(pageID)
	if err != nil {
		return err
	}
	before := append([]byte(nil), g.Page.Data[:]...)
	s, ok := readSlot(g.Page, int(rid.SlotID))
	if !ok || s.length == 0 {
		g.Unpin(false)
		return nil
	}
	writeSlot(g.Page, int(rid.SlotID), slot{offset: s.offset, length: 0})
	return h.logAndUnpin(ctx, g, pageID, before)
}

// logAndUnpin writes a whole-page physiological PageUpdate record (before
// is the page's bytes as fetched, prior to the caller's in-place
// mutation; after is the current, already-mutated bytes) when a
// transaction is active in ctx, so undo/redo can restore either image,
// then unpins dirty.
func (h *Heap) logAndUnpin(ctx context.Context, g *buffer.Guard, pageID diskmgr.PageID, before []byte) error {
	if handle, ok := txn.FromContext(ctx); ok && h.txnMgr != nil {
		after := append([]byte(nil), g.Page.Data[:]...)
		lsn, err := h.txnMgr.LogPageUpdate(handle, uint64(pageID), 0, before, after)
		if err != nil {
			g.Unpin(false)
			return err
		}
		g.Page.SetLSN(lsn)
	}
	return g.Unpin(true)
}

// Scan iterates every live tuple in the heap in physical order.
type Scan struct {
	heap    *Heap
	schema  values.Schema
	pageID  diskmgr.PageID
	slotIdx int
	started bool
}

// NewScan creates a sequential scan over h, decoding tuples with schema.
func NewScan(h *Heap, schema values.Schema) *Scan {
	return &Scan{heap: h, schema: schema}
}

// Open resets the scan to the heap's first page.
func (s *Scan) Open() error {
	s.pageID = s.heap.firstPageID
	s.slotIdx = 0
	s.started = true
	return nil
}

// Next returns the next live tuple and its Rid, or (zero, zero, false)
// at end of heap.
func (s *Scan) Next() (values.Tuple, values.Rid, bool, error) {
	if !s.started {
		if err := s.Open(); err != nil {
			return values.Tuple{}, values.Rid{}, false, err
		}
	}
	for {
		if s.pageID == invalidPageID {
			return values.Tuple{}, values.Rid{}, false, nil
		}

		g, err := s.heap.pool.FetchPage(s.pageID)
		if err != nil {
			return values.Tuple{}, values.Rid{}, false, err
		}
		hdr := readHeader(g.Page)

		if s.slotIdx >= int(hdr.slotCount) {
			g.Unpin(false)
			s.pageID = hdr.nextPageID
			s.slotIdx = 0
			continue
		}

		slotIndex := s.slotIdx
		s.slotIdx++
		sl, ok := readSlot(g.Page, slotIndex)
		if !ok || sl.length == 0 {
			g.Unpin(false)
			continue
		}
		raw, ok := g.Page.ReadBytes(int(sl.offset), int(sl.length))
		if !ok {
			g.Unpin(false)
			return values.Tuple{}, values.Rid{}, false, chronoserr.New(chronoserr.KindExecution, "heap: failed to read tuple bytes")
		}
		rid := values.Rid{PageID: uint64(s.pageID), SlotID: uint32(slotIndex)}
		t, err := values.DecodeTuple(s.schema, raw)
		g.Unpin(false)
		if err != nil {
			return values.Tuple{}, values.Rid{}, false, err
		}
		return t, rid, true, nil
	}
}

// Close releases any scan state. A fresh Open restarts iteration.
func (s *Scan) Close() error {
	s.pageID = invalidPageID
	s.slotIdx = 0
	return nil
}

func readHeader(p *page.Page) pageHeader {
	b, _ := p.ReadBytes(headerOffset, headerSize)
	next := diskmgr.PageID(binary.LittleEndian.Uint64(b[0:8]))
	slotCount := binary.LittleEndian.Uint32(b[8:12])
	freeSpace := binary.LittleEndian.Uint32(b[12:16])
	return pageHeader{nextPageID: next, slotCount: slotCount, freeSpace: freeSpace}
}

func writeHeader(p *page.Page, h pageHeader) {
	var b [headerSize]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(h.nextPageID))
	binary.LittleEndian.PutUint32(b[8:12], h.slotCount)
	binary.LittleEndian.PutUint32(b[12:16], h.freeSpace)
	p.WriteBytes(headerOffset, b[:])
}

func readSlot(p *page.Page, index int) (slot, bool) {
	offset := slotsStart + index*slotSize
	if offset+slotSize > diskmgr.PageSize {
		return slot{}, false
	}
	b, ok := p.ReadBytes(offset, slotSize)
	if !ok {
		return slot{}, false
	}
	return slot{offset: binary.LittleEndian.Uint32(b[0:4]), length: binary.LittleEndian.Uint32(b[4:8])}, true
}

func writeSlot(p *page.Page, index int, s slot) {
	offset := slotsStart + index*slotSize
	var b [slotSize]byte
	binary.LittleEndian.PutUint32(b[0:4], s.offset)
	binary.LittleEndian.PutUint32(b[4:8], s.length)
	p.WriteBytes(offset, b[:])
}
