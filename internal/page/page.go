// Package page defines the in-memory page frame and the LRU replacer used
// by the buffer pool (spec §4.2).
package page

import (
	"encoding/binary"

	"github.com/reinhardbuyabo/chronosdb/internal/diskmgr"
)

// LSNSize is the width of the page-LSN field stored at offset 0, per
// spec §3 ("Header reserves the first 8 bytes for the page-LSN").
const LSNSize = 8

// Page is one in-memory page frame: the fixed-size buffer plus metadata.
// Bytes [0:8) are reserved for the page-LSN on every page uniformly;
// subsystem headers (table heap, B+tree) begin at offset 8, so the header
// offsets in spec §6 are all shifted by +8 in this implementation.
type Page struct {
	Data     [diskmgr.PageSize]byte
	ID       diskmgr.PageID
	Dirty    bool
	PinCount int
}

// New returns a zeroed page (no id assigned yet).
func New() *Page {
	return &Page{}
}

// LSN reads the page-LSN from the first 8 bytes.
func (p *Page) LSN() uint64 {
	return binary.LittleEndian.Uint64(p.Data[0:LSNSize])
}

// SetLSN writes the page-LSN into the first 8 bytes.
func (p *Page) SetLSN(lsn uint64) {
	binary.LittleEndian.PutUint64(p.Data[0:LSNSize], lsn)
}

// ReadBytes returns a copy of length bytes at offset, or false if the
// range falls outside the page.
func (p *Page) ReadBytes(offset, length int) ([]byte, bool) {
	if offset < 0 || length < 0 || offset+length > len(p.Data) {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, p.Data[offset:offset+length])
	return out, true
}

// WriteBytes copies data into the page at offset, returning false if the
// range falls outside the page.
func (p *Page) WriteBytes(offset int, data []byte) bool {
	if offset < 0 || offset+len(data) > len(p.Data) {
		return false
	}
	copy(p.Data[offset:offset+len(data)], data)
	return true
}

// ResetMemory zeroes the page's contents and metadata so a frame can be
// reused for a different page id.
func (p *Page) ResetMemory() {
	for i := range p.Data {
		p.Data[i] = 0
	}
	p.ID = diskmgr.InvalidPageID
	p.Dirty = false
	p.PinCount = 0
}
