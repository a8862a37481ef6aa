// Package diskmgr implements the fixed-size paged file underlying
// everything else in the engine (spec §4.1). Page 0 is a reserved header
// page carrying the monotonic next-page-id counter; pages are never
// renumbered or reused once allocated.
package diskmgr

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/reinhardbuyabo/chronosdb/internal/chronoserr"
)

// PageID identifies a page within the data file. 0 is the reserved
// "invalid" sentinel / header page.
type PageID uint64

const (
	// InvalidPageID is the reserved sentinel; never a logical page.
	InvalidPageID PageID = 0
	// PageSize is the fixed page width in bytes.
	PageSize = 4096
	// headerNextPageIDOffset is the byte offset of the next-page-id
	// counter within the header page.
	headerNextPageIDOffset = 0
)

// Manager owns the single underlying file. All reads/writes are
// positional; callers (the buffer pool) serialize access with their own
// lock, but Manager also protects its own header bookkeeping with a mutex
// so allocate() is safe to call directly in tests.
type Manager struct {
	mu           sync.Mutex
	file         *os.File
	nextPageID   PageID
}

// Open opens or creates the data file at path, loading (or initializing)
// the header page.
func Open(path string) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, chronoserr.Wrap(chronoserr.KindIO, "open data file", err)
	}
	m := &Manager{file: f}
	if err := m.loadOrInitHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadOrInitHeader() error {
	info, err := m.file.Stat()
	if err != nil {
		return chronoserr.Wrap(chronoserr.KindIO, "stat data file", err)
	}
	if info.Size() < PageSize {
		m.nextPageID = 1
		buf := make([]byte, PageSize)
		binary.LittleEndian.PutUint64(buf[headerNextPageIDOffset:], uint64(m.nextPageID))
		if _, err := m.file.WriteAt(buf, 0); err != nil {
			return chronoserr.Wrap(chronoserr.KindIO, "write header page", err)
		}
		return nil
	}
	buf := make([]byte, PageSize)
	if _, err := m.file.ReadAt(buf, 0); err != nil {
		return chronoserr.Wrap(chronoserr.KindIO, "read header page", err)
	}
	m.nextPageID = PageID(binary.LittleEndian.Uint64(buf[headerNextPageIDOffset:]))
	return nil
}

// ReadPage reads exactly PageSize bytes at page id into buf.
func (m *Manager) ReadPage(id PageID, buf []byte) error {
	if len(buf) != PageSize {
		return chronoserr.New(chronoserr.KindIO, "read_page: buffer wrong size")
	}
	offset := int64(id) * PageSize
	if _, err := m.file.ReadAt(buf, offset); err != nil {
		return chronoserr.Wrap(chronoserr.KindIO, fmt.Sprintf("read page %d", id), err)
	}
	return nil
}

// WritePage writes exactly PageSize bytes from buf at page id.
func (m *Manager) WritePage(id PageID, buf []byte) error {
	if len(buf) != PageSize {
		return chronoserr.New(chronoserr.KindIO, "write_page: buffer wrong size")
	}
	offset := int64(id) * PageSize
	if _, err := m.file.WriteAt(buf, offset); err != nil {
		return chronoserr.Wrap(chronoserr.KindIO, fmt.Sprintf("write page %d", id), err)
	}
	return nil
}

// SyncData forces buffered writes to disk.
func (m *Manager) SyncData() error {
	if err := m.file.Sync(); err != nil {
		return chronoserr.Wrap(chronoserr.KindIO, "sync data file", err)
	}
	return nil
}

// Allocate extends the file with a fresh zeroed page, then updates and
// fsyncs the header so a crash mid-allocate leaves at worst an
// unreferenced zero page, never a dangling id (spec §4.1).
func (m *Manager) Allocate() (PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextPageID
	zero := make([]byte, PageSize)
	if err := m.WritePage(id, zero); err != nil {
		return InvalidPageID, err
	}
	m.nextPageID++
	hdr := make([]byte, PageSize)
	binary.LittleEndian.PutUint64(hdr[headerNextPageIDOffset:], uint64(m.nextPageID))
	if _, err := m.file.WriteAt(hdr, 0); err != nil {
		return InvalidPageID, chronoserr.Wrap(chronoserr.KindIO, "persist header page", err)
	}
	if err := m.SyncData(); err != nil {
		return InvalidPageID, err
	}
	return id, nil
}

// NextPageID reports the counter's current value (for tests/inspection).
func (m *Manager) NextPageID() PageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextPageID
}

// Close closes the underlying file.
func (m *Manager) Close() error {
	if err := m.file.Close(); err != nil {
		return chronoserr.Wrap(chronoserr.KindIO, "close data file", err)
	}
	return nil
}
