package walog

import (
	"context"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/reinhardbuyabo/chronosdb/internal/chronoserr"
)

// defaultBufferSize is the active-buffer size threshold that triggers an
// async swap-and-flush (spec §4.4's "group commit" buffering).
const defaultBufferSize = 64 * 1024

// flushRequest asks the writer goroutine to durably persist a filled
// buffer at a known file offset.
type flushRequest struct {
	startOffset int64
	endLsn      Lsn
	data        []byte
}

// LogManager is the append-only WAL writer: callers Append records and
// Flush up to a given LSN; records are buffered and written in batches by
// a single background writer goroutine (async group commit).
type LogManager struct {
	file       *os.File
	bufferSize int

	mu          sync.Mutex
	cond        *sync.Cond
	activeBuf   []byte
	activeStart Lsn // LSN of the first byte in activeBuf
	nextLsn     Lsn
	flushedLsn  Lsn
	closed      bool
	lastErr     error

	reqs   chan flushRequest
	group  *errgroup.Group
	cancel context.CancelFunc
}

// Open creates or appends to a WAL file at path. startLsn is the LSN that
// the next Append should begin at (0 for a fresh log, or the file's
// current size when reopening an existing one).
func Open(path string, startLsn Lsn, bufferSize int) (*LogManager, error) {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, chronoserr.Wrap(chronoserr.KindIO, "wal: open log file", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, _ := errgroup.WithContext(ctx)
	lm := &LogManager{
		file:        f,
		bufferSize:  bufferSize,
		activeStart: startLsn,
		nextLsn:     startLsn,
		flushedLsn:  startLsn,
		reqs:        make(chan flushRequest, 8),
		group:       g,
		cancel:      cancel,
	}
	lm.cond = sync.NewCond(&lm.mu)

	g.Go(func() error {
		lm.writerLoop()
		return nil
	})
	return lm, nil
}

// Append stamps rec at the next LSN, buffers it, and returns the assigned
// LSN. It may trigger an async flush of the now-full active buffer but
// does not itself wait for durability; call Flush for that.
func (lm *LogManager) Append(rec Record) (Lsn, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.lastErr != nil {
		return 0, lm.lastErr
	}

	rec.Lsn = lm.nextLsn
	bytes := rec.ToBytes()
	lm.activeBuf = append(lm.activeBuf, bytes...)
	lm.nextLsn += Lsn(len(bytes))

	if len(lm.activeBuf) >= lm.bufferSize {
		lm.swapAndSendLocked()
	}
	return rec.Lsn, nil
}

// Flush blocks until every record up to and including lsn is durable on
// disk. It forces a swap of the active buffer if lsn falls within it.
func (lm *LogManager) Flush(lsn Lsn) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lsn >= lm.activeStart && len(lm.activeBuf) > 0 {
		lm.swapAndSendLocked()
	}
	target := lsn + 1
	if target > lm.nextLsn {
		target = lm.nextLsn
	}
	for lm.flushedLsn < target && lm.lastErr == nil {
		lm.cond.Wait()
	}
	return lm.lastErr
}

// swapAndSendLocked must be called with lm.mu held. It hands the active
// buffer to the writer goroutine and resets it to empty.
func (lm *LogManager) swapAndSendLocked() {
	if len(lm.activeBuf) == 0 {
		return
	}
	req := flushRequest{
		startOffset: int64(lm.activeStart),
		endLsn:      lm.activeStart + Lsn(len(lm.activeBuf)),
		data:        lm.activeBuf,
	}
	lm.activeBuf = nil
	lm.activeStart = req.endLsn
	lm.reqs <- req
}

// writerLoop is the sole goroutine that touches the file descriptor for
// writes; it drains reqs until the channel is closed.
func (lm *LogManager) writerLoop() {
	for req := range lm.reqs {
		err := lm.writeAndSync(req)
		lm.mu.Lock()
		if err != nil {
			lm.lastErr = err
		} else if req.endLsn > lm.flushedLsn {
			lm.flushedLsn = req.endLsn
		}
		lm.cond.Broadcast()
		lm.mu.Unlock()
	}
}

func (lm *LogManager) writeAndSync(req flushRequest) error {
	if _, err := lm.file.WriteAt(req.data, req.startOffset); err != nil {
		return chronoserr.Wrap(chronoserr.KindIO, "wal: write", err)
	}
	if err := lm.file.Sync(); err != nil {
		return chronoserr.Wrap(chronoserr.KindIO, "wal: fsync", err)
	}
	return nil
}

// Close flushes any buffered records, stops the writer goroutine, and
// closes the file.
func (lm *LogManager) Close() error {
	lm.mu.Lock()
	if lm.closed {
		lm.mu.Unlock()
		return nil
	}
	lm.closed = true
	lm.swapAndSendLocked()
	pending := lm.nextLsn
	lm.mu.Unlock()

	if err := lm.Flush(pending); err != nil {
		close(lm.reqs)
		lm.group.Wait()
		lm.cancel()
		lm.file.Close()
		return err
	}

	close(lm.reqs)
	lm.group.Wait()
	lm.cancel()
	if err := lm.file.Close(); err != nil {
		return chronoserr.Wrap(chronoserr.KindIO, "wal: close log file", err)
	}
	return nil
}

// FlushedLsn returns the highest LSN known durable, for diagnostics.
func (lm *LogManager) FlushedLsn() Lsn {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.flushedLsn
}
