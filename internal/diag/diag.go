// Package diag supplies the pluggable diagnostics sink called for by
// spec §9 ("the recovery pass prints diagnostics to standard error; a
// redesign should route these through a pluggable sink"). The teacher
// repo's own tools (cmd/server, internal/storage/scheduler.go) log through
// the standard library's log package rather than a third-party logger, so
// that is the idiom kept here, behind a narrow interface so tests can swap
// in a NullSink.
package diag

import (
	"log"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Sink receives formatted diagnostic lines from recovery and the engine.
type Sink interface {
	Recordf(format string, args ...any)
}

// StdErrSink writes through the standard log package, each line tagged
// with the run id it was constructed with so repeated recovery passes (a
// crash-loop test, for instance) are distinguishable in the log stream.
type StdErrSink struct {
	runID   uuid.UUID
	printer *message.Printer
}

// NewStdErrSink creates a sink with a fresh correlation id.
func NewStdErrSink() *StdErrSink {
	return &StdErrSink{
		runID:   uuid.New(),
		printer: message.NewPrinter(language.English),
	}
}

func (s *StdErrSink) Recordf(format string, args ...any) {
	log.Printf("[run=%s] %s", s.runID, s.printer.Sprintf(format, args...))
}

// NullSink discards everything; used by tests that don't want stderr
// noise from recovery passes run in a loop.
type NullSink struct{}

func (NullSink) Recordf(string, ...any) {}
