package core

import (
	"context"
	"sync"
	"sync/atomic"
)

// ProgressSink receives position updates and carries the cancellation signal.
//
// Progress returning false is the only way to stop an import. Importer calls
// Progress once per row and the CSV reader once per buffered chunk, so
// implementations must be cheap.
type ProgressSink interface {
	Start(total int64)
	Progress(done int64) bool
	Finish()
}

// NopSink reports nothing and never cancels.
type NopSink struct{}

func (NopSink) Start(int64)         {}
func (NopSink) Progress(int64) bool { return true }
func (NopSink) Finish()             {}

// ProgressFunc adapts a function to a ProgressSink with no-op Start and Finish.
type ProgressFunc func(done int64) bool

func (f ProgressFunc) Start(int64)              {}
func (f ProgressFunc) Progress(done int64) bool { return f(done) }
func (f ProgressFunc) Finish()                  {}

type contextSink struct {
	ctx  context.Context
	next ProgressSink
}

// ContextSink wraps next so that Progress also returns false once ctx is done.
// A nil next behaves like NopSink.
func ContextSink(ctx context.Context, next ProgressSink) ProgressSink {
	if next == nil {
		next = NopSink{}
	}
	return &contextSink{ctx: ctx, next: next}
}

func (s *contextSink) Start(total int64) { s.next.Start(total) }

func (s *contextSink) Progress(done int64) bool {
	if !s.next.Progress(done) {
		return false
	}
	return s.ctx.Err() == nil
}

func (s *contextSink) Finish() { s.next.Finish() }

// Tracker records the progress of one import so another goroutine can read
// it, and lets that goroutine request cancellation.
type Tracker struct {
	mu       sync.Mutex
	progress ImportProgress

	cancelled atomic.Bool
}

// NewTracker creates a tracker for an import of bytesTotal input bytes
// (0 if unknown).
func NewTracker(importID, table string, bytesTotal int64) *Tracker {
	return &Tracker{
		progress: ImportProgress{
			ImportID:   importID,
			Table:      table,
			Phase:      PhaseStarting,
			BytesTotal: bytesTotal,
		},
	}
}

// Cancel asks the import to stop at the next row or chunk boundary.
func (t *Tracker) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (t *Tracker) Cancelled() bool {
	return t.cancelled.Load()
}

// Snapshot returns a copy of the current progress.
func (t *Tracker) Snapshot() ImportProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Complete records the terminal state of the import.
func (t *Tracker) Complete(outcome ImportOutcome, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case outcome.Committed:
		t.progress.Phase = PhaseCommitted
		t.progress.RowsApplied = int64(outcome.RowsApplied)
	case outcome.FailureReason != "":
		t.progress.Phase = PhaseRolledBack
		t.progress.Error = outcome.FailureReason
	default:
		t.progress.Phase = PhaseFailed
		if err != nil {
			t.progress.Error = err.Error()
		}
	}
}

// ReadSink returns the sink that tracks bytes consumed by the CSV reader.
func (t *Tracker) ReadSink() ProgressSink {
	return trackerReadSink{t}
}

// ApplySink returns the sink that tracks rows applied to the store.
func (t *Tracker) ApplySink() ProgressSink {
	return trackerApplySink{t}
}

type trackerReadSink struct{ t *Tracker }

func (s trackerReadSink) Start(total int64) {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if total > 0 {
		s.t.progress.BytesTotal = total
	}
	s.t.progress.Phase = PhaseReading
}

func (s trackerReadSink) Progress(done int64) bool {
	s.t.mu.Lock()
	s.t.progress.BytesRead = done
	s.t.mu.Unlock()
	return !s.t.Cancelled()
}

func (s trackerReadSink) Finish() {}

type trackerApplySink struct{ t *Tracker }

func (s trackerApplySink) Start(int64) {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	s.t.progress.Phase = PhaseApplying
}

func (s trackerApplySink) Progress(done int64) bool {
	s.t.mu.Lock()
	s.t.progress.RowsApplied = done
	s.t.mu.Unlock()
	return !s.t.Cancelled()
}

func (s trackerApplySink) Finish() {}
