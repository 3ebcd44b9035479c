package core

import (
	"context"
	"testing"
)

func TestContextSink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := ContextSink(ctx, nil)

	if !sink.Progress(1) {
		t.Fatal("Progress before cancel = false")
	}
	cancel()
	if sink.Progress(2) {
		t.Error("Progress after cancel = true")
	}
}

func TestContextSink_InnerVeto(t *testing.T) {
	sink := ContextSink(context.Background(), ProgressFunc(func(done int64) bool { return done < 3 }))

	if !sink.Progress(2) || sink.Progress(3) {
		t.Error("inner sink veto not propagated")
	}
}

func TestTracker(t *testing.T) {
	tr := NewTracker("imp-1", "people", 0)

	read := tr.ReadSink()
	read.Start(1000)
	if !read.Progress(250) {
		t.Fatal("read Progress = false before cancel")
	}

	snap := tr.Snapshot()
	if snap.Phase != PhaseReading || snap.BytesRead != 250 || snap.BytesTotal != 1000 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Percent() != 25 {
		t.Errorf("Percent() = %d, want 25", snap.Percent())
	}

	apply := tr.ApplySink()
	apply.Start(0)
	apply.Progress(7)
	if got := tr.Snapshot(); got.Phase != PhaseApplying || got.RowsApplied != 7 {
		t.Errorf("snapshot = %+v", got)
	}

	tr.Cancel()
	if apply.Progress(8) || read.Progress(300) {
		t.Error("sinks keep going after Cancel")
	}
}

func TestTracker_Complete(t *testing.T) {
	tests := []struct {
		name      string
		outcome   ImportOutcome
		err       error
		wantPhase ImportPhase
		wantError string
	}{
		{
			name:      "committed",
			outcome:   ImportOutcome{Committed: true, RowsApplied: 12},
			wantPhase: PhaseCommitted,
		},
		{
			name:      "rolled back",
			outcome:   ImportOutcome{FailureReason: CancelledReason},
			err:       ErrCancelled,
			wantPhase: PhaseRolledBack,
			wantError: CancelledReason,
		},
		{
			name:      "rejected before store access",
			err:       ErrAppendDeclined,
			wantPhase: PhaseFailed,
			wantError: ErrAppendDeclined.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker("imp", "t", 10)
			tr.Complete(tt.outcome, tt.err)

			snap := tr.Snapshot()
			if snap.Phase != tt.wantPhase {
				t.Errorf("Phase = %q, want %q", snap.Phase, tt.wantPhase)
			}
			if snap.Error != tt.wantError {
				t.Errorf("Error = %q, want %q", snap.Error, tt.wantError)
			}
			if tt.outcome.Committed && snap.RowsApplied != int64(tt.outcome.RowsApplied) {
				t.Errorf("RowsApplied = %d, want %d", snap.RowsApplied, tt.outcome.RowsApplied)
			}
		})
	}
}

func TestPercent_ClampsAndUnknownTotal(t *testing.T) {
	if got := (ImportProgress{BytesRead: 50}).Percent(); got != 0 {
		t.Errorf("Percent() with unknown total = %d, want 0", got)
	}
	if got := (ImportProgress{BytesRead: 150, BytesTotal: 100}).Percent(); got != 100 {
		t.Errorf("Percent() overshoot = %d, want 100", got)
	}
}
