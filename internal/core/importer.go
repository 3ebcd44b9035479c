package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// ImportState is a step of the importer's state machine.
type ImportState int

const (
	StateIdle ImportState = iota
	StateSavepointOpen
	StateTableEnsured
	StateRowsApplying
	StateCommitted
	StateRolledBack
)

func (s ImportState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSavepointOpen:
		return "savepoint_open"
	case StateTableEnsured:
		return "table_ensured"
	case StateRowsApplying:
		return "rows_applying"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s ImportState) Terminal() bool {
	return s == StateCommitted || s == StateRolledBack
}

// ErrImporterUsed is returned when Apply is called twice on one Importer.
var ErrImporterUsed = errors.New("importer already applied a plan")

// SavepointName derives a savepoint name from t.
func SavepointName(t time.Time) string {
	return fmt.Sprintf("CSVIMPORT_%d", t.UnixNano())
}

// Importer applies one ImportPlan to a Store as a single all-or-nothing unit.
//
// An Importer is single use: it owns the store's savepoint from Apply until
// it returns.
type Importer struct {
	store  Store
	sink   ProgressSink
	logger *slog.Logger
	now    func() time.Time

	state     ImportState
	savepoint string
}

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithProgress sets the sink that receives row ordinals and may cancel.
func WithProgress(sink ProgressSink) ImporterOption {
	return func(im *Importer) {
		if sink != nil {
			im.sink = sink
		}
	}
}

// WithLogger sets the logger used for state transitions.
func WithLogger(logger *slog.Logger) ImporterOption {
	return func(im *Importer) {
		if logger != nil {
			im.logger = logger
		}
	}
}

// WithClock overrides the clock used to name the savepoint.
func WithClock(now func() time.Time) ImporterOption {
	return func(im *Importer) {
		if now != nil {
			im.now = now
		}
	}
}

// NewImporter creates an Importer for store.
func NewImporter(store Store, opts ...ImporterOption) *Importer {
	im := &Importer{
		store:  store,
		sink:   NopSink{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// State returns the current state.
func (im *Importer) State() ImportState {
	return im.state
}

// Savepoint returns the savepoint name, empty before Apply.
func (im *Importer) Savepoint() string {
	return im.savepoint
}

// Apply runs plan against the store.
//
// Rows are inserted one statement per row, in source order, with every field
// as a string literal. After each row the sink is told the row ordinal; if it
// returns false, or any step fails, the savepoint is reverted and the outcome
// is not committed. Store calls are never cancelled through ctx, so an issued
// statement always completes and the revert always runs.
func (im *Importer) Apply(ctx context.Context, plan ImportPlan) (ImportOutcome, error) {
	if im.state != StateIdle {
		return ImportOutcome{}, ErrImporterUsed
	}

	storeCtx := context.WithoutCancel(ctx)
	im.savepoint = SavepointName(im.now())
	im.logger = im.logger.With(
		"table", plan.Table,
		"mode", plan.Mode.String(),
		"savepoint", im.savepoint,
	)

	if err := im.store.OpenSavepoint(storeCtx, im.savepoint); err != nil {
		// Nothing was opened, so there is nothing to revert.
		im.transition(StateRolledBack)
		cause := &StoreError{Stage: StageSavepoint, Err: err}
		im.logger.Warn("import failed", "error", cause)
		return ImportOutcome{FailureReason: failureReason(cause)}, cause
	}
	im.transition(StateSavepointOpen)

	im.sink.Start(0)
	defer im.sink.Finish()

	if plan.Mode == CreateNew {
		if err := im.store.CreateTable(storeCtx, plan.Table, plan.Columns); err != nil {
			return im.rollback(storeCtx, &StoreError{Stage: StageCreateTable, Err: err})
		}
	}
	im.transition(StateTableEnsured)

	im.transition(StateRowsApplying)
	table := im.store.QuoteIdentifier(plan.Table)
	applied := 0

	for {
		row, err := plan.Rows.Next()
		if err == io.EOF {
			break
		}
		if errors.Is(err, ErrCancelled) {
			return im.rollback(storeCtx, ErrCancelled)
		}
		if err != nil {
			return im.rollback(storeCtx, &StoreError{Stage: StageRead, Row: applied + 1, Err: err})
		}

		if err := im.store.Exec(storeCtx, InsertStatement(im.store, table, row)); err != nil {
			return im.rollback(storeCtx, &StoreError{Stage: StageInsert, Row: applied + 1, Err: err})
		}
		applied++

		if !im.sink.Progress(int64(applied)) {
			return im.rollback(storeCtx, ErrCancelled)
		}
	}

	if err := im.store.ReleaseSavepoint(storeCtx, im.savepoint); err != nil {
		return im.rollback(storeCtx, &StoreError{Stage: StageCommit, Err: err})
	}
	im.transition(StateCommitted)
	im.logger.Info("import committed", "rows", applied)

	return ImportOutcome{Committed: true, RowsApplied: applied}, nil
}

// rollback reverts the savepoint and builds the failed outcome for cause.
func (im *Importer) rollback(ctx context.Context, cause error) (ImportOutcome, error) {
	if err := im.store.RevertSavepoint(ctx, im.savepoint); err != nil {
		im.logger.Error("revert savepoint failed", "error", err)
		cause = errors.Join(cause, fmt.Errorf("revert savepoint: %w", err))
	}
	im.transition(StateRolledBack)

	reason := failureReason(cause)
	if errors.Is(cause, ErrCancelled) {
		im.logger.Info("import cancelled")
	} else {
		im.logger.Warn("import rolled back", "error", cause)
	}
	return ImportOutcome{FailureReason: reason}, cause
}

func (im *Importer) transition(to ImportState) {
	im.logger.Debug("import state", "from", im.state.String(), "to", to.String())
	im.state = to
}

// failureReason is the text reported in ImportOutcome.FailureReason.
func failureReason(err error) string {
	if errors.Is(err, ErrCancelled) {
		return CancelledReason
	}
	var se *StoreError
	if errors.As(err, &se) {
		return se.Diagnostic()
	}
	return err.Error()
}

// InsertStatement builds the positional insert for one row. quotedTable must
// already be quoted with q.
func InsertStatement(q Quoter, quotedTable string, row Row) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quotedTable)
	b.WriteString(" VALUES(")
	for i, field := range row {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(q.QuoteLiteral(field))
	}
	b.WriteByte(')')
	return b.String()
}
