package core

import (
	"errors"
	"fmt"
)

// CancelledReason is the FailureReason of an import stopped by its caller.
const CancelledReason = "cancelled"

var (
	// ErrCancelled is returned when a progress sink asks the import to stop.
	ErrCancelled = errors.New("import cancelled")

	// ErrEmptyInput is returned when the stream contains no rows at all.
	ErrEmptyInput = errors.New("empty file: no rows to import")

	// ErrAppendDeclined is returned when the target table exists and the
	// caller did not confirm appending to it.
	ErrAppendDeclined = errors.New("table already exists and append was not confirmed")
)

// PreconditionError reports invalid input detected before any store access.
// The caller may correct the input and retry.
type PreconditionError struct {
	Field  string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ColumnCountMismatchError is returned when the target table exists with a
// different number of columns than the incoming data.
type ColumnCountMismatchError struct {
	Table    string
	Existing int
	Incoming int
}

func (e *ColumnCountMismatchError) Error() string {
	return fmt.Sprintf("column count mismatch: table %q has %d columns, import has %d",
		e.Table, e.Existing, e.Incoming)
}

// Stage identifies the importer step a StoreError came from.
type Stage string

const (
	StageSavepoint   Stage = "savepoint"
	StageCreateTable Stage = "create table"
	StageInsert      Stage = "insert"
	StageRead        Stage = "read"
	StageCommit      Stage = "commit"
)

// StoreError wraps a failure from the store or the row source.
// Err carries the native diagnostic text.
type StoreError struct {
	Stage Stage
	Row   int // 1-based data row for StageInsert and StageRead, otherwise 0
	Err   error
}

func (e *StoreError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("%s failed at row %d: %v", e.Stage, e.Row, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Diagnostic returns the store's own message without the stage prefix.
func (e *StoreError) Diagnostic() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
