// Package core provides the business logic for CSV import operations.
// This package has no UI dependencies and can be used by any frontend.
package core

// Row is one parsed CSV record: an ordered sequence of field strings.
type Row []string

// ColumnSpec describes one column of a table created by an import.
type ColumnSpec struct {
	Name         string // Sanitized column name, unique unless the header repeats itself
	DeclaredType string // Always empty; imported columns are untyped
}

// ExistingTable is a snapshot of a table already present in the store.
type ExistingTable struct {
	Name        string `json:"name"`
	ColumnCount int    `json:"columnCount"`
}

// ImportMode says whether an import creates its target table or appends to it.
type ImportMode int

const (
	CreateNew ImportMode = iota
	AppendExisting
)

// String returns the mode name used in logs and API responses.
func (m ImportMode) String() string {
	switch m {
	case CreateNew:
		return "create"
	case AppendExisting:
		return "append"
	default:
		return "unknown"
	}
}

// ImportDecision is the result of target resolution.
type ImportDecision struct {
	Mode     ImportMode
	Existing *ExistingTable // Set when Mode is AppendExisting
}

// ImportPlan is the fully resolved description of one import.
// It is built once per attempt and handed to Importer.Apply unchanged.
type ImportPlan struct {
	Table   string
	Mode    ImportMode
	Columns []ColumnSpec // Only used when Mode is CreateNew
	Rows    RowSource    // Data rows, header already excluded
}

// ImportOutcome is the terminal result of Importer.Apply.
// Either Committed is true and RowsApplied counts every inserted row, or
// Committed is false, FailureReason is set and the store has been reverted.
type ImportOutcome struct {
	Committed     bool   `json:"committed"`
	RowsApplied   int    `json:"rowsApplied"`
	FailureReason string `json:"failureReason,omitempty"`
}

// ImportPhase indicates the current stage of an import, for progress reporting.
type ImportPhase string

const (
	PhaseStarting   ImportPhase = "starting"
	PhaseReading    ImportPhase = "reading"
	PhaseApplying   ImportPhase = "applying"
	PhaseCommitted  ImportPhase = "committed"
	PhaseRolledBack ImportPhase = "rolled_back"
	PhaseFailed     ImportPhase = "failed"
)

// ImportProgress represents the current state of an import operation.
type ImportProgress struct {
	ImportID    string      `json:"importId"`
	Table       string      `json:"table"`
	Phase       ImportPhase `json:"phase"`
	BytesRead   int64       `json:"bytesRead"`
	BytesTotal  int64       `json:"bytesTotal"`
	RowsApplied int64       `json:"rowsApplied"`
	Error       string      `json:"error,omitempty"`
}

// Percent returns the read progress as a percentage (0-100).
// Rows arrive lazily, so bytes consumed is the only known total.
func (p ImportProgress) Percent() int {
	if p.BytesTotal > 0 {
		pct := int((p.BytesRead * 100) / p.BytesTotal)
		if pct > 100 {
			pct = 100
		}
		return pct
	}
	return 0
}

// PreviewResult is the parsed head of a CSV stream.
type PreviewResult struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}
