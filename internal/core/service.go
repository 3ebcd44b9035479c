package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/logging"
	"github.com/google/uuid"
)

// DefaultPreviewRows is the number of rows Preview parses when not configured.
const DefaultPreviewRows = 20

// Service wires the import pipeline to one Store.
type Service struct {
	store       Store
	dialect     Dialect
	header      bool
	previewRows int
	limiter     *ImportLimiter
	now         func() time.Time
}

// NewService creates a Service for store using the import and dialect
// settings from cfg.
func NewService(store Store, cfg *config.Config) (*Service, error) {
	d, err := ParseDialect(cfg.Dialect.Delimiter, cfg.Dialect.Quote, cfg.Dialect.TrimFields, cfg.Dialect.Encoding)
	if err != nil {
		return nil, fmt.Errorf("default dialect: %w", err)
	}

	previewRows := cfg.Import.PreviewRows
	if previewRows <= 0 {
		previewRows = DefaultPreviewRows
	}

	return &Service{
		store:       store,
		dialect:     d,
		header:      cfg.Dialect.Header,
		previewRows: previewRows,
		limiter:     NewImportLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime),
		now:         time.Now,
	}, nil
}

// DefaultDialect returns the configured dialect.
func (s *Service) DefaultDialect() Dialect {
	return s.dialect
}

// DefaultHeader returns whether the first row is a header by default.
func (s *Service) DefaultHeader() bool {
	return s.header
}

// Limiter returns the limiter that serializes imports against the store.
func (s *Service) Limiter() *ImportLimiter {
	return s.limiter
}

// ListTables returns the tables currently in the store.
func (s *Service) ListTables(ctx context.Context) ([]ExistingTable, error) {
	tables, err := s.store.ExistingTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

// ImportRequest holds everything the caller chose for one import.
type ImportRequest struct {
	ImportID string // Generated when empty
	Table    string
	Dialect  Dialect
	Header   bool // Use the first row as column names

	Input io.Reader
	Size  int64 // Input size in bytes, 0 if unknown

	// ConfirmAppend is asked before appending to an existing table.
	// A nil func declines.
	ConfirmAppend func(ExistingTable) bool

	ReadProgress  ProgressSink // Bytes consumed while parsing
	ApplyProgress ProgressSink // Rows applied to the store
}

// ImportResult describes a finished import attempt.
type ImportResult struct {
	ImportID string        `json:"importId"`
	Table    string        `json:"table"`
	Mode     string        `json:"mode,omitempty"`
	Columns  []string      `json:"columns,omitempty"`
	Outcome  ImportOutcome `json:"outcome"`
	Duration time.Duration `json:"duration"`
}

// Import parses req.Input and applies it to the store as one unit.
//
// Invalid input and target conflicts are reported before the store is
// touched. Once rows are being applied, any failure or cancellation reverts
// the store and the returned result carries the failure reason alongside
// the error. ctx cancellation is observed at row and chunk boundaries only.
func (s *Service) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	start := s.now()
	if req.ImportID == "" {
		req.ImportID = uuid.New().String()
	}

	// The importer adds the table to its own lines.
	base := logging.WithFields(ctx, "import_id", req.ImportID).With(clientAttrs(ctx)...)
	logger := base.With("table", req.Table)
	result := &ImportResult{ImportID: req.ImportID, Table: req.Table}
	defer func() { result.Duration = s.now().Sub(start) }()

	if err := ValidateTableName(req.Table); err != nil {
		return result, err
	}

	src, err := OpenRowSource(req.Input, req.Dialect, SourceOptions{
		Size:     req.Size,
		Progress: ContextSink(ctx, req.ReadProgress),
	})
	if err != nil {
		return result, err
	}

	first, err := src.Next()
	switch {
	case err == io.EOF:
		return result, ErrEmptyInput
	case errors.Is(err, ErrCancelled):
		result.Outcome = ImportOutcome{FailureReason: CancelledReason}
		return result, ErrCancelled
	case err != nil:
		return result, fmt.Errorf("invalid csv: %w", err)
	}

	columns := DeriveColumns(first, req.Header, len(first))
	result.Columns = ColumnNames(columns)

	existing, err := s.store.ExistingTables(ctx)
	if err != nil {
		return result, fmt.Errorf("list tables: %w", err)
	}

	decision, err := ResolveTarget(req.Table, len(columns), existing)
	if err != nil {
		return result, err
	}
	result.Mode = decision.Mode.String()

	if decision.Mode == AppendExisting {
		if req.ConfirmAppend == nil || !req.ConfirmAppend(*decision.Existing) {
			return result, ErrAppendDeclined
		}
	}

	var rows RowSource = src
	if !req.Header {
		rows = &prependSource{first: first, rest: src}
	}

	logger.Info("import started",
		"mode", decision.Mode.String(),
		"columns", len(columns),
		"header", req.Header,
		"encoding", req.Dialect.EncodingName(),
	)

	importer := NewImporter(s.store,
		WithProgress(ContextSink(ctx, req.ApplyProgress)),
		WithLogger(base),
		WithClock(s.now),
	)
	outcome, err := importer.Apply(ctx, ImportPlan{
		Table:   req.Table,
		Mode:    decision.Mode,
		Columns: columns,
		Rows:    rows,
	})
	result.Outcome = outcome
	return result, err
}

// Preview parses at most maxRows rows (the configured default when maxRows
// is not positive) and returns the columns an import would use together with
// the data rows. The store is not touched.
func (s *Service) Preview(ctx context.Context, r io.Reader, size int64, d Dialect, header bool, maxRows int) (*PreviewResult, error) {
	if maxRows <= 0 {
		maxRows = s.previewRows
	}

	src, err := OpenRowSource(r, d, SourceOptions{
		Size:     size,
		MaxRows:  maxRows,
		Progress: ContextSink(ctx, nil),
	})
	if err != nil {
		return nil, err
	}

	var rows []Row
	width := 0
	for {
		row, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv: %w", err)
		}
		rows = append(rows, row)
		if len(row) > width {
			width = len(row)
		}
	}

	result := &PreviewResult{Rows: []Row{}}
	if len(rows) == 0 {
		return result, nil
	}

	var first Row
	if header {
		first = rows[0]
		rows = rows[1:]
	}
	result.Columns = ColumnNames(DeriveColumns(first, header, width))
	result.Rows = rows
	return result, nil
}

// WaitForImports blocks until all active imports complete or ctx is cancelled.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// ImportLimiterStatus returns the current import limiter state.
func (s *Service) ImportLimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}
