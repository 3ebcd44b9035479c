package core

import (
	"errors"
	"io"

	"github.com/JonMunkholm/csvimport/internal/csv"
)

// RowSource is a finite, non-restartable sequence of rows.
// Next returns io.EOF after the last row and ErrCancelled if parsing was
// stopped by its progress sink.
type RowSource interface {
	Next() (Row, error)
}

// SourceOptions configures OpenRowSource.
type SourceOptions struct {
	Size     int64        // Raw input size in bytes, 0 if unknown
	MaxRows  int          // Stop after this many rows, 0 for all
	Progress ProgressSink // Receives bytes consumed once per buffered chunk
}

// OpenRowSource decodes r according to d and returns its rows.
// The dialect is validated before anything is read.
func OpenRowSource(r io.Reader, d Dialect, opts SourceOptions) (RowSource, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	sink := opts.Progress
	if sink == nil {
		sink = NopSink{}
	}

	decoded, counter, err := WrapForStreaming(r, opts.Size, d.EncodingName())
	if err != nil {
		return nil, err
	}

	sink.Start(opts.Size)
	reader := csv.NewReader(decoded, csv.Options{
		Comma:      d.Delimiter,
		Quote:      d.Quote,
		TrimFields: d.TrimFields,
		MaxRows:    opts.MaxRows,
		OnChunk: func() bool {
			return sink.Progress(counter.BytesRead)
		},
	})

	return &csvSource{reader: reader, sink: sink}, nil
}

type csvSource struct {
	reader   *csv.Reader
	sink     ProgressSink
	finished bool
}

func (s *csvSource) Next() (Row, error) {
	rec, err := s.reader.Read()
	switch {
	case err == nil:
		return Row(rec), nil
	case err == io.EOF:
		if !s.finished {
			s.finished = true
			s.sink.Finish()
		}
		return nil, io.EOF
	case errors.Is(err, csv.ErrAborted):
		return nil, ErrCancelled
	default:
		return nil, err
	}
}

// prependSource yields first, then the rows of rest.
type prependSource struct {
	first Row
	sent  bool
	rest  RowSource
}

func (s *prependSource) Next() (Row, error) {
	if !s.sent {
		s.sent = true
		return s.first, nil
	}
	return s.rest.Next()
}

// SliceSource serves rows from memory.
type SliceSource struct {
	rows []Row
	pos  int
}

// NewSliceSource returns a RowSource over rows.
func NewSliceSource(rows []Row) *SliceSource {
	return &SliceSource{rows: rows}
}

func (s *SliceSource) Next() (Row, error) {
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}
