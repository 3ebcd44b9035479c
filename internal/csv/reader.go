// Package csv implements a dialect-aware CSV tokenizer.
//
// Unlike encoding/csv, the quote character is configurable and quoting can be
// switched off entirely, which is what user-supplied import dialects need:
//
//	r := csv.NewReader(f, csv.Options{Comma: ';', Quote: '\'', TrimFields: true})
//	for {
//	    rec, err := r.Read()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
//
// The tokenizer is lenient: a quote that appears inside an unquoted field is
// kept as a literal and an unterminated quoted field runs to end of input.
package csv

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"unicode"
)

// ErrAborted is returned by Read when the OnChunk callback asks to stop.
var ErrAborted = errors.New("csv: parsing aborted")

// Options controls how a Reader splits its input.
type Options struct {
	// Comma separates fields. Zero disables splitting, so every line is one field.
	Comma rune

	// Quote encloses fields that contain Comma, line breaks or the quote itself
	// (doubled). Zero disables quoting.
	Quote rune

	// TrimFields removes unquoted leading and trailing whitespace from fields.
	TrimFields bool

	// MaxRows stops the reader after that many records. Zero means no limit.
	MaxRows int

	// OnChunk is called each time a new chunk of input is buffered.
	// Returning false aborts parsing with ErrAborted.
	OnChunk func() bool
}

// Reader reads records from a delimited text stream.
type Reader struct {
	opts Options
	br   *bufio.Reader
	rows int
}

// NewReader returns a Reader that tokenizes r according to opts.
func NewReader(r io.Reader, opts Options) *Reader {
	if opts.OnChunk != nil {
		r = &chunkReader{r: r, onChunk: opts.OnChunk}
	}
	return &Reader{
		opts: opts,
		br:   bufio.NewReader(r),
	}
}

// Rows returns the number of records returned so far.
func (r *Reader) Rows() int {
	return r.rows
}

// Read returns the next record. Blank lines are skipped.
// It returns io.EOF when the input is exhausted or MaxRows has been reached.
func (r *Reader) Read() ([]string, error) {
	if r.opts.MaxRows > 0 && r.rows >= r.opts.MaxRows {
		return nil, io.EOF
	}
	for {
		rec, err := r.readRecord()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		r.rows++
		return rec, nil
	}
}

// ReadAll reads the remaining records.
func (r *Reader) ReadAll() ([][]string, error) {
	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}

// readRecord returns one record, nil for a blank line, or io.EOF.
func (r *Reader) readRecord() ([]string, error) {
	var (
		fields   []string
		field    strings.Builder
		inQuotes bool
		quoted   bool
		started  bool
	)

	finish := func() {
		s := field.String()
		if r.opts.TrimFields && !quoted {
			s = strings.TrimSpace(s)
		}
		fields = append(fields, s)
		field.Reset()
		quoted = false
	}

	for {
		c, _, err := r.br.ReadRune()
		if err == io.EOF {
			if !started {
				return nil, io.EOF
			}
			finish()
			return fields, nil
		}
		if err != nil {
			return nil, err
		}

		if inQuotes {
			if c != r.opts.Quote {
				field.WriteRune(c)
				continue
			}
			next, _, err := r.br.ReadRune()
			if err == nil && next == r.opts.Quote {
				field.WriteRune(c)
				continue
			}
			if err == nil {
				_ = r.br.UnreadRune()
			}
			inQuotes = false
			continue
		}

		switch {
		case c == '\n' || c == '\r':
			if c == '\r' {
				if next, _, err := r.br.ReadRune(); err == nil && next != '\n' {
					_ = r.br.UnreadRune()
				}
			}
			if !started {
				return nil, nil
			}
			finish()
			return fields, nil

		case r.opts.Quote != 0 && c == r.opts.Quote && !quoted && r.atFieldStart(&field):
			field.Reset()
			inQuotes = true
			quoted = true
			started = true

		case r.opts.Comma != 0 && c == r.opts.Comma:
			started = true
			finish()

		case quoted && r.opts.TrimFields && unicode.IsSpace(c):
			// whitespace after a closing quote

		default:
			// With trimming, a line of only whitespace is blank.
			if !r.opts.TrimFields || !unicode.IsSpace(c) {
				started = true
			}
			field.WriteRune(c)
		}
	}
}

// atFieldStart reports whether nothing but trimmable whitespace precedes the
// current position in the field.
func (r *Reader) atFieldStart(field *strings.Builder) bool {
	if field.Len() == 0 {
		return true
	}
	return r.opts.TrimFields && strings.TrimSpace(field.String()) == ""
}

// chunkReader invokes onChunk before every read from the underlying reader.
type chunkReader struct {
	r       io.Reader
	onChunk func() bool
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if !c.onChunk() {
		return 0, ErrAborted
	}
	return c.r.Read(p)
}
