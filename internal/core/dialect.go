package core

import (
	"fmt"
	"unicode/utf8"
)

// DefaultEncoding is used when a Dialect leaves Encoding empty.
const DefaultEncoding = "UTF-8"

// Dialect is the set of textual conventions used to parse one CSV stream.
// A zero Delimiter or Quote means that feature is disabled.
type Dialect struct {
	Delimiter  rune
	Quote      rune
	TrimFields bool
	Encoding   string
}

// DefaultDialect returns comma-separated, double-quoted, trimmed UTF-8.
func DefaultDialect() Dialect {
	return Dialect{
		Delimiter:  ',',
		Quote:      '"',
		TrimFields: true,
		Encoding:   DefaultEncoding,
	}
}

// EncodingName returns the configured encoding, or DefaultEncoding when empty.
func (d Dialect) EncodingName() string {
	if d.Encoding == "" {
		return DefaultEncoding
	}
	return d.Encoding
}

// Validate checks the dialect before any input is read.
func (d Dialect) Validate() error {
	if err := validateDialectChar("delimiter", d.Delimiter); err != nil {
		return err
	}
	if err := validateDialectChar("quote", d.Quote); err != nil {
		return err
	}
	if d.Delimiter == d.Quote {
		return &PreconditionError{
			Field:  "dialect",
			Reason: fmt.Sprintf("delimiter and quote must differ (both %s)", describeChar(d.Delimiter)),
		}
	}
	if _, err := LookupEncoding(d.Encoding); err != nil {
		return err
	}
	return nil
}

func validateDialectChar(field string, c rune) error {
	switch {
	case c == 0:
		return nil
	case c == '\r' || c == '\n':
		return &PreconditionError{Field: field, Reason: "line breaks cannot be used"}
	case c == utf8.RuneError || !utf8.ValidRune(c):
		return &PreconditionError{Field: field, Reason: "invalid character"}
	}
	return nil
}

// ParseDialectChar converts user input into a delimiter or quote rune.
// The empty string and "none" disable the feature, "tab" and `\t` mean a tab,
// anything else must be exactly one character.
func ParseDialectChar(field, s string) (rune, error) {
	switch s {
	case "", "none", "None":
		return 0, nil
	case "tab", "Tab", `\t`:
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, &PreconditionError{Field: field, Reason: fmt.Sprintf("%q is not a single character", s)}
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

func describeChar(c rune) string {
	switch c {
	case 0:
		return "none"
	case '\t':
		return "tab"
	default:
		return fmt.Sprintf("%q", c)
	}
}

// ParseDialect builds a Dialect from the string form used by configuration,
// flags and form fields.
func ParseDialect(delimiter, quote string, trimFields bool, encodingName string) (Dialect, error) {
	delim, err := ParseDialectChar("delimiter", delimiter)
	if err != nil {
		return Dialect{}, err
	}
	q, err := ParseDialectChar("quote", quote)
	if err != nil {
		return Dialect{}, err
	}
	d := Dialect{
		Delimiter:  delim,
		Quote:      q,
		TrimFields: trimFields,
		Encoding:   encodingName,
	}
	if err := d.Validate(); err != nil {
		return Dialect{}, err
	}
	return d, nil
}
