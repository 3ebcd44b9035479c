package core

import (
	"strconv"
	"strings"
)

// forbiddenColumnChars are removed from header cells before they become
// column names.
const forbiddenColumnChars = "`\"',; "

// SyntheticColumnName returns the generated name for a 1-based column position.
func SyntheticColumnName(position int) string {
	return "field" + strconv.Itoa(position)
}

// SanitizeColumnName strips the characters that are not allowed in column
// names. Applying it twice yields the same result.
func SanitizeColumnName(name string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(forbiddenColumnChars, r) {
			return -1
		}
		return r
	}, name)
}

// DeriveColumns builds the column list for a new table.
//
// With useAsHeader, each cell of firstRow is sanitized and an empty result is
// replaced by its synthetic name. Identical names are kept as they are; the
// store rejects them when the table is created. Without a header, columnCount
// synthetic names field1..fieldN are returned.
func DeriveColumns(firstRow Row, useAsHeader bool, columnCount int) []ColumnSpec {
	if !useAsHeader {
		cols := make([]ColumnSpec, columnCount)
		for i := range cols {
			cols[i] = ColumnSpec{Name: SyntheticColumnName(i + 1)}
		}
		return cols
	}

	cols := make([]ColumnSpec, len(firstRow))
	for i, cell := range firstRow {
		name := SanitizeColumnName(cell)
		if name == "" {
			name = SyntheticColumnName(i + 1)
		}
		cols[i] = ColumnSpec{Name: name}
	}
	return cols
}

// ColumnNames returns the names of cols in order.
func ColumnNames(cols []ColumnSpec) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
