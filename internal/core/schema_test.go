package core

import (
	"strings"
	"testing"
)

func TestSanitizeColumnName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"name", "name"},
		{"first name", "firstname"},
		{"`quoted`", "quoted"},
		{`a"b'c`, "abc"},
		{"x,y;z", "xyz"},
		{"  ", ""},
		{"ünïcode", "ünïcode"},
		{"tab\tkept", "tab\tkept"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := SanitizeColumnName(tt.in)
			if got != tt.want {
				t.Errorf("SanitizeColumnName(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := SanitizeColumnName(got); again != got {
				t.Errorf("not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestDeriveColumns(t *testing.T) {
	tests := []struct {
		name        string
		firstRow    Row
		useAsHeader bool
		columnCount int
		want        string
	}{
		{
			name:        "header names",
			firstRow:    Row{"name", "age"},
			useAsHeader: true,
			want:        "name,age",
		},
		{
			name:        "empty header cell gets positional name",
			firstRow:    Row{"id", "", "` ;"},
			useAsHeader: true,
			want:        "id,field2,field3",
		},
		{
			name:        "duplicates are kept",
			firstRow:    Row{"a", "a b", "ab"},
			useAsHeader: true,
			want:        "a,ab,ab",
		},
		{
			name:        "synthetic names",
			firstRow:    Row{"x", "y", "z"},
			useAsHeader: false,
			columnCount: 3,
			want:        "field1,field2,field3",
		},
		{
			name:        "synthetic names ignore row content",
			firstRow:    nil,
			useAsHeader: false,
			columnCount: 2,
			want:        "field1,field2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cols := DeriveColumns(tt.firstRow, tt.useAsHeader, tt.columnCount)
			got := strings.Join(ColumnNames(cols), ",")
			if got != tt.want {
				t.Errorf("DeriveColumns() = %q, want %q", got, tt.want)
			}
			for _, c := range cols {
				if c.DeclaredType != "" {
					t.Errorf("column %q has type %q, want untyped", c.Name, c.DeclaredType)
				}
			}
		})
	}
}
