package core

import (
	"errors"
	"testing"
)

func TestResolveTarget(t *testing.T) {
	existing := []ExistingTable{
		{Name: "people", ColumnCount: 2},
		{Name: "orders", ColumnCount: 5},
	}

	tests := []struct {
		name         string
		table        string
		columns      int
		wantMode     ImportMode
		wantMismatch bool
		wantInvalid  bool
	}{
		{name: "new table", table: "cities", columns: 3, wantMode: CreateNew},
		{name: "existing with same width", table: "people", columns: 2, wantMode: AppendExisting},
		{name: "existing with other width", table: "orders", columns: 4, wantMismatch: true},
		{name: "match is case-sensitive", table: "People", columns: 7, wantMode: CreateNew},
		{name: "empty name", table: "", columns: 1, wantInvalid: true},
		{name: "backtick in name", table: "we`ird", columns: 1, wantInvalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := ResolveTarget(tt.table, tt.columns, existing)

			var mismatch *ColumnCountMismatchError
			var precond *PreconditionError
			switch {
			case tt.wantMismatch:
				if !errors.As(err, &mismatch) {
					t.Fatalf("error = %v, want ColumnCountMismatchError", err)
				}
				if mismatch.Existing != 5 || mismatch.Incoming != tt.columns {
					t.Errorf("mismatch = %+v", mismatch)
				}
				return
			case tt.wantInvalid:
				if !errors.As(err, &precond) {
					t.Fatalf("error = %v, want PreconditionError", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ResolveTarget() error = %v", err)
			}
			if decision.Mode != tt.wantMode {
				t.Errorf("Mode = %v, want %v", decision.Mode, tt.wantMode)
			}
			if tt.wantMode == AppendExisting && (decision.Existing == nil || decision.Existing.Name != tt.table) {
				t.Errorf("Existing = %+v, want %s", decision.Existing, tt.table)
			}
			if tt.wantMode == CreateNew && decision.Existing != nil {
				t.Errorf("Existing = %+v, want nil", decision.Existing)
			}
		})
	}
}
