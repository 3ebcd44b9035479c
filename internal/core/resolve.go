package core

import "strings"

// ValidateTableName rejects names that cannot be used as an import target.
func ValidateTableName(name string) error {
	if name == "" {
		return &PreconditionError{Field: "table name", Reason: "must not be empty"}
	}
	if strings.Contains(name, "`") {
		return &PreconditionError{Field: "table name", Reason: "must not contain a backtick"}
	}
	return nil
}

// ResolveTarget decides whether an import creates name or appends to it.
//
// Matching is exact and case-sensitive. An existing table is only usable when
// its column count equals columnCount; confirming the append is left to the
// caller.
func ResolveTarget(name string, columnCount int, existing []ExistingTable) (ImportDecision, error) {
	if err := ValidateTableName(name); err != nil {
		return ImportDecision{}, err
	}

	for i := range existing {
		t := existing[i]
		if t.Name != name {
			continue
		}
		if t.ColumnCount != columnCount {
			return ImportDecision{}, &ColumnCountMismatchError{
				Table:    name,
				Existing: t.ColumnCount,
				Incoming: columnCount,
			}
		}
		return ImportDecision{Mode: AppendExisting, Existing: &t}, nil
	}

	return ImportDecision{Mode: CreateNew}, nil
}
