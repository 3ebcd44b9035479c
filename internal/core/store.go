package core

import "context"

// Store is the transactional target of an import.
//
// Implementations return errors that carry the database's own diagnostic
// text. A Store is owned by one import at a time; savepoints are not shared
// between imports.
type Store interface {
	// ExistingTables lists the tables an import could append to.
	ExistingTables(ctx context.Context) ([]ExistingTable, error)

	// OpenSavepoint starts a named, revertible unit of work.
	OpenSavepoint(ctx context.Context, name string) error

	// CreateTable creates name with the given columns, in order.
	CreateTable(ctx context.Context, name string, columns []ColumnSpec) error

	// Exec runs one statement inside the open savepoint.
	Exec(ctx context.Context, sql string) error

	// RevertSavepoint discards everything done since OpenSavepoint.
	RevertSavepoint(ctx context.Context, name string) error

	// ReleaseSavepoint keeps the work done since OpenSavepoint.
	ReleaseSavepoint(ctx context.Context, name string) error

	Quoter
}

// Quoter escapes names and values using a store's SQL literal syntax.
type Quoter interface {
	// QuoteIdentifier quotes a table or column name.
	QuoteIdentifier(name string) string

	// QuoteLiteral quotes a string value so it round-trips unchanged,
	// whatever it contains (quotes, delimiters, the text NULL).
	QuoteLiteral(value string) string
}
