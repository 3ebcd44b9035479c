// Package postgres implements core.Store on PostgreSQL.
//
// An import runs in one transaction taken from the pool when the savepoint
// is opened. Reverting rolls the savepoint back and ends the transaction;
// releasing it commits. Imported columns are created as text.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// ColumnType is the type given to every imported column.
const ColumnType = "text"

// ErrNoSavepoint is returned by statements issued outside an open savepoint.
var ErrNoSavepoint = errors.New("no savepoint is open")

// ErrSavepointOpen is returned when a second savepoint is opened before the
// first one ends.
var ErrSavepointOpen = errors.New("a savepoint is already open")

const existingTablesSQL = `
SELECT t.table_name, count(c.column_name)
FROM information_schema.tables t
LEFT JOIN information_schema.columns c
  ON c.table_schema = t.table_schema AND c.table_name = t.table_name
WHERE t.table_schema = current_schema()
  AND t.table_type = 'BASE TABLE'
GROUP BY t.table_name
ORDER BY t.table_name`

// Store is a core.Store backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool

	mu        sync.Mutex
	tx        pgx.Tx
	savepoint string
}

var _ core.Store = (*Store)(nil)

// Open connects a pool using cfg and verifies it with a ping.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Driver returns "postgres".
func (s *Store) Driver() string { return "postgres" }

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close rolls back any open import and closes the pool.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.tx != nil {
		_ = s.tx.Rollback(context.Background())
		s.tx = nil
	}
	s.mu.Unlock()

	s.pool.Close()
	return nil
}

// ExistingTables lists base tables in the current schema with their column counts.
func (s *Store) ExistingTables(ctx context.Context) ([]core.ExistingTable, error) {
	rows, err := s.pool.Query(ctx, existingTablesSQL)
	if err != nil {
		return nil, describe(err)
	}
	defer rows.Close()

	var tables []core.ExistingTable
	for rows.Next() {
		var t core.ExistingTable
		if err := rows.Scan(&t.Name, &t.ColumnCount); err != nil {
			return nil, describe(err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, describe(err)
	}
	return tables, nil
}

// OpenSavepoint begins a transaction and sets the savepoint inside it.
func (s *Store) OpenSavepoint(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		return ErrSavepointOpen
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return describe(err)
	}
	if _, err := tx.Exec(ctx, "SAVEPOINT "+pq.QuoteIdentifier(name)); err != nil {
		_ = tx.Rollback(ctx)
		return describe(err)
	}

	s.tx = tx
	s.savepoint = name
	return nil
}

// CreateTable creates name with one text column per ColumnSpec.
func (s *Store) CreateTable(ctx context.Context, name string, columns []core.ColumnSpec) error {
	return s.exec(ctx, CreateTableSQL(name, columns))
}

// Exec runs one statement inside the open savepoint.
func (s *Store) Exec(ctx context.Context, sql string) error {
	return s.exec(ctx, sql)
}

func (s *Store) exec(ctx context.Context, sql string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return ErrNoSavepoint
	}
	if _, err := s.tx.Exec(ctx, sql); err != nil {
		return describe(err)
	}
	return nil
}

// RevertSavepoint rolls back to the savepoint and ends the transaction.
func (s *Store) RevertSavepoint(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil || s.savepoint != name {
		return fmt.Errorf("revert %s: %w", name, ErrNoSavepoint)
	}
	tx := s.tx
	s.tx = nil
	s.savepoint = ""

	// A failed ROLLBACK TO is covered by the transaction rollback.
	_, _ = tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+pq.QuoteIdentifier(name))
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return describe(err)
	}
	return nil
}

// ReleaseSavepoint releases the savepoint and commits the transaction.
func (s *Store) ReleaseSavepoint(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil || s.savepoint != name {
		return fmt.Errorf("release %s: %w", name, ErrNoSavepoint)
	}

	if _, err := s.tx.Exec(ctx, "RELEASE SAVEPOINT "+pq.QuoteIdentifier(name)); err != nil {
		// Leave the transaction open so the caller can revert.
		return describe(err)
	}

	tx := s.tx
	s.tx = nil
	s.savepoint = ""
	if err := tx.Commit(ctx); err != nil {
		return describe(err)
	}
	return nil
}

// QuoteIdentifier quotes a table or column name with double quotes.
func (s *Store) QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

// QuoteLiteral quotes a value as a string constant, using the E'' form when
// it contains backslashes.
func (s *Store) QuoteLiteral(value string) string {
	return strings.TrimLeft(pq.QuoteLiteral(value), " ")
}

// CreateTableSQL builds the CREATE TABLE statement for an import.
func CreateTableSQL(name string, columns []core.ColumnSpec) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(pq.QuoteIdentifier(name))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		typ := c.DeclaredType
		if typ == "" {
			typ = ColumnType
		}
		b.WriteString(pq.QuoteIdentifier(c.Name))
		b.WriteByte(' ')
		b.WriteString(typ)
	}
	b.WriteByte(')')
	return b.String()
}

// Error is a server error with its detail and hint folded into the message.
type Error struct {
	msg string
	Pg  *pgconn.PgError
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Unwrap() error { return e.Pg }

// describe keeps the server's diagnostic, adding detail and hint when present.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	msg := pgErr.Message
	if pgErr.Detail != "" {
		msg += ": " + pgErr.Detail
	}
	if pgErr.Hint != "" {
		msg += " (hint: " + pgErr.Hint + ")"
	}
	return &Error{
		msg: fmt.Sprintf("%s (SQLSTATE %s)", msg, pgErr.Code),
		Pg:  pgErr,
	}
}
