// Package sqlite implements core.Store on SQLite using the pure-Go
// github.com/glebarez/go-sqlite driver.
//
// All work goes through one pinned connection: SQLite savepoints belong to a
// connection, and an in-memory database only exists on the connection that
// created it. Imported columns are declared without a type.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/JonMunkholm/csvimport/internal/core"
	_ "github.com/glebarez/go-sqlite"
)

// DriverName is the database/sql driver registered by go-sqlite.
const DriverName = "sqlite"

// ErrNoSavepoint is returned by savepoint operations on a name that is not open.
var ErrNoSavepoint = errors.New("no savepoint is open")

// Store is a core.Store on a single SQLite connection.
type Store struct {
	db *sql.DB

	mu        sync.Mutex
	conn      *sql.Conn
	savepoint string
}

var _ core.Store = (*Store)(nil)

// Open opens the database at path (":memory:" for a private in-memory one).
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}

	return &Store{db: db, conn: conn}, nil
}

// Driver returns "sqlite".
func (s *Store) Driver() string { return DriverName }

// Ping checks the pinned connection.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.PingContext(ctx)
}

// Close releases the connection and the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.conn.Close(), s.db.Close())
}

// ExistingTables lists user tables and their column counts.
func (s *Store) ExistingTables(ctx context.Context) ([]core.ExistingTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.tableNames(ctx)
	if err != nil {
		return nil, err
	}

	tables := make([]core.ExistingTable, 0, len(names))
	for _, name := range names {
		var count int
		err := s.conn.QueryRowContext(ctx, "SELECT count(*) FROM pragma_table_info(?)", name).Scan(&count)
		if err != nil {
			return nil, fmt.Errorf("columns of %s: %w", name, err)
		}
		tables = append(tables, core.ExistingTable{Name: name, ColumnCount: count})
	}
	return tables, nil
}

// tableNames must finish reading before the next query on the single connection.
func (s *Store) tableNames(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// OpenSavepoint starts a savepoint; outside a transaction SQLite begins one.
func (s *Store) OpenSavepoint(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.ExecContext(ctx, "SAVEPOINT "+s.QuoteIdentifier(name)); err != nil {
		return err
	}
	s.savepoint = name
	return nil
}

// CreateTable creates name with untyped columns.
func (s *Store) CreateTable(ctx context.Context, name string, columns []core.ColumnSpec) error {
	return s.Exec(ctx, CreateTableSQL(name, columns))
}

// Exec runs one statement on the pinned connection.
func (s *Store) Exec(ctx context.Context, sql string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.ExecContext(ctx, sql)
	return err
}

// RevertSavepoint rolls back to the savepoint and releases it, which ends
// the transaction SQLite started for it.
func (s *Store) RevertSavepoint(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.savepoint != name {
		return fmt.Errorf("revert %s: %w", name, ErrNoSavepoint)
	}
	quoted := s.QuoteIdentifier(name)
	if _, err := s.conn.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+quoted); err != nil {
		return err
	}
	if _, err := s.conn.ExecContext(ctx, "RELEASE SAVEPOINT "+quoted); err != nil {
		return err
	}
	s.savepoint = ""
	return nil
}

// ReleaseSavepoint commits the work done since OpenSavepoint.
func (s *Store) ReleaseSavepoint(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.savepoint != name {
		return fmt.Errorf("release %s: %w", name, ErrNoSavepoint)
	}
	if _, err := s.conn.ExecContext(ctx, "RELEASE SAVEPOINT "+s.QuoteIdentifier(name)); err != nil {
		return err
	}
	s.savepoint = ""
	return nil
}

// QuoteIdentifier quotes a name with backticks.
func (s *Store) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QuoteLiteral quotes a value as an SQL string literal.
func (s *Store) QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// CreateTableSQL builds the CREATE TABLE statement for an import.
func CreateTableSQL(name string, columns []core.ColumnSpec) string {
	s := &Store{}
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(s.QuoteIdentifier(name))
	b.WriteByte('(')
	for i, c := range columns {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s.QuoteIdentifier(c.Name))
		if c.DeclaredType != "" {
			b.WriteByte(' ')
			b.WriteString(c.DeclaredType)
		}
	}
	b.WriteByte(')')
	return b.String()
}
