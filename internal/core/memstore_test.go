package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// memStore is an in-memory Store with savepoint semantics. It records every
// call so tests can check ordering, and can be told to fail at any step.
type memStore struct {
	tables map[string]*memTable
	order  []string

	ops []string

	snapshot  map[string]*memTable
	snapOrder []string
	open      string

	failSavepoint error
	failCreate    error
	failInsertAt  int // 1-based insert that fails, 0 for none
	failRelease   error
	failRevert    error
	failList      error

	inserts int
}

type memTable struct {
	columns []string
	rows    [][]string
}

func newMemStore() *memStore {
	return &memStore{tables: map[string]*memTable{}}
}

// withTable seeds an existing table.
func (s *memStore) withTable(name string, columns []string, rows ...[]string) *memStore {
	s.tables[name] = &memTable{columns: columns, rows: rows}
	s.order = append(s.order, name)
	return s
}

func (s *memStore) ExistingTables(ctx context.Context) ([]ExistingTable, error) {
	s.ops = append(s.ops, "list")
	if s.failList != nil {
		return nil, s.failList
	}
	out := make([]ExistingTable, 0, len(s.tables))
	for _, name := range s.order {
		out = append(out, ExistingTable{Name: name, ColumnCount: len(s.tables[name].columns)})
	}
	return out, nil
}

func (s *memStore) OpenSavepoint(ctx context.Context, name string) error {
	s.ops = append(s.ops, "savepoint "+name)
	if s.failSavepoint != nil {
		return s.failSavepoint
	}
	s.open = name
	s.snapshot = cloneTables(s.tables)
	s.snapOrder = append([]string(nil), s.order...)
	return nil
}

func (s *memStore) CreateTable(ctx context.Context, name string, columns []ColumnSpec) error {
	s.ops = append(s.ops, "create "+name)
	if s.failCreate != nil {
		return s.failCreate
	}
	if _, ok := s.tables[name]; ok {
		return fmt.Errorf("table %s already exists", name)
	}
	seen := map[string]bool{}
	for _, c := range columns {
		if seen[c.Name] {
			return fmt.Errorf("duplicate column name: %s", c.Name)
		}
		seen[c.Name] = true
	}
	s.tables[name] = &memTable{columns: ColumnNames(columns)}
	s.order = append(s.order, name)
	return nil
}

func (s *memStore) Exec(ctx context.Context, sql string) error {
	s.ops = append(s.ops, "exec")
	s.inserts++
	if s.failInsertAt == s.inserts {
		return errors.New("constraint failed")
	}
	table, values, err := parseInsert(sql)
	if err != nil {
		return err
	}
	t, ok := s.tables[table]
	if !ok {
		return fmt.Errorf("no such table: %s", table)
	}
	if len(values) != len(t.columns) {
		return fmt.Errorf("table %s has %d columns but %d values were supplied", table, len(t.columns), len(values))
	}
	t.rows = append(t.rows, values)
	return nil
}

func (s *memStore) RevertSavepoint(ctx context.Context, name string) error {
	s.ops = append(s.ops, "revert "+name)
	if s.failRevert != nil {
		return s.failRevert
	}
	s.tables = s.snapshot
	s.order = s.snapOrder
	s.open = ""
	return nil
}

func (s *memStore) ReleaseSavepoint(ctx context.Context, name string) error {
	s.ops = append(s.ops, "release "+name)
	if s.failRelease != nil {
		return s.failRelease
	}
	s.open = ""
	return nil
}

func (s *memStore) QuoteIdentifier(name string) string {
	return "`" + name + "`"
}

func (s *memStore) QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// dump renders all tables for before/after comparisons.
func (s *memStore) dump() string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		t := s.tables[name]
		fmt.Fprintf(&b, "%s(%s)\n", name, strings.Join(t.columns, ","))
		for _, r := range t.rows {
			fmt.Fprintf(&b, "  %q\n", r)
		}
	}
	return b.String()
}

// countOps returns how many recorded ops start with prefix.
func (s *memStore) countOps(prefix string) int {
	n := 0
	for _, op := range s.ops {
		if strings.HasPrefix(op, prefix) {
			n++
		}
	}
	return n
}

func cloneTables(in map[string]*memTable) map[string]*memTable {
	out := make(map[string]*memTable, len(in))
	for name, t := range in {
		rows := make([][]string, len(t.rows))
		for i, r := range t.rows {
			rows[i] = append([]string(nil), r...)
		}
		out[name] = &memTable{columns: append([]string(nil), t.columns...), rows: rows}
	}
	return out
}

// parseInsert decodes the statements built by InsertStatement with memStore quoting.
func parseInsert(sql string) (string, []string, error) {
	const prefix = "INSERT INTO `"
	if !strings.HasPrefix(sql, prefix) {
		return "", nil, fmt.Errorf("unexpected statement: %s", sql)
	}
	rest := sql[len(prefix):]
	end := strings.Index(rest, "` VALUES(")
	if end < 0 {
		return "", nil, fmt.Errorf("unexpected statement: %s", sql)
	}
	table := rest[:end]
	body := rest[end+len("` VALUES("):]
	if !strings.HasSuffix(body, ")") {
		return "", nil, fmt.Errorf("unterminated VALUES: %s", sql)
	}
	body = body[:len(body)-1]

	var values []string
	for len(body) > 0 {
		if body[0] != '\'' {
			return "", nil, fmt.Errorf("expected literal at %q", body)
		}
		var v strings.Builder
		i := 1
		for {
			if i >= len(body) {
				return "", nil, fmt.Errorf("unterminated literal in %s", sql)
			}
			if body[i] == '\'' {
				if i+1 < len(body) && body[i+1] == '\'' {
					v.WriteByte('\'')
					i += 2
					continue
				}
				i++
				break
			}
			v.WriteByte(body[i])
			i++
		}
		values = append(values, v.String())
		body = body[i:]
		if strings.HasPrefix(body, ",") {
			body = body[1:]
		}
	}
	return table, values, nil
}
