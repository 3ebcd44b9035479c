package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newService(t *testing.T, s *Store) *core.Service {
	t.Helper()
	svc, err := core.NewService(s, &config.Config{
		Import:  config.ImportConfig{MaxConcurrent: 1, MaxWaitTime: time.Second, PreviewRows: 20},
		Dialect: config.DialectConfig{Delimiter: ",", Quote: `"`, TrimFields: true, Encoding: "UTF-8"},
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

// query returns every row of q as strings.
func query(t *testing.T, s *Store, q string) [][]string {
	t.Helper()
	rows, err := s.conn.QueryContext(context.Background(), q)
	if err != nil {
		t.Fatalf("query %q: %v", q, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	var out [][]string
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			t.Fatalf("scan: %v", err)
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			row[i] = v.String
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	return out
}

func flatten(rows [][]string) string {
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = strings.Join(r, "|")
	}
	return strings.Join(lines, "\n")
}

func TestCreateTableSQL(t *testing.T) {
	got := CreateTableSQL("people", []core.ColumnSpec{{Name: "name"}, {Name: "age"}})
	if want := "CREATE TABLE `people`(`name`,`age`)"; got != want {
		t.Errorf("CreateTableSQL() = %q, want %q", got, want)
	}
}

func TestImport_PeopleWithHeader(t *testing.T) {
	s := openMemory(t)
	svc := newService(t, s)

	res, err := svc.Import(context.Background(), core.ImportRequest{
		Table:   "people",
		Dialect: svc.DefaultDialect(),
		Header:  true,
		Input:   strings.NewReader("name,age\nann,31\nbob,42\n"),
	})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if !res.Outcome.Committed || res.Outcome.RowsApplied != 2 {
		t.Errorf("outcome = %+v", res.Outcome)
	}

	if got := flatten(query(t, s, "SELECT name, age FROM people ORDER BY rowid")); got != "ann|31\nbob|42" {
		t.Errorf("rows = %q", got)
	}

	tables, err := s.ExistingTables(context.Background())
	if err != nil {
		t.Fatalf("ExistingTables() error = %v", err)
	}
	if len(tables) != 1 || tables[0] != (core.ExistingTable{Name: "people", ColumnCount: 2}) {
		t.Errorf("ExistingTables() = %+v", tables)
	}
}

func TestImport_ValuesRoundTrip(t *testing.T) {
	s := openMemory(t)
	svc := newService(t, s)

	input := "\"O'Brien\",\"a,b\",NULL,\"two\nlines\",C:\\path,ünï\n"
	_, err := svc.Import(context.Background(), core.ImportRequest{
		Table:   "odd values",
		Dialect: svc.DefaultDialect(),
		Input:   strings.NewReader(input),
	})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	rows := query(t, s, "SELECT field1, field2, field3, typeof(field3), field4, field5, field6 FROM `odd values`")
	want := []string{"O'Brien", "a,b", "NULL", "text", "two\nlines", `C:\path`, "ünï"}
	if len(rows) != 1 || strings.Join(rows[0], "|") != strings.Join(want, "|") {
		t.Errorf("rows = %q, want %q", rows, want)
	}
}

func TestImport_FailedRowRevertsEverything(t *testing.T) {
	s := openMemory(t)
	svc := newService(t, s)
	ctx := context.Background()

	// Seed an existing table that must survive the failed append untouched.
	if _, err := svc.Import(ctx, core.ImportRequest{
		Table:   "people",
		Dialect: svc.DefaultDialect(),
		Input:   strings.NewReader("ann,31\n"),
	}); err != nil {
		t.Fatalf("seed Import() error = %v", err)
	}

	tests := []struct {
		name  string
		table string
		input string
	}{
		{"new table, short third row", "fresh", "a,b\nc,d\ne\n"},
		{"append, short second row", "people", "bob,42\ncy\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Import(ctx, core.ImportRequest{
				Table:         tt.table,
				Dialect:       svc.DefaultDialect(),
				Input:         strings.NewReader(tt.input),
				ConfirmAppend: func(core.ExistingTable) bool { return true },
			})

			var se *core.StoreError
			if !errors.As(err, &se) || se.Stage != core.StageInsert {
				t.Fatalf("Import() error = %v, want insert failure", err)
			}
			if !strings.Contains(res.Outcome.FailureReason, "values") {
				t.Errorf("FailureReason = %q, want the driver's diagnostic", res.Outcome.FailureReason)
			}

			tables, err := s.ExistingTables(ctx)
			if err != nil {
				t.Fatalf("ExistingTables() error = %v", err)
			}
			if len(tables) != 1 || tables[0].Name != "people" {
				t.Errorf("tables after failure = %+v, want only people", tables)
			}
			if got := flatten(query(t, s, "SELECT * FROM people")); got != "ann|31" {
				t.Errorf("people = %q, want ann|31", got)
			}
		})
	}
}

func TestImport_CancelRevertsAndStoreStaysUsable(t *testing.T) {
	s := openMemory(t)
	svc := newService(t, s)
	ctx := context.Background()

	var input strings.Builder
	for i := 0; i < 100; i++ {
		input.WriteString("x,y\n")
	}

	_, err := svc.Import(ctx, core.ImportRequest{
		Table:         "big",
		Dialect:       svc.DefaultDialect(),
		Input:         strings.NewReader(input.String()),
		ApplyProgress: core.ProgressFunc(func(done int64) bool { return done < 40 }),
	})
	if !errors.Is(err, core.ErrCancelled) {
		t.Fatalf("Import() error = %v, want ErrCancelled", err)
	}
	if rows := query(t, s, "SELECT name FROM sqlite_master WHERE type='table'"); len(rows) != 0 {
		t.Errorf("tables after cancel = %v", rows)
	}

	// The next import on the same connection commits normally.
	res, err := svc.Import(ctx, core.ImportRequest{
		Table:   "big",
		Dialect: svc.DefaultDialect(),
		Input:   strings.NewReader(input.String()),
	})
	if err != nil {
		t.Fatalf("second Import() error = %v", err)
	}
	if res.Outcome.RowsApplied != 100 {
		t.Errorf("RowsApplied = %d, want 100", res.Outcome.RowsApplied)
	}
}

func TestImport_DuplicateHeaderRejectedByStore(t *testing.T) {
	s := openMemory(t)
	svc := newService(t, s)

	res, err := svc.Import(context.Background(), core.ImportRequest{
		Table:   "dup",
		Dialect: svc.DefaultDialect(),
		Header:  true,
		Input:   strings.NewReader("a b,ab\n1,2\n"),
	})

	var se *core.StoreError
	if !errors.As(err, &se) || se.Stage != core.StageCreateTable {
		t.Fatalf("Import() error = %v, want create table failure", err)
	}
	if !strings.Contains(res.Outcome.FailureReason, "duplicate column name") {
		t.Errorf("FailureReason = %q", res.Outcome.FailureReason)
	}
}

func TestSavepointMismatch(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	if err := s.ReleaseSavepoint(ctx, "nope"); !errors.Is(err, ErrNoSavepoint) {
		t.Errorf("ReleaseSavepoint() = %v, want ErrNoSavepoint", err)
	}
	if err := s.RevertSavepoint(ctx, "nope"); !errors.Is(err, ErrNoSavepoint) {
		t.Errorf("RevertSavepoint() = %v, want ErrNoSavepoint", err)
	}
}
