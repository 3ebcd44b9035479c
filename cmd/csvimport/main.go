// Command csvimport loads one CSV file into a database table.
//
//	csvimport -t people -H --db imports.db --driver sqlite people.csv
//	csvimport --preview 10 -d ';' -e windows-1252 export.csv.gz
//
// The import is all or nothing: on any failure, or on Ctrl-C, the table is
// left as it was. Results go to stdout, progress and logs to stderr.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
	"github.com/JonMunkholm/csvimport/internal/logging"
	"github.com/JonMunkholm/csvimport/internal/store"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailed    = 1
	exitUsage     = 2
	exitCancelled = 130
)

var (
	table        string
	header       bool
	delimiter    string
	quote        string
	encoding     string
	trim         bool
	profile      string
	profilesPath string
	appendOK     bool
	previewRows  int
	driver       string
	dbURL        string
	verbose      bool
)

func cmdLineParse() {
	pflag.StringVarP(&table, "table", "t", "", "target table name")
	pflag.BoolVarP(&header, "header", "H", false, "use the first row as column names")
	pflag.StringVarP(&delimiter, "delimiter", "d", ",", `field delimiter; "tab" or "none" accepted`)
	pflag.StringVarP(&quote, "quote", "q", `"`, `quote character; "none" disables quoting`)
	pflag.StringVarP(&encoding, "encoding", "e", "UTF-8", "input text encoding")
	pflag.BoolVar(&trim, "trim", true, "trim whitespace around unquoted fields")
	pflag.StringVarP(&profile, "profile", "p", "", "named dialect profile")
	pflag.StringVar(&profilesPath, "profiles", "", "YAML file of dialect profiles (default $IMPORT_PROFILES_FILE)")
	pflag.BoolVarP(&appendOK, "append", "a", false, "append to the table if it already exists")
	pflag.IntVar(&previewRows, "preview", 0, "print the first N rows instead of importing")
	pflag.StringVar(&driver, "driver", "", "database driver: postgres or sqlite (default $DB_DRIVER)")
	pflag.StringVar(&dbURL, "db", "", "database URL or SQLite path (default $DATABASE_URL)")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: csvimport [flags] FILE\n\nFILE may be - for stdin, and may be gzip, bzip2 or xz compressed.\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()
}

func main() {
	os.Exit(run())
}

func run() int {
	cmdLineParse()

	// Existing environment variables win over .env for a command-line tool.
	_ = godotenv.Load()

	if pflag.NArg() != 1 {
		pflag.Usage()
		return exitUsage
	}
	if previewRows == 0 && table == "" {
		fmt.Fprintln(os.Stderr, "csvimport: --table is required")
		return exitUsage
	}

	overrides := map[string]string{
		"DB_DRIVER":            driver,
		"DATABASE_URL":         dbURL,
		"IMPORT_PROFILES_FILE": profilesPath,
	}
	if previewRows > 0 && dbURL == "" && os.Getenv("DATABASE_URL") == "" && os.Getenv("DB_URL") == "" {
		// Preview never opens the store.
		overrides["DB_DRIVER"], overrides["DATABASE_URL"] = "sqlite", ":memory:"
	}
	cfg, err := config.LoadWith(overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "csvimport: %v\n", err)
		return exitUsage
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	slog.SetDefault(logging.New(os.Stderr, level, cfg.Logging.Format))

	d, useHeader, err := dialectFromFlags(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "csvimport: %s\n", core.FormatUserError(err))
		slog.Debug("dialect rejected", "error", err)
		return exitUsage
	}

	in, size, err := openInput(pflag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "csvimport: %v\n", err)
		return exitFailed
	}
	defer in.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if previewRows > 0 {
		return preview(ctx, cfg, in, size, d, useHeader)
	}
	return importFile(ctx, cfg, in, size, d, useHeader)
}

// dialectFromFlags layers the configured default dialect, the named profile
// and any dialect flags given explicitly.
func dialectFromFlags(cfg *config.Config) (core.Dialect, bool, error) {
	base := cfg.Dialect
	if profile != "" {
		profiles, err := config.LoadProfiles(cfg.Import.ProfilesFile)
		if err != nil {
			return core.Dialect{}, false, err
		}
		prof, ok := profiles.Get(profile)
		if !ok {
			return core.Dialect{}, false, &core.PreconditionError{
				Field:  "profile",
				Reason: fmt.Sprintf("unknown profile %q (have %s)", profile, strings.Join(profiles.Names(), ", ")),
			}
		}
		base = prof.Apply(base)
	}

	var override config.Profile
	flags := pflag.CommandLine
	if flags.Changed("delimiter") {
		override.Delimiter = delimiter
	}
	if flags.Changed("quote") {
		override.Quote = quote
	}
	if flags.Changed("encoding") {
		override.Encoding = encoding
	}
	if flags.Changed("trim") {
		override.TrimFields = &trim
	}
	if flags.Changed("header") {
		override.Header = &header
	}
	base = override.Apply(base)

	d, err := core.ParseDialect(base.Delimiter, base.Quote, base.TrimFields, base.Encoding)
	return d, base.Header, err
}

// openInput opens path, or stdin for "-", and returns its size when known.
func openInput(path string) (io.ReadCloser, int64, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), 0, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	var size int64
	if fi, err := f.Stat(); err == nil && fi.Mode().IsRegular() {
		size = fi.Size()
	}
	return f, size, nil
}

func preview(ctx context.Context, cfg *config.Config, in io.Reader, size int64, d core.Dialect, useHeader bool) int {
	svc, err := core.NewService(nil, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "csvimport: %v\n", err)
		return exitFailed
	}

	result, err := svc.Preview(ctx, in, size, d, useHeader, previewRows)
	if err != nil {
		fmt.Fprintf(os.Stderr, "csvimport: %s\n", core.FormatUserError(err))
		slog.Debug("preview failed", "error", err)
		return exitFailed
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(result.Columns, "\t"))
	for _, row := range result.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
	return exitOK
}

func importFile(ctx context.Context, cfg *config.Config, in io.Reader, size int64, d core.Dialect, useHeader bool) int {
	db, err := store.Open(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "csvimport: %v\n", err)
		return exitFailed
	}
	defer db.Close()

	svc, err := core.NewService(db, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "csvimport: %v\n", err)
		return exitFailed
	}

	id := uuid.New().String()
	tracker := core.NewTracker(id, table, size)

	stopProgress := func() {}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		stopProgress = startProgress(tracker)
	}

	result, err := svc.Import(ctx, core.ImportRequest{
		ImportID:      id,
		Table:         table,
		Dialect:       d,
		Header:        useHeader,
		Input:         in,
		Size:          size,
		ConfirmAppend: confirmAppend,
		ReadProgress:  tracker.ReadSink(),
		ApplyProgress: tracker.ApplySink(),
	})
	stopProgress()

	switch {
	case err == nil:
		fmt.Printf("imported %d rows into %s (%s) in %s\n",
			result.Outcome.RowsApplied, result.Table, result.Mode, result.Duration.Round(time.Millisecond))
		return exitOK
	case errors.Is(err, core.ErrCancelled):
		fmt.Fprintln(os.Stderr, "csvimport: cancelled, nothing was written")
		return exitCancelled
	default:
		fmt.Fprintf(os.Stderr, "csvimport: %s\n", core.FormatUserError(err))
		fmt.Fprintf(os.Stderr, "  details: %v\n", err)
		return exitFailed
	}
}

// confirmAppend allows appending when --append was given, and otherwise
// asks on the terminal if there is one.
func confirmAppend(existing core.ExistingTable) bool {
	if appendOK {
		return true
	}
	if pflag.Arg(0) == "-" || !isatty.IsTerminal(os.Stdin.Fd()) {
		fmt.Fprintf(os.Stderr, "csvimport: table %s already exists; pass --append to add rows to it\n", existing.Name)
		return false
	}

	fmt.Fprintf(os.Stderr, "Table %s already exists with %d columns. Append? [y/N] ", existing.Name, existing.ColumnCount)
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// startProgress redraws one status line on stderr while rows are applied.
// The returned func stops it and clears the line.
func startProgress(tracker *core.Tracker) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				fmt.Fprint(os.Stderr, "\r\033[K")
				return
			case <-ticker.C:
				p := tracker.Snapshot()
				// The append prompt may be waiting for an answer until then.
				if p.Phase != core.PhaseApplying {
					continue
				}
				if p.BytesTotal > 0 {
					fmt.Fprintf(os.Stderr, "\r\033[K%d%% read, %d rows applied", p.Percent(), p.RowsApplied)
				} else {
					fmt.Fprintf(os.Stderr, "\r\033[K%d bytes read, %d rows applied", p.BytesRead, p.RowsApplied)
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}
