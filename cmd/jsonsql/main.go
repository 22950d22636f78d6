// Command jsonsql derives a relational schema from a corpus of raw listing
// documents and, on request, loads the corpus into an output store.
//
// Modes (pick exactly one):
//
//	-analyze    print the inferred schema and its shape conflicts as JSON
//	-print-sql  print the CREATE TABLE statements, no writes
//	-convert    create the tables in the output store and load every row
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"jsonsql/internal/config"
	"jsonsql/internal/ingest"
	"jsonsql/internal/metrics"
	"jsonsql/internal/metrics/datadog"
	"jsonsql/internal/profile"
	"jsonsql/internal/rawstore"
	"jsonsql/internal/sqlgen"
	"jsonsql/internal/storage"
	"jsonsql/internal/tables"

	// register all backends with the storage factory.
	// config picks which one to use but support for all of them is built in.
	_ "jsonsql/internal/storage/all"
)

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultDeps()))
}

// appDeps are the side-effecting seams of the CLI, injectable so tests can
// drive runMain end to end without files, databases or a metrics account.
type appDeps struct {
	loadConfig  func(path string) (config.Config, error)
	openSource  func(ctx context.Context, paths []string, skipDates map[string]bool, logf logFunc) (ingest.Source, func(), error)
	openOutput  func(ctx context.Context, cfg storage.Config) (storage.Output, error)
	initMetrics func(ctx context.Context, backend, tagsCSV string, logf logFunc) (func(), error)
}

type logFunc func(format string, v ...any)

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  loadConfig,
		openSource:  openRawSource,
		openOutput:  storage.New,
		initMetrics: initMetrics,
	}
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("jsonsql", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		rawList  = fs.String("raw", "", "raw store file(s), comma separated")
		cfgPath  = fs.String("config", "", "config JSON path (defaults apply when empty)")
		analyze  = fs.Bool("analyze", false, "print the inferred schema as JSON and exit")
		printSQL = fs.Bool("print-sql", false, "print the DDL and exit, no writes")
		convert  = fs.Bool("convert", false, "create tables in the output store and load all rows")

		outDSN       = fs.String("o", "", "output store DSN (a file path for sqlite)")
		kind         = fs.String("kind", "", "output backend: sqlite, postgres or mssql")
		minimal      = fs.Bool("minimal", false, "restrict output to the configured minimal columns and tables")
		fromDate     = fs.String("from", "", "only documents captured on or after this date (YYYY-MM-DD)")
		toDate       = fs.String("to", "", "only documents captured on or before this date (YYYY-MM-DD)")
		skipExisting = fs.Bool("skip-existing-dates", false, "skip documents whose capture date the output store already holds")

		rootName   = fs.String("root", "", "root table name")
		linkMode   = fs.String("link-mode", "", "table linkage: embedded or fk")
		inferTypes = fs.Bool("infer-types", false, "infer INTEGER/REAL column types from observed values")
		workers    = fs.Int("workers", 0, "worker count per phase (0 = one per CPU)")

		metricsBackend = fs.String("metrics", "", "metrics backend: datadog or none")
		metricsTags    = fs.String("metrics-tags", "", "extra metrics tags as CSV, e.g. env:prod,team:data")
		verbose        = fs.Bool("v", false, "enable stage logs")
	)

	if err := fs.Parse(args); err != nil {
		// flag already printed the problem and the usage text.
		return 2
	}

	paths := splitRawPaths(*rawList)
	if len(paths) == 0 {
		fmt.Fprintln(stderr, "usage: jsonsql -raw listings.db (-analyze | -print-sql | -convert) [flags]")
		return 2
	}
	mode, ok := pickMode(*analyze, *printSQL, *convert)
	if !ok {
		fmt.Fprintln(stderr, "usage: jsonsql -raw listings.db (-analyze | -print-sql | -convert) [flags]")
		return 2
	}

	cfg, err := deps.loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	// Flags set on the command line override the config file.
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["o"] {
		cfg.Storage.DSN = *outDSN
	}
	if set["kind"] {
		cfg.Storage.Kind = *kind
	}
	if set["root"] {
		cfg.Schema.RootTable = *rootName
	}
	if set["link-mode"] {
		cfg.Schema.LinkMode = *linkMode
	}
	if set["infer-types"] {
		cfg.Schema.InferTypes = *inferTypes
	}
	if set["workers"] {
		cfg.Runtime.Workers = *workers
	}
	if set["metrics"] {
		cfg.Metrics.Backend = *metricsBackend
	}
	if set["metrics-tags"] {
		cfg.Metrics.Tags = *metricsTags
	}

	hasError := false
	for _, iss := range config.Validate(cfg) {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Field, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		return 1
	}
	if mode == modeConvert && cfg.Storage.DSN == "" {
		fmt.Fprintln(stderr, "usage: jsonsql -convert needs an output store (-o or storage.dsn in the config)")
		return 2
	}

	rng, err := parseRange(*fromDate, *toDate)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}

	logf := func(string, ...any) {}
	var logger ingest.Logger
	if *verbose {
		l := log.New(stderr, "", log.LstdFlags)
		logger = l
		logf = l.Printf
	}

	cleanup, err := deps.initMetrics(ctx, cfg.Metrics.Backend, cfg.Metrics.Tags, logf)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	opts := ingest.Options{
		Normalize:         cfg.ToNormalizeOptions(),
		Tables:            cfg.ToTableOptions(*minimal),
		SQL:               cfg.ToSQLOptions(),
		Range:             rng,
		SkipExistingDates: *skipExisting,
		Workers:           cfg.Runtime.Workers,
		BatchSize:         cfg.Runtime.BatchSize,
	}

	// -convert opens the output first so snapshot files whose date it
	// already holds can be skipped before they are merged and profiled.
	var out storage.Output
	var mergeSkip map[string]bool
	if mode == modeConvert {
		out, err = deps.openOutput(ctx, cfg.ToStorageConfig())
		if err != nil {
			fmt.Fprintf(stderr, "open output: %v\n", err)
			return 1
		}
		defer out.Close()

		if *skipExisting {
			dates, derr := out.DistinctDates(ctx, cfg.Schema.RootTable, cfg.Schema.TimestampColumn)
			if derr != nil {
				// First run against a fresh store; nothing to skip.
				logf("stage=merge existing dates unavailable: %v", derr)
			} else if len(dates) > 0 {
				mergeSkip = make(map[string]bool, len(dates))
				for _, d := range dates {
					mergeSkip[d] = true
				}
			}
		}
	}

	src, closeSrc, err := deps.openSource(ctx, paths, mergeSkip, logf)
	if err != nil {
		fmt.Fprintf(stderr, "open raw store: %v\n", err)
		return 1
	}
	defer closeSrc()

	e := &ingest.Engine{Source: src, Output: out, Logger: logger}
	start := time.Now()

	switch mode {
	case modeAnalyze:
		if err := runAnalyze(ctx, e, opts, stdout); err != nil {
			fmt.Fprintf(stderr, "analyze: %v\n", err)
			return 1
		}
	case modePrintSQL:
		if err := runPrintSQL(ctx, e, opts, stdout); err != nil {
			fmt.Fprintf(stderr, "print-sql: %v\n", err)
			return 1
		}
	case modeConvert:
		_, rep, err := e.Run(ctx, opts)
		if err != nil {
			fmt.Fprintf(stderr, "run: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "ok docs=%d loaded=%d malformed=%d invalid=%d skipped=%d conflicts=%d\n",
			rep.DocsSeen, rep.Loaded, rep.Malformed, rep.Invalid, rep.Skipped, rep.Conflicts)
	}

	logf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	return 0
}

const (
	modeAnalyze  = "analyze"
	modePrintSQL = "print-sql"
	modeConvert  = "convert"
)

func pickMode(analyze, printSQL, convert bool) (string, bool) {
	var modes []string
	if analyze {
		modes = append(modes, modeAnalyze)
	}
	if printSQL {
		modes = append(modes, modePrintSQL)
	}
	if convert {
		modes = append(modes, modeConvert)
	}
	if len(modes) != 1 {
		return "", false
	}
	return modes[0], true
}

func splitRawPaths(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseRange turns inclusive -from/-to dates into the store's half-open
// range: -to 2026-08-25 means "through the end of the 25th".
func parseRange(from, to string) (rawstore.Range, error) {
	var r rawstore.Range
	if from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return r, fmt.Errorf("parse -from: %v", err)
		}
		r.From = t
	}
	if to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return r, fmt.Errorf("parse -to: %v", err)
		}
		r.To = t.AddDate(0, 0, 1)
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return r, fmt.Errorf("-to %s is before -from %s", to, from)
	}
	return r, nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// openRawSource opens one raw store directly, or merges several snapshot
// files into a scratch store first. Snapshot files whose filename date is
// in skipDates are left out of the merge entirely.
func openRawSource(ctx context.Context, paths []string, skipDates map[string]bool, logf logFunc) (ingest.Source, func(), error) {
	if len(paths) == 1 {
		st, err := rawstore.OpenReader(ctx, paths[0])
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	}

	tmp, err := os.CreateTemp("", "jsonsql-merge-*.db")
	if err != nil {
		return nil, nil, fmt.Errorf("scratch store: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	st, err := rawstore.Open(ctx, tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, nil, fmt.Errorf("scratch store: %w", err)
	}
	closeAll := func() {
		st.Close()
		os.Remove(tmpPath)
	}

	n, err := rawstore.Merge(ctx, st, paths, skipDates)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	logf("stage=merge files=%d docs=%d", len(paths), n)
	return st, closeAll, nil
}

// initMetrics wires the configured metrics backend and returns its
// shutdown function. The empty backend and "none" leave the nop backend in
// place; unknown names are reported rather than silently ignored.
func initMetrics(ctx context.Context, backend, tagsCSV string, logf logFunc) (func(), error) {
	switch backend {
	case "datadog":
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName: "jsonsql",
			Tags:    datadog.ParseTagsCSV(tagsCSV),
		})
		if err != nil {
			return nil, err
		}
		metrics.SetBackend(b)
		logf("metrics: backend=datadog tags=%q", tagsCSV)
		return func() {
			// Close stops the flush loop and submits the final buffer.
			if err := b.Close(); err != nil {
				logf("metrics: close: %v", err)
			}
			metrics.SetBackend(nil)
		}, nil
	case "", "none":
		return func() {}, nil
	default:
		// config.Validate already warned; run without metrics.
		logf("metrics: unknown backend %q; metrics disabled", backend)
		return func() {}, nil
	}
}

type tableReport struct {
	Name    string         `json:"name"`
	Path    string         `json:"path"`
	Columns []columnReport `json:"columns"`
}

type columnReport struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"not_null,omitempty"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
}

// runAnalyze prints the -analyze JSON document: corpus counts, every shape
// conflict, and the derived tables with their resolved column types.
func runAnalyze(ctx context.Context, e *ingest.Engine, opts ingest.Options, stdout io.Writer) error {
	agg, rep, err := e.Analyze(ctx, opts)
	if err != nil {
		return err
	}
	plan, err := tables.Split(agg.Root, agg.Docs, opts.Tables)
	if err != nil {
		return fmt.Errorf("derive schema: %w", err)
	}

	report := struct {
		Docs      int64              `json:"docs"`
		Malformed int64              `json:"malformed"`
		Conflicts []profile.Conflict `json:"conflicts"`
		Tables    []tableReport      `json:"tables"`
	}{
		Docs:      rep.DocsSeen,
		Malformed: rep.Malformed,
		Conflicts: []profile.Conflict{},
	}
	if agg.Root != nil {
		report.Conflicts = append(report.Conflicts, agg.Root.Conflicts()...)
	}
	for _, t := range sqlgen.EmitOrder(plan) {
		tr := tableReport{Name: t.Name, Path: t.Path}
		for i := range t.Columns {
			c := &t.Columns[i]
			tr.Columns = append(tr.Columns, columnReport{
				Name:       c.Name,
				Type:       string(sqlgen.ColumnType(plan, c, opts.SQL)),
				NotNull:    c.NotNull,
				PrimaryKey: c.PrimaryKey,
			})
		}
		report.Tables = append(report.Tables, tr)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runPrintSQL(ctx context.Context, e *ingest.Engine, opts ingest.Options, stdout io.Writer) error {
	agg, _, err := e.Analyze(ctx, opts)
	if err != nil {
		return err
	}
	plan, err := tables.Split(agg.Root, agg.Docs, opts.Tables)
	if err != nil {
		return fmt.Errorf("derive schema: %w", err)
	}
	for _, stmt := range sqlgen.Statements(plan, opts.SQL) {
		fmt.Fprintln(stdout, stmt)
	}
	return nil
}
