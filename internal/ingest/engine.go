// Package ingest drives the two-pass pipeline: profile every raw document
// into a corpus-wide schema, then replay the documents as rows into an
// output store. Both passes stream from the raw store and fan out across a
// worker pool; profile merging is order-independent, so the derived schema
// does not depend on worker count.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"runtime"
	"strconv"
	"sync"
	"time"

	"jsonsql/internal/metrics"
	"jsonsql/internal/normalize"
	"jsonsql/internal/profile"
	"jsonsql/internal/rawstore"
	"jsonsql/internal/sqlgen"
	"jsonsql/internal/storage"
	"jsonsql/internal/tables"
)

// DefaultBatchSize caps how many rows ride in one insert call when the
// options do not say otherwise.
const DefaultBatchSize = 500

// Logger is the minimal logging interface used by the engine.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Source yields raw documents. *rawstore.Store satisfies this interface;
// tests inject deterministic fakes.
type Source interface {
	Stream(ctx context.Context, r rawstore.Range, fn func(rawstore.Document) error) error
}

// Options carry everything a run needs beyond the engine's wiring.
type Options struct {
	// Normalize rules applied to every decoded document.
	Normalize normalize.Options

	// Tables controls schema derivation (root name, linkage, minimal mode,
	// timestamp column).
	Tables tables.Options

	// SQL controls typing for DDL and row coercion.
	SQL sqlgen.Options

	// Range restricts both passes to documents captured within it.
	Range rawstore.Range

	// SkipExistingDates consults the output store's distinct capture dates
	// and skips loading documents from dates already present. Requires a
	// timestamp column; without one there is nothing to compare.
	SkipExistingDates bool

	// Workers is the worker count per phase. <= 0 means one per CPU.
	Workers int

	// BatchSize caps buffered rows before a flush. <= 0 means
	// DefaultBatchSize.
	BatchSize int
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (o Options) batchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return DefaultBatchSize
}

// Report summarizes what a run saw and wrote.
type Report struct {
	// DocsSeen counts documents pulled from the raw store.
	DocsSeen int64

	// Malformed counts documents whose body would not decode into an
	// object or that the normalizer rejected.
	Malformed int64

	// Invalid counts documents dropped for a missing required value.
	Invalid int64

	// Skipped counts documents bypassed by date-based skipping.
	Skipped int64

	// Loaded counts documents whose rows reached the output store.
	Loaded int64

	// RowsByTable counts rows the output store reported written.
	RowsByTable map[string]int64

	// Conflicts counts tree positions observed with more than one
	// structural shape.
	Conflicts int

	// AnalyzeDuration and LoadDuration time the two phases.
	AnalyzeDuration time.Duration
	LoadDuration    time.Duration
}

// Engine wires a raw document source to an output store.
type Engine struct {
	Source Source
	Output storage.Output
	Logger Logger
}

func (e *Engine) logf() func(format string, v ...any) {
	if e.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return e.Logger.Printf
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

// Run executes the full pipeline: profile the corpus, derive the table
// plan, create the tables, load the rows. It returns the plan alongside the
// combined report so callers can print the schema that was produced.
func (e *Engine) Run(ctx context.Context, opts Options) (*tables.Plan, *Report, error) {
	if e.Output == nil {
		return nil, nil, fmt.Errorf("ingest: Output is required")
	}

	agg, arep, err := e.Analyze(ctx, opts)
	if err != nil {
		return nil, arep, err
	}
	if agg.Docs == 0 {
		return nil, arep, fmt.Errorf("ingest: no documents in range")
	}

	plan, err := tables.Split(agg.Root, agg.Docs, opts.Tables)
	if err != nil {
		return nil, arep, fmt.Errorf("derive schema: %w", err)
	}

	logf := e.logf()
	ddlStart := time.Now()
	if err := e.Output.EnsureTables(ctx, plan, opts.SQL); err != nil {
		return plan, arep, fmt.Errorf("ensure tables: %w", err)
	}
	logf("stage=ddl ok tables=%d duration=%s", len(sqlgen.EmitOrder(plan)), durMS(ddlStart))

	lrep, err := e.Load(ctx, plan, opts)
	lrep.Conflicts = arep.Conflicts
	lrep.AnalyzeDuration = arep.AnalyzeDuration
	return plan, lrep, err
}

// Analyze streams the corpus once and folds every document into a schema
// profile. Documents that do not decode into an object are counted, logged
// and skipped; they never fail the pass.
func (e *Engine) Analyze(ctx context.Context, opts Options) (agg *profile.Aggregate, rep *Report, err error) {
	if e.Source == nil {
		return nil, nil, fmt.Errorf("ingest: Source is required")
	}

	logf := e.logf()
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.ObservePhase("analyze", status, time.Since(start))
	}()

	workers := opts.workers()

	// Each worker profiles into its own aggregate; merge associativity makes
	// the fold order irrelevant.
	type partial struct {
		agg       profile.Aggregate
		docs      int64
		malformed int64
	}
	parts := make([]partial, workers)
	docCh := make(chan rawstore.Document, workers*2)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(p *partial) {
			defer wg.Done()
			for doc := range docCh {
				p.docs++
				obj, derr := decodeNormalized(doc, opts)
				if derr != nil {
					p.malformed++
					logf("stage=analyze doc=%d skip=%v", doc.ID, derr)
					metrics.RecordDocument("analyze", "malformed")
					continue
				}
				if aerr := p.agg.Add(obj); aerr != nil {
					p.malformed++
					logf("stage=analyze doc=%d skip=%v", doc.ID, aerr)
					metrics.RecordDocument("analyze", "malformed")
					continue
				}
				metrics.RecordDocument("analyze", "ok")
			}
		}(&parts[w])
	}

	streamErr := e.Source.Stream(ctx, opts.Range, func(doc rawstore.Document) error {
		select {
		case docCh <- doc:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	close(docCh)
	wg.Wait()

	agg = &profile.Aggregate{}
	rep = &Report{RowsByTable: make(map[string]int64)}
	for i := range parts {
		rep.DocsSeen += parts[i].docs
		rep.Malformed += parts[i].malformed
		agg.Combine(&parts[i].agg)
	}
	rep.AnalyzeDuration = durMS(start)

	if streamErr != nil {
		return nil, rep, fmt.Errorf("scan raw store: %w", streamErr)
	}
	if agg.Root != nil {
		rep.Conflicts = len(agg.Root.Conflicts())
	}

	logf("stage=analyze docs=%d malformed=%d conflicts=%d duration=%s",
		rep.DocsSeen, rep.Malformed, rep.Conflicts, rep.AnalyzeDuration)
	return agg, rep, nil
}

// Load streams the corpus again and writes each document's rows through the
// output store. Malformed documents and documents failing required-column
// validation are counted and dropped; storage errors abort the pass.
func (e *Engine) Load(ctx context.Context, plan *tables.Plan, opts Options) (rep *Report, err error) {
	if e.Source == nil {
		return nil, fmt.Errorf("ingest: Source is required")
	}
	if e.Output == nil {
		return nil, fmt.Errorf("ingest: Output is required")
	}

	logf := e.logf()
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.ObservePhase("load", status, time.Since(start))
	}()

	var skipDates map[string]bool
	if opts.SkipExistingDates && plan.Timestamp != "" {
		dates, derr := e.Output.DistinctDates(ctx, plan.Root.Name, plan.Timestamp)
		if derr != nil {
			return nil, fmt.Errorf("existing dates: %w", derr)
		}
		skipDates = make(map[string]bool, len(dates))
		for _, d := range dates {
			skipDates[d] = true
		}
		logf("stage=load existing_dates=%d", len(dates))
	}

	workers := opts.workers()
	batchSize := opts.batchSize()

	// Cancellation model: any worker error cancels the derived context with
	// a cause; the producer stops early and the remaining queue drains.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	errCh := make(chan error, 1)
	setErr := func(err error) {
		if err == nil {
			return
		}
		select {
		case errCh <- err:
			cancel(err)
		default:
			// First error wins.
		}
	}

	type partial struct {
		docs      int64
		malformed int64
		invalid   int64
		skipped   int64
		loaded    int64
		rows      map[string]int64
	}
	parts := make([]partial, workers)
	docCh := make(chan rawstore.Document, workers*2)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(p *partial) {
			defer wg.Done()
			p.rows = make(map[string]int64)
			buf := newRowBuffer(e.Output, plan)

			for doc := range docCh {
				select {
				case <-ctx.Done():
					continue
				default:
				}

				p.docs++
				if skipDates != nil && skipDates[doc.LastUpdated.UTC().Format("2006-01-02")] {
					p.skipped++
					metrics.RecordDocument("load", "skipped")
					continue
				}

				obj, derr := decodeNormalized(doc, opts)
				if derr != nil {
					p.malformed++
					logf("stage=load doc=%d skip=%v", doc.ID, derr)
					metrics.RecordDocument("load", "malformed")
					continue
				}

				ts := doc.LastUpdated.UTC().Format(time.RFC3339Nano)
				batches, berr := sqlgen.EmitDocument(strconv.FormatInt(doc.ID, 10), obj, plan, ts, opts.SQL)
				if berr != nil {
					var verr *sqlgen.ValidationError
					if errors.As(berr, &verr) {
						p.invalid++
						logf("stage=load doc=%d drop=%v", doc.ID, berr)
						metrics.RecordDocument("load", "invalid")
						continue
					}
					setErr(berr)
					continue
				}

				buf.add(batches)
				if buf.pending >= batchSize {
					if ferr := buf.flush(ctx, p.rows); ferr != nil {
						setErr(ferr)
						continue
					}
				}
				p.loaded++
				metrics.RecordDocument("load", "ok")
			}

			if ferr := buf.flush(ctx, p.rows); ferr != nil {
				setErr(ferr)
			}
		}(&parts[w])
	}

	streamErr := e.Source.Stream(ctx, opts.Range, func(doc rawstore.Document) error {
		select {
		case docCh <- doc:
			return nil
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	})
	close(docCh)
	wg.Wait()

	rep = &Report{RowsByTable: make(map[string]int64)}
	for i := range parts {
		rep.DocsSeen += parts[i].docs
		rep.Malformed += parts[i].malformed
		rep.Invalid += parts[i].invalid
		rep.Skipped += parts[i].skipped
		rep.Loaded += parts[i].loaded
		for t, n := range parts[i].rows {
			rep.RowsByTable[t] += n
		}
	}
	rep.LoadDuration = durMS(start)

	// A worker error explains everything downstream of it, including the
	// producer's aborted stream; surface it first.
	select {
	case werr := <-errCh:
		return rep, werr
	default:
	}
	if streamErr != nil {
		return rep, fmt.Errorf("scan raw store: %w", streamErr)
	}

	logf("stage=load docs=%d loaded=%d malformed=%d invalid=%d skipped=%d workers=%d duration=%s",
		rep.DocsSeen, rep.Loaded, rep.Malformed, rep.Invalid, rep.Skipped, workers, rep.LoadDuration)
	return rep, nil
}

// decodeNormalized decodes a raw document body and applies the normalize
// rules. The returned map is what the profiler and row splitter consume.
func decodeNormalized(doc rawstore.Document, opts Options) (map[string]any, error) {
	obj, err := doc.DecodeBody()
	if err != nil {
		return nil, err
	}
	norm, err := normalize.Normalize(obj, opts.Normalize)
	if err != nil {
		return nil, fmt.Errorf("document %d: %w", doc.ID, err)
	}
	m, ok := norm.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document %d: root is %T, want object", doc.ID, norm)
	}
	return m, nil
}

// rowBuffer accumulates emitted rows per table and flushes them in the
// plan's insert order, parents before children under foreign keys. A child
// row is always buffered after its parent by the same worker, so flushing
// in order keeps every REFERENCES target visible before its referrers.
type rowBuffer struct {
	out     storage.Output
	order   []*tables.Table
	columns map[string][]string
	rows    map[string][][]any
	pending int
}

func newRowBuffer(out storage.Output, p *tables.Plan) *rowBuffer {
	return &rowBuffer{
		out:     out,
		order:   sqlgen.EmitOrder(p),
		columns: make(map[string][]string),
		rows:    make(map[string][][]any),
	}
}

func (b *rowBuffer) add(batches []sqlgen.TableBatch) {
	for _, tb := range batches {
		if len(tb.Rows) == 0 {
			continue
		}
		if _, ok := b.columns[tb.Table.Name]; !ok {
			b.columns[tb.Table.Name] = tb.Columns
		}
		b.rows[tb.Table.Name] = append(b.rows[tb.Table.Name], tb.Rows...)
		b.pending += len(tb.Rows)
	}
}

func (b *rowBuffer) flush(ctx context.Context, counts map[string]int64) error {
	if b.pending == 0 {
		return nil
	}
	for _, t := range b.order {
		rows := b.rows[t.Name]
		if len(rows) == 0 {
			continue
		}
		n, err := b.out.InsertRows(ctx, t, b.columns[t.Name], rows)
		if err != nil {
			return fmt.Errorf("insert %s: %w", t.Name, err)
		}
		counts[t.Name] += n
		metrics.RecordRows(t.Name, n)
		b.rows[t.Name] = nil
	}
	b.pending = 0
	metrics.RecordBatch()
	return nil
}
