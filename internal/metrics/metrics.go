// Package metrics decouples pipeline instrumentation from any vendor client.
//
// Call sites record against a process-wide backend that defaults to a nop.
// Commands that want real metrics install a backend at startup via
// SetBackend; the ingest code in between stays vendor-free.
package metrics

import (
	"sync"
	"time"
)

// Labels carries metric dimensions. Backends pick the keys they understand.
type Labels map[string]string

// Backend receives recorded metrics. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer locally and submit in bulk.
type Flusher interface {
	Flush() error
}

// Metric names understood by the backends in this module.
const (
	// DocumentsTotal counts documents through a pipeline phase.
	// Labels: phase, status.
	DocumentsTotal = "ingest_documents_total"

	// RowsTotal counts rows written to an output table. Labels: table.
	RowsTotal = "ingest_rows_total"

	// BatchesTotal counts storage batch round trips. No labels.
	BatchesTotal = "ingest_batches_total"

	// PhaseDurationSeconds samples how long a pipeline phase took.
	// Labels: phase, status.
	PhaseDurationSeconds = "ingest_phase_duration_seconds"
)

type nop struct{}

func (nop) IncCounter(string, float64, Labels)       {}
func (nop) ObserveHistogram(string, float64, Labels) {}

// Nop returns a backend that discards everything.
func Nop() Backend { return nop{} }

var (
	mu      sync.RWMutex
	backend Backend = nop{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the nop.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nop{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush submits whatever the installed backend has buffered. Backends that do
// not buffer flush as a no-op.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// IncCounter records a counter increment against the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records a sample against the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// RecordDocument counts one document through a pipeline phase.
func RecordDocument(phase, status string) {
	IncCounter(DocumentsTotal, 1, Labels{"phase": phase, "status": status})
}

// RecordRows counts rows written to a table.
func RecordRows(table string, n int64) {
	if n <= 0 {
		return
	}
	IncCounter(RowsTotal, float64(n), Labels{"table": table})
}

// RecordBatch counts one storage batch round trip.
func RecordBatch() {
	IncCounter(BatchesTotal, 1, nil)
}

// ObservePhase records how long a pipeline phase took.
func ObservePhase(phase, status string, d time.Duration) {
	ObserveHistogram(PhaseDurationSeconds, d.Seconds(), Labels{"phase": phase, "status": status})
}
