package metrics

import (
	"errors"
	"testing"
	"time"
)

// capture records every call so routing through the package-level backend can
// be asserted. Tests using it mutate the global backend, so none of them run
// in parallel.
type capture struct {
	counters   map[string]float64
	histograms map[string][]float64
	labels     map[string]Labels
	flushErr   error
	flushed    int
}

func newCapture() *capture {
	return &capture{
		counters:   make(map[string]float64),
		histograms: make(map[string][]float64),
		labels:     make(map[string]Labels),
	}
}

func (c *capture) IncCounter(name string, delta float64, labels Labels) {
	c.counters[name] += delta
	c.labels[name] = labels
}

func (c *capture) ObserveHistogram(name string, value float64, labels Labels) {
	c.histograms[name] = append(c.histograms[name], value)
	c.labels[name] = labels
}

func (c *capture) Flush() error {
	c.flushed++
	return c.flushErr
}

func install(t *testing.T) *capture {
	t.Helper()
	c := newCapture()
	SetBackend(c)
	t.Cleanup(func() { SetBackend(nil) })
	return c
}

func TestSetBackend_NilRestoresNop(t *testing.T) {
	c := install(t)
	SetBackend(nil)

	IncCounter(DocumentsTotal, 1, nil)
	if len(c.counters) != 0 {
		t.Fatalf("call reached removed backend: %v", c.counters)
	}
}

func TestFlush(t *testing.T) {
	c := install(t)
	c.flushErr = errors.New("submit failed")

	if err := Flush(); !errors.Is(err, c.flushErr) {
		t.Fatalf("Flush() = %v, want backend error", err)
	}
	if c.flushed != 1 {
		t.Fatalf("flushed %d times, want 1", c.flushed)
	}

	// A backend without Flush is fine.
	SetBackend(nil)
	if err := Flush(); err != nil {
		t.Fatalf("Flush() on nop = %v, want nil", err)
	}
}

func TestRecordDocument(t *testing.T) {
	c := install(t)

	RecordDocument("load", "ok")
	RecordDocument("load", "ok")
	RecordDocument("analyze", "malformed")

	if c.counters[DocumentsTotal] != 3 {
		t.Fatalf("counter = %v, want 3", c.counters[DocumentsTotal])
	}
	got := c.labels[DocumentsTotal]
	if got["phase"] != "analyze" || got["status"] != "malformed" {
		t.Fatalf("last labels = %v", got)
	}
}

func TestRecordRows_IgnoresNonPositive(t *testing.T) {
	c := install(t)

	RecordRows("Listings", 5)
	RecordRows("Listings", 0)
	RecordRows("Listings", -2)

	if c.counters[RowsTotal] != 5 {
		t.Fatalf("counter = %v, want 5", c.counters[RowsTotal])
	}
	if c.labels[RowsTotal]["table"] != "Listings" {
		t.Fatalf("labels = %v", c.labels[RowsTotal])
	}
}

func TestObservePhase(t *testing.T) {
	c := install(t)

	ObservePhase("analyze", "ok", 1500*time.Millisecond)

	got := c.histograms[PhaseDurationSeconds]
	if len(got) != 1 || got[0] != 1.5 {
		t.Fatalf("samples = %v, want [1.5]", got)
	}
	if c.labels[PhaseDurationSeconds]["phase"] != "analyze" {
		t.Fatalf("labels = %v", c.labels[PhaseDurationSeconds])
	}
}
