// Package storage selects and drives the relational store that inferred
// schemas and emitted rows are written to. Backends register themselves by
// kind; the engine only sees the Output interface.
package storage

import (
	"context"
	"fmt"
	"sync"

	"jsonsql/internal/sqlgen"
	"jsonsql/internal/tables"
)

// Config selects a backend and tells it where to connect.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Output is the destination for inferred tables and emitted rows.
//
// IMPORTANT: the interface is intentionally minimal. Each backend implements
// the same semantics in its own dialect (SQLite OR IGNORE, Postgres ON
// CONFLICT, SQL Server NOT EXISTS).
type Output interface {
	// Close releases backend resources. Treat as "call once".
	Close()

	// EnsureTables creates every emitted table of the plan in the backend's
	// dialect. Idempotent; safe to run on every invocation.
	EnsureTables(ctx context.Context, p *tables.Plan, opts sqlgen.Options) error

	// InsertRows appends one batch. Rows already present under the table's
	// primary key are skipped, never updated; reprocessing an overlapping
	// capture must not fail or rewrite data. Reports rows actually written.
	InsertRows(ctx context.Context, t *tables.Table, columns []string, rows [][]any) (int64, error)

	// DistinctDates reports the distinct YYYY-MM-DD prefixes present in a
	// text timestamp column, sorted.
	DistinctDates(ctx context.Context, table, column string) ([]string, error)
}

type factory func(ctx context.Context, cfg Config) (Output, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The kind string becomes the lookup key used by New.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. Failing fast beats ambiguous backend
//     selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs an Output using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register. New takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Output, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
