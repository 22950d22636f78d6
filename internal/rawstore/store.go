// Package rawstore reads and writes raw-capture files: SQLite databases
// holding one JSON blob per listing, keyed by the listing id assigned
// upstream. Capture files are append-mostly; a fresh scrape of a listing
// replaces its previous blob.
package rawstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = "CREATE TABLE IF NOT EXISTS listings (id INTEGER PRIMARY KEY, details TEXT NOT NULL, last_updated TEXT NOT NULL);"

// Document is one captured listing.
type Document struct {
	ID          int64
	Body        []byte
	LastUpdated time.Time
}

// DecodeBody parses the stored JSON. Numbers decode through json.Number so
// integer ids survive without float rounding.
func (d Document) DecodeBody() (any, error) {
	dec := json.NewDecoder(bytes.NewReader(d.Body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("document %d: %w", d.ID, err)
	}
	return v, nil
}

// Store is an open raw-capture file.
type Store struct {
	db *sql.DB
}

// Open opens path read-write, creating the file and its schema as needed.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema in %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenReader opens an existing capture file. Unlike Open it refuses to
// create one: a mistyped path must fail, not silently read an empty store.
func OpenReader(ctx context.Context, path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("raw store: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Put stores one document, replacing any previous capture of the same id.
func (s *Store) Put(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO listings (id, details, last_updated) VALUES (?, ?, ?)",
		doc.ID, string(doc.Body), formatStoreTime(doc.LastUpdated),
	)
	if err != nil {
		return fmt.Errorf("put document %d: %w", doc.ID, err)
	}
	return nil
}

// Range restricts Stream to documents captured within a window. A zero From
// is unbounded below; a zero To is unbounded above. To is exclusive so a
// day boundary can be expressed without caring about sub-second precision.
type Range struct {
	From time.Time
	To   time.Time
}

func (r Range) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// Stream calls fn for every document within r, in listing-id order. An
// error from fn stops the scan and is returned as is.
func (s *Store) Stream(ctx context.Context, r Range, fn func(Document) error) error {
	rows, err := s.db.QueryContext(ctx, "SELECT id, details, last_updated FROM listings ORDER BY id")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id      int64
			details string
			updated string
		)
		if err := rows.Scan(&id, &details, &updated); err != nil {
			return err
		}
		ts, err := parseStoreTime(updated)
		if err != nil {
			return fmt.Errorf("document %d: %w", id, err)
		}
		if !r.contains(ts) {
			continue
		}
		if err := fn(Document{ID: id, Body: []byte(details), LastUpdated: ts}); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Dates reports the distinct capture dates present, as YYYY-MM-DD, sorted.
// Every supported timestamp format starts with the date, so substr is
// enough and keeps the scan inside SQLite.
func (s *Store) Dates(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT substr(last_updated, 1, 10) FROM listings ORDER BY 1")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func formatStoreTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseStoreTime parses the last_updated column.
//
// Supported formats:
//   - RFC3339Nano (what we write)
//   - RFC3339
//   - Zone-less forms older capture tools wrote, interpreted as UTC:
//     "2006-01-02T15:04:05.999999999"
//     "2006-01-02 15:04:05.999999999"
//     "2006-01-02" (a bare partition date)
func parseStoreTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	zoned := []string{time.RFC3339Nano, time.RFC3339}
	for _, layout := range zoned {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	naive := []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02",
	}
	for _, layout := range naive {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
