package rawstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "raw.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutStreamRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTemp(t)

	base := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
	docs := []Document{
		{ID: 3, Body: []byte(`{"Id":3}`), LastUpdated: base.Add(2 * time.Hour)},
		{ID: 1, Body: []byte(`{"Id":1}`), LastUpdated: base},
		{ID: 2, Body: []byte(`{"Id":2}`), LastUpdated: base.Add(time.Hour)},
	}
	for _, d := range docs {
		if err := s.Put(ctx, d); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	var got []Document
	if err := s.Stream(ctx, Range{}, func(d Document) error {
		got = append(got, d)
		return nil
	}); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("documents = %d, want 3", len(got))
	}
	for i, wantID := range []int64{1, 2, 3} {
		if got[i].ID != wantID {
			t.Fatalf("order = %v", []int64{got[0].ID, got[1].ID, got[2].ID})
		}
	}
	if string(got[0].Body) != `{"Id":1}` {
		t.Fatalf("body = %s", got[0].Body)
	}
	if !got[0].LastUpdated.Equal(base) {
		t.Fatalf("last updated = %v, want %v", got[0].LastUpdated, base)
	}

	// A fresh capture of an existing id replaces the blob.
	if err := s.Put(ctx, Document{ID: 1, Body: []byte(`{"Id":1,"Price":5}`), LastUpdated: base.Add(24 * time.Hour)}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got = got[:0]
	if err := s.Stream(ctx, Range{}, func(d Document) error {
		got = append(got, d)
		return nil
	}); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("documents after replace = %d, want 3", len(got))
	}
	if string(got[0].Body) != `{"Id":1,"Price":5}` {
		t.Fatalf("replaced body = %s", got[0].Body)
	}
}

func TestStreamRange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTemp(t)

	day := func(d int) time.Time { return time.Date(2026, 8, d, 12, 0, 0, 0, time.UTC) }
	for i := 1; i <= 3; i++ {
		if err := s.Put(ctx, Document{ID: int64(i), Body: []byte(`{}`), LastUpdated: day(i)}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	ids := func(r Range) []int64 {
		var out []int64
		if err := s.Stream(ctx, r, func(d Document) error {
			out = append(out, d.ID)
			return nil
		}); err != nil {
			t.Fatalf("Stream: %v", err)
		}
		return out
	}

	mid := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	if got := ids(Range{From: mid}); !reflect.DeepEqual(got, []int64{2, 3}) {
		t.Fatalf("From filter = %v", got)
	}
	// To is exclusive: the boundary day itself is not included.
	if got := ids(Range{To: mid}); !reflect.DeepEqual(got, []int64{1}) {
		t.Fatalf("To filter = %v", got)
	}
	if got := ids(Range{From: mid, To: mid.AddDate(0, 0, 1)}); !reflect.DeepEqual(got, []int64{2}) {
		t.Fatalf("window filter = %v", got)
	}
}

func TestStreamLegacyTimestamps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTemp(t)

	// Rows as older capture tools wrote them: bare partition dates and
	// zone-less isoformat stamps.
	legacy := []struct {
		id      int64
		updated string
	}{
		{1, "2026-08-25"},
		{2, "2026-08-25T14:30:00.123456"},
		{3, "2026-08-25 14:30:00"},
	}
	for _, row := range legacy {
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO listings (id, details, last_updated) VALUES (?, ?, ?)",
			row.id, "{}", row.updated,
		); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	var stamps []time.Time
	if err := s.Stream(ctx, Range{}, func(d Document) error {
		stamps = append(stamps, d.LastUpdated)
		return nil
	}); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(stamps) != 3 {
		t.Fatalf("documents = %d, want 3", len(stamps))
	}
	if !stamps[0].Equal(time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("bare date parsed as %v", stamps[0])
	}
	if !stamps[1].Equal(time.Date(2026, 8, 25, 14, 30, 0, 123456000, time.UTC)) {
		t.Fatalf("isoformat parsed as %v", stamps[1])
	}
}

func TestDates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTemp(t)

	for i, d := range []int{27, 25, 25, 26} {
		doc := Document{
			ID:          int64(i + 1),
			Body:        []byte(`{}`),
			LastUpdated: time.Date(2026, 8, d, 9, 0, 0, 0, time.UTC),
		}
		if err := s.Put(ctx, doc); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	dates, err := s.Dates(ctx)
	if err != nil {
		t.Fatalf("Dates: %v", err)
	}
	want := []string{"2026-08-25", "2026-08-26", "2026-08-27"}
	if !reflect.DeepEqual(dates, want) {
		t.Fatalf("Dates = %v, want %v", dates, want)
	}
}

func TestOpenReaderRefusesToCreate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "missing.db")
	if _, err := OpenReader(context.Background(), path); err == nil {
		t.Fatal("OpenReader on a missing file should fail")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("OpenReader created %s", path)
	}
}

func TestDecodeBody(t *testing.T) {
	t.Parallel()

	doc := Document{ID: 5, Body: []byte(`{"Id":26418653,"Price":1.5}`)}
	v, err := doc.DecodeBody()
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("decoded %T, want object", v)
	}
	// Large ids must stay integral, not become float64.
	if obj["Id"] != json.Number("26418653") {
		t.Fatalf("Id = %v (%T)", obj["Id"], obj["Id"])
	}

	if _, err := (Document{ID: 6, Body: []byte(`{"Id":`)}).DecodeBody(); err == nil {
		t.Fatal("truncated body should fail")
	}
}

func TestParseStoreTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-08-25T10:30:00.5Z", time.Date(2026, 8, 25, 10, 30, 0, 500000000, time.UTC)},
		{"2026-08-25T10:30:00+02:00", time.Date(2026, 8, 25, 8, 30, 0, 0, time.UTC)},
		{"2026-08-25T10:30:00.123456", time.Date(2026, 8, 25, 10, 30, 0, 123456000, time.UTC)},
		{"2026-08-25 10:30:00", time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)},
		{"2026-08-25", time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)},
		{"  2026-08-25  ", time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseStoreTime(tt.in)
		if err != nil {
			t.Errorf("parseStoreTime(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseStoreTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "yesterday", "2026/08/25"} {
		if _, err := parseStoreTime(bad); err == nil {
			t.Errorf("parseStoreTime(%q) should fail", bad)
		}
	}
}
