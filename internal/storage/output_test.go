package storage

import (
	"context"
	"strings"
	"testing"

	"jsonsql/internal/sqlgen"
	"jsonsql/internal/tables"
)

type fakeOutput struct {
	closeCalls int
}

func (f *fakeOutput) Close() { f.closeCalls++ }

func (f *fakeOutput) EnsureTables(ctx context.Context, p *tables.Plan, opts sqlgen.Options) error {
	return nil
}

func (f *fakeOutput) InsertRows(ctx context.Context, t *tables.Table, columns []string, rows [][]any) (int64, error) {
	return int64(len(rows)), nil
}

func (f *fakeOutput) DistinctDates(ctx context.Context, table, column string) ([]string, error) {
	return nil, nil
}

func TestNew_RejectsMissingAndUnknownKind(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	if _, err := New(context.Background(), Config{Kind: "oracle"}); err == nil || !strings.Contains(err.Error(), "oracle") {
		t.Fatalf("expected unsupported-kind error naming the kind, got: %v", err)
	}
}

func TestRegisterAndNew(t *testing.T) {
	want := &fakeOutput{}
	var gotDSN string
	Register("fake-for-new-test", func(ctx context.Context, cfg Config) (Output, error) {
		gotDSN = cfg.DSN
		return want, nil
	})

	out, err := New(context.Background(), Config{Kind: "fake-for-new-test", DSN: "dsn-under-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if out != want {
		t.Fatalf("New returned a different Output")
	}
	if gotDSN != "dsn-under-test" {
		t.Fatalf("factory saw DSN %q", gotDSN)
	}
}

func TestRegister_Panics(t *testing.T) {
	mustPanic := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatalf("%s: expected panic", name)
			}
		}()
		fn()
	}

	nop := func(ctx context.Context, cfg Config) (Output, error) { return &fakeOutput{}, nil }

	mustPanic("empty kind", func() { Register("", nop) })
	mustPanic("nil factory", func() { Register("fake-nil-factory-test", nil) })

	Register("fake-dup-test", nop)
	mustPanic("duplicate kind", func() { Register("fake-dup-test", nop) })
}
