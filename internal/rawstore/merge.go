package rawstore

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
)

var fileDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// FileDate extracts the capture date a snapshot tool embedded in the
// filename, e.g. "mls_raw_2026-08-25.db". The second return is false when
// the name carries no date.
func FileDate(path string) (string, bool) {
	m := fileDatePattern.FindString(filepath.Base(path))
	return m, m != ""
}

// Merge folds snapshot files into dst and reports how many documents were
// written. Sources are processed in the order given; id replacement means a
// later source's copy of a listing supersedes an earlier one.
//
// A source whose filename date appears in skipDates is skipped whole. A
// source without a filename date is always processed since there is nothing
// to match it against.
func Merge(ctx context.Context, dst *Store, sources []string, skipDates map[string]bool) (int64, error) {
	var written int64
	for _, src := range sources {
		if date, ok := FileDate(src); ok && skipDates[date] {
			continue
		}
		n, err := mergeOne(ctx, dst, src)
		written += n
		if err != nil {
			return written, fmt.Errorf("merge %s: %w", src, err)
		}
	}
	return written, nil
}

func mergeOne(ctx context.Context, dst *Store, src string) (int64, error) {
	s, err := OpenReader(ctx, src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = s.Close() }()

	var n int64
	err = s.Stream(ctx, Range{}, func(doc Document) error {
		if err := dst.Put(ctx, doc); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}
