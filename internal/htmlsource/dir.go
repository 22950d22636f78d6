package htmlsource

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"jsonsql/internal/rawstore"
)

// WalkDir extracts every page directly under dir, in filename order so runs
// are repeatable. Files that cannot be read or carry no usable payload are
// reported through skip and do not stop the walk; a partly corrupted archive
// still yields its good pages. An error from fn stops the walk and is
// returned as is.
func WalkDir(dir string, opts Options, skip func(path string, err error), fn func(rawstore.Document) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		doc, err := ExtractFile(path, opts)
		if err != nil {
			if skip != nil {
				skip(path, err)
			}
			continue
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}
