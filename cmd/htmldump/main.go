// Command htmldump recovers the JSON documents embedded in saved listing
// pages and writes them into a raw store file. Pages that carry no
// extractable payload are skipped and counted, not fatal: scrape archives
// always hold a few error pages.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"jsonsql/internal/htmlsource"
	"jsonsql/internal/rawstore"
)

func main() {
	os.Exit(runMain(os.Args[1:], os.Stdout, os.Stderr))
}

func runMain(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("htmldump", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		in       = fs.String("in", "", "directory of saved listing pages")
		out      = fs.String("out", "", "raw store file to write (created if missing)")
		selector = fs.String("selector", htmlsource.DefaultSelector, "CSS selector of the element holding the JSON payload")
		idField  = fs.String("id-field", htmlsource.DefaultIDField, "payload field holding the listing id")
		verbose  = fs.Bool("v", false, "log every skipped page")
	)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *in == "" || *out == "" {
		fmt.Fprintln(stderr, "usage: htmldump -in pages/ -out listings.db")
		return 2
	}

	ctx := context.Background()
	st, err := rawstore.Open(ctx, *out)
	if err != nil {
		fmt.Fprintf(stderr, "open raw store: %v\n", err)
		return 1
	}
	defer st.Close()

	var written, skipped int
	opts := htmlsource.Options{Selector: *selector, IDField: *idField}
	skip := func(path string, err error) {
		skipped++
		if *verbose {
			fmt.Fprintf(stderr, "skip %s: %v\n", path, err)
		}
	}

	err = htmlsource.WalkDir(*in, opts, skip, func(doc rawstore.Document) error {
		if err := st.Put(ctx, doc); err != nil {
			return err
		}
		written++
		return nil
	})
	if err != nil {
		fmt.Fprintf(stderr, "dump: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "ok pages=%d skipped=%d\n", written, skipped)
	return 0
}
