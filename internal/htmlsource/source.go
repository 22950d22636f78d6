// Package htmlsource recovers raw listing documents from a scrape archive:
// saved HTML pages that carry the listing JSON embedded in a script element.
// No network is involved; the archive is the source of record.
package htmlsource

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"jsonsql/internal/rawstore"
)

const (
	DefaultSelector = `script[type="application/ld+json"]`
	DefaultIDField  = "Id"
)

// Options configure payload extraction.
type Options struct {
	// Selector locates the element carrying the JSON payload. Defaults to
	// DefaultSelector; only the first match is used.
	Selector string

	// Attr, when set, reads the payload from this attribute instead of the
	// element text.
	Attr string

	// IDField names the payload field holding the listing id. Defaults to
	// DefaultIDField. The value must be an integer or a digit string.
	IDField string

	// Charset overrides the page's declared encoding. Empty means sniff the
	// page (BOM, meta tags), which covers well-formed saves.
	Charset string
}

func (o Options) selector() string {
	if o.Selector == "" {
		return DefaultSelector
	}
	return o.Selector
}

func (o Options) idField() string {
	if o.IDField == "" {
		return DefaultIDField
	}
	return o.IDField
}

// ExtractFile pulls the embedded document out of one saved page. The
// document's LastUpdated is the file's modification time, the closest thing
// a scrape archive has to a capture date.
func ExtractFile(path string, opts Options) (rawstore.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return rawstore.Document{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return rawstore.Document{}, err
	}

	r, err := decodeReader(f, opts.Charset)
	if err != nil {
		return rawstore.Document{}, err
	}
	page, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return rawstore.Document{}, fmt.Errorf("parse html: %w", err)
	}

	payload, err := payloadText(page, opts)
	if err != nil {
		return rawstore.Document{}, err
	}

	doc := rawstore.Document{Body: []byte(payload), LastUpdated: info.ModTime()}
	obj, err := doc.DecodeBody()
	if err != nil {
		return rawstore.Document{}, fmt.Errorf("payload: %w", err)
	}
	fields, ok := obj.(map[string]any)
	if !ok {
		return rawstore.Document{}, fmt.Errorf("payload is %T, want object", obj)
	}
	id, err := documentID(fields[opts.idField()], opts.idField())
	if err != nil {
		return rawstore.Document{}, err
	}
	doc.ID = id
	return doc, nil
}

func payloadText(page *goquery.Document, opts Options) (string, error) {
	sel := page.Find(opts.selector()).First()
	if sel.Length() == 0 {
		return "", fmt.Errorf("no element matches %q", opts.selector())
	}
	if opts.Attr != "" {
		v, ok := sel.Attr(opts.Attr)
		if !ok {
			return "", fmt.Errorf("element has no attribute %q", opts.Attr)
		}
		return strings.TrimSpace(v), nil
	}
	return strings.TrimSpace(sel.Text()), nil
}

// decodeReader converts a page to UTF-8. An explicit charset wins; otherwise
// the page is sniffed (BOM, meta tags, content heuristics).
func decodeReader(r io.Reader, declared string) (io.Reader, error) {
	if declared != "" {
		enc, err := htmlindex.Get(declared)
		if err != nil {
			return nil, fmt.Errorf("charset %q: %w", declared, err)
		}
		return transform.NewReader(r, enc.NewDecoder()), nil
	}
	return charset.NewReader(r, "")
}

func documentID(v any, field string) (int64, error) {
	switch t := v.(type) {
	case json.Number:
		id, err := t.Int64()
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", field, err)
		}
		return id, nil
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("field %q: not an id: %q", field, t)
		}
		return id, nil
	case nil:
		return 0, fmt.Errorf("field %q missing from payload", field)
	default:
		return 0, fmt.Errorf("field %q is %T, want an id", field, v)
	}
}
