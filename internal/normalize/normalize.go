// Package normalize rewrites raw JSON documents into the canonical shape the
// rest of the pipeline consumes.
//
// A normalized document satisfies three invariants:
//
//  1. Every object that lacks a natural identity key carries a generated one
//     ("<key>GeneratedId") whose value is a deterministic hash of the object's
//     own content. Identical content always hashes to the same id, across
//     documents and across runs, which is what makes downstream
//     INSERT OR IGNORE loading idempotent.
//  2. Short lists of scalars are collapsed to a single delimited string, so
//     they become a plain column instead of a table.
//  3. Keys known to carry no durable signal are removed everywhere.
//
// Scalar leaves are reduced to a closed set of Go types: string, bool, int64,
// float64 and nil. json.Number values are resolved here so that the
// integer/float distinction survives profiling.
package normalize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Options control how documents are rewritten. The zero value is usable;
// empty fields fall back to the documented defaults.
type Options struct {
	// NoiseKeys are deleted wherever they appear in a document, at any
	// depth, before anything else looks at the value.
	NoiseKeys []string

	// CollapseLimit is the largest scalar list that is collapsed into a
	// single delimited string. Longer scalar lists stay lists and are
	// serialized as an array literal at row-emission time. If <= 0,
	// DefaultCollapseLimit is used.
	CollapseLimit int

	// Delimiter joins the elements of a collapsed list. Defaults to ",".
	Delimiter string

	// CollapseRules force-collapse the lists at specific paths regardless of
	// length. A rule with a Field projects that field out of each list
	// element first, which turns a list of objects into a delimited string.
	CollapseRules []CollapseRule

	// WrapPaths name object-valued paths that are rewritten to single-element
	// lists, for shapes that are logically repeating but arrive as a bare
	// object (one organization per person, say).
	WrapPaths []string

	// RootName is the key context used when the document root itself needs a
	// generated id. Defaults to DefaultRootName.
	RootName string
}

// CollapseRule forces the list at Path into a delimited string.
type CollapseRule struct {
	// Path locates the list, in "$.Key.[].Key" notation.
	Path string `json:"path"`

	// Field, when set, is projected out of each (object) element before
	// joining. When empty the elements themselves are joined and must be
	// scalars.
	Field string `json:"field,omitempty"`
}

const (
	// DefaultCollapseLimit is the scalar-list length at or below which lists
	// collapse into a delimited string.
	DefaultCollapseLimit = 3

	// DefaultDelimiter joins collapsed list elements.
	DefaultDelimiter = ","

	// DefaultRootName is the identity context for the document root.
	DefaultRootName = "Listings"
)

// MalformedError reports input that is not a well-formed JSON object/array/
// scalar tree. Documents that produce it are skipped and reported, never
// fatal to a batch.
type MalformedError struct {
	// Path is the tree position of the offending value, "$"-rooted.
	Path string

	// Reason describes what was wrong with the value.
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed document at %s: %s", e.Path, e.Reason)
}

// Normalize rewrites doc into its canonical shape. It is a pure function:
// the input tree is never mutated, and the same input always produces the
// same output, including generated ids.
//
// Errors:
//   - *MalformedError if doc contains values outside the JSON data model.
func Normalize(doc any, opts Options) (any, error) {
	w := newWalker(opts)
	return w.value(doc, "$", w.rootName)
}

type walker struct {
	noise    map[string]bool
	collapse map[string]string // list path -> projected field ("" joins elements)
	wrap     map[string]bool
	limit    int
	delim    string
	rootName string
}

func newWalker(opts Options) *walker {
	w := &walker{
		noise:    make(map[string]bool, len(opts.NoiseKeys)),
		collapse: make(map[string]string, len(opts.CollapseRules)),
		wrap:     make(map[string]bool, len(opts.WrapPaths)),
		limit:    opts.CollapseLimit,
		delim:    opts.Delimiter,
		rootName: opts.RootName,
	}
	for _, k := range opts.NoiseKeys {
		w.noise[k] = true
	}
	for _, r := range opts.CollapseRules {
		w.collapse[r.Path] = r.Field
	}
	for _, p := range opts.WrapPaths {
		w.wrap[p] = true
	}
	if w.limit <= 0 {
		w.limit = DefaultCollapseLimit
	}
	if w.delim == "" {
		w.delim = DefaultDelimiter
	}
	if w.rootName == "" {
		w.rootName = DefaultRootName
	}
	return w
}

// value normalizes one tree position. path is the position in "$.Key.[]"
// notation; key is the identity context (the key the value sits under, or
// the list's key for list elements).
func (w *walker) value(v any, path, key string) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		return w.object(t, path, key)
	case []any:
		return w.list(t, path, key)
	default:
		return normalizeScalar(t, path)
	}
}

func (w *walker) object(obj map[string]any, path, key string) (any, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		if w.noise[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(keys)+1)
	for _, k := range keys {
		childPath := path + "." + k
		child := obj[k]

		if w.wrap[childPath] {
			if m, ok := child.(map[string]any); ok {
				child = []any{m}
			}
		}

		if field, ok := w.collapse[childPath]; ok {
			if list, isList := child.([]any); isList {
				joined, err := w.collapseByRule(list, childPath, field)
				if err != nil {
					return nil, err
				}
				out[k] = joined
				continue
			}
		}

		nv, err := w.value(child, childPath, k)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}

	w.ensureIdentity(out, key)
	return out, nil
}

func (w *walker) list(list []any, path, key string) (any, error) {
	elemPath := path + ".[]"
	out := make([]any, len(list))
	scalarsOnly := true
	for i, e := range list {
		ne, err := w.value(e, elemPath, key)
		if err != nil {
			return nil, err
		}
		out[i] = ne
		if !isScalar(ne) {
			scalarsOnly = false
		}
	}

	// Empty lists are preserved: "present but empty" must stay visible to
	// profiling, and an empty reference list serializes as "[]" later.
	if scalarsOnly && len(out) >= 1 && len(out) <= w.limit {
		parts := make([]string, len(out))
		for i, e := range out {
			parts[i] = RenderScalar(e)
		}
		return strings.Join(parts, w.delim), nil
	}
	return out, nil
}

// collapseByRule joins a configured list into one string, projecting field
// out of object elements when the rule names one.
func (w *walker) collapseByRule(list []any, path, field string) (string, error) {
	parts := make([]string, len(list))
	for i, e := range list {
		v := e
		if field != "" {
			obj, ok := e.(map[string]any)
			if !ok {
				return "", &MalformedError{
					Path:   path,
					Reason: fmt.Sprintf("collapse field %q needs object elements, found %T", field, e),
				}
			}
			v = obj[field]
		}
		s, err := normalizeScalar(v, path)
		if err != nil {
			return "", &MalformedError{
				Path:   path,
				Reason: fmt.Sprintf("collapsed element is not a scalar: %T", v),
			}
		}
		parts[i] = RenderScalar(s)
	}
	return strings.Join(parts, w.delim), nil
}

// ensureIdentity gives obj a generated id when no identity key holds a
// usable value. A nil-valued generated key is treated as absent and
// overwritten, so documents that ship explicit "...GeneratedId": null
// placeholders still end up with a real id.
func (w *walker) ensureIdentity(obj map[string]any, key string) {
	for k, v := range obj {
		if v != nil && IsIdentityKey(k) {
			return
		}
	}

	target := key + "GeneratedId"
	// The placeholder must not participate in its own hash: an object with a
	// nil generated key has to dedupe against the same content without one.
	delete(obj, target)
	obj[target] = ContentID(obj)
}

// normalizeScalar reduces a leaf to the canonical scalar set. json.Number is
// resolved to int64 when it parses exactly, float64 otherwise.
func normalizeScalar(v any, path string) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, int64, float64:
		return t, nil
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(string(t), 64); err == nil {
			return f, nil
		}
		return nil, &MalformedError{Path: path, Reason: fmt.Sprintf("unparseable number %q", string(t))}
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case float32:
		return float64(t), nil
	default:
		return nil, &MalformedError{Path: path, Reason: fmt.Sprintf("unsupported value type %T", v)}
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, int64, float64:
		return true
	}
	return false
}

// RenderScalar is the canonical string form of a scalar, used when list
// elements are joined into a collapsed string and when values are coerced
// into text columns. nil renders empty so missing projected fields do not
// poison a join.
func RenderScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
