package normalize

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// identityKeyPattern matches keys that name an identity: "Id"/"id"/"ID"/"iD",
// any key ending in "Id" (which covers generated "...GeneratedId" keys), and
// keys ending in a lowercase letter followed by "ID" ("MlsID").
var identityKeyPattern = regexp.MustCompile(`^(?:[iI][dD]|.+[a-z]ID|.+Id)$`)

// IsIdentityKey reports whether name looks like an identity column/key.
func IsIdentityKey(name string) bool {
	return identityKeyPattern.MatchString(name)
}

// IsGeneratedKey reports whether name is a generated identity key.
func IsGeneratedKey(name string) bool {
	return len(name) > len("GeneratedId") && strings.HasSuffix(name, "GeneratedId")
}

// SortIdentityKeys orders identity-key candidates by preference: generated
// keys first (they are constructed to be stable dedupe keys), then shorter
// names, then lexicographic. The ordering is total, so picking the first
// candidate is deterministic.
func SortIdentityKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		gi, gj := IsGeneratedKey(keys[i]), IsGeneratedKey(keys[j])
		if gi != gj {
			return gi
		}
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})
}

// IdentityKeys returns obj's identity-pattern keys in preference order.
func IdentityKeys(obj map[string]any) []string {
	var keys []string
	for k := range obj {
		if IsIdentityKey(k) {
			keys = append(keys, k)
		}
	}
	SortIdentityKeys(keys)
	return keys
}

// ItemID returns the value identifying obj: the first identity key (in
// preference order) holding a non-nil value. ok is false when the object
// carries no usable identity, which after Normalize only happens for
// objects that were never run through it.
func ItemID(obj map[string]any) (id any, ok bool) {
	for _, k := range IdentityKeys(obj) {
		if v := obj[k]; v != nil {
			return v, true
		}
	}
	return nil, false
}

// ContentID hashes a normalized value into a non-negative 64-bit id.
//
// The serialization is canonical: object keys are sorted at every level,
// fields are rendered as key=value joined with an ASCII unit separator, nil
// is a NUL byte, and strings are quoted so "1" and 1 stay distinct. Equal
// content therefore always produces the same id, which is the dedup contract
// the idempotent insert path relies on.
func ContentID(v any) int64 {
	var b strings.Builder
	b.Grow(64)
	appendCanonical(&b, v)
	return int64(xxhash.Sum64String(b.String()) & math.MaxInt64)
}

func appendCanonical(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteByte('\x00')
	case string:
		b.WriteString(strconv.Quote(t))
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
	case float64:
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte('\x1f')
			}
			b.WriteString(k)
			b.WriteByte('=')
			appendCanonical(b, t[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte('\x1f')
			}
			appendCanonical(b, e)
		}
		b.WriteByte(']')
	default:
		// Normalized trees never reach here; keep stray values deterministic.
		b.WriteString(fmt.Sprint(t))
	}
}
