package profile

// Kind tags one observation of a value's type. The set is closed: documents
// are normalized before profiling, so every leaf is one of the scalar kinds
// and every branch is an object or a list.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindNull
	KindBool
	KindInteger
	KindFloat
	KindString
	KindObject
	KindList
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindNull:    "null",
	KindBool:    "bool",
	KindInteger: "integer",
	KindFloat:   "float",
	KindString:  "string",
	KindObject:  "object",
	KindList:    "list",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// MarshalText lets Kind serve as a JSON map key in reports.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// IsScalar reports whether k is a value-bearing scalar. Null is excluded:
// it marks absence of a value, not a shape, and never participates in
// shape-conflict detection or type uniformity.
func (k Kind) IsScalar() bool {
	return k >= KindBool && k <= KindString
}

// Classify maps a normalized value to its Kind. Values outside the
// canonical set map to KindInvalid.
func Classify(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case int64:
		return KindInteger
	case float64:
		return KindFloat
	case string:
		return KindString
	case map[string]any:
		return KindObject
	case []any:
		return KindList
	}
	return KindInvalid
}
