// Package tristate defines the annotation cell value and the single
// normalizer every ingestion path uses to canonicalize raw cells.
package tristate

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind discriminates the variants of Value.
type Kind uint8

const (
	// KindAbsent means the cell was never annotated. It is distinct from an
	// explicit false.
	KindAbsent Kind = iota
	KindBool
	KindNumber
	KindString
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is an annotation cell: absent, a yes/no judgment, a count-style
// number, or a free-form categorical string. The zero Value is Absent.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
}

// Absent returns the "not annotated" value.
func Absent() Value { return Value{} }

// Bool returns a yes/no value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String returns a categorical string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// True and False are the two boolean values.
var (
	True  = Bool(true)
	False = Bool(false)
)

// Kind returns the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether v is the "not annotated" value.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// IsFalse reports whether v is the explicit boolean false.
func (v Value) IsFalse() bool { return v.kind == KindBool && !v.b }

// IsTrue reports whether v is the explicit boolean true.
func (v Value) IsTrue() bool { return v.kind == KindBool && v.b }

// BoolValue returns the boolean payload and whether v is a boolean.
func (v Value) BoolValue() (bool, bool) { return v.b, v.kind == KindBool }

// NumberValue returns the numeric payload and whether v is a number.
func (v Value) NumberValue() (float64, bool) { return v.n, v.kind == KindNumber }

// StringValue returns the string payload and whether v is a string.
func (v Value) StringValue() (string, bool) { return v.s, v.kind == KindString }

// Equal is strict, type-sensitive equality: Number(1) and String("1") are
// different values, and so are Bool(true) and Number(1).
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	default:
		return true
	}
}

// AsBool is the lenient boolean view used by chance-corrected agreement
// statistics. Numbers are true when positive; strings follow the yes/no
// vocabulary. The second result is false when no boolean reading exists.
func (v Value) AsBool() (bool, bool) {
	switch v.kind {
	case KindBool:
		return v.b, true
	case KindNumber:
		return v.n > 0, true
	case KindString:
		switch strings.ToLower(strings.TrimSpace(v.s)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no", "":
			return false, true
		}
	}
	return false, false
}

// ExportCell renders v as a spreadsheet cell.
func (v Value) ExportCell() string {
	switch v.kind {
	case KindBool:
		if v.b {
			return "1"
		}
		return "0"
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindString:
		return v.s
	default:
		return ""
	}
}

// String implements fmt.Stringer.
func (v Value) String() string {
	switch v.kind {
	case KindAbsent:
		return "<absent>"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	default:
		return strconv.Quote(v.s)
	}
}

// MarshalJSON encodes Absent as null and the other kinds as their JSON
// scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindAbsent:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return nil, fmt.Errorf("tristate: cannot encode non-finite number %v", v.n)
		}
		return json.Marshal(v.n)
	default:
		return json.Marshal(v.s)
	}
}

// UnmarshalJSON is the inverse of MarshalJSON. It does not normalize:
// the string "1" stays a string.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = Absent()
	case bool:
		*v = Bool(x)
	case float64:
		*v = Number(x)
	case string:
		*v = String(x)
	default:
		return fmt.Errorf("tristate: cannot decode %s", string(data))
	}
	return nil
}
