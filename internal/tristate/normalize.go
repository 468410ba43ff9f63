package tristate

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Normalize canonicalizes one raw cell. It is pure and total.
//
// Rules, in order: nil, "" and the words "none"/"null" are Absent; 1, "1",
// "true" and "yes" are true; 0, "0", "false" and "no" are false; other
// numbers (including numeric text) pass through as Number; anything else is
// kept as a trimmed String.
func Normalize(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return Absent()
	case Value:
		return x
	case *Value:
		if x == nil {
			return Absent()
		}
		return *x
	case bool:
		return Bool(x)
	case string:
		return normalizeString(x)
	case *string:
		if x == nil {
			return Absent()
		}
		return normalizeString(*x)
	case int:
		return normalizeNumber(float64(x))
	case int8:
		return normalizeNumber(float64(x))
	case int16:
		return normalizeNumber(float64(x))
	case int32:
		return normalizeNumber(float64(x))
	case int64:
		return normalizeNumber(float64(x))
	case uint:
		return normalizeNumber(float64(x))
	case uint8:
		return normalizeNumber(float64(x))
	case uint16:
		return normalizeNumber(float64(x))
	case uint32:
		return normalizeNumber(float64(x))
	case uint64:
		return normalizeNumber(float64(x))
	case float32:
		return normalizeNumber(float64(x))
	case float64:
		return normalizeNumber(x)
	case fmt.Stringer:
		return normalizeString(x.String())
	default:
		return normalizeString(fmt.Sprint(x))
	}
}

func normalizeNumber(n float64) Value {
	switch {
	case math.IsNaN(n):
		return Absent()
	case n == 1:
		return True
	case n == 0:
		return False
	default:
		return Number(n)
	}
}

func normalizeString(s string) Value {
	t := strings.TrimSpace(s)
	switch strings.ToLower(t) {
	case "", "none", "null":
		return Absent()
	case "1", "true", "yes":
		return True
	case "0", "false", "no":
		return False
	}
	if n, err := strconv.ParseFloat(t, 64); err == nil && !math.IsInf(n, 0) && !math.IsNaN(n) {
		return normalizeNumber(n)
	}
	return String(t)
}
