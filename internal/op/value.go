package op

import (
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the payload types a cell may carry.
// Only Str, Int, Bool, List, and Map implement it. There is deliberately no
// float variant: floating point breaks cross-platform determinism, and every
// Value eventually feeds a commitment.
type Value interface {
	value() // sealed
}

// Str is a string payload.
type Str string

func (Str) value() {}

// Int is an integer payload. Always int64.
type Int int64

func (Int) value() {}

// Bool is a boolean payload.
type Bool bool

func (Bool) value() {}

// List is an ordered sequence of values.
type List []Value

func (List) value() {}

// Map is a string-keyed collection of values.
// Use SortedKeys for deterministic iteration.
type Map map[string]Value

func (Map) value() {}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings orders by UTF-8 bytes, which differs for non-ASCII keys.
func (m Map) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings by UTF-16 code units as required by
// RFC 8785. utf16.Encode handles surrogate pairs correctly.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	if len(a16) < len(b16) {
		return -1
	}
	if len(a16) > len(b16) {
		return 1
	}
	return 0
}

// ToValue converts a plain Go value (as produced by yaml/json/cue decoding)
// into a Value. Floats and nulls are rejected.
func ToValue(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in cell values")
	case Value:
		return val, nil
	case string:
		return Str(val), nil
	case int64:
		return Int(val), nil
	case int:
		return Int(val), nil
	case uint64:
		return Int(val), nil
	case bool:
		return Bool(val), nil
	case float64, float32:
		return nil, fmt.Errorf("floats are forbidden in cell values")
	case []any:
		list := make(List, len(val))
		for i, elem := range val {
			ev, err := ToValue(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			list[i] = ev
		}
		return list, nil
	case map[string]any:
		m := make(Map, len(val))
		for k, elem := range val {
			ev, err := ToValue(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			m[k] = ev
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported cell value type: %T", v)
	}
}

// UnmarshalValue decodes a JSON value into a Value, rejecting floats and nulls.
func UnmarshalValue(data []byte) (Value, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return Str(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil
	case 'n':
		return nil, fmt.Errorf("null is forbidden in cell values")
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		list := make(List, len(raw))
		for i, r := range raw {
			v, err := UnmarshalValue(r)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			list[i] = v
		}
		return list, nil
	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		m := make(Map, len(raw))
		for k, r := range raw {
			v, err := UnmarshalValue(r)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			m[k] = v
		}
		return m, nil
	default:
		// Numeric. Must parse as an integer; anything with a fraction or
		// exponent is rejected.
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, fmt.Errorf("non-integer number %q is forbidden", string(data))
		}
		return Int(n), nil
	}
}

// MarshalJSON implementations keep the plain JSON form of each Value aligned
// with its canonical form for scalars (objects may differ in key order).

func (s Str) MarshalJSON() ([]byte, error)  { return json.Marshal(string(s)) }
func (n Int) MarshalJSON() ([]byte, error)  { return json.Marshal(int64(n)) }
func (b Bool) MarshalJSON() ([]byte, error) { return json.Marshal(bool(b)) }
