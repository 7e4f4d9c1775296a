package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"unicode/utf16"

	"gopkg.in/yaml.v3"
)

// Value is a sealed interface over the literal forms a filter value can take.
// Only Null, String, Int, Bool and List implement it.
//
// There is no float variant: non-integral numbers are carried as their
// decimal text in a String so that hashing and plan shapes stay deterministic.
type Value interface {
	irValue()
}

// Null is an explicit JSON/YAML null. The parser rejects it.
type Null struct{}

func (Null) irValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a string literal, including the encoded grammar forms.
type String string

func (String) irValue() {}

// Int is an integral number literal.
type Int int64

func (Int) irValue() {}

// Bool is a boolean literal.
type Bool bool

func (Bool) irValue() {}

// List is a sequence of literals. A List filter value always means membership.
type List []Value

func (List) irValue() {}

// Native converts a Value to the plain Go value a driver expects.
// Lists become []any.
func Native(v Value) any {
	switch val := v.(type) {
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case List:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Native(elem)
		}
		return out
	default:
		return nil
	}
}

// Text renders a scalar Value as text. Lists render as their JSON form.
func Text(v Value) string {
	switch val := v.(type) {
	case String:
		return string(val)
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Bool:
		return strconv.FormatBool(bool(val))
	case Null, nil:
		return ""
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}

// FromNative converts a decoded Go value (from encoding/json, yaml.v3 or a
// caller) into a Value.
func FromNative(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		return Int(val), nil
	case uint64:
		return Int(val), nil
	case float64:
		if val == float64(int64(val)) {
			return Int(int64(val)), nil
		}
		return String(strconv.FormatFloat(val, 'f', -1, 64)), nil
	case json.Number:
		return numberValue(val.String()), nil
	case []string:
		out := make(List, len(val))
		for i, s := range val {
			out[i] = String(s)
		}
		return out, nil
	case []any:
		out := make(List, len(val))
		for i, elem := range val {
			conv, err := FromNative(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = conv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported filter value type %T", v)
	}
}

// numberValue keeps integral numbers as Int and everything else as text.
func numberValue(text string) Value {
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return Int(i)
	}
	return String(text)
}

// UnmarshalJSON implements json.Unmarshaler for List.
func (l *List) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*l = make(List, len(raw))
	for i, elem := range raw {
		val, err := unmarshalValue(elem)
		if err != nil {
			return fmt.Errorf("list index %d: %w", i, err)
		}
		(*l)[i] = val
	}
	return nil
}

// unmarshalValue decodes one JSON value into a Value.
func unmarshalValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil
	case 'n':
		return Null{}, nil
	case '[':
		var l List
		if err := json.Unmarshal(data, &l); err != nil {
			return nil, err
		}
		return l, nil
	case '{':
		return nil, fmt.Errorf("objects are not valid filter values")
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		return numberValue(n.String()), nil
	}
}

// valueFromYAML decodes one YAML node into a Value.
func valueFromYAML(node *yaml.Node) (Value, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		switch node.ShortTag() {
		case "!!null":
			return Null{}, nil
		case "!!bool":
			var b bool
			if err := node.Decode(&b); err != nil {
				return nil, err
			}
			return Bool(b), nil
		case "!!int", "!!float":
			return numberValue(node.Value), nil
		default:
			return String(node.Value), nil
		}
	case yaml.SequenceNode:
		out := make(List, len(node.Content))
		for i, child := range node.Content {
			val, err := valueFromYAML(child)
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			out[i] = val
		}
		return out, nil
	case yaml.AliasNode:
		return valueFromYAML(node.Alias)
	default:
		return nil, fmt.Errorf("line %d: objects are not valid filter values", node.Line)
	}
}

// SortedKeys returns the keys of m in canonical order (UTF-16 code units),
// the same order canonical JSON uses.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)
	return keys
}

// compareKeys orders strings by UTF-16 code units. Go's native string
// comparison works on UTF-8 bytes, which orders supplementary characters
// differently.
func compareKeys(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
