package config

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindDocument:
		return "document"
	default:
		return "invalid"
	}
}

// ParseKind maps a kind name back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "string", "str":
		return KindString, nil
	case "int", "integer":
		return KindInt, nil
	case "float", "number":
		return KindFloat, nil
	case "bool", "boolean":
		return KindBool, nil
	case "document", "doc", "map", "object":
		return KindDocument, nil
	}
	return KindInvalid, fmt.Errorf("unknown value kind %q", s)
}

// Document is a structured value. Its tree only ever holds string, int64,
// float64, bool, nil, []any and map[string]any.
type Document = map[string]any

// Value is an immutable configuration value. The zero Value is invalid.
type Value struct {
	kind Kind
	str  string
	i    int64
	f    float64
	b    bool
	// doc is map[string]any or []any.
	doc any
}

func String(s string) Value   { return Value{kind: KindString, str: s} }
func Int(i int64) Value       { return Value{kind: KindInt, i: i} }
func Float(f float64) Value   { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value       { return Value{kind: KindBool, b: b} }
func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// Doc builds a document Value. The map is deep-copied and normalized;
// unsupported leaf types panic, use FromAny for untrusted input.
func Doc(d Document) Value {
	n, err := normalize(d)
	if err != nil {
		panic(err)
	}
	return Value{kind: KindDocument, doc: n}
}

// List builds a document Value whose root is a sequence.
func List(items []any) Value {
	n, err := normalize(items)
	if err != nil {
		panic(err)
	}
	return Value{kind: KindDocument, doc: n}
}

// FromAny converts a native Go value into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case json.Number:
		return numberValue(t)
	case map[string]any, []any, map[any]any:
		n, err := normalize(t)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindDocument, doc: n}, nil
	}
	if i, ok := toInt64(x); ok {
		return Int(i), nil
	}
	return Value{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, x)
}

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }
func (v Value) AsInt() (int64, bool)     { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }
func (v Value) AsBool() (bool, bool)     { return v.b, v.kind == KindBool }

// AsDocument returns a copy of a map-rooted document.
func (v Value) AsDocument() (Document, bool) {
	m, ok := v.doc.(map[string]any)
	if v.kind != KindDocument || !ok {
		return nil, false
	}
	return deepCopy(m).(map[string]any), true
}

// AsList returns a copy of a sequence-rooted document.
func (v Value) AsList() ([]any, bool) {
	l, ok := v.doc.([]any)
	if v.kind != KindDocument || !ok {
		return nil, false
	}
	return deepCopy(l).([]any), true
}

// Interface returns the value as a plain Go value.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindDocument:
		return deepCopy(v.doc)
	}
	return nil
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindBool:
		return v.b == o.b
	case KindDocument:
		return reflect.DeepEqual(v.doc, o.doc)
	}
	return true
}

// String renders the value for display. Strings are returned verbatim,
// documents as compact JSON.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return formatFloat(v.f)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindDocument:
		out, err := json.Marshal(v.doc)
		if err != nil {
			return fmt.Sprintf("%v", v.doc)
		}
		return string(out)
	}
	return "<invalid>"
}

// MarshalJSON encodes the value as its plain JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindFloat && (math.IsInf(v.f, 0) || math.IsNaN(v.f)) {
		return json.Marshal(formatFloat(v.f))
	}
	return json.Marshal(v.Interface())
}

// ParseValue interprets command-line or environment text. JSON literals
// (numbers, true/false, objects, arrays, quoted strings; comments allowed)
// are decoded; anything else is taken as a bare string.
func ParseValue(s string) Value {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return String(s)
	}
	raw := jsonc.ToJSON([]byte(trimmed))
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil || dec.More() {
		return String(s)
	}
	if x == nil {
		return String(s)
	}
	v, err := FromAny(x)
	if err != nil {
		return String(s)
	}
	return v
}

// ParseAs parses text as a specific kind.
func ParseAs(s string, kind Kind) (Value, error) {
	switch kind {
	case KindString:
		return String(s), nil
	case KindInt:
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an int", ErrInvalidValue, s)
		}
		return Int(i), nil
	case KindFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a float", ErrInvalidValue, s)
		}
		return Float(f), nil
	case KindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a bool", ErrInvalidValue, s)
		}
		return Bool(b), nil
	case KindDocument:
		v := ParseValue(s)
		if v.kind != KindDocument {
			return Value{}, fmt.Errorf("%w: %q is not a document", ErrInvalidValue, s)
		}
		return v, nil
	}
	return Value{}, fmt.Errorf("%w: unknown kind %v", ErrInvalidValue, kind)
}

func numberValue(n json.Number) (Value, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return Int(i), nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return Float(f), nil
}

// normalize deep-copies x into the closed set of document leaf types.
func normalize(x any) (any, error) {
	switch t := x.(type) {
	case nil:
		return nil, nil
	case string, bool, int64, float64:
		return t, nil
	case float32:
		return float64(t), nil
	case json.Number:
		v, err := numberValue(t)
		if err != nil {
			return nil, err
		}
		return v.Interface(), nil
	case Value:
		return t.Interface(), nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			n, err := normalize(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			n, err := normalize(e)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := normalize(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out, nil
	}
	if i, ok := toInt64(x); ok {
		return i, nil
	}
	return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, x)
}

func toInt64(x any) (int64, bool) {
	switch t := x.(type) {
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint:
		if uint64(t) <= math.MaxInt64 {
			return int64(t), true
		}
	case uint64:
		if t <= math.MaxInt64 {
			return int64(t), true
		}
	}
	return 0, false
}

func deepCopy(x any) any {
	switch t := x.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	}
	return x
}

// formatFloat always keeps a float recognisable as a float.
func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	case math.IsNaN(f):
		return ".nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
