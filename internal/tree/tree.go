// Package tree models decoded JSON state as an explicit tagged union and
// resolves dotted key paths over it without ever failing.
package tree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which variant a Tree holds.
type Kind uint8

const (
	Absent Kind = iota
	Scalar
	Sequence
	Mapping
)

func (k Kind) String() string {
	switch k {
	case Absent:
		return "absent"
	case Scalar:
		return "scalar"
	case Sequence:
		return "sequence"
	case Mapping:
		return "mapping"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Tree is an immutable JSON value. The zero value is Absent.
// Scalars hold a string, a bool or a json.Number.
type Tree struct {
	kind   Kind
	scalar any
	items  []Tree
	fields map[string]Tree
}

// DefaultDelimiter separates path segments for Resolve.
const DefaultDelimiter = "."

// Null is the absent tree.
var Null = Tree{}

// Of builds a scalar tree. Numbers are normalised to json.Number; nil gives Absent.
func Of(v any) Tree {
	switch x := v.(type) {
	case nil:
		return Null
	case string, bool, json.Number:
		return Tree{kind: Scalar, scalar: x}
	case int:
		return Tree{kind: Scalar, scalar: json.Number(strconv.Itoa(x))}
	case int64:
		return Tree{kind: Scalar, scalar: json.Number(strconv.FormatInt(x, 10))}
	case float64:
		return Tree{kind: Scalar, scalar: json.Number(strconv.FormatFloat(x, 'f', -1, 64))}
	case Tree:
		return x
	default:
		return Null
	}
}

// Seq builds a sequence tree.
func Seq(items ...Tree) Tree {
	cp := make([]Tree, len(items))
	copy(cp, items)
	return Tree{kind: Sequence, items: cp}
}

// Map builds a mapping tree.
func Map(fields map[string]Tree) Tree {
	cp := make(map[string]Tree, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Tree{kind: Mapping, fields: cp}
}

// Parse decodes a JSON document into a Tree.
func Parse(data []byte) (Tree, error) {
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return Null, err
	}
	return t, nil
}

// FromValue converts a value produced by encoding/json (with UseNumber) into a Tree.
func FromValue(v any) Tree {
	switch x := v.(type) {
	case map[string]any:
		fields := make(map[string]Tree, len(x))
		for k, child := range x {
			fields[k] = FromValue(child)
		}
		return Tree{kind: Mapping, fields: fields}
	case []any:
		items := make([]Tree, len(x))
		for i, child := range x {
			items[i] = FromValue(child)
		}
		return Tree{kind: Sequence, items: items}
	default:
		return Of(x)
	}
}

// UnmarshalJSON implements json.Unmarshaler. JSON null decodes to Absent.
func (t *Tree) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*t = FromValue(raw)
	return nil
}

// MarshalJSON implements json.Marshaler. Absent encodes as null.
func (t Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Value())
}

// Value converts the tree back into plain Go values.
func (t Tree) Value() any {
	switch t.kind {
	case Scalar:
		return t.scalar
	case Sequence:
		out := make([]any, len(t.items))
		for i, item := range t.items {
			out[i] = item.Value()
		}
		return out
	case Mapping:
		out := make(map[string]any, len(t.fields))
		for k, v := range t.fields {
			out[k] = v.Value()
		}
		return out
	default:
		return nil
	}
}

// Kind reports the variant held by t.
func (t Tree) Kind() Kind { return t.kind }

// IsAbsent reports whether t holds no value.
func (t Tree) IsAbsent() bool { return t.kind == Absent }

// Get returns the child stored under key, or Absent when t is not a mapping.
func (t Tree) Get(key string) Tree {
	if t.kind != Mapping {
		return Null
	}
	child, ok := t.fields[key]
	if !ok {
		return Null
	}
	return child
}

// Resolve walks path split on DefaultDelimiter.
func Resolve(t Tree, path string) Tree {
	return ResolveBy(t, path, DefaultDelimiter)
}

// ResolveBy walks t one segment at a time, descending only into mapping keys.
// The first segment that cannot be resolved yields Absent.
func ResolveBy(t Tree, path, delimiter string) Tree {
	if t.kind == Absent {
		return Null
	}
	var segments []string
	if delimiter == "" {
		segments = []string{path}
	} else {
		segments = strings.Split(path, delimiter)
	}
	current := t
	for _, seg := range segments {
		if current.kind != Mapping {
			return Null
		}
		next, ok := current.fields[seg]
		if !ok || next.kind == Absent {
			return Null
		}
		current = next
	}
	return current
}

// Items returns the elements of a sequence.
func (t Tree) Items() ([]Tree, bool) {
	if t.kind != Sequence {
		return nil, false
	}
	return t.items, true
}

// Len returns the number of elements of a sequence or keys of a mapping.
func (t Tree) Len() int {
	switch t.kind {
	case Sequence:
		return len(t.items)
	case Mapping:
		return len(t.fields)
	default:
		return 0
	}
}

// Index returns the i-th element of a sequence, or Absent.
func (t Tree) Index(i int) Tree {
	if t.kind != Sequence || i < 0 || i >= len(t.items) {
		return Null
	}
	return t.items[i]
}

// Fields returns the entries of a mapping. The map is a copy.
func (t Tree) Fields() (map[string]Tree, bool) {
	if t.kind != Mapping {
		return nil, false
	}
	out := make(map[string]Tree, len(t.fields))
	for k, v := range t.fields {
		out[k] = v
	}
	return out, true
}

// Keys returns the mapping keys in sorted order.
func (t Tree) Keys() []string {
	if t.kind != Mapping {
		return nil
	}
	keys := make([]string, 0, len(t.fields))
	for k := range t.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the scalar as text. Numbers and bools are formatted.
func (t Tree) String() (string, bool) {
	if t.kind != Scalar {
		return "", false
	}
	switch v := t.scalar.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}

// Float returns numeric scalars, or numeric strings, as float64.
func (t Tree) Float() (float64, bool) {
	if t.kind != Scalar {
		return 0, false
	}
	switch v := t.scalar.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// Int returns integral numeric scalars as int64.
func (t Tree) Int() (int64, bool) {
	if t.kind != Scalar {
		return 0, false
	}
	n, ok := t.scalar.(json.Number)
	if !ok {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

// Bool returns a boolean scalar.
func (t Tree) Bool() (bool, bool) {
	if t.kind != Scalar {
		return false, false
	}
	b, ok := t.scalar.(bool)
	return b, ok
}

// StringPtr is String as an optional.
func (t Tree) StringPtr() *string {
	s, ok := t.String()
	if !ok {
		return nil
	}
	return &s
}

// FloatPtr is Float as an optional.
func (t Tree) FloatPtr() *float64 {
	f, ok := t.Float()
	if !ok {
		return nil
	}
	return &f
}

// IntPtr is Int as an optional.
func (t Tree) IntPtr() *int64 {
	i, ok := t.Int()
	if !ok {
		return nil
	}
	return &i
}

// Strings returns the string elements of a sequence, skipping non-scalars.
func (t Tree) Strings() ([]string, bool) {
	items, ok := t.Items()
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.String(); ok {
			out = append(out, s)
		}
	}
	return out, true
}
