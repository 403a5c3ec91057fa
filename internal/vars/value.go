package vars

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindText
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return "unknown"
}

// MetaSigil marks metadata keys. Keys starting with it are skipped by
// Keys/iteration but preserved by clone, set and marshal.
const MetaSigil = "$"

func IsMetaKey(key string) bool {
	return len(key) > 0 && key[:1] == MetaSigil
}

// Value is one node of a variable tree. Objects keep insertion order so a
// tree survives a pull/push round trip byte-for-byte.
type Value struct {
	kind Kind

	b   bool
	num float64
	txt string

	items  []*Value
	keys   []string
	fields map[string]*Value
}

func Null() *Value            { return &Value{kind: KindNull} }
func Bool(b bool) *Value      { return &Value{kind: KindBool, b: b} }
func Number(n float64) *Value { return &Value{kind: KindNumber, num: n} }
func Text(s string) *Value    { return &Value{kind: KindText, txt: s} }

func NewArray(items ...*Value) *Value {
	return &Value{kind: KindArray, items: items}
}

func NewObject() *Value {
	return &Value{kind: KindObject, fields: map[string]*Value{}}
}

func (v *Value) Kind() Kind {
	if v == nil {
		return KindNull
	}
	return v.kind
}

func (v *Value) IsNull() bool   { return v == nil || v.kind == KindNull }
func (v *Value) IsObject() bool { return v != nil && v.kind == KindObject }
func (v *Value) IsArray() bool  { return v != nil && v.kind == KindArray }

func (v *Value) AsBool() (bool, bool) {
	if v == nil || v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v *Value) AsNumber() (float64, bool) {
	if v == nil || v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

func (v *Value) AsText() (string, bool) {
	if v == nil || v.kind != KindText {
		return "", false
	}
	return v.txt, true
}

// Items returns the backing slice of an array. Callers must not grow it.
func (v *Value) Items() []*Value {
	if v == nil || v.kind != KindArray {
		return nil
	}
	return v.items
}

func (v *Value) Append(item *Value) {
	v.items = append(v.items, item)
}

// SetItems replaces the element slice of an array.
func (v *Value) SetItems(items []*Value) {
	v.items = items
}

// Get looks up a field of an object.
func (v *Value) Get(key string) (*Value, bool) {
	if v == nil || v.kind != KindObject {
		return nil, false
	}
	f, ok := v.fields[key]
	return f, ok
}

// Set writes a field of an object, appending the key on first write.
func (v *Value) Set(key string, val *Value) {
	if v.fields == nil {
		v.fields = map[string]*Value{}
	}
	if _, ok := v.fields[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.fields[key] = val
}

// Delete removes a field of an object.
func (v *Value) Delete(key string) {
	if v == nil || v.kind != KindObject {
		return
	}
	if _, ok := v.fields[key]; !ok {
		return
	}
	delete(v.fields, key)
	for i, k := range v.keys {
		if k == key {
			v.keys = append(v.keys[:i], v.keys[i+1:]...)
			break
		}
	}
}

// Keys lists object keys in insertion order, metadata keys excluded.
func (v *Value) Keys() []string {
	if v == nil || v.kind != KindObject {
		return nil
	}
	out := make([]string, 0, len(v.keys))
	for _, k := range v.keys {
		if IsMetaKey(k) {
			continue
		}
		out = append(out, k)
	}
	return out
}

// AllKeys lists object keys in insertion order, metadata keys included.
func (v *Value) AllKeys() []string {
	if v == nil || v.kind != KindObject {
		return nil
	}
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Len is the element count of an array, or the non-metadata key count of an
// object. Scalars have length 0.
func (v *Value) Len() int {
	if v == nil {
		return 0
	}
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindObject:
		return len(v.Keys())
	}
	return 0
}

// Clone makes a deep copy. A nil receiver clones to an explicit Null.
func (v *Value) Clone() *Value {
	if v == nil {
		return Null()
	}
	switch v.kind {
	case KindArray:
		out := &Value{kind: KindArray, items: make([]*Value, len(v.items))}
		for i, it := range v.items {
			out.items[i] = it.Clone()
		}
		return out
	case KindObject:
		out := &Value{kind: KindObject, keys: make([]string, len(v.keys)), fields: make(map[string]*Value, len(v.fields))}
		copy(out.keys, v.keys)
		for k, f := range v.fields {
			out.fields[k] = f.Clone()
		}
		return out
	default:
		c := *v
		return &c
	}
}

// Equal reports deep equality. Object comparison ignores key order.
func Equal(a, b *Value) bool {
	if a.IsNull() && b.IsNull() {
		return true
	}
	if a == nil || b == nil || a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.num == b.num
	case KindText:
		return a.txt == b.txt
	case KindArray:
		if len(a.items) != len(b.items) {
			return false
		}
		for i := range a.items {
			if !Equal(a.items[i], b.items[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.fields) != len(b.fields) {
			return false
		}
		for k, av := range a.fields {
			bv, ok := b.fields[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON writes objects with their keys in insertion order.
func (v *Value) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		if v.b {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindNumber:
		return json.Marshal(v.num)
	case KindText:
		return json.Marshal(v.txt)
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, it := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := it.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindObject:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			fb, err := v.fields[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(fb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("marshal: unknown kind %d", v.kind)
}

// UnmarshalJSON decodes via the token stream so object key order survives.
func (v *Value) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	got, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = *got
	return nil
}

// FromJSON parses raw JSON into a Value.
func FromJSON(b []byte) (*Value, error) {
	var v Value
	if err := v.UnmarshalJSON(b); err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeValue(dec *json.Decoder) (*Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return Number(f), nil
	case string:
		return Text(t), nil
	case json.Delim:
		switch t {
		case '[':
			arr := NewArray()
			for dec.More() {
				it, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr.Append(it)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return arr, nil
		case '{':
			obj := NewObject()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("decode: object key %v", kt)
				}
				fv, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, fv)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return obj, nil
		}
	}
	return nil, fmt.Errorf("decode: unexpected token %v", tok)
}

// FromGo converts decoded JSON or YAML values (map/slice/float64/int/...)
// into a Value. Map key order is not recoverable; keys come out sorted.
func FromGo(x any) *Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case json.Number:
		f, _ := t.Float64()
		return Number(f)
	case string:
		return Text(t)
	case []any:
		arr := NewArray()
		for _, it := range t {
			arr.Append(FromGo(it))
		}
		return arr
	case map[string]any:
		obj := NewObject()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			obj.Set(k, FromGo(t[k]))
		}
		return obj
	}
	return Text(fmt.Sprint(x))
}

// String renders a compact debug form.
func (v *Value) String() string {
	if v == nil {
		return "null"
	}
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindText:
		return v.txt
	default:
		b, err := v.MarshalJSON()
		if err != nil {
			return "<invalid>"
		}
		return string(b)
	}
}
