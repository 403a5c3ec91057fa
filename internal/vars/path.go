package vars

import (
	"errors"
	"strings"
)

// ErrPath reports a path whose intermediate segment holds a non-object, or a
// path that is empty.
var ErrPath = errors.New("bad path")

// SplitPath splits a dot-delimited path into key segments. Every dot is a
// separator; there is no escape for a literal dot inside a key (known
// limitation, the upstream command language has none either).
func SplitPath(path string) ([]string, error) {
	if path == "" {
		return nil, ErrPath
	}
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return nil, ErrPath
		}
	}
	return segs, nil
}

func JoinPath(segs ...string) string {
	return strings.Join(segs, ".")
}

// HasPathPrefix reports whether prefix is empty, equal to path, or a
// dot-boundary prefix of path ("a.b" matches "a.b.c" but not "a.bc").
func HasPathPrefix(path, prefix string) bool {
	if prefix == "" || path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+".")
}

// GetPath resolves path inside root. Missing segments return (nil, false).
func GetPath(root *Value, path string) (*Value, bool) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, false
	}
	cur := root
	for _, seg := range segs {
		next, ok := cur.Get(seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// SetPath writes value at path inside root, creating missing intermediate
// objects. It fails with ErrPath when an intermediate segment already holds a
// non-object value.
func SetPath(root *Value, path string, value *Value) error {
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	if !root.IsObject() {
		return ErrPath
	}
	cur := root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur.Get(seg)
		if !ok {
			next = NewObject()
			cur.Set(seg, next)
		} else if !next.IsObject() {
			return ErrPath
		}
		cur = next
	}
	cur.Set(segs[len(segs)-1], value)
	return nil
}
