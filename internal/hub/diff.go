package hub

import (
	"strings"

	"statecraft.ai/internal/protocol"
	"statecraft.ai/internal/vars"
)

type change struct {
	path string
	old  *vars.Value
	new  *vars.Value
}

// diffPaths walks two trees and reports the dot paths whose values differ.
// Objects recurse; everything else is a leaf. Next-tree key order first,
// then keys only the previous tree had.
func diffPaths(prev, next *vars.Value, prefix string) []change {
	if prev.IsObject() && next.IsObject() {
		var out []change
		for _, k := range next.AllKeys() {
			nv, _ := next.Get(k)
			ov, _ := prev.Get(k)
			out = append(out, diffPaths(ov, nv, childPath(prefix, k))...)
		}
		for _, k := range prev.AllKeys() {
			if _, ok := next.Get(k); ok {
				continue
			}
			ov, _ := prev.Get(k)
			out = append(out, change{path: childPath(prefix, k), old: ov, new: nil})
		}
		return out
	}
	if vars.Equal(prev, next) {
		return nil
	}
	if prefix == "" {
		// Root replaced by a non-object; callers validate against this, but
		// report it as a single change rather than dropping it.
		return []change{{path: "", old: prev, new: next}}
	}
	return []change{{path: prefix, old: prev, new: next}}
}

func childPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func splitKey(key string) (protocol.Selector, bool) {
	i := strings.Index(key, "/")
	if i <= 0 || i == len(key)-1 {
		return protocol.Selector{}, false
	}
	return protocol.Selector{Session: key[:i], Namespace: key[i+1:]}, true
}

func mustJSON(v *vars.Value) []byte {
	if v == nil {
		return nil
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return []byte("null")
	}
	return b
}
