package state

import (
	"reflect"
	"strings"
	"time"
)

// Tree is the shape of a snapshot: nested string-keyed maps whose leaves are
// scalars, string slices, generic slices, times, or nil.
type Tree = map[string]any

type removeMarker struct{}

// Remove deletes the key it is merged into.
var Remove any = removeMarker{}

// Path joins segments into a dotted store path.
func Path(segments ...string) string {
	return strings.Join(segments, ".")
}

// At builds a nested partial update placing value at path. An empty or
// malformed path yields nil.
func At(path string, value any) Tree {
	segments, ok := splitPath(path)
	if !ok {
		return nil
	}
	var node any = value
	for i := len(segments) - 1; i >= 0; i-- {
		node = Tree{segments[i]: node}
	}
	return node.(Tree)
}

// Combine folds several partial updates into one, later parts winning.
// Remove markers are kept so they still apply when the result is merged.
func Combine(parts ...Tree) Tree {
	out := Tree{}
	for _, part := range parts {
		combine(out, part)
	}
	return out
}

func combine(dst Tree, partial Tree) {
	for key, value := range partial {
		if _, ok := value.(removeMarker); ok {
			dst[key] = Remove
			continue
		}
		incoming, isMap := value.(Tree)
		if !isMap {
			dst[key] = cloneValue(value)
			continue
		}
		existing, ok := dst[key].(Tree)
		if !ok {
			existing = Tree{}
		}
		combine(existing, incoming)
		dst[key] = existing
	}
}

func splitPath(path string) ([]string, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, false
		}
	}
	return segments, true
}

func lookup(root Tree, path string) (any, bool) {
	segments, ok := splitPath(path)
	if !ok {
		return nil, false
	}
	var node any = root
	for _, seg := range segments {
		m, isMap := node.(Tree)
		if !isMap {
			return nil, false
		}
		next, exists := m[seg]
		if !exists {
			return nil, false
		}
		node = next
	}
	return node, true
}

// merge applies partial onto dst in place. dst must be a private clone.
func merge(dst Tree, partial Tree) {
	for key, value := range partial {
		if _, ok := value.(removeMarker); ok {
			delete(dst, key)
			continue
		}
		incoming, isMap := value.(Tree)
		if !isMap {
			dst[key] = cloneValue(value)
			continue
		}
		existing, ok := dst[key].(Tree)
		if !ok {
			existing = Tree{}
		}
		merge(existing, incoming)
		dst[key] = existing
	}
}

func cloneTree(src Tree) Tree {
	if src == nil {
		return Tree{}
	}
	out := make(Tree, len(src))
	for k, v := range src {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case Tree:
		return cloneTree(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(typed))
		copy(out, typed)
		return out
	case removeMarker:
		return nil
	default:
		return v
	}
}

func equal(a, b any) bool {
	ta, aTime := a.(time.Time)
	tb, bTime := b.(time.Time)
	if aTime && bTime {
		return ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}
