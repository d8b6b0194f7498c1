package state

import (
	"strconv"
	"strings"
)

// Path addresses a value inside a JSON document. Each segment is an object
// field name or a base-10 array index. A nil or empty Path is the whole
// document.
type Path []string

// MaxArrayPad bounds how far past the end of an array a write may land.
// The gap is filled with nulls.
const MaxArrayPad = 1024

var pointerUnescaper = strings.NewReplacer("~1", "/", "~0", "~")
var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// ParsePath parses a JSON Pointer such as "/a/0/b". The empty string is the
// whole document.
func ParsePath(pointer string) (Path, error) {
	if pointer == "" {
		return nil, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, InvalidInput("pointer %q must start with '/'", pointer)
	}
	raw := strings.Split(pointer[1:], "/")
	p := make(Path, len(raw))
	for i, seg := range raw {
		p[i] = pointerUnescaper.Replace(seg)
	}
	return p, nil
}

// MustPath is ParsePath for constant pointers; it panics on malformed input.
func MustPath(pointer string) Path {
	p, err := ParsePath(pointer)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders p back into pointer form.
func (p Path) String() string {
	if len(p) == 0 {
		return ""
	}
	var b strings.Builder
	for _, seg := range p {
		b.WriteByte('/')
		b.WriteString(pointerEscaper.Replace(seg))
	}
	return b.String()
}

// ReadAt returns the value at p inside doc. The second result is false when
// any segment does not resolve. doc is never modified.
func ReadAt(doc any, p Path) (any, bool) {
	current := doc
	for _, seg := range p {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, ok := parseIndex(seg)
			if !ok || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// WriteAt stores v at p inside doc and returns the resulting root. Null
// nodes on the way are replaced by an empty array when the segment
// addressing them is an index and by an empty object otherwise. Arrays are
// padded with nulls up to the index. Objects and arrays are modified in
// place.
func WriteAt(doc any, p Path, v any) (any, error) {
	if len(p) == 0 {
		return v, nil
	}
	return writeAt(doc, p, v)
}

func writeAt(node any, p Path, v any) (any, error) {
	seg := p[0]
	if node == nil {
		node = containerFor(seg)
	}

	switch n := node.(type) {
	case map[string]any:
		if len(p) == 1 {
			n[seg] = v
			return n, nil
		}
		child, err := writeAt(n[seg], p[1:], v)
		if err != nil {
			return nil, err
		}
		n[seg] = child
		return n, nil
	case []any:
		idx, ok := parseIndex(seg)
		if !ok {
			return nil, InvalidInput("array index expected for segment %q", seg)
		}
		if idx > len(n)+MaxArrayPad {
			return nil, InvalidInput("index %d is more than %d past the end of a %d element array", idx, MaxArrayPad, len(n))
		}
		n = grow(n, idx)
		if len(p) == 1 {
			n[idx] = v
			return n, nil
		}
		child, err := writeAt(n[idx], p[1:], v)
		if err != nil {
			return nil, err
		}
		n[idx] = child
		return n, nil
	default:
		return nil, InvalidInput("segment %q cannot be applied to non-container value", seg)
	}
}

// parseIndex accepts unsigned base-10 only: no sign, no "-" append marker.
func parseIndex(seg string) (int, bool) {
	if seg == "" || seg[0] == '+' || seg[0] == '-' {
		return 0, false
	}
	idx, err := strconv.ParseUint(seg, 10, strconv.IntSize-1)
	if err != nil {
		return 0, false
	}
	return int(idx), true
}

func grow(items []any, idx int) []any {
	if idx < len(items) {
		return items
	}
	grown := make([]any, idx+1)
	copy(grown, items)
	return grown
}

func containerFor(seg string) any {
	if _, ok := parseIndex(seg); ok {
		return []any{}
	}
	return map[string]any{}
}
