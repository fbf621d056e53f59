package feed

import "strings"

// Resolve walks a dotted path such as "arxiv:primary_category.@term" from v.
// Each segment looks up a key in a Map; a List met along the way continues
// with its first element. A missing or non-navigable segment yields
// (nil, false). An empty path yields (nil, false).
func Resolve(v Value, path string) (Value, bool) {
	if path == "" {
		return nil, false
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		if list, ok := cur.(List); ok {
			if len(list) == 0 {
				return nil, false
			}
			cur = list[0]
		}
		m, ok := cur.(Map)
		if !ok {
			return nil, false
		}
		next, ok := m[seg]
		if !ok || next == nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// ResolveString resolves path and returns its text. A Map result yields its
// "#text" entry, a List its first element's text.
func ResolveString(v Value, path string) (string, bool) {
	found, ok := Resolve(v, path)
	if !ok {
		return "", false
	}
	return AsString(found)
}

// AsString returns the text carried by v.
func AsString(v Value) (string, bool) {
	switch t := v.(type) {
	case Text:
		return string(t), true
	case Map:
		if text, ok := t[TextKey].(Text); ok {
			return string(text), true
		}
	case List:
		if len(t) > 0 {
			return AsString(t[0])
		}
	}
	return "", false
}

// Attr returns the attribute name of a Map node.
func Attr(v Value, name string) (string, bool) {
	m, ok := v.(Map)
	if !ok {
		return "", false
	}
	text, ok := m[AttrPrefix+name].(Text)
	return string(text), ok
}

// Child returns the text of the first child element called name.
func Child(v Value, name string) (string, bool) {
	m, ok := v.(Map)
	if !ok {
		return "", false
	}
	return AsString(m[name])
}
