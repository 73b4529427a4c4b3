package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// Filter selects entities: every key must match, and a key matches when the
// field equals any of its values. Keys are dotted field paths (kind,
// metadata.name, spec.type). Values are case-insensitive glob patterns.
type Filter map[string][]string

// UnmarshalJSON accepts both {"kind": "Component"} and {"kind": ["Component"]}.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out, err := filterFromRaw(raw)
	if err != nil {
		return err
	}
	*f = out
	return nil
}

func (f *Filter) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	out, err := filterFromRaw(raw)
	if err != nil {
		return err
	}
	*f = out
	return nil
}

func filterFromRaw(raw map[string]any) (Filter, error) {
	if raw == nil {
		return nil, nil
	}
	out := make(Filter, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			out[key] = []string{v}
		case []any:
			values := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("filter %q: values must be strings", key)
				}
				values = append(values, s)
			}
			out[key] = values
		default:
			return nil, fmt.Errorf("filter %q: value must be a string or a list of strings", key)
		}
	}
	return out, nil
}

// Constrain narrows targets with constraints: keys present on one side only
// are kept as is, keys present on both sides keep the common values.
func Constrain(targets, constraints Filter) Filter {
	out := make(Filter, len(targets)+len(constraints))
	for key, values := range targets {
		out[key] = append([]string(nil), values...)
	}
	for key, values := range constraints {
		existing, ok := out[key]
		if !ok {
			out[key] = append([]string(nil), values...)
			continue
		}
		out[key] = intersect(existing, values)
	}
	return out
}

func intersect(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, v := range b {
		inB[v] = struct{}{}
	}
	seen := make(map[string]struct{}, len(a))
	out := make([]string, 0, len(a))
	for _, v := range a {
		if _, ok := inB[v]; !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Matcher is a compiled Filter.
type Matcher struct {
	fields []fieldMatcher
}

type fieldMatcher struct {
	path     []string
	patterns []glob.Glob
}

func (f Filter) Compile() (*Matcher, error) {
	keys := make([]string, 0, len(f))
	for key := range f {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	m := &Matcher{fields: make([]fieldMatcher, 0, len(keys))}
	for _, key := range keys {
		fm := fieldMatcher{path: strings.Split(strings.ToLower(key), ".")}
		for _, pattern := range f[key] {
			g, err := glob.Compile(strings.ToLower(pattern))
			if err != nil {
				return nil, fmt.Errorf("filter %q: invalid pattern %q: %w", key, pattern, err)
			}
			fm.patterns = append(fm.patterns, g)
		}
		m.fields = append(m.fields, fm)
	}
	return m, nil
}

// Match reports whether doc, an entity Document, satisfies every field.
func (m *Matcher) Match(doc map[string]any) bool {
	for _, field := range m.fields {
		if !field.match(lookupPath(doc, field.path)) {
			return false
		}
	}
	return true
}

func (fm fieldMatcher) match(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case []any:
		for _, item := range v {
			if fm.match(item) {
				return true
			}
		}
		return false
	case map[string]any:
		return false
	default:
		s := strings.ToLower(fmt.Sprint(v))
		for _, pattern := range fm.patterns {
			if pattern.Match(s) {
				return true
			}
		}
		return false
	}
}

// lookupPath walks doc with case-insensitive keys. Annotation and label keys
// contain dots, so the remaining path is also tried as a single key.
func lookupPath(doc map[string]any, path []string) any {
	var current any = doc
	for i := 0; i < len(path); i++ {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		next, found := lookupKey(obj, path[i])
		if !found {
			if v, ok := lookupKey(obj, strings.Join(path[i:], ".")); ok {
				return v
			}
			return nil
		}
		current = next
	}
	return current
}

func lookupKey(obj map[string]any, key string) (any, bool) {
	if v, ok := obj[key]; ok {
		return v, true
	}
	for k, v := range obj {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
