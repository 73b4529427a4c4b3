package catalog

import (
	"fmt"
	"strings"
)

// Ref is a compound entity reference, written kind:namespace/name.
type Ref struct {
	Kind      string
	Namespace string
	Name      string
}

// ParseRef parses kind:namespace/name. The namespace defaults to "default"
// and the kind to defaultKind when omitted.
func ParseRef(value string, defaultKind string) (Ref, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return Ref{}, fmt.Errorf("entity ref is required")
	}

	var ref Ref
	if kind, rest, ok := strings.Cut(raw, ":"); ok {
		ref.Kind = kind
		raw = rest
	} else {
		ref.Kind = defaultKind
	}
	if namespace, name, ok := strings.Cut(raw, "/"); ok {
		ref.Namespace = namespace
		ref.Name = name
	} else {
		ref.Namespace = DefaultNamespace
		ref.Name = raw
	}

	if strings.TrimSpace(ref.Kind) == "" {
		return Ref{}, fmt.Errorf("entity ref %q has no kind", value)
	}
	if strings.TrimSpace(ref.Namespace) == "" || strings.TrimSpace(ref.Name) == "" {
		return Ref{}, fmt.Errorf("entity ref %q is malformed", value)
	}
	if strings.ContainsAny(ref.Name, ":/") {
		return Ref{}, fmt.Errorf("entity ref %q is malformed", value)
	}
	return ref, nil
}

// String renders the canonical form, with kind and namespace lower-cased.
func (r Ref) String() string {
	namespace := r.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return fmt.Sprintf("%s:%s/%s", strings.ToLower(r.Kind), strings.ToLower(namespace), r.Name)
}

// key is the case-insensitive lookup key of a reference.
func (r Ref) key() string {
	return strings.ToLower(r.String())
}
