package templating

import (
	"encoding/json"
	"fmt"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/catalog"
)

func builtinFilters() map[string]Filter {
	return map[string]Filter{
		"dump":           dump,
		"jsonify":        dump,
		"default":        defaultValue,
		"parseEntityRef": parseEntityRef,
	}
}

func dump(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("dump expects 1 argument, got %d", len(args))
	}
	raw, err := json.Marshal(args[0])
	if err != nil {
		return nil, fmt.Errorf("dump: value is not JSON serializable")
	}
	return string(raw), nil
}

// defaultValue returns the fallback when the value is nil or an empty string.
func defaultValue(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("default expects 2 arguments, got %d", len(args))
	}
	if args[0] == nil {
		return args[1], nil
	}
	if s, ok := args[0].(string); ok && s == "" {
		return args[1], nil
	}
	return args[0], nil
}

// parseEntityRef splits kind:namespace/name into an object. An optional
// second argument sets the default kind.
func parseEntityRef(args ...any) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("parseEntityRef expects 1 or 2 arguments, got %d", len(args))
	}
	value, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("parseEntityRef expects a string")
	}
	defaultKind := ""
	if len(args) == 2 {
		if s, ok := args[1].(string); ok {
			defaultKind = s
		}
	}
	ref, err := catalog.ParseRef(value, defaultKind)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"kind":      ref.Kind,
		"namespace": ref.Namespace,
		"name":      ref.Name,
	}, nil
}
