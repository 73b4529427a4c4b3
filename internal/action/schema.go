package action

import (
	"encoding/json"
	"fmt"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
	"github.com/google/jsonschema-go/jsonschema"
)

// CompileSchema resolves a JSON Schema given as a generic object.
func CompileSchema(raw map[string]any) (*jsonschema.Resolved, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	return resolved, nil
}

// ValidateInput checks input against the action's input schema, if any.
func (a Action) ValidateInput(input map[string]any) error {
	if a.input == nil {
		return nil
	}
	var instance any = map[string]any{}
	if input != nil {
		instance = input
	}
	if err := a.input.Validate(instance); err != nil {
		return domain.Inputf("Invalid input passed to action %s, %v", a.ID, err)
	}
	return nil
}
