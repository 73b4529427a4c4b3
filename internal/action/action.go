package action

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"gopkg.in/yaml.v3"
)

// Handler executes one step. Errors fail the step and therefore the job.
type Handler func(ctx context.Context, actx *Context) error

type Example struct {
	Description string `json:"description" yaml:"description"`
	Example     string `json:"example" yaml:"example"`
}

// Schema holds the JSON Schemas of an action's input and output.
type Schema struct {
	Input  map[string]any `json:"input,omitempty" yaml:"input,omitempty"`
	Output map[string]any `json:"output,omitempty" yaml:"output,omitempty"`
}

type Action struct {
	ID          string
	Description string
	Examples    []Example
	Schema      Schema
	Handler     Handler

	input *jsonschema.Resolved
}

// Info is the introspection view of an action.
type Info struct {
	ID          string    `json:"id" yaml:"id"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Examples    []Example `json:"examples,omitempty" yaml:"examples,omitempty"`
	Schema      Schema    `json:"schema" yaml:"schema"`
}

func (a Action) Info() Info {
	return Info{
		ID:          a.ID,
		Description: a.Description,
		Examples:    append([]Example(nil), a.Examples...),
		Schema:      a.Schema,
	}
}

func (a Action) validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("action id is required")
	}
	if a.Handler == nil {
		return fmt.Errorf("action %q handler is required", a.ID)
	}
	return nil
}

// StepsExample renders a codemod steps snippet as a YAML example.
func StepsExample(description string, steps ...map[string]any) Example {
	raw, err := yaml.Marshal(map[string]any{"steps": steps})
	if err != nil {
		return Example{Description: description}
	}
	return Example{Description: description, Example: string(raw)}
}
