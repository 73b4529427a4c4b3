package workflow

import (
	"fmt"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/catalog"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/templating"
)

// templateState is what expressions see: parameters, steps, target, user.
type templateState struct {
	parameters any
	target     map[string]any
	user       map[string]any
	steps      map[string]any
}

func newTemplateState(spec domain.JobSpec, target catalog.Entity) (*templateState, error) {
	parameters, err := templating.Normalize(map[string]any(spec.Codemod.Parameters))
	if err != nil {
		return nil, fmt.Errorf("parameters: %w", err)
	}
	if parameters == nil {
		parameters = map[string]any{}
	}
	entity, err := templating.Normalize(target)
	if err != nil {
		return nil, fmt.Errorf("target entity: %w", err)
	}

	user := map[string]any{"entity": nil, "ref": nil}
	if info := spec.Codemod.User; info != nil {
		if info.Entity != nil {
			userEntity, err := templating.Normalize(info.Entity)
			if err != nil {
				return nil, fmt.Errorf("user entity: %w", err)
			}
			user["entity"] = userEntity
		}
		if info.Ref != "" {
			user["ref"] = info.Ref
		}
	}

	return &templateState{
		parameters: parameters,
		target:     map[string]any{"entity": entity, "ref": spec.TargetRef},
		user:       user,
		steps:      map[string]any{},
	}, nil
}

func (s *templateState) setOutput(stepID string, outputs map[string]any) {
	s.steps[stepID] = map[string]any{"output": outputs}
}

// data is a JSON-shaped snapshot; handlers never see live state.
func (s *templateState) data() (map[string]any, error) {
	return templating.NormalizeMap(map[string]any{
		"parameters": s.parameters,
		"steps":      s.steps,
		"target":     s.target,
		"user":       s.user,
	})
}
