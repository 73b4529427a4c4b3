// Package codemod turns Codemod catalog entities into run specs.
package codemod

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/action"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/catalog"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
)

// Kind is the catalog kind of codemod definitions.
const Kind = "Codemod"

// Definition is a codemod entity with its spec decoded.
type Definition struct {
	Entity      catalog.Entity
	Parameters  []map[string]any
	Constraints catalog.Filter
	Steps       []domain.Step
	Output      domain.Metadata
}

type specDocument struct {
	Parameters  json.RawMessage `json:"parameters"`
	Constraints catalog.Filter  `json:"constraints"`
	Steps       []domain.Step   `json:"steps"`
	Output      domain.Metadata `json:"output"`
}

func FromEntity(entity catalog.Entity) (Definition, error) {
	if !strings.EqualFold(entity.Kind, Kind) {
		return Definition{}, domain.Inputf("entity %s is not a codemod", entity.Ref())
	}
	raw, err := json.Marshal(entity.Spec)
	if err != nil {
		return Definition{}, fmt.Errorf("encode codemod spec: %w", err)
	}
	var doc specDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Definition{}, domain.Inputf("codemod %s has an invalid spec: %v", entity.Ref(), err)
	}
	params, err := decodeParameters(doc.Parameters)
	if err != nil {
		return Definition{}, domain.Inputf("codemod %s: %v", entity.Ref(), err)
	}
	return Definition{
		Entity:      entity,
		Parameters:  params,
		Constraints: doc.Constraints,
		Steps:       doc.Steps,
		Output:      doc.Output,
	}, nil
}

// decodeParameters accepts a single schema or a list of schemas.
func decodeParameters(raw json.RawMessage) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []map[string]any
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("parameters must be a schema or a list of schemas: %w", err)
		}
		return list, nil
	}
	var single map[string]any
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("parameters must be a schema or a list of schemas: %w", err)
	}
	return []map[string]any{single}, nil
}

// Ref is the canonical reference of the codemod.
func (d Definition) Ref() string {
	return d.Entity.Ref().String()
}

// ParameterSchema is the schema a form renders to collect run values. A
// list of schemas is combined with allOf.
func (d Definition) ParameterSchema() map[string]any {
	out := map[string]any{}
	switch len(d.Parameters) {
	case 0:
	case 1:
		for k, v := range d.Parameters[0] {
			out[k] = v
		}
	default:
		all := make([]any, 0, len(d.Parameters))
		for _, p := range d.Parameters {
			all = append(all, p)
		}
		out["allOf"] = all
	}

	description, _ := out["description"].(string)
	if _, ok := out["title"]; !ok {
		switch {
		case description != "":
			out["title"] = description
		case d.Entity.Metadata.Title != "":
			out["title"] = d.Entity.Metadata.Title
		default:
			out["title"] = d.Entity.Metadata.Name
		}
	}
	if _, ok := out["description"]; !ok {
		out["description"] = ""
	}
	return out
}

// ValidateValues checks run values against every parameter schema and
// returns the violations.
func (d Definition) ValidateValues(values map[string]any) ([]string, error) {
	instance, err := normalize(values)
	if err != nil {
		return nil, err
	}
	var violations []string
	for _, schema := range d.Parameters {
		resolved, err := action.CompileSchema(schema)
		if err != nil {
			return nil, domain.Inputf("codemod %s has an invalid parameter schema: %v", d.Ref(), err)
		}
		if resolved == nil {
			continue
		}
		if err := resolved.Validate(instance); err != nil {
			violations = append(violations, err.Error())
		}
	}
	return violations, nil
}

// ToRunSpec builds the spec of a run dispatched by user with values,
// targeting the entities matched by targets.
func (d Definition) ToRunSpec(values map[string]any, targets catalog.Filter, user *domain.UserInfo) domain.RunSpec {
	output := d.Output
	if output == nil {
		output = domain.Metadata{}
	}
	return domain.RunSpec{
		APIVersion:  d.Entity.APIVersion,
		Targets:     catalog.Constrain(targets, d.Constraints),
		Constraints: d.Constraints,
		Parameters:  domain.Metadata(values),
		Steps:       domain.WithStepDefaults(d.Steps),
		Output:      output,
		CodemodInfo: &domain.CodemodInfo{
			EntityRef: d.Ref(),
			BaseURL:   d.Entity.BaseURL(),
			Entity:    &domain.CodemodEntity{Metadata: d.Entity.Metadata},
		},
		User: user,
	}
}

// Validate checks the definition is runnable with the actions of registry.
func (d Definition) Validate(registry *action.Registry) error {
	if d.Entity.APIVersion != domain.APIVersionV1Alpha1 {
		return domain.Inputf("Unsupported apiVersion field in codemod spec: %s", d.Entity.APIVersion)
	}
	for _, schema := range d.Parameters {
		if _, err := action.CompileSchema(schema); err != nil {
			return domain.Inputf("invalid parameter schema: %v", err)
		}
	}
	spec := d.ToRunSpec(nil, nil, nil)
	if err := spec.Validate(); err != nil {
		return err
	}
	if registry == nil {
		return nil
	}
	for _, step := range spec.Steps {
		if _, err := registry.Get(step.Action); err != nil {
			return fmt.Errorf("step %s: %w", step.ID, err)
		}
	}
	return nil
}

// Find loads a codemod by reference; the kind defaults to codemod.
func Find(ctx context.Context, resolver catalog.Resolver, ref string) (Definition, error) {
	parsed, err := catalog.ParseRef(ref, Kind)
	if err != nil {
		return Definition{}, domain.Inputf("%v", err)
	}
	entity, found, err := resolver.EntityByRef(ctx, parsed.String())
	if err != nil {
		return Definition{}, err
	}
	if !found || !strings.EqualFold(entity.Kind, Kind) {
		return Definition{}, domain.NotFoundf("No codemod named %s found", parsed)
	}
	return FromEntity(entity)
}

func normalize(values map[string]any) (map[string]any, error) {
	if values == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, domain.Inputf("values are not valid JSON: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
