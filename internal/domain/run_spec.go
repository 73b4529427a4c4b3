package domain

import (
	"fmt"
	"strings"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/catalog"
)

// APIVersionV1Alpha1 is the only codemod spec version workers execute.
const APIVersionV1Alpha1 = "codemod/v1alpha1"

// RunSpec is the immutable description of a run, shared by all of its jobs.
type RunSpec struct {
	APIVersion  string         `json:"apiVersion" yaml:"apiVersion"`
	Targets     catalog.Filter `json:"targets" yaml:"targets"`
	Constraints catalog.Filter `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Parameters  Metadata       `json:"parameters" yaml:"parameters"`
	Steps       []Step         `json:"steps" yaml:"steps"`
	Output      Metadata       `json:"output" yaml:"output"`
	CodemodInfo *CodemodInfo   `json:"codemodInfo,omitempty" yaml:"codemodInfo,omitempty"`
	User        *UserInfo      `json:"user,omitempty" yaml:"user,omitempty"`
}

// Step is one action invocation inside a codemod.
// If holds either a boolean or a templated expression.
type Step struct {
	ID     string   `json:"id" yaml:"id"`
	Name   string   `json:"name" yaml:"name"`
	Action string   `json:"action" yaml:"action"`
	Input  Metadata `json:"input,omitempty" yaml:"input,omitempty"`
	If     any      `json:"if,omitempty" yaml:"if,omitempty"`
}

type CodemodInfo struct {
	EntityRef string         `json:"entityRef" yaml:"entityRef"`
	BaseURL   string         `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Entity    *CodemodEntity `json:"entity,omitempty" yaml:"entity,omitempty"`
}

type CodemodEntity struct {
	Metadata catalog.Metadata `json:"metadata" yaml:"metadata"`
}

// UserInfo identifies the user who dispatched a run.
type UserInfo struct {
	Entity *catalog.Entity `json:"entity,omitempty" yaml:"entity,omitempty"`
	Ref    string          `json:"ref,omitempty" yaml:"ref,omitempty"`
}

func (s RunSpec) Validate() error {
	if strings.TrimSpace(s.APIVersion) == "" {
		return Inputf("apiVersion is required")
	}
	if len(s.Steps) == 0 {
		return Inputf("at least one step is required")
	}
	seen := make(map[string]struct{}, len(s.Steps))
	for i, step := range s.Steps {
		if strings.TrimSpace(step.ID) == "" {
			return Inputf("steps[%d]: id is required", i)
		}
		if strings.TrimSpace(step.Action) == "" {
			return Inputf("steps[%d]: action is required", i)
		}
		if _, ok := seen[step.ID]; ok {
			return Inputf("steps[%d]: duplicate step id %q", i, step.ID)
		}
		seen[step.ID] = struct{}{}
		switch step.If.(type) {
		case nil, bool, string:
		default:
			return Inputf("steps[%d]: if must be a boolean or a string", i)
		}
	}
	return nil
}

// WithStepDefaults returns a copy of steps where missing ids are numbered
// from 1 and missing names fall back to the action id.
func WithStepDefaults(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, step := range steps {
		if strings.TrimSpace(step.ID) == "" {
			step.ID = fmt.Sprintf("step-%d", i+1)
		}
		if strings.TrimSpace(step.Name) == "" {
			step.Name = step.Action
		}
		out[i] = step
	}
	return out
}
