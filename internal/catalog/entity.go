package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
)

const DefaultNamespace = "default"

const (
	AnnotationLocation       = "backstage.io/managed-by-location"
	AnnotationSourceLocation = "backstage.io/source-location"
)

// Entity is a catalog entity, the unit a codemod job targets.
type Entity struct {
	APIVersion string         `json:"apiVersion" yaml:"apiVersion"`
	Kind       string         `json:"kind" yaml:"kind"`
	Metadata   Metadata       `json:"metadata" yaml:"metadata"`
	Spec       map[string]any `json:"spec,omitempty" yaml:"spec,omitempty"`
	Relations  []Relation     `json:"relations,omitempty" yaml:"relations,omitempty"`
}

type Metadata struct {
	Name        string            `json:"name" yaml:"name"`
	Namespace   string            `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Title       string            `json:"title,omitempty" yaml:"title,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty" yaml:"annotations,omitempty"`
	Tags        []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
}

type Relation struct {
	Type      string `json:"type" yaml:"type"`
	TargetRef string `json:"targetRef" yaml:"targetRef"`
}

func (e Entity) Ref() Ref {
	namespace := e.Metadata.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Ref{Kind: e.Kind, Namespace: namespace, Name: e.Metadata.Name}
}

func (e Entity) Validate() error {
	if strings.TrimSpace(e.Kind) == "" {
		return fmt.Errorf("entity kind is required")
	}
	if strings.TrimSpace(e.Metadata.Name) == "" {
		return fmt.Errorf("entity name is required")
	}
	return nil
}

// Document returns the entity as a generic JSON object, the shape filters and
// templates see.
func (e Entity) Document() (map[string]any, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal entity: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal entity: %w", err)
	}
	return doc, nil
}

// BaseURL is where the entity definition lives, used to resolve relative
// paths. Only url and file locations are meaningful.
func (e Entity) BaseURL() string {
	location := e.Metadata.Annotations[AnnotationSourceLocation]
	if location == "" {
		location = e.Metadata.Annotations[AnnotationLocation]
	}
	if location == "" {
		return ""
	}
	kind, target, ok := strings.Cut(location, ":")
	if !ok {
		return ""
	}
	switch kind {
	case "url":
		return target
	case "file":
		return "file://" + target
	default:
		return ""
	}
}
