package codemod

import (
	"fmt"
	"strings"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/catalog"
)

// LoadFile reads the codemod definitions of a YAML file. Other kinds in
// the file are ignored.
func LoadFile(path string) ([]Definition, error) {
	entities, err := catalog.LoadFile(path)
	if err != nil {
		return nil, err
	}
	var out []Definition
	for _, entity := range entities {
		if !strings.EqualFold(entity.Kind, Kind) {
			continue
		}
		def, err := FromEntity(entity)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: no %s entity found", path, Kind)
	}
	return out, nil
}
