package metamodel

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/syssam/persist"
)

// MappingDocument is the YAML form of a set of entity mappings.
//
//	entities:
//	  - name: Employee
//	    id: {generator: uuid}
//	    attributes:
//	      - name: name
//	      - {name: manager, kind: many-to-one, target: Employee}
type MappingDocument struct {
	Entities []EntityDef `yaml:"entities"`
}

// LoadMapping decodes a YAML mapping document and builds its metamodel.
func LoadMapping(data []byte, opts ...Option) (*Metamodel, error) {
	var doc MappingDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &persist.MappingError{Message: "cannot decode mapping document", Cause: err}
	}
	if len(doc.Entities) == 0 {
		return nil, persist.NewMappingError("", "", "mapping document declares no entities")
	}
	return New(doc.Entities, opts...)
}

// LoadMappingFiles reads and merges mapping documents from the given paths.
func LoadMappingFiles(paths []string, opts ...Option) (*Metamodel, error) {
	var defs []EntityDef
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("metamodel: read mapping: %w", err)
		}
		var doc MappingDocument
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, &persist.MappingError{Entity: p, Message: "cannot decode mapping document", Cause: err}
		}
		defs = append(defs, doc.Entities...)
	}
	return New(defs, opts...)
}
