package mission

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseDefinition parses a YAML mission definition. Unknown fields are
// rejected so a typo in a node knob fails the parse instead of silently
// compiling a different tree.
func ParseDefinition(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("mission definition is empty")
		}
		return nil, fmt.Errorf("parse mission definition: %w", err)
	}
	if def.Name == "" {
		return nil, fmt.Errorf("mission definition has no name")
	}
	if def.Root == nil {
		return nil, fmt.Errorf("mission %q has no root node", def.Name)
	}
	return &def, nil
}

// LoadDefinition reads and parses a YAML mission definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mission definition: %w", err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}
