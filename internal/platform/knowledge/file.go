package knowledge

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileSchema is the on-disk YAML layout for a knowledge base override.
type fileSchema struct {
	Conditions []Condition `yaml:"conditions"`
	Symptoms   []string    `yaml:"symptoms"`
}

// LoadFile reads a knowledge base from a YAML file. The file fully replaces
// the embedded defaults; validation is identical to New.
func LoadFile(path string) (*Base, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge file: %w", err)
	}
	var doc fileSchema
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse knowledge file %s: %w", path, err)
	}
	b, err := New(doc.Conditions, doc.Symptoms...)
	if err != nil {
		return nil, fmt.Errorf("knowledge file %s: %w", path, err)
	}
	return b, nil
}
