package namespace

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type document struct {
	Namespaces []Namespace `yaml:"namespaces"`
}

// LoadFile reads namespace definitions from a YAML file.
func LoadFile(path string) ([]Namespace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read namespaces file: %w", err)
	}
	return Parse(data)
}

// Parse decodes namespace definitions. Unknown fields are rejected so a typo
// in a key cannot silently drop a host binding.
func Parse(data []byte) ([]Namespace, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("namespaces file is empty")
		}
		return nil, fmt.Errorf("decode namespaces: %w", err)
	}
	if len(doc.Namespaces) == 0 {
		return nil, errors.New("namespaces file defines no namespaces")
	}
	return doc.Namespaces, nil
}
