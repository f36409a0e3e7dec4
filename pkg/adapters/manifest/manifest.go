// Package manifest decodes declarative resource documents shared by the
// desired-state source implementations.
package manifest

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"statesync/pkg/core"
)

type document struct {
	Kind     string `yaml:"kind"`
	Metadata struct {
		Namespace string `yaml:"namespace"`
		Name      string `yaml:"name"`
	} `yaml:"metadata"`
	Spec map[string]any `yaml:"spec"`
}

// Decode reads a multi-document YAML stream into resources. Empty documents
// are skipped; documents missing identity fields or failing to parse yield a
// *core.ParseError naming the originating path.
func Decode(path string, reader io.Reader) ([]core.Resource, error) {
	decoder := yaml.NewDecoder(reader)

	var resources []core.Resource
	for index := 0; ; index++ {
		var doc document
		err := decoder.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &core.ParseError{Path: path, Err: err}
		}
		if doc.Kind == "" && doc.Metadata.Name == "" && doc.Spec == nil {
			continue
		}
		if doc.Kind == "" || doc.Metadata.Name == "" {
			return nil, &core.ParseError{
				Path: path,
				Err:  fmt.Errorf("document %d: kind and metadata.name are required", index),
			}
		}
		resources = append(resources, core.Resource{
			ID: core.ResourceID{
				Kind:      doc.Kind,
				Namespace: doc.Metadata.Namespace,
				Name:      doc.Metadata.Name,
			},
			Spec: doc.Spec,
		})
	}
	return resources, nil
}
