package generator

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ifuryst/murmur/internal/models"
)

//go:embed schemas.yaml
var schemasYAML []byte

// Schema is the JSON shape the generator must return for one platform.
type Schema struct {
	Platform models.Platform   `json:"-"`
	Root     map[string]string `json:"root_schema"`
	Common   map[string]string `json:"common_schema"`
	Fields   map[string]string `json:"schema"`
}

type schemaFile struct {
	Root      map[string]string            `yaml:"root_schema"`
	Common    map[string]string            `yaml:"common_schema"`
	Platforms map[string]map[string]string `yaml:"platforms"`
}

var (
	schemasOnce sync.Once
	schemas     map[models.Platform]Schema
	schemasErr  error
)

func loadSchemas() {
	var file schemaFile
	if err := yaml.Unmarshal(schemasYAML, &file); err != nil {
		schemasErr = fmt.Errorf("failed to parse schemas: %w", err)
		return
	}
	schemas = make(map[models.Platform]Schema, len(file.Platforms))
	for name, fields := range file.Platforms {
		p, err := models.ParsePlatform(name)
		if err != nil {
			schemasErr = fmt.Errorf("schemas: %w", err)
			return
		}
		schemas[p] = Schema{Platform: p, Root: file.Root, Common: file.Common, Fields: fields}
	}
}

// SchemaFor returns the output schema of a platform.
func SchemaFor(platform models.Platform) (Schema, error) {
	schemasOnce.Do(loadSchemas)
	if schemasErr != nil {
		return Schema{}, schemasErr
	}
	s, ok := schemas[platform]
	if !ok {
		return Schema{}, fmt.Errorf("no schema for platform %s", platform)
	}
	return s, nil
}

// Keys lists the required platform fields in sorted order.
func (s Schema) Keys() []string {
	keys := make([]string, 0, len(s.Fields))
	for k := range s.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the schema as indented JSON for the prompt.
func (s Schema) String() string {
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}

// Validate checks that body carries every required field.
func (s Schema) Validate(body *models.ContentBody) error {
	for _, key := range s.Keys() {
		if _, ok := body.Schema[key]; !ok {
			return fmt.Errorf("missing schema field %q", key)
		}
	}
	return nil
}
