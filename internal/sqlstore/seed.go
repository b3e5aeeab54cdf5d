// This file implements seeding field definitions from a YAML file on attach.
package sqlstore

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

// SeedFile is the YAML document read by seeding.
//
//	fields:
//	  - label: Priority
//	    type: button
//	    options: [High, Medium, Low]
type SeedFile struct {
	Fields []SeedField `yaml:"fields"`
}

// SeedField describes one definition to create.
type SeedField struct {
	Name        string   `yaml:"name,omitempty"`
	Label       string   `yaml:"label"`
	Type        string   `yaml:"type"`
	Required    bool     `yaml:"required,omitempty"`
	MultiSelect bool     `yaml:"multiple_selection,omitempty"`
	Options     []string `yaml:"options,omitempty"`
}

// ReadSeedFile parses path.
func ReadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var sf SeedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	return &sf, nil
}

// seedFromFile creates the definitions in path when the fields table is
// empty. Seeding never runs twice against the same database.
func (b *Backend) seedFromFile(path string) error {
	var count int
	if err := b.queryRow("SELECT COUNT(*) FROM fields").Scan(&count); err != nil {
		return fmt.Errorf("counting fields: %w", err)
	}
	if count > 0 {
		return nil
	}
	sf, err := ReadSeedFile(path)
	if err != nil {
		return err
	}

	// Validate everything first so a bad entry leaves the table empty.
	fieldTypes := make([]types.FieldType, len(sf.Fields))
	for i, f := range sf.Fields {
		ft, err := types.ParseFieldType(f.Type)
		if err != nil {
			return fmt.Errorf("seed field %q: %w", f.Label, err)
		}
		if strings.TrimSpace(f.Label) == "" {
			return fmt.Errorf("seed field %d: %w", i, types.ErrInvalidLabel)
		}
		fieldTypes[i] = ft
	}

	for i, f := range sf.Fields {
		ft := fieldTypes[i]
		def := &types.FieldDefinition{
			Name:          f.Name,
			Label:         f.Label,
			Type:          ft,
			IsRequired:    f.Required,
			IsMultiSelect: f.MultiSelect,
		}
		if _, err := b.setField("", def); err != nil {
			return fmt.Errorf("seed field %q: %w", f.Label, err)
		}
		for _, label := range f.Options {
			if _, err := b.setOption("", &types.FieldOption{FieldID: def.ID, Label: label}); err != nil {
				return fmt.Errorf("seed option %q of %q: %w", label, f.Label, err)
			}
		}
	}
	b.log.Info("seeded field definitions", zap.String("file", path), zap.Int("count", len(sf.Fields)))
	return nil
}
