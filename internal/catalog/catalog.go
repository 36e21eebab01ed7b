// Package catalog provides the activity definitions used to seed a fresh store.
package catalog

import (
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"example.com/roster/internal/domain"
)

//go:embed activities.yaml
var defaultCatalog []byte

type definition struct {
	Name            string   `yaml:"name"`
	Description     string   `yaml:"description"`
	Schedule        string   `yaml:"schedule"`
	MaxParticipants int      `yaml:"max_participants"`
	Participants    []string `yaml:"participants"`
}

// Default returns the built-in school catalog.
func Default() ([]domain.Activity, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from a YAML file.
func Load(path string) ([]domain.Activity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML catalog and validates it.
func Parse(raw []byte) ([]domain.Activity, error) {
	var defs []definition
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	activities := make([]domain.Activity, 0, len(defs))
	for _, d := range defs {
		participants := d.Participants
		if participants == nil {
			participants = []string{}
		}
		activities = append(activities, domain.Activity{
			Name:         d.Name,
			Description:  d.Description,
			Schedule:     d.Schedule,
			Capacity:     d.MaxParticipants,
			Participants: participants,
		})
	}
	if err := domain.ValidateCatalog(activities); err != nil {
		return nil, err
	}
	return activities, nil
}
