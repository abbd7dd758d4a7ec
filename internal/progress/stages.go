package progress

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StageDef names a stage and its share of the total work
type StageDef struct {
	Name   string `yaml:"name"`
	Weight int    `yaml:"weight"`
}

// DefaultStages is the standard seven-stage ticket lifecycle. Weights
// sum to 100 and reflect the typical share of wall-clock time.
func DefaultStages() []StageDef {
	return []StageDef{
		{Name: "analyze", Weight: 10},
		{Name: "plan", Weight: 10},
		{Name: "implement", Weight: 40},
		{Name: "test", Weight: 20},
		{Name: "review", Weight: 10},
		{Name: "document", Weight: 5},
		{Name: "finalize", Weight: 5},
	}
}

// defaultWeight is assigned to caller-supplied stage names that carry
// no weight of their own, keeping every custom set evenly weighted.
const defaultWeight = 10

// StagesFromNames builds an evenly weighted stage set from bare names
func StagesFromNames(names []string) []StageDef {
	defs := make([]StageDef, len(names))
	for i, name := range names {
		defs[i] = StageDef{Name: name, Weight: defaultWeight}
	}
	return defs
}

// profileFile is the on-disk shape of a stage profile library
type profileFile struct {
	Profiles map[string][]StageDef `yaml:"profiles"`
}

// LoadProfiles reads named stage sets from a YAML file. Each profile
// must have at least one stage and only positive weights.
func LoadProfiles(path string) (map[string][]StageDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing stage profiles: %w", err)
	}

	for name, defs := range file.Profiles {
		if len(defs) == 0 {
			return nil, fmt.Errorf("profile %q has no stages", name)
		}
		for _, def := range defs {
			if def.Name == "" {
				return nil, fmt.Errorf("profile %q has an unnamed stage", name)
			}
			if def.Weight <= 0 {
				return nil, fmt.Errorf("profile %q stage %q: weight must be positive", name, def.Name)
			}
		}
	}

	return file.Profiles, nil
}
