package memory

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed seed_facts.yaml
var seedFactsYAML []byte

// SeedFact is one curated knowledge-base entry shipped with the service.
type SeedFact struct {
	Fact     string `yaml:"fact"`
	FactType string `yaml:"fact_type"`
	Category string `yaml:"category"`
	Context  string `yaml:"context"`
	Source   string `yaml:"source"`
}

// LoadSeedFacts parses the embedded seed list.
func LoadSeedFacts() ([]SeedFact, error) {
	var facts []SeedFact
	if err := yaml.Unmarshal(seedFactsYAML, &facts); err != nil {
		return nil, fmt.Errorf("failed to parse seed facts: %w", err)
	}
	return facts, nil
}
