package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// GenePanel defines a named set of gene symbols to query as a batch, for
// example a pathway or a screening panel. Directions limits the batch to the
// listed regulation directions; an empty list means both.
type GenePanel struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Genes       []string `yaml:"genes"`
	Directions  []string `yaml:"directions"`
}

// GenePanels represents the full panel configuration file.
type GenePanels struct {
	Panels []GenePanel `yaml:"panels"`
}

// LoadGenePanels loads panel configuration from the given path. Gene symbols
// are trimmed; empty entries are dropped.
func LoadGenePanels(path string) (*GenePanels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gene panels file: %w", err)
	}
	var cfg GenePanels
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse gene panels file: %w", err)
	}
	for i := range cfg.Panels {
		genes := cfg.Panels[i].Genes[:0]
		for _, g := range cfg.Panels[i].Genes {
			g = strings.TrimSpace(g)
			if g != "" {
				genes = append(genes, g)
			}
		}
		cfg.Panels[i].Genes = genes
	}
	return &cfg, nil
}

// Panel returns the named panel, or nil when it does not exist.
func (p *GenePanels) Panel(name string) *GenePanel {
	for i := range p.Panels {
		if p.Panels[i].Name == name {
			return &p.Panels[i]
		}
	}
	return nil
}
