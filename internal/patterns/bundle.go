package patterns

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// bundleFile is the on-disk YAML shape of a pattern bundle. The rule set is
// plain data so deployments can version and ship it independently of the
// binary.
type bundleFile struct {
	Version  string       `yaml:"version"`
	Patterns []bundleRule `yaml:"patterns"`
}

type bundleRule struct {
	Name        string  `yaml:"name"`
	Pattern     string  `yaml:"pattern"`
	Category    string  `yaml:"category"`
	Severity    float64 `yaml:"severity"`
	Description string  `yaml:"description"`
}

// LoadBundle reads a YAML pattern bundle from path. Entries are validated
// (category names, severity range) but not compiled; compilation happens
// when the patterns are added to a Library.
func LoadBundle(path string) ([]Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern bundle: %w", err)
	}

	var f bundleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pattern bundle: %w", err)
	}

	out := make([]Pattern, 0, len(f.Patterns))
	for _, r := range f.Patterns {
		cat, err := ParseCategory(r.Category)
		if err != nil {
			return nil, fmt.Errorf("pattern bundle entry %q: %w", r.Name, err)
		}
		if r.Severity < 0 || r.Severity > 1 {
			return nil, fmt.Errorf("pattern bundle entry %q: severity %v out of range [0,1]", r.Name, r.Severity)
		}
		out = append(out, Pattern{
			Name:        r.Name,
			Expr:        r.Pattern,
			Category:    cat,
			Severity:    r.Severity,
			Description: r.Description,
		})
	}
	return out, nil
}
