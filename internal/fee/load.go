package fee

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type fileRule struct {
	Kind   string `yaml:"kind"`
	Amount string `yaml:"amount"`
	Rate   string `yaml:"rate"`
}

type file struct {
	Methods map[string]fileRule `yaml:"methods"`
}

// LoadFile reads a YAML fee table. An empty path yields the Default table.
func LoadFile(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fee rules: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML fee table.
func Parse(raw []byte) (*Table, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode fee rules: %w", err)
	}
	rules := make(map[string]Rule, len(f.Methods))
	for method, fr := range f.Methods {
		r := Rule{Kind: Kind(fr.Kind)}
		if r.Kind == "" {
			r.Kind = KindNone
		}
		var err error
		switch r.Kind {
		case KindFlat:
			r.Amount, err = decimal.NewFromString(fr.Amount)
		case KindPercent:
			r.Rate, err = decimal.NewFromString(fr.Rate)
		}
		if err != nil {
			return nil, &ConfigurationError{Method: method, Reason: err.Error()}
		}
		rules[method] = r
	}
	return NewTable(rules)
}
