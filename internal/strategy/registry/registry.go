// Package registry loads and holds the process-local, immutable list of
// StrategyDefinitions available to JobEngine.Start. Grounded on the
// teacher's internal/strategyconfig.Load (gopkg.in/yaml.v3 KnownFields
// unmarshal-then-validate pattern), generalized from one monolithic
// strategy config file to a directory of small per-strategy YAML
// documents, one per entry.
package registry

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/wonny/aegis/v13/backend/internal/strategy"
)

// document is the on-disk YAML shape for one strategy definition.
type document struct {
	ID               string            `yaml:"id"`
	Name             string            `yaml:"name"`
	Category         string            `yaml:"category"`
	RiskLevel        string            `yaml:"risk_level"`
	MinScoreDefault  float64           `yaml:"min_score_default"`
	ParameterSchema  []boundDoc        `yaml:"parameter_schema"`
	DefaultParameters map[string]float64 `yaml:"default_parameters"`
}

type boundDoc struct {
	Field  string   `yaml:"field"`
	Min    *float64 `yaml:"min"`
	Max    *float64 `yaml:"max"`
	Weight float64  `yaml:"weight"`
	Hard   bool     `yaml:"hard"`
}

// Entry is one resolved registry record: the immutable definition plus
// its declared defaults, used to seed Parameters when a Start request
// leaves a field unset.
type Entry struct {
	Definition      strategy.Definition
	RiskLevel       string
	DefaultParameters strategy.Parameters
	MinScoreDefault float64
}

// Registry is an immutable, process-lifetime set of strategy entries
// keyed by id, built once at startup.
type Registry struct {
	entries map[string]Entry
	order   []string
}

// Load reads every *.yaml file in dir and builds a Registry. Decoding
// uses KnownFields so a typo'd field fails startup loudly rather than
// silently defaulting, the same discipline the teacher's config loader
// applies to its single strategy-config file.
func Load(dir string) (*Registry, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("glob strategy dir: %w", err)
	}
	reg := &Registry{entries: make(map[string]Entry, len(matches))}
	for _, path := range matches {
		entry, err := loadOne(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if _, exists := reg.entries[entry.Definition.ID]; exists {
			return nil, fmt.Errorf("duplicate strategy id %q in %s", entry.Definition.ID, path)
		}
		reg.entries[entry.Definition.ID] = entry
		reg.order = append(reg.order, entry.Definition.ID)
	}
	sort.Strings(reg.order)
	return reg, nil
}

func loadOne(path string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, err
	}
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Entry{}, err
	}
	if err := validateDocument(doc); err != nil {
		return Entry{}, err
	}

	schema := make(strategy.ParameterSchema, len(doc.ParameterSchema))
	for i, b := range doc.ParameterSchema {
		schema[i] = strategy.Bound{
			Field: b.Field, Min: b.Min, Max: b.Max, Weight: b.Weight, Hard: b.Hard,
		}
	}

	return Entry{
		Definition: strategy.Definition{
			ID: doc.ID, Name: doc.Name, Category: doc.Category, Schema: schema,
		},
		RiskLevel:         doc.RiskLevel,
		DefaultParameters: strategy.Parameters(doc.DefaultParameters),
		MinScoreDefault:   doc.MinScoreDefault,
	}, nil
}

func validateDocument(doc document) error {
	if doc.ID == "" {
		return fmt.Errorf("id: required")
	}
	if doc.Name == "" {
		return fmt.Errorf("name: required")
	}
	if len(doc.ParameterSchema) == 0 {
		return fmt.Errorf("parameter_schema: at least one bound required")
	}
	for _, b := range doc.ParameterSchema {
		if b.Field == "" {
			return fmt.Errorf("parameter_schema: bound with empty field")
		}
		if b.Min == nil && b.Max == nil {
			return fmt.Errorf("parameter_schema[%s]: at least one of min/max required", b.Field)
		}
	}
	return nil
}

// Get returns the entry for id, or (zero, false) when unknown — the
// caller (JobEngine.Start) turns a miss into an UnknownStrategy error.
func (r *Registry) Get(id string) (Entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// List returns every entry in ascending id order.
func (r *Registry) List() []Entry {
	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}
