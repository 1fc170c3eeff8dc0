package score

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Rules is the externally configurable scoring data.
type Rules struct {
	Agencies Agencies       `yaml:"agencies"`
	Keywords Keywords       `yaml:"keywords"`
	Weights  Weights        `yaml:"weights"`
	Labels   Labels         `yaml:"labels"`
	Anchors  []AnchorWeight `yaml:"anchors"`
}

// Agencies lists organization names per tier. Matching is by substring.
type Agencies struct {
	Primary   []string `yaml:"primary"`
	Secondary []string `yaml:"secondary"`
}

// Keywords holds case-insensitive regular expressions.
type Keywords struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
	Context []string `yaml:"context"`
}

// Weights are the point values of each rule.
type Weights struct {
	Primary          int `yaml:"primary"`
	Secondary        int `yaml:"secondary"`
	IncludeCap       int `yaml:"include_cap"`
	ExcludeCap       int `yaml:"exclude_cap"`
	Context          int `yaml:"context"`
	SecondaryPenalty int `yaml:"secondary_penalty"`
}

// Labels are the human-readable prefixes of reason strings.
type Labels struct {
	Primary          string `yaml:"primary"`
	Secondary        string `yaml:"secondary"`
	Include          string `yaml:"include"`
	Exclude          string `yaml:"exclude"`
	Context          string `yaml:"context"`
	SecondaryPenalty string `yaml:"secondary_penalty"`
}

// AnchorWeight is one entry of the detail-page anchor keyword table.
type AnchorWeight struct {
	Keyword string `yaml:"keyword"`
	Weight  int    `yaml:"weight"`
}

// DefaultRules returns the embedded rule set.
func DefaultRules() Rules {
	var r Rules
	if err := yaml.Unmarshal(defaultRules, &r); err != nil {
		panic(fmt.Sprintf("score: embedded rules: %v", err))
	}
	return r
}

// LoadRules reads a YAML rules file layered over the embedded defaults:
// sections present in the file replace the default ones. An empty path
// returns the defaults.
func LoadRules(path string) (Rules, error) {
	r := DefaultRules()
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("parse rules %s: %w", path, err)
	}
	if _, err := New(r); err != nil {
		return Rules{}, fmt.Errorf("rules %s: %w", path, err)
	}
	return r, nil
}
