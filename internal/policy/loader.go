package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ConfigurationError reports a rule source that exists but cannot be used.
// It is fatal at startup; on reload the previous rule set stays active.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid rule set: %v", e.Err)
	}
	return fmt.Sprintf("invalid rule set %s: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

type ruleFile struct {
	Rules []ruleDoc `yaml:"rules"`
}

type ruleDoc struct {
	Name      string `yaml:"name"`
	Resource  string `yaml:"resource"`
	Action    string `yaml:"action"`
	Condition string `yaml:"condition"`
	Decision  string `yaml:"decision"`
	Reason    string `yaml:"reason"`
}

// LoadRules reads the rule file at path. A missing file yields an empty rule
// set, which makes the engine deny everything.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn().Str("path", path).Msg("rule file not found - all requests will be denied")
			return []Rule{}, nil
		}
		return nil, &ConfigurationError{Path: path, Err: fmt.Errorf("read file: %w", err)}
	}

	rules, err := ParseRules(data)
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			cfgErr.Path = path
		}
		return nil, err
	}
	return rules, nil
}

// ParseRules decodes a YAML document of the form `rules: [...]`.
func ParseRules(data []byte) ([]Rule, error) {
	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("parse yaml: %w", err)}
	}

	rules := make([]Rule, 0, len(doc.Rules))
	for i, d := range doc.Rules {
		rule, err := d.toRule()
		if err != nil {
			return nil, &ConfigurationError{Err: fmt.Errorf("rule %d: %w", i, err)}
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (d ruleDoc) toRule() (Rule, error) {
	rule := Rule{
		Name:      d.Name,
		Resource:  orWildcard(d.Resource),
		Action:    orWildcard(d.Action),
		Condition: d.Condition,
		Decision:  StatusDeny,
		Reason:    d.Reason,
	}

	if d.Decision != "" {
		status, err := ParseStatus(d.Decision)
		if err != nil {
			return Rule{}, err
		}
		rule.Decision = status
	}

	if rule.Reason == "" {
		name := d.Name
		if name == "" {
			name = "unknown"
		}
		rule.Reason = "Matched rule: " + name
	}

	return rule, nil
}

func orWildcard(s string) string {
	if s == "" {
		return Wildcard
	}
	return s
}
