package policy

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/memgov/memgov/core"
)

// Version is the policy schema version stamped onto every decision and
// audit record produced under this configuration layout.
const Version = "1.0.0"

// TTLKey keys the retention table by (sensitivity, scope).
type TTLKey struct {
	Sensitivity core.Sensitivity `yaml:"sensitivity"`
	Scope       core.Scope       `yaml:"scope"`
}

// TTLRule is one row of the declarative retention table.
type TTLRule struct {
	Sensitivity core.Sensitivity `yaml:"sensitivity"`
	Scope       core.Scope       `yaml:"scope"`
	TTLSeconds  int64            `yaml:"ttl_seconds"`
}

// Config is the declarative policy configuration: the retention table, the
// fallback TTL for combinations outside the table, the hard TTL ceiling and
// the default context budget. It is inspectable data, not branching logic.
type Config struct {
	Version    string    `yaml:"version"`
	TTLRules   []TTLRule `yaml:"ttl_rules"`
	DefaultTTL int64     `yaml:"default_ttl_seconds"`
	MaxTTL     int64     `yaml:"max_ttl_seconds"`

	// Context budget defaults applied by the guard when a request leaves
	// them unset.
	MaxTokens int `yaml:"max_tokens"`
	MaxItems  int `yaml:"max_items"`
}

// DefaultConfig returns the baseline governance configuration. Retention
// tightens with sensitivity and loosens with scope: PII held a day per
// agent, a week per tenant; non-PII thirty and ninety days.
func DefaultConfig() Config {
	return Config{
		Version: Version,
		TTLRules: []TTLRule{
			{Sensitivity: core.SensitivityPII, Scope: core.ScopeAgent, TTLSeconds: 86400},
			{Sensitivity: core.SensitivityPII, Scope: core.ScopeTenant, TTLSeconds: 604800},
			{Sensitivity: core.SensitivityNonPII, Scope: core.ScopeAgent, TTLSeconds: 2592000},
			{Sensitivity: core.SensitivityNonPII, Scope: core.ScopeTenant, TTLSeconds: 7776000},
		},
		DefaultTTL: 86400,
		MaxTTL:     7776000,
		MaxTokens:  4000,
		MaxItems:   50,
	}
}

// LoadConfig parses a YAML policy document. Fields absent from the document
// keep their defaults so a partial override (say, just the TTL table) is a
// valid policy diff.
func LoadConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse policy config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that could not govern anything sensibly.
func (c Config) Validate() error {
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("policy config: default_ttl_seconds must be positive, got %d", c.DefaultTTL)
	}
	if c.MaxTTL <= 0 {
		return fmt.Errorf("policy config: max_ttl_seconds must be positive, got %d", c.MaxTTL)
	}
	for _, r := range c.TTLRules {
		if !r.Sensitivity.Valid() {
			return fmt.Errorf("policy config: unknown sensitivity %q", r.Sensitivity)
		}
		if !r.Scope.Valid() {
			return fmt.Errorf("policy config: unknown scope %q", r.Scope)
		}
		if r.TTLSeconds <= 0 {
			return fmt.Errorf("policy config: ttl for %s/%s must be positive, got %d", r.Sensitivity, r.Scope, r.TTLSeconds)
		}
	}
	return nil
}

// TTLFor looks up the retention for (sensitivity, scope). Unknown
// combinations fall back to DefaultTTL.
func (c Config) TTLFor(sensitivity core.Sensitivity, scope core.Scope) int64 {
	for _, r := range c.TTLRules {
		if r.Sensitivity == sensitivity && r.Scope == scope {
			return r.TTLSeconds
		}
	}
	return c.DefaultTTL
}
