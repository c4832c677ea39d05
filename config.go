package ubac

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is a declarative snapshot of engine state: grants, attributes,
// rules, and role memberships. Applying it upserts everything it names and
// leaves the rest of the stores untouched.
type Config struct {
	Version     int              `json:"version" yaml:"version"`
	Grants      []*Grant         `json:"grants,omitempty" yaml:"grants,omitempty"`
	Attributes  []*Attribute     `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Rules       []Rule           `json:"rules,omitempty" yaml:"rules,omitempty"`
	Memberships []RoleMembership `json:"memberships,omitempty" yaml:"memberships,omitempty"`
}

// RoleMembership links a principal to a role in the directory.
type RoleMembership struct {
	Principal string `json:"principal" yaml:"principal"`
	Role      string `json:"role" yaml:"role"`
}

// ConfigLoader loads configuration from YAML or JSON.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile picks the format from the file extension.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.LoadYAML(data)
	case ".json":
		return l.LoadJSON(data)
	default:
		return nil, fmt.Errorf("%w: unsupported config extension %q", ErrInvalidArgument, filepath.Ext(path))
	}
}

// ToYAML exports the config to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports the config to indented JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// SaveConfigFile writes the config in the format the extension names.
func SaveConfigFile(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("%w: unsupported config extension %q", ErrInvalidArgument, filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyConfig applies the snapshot to the engine and its stores.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config) error {
	// Grants
	for _, g := range cfg.Grants {
		dup := g.Clone()
		dup.Active = true
		if dup.GrantedAt.IsZero() {
			dup.GrantedAt = e.clock()
		}
		if _, err := e.permissions.Grant(ctx, dup); err != nil {
			return fmt.Errorf("grant %s %s %s to %s: %w", dup.ResourceType, dup.ResourceName, dup.Action, dup.PrincipalName, err)
		}
	}

	// Attributes
	for _, a := range cfg.Attributes {
		if err := e.attributes.Set(ctx, a.Clone()); err != nil {
			return fmt.Errorf("set attribute %s/%s: %w", a.PrincipalName, a.Name, err)
		}
	}

	// Role memberships, when the resolver is a mutable directory
	if dir, ok := e.resolver.(RoleDirectory); ok {
		for _, m := range cfg.Memberships {
			if err := dir.AssignRole(ctx, m.Principal, m.Role); err != nil {
				return fmt.Errorf("assign role %s to %s: %w", m.Role, m.Principal, err)
			}
		}
	} else if len(cfg.Memberships) > 0 {
		return fmt.Errorf("%w: role memberships configured but the resolver is read-only", ErrInvalidArgument)
	}

	// Rules
	if len(cfg.Rules) > 0 {
		if err := e.SetRules(cfg.Rules); err != nil {
			return err
		}
	}
	return nil
}
