// Package kilnconfig contains the configuration functionality: a validated
// Config struct parsed from YAML, in the shape of internal/buf/bufconfig
// (external struct + yaml tags, a Load entry point, explicit Validate).
// spec.md treats config parsing as an external collaborator producing "a
// validated Config value"; this package gives that value a concrete shape.
package kilnconfig

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/kilnbuild/kiln/internal/kilncore/kilnbundle"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
)

// Mode is the build mode, affecting module id display form (spec.md §3) and
// the cache's on-disk namespace (spec.md §4.6).
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// Entry is one configured build entry: a name used to derive its pot's base
// name (spec.md §4.5 step C) plus a path relative to ProjectRoot.
type Entry struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// BucketRule is the YAML form of a kilnbundle.Rule (spec.md §4.5): a name, a
// matching predicate over module type/path/size, a weight, and min/max size
// targets.
type BucketRule struct {
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	ModuleTypes []string `json:"module_types,omitempty" yaml:"module_types,omitempty"`
	PathPattern string   `json:"path_pattern,omitempty" yaml:"path_pattern,omitempty"`
	MinSize     int      `json:"min_size,omitempty" yaml:"min_size,omitempty"`
	MaxSize     int      `json:"max_size,omitempty" yaml:"max_size,omitempty"`
	Weight      int      `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// PluginConfig names a plugin factory and the parameters passed to it; the
// factory registry itself lives with the embedder (spec.md §9's
// "host-embedding boundary").
type PluginConfig struct {
	Name   string         `json:"name,omitempty" yaml:"name,omitempty"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Config is the user config: entries, project root, mode, cache
// directory/namespace, partial-bundling bucket rules and plugin construction
// parameters (SPEC_FULL.md §1 "Configuration").
type Config struct {
	ProjectRoot       string         `json:"project_root,omitempty" yaml:"project_root,omitempty"`
	Mode              Mode           `json:"mode,omitempty" yaml:"mode,omitempty"`
	Entries           []Entry        `json:"entries,omitempty" yaml:"entries,omitempty"`
	CacheDir          string         `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty"`
	CacheNamespace    string         `json:"cache_namespace,omitempty" yaml:"cache_namespace,omitempty"`
	DefaultMaxPotSize int            `json:"default_max_pot_size,omitempty" yaml:"default_max_pot_size,omitempty"`
	BucketRules       []BucketRule   `json:"bucket_rules,omitempty" yaml:"bucket_rules,omitempty"`
	Plugins           []PluginConfig `json:"plugins,omitempty" yaml:"plugins,omitempty"`
}

// Load reads and parses a Config from path, then validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kilnconfig: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a Config from YAML data, then validates it.
func Parse(data []byte) (*Config, error) {
	config := &Config{Mode: ModeDevelopment}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("kilnconfig: parse: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate reports whether c is a usable config: a project root and at
// least one entry are required, entry names must be unique, and bucket-rule
// path patterns must compile.
func (c *Config) Validate() error {
	if c.ProjectRoot == "" {
		return fmt.Errorf("kilnconfig: project_root is required")
	}
	if len(c.Entries) == 0 {
		return fmt.Errorf("kilnconfig: at least one entry is required")
	}
	if c.Mode == "" {
		c.Mode = ModeDevelopment
	}
	if c.Mode != ModeDevelopment && c.Mode != ModeProduction {
		return fmt.Errorf("kilnconfig: unknown mode %q", c.Mode)
	}
	seen := make(map[string]struct{}, len(c.Entries))
	for _, entry := range c.Entries {
		if entry.Name == "" || entry.Path == "" {
			return fmt.Errorf("kilnconfig: entry missing name or path: %+v", entry)
		}
		if _, dup := seen[entry.Name]; dup {
			return fmt.Errorf("kilnconfig: duplicate entry name %q", entry.Name)
		}
		seen[entry.Name] = struct{}{}
	}
	for _, rule := range c.BucketRules {
		if rule.PathPattern != "" {
			if _, err := regexp.Compile(rule.PathPattern); err != nil {
				return fmt.Errorf("kilnconfig: bucket rule %q: %w", rule.Name, err)
			}
		}
	}
	return nil
}

// Production reports whether the configured mode is ModeProduction.
func (c *Config) Production() bool { return c.Mode == ModeProduction }

// BundleConfig compiles the YAML bucket rules into a kilnbundle.Config,
// compiling each rule's path pattern and module-type list once so the
// partial-bundling engine never touches regexp.Compile per module.
func (c *Config) BundleConfig() (kilnbundle.Config, error) {
	rules := make([]kilnbundle.Rule, 0, len(c.BucketRules))
	for _, r := range c.BucketRules {
		rule := kilnbundle.Rule{
			Name:    r.Name,
			MinSize: r.MinSize,
			MaxSize: r.MaxSize,
			Weight:  r.Weight,
		}
		for _, t := range r.ModuleTypes {
			rule.ModuleTypes = append(rule.ModuleTypes, kilnmodule.Type(t))
		}
		if r.PathPattern != "" {
			pattern, err := regexp.Compile(r.PathPattern)
			if err != nil {
				return kilnbundle.Config{}, fmt.Errorf("kilnconfig: bucket rule %q: %w", r.Name, err)
			}
			rule.PathPattern = pattern
		}
		rules = append(rules, rule)
	}
	return kilnbundle.Config{Rules: rules, DefaultMaxSize: c.DefaultMaxPotSize}, nil
}
