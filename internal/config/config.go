// Package config loads project-local compiler configuration from
// .intentc/config.yaml. CLI flags always override file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds project configuration.
type Config struct {
	// DefaultTarget is the generator used when --target is omitted.
	DefaultTarget string `yaml:"default_target,omitempty"`
	// DefaultOutput is the output directory used when --output is omitted.
	DefaultOutput string `yaml:"default_output,omitempty"`
	// AuthActions disables auth-action injection when set to false.
	// Nil means unset (injection stays on).
	AuthActions *bool `yaml:"auth_actions,omitempty"`
	// TargetOptions are free-form per-target option maps passed to the
	// selected backend.
	TargetOptions map[string]map[string]string `yaml:"target_options,omitempty"`
}

// InjectAuthActions reports whether the preprocessing pass is enabled.
func (c *Config) InjectAuthActions() bool {
	return c.AuthActions == nil || *c.AuthActions
}

// OptionsFor returns the option map for a target (never nil).
func (c *Config) OptionsFor(target string) map[string]string {
	if opts, ok := c.TargetOptions[target]; ok {
		return opts
	}
	return map[string]string{}
}

// configFileName is the configuration file path relative to the project root.
const configFileName = ".intentc/config.yaml"

// Load reads the project configuration from .intentc/config.yaml in the
// given project directory. A missing file is not an error: it returns a
// zero Config, same as an empty file.
func Load(projectDir string) (*Config, error) {
	return LoadFile(filepath.Join(projectDir, configFileName))
}

// LoadFile reads configuration from an explicit path (the --config flag).
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to .intentc/config.yaml, creating the directory
// if needed.
func Save(projectDir string, cfg *Config) error {
	dir := filepath.Join(projectDir, ".intentc")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating .intentc directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	path := filepath.Join(projectDir, configFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
