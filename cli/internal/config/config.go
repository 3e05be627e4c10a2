// Package config holds crmctl's profile file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultIngestURL = "http://localhost:8088"

type Config struct {
	CurrentProfile string              `yaml:"current_profile"`
	Profiles       map[string]*Profile `yaml:"profiles"`
	Defaults       *Profile            `yaml:"defaults"`
	path           string
}

// Profile points crmctl at one ingest deployment. Secrets maps a
// webhook_id to the shared secret injected by `crmctl send`.
type Profile struct {
	IngestURL   string            `yaml:"ingest_url"`
	DatabaseURL string            `yaml:"database_url,omitempty"`
	Secrets     map[string]string `yaml:"secrets,omitempty"`
}

func Default() *Config {
	return &Config{
		CurrentProfile: "default",
		Profiles:       make(map[string]*Profile),
		Defaults:       &Profile{IngestURL: defaultIngestURL},
	}
}

// DefaultPath is ~/.crmctl/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".crmctl", "config.yaml"), nil
}

// Load reads path, or DefaultPath when empty. A missing file yields Default.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*Profile)
	}
	if cfg.Defaults == nil {
		cfg.Defaults = &Profile{}
	}
	if cfg.Defaults.IngestURL == "" {
		cfg.Defaults.IngestURL = defaultIngestURL
	}
	return cfg, nil
}

func (c *Config) Path() string { return c.path }

func (c *Config) Save() error {
	if c.path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		c.path = p
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	// Profiles carry shared secrets.
	return os.WriteFile(c.path, data, 0600)
}

// SetSecret stores secret for kind under the named profile, creating it.
func (c *Config) SetSecret(profile, kind, secret string) error {
	if profile == "" {
		profile = c.CurrentProfile
	}
	p, ok := c.Profiles[profile]
	if !ok {
		p = &Profile{}
		c.Profiles[profile] = p
	}
	if p.Secrets == nil {
		p.Secrets = make(map[string]string)
	}
	p.Secrets[kind] = secret
	return c.Save()
}

// Resolve returns the named profile (or the current one) with unset fields
// filled from Defaults. An unknown name that is not the current profile is
// an error.
func (c *Config) Resolve(name string) (*Profile, error) {
	if name == "" {
		name = c.CurrentProfile
	}
	p, ok := c.Profiles[name]
	if !ok {
		if name != c.CurrentProfile {
			return nil, fmt.Errorf("profile '%s' not found", name)
		}
		p = &Profile{}
	}

	out := &Profile{
		IngestURL:   p.IngestURL,
		DatabaseURL: p.DatabaseURL,
		Secrets:     make(map[string]string),
	}
	if out.IngestURL == "" {
		out.IngestURL = c.Defaults.IngestURL
	}
	if out.DatabaseURL == "" {
		out.DatabaseURL = c.Defaults.DatabaseURL
	}
	for k, v := range c.Defaults.Secrets {
		out.Secrets[k] = v
	}
	for k, v := range p.Secrets {
		out.Secrets[k] = v
	}
	return out, nil
}
