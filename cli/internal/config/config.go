package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const DefaultMonitorURL = "http://localhost:8090"

type Config struct {
	CurrentProfile string              `yaml:"current_profile"`
	Profiles       map[string]*Profile `yaml:"profiles"`
	path           string
}

// Profile points qactl at one monitor deployment.
type Profile struct {
	MonitorURL string `yaml:"monitor_url"`
	// Token is an operator bearer token for acknowledge and resolve.
	Token string `yaml:"token,omitempty"`
	// Operator is sent as X-Operator when the monitor runs without auth.
	Operator string `yaml:"operator,omitempty"`
}

func Default() *Config {
	return &Config{
		CurrentProfile: "default",
		Profiles:       make(map[string]*Profile),
	}
}

func defaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".qactl", "config.yaml"), nil
}

func Load(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		p, err := defaultPath()
		if err != nil {
			return nil, err
		}
		cfgFile = p
	}

	cfg := Default()
	cfg.path = cfgFile

	data, err := os.ReadFile(cfgFile)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", cfgFile, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*Profile)
	}
	return cfg, nil
}

func (c *Config) Save() error {
	if c.path == "" {
		p, err := defaultPath()
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
	return os.WriteFile(c.path, data, 0600)
}

// SaveProfile stores p under name and makes it current.
func (c *Config) SaveProfile(name string, p *Profile) error {
	if c.Profiles == nil {
		c.Profiles = make(map[string]*Profile)
	}
	c.Profiles[name] = p
	c.CurrentProfile = name
	return c.Save()
}

// GetProfile returns the named profile, the current one when name is empty.
// A missing profile resolves to the local defaults.
func (c *Config) GetProfile(name string) *Profile {
	if name == "" {
		name = c.CurrentProfile
	}
	if p, ok := c.Profiles[name]; ok {
		out := *p
		if out.MonitorURL == "" {
			out.MonitorURL = DefaultMonitorURL
		}
		return &out
	}
	return &Profile{MonitorURL: DefaultMonitorURL}
}

func (c *Config) RemoveProfile(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("profile '%s' not found", name)
	}
	delete(c.Profiles, name)
	if c.CurrentProfile == name {
		c.CurrentProfile = ""
	}
	return c.Save()
}
