package seeder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Degradation kinds.
const (
	KindSpike = "spike"
	KindStep  = "step"
	KindDrift = "drift"
)

// Config represents the complete seeder configuration
type Config struct {
	Version      string              `mapstructure:"version" yaml:"version"`
	Defaults     DefaultsConfig      `mapstructure:"defaults" yaml:"defaults"`
	Metrics      []MetricConfig      `mapstructure:"metrics" yaml:"metrics"`
	Degradations []DegradationConfig `mapstructure:"degradations" yaml:"degradations"`
}

// DefaultsConfig holds default seeder settings
type DefaultsConfig struct {
	Count      int           `mapstructure:"count" yaml:"count"`
	TimeSpread time.Duration `mapstructure:"time_spread" yaml:"time_spread"`
	BatchSize  int           `mapstructure:"batch_size" yaml:"batch_size"`
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`
	Seed       int64         `mapstructure:"seed" yaml:"seed"`
}

// MetricConfig describes the healthy behaviour of one metric.
type MetricConfig struct {
	Name        string            `mapstructure:"name" yaml:"name"`
	Baseline    float64           `mapstructure:"baseline" yaml:"baseline"`
	Jitter      float64           `mapstructure:"jitter" yaml:"jitter"`
	NonNegative bool              `mapstructure:"non_negative" yaml:"non_negative"`
	Tags        map[string]string `mapstructure:"tags" yaml:"tags"`
}

// DegradationConfig injects a fault into one metric's series. Start is the
// fraction of the series after which the fault begins.
type DegradationConfig struct {
	Name      string  `mapstructure:"name" yaml:"name"`
	Metric    string  `mapstructure:"metric" yaml:"metric"`
	Kind      string  `mapstructure:"kind" yaml:"kind"`
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
	Start     float64 `mapstructure:"start" yaml:"start"`
	Magnitude float64 `mapstructure:"magnitude" yaml:"magnitude"`
	// Length is the number of spiked points; spikes only.
	Length int `mapstructure:"length" yaml:"length"`
}

// LoadConfig loads configuration with cascade: env > ./seeder.yaml > ~/.qactl/seeder.yaml > defaults
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("seeder")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SEEDER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".qactl"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("version", "1.0")

	v.SetDefault("defaults.count", 240)
	v.SetDefault("defaults.time_spread", 4*time.Hour)
	v.SetDefault("defaults.batch_size", 50)
	v.SetDefault("defaults.interval", 0)
	v.SetDefault("defaults.seed", 0)

	v.SetDefault("metrics", []map[string]interface{}{
		{"name": "api.latency_ms", "baseline": 120.0, "jitter": 8.0, "non_negative": true},
		{"name": "api.failure_rate", "baseline": 0.01, "jitter": 0.002, "non_negative": true},
		{"name": "render.time_ms", "baseline": 450.0, "jitter": 25.0, "non_negative": true},
	})
	v.SetDefault("degradations", []map[string]interface{}{
		{"name": "latency-spike", "metric": "api.latency_ms", "kind": KindSpike, "enabled": true, "start": 0.9, "magnitude": 400.0, "length": 3},
		{"name": "failure-step", "metric": "api.failure_rate", "kind": KindStep, "enabled": false, "start": 0.8, "magnitude": 0.2},
		{"name": "render-drift", "metric": "render.time_ms", "kind": KindDrift, "enabled": false, "start": 0.5, "magnitude": 300.0},
	})
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Defaults.Count <= 0 {
		return fmt.Errorf("count must be positive, got %d", c.Defaults.Count)
	}
	if c.Defaults.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.Defaults.BatchSize)
	}
	if len(c.Metrics) == 0 {
		return errors.New("at least one metric is required")
	}

	known := make(map[string]bool, len(c.Metrics))
	for i, m := range c.Metrics {
		if m.Name == "" {
			return fmt.Errorf("metric %d: name is required", i)
		}
		if m.Jitter < 0 {
			return fmt.Errorf("metric %s: jitter must not be negative", m.Name)
		}
		known[m.Name] = true
	}

	for i, d := range c.Degradations {
		if d.Name == "" {
			return fmt.Errorf("degradation %d: name is required", i)
		}
		if !known[d.Metric] {
			return fmt.Errorf("degradation %s: unknown metric %q", d.Name, d.Metric)
		}
		switch d.Kind {
		case KindSpike:
			if d.Length <= 0 {
				c.Degradations[i].Length = 1
			}
		case KindStep, KindDrift:
		default:
			return fmt.Errorf("degradation %s: unknown kind %q", d.Name, d.Kind)
		}
		if d.Start < 0 || d.Start >= 1 {
			return fmt.Errorf("degradation %s: start must be in [0, 1)", d.Name)
		}
	}

	return nil
}

// GetDegradation returns a specific degradation by name
func (c *Config) GetDegradation(name string) (DegradationConfig, bool) {
	for _, d := range c.Degradations {
		if d.Name == name {
			return d, true
		}
	}
	return DegradationConfig{}, false
}

// GetEnabledDegradations returns only enabled degradations
func (c *Config) GetEnabledDegradations() []DegradationConfig {
	var enabled []DegradationConfig
	for _, d := range c.Degradations {
		if d.Enabled {
			enabled = append(enabled, d)
		}
	}
	return enabled
}
