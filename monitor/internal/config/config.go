package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the QA monitor service.
type Config struct {
	Server        ServerConfig       `mapstructure:"server"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Auth          AuthConfig         `mapstructure:"auth"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Redis         RedisConfig        `mapstructure:"redis"`
	NATS          NATSConfig         `mapstructure:"nats"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Quality       QualityConfig      `mapstructure:"quality"`
	Detector      DetectorConfig     `mapstructure:"detector"`
	MetricStore   MetricStoreConfig  `mapstructure:"metric_store"`
	Incidents     IncidentConfig     `mapstructure:"incidents"`
	Alerts        AlertConfig        `mapstructure:"alerts"`
	Notifications NotificationConfig `mapstructure:"notifications"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig holds the HS256 secret for operator tokens. Empty disables auth.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// DatabaseConfig selects PostgreSQL persistence. When disabled the monitor
// keeps state in memory.
type DatabaseConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	// Ephemeral must be set to run without Postgres. Reports and incidents
	// then live in memory and are lost on restart.
	Ephemeral      bool           `mapstructure:"ephemeral"`
	MigrationsPath string         `mapstructure:"migrations_path"`
	Postgres       PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString returns a postgres:// URL usable by pgx and migrate.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// RedisConfig backs the alert delivery log.
type RedisConfig struct {
	URL        string `mapstructure:"url"`
	Enabled    bool   `mapstructure:"enabled"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

type NATSConfig struct {
	URL             string `mapstructure:"url"`
	Enabled         bool   `mapstructure:"enabled"`
	DeadLetterQueue string `mapstructure:"dead_letter_stream"`
}

// StorageConfig points at the OpenSearch cluster archiving reports and alerts.
type StorageConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	Insecure    bool   `mapstructure:"insecure"`
	IndexPrefix string `mapstructure:"index_prefix"`
}

type WeightsConfig struct {
	Technical     float64 `mapstructure:"technical"`
	Brand         float64 `mapstructure:"brand"`
	ContentSafety float64 `mapstructure:"content_safety"`
	Visual        float64 `mapstructure:"visual"`
}

func (w WeightsConfig) Sum() float64 {
	return w.Technical + w.Brand + w.ContentSafety + w.Visual
}

type QualityConfig struct {
	Weights           WeightsConfig `mapstructure:"weights"`
	PassThreshold     float64       `mapstructure:"pass_threshold"`
	MinWidth          int           `mapstructure:"min_width"`
	MinHeight         int           `mapstructure:"min_height"`
	AllowedFormats    []string      `mapstructure:"allowed_formats"`
	MaxFileSize       int64         `mapstructure:"max_file_size"`
	MinAspectRatio    float64       `mapstructure:"min_aspect_ratio"`
	MaxAspectRatio    float64       `mapstructure:"max_aspect_ratio"`
	TechnicalPenalty  float64       `mapstructure:"technical_penalty"`
	ColorTolerance    float64       `mapstructure:"color_tolerance"`
	DominantColors    int           `mapstructure:"dominant_colors"`
	MissingElementCap float64       `mapstructure:"missing_element_cap"`
	RequiredElements  []string      `mapstructure:"required_elements"`
	ProhibitedWords   []string      `mapstructure:"prohibited_words"`
	MessageMinLength  int           `mapstructure:"message_min_length"`
	MessageMaxLength  int           `mapstructure:"message_max_length"`
	BrightnessMin     float64       `mapstructure:"brightness_min"`
	BrightnessMax     float64       `mapstructure:"brightness_max"`
	ContrastMin       float64       `mapstructure:"contrast_min"`
	ContrastMax       float64       `mapstructure:"contrast_max"`
	MaxPixels         int           `mapstructure:"max_pixels"`
	MaxSampledPixels  int           `mapstructure:"max_sampled_pixels"`
}

// MetricRuleConfig sets static bounds and classification for one metric.
type MetricRuleConfig struct {
	Metric    string   `mapstructure:"metric"`
	Floor     *float64 `mapstructure:"floor"`
	Ceiling   *float64 `mapstructure:"ceiling"`
	K         float64  `mapstructure:"k"`
	// Aggregate is "last" (default) or "mean".
	Aggregate string   `mapstructure:"aggregate"`
	EventType string   `mapstructure:"event_type"`
}

type DetectorConfig struct {
	Interval            time.Duration      `mapstructure:"interval"`
	WindowSize          int                `mapstructure:"window_size"`
	WindowDuration      time.Duration      `mapstructure:"window_duration"`
	MinSamples          int                `mapstructure:"min_samples"`
	K                   float64            `mapstructure:"k"`
	DriftTicks          int                `mapstructure:"drift_ticks"`
	DriftMinChange      float64            `mapstructure:"drift_min_change"`
	RelativeStdDevFloor float64            `mapstructure:"relative_stddev_floor"`
	Rules               []MetricRuleConfig `mapstructure:"rules"`
}

type MetricStoreConfig struct {
	Retention        time.Duration `mapstructure:"retention"`
	MaxPerMetric     int           `mapstructure:"max_per_metric"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

type IncidentConfig struct {
	Cooldown          time.Duration `mapstructure:"cooldown"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	// Failing reports with a composite below this open an incident.
	QualityThreshold  float64       `mapstructure:"quality_threshold"`
	// Composite below which a quality incident is critical.
	CriticalComposite float64       `mapstructure:"critical_composite"`
	EventQueueSize    int           `mapstructure:"event_queue_size"`
}

type AlertConfig struct {
	Routes         map[string][]string      `mapstructure:"routes"`
	Cooldowns      map[string]time.Duration `mapstructure:"cooldowns"`
	Workers        int                      `mapstructure:"workers"`
	QueueSize      int                      `mapstructure:"queue_size"`
	MaxAttempts    int                      `mapstructure:"max_attempts"`
	InitialBackoff time.Duration            `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration            `mapstructure:"max_backoff"`
}

// ChannelConfig describes where one audience's alerts go.
type ChannelConfig struct {
	Type    string        `mapstructure:"type"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type NotificationConfig struct {
	Channels map[string]ChannelConfig `mapstructure:"channels"`
}

var knownAudiences = map[string]bool{"executive": true, "creative": true, "it": true, "client": true}

var knownSeverities = map[string]bool{"info": true, "warning": true, "critical": true}

var knownEventTypes = map[string]bool{"performance": true, "quality-breach": true, "api-failure": true, "brand-compliance": true}

var knownAggregates = map[string]bool{"": true, "last": true, "mean": true}

var knownChannels = map[string]bool{"webhook": true, "slack": true, "log": true}

// Load reads configuration from the optional file at configPath, then lets
// QAMON_* environment variables override it.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("QAMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "20s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.ephemeral", false)
	v.SetDefault("database.migrations_path", "file://migrations")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "creative_qa")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "creative_qa")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.key_prefix", "qa:alert")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.dead_letter_stream", "QA_ALERTS_DLQ")

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.url", "https://localhost:9200")
	v.SetDefault("storage.username", "admin")
	v.SetDefault("storage.password", "")
	v.SetDefault("storage.insecure", true)
	v.SetDefault("storage.index_prefix", "creative-qa")

	v.SetDefault("quality.weights.technical", 0.3)
	v.SetDefault("quality.weights.brand", 0.3)
	v.SetDefault("quality.weights.content_safety", 0.2)
	v.SetDefault("quality.weights.visual", 0.2)
	v.SetDefault("quality.pass_threshold", 0.7)
	v.SetDefault("quality.min_width", 800)
	v.SetDefault("quality.min_height", 800)
	v.SetDefault("quality.allowed_formats", []string{"png", "jpeg", "jpg", "gif", "mp4", "mov", "webm"})
	v.SetDefault("quality.max_file_size", 10*1024*1024)
	v.SetDefault("quality.min_aspect_ratio", 0.5)
	v.SetDefault("quality.max_aspect_ratio", 2.0)
	v.SetDefault("quality.technical_penalty", 0.25)
	v.SetDefault("quality.color_tolerance", 60.0)
	v.SetDefault("quality.dominant_colors", 5)
	v.SetDefault("quality.missing_element_cap", 0.5)
	v.SetDefault("quality.required_elements", []string{"brand_logo", "product_name", "campaign_message"})
	v.SetDefault("quality.prohibited_words", []string{"free", "win", "winner", "prize", "contest", "sweepstakes"})
	v.SetDefault("quality.message_min_length", 10)
	v.SetDefault("quality.message_max_length", 200)
	v.SetDefault("quality.brightness_min", 50.0)
	v.SetDefault("quality.brightness_max", 200.0)
	v.SetDefault("quality.contrast_min", 25.0)
	v.SetDefault("quality.contrast_max", 110.0)
	v.SetDefault("quality.max_pixels", 50_000_000)
	v.SetDefault("quality.max_sampled_pixels", 250000)

	v.SetDefault("detector.interval", "30s")
	v.SetDefault("detector.window_size", 20)
	v.SetDefault("detector.window_duration", "15m")
	v.SetDefault("detector.min_samples", 5)
	v.SetDefault("detector.k", 2.0)
	v.SetDefault("detector.drift_ticks", 3)
	v.SetDefault("detector.drift_min_change", 0.01)
	v.SetDefault("detector.relative_stddev_floor", 0.01)
	v.SetDefault("detector.rules", []map[string]interface{}{
		{"metric": "pipeline.success_rate", "floor": 0.85, "event_type": "performance"},
		{"metric": "pipeline.generation_seconds", "ceiling": 300.0, "event_type": "performance"},
		{"metric": "api.failure_rate", "ceiling": 0.1, "event_type": "api-failure"},
		{"metric": "quality.composite", "floor": 0.7, "aggregate": "mean", "event_type": "quality-breach"},
	})

	v.SetDefault("metric_store.retention", "24h")
	v.SetDefault("metric_store.max_per_metric", 10000)
	v.SetDefault("metric_store.snapshot_interval", "5m")

	v.SetDefault("incidents.cooldown", "2h")
	v.SetDefault("incidents.sweep_interval", "1m")
	v.SetDefault("incidents.quality_threshold", 0.7)
	v.SetDefault("incidents.critical_composite", 0.4)
	v.SetDefault("incidents.event_queue_size", 1024)

	v.SetDefault("alerts.routes", map[string][]string{
		"critical": {"executive", "it", "client"},
		"warning":  {"it", "creative"},
		"info":     {"it"},
	})
	v.SetDefault("alerts.cooldowns", map[string]string{
		"executive": "2h",
		"client":    "2h",
		"it":        "30m",
		"creative":  "1h",
	})
	v.SetDefault("alerts.workers", 4)
	v.SetDefault("alerts.queue_size", 256)
	v.SetDefault("alerts.max_attempts", 3)
	v.SetDefault("alerts.initial_backoff", "500ms")
	v.SetDefault("alerts.max_backoff", "10s")

	v.SetDefault("notifications.channels", map[string]interface{}{
		"executive": map[string]interface{}{"type": "log"},
		"creative":  map[string]interface{}{"type": "log"},
		"it":        map[string]interface{}{"type": "log"},
		"client":    map[string]interface{}{"type": "log"},
	})
}

// Validate checks cross-field constraints viper cannot express.
func (c *Config) Validate() error {
	var errs []error

	if !c.Database.Enabled && !c.Database.Ephemeral {
		errs = append(errs, errors.New("database.enabled is false: set database.ephemeral to run with in-memory state"))
	}
	if sum := c.Quality.Weights.Sum(); math.Abs(sum-1) > 1e-6 {
		errs = append(errs, fmt.Errorf("quality weights must sum to 1, got %g", sum))
	}
	if c.Quality.PassThreshold < 0 || c.Quality.PassThreshold > 1 {
		errs = append(errs, fmt.Errorf("quality.pass_threshold must be within [0,1]"))
	}
	if c.Detector.K <= 0 {
		errs = append(errs, errors.New("detector.k must be positive"))
	}
	if c.Detector.MinSamples < 2 {
		errs = append(errs, errors.New("detector.min_samples must be at least 2"))
	}
	if c.Detector.WindowSize < c.Detector.MinSamples {
		errs = append(errs, errors.New("detector.window_size must be at least detector.min_samples"))
	}
	if c.Detector.Interval <= 0 {
		errs = append(errs, errors.New("detector.interval must be positive"))
	}
	for _, r := range c.Detector.Rules {
		if r.Metric == "" {
			errs = append(errs, errors.New("detector rule without metric"))
		}
		if r.EventType != "" && !knownEventTypes[r.EventType] {
			errs = append(errs, fmt.Errorf("detector rule %s: unknown event type %q", r.Metric, r.EventType))
		}
		if r.K < 0 {
			errs = append(errs, fmt.Errorf("detector rule %s: k must not be negative", r.Metric))
		}
		if !knownAggregates[r.Aggregate] {
			errs = append(errs, fmt.Errorf("detector rule %s: unknown aggregate %q", r.Metric, r.Aggregate))
		}
	}
	if c.Incidents.Cooldown <= 0 {
		errs = append(errs, errors.New("incidents.cooldown must be positive"))
	}
	for sev, audiences := range c.Alerts.Routes {
		if !knownSeverities[sev] {
			errs = append(errs, fmt.Errorf("alerts.routes: unknown severity %q", sev))
		}
		for _, a := range audiences {
			if !knownAudiences[a] {
				errs = append(errs, fmt.Errorf("alerts.routes.%s: unknown audience %q", sev, a))
			}
		}
	}
	for a, d := range c.Alerts.Cooldowns {
		if !knownAudiences[a] {
			errs = append(errs, fmt.Errorf("alerts.cooldowns: unknown audience %q", a))
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("alerts.cooldowns.%s must be positive", a))
		}
	}
	if c.Alerts.MaxAttempts < 1 {
		errs = append(errs, errors.New("alerts.max_attempts must be at least 1"))
	}
	for a, ch := range c.Notifications.Channels {
		if !knownAudiences[a] {
			errs = append(errs, fmt.Errorf("notifications.channels: unknown audience %q", a))
		}
		if !knownChannels[ch.Type] {
			errs = append(errs, fmt.Errorf("notifications.channels.%s: unknown type %q", a, ch.Type))
		}
		if (ch.Type == "webhook" || ch.Type == "slack") && ch.URL == "" {
			errs = append(errs, fmt.Errorf("notifications.channels.%s: url is required for %s", a, ch.Type))
		}
	}
	return errors.Join(errs...)
}
