package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"pricewatcher/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Digest    DigestConfig    `mapstructure:"digest"`
	Report    ReportConfig    `mapstructure:"report"`
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// QueueConfig governs the job queue consumers.
type QueueConfig struct {
	Workers       int           `mapstructure:"workers"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	LeaseDuration time.Duration `mapstructure:"lease_duration"`
	ReapInterval  time.Duration `mapstructure:"reap_interval"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
}

// ExtractorConfig parameterises the tiered extraction chain.
type ExtractorConfig struct {
	UserAgent string         `mapstructure:"user_agent"`
	Static    StaticConfig   `mapstructure:"static"`
	Rendered  RenderedConfig `mapstructure:"rendered"`
	Cloud     CloudConfig    `mapstructure:"cloud"`
	AI        AIConfig       `mapstructure:"ai"`
}

// StaticConfig covers the plain HTTP fetch tier.
type StaticConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// RenderedConfig covers the headless-browser tier.
type RenderedConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Stealth  bool          `mapstructure:"stealth"`
	// PoolSize caps concurrent render sessions against the endpoint.
	PoolSize int `mapstructure:"pool_size"`
}

// CloudConfig covers the remote-browser fallback tier. The tier is skipped
// entirely unless both endpoint and token are set.
type CloudConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Token    string        `mapstructure:"token"`
	Proxy    string        `mapstructure:"proxy"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether the cloud fallback has all required configuration.
func (c CloudConfig) Enabled() bool {
	return c.Endpoint != "" && c.Token != ""
}

// AIConfig covers the structured-extraction model call.
type AIConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	MaxHTML  int           `mapstructure:"max_html"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether the structured-extraction sub-step can run.
func (c AIConfig) Enabled() bool {
	return c.APIKey != ""
}

// ScheduleConfig governs the periodic tick that evaluates send slots.
type ScheduleConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// DigestConfig tunes digest orchestration.
type DigestConfig struct {
	ChildPollInterval time.Duration `mapstructure:"child_poll_interval"`
	// MaxWait bounds the fan-in wait. Zero means wait forever.
	MaxWait time.Duration `mapstructure:"max_wait"`
}

// ReportConfig routes the outbound digest payload.
type ReportConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ServerConfig configures the inbound enqueue API.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// MetricsConfig toggles prometheus collectors.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("PRICEWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricewatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.poll_interval", "2s")
	v.SetDefault("queue.lease_duration", "5m")
	v.SetDefault("queue.reap_interval", "1m")
	v.SetDefault("queue.rate_per_second", 1.0)

	v.SetDefault("extractor.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("extractor.static.timeout", "8s")
	v.SetDefault("extractor.rendered.timeout", "45s")
	v.SetDefault("extractor.rendered.stealth", true)
	v.SetDefault("extractor.rendered.pool_size", 3)
	v.SetDefault("extractor.cloud.timeout", "60s")
	v.SetDefault("extractor.ai.model", "gpt-4o-mini")
	v.SetDefault("extractor.ai.max_html", 48000)
	v.SetDefault("extractor.ai.timeout", "30s")

	v.SetDefault("schedule.tick_interval", "30m")
	v.SetDefault("schedule.align_to_bucket", true)
	v.SetDefault("schedule.advisory_lock_key", int64(0x70726977))
	v.SetDefault("schedule.startup_delay", "0s")

	v.SetDefault("digest.child_poll_interval", "2s")
	v.SetDefault("digest.max_wait", "0s")

	v.SetDefault("report.timeout", "15s")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be greater than zero")
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue.poll_interval must be greater than zero")
	}
	if c.Queue.LeaseDuration <= 0 {
		return fmt.Errorf("queue.lease_duration must be greater than zero")
	}
	if c.Schedule.TickInterval <= 0 {
		return fmt.Errorf("schedule.tick_interval must be greater than zero")
	}
	if c.Extractor.Static.Timeout <= 0 {
		return fmt.Errorf("extractor.static.timeout must be greater than zero")
	}
	if c.Digest.ChildPollInterval <= 0 {
		return fmt.Errorf("digest.child_poll_interval must be greater than zero")
	}
	if c.Digest.MaxWait < 0 {
		return fmt.Errorf("digest.max_wait cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Extractor.Cloud.Enabled() && !c.Extractor.AI.Enabled() {
		return fmt.Errorf("extractor.ai.api_key is required when the cloud tier is configured")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
