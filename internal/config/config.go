// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Evaluation engine settings
	Eval EvalConfig `yaml:"eval"`

	// Extraction backends
	Engines EnginesConfig `yaml:"engines"`

	// Extraction result cache
	Cache CacheConfig `yaml:"cache"`

	// Progress event bus
	Bus BusConfig `yaml:"bus"`

	// Run history storage
	Store StoreConfig `yaml:"store"`

	// HTTP / gRPC server
	Server ServerConfig `yaml:"server"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// EvalConfig holds metric and runner settings.
type EvalConfig struct {
	Concurrency     int           `envconfig:"DOCBENCH_CONCURRENCY" yaml:"concurrency"`
	FloatPrecision  int           `envconfig:"DOCBENCH_FLOAT_PRECISION" yaml:"float_precision"`
	ClampErrorRates bool          `envconfig:"DOCBENCH_CLAMP_ERROR_RATES" yaml:"clamp_error_rates"`
	WERFoldCase     bool          `envconfig:"DOCBENCH_WER_FOLD_CASE" yaml:"wer_fold_case"`
	ExtractTimeout  time.Duration `envconfig:"DOCBENCH_EXTRACT_TIMEOUT" yaml:"extract_timeout"` // 0 = none
}

// EnginesConfig holds extraction backend settings.
type EnginesConfig struct {
	Enabled       string  `envconfig:"DOCBENCH_ENGINES" yaml:"enabled"` // comma-separated, empty = all available
	Default       string  `envconfig:"DOCBENCH_ENGINE_DEFAULT" yaml:"default"`
	Pdftotext     string  `envconfig:"DOCBENCH_PDFTOTEXT" yaml:"pdftotext"`
	Pdftoppm      string  `envconfig:"DOCBENCH_PDFTOPPM" yaml:"pdftoppm"`
	Tesseract     string  `envconfig:"DOCBENCH_TESSERACT" yaml:"tesseract"`
	TesseractLang string  `envconfig:"DOCBENCH_TESSERACT_LANG" yaml:"tesseract_lang"`
	DPI           int     `envconfig:"DOCBENCH_OCR_DPI" yaml:"dpi"`
	RateLimit     float64 `envconfig:"DOCBENCH_ENGINE_RATE_LIMIT" yaml:"rate_limit"` // calls/sec per engine, 0 = unlimited
	RateBurst     int     `envconfig:"DOCBENCH_ENGINE_RATE_BURST" yaml:"rate_burst"`

	// Remote backends are file-only; a list does not map onto env vars.
	Remote []RemoteEngineConfig `yaml:"remote" ignored:"true"`
}

// RemoteEngineConfig describes a network extraction backend.
type RemoteEngineConfig struct {
	Name       string        `yaml:"name"`
	Protocol   string        `yaml:"protocol"` // http | grpc
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	Extensions []string      `yaml:"extensions"`
}

// CacheConfig holds extraction cache settings.
type CacheConfig struct {
	Type     string        `envconfig:"DOCBENCH_CACHE_TYPE" yaml:"type"` // none | memory | redis
	Size     int           `envconfig:"DOCBENCH_CACHE_SIZE" yaml:"size"`
	TTL      time.Duration `envconfig:"DOCBENCH_CACHE_TTL" yaml:"ttl"` // 0 = no expiry
	RedisURL string        `envconfig:"DOCBENCH_REDIS_URL" yaml:"redis_url"`
}

// BusConfig holds progress event bus settings.
type BusConfig struct {
	Type         string `envconfig:"DOCBENCH_BUS_TYPE" yaml:"type"` // memory | kafka
	KafkaBrokers string `envconfig:"DOCBENCH_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup   string `envconfig:"DOCBENCH_KAFKA_GROUP" yaml:"kafka_group"`
	Topic        string `envconfig:"DOCBENCH_PROGRESS_TOPIC" yaml:"topic"`
	EventLog     string `envconfig:"DOCBENCH_EVENT_LOG" yaml:"event_log"` // JSONL path, empty = off
}

// StoreConfig holds run history settings.
type StoreConfig struct {
	Driver string `envconfig:"DOCBENCH_STORE_DRIVER" yaml:"driver"` // "" (disabled) | sqlite | postgres
	DSN    string `envconfig:"DOCBENCH_STORE_DSN" yaml:"dsn"`
}

// ServerConfig holds serve-mode settings.
type ServerConfig struct {
	Host      string `envconfig:"DOCBENCH_HOST" yaml:"host"`
	Port      int    `envconfig:"DOCBENCH_PORT" yaml:"port"`
	GRPCPort  int    `envconfig:"DOCBENCH_GRPC_PORT" yaml:"grpc_port"`   // 0 = disabled
	RateLimit int    `envconfig:"DOCBENCH_RATE_LIMIT" yaml:"rate_limit"` // requests/sec per client, 0 = disabled

	// DatasetRoot confines dataset paths sent over HTTP. Empty accepts any local path.
	DatasetRoot string `envconfig:"DOCBENCH_DATASET_ROOT" yaml:"dataset_root"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"DOCBENCH_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"DOCBENCH_LOG_FORMAT" yaml:"format"`
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	MetricsEnabled bool   `envconfig:"DOCBENCH_METRICS_ENABLED" yaml:"metrics_enabled"`
	MetricsPath    string `envconfig:"DOCBENCH_METRICS_PATH" yaml:"metrics_path"`
}

// Load loads configuration from defaults, an optional YAML file and the environment,
// in that order of precedence (environment wins).
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	setDefaults(cfg)

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Eval = EvalConfig{
		Concurrency:    4,
		FloatPrecision: 6,
	}

	cfg.Engines = EnginesConfig{
		Pdftotext:     "pdftotext",
		Pdftoppm:      "pdftoppm",
		Tesseract:     "tesseract",
		TesseractLang: "eng",
		DPI:           300,
		RateBurst:     1,
	}

	cfg.Cache = CacheConfig{
		Type:     "none",
		Size:     1024,
		RedisURL: "redis://localhost:6379",
	}

	cfg.Bus = BusConfig{
		Type:       "memory",
		KafkaGroup: "docbench",
		Topic:      "docbench.eval.progress",
	}

	cfg.Server = ServerConfig{
		Host: "0.0.0.0",
		Port: 8080,
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Observability = ObservabilityConfig{
		MetricsEnabled: true,
		MetricsPath:    "/metrics",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Eval.Concurrency < 1 {
		errs = append(errs, "eval.concurrency must be positive")
	}
	if c.Eval.FloatPrecision < 1 || c.Eval.FloatPrecision > 15 {
		errs = append(errs, "eval.float_precision must be between 1 and 15")
	}
	if c.Eval.ExtractTimeout < 0 {
		errs = append(errs, "eval.extract_timeout must not be negative")
	}

	if c.Engines.DPI < 72 {
		errs = append(errs, "engines.dpi must be at least 72")
	}
	if c.Engines.RateLimit < 0 {
		errs = append(errs, "engines.rate_limit must not be negative")
	}
	seen := make(map[string]bool)
	for i, r := range c.Engines.Remote {
		if r.Name == "" {
			errs = append(errs, fmt.Sprintf("engines.remote[%d]: name is required", i))
		} else if seen[r.Name] {
			errs = append(errs, fmt.Sprintf("engines.remote[%d]: duplicate name %s", i, r.Name))
		}
		seen[r.Name] = true
		if r.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("engines.remote[%d]: endpoint is required", i))
		}
		if r.Protocol != "http" && r.Protocol != "grpc" {
			errs = append(errs, fmt.Sprintf("engines.remote[%d]: invalid protocol %q (must be http or grpc)", i, r.Protocol))
		}
	}

	validCacheTypes := map[string]bool{"none": true, "memory": true, "redis": true}
	if !validCacheTypes[c.Cache.Type] {
		errs = append(errs, fmt.Sprintf("invalid cache type: %s (must be none, memory, or redis)", c.Cache.Type))
	}
	if c.Cache.Type == "memory" && c.Cache.Size < 1 {
		errs = append(errs, "cache.size must be positive for the memory cache")
	}

	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}
	if c.Bus.Type == "kafka" && strings.TrimSpace(c.Bus.KafkaBrokers) == "" {
		errs = append(errs, "bus.kafka_brokers is required for the kafka bus")
	}

	validDrivers := map[string]bool{"": true, "sqlite": true, "postgres": true}
	if !validDrivers[c.Store.Driver] {
		errs = append(errs, fmt.Sprintf("invalid store driver: %s (must be sqlite or postgres)", c.Store.Driver))
	}
	if c.Store.Driver != "" && c.Store.DSN == "" {
		errs = append(errs, "store.dsn is required when a store driver is set")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, "server.grpc_port must be between 0 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// EnabledEngines returns the configured engine allow-list, nil meaning all.
func (c *Config) EnabledEngines() []string {
	return SplitList(c.Engines.Enabled)
}

// Address returns the HTTP server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SplitList parses a comma-separated list, dropping blanks. Returns nil for an empty list.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
