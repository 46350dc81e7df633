// Package config loads oteldemo settings from the environment and an optional
// YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/oteldemo/pkg/cycle"
	"github.com/Mindburn-Labs/oteldemo/pkg/observability"
)

// Config holds process configuration.
type Config struct {
	// Server
	Port           string  `envconfig:"PORT" default:"8080"`
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"0"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"0"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Telemetry
	ServiceName       string  `envconfig:"SERVICE_NAME" default:"oteldemo"`
	ServiceVersion    string  `envconfig:"SERVICE_VERSION" default:"1.0.0"`
	ServiceNamespace  string  `envconfig:"SERVICE_NAMESPACE" default:"demo"`
	Environment       string  `envconfig:"ENVIRONMENT" default:"development"`
	Exporter          string  `envconfig:"OTEL_EXPORTER" default:"otlp"`
	OTLPURL           string  `envconfig:"OTLP_URL" default:"localhost:4317"`
	OTLPInsecure      bool    `envconfig:"OTLP_INSECURE" default:"true"`
	OTLPCAFile        string  `envconfig:"OTLP_CA_FILE"`
	SampleRate        float64 `envconfig:"SAMPLE_RATE" default:"1.0"`
	MetricsPrometheus bool    `envconfig:"METRICS_PROMETHEUS" default:"true"`

	// Downstream
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DataDir     string `envconfig:"DATA_DIR" default:"data"`
	TargetURL   string `envconfig:"TARGET_URL" default:"http://example.com"`

	// Demo routes
	RedisURL string  `envconfig:"REDIS_URL"`
	CacheTTL Seconds `envconfig:"CACHE_TTL" default:"30s"`

	// Load generator
	DemoServiceURL string `envconfig:"DEMO_SERVICE_URL" default:"http://localhost:8080/otel-demo"`
	WorkerCount    int    `envconfig:"WORKER_COUNT" default:"2"`

	// ConfigFile optionally points at a YAML file with the cycle windows.
	ConfigFile string `envconfig:"OTELDEMO_CONFIG"`

	File *FileConfig `ignored:"true"`
}

// Seconds is a duration that also accepts a bare number of seconds.
type Seconds time.Duration

// Decode implements envconfig.Decoder.
func (s *Seconds) Decode(value string) error {
	value = strings.TrimSpace(value)
	if n, err := strconv.Atoi(value); err == nil {
		*s = Seconds(time.Duration(n) * time.Second)
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q", value)
	}
	*s = Seconds(d)
	return nil
}

// Duration returns s as a time.Duration.
func (s Seconds) Duration() time.Duration { return time.Duration(s) }

// FileConfig is the YAML file layout.
type FileConfig struct {
	Cycle CycleConfig `yaml:"cycle"`
}

// CycleConfig overrides the injection schedule.
type CycleConfig struct {
	Period  uint64       `yaml:"period"`
	Windows []WindowSpec `yaml:"windows"`
}

// WindowSpec is one behavior window. Min and Max apply to delay windows,
// Message to fail windows.
type WindowSpec struct {
	Kind    string        `yaml:"kind"`
	Lo      uint64        `yaml:"lo"`
	Hi      uint64        `yaml:"hi"`
	Min     time.Duration `yaml:"min"`
	Max     time.Duration `yaml:"max"`
	Message string        `yaml:"message"`
}

// Load reads the environment and, when OTELDEMO_CONFIG is set, the YAML file
// it names. The result is not validated; call Validate.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.ConfigFile != "" {
		file, err := LoadFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg.File = file
	}
	return &cfg, nil
}

// LoadFile reads and parses a YAML configuration file.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var file FileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return &file, nil
}

// Schedule builds the cycle schedule: the file's windows when present,
// otherwise the default cycle.
func (c *Config) Schedule() (*cycle.Schedule, error) {
	if c.File == nil || len(c.File.Cycle.Windows) == 0 {
		return cycle.DefaultSchedule(), nil
	}

	period := c.File.Cycle.Period
	if period == 0 {
		period = cycle.DefaultPeriod
	}

	windows := make([]cycle.Window, 0, len(c.File.Cycle.Windows))
	for _, w := range c.File.Cycle.Windows {
		switch cycle.Kind(w.Kind) {
		case cycle.KindDelay:
			windows = append(windows, cycle.DelayWindow(w.Lo, w.Hi, w.Min, w.Max))
		case cycle.KindFail:
			windows = append(windows, cycle.FailWindow(w.Lo, w.Hi, w.Message))
		default:
			return nil, fmt.Errorf("unknown window kind %q", w.Kind)
		}
	}
	return cycle.NewSchedule(period, windows...)
}

// Validate checks every setting the server relies on.
func (c *Config) Validate() error {
	if _, err := semver.NewVersion(c.ServiceVersion); err != nil {
		return fmt.Errorf("SERVICE_VERSION %q is not a semantic version: %w", c.ServiceVersion, err)
	}
	if !observability.Exporter(c.Exporter).Valid() {
		return fmt.Errorf("OTEL_EXPORTER must be one of otlp, stdout, none; got %q", c.Exporter)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("SAMPLE_RATE must be within [0,1], got %v", c.SampleRate)
	}
	if port, err := strconv.Atoi(c.Port); err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("PORT %q is not a valid port", c.Port)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.WorkerCount)
	}
	if _, err := c.Schedule(); err != nil {
		return fmt.Errorf("invalid cycle: %w", err)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string { return ":" + c.Port }

// Observability maps the settings onto the telemetry provider config.
func (c *Config) Observability() *observability.Config {
	oc := observability.DefaultConfig()
	oc.ServiceName = c.ServiceName
	oc.ServiceNamespace = c.ServiceNamespace
	oc.ServiceVersion = c.ServiceVersion
	oc.Environment = c.Environment
	oc.OTLPEndpoint = c.OTLPURL
	oc.Insecure = c.OTLPInsecure
	oc.CAFile = c.OTLPCAFile
	oc.SampleRate = c.SampleRate
	oc.Prometheus = c.MetricsPrometheus
	oc.Exporter = observability.Exporter(c.Exporter)
	return oc
}

// Logging maps the settings onto the logger config.
func (c *Config) Logging() observability.LogConfig {
	return observability.LogConfig{
		Level:  c.LogLevel,
		Format: strings.ToLower(c.LogFormat),
	}
}
