// Package config loads the website binary's configuration: defaults, then
// a YAML file, then WEBSITE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"dqx0.com/go/website/internal/obs"
	"dqx0.com/go/website/website"
)

// EnvPrefix prefixes every environment override, e.g. WEBSITE_SERVER_PORT.
const EnvPrefix = "WEBSITE"

// Config is the root configuration.
type Config struct {
	Server          website.Config  `yaml:"server" envconfig:"SERVER"`
	Logging         obs.LogConfig   `yaml:"logging" envconfig:"LOGGING"`
	Metrics         MetricsConfig   `yaml:"metrics" envconfig:"METRICS"`
	Responder       ResponderConfig `yaml:"responder" envconfig:"RESPONDER"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" split_words:"true"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" split_words:"true"`
	Host      string `yaml:"host" split_words:"true"`
	Port      int    `yaml:"port" split_words:"true"`
	Path      string `yaml:"path" split_words:"true"`
	Namespace string `yaml:"namespace" split_words:"true"`
}

// Address returns host:port of the metrics listener.
func (m MetricsConfig) Address() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// ResponderConfig selects the demo responder.
type ResponderConfig struct {
	Mode        string `yaml:"mode" split_words:"true"` // static, echo
	Status      int    `yaml:"status" split_words:"true"`
	ContentType string `yaml:"content_type" split_words:"true"`
	Body        string `yaml:"body" split_words:"true"`
}

// Load reads configFile, which may be empty or missing, and applies
// environment overrides.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server:  website.DefaultConfig(),
		Logging: obs.DefaultLogConfig(),
		Metrics: MetricsConfig{
			Host:      "127.0.0.1",
			Port:      9090,
			Path:      "/metrics",
			Namespace: "website",
		},
		Responder: ResponderConfig{
			Mode:        "static",
			Status:      200,
			ContentType: "text/plain; charset=utf-8",
			Body:        "Hello, world!\n",
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if _, err := obs.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging format must be json or text, got %q", c.Logging.Format)
	}
	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics port %d out of range", c.Metrics.Port)
		}
		if c.Metrics.Path == "" || c.Metrics.Path[0] != '/' {
			return fmt.Errorf("metrics path %q must start with /", c.Metrics.Path)
		}
	}
	switch c.Responder.Mode {
	case "static":
		if c.Responder.Status < 200 || c.Responder.Status > 599 {
			return fmt.Errorf("responder status %d out of range", c.Responder.Status)
		}
	case "echo":
	default:
		return fmt.Errorf("unknown responder mode %q", c.Responder.Mode)
	}
	if c.ShutdownTimeout < 0 {
		return errors.New("shutdown timeout must not be negative")
	}
	return nil
}
