package website

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dqx0.com/go/website/internal/listener"
	"dqx0.com/go/website/internal/obs"
)

const (
	DefaultHost = "::1"
	DefaultPort = 8080
)

var (
	// ErrInvalidConfig reports settings the server cannot run with.
	ErrInvalidConfig = errors.New("website: invalid configuration")
	// ErrBind reports that the listening socket could not be created.
	ErrBind = errors.New("website: bind failed")
	// ErrClosed is returned by Run and Start after Close.
	ErrClosed = errors.New("website: closed")
)

// Config holds the server settings. Zero limits select the httpx defaults
// and zero timeouts disable the timeout.
type Config struct {
	Host      string `yaml:"host" split_words:"true"`
	Port      int    `yaml:"port" split_words:"true"`
	Backlog   int    `yaml:"backlog" split_words:"true"`
	ReuseAddr bool   `yaml:"reuse_addr" split_words:"true"`
	ReusePort bool   `yaml:"reuse_port" split_words:"true"`
	// Loops is the size of the execution pool; 0 means one per CPU.
	Loops int `yaml:"loops" split_words:"true"`

	MaxHeaderBytes      int   `yaml:"max_header_bytes" split_words:"true"`
	MaxTotalHeaderBytes int   `yaml:"max_total_header_bytes" split_words:"true"`
	MaxBodyBytes        int64 `yaml:"max_body_bytes" split_words:"true"`
	MaxPipelined        int   `yaml:"max_pipelined" split_words:"true"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" split_words:"true"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" split_words:"true"`
	WriteTimeout      time.Duration `yaml:"write_timeout" split_words:"true"`
}

// DefaultConfig returns the loopback defaults.
func DefaultConfig() Config {
	return Config{
		Host:              DefaultHost,
		Port:              DefaultPort,
		Backlog:           listener.DefaultBacklog,
		ReuseAddr:         true,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		WriteTimeout:      30 * time.Second,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if err := c.listener().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Loops < 0 {
		return fmt.Errorf("%w: loops %d", ErrInvalidConfig, c.Loops)
	}
	if c.MaxHeaderBytes < 0 || c.MaxTotalHeaderBytes < 0 || c.MaxBodyBytes < 0 || c.MaxPipelined < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidConfig)
	}
	if c.ReadHeaderTimeout < 0 || c.IdleTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	return nil
}

// Address returns the configured host:port.
func (c Config) Address() string { return c.listener().Address() }

func (c Config) listener() listener.Config {
	return listener.Config{
		Host:      c.Host,
		Port:      c.Port,
		Backlog:   c.Backlog,
		ReuseAddr: c.ReuseAddr,
		ReusePort: c.ReusePort,
	}
}

type options struct {
	cfg   Config
	log   *zap.Logger
	meter obs.Meter
}

// Option configures a Website.
type Option func(*options)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = cfg }
}

func WithHost(host string) Option {
	return func(o *options) { o.cfg.Host = host }
}

func WithPort(port int) Option {
	return func(o *options) { o.cfg.Port = port }
}

// WithBacklog sets the accept queue depth.
func WithBacklog(n int) Option {
	return func(o *options) { o.cfg.Backlog = n }
}

func WithReuseAddr(on bool) Option {
	return func(o *options) { o.cfg.ReuseAddr = on }
}

func WithReusePort(on bool) Option {
	return func(o *options) { o.cfg.ReusePort = on }
}

// WithLoops sets the execution pool size; 0 means one loop per CPU.
func WithLoops(n int) Option {
	return func(o *options) { o.cfg.Loops = n }
}

// WithLimits sets the per-line and total header limits and the body limit.
func WithLimits(maxHeaderBytes, maxTotalHeaderBytes int, maxBodyBytes int64) Option {
	return func(o *options) {
		o.cfg.MaxHeaderBytes = maxHeaderBytes
		o.cfg.MaxTotalHeaderBytes = maxTotalHeaderBytes
		o.cfg.MaxBodyBytes = maxBodyBytes
	}
}

// WithTimeouts sets the read-header, idle and write timeouts.
func WithTimeouts(readHeader, idle, write time.Duration) Option {
	return func(o *options) {
		o.cfg.ReadHeaderTimeout = readHeader
		o.cfg.IdleTimeout = idle
		o.cfg.WriteTimeout = write
	}
}

// WithLogger sets the logger; nil keeps the no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMeter sets where connection and request measurements go.
func WithMeter(m obs.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}
