// Package listener creates the server's listening socket with an explicit
// accept backlog and address/port reuse options.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

const (
	// DefaultBacklog is the accept queue depth used when none is configured.
	DefaultBacklog = 256
	// MaxBacklog bounds the configurable accept queue depth.
	MaxBacklog = 65535
)

// ErrInvalidConfig is returned by Validate and Listen for unusable settings.
var ErrInvalidConfig = errors.New("listener: invalid configuration")

// Config describes the socket to bind.
type Config struct {
	Host    string
	Port    int
	Backlog int
	// ReuseAddr sets SO_REUSEADDR so the address can be rebound right after close.
	ReuseAddr bool
	// ReusePort sets SO_REUSEPORT so several sockets may share the port.
	ReusePort bool
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks port and backlog bounds.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.Backlog < 1 || c.Backlog > MaxBacklog {
		return fmt.Errorf("%w: backlog %d out of range 1..%d", ErrInvalidConfig, c.Backlog, MaxBacklog)
	}
	return nil
}

// Listen binds a TCP listening socket described by cfg. The returned
// listener always has a non-nil Addr.
func Listen(ctx context.Context, cfg Config) (net.Listener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	host := cfg.Host
	if host == "" {
		host = "0.0.0.0"
	}
	addr, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addr) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses", host)
	}
	tcpAddr := &net.TCPAddr{IP: addr[0].IP, Port: cfg.Port, Zone: addr[0].Zone}
	ln, err := listen(ctx, tcpAddr, cfg)
	if err != nil {
		return nil, err
	}
	if ln.Addr() == nil {
		_ = ln.Close()
		return nil, fmt.Errorf("listen %s: no local address", tcpAddr)
	}
	return ln, nil
}
