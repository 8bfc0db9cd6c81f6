package server

import (
	"time"

	"github.com/t-kalinowski/positron/core/config"
)

const (
	defaultAddr              = "127.0.0.1:8765"
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

// Config holds HTTP listener parameters for the session API.
type Config struct {
	Addr              string          `json:"addr,omitempty" yaml:"addr,omitempty"`
	ReadHeaderTimeout config.Duration `json:"read_header_timeout,omitempty" yaml:"read_header_timeout,omitempty"`
	ShutdownTimeout   config.Duration `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Addr:              defaultAddr,
		ReadHeaderTimeout: config.Duration(defaultReadHeaderTimeout),
		ShutdownTimeout:   config.Duration(defaultShutdownTimeout),
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Addr != "" {
		c.Addr = source.Addr
	}
	if source.ReadHeaderTimeout > 0 {
		c.ReadHeaderTimeout = source.ReadHeaderTimeout
	}
	if source.ShutdownTimeout > 0 {
		c.ShutdownTimeout = source.ShutdownTimeout
	}
}
