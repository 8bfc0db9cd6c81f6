package transport

import (
	"time"

	"github.com/t-kalinowski/positron/core/config"
)

const (
	defaultHost          = "127.0.0.1"
	defaultMaxAttempts   = 25
	defaultInitialDelay  = 50 * time.Millisecond
	defaultMaxDelay      = 2 * time.Second
	defaultMultiplier    = 2.0
	defaultReceiveBuffer = 256
)

// Config holds socket parameters.
type Config struct {
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	// BasePort is the first candidate port; 0 picks a random start in the
	// dynamic range for every Bind.
	BasePort int `json:"base_port,omitempty" yaml:"base_port,omitempty"`

	// MaxAttempts bounds the port search. Excluded candidates count.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`

	ConnectInitialDelay config.Duration `json:"connect_initial_delay,omitempty" yaml:"connect_initial_delay,omitempty"`
	ConnectMaxDelay     config.Duration `json:"connect_max_delay,omitempty" yaml:"connect_max_delay,omitempty"`
	ConnectMultiplier   float64         `json:"connect_multiplier,omitempty" yaml:"connect_multiplier,omitempty"`

	// MaxConnectAttempts bounds dialing; 0 keeps retrying until Dispose.
	MaxConnectAttempts int  `json:"max_connect_attempts,omitempty" yaml:"max_connect_attempts,omitempty"`
	Jitter             bool `json:"jitter,omitempty" yaml:"jitter,omitempty"`

	ReceiveBuffer int `json:"receive_buffer,omitempty" yaml:"receive_buffer,omitempty"`
}

// DefaultConfig returns the default socket configuration.
func DefaultConfig() Config {
	return Config{
		Host:                defaultHost,
		MaxAttempts:         defaultMaxAttempts,
		ConnectInitialDelay: config.Duration(defaultInitialDelay),
		ConnectMaxDelay:     config.Duration(defaultMaxDelay),
		ConnectMultiplier:   defaultMultiplier,
		ReceiveBuffer:       defaultReceiveBuffer,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Host != "" {
		c.Host = source.Host
	}
	if source.BasePort > 0 {
		c.BasePort = source.BasePort
	}
	if source.MaxAttempts > 0 {
		c.MaxAttempts = source.MaxAttempts
	}
	if source.ConnectInitialDelay > 0 {
		c.ConnectInitialDelay = source.ConnectInitialDelay
	}
	if source.ConnectMaxDelay > 0 {
		c.ConnectMaxDelay = source.ConnectMaxDelay
	}
	if source.ConnectMultiplier > 0 {
		c.ConnectMultiplier = source.ConnectMultiplier
	}
	if source.MaxConnectAttempts > 0 {
		c.MaxConnectAttempts = source.MaxConnectAttempts
	}
	if source.Jitter {
		c.Jitter = true
	}
	if source.ReceiveBuffer > 0 {
		c.ReceiveBuffer = source.ReceiveBuffer
	}
}

func (c *Config) backoff() *Backoff {
	return &Backoff{
		InitialDelay: c.ConnectInitialDelay.Std(),
		MaxDelay:     c.ConnectMaxDelay.Std(),
		Multiplier:   c.ConnectMultiplier,
		MaxAttempts:  c.MaxConnectAttempts,
		Jitter:       c.Jitter,
	}
}
