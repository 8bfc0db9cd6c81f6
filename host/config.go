package host

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/t-kalinowski/positron/channel"
	"github.com/t-kalinowski/positron/replay"
	"github.com/t-kalinowski/positron/server"
	"github.com/t-kalinowski/positron/session"
	"github.com/t-kalinowski/positron/transport"
)

const (
	defaultObserver          = "slog"
	defaultDiagnosticsBuffer = 256
)

// Config holds initialization parameters for every subsystem. Each section
// is handed to that subsystem's constructor.
type Config struct {
	Transport transport.Config `json:"transport" yaml:"transport"`
	Channel   channel.Config   `json:"channel" yaml:"channel"`
	Replay    replay.Config    `json:"replay" yaml:"replay"`
	Session   session.Config   `json:"session" yaml:"session"`
	Server    server.Config    `json:"server" yaml:"server"`

	// Observer names one or more registered observability.Observers,
	// comma separated.
	Observer string `json:"observer,omitempty" yaml:"observer,omitempty"`

	// DiagnosticsBuffer sizes the stream returned by Host.Diagnostics.
	DiagnosticsBuffer int `json:"diagnostics_buffer,omitempty" yaml:"diagnostics_buffer,omitempty"`
}

// DefaultConfig returns a Config with defaults for all subsystems.
func DefaultConfig() Config {
	return Config{
		Transport: transport.DefaultConfig(),
		Channel:   channel.DefaultConfig(),
		Replay:    replay.DefaultConfig(),
		Session:   session.DefaultConfig(),
		Server:    server.DefaultConfig(),
		Observer:  defaultObserver,

		DiagnosticsBuffer: defaultDiagnosticsBuffer,
	}
}

// Merge applies non-zero values from source into c, delegating to each
// subsystem's Merge method.
func (c *Config) Merge(source *Config) {
	c.Transport.Merge(&source.Transport)
	c.Channel.Merge(&source.Channel)
	c.Replay.Merge(&source.Replay)
	c.Session.Merge(&source.Session)
	c.Server.Merge(&source.Server)

	if source.Observer != "" {
		c.Observer = source.Observer
	}
	if source.DiagnosticsBuffer > 0 {
		c.DiagnosticsBuffer = source.DiagnosticsBuffer
	}
}

// LoadConfig reads a JSON or YAML config file, chosen by extension, merges
// it with defaults, and returns the result.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".json":
		err = json.Unmarshal(data, &loaded)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &loaded)
	default:
		return nil, fmt.Errorf("%w: %q", ErrConfigFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
