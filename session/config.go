package session

import (
	"maps"
	"slices"
	"time"

	"github.com/t-kalinowski/positron/core/config"
)

// Socket names used by a SocketSession.
const (
	SocketShell     = "shell"
	SocketIOPub     = "iopub"
	SocketControl   = "control"
	SocketStdin     = "stdin"
	SocketHeartbeat = "heartbeat"
)

// ConnectionFilePlaceholder is replaced in a kernel command with the path of
// the connection file.
const ConnectionFilePlaceholder = "{connection_file}"

const (
	defaultConnectTimeout  = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Config holds session launch parameters.
type Config struct {
	// Sockets lists the sockets bound for every session, in bind order.
	// shell and iopub are required.
	Sockets []string `json:"sockets,omitempty" yaml:"sockets,omitempty"`

	// KernelCommands maps a runtime language to the argv that starts its
	// kernel. The "default" entry is used for unlisted languages.
	KernelCommands map[string][]string `json:"kernel_commands,omitempty" yaml:"kernel_commands,omitempty"`

	// ConnectTimeout bounds how long a session may stay Starting.
	ConnectTimeout config.Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`

	// ShutdownTimeout bounds a graceful shutdown before the kernel is killed.
	ShutdownTimeout config.Duration `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Sockets:         []string{SocketShell, SocketIOPub, SocketControl, SocketStdin, SocketHeartbeat},
		ConnectTimeout:  config.Duration(defaultConnectTimeout),
		ShutdownTimeout: config.Duration(defaultShutdownTimeout),
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if len(source.Sockets) > 0 {
		c.Sockets = slices.Clone(source.Sockets)
	}
	if len(source.KernelCommands) > 0 {
		if c.KernelCommands == nil {
			c.KernelCommands = make(map[string][]string, len(source.KernelCommands))
		}
		maps.Copy(c.KernelCommands, source.KernelCommands)
	}
	if source.ConnectTimeout > 0 {
		c.ConnectTimeout = source.ConnectTimeout
	}
	if source.ShutdownTimeout > 0 {
		c.ShutdownTimeout = source.ShutdownTimeout
	}
}

// KernelCommand returns the argv configured for language.
func (c Config) KernelCommand(language string) ([]string, bool) {
	if argv, ok := c.KernelCommands[language]; ok && len(argv) > 0 {
		return argv, true
	}
	argv, ok := c.KernelCommands["default"]
	return argv, ok && len(argv) > 0
}
