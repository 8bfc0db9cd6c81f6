package host

import "errors"

var (
	// ErrConfigFormat is returned by LoadConfig for files that are neither
	// JSON nor YAML.
	ErrConfigFormat = errors.New("unsupported config format")

	ErrClosed = errors.New("host closed")
)
