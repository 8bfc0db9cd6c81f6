package channel

const defaultBufferSize = 64

// Config holds channel parameters.
type Config struct {
	// BufferSize is the capacity of each channel's inbound message stream.
	BufferSize int `json:"buffer_size,omitempty" yaml:"buffer_size,omitempty"`
}

func DefaultConfig() Config {
	return Config{BufferSize: defaultBufferSize}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.BufferSize > 0 {
		c.BufferSize = source.BufferSize
	}
}
