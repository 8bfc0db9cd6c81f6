package replay

import "slices"

// Default display bundle keys and activation marker. These match the
// HoloViews notebook extension: an hv.extension(...) call loads the
// extension, and its rendered output carries an exec bundle alongside the
// HTML and plain-text fallbacks.
const (
	MIMEHoloViewsExec = "application/vnd.holoviews_exec.v0+json"
	MIMEHTML          = "text/html"
	MIMEPlain         = "text/plain"

	DefaultActivationMarker = "hv.extension"
)

// Config holds replay buffer parameters.
type Config struct {
	// DisplayMIMETypes must all be present in an output's data bundle for it
	// to count as a display message.
	DisplayMIMETypes []string `json:"display_mime_types,omitempty" yaml:"display_mime_types,omitempty"`

	// ActivationMarker is searched for in input source text.
	ActivationMarker string `json:"activation_marker,omitempty" yaml:"activation_marker,omitempty"`

	// MaxBuffered caps each session's buffer; 0 means unbounded.
	MaxBuffered int `json:"max_buffered,omitempty" yaml:"max_buffered,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		DisplayMIMETypes: []string{MIMEHoloViewsExec, MIMEHTML, MIMEPlain},
		ActivationMarker: DefaultActivationMarker,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if len(source.DisplayMIMETypes) > 0 {
		c.DisplayMIMETypes = slices.Clone(source.DisplayMIMETypes)
	}
	if source.ActivationMarker != "" {
		c.ActivationMarker = source.ActivationMarker
	}
	if source.MaxBuffered > 0 {
		c.MaxBuffered = source.MaxBuffered
	}
}
