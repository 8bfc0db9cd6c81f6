package wire

import "time"

type Builder struct {
	envelope *Envelope
}

func New(messageType MessageType) *Builder {
	return &Builder{
		envelope: &Envelope{
			ID:        NewID(),
			Type:      messageType,
			Timestamp: time.Now(),
			Content:   map[string]any{},
		},
	}
}

// NewDisplay builds a display_data message carrying the given MIME bundle.
func NewDisplay(parentID string, bundle map[string]any) *Builder {
	return New(TypeDisplayData).Parent(parentID).Set("data", bundle).Set("metadata", map[string]any{})
}

// NewExecuteRequest builds an execute_request for the given source text.
func NewExecuteRequest(code string) *Builder {
	return New(TypeExecuteRequest).Channel("shell").Set("code", code).Set("silent", false)
}

// NewComm builds a comm_* message addressed to commID.
func NewComm(messageType MessageType, commID string, data map[string]any) *Builder {
	if data == nil {
		data = map[string]any{}
	}
	return New(messageType).Channel("shell").Set("comm_id", commID).Set("data", data)
}

func (b *Builder) ID(id string) *Builder {
	b.envelope.ID = id
	return b
}

func (b *Builder) Parent(parentID string) *Builder {
	b.envelope.ParentID = parentID
	return b
}

func (b *Builder) Session(sessionID string) *Builder {
	b.envelope.SessionID = sessionID
	return b
}

func (b *Builder) Channel(channel string) *Builder {
	b.envelope.Channel = channel
	return b
}

func (b *Builder) Set(key string, value any) *Builder {
	b.envelope.Content[key] = value
	return b
}

func (b *Builder) Metadata(metadata map[string]any) *Builder {
	b.envelope.Metadata = metadata
	return b
}

func (b *Builder) Build() *Envelope {
	return b.envelope
}
