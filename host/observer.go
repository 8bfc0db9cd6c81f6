package host

import "github.com/t-kalinowski/positron/observability"

const (
	EventAttachError observability.EventType = "host.attach.error"
	EventDisplay     observability.EventType = "host.display"
	EventClose       observability.EventType = "host.close"
)
