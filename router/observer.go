package router

import "github.com/t-kalinowski/positron/observability"

const (
	EventAttach        observability.EventType = "router.attach"
	EventDetach        observability.EventType = "router.detach"
	EventSourceClosed  observability.EventType = "router.source.closed"
	EventDrop          observability.EventType = "router.drop"
	EventDisplayFailed observability.EventType = "router.display.failed"
	EventChannelFailed observability.EventType = "router.channel.failed"
	EventUnknownTarget observability.EventType = "router.channel.unknown_target"
)
