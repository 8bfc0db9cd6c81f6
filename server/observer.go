package server

import "github.com/t-kalinowski/positron/observability"

const (
	EventRequest observability.EventType = "server.request"
	EventListen  observability.EventType = "server.listen"
	EventStop    observability.EventType = "server.stop"
)
