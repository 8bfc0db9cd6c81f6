package replay

import "github.com/t-kalinowski/positron/observability"

const (
	EventAttach   observability.EventType = "replay.attach"
	EventDetach   observability.EventType = "replay.detach"
	EventMarker   observability.EventType = "replay.marker"
	EventReset    observability.EventType = "replay.reset"
	EventDisplay  observability.EventType = "replay.display"
	EventOverflow observability.EventType = "replay.overflow"
	EventFailed   observability.EventType = "replay.display.failed"
)
