package channel

import "github.com/t-kalinowski/positron/observability"

const (
	EventStateChange observability.EventType = "channel.state"
	EventSendFailed  observability.EventType = "channel.send.failed"
	EventDropped     observability.EventType = "channel.message.dropped"
)
