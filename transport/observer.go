package transport

import "github.com/t-kalinowski/positron/observability"

// Socket diagnostic events. All socket events share one stream; the type
// is the category.
const (
	EventConnect      observability.EventType = "transport.connect"
	EventConnectDelay observability.EventType = "transport.connect_delay"
	EventConnectRetry observability.EventType = "transport.connect_retry"
	EventClose        observability.EventType = "transport.close"
	EventCloseError   observability.EventType = "transport.close_error"
	EventBind         observability.EventType = "transport.bind"
	EventDisconnect   observability.EventType = "transport.disconnect"
)
