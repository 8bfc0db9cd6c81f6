package session

import "github.com/t-kalinowski/positron/observability"

// Session lifecycle events.
const (
	EventState         observability.EventType = "session.state"
	EventLaunch        observability.EventType = "session.launch"
	EventLaunchError   observability.EventType = "session.launch.error"
	EventLost          observability.EventType = "session.lost"
	EventShutdownError observability.EventType = "session.shutdown.error"
)

// Registry events.
const (
	EventRegistryStart         observability.EventType = "registry.start"
	EventRegistryReuse         observability.EventType = "registry.reuse"
	EventRegistryStartError    observability.EventType = "registry.start.error"
	EventRegistryShutdown      observability.EventType = "registry.shutdown"
	EventRegistryShutdownError observability.EventType = "registry.shutdown.error"
	EventRegistryRemoved       observability.EventType = "registry.removed"
	EventRegistryDuplicate     observability.EventType = "registry.duplicate"
)
