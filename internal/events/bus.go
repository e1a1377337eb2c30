package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(SnapshotInstalledEvent{...})
func (b *Bus) Publish(ev Event) {
	// Use type switch to call the generic Publish with the correct type
	switch e := ev.(type) {
	case SnapshotInstalledEvent:
		event.Publish(b.dispatcher, e)
	case RegistryFetchFailedEvent:
		event.Publish(b.dispatcher, e)
	case MountAddedEvent:
		event.Publish(b.dispatcher, e)
	case MountRemovedEvent:
		event.Publish(b.dispatcher, e)
	case SessionStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case PipelineRestartEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives (type inference)
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e SnapshotInstalledEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(SnapshotInstalledEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RegistryFetchFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(MountAddedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(MountRemovedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SessionStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PipelineRestartEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}
