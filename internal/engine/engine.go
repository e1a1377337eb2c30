// Package engine defines the boundary between session lifecycle logic
// and the media plane. Sessions create pipelines through a Factory and
// observe them through an event channel; the RTSP server routes clients
// to sessions through the Mounts table. Nothing above this package
// touches media transport directly.
package engine

import (
	"context"
	"errors"

	"camgate/internal/registry"
)

// ErrMountNotFound is returned when a client requests a path that is
// not mounted.
var ErrMountNotFound = errors.New("mount not found")

// EventKind classifies pipeline events.
type EventKind int

// Pipeline event kinds.
const (
	// EventError reports a fatal pipeline error. The pipeline is dead
	// and must be closed and recreated.
	EventError EventKind = iota
	// EventEOS reports that the source ended the stream cleanly.
	EventEOS
)

// String returns the kind name for logging.
func (k EventKind) String() string {
	switch k {
	case EventError:
		return "error"
	case EventEOS:
		return "eos"
	}
	return "unknown"
}

// Event is an asynchronous notification from a running pipeline.
type Event struct {
	Kind EventKind
	Err  error
}

// Pipeline is a running media source feeding one mount. After an
// EventError or EventEOS the pipeline emits nothing further; the owner
// must Close it.
type Pipeline interface {
	// Events delivers pipeline notifications. The channel is never
	// closed; reads race with Close are safe.
	Events() <-chan Event
	// Close tears the pipeline down, bounded by ctx.
	Close(ctx context.Context) error
}

// Factory creates pipelines for stream descriptors. Create blocks until
// the pipeline is producing or ctx is cancelled.
type Factory interface {
	Create(ctx context.Context, desc registry.StreamDescriptor) (Pipeline, error)
}

// PlaceholderFactory is implemented by factories that can stand in a
// synthetic pipeline for an unreachable source, so the mount keeps
// accepting clients while the session retries the real one.
type PlaceholderFactory interface {
	CreatePlaceholder(desc registry.StreamDescriptor) Pipeline
}

// MountHandler receives client lifecycle callbacks for one mount path.
type MountHandler interface {
	// Attach is called when a client requests the mount. A nil return
	// means media is available and the client may be wired.
	Attach(ctx context.Context, remote string) error
	// Detach is called when a previously attached client disconnects.
	Detach(remote string)
}

// Mounts is the mount table the media server consults to route clients.
type Mounts interface {
	AddMount(path string, handler MountHandler) error
	RemoveMount(path string) error
}
