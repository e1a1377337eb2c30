package events

// Event type constants for kelindar/event.
const (
	TypeSnapshotInstalled uint32 = iota + 1
	TypeRegistryFetchFailed
	TypeMountAdded
	TypeMountRemoved
	TypeSessionStateChanged
	TypePipelineRestart
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SnapshotInstalledEvent is published when the poller installs a new
// registry snapshot, remote or fallback.
type SnapshotInstalledEvent struct {
	Origin      string `json:"origin" example:"remote" doc:"Snapshot origin: remote or fallback"`
	StreamCount int    `json:"stream_count" example:"12" doc:"Number of streams in the snapshot"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Install timestamp"`
}

// Type returns the event type identifier for SnapshotInstalledEvent.
func (e SnapshotInstalledEvent) Type() uint32 { return TypeSnapshotInstalled }

// RegistryFetchFailedEvent is published on each failed registry poll.
type RegistryFetchFailedEvent struct {
	Error               string `json:"error" example:"connection refused" doc:"Fetch error description"`
	ConsecutiveFailures int    `json:"consecutive_failures" example:"3" doc:"Failed polls since last success"`
	Timestamp           string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Failure timestamp"`
}

// Type returns the event type identifier for RegistryFetchFailedEvent.
func (e RegistryFetchFailedEvent) Type() uint32 { return TypeRegistryFetchFailed }

// MountAddedEvent is published when reconciliation mounts a stream.
type MountAddedEvent struct {
	StreamID  string `json:"stream_id" example:"cam-entrance-01" doc:"Stream identifier"`
	Path      string `json:"path" example:"/cam-entrance-01" doc:"RTSP mount path"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for MountAddedEvent.
func (e MountAddedEvent) Type() uint32 { return TypeMountAdded }

// MountRemovedEvent is published when reconciliation unmounts a stream.
type MountRemovedEvent struct {
	StreamID  string `json:"stream_id" example:"cam-entrance-01" doc:"Stream identifier"`
	Path      string `json:"path" example:"/cam-entrance-01" doc:"RTSP mount path"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for MountRemovedEvent.
func (e MountRemovedEvent) Type() uint32 { return TypeMountRemoved }

// SessionStateChangedEvent is published on every media session state
// transition.
type SessionStateChangedEvent struct {
	StreamID  string `json:"stream_id" example:"cam-entrance-01" doc:"Stream identifier"`
	From      string `json:"from" example:"idle" doc:"Previous session state"`
	To        string `json:"to" example:"starting" doc:"New session state"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Transition timestamp"`
}

// Type returns the event type identifier for SessionStateChangedEvent.
func (e SessionStateChangedEvent) Type() uint32 { return TypeSessionStateChanged }

// PipelineRestartEvent is published when a session restarts its source
// pipeline after an error or end of stream.
type PipelineRestartEvent struct {
	StreamID  string `json:"stream_id" example:"cam-entrance-01" doc:"Stream identifier"`
	Reason    string `json:"reason" example:"error" doc:"Restart trigger: error or eos"`
	Attempt   int    `json:"attempt" example:"2" doc:"Restart attempt within the rolling window"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Restart timestamp"`
}

// Type returns the event type identifier for PipelineRestartEvent.
func (e PipelineRestartEvent) Type() uint32 { return TypePipelineRestart }
