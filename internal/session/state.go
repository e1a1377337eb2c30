// Package session implements the per-stream lifecycle: lazy pipeline
// startup on first client, idle suspension, and bounded restart on
// pipeline failure. Each session is a single goroutine owning its
// pipeline; all interaction goes through its command channel.
package session

// State is the lifecycle state of a media session.
type State string

// Session states.
const (
	// StateIdle means no pipeline exists and no client has asked yet.
	StateIdle State = "idle"
	// StateStarting means pipeline creation is in flight, or a restart
	// is waiting out its backoff delay.
	StateStarting State = "starting"
	// StateActive means the pipeline is running.
	StateActive State = "active"
	// StateSuspended means the pipeline was torn down after the idle
	// timeout; the next client brings it back.
	StateSuspended State = "suspended"
	// StateFailed means the restart budget is exhausted. Terminal
	// until the stream is remounted.
	StateFailed State = "failed"
	// StateStopped means the session was shut down by reconciliation.
	StateStopped State = "stopped"
)
