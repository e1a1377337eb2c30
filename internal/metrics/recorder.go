package metrics

import (
	"sync"

	"camgate/internal/events"
)

// Recorder translates bus events into metric updates. It tracks each
// stream's last known session state so the per-state gauge stays
// consistent across mounts and unmounts.
type Recorder struct {
	states map[string]string
	mu     sync.Mutex
	unsubs []func()
}

// NewRecorder creates a recorder. Call Start to begin consuming events.
func NewRecorder() *Recorder {
	return &Recorder{states: make(map[string]string)}
}

// Start subscribes to the event bus.
func (r *Recorder) Start(bus *events.Bus) {
	r.unsubs = append(r.unsubs,
		bus.Subscribe(func(e events.SnapshotInstalledEvent) {
			registryStreams.Set(float64(e.StreamCount))
			registrySnapshots.WithLabelValues(e.Origin).Inc()
		}),
		bus.Subscribe(func(_ events.RegistryFetchFailedEvent) {
			registryFetchFailures.Inc()
		}),
		bus.Subscribe(func(e events.MountAddedEvent) {
			mountedStreams.Inc()
			mountOperations.WithLabelValues("add").Inc()
			r.setState(e.StreamID, "idle")
		}),
		bus.Subscribe(func(e events.MountRemovedEvent) {
			mountedStreams.Dec()
			mountOperations.WithLabelValues("remove").Inc()
			r.clearState(e.StreamID)
		}),
		bus.Subscribe(func(e events.SessionStateChangedEvent) {
			r.setState(e.StreamID, e.To)
		}),
		bus.Subscribe(func(e events.PipelineRestartEvent) {
			pipelineRestarts.WithLabelValues(e.StreamID, e.Reason).Inc()
		}),
	)
}

// Stop unsubscribes from the bus.
func (r *Recorder) Stop() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
}

func (r *Recorder) setState(streamID, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[streamID] = state
	r.rebuildLocked()
}

func (r *Recorder) clearState(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, streamID)
	r.rebuildLocked()
}

// rebuildLocked recomputes the per-state gauge from the state map.
func (r *Recorder) rebuildLocked() {
	counts := make(map[string]int, len(r.states))
	for _, state := range r.states {
		counts[state]++
	}
	sessionsByState.Reset()
	for state, n := range counts {
		sessionsByState.WithLabelValues(state).Set(float64(n))
	}
}
