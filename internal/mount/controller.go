// Package mount reconciles the desired stream set from the registry
// with the set of live mounts and sessions. It is the only writer of
// the mount table.
package mount

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"camgate/internal/engine"
	"camgate/internal/events"
	"camgate/internal/logging"
	"camgate/internal/registry"
	"camgate/internal/session"
)

// stopTimeout bounds one session's teardown during unmount.
const stopTimeout = 10 * time.Second

// StreamStatus is a point-in-time view of one mounted stream.
type StreamStatus struct {
	ID          string        `json:"id"`
	Path        string        `json:"path"`
	SourceURL   string        `json:"source_url"`
	State       session.State `json:"state"`
	Clients     int           `json:"clients"`
	Restarts    int           `json:"restarts"`
	LastError   string        `json:"last_error,omitempty"`
	LastErrorAt string        `json:"last_error_at,omitempty"`
}

// Controller drives mounts and sessions toward the current registry
// snapshot. Reconciliation diffs desired against actual and applies
// adds, removals and remounts; one stream's failure never blocks the
// others.
type Controller struct {
	store      *registry.Store
	mounts     engine.Mounts
	factory    engine.Factory
	bus        *events.Bus
	logger     *slog.Logger
	sessionCfg session.Config
	interval   time.Duration

	sessions map[string]*session.Session
	mu       sync.Mutex
}

// NewController creates a controller. sessionCfg is the template every
// session is created with.
func NewController(store *registry.Store, mounts engine.Mounts, factory engine.Factory, bus *events.Bus, sessionCfg session.Config, interval time.Duration) *Controller {
	return &Controller{
		store:      store,
		mounts:     mounts,
		factory:    factory,
		bus:        bus,
		logger:     logging.GetLogger("mount"),
		sessionCfg: sessionCfg,
		interval:   interval,
		sessions:   make(map[string]*session.Session),
	}
}

// Run reconciles on a fixed interval until ctx is cancelled. The first
// pass happens immediately.
func (c *Controller) Run(ctx context.Context) {
	c.reconcileCurrent(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Reconcile loop stopped")
			return
		case <-ticker.C:
			c.reconcileCurrent(ctx)
		}
	}
}

func (c *Controller) reconcileCurrent(ctx context.Context) {
	snapshot := c.store.Current()
	if snapshot == nil {
		return
	}
	c.Reconcile(ctx, snapshot)
}

// Reconcile applies one snapshot: mounts new streams, unmounts dropped
// ones, and remounts streams whose descriptor changed. Idempotent; a
// second call with the same snapshot does nothing. Unmounted sessions
// leave the table before teardown starts, and tear down in parallel so
// one slow pipeline close never stalls the others.
func (c *Controller) Reconcile(ctx context.Context, snapshot *registry.Snapshot) {
	c.mu.Lock()

	var added, removed, changed []string
	for id := range snapshot.Streams {
		s, ok := c.sessions[id]
		switch {
		case !ok:
			added = append(added, id)
		case s.Descriptor() != snapshot.Streams[id]:
			changed = append(changed, id)
		}
	}
	for id := range c.sessions {
		if _, ok := snapshot.Streams[id]; !ok {
			removed = append(removed, id)
		}
	}

	if len(added) == 0 && len(removed) == 0 && len(changed) == 0 {
		c.mu.Unlock()
		return
	}
	c.logger.Info("Reconciling streams",
		"added", len(added), "removed", len(removed), "changed", len(changed),
		"origin", string(snapshot.Origin))

	var stopped []*session.Session
	for _, id := range removed {
		stopped = append(stopped, c.unmountLocked(id))
	}
	for _, id := range changed {
		// A changed descriptor gets a fresh session; live clients on
		// the old one are dropped.
		stopped = append(stopped, c.unmountLocked(id))
		c.mountLocked(id, snapshot.Streams[id])
	}
	for _, id := range added {
		c.mountLocked(id, snapshot.Streams[id])
	}
	c.mu.Unlock()

	c.stopSessions(ctx, stopped)
}

func (c *Controller) mountLocked(id string, desc registry.StreamDescriptor) {
	s := session.New(desc, c.factory, c.bus, c.sessionCfg)
	if err := c.mounts.AddMount(desc.MountPath(), s); err != nil {
		c.logger.Error("Failed to add mount", "stream_id", id, "error", err)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.Stop(ctx)
		cancel()
		return
	}
	c.sessions[id] = s
	c.logger.Info("Stream mounted", "stream_id", id, "path", desc.MountPath())
	c.bus.Publish(events.MountAddedEvent{
		StreamID:  id,
		Path:      desc.MountPath(),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// unmountLocked removes a stream from the mount table and the session
// map, returning the session for teardown. New clients stop routing to
// it immediately; closing the pipeline is the caller's job.
func (c *Controller) unmountLocked(id string) *session.Session {
	s, ok := c.sessions[id]
	if !ok {
		return nil
	}
	path := s.Descriptor().MountPath()

	if err := c.mounts.RemoveMount(path); err != nil {
		c.logger.Warn("Failed to remove mount", "stream_id", id, "error", err)
	}
	delete(c.sessions, id)
	c.logger.Info("Stream unmounted", "stream_id", id, "path", path)
	c.bus.Publish(events.MountRemovedEvent{
		StreamID:  id,
		Path:      path,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	return s
}

// stopSessions tears sessions down in parallel, each bounded by
// stopTimeout, and waits for all of them.
func (c *Controller) stopSessions(ctx context.Context, sessions []*session.Session) {
	var wg sync.WaitGroup
	for _, s := range sessions {
		if s == nil {
			continue
		}
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
			defer cancel()
			if err := s.Stop(stopCtx); err != nil {
				c.logger.Warn("Failed to stop session",
					"stream_id", s.Descriptor().ID, "error", err)
			}
		}(s)
	}
	wg.Wait()
}

// Status returns the mounted streams sorted by ID.
func (c *Controller) Status() []StreamStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	statuses := make([]StreamStatus, 0, len(c.sessions))
	for id, s := range c.sessions {
		statuses = append(statuses, streamStatus(id, s))
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}

// StreamStatus returns one stream's status.
func (c *Controller) StreamStatus(id string) (StreamStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[id]
	if !ok {
		return StreamStatus{}, false
	}
	return streamStatus(id, s), true
}

func streamStatus(id string, s *session.Session) StreamStatus {
	desc := s.Descriptor()
	status := StreamStatus{
		ID:        id,
		Path:      desc.MountPath(),
		SourceURL: desc.SourceURL,
		State:     s.State(),
		Clients:   s.Clients(),
		Restarts:  s.Restarts(),
	}
	if msg, at := s.LastError(); msg != "" {
		status.LastError = msg
		status.LastErrorAt = at.Format(time.RFC3339)
	}
	return status
}

// Shutdown unmounts everything, bounded by ctx. Sessions tear down in
// parallel.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	stopped := make([]*session.Session, 0, len(c.sessions))
	for id := range c.sessions {
		stopped = append(stopped, c.unmountLocked(id))
	}
	c.mu.Unlock()

	c.stopSessions(ctx, stopped)
	c.logger.Info("All streams unmounted")
}
