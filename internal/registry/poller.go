package registry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"camgate/internal/events"
	"camgate/internal/logging"
)

// Poller periodically fetches the remote registry and installs the
// result into the store. While the remote has never succeeded, a local
// fallback file seeds the desired state; once a remote snapshot is in
// place, fetch failures keep the stale remote snapshot instead.
type Poller struct {
	fetcher      *Fetcher
	store        *Store
	bus          *events.Bus
	logger       *slog.Logger
	interval     time.Duration
	fallbackPath string
	defaults     Defaults

	failures          atomic.Int64
	remoteSucceeded   atomic.Bool
	fallbackInstalled bool
}

// NewPoller creates a registry poller. fallbackPath may be empty to
// disable the local fallback.
func NewPoller(fetcher *Fetcher, store *Store, bus *events.Bus, interval time.Duration, fallbackPath string, defaults Defaults) *Poller {
	return &Poller{
		fetcher:      fetcher,
		store:        store,
		bus:          bus,
		logger:       logging.GetLogger("registry"),
		interval:     interval,
		fallbackPath: fallbackPath,
		defaults:     defaults,
	}
}

// Run polls until ctx is cancelled. The first poll happens immediately.
func (p *Poller) Run(ctx context.Context) {
	p.pollOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Registry poller stopped")
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// ConsecutiveFailures returns the number of failed polls since the last
// successful fetch.
func (p *Poller) ConsecutiveFailures() int {
	return int(p.failures.Load())
}

// RemoteSucceeded reports whether any remote fetch has succeeded since
// startup.
func (p *Poller) RemoteSucceeded() bool {
	return p.remoteSucceeded.Load()
}

// ReloadFallback installs a fresh fallback snapshot. Used by the file
// watcher when the fallback file changes on disk. The reload is ignored
// once a remote snapshot has been installed; the remote registry owns
// the desired state from that point on.
func (p *Poller) ReloadFallback(descriptors []StreamDescriptor) {
	if p.remoteSucceeded.Load() {
		p.logger.Debug("Ignoring fallback reload, remote registry is authoritative")
		return
	}

	snapshot := NewSnapshot(descriptors, OriginFallback)
	p.store.Install(snapshot)
	p.logger.Info("Reloaded fallback stream list", "streams", snapshot.Len())
	p.publishInstalled(snapshot)
}

func (p *Poller) pollOnce(ctx context.Context) {
	descriptors, err := p.fetcher.Fetch(ctx)
	if err != nil {
		failures := p.failures.Add(1)
		p.logger.Warn("Registry fetch failed", "error", err, "consecutive_failures", failures)
		p.bus.Publish(events.RegistryFetchFailedEvent{
			Error:               err.Error(),
			ConsecutiveFailures: int(failures),
			Timestamp:           time.Now().Format(time.RFC3339),
		})
		p.maybeInstallFallback()
		return
	}

	p.failures.Store(0)
	p.remoteSucceeded.Store(true)

	snapshot := NewSnapshot(descriptors, OriginRemote)
	p.store.Install(snapshot)
	p.logger.Info("Installed registry snapshot", "streams", snapshot.Len())
	p.publishInstalled(snapshot)
}

// maybeInstallFallback seeds the store from the fallback file. It runs
// at most once, and never after a remote snapshot exists.
func (p *Poller) maybeInstallFallback() {
	if p.fallbackInstalled || p.fallbackPath == "" || p.store.Current() != nil {
		return
	}
	p.fallbackInstalled = true

	descriptors, err := LoadFallback(p.fallbackPath, p.defaults)
	if err != nil {
		p.logger.Warn("Failed to load fallback stream list", "path", p.fallbackPath, "error", err)
		return
	}

	snapshot := NewSnapshot(descriptors, OriginFallback)
	p.store.Install(snapshot)
	p.logger.Info("Installed fallback stream list", "path", p.fallbackPath, "streams", snapshot.Len())
	p.publishInstalled(snapshot)
}

func (p *Poller) publishInstalled(snapshot *Snapshot) {
	p.bus.Publish(events.SnapshotInstalledEvent{
		Origin:      string(snapshot.Origin),
		StreamCount: snapshot.Len(),
		Timestamp:   snapshot.FetchedAt.Format(time.RFC3339),
	})
}
