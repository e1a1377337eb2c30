// Package rtspd is the media plane: an RTSP server for viewing clients
// and a relay pipeline factory that pulls from upstream cameras. It is
// the only package that speaks RTSP.
package rtspd

import (
	"log/slog"
	"sync"

	"github.com/AlexxIT/go2rtc/pkg/core"

	"camgate/internal/engine"
)

// Hub routes media from producers to consumers. Producers are relay
// pipelines keyed by mount path; consumers are RTSP client connections.
type Hub struct {
	producers map[string]core.Producer
	mu        sync.RWMutex
	logger    *slog.Logger
}

// NewHub creates a new stream hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		producers: make(map[string]core.Producer),
		logger:    logger,
	}
}

// SetProducer registers the producer serving a mount path, replacing
// and stopping any previous one.
func (h *Hub) SetProducer(path string, prod core.Producer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.producers[path]; ok && existing != prod {
		h.logger.Info("Replacing existing producer", "path", path)
		_ = existing.Stop()
	}
	h.producers[path] = prod
	h.logger.Debug("Producer registered", "path", path)
}

// RemoveProducer unregisters the producer for a path, but only if it is
// still the given one. A dying pipeline must not unmap its replacement.
func (h *Hub) RemoveProducer(path string, prod core.Producer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.producers[path]; ok && current == prod {
		delete(h.producers, path)
		h.logger.Debug("Producer removed", "path", path)
	}
}

// Producer returns the producer for a mount path, or nil.
func (h *Hub) Producer(path string) core.Producer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.producers[path]
}

// HasProducer checks whether a producer exists for the given path.
func (h *Hub) HasProducer(path string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.producers[path]
	return ok
}

// Paths returns all mount paths with an active producer.
func (h *Hub) Paths() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	paths := make([]string, 0, len(h.producers))
	for path := range h.producers {
		paths = append(paths, path)
	}
	return paths
}

// WireConsumer connects a consumer to the producer's tracks. The
// consumer receives every media track the producer exposes.
func (h *Hub) WireConsumer(path string, cons core.Consumer) error {
	h.mu.RLock()
	prod := h.producers[path]
	h.mu.RUnlock()

	if prod == nil {
		return engine.ErrMountNotFound
	}

	wired := 0
	for _, media := range prod.GetMedias() {
		for _, codec := range media.Codecs {
			track, err := prod.GetTrack(media, codec)
			if err != nil {
				h.logger.Warn("Failed to get producer track",
					"path", path, "codec", codec.Name, "error", err)
				continue
			}

			consMedia := &core.Media{
				Kind:      media.Kind,
				Direction: core.DirectionRecvonly,
				Codecs:    []*core.Codec{codec},
			}
			if err := cons.AddTrack(consMedia, codec, track); err != nil {
				h.logger.Warn("Failed to add track",
					"path", path, "codec", codec.Name, "error", err)
				continue
			}
			wired++
			break // one codec per media
		}
	}

	if wired == 0 {
		return engine.ErrMountNotFound
	}
	h.logger.Debug("Consumer wired", "path", path, "tracks", wired)
	return nil
}

// Stop stops all producers and clears the hub.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for path, prod := range h.producers {
		_ = prod.Stop()
		delete(h.producers, path)
	}
	h.logger.Info("Hub stopped")
}
