package rtspd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync/atomic"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/AlexxIT/go2rtc/pkg/rtsp"

	"camgate/internal/engine"
	"camgate/internal/registry"
)

// RelayFactory creates relay pipelines that pull from upstream cameras
// and feed the hub. It implements engine.Factory.
type RelayFactory struct {
	hub    *Hub
	logger *slog.Logger
}

// NewRelayFactory creates a factory producing into hub.
func NewRelayFactory(hub *Hub, logger *slog.Logger) *RelayFactory {
	return &RelayFactory{hub: hub, logger: logger}
}

// Create dials the upstream source and registers a producer for the
// descriptor's mount path. The connect phase honors ctx; a cancelled
// context aborts the dial and returns its error.
func (f *RelayFactory) Create(ctx context.Context, desc registry.StreamDescriptor) (engine.Pipeline, error) {
	src, err := sourceURL(desc)
	if err != nil {
		return nil, err
	}

	conn := rtsp.NewClient(src)
	conn.Backchannel = false
	if desc.Transport == registry.TransportUDP {
		conn.Transport = "udp"
	}

	connected := make(chan error, 1)
	go func() {
		if dialErr := conn.Dial(); dialErr != nil {
			connected <- dialErr
			return
		}
		connected <- conn.Describe()
	}()

	select {
	case <-ctx.Done():
		_ = conn.Stop()
		return nil, ctx.Err()
	case err := <-connected:
		if err != nil {
			return nil, fmt.Errorf("connect source %s: %w", desc.ID, err)
		}
	}

	// Set up one track per media before starting, so the producer is
	// pulling even while no client is wired.
	tracks := 0
	for _, media := range conn.GetMedias() {
		if desc.DisableAudio && media.Kind == core.KindAudio {
			continue
		}
		for _, codec := range media.Codecs {
			if _, trackErr := conn.GetTrack(media, codec); trackErr != nil {
				f.logger.Warn("Failed to set up source track",
					"stream_id", desc.ID, "codec", codec.Name, "error", trackErr)
				continue
			}
			tracks++
			break
		}
	}
	if tracks == 0 {
		_ = conn.Stop()
		return nil, fmt.Errorf("source %s has no usable tracks", desc.ID)
	}

	p := &relayPipeline{
		conn:         conn,
		hub:          f.hub,
		path:         desc.MountPath(),
		disableAudio: desc.DisableAudio,
		events:       make(chan engine.Event, 1),
		done:         make(chan struct{}),
	}
	f.hub.SetProducer(p.path, p)
	go p.run()

	f.logger.Info("Relay pipeline started",
		"stream_id", desc.ID, "transport", string(desc.Transport), "tracks", tracks)
	return p, nil
}

// sourceURL injects descriptor credentials into the source URL.
func sourceURL(desc registry.StreamDescriptor) (string, error) {
	if desc.Username == "" {
		return desc.SourceURL, nil
	}
	u, err := url.Parse(desc.SourceURL)
	if err != nil {
		return "", fmt.Errorf("parse source url for %s: %w", desc.ID, err)
	}
	u.User = url.UserPassword(desc.Username, desc.Password)
	return u.String(), nil
}

// relayPipeline is one running source connection. It doubles as the
// hub producer so audio filtering stays inside the media plane.
type relayPipeline struct {
	conn         *rtsp.Conn
	hub          *Hub
	path         string
	disableAudio bool
	events       chan engine.Event
	done         chan struct{}
	closed       atomic.Bool
}

// run blocks in the source read loop and reports how it ended.
func (p *relayPipeline) run() {
	defer close(p.done)

	err := p.conn.Start()
	p.hub.RemoveProducer(p.path, p)

	if p.closed.Load() {
		return
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		p.events <- engine.Event{Kind: engine.EventError, Err: err}
	} else {
		p.events <- engine.Event{Kind: engine.EventEOS}
	}
}

// Events implements engine.Pipeline.
func (p *relayPipeline) Events() <-chan engine.Event {
	return p.events
}

// Close implements engine.Pipeline.
func (p *relayPipeline) Close(ctx context.Context) error {
	p.closed.Store(true)
	err := p.conn.Stop()
	p.hub.RemoveProducer(p.path, p)

	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// GetMedias implements core.Producer, hiding audio when disabled.
func (p *relayPipeline) GetMedias() []*core.Media {
	medias := p.conn.GetMedias()
	if !p.disableAudio {
		return medias
	}
	filtered := make([]*core.Media, 0, len(medias))
	for _, m := range medias {
		if m.Kind == core.KindAudio {
			continue
		}
		filtered = append(filtered, m)
	}
	return filtered
}

// GetTrack implements core.Producer.
func (p *relayPipeline) GetTrack(media *core.Media, codec *core.Codec) (*core.Receiver, error) {
	return p.conn.GetTrack(media, codec)
}

// Start implements core.Producer.
func (p *relayPipeline) Start() error {
	return p.conn.Start()
}

// Stop implements core.Producer.
func (p *relayPipeline) Stop() error {
	return p.conn.Stop()
}
