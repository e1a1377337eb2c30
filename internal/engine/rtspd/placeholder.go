package rtspd

import (
	"context"

	"github.com/AlexxIT/go2rtc/pkg/core"

	"camgate/internal/engine"
	"camgate/internal/registry"
)

// placeholderProducer is a synthetic no-signal source: one H264 video
// media whose track never carries packets. Clients negotiate and hold a
// connection while the real source is down.
type placeholderProducer struct {
	medias   []*core.Media
	receiver *core.Receiver
}

func newPlaceholderProducer() *placeholderProducer {
	codec := &core.Codec{Name: core.CodecH264, ClockRate: 90000}
	media := &core.Media{
		Kind:      core.KindVideo,
		Direction: core.DirectionRecvonly,
		Codecs:    []*core.Codec{codec},
	}
	return &placeholderProducer{
		medias:   []*core.Media{media},
		receiver: core.NewReceiver(media, codec),
	}
}

func (p *placeholderProducer) GetMedias() []*core.Media { return p.medias }

func (p *placeholderProducer) GetTrack(_ *core.Media, _ *core.Codec) (*core.Receiver, error) {
	return p.receiver, nil
}

func (p *placeholderProducer) Start() error { return nil }
func (p *placeholderProducer) Stop() error  { return nil }

// placeholderPipeline wraps a placeholder producer as an engine
// pipeline. It never emits events; Close unregisters the producer.
type placeholderPipeline struct {
	prod   *placeholderProducer
	hub    *Hub
	path   string
	events chan engine.Event
}

// CreatePlaceholder registers a no-signal producer for the descriptor's
// mount path. Implements engine.PlaceholderFactory.
func (f *RelayFactory) CreatePlaceholder(desc registry.StreamDescriptor) engine.Pipeline {
	p := &placeholderPipeline{
		prod:   newPlaceholderProducer(),
		hub:    f.hub,
		path:   desc.MountPath(),
		events: make(chan engine.Event),
	}
	f.hub.SetProducer(p.path, p.prod)
	f.logger.Info("Serving placeholder, source unreachable", "stream_id", desc.ID)
	return p
}

func (p *placeholderPipeline) Events() <-chan engine.Event {
	return p.events
}

func (p *placeholderPipeline) Close(_ context.Context) error {
	p.hub.RemoveProducer(p.path, p.prod)
	return nil
}
