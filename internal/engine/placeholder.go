package engine

import "context"

// placeholderPipeline is an inert pipeline used when the factory offers
// no PlaceholderFactory. It emits no events and serves no media; the
// session stays available and keeps retrying the real source.
type placeholderPipeline struct {
	events chan Event
}

// NewPlaceholder returns a pipeline that never emits events.
func NewPlaceholder() Pipeline {
	return &placeholderPipeline{events: make(chan Event)}
}

func (p *placeholderPipeline) Events() <-chan Event {
	return p.events
}

func (p *placeholderPipeline) Close(_ context.Context) error {
	return nil
}
