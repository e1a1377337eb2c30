package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"camgate/internal/engine"
	"camgate/internal/events"
	"camgate/internal/registry"
)

type fakePipeline struct {
	events chan engine.Event
	closed atomic.Bool
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{events: make(chan engine.Event, 1)}
}

func (p *fakePipeline) Events() <-chan engine.Event {
	return p.events
}

func (p *fakePipeline) Close(_ context.Context) error {
	p.closed.Store(true)
	return nil
}

type fakeFactory struct {
	mu        sync.Mutex
	pipelines []*fakePipeline
	failures  int           // fail this many creates before succeeding
	block     chan struct{} // when set, Create waits for close or ctx
}

func (f *fakeFactory) Create(ctx context.Context, _ registry.StreamDescriptor) (engine.Pipeline, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, fmt.Errorf("source unreachable")
	}
	p := newFakePipeline()
	f.pipelines = append(f.pipelines, p)
	return p, nil
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pipelines)
}

func (f *fakeFactory) pipeline(i int) *fakePipeline {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pipelines[i]
}

func testDescriptor() registry.StreamDescriptor {
	return registry.StreamDescriptor{ID: "cam1", SourceURL: "rtsp://10.0.0.1/main"}
}

func onDemandConfig() Config {
	return Config{
		OnDemand:     true,
		IdleTimeout:  50 * time.Millisecond,
		CloseTimeout: time.Second,
		Backoff: BackoffConfig{
			Base:        5 * time.Millisecond,
			Cap:         20 * time.Millisecond,
			MaxAttempts: 5,
			Window:      time.Minute,
		},
	}
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for s.State() != want {
		select {
		case <-deadline:
			t.Fatalf("session never reached state %s, stuck in %s", want, s.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func waitForCreated(t *testing.T, f *fakeFactory, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for f.created() < want {
		select {
		case <-deadline:
			t.Fatalf("factory created %d pipelines, want %d", f.created(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSession_AttachStartsPipeline(t *testing.T) {
	factory := &fakeFactory{}
	s := New(testDescriptor(), factory, events.New(), onDemandConfig())
	defer s.Stop(context.Background())

	if s.State() != StateIdle {
		t.Fatalf("Fresh on-demand session should be idle, got %s", s.State())
	}

	if err := s.Attach(context.Background(), "10.1.1.1:5000"); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if s.State() != StateActive {
		t.Errorf("State = %s, want active", s.State())
	}
	if s.Clients() != 1 {
		t.Errorf("Clients = %d, want 1", s.Clients())
	}
	if factory.created() != 1 {
		t.Errorf("Factory created %d pipelines, want 1", factory.created())
	}
}

func TestSession_IdleSuspendAndReattach(t *testing.T) {
	factory := &fakeFactory{}
	s := New(testDescriptor(), factory, events.New(), onDemandConfig())
	defer s.Stop(context.Background())

	if err := s.Attach(context.Background(), "c1"); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	s.Detach("c1")

	waitForState(t, s, StateSuspended)
	if !factory.pipeline(0).closed.Load() {
		t.Error("Pipeline should be closed on suspend")
	}

	// A new client recreates the pipeline.
	if err := s.Attach(context.Background(), "c2"); err != nil {
		t.Fatalf("Re-attach: %v", err)
	}
	if s.State() != StateActive {
		t.Errorf("State = %s, want active after re-attach", s.State())
	}
	if factory.created() != 2 {
		t.Errorf("Factory created %d pipelines, want 2", factory.created())
	}
}

func TestSession_ClientCancelsIdleSuspend(t *testing.T) {
	factory := &fakeFactory{}
	s := New(testDescriptor(), factory, events.New(), onDemandConfig())
	defer s.Stop(context.Background())

	if err := s.Attach(context.Background(), "c1"); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	s.Detach("c1")

	// Attach again before the idle timeout fires.
	if err := s.Attach(context.Background(), "c2"); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if s.State() != StateActive {
		t.Errorf("State = %s, pipeline should survive while a client is attached", s.State())
	}
	if factory.created() != 1 {
		t.Errorf("Factory created %d pipelines, want 1", factory.created())
	}
}

func TestSession_RestartOnError(t *testing.T) {
	factory := &fakeFactory{}
	bus := events.New()
	restarts := make(chan events.PipelineRestartEvent, 8)
	unsub := bus.Subscribe(func(e events.PipelineRestartEvent) {
		restarts <- e
	})
	defer unsub()

	s := New(testDescriptor(), factory, bus, onDemandConfig())
	defer s.Stop(context.Background())

	if err := s.Attach(context.Background(), "c1"); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	factory.pipeline(0).events <- engine.Event{Kind: engine.EventError, Err: errors.New("read timeout")}

	waitForCreated(t, factory, 2)
	waitForState(t, s, StateActive)

	select {
	case e := <-restarts:
		if e.Reason != "error" {
			t.Errorf("Restart reason = %s, want error", e.Reason)
		}
	case <-time.After(time.Second):
		t.Fatal("PipelineRestartEvent was not published")
	}

	if s.Restarts() != 1 {
		t.Errorf("Restarts = %d, want 1", s.Restarts())
	}
	if msg, at := s.LastError(); msg != "read timeout" || at.IsZero() {
		t.Errorf("LastError = (%q, %v), want read timeout with timestamp", msg, at)
	}
}

func TestSession_RestartOnEOS(t *testing.T) {
	factory := &fakeFactory{}
	s := New(testDescriptor(), factory, events.New(), onDemandConfig())
	defer s.Stop(context.Background())

	if err := s.Attach(context.Background(), "c1"); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	factory.pipeline(0).events <- engine.Event{Kind: engine.EventEOS}

	waitForCreated(t, factory, 2)
	waitForState(t, s, StateActive)
}

func TestSession_FailsWhenBudgetExhausted(t *testing.T) {
	cfg := onDemandConfig()
	cfg.Backoff.MaxAttempts = 2
	factory := &fakeFactory{failures: 10}

	s := New(testDescriptor(), factory, events.New(), cfg)
	defer s.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Attach(ctx, "c1"); !errors.Is(err, ErrSessionFailed) {
		t.Fatalf("Attach = %v, want ErrSessionFailed", err)
	}

	waitForState(t, s, StateFailed)

	// Further attaches are rejected immediately.
	if err := s.Attach(context.Background(), "c2"); !errors.Is(err, ErrSessionFailed) {
		t.Errorf("Attach after failure = %v, want ErrSessionFailed", err)
	}
}

func TestSession_AlwaysOnStartsWithoutClients(t *testing.T) {
	cfg := onDemandConfig()
	cfg.OnDemand = false
	factory := &fakeFactory{}

	s := New(testDescriptor(), factory, events.New(), cfg)
	defer s.Stop(context.Background())

	waitForState(t, s, StateActive)
	if factory.created() != 1 {
		t.Fatalf("Factory created %d pipelines, want 1", factory.created())
	}

	// Zero clients never suspends an always-on session.
	time.Sleep(120 * time.Millisecond)
	if s.State() != StateActive {
		t.Errorf("State = %s, always-on session should stay active", s.State())
	}
	if factory.pipeline(0).closed.Load() {
		t.Error("Always-on pipeline should not be closed at zero clients")
	}
}

func TestSession_AttachersWaitDuringStarting(t *testing.T) {
	factory := &fakeFactory{block: make(chan struct{})}
	s := New(testDescriptor(), factory, events.New(), onDemandConfig())
	defer s.Stop(context.Background())

	results := make(chan error, 2)
	for i := range 2 {
		go func(n int) {
			results <- s.Attach(context.Background(), fmt.Sprintf("c%d", n))
		}(i)
	}

	// Both clients are queued; nothing is granted yet.
	time.Sleep(30 * time.Millisecond)
	if s.Clients() != 0 {
		t.Fatalf("Clients = %d before start completes, want 0", s.Clients())
	}

	close(factory.block)

	for range 2 {
		if err := <-results; err != nil {
			t.Fatalf("Attach during starting: %v", err)
		}
	}
	if s.Clients() != 2 {
		t.Errorf("Clients = %d, want 2", s.Clients())
	}
	if factory.created() != 1 {
		t.Errorf("Factory created %d pipelines, want 1 shared pipeline", factory.created())
	}
}

func TestSession_AttachTimeoutDuringStarting(t *testing.T) {
	factory := &fakeFactory{block: make(chan struct{})}
	s := New(testDescriptor(), factory, events.New(), onDemandConfig())
	defer s.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := s.Attach(ctx, "c1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Attach = %v, want DeadlineExceeded", err)
	}

	// The abandoned attach is undone once the start completes.
	close(factory.block)
	waitForState(t, s, StateActive)

	deadline := time.After(time.Second)
	for s.Clients() != 0 {
		select {
		case <-deadline:
			t.Fatalf("Clients = %d, abandoned attach was not undone", s.Clients())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSession_PlaceholderKeepsSessionActive(t *testing.T) {
	cfg := onDemandConfig()
	cfg.Placeholder = true
	factory := &fakeFactory{failures: 1}

	s := New(testDescriptor(), factory, events.New(), cfg)
	defer s.Stop(context.Background())

	if err := s.Attach(context.Background(), "c1"); err != nil {
		t.Fatalf("Attach with placeholder policy: %v", err)
	}
	if s.State() != StateActive {
		t.Errorf("State = %s, want active with placeholder pipeline", s.State())
	}
	if s.Clients() != 1 {
		t.Errorf("Clients = %d, client should be attached to the placeholder", s.Clients())
	}
}

func TestSession_PlaceholderRetriesRealSource(t *testing.T) {
	cfg := onDemandConfig()
	cfg.Placeholder = true
	factory := &fakeFactory{failures: 2}
	bus := events.New()
	restarts := make(chan events.PipelineRestartEvent, 8)
	unsub := bus.Subscribe(func(e events.PipelineRestartEvent) {
		restarts <- e
	})
	defer unsub()

	s := New(testDescriptor(), factory, bus, cfg)
	defer s.Stop(context.Background())

	if err := s.Attach(context.Background(), "c1"); err != nil {
		t.Fatalf("Attach with placeholder policy: %v", err)
	}
	if s.State() != StateActive {
		t.Fatalf("State = %s, want active on placeholder", s.State())
	}

	// The retry timer brings the real source back without ever leaving
	// the active state.
	waitForCreated(t, factory, 1)
	if s.State() != StateActive {
		t.Errorf("State = %s, session should stay active across the retry", s.State())
	}

	// The recovered pipeline is live: an error from it restarts.
	factory.pipeline(0).events <- engine.Event{Kind: engine.EventError, Err: errors.New("read timeout")}
	select {
	case <-restarts:
	case <-time.After(time.Second):
		t.Fatal("Recovered pipeline's events are not being consumed")
	}
}

func TestSession_Stop(t *testing.T) {
	factory := &fakeFactory{}
	s := New(testDescriptor(), factory, events.New(), onDemandConfig())

	if err := s.Attach(context.Background(), "c1"); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if s.State() != StateStopped {
		t.Errorf("State = %s, want stopped", s.State())
	}
	if !factory.pipeline(0).closed.Load() {
		t.Error("Pipeline should be closed on stop")
	}
	if err := s.Attach(context.Background(), "c2"); !errors.Is(err, ErrSessionStopped) {
		t.Errorf("Attach after stop = %v, want ErrSessionStopped", err)
	}

	// Stop is idempotent.
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Second Stop: %v", err)
	}
}

func TestSession_StopCancelsStarting(t *testing.T) {
	factory := &fakeFactory{block: make(chan struct{})}
	s := New(testDescriptor(), factory, events.New(), onDemandConfig())

	go func() {
		_ = s.Attach(context.Background(), "c1")
	}()
	waitForState(t, s, StateStarting)

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop during starting: %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("State = %s, want stopped", s.State())
	}
}
