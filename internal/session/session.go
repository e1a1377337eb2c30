package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"camgate/internal/engine"
	"camgate/internal/events"
	"camgate/internal/logging"
	"camgate/internal/registry"
)

var (
	// ErrSessionFailed is returned to clients attaching to a session
	// whose restart budget is exhausted.
	ErrSessionFailed = errors.New("session failed, restart budget exhausted")
	// ErrSessionStopped is returned when the session has been shut down.
	ErrSessionStopped = errors.New("session stopped")
)

// Config controls session behavior.
type Config struct {
	// OnDemand delays pipeline creation until the first client attaches
	// and suspends it after IdleTimeout at zero clients. When false the
	// pipeline runs for the lifetime of the mount.
	OnDemand bool
	// IdleTimeout is how long a pipeline survives with zero clients.
	IdleTimeout time.Duration
	// CloseTimeout bounds pipeline teardown. Defaults to 5s.
	CloseTimeout time.Duration
	// Placeholder keeps the session active with a stand-in pipeline
	// when the source cannot be reached, instead of consuming restart
	// budget. The real source is retried in the background while the
	// placeholder serves.
	Placeholder bool
	// Backoff bounds restarts after pipeline errors.
	Backoff BackoffConfig
}

type attachCmd struct {
	remote string
	reply  chan error
}

type detachCmd struct {
	remote string
}

type stopCmd struct {
	reply chan error
}

type startResult struct {
	pipeline engine.Pipeline
	err      error
}

// Session owns one stream's pipeline. All state lives in the run
// goroutine; Attach, Detach and Stop communicate over the command
// channel, which serializes every transition.
type Session struct {
	desc    registry.StreamDescriptor
	factory engine.Factory
	bus     *events.Bus
	cfg     Config
	logger  *slog.Logger

	cmds chan any
	done chan struct{}

	state       atomic.Value
	clientCount atomic.Int64
	restarts    atomic.Int64
	lastError   atomic.Value
}

type lastError struct {
	msg string
	at  time.Time
}

// New creates a session and starts its goroutine. With OnDemand false
// the pipeline starts immediately.
func New(desc registry.StreamDescriptor, factory engine.Factory, bus *events.Bus, cfg Config) *Session {
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 5 * time.Second
	}
	s := &Session{
		desc:    desc,
		factory: factory,
		bus:     bus,
		cfg:     cfg,
		logger:  logging.GetLogger("session").With("stream_id", desc.ID),
		cmds:    make(chan any, 16),
		done:    make(chan struct{}),
	}
	s.state.Store(StateIdle)
	go s.run()
	return s
}

// Descriptor returns the descriptor this session serves.
func (s *Session) Descriptor() registry.StreamDescriptor {
	return s.desc
}

// State returns the current session state.
func (s *Session) State() State {
	return s.state.Load().(State)
}

// Clients returns the number of attached clients.
func (s *Session) Clients() int {
	return int(s.clientCount.Load())
}

// Restarts returns how many pipeline restarts have been scheduled over
// the session's lifetime.
func (s *Session) Restarts() int {
	return int(s.restarts.Load())
}

// LastError returns the most recent pipeline error and when it
// happened. Empty when the session has never seen one.
func (s *Session) LastError() (string, time.Time) {
	if le, ok := s.lastError.Load().(lastError); ok {
		return le.msg, le.at
	}
	return "", time.Time{}
}

func (s *Session) recordError(err error) {
	if err != nil {
		s.lastError.Store(lastError{msg: err.Error(), at: time.Now()})
	}
}

// Attach registers a client. In Idle or Suspended it starts the
// pipeline and blocks until media is available, the session fails, or
// ctx expires. Implements engine.MountHandler.
func (s *Session) Attach(ctx context.Context, remote string) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- attachCmd{remote: remote, reply: reply}:
	case <-s.done:
		return ErrSessionStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrSessionStopped
	case <-ctx.Done():
		// The session may still grant this attach later; undo it so
		// the client count stays correct.
		go func() {
			select {
			case err := <-reply:
				if err == nil {
					s.Detach(remote)
				}
			case <-s.done:
			}
		}()
		return ctx.Err()
	}
}

// Detach unregisters a client. Implements engine.MountHandler.
func (s *Session) Detach(remote string) {
	select {
	case s.cmds <- detachCmd{remote: remote}:
	case <-s.done:
	}
}

// Stop shuts the session down, tearing down any pipeline. Safe to call
// more than once.
func (s *Session) Stop(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- stopCmd{reply: reply}:
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) setState(to State) {
	from := s.State()
	if from == to {
		return
	}
	s.state.Store(to)
	s.logger.Debug("Session state changed", "from", string(from), "to", string(to))
	s.bus.Publish(events.SessionStateChangedEvent{
		StreamID:  s.desc.ID,
		From:      string(from),
		To:        string(to),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// run is the session goroutine. Exactly one of startRes, the pipeline
// event channel and the timers is armed per state, so every transition
// is a plain select case.
func (s *Session) run() {
	var (
		pipeline       engine.Pipeline
		pipelineEvents <-chan engine.Event
		startRes       chan startResult
		startCancel    context.CancelFunc
		restartTimer   *time.Timer
		restartC       <-chan time.Time
		idleTimer      *time.Timer
		idleC          <-chan time.Time
		waiters        []chan error
		clients        int
		onPlaceholder  bool
	)
	bo := newBackoff(s.cfg.Backoff)

	retryInterval := s.cfg.Backoff.Cap
	if retryInterval <= 0 {
		retryInterval = 30 * time.Second
	}

	beginStart := func() {
		ctx, cancel := context.WithCancel(context.Background())
		startCancel = cancel
		res := make(chan startResult, 1)
		startRes = res
		go func() {
			p, err := s.factory.Create(ctx, s.desc)
			res <- startResult{pipeline: p, err: err}
		}()
		// While a placeholder serves, retries of the real source run
		// behind an Active session instead of flipping it to Starting.
		if !onPlaceholder {
			s.setState(StateStarting)
		}
	}

	stopIdle := func() {
		if idleTimer != nil {
			idleTimer.Stop()
			idleTimer, idleC = nil, nil
		}
	}

	stopRestart := func() {
		if restartTimer != nil {
			restartTimer.Stop()
			restartTimer, restartC = nil, nil
		}
	}

	closePipeline := func() {
		if pipeline == nil {
			return
		}
		p := pipeline
		pipeline, pipelineEvents = nil, nil
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CloseTimeout)
			defer cancel()
			if err := p.Close(ctx); err != nil {
				s.logger.Warn("Pipeline close failed", "error", err)
			}
		}()
	}

	failWaiters := func(err error) {
		for _, w := range waiters {
			w <- err
		}
		waiters = nil
	}

	grantWaiters := func() {
		for _, w := range waiters {
			w <- nil
		}
		clients += len(waiters)
		waiters = nil
		s.clientCount.Store(int64(clients))
	}

	armIdle := func() {
		if clients == 0 && s.cfg.OnDemand && s.cfg.IdleTimeout > 0 {
			stopIdle()
			idleTimer = time.NewTimer(s.cfg.IdleTimeout)
			idleC = idleTimer.C
		}
	}

	// installPlaceholder keeps the mount serviceable on a stand-in
	// pipeline and arms a timer to retry the real source. A failed
	// retry re-arms the timer without touching the idle countdown.
	installPlaceholder := func() {
		if !onPlaceholder {
			if pf, ok := s.factory.(engine.PlaceholderFactory); ok {
				pipeline = pf.CreatePlaceholder(s.desc)
			} else {
				pipeline = engine.NewPlaceholder()
			}
			pipelineEvents = pipeline.Events()
			onPlaceholder = true
			s.setState(StateActive)
			armIdle()
		}
		grantWaiters()
		stopRestart()
		restartTimer = time.NewTimer(retryInterval)
		restartC = restartTimer.C
	}

	scheduleRestart := func(reason string) {
		now := time.Now()
		delay, ok := bo.next(now)
		if !ok {
			if s.cfg.Placeholder {
				s.logger.Warn("Restart budget exhausted, serving placeholder",
					"window", s.cfg.Backoff.Window, "max_attempts", s.cfg.Backoff.MaxAttempts)
				installPlaceholder()
				return
			}
			s.logger.Error("Restart budget exhausted, failing session",
				"window", s.cfg.Backoff.Window, "max_attempts", s.cfg.Backoff.MaxAttempts)
			failWaiters(ErrSessionFailed)
			s.setState(StateFailed)
			return
		}

		attempt := bo.count(now)
		s.restarts.Add(1)
		s.logger.Info("Scheduling pipeline restart",
			"reason", reason, "delay", delay, "attempt", attempt)
		s.bus.Publish(events.PipelineRestartEvent{
			StreamID:  s.desc.ID,
			Reason:    reason,
			Attempt:   attempt,
			Timestamp: now.Format(time.RFC3339),
		})
		s.setState(StateStarting)
		restartTimer = time.NewTimer(delay)
		restartC = restartTimer.C
	}

	if !s.cfg.OnDemand {
		beginStart()
	}

	for {
		select {
		case cmd := <-s.cmds:
			switch c := cmd.(type) {
			case attachCmd:
				switch s.State() {
				case StateFailed:
					c.reply <- ErrSessionFailed
				case StateActive:
					clients++
					s.clientCount.Store(int64(clients))
					stopIdle()
					c.reply <- nil
				case StateStarting:
					waiters = append(waiters, c.reply)
				default: // Idle, Suspended
					waiters = append(waiters, c.reply)
					beginStart()
				}

			case detachCmd:
				if clients > 0 {
					clients--
					s.clientCount.Store(int64(clients))
				}
				if s.State() == StateActive {
					armIdle()
				}

			case stopCmd:
				if startCancel != nil {
					startCancel()
				}
				stopIdle()
				stopRestart()

				// Collect an in-flight start so its pipeline is not
				// leaked.
				if startRes != nil {
					if r := <-startRes; r.pipeline != nil {
						if pipeline != nil {
							ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CloseTimeout)
							_ = pipeline.Close(ctx)
							cancel()
						}
						pipeline = r.pipeline
					}
				}

				var closeErr error
				if pipeline != nil {
					ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CloseTimeout)
					closeErr = pipeline.Close(ctx)
					cancel()
					pipeline, pipelineEvents = nil, nil
				}

				failWaiters(ErrSessionStopped)
				clients = 0
				s.clientCount.Store(0)
				s.setState(StateStopped)
				close(s.done)
				c.reply <- closeErr
				return
			}

		case r := <-startRes:
			startRes = nil
			if startCancel != nil {
				startCancel()
				startCancel = nil
			}

			if r.err != nil {
				s.logger.Warn("Pipeline start failed", "error", r.err)
				s.recordError(r.err)
				if s.cfg.Placeholder {
					installPlaceholder()
					break
				}
				scheduleRestart("error")
				break
			}

			if onPlaceholder {
				// The real source is back; retire the stand-in.
				closePipeline()
				onPlaceholder = false
				stopRestart()
			}
			pipeline = r.pipeline
			pipelineEvents = pipeline.Events()
			s.setState(StateActive)
			grantWaiters()
			armIdle()

		case ev := <-pipelineEvents:
			if ev.Kind == engine.EventError {
				s.logger.Warn("Pipeline error", "error", ev.Err)
				s.recordError(ev.Err)
			} else {
				s.logger.Info("Source ended stream")
			}
			closePipeline()
			stopIdle()
			scheduleRestart(ev.Kind.String())

		case <-restartC:
			restartTimer, restartC = nil, nil
			beginStart()

		case <-idleC:
			idleTimer, idleC = nil, nil
			if clients == 0 && s.State() == StateActive {
				s.logger.Info("Idle timeout reached, suspending pipeline")
				closePipeline()
				stopRestart()
				onPlaceholder = false
				s.setState(StateSuspended)
			}
		}
	}
}
