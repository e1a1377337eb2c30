package session

import "time"

// BackoffConfig bounds pipeline restarts.
type BackoffConfig struct {
	// Base is the delay before the first restart; each subsequent
	// restart doubles it up to Cap.
	Base time.Duration
	// Cap is the maximum delay between restarts.
	Cap time.Duration
	// MaxAttempts is the restart budget within Window. Exceeding it
	// fails the session.
	MaxAttempts int
	// Window is the rolling interval the budget applies to. Old
	// attempts age out, so an occasionally flaky source never
	// accumulates into a failure.
	Window time.Duration
}

// backoff tracks restart attempts inside a rolling window. Not safe
// for concurrent use; it lives inside the session goroutine.
type backoff struct {
	cfg      BackoffConfig
	attempts []time.Time
}

func newBackoff(cfg BackoffConfig) *backoff {
	return &backoff{cfg: cfg}
}

// next records an attempt at now and returns the delay to wait before
// restarting. ok is false when the window budget is exhausted.
func (b *backoff) next(now time.Time) (delay time.Duration, ok bool) {
	b.prune(now)

	if len(b.attempts) >= b.cfg.MaxAttempts {
		return 0, false
	}

	delay = b.cfg.Base << len(b.attempts)
	if delay > b.cfg.Cap || delay <= 0 {
		delay = b.cfg.Cap
	}
	b.attempts = append(b.attempts, now)
	return delay, true
}

// count returns the attempts still inside the window.
func (b *backoff) count(now time.Time) int {
	b.prune(now)
	return len(b.attempts)
}

func (b *backoff) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	for len(b.attempts) > 0 && b.attempts[0].Before(cutoff) {
		b.attempts = b.attempts[1:]
	}
}
