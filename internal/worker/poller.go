// Package worker runs the polling loop that rebuilds and publishes dashboard snapshots.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mtlprog/dcastat/internal/domain"
)

// ErrFetchInFlight is returned when a poll is requested while another one is running.
var ErrFetchInFlight = errors.New("fetch already in flight")

// State is the phase of the poller.
type State string

const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateSuccess  State = "success"
	StateFailed   State = "failed"
)

// SnapshotBuilder runs one aggregation pass.
type SnapshotBuilder interface {
	Build(ctx context.Context, now time.Time) (domain.Snapshot, error)
}

// Publisher makes a snapshot the latest one.
type Publisher interface {
	Publish(snap domain.Snapshot) domain.Snapshot
}

// Observer receives poll outcomes, typically for metrics.
type Observer interface {
	ObservePoll(success bool, d time.Duration)
	ObserveRetry()
	ObserveSnapshot(snap domain.Snapshot)
}

// Clock abstracts time so tests can drive scheduling.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks at a fixed interval until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now().UTC() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (realClock) NewTicker(d time.Duration) Ticker       { return realTicker{time.NewTicker(d)} }

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Status describes the poller for the presentation layer.
type Status struct {
	State         State      `json:"state"`
	LastResult    State      `json:"lastResult,omitempty"`
	Attempt       int        `json:"attempt"`
	LastError     string     `json:"lastError,omitempty"`
	Err           error      `json:"-"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`
	Polls         int        `json:"polls"`
	Failures      int        `json:"failures"`
}

// Config holds the poller timings.
type Config struct {
	Interval     time.Duration
	RetryDelay   time.Duration
	RetryMax     int
	FetchTimeout time.Duration
}

// Poller rebuilds the snapshot on a timer and on demand, one fetch at a time.
type Poller struct {
	builder   SnapshotBuilder
	publisher Publisher
	observer  Observer
	clock     Clock
	cfg       Config

	inFlight atomic.Bool
	trigger  chan struct{}

	mu     sync.RWMutex
	status Status
}

// NewPoller creates a Poller. observer may be nil; clock defaults to the wall clock.
func NewPoller(builder SnapshotBuilder, publisher Publisher, observer Observer, clock Clock, cfg Config) *Poller {
	if clock == nil {
		clock = RealClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	return &Poller{
		builder:   builder,
		publisher: publisher,
		observer:  observer,
		clock:     clock,
		cfg:       cfg,
		trigger:   make(chan struct{}, 1),
		status:    Status{State: StateIdle},
	}
}

// Run polls immediately, then on every interval tick and on every Refresh. Ticks run on a
// fixed schedule; a tick that lands during a poll is coalesced into at most one follow-up.
// It blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("Poller: starting", "interval", p.cfg.Interval, "retryMax", p.cfg.RetryMax)

	ticker := p.clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Poller: shutting down")
			return
		case <-ticker.C():
		case <-p.trigger:
			slog.Info("Poller: manual refresh")
		}
		p.runOnce(ctx)
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	if err := p.Poll(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("Poller: poll failed", "error", err)
	}
}

// Refresh asks the running loop to poll now. It returns ErrFetchInFlight when a poll is
// running; a refresh already pending absorbs this one.
func (p *Poller) Refresh() error {
	if p.inFlight.Load() {
		return ErrFetchInFlight
	}
	select {
	case p.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Poll builds and publishes one snapshot, retrying failures up to RetryMax times with a
// constant delay. After the last failure the state is Failed and the previous snapshot
// stays published.
func (p *Poller) Poll(ctx context.Context) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		return ErrFetchInFlight
	}
	defer p.inFlight.Store(false)

	start := p.clock.Now()
	var lastErr error
	for attempt := range p.cfg.RetryMax + 1 {
		if attempt > 0 {
			p.observe(func(o Observer) { o.ObserveRetry() })
			select {
			case <-ctx.Done():
				p.finish(StateIdle, ctx.Err())
				return ctx.Err()
			case <-p.clock.After(p.cfg.RetryDelay):
			}
		}

		p.begin(attempt + 1)
		snap, err := p.fetch(ctx)
		if err == nil {
			published := p.publisher.Publish(snap)
			p.observe(func(o Observer) {
				o.ObservePoll(true, p.clock.Now().Sub(start))
				o.ObserveSnapshot(published)
			})
			p.succeed(published.GeneratedAt)
			slog.Info("Poller: snapshot published",
				"positions", len(published.Positions),
				"tokens", len(published.Summary),
				"warnings", len(published.Warnings),
				"attempt", attempt+1)
			return nil
		}
		if ctx.Err() != nil {
			p.finish(StateIdle, ctx.Err())
			return ctx.Err()
		}

		lastErr = err
		slog.Warn("Poller: fetch failed", "attempt", attempt+1, "maxAttempts", p.cfg.RetryMax+1, "error", err)
	}

	p.observe(func(o Observer) { o.ObservePoll(false, p.clock.Now().Sub(start)) })
	p.finish(StateFailed, lastErr)
	return fmt.Errorf("poll failed after %d attempts: %w", p.cfg.RetryMax+1, lastErr)
}

func (p *Poller) fetch(ctx context.Context) (domain.Snapshot, error) {
	if p.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.FetchTimeout)
		defer cancel()
	}
	return p.builder.Build(ctx, p.clock.Now())
}

// Status returns the current poller status.
func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *Poller) begin(attempt int) {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.State = StateFetching
	p.status.Attempt = attempt
	p.status.LastAttemptAt = &now
}

func (p *Poller) succeed(at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.State = StateIdle
	p.status.LastResult = StateSuccess
	p.status.LastError = ""
	p.status.Err = nil
	p.status.LastSuccessAt = &at
	p.status.Polls++
}

func (p *Poller) finish(state State, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.State = state
	if state == StateFailed {
		p.status.LastResult = StateFailed
		p.status.Failures++
		p.status.Polls++
	}
	if err != nil {
		p.status.LastError = err.Error()
		p.status.Err = err
	}
}

func (p *Poller) observe(fn func(Observer)) {
	if p.observer != nil {
		fn(p.observer)
	}
}
