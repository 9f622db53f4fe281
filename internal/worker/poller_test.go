package worker

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mtlprog/dcastat/internal/domain"
)

// fakeClock fires every After immediately and records the requested delays. Tickers only
// fire on tick.
type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	delays    []time.Duration
	block     bool
	intervals []time.Duration
	tickers   []*fakeTicker
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	c.intervals = append(c.intervals, d)
	c.tickers = append(c.tickers, t)
	return t
}

// tick fires every live ticker once, dropping the tick when one is already pending.
func (c *fakeClock) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tickers {
		if t.stopped.Load() {
			continue
		}
		select {
		case t.ch <- c.now:
		default:
		}
	}
}

func (c *fakeClock) tickerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delays = append(c.delays, d)
	ch := make(chan time.Time, 1)
	if !c.block {
		c.now = c.now.Add(d)
		ch <- c.now
	}
	return ch
}

type mockBuilder struct {
	calls   atomic.Int32
	results []error
	started chan struct{}
	release chan struct{}
}

func (m *mockBuilder) Build(ctx context.Context, now time.Time) (domain.Snapshot, error) {
	n := int(m.calls.Add(1))
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.release != nil {
		<-m.release
	}
	if n <= len(m.results) && m.results[n-1] != nil {
		return domain.Snapshot{}, m.results[n-1]
	}
	return domain.Snapshot{GeneratedAt: now}, nil
}

type mockPublisher struct {
	mu        sync.Mutex
	published []domain.Snapshot
}

func (m *mockPublisher) Publish(s domain.Snapshot) domain.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, s)
	return s
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

type mockObserver struct {
	mu        sync.Mutex
	successes int
	failures  int
	retries   int
}

func (m *mockObserver) ObservePoll(success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.successes++
	} else {
		m.failures++
	}
}

func (m *mockObserver) ObserveRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *mockObserver) ObserveSnapshot(domain.Snapshot) {}

func testConfig() Config {
	return Config{Interval: 5 * time.Second, RetryDelay: 2 * time.Second, RetryMax: 2, FetchTimeout: time.Second}
}

func TestPollSuccess(t *testing.T) {
	b := &mockBuilder{}
	pub := &mockPublisher{}
	obs := &mockObserver{}
	p := NewPoller(b, pub, obs, &fakeClock{now: time.Unix(1000, 0)}, testConfig())

	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pub.count() != 1 {
		t.Errorf("published = %d, want 1", pub.count())
	}
	st := p.Status()
	if st.State != StateIdle || st.LastResult != StateSuccess {
		t.Errorf("status = %s/%s, want idle/success", st.State, st.LastResult)
	}
	if st.LastSuccessAt == nil {
		t.Error("LastSuccessAt not set")
	}
	if obs.successes != 1 || obs.retries != 0 {
		t.Errorf("observer = %+v", obs)
	}
}

func TestPollRetriesThenSucceeds(t *testing.T) {
	b := &mockBuilder{results: []error{domain.ErrProviderUnavailable, domain.ErrProviderUnavailable}}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	obs := &mockObserver{}
	p := NewPoller(b, &mockPublisher{}, obs, clock, testConfig())

	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := b.calls.Load(); got != 3 {
		t.Errorf("build calls = %d, want 3", got)
	}
	if len(clock.delays) != 2 {
		t.Fatalf("waits = %v, want 2", clock.delays)
	}
	for _, d := range clock.delays {
		if d != 2*time.Second {
			t.Errorf("retry delay = %v, want constant 2s", d)
		}
	}
	if obs.retries != 2 {
		t.Errorf("retries = %d, want 2", obs.retries)
	}
}

func TestPollFailsAfterRetryCap(t *testing.T) {
	b := &mockBuilder{results: []error{
		domain.ErrProviderUnavailable,
		domain.ErrProviderUnavailable,
		domain.ErrProviderUnavailable,
	}}
	pub := &mockPublisher{}
	obs := &mockObserver{}
	p := NewPoller(b, pub, obs, &fakeClock{now: time.Unix(1000, 0)}, testConfig())

	err := p.Poll(context.Background())
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
	if got := b.calls.Load(); got != 3 {
		t.Errorf("build calls = %d, want 3", got)
	}
	st := p.Status()
	if st.State != StateFailed {
		t.Errorf("state = %s, want failed", st.State)
	}
	if !errors.Is(st.Err, domain.ErrProviderUnavailable) || st.LastError == "" {
		t.Errorf("status error = %v, want ErrProviderUnavailable", st.Err)
	}
	if pub.count() != 0 {
		t.Errorf("published = %d, want 0", pub.count())
	}
	if obs.failures != 1 {
		t.Errorf("failures = %d, want 1", obs.failures)
	}
}

func TestPollRecoversAfterFailure(t *testing.T) {
	b := &mockBuilder{results: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	p := NewPoller(b, &mockPublisher{}, nil, &fakeClock{now: time.Unix(1000, 0)}, testConfig())

	if err := p.Poll(context.Background()); err == nil {
		t.Fatal("expected first poll to fail")
	}
	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	st := p.Status()
	if st.State != StateIdle || st.Err != nil || st.Failures != 1 || st.Polls != 2 {
		t.Errorf("status = %+v", st)
	}
}

func TestPollInFlightRejected(t *testing.T) {
	b := &mockBuilder{started: make(chan struct{}, 1), release: make(chan struct{})}
	p := NewPoller(b, &mockPublisher{}, nil, &fakeClock{now: time.Unix(1000, 0)}, testConfig())

	done := make(chan error, 1)
	go func() { done <- p.Poll(context.Background()) }()
	<-b.started

	if err := p.Poll(context.Background()); !errors.Is(err, ErrFetchInFlight) {
		t.Errorf("concurrent Poll() = %v, want ErrFetchInFlight", err)
	}
	if err := p.Refresh(); !errors.Is(err, ErrFetchInFlight) {
		t.Errorf("Refresh() during poll = %v, want ErrFetchInFlight", err)
	}
	if st := p.Status(); st.State != StateFetching {
		t.Errorf("state = %s, want fetching", st.State)
	}

	close(b.release)
	if err := <-done; err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if got := b.calls.Load(); got != 1 {
		t.Errorf("build calls = %d, want 1", got)
	}
}

func TestPollFetchTimeout(t *testing.T) {
	b := &blockingBuilder{}
	cfg := testConfig()
	cfg.RetryMax = 0
	cfg.FetchTimeout = 20 * time.Millisecond
	p := NewPoller(b, &mockPublisher{}, nil, &fakeClock{now: time.Unix(1000, 0)}, cfg)

	err := p.Poll(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if p.Status().State != StateFailed {
		t.Errorf("state = %s, want failed", p.Status().State)
	}
}

type blockingBuilder struct{}

func (blockingBuilder) Build(ctx context.Context, _ time.Time) (domain.Snapshot, error) {
	<-ctx.Done()
	return domain.Snapshot{}, ctx.Err()
}

func TestRunRefreshAndShutdown(t *testing.T) {
	b := &mockBuilder{}
	pub := &mockPublisher{}
	p := NewPoller(b, pub, nil, &fakeClock{now: time.Unix(1000, 0), block: true}, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	// Refresh is rejected until the first poll has fully finished.
	waitFor(t, func() bool { return pub.count() == 1 && p.Refresh() == nil })
	waitFor(t, func() bool { return pub.count() == 2 })

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunTicksOnFixedInterval(t *testing.T) {
	// First attempt fails, so the first poll includes one retry wait.
	b := &mockBuilder{results: []error{domain.ErrProviderUnavailable}}
	pub := &mockPublisher{}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	p := NewPoller(b, pub, nil, clock, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return pub.count() == 1 && clock.tickerCount() == 1 })

	clock.mu.Lock()
	intervals := slices.Clone(clock.intervals)
	delays := slices.Clone(clock.delays)
	clock.mu.Unlock()
	if len(intervals) != 1 || intervals[0] != 5*time.Second {
		t.Errorf("ticker intervals = %v, want [5s]", intervals)
	}
	if slices.Contains(delays, 5*time.Second) {
		t.Errorf("waits = %v, interval must not be re-armed after a poll", delays)
	}

	clock.tick()
	waitFor(t, func() bool { return pub.count() == 2 })

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	clock.mu.Lock()
	stopped := clock.tickers[0].stopped.Load()
	clock.mu.Unlock()
	if !stopped {
		t.Error("ticker not stopped on shutdown")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 1s")
}
