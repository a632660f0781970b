package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Jagard11/Launcher/internal/discovery"
	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/domain/session"
	"github.com/Jagard11/Launcher/internal/enrich"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock only moves when Advance is called. Each tick is handed to the
// scheduler synchronously, so once Advance returns every due tick was received.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	ticker *fakeTicker
	ready  chan struct{}
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch, ready: make(chan struct{})}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time), every: d, next: c.now.Add(d)}
	c.ticker = t
	close(c.ready)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	<-c.ready
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		t := c.ticker
		if t.next.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = t.next
		t.next = t.next.Add(t.every)
		now := c.now
		c.mu.Unlock()
		t.ch <- now
	}
}

type fakeTicker struct {
	ch    chan time.Time
	every time.Duration
	next  time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

type stubScanner struct {
	calls chan session.Kind
	gate  chan struct{}
	count atomic.Int32
}

func newStubScanner(gated bool) *stubScanner {
	s := &stubScanner{calls: make(chan session.Kind, 64)}
	if gated {
		s.gate = make(chan struct{})
	}
	return s
}

func (s *stubScanner) Scan(ctx context.Context, kind session.Kind) (*discovery.Result, error) {
	s.count.Add(1)
	s.calls <- kind
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &discovery.Result{Kind: kind, Counts: session.Counts{Discovered: 1}}, nil
}

type stubEnricher struct {
	count atomic.Int32
	opts  chan enrich.DrainOptions
}

func (e *stubEnricher) Drain(_ context.Context, opts enrich.DrainOptions) (enrich.DrainStats, error) {
	e.count.Add(1)
	if e.opts != nil {
		e.opts <- opts
	}
	return enrich.DrainStats{Claimed: 1, Committed: 1}, nil
}

type stubMarker struct {
	markFn func(ctx context.Context, id string) (*project.Project, error)
}

func (m stubMarker) MarkDirty(ctx context.Context, id string) (*project.Project, error) {
	return m.markFn(ctx, id)
}

type harness struct {
	s     *Scheduler
	clock *fakeClock
	stop  func()
}

func start(t *testing.T, deps Deps, cfg Config) *harness {
	t.Helper()
	clk := newFakeClock()
	deps.Clock = clk
	if deps.Scanner == nil {
		deps.Scanner = newStubScanner(false)
	}
	if deps.Enricher == nil {
		deps.Enricher = &stubEnricher{}
	}
	s := New(deps, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			require.NoError(t, <-errc)
		})
	}
	t.Cleanup(stop)
	return &harness{s: s, clock: clk, stop: stop}
}

func (h *harness) status(t *testing.T) Status {
	t.Helper()
	st, err := h.s.Status(context.Background())
	require.NoError(t, err)
	return st
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.status(t).Running) == 0
	}, 2*time.Second, time.Millisecond)
}

// step advances the clock one minute at a time and lets the jobs each tick
// started finish before moving on.
func (h *harness) step(t *testing.T, minutes int) {
	t.Helper()
	for i := 0; i < minutes; i++ {
		h.clock.Advance(time.Minute)
		h.waitIdle(t)
	}
}

var minuteCadence = Config{
	QuickInterval:  5 * time.Minute,
	FullInterval:   time.Hour,
	EnrichInterval: 2 * time.Minute,
	Resolution:     time.Minute,
}

func TestScheduler_CadencesAreIndependent(t *testing.T) {
	h := start(t, Deps{}, minuteCadence)

	h.step(t, 2)
	st := h.status(t)
	require.Equal(t, 1, st.Runs[KindEnrich])
	require.Equal(t, 0, st.Runs[KindQuick])
	require.Equal(t, 0, st.Runs[KindFull])

	h.step(t, 58)
	st = h.status(t)
	require.Equal(t, 30, st.Runs[KindEnrich])
	require.Equal(t, 12, st.Runs[KindQuick])
	require.Equal(t, 1, st.Runs[KindFull])
	require.Equal(t, epoch.Add(2*time.Hour), st.NextDue[KindFull])
	require.Equal(t, TriggerInterval, st.Last[KindFull].Trigger)
	require.Equal(t, session.KindFull, st.Last[KindFull].Scan.Kind)
}

func TestScheduler_ManualTriggerRearmsOnlyItsOwnCadence(t *testing.T) {
	h := start(t, Deps{}, minuteCadence)
	ctx := context.Background()

	h.step(t, 3)
	ticket, err := h.s.TriggerFullScan(ctx)
	require.NoError(t, err)
	require.True(t, ticket.Started)
	require.False(t, ticket.Coalesced)

	res, err := ticket.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, KindFull, res.Kind)
	require.Equal(t, TriggerManual, res.Trigger)
	require.Empty(t, res.Error)
	require.Equal(t, session.KindFull, res.Scan.Kind)

	st := h.status(t)
	require.Equal(t, epoch.Add(3*time.Minute+time.Hour), st.NextDue[KindFull])
	require.Equal(t, epoch.Add(5*time.Minute), st.NextDue[KindQuick])
	require.Equal(t, epoch.Add(4*time.Minute), st.NextDue[KindEnrich])

	ticket, err = h.s.TriggerQuickScan(ctx)
	require.NoError(t, err)
	_, err = ticket.Wait(ctx)
	require.NoError(t, err)

	// The quick cadence now counts from minute 3, so minute 5 passes quietly.
	h.step(t, 2)
	st = h.status(t)
	require.Equal(t, 1, st.Runs[KindQuick])
	require.Equal(t, epoch.Add(8*time.Minute), st.NextDue[KindQuick])
	require.Equal(t, 2, st.Runs[KindEnrich])
}

func TestScheduler_OverlappingTriggersCoalesce(t *testing.T) {
	scanner := newStubScanner(true)
	h := start(t, Deps{Scanner: scanner}, minuteCadence)
	ctx := context.Background()

	first, err := h.s.TriggerFullScan(ctx)
	require.NoError(t, err)
	require.True(t, first.Started)
	require.Equal(t, session.KindFull, <-scanner.calls)

	second, err := h.s.TriggerFullScan(ctx)
	require.NoError(t, err)
	require.False(t, second.Started)
	require.True(t, second.Coalesced)

	st := h.status(t)
	require.Equal(t, []Kind{KindFull}, st.Running)
	require.Equal(t, 1, st.Runs[KindFull])
	require.Equal(t, 1, st.Coalesced[KindFull])

	close(scanner.gate)
	r1, err := first.Wait(ctx)
	require.NoError(t, err)
	r2, err := second.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, r1.StartedAt, r2.StartedAt)
	require.Equal(t, int32(1), scanner.count.Load())
}

func TestScheduler_IntervalDueWhileRunningIsAbsorbed(t *testing.T) {
	scanner := newStubScanner(true)
	h := start(t, Deps{Scanner: scanner}, minuteCadence)

	h.clock.Advance(5 * time.Minute)
	require.Equal(t, session.KindQuick, <-scanner.calls)

	h.clock.Advance(5 * time.Minute)
	st := h.status(t)
	require.Equal(t, 1, st.Runs[KindQuick])
	require.Equal(t, 1, st.Coalesced[KindQuick])
	require.Contains(t, st.Running, KindQuick)

	close(scanner.gate)
	h.waitIdle(t)
	require.Equal(t, int32(1), scanner.count.Load())
}

func TestScheduler_EnrichSweepRetriesErrored(t *testing.T) {
	enricher := &stubEnricher{opts: make(chan enrich.DrainOptions, 4)}
	h := start(t, Deps{Enricher: enricher}, minuteCadence)
	ctx := context.Background()

	ticket, err := h.s.TriggerEnrich(ctx)
	require.NoError(t, err)
	res, err := ticket.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Drain.Committed)
	require.True(t, (<-enricher.opts).IncludeErrored)
}

func TestScheduler_MarkDirtyStartsSweep(t *testing.T) {
	marked := make(chan string, 1)
	marker := stubMarker{markFn: func(_ context.Context, id string) (*project.Project, error) {
		if id == "gone" {
			return nil, project.ErrProjectNotFound
		}
		marked <- id
		return &project.Project{ID: id, Dirty: true}, nil
	}}
	h := start(t, Deps{Marker: marker}, minuteCadence)
	ctx := context.Background()

	p, ticket, err := h.s.MarkDirty(ctx, "p1")
	require.NoError(t, err)
	require.True(t, p.Dirty)
	require.Equal(t, "p1", <-marked)
	require.Equal(t, KindEnrich, ticket.Kind)

	res, err := ticket.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, TriggerMarkDirty, res.Trigger)

	st := h.status(t)
	require.Equal(t, epoch.Add(2*time.Minute), st.NextDue[KindEnrich])
	require.Equal(t, epoch.Add(5*time.Minute), st.NextDue[KindQuick])

	_, _, err = h.s.MarkDirty(ctx, "gone")
	require.ErrorIs(t, err, project.ErrProjectNotFound)
	require.Equal(t, 1, h.status(t).Runs[KindEnrich])
}

func TestScheduler_NudgeStartsQuickScan(t *testing.T) {
	scanner := newStubScanner(true)
	h := start(t, Deps{Scanner: scanner}, minuteCadence)

	h.s.Nudge()
	require.Equal(t, session.KindQuick, <-scanner.calls)
	require.Eventually(t, func() bool {
		return h.status(t).Runs[KindQuick] == 1
	}, 2*time.Second, time.Millisecond)

	h.s.Nudge()
	require.Eventually(t, func() bool {
		return h.status(t).Coalesced[KindQuick] == 1
	}, 2*time.Second, time.Millisecond)

	close(scanner.gate)
	h.waitIdle(t)
	require.Equal(t, TriggerWatch, h.status(t).Last[KindQuick].Trigger)
}

func TestScheduler_StopCancelsRunningJobs(t *testing.T) {
	scanner := newStubScanner(true)
	h := start(t, Deps{Scanner: scanner}, minuteCadence)
	ctx := context.Background()

	ticket, err := h.s.TriggerFullScan(ctx)
	require.NoError(t, err)
	<-scanner.calls

	h.stop()

	res, err := ticket.Wait(ctx)
	require.NoError(t, err)
	require.Contains(t, res.Error, context.Canceled.Error())

	_, err = h.s.Status(ctx)
	require.ErrorIs(t, err, ErrStopped)
	_, err = h.s.TriggerQuickScan(ctx)
	require.ErrorIs(t, err, ErrStopped)
	require.ErrorIs(t, h.s.Run(ctx), ErrAlreadyRunning)
}

func TestScheduler_StartupScan(t *testing.T) {
	cfg := minuteCadence
	cfg.ScanOnStart = true
	scanner := newStubScanner(false)
	h := start(t, Deps{Scanner: scanner}, cfg)

	require.Equal(t, session.KindQuick, <-scanner.calls)
	h.waitIdle(t)
	require.Equal(t, TriggerStartup, h.status(t).Last[KindQuick].Trigger)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("full")
	require.NoError(t, err)
	require.Equal(t, KindFull, k)

	_, err = ParseKind("weekly")
	require.True(t, errors.Is(err, ErrUnknownKind))

	_, err = New(Deps{}, Config{}).Trigger(context.Background(), "weekly", TriggerManual)
	require.ErrorIs(t, err, ErrUnknownKind)
}
