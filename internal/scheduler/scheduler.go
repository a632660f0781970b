// Package scheduler runs quick scans, full scans and enrichment sweeps on
// independent cadences and accepts manual triggers for each.
//
// All scheduling state belongs to the goroutine running Run. Callers talk to it
// through messages, and jobs report back the same way, so nothing is shared.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Jagard11/Launcher/internal/discovery"
	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/domain/session"
	"github.com/Jagard11/Launcher/internal/enrich"
	"github.com/Jagard11/Launcher/internal/metrics"
)

const (
	DefaultQuickInterval  = 5 * time.Minute
	DefaultFullInterval   = time.Hour
	DefaultEnrichInterval = 2 * time.Minute
	DefaultResolution     = time.Second
)

var (
	ErrStopped        = errors.New("scheduler is not running")
	ErrAlreadyRunning = errors.New("scheduler is already running")
	ErrUnknownKind    = errors.New("unknown job kind")
)

// Kind names a scheduled job.
type Kind string

const (
	KindQuick  Kind = "quick"
	KindFull   Kind = "full"
	KindEnrich Kind = "enrich"
)

var kinds = []Kind{KindQuick, KindFull, KindEnrich}

// ParseKind maps a name to a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Trigger records why a job started.
type Trigger string

const (
	TriggerStartup   Trigger = "startup"
	TriggerInterval  Trigger = "interval"
	TriggerManual    Trigger = "manual"
	TriggerMarkDirty Trigger = "mark_dirty"
	TriggerWatch     Trigger = "watch"
)

// Config sets the cadences.
type Config struct {
	QuickInterval  time.Duration
	FullInterval   time.Duration
	EnrichInterval time.Duration
	// Resolution is how often due times are checked.
	Resolution time.Duration
	// ScanOnStart runs a quick scan as soon as Run starts.
	ScanOnStart bool
}

func (c Config) withDefaults() Config {
	if c.QuickInterval <= 0 {
		c.QuickInterval = DefaultQuickInterval
	}
	if c.FullInterval <= 0 {
		c.FullInterval = DefaultFullInterval
	}
	if c.EnrichInterval <= 0 {
		c.EnrichInterval = DefaultEnrichInterval
	}
	if c.Resolution <= 0 {
		c.Resolution = DefaultResolution
	}
	return c
}

func (c Config) interval(k Kind) time.Duration {
	switch k {
	case KindQuick:
		return c.QuickInterval
	case KindFull:
		return c.FullInterval
	default:
		return c.EnrichInterval
	}
}

// Scanner runs discovery scans.
type Scanner interface {
	Scan(ctx context.Context, kind session.Kind) (*discovery.Result, error)
}

// Enricher drains the dirty queue.
type Enricher interface {
	Drain(ctx context.Context, opts enrich.DrainOptions) (enrich.DrainStats, error)
}

// Marker marks a single project dirty.
type Marker interface {
	MarkDirty(ctx context.Context, id string) (*project.Project, error)
}

// Janitor prunes old history. It runs after every successful full scan.
type Janitor interface {
	Sweep(ctx context.Context) error
}

// JobResult describes a finished job.
type JobResult struct {
	Kind       Kind               `json:"kind"`
	Trigger    Trigger            `json:"trigger"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Scan       *discovery.Result  `json:"scan,omitempty"`
	Drain      *enrich.DrainStats `json:"drain,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Ticket is the answer to a trigger. When Coalesced is set the request was
// absorbed by the job already running, and Wait returns that job's result.
type Ticket struct {
	Kind      Kind `json:"kind"`
	Started   bool `json:"started"`
	Coalesced bool `json:"coalesced"`

	done <-chan JobResult
}

// Wait blocks until the job behind the ticket finishes.
func (t Ticket) Wait(ctx context.Context) (JobResult, error) {
	if t.done == nil {
		return JobResult{}, ErrStopped
	}
	select {
	case r, ok := <-t.done:
		if !ok {
			return JobResult{}, ErrStopped
		}
		return r, nil
	case <-ctx.Done():
		return JobResult{}, ctx.Err()
	}
}

// Status is a snapshot of the scheduler state.
type Status struct {
	Now       time.Time          `json:"now"`
	Running   []Kind             `json:"running"`
	NextDue   map[Kind]time.Time `json:"next_due"`
	Last      map[Kind]JobResult `json:"last"`
	Runs      map[Kind]int       `json:"runs"`
	Coalesced map[Kind]int       `json:"coalesced"`
	Intervals map[Kind]string    `json:"intervals"`
}

// Deps are the scheduler's collaborators. Marker is only needed for MarkDirty
// and Janitor is optional.
type Deps struct {
	Scanner  Scanner
	Enricher Enricher
	Marker   Marker
	Janitor  Janitor
	Clock    Clock
	Logger   *slog.Logger
}

// Scheduler owns the cadences.
type Scheduler struct {
	cfg      Config
	clock    Clock
	scanner  Scanner
	enricher Enricher
	marker   Marker
	janitor  Janitor
	logger   *slog.Logger

	requests chan request
	done     chan JobResult
	nudge    chan struct{}
	stopped  chan struct{}
	running  atomic.Bool
}

type request struct {
	kind    Kind
	trigger Trigger
	ticket  chan Ticket
	status  chan Status
}

// New creates a Scheduler. Call Run to start it.
func New(deps Deps, cfg Config) *Scheduler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return &Scheduler{
		cfg:      cfg.withDefaults(),
		clock:    clock,
		scanner:  deps.Scanner,
		enricher: deps.Enricher,
		marker:   deps.Marker,
		janitor:  deps.Janitor,
		logger:   logger,
		requests: make(chan request),
		done:     make(chan JobResult),
		nudge:    make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
}

// Run drives the cadences until ctx ends. Running jobs are cancelled and
// waited for before it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.stopped)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	st := newState(s.clock.Now(), s.cfg)
	ticker := s.clock.NewTicker(s.cfg.Resolution)
	defer ticker.Stop()

	s.logger.Info("scheduler started",
		"quick_interval", s.cfg.QuickInterval, "full_interval", s.cfg.FullInterval,
		"enrich_interval", s.cfg.EnrichInterval)
	if s.cfg.ScanOnStart {
		s.start(jobCtx, st, KindQuick, TriggerStartup, nil)
	}

	for {
		select {
		case <-ctx.Done():
			cancel()
			for len(st.running) > 0 {
				s.finish(st, <-s.done)
			}
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C():
			s.tick(jobCtx, st)
		case r := <-s.done:
			s.finish(st, r)
		case <-s.nudge:
			s.trigger(jobCtx, st, KindQuick, TriggerWatch, nil)
		case req := <-s.requests:
			if req.status != nil {
				req.status <- st.snapshot(s.clock.Now(), s.cfg)
				continue
			}
			var waiter chan JobResult
			if req.ticket != nil {
				waiter = make(chan JobResult, 1)
			}
			t := s.trigger(jobCtx, st, req.kind, req.trigger, waiter)
			if req.ticket != nil {
				req.ticket <- t
			}
		}
	}
}

// TriggerQuickScan starts a quick scan now, or joins the one running.
func (s *Scheduler) TriggerQuickScan(ctx context.Context) (Ticket, error) {
	return s.Trigger(ctx, KindQuick, TriggerManual)
}

// TriggerFullScan starts a full scan now, or joins the one running.
func (s *Scheduler) TriggerFullScan(ctx context.Context) (Ticket, error) {
	return s.Trigger(ctx, KindFull, TriggerManual)
}

// TriggerEnrich starts an enrichment sweep now, or joins the one running.
func (s *Scheduler) TriggerEnrich(ctx context.Context) (Ticket, error) {
	return s.Trigger(ctx, KindEnrich, TriggerManual)
}

// Trigger starts a job of the given kind and re-arms that kind's cadence. The
// other cadences are left alone.
func (s *Scheduler) Trigger(ctx context.Context, kind Kind, trigger Trigger) (Ticket, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return Ticket{}, err
	}
	reply := make(chan Ticket, 1)
	if err := s.send(ctx, request{kind: kind, trigger: trigger, ticket: reply}); err != nil {
		return Ticket{}, err
	}
	return <-reply, nil
}

// MarkDirty queues one project for enrichment and starts a sweep.
func (s *Scheduler) MarkDirty(ctx context.Context, id string) (*project.Project, Ticket, error) {
	if s.marker == nil {
		return nil, Ticket{}, errors.New("scheduler has no dirty marker")
	}
	p, err := s.marker.MarkDirty(ctx, id)
	if err != nil {
		return nil, Ticket{}, err
	}
	t, err := s.Trigger(ctx, KindEnrich, TriggerMarkDirty)
	if err != nil {
		return p, Ticket{}, err
	}
	return p, t, nil
}

// Nudge asks for a quick scan without waiting. Nudges arriving together are
// merged.
func (s *Scheduler) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := s.send(ctx, request{status: reply}); err != nil {
		return Status{}, err
	}
	return <-reply, nil
}

func (s *Scheduler) send(ctx context.Context, req request) error {
	select {
	case s.requests <- req:
		return nil
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick(ctx context.Context, st *state) {
	now := s.clock.Now()
	for _, k := range kinds {
		if now.Before(st.next[k]) {
			continue
		}
		s.trigger(ctx, st, k, TriggerInterval, nil)
	}
}

func (s *Scheduler) trigger(ctx context.Context, st *state, kind Kind, trigger Trigger, waiter chan JobResult) Ticket {
	st.next[kind] = s.clock.Now().Add(s.cfg.interval(kind))

	if j, ok := st.running[kind]; ok {
		st.coalesced[kind]++
		metrics.SchedulerCoalesced.WithLabelValues(string(kind)).Inc()
		s.logger.Debug("trigger absorbed by running job", "kind", kind, "trigger", trigger, "running_trigger", j.trigger)
		if waiter != nil {
			j.waiters = append(j.waiters, waiter)
		}
		return Ticket{Kind: kind, Coalesced: true, done: waiter}
	}

	s.start(ctx, st, kind, trigger, waiter)
	return Ticket{Kind: kind, Started: true, done: waiter}
}

func (s *Scheduler) start(ctx context.Context, st *state, kind Kind, trigger Trigger, waiter chan JobResult) {
	j := &job{trigger: trigger, startedAt: s.clock.Now()}
	if waiter != nil {
		j.waiters = append(j.waiters, waiter)
	}
	st.running[kind] = j
	st.runs[kind]++
	metrics.SchedulerRuns.WithLabelValues(string(kind), string(trigger)).Inc()
	s.logger.Debug("job started", "kind", kind, "trigger", trigger)

	go func() {
		s.done <- s.execute(ctx, kind, trigger, j.startedAt)
	}()
}

func (s *Scheduler) execute(ctx context.Context, kind Kind, trigger Trigger, startedAt time.Time) JobResult {
	res := JobResult{Kind: kind, Trigger: trigger, StartedAt: startedAt}
	var err error
	switch kind {
	case KindQuick, KindFull:
		res.Scan, err = s.scanner.Scan(ctx, session.Kind(kind))
		if err == nil && kind == KindFull && s.janitor != nil {
			if jerr := s.janitor.Sweep(ctx); jerr != nil {
				s.logger.Warn("retention sweep failed", "error", jerr)
			}
		}
	case KindEnrich:
		var stats enrich.DrainStats
		stats, err = s.enricher.Drain(ctx, enrich.DrainOptions{IncludeErrored: true})
		res.Drain = &stats
	}
	if err != nil {
		res.Error = err.Error()
	}
	res.FinishedAt = s.clock.Now()
	return res
}

func (s *Scheduler) finish(st *state, r JobResult) {
	j := st.running[r.Kind]
	delete(st.running, r.Kind)
	st.last[r.Kind] = r

	logger := s.logger.With("kind", r.Kind, "trigger", r.Trigger, "duration", r.FinishedAt.Sub(r.StartedAt))
	if r.Error != "" {
		logger.Error("job failed", "error", r.Error)
	} else {
		logger.Debug("job finished")
	}

	if j == nil {
		return
	}
	for _, w := range j.waiters {
		w <- r
		close(w)
	}
}

type job struct {
	trigger   Trigger
	startedAt time.Time
	waiters   []chan JobResult
}

type state struct {
	next      map[Kind]time.Time
	running   map[Kind]*job
	last      map[Kind]JobResult
	runs      map[Kind]int
	coalesced map[Kind]int
}

func newState(now time.Time, cfg Config) *state {
	st := &state{
		next:      make(map[Kind]time.Time, len(kinds)),
		running:   make(map[Kind]*job, len(kinds)),
		last:      make(map[Kind]JobResult, len(kinds)),
		runs:      make(map[Kind]int, len(kinds)),
		coalesced: make(map[Kind]int, len(kinds)),
	}
	for _, k := range kinds {
		st.next[k] = now.Add(cfg.interval(k))
	}
	return st
}

func (st *state) snapshot(now time.Time, cfg Config) Status {
	out := Status{
		Now:       now,
		Running:   make([]Kind, 0, len(st.running)),
		NextDue:   make(map[Kind]time.Time, len(kinds)),
		Last:      make(map[Kind]JobResult, len(st.last)),
		Runs:      make(map[Kind]int, len(kinds)),
		Coalesced: make(map[Kind]int, len(kinds)),
		Intervals: make(map[Kind]string, len(kinds)),
	}
	for k := range st.running {
		out.Running = append(out.Running, k)
	}
	sort.Slice(out.Running, func(i, j int) bool { return out.Running[i] < out.Running[j] })
	for _, k := range kinds {
		out.NextDue[k] = st.next[k]
		out.Runs[k] = st.runs[k]
		out.Coalesced[k] = st.coalesced[k]
		out.Intervals[k] = cfg.interval(k).String()
	}
	for k, r := range st.last {
		out.Last[k] = r
	}
	return out
}
