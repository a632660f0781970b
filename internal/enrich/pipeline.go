package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jagard11/Launcher/internal/domain/activity"
	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/inference"
	"github.com/Jagard11/Launcher/internal/metrics"
	"github.com/Jagard11/Launcher/internal/repository"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 3

const releaseTimeout = 5 * time.Second

// Options configures a Pipeline.
type Options struct {
	Workers int
	Guard   GuardConfig
}

// Deps are the pipeline's collaborators. Analyzer, Scripts and Activity are optional.
type Deps struct {
	Projects project.Repository
	Activity *activity.Service
	Analyzer inference.Analyzer
	Scripts  *ScriptWriter
	Logger   *slog.Logger
}

// DrainOptions controls one drain.
type DrainOptions struct {
	// IncludeErrored also retries records parked in error.
	IncludeErrored bool
}

// DrainStats counts what a drain did.
type DrainStats struct {
	Claimed   int `json:"claimed"`
	Committed int `json:"committed"`
	Redirtied int `json:"redirtied"`
	Failed    int `json:"failed"`
	Discarded int `json:"discarded"`
	Aborted   int `json:"aborted"`
}

// Pipeline claims dirty records and enriches them with at most Workers in flight.
type Pipeline struct {
	projects project.Repository
	activity *activity.Service
	scripts  *ScriptWriter
	guard    *Guard
	chain    Chain
	workers  int
	sem      *semaphore.Weighted
	logger   *slog.Logger
	now      func() time.Time

	workerSeq atomic.Int64
}

// NewPipeline creates a Pipeline.
func NewPipeline(deps Deps, opts Options) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}

	var (
		guard    *Guard
		analyzer inference.Analyzer
	)
	if deps.Analyzer != nil {
		guard = NewGuard(deps.Analyzer, opts.Guard, logger)
		analyzer = guardedAnalyzer{guard: guard, name: deps.Analyzer.Name()}
	}

	return &Pipeline{
		projects: deps.Projects,
		activity: deps.Activity,
		scripts:  deps.Scripts,
		guard:    guard,
		chain:    DefaultChain(analyzer, deps.Scripts),
		workers:  opts.Workers,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Workers returns the pool size.
func (p *Pipeline) Workers() int {
	return p.workers
}

// Breaker returns the inference circuit breaker, or nil without an analyzer.
func (p *Pipeline) Breaker() *CircuitBreaker {
	if p.guard == nil {
		return nil
	}
	return p.guard.Breaker()
}

// Drain enriches dirty records until a claim comes back empty. A record is
// claimed only once a worker slot is free, so nothing sits claimed while
// waiting. Concurrent drains share the same slots. A record whose result was
// dropped is not claimed again by the same drain.
func (p *Pipeline) Drain(ctx context.Context, opts DrainOptions) (DrainStats, error) {
	var (
		stats    DrainStats
		mu       sync.Mutex
		wg       sync.WaitGroup
		err      error
		excluded []string
	)
	claimOpts := project.ClaimOptions{Limit: 1, Owner: "pipeline", IncludeErrored: opts.IncludeErrored}
	if opts.IncludeErrored {
		claimOpts.ErroredBefore = p.now()
	}

	for {
		if err = p.sem.Acquire(ctx, 1); err != nil {
			break
		}
		mu.Lock()
		claimOpts.ExcludeIDs = slices.Clone(excluded)
		mu.Unlock()

		var claims []project.Claim
		claims, err = p.projects.Claim(ctx, claimOpts)
		if err != nil || len(claims) == 0 {
			p.sem.Release(1)
			if err != nil {
				err = fmt.Errorf("claiming projects: %w", err)
			}
			break
		}

		c := claims[0]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.sem.Release(1)
			result := p.process(ctx, c)
			mu.Lock()
			stats.Claimed++
			switch result {
			case resultCommitted:
				stats.Committed++
			case resultRedirtied:
				stats.Committed++
				stats.Redirtied++
			case resultFailed:
				stats.Failed++
			case resultDiscarded:
				stats.Discarded++
				excluded = append(excluded, c.Project.ID)
			case resultAborted:
				stats.Aborted++
				excluded = append(excluded, c.Project.ID)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if err != nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if stats.Claimed > 0 {
		p.logger.Info("enrichment drain finished",
			"claimed", stats.Claimed, "committed", stats.Committed, "redirtied", stats.Redirtied,
			"failed", stats.Failed, "discarded", stats.Discarded, "aborted", stats.Aborted)
	}
	return stats, err
}

// Run releases claims left behind by a previous process, then drains whenever
// wake fires. It returns when ctx ends.
func (p *Pipeline) Run(ctx context.Context, wake <-chan struct{}) error {
	if n, err := p.projects.ReleaseClaims(ctx); err != nil {
		return fmt.Errorf("releasing stale claims: %w", err)
	} else if n > 0 {
		p.logger.Warn("released claims from an earlier run", "count", n)
	}

	for {
		if _, err := p.Drain(ctx, DrainOptions{}); err != nil && ctx.Err() == nil {
			p.logger.Error("enrichment drain failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-wake:
		}
	}
}

type processResult int

const (
	resultCommitted processResult = iota
	resultRedirtied
	resultFailed
	resultDiscarded
	resultAborted
)

func (p *Pipeline) process(ctx context.Context, c project.Claim) processResult {
	worker := fmt.Sprintf("worker-%d", p.workerSeq.Add(1))
	proj := c.Project
	logger := p.logger.With("project_id", proj.ID, "path", proj.Path, "worker", worker, "reason", c.Reason)
	token := c.Token

	metrics.WorkersBusy.Inc()
	defer metrics.WorkersBusy.Dec()
	started := time.Now()
	defer func() { metrics.EnrichmentDuration.Observe(time.Since(started).Seconds()) }()

	p.record(ctx, activity.ActivityEntry{
		ProjectID:    proj.ID,
		ClaimToken:   &token,
		Worker:       &worker,
		ActivityType: activity.TypeClaimed,
		Summary:      fmt.Sprintf("claimed for enrichment (%s)", c.Reason),
	}, nil)
	logger.Debug("enrichment started")

	in := &Input{Project: &proj, Context: inspectProject(&proj)}
	out, attempts, err := p.chain.Resolve(ctx, in)
	if err != nil {
		logger.Info("enrichment abandoned", "error", err)
		p.release(ctx, logger, c)
		return resultAborted
	}
	for _, a := range attempts {
		if a.Error != "" {
			metrics.EnrichmentFailures.WithLabelValues(a.Strategy, a.Kind).Inc()
			logger.Debug("strategy did not resolve", "strategy", a.Strategy, "error", a.Error)
		}
	}

	if out.Method == project.MethodUnresolved {
		return p.fail(ctx, logger, c, worker, attempts)
	}

	desc, tooltip := p.describe(ctx, in, out)
	if ctx.Err() != nil {
		logger.Info("enrichment abandoned", "error", ctx.Err())
		p.release(ctx, logger, c)
		return resultAborted
	}

	art := project.Artifacts{
		Description:      strPtr(desc),
		Tooltip:          strPtr(tooltip),
		MainScript:       strPtr(out.MainScript),
		LaunchCommand:    strPtr(out.Command),
		LaunchWorkingDir: strPtr(out.WorkingDir),
		LaunchConfidence: out.Confidence,
		LaunchMethod:     out.Method,
		LaunchNotes:      strPtr(out.Notes),
	}
	committed, err := p.projects.ClearDirty(ctx, project.ClearInput{
		ID:          proj.ID,
		Token:       token,
		Fingerprint: c.Fingerprint,
		Seq:         c.Seq,
		Artifacts:   art,
	})
	if err != nil {
		return p.commitError(ctx, logger, c, worker, err)
	}

	metrics.EnrichmentsTotal.WithLabelValues(string(out.Method)).Inc()
	result := resultCommitted
	summary := fmt.Sprintf("enriched by %s", out.Method)
	if committed.Dirty {
		result = resultRedirtied
		summary += "; changed during enrichment, queued again"
		logger.Info("project changed during enrichment; committed and queued again", "method", out.Method)
	} else {
		logger.Info("enrichment committed", "method", out.Method, "confidence", derefFloat(out.Confidence))
	}
	p.record(ctx, activity.ActivityEntry{
		ProjectID:    proj.ID,
		ClaimToken:   &token,
		Worker:       &worker,
		ActivityType: activity.TypeCommitted,
		Summary:      summary,
	}, map[string]any{"method": out.Method, "confidence": out.Confidence, "attempts": attempts})

	if p.scripts != nil {
		if _, err := p.scripts.Materialize(ctx, committed); err != nil {
			logger.Warn("launcher script not written", "error", err)
		}
	}
	return result
}

func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, c project.Claim, worker string, attempts []Attempt) processResult {
	reasons := make([]string, 0, len(attempts))
	for _, a := range attempts {
		if a.Error != "" {
			reasons = append(reasons, a.Strategy+": "+a.Error)
		}
	}
	msg := strings.Join(reasons, "; ")
	if msg == "" {
		msg = "no strategy produced a launch command"
	}

	_, err := p.projects.Fail(ctx, project.FailInput{ID: c.Project.ID, Token: c.Token, Error: msg})
	if err != nil {
		return p.commitError(ctx, logger, c, worker, err)
	}

	metrics.EnrichmentsTotal.WithLabelValues(string(project.MethodUnresolved)).Inc()
	logger.Warn("enrichment unresolved; project moved to error", "error", msg)
	token := c.Token
	p.record(ctx, activity.ActivityEntry{
		ProjectID:    c.Project.ID,
		ClaimToken:   &token,
		Worker:       &worker,
		ActivityType: activity.TypeFailed,
		Summary:      "no launch command could be resolved",
	}, map[string]any{"attempts": attempts})
	return resultFailed
}

// commitError handles a rejected commit. A tombstone, a purged row or a lost
// claim means the result no longer applies and is dropped. Any other failure is
// logged and the claim handed back so the record stays queued.
func (p *Pipeline) commitError(ctx context.Context, logger *slog.Logger, c project.Claim, worker string, err error) processResult {
	token := c.Token
	var reason string
	switch {
	case errors.Is(err, repository.ErrTombstoned), errors.Is(err, repository.ErrNotFound):
		reason = "removed"
	case errors.Is(err, repository.ErrClaimLost):
		reason = "claim_lost"
	case ctx.Err() != nil:
		p.release(ctx, logger, c)
		return resultAborted
	default:
		logger.Error("enrichment commit failed", "error", err)
		reason = "commit_error"
		p.release(ctx, logger, c)
	}

	metrics.EnrichmentDiscards.WithLabelValues(reason).Inc()
	logger.Info("enrichment result discarded", "reason", reason)
	p.record(ctx, activity.ActivityEntry{
		ProjectID:    c.Project.ID,
		ClaimToken:   &token,
		Worker:       &worker,
		ActivityType: activity.TypeDiscarded,
		Summary:      "enrichment result discarded: " + reason,
	}, nil)
	return resultDiscarded
}

// release hands a claim back without committing. ctx may already be done, so
// the write runs on a detached context with its own deadline.
func (p *Pipeline) release(ctx context.Context, logger *slog.Logger, c project.Claim) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	err := p.projects.ReleaseClaim(rctx, c.Project.ID, c.Token)
	switch {
	case err == nil:
		logger.Info("claim released; project stays queued")
	case errors.Is(err, repository.ErrClaimLost),
		errors.Is(err, repository.ErrTombstoned),
		errors.Is(err, repository.ErrNotFound):
	default:
		// ReleaseClaims frees it at the next start.
		logger.Error("failed to release claim", "error", err)
	}
}

func (p *Pipeline) record(ctx context.Context, entry activity.ActivityEntry, details any) {
	if p.activity == nil {
		return
	}
	p.activity.Record(ctx, entry, details)
}

// guardedAnalyzer routes strategy calls through the guard.
type guardedAnalyzer struct {
	guard *Guard
	name  string
}

func (g guardedAnalyzer) Analyze(ctx context.Context, req inference.Request) (string, error) {
	return g.guard.Analyze(ctx, req)
}

func (g guardedAnalyzer) Name() string { return g.name }

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
