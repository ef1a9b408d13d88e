// Package automation runs discovery over every unprocessed seed, one seed at a time.
package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/curator-discovery/internal/crawler"
	"github.com/JakeFAU/curator-discovery/internal/curator"
	"github.com/JakeFAU/curator-discovery/internal/lease"
	"github.com/JakeFAU/curator-discovery/internal/metrics"
)

// DefaultInterSeedDelay separates consecutive seed crawls.
const DefaultInterSeedDelay = 2 * time.Second

var tracer = otel.Tracer("github.com/JakeFAU/curator-discovery/internal/automation")

// ErrRunInProgress is returned when a run is already in flight.
var ErrRunInProgress = errors.New("automation run already in progress")

// SeedCrawler crawls a single seed to completion or failure.
type SeedCrawler interface {
	Crawl(ctx context.Context, req crawler.Request) crawler.Result
}

// Config controls run ordering and pacing.
type Config struct {
	// PriorityIDs are crawled first, in this order, when present and unprocessed.
	PriorityIDs    []string
	InterSeedDelay time.Duration
	// SeedTimeout bounds a single seed crawl. Zero disables the deadline.
	SeedTimeout time.Duration
	// Topic receives the RunSummary when a run ends. Empty disables publishing.
	Topic string
}

// Status describes the orchestrator for the status endpoint.
type Status struct {
	Running   bool        `json:"running"`
	RunID     string      `json:"run_id,omitempty"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	Last      *RunSummary `json:"last,omitempty"`
}

// Orchestrator drives the crawler across seeds and persists what it finds.
type Orchestrator struct {
	cfg       Config
	store     curator.Store
	crawler   SeedCrawler
	guard     curator.RunGuard
	ids       curator.IDGenerator
	clock     curator.Clock
	sleeper   curator.Sleeper
	publisher curator.Publisher
	logger    *zap.Logger

	mu        sync.Mutex
	runID     string
	startedAt time.Time
	cancel    context.CancelCauseFunc
	last      *RunSummary
	wg        sync.WaitGroup
}

// New wires an Orchestrator. publisher may be nil; guard defaults to an
// in-process lease.
func New(
	cfg Config,
	store curator.Store,
	seedCrawler SeedCrawler,
	guard curator.RunGuard,
	ids curator.IDGenerator,
	clock curator.Clock,
	sleeper curator.Sleeper,
	publisher curator.Publisher,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.InterSeedDelay < 0 {
		cfg.InterSeedDelay = 0
	}
	if guard == nil {
		guard = lease.NewLocal()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		crawler:   seedCrawler,
		guard:     guard,
		ids:       ids,
		clock:     clock,
		sleeper:   sleeper,
		publisher: publisher,
		logger:    logger,
	}
}

// Run executes one synchronous pass over the unprocessed seeds.
func (o *Orchestrator) Run(ctx context.Context) (RunSummary, error) {
	runID, release, lost, err := o.begin(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	o.setCancel(cancel)
	defer cancel(nil)
	o.watchLease(runCtx, runID, lost, cancel)

	summary, err := o.execute(runCtx, runID)
	o.finish(summary, release)
	return summary, err
}

// Start launches a run in the background and returns its ID. The run
// outlives ctx's cancellation; use Cancel to stop it.
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	runID, release, lost, err := o.begin(ctx)
	if err != nil {
		return "", err
	}
	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	o.setCancel(cancel)
	o.watchLease(runCtx, runID, lost, cancel)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel(nil)
		summary, err := o.execute(runCtx, runID)
		if err != nil {
			o.logger.Error("automation run failed", zap.String("run_id", runID), zap.Error(err))
		}
		o.finish(summary, release)
	}()
	return runID, nil
}

// Cancel stops the in-flight run, if any. Seeds not yet finished stay unprocessed.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel(nil)
	}
}

// Wait blocks until background runs started with Start have returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Status reports whether a run is in flight and the last finished summary.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{Running: o.runID != "", RunID: o.runID}
	if st.Running {
		started := o.startedAt
		st.StartedAt = &started
	}
	if o.last != nil {
		last := *o.last
		st.Last = &last
	}
	return st
}

func (o *Orchestrator) begin(ctx context.Context) (string, func(), <-chan struct{}, error) {
	runID, err := o.ids.NewID()
	if err != nil {
		return "", nil, nil, fmt.Errorf("generate run id: %w", err)
	}
	release, lost, err := o.guard.Acquire(ctx, runID)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			return "", nil, nil, ErrRunInProgress
		}
		return "", nil, nil, fmt.Errorf("acquire run guard: %w", err)
	}

	o.mu.Lock()
	o.runID = runID
	o.startedAt = o.clock.Now()
	o.mu.Unlock()
	metrics.SetRunInProgress(true)
	return runID, release, lost, nil
}

// watchLease cancels the run with lease.ErrLost if the guard is lost while
// the run is still going. The watcher exits once ctx is done.
func (o *Orchestrator) watchLease(ctx context.Context, runID string, lost <-chan struct{}, cancel context.CancelCauseFunc) {
	if lost == nil {
		return
	}
	go func() {
		select {
		case <-lost:
			o.logger.Error("run guard lost; cancelling run", zap.String("run_id", runID))
			cancel(lease.ErrLost)
		case <-ctx.Done():
		}
	}()
}

func (o *Orchestrator) setCancel(cancel context.CancelCauseFunc) {
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) finish(summary RunSummary, release func()) {
	o.mu.Lock()
	o.runID = ""
	o.startedAt = time.Time{}
	o.cancel = nil
	o.last = &summary
	o.mu.Unlock()

	metrics.SetRunInProgress(false)
	metrics.ObserveRun(summary.Status, summary.Duration())
	release()
}

func (o *Orchestrator) execute(ctx context.Context, runID string) (RunSummary, error) {
	ctx, span := tracer.Start(ctx, "automation.run", trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()
	log := o.logger.With(zap.String("run_id", runID))
	summary := RunSummary{RunID: runID, Status: StatusCompleted, StartedAt: o.clock.Now()}

	seeds, err := o.store.ListUnprocessedSeeds(ctx)
	if err != nil {
		summary.Status = StatusFailed
		summary.Error = err.Error()
		summary.FinishedAt = o.clock.Now()
		span.RecordError(err)
		span.SetStatus(codes.Error, "list unprocessed seeds")
		o.publish(ctx, log, summary)
		return summary, fmt.Errorf("list unprocessed seeds: %w", err)
	}
	ordered := Prioritize(seeds, o.cfg.PriorityIDs)
	log.Info("automation run started", zap.Int("seeds", len(ordered)))

	for i, seed := range ordered {
		if ctx.Err() != nil {
			summary.Status = StatusCanceled
			break
		}
		if i > 0 {
			if err := o.sleep(ctx, o.cfg.InterSeedDelay); err != nil {
				summary.Status = StatusCanceled
				break
			}
		}
		report := o.processSeed(ctx, runID, seed)
		summary.add(report)
		if ctx.Err() != nil {
			summary.Status = StatusCanceled
			break
		}
	}

	if errors.Is(context.Cause(ctx), lease.ErrLost) {
		summary.Error = lease.ErrLost.Error()
		span.SetStatus(codes.Error, summary.Error)
	}
	summary.FinishedAt = o.clock.Now()
	log.Info("automation run finished",
		zap.String("status", summary.Status),
		zap.Int("seeds_attempted", summary.SeedsAttempted),
		zap.Int("seeds_processed", summary.SeedsProcessed),
		zap.Int("records_upserted", summary.RecordsUpserted),
		zap.Duration("duration", summary.Duration()),
	)
	span.SetAttributes(
		attribute.String("status", summary.Status),
		attribute.Int("seeds_attempted", summary.SeedsAttempted),
		attribute.Int("seeds_processed", summary.SeedsProcessed),
	)
	o.publish(ctx, log, summary)
	return summary, nil
}

func (o *Orchestrator) processSeed(ctx context.Context, runID string, seed curator.SeedCurator) SeedReport {
	log := o.logger.With(zap.String("run_id", runID), zap.String("seed_id", seed.ID), zap.String("handle", seed.Handle))
	report := SeedReport{SeedID: seed.ID, Handle: seed.Handle}
	ctx, span := tracer.Start(ctx, "automation.seed", trace.WithAttributes(attribute.String("seed_id", seed.ID)))
	defer span.End()

	seedCtx := ctx
	if o.cfg.SeedTimeout > 0 {
		var cancel context.CancelFunc
		seedCtx, cancel = context.WithTimeout(ctx, o.cfg.SeedTimeout)
		defer cancel()
	}

	onPage := func(pageCtx context.Context, page int, records []curator.DiscoveredCurator) {
		for _, rec := range records {
			if err := o.store.UpsertCurator(pageCtx, rec); err != nil {
				report.UpsertFailures++
				metrics.ObserveUpsert("error")
				log.Warn("upsert discovered curator failed",
					zap.Int("page", page),
					zap.String("curator_id", rec.ID),
					zap.Error(err),
				)
				continue
			}
			report.Upserted++
			metrics.ObserveUpsert("ok")
		}
	}

	res := o.crawler.Crawl(seedCtx, crawler.Request{Seed: seed, RunID: runID, OnPage: onPage})
	report.PagesFetched = res.PagesFetched
	report.Discovered = len(res.Discovered)
	report.RateLimitHits = res.RateLimitHits
	report.AggregateTotal = res.AggregateTotal
	report.Complete = res.Complete
	if res.Err != nil {
		report.Error = res.Err.Error()
	}

	aggregateStored := true
	if res.AggregateTotal != nil {
		if err := o.store.UpsertCurator(ctx, seedRecord(seed, *res.AggregateTotal)); err != nil {
			aggregateStored = false
			metrics.ObserveUpsert("error")
			log.Error("upsert seed aggregate failed; seed stays unprocessed", zap.Error(err))
			if report.Error == "" {
				report.Error = fmt.Sprintf("upsert seed aggregate: %v", err)
			}
		} else {
			report.Upserted++
			metrics.ObserveUpsert("ok")
		}
	}

	if res.Complete && aggregateStored {
		if err := o.store.MarkSeedProcessed(ctx, seed.ID, o.clock.Now()); err != nil {
			log.Error("mark seed processed failed", zap.Error(err))
			report.Error = fmt.Sprintf("mark seed processed: %v", err)
		} else {
			report.Processed = true
		}
	}

	result := "processed"
	switch {
	case report.Processed:
	case errors.Is(res.Err, context.DeadlineExceeded):
		result = "timeout"
	case errors.Is(res.Err, context.Canceled):
		result = "canceled"
	default:
		result = "failed"
	}
	metrics.ObserveSeed(result)
	span.SetAttributes(attribute.String("result", result), attribute.Int("pages", report.PagesFetched))
	if !report.Processed {
		span.SetStatus(codes.Error, report.Error)
	}
	log.Info("seed finished",
		zap.String("result", result),
		zap.Int("pages", report.PagesFetched),
		zap.Int("discovered", report.Discovered),
		zap.Int("upsert_failures", report.UpsertFailures),
	)
	return report
}

// seedRecord is the seed stored as a curator in its own right.
func seedRecord(seed curator.SeedCurator, aggregate int64) curator.DiscoveredCurator {
	return curator.DiscoveredCurator{
		ID:             seed.ID,
		Handle:         seed.Handle,
		DisplayName:    seed.Handle,
		FollowersCount: aggregate,
		DiscoveredVia:  seed.ID,
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.sleeper == nil {
		return ctx.Err()
	}
	if err := o.sleeper.Sleep(ctx, d); err != nil {
		return fmt.Errorf("inter-seed delay: %w", err)
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, log *zap.Logger, summary RunSummary) {
	if o.publisher == nil || o.cfg.Topic == "" {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	msgID, err := o.publisher.Publish(pubCtx, o.cfg.Topic, summary)
	if err != nil {
		log.Warn("publish run summary failed", zap.String("topic", o.cfg.Topic), zap.Error(err))
		return
	}
	log.Debug("run summary published", zap.String("topic", o.cfg.Topic), zap.String("message_id", msgID))
}
