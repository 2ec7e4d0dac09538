// Package runner sequences the per-target check pipeline: load known state,
// fetch, extract, diff, persist, notify. Each target runs in isolation; one
// target's failure never aborts the others.
package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rcwatch/rcwatch/internal/archive"
	"github.com/rcwatch/rcwatch/internal/diff"
	"github.com/rcwatch/rcwatch/internal/extract"
	"github.com/rcwatch/rcwatch/internal/fetch"
	"github.com/rcwatch/rcwatch/internal/metrics"
	"github.com/rcwatch/rcwatch/internal/notify"
	"github.com/rcwatch/rcwatch/internal/store"
	"github.com/rcwatch/rcwatch/internal/watch"
)

// Extractor turns a rendered page into configuration records.
type Extractor func(watch.Page) ([]watch.Record, error)

// Config controls run-wide pipeline behavior.
type Config struct {
	// Parallelism bounds how many targets are checked at once.
	Parallelism int
	// Noisy sends a "no changes" message even when the delta is empty.
	Noisy bool
	// ReportRemovals includes disappeared keys in deltas. Off by default so
	// a transient extraction gap cannot raise a false "removed" alarm.
	ReportRemovals bool
}

// Runner executes one scheduled invocation over all configured targets.
type Runner struct {
	fetcher   fetch.Fetcher
	extractor Extractor
	store     store.Store
	notifier  notify.Notifier
	archive   archive.Archive
	clock     watch.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Runner. A nil extractor defaults to the production
// extractor; a nil archive defaults to discarding snapshots.
func New(
	fetcher fetch.Fetcher,
	extractor Extractor,
	st store.Store,
	notifier notify.Notifier,
	arch archive.Archive,
	clock watch.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if extractor == nil {
		extractor = extract.Extract
	}
	if arch == nil {
		arch = archive.Noop{}
	}
	if clock == nil {
		clock = watch.SystemClock{}
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		fetcher:   fetcher,
		extractor: extractor,
		store:     st,
		notifier:  notifier,
		archive:   arch,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run checks every target once and reports per-target outcomes. Targets run
// with bounded parallelism; they share nothing but the store's pool.
func (r *Runner) Run(ctx context.Context, runID string, targets []watch.Target) watch.Report {
	report := watch.Report{
		RunID:   runID,
		Results: make([]watch.Result, len(targets)),
	}

	sem := make(chan struct{}, r.cfg.Parallelism)
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target watch.Target) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			report.Results[i] = r.checkTarget(ctx, runID, target)
		}(i, target)
	}
	wg.Wait()

	for _, res := range report.Results {
		if res.Failed() {
			r.logger.Warn("target check failed",
				zap.String("run_id", runID),
				zap.String("target", res.Target.Label()),
				zap.String("stage", string(res.Stage)),
				zap.Error(res.Err),
			)
		}
	}
	return report
}

func (r *Runner) checkTarget(ctx context.Context, runID string, target watch.Target) watch.Result {
	start := r.clock.Now()
	metrics.ChecksTotal.Inc()
	log := r.logger.With(
		zap.String("run_id", runID),
		zap.String("target", target.Label()),
		zap.String("url", target.URL),
	)
	log.Info("checking target")

	known, found, err := r.store.Load(ctx, target.ID())
	if err != nil {
		return r.fail(log, target, start, watch.StageLoading, err)
	}
	if !found {
		log.Info("no known state yet; first run for target")
	}

	page, err := r.fetcher.Fetch(ctx, target.URL)
	if err != nil {
		metrics.FetchErrors.Inc()
		r.reportBreakage(ctx, log, target, err)
		return r.fail(log, target, start, watch.StageFetching, err)
	}
	log.Debug("page fetched",
		zap.Int("status", page.StatusCode),
		zap.Int("bytes", len(page.Body)),
		zap.Duration("took", page.Duration),
	)

	hash := watch.ContentHash(page.Body)
	if found && hash == known.ContentHash {
		log.Debug("page content unchanged since last check", zap.String("hash", hash))
	}

	records, err := r.extractor(page)
	if err != nil {
		if errors.Is(err, watch.ErrSchemaMismatch) {
			// Louder than transport failures: the site changed and the
			// extractor needs maintenance.
			metrics.SchemaMismatches.Inc()
			log.Error("listing structure not recognized", zap.Error(err))
			if uri, archiveErr := r.archive.SavePage(ctx, target.ID(), page.Body); archiveErr != nil {
				log.Warn("failed to archive page snapshot", zap.Error(archiveErr))
			} else if uri != "" {
				log.Info("page snapshot archived", zap.String("location", uri))
			}
		}
		r.reportBreakage(ctx, log, target, err)
		return r.fail(log, target, start, watch.StageExtracting, err)
	}

	delta := diff.Compute(target, records, known.Keys, r.cfg.ReportRemovals)
	log.Info("diff computed",
		zap.Int("current", len(records)),
		zap.Int("known", len(known.Keys)),
		zap.Int("new", len(delta.NewRecords)),
		zap.Int("removed", len(delta.RemovedKeys)),
	)

	newState := watch.KnownState{
		Keys:        diff.Keys(records),
		ContentHash: hash,
		CheckedAt:   r.clock.Now(),
	}
	if err := r.store.Save(ctx, target, newState); err != nil {
		return r.fail(log, target, start, watch.StagePersisting, err)
	}

	// State is already advanced: a failed delivery here is reported but the
	// same records are never re-notified. Accepted trade-off over alerting
	// about the same configuration on every run.
	if err := r.deliver(ctx, delta); err != nil {
		metrics.NotificationFailures.Inc()
		log.Warn("notification failed after state was persisted", zap.Error(err))
		return r.fail(log, target, start, watch.StageNotifying, err)
	}

	metrics.NewConfigurations.Add(float64(len(delta.NewRecords)))
	log.Info("target check done", zap.Int("new_records", len(delta.NewRecords)))
	return watch.Result{
		Target:     target,
		Stage:      watch.StageDone,
		NewRecords: len(delta.NewRecords),
		Duration:   r.clock.Now().Sub(start),
	}
}

// deliver sends exactly one message per run per target: the delta when it
// carries anything, a heartbeat when noisy mode asks for one, nothing
// otherwise.
func (r *Runner) deliver(ctx context.Context, delta watch.Delta) error {
	switch {
	case !delta.Empty():
		if err := r.notifier.Notify(ctx, delta); err != nil {
			return err
		}
	case r.cfg.Noisy:
		if err := r.notifier.NotifyNoChanges(ctx, delta.Target); err != nil {
			return err
		}
	default:
		return nil
	}
	metrics.NotificationsSent.Inc()
	return nil
}

// reportBreakage tells the channel about a broken check, best effort.
func (r *Runner) reportBreakage(ctx context.Context, log *zap.Logger, target watch.Target, cause error) {
	if err := r.notifier.NotifyFailure(ctx, target, cause); err != nil {
		log.Warn("failed to deliver breakage notification", zap.Error(err))
	}
}

func (r *Runner) fail(log *zap.Logger, target watch.Target, start time.Time, stage watch.Stage, err error) watch.Result {
	metrics.CheckFailures.Inc()
	log.Warn("stage failed", zap.String("stage", string(stage)), zap.Error(err))
	return watch.Result{
		Target:   target,
		Stage:    stage,
		Err:      &watch.StageError{Stage: stage, Err: err},
		Duration: r.clock.Now().Sub(start),
	}
}
