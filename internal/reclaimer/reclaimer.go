// Package reclaimer deletes stored artifacts once they outlive the grace window.
package reclaimer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/feedlink/internal/artifactstore"
	"github.com/smallbiznis/feedlink/internal/clock"
	ledgerdomain "github.com/smallbiznis/feedlink/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/feedlink/internal/observability/metrics"
	"github.com/smallbiznis/feedlink/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidConfig = errors.New("invalid_reclaimer_config")

const sweepLockName = "reclaimer:sweep"

// SweepLock keeps concurrent instances from sweeping the same batch.
// Acquire returns a nil lease when another instance holds the lock.
type SweepLock interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*ratelimit.Lease, error)
}

// Outcome tags what happened to one record in a sweep.
type Outcome string

const (
	OutcomeDeleted   Outcome = "deleted"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeTransient Outcome = "transient_error"
)

// Report summarizes one sweep.
type Report struct {
	Scanned  int
	Deleted  int
	NotFound int
	Errors   int
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Ledger  ledgerdomain.Ledger
	Store   artifactstore.Store
	Clock   clock.Clock
	Config  Config              `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
	Lock    SweepLock           `optional:"true"`
}

type Reclaimer struct {
	log     *zap.Logger
	ledger  ledgerdomain.Ledger
	store   artifactstore.Store
	clock   clock.Clock
	cfg     Config
	metrics *obsmetrics.Metrics
	lock    SweepLock
}

func New(p Params) (*Reclaimer, error) {
	if p.Log == nil || p.Ledger == nil || p.Store == nil {
		return nil, ErrInvalidConfig
	}
	c := p.Clock
	if c == nil {
		c = clock.System()
	}
	return &Reclaimer{
		log:     p.Log.Named("reclaimer").With(zap.String("component", "reclaimer")),
		ledger:  p.Ledger,
		store:   p.Store,
		clock:   c,
		cfg:     p.Config.withDefaults(),
		metrics: p.Metrics,
		lock:    p.Lock,
	}, nil
}

// RunOnce sweeps one batch of expired artifacts. Per-record failures are
// counted in the report and never abort the sweep.
func (r *Reclaimer) RunOnce(ctx context.Context) Report {
	run := &sweepRun{id: ulid.Make().String(), startedAt: time.Now()}

	if r.lock != nil {
		lease, err := r.lock.Acquire(ctx, sweepLockName, r.cfg.Interval)
		switch {
		case err != nil:
			// Deletes are idempotent, so sweeping unlocked is safe.
			r.logger(ctx).Warn("reclaimer.lock.failed", zap.String("run_id", run.id), zap.Error(err))
		case lease == nil:
			r.logger(ctx).Debug("reclaimer.sweep.skipped", zap.String("run_id", run.id))
			return Report{}
		default:
			defer func() {
				if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
					r.logger(ctx).Warn("reclaimer.unlock.failed", zap.String("run_id", run.id), zap.Error(err))
				}
			}()
		}
	}

	r.logSweepStart(ctx, run)

	var report Report
	defer func() {
		r.metrics.ObserveSweep(time.Since(run.startedAt))
		r.metrics.AddReclaimOutcome(string(OutcomeDeleted), report.Deleted)
		r.metrics.AddReclaimOutcome(string(OutcomeNotFound), report.NotFound)
		r.metrics.AddReclaimOutcome(string(OutcomeTransient), report.Errors)
		r.logSweepFinish(ctx, run, report)
	}()

	now := r.clock.Now()
	cutoff := now.Add(-r.cfg.Grace)

	records, err := r.ledger.ListReclaimable(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		report.Errors++
		r.logSweepError(ctx, run, "reclaimer.scan.failed", err)
		return report
	}
	report.Scanned = len(records)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, record := range records {
		g.Go(func() error {
			outcome := r.reclaim(gctx, run, record, now)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case OutcomeDeleted:
				report.Deleted++
			case OutcomeNotFound:
				report.NotFound++
			default:
				report.Errors++
			}
			return nil
		})
	}
	_ = g.Wait()

	r.refreshOrphans(ctx, run, cutoff)
	return report
}

func (r *Reclaimer) reclaim(ctx context.Context, run *sweepRun, record ledgerdomain.InvoiceRecord, now time.Time) Outcome {
	if !record.HasArtifact() {
		return OutcomeNotFound
	}
	key := *record.ArtifactKey
	log := r.logger(ctx).With(
		zap.String("run_id", run.id),
		zap.String("record_id", record.ID.String()),
		zap.String("artifact_key", key),
	)

	delCtx, cancel := context.WithTimeout(ctx, r.cfg.DeleteTimeout)
	deleted, err := r.store.Delete(delCtx, key)
	cancel()
	if err != nil {
		log.Warn("reclaimer.delete.failed", zap.Error(err))
		r.markFailed(ctx, log, record.ID, key, now)
		return OutcomeTransient
	}

	outcome := OutcomeDeleted
	if deleted == artifactstore.NotFound {
		outcome = OutcomeNotFound
	}

	cleared, err := r.ledger.ClearArtifactRef(ctx, record.ID, key, now)
	if err != nil {
		log.Warn("reclaimer.clear.failed", zap.Error(err))
		r.markFailed(ctx, log, record.ID, key, now)
		return OutcomeTransient
	}
	if !cleared {
		// The ref moved on since the scan; the blob we deleted was no longer referenced.
		log.Debug("reclaimer.clear.skipped")
	}
	log.Debug("reclaimer.record.done", zap.String("outcome", string(outcome)))
	return outcome
}

func (r *Reclaimer) markFailed(ctx context.Context, log *zap.Logger, id snowflake.ID, key string, now time.Time) {
	if err := r.ledger.MarkReclaimFailed(context.WithoutCancel(ctx), id, key, now); err != nil {
		log.Warn("reclaimer.mark_failed.failed", zap.Error(err))
	}
}

func (r *Reclaimer) refreshOrphans(ctx context.Context, run *sweepRun, cutoff time.Time) {
	orphans, err := r.ledger.CountOrphanedClaims(ctx, cutoff)
	if err != nil {
		r.logSweepError(ctx, run, "reclaimer.orphans.failed", err)
		return
	}
	r.metrics.SetOrphanedClaims(orphans)
	if orphans > 0 {
		r.logger(ctx).Info("reclaimer.orphans", zap.String("run_id", run.id), zap.Int64("count", orphans))
	}
}

// RunForever sweeps immediately and then on every interval until ctx is done.
func (r *Reclaimer) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
