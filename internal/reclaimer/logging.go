package reclaimer

import (
	"context"
	"time"

	"github.com/smallbiznis/feedlink/internal/logger"
	"go.uber.org/zap"
)

type sweepRun struct {
	id        string
	startedAt time.Time
}

func (r *Reclaimer) logger(ctx context.Context) *zap.Logger {
	return logger.WithContext(ctx, r.log)
}

func (r *Reclaimer) logSweepStart(ctx context.Context, run *sweepRun) {
	r.logger(ctx).Debug("reclaimer.sweep.start",
		zap.String("run_id", run.id),
		zap.Int("batch_size", r.cfg.BatchSize),
		zap.Duration("grace", r.cfg.Grace),
	)
}

func (r *Reclaimer) logSweepFinish(ctx context.Context, run *sweepRun, report Report) {
	fields := []zap.Field{
		zap.String("run_id", run.id),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("scanned", report.Scanned),
		zap.Int("deleted", report.Deleted),
		zap.Int("not_found", report.NotFound),
		zap.Int("error_count", report.Errors),
	}
	log := r.logger(ctx)
	if report.Errors > 0 {
		log.Warn("reclaimer.sweep.finish", fields...)
		return
	}
	if report.Scanned == 0 {
		log.Debug("reclaimer.sweep.finish", fields...)
		return
	}
	log.Info("reclaimer.sweep.finish", fields...)
}

func (r *Reclaimer) logSweepError(ctx context.Context, run *sweepRun, msg string, err error) {
	r.logger(ctx).Error(msg,
		zap.String("run_id", run.id),
		zap.Error(err),
	)
}
