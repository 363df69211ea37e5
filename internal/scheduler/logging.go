package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/gatekeeper/internal/observability/context"
	obslogger "github.com/smallbiznis/gatekeeper/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/gatekeeper/internal/observability/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// jobRun tallies one purge job within a janitor pass.
type jobRun struct {
	job       job
	id        string
	startedAt time.Time
	batches   int
	deleted   int64
	failed    bool
}

func (r *jobRun) recordBatch(deleted int64) {
	r.batches++
	r.deleted += deleted
}

// startRun tags ctx so store logs written during the purge carry the run id
// and the janitor as actor.
func (s *Scheduler) startRun(ctx context.Context, j job) (context.Context, *jobRun) {
	run := &jobRun{
		job:       j,
		id:        s.genID.Generate().String(),
		startedAt: s.clock.Now(),
	}
	actorType, actorID := systemActor()
	ctx = obscontext.WithActor(ctx, actorType, actorID)
	ctx = obscontext.WithRequestID(ctx, "janitor-"+run.id)
	return ctx, run
}

func (s *Scheduler) runLogger(ctx context.Context, run *jobRun) *zap.Logger {
	return obslogger.WithContext(ctx, s.log).With(
		zap.String("job", run.job.name),
		zap.String("run_id", run.id),
	)
}

// finishRun writes one summary line. Idle runs stay at debug so a quiet
// deployment does not log every interval.
func (s *Scheduler) finishRun(ctx context.Context, run *jobRun, err error) {
	level := zapcore.DebugLevel
	switch {
	case err != nil || run.failed:
		level = zapcore.WarnLevel
	case run.deleted > 0:
		level = zapcore.InfoLevel
	}
	ce := s.runLogger(ctx, run).Check(level, "janitor job finished")
	if ce == nil {
		return
	}
	fields := []zap.Field{
		zap.String("resource", run.job.resource),
		zap.Int("batches", run.batches),
		zap.Int64("deleted", run.deleted),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
	}
	if err != nil {
		fields = append(fields,
			zap.String("reason", obsmetrics.FailureReason(err)),
			zap.Error(err),
		)
	}
	ce.Write(fields...)
}
