package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/gatekeeper/internal/audit/domain"
	authdomain "github.com/smallbiznis/gatekeeper/internal/auth/domain"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	obsmetrics "github.com/smallbiznis/gatekeeper/internal/observability/metrics"
	"github.com/smallbiznis/gatekeeper/internal/oauth/code"
	"github.com/smallbiznis/gatekeeper/internal/oauth/token"
	"github.com/smallbiznis/gatekeeper/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobPurgeCodes         = "purge_codes"
	JobPurgeRefreshTokens = "purge_refresh_tokens"
	JobPurgeRevocations   = "purge_revocations"
	JobPurgeSessions      = "purge_sessions"

	lockKey = "gatekeeper:janitor"
)

var ErrInvalidConfig = errors.New("scheduler: invalid config")

// purgeFunc deletes up to limit rows that expired before the cutoff and
// returns how many it removed.
type purgeFunc func(ctx context.Context, before time.Time, limit int) (int64, error)

type Params struct {
	fx.In

	Log     *zap.Logger
	Codes   *code.Manager
	Tokens  token.Store
	Auth    authdomain.Service
	Locker  *ratelimit.Locker `optional:"true"`
	GenID   *snowflake.Node
	Clock   clock.Clock
	Config  Config                       `optional:"true"`
	Metrics *obsmetrics.JanitorMetrics `optional:"true"`
}

// Scheduler is the janitor that removes expired codes, refresh tokens,
// access token revocations and sessions.
type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	locker  *ratelimit.Locker
	metrics *obsmetrics.JanitorMetrics
	jobs    []job
}

type job struct {
	name     string
	resource string
	purge    purgeFunc
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Codes == nil || p.Tokens == nil || p.Auth == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "janitor")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		locker:  p.Locker,
		metrics: p.Metrics,
	}
	s.jobs = []job{
		{JobPurgeCodes, obsmetrics.ResourceAuthorizationCodes, p.Codes.PurgeExpired},
		{JobPurgeRefreshTokens, obsmetrics.ResourceRefreshTokens, p.Tokens.PurgeExpiredRefreshTokens},
		{JobPurgeRevocations, obsmetrics.ResourceRevokedAccess, p.Tokens.PurgeExpiredRevocations},
		{JobPurgeSessions, obsmetrics.ResourceSessions, p.Auth.PurgeExpiredSessions},
	}
	return s, nil
}

// runJob bounds fn by the job timeout. A timed out purge is not an error;
// it resumes on the next tick.
func (s *Scheduler) runJob(parent context.Context, j job, fn func(ctx context.Context, run *jobRun) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx, run := s.startRun(ctx, j)
	s.metrics.JobStarted(j.name)

	err := fn(ctx, run)
	s.metrics.JobFinished(j.name, s.clock.Now().Sub(start))
	s.finishRun(ctx, run, err)
	if err == nil {
		return nil
	}

	s.metrics.JobFailed(j.name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("%s: %w", j.name, err)
}

// RunOnce runs every enabled purge job. With a lock configured only one
// replica runs per interval.
func (s *Scheduler) RunOnce(parent context.Context) error {
	if s.locker != nil {
		// The lock is never released; it expires with the interval so other
		// replicas skip the rest of it.
		_, err := s.locker.Acquire(parent, lockKey, s.cfg.RunInterval)
		switch {
		case errors.Is(err, ratelimit.ErrLockHeld):
			s.metrics.PassSkipped(obsmetrics.ReasonLockHeld)
			s.log.Debug("janitor lock held by another replica")
			return nil
		case err != nil:
			s.log.Warn("janitor lock unavailable, running without it", zap.Error(err))
		}
	}

	var err error
	for _, j := range s.jobs {
		if !s.isJobEnabled(j.name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, j, s.purge))
	}
	return err
}

// purge deletes in batches until a short batch or the batch cap.
func (s *Scheduler) purge(ctx context.Context, run *jobRun) error {
	j := run.job
	cutoff := s.clock.Now().Add(-s.cfg.Grace)

	for i := 0; i < s.cfg.MaxBatches; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		deleted, err := j.purge(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			run.failed = true
			return err
		}
		run.recordBatch(deleted)
		s.metrics.RowsPurged(j.name, j.resource, deleted)
		if deleted < int64(s.cfg.BatchSize) {
			return nil
		}
	}
	return nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		s.metrics.LoopLag(s.clock.Now().Sub(nextRun))
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("janitor run failed", zap.Error(err))
		}
		nextRun = s.clock.Now().Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func systemActor() (string, string) {
	return string(auditdomain.ActorTypeSystem), "janitor"
}
