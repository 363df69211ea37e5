package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/gatekeeper/pkg/db"
	"gorm.io/gorm"
)

// Failure and skip reasons. Kept low-cardinality for labels.
const (
	ReasonDeadlineExceeded = "deadline_exceeded"
	ReasonLockTimeout      = "db_lock_timeout"
	ReasonSerialization    = "serialization_failure"
	ReasonUniqueViolation  = "unique_violation"
	ReasonStore            = "store"
	ReasonUnknown          = "unknown"

	ReasonLockHeld = "lock_held"
)

// Credential tables the janitor sweeps.
const (
	ResourceAuthorizationCodes = "authorization_codes"
	ResourceRefreshTokens      = "refresh_tokens"
	ResourceRevokedAccess      = "revoked_access_tokens"
	ResourceSessions           = "sessions"
)

var pgReasons = map[string]string{
	"55P03": ReasonLockTimeout,
	"40001": ReasonSerialization,
	"23505": ReasonUniqueViolation,
}

// JanitorMetrics tracks the expired-credential sweep. A nil receiver is a
// no-op so the janitor runs without a registry.
type JanitorMetrics struct {
	runs     *prometheus.CounterVec
	timeouts *prometheus.CounterVec
	failures *prometheus.CounterVec
	purged   *prometheus.CounterVec
	skipped  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	lag      prometheus.Histogram
}

func NewJanitorMetrics(registerer prometheus.Registerer, cfg Config) (*JanitorMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)
	counter := func(name, help string, by ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "gatekeeper",
			Subsystem:   "janitor",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, by)
	}

	m := &JanitorMetrics{
		runs:     counter("runs_total", "Janitor job runs.", "job"),
		timeouts: counter("timeouts_total", "Janitor jobs cut off by their deadline.", "job"),
		failures: counter("failures_total", "Janitor job failures by reason.", "job", "reason"),
		purged:   counter("rows_purged_total", "Expired credential rows deleted.", "job", "resource"),
		skipped:  counter("skipped_total", "Janitor passes skipped on this replica.", "reason"),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "gatekeeper",
			Subsystem:   "janitor",
			Name:        "job_duration_seconds",
			Help:        "Janitor job latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			ConstLabels: labels,
		}, []string{"job"}),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "gatekeeper",
			Subsystem:   "janitor",
			Name:        "loop_lag_seconds",
			Help:        "Delay between the scheduled and the actual start of a pass.",
			Buckets:     []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 300},
			ConstLabels: labels,
		}),
	}

	var err error
	if m.runs, err = register(registerer, m.runs); err != nil {
		return nil, err
	}
	if m.timeouts, err = register(registerer, m.timeouts); err != nil {
		return nil, err
	}
	if m.failures, err = register(registerer, m.failures); err != nil {
		return nil, err
	}
	if m.purged, err = register(registerer, m.purged); err != nil {
		return nil, err
	}
	if m.skipped, err = register(registerer, m.skipped); err != nil {
		return nil, err
	}
	if m.duration, err = register(registerer, m.duration); err != nil {
		return nil, err
	}
	if m.lag, err = register(registerer, m.lag); err != nil {
		return nil, err
	}
	return m, nil
}

// register reuses a collector that an earlier app in the same process
// already registered.
func register[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *JanitorMetrics) JobStarted(job string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(job).Inc()
}

func (m *JanitorMetrics) JobFinished(job string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(job).Observe(elapsed.Seconds())
}

// JobFailed counts err under its reason, and as a timeout when the deadline
// cut the job short.
func (m *JanitorMetrics) JobFailed(job string, err error) {
	if m == nil || err == nil {
		return
	}
	reason := FailureReason(err)
	m.failures.WithLabelValues(job, reason).Inc()
	if reason == ReasonDeadlineExceeded {
		m.timeouts.WithLabelValues(job).Inc()
	}
}

func (m *JanitorMetrics) RowsPurged(job, resource string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.purged.WithLabelValues(job, resource).Add(float64(n))
}

func (m *JanitorMetrics) PassSkipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}

func (m *JanitorMetrics) LoopLag(lag time.Duration) {
	if m == nil || lag <= 0 {
		return
	}
	m.lag.Observe(lag.Seconds())
}

// FailureReason maps a janitor error to a label value.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ReasonDeadlineExceeded
	case db.IsDuplicateKeyErr(err):
		return ReasonUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if reason, ok := pgReasons[pgErr.Code]; ok {
			return reason
		}
		return ReasonStore
	}
	if errors.Is(err, gorm.ErrInvalidDB) || errors.Is(err, gorm.ErrInvalidTransaction) {
		return ReasonStore
	}
	return ReasonUnknown
}
