package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonDB                   = "db"
	JobReasonUnknown              = "unknown"
)

const (
	JobAggregatedChunk = "aggregated_chunk"
	JobDailyChunk      = "daily_chunk"
	JobRecoverySweep   = "recovery_sweep"
)

const (
	OutcomeSuccessful = "successful"
	OutcomeFailed     = "failed"
	OutcomeSkipped    = "skipped"
)

// SyncMetrics captures order-sync pipeline health signals.
type SyncMetrics struct {
	jobRuns           *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	jobTimeouts       *prometheus.CounterVec
	jobErrors         *prometheus.CounterVec
	invoices          *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
	stepFailures      *prometheus.CounterVec
	continuations     *prometheus.CounterVec
	sequenceLockBusy  prometheus.Counter
	recoveryRequeued  *prometheus.CounterVec
	emailFailures     *prometheus.CounterVec
	runLoopLag        prometheus.Observer
	outcomeCounters   map[string]map[string]prometheus.Counter
	stepDurationCache map[string]prometheus.Observer
}

var (
	syncMetricsOnce sync.Once
	syncMetrics     *SyncMetrics
)

// Sync returns the singleton sync metrics registry.
func Sync() *SyncMetrics {
	return SyncWithConfig(Config{})
}

// SyncWithConfig returns the singleton sync metrics registry using config labels.
func SyncWithConfig(cfg Config) *SyncMetrics {
	syncMetricsOnce.Do(func() {
		syncMetrics = newSyncMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return syncMetrics
}

// ResetSyncMetricsForTest resets the sync metrics singleton for tests.
func ResetSyncMetricsForTest() {
	syncMetricsOnce = sync.Once{}
	syncMetrics = nil
}

// NewSyncMetricsForTest registers a private instance against registry.
func NewSyncMetricsForTest(registry prometheus.Registerer) *SyncMetrics {
	return newSyncMetrics(registry, Config{ServiceName: "ordersync", Environment: "test"})
}

func newSyncMetrics(registerer prometheus.Registerer, cfg Config) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "ordersync"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ordersync_job_runs_total",
		Help:        "Sync job invocations by job kind.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "ordersync_job_duration_seconds",
		Help:        "Wall-clock time of one sync invocation.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ordersync_job_timeouts_total",
		Help:        "Sync invocations that overran their soft timeout.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ordersync_job_errors_total",
		Help:        "Sync invocation errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	invoices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ordersync_invoices_processed_total",
		Help:        "Aggregated invoices processed by outcome.",
		ConstLabels: constLabels,
	}, []string{"job", "outcome"})
	stepDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "ordersync_step_duration_seconds",
		Help:        "Step executor call latency.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	}, []string{"step"})
	stepFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ordersync_step_failures_total",
		Help:        "Step executor failures by step.",
		ConstLabels: constLabels,
	}, []string{"step"})
	continuations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ordersync_continuations_total",
		Help:        "Continuations enqueued when a chunk budget is exhausted.",
		ConstLabels: constLabels,
	}, []string{"job"})
	sequenceLockBusy := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "ordersync_sequence_lock_busy_total",
		Help:        "Invocations deferred because a per-date sequence lock was held.",
		ConstLabels: constLabels,
	})
	recoveryRequeued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ordersync_recovery_requeued_total",
		Help:        "Stale running jobs re-enqueued by the recovery sweep.",
		ConstLabels: constLabels,
	}, []string{"job"})
	emailFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ordersync_email_failures_total",
		Help:        "Completion emails that could not be sent.",
		ConstLabels: constLabels,
	}, []string{"template"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "ordersync_recovery_runloop_lag_seconds",
		Help:        "Recovery loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		invoices,
		stepDuration,
		stepFailures,
		continuations,
		sequenceLockBusy,
		recoveryRequeued,
		emailFailures,
		runLoopLag,
	)

	outcomeCounters := map[string]map[string]prometheus.Counter{}
	for _, job := range []string{JobAggregatedChunk, JobDailyChunk} {
		byOutcome := map[string]prometheus.Counter{}
		for _, outcome := range []string{OutcomeSuccessful, OutcomeFailed, OutcomeSkipped} {
			byOutcome[outcome] = invoices.WithLabelValues(job, outcome)
		}
		outcomeCounters[job] = byOutcome
	}

	stepDurationCache := map[string]prometheus.Observer{
		"order":    stepDuration.WithLabelValues("order"),
		"purchase": stepDuration.WithLabelValues("purchase"),
	}

	return &SyncMetrics{
		jobRuns:           jobRuns,
		jobDuration:       jobDuration,
		jobTimeouts:       jobTimeouts,
		jobErrors:         jobErrors,
		invoices:          invoices,
		stepDuration:      stepDuration,
		stepFailures:      stepFailures,
		continuations:     continuations,
		sequenceLockBusy:  sequenceLockBusy,
		recoveryRequeued:  recoveryRequeued,
		emailFailures:     emailFailures,
		runLoopLag:        runLoopLag,
		outcomeCounters:   outcomeCounters,
		stepDurationCache: stepDurationCache,
	}
}

// IncJobRun increments the run counter for a job kind.
func (m *SyncMetrics) IncJobRun(job string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SyncMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *SyncMetrics) IncJobTimeout(job string) {
	if m == nil || m.jobTimeouts == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the job error counter with classification.
func (m *SyncMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil || m.jobErrors == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

// IncInvoice records one processed invoice.
func (m *SyncMetrics) IncInvoice(job, outcome string) {
	if m == nil {
		return
	}
	if byOutcome, ok := m.outcomeCounters[job]; ok {
		if counter, ok := byOutcome[outcome]; ok {
			counter.Inc()
			return
		}
	}
	m.invoices.WithLabelValues(job, outcome).Inc()
}

func (m *SyncMetrics) ObserveStep(step string, duration time.Duration, failed bool) {
	if m == nil {
		return
	}
	if observer, ok := m.stepDurationCache[step]; ok {
		observer.Observe(duration.Seconds())
	} else {
		m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
	}
	if failed {
		m.stepFailures.WithLabelValues(step).Inc()
	}
}

func (m *SyncMetrics) IncContinuation(job string) {
	if m == nil || m.continuations == nil {
		return
	}
	m.continuations.WithLabelValues(job).Inc()
}

func (m *SyncMetrics) IncSequenceLockBusy() {
	if m == nil || m.sequenceLockBusy == nil {
		return
	}
	m.sequenceLockBusy.Inc()
}

func (m *SyncMetrics) AddRecoveryRequeued(job string, count int) {
	if m == nil || count <= 0 || m.recoveryRequeued == nil {
		return
	}
	m.recoveryRequeued.WithLabelValues(job).Add(float64(count))
}

func (m *SyncMetrics) IncEmailFailure(template string) {
	if m == nil || m.emailFailures == nil {
		return
	}
	m.emailFailures.WithLabelValues(template).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *SyncMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil || m.runLoopLag == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return JobReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return JobReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return JobReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return JobReasonUniqueViolation
	}
	if isDBError(err) {
		return JobReasonDB
	}
	return JobReasonUnknown
}

// IsRetryable reports whether a top-level job error is worth another continuation.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return hasPGCode(err, "55P03") || hasPGCode(err, "40001")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
