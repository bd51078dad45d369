package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/ordersync/internal/clock"
	dailydomain "github.com/smallbiznis/ordersync/internal/dailysync/domain"
	dailyrepo "github.com/smallbiznis/ordersync/internal/dailysync/repository"
	obsmetrics "github.com/smallbiznis/ordersync/internal/observability/metrics"
	syncjobdomain "github.com/smallbiznis/ordersync/internal/syncjob/domain"
	syncjobrepo "github.com/smallbiznis/ordersync/internal/syncjob/repository"
	"github.com/smallbiznis/ordersync/internal/taskqueue"
	"github.com/smallbiznis/ordersync/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type recordingQueue struct {
	tasks []taskqueue.Task
}

func (q *recordingQueue) Enqueue(ctx context.Context, task taskqueue.Task) error {
	q.tasks = append(q.tasks, task)
	return nil
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obsmetrics.NewSyncMetricsForTest(registry)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{}), syncMetrics: metrics}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "ordersync",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "ordersync_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "ordersync",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.JobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "ordersync_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRecoverySweepRequeuesStaleRunningJobs(t *testing.T) {
	conn := dbtest.Open(t)
	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	stale := now.Add(-10 * time.Minute)
	fresh := now.Add(-30 * time.Second)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	queue := &recordingQueue{}
	registry := prometheus.NewRegistry()

	s, err := New(Params{
		DB:          conn,
		Log:         zaptest.NewLogger(t),
		GenID:       node,
		Clock:       clock.NewFakeClock(now),
		Queue:       queue,
		SyncRepo:    syncjobrepo.Provide(),
		DailyRepo:   dailyrepo.Provide(),
		SyncMetrics: obsmetrics.NewSyncMetricsForTest(registry),
	})
	require.NoError(t, err)

	jobs := []syncjobdomain.Job{
		{ID: "agg-stale", Status: syncjobdomain.StatusRunning, ProcessedOrders: 4, SuccessfulOrders: 4, CreatedAt: stale, UpdatedAt: stale},
		{ID: "agg-fresh", Status: syncjobdomain.StatusRunning, CreatedAt: fresh, UpdatedAt: fresh},
		{ID: "agg-paused", Status: syncjobdomain.StatusPaused, CreatedAt: stale, UpdatedAt: stale},
	}
	for i := range jobs {
		require.NoError(t, conn.Create(&jobs[i]).Error)
	}

	daily := dailydomain.Job{
		ID:         "daily-stale",
		Status:     dailydomain.StatusRunning,
		FromDate:   "2025-01-01",
		ToDate:     "2025-01-03",
		CurrentDay: "2025-01-02",
		CreatedAt:  stale,
		UpdatedAt:  stale,
	}
	daily.ApplyDays(dailydomain.DayStatuses{
		"2025-01-01": {Status: dailydomain.DayCompleted},
		"2025-01-02": {Status: dailydomain.DayRunning, BackgroundJobID: "agg-fresh"},
		"2025-01-03": {Status: dailydomain.DayPending},
	})
	require.NoError(t, conn.Create(&daily).Error)

	require.NoError(t, s.RunOnce(context.Background()))
	require.Len(t, queue.tasks, 2)

	assert.Equal(t, taskqueue.KindAggregatedSync, queue.tasks[0].Kind)
	var aggPayload syncjobdomain.ChunkPayload
	require.NoError(t, queue.tasks[0].Decode(&aggPayload))
	assert.Equal(t, "agg-stale", aggPayload.JobID)
	assert.Equal(t, 4, aggPayload.ResumeFrom)

	assert.Equal(t, taskqueue.KindDailySync, queue.tasks[1].Kind)
	var dailyPayload dailydomain.ChunkPayload
	require.NoError(t, queue.tasks[1].Decode(&dailyPayload))
	assert.Equal(t, "daily-stale", dailyPayload.JobID)
	assert.Equal(t, 1, dailyPayload.ResumeFromDay)

	labels := map[string]string{"service": "ordersync", "env": "test", "job": obsmetrics.JobAggregatedChunk}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "ordersync_recovery_requeued_total", labels))

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Len(t, queue.tasks, 2, "touched jobs are not requeued on the next tick")

	var stored dailydomain.Job
	require.NoError(t, conn.Where("id = ?", "daily-stale").Take(&stored).Error)
	assert.Equal(t, dailydomain.DayCompleted, stored.Days()["2025-01-01"].Status)
}

// racingDailyRepo lets a runner save progress between the sweep's listing and
// its heartbeat.
type racingDailyRepo struct {
	dailydomain.Repository
	after func()
}

func (r racingDailyRepo) ListStaleRunning(ctx context.Context, db *gorm.DB, updatedBefore time.Time, limit int) ([]*dailydomain.Job, error) {
	jobs, err := r.Repository.ListStaleRunning(ctx, db, updatedBefore, limit)
	if err == nil && r.after != nil {
		r.after()
	}
	return jobs, err
}

func TestRecoverySweepKeepsDayProgressSavedAfterListing(t *testing.T) {
	conn := dbtest.Open(t)
	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	stale := now.Add(-10 * time.Minute)
	repo := dailyrepo.Provide()

	daily := dailydomain.Job{
		ID:         "daily-racing",
		Status:     dailydomain.StatusRunning,
		FromDate:   "2025-01-01",
		ToDate:     "2025-01-02",
		CurrentDay: "2025-01-01",
		CreatedAt:  stale,
		UpdatedAt:  stale,
	}
	daily.ApplyDays(dailydomain.DayStatuses{
		"2025-01-01": {Status: dailydomain.DayRunning, BackgroundJobID: "agg-1"},
		"2025-01-02": {Status: dailydomain.DayPending},
	})
	require.NoError(t, conn.Create(&daily).Error)

	progressed := daily
	progressed.ApplyDays(dailydomain.DayStatuses{
		"2025-01-01": {Status: dailydomain.DayCompleted, BackgroundJobID: "agg-1"},
		"2025-01-02": {Status: dailydomain.DayPending},
	})
	progressed.CurrentDay = "2025-01-02"

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	queue := &recordingQueue{}
	s, err := New(Params{
		DB:       conn,
		Log:      zaptest.NewLogger(t),
		GenID:    node,
		Clock:    clock.NewFakeClock(now),
		Queue:    queue,
		SyncRepo: syncjobrepo.Provide(),
		DailyRepo: racingDailyRepo{Repository: repo, after: func() {
			_, err := repo.SaveProgress(context.Background(), conn, &progressed, stale)
			require.NoError(t, err)
		}},
		SyncMetrics: obsmetrics.NewSyncMetricsForTest(prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	require.NoError(t, s.RecoverySweepJob(context.Background()))
	require.Len(t, queue.tasks, 1)

	var stored dailydomain.Job
	require.NoError(t, conn.Where("id = ?", "daily-racing").Take(&stored).Error)
	assert.Equal(t, dailydomain.DayCompleted, stored.Days()["2025-01-01"].Status)
	assert.Equal(t, "2025-01-02", stored.CurrentDay)
	assert.WithinDuration(t, now, stored.UpdatedAt, time.Second, "sweep still heartbeats the row")
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultConfig(), cfg)
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
