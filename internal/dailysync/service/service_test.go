package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ordersync/internal/aggregation"
	"github.com/smallbiznis/ordersync/internal/clock"
	"github.com/smallbiznis/ordersync/internal/config"
	"github.com/smallbiznis/ordersync/internal/dailysync/domain"
	"github.com/smallbiznis/ordersync/internal/dailysync/repository"
	"github.com/smallbiznis/ordersync/internal/lock"
	notificationdomain "github.com/smallbiznis/ordersync/internal/notification/domain"
	mappingrepo "github.com/smallbiznis/ordersync/internal/ordermapping/repository"
	syncjobdomain "github.com/smallbiznis/ordersync/internal/syncjob/domain"
	"github.com/smallbiznis/ordersync/internal/taskqueue"
	transactiondomain "github.com/smallbiznis/ordersync/internal/transaction/domain"
	transactionrepo "github.com/smallbiznis/ordersync/internal/transaction/repository"
	"github.com/smallbiznis/ordersync/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

// fakeJobs stands in for the aggregated service. Children complete on their
// first status read unless their date is listed in stuck.
type fakeJobs struct {
	mu      sync.Mutex
	started []syncjobdomain.StartRequest
	jobs    map[string]*syncjobdomain.Job
	stuck   map[string]bool
	onStart func(req syncjobdomain.StartRequest)
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[string]*syncjobdomain.Job), stuck: make(map[string]bool)}
}

func (f *fakeJobs) Start(ctx context.Context, req syncjobdomain.StartRequest) (*syncjobdomain.Job, error) {
	f.mu.Lock()
	f.started = append(f.started, req)
	job := &syncjobdomain.Job{
		ID:               fmt.Sprintf("child-%d", len(f.started)),
		Status:           syncjobdomain.StatusRunning,
		FromDate:         req.FromDate,
		ToDate:           req.ToDate,
		ParentDailyJobID: req.ParentDailyJobID,
		SuppressEmail:    req.SuppressEmail,
	}
	if req.Prebuilt != nil {
		job.TotalOrders = len(req.Prebuilt.Invoices)
	}
	f.jobs[job.ID] = job
	hook := f.onStart
	f.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	copied := *job
	return &copied, nil
}

func (f *fakeJobs) Get(ctx context.Context, id string) (*syncjobdomain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, syncjobdomain.ErrNotFound
	}
	if job.Status == syncjobdomain.StatusRunning && !f.stuck[job.FromDate] {
		job.Status = syncjobdomain.StatusCompleted
		job.ProcessedOrders = job.TotalOrders
		job.SuccessfulOrders = job.TotalOrders
	}
	copied := *job
	return &copied, nil
}

func (f *fakeJobs) release(date string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stuck, date)
}

func (f *fakeJobs) List(ctx context.Context, req syncjobdomain.ListRequest) (syncjobdomain.ListResponse, error) {
	return syncjobdomain.ListResponse{}, nil
}

func (f *fakeJobs) ListDetails(ctx context.Context, id string) ([]syncjobdomain.RunDetail, error) {
	return nil, nil
}

func (f *fakeJobs) Pause(ctx context.Context, id string) (*syncjobdomain.Job, error)  { return nil, nil }
func (f *fakeJobs) Cancel(ctx context.Context, id string) (*syncjobdomain.Job, error) { return nil, nil }
func (f *fakeJobs) Resume(ctx context.Context, id string) (*syncjobdomain.Job, error) { return nil, nil }
func (f *fakeJobs) Report(ctx context.Context, id string) (io.Reader, error)          { return nil, nil }

func (f *fakeJobs) RunChunk(ctx context.Context, payload syncjobdomain.ChunkPayload) error {
	return nil
}

type recordingQueue struct {
	tasks []taskqueue.Task
}

func (q *recordingQueue) Enqueue(ctx context.Context, task taskqueue.Task) error {
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) pop(t *testing.T) domain.ChunkPayload {
	t.Helper()
	require.NotEmpty(t, q.tasks)
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	require.Equal(t, taskqueue.KindDailySync, task.Kind)
	var payload domain.ChunkPayload
	require.NoError(t, task.Decode(&payload))
	return payload
}

type recordingNotifier struct {
	daily []notificationdomain.DailySummary
}

func (n *recordingNotifier) NotifyAggregatedCompleted(ctx context.Context, summary notificationdomain.AggregatedSummary) bool {
	return true
}

func (n *recordingNotifier) NotifyDailyCompleted(ctx context.Context, summary notificationdomain.DailySummary) bool {
	n.daily = append(n.daily, summary)
	return true
}

type harness struct {
	conn     *gorm.DB
	svc      *Service
	jobs     *fakeJobs
	queue    *recordingQueue
	notifier *recordingNotifier
	clock    *clock.FakeClock
}

func newHarness(t *testing.T, tune func(*config.SyncPolicy)) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	log := zaptest.NewLogger(t)

	policy := config.DefaultSyncPolicy()
	if tune != nil {
		tune(&policy)
	}
	holder := config.NewStaticSyncPolicy(policy)

	h := &harness{
		conn:     conn,
		jobs:     newFakeJobs(),
		queue:    &recordingQueue{},
		notifier: &recordingNotifier{},
		clock:    clock.NewFakeClock(time.Date(2025, 1, 4, 1, 0, 0, 0, time.UTC)),
	}
	h.svc = New(Params{
		DB:    conn,
		Log:   log,
		Clock: h.clock,
		Repo:  repository.Provide(),
		Loader: aggregation.NewLoader(aggregation.Params{
			DB:          conn,
			Log:         log,
			Policy:      holder,
			Transaction: transactionrepo.Provide(),
			Mapping:     mappingrepo.Provide(),
		}),
		Jobs:     h.jobs,
		Queue:    h.queue,
		JobGuard: lock.NoopJobGuard{},
		Policy:   holder,
		Notifier: h.notifier,
	}).(*Service)
	return h
}

func (h *harness) seed(t *testing.T, date string, orders ...string) {
	t.Helper()
	at, err := time.Parse(time.DateOnly, date)
	require.NoError(t, err)
	for i, order := range orders {
		row := transactiondomain.Transaction{
			OrderNumber:     order,
			TransactionDate: at.Add(10*time.Hour + time.Duration(i)*time.Minute),
			Brand:           "KOPI",
			ProductSKU:      "SKU-1",
			ProductName:     "Latte",
			UnitPrice:       decimal.NewFromInt(25),
			Quantity:        decimal.NewFromInt(1),
			Total:           decimal.NewFromInt(25),
			PaymentMethod:   "QRIS",
			PaymentBrand:    "GOPAY",
			CashierName:     "cashier-" + order,
		}
		require.NoError(t, h.conn.Create(&row).Error)
	}
}

func (h *harness) start(t *testing.T, from, to string) *domain.Job {
	t.Helper()
	job, err := h.svc.Start(context.Background(), domain.StartRequest{
		FromDate:  from,
		ToDate:    to,
		UserID:    "user-1",
		UserEmail: "ops@example.test",
	})
	require.NoError(t, err)
	return job
}

func (h *harness) job(t *testing.T, id string) *domain.Job {
	t.Helper()
	job, err := h.svc.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestStartValidatesRequest(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.Start(ctx, domain.StartRequest{FromDate: "2025-01-01", ToDate: "2025-01-02"})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)

	_, err = h.svc.Start(ctx, domain.StartRequest{UserID: "u", FromDate: "2025-01-03", ToDate: "2025-01-01"})
	assert.ErrorIs(t, err, domain.ErrInvalidDateRange)

	_, err = h.svc.Start(ctx, domain.StartRequest{UserID: "u"})
	assert.ErrorIs(t, err, domain.ErrInvalidDateRange)
}

func TestStartInitialisesEveryDayPending(t *testing.T) {
	h := newHarness(t, nil)

	job := h.start(t, "2025-01-01", "2025-01-03")
	assert.Equal(t, domain.StatusRunning, job.Status)
	assert.Equal(t, 3, job.TotalDays)

	stored := h.job(t, job.ID)
	days := stored.Days()
	require.Len(t, days, 3)
	for _, date := range []string{"2025-01-01", "2025-01-02", "2025-01-03"} {
		assert.Equal(t, domain.DayPending, days[date].Status, date)
	}
	require.Len(t, h.queue.tasks, 1)
}

func TestRunChunkSkipsEmptyDayWithoutChild(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "2025-01-01", "A1")
	h.seed(t, "2025-01-03", "C1", "C2")

	job := h.start(t, "2025-01-01", "2025-01-03")
	require.NoError(t, h.svc.RunChunk(context.Background(), h.queue.pop(t)))

	require.Len(t, h.jobs.started, 2)
	assert.Equal(t, "2025-01-01", h.jobs.started[0].FromDate)
	assert.Equal(t, "2025-01-03", h.jobs.started[1].FromDate)
	for _, req := range h.jobs.started {
		assert.Equal(t, job.ID, req.ParentDailyJobID)
		assert.True(t, req.SuppressEmail)
		require.NotNil(t, req.Prebuilt)
		assert.Equal(t, req.FromDate, req.ToDate)
	}

	done := h.job(t, job.ID)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, 3, done.CompletedDays)
	assert.Equal(t, 0, done.FailedDays)
	assert.Equal(t, 3, done.TotalOrders)
	assert.Equal(t, 3, done.SuccessfulOrders)
	assert.Empty(t, done.CurrentDay)
	assert.True(t, done.EmailSent)

	days := done.Days()
	assert.Equal(t, domain.DayCompleted, days["2025-01-02"].Status)
	assert.Equal(t, 0, days["2025-01-02"].TotalOrders)
	assert.Empty(t, days["2025-01-02"].BackgroundJobID)
	assert.Equal(t, "child-2", days["2025-01-03"].BackgroundJobID)
	assert.Equal(t, 2, days["2025-01-03"].SuccessfulOrders)

	require.Len(t, h.notifier.daily, 1)
	require.Len(t, h.notifier.daily[0].Days, 3)
	assert.Equal(t, "2025-01-01", h.notifier.daily[0].Days[0].Date)
	assert.Empty(t, h.queue.tasks)
}

func TestRunChunkContinuesSameDateWhenBudgetSpent(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "2025-01-01", "A1")
	h.seed(t, "2025-01-02", "B1")
	h.jobs.stuck["2025-01-01"] = true

	job := h.start(t, "2025-01-01", "2025-01-02")
	require.NoError(t, h.svc.RunChunk(context.Background(), h.queue.pop(t)))

	require.Len(t, h.jobs.started, 1)
	require.Len(t, h.queue.tasks, 1)
	next := h.queue.pop(t)
	assert.Equal(t, 0, next.ResumeFromDay)

	mid := h.job(t, job.ID)
	assert.Equal(t, domain.StatusRunning, mid.Status)
	assert.Equal(t, "2025-01-01", mid.CurrentDay)
	day := mid.Days()["2025-01-01"]
	assert.Equal(t, domain.DayRunning, day.Status)
	assert.Equal(t, "child-1", day.BackgroundJobID)
	assert.Equal(t, 1, day.TotalOrders)

	h.jobs.release("2025-01-01")
	require.NoError(t, h.svc.RunChunk(context.Background(), next))

	require.Len(t, h.jobs.started, 2, "the first day's child is polled, not restarted")
	assert.Equal(t, "2025-01-02", h.jobs.started[1].FromDate)
	assert.Equal(t, domain.StatusCompleted, h.job(t, job.ID).Status)
}

func TestRunChunkReschedulesSameDateAfterPollWindow(t *testing.T) {
	h := newHarness(t, func(p *config.SyncPolicy) { p.DailyBudget = time.Hour })
	h.seed(t, "2025-01-01", "A1")
	h.seed(t, "2025-01-02", "B1")
	h.jobs.stuck["2025-01-01"] = true

	job := h.start(t, "2025-01-01", "2025-01-02")
	begin := h.clock.Now()
	require.NoError(t, h.svc.RunChunk(context.Background(), h.queue.pop(t)))

	assert.GreaterOrEqual(t, h.clock.Now().Sub(begin), 10*time.Minute)
	assert.Less(t, h.clock.Now().Sub(begin), time.Hour, "the poll window ends before the budget")
	mid := h.job(t, job.ID)
	assert.Equal(t, domain.StatusRunning, mid.Status)
	assert.Equal(t, domain.DayRunning, mid.Days()["2025-01-01"].Status)
	assert.Equal(t, "child-1", mid.Days()["2025-01-01"].BackgroundJobID)
	assert.Equal(t, domain.DayPending, mid.Days()["2025-01-02"].Status)
	require.Len(t, h.jobs.started, 1, "the next date waits for the running child")

	next := h.queue.pop(t)
	assert.Equal(t, 0, next.ResumeFromDay)

	h.jobs.release("2025-01-01")
	require.NoError(t, h.svc.RunChunk(context.Background(), next))

	done := h.job(t, job.ID)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, 2, done.CompletedDays)
	assert.Zero(t, done.FailedDays)
	require.Len(t, h.jobs.started, 2, "the first day's child is polled, not restarted")
}

func TestRunChunkRenewsGuardWhilePolling(t *testing.T) {
	h := newHarness(t, func(p *config.SyncPolicy) { p.DailyBudget = time.Hour })
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	h.svc.jobGuard = lock.NewJobGuard(client, zaptest.NewLogger(t))

	h.seed(t, "2025-01-01", "A1")
	h.jobs.stuck["2025-01-01"] = true
	job := h.start(t, "2025-01-01", "2025-01-01")
	key := lock.JobKey(string(taskqueue.KindDailySync), job.ID)

	// redis time follows the fake clock, so an unrenewed guard expires after
	// its ttl even though the poll loop is still running
	lapsed := 0
	h.clock.OnSleep(func(d time.Duration) {
		mr.FastForward(d)
		if !mr.Exists(key) {
			lapsed++
		}
	})

	require.NoError(t, h.svc.RunChunk(context.Background(), h.queue.pop(t)))
	assert.Zero(t, lapsed)
	assert.False(t, mr.Exists(key), "guard released on return")
	assert.Equal(t, domain.DayRunning, h.job(t, job.ID).Days()["2025-01-01"].Status)
}

func TestRunChunkFailsJobWhenInvoicesCannotBeBuilt(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "2025-01-01", "A1")
	job := h.start(t, "2025-01-01", "2025-01-01")
	require.NoError(t, h.conn.Migrator().DropTable(&transactiondomain.Transaction{}))

	require.NoError(t, h.svc.RunChunk(context.Background(), h.queue.pop(t)))

	failed := h.job(t, job.ID)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Contains(t, failed.ErrorMessage, "build invoices for 2025-01-01")
	assert.NotNil(t, failed.CompletedAt)
	assert.Empty(t, h.jobs.started)
	assert.Empty(t, h.queue.tasks)
}

func TestRunChunkAbortsWhenJobDeleted(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "2025-01-01", "A1")
	h.seed(t, "2025-01-02", "B1")

	job := h.start(t, "2025-01-01", "2025-01-02")
	h.jobs.onStart = func(req syncjobdomain.StartRequest) {
		require.NoError(t, h.conn.Delete(&domain.Job{}, "id = ?", job.ID).Error)
	}

	require.NoError(t, h.svc.RunChunk(context.Background(), h.queue.pop(t)))
	assert.Len(t, h.jobs.started, 1)
	assert.Empty(t, h.queue.tasks)

	_, err := h.svc.Get(context.Background(), job.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, h.notifier.daily)
}

func TestRunChunkHaltsOnPauseWithoutTouchingChild(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "2025-01-01", "A1")
	h.jobs.stuck["2025-01-01"] = true

	job := h.start(t, "2025-01-01", "2025-01-01")
	h.clock.OnSleep(func(time.Duration) {
		_, err := h.svc.Pause(context.Background(), job.ID)
		require.NoError(t, err)
		h.clock.OnSleep(nil)
	})
	require.NoError(t, h.svc.RunChunk(context.Background(), h.queue.pop(t)))

	paused := h.job(t, job.ID)
	assert.Equal(t, domain.StatusPaused, paused.Status)
	assert.Empty(t, h.queue.tasks)
	child, err := h.jobs.Get(context.Background(), "child-1")
	require.NoError(t, err)
	assert.Equal(t, syncjobdomain.StatusRunning, child.Status)

	_, err = h.svc.Resume(context.Background(), job.ID)
	require.NoError(t, err)
	next := h.queue.pop(t)
	assert.Equal(t, 0, next.ResumeFromDay)

	h.jobs.release("2025-01-01")
	require.NoError(t, h.svc.RunChunk(context.Background(), next))
	assert.Len(t, h.jobs.started, 1)
	assert.Equal(t, domain.StatusCompleted, h.job(t, job.ID).Status)
}

func TestRunChunkIgnoresUnknownJob(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.svc.RunChunk(context.Background(), domain.ChunkPayload{JobID: "missing"}))
	assert.Empty(t, h.jobs.started)
}

func TestResumeIndex(t *testing.T) {
	job := &domain.Job{FromDate: "2025-01-01", ToDate: "2025-01-05", CurrentDay: "2025-01-03"}
	assert.Equal(t, 2, ResumeIndex(job))

	job.CurrentDay = "2024-12-31"
	assert.Equal(t, 0, ResumeIndex(job))

	job.CurrentDay = ""
	assert.Equal(t, 0, ResumeIndex(job))
}

func TestRunChunkLogsCarryOneJobID(t *testing.T) {
	h := newHarness(t, nil)
	core, logs := observer.New(zapcore.DebugLevel)
	h.svc.log = zap.New(core)
	h.seed(t, "2025-01-02", "B1")

	job := h.start(t, "2025-01-01", "2025-01-02")
	require.NoError(t, h.svc.RunChunk(context.Background(), h.queue.pop(t)))
	require.Equal(t, domain.StatusCompleted, h.job(t, job.ID).Status)

	chunkLogs := logs.FilterMessageSnippet("dailysync.day.").All()
	require.NotEmpty(t, chunkLogs)
	for _, entry := range chunkLogs {
		ids := 0
		for _, field := range entry.Context {
			if field.Key == "job_id" {
				ids++
			}
		}
		assert.Equal(t, 1, ids, entry.Message)
		assert.Equal(t, job.ID, entry.ContextMap()["job_id"], entry.Message)
		assert.Equal(t, string(taskqueue.KindDailySync), entry.ContextMap()["job_type"], entry.Message)
	}
}
