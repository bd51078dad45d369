package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/ordersync/internal/config"
	dailydomain "github.com/smallbiznis/ordersync/internal/dailysync/domain"
	"github.com/smallbiznis/ordersync/internal/observability"
	syncjobdomain "github.com/smallbiznis/ordersync/internal/syncjob/domain"
	"github.com/smallbiznis/ordersync/internal/taskqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSyncJobs struct {
	started  []syncjobdomain.StartRequest
	startErr error
	jobs     map[string]*syncjobdomain.Job
	pauseErr error
}

func (f *fakeSyncJobs) Start(ctx context.Context, req syncjobdomain.StartRequest) (*syncjobdomain.Job, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, req)
	id := req.JobID
	if id == "" {
		id = "agg-1"
	}
	return &syncjobdomain.Job{ID: id, Status: syncjobdomain.StatusRunning}, nil
}

func (f *fakeSyncJobs) Get(ctx context.Context, id string) (*syncjobdomain.Job, error) {
	if job, ok := f.jobs[id]; ok {
		return job, nil
	}
	return nil, syncjobdomain.ErrNotFound
}

func (f *fakeSyncJobs) List(ctx context.Context, req syncjobdomain.ListRequest) (syncjobdomain.ListResponse, error) {
	var out syncjobdomain.ListResponse
	for _, job := range f.jobs {
		if req.Status == "" || string(job.Status) == req.Status {
			out.Jobs = append(out.Jobs, job)
		}
	}
	return out, nil
}

func (f *fakeSyncJobs) ListDetails(ctx context.Context, id string) ([]syncjobdomain.RunDetail, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return nil, err
	}
	return []syncjobdomain.RunDetail{{JobID: id, InvoiceNumber: "INV-20250101-0001", Status: syncjobdomain.DetailSuccess}}, nil
}

func (f *fakeSyncJobs) Pause(ctx context.Context, id string) (*syncjobdomain.Job, error) {
	if f.pauseErr != nil {
		return nil, f.pauseErr
	}
	job, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Status = syncjobdomain.StatusPaused
	return job, nil
}

func (f *fakeSyncJobs) Cancel(ctx context.Context, id string) (*syncjobdomain.Job, error) {
	job, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Status = syncjobdomain.StatusCancelled
	return job, nil
}

func (f *fakeSyncJobs) Resume(ctx context.Context, id string) (*syncjobdomain.Job, error) {
	job, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Status = syncjobdomain.StatusRunning
	return job, nil
}

func (f *fakeSyncJobs) Report(ctx context.Context, id string) (io.Reader, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return nil, err
	}
	return strings.NewReader("%PDF-1.4 fake"), nil
}

func (f *fakeSyncJobs) RunChunk(ctx context.Context, payload syncjobdomain.ChunkPayload) error {
	return nil
}

type fakeDailyJobs struct {
	started []dailydomain.StartRequest
	jobs    map[string]*dailydomain.Job
}

func (f *fakeDailyJobs) Start(ctx context.Context, req dailydomain.StartRequest) (*dailydomain.Job, error) {
	if req.FromDate == "" || req.ToDate == "" {
		return nil, dailydomain.ErrInvalidDateRange
	}
	f.started = append(f.started, req)
	id := req.JobID
	if id == "" {
		id = "daily-1"
	}
	return &dailydomain.Job{ID: id, Status: dailydomain.StatusRunning, FromDate: req.FromDate, ToDate: req.ToDate}, nil
}

func (f *fakeDailyJobs) Get(ctx context.Context, id string) (*dailydomain.Job, error) {
	if job, ok := f.jobs[id]; ok {
		return job, nil
	}
	return nil, dailydomain.ErrNotFound
}

func (f *fakeDailyJobs) List(ctx context.Context, req dailydomain.ListRequest) (dailydomain.ListResponse, error) {
	return dailydomain.ListResponse{}, nil
}

func (f *fakeDailyJobs) Pause(ctx context.Context, id string) (*dailydomain.Job, error) {
	job, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != dailydomain.StatusRunning {
		return nil, dailydomain.ErrInvalidStatusTransition
	}
	job.Status = dailydomain.StatusPaused
	return job, nil
}

func (f *fakeDailyJobs) Cancel(ctx context.Context, id string) (*dailydomain.Job, error) {
	return f.Pause(ctx, id)
}

func (f *fakeDailyJobs) Resume(ctx context.Context, id string) (*dailydomain.Job, error) {
	job, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Status = dailydomain.StatusRunning
	return job, nil
}

func (f *fakeDailyJobs) RunChunk(ctx context.Context, payload dailydomain.ChunkPayload) error {
	return nil
}

type testServer struct {
	engine *gin.Engine
	sync   *fakeSyncJobs
	daily  *fakeDailyJobs
	mux    *taskqueue.Mux
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		engine: NewEngine(observability.Config{}, nil),
		sync:   &fakeSyncJobs{jobs: map[string]*syncjobdomain.Job{}},
		daily:  &fakeDailyJobs{jobs: map[string]*dailydomain.Job{}},
		mux:    taskqueue.NewMux(),
	}
	NewServer(ServerParams{
		Gin:       ts.engine,
		Cfg:       cfg,
		Log:       zaptest.NewLogger(t),
		SyncJobs:  ts.sync,
		DailyJobs: ts.daily,
		Mux:       ts.mux,
	})
	return ts
}

func (ts *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestStartAggregatedSyncReturnsTriggerResponse(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	rec := ts.do(http.MethodPost, "/api/sync/aggregated", map[string]any{
		"fromDate": "2025-01-01",
		"toDate":   "2025-01-02",
	}, map[string]string{HeaderUserID: "user-7"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp triggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "agg-1", resp.JobID)
	assert.Equal(t, "Aggregated sync started", resp.Message)

	require.Len(t, ts.sync.started, 1)
	assert.Equal(t, "user-7", ts.sync.started[0].UserID)
	assert.Equal(t, "2025-01-01", ts.sync.started[0].FromDate)
}

func TestStartAggregatedSyncResumeMessage(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	rec := ts.do(http.MethodPost, "/api/sync/aggregated", map[string]any{
		"jobId":      "agg-9",
		"userId":     "user-1",
		"resumeFrom": 5,
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp triggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Aggregated sync resumed", resp.Message)
	require.NotNil(t, ts.sync.started[0].ResumeFrom)
	assert.Equal(t, 5, *ts.sync.started[0].ResumeFrom)
}

func TestStartAggregatedSyncMapsValidationErrors(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.sync.startErr = syncjobdomain.ErrInvalidDateRange

	rec := ts.do(http.MethodPost, "/api/sync/aggregated", map[string]any{
		"fromDate": "2025-01-05",
		"toDate":   "2025-01-01",
		"userId":   "user-1",
	}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_date_range", payload.Errors[0].Code)
	assert.Equal(t, "date_range", payload.Errors[0].Field)
}

func TestStartAggregatedSyncRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/sync/aggregated", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec).Errors[0].Code)
}

func TestAggregatedSyncLifecycleErrors(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.sync.jobs["agg-1"] = &syncjobdomain.Job{ID: "agg-1", Status: syncjobdomain.StatusCompleted}
	ts.sync.pauseErr = syncjobdomain.ErrInvalidStatusTransition

	rec := ts.do(http.MethodPost, "/api/sync/aggregated/agg-1/pause", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decodeError(t, rec).Type)

	rec = ts.do(http.MethodPost, "/api/sync/aggregated/missing/cancel", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/api/sync/aggregated/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAggregatedSyncStatusDetailsAndReport(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.sync.jobs["agg-1"] = &syncjobdomain.Job{ID: "agg-1", Status: syncjobdomain.StatusRunning, TotalOrders: 3, ProcessedOrders: 1}

	rec := ts.do(http.MethodGet, "/api/sync/aggregated/agg-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Data syncjobdomain.Job `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 3, status.Data.TotalOrders)
	assert.Equal(t, 1, status.Data.ProcessedOrders)

	rec = ts.do(http.MethodGet, "/api/sync/aggregated/agg-1/details", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "INV-20250101-0001")

	rec = ts.do(http.MethodGet, "/api/sync/aggregated/agg-1/report.pdf", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "sync-agg-1.pdf")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))

	rec = ts.do(http.MethodPost, "/api/sync/aggregated/agg-1/pause", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, syncjobdomain.StatusPaused, ts.sync.jobs["agg-1"].Status)

	rec = ts.do(http.MethodPost, "/api/sync/aggregated/agg-1/resume", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, syncjobdomain.StatusRunning, ts.sync.jobs["agg-1"].Status)
}

func TestListAggregatedSyncsFiltersByStatus(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.sync.jobs["a"] = &syncjobdomain.Job{ID: "a", Status: syncjobdomain.StatusRunning}
	ts.sync.jobs["b"] = &syncjobdomain.Job{ID: "b", Status: syncjobdomain.StatusFailed}

	rec := ts.do(http.MethodGet, "/api/sync/aggregated?status=failed&page_size=10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data syncjobdomain.ListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Jobs, 1)
	assert.Equal(t, "b", resp.Data.Jobs[0].ID)
}

func TestDailySyncEndpoints(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	rec := ts.do(http.MethodPost, "/api/sync/daily", map[string]any{
		"fromDate": "2025-01-01",
		"toDate":   "2025-01-03",
		"userId":   "user-1",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp triggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "daily-1", resp.JobID)
	assert.Equal(t, "Daily sync started", resp.Message)

	rec = ts.do(http.MethodPost, "/api/sync/daily", map[string]any{"userId": "user-1"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	ts.daily.jobs["daily-2"] = &dailydomain.Job{ID: "daily-2", Status: dailydomain.StatusCompleted}
	rec = ts.do(http.MethodPost, "/api/sync/daily/daily-2/pause", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodGet, "/api/sync/daily/daily-2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/api/sync/daily/unknown", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPubSubPushRouteDispatchesTasks(t *testing.T) {
	ts := newTestServer(t, config.Config{TaskQueue: config.TaskQueueConfig{Mode: config.QueueModePubSub}})

	var got []taskqueue.Task
	ts.mux.Register(taskqueue.KindAggregatedSync, func(ctx context.Context, task taskqueue.Task) error {
		got = append(got, task)
		return nil
	})

	task, err := taskqueue.NewTask(taskqueue.KindAggregatedSync, "agg-1", syncjobdomain.ChunkPayload{JobID: "agg-1", ResumeFrom: 5})
	require.NoError(t, err)
	data, err := json.Marshal(task)
	require.NoError(t, err)

	rec := ts.do(http.MethodPost, "/tasks/pubsub", map[string]any{
		"message":      map[string]any{"data": data, "messageId": "m-1"},
		"subscription": "projects/p/subscriptions/s",
	}, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, got, 1)

	var payload syncjobdomain.ChunkPayload
	require.NoError(t, got[0].Decode(&payload))
	assert.Equal(t, 5, payload.ResumeFrom)
}

func TestPubSubPushRouteOnlyInPubSubMode(t *testing.T) {
	ts := newTestServer(t, config.Config{TaskQueue: config.TaskQueueConfig{Mode: config.QueueModeLocal}})

	rec := ts.do(http.MethodPost, "/tasks/pubsub", map[string]any{}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	rec := ts.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
