package domain

import (
	"context"
	"errors"
	"io"

	"github.com/smallbiznis/ordersync/internal/aggregation"
	"github.com/smallbiznis/ordersync/pkg/db/pagination"
)

type StartRequest struct {
	JobID                string   `json:"jobId,omitempty"`
	FromDate             string   `json:"fromDate,omitempty"`
	ToDate               string   `json:"toDate,omitempty"`
	UserID               string   `json:"userId"`
	UserEmail            string   `json:"userEmail,omitempty"`
	UserName             string   `json:"userName,omitempty"`
	ResumeFrom           *int     `json:"resumeFrom,omitempty"`
	SelectedOrderNumbers []string `json:"selectedOrderNumbers,omitempty"`

	// Set by the daily runner for the per-day child job.
	ParentDailyJobID string              `json:"-"`
	SuppressEmail    bool                `json:"-"`
	Prebuilt         *aggregation.Result `json:"-"`
}

// ChunkPayload is the continuation task body for one aggregated chunk.
type ChunkPayload struct {
	JobID      string              `json:"job_id"`
	ResumeFrom int                 `json:"resume_from"`
	Prebuilt   *aggregation.Result `json:"prebuilt,omitempty"`
}

type ListRequest struct {
	pagination.Pagination
	Status           string `form:"status"`
	UserID           string `form:"user_id"`
	ParentDailyJobID string `form:"parent_daily_job_id"`
}

type ListResponse struct {
	pagination.PageInfo
	Jobs []*Job `json:"jobs"`
}

type Service interface {
	Start(ctx context.Context, req StartRequest) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	ListDetails(ctx context.Context, id string) ([]RunDetail, error)
	Pause(ctx context.Context, id string) (*Job, error)
	Cancel(ctx context.Context, id string) (*Job, error)
	Resume(ctx context.Context, id string) (*Job, error)
	// Report renders the run summary and failed invoices as a PDF.
	Report(ctx context.Context, id string) (io.Reader, error)
	RunChunk(ctx context.Context, payload ChunkPayload) error
}

var (
	ErrInvalidID               = errors.New("invalid_id")
	ErrInvalidUser             = errors.New("invalid_user")
	ErrInvalidScope            = errors.New("invalid_scope")
	ErrInvalidDateRange        = errors.New("invalid_date_range")
	ErrInvalidStatus           = errors.New("invalid_status")
	ErrInvalidStatusTransition = errors.New("invalid_status_transition")
	ErrNotFound                = errors.New("not_found")
)
