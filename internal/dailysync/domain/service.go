package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/ordersync/pkg/db/pagination"
)

type StartRequest struct {
	JobID         string `json:"jobId,omitempty"`
	FromDate      string `json:"fromDate"`
	ToDate        string `json:"toDate"`
	UserID        string `json:"userId"`
	UserEmail     string `json:"userEmail,omitempty"`
	UserName      string `json:"userName,omitempty"`
	ResumeFromDay *int   `json:"resumeFromDay,omitempty"`
}

// ChunkPayload is the continuation task body for one daily invocation.
type ChunkPayload struct {
	JobID         string `json:"job_id"`
	ResumeFromDay int    `json:"resume_from_day"`
}

type ListRequest struct {
	pagination.Pagination
	Status string `form:"status"`
	UserID string `form:"user_id"`
}

type ListResponse struct {
	pagination.PageInfo
	Jobs []*Job `json:"jobs"`
}

type Service interface {
	Start(ctx context.Context, req StartRequest) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Pause(ctx context.Context, id string) (*Job, error)
	Cancel(ctx context.Context, id string) (*Job, error)
	Resume(ctx context.Context, id string) (*Job, error)
	RunChunk(ctx context.Context, payload ChunkPayload) error
}

var (
	ErrInvalidID               = errors.New("invalid_id")
	ErrInvalidUser             = errors.New("invalid_user")
	ErrInvalidDateRange        = errors.New("invalid_date_range")
	ErrInvalidStatus           = errors.New("invalid_status")
	ErrInvalidStatusTransition = errors.New("invalid_status_transition")
	ErrNotFound                = errors.New("not_found")
)
