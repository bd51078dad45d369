// Package taskqueue carries job continuations between runner invocations.
// Delivery is at least once; handlers must tolerate duplicates.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

type Kind string

const (
	KindAggregatedSync Kind = "aggregated_sync"
	KindDailySync      Kind = "daily_sync"
)

var (
	ErrQueueClosed = errors.New("task_queue_closed")
	ErrUnknownKind = errors.New("unknown_task_kind")
	ErrInvalidTask = errors.New("invalid_task")
)

type Task struct {
	Kind      Kind            `json:"kind"`
	JobID     string          `json:"job_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Delay     time.Duration   `json:"-"`
}

// NewTask marshals payload into a task body.
func NewTask(kind Kind, jobID string, payload any) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, err
	}
	return Task{Kind: kind, JobID: jobID, Payload: raw}, nil
}

func (t Task) Validate() error {
	if strings.TrimSpace(string(t.Kind)) == "" || strings.TrimSpace(t.JobID) == "" {
		return ErrInvalidTask
	}
	return nil
}

// Decode unmarshals the task payload into v.
func (t Task) Decode(v any) error {
	if len(t.Payload) == 0 {
		return ErrInvalidTask
	}
	return json.Unmarshal(t.Payload, v)
}

type Queue interface {
	Enqueue(ctx context.Context, task Task) error
}

type Handler func(ctx context.Context, task Task) error
