package domain

import (
	"time"

	syncjobdomain "github.com/smallbiznis/ordersync/internal/syncjob/domain"
	"gorm.io/datatypes"
)

type Status = syncjobdomain.Status

const (
	StatusPending   = syncjobdomain.StatusPending
	StatusRunning   = syncjobdomain.StatusRunning
	StatusPaused    = syncjobdomain.StatusPaused
	StatusCancelled = syncjobdomain.StatusCancelled
	StatusCompleted = syncjobdomain.StatusCompleted
	StatusFailed    = syncjobdomain.StatusFailed
)

type DayState string

const (
	DayPending   DayState = "pending"
	DayRunning   DayState = "running"
	DayCompleted DayState = "completed"
	DayFailed    DayState = "failed"
)

func (s DayState) Terminal() bool {
	return s == DayCompleted || s == DayFailed
}

// DayStatus tracks one calendar date. It only moves forward:
// pending, then running, then completed or failed.
type DayStatus struct {
	Status           DayState   `json:"status"`
	TotalOrders      int        `json:"total_orders"`
	ProcessedOrders  int        `json:"processed_orders"`
	SuccessfulOrders int        `json:"successful_orders"`
	FailedOrders     int        `json:"failed_orders"`
	SkippedOrders    int        `json:"skipped_orders"`
	BackgroundJobID  string     `json:"background_job_id,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

type DayStatuses map[string]DayStatus

// Job supervises a date range, one child aggregated job per non-empty day.
type Job struct {
	ID               string                          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Status           Status                          `gorm:"type:varchar(16);not null;index" json:"status"`
	FromDate         string                          `gorm:"column:from_date;type:varchar(10);not null" json:"from_date"`
	ToDate           string                          `gorm:"column:to_date;type:varchar(10);not null" json:"to_date"`
	CurrentDay       string                          `gorm:"column:current_day;type:varchar(10)" json:"current_day,omitempty"`
	DayStatuses      datatypes.JSONType[DayStatuses] `gorm:"column:day_statuses" json:"day_statuses"`
	TotalDays        int                             `gorm:"column:total_days;not null;default:0" json:"total_days"`
	CompletedDays    int                             `gorm:"column:completed_days;not null;default:0" json:"completed_days"`
	FailedDays       int                             `gorm:"column:failed_days;not null;default:0" json:"failed_days"`
	TotalOrders      int                             `gorm:"column:total_orders;not null;default:0" json:"total_orders"`
	ProcessedOrders  int                             `gorm:"column:processed_orders;not null;default:0" json:"processed_orders"`
	SuccessfulOrders int                             `gorm:"column:successful_orders;not null;default:0" json:"successful_orders"`
	FailedOrders     int                             `gorm:"column:failed_orders;not null;default:0" json:"failed_orders"`
	SkippedOrders    int                             `gorm:"column:skipped_orders;not null;default:0" json:"skipped_orders"`
	UserID           string                          `gorm:"column:user_id;index" json:"user_id"`
	UserEmail        string                          `gorm:"column:user_email" json:"user_email,omitempty"`
	UserName         string                          `gorm:"column:user_name" json:"user_name,omitempty"`
	EmailSent        bool                            `gorm:"column:email_sent;not null;default:false" json:"email_sent"`
	ErrorMessage     string                          `gorm:"column:error_message" json:"error_message,omitempty"`
	StartedAt        *time.Time                      `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt      *time.Time                      `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt        time.Time                       `gorm:"not null;index" json:"created_at"`
	UpdatedAt        time.Time                       `gorm:"not null;index" json:"updated_at"`
}

func (Job) TableName() string { return "daily_sync_jobs" }

// Days returns a copy of the day map that callers may mutate.
func (j *Job) Days() DayStatuses {
	src := j.DayStatuses.Data()
	out := make(DayStatuses, len(src))
	for date, status := range src {
		out[date] = status
	}
	return out
}

// ApplyDays stores days on the job and recomputes the aggregate counters.
func (j *Job) ApplyDays(days DayStatuses) {
	j.DayStatuses = datatypes.NewJSONType(days)
	j.TotalDays = len(days)
	j.CompletedDays, j.FailedDays = 0, 0
	j.TotalOrders, j.ProcessedOrders, j.SuccessfulOrders, j.FailedOrders, j.SkippedOrders = 0, 0, 0, 0, 0
	for _, day := range days {
		switch day.Status {
		case DayCompleted:
			j.CompletedDays++
		case DayFailed:
			j.FailedDays++
		}
		j.TotalOrders += day.TotalOrders
		j.ProcessedOrders += day.ProcessedOrders
		j.SuccessfulOrders += day.SuccessfulOrders
		j.FailedOrders += day.FailedOrders
		j.SkippedOrders += day.SkippedOrders
	}
}
