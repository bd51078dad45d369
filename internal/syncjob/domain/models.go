package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Halted reports whether forward progress must stop without a continuation.
func (s Status) Halted() bool {
	return s == StatusPaused || s == StatusCancelled
}

// Job is one aggregated sync attempt over a date range or explicit order set.
type Job struct {
	ID                   string                      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Status               Status                      `gorm:"type:varchar(16);not null;index" json:"status"`
	FromDate             string                      `gorm:"column:from_date;type:varchar(10)" json:"from_date,omitempty"`
	ToDate               string                      `gorm:"column:to_date;type:varchar(10)" json:"to_date,omitempty"`
	SelectedOrderNumbers datatypes.JSONSlice[string] `gorm:"column:selected_order_numbers" json:"selected_order_numbers,omitempty"`
	TotalOrders          int                         `gorm:"column:total_orders;not null;default:0" json:"total_orders"`
	ProcessedOrders      int                         `gorm:"column:processed_orders;not null;default:0" json:"processed_orders"`
	SuccessfulOrders     int                         `gorm:"column:successful_orders;not null;default:0" json:"successful_orders"`
	FailedOrders         int                         `gorm:"column:failed_orders;not null;default:0" json:"failed_orders"`
	SkippedOrders        int                         `gorm:"column:skipped_orders;not null;default:0" json:"skipped_orders"`
	CurrentOrderNumber   string                      `gorm:"column:current_order_number" json:"current_order_number,omitempty"`
	UserID               string                      `gorm:"column:user_id;index" json:"user_id"`
	UserEmail            string                      `gorm:"column:user_email" json:"user_email,omitempty"`
	UserName             string                      `gorm:"column:user_name" json:"user_name,omitempty"`
	ParentDailyJobID     string                      `gorm:"column:parent_daily_job_id;index" json:"parent_daily_job_id,omitempty"`
	SuppressEmail        bool                        `gorm:"column:suppress_email;not null;default:false" json:"suppress_email"`
	EmailSent            bool                        `gorm:"column:email_sent;not null;default:false" json:"email_sent"`
	ErrorMessage         string                      `gorm:"column:error_message" json:"error_message,omitempty"`
	StartedAt            *time.Time                  `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt          *time.Time                  `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt            time.Time                   `gorm:"not null;index" json:"created_at"`
	UpdatedAt            time.Time                   `gorm:"not null;index" json:"updated_at"`
}

func (Job) TableName() string { return "aggregated_sync_jobs" }

// Counters is the progress snapshot persisted after each invoice.
// Processed always equals Successful + Failed + Skipped.
type Counters struct {
	Processed  int `json:"processed_orders"`
	Successful int `json:"successful_orders"`
	Failed     int `json:"failed_orders"`
	Skipped    int `json:"skipped_orders"`
}

func (j *Job) Counters() Counters {
	return Counters{
		Processed:  j.ProcessedOrders,
		Successful: j.SuccessfulOrders,
		Failed:     j.FailedOrders,
		Skipped:    j.SkippedOrders,
	}
}

const SyncTypeAggregated = "aggregated"

// Run is the audit record of one job execution.
type Run struct {
	ID               string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	JobID            string     `gorm:"column:job_id;type:varchar(36);not null;index" json:"job_id"`
	SyncType         string     `gorm:"column:sync_type;type:varchar(32);not null" json:"sync_type"`
	Status           Status     `gorm:"type:varchar(16);not null" json:"status"`
	TotalOrders      int        `gorm:"column:total_orders;not null;default:0" json:"total_orders"`
	SuccessfulOrders int        `gorm:"column:successful_orders;not null;default:0" json:"successful_orders"`
	FailedOrders     int        `gorm:"column:failed_orders;not null;default:0" json:"failed_orders"`
	SkippedOrders    int        `gorm:"column:skipped_orders;not null;default:0" json:"skipped_orders"`
	TriggeredBy      string     `gorm:"column:triggered_by" json:"triggered_by,omitempty"`
	ErrorMessage     string     `gorm:"column:error_message" json:"error_message,omitempty"`
	StartedAt        time.Time  `gorm:"column:started_at;not null" json:"started_at"`
	CompletedAt      *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	DurationMs       int64      `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
}

func (Run) TableName() string { return "sync_runs" }

const (
	StepSuccess = "success"
	StepFailed  = "failed"
	StepSkipped = "skipped"
)

const (
	DetailSuccess = "success"
	DetailFailed  = "failed"
	DetailSkipped = "skipped"
)

// RunDetail is the append-only per-invoice outcome row.
type RunDetail struct {
	ID                   snowflake.ID                `gorm:"primaryKey;autoIncrement:false" json:"id"`
	RunID                string                      `gorm:"column:run_id;type:varchar(36);not null;index" json:"run_id"`
	JobID                string                      `gorm:"column:job_id;type:varchar(36);not null;index" json:"job_id"`
	InvoiceNumber        string                      `gorm:"column:invoice_number;not null" json:"invoice_number"`
	InvoiceKey           string                      `gorm:"column:invoice_key;not null" json:"invoice_key"`
	OriginalOrderNumbers datatypes.JSONSlice[string] `gorm:"column:original_order_numbers" json:"original_order_numbers"`
	LineCount            int                         `gorm:"column:line_count;not null;default:0" json:"line_count"`
	TotalAmount          decimal.Decimal             `gorm:"column:total_amount;type:numeric(18,4);not null;default:0" json:"total_amount"`
	CustomerStep         string                      `gorm:"column:customer_step" json:"customer_step"`
	BrandStep            string                      `gorm:"column:brand_step" json:"brand_step"`
	ProductStep          string                      `gorm:"column:product_step" json:"product_step"`
	OrderStep            string                      `gorm:"column:order_step" json:"order_step"`
	PurchaseStep         string                      `gorm:"column:purchase_step" json:"purchase_step"`
	Status               string                      `gorm:"column:status;type:varchar(16);not null" json:"status"`
	ErrorMessage         string                      `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt            time.Time                   `gorm:"not null" json:"created_at"`
}

func (RunDetail) TableName() string { return "sync_run_details" }
