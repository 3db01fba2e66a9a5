package model

import (
	"time"
)

type ExecutionStatus string
type TriggerSource string

const (
	ExecutionStatusPending    ExecutionStatus = "pending"
	ExecutionStatusProcessing ExecutionStatus = "processing"
	ExecutionStatusCompleted  ExecutionStatus = "completed"
	ExecutionStatusFailed     ExecutionStatus = "failed"

	TriggerSourceManual TriggerSource = "manual"
	TriggerSourceAPI    TriggerSource = "api"
	TriggerSourceRetry  TriggerSource = "retry"
)

const (
	// EnqueueFailedErrorCode marks a row whose enqueue call failed right after insert.
	EnqueueFailedErrorCode = "ENQUEUE_FAILED"
	// WorkerStoreErrorCode marks a row the worker closed after the store kept failing.
	WorkerStoreErrorCode   = "WORKER_STORE_ERROR"
)

// IsActive reports whether the status still occupies the subject's single in-flight slot.
func (s ExecutionStatus) IsActive() bool {
	return s == ExecutionStatusPending || s == ExecutionStatusProcessing
}

func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

func (t TriggerSource) Valid() bool {
	switch t {
	case TriggerSourceManual, TriggerSourceAPI, TriggerSourceRetry:
		return true
	}
	return false
}

// GammeContext is the optional secondary context of a production subject.
type GammeContext struct {
	Alias string `json:"alias"`
	ID    int64  `json:"id"`
}

// ExecutionLog is one attempt to render a subject. Retries create new rows.
type ExecutionLog struct {
	ID             string          `json:"id"`
	SubjectID      string          `json:"subject_id"`
	Kind           string          `json:"kind"`
	Vertical       string          `json:"vertical"`
	Gamme          *GammeContext   `json:"gamme,omitempty"`
	Status         ExecutionStatus `json:"status"`
	QueueJobHandle *string         `json:"queue_job_handle,omitempty"`
	TriggerSource  TriggerSource   `json:"trigger_source"`
	TriggerHandle  *string         `json:"trigger_handle,omitempty"` // parent attempt's queue handle, retries only
	AttemptNumber  int             `json:"attempt_number"`
	Retryable      bool            `json:"retryable"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Report         RenderReport    `json:"report"`
}

// RenderReport is the reporting-only payload written by the render side.
// The orchestrator copies it around but never reads it.
type RenderReport struct {
	DurationMs       *int64   `json:"duration_ms,omitempty"`
	EngineName       *string  `json:"engine_name,omitempty"`
	EngineResolution *string  `json:"engine_resolution,omitempty"`
	RenderDurationMs *int64   `json:"render_duration_ms,omitempty"`
	QualityScore     *float64 `json:"quality_score,omitempty"`
	QualityFlags     []string `json:"quality_flags,omitempty"`
	OutputURL        *string  `json:"output_url,omitempty"`
	ErrorCode        *string  `json:"error_code,omitempty"`
	ErrorMessage     *string  `json:"error_message,omitempty"`

	IsCanary           bool    `json:"is_canary"`
	CanaryFallback     bool    `json:"canary_fallback"`
	CanaryErrorCode    *string `json:"canary_error_code,omitempty"`
	CanaryErrorMessage *string `json:"canary_error_message,omitempty"`
}

// NewExecution is what Submit and Retry hand to the store; the store assigns ID and CreatedAt.
type NewExecution struct {
	SubjectID     string
	Kind          string
	Vertical      string
	Gamme         *GammeContext
	TriggerSource TriggerSource
	TriggerHandle *string
	AttemptNumber int
}

// StatsRow is the projection of a log row consumed by the stats aggregator.
type StatsRow struct {
	Status           ExecutionStatus
	DurationMs       *int64
	EngineName       *string
	RenderDurationMs *int64
	IsCanary         bool
	CanaryFallback   bool
	CanaryErrorCode  *string
}

// RenderJobPayload is the body enqueued for the render worker.
type RenderJobPayload struct {
	ExecutionID   string        `json:"execution_id"`
	SubjectID     string        `json:"subject_id"`
	Kind          string        `json:"kind"`
	Vertical      string        `json:"vertical"`
	Gamme         *GammeContext `json:"gamme,omitempty"`
	AttemptNumber int           `json:"attempt_number"`
}
