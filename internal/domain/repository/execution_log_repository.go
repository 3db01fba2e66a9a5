package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"videojobs/internal/common"
	"videojobs/internal/domain/model"

	"github.com/guregu/null/v6"
)

var (
	// ErrActiveExecutionExists is returned by Insert when the subject already holds an in-flight row.
	ErrActiveExecutionExists = fmt.Errorf("active execution already exists for subject: %w", common.ErrConflict)
	// ErrStaleTransition is returned when a status write targets a row not in the expected state.
	ErrStaleTransition = fmt.Errorf("execution is not in the expected state: %w", common.ErrConflict)
)

// ExecutionLogStore is the write/read surface the orchestrator needs.
// Insert must reject a second active row for the same subject atomically.
type ExecutionLogStore interface {
	Insert(ctx context.Context, exec model.NewExecution) (string, error)
	UpdateQueueHandle(ctx context.Context, id, handle string) error
	FindByID(ctx context.Context, id string) (*model.ExecutionLog, error)
	FindByQueueHandle(ctx context.Context, handle string) (*model.ExecutionLog, error)
	FindActiveBySubject(ctx context.Context, subjectID string) ([]model.ExecutionLog, error)
	ListBySubject(ctx context.Context, subjectID string, limit int) ([]model.ExecutionLog, error)
	QueryWindow(ctx context.Context, since *time.Time) ([]model.StatsRow, error)
	// MarkEnqueueFailed closes a pending row whose enqueue failed. A non-empty
	// handle is stored with the failure.
	MarkEnqueueFailed(ctx context.Context, id, handle, message string) error
}

// ExecutionTransitionStore is the worker's privileged status path. Complete
// applies to processing rows; Fail applies to any active row.
type ExecutionTransitionStore interface {
	FindByID(ctx context.Context, id string) (*model.ExecutionLog, error)
	MarkProcessing(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, report model.RenderReport) error
	Fail(ctx context.Context, id string, report model.RenderReport, retryable bool) error
}

type ExecutionLogRepository interface {
	ExecutionLogStore
	ExecutionTransitionStore
}

type executionLogRow struct {
	ID                 string      `db:"id"`
	SubjectID          string      `db:"subject_id"`
	Kind               string      `db:"kind"`
	Vertical           string      `db:"vertical"`
	GammeAlias         null.String `db:"gamme_alias"`
	GammeID            null.Int    `db:"gamme_id"`
	Status             string      `db:"status"`
	QueueJobHandle     null.String `db:"queue_job_handle"`
	TriggerSource      string      `db:"trigger_source"`
	TriggerHandle      null.String `db:"trigger_handle"`
	AttemptNumber      int         `db:"attempt_number"`
	Retryable          bool        `db:"retryable"`
	CreatedAt          time.Time   `db:"created_at"`
	StartedAt          null.Time   `db:"started_at"`
	CompletedAt        null.Time   `db:"completed_at"`
	DurationMs         null.Int    `db:"duration_ms"`
	EngineName         null.String `db:"engine_name"`
	EngineResolution   null.String `db:"engine_resolution"`
	RenderDurationMs   null.Int    `db:"render_duration_ms"`
	QualityScore       null.Float  `db:"quality_score"`
	QualityFlags       null.String `db:"quality_flags"`
	OutputURL          null.String `db:"output_url"`
	ErrorCode          null.String `db:"error_code"`
	ErrorMessage       null.String `db:"error_message"`
	IsCanary           bool        `db:"is_canary"`
	CanaryFallback     bool        `db:"canary_fallback"`
	CanaryErrorCode    null.String `db:"canary_error_code"`
	CanaryErrorMessage null.String `db:"canary_error_message"`
}

type statsRow struct {
	Status           string      `db:"status"`
	DurationMs       null.Int    `db:"duration_ms"`
	EngineName       null.String `db:"engine_name"`
	RenderDurationMs null.Int    `db:"render_duration_ms"`
	IsCanary         bool        `db:"is_canary"`
	CanaryFallback   bool        `db:"canary_fallback"`
	CanaryErrorCode  null.String `db:"canary_error_code"`
}

func (r executionLogRow) toModel() model.ExecutionLog {
	log := model.ExecutionLog{
		ID:             r.ID,
		SubjectID:      r.SubjectID,
		Kind:           r.Kind,
		Vertical:       r.Vertical,
		Status:         model.ExecutionStatus(r.Status),
		QueueJobHandle: r.QueueJobHandle.Ptr(),
		TriggerSource:  model.TriggerSource(r.TriggerSource),
		TriggerHandle:  r.TriggerHandle.Ptr(),
		AttemptNumber:  r.AttemptNumber,
		Retryable:      r.Retryable,
		CreatedAt:      r.CreatedAt,
		StartedAt:      r.StartedAt.Ptr(),
		CompletedAt:    r.CompletedAt.Ptr(),
		Report: model.RenderReport{
			DurationMs:         r.DurationMs.Ptr(),
			EngineName:         r.EngineName.Ptr(),
			EngineResolution:   r.EngineResolution.Ptr(),
			RenderDurationMs:   r.RenderDurationMs.Ptr(),
			QualityScore:       r.QualityScore.Ptr(),
			OutputURL:          r.OutputURL.Ptr(),
			ErrorCode:          r.ErrorCode.Ptr(),
			ErrorMessage:       r.ErrorMessage.Ptr(),
			IsCanary:           r.IsCanary,
			CanaryFallback:     r.CanaryFallback,
			CanaryErrorCode:    r.CanaryErrorCode.Ptr(),
			CanaryErrorMessage: r.CanaryErrorMessage.Ptr(),
		},
	}
	if r.GammeAlias.Valid || r.GammeID.Valid {
		log.Gamme = &model.GammeContext{Alias: r.GammeAlias.String, ID: r.GammeID.Int64}
	}
	if r.QualityFlags.Valid && r.QualityFlags.String != "" {
		var flags []string
		if err := json.Unmarshal([]byte(r.QualityFlags.String), &flags); err == nil {
			log.Report.QualityFlags = flags
		}
	}
	return log
}

func (r statsRow) toModel() model.StatsRow {
	return model.StatsRow{
		Status:           model.ExecutionStatus(r.Status),
		DurationMs:       r.DurationMs.Ptr(),
		EngineName:       r.EngineName.Ptr(),
		RenderDurationMs: r.RenderDurationMs.Ptr(),
		IsCanary:         r.IsCanary,
		CanaryFallback:   r.CanaryFallback,
		CanaryErrorCode:  r.CanaryErrorCode.Ptr(),
	}
}

// reportColumns flattens a report into the nullable column values written on terminal transitions.
func reportColumns(report model.RenderReport) []interface{} {
	flags := null.String{}
	if len(report.QualityFlags) > 0 {
		if b, err := json.Marshal(report.QualityFlags); err == nil {
			flags = null.StringFrom(string(b))
		}
	}
	return []interface{}{
		null.IntFromPtr(report.DurationMs),
		null.StringFromPtr(report.EngineName),
		null.StringFromPtr(report.EngineResolution),
		null.IntFromPtr(report.RenderDurationMs),
		null.FloatFromPtr(report.QualityScore),
		flags,
		null.StringFromPtr(report.OutputURL),
		null.StringFromPtr(report.ErrorCode),
		null.StringFromPtr(report.ErrorMessage),
		report.IsCanary,
		report.CanaryFallback,
		null.StringFromPtr(report.CanaryErrorCode),
		null.StringFromPtr(report.CanaryErrorMessage),
	}
}
