package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"videojobs/internal/common"
	"videojobs/internal/domain/model"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	"github.com/jmoiron/sqlx"
)

const executionLogColumns = `id, subject_id, kind, vertical, gamme_alias, gamme_id, status, queue_job_handle,
	trigger_source, trigger_handle, attempt_number, retryable, created_at, started_at, completed_at,
	duration_ms, engine_name, engine_resolution, render_duration_ms, quality_score, quality_flags,
	output_url, error_code, error_message, is_canary, canary_fallback, canary_error_code, canary_error_message`

// sqlExecutionLogRepository serves both Postgres (pgx) and SQLite; queries are
// written with ? placeholders and rebound for the driver.
type sqlExecutionLogRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewSQLExecutionLogRepository(db *sqlx.DB) ExecutionLogRepository {
	return &sqlExecutionLogRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *sqlExecutionLogRepository) Insert(ctx context.Context, exec model.NewExecution) (string, error) {
	id := uuid.NewString()
	var alias null.String
	var gammeID null.Int
	if exec.Gamme != nil {
		alias = null.StringFrom(exec.Gamme.Alias)
		gammeID = null.IntFrom(exec.Gamme.ID)
	}
	query := r.db.Rebind(`INSERT INTO execution_logs
		(id, subject_id, kind, vertical, gamme_alias, gamme_id, status, trigger_source, trigger_handle,
		 attempt_number, retryable, created_at, is_canary, canary_fallback)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		id, exec.SubjectID, exec.Kind, exec.Vertical, alias, gammeID,
		string(model.ExecutionStatusPending), string(exec.TriggerSource), null.StringFromPtr(exec.TriggerHandle),
		exec.AttemptNumber, false, r.now(), false, false,
	)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return "", ErrActiveExecutionExists
		}
		return "", fmt.Errorf("sqlExecutionLogRepository.Insert: %w", err)
	}
	return id, nil
}

func (r *sqlExecutionLogRepository) UpdateQueueHandle(ctx context.Context, id, handle string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE execution_logs SET queue_job_handle = ? WHERE id = ?`), handle, id)
	if err != nil {
		return fmt.Errorf("sqlExecutionLogRepository.UpdateQueueHandle: %w", err)
	}
	return requireAffected(res, common.ErrNotFound)
}

func (r *sqlExecutionLogRepository) FindByID(ctx context.Context, id string) (*model.ExecutionLog, error) {
	return r.findOne(ctx, "id", id)
}

func (r *sqlExecutionLogRepository) FindByQueueHandle(ctx context.Context, handle string) (*model.ExecutionLog, error) {
	return r.findOne(ctx, "queue_job_handle", handle)
}

func (r *sqlExecutionLogRepository) findOne(ctx context.Context, column, value string) (*model.ExecutionLog, error) {
	var row executionLogRow
	query := r.db.Rebind(`SELECT ` + executionLogColumns + ` FROM execution_logs WHERE ` + column + ` = ?`)
	if err := r.db.GetContext(ctx, &row, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("sqlExecutionLogRepository.findOne(%s): %w", column, err)
	}
	log := row.toModel()
	return &log, nil
}

func (r *sqlExecutionLogRepository) FindActiveBySubject(ctx context.Context, subjectID string) ([]model.ExecutionLog, error) {
	query := r.db.Rebind(`SELECT ` + executionLogColumns + ` FROM execution_logs
		WHERE subject_id = ? AND status IN ('pending', 'processing')`)
	return r.selectLogs(ctx, query, subjectID)
}

func (r *sqlExecutionLogRepository) ListBySubject(ctx context.Context, subjectID string, limit int) ([]model.ExecutionLog, error) {
	query := r.db.Rebind(`SELECT ` + executionLogColumns + ` FROM execution_logs
		WHERE subject_id = ? ORDER BY created_at DESC, attempt_number DESC LIMIT ?`)
	return r.selectLogs(ctx, query, subjectID, limit)
}

func (r *sqlExecutionLogRepository) selectLogs(ctx context.Context, query string, args ...interface{}) ([]model.ExecutionLog, error) {
	rows := []executionLogRow{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("sqlExecutionLogRepository.selectLogs: %w", err)
	}
	logs := make([]model.ExecutionLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, row.toModel())
	}
	return logs, nil
}

func (r *sqlExecutionLogRepository) QueryWindow(ctx context.Context, since *time.Time) ([]model.StatsRow, error) {
	query := `SELECT status, duration_ms, engine_name, render_duration_ms, is_canary, canary_fallback, canary_error_code
		FROM execution_logs`
	var args []interface{}
	if since != nil {
		query += ` WHERE created_at >= ?`
		args = append(args, since.UTC())
	}
	rows := []statsRow{}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("sqlExecutionLogRepository.QueryWindow: %w", err)
	}
	out := make([]model.StatsRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (r *sqlExecutionLogRepository) MarkEnqueueFailed(ctx context.Context, id, handle, message string) error {
	query := r.db.Rebind(`UPDATE execution_logs
		SET status = ?, completed_at = ?, error_code = ?, error_message = ?, retryable = ?,
		    queue_job_handle = COALESCE(?, queue_job_handle)
		WHERE id = ? AND status = ?`)
	res, err := r.db.ExecContext(ctx, query,
		string(model.ExecutionStatusFailed), r.now(), model.EnqueueFailedErrorCode, message, true,
		null.NewString(handle, handle != ""), id, string(model.ExecutionStatusPending))
	if err != nil {
		return fmt.Errorf("sqlExecutionLogRepository.MarkEnqueueFailed: %w", err)
	}
	return r.transitionResult(ctx, res, id)
}

func (r *sqlExecutionLogRepository) MarkProcessing(ctx context.Context, id string) error {
	query := r.db.Rebind(`UPDATE execution_logs SET status = ?, started_at = ? WHERE id = ? AND status = ?`)
	res, err := r.db.ExecContext(ctx, query,
		string(model.ExecutionStatusProcessing), r.now(), id, string(model.ExecutionStatusPending))
	if err != nil {
		return fmt.Errorf("sqlExecutionLogRepository.MarkProcessing: %w", err)
	}
	return r.transitionResult(ctx, res, id)
}

func (r *sqlExecutionLogRepository) Complete(ctx context.Context, id string, report model.RenderReport) error {
	return r.finish(ctx, id, model.ExecutionStatusCompleted, report, false, model.ExecutionStatusProcessing)
}

func (r *sqlExecutionLogRepository) Fail(ctx context.Context, id string, report model.RenderReport, retryable bool) error {
	return r.finish(ctx, id, model.ExecutionStatusFailed, report, retryable,
		model.ExecutionStatusPending, model.ExecutionStatusProcessing)
}

func (r *sqlExecutionLogRepository) finish(ctx context.Context, id string, status model.ExecutionStatus, report model.RenderReport, retryable bool, from ...model.ExecutionStatus) error {
	query := r.db.Rebind(`UPDATE execution_logs SET status = ?, completed_at = ?, retryable = ?,
		duration_ms = ?, engine_name = ?, engine_resolution = ?, render_duration_ms = ?, quality_score = ?,
		quality_flags = ?, output_url = ?, error_code = ?, error_message = ?,
		is_canary = ?, canary_fallback = ?, canary_error_code = ?, canary_error_message = ?
		WHERE id = ? AND status IN (?` + strings.Repeat(", ?", len(from)-1) + `)`)
	args := []interface{}{string(status), r.now(), retryable}
	args = append(args, reportColumns(report)...)
	args = append(args, id)
	for _, s := range from {
		args = append(args, string(s))
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlExecutionLogRepository.finish(%s): %w", status, err)
	}
	return r.transitionResult(ctx, res, id)
}

// transitionResult tells a missing row apart from a row in the wrong state.
func (r *sqlExecutionLogRepository) transitionResult(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return ErrStaleTransition
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
