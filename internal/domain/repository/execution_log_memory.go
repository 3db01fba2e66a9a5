package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"videojobs/internal/common"
	"videojobs/internal/domain/model"

	"github.com/google/uuid"
)

// memoryExecutionLogRepository keeps rows in process memory. Uniqueness of the
// active row per subject is enforced under the same lock as the insert.
type memoryExecutionLogRepository struct {
	mu   sync.RWMutex
	rows map[string]*model.ExecutionLog
	seq  map[string]int64
	next int64
	now  func() time.Time
}

func NewMemoryExecutionLogRepository() ExecutionLogRepository {
	return NewMemoryExecutionLogRepositoryWithClock(func() time.Time { return time.Now().UTC() })
}

func NewMemoryExecutionLogRepositoryWithClock(now func() time.Time) ExecutionLogRepository {
	return &memoryExecutionLogRepository{
		rows: make(map[string]*model.ExecutionLog),
		seq:  make(map[string]int64),
		now:  now,
	}
}

func (r *memoryExecutionLogRepository) Insert(_ context.Context, exec model.NewExecution) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows {
		if row.SubjectID == exec.SubjectID && row.Status.IsActive() {
			return "", ErrActiveExecutionExists
		}
	}

	id := uuid.NewString()
	var gamme *model.GammeContext
	if exec.Gamme != nil {
		g := *exec.Gamme
		gamme = &g
	}
	r.rows[id] = &model.ExecutionLog{
		ID:            id,
		SubjectID:     exec.SubjectID,
		Kind:          exec.Kind,
		Vertical:      exec.Vertical,
		Gamme:         gamme,
		Status:        model.ExecutionStatusPending,
		TriggerSource: exec.TriggerSource,
		TriggerHandle: copyString(exec.TriggerHandle),
		AttemptNumber: exec.AttemptNumber,
		CreatedAt:     r.now(),
	}
	r.next++
	r.seq[id] = r.next
	return id, nil
}

func (r *memoryExecutionLogRepository) UpdateQueueHandle(_ context.Context, id, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return common.ErrNotFound
	}
	row.QueueJobHandle = &handle
	return nil
}

func (r *memoryExecutionLogRepository) FindByID(_ context.Context, id string) (*model.ExecutionLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := cloneLog(row)
	return &c, nil
}

func (r *memoryExecutionLogRepository) FindByQueueHandle(_ context.Context, handle string) (*model.ExecutionLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, row := range r.rows {
		if row.QueueJobHandle != nil && *row.QueueJobHandle == handle {
			c := cloneLog(row)
			return &c, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memoryExecutionLogRepository) FindActiveBySubject(_ context.Context, subjectID string) ([]model.ExecutionLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []model.ExecutionLog{}
	for _, row := range r.rows {
		if row.SubjectID == subjectID && row.Status.IsActive() {
			out = append(out, cloneLog(row))
		}
	}
	return out, nil
}

func (r *memoryExecutionLogRepository) ListBySubject(_ context.Context, subjectID string, limit int) ([]model.ExecutionLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []model.ExecutionLog{}
	for _, row := range r.rows {
		if row.SubjectID == subjectID {
			out = append(out, cloneLog(row))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return r.seq[out[i].ID] > r.seq[out[j].ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryExecutionLogRepository) QueryWindow(_ context.Context, since *time.Time) ([]model.StatsRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []model.StatsRow{}
	for _, row := range r.rows {
		if since != nil && row.CreatedAt.Before(*since) {
			continue
		}
		out = append(out, model.StatsRow{
			Status:           row.Status,
			DurationMs:       row.Report.DurationMs,
			EngineName:       row.Report.EngineName,
			RenderDurationMs: row.Report.RenderDurationMs,
			IsCanary:         row.Report.IsCanary,
			CanaryFallback:   row.Report.CanaryFallback,
			CanaryErrorCode:  row.Report.CanaryErrorCode,
		})
	}
	return out, nil
}

func (r *memoryExecutionLogRepository) MarkEnqueueFailed(_ context.Context, id, handle, message string) error {
	return r.transition(id, model.ExecutionStatusPending, func(row *model.ExecutionLog) {
		now := r.now()
		code := model.EnqueueFailedErrorCode
		if handle != "" {
			row.QueueJobHandle = &handle
		}
		row.Status = model.ExecutionStatusFailed
		row.CompletedAt = &now
		row.Retryable = true
		row.Report.ErrorCode = &code
		row.Report.ErrorMessage = &message
	})
}

func (r *memoryExecutionLogRepository) MarkProcessing(_ context.Context, id string) error {
	return r.transition(id, model.ExecutionStatusPending, func(row *model.ExecutionLog) {
		now := r.now()
		row.Status = model.ExecutionStatusProcessing
		row.StartedAt = &now
	})
}

func (r *memoryExecutionLogRepository) Complete(_ context.Context, id string, report model.RenderReport) error {
	return r.transition(id, model.ExecutionStatusProcessing, func(row *model.ExecutionLog) {
		now := r.now()
		row.Status = model.ExecutionStatusCompleted
		row.CompletedAt = &now
		row.Retryable = false
		row.Report = report
	})
}

func (r *memoryExecutionLogRepository) Fail(_ context.Context, id string, report model.RenderReport, retryable bool) error {
	apply := func(row *model.ExecutionLog) {
		now := r.now()
		row.Status = model.ExecutionStatusFailed
		row.CompletedAt = &now
		row.Retryable = retryable
		row.Report = report
	}
	return r.transitionFrom(id, []model.ExecutionStatus{model.ExecutionStatusPending, model.ExecutionStatusProcessing}, apply)
}

func (r *memoryExecutionLogRepository) transition(id string, from model.ExecutionStatus, apply func(*model.ExecutionLog)) error {
	return r.transitionFrom(id, []model.ExecutionStatus{from}, apply)
}

func (r *memoryExecutionLogRepository) transitionFrom(id string, from []model.ExecutionStatus, apply func(*model.ExecutionLog)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return common.ErrNotFound
	}
	if !slices.Contains(from, row.Status) {
		return ErrStaleTransition
	}
	apply(row)
	return nil
}

func cloneLog(row *model.ExecutionLog) model.ExecutionLog {
	c := *row
	if row.Gamme != nil {
		g := *row.Gamme
		c.Gamme = &g
	}
	c.QueueJobHandle = copyString(row.QueueJobHandle)
	c.TriggerHandle = copyString(row.TriggerHandle)
	if len(row.Report.QualityFlags) > 0 {
		c.Report.QualityFlags = append([]string(nil), row.Report.QualityFlags...)
	}
	return c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
