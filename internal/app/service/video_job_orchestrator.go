package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"videojobs/internal/app/stats"
	"videojobs/internal/common"
	"videojobs/internal/domain/model"
	"videojobs/internal/domain/repository"
	"videojobs/internal/platform/logger"
	"videojobs/internal/platform/queue"

	pkgerrors "github.com/pkg/errors"
)

const (
	jobIDPrefix     = "exec-"
	maxListLimit    = 100
	maxLineageDepth = 1000
)

type JobQueueClient interface {
	Enqueue(ctx context.Context, jobName string, payload interface{}, opts queue.EnqueueOptions) (string, error)
}

type ProductionCatalog interface {
	Resolve(ctx context.Context, subjectID string) (*model.Subject, error)
}

type RenderEngineAdapter interface {
	CanaryPolicySnapshot(ctx context.Context) (model.CanaryPolicySnapshot, error)
}

type FeatureGate interface {
	Enabled(ctx context.Context) bool
}

// JobOptions are the queue settings applied to every render job.
type JobOptions struct {
	JobName          string
	Attempts         int
	Backoff          queue.Backoff
	Retention        queue.Retention
	DefaultListLimit int
}

type SubmitResult struct {
	ExecutionID    string `json:"execution_id"`
	QueueJobHandle string `json:"queue_job_handle"`
}

// VideoJobOrchestrator owns execution lineage. It only inserts rows and reads
// them back; status transitions belong to the render worker.
type VideoJobOrchestrator struct {
	store   repository.ExecutionLogStore
	queue   JobQueueClient
	catalog ProductionCatalog
	render  RenderEngineAdapter
	gate    FeatureGate
	opts    JobOptions
	now     func() time.Time
}

func NewVideoJobOrchestrator(
	store repository.ExecutionLogStore,
	jobQueue JobQueueClient,
	catalog ProductionCatalog,
	render RenderEngineAdapter,
	gate FeatureGate,
	opts JobOptions,
) *VideoJobOrchestrator {
	if opts.DefaultListLimit <= 0 {
		opts.DefaultListLimit = 20
	}
	return &VideoJobOrchestrator{
		store:   store,
		queue:   jobQueue,
		catalog: catalog,
		render:  render,
		gate:    gate,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// JobIDFor derives the queue job id from an execution id.
func JobIDFor(executionID string) string {
	return jobIDPrefix + executionID
}

func (o *VideoJobOrchestrator) Submit(ctx context.Context, subjectID string, trigger model.TriggerSource) (*SubmitResult, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, common.NewValidation("subject_id is required")
	}
	if !trigger.Valid() || trigger == model.TriggerSourceRetry {
		return nil, common.NewValidation("trigger_source must be manual or api")
	}

	if !o.gate.Enabled(ctx) {
		return nil, common.NewPipelineDisabled()
	}

	subject, err := o.catalog.Resolve(ctx, subjectID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewSubjectNotFound(subjectID)
		}
		return nil, pkgerrors.Wrapf(err, "resolve subject %s", subjectID)
	}

	if err := o.ensureNoActive(ctx, subjectID); err != nil {
		return nil, err
	}

	return o.insertAndEnqueue(ctx, model.NewExecution{
		SubjectID:     subjectID,
		Kind:          subject.Kind,
		Vertical:      subject.Vertical,
		Gamme:         subject.Gamme,
		TriggerSource: trigger,
		AttemptNumber: 1,
	})
}

func (o *VideoJobOrchestrator) Retry(ctx context.Context, executionID string) (*SubmitResult, error) {
	original, err := o.store.FindByID(ctx, executionID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewNotFound("execution", executionID)
		}
		return nil, pkgerrors.Wrapf(err, "load execution %s", executionID)
	}

	if original.Status != model.ExecutionStatusFailed {
		return nil, common.NewInvalidStateTransition(executionID, string(model.ExecutionStatusFailed), string(original.Status))
	}
	if !original.Retryable {
		code := "UNKNOWN"
		if original.Report.ErrorCode != nil {
			code = *original.Report.ErrorCode
		}
		return nil, common.NewNonRetryable(executionID, code)
	}
	if err := o.ensureNoActive(ctx, original.SubjectID); err != nil {
		return nil, err
	}
	if !o.gate.Enabled(ctx) {
		return nil, common.NewPipelineDisabled()
	}

	return o.insertAndEnqueue(ctx, model.NewExecution{
		SubjectID:     original.SubjectID,
		Kind:          original.Kind,
		Vertical:      original.Vertical,
		Gamme:         original.Gamme,
		TriggerSource: model.TriggerSourceRetry,
		TriggerHandle: original.QueueJobHandle,
		AttemptNumber: original.AttemptNumber + 1,
	})
}

func (o *VideoJobOrchestrator) ensureNoActive(ctx context.Context, subjectID string) error {
	active, err := o.store.FindActiveBySubject(ctx, subjectID)
	if err != nil {
		return pkgerrors.Wrapf(err, "check active executions for %s", subjectID)
	}
	if len(active) > 0 {
		return common.NewActiveJobConflict(subjectID, active[0].ID)
	}
	return nil
}

// insertAndEnqueue writes the pending row and hands it to the queue. If the
// queue side fails the row is closed as failed so it never stays pending
// without a handle.
func (o *VideoJobOrchestrator) insertAndEnqueue(ctx context.Context, exec model.NewExecution) (*SubmitResult, error) {
	id, err := o.store.Insert(ctx, exec)
	if err != nil {
		if errors.Is(err, repository.ErrActiveExecutionExists) {
			return nil, o.conflictFromStore(ctx, exec.SubjectID)
		}
		return nil, pkgerrors.Wrap(err, "insert execution log")
	}
	log := logger.Execution(id, exec.SubjectID)

	payload := model.RenderJobPayload{
		ExecutionID:   id,
		SubjectID:     exec.SubjectID,
		Kind:          exec.Kind,
		Vertical:      exec.Vertical,
		Gamme:         exec.Gamme,
		AttemptNumber: exec.AttemptNumber,
	}
	handle, err := o.queue.Enqueue(ctx, o.opts.JobName, payload, queue.EnqueueOptions{
		JobID:     JobIDFor(id),
		Attempts:  o.opts.Attempts,
		Backoff:   o.opts.Backoff,
		Retention: o.opts.Retention,
	})
	if err != nil {
		o.compensate(ctx, id, "", err)
		return nil, pkgerrors.Wrapf(err, "enqueue execution %s", id)
	}

	if err := o.store.UpdateQueueHandle(ctx, id, handle); err != nil {
		o.compensate(ctx, id, handle, err)
		return nil, pkgerrors.Wrapf(err, "persist queue handle for %s", id)
	}

	log.WithField("queue_job_handle", handle).
		WithField("attempt_number", exec.AttemptNumber).
		WithField("trigger_source", exec.TriggerSource).
		Info("Execution enqueued")
	return &SubmitResult{ExecutionID: id, QueueJobHandle: handle}, nil
}

// compensate closes a row whose enqueue did not go through. It runs detached
// from ctx because the enqueue error is often ctx's own cancellation. A known
// handle is kept so retries of the row still link back to it.
func (o *VideoJobOrchestrator) compensate(ctx context.Context, id, handle string, cause error) {
	log := logger.Get().WithField("execution_id", id).WithError(cause)
	if err := o.store.MarkEnqueueFailed(context.WithoutCancel(ctx), id, handle, cause.Error()); err != nil {
		log.WithField("mark_error", err.Error()).Error("Could not mark execution failed after enqueue error")
		return
	}
	log.Warn("Execution marked failed after enqueue error")
}

// conflictFromStore reports the row that won a race detected by the store's unique index.
func (o *VideoJobOrchestrator) conflictFromStore(ctx context.Context, subjectID string) error {
	active, err := o.store.FindActiveBySubject(ctx, subjectID)
	if err != nil || len(active) == 0 {
		return common.NewActiveJobConflict(subjectID, "")
	}
	return common.NewActiveJobConflict(subjectID, active[0].ID)
}

// GetStatus returns the stored row. Any store failure is reported as NotFound.
func (o *VideoJobOrchestrator) GetStatus(ctx context.Context, executionID string) (*model.ExecutionLog, error) {
	row, err := o.store.FindByID(ctx, executionID)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			logger.Get().WithError(err).WithField("execution_id", executionID).Warn("Status lookup failed")
		}
		return nil, common.NewNotFound("execution", executionID)
	}
	return row, nil
}

// List returns a subject's executions, newest first. Store errors yield an empty list.
func (o *VideoJobOrchestrator) List(ctx context.Context, subjectID string, limit int) []model.ExecutionLog {
	if limit <= 0 {
		limit = o.opts.DefaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := o.store.ListBySubject(ctx, subjectID, limit)
	if err != nil {
		logger.Get().WithError(err).WithField("subject_id", subjectID).Warn("Listing executions failed")
		return []model.ExecutionLog{}
	}
	return rows
}

// Lineage walks trigger handles back from executionID and returns the chain oldest first.
func (o *VideoJobOrchestrator) Lineage(ctx context.Context, executionID string) ([]model.ExecutionLog, error) {
	current, err := o.GetStatus(ctx, executionID)
	if err != nil {
		return nil, err
	}
	chain := []model.ExecutionLog{*current}
	seen := map[string]bool{current.ID: true}

	for current.TriggerHandle != nil && len(chain) < maxLineageDepth {
		parent, err := o.store.FindByQueueHandle(ctx, *current.TriggerHandle)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				break
			}
			return nil, pkgerrors.Wrapf(err, "load parent of %s", current.ID)
		}
		if seen[parent.ID] {
			break
		}
		seen[parent.ID] = true
		chain = append(chain, *parent)
		current = parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func ParseWindow(raw string) (model.StatsWindow, error) {
	switch model.StatsWindow(raw) {
	case model.StatsWindow24h, model.StatsWindow7d, model.StatsWindowAll:
		return model.StatsWindow(raw), nil
	case "":
		return model.StatsWindowAll, nil
	}
	return "", common.NewValidation("window must be one of 24h, 7d, all")
}

func (o *VideoJobOrchestrator) Stats(ctx context.Context, window model.StatsWindow) (model.ExecutionStats, error) {
	var since *time.Time
	switch window {
	case model.StatsWindow24h:
		t := o.now().Add(-24 * time.Hour)
		since = &t
	case model.StatsWindow7d:
		t := o.now().Add(-7 * 24 * time.Hour)
		since = &t
	case model.StatsWindowAll:
	default:
		return model.ExecutionStats{}, common.NewValidation("window must be one of 24h, 7d, all")
	}

	rows, err := o.store.QueryWindow(ctx, since)
	if err != nil {
		return model.ExecutionStats{}, pkgerrors.Wrap(err, "query stats window")
	}
	return stats.Aggregate(window, rows), nil
}

func (o *VideoJobOrchestrator) GetCanaryPolicy(ctx context.Context) (model.CanaryPolicySnapshot, error) {
	snap, err := o.render.CanaryPolicySnapshot(ctx)
	if err != nil {
		return model.CanaryPolicySnapshot{}, pkgerrors.Wrap(err, "canary policy snapshot")
	}
	return snap, nil
}
