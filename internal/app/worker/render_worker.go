package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"videojobs/internal/common"
	"videojobs/internal/domain/model"
	"videojobs/internal/domain/repository"
	"videojobs/internal/platform/logger"
	"videojobs/internal/platform/queue"
	"videojobs/internal/platform/render"

	"github.com/sirupsen/logrus"
)

type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
	Requeue(ctx context.Context, job *queue.Job) error
	Complete(ctx context.Context, job *queue.Job) error
	Fail(ctx context.Context, job *queue.Job) error
}

type SubjectLocker interface {
	Acquire(ctx context.Context, subjectID string) (func(context.Context) (bool, error), bool, error)
}

type Renderer interface {
	Render(ctx context.Context, job model.RenderJobPayload) (model.RenderReport, error)
}

// RenderWorker consumes render jobs and is the only writer of status transitions.
type RenderWorker struct {
	jobs        JobQueue
	store       repository.ExecutionTransitionStore
	renderer    Renderer
	lock        SubjectLocker
	pollTimeout time.Duration
	busyDelay   time.Duration
}

func NewRenderWorker(jobs JobQueue, store repository.ExecutionTransitionStore, renderer Renderer, lock SubjectLocker) *RenderWorker {
	return &RenderWorker{
		jobs:        jobs,
		store:       store,
		renderer:    renderer,
		lock:        lock,
		pollTimeout: 2 * time.Second,
		busyDelay:   time.Second,
	}
}

func (w *RenderWorker) Start(ctx context.Context) {
	log := logger.Get()
	log.Info("Render worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info("Render worker stopping...")
			return
		default:
		}

		if _, err := w.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			log.WithError(err).Error("Render worker poll failed")
			sleep(ctx, 5*time.Second)
		}
	}
}

// RunOnce waits for one job and handles it. It reports whether a job was taken.
func (w *RenderWorker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.Dequeue(ctx, w.pollTimeout)
	if err != nil {
		if errors.Is(err, queue.ErrJobGone) {
			logger.Get().WithField("job_id", job.ID).Warn("Dequeued job has expired, skipping")
			return true, nil
		}
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.processJobWithLock(ctx, job)
	return true, nil
}

func (w *RenderWorker) processJobWithLock(ctx context.Context, job *queue.Job) {
	var payload model.RenderJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.ExecutionID == "" {
		logger.Get().WithField("job_id", job.ID).WithError(err).Error("Malformed render job payload")
		w.finishJob(ctx, job, false)
		return
	}
	log := logger.Execution(payload.ExecutionID, payload.SubjectID).WithField("job_id", job.ID)

	release, ok, err := w.lock.Acquire(ctx, payload.SubjectID)
	if err != nil || !ok {
		if err != nil {
			log.WithError(err).Error("Subject lock acquisition failed, re-queueing")
		} else {
			log.Info("Subject is locked by another worker, re-queueing")
		}
		if err := w.jobs.Requeue(ctx, job); err != nil {
			log.WithError(err).Error("Failed to re-queue job")
		}
		sleep(ctx, w.busyDelay)
		return
	}
	defer func() {
		released, err := release(context.WithoutCancel(ctx))
		if err != nil {
			log.WithError(err).Error("Failed to release subject lock")
		} else if !released {
			log.Warn("Subject lock expired before release")
		}
	}()

	w.handleJob(ctx, job, payload, log)
}

func (w *RenderWorker) handleJob(ctx context.Context, job *queue.Job, payload model.RenderJobPayload, log *logrus.Entry) {
	row, err := w.store.FindByID(ctx, payload.ExecutionID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			log.Warn("Execution row not found, dropping job")
			w.finishJob(ctx, job, false)
			return
		}
		log.WithError(err).Error("Failed to load execution")
		w.storeFailure(ctx, job, payload.ExecutionID, err, log)
		return
	}

	switch {
	case row.Status.IsTerminal():
		log.WithField("status", row.Status).Info("Execution already finished, acknowledging job")
		w.finishJob(ctx, job, true)
		return
	case row.Status == model.ExecutionStatusPending:
		if err := w.store.MarkProcessing(ctx, row.ID); err != nil {
			if errors.Is(err, repository.ErrStaleTransition) {
				log.Info("Execution moved on before processing, acknowledging job")
				w.finishJob(ctx, job, true)
				return
			}
			log.WithError(err).Error("Failed to mark execution processing")
			w.storeFailure(ctx, job, row.ID, err, log)
			return
		}
	}

	log.WithField("attempt", job.AttemptsMade).Info("Rendering")
	report, renderErr := w.renderer.Render(ctx, payload)
	if renderErr == nil {
		if err := w.store.Complete(ctx, row.ID, report); err != nil {
			if errors.Is(err, repository.ErrStaleTransition) || errors.Is(err, common.ErrNotFound) {
				log.WithError(err).Warn("Execution closed elsewhere during render, acknowledging job")
				w.finishJob(ctx, job, true)
				return
			}
			log.WithError(err).Error("Failed to record completed execution")
			w.storeFailure(ctx, job, row.ID, err, log)
			return
		}
		w.finishJob(ctx, job, true)
		log.Info("Execution completed")
		return
	}

	retryable := true
	var rerr *render.Error
	if errors.As(renderErr, &rerr) {
		retryable = rerr.Retryable
	}
	log = log.WithError(renderErr).WithField("retryable", retryable)

	if retryable && job.HasAttemptsLeft() {
		log.WithField("delay", job.NextDelay()).Warn("Render failed, scheduling redelivery")
		w.redeliver(ctx, job, log)
		return
	}

	if w.failRow(ctx, job, row.ID, report, retryable, log) {
		log.Warn("Execution failed")
	}
}

// storeFailure handles a store error on an execution the worker holds. Once
// attempts run out the row is closed as failed so the subject is freed.
func (w *RenderWorker) storeFailure(ctx context.Context, job *queue.Job, executionID string, cause error, log *logrus.Entry) {
	if job.HasAttemptsLeft() {
		w.redeliver(ctx, job, log)
		return
	}
	code := model.WorkerStoreErrorCode
	message := cause.Error()
	w.failRow(ctx, job, executionID, model.RenderReport{ErrorCode: &code, ErrorMessage: &message}, true, log)
}

// failRow records the terminal failure and then fails the job. The job is
// redelivered instead while the row may still be active.
func (w *RenderWorker) failRow(ctx context.Context, job *queue.Job, executionID string, report model.RenderReport, retryable bool, log *logrus.Entry) bool {
	err := w.store.Fail(ctx, executionID, report, retryable)
	if err != nil && !errors.Is(err, repository.ErrStaleTransition) && !errors.Is(err, common.ErrNotFound) {
		log.WithField("store_error", err.Error()).Error("Failed to record failed execution, redelivering")
		w.redeliver(ctx, job, log)
		return false
	}
	w.finishJob(ctx, job, false)
	return true
}

func (w *RenderWorker) redeliver(ctx context.Context, job *queue.Job, log *logrus.Entry) {
	if err := w.jobs.Retry(ctx, job); err != nil {
		log.WithField("queue_error", err.Error()).Error("Failed to schedule redelivery")
	}
}

func (w *RenderWorker) finishJob(ctx context.Context, job *queue.Job, ok bool) {
	var err error
	if ok {
		err = w.jobs.Complete(ctx, job)
	} else {
		err = w.jobs.Fail(ctx, job)
	}
	if err != nil {
		logger.Get().WithField("job_id", job.ID).WithError(err).Error("Failed to finalize queue job")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
