package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"videojobs/internal/domain/model"
	"videojobs/internal/domain/repository"
	"videojobs/internal/platform/queue"
	"videojobs/internal/platform/render"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRenderer struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (r *scriptedRenderer) Render(_ context.Context, job model.RenderJobPayload) (model.RenderReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.calls < len(r.results) {
		err = r.results[r.calls]
	}
	r.calls++
	engine := "standard"
	duration := int64(1200)
	report := model.RenderReport{EngineName: &engine, DurationMs: &duration, RenderDurationMs: &duration}
	if err != nil {
		code := err.(*render.Error).Code
		report.ErrorCode = &code
	}
	return report, err
}

type workerFixture struct {
	worker   *RenderWorker
	store    repository.ExecutionLogRepository
	jobs     *queue.RedisJobQueue
	lock     *queue.SubjectLock
	renderer *scriptedRenderer
}

func newWorkerFixture(t *testing.T, results ...error) *workerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := repository.NewMemoryExecutionLogRepository()
	jobs := queue.NewRedisJobQueue(rdb, "render")
	lock := queue.NewSubjectLock(rdb, "lock:", time.Minute)
	renderer := &scriptedRenderer{results: results}
	w := NewRenderWorker(jobs, store, renderer, lock)
	w.pollTimeout = time.Second
	w.busyDelay = 0
	return &workerFixture{worker: w, store: store, jobs: jobs, lock: lock, renderer: renderer}
}

func (f *workerFixture) submit(t *testing.T, attempts int) string {
	t.Helper()
	ctx := context.Background()
	id, err := f.store.Insert(ctx, model.NewExecution{
		SubjectID: "brief-001", Kind: "brief", Vertical: "auto",
		TriggerSource: model.TriggerSourceManual, AttemptNumber: 1,
	})
	require.NoError(t, err)
	handle, err := f.jobs.Enqueue(ctx, "video-render",
		model.RenderJobPayload{ExecutionID: id, SubjectID: "brief-001", Kind: "brief", Vertical: "auto", AttemptNumber: 1},
		queue.EnqueueOptions{JobID: "exec-" + id, Attempts: attempts, Backoff: queue.Backoff{Type: queue.BackoffFixed, Delay: time.Millisecond}},
	)
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateQueueHandle(ctx, id, handle))
	return id
}

var errConnReset = errors.New("read tcp 10.0.0.4:5432: connection reset by peer")

// flakyStore fails selected transition calls while the underlying store stays intact.
type flakyStore struct {
	repository.ExecutionLogRepository
	mu      sync.Mutex
	failing map[string]bool
}

func (s *flakyStore) fail(ops ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		s.failing[op] = true
	}
}

func (s *flakyStore) heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = map[string]bool{}
}

func (s *flakyStore) check(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing[op] {
		return errConnReset
	}
	return nil
}

func (s *flakyStore) FindByID(ctx context.Context, id string) (*model.ExecutionLog, error) {
	if err := s.check("FindByID"); err != nil {
		return nil, err
	}
	return s.ExecutionLogRepository.FindByID(ctx, id)
}

func (s *flakyStore) MarkProcessing(ctx context.Context, id string) error {
	if err := s.check("MarkProcessing"); err != nil {
		return err
	}
	return s.ExecutionLogRepository.MarkProcessing(ctx, id)
}

func (s *flakyStore) Complete(ctx context.Context, id string, report model.RenderReport) error {
	if err := s.check("Complete"); err != nil {
		return err
	}
	return s.ExecutionLogRepository.Complete(ctx, id, report)
}

func (s *flakyStore) Fail(ctx context.Context, id string, report model.RenderReport, retryable bool) error {
	if err := s.check("Fail"); err != nil {
		return err
	}
	return s.ExecutionLogRepository.Fail(ctx, id, report, retryable)
}

// flaky routes the worker through a flakyStore over the fixture's store.
func (f *workerFixture) flaky() *flakyStore {
	s := &flakyStore{ExecutionLogRepository: f.store, failing: map[string]bool{}}
	f.worker.store = s
	return s
}

func (f *workerFixture) redeliverNow(t *testing.T) {
	t.Helper()
	require.NoError(t, f.jobs.PromoteDelayed(context.Background(), time.Now().Add(time.Minute)))
}

func (f *workerFixture) row(t *testing.T, id string) *model.ExecutionLog {
	t.Helper()
	row, err := f.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return row
}

func (f *workerFixture) jobState(t *testing.T, id string) string {
	t.Helper()
	state, err := f.jobs.State(context.Background(), "exec-"+id)
	require.NoError(t, err)
	return state
}

func TestRenderWorker_CompletesExecution(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.submit(t, 3)

	took, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, took)

	row := f.row(t, id)
	assert.Equal(t, model.ExecutionStatusCompleted, row.Status)
	assert.NotNil(t, row.StartedAt)
	assert.NotNil(t, row.CompletedAt)
	assert.Equal(t, "standard", *row.Report.EngineName)
	assert.Equal(t, "completed", f.jobState(t, id))

	_, ok, err := f.lock.Acquire(context.Background(), "brief-001")
	require.NoError(t, err)
	assert.True(t, ok, "lock must be released after processing")
}

func TestRenderWorker_RetryableErrorIsRedelivered(t *testing.T) {
	f := newWorkerFixture(t, &render.Error{Code: "TIMEOUT", Message: "engine timed out", Retryable: true})
	id := f.submit(t, 3)
	ctx := context.Background()

	_, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusProcessing, f.row(t, id).Status)
	assert.Equal(t, "delayed", f.jobState(t, id))

	require.NoError(t, f.jobs.PromoteDelayed(ctx, time.Now().Add(time.Minute)))
	_, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCompleted, f.row(t, id).Status)
	assert.Equal(t, 2, f.renderer.calls)
}

func TestRenderWorker_NonRetryableErrorFailsRow(t *testing.T) {
	f := newWorkerFixture(t, &render.Error{Code: "BAD_BRIEF", Message: "no scenes", Retryable: false})
	id := f.submit(t, 3)

	_, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)

	row := f.row(t, id)
	assert.Equal(t, model.ExecutionStatusFailed, row.Status)
	assert.False(t, row.Retryable)
	assert.Equal(t, "BAD_BRIEF", *row.Report.ErrorCode)
	assert.Equal(t, "failed", f.jobState(t, id))
}

func TestRenderWorker_LastAttemptFailsRetryable(t *testing.T) {
	f := newWorkerFixture(t, &render.Error{Code: "TIMEOUT", Message: "engine timed out", Retryable: true})
	id := f.submit(t, 1)

	_, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)

	row := f.row(t, id)
	assert.Equal(t, model.ExecutionStatusFailed, row.Status)
	assert.True(t, row.Retryable)
}

func TestRenderWorker_LockedSubjectIsRequeued(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.submit(t, 3)
	ctx := context.Background()

	release, ok, err := f.lock.Acquire(ctx, "brief-001")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusPending, f.row(t, id).Status)
	assert.Equal(t, "waiting", f.jobState(t, id))
	assert.Equal(t, 0, f.renderer.calls)

	_, err = release(ctx)
	require.NoError(t, err)
	_, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCompleted, f.row(t, id).Status)
}

func TestRenderWorker_SkipsFinishedRows(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.submit(t, 3)
	ctx := context.Background()
	require.NoError(t, f.store.MarkEnqueueFailed(ctx, id, "", "queue write timed out"))

	_, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, f.renderer.calls)
	assert.Equal(t, model.ExecutionStatusFailed, f.row(t, id).Status)
	assert.Equal(t, "completed", f.jobState(t, id))
}

func TestRenderWorker_MissingRowDropsJob(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()
	_, err := f.jobs.Enqueue(ctx, "video-render",
		model.RenderJobPayload{ExecutionID: "ghost", SubjectID: "brief-009"},
		queue.EnqueueOptions{JobID: "exec-ghost", Attempts: 3})
	require.NoError(t, err)

	_, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)
	state, err := f.jobs.State(ctx, "exec-ghost")
	require.NoError(t, err)
	assert.Equal(t, "failed", state)
	assert.Equal(t, 0, f.renderer.calls)
}

func TestRenderWorker_IdleQueue(t *testing.T) {
	f := newWorkerFixture(t)

	took, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, took)
}

func TestRenderWorker_StartStopsOnCancel(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.submit(t, 3)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.worker.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		row, err := f.store.FindByID(context.Background(), id)
		return err == nil && row.Status == model.ExecutionStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRenderWorker_StoreErrorWithAttemptsLeftRedelivers(t *testing.T) {
	f := newWorkerFixture(t)
	store := f.flaky()
	store.fail("MarkProcessing")
	id := f.submit(t, 3)
	ctx := context.Background()

	_, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusPending, f.row(t, id).Status)
	assert.Equal(t, "delayed", f.jobState(t, id))
	assert.Equal(t, 0, f.renderer.calls)

	store.heal()
	f.redeliverNow(t)
	_, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCompleted, f.row(t, id).Status)
}

func TestRenderWorker_StoreErrorOnLastAttemptClosesRow(t *testing.T) {
	for _, op := range []string{"FindByID", "MarkProcessing"} {
		t.Run(op, func(t *testing.T) {
			f := newWorkerFixture(t)
			f.flaky().fail(op)
			id := f.submit(t, 1)
			ctx := context.Background()

			_, err := f.worker.RunOnce(ctx)
			require.NoError(t, err)

			row := f.row(t, id)
			assert.Equal(t, model.ExecutionStatusFailed, row.Status)
			assert.True(t, row.Retryable)
			require.NotNil(t, row.Report.ErrorCode)
			assert.Equal(t, model.WorkerStoreErrorCode, *row.Report.ErrorCode)
			assert.Contains(t, *row.Report.ErrorMessage, "connection reset")
			assert.Equal(t, "failed", f.jobState(t, id))

			active, err := f.store.FindActiveBySubject(ctx, "brief-001")
			require.NoError(t, err)
			assert.Empty(t, active)
		})
	}
}

func TestRenderWorker_CompleteErrorRedeliversUntilRecorded(t *testing.T) {
	f := newWorkerFixture(t)
	store := f.flaky()
	store.fail("Complete", "Fail")
	id := f.submit(t, 1)
	ctx := context.Background()

	_, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusProcessing, f.row(t, id).Status)
	assert.Equal(t, "delayed", f.jobState(t, id))

	store.heal()
	f.redeliverNow(t)
	_, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCompleted, f.row(t, id).Status)
	assert.Equal(t, "completed", f.jobState(t, id))
	assert.Equal(t, 2, f.renderer.calls)
}

func TestRenderWorker_FailWriteErrorRedelivers(t *testing.T) {
	badBrief := &render.Error{Code: "BAD_BRIEF", Message: "no scenes", Retryable: false}
	f := newWorkerFixture(t, badBrief, badBrief)
	store := f.flaky()
	store.fail("Fail")
	id := f.submit(t, 3)
	ctx := context.Background()

	_, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusProcessing, f.row(t, id).Status)
	assert.Equal(t, "delayed", f.jobState(t, id))

	store.heal()
	f.redeliverNow(t)
	_, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)
	row := f.row(t, id)
	assert.Equal(t, model.ExecutionStatusFailed, row.Status)
	assert.Equal(t, "BAD_BRIEF", *row.Report.ErrorCode)
	assert.Equal(t, "failed", f.jobState(t, id))
}
