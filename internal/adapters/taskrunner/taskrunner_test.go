package taskrunner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/autoapply/autoapply/internal/domain/model"
	"github.com/autoapply/autoapply/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// errDrained signals the stub repo has handed out every task it holds. The
// worker loop treats it as a reserve failure and exits, which lets tests run
// the full loop without relying on cancellation timing.
var errDrained = errors.New("drained")

type stubTaskRepo struct {
	mu        sync.Mutex
	pending   []*model.Task
	completed []string
	failed    map[string]string
	emptyErr  error
}

func newStubTaskRepo(tasks ...*model.Task) *stubTaskRepo {
	return &stubTaskRepo{pending: tasks, failed: map[string]string{}, emptyErr: errDrained}
}

func (r *stubTaskRepo) Create(ctx context.Context, req *model.CreateTaskRequest) (*model.Task, error) {
	return nil, errors.New("not implemented")
}

func (r *stubTaskRepo) GetByID(ctx context.Context, id string) (*model.Task, error) {
	return nil, errors.New("not implemented")
}

func (r *stubTaskRepo) ReserveNext(
	ctx context.Context,
	taskType model.TaskType,
	leaseSeconds int,
) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return nil, r.emptyErr
	}
	task := r.pending[0]
	r.pending = r.pending[1:]
	return task, nil
}

func (r *stubTaskRepo) WaitForNotification(ctx context.Context, taskType model.TaskType) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *stubTaskRepo) Heartbeat(ctx context.Context, taskID string, leaseSeconds int) (bool, error) {
	return true, nil
}

func (r *stubTaskRepo) Complete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, id)
	return true, nil
}

func (r *stubTaskRepo) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[id] = errMsg
	return true, nil
}

func (r *stubTaskRepo) Stats(ctx context.Context, taskType model.TaskType) (*model.TaskStats, error) {
	return nil, errors.New("not implemented")
}

func (r *stubTaskRepo) Delete(ctx context.Context, id string) error {
	return errors.New("not implemented")
}

type stubHandler struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (h *stubHandler) Execute(ctx context.Context, task *model.Task) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, task.ID)
	return h.err
}

func newTask(id string) *model.Task {
	return &model.Task{ID: id, Type: model.TaskTypeApply, Status: model.TaskStatusRunning}
}

func newRunner(t *testing.T, repo *stubTaskRepo, handler Handler, limiter *rate.Limiter) *Runner {
	t.Helper()
	tasks := service.MustNewTaskService(service.TaskServiceOptions{
		Repo:         repo,
		DefaultLease: 30 * time.Second,
	})
	t.Cleanup(tasks.StopAllListeners)

	runner, err := NewRunner(Options{
		Tasks:    tasks,
		Handler:  handler,
		TaskType: model.TaskTypeApply,
		Limiter:  limiter,
	})
	require.NoError(t, err)
	return runner
}

func TestNewRunner_Validation(t *testing.T) {
	tasks := service.MustNewTaskService(service.TaskServiceOptions{
		Repo:         newStubTaskRepo(),
		DefaultLease: 30 * time.Second,
	})
	t.Cleanup(tasks.StopAllListeners)

	t.Run("requires task service", func(t *testing.T) {
		_, err := NewRunner(Options{Handler: &stubHandler{}, TaskType: model.TaskTypeApply})
		require.Error(t, err)
	})

	t.Run("requires handler", func(t *testing.T) {
		_, err := NewRunner(Options{Tasks: tasks, TaskType: model.TaskTypeApply})
		require.Error(t, err)
	})

	t.Run("rejects unknown task type", func(t *testing.T) {
		_, err := NewRunner(Options{Tasks: tasks, Handler: &stubHandler{}, TaskType: "bogus"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid task type")
	})
}

func TestRunner_CompletesProcessedTasks(t *testing.T) {
	repo := newStubTaskRepo(newTask("task-1"), newTask("task-2"))
	handler := &stubHandler{}
	runner := newRunner(t, repo, handler, nil)

	err := runner.Run(context.Background())
	require.ErrorIs(t, err, errDrained)

	assert.Equal(t, []string{"task-1", "task-2"}, handler.seen)
	assert.Equal(t, []string{"task-1", "task-2"}, repo.completed)
	assert.Empty(t, repo.failed)
}

func TestRunner_FailsTaskOnHandlerError(t *testing.T) {
	repo := newStubTaskRepo(newTask("task-1"))
	handler := &stubHandler{err: errors.New("generation unavailable")}
	runner := newRunner(t, repo, handler, nil)

	err := runner.Run(context.Background())
	require.ErrorIs(t, err, errDrained)

	assert.Empty(t, repo.completed)
	assert.Equal(t, "generation unavailable", repo.failed["task-1"])
}

func TestRunner_StopsCleanlyWhenIdle(t *testing.T) {
	repo := newStubTaskRepo()
	repo.emptyErr = model.ErrNoTasksAvailable
	runner := newRunner(t, repo, &stubHandler{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after context cancellation")
	}
}

func TestRunner_HonorsRateLimiter(t *testing.T) {
	repo := newStubTaskRepo(newTask("task-1"), newTask("task-2"), newTask("task-3"))
	handler := &stubHandler{}
	// Generous burst so the test stays fast; the limiter only has to be consulted
	limiter := rate.NewLimiter(rate.Every(time.Millisecond), 3)
	runner := newRunner(t, repo, handler, limiter)

	err := runner.Run(context.Background())
	require.ErrorIs(t, err, errDrained)
	assert.Len(t, handler.seen, 3)
}
