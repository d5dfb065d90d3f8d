package httpx

import (
	"context"
	"testing"
	"time"

	"github.com/autoapply/autoapply/internal/core"
	"github.com/autoapply/autoapply/internal/data"
	"github.com/autoapply/autoapply/internal/domain/model"
	"github.com/autoapply/autoapply/internal/service"
)

// Hand-written doubles for the control surface. The task queue handlers use
// gomock; these handlers touch enough repositories that plain stubs stay
// easier to read.

type fakeRunRepo struct {
	runs     map[string]*model.Run
	killed   []string
	finishes []model.RunStatus
}

func newFakeRunRepo(runs ...*model.Run) *fakeRunRepo {
	r := &fakeRunRepo{runs: make(map[string]*model.Run)}
	for _, run := range runs {
		r.runs[run.ID] = run
	}
	return r
}

func (r *fakeRunRepo) Create(_ context.Context, req *model.StartRunRequest) (*model.Run, error) {
	for _, existing := range r.runs {
		if existing.UserID == req.UserID && existing.Active() {
			return nil, model.ErrRunAlreadyActive
		}
	}
	run := &model.Run{
		ID:        "run-new",
		UserID:    req.UserID,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now(),
	}
	r.runs[run.ID] = run
	return run, nil
}

func (r *fakeRunRepo) GetByID(_ context.Context, id string) (*model.Run, error) {
	run, ok := r.runs[id]
	if !ok {
		return nil, data.ErrRunNotFound
	}
	return run, nil
}

func (r *fakeRunRepo) GetLatestByUser(_ context.Context, userID string) (*model.Run, error) {
	var latest *model.Run
	for _, run := range r.runs {
		if run.UserID != userID {
			continue
		}
		if latest == nil || run.StartedAt.After(latest.StartedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, data.ErrRunNotFound
	}
	return latest, nil
}

func (r *fakeRunRepo) GetActiveByUser(_ context.Context, userID string) (*model.Run, error) {
	for _, run := range r.runs {
		if run.UserID == userID && run.Active() {
			return run, nil
		}
	}
	return nil, data.ErrRunNotFound
}

func (r *fakeRunRepo) SetCheckpoint(_ context.Context, _, _ string) error { return nil }

func (r *fakeRunRepo) IncrementCounters(_ context.Context, _ string, _, _ int) error { return nil }

func (r *fakeRunRepo) EngageKillSwitch(_ context.Context, id string) error {
	r.killed = append(r.killed, id)
	return nil
}

func (r *fakeRunRepo) Finish(
	_ context.Context,
	id string,
	status model.RunStatus,
	lastError *string,
) (*model.Run, error) {
	run, ok := r.runs[id]
	if !ok {
		return nil, data.ErrRunNotFound
	}
	r.finishes = append(r.finishes, status)
	run.Status = status
	run.LastError = lastError
	return run, nil
}

type fakeTaskRepo struct {
	created []*model.CreateTaskRequest
}

func (r *fakeTaskRepo) Create(_ context.Context, req *model.CreateTaskRequest) (*model.Task, error) {
	r.created = append(r.created, req)
	return &model.Task{ID: "task-1", Type: req.Type, Status: model.TaskStatusPending}, nil
}

func (r *fakeTaskRepo) GetByID(_ context.Context, _ string) (*model.Task, error) {
	return nil, data.ErrTaskNotFound
}

func (r *fakeTaskRepo) ReserveNext(_ context.Context, _ model.TaskType, _ int) (*model.Task, error) {
	return nil, model.ErrNoTasksAvailable
}

func (r *fakeTaskRepo) WaitForNotification(ctx context.Context, _ model.TaskType) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *fakeTaskRepo) Heartbeat(_ context.Context, _ string, _ int) (bool, error) {
	return false, nil
}

func (r *fakeTaskRepo) Complete(_ context.Context, _ string) (bool, error) { return false, nil }

func (r *fakeTaskRepo) Fail(_ context.Context, _, _ string) (bool, error) { return false, nil }

func (r *fakeTaskRepo) Stats(_ context.Context, _ model.TaskType) (*model.TaskStats, error) {
	return &model.TaskStats{}, nil
}

func (r *fakeTaskRepo) Delete(_ context.Context, _ string) error { return nil }

type fakeApplicationRepo struct {
	apps []model.Application
}

func (r *fakeApplicationRepo) Upsert(_ context.Context, app *model.Application) (*model.Application, error) {
	return app, nil
}

func (r *fakeApplicationRepo) AppendTimeline(_ context.Context, _ string, _ model.TimelineEntry) error {
	return nil
}

func (r *fakeApplicationRepo) GetByID(_ context.Context, _ string) (*model.Application, error) {
	return nil, data.ErrRunNotFound
}

func (r *fakeApplicationRepo) GetByRunAndJob(_ context.Context, _, _ string) (*model.Application, error) {
	return nil, data.ErrRunNotFound
}

func (r *fakeApplicationRepo) List(
	_ context.Context,
	opts model.ApplicationsListOptions,
) ([]model.Application, error) {
	var out []model.Application
	for _, app := range r.apps {
		if opts.RunID != "" && app.RunID != opts.RunID {
			continue
		}
		if opts.UserID != "" && app.UserID != opts.UserID {
			continue
		}
		if opts.Status != nil && app.Status != *opts.Status {
			continue
		}
		out = append(out, app)
	}
	return out, nil
}

func (r *fakeApplicationRepo) SubmittedJobIDs(_ context.Context, _ string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (r *fakeApplicationRepo) ListSubmittedSince(
	_ context.Context,
	_ string,
	_ time.Time,
) ([]model.Application, error) {
	return nil, nil
}

func (r *fakeApplicationRepo) CountSubmittedSince(_ context.Context, _ string, _ time.Time) (int, error) {
	return 0, nil
}

type fakeQueueRepo struct {
	skipped []model.QueueRecord
	queued  int
}

func (r *fakeQueueRepo) Create(_ context.Context, rec *model.QueueRecord) (*model.QueueRecord, error) {
	return rec, nil
}

func (r *fakeQueueRepo) GetByID(_ context.Context, _ string) (*model.QueueRecord, error) {
	return nil, data.ErrRunNotFound
}

func (r *fakeQueueRepo) GetByRunAndJob(_ context.Context, _, _ string) (*model.QueueRecord, error) {
	return nil, data.ErrRunNotFound
}

func (r *fakeQueueRepo) MarkSent(_ context.Context, _ string) error { return nil }

func (r *fakeQueueRepo) MarkSkipped(_ context.Context, _ string, _ model.SkipReason, _ string) error {
	return nil
}

func (r *fakeQueueRepo) ListByRun(_ context.Context, _ string) ([]model.QueueRecord, error) {
	return nil, nil
}

func (r *fakeQueueRepo) ListSkipped(
	_ context.Context,
	opts model.SkippedListOptions,
) ([]model.QueueRecord, error) {
	var out []model.QueueRecord
	for _, rec := range r.skipped {
		if opts.Reason != nil && (rec.SkipReason == nil || *rec.SkipReason != *opts.Reason) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *fakeQueueRepo) CountQueuedByRun(_ context.Context, _ string) (int, error) {
	return r.queued, nil
}

type fakePolicyRepo struct {
	policy       model.ApplyPolicy
	killSwitches map[string]bool
}

func (r *fakePolicyRepo) GetByUser(_ context.Context, _ string) (*model.ApplyPolicy, error) {
	p := r.policy
	return &p, nil
}

func (r *fakePolicyRepo) Upsert(_ context.Context, policy *model.ApplyPolicy) (*model.ApplyPolicy, error) {
	return policy, nil
}

func (r *fakePolicyRepo) SetKillSwitch(_ context.Context, userID string, on bool) error {
	if r.killSwitches == nil {
		r.killSwitches = make(map[string]bool)
	}
	r.killSwitches[userID] = on
	return nil
}

type fakeAuditRepo struct {
	events []*model.LogEvent
}

func (r *fakeAuditRepo) Append(_ context.Context, ev *model.LogEvent) (*model.LogEvent, error) {
	r.events = append(r.events, ev)
	return ev, nil
}

func (r *fakeAuditRepo) Query(_ context.Context, q model.LogQuery) ([]model.LogEvent, error) {
	var out []model.LogEvent
	for _, ev := range r.events {
		if q.RunID != "" && ev.RunID != q.RunID {
			continue
		}
		if q.Stage != "" && ev.Stage != q.Stage {
			continue
		}
		out = append(out, *ev)
	}
	return out, nil
}

type fakeCache struct {
	values map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string][]byte)}
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.values[key] = value
	return nil
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	return c.values[key], nil
}

func (c *fakeCache) Delete(_ context.Context, key string) (bool, error) {
	_, ok := c.values[key]
	delete(c.values, key)
	return ok, nil
}

func (c *fakeCache) Exists(_ context.Context, key string) (bool, error) {
	_, ok := c.values[key]
	return ok, nil
}

func (c *fakeCache) SetTTL(_ context.Context, key string, _ time.Duration) (bool, error) {
	_, ok := c.values[key]
	return ok, nil
}

func (c *fakeCache) SetIfNotExists(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	if _, ok := c.values[key]; ok {
		return false, nil
	}
	c.values[key] = value
	return true, nil
}

func (c *fakeCache) Health(_ context.Context) error { return nil }

type controlFixture struct {
	svc    *service.ControlService
	runs   *fakeRunRepo
	tasks  *fakeTaskRepo
	apps   *fakeApplicationRepo
	queue  *fakeQueueRepo
	policy *fakePolicyRepo
	audit  *fakeAuditRepo
}

func newControlFixture(t *testing.T, runs ...*model.Run) *controlFixture {
	t.Helper()

	f := &controlFixture{
		runs:   newFakeRunRepo(runs...),
		tasks:  &fakeTaskRepo{},
		apps:   &fakeApplicationRepo{},
		queue:  &fakeQueueRepo{},
		policy: &fakePolicyRepo{policy: model.DefaultApplyPolicy("user-1")},
		audit:  &fakeAuditRepo{},
	}

	tasks := service.MustNewTaskService(service.TaskServiceOptions{
		Repo:         f.tasks,
		DefaultLease: 30 * time.Second,
	})
	t.Cleanup(tasks.StopAllListeners)

	cache := core.NewPolicyCacheService(core.PolicyCacheServiceOptions{
		Cache:    newFakeCache(),
		Policies: f.policy,
	})

	f.svc = service.MustNewControlService(service.ControlServiceOptions{
		Runs:         f.runs,
		Tasks:        tasks,
		Applications: f.apps,
		QueueRecords: f.queue,
		Policies:     f.policy,
		PolicyCache:  cache,
		Audit:        service.MustNewAuditService(service.AuditServiceOptions{Repo: f.audit}),
	})
	return f
}
