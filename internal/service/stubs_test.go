package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/autoapply/autoapply/internal/core"
	"github.com/autoapply/autoapply/internal/data"
	"github.com/autoapply/autoapply/internal/domain/model"
)

var errStubNotImplemented = errors.New("not implemented")

// stubRunRepo is an in-memory core.RunRepository for service tests.
type stubRunRepo struct {
	mu          sync.Mutex
	runs        map[string]*model.Run
	checkpoints []string
	applied     int
	skipped     int
	finishes    []model.RunStatus
	finishErr   error
	killed      []string
}

func newStubRunRepo(runs ...*model.Run) *stubRunRepo {
	r := &stubRunRepo{runs: make(map[string]*model.Run)}
	for _, run := range runs {
		r.runs[run.ID] = run
	}
	return r
}

func (r *stubRunRepo) Create(_ context.Context, req *model.StartRunRequest) (*model.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs {
		if run.UserID == req.UserID && run.Active() {
			return nil, model.ErrRunAlreadyActive
		}
	}
	run := &model.Run{
		ID:        fmt.Sprintf("run-%d", len(r.runs)+1),
		UserID:    req.UserID,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	r.runs[run.ID] = run
	return run, nil
}

func (r *stubRunRepo) GetByID(_ context.Context, id string) (*model.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, data.ErrRunNotFound
	}
	copied := *run
	return &copied, nil
}

func (r *stubRunRepo) GetLatestByUser(_ context.Context, userID string) (*model.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
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
	copied := *latest
	return &copied, nil
}

func (r *stubRunRepo) GetActiveByUser(context.Context, string) (*model.Run, error) {
	return nil, errStubNotImplemented
}

func (r *stubRunRepo) SetCheckpoint(_ context.Context, id, checkpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[id]; ok {
		cp := checkpoint
		run.LastCheckpoint = &cp
	}
	r.checkpoints = append(r.checkpoints, checkpoint)
	return nil
}

func (r *stubRunRepo) IncrementCounters(_ context.Context, id string, applied, skipped int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied += applied
	r.skipped += skipped
	if run, ok := r.runs[id]; ok {
		run.AppliedCountToday += applied
		run.SkippedCountToday += skipped
	}
	return nil
}

func (r *stubRunRepo) EngageKillSwitch(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.killed = append(r.killed, id)
	if run, ok := r.runs[id]; ok {
		run.KillSwitch = true
	}
	return nil
}

func (r *stubRunRepo) Finish(
	_ context.Context,
	id string,
	status model.RunStatus,
	lastError *string,
) (*model.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finishErr != nil {
		return nil, r.finishErr
	}
	r.finishes = append(r.finishes, status)
	run, ok := r.runs[id]
	if !ok {
		return nil, data.ErrRunNotFound
	}
	run.Status = status
	run.LastError = lastError
	now := time.Now().UTC()
	run.FinishedAt = &now
	copied := *run
	return &copied, nil
}

// stubPostingRepo serves a fixed posting set.
type stubPostingRepo struct {
	postings  []model.JobPosting
	companies map[string]string
	err       error
}

func (r *stubPostingRepo) GetByID(_ context.Context, id string) (*model.JobPosting, error) {
	if r.err != nil {
		return nil, r.err
	}
	for i := range r.postings {
		if r.postings[i].ID == id {
			copied := r.postings[i]
			return &copied, nil
		}
	}
	return nil, data.ErrJobPostingNotFound
}

func (r *stubPostingRepo) ListRecent(_ context.Context, limit int) ([]model.JobPosting, error) {
	if r.err != nil {
		return nil, r.err
	}
	if limit > 0 && limit < len(r.postings) {
		return r.postings[:limit], nil
	}
	return r.postings, nil
}

func (r *stubPostingRepo) CompaniesByIDs(_ context.Context, ids []string) (map[string]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[string]string)
	for _, id := range ids {
		if company, ok := r.companies[id]; ok {
			out[id] = company
		}
	}
	return out, nil
}

// stubMatchRepo records created batches.
type stubMatchRepo struct {
	batches [][]model.JobMatch
	err     error
}

func (r *stubMatchRepo) CreateBatch(_ context.Context, matches []model.JobMatch) error {
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, matches)
	return nil
}

func (r *stubMatchRepo) ListByRun(context.Context, string) ([]model.JobMatch, error) {
	return nil, errStubNotImplemented
}

type skipMark struct {
	id     string
	reason model.SkipReason
	detail string
}

// stubQueueRepo is an in-memory core.QueueRecordRepository.
type stubQueueRepo struct {
	mu      sync.Mutex
	byID    map[string]*model.QueueRecord
	nextID  int
	sent    []string
	demoted []skipMark
	err     error
}

func newStubQueueRepo(records ...*model.QueueRecord) *stubQueueRepo {
	r := &stubQueueRepo{byID: make(map[string]*model.QueueRecord)}
	for _, rec := range records {
		r.byID[rec.ID] = rec
	}
	return r
}

func (r *stubQueueRepo) Create(_ context.Context, rec *model.QueueRecord) (*model.QueueRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, existing := range r.byID {
		if existing.RunID == rec.RunID && existing.JobID == rec.JobID {
			copied := *existing
			return &copied, nil
		}
	}
	r.nextID++
	stored := *rec
	stored.ID = fmt.Sprintf("qr-%d", r.nextID)
	stored.QueuedAt = time.Now().UTC()
	r.byID[stored.ID] = &stored
	copied := stored
	return &copied, nil
}

func (r *stubQueueRepo) GetByID(_ context.Context, id string) (*model.QueueRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, data.ErrQueueRecordNotFound
	}
	copied := *rec
	return &copied, nil
}

func (r *stubQueueRepo) GetByRunAndJob(_ context.Context, runID, jobID string) (*model.QueueRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.byID {
		if rec.RunID == runID && rec.JobID == jobID {
			copied := *rec
			return &copied, nil
		}
	}
	return nil, data.ErrQueueRecordNotFound
}

func (r *stubQueueRepo) MarkSent(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return data.ErrQueueRecordNotFound
	}
	if rec.Status == model.QueueRecordStatusQueued {
		rec.Status = model.QueueRecordStatusSent
		now := time.Now().UTC()
		rec.SentAt = &now
		r.sent = append(r.sent, id)
	}
	return nil
}

func (r *stubQueueRepo) MarkSkipped(_ context.Context, id string, reason model.SkipReason, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return data.ErrQueueRecordNotFound
	}
	if rec.Status == model.QueueRecordStatusQueued {
		rec.Status = model.QueueRecordStatusSkipped
		rec.SkipReason = &reason
		if detail != "" {
			d := detail
			rec.SkipDetail = &d
		}
		r.demoted = append(r.demoted, skipMark{id: id, reason: reason, detail: detail})
	}
	return nil
}

func (r *stubQueueRepo) ListByRun(_ context.Context, runID string) ([]model.QueueRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.QueueRecord
	for _, rec := range r.byID {
		if rec.RunID == runID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *stubQueueRepo) ListSkipped(_ context.Context, opts model.SkippedListOptions) ([]model.QueueRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.QueueRecord
	for _, rec := range r.byID {
		if rec.Status != model.QueueRecordStatusSkipped {
			continue
		}
		if opts.UserID != "" && rec.UserID != opts.UserID {
			continue
		}
		if opts.RunID != "" && rec.RunID != opts.RunID {
			continue
		}
		if opts.Reason != nil && (rec.SkipReason == nil || *rec.SkipReason != *opts.Reason) {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (r *stubQueueRepo) CountQueuedByRun(_ context.Context, runID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, rec := range r.byID {
		if rec.RunID == runID && rec.Status == model.QueueRecordStatusQueued {
			count++
		}
	}
	return count, nil
}

// stubApplicationRepo is an in-memory core.ApplicationRepository keyed by (run, job).
type stubApplicationRepo struct {
	mu             sync.Mutex
	apps           map[string]*model.Application
	timeline       map[string][]model.TimelineEntry
	submittedIDs   map[string]bool
	submittedSince []model.Application
	countToday     int
	upsertErr      error
}

func newStubApplicationRepo() *stubApplicationRepo {
	return &stubApplicationRepo{
		apps:         make(map[string]*model.Application),
		timeline:     make(map[string][]model.TimelineEntry),
		submittedIDs: make(map[string]bool),
	}
}

func appKey(runID, jobID string) string { return runID + "/" + jobID }

func (r *stubApplicationRepo) Upsert(_ context.Context, app *model.Application) (*model.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return nil, r.upsertErr
	}
	stored := *app
	key := appKey(app.RunID, app.JobID)
	if existing, ok := r.apps[key]; ok {
		stored.ID = existing.ID
	} else {
		stored.ID = fmt.Sprintf("app-%d", len(r.apps)+1)
	}
	r.apps[key] = &stored
	copied := stored
	return &copied, nil
}

func (r *stubApplicationRepo) AppendTimeline(_ context.Context, id string, entry model.TimelineEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeline[id] = append(r.timeline[id], entry)
	return nil
}

func (r *stubApplicationRepo) GetByID(_ context.Context, id string) (*model.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, app := range r.apps {
		if app.ID == id {
			copied := *app
			return &copied, nil
		}
	}
	return nil, data.ErrApplicationNotFound
}

func (r *stubApplicationRepo) GetByRunAndJob(_ context.Context, runID, jobID string) (*model.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if app, ok := r.apps[appKey(runID, jobID)]; ok {
		copied := *app
		return &copied, nil
	}
	return nil, data.ErrApplicationNotFound
}

func (r *stubApplicationRepo) List(_ context.Context, opts model.ApplicationsListOptions) ([]model.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Application
	for _, app := range r.apps {
		if opts.UserID != "" && app.UserID != opts.UserID {
			continue
		}
		if opts.RunID != "" && app.RunID != opts.RunID {
			continue
		}
		if opts.Status != nil && app.Status != *opts.Status {
			continue
		}
		out = append(out, *app)
	}
	return out, nil
}

func (r *stubApplicationRepo) SubmittedJobIDs(context.Context, string) (map[string]bool, error) {
	return r.submittedIDs, nil
}

func (r *stubApplicationRepo) ListSubmittedSince(context.Context, string, time.Time) ([]model.Application, error) {
	return r.submittedSince, nil
}

func (r *stubApplicationRepo) CountSubmittedSince(context.Context, string, time.Time) (int, error) {
	return r.countToday, nil
}

// stubAuditRepo captures appended audit events.
type stubAuditRepo struct {
	mu     sync.Mutex
	events []*model.LogEvent
}

func (r *stubAuditRepo) Append(_ context.Context, ev *model.LogEvent) (*model.LogEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *ev
	stored.ID = fmt.Sprintf("log-%d", len(r.events)+1)
	r.events = append(r.events, &stored)
	return &stored, nil
}

func (r *stubAuditRepo) Query(_ context.Context, q model.LogQuery) ([]model.LogEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
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

func (r *stubAuditRepo) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Stage)
	}
	return out
}

// stubResumeRepo serves fixed resume rows.
type stubResumeRepo struct {
	resumes []*model.Resume
	err     error
}

func (r *stubResumeRepo) ListByUser(context.Context, string) ([]*model.Resume, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.resumes, nil
}

// stubTaskRepo implements core.TaskRepository for enqueue-only paths.
type stubTaskRepo struct {
	mu        sync.Mutex
	created   []*model.CreateTaskRequest
	createErr error
}

func (r *stubTaskRepo) Create(_ context.Context, req *model.CreateTaskRequest) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r.created = append(r.created, req)
	return &model.Task{
		ID:             fmt.Sprintf("task-%d", len(r.created)),
		Type:           req.Type,
		Status:         model.TaskStatusPending,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		RunID:          req.RunID,
		UserID:         req.UserID,
		IsTest:         req.IsTest,
		MaxRetries:     req.MaxRetries,
	}, nil
}

func (r *stubTaskRepo) GetByID(context.Context, string) (*model.Task, error) {
	return nil, errStubNotImplemented
}

func (r *stubTaskRepo) ReserveNext(context.Context, model.TaskType, int) (*model.Task, error) {
	return nil, errStubNotImplemented
}

func (r *stubTaskRepo) WaitForNotification(context.Context, model.TaskType) error {
	return errStubNotImplemented
}

func (r *stubTaskRepo) Heartbeat(context.Context, string, int) (bool, error) {
	return false, errStubNotImplemented
}

func (r *stubTaskRepo) Complete(context.Context, string) (bool, error) {
	return false, errStubNotImplemented
}

func (r *stubTaskRepo) Fail(context.Context, string, string) (bool, error) {
	return false, errStubNotImplemented
}

func (r *stubTaskRepo) Stats(context.Context, model.TaskType) (*model.TaskStats, error) {
	return nil, errStubNotImplemented
}

func (r *stubTaskRepo) Delete(context.Context, string) error {
	return errStubNotImplemented
}

// stubCache is an in-memory core.CacheRepository.
type stubCache struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newStubCache() *stubCache {
	return &stubCache{values: make(map[string][]byte)}
}

func (c *stubCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *stubCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key], nil
}

func (c *stubCache) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.values[key]
	delete(c.values, key)
	return ok, nil
}

func (c *stubCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.values[key]
	return ok, nil
}

func (c *stubCache) SetTTL(context.Context, string, time.Duration) (bool, error) {
	return false, errStubNotImplemented
}

func (c *stubCache) SetIfNotExists(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		return false, nil
	}
	c.values[key] = value
	return true, nil
}

func (c *stubCache) Health(context.Context) error { return nil }

// stubPolicyStore implements core.PolicyRepository around one policy row.
type stubPolicyStore struct {
	mu           sync.Mutex
	policy       *model.ApplyPolicy
	killSwitches map[string]bool
}

func newStubPolicyStore(policy *model.ApplyPolicy) *stubPolicyStore {
	return &stubPolicyStore{policy: policy, killSwitches: make(map[string]bool)}
}

func (r *stubPolicyStore) GetByUser(_ context.Context, userID string) (*model.ApplyPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.policy == nil || r.policy.UserID != userID {
		return nil, data.ErrPolicyNotFound
	}
	copied := *r.policy
	return &copied, nil
}

func (r *stubPolicyStore) Upsert(_ context.Context, policy *model.ApplyPolicy) (*model.ApplyPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *policy
	r.policy = &copied
	out := copied
	return &out, nil
}

func (r *stubPolicyStore) SetKillSwitch(_ context.Context, userID string, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.killSwitches[userID] = on
	if r.policy != nil && r.policy.UserID == userID {
		r.policy.KillSwitch = on
	}
	return nil
}

// stubGenerationClient returns canned generation results.
type stubGenerationClient struct {
	personalization *model.Personalization
	personalizeErr  error
	verdict         *model.GroundingVerdict
	verdictErr      error
	explanation     string
	explainErr      error
	explainCalls    int
}

func (c *stubGenerationClient) PersonalizeApplication(
	context.Context,
	core.PersonalizeParams,
) (*model.Personalization, error) {
	if c.personalizeErr != nil {
		return nil, c.personalizeErr
	}
	if c.personalization == nil {
		return nil, errStubNotImplemented
	}
	copied := *c.personalization
	return &copied, nil
}

func (c *stubGenerationClient) ValidateGrounding(
	context.Context,
	core.GroundingParams,
) (*model.GroundingVerdict, error) {
	if c.verdictErr != nil {
		return nil, c.verdictErr
	}
	if c.verdict == nil {
		return nil, errStubNotImplemented
	}
	copied := *c.verdict
	return &copied, nil
}

func (c *stubGenerationClient) ExplainSkip(
	context.Context,
	core.SkipExplanationParams,
) (string, error) {
	c.explainCalls++
	if c.explainErr != nil {
		return "", c.explainErr
	}
	return c.explanation, nil
}

// stubSubmissionClient fails the first failFirst attempts, then succeeds.
type stubSubmissionClient struct {
	failFirst int
	receipt   core.SubmissionReceipt
	calls     int
	lastReq   core.SubmissionRequest
}

func (c *stubSubmissionClient) Submit(
	_ context.Context,
	req core.SubmissionRequest,
) (*core.SubmissionReceipt, error) {
	c.calls++
	c.lastReq = req
	if c.calls <= c.failFirst {
		return nil, fmt.Errorf("board unavailable on attempt %d", c.calls)
	}
	copied := c.receipt
	return &copied, nil
}

func newTestAudit(repo *stubAuditRepo) *AuditService {
	return MustNewAuditService(AuditServiceOptions{Repo: repo})
}

func newTestPolicyCache(policy *model.ApplyPolicy) *core.PolicyCacheService {
	return core.NewPolicyCacheService(core.PolicyCacheServiceOptions{
		Cache:    newStubCache(),
		Policies: newStubPolicyStore(policy),
	})
}

func newTestTaskService(repo *stubTaskRepo) *TaskService {
	return MustNewTaskService(TaskServiceOptions{
		Repo:         repo,
		DefaultLease: 30 * time.Second,
	})
}
