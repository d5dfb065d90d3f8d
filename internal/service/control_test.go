package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoapply/autoapply/internal/domain/model"
)

type controlFixture struct {
	svc    *ControlService
	runs   *stubRunRepo
	queue  *stubQueueRepo
	apps   *stubApplicationRepo
	tasks  *stubTaskRepo
	policy *stubPolicyStore
	audit  *stubAuditRepo
}

func newControlFixture(t *testing.T, runs ...*model.Run) *controlFixture {
	t.Helper()

	policy := model.DefaultApplyPolicy("user-1")
	f := &controlFixture{
		runs:   newStubRunRepo(runs...),
		queue:  newStubQueueRepo(),
		apps:   newStubApplicationRepo(),
		tasks:  &stubTaskRepo{},
		policy: newStubPolicyStore(&policy),
		audit:  &stubAuditRepo{},
	}

	f.svc = MustNewControlService(ControlServiceOptions{
		Runs:         f.runs,
		Tasks:        newTestTaskService(f.tasks),
		Applications: f.apps,
		QueueRecords: f.queue,
		Policies:     f.policy,
		PolicyCache:  newTestPolicyCache(&policy),
		Audit:        newTestAudit(f.audit),
	})
	return f
}

func TestStartRunEnqueuesDiscovery(t *testing.T) {
	f := newControlFixture(t)

	run, err := f.svc.StartRun(context.Background(), &model.StartRunRequest{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	require.Len(t, f.tasks.created, 1)
	req := f.tasks.created[0]
	assert.Equal(t, model.TaskTypeDiscovery, req.Type)
	require.NotNil(t, req.IdempotencyKey)
	assert.Equal(t, "discovery:"+run.ID, *req.IdempotencyKey)

	var payload model.DiscoveryTaskPayload
	require.NoError(t, json.Unmarshal(req.Payload, &payload))
	assert.Equal(t, run.ID, payload.RunID)
	assert.Equal(t, "user-1", payload.UserID)
}

func TestStartRunRejectsConcurrentRun(t *testing.T) {
	active := &model.Run{ID: "run-1", UserID: "user-1", Status: model.RunStatusRunning}
	f := newControlFixture(t, active)

	_, err := f.svc.StartRun(context.Background(), &model.StartRunRequest{UserID: "user-1"})
	require.ErrorIs(t, err, model.ErrRunAlreadyActive)
	assert.Empty(t, f.tasks.created)
}

func TestStartRunSettlesRunWhenEnqueueFails(t *testing.T) {
	f := newControlFixture(t)
	f.tasks.createErr = errors.New("queue unavailable")

	_, err := f.svc.StartRun(context.Background(), &model.StartRunRequest{UserID: "user-1"})
	require.Error(t, err)

	// The run must not be left running with no task driving it.
	require.Equal(t, []model.RunStatus{model.RunStatusFailed}, f.runs.finishes)
}

func TestStopRunEngagesKillSwitch(t *testing.T) {
	active := &model.Run{ID: "run-1", UserID: "user-1", Status: model.RunStatusRunning}
	f := newControlFixture(t, active)

	stopped, err := f.svc.StopRun(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusStopped, stopped.Status)
	assert.Equal(t, []string{"run-1"}, f.runs.killed)
	assert.Equal(t, []model.RunStatus{model.RunStatusStopped}, f.runs.finishes)
}

func TestStopRunOnTerminalRunIsNoop(t *testing.T) {
	finished := &model.Run{ID: "run-1", UserID: "user-1", Status: model.RunStatusCompleted}
	f := newControlFixture(t, finished)

	run, err := f.svc.StopRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Empty(t, f.runs.killed)
	assert.Empty(t, f.runs.finishes)
}

func TestSetKillSwitchPersistsAndAudits(t *testing.T) {
	f := newControlFixture(t)

	require.NoError(t, f.svc.SetKillSwitch(context.Background(), "user-1", true))
	assert.True(t, f.policy.killSwitches["user-1"])

	require.NoError(t, f.svc.SetKillSwitch(context.Background(), "user-1", false))
	assert.False(t, f.policy.killSwitches["user-1"])

	require.Error(t, f.svc.SetKillSwitch(context.Background(), "", true))
}

func TestGetRunStatusIncludesQueueDepth(t *testing.T) {
	active := &model.Run{ID: "run-1", UserID: "user-1", Status: model.RunStatusRunning}
	f := newControlFixture(t, active)

	for _, jobID := range []string{"job-1", "job-2"} {
		_, err := f.queue.Create(context.Background(), &model.QueueRecord{
			RunID:  "run-1",
			JobID:  jobID,
			UserID: "user-1",
			Status: model.QueueRecordStatusQueued,
		})
		require.NoError(t, err)
	}

	status, err := f.svc.GetRunStatus(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", status.Run.ID)
	assert.Equal(t, 2, status.QueuedRemaining)
}

func TestGetLatestRunStatus(t *testing.T) {
	older := &model.Run{ID: "run-1", UserID: "user-1", Status: model.RunStatusCompleted,
		StartedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	newer := &model.Run{ID: "run-2", UserID: "user-1", Status: model.RunStatusRunning,
		StartedAt: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)}
	f := newControlFixture(t, older, newer)

	status, err := f.svc.GetLatestRunStatus(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "run-2", status.Run.ID)

	_, err = f.svc.GetLatestRunStatus(context.Background(), "")
	require.Error(t, err)
}

func TestListApplicationsRequiresScope(t *testing.T) {
	f := newControlFixture(t)

	_, err := f.svc.ListApplications(context.Background(), model.ApplicationsListOptions{})
	require.Error(t, err)

	_, err = f.svc.ListApplications(context.Background(), model.ApplicationsListOptions{UserID: "user-1"})
	require.NoError(t, err)
}

func TestListSkippedFiltersByReason(t *testing.T) {
	f := newControlFixture(t)

	reason := model.SkipReasonLowMatchScore
	_, err := f.queue.Create(context.Background(), &model.QueueRecord{
		RunID: "run-1", JobID: "job-1", UserID: "user-1",
		Status: model.QueueRecordStatusSkipped, SkipReason: &reason,
	})
	require.NoError(t, err)

	cooldown := model.SkipReasonCompanyCooldown
	_, err = f.queue.Create(context.Background(), &model.QueueRecord{
		RunID: "run-1", JobID: "job-2", UserID: "user-1",
		Status: model.QueueRecordStatusSkipped, SkipReason: &cooldown,
	})
	require.NoError(t, err)

	skipped, err := f.svc.ListSkipped(context.Background(), model.SkippedListOptions{
		UserID: "user-1",
		Reason: &reason,
	})
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, "job-1", skipped[0].JobID)
}

func TestGetLogsDelegatesToAudit(t *testing.T) {
	f := newControlFixture(t)
	audit := newTestAudit(f.audit)
	audit.Info(context.Background(), EventParams{RunID: "run-1", UserID: "user-1", Stage: "control", Message: "run started"})

	logs, err := f.svc.GetLogs(context.Background(), model.LogQuery{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "run started", logs[0].Message)
}
