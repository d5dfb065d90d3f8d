package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoapply/autoapply/internal/domain/model"
)

func TestListApplications_FiltersByStatus(t *testing.T) {
	f := newControlFixture(t)
	f.apps.apps = []model.Application{
		{ID: "app-1", RunID: "run-1", UserID: "user-1", Status: model.ApplicationStatusSubmitted},
		{ID: "app-2", RunID: "run-1", UserID: "user-1", Status: model.ApplicationStatusFailed},
	}
	h := &ApplicationHandlers{Svc: f.svc}

	r := httptest.NewRequest(http.MethodGet, "/api/applications?user_id=user-1&status=submitted", nil)
	w := httptest.NewRecorder()

	h.ListApplications(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Applications []model.Application `json:"applications"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got.Applications, 1)
	assert.Equal(t, "app-1", got.Applications[0].ID)
}

func TestListApplications_RequiresUserOrRun(t *testing.T) {
	f := newControlFixture(t)
	h := &ApplicationHandlers{Svc: f.svc}

	r := httptest.NewRequest(http.MethodGet, "/api/applications", nil)
	w := httptest.NewRecorder()

	h.ListApplications(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListSkipped_FiltersByReason(t *testing.T) {
	lowMatch := model.SkipReasonLowMatchScore
	policy := model.SkipReasonPolicyBlock
	f := newControlFixture(t)
	f.queue.skipped = []model.QueueRecord{
		{ID: "rec-1", RunID: "run-1", UserID: "user-1", SkipReason: &lowMatch},
		{ID: "rec-2", RunID: "run-1", UserID: "user-1", SkipReason: &policy},
	}
	h := &ApplicationHandlers{Svc: f.svc}

	r := httptest.NewRequest(http.MethodGet, "/api/queue/skips?run_id=run-1&reason="+string(policy), nil)
	w := httptest.NewRecorder()

	h.ListSkipped(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Skipped []model.QueueRecord `json:"skipped"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got.Skipped, 1)
	assert.Equal(t, "rec-2", got.Skipped[0].ID)
}

func TestGetLogs_FiltersByStage(t *testing.T) {
	f := newControlFixture(t)
	f.audit.events = []*model.LogEvent{
		{ID: "ev-1", RunID: "run-1", UserID: "user-1", Stage: "matcher", Level: model.LogLevelInfo},
		{ID: "ev-2", RunID: "run-1", UserID: "user-1", Stage: "submitter", Level: model.LogLevelInfo},
	}
	h := &ApplicationHandlers{Svc: f.svc}

	r := httptest.NewRequest(http.MethodGet, "/api/logs?run_id=run-1&stage=submitter", nil)
	w := httptest.NewRecorder()

	h.GetLogs(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Events []model.LogEvent `json:"events"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got.Events, 1)
	assert.Equal(t, "ev-2", got.Events[0].ID)
}

func TestGetLogs_RejectsInvalidLevel(t *testing.T) {
	f := newControlFixture(t)
	h := &ApplicationHandlers{Svc: f.svc}

	r := httptest.NewRequest(http.MethodGet, "/api/logs?run_id=run-1&level=verbose", nil)
	w := httptest.NewRecorder()

	h.GetLogs(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
