package submission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/autoapply/autoapply/internal/core"
	"github.com/autoapply/autoapply/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJob(applyURL string) *model.JobPosting {
	return &model.JobPosting{
		ID:       "job-1",
		Company:  "Acme",
		Title:    "Backend Engineer",
		ApplyURL: applyURL,
	}
}

func TestClient_Submit(t *testing.T) {
	t.Run("posts payload and decodes receipt", func(t *testing.T) {
		var gotKey, gotAuth string
		var gotPayload submissionPayload
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotKey = r.Header.Get("Idempotency-Key")
			gotAuth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"receipt":"rcpt-42","confirmed_at":"2026-08-29T12:00:00Z"}`))
		}))
		defer srv.Close()

		client := NewClient(Config{AuthToken: "secret"})

		receipt, err := client.Submit(context.Background(), core.SubmissionRequest{
			Job:            testJob(srv.URL),
			ResumeURL:      "https://files.example.com/backend.pdf",
			IdempotencyKey: "apply:run-1:job-1",
		})

		require.NoError(t, err)
		assert.Equal(t, "rcpt-42", receipt.Receipt)
		assert.Equal(t, "2026-08-29T12:00:00Z", receipt.ConfirmedAt)
		assert.Equal(t, "apply:run-1:job-1", gotKey)
		assert.Equal(t, "Bearer secret", gotAuth)
		assert.Equal(t, "job-1", gotPayload.JobID)
		assert.Equal(t, "https://files.example.com/backend.pdf", gotPayload.ResumeURL)
	})

	t.Run("configured endpoint overrides posting apply url", func(t *testing.T) {
		hits := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			_, _ = w.Write([]byte(`{"receipt":"rcpt-1"}`))
		}))
		defer srv.Close()

		client := NewClient(Config{Endpoint: srv.URL})

		_, err := client.Submit(context.Background(), core.SubmissionRequest{
			Job:            testJob("https://unreachable.invalid/apply"),
			IdempotencyKey: "apply:run-1:job-1",
		})

		require.NoError(t, err)
		assert.Equal(t, 1, hits)
	})

	t.Run("surfaces error responses with body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "board unavailable", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		client := NewClient(Config{Endpoint: srv.URL})

		_, err := client.Submit(context.Background(), core.SubmissionRequest{
			Job:            testJob(""),
			IdempotencyKey: "apply:run-1:job-1",
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
		assert.Contains(t, err.Error(), "board unavailable")
	})

	t.Run("rejects empty receipt", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		client := NewClient(Config{Endpoint: srv.URL})

		_, err := client.Submit(context.Background(), core.SubmissionRequest{
			Job:            testJob(""),
			IdempotencyKey: "apply:run-1:job-1",
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty receipt")
	})

	t.Run("validates request", func(t *testing.T) {
		client := NewClient(Config{})

		_, err := client.Submit(context.Background(), core.SubmissionRequest{IdempotencyKey: "k"})
		require.Error(t, err)

		_, err = client.Submit(context.Background(), core.SubmissionRequest{Job: testJob("")})
		require.Error(t, err)

		_, err = client.Submit(context.Background(), core.SubmissionRequest{
			Job:            testJob(""),
			IdempotencyKey: "k",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no submission endpoint")
	})
}
