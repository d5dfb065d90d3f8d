package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoapply/autoapply/internal/core"
	"github.com/autoapply/autoapply/internal/domain/model"
)

func newTestSubmitter(client *stubSubmissionClient) *SubmitterService {
	return MustNewSubmitterService(SubmitterServiceOptions{
		Client:      client,
		BackoffBase: time.Millisecond,
	})
}

func submissionRequest(posting *model.JobPosting) core.SubmissionRequest {
	return core.SubmissionRequest{
		Job:            posting,
		ResumeURL:      "https://files.example.com/resume.pdf",
		IdempotencyKey: "apply:run-1:job-1",
	}
}

func TestSubmitFirstTrySucceeds(t *testing.T) {
	client := &stubSubmissionClient{receipt: core.SubmissionReceipt{Receipt: "rcpt-1"}}
	svc := newTestSubmitter(client)

	outcome, err := svc.Submit(context.Background(), submissionRequest(&model.JobPosting{ID: "job-1"}))
	require.NoError(t, err)

	assert.Equal(t, model.ApplicationStatusSubmitted, outcome.Status)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, "rcpt-1", outcome.Receipt)
	assert.Equal(t, 1, client.calls)
}

func TestSubmitRetriesThenSucceeds(t *testing.T) {
	client := &stubSubmissionClient{failFirst: 2, receipt: core.SubmissionReceipt{Receipt: "rcpt-1"}}
	svc := newTestSubmitter(client)

	outcome, err := svc.Submit(context.Background(), submissionRequest(&model.JobPosting{ID: "job-1"}))
	require.NoError(t, err)

	assert.Equal(t, model.ApplicationStatusRetried, outcome.Status)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, client.calls)
}

func TestSubmitExhaustsAttempts(t *testing.T) {
	client := &stubSubmissionClient{failFirst: 10}
	svc := newTestSubmitter(client)

	outcome, err := svc.Submit(context.Background(), submissionRequest(&model.JobPosting{ID: "job-1"}))
	require.Error(t, err)

	assert.Equal(t, model.ApplicationStatusFailed, outcome.Status)
	assert.Equal(t, DefaultSubmitAttempts, outcome.Attempts)
	assert.Equal(t, DefaultSubmitAttempts, client.calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestSubmitSandboxNeverCallsClient(t *testing.T) {
	client := &stubSubmissionClient{failFirst: 10}
	svc := newTestSubmitter(client)

	posting := &model.JobPosting{ID: "job-1", Source: model.SourceSandbox}
	outcome, err := svc.Submit(context.Background(), submissionRequest(posting))
	require.NoError(t, err)

	assert.Zero(t, client.calls)
	assert.Equal(t, model.ApplicationStatusSubmitted, outcome.Status)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Contains(t, outcome.Receipt, "sandbox-")
	assert.NotEmpty(t, outcome.ConfirmedAt)
}

func TestSubmitValidatesRequest(t *testing.T) {
	svc := newTestSubmitter(&stubSubmissionClient{})

	_, err := svc.Submit(context.Background(), core.SubmissionRequest{IdempotencyKey: "k"})
	require.Error(t, err)

	_, err = svc.Submit(context.Background(), core.SubmissionRequest{Job: &model.JobPosting{ID: "job-1"}})
	require.Error(t, err)
}

func TestSubmitStopsOnContextCancel(t *testing.T) {
	client := &stubSubmissionClient{failFirst: 10}
	svc := MustNewSubmitterService(SubmitterServiceOptions{
		Client:      client,
		BackoffBase: time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Submit(ctx, submissionRequest(&model.JobPosting{ID: "job-1"}))
		done <- err
	}()

	// Let the first attempt fail, then cancel during the backoff.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("submit did not observe cancellation")
	}
	assert.Equal(t, 1, client.calls)
}
