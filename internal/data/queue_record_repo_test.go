package data

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoapply/autoapply/internal/domain/model"
	"github.com/autoapply/autoapply/internal/testutil"
)

func createTestRun(t *testing.T, db *sql.DB, userID string) *model.Run {
	t.Helper()
	run, err := NewRunRepo(db).Create(context.Background(), &model.StartRunRequest{UserID: userID})
	require.NoError(t, err)
	return run
}

func createTestPosting(t *testing.T, db *sql.DB, externalID string) *model.JobPosting {
	t.Helper()
	posting, err := NewJobPostingRepo(db).
		Create(context.Background(), testutil.NewJobPosting(externalID).Build())
	require.NoError(t, err)
	return posting
}

func TestQueueRecordRepo_CreateIsIdempotentPerRunAndJob(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewQueueRecordRepo(db)
		userID := fmt.Sprintf("user-%d", time.Now().UnixNano())
		run := createTestRun(t, db, userID)
		posting := createTestPosting(t, db, fmt.Sprintf("ext-%d", time.Now().UnixNano()))

		first, err := repo.Create(ctx, &model.QueueRecord{
			RunID:  run.ID,
			JobID:  posting.ID,
			UserID: userID,
			Status: model.QueueRecordStatusQueued,
		})
		require.NoError(t, err)
		require.NotEmpty(t, first.ID)
		assert.Equal(t, model.QueueRecordStatusQueued, first.Status)

		// Re-inserting the same pair returns the stored record unchanged,
		// even when the caller now claims a different decision.
		reason := model.SkipReasonDuplicate
		second, err := repo.Create(ctx, &model.QueueRecord{
			RunID:      run.ID,
			JobID:      posting.ID,
			UserID:     userID,
			Status:     model.QueueRecordStatusSkipped,
			SkipReason: &reason,
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, model.QueueRecordStatusQueued, second.Status)
		assert.Nil(t, second.SkipReason)
	})
}

func TestQueueRecordRepo_SkippedRequiresReason(t *testing.T) {
	repo := NewQueueRecordRepo(nil)
	_, err := repo.Create(context.Background(), &model.QueueRecord{
		RunID:  "run",
		JobID:  "job",
		UserID: "user",
		Status: model.QueueRecordStatusSkipped,
	})
	require.Error(t, err)
}

func TestQueueRecordRepo_MarkSent(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewQueueRecordRepo(db)
		userID := fmt.Sprintf("user-%d", time.Now().UnixNano())
		run := createTestRun(t, db, userID)
		posting := createTestPosting(t, db, fmt.Sprintf("ext-%d", time.Now().UnixNano()))

		rec, err := repo.Create(ctx, &model.QueueRecord{
			RunID:  run.ID,
			JobID:  posting.ID,
			UserID: userID,
			Status: model.QueueRecordStatusQueued,
		})
		require.NoError(t, err)

		queued, err := repo.CountQueuedByRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, queued)

		require.NoError(t, repo.MarkSent(ctx, rec.ID))

		got, err := repo.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, model.QueueRecordStatusSent, got.Status)
		require.NotNil(t, got.SentAt)
		sentAt := *got.SentAt

		// Marking again settles as a no-op and keeps the original timestamp.
		require.NoError(t, repo.MarkSent(ctx, rec.ID))
		again, err := repo.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		require.NotNil(t, again.SentAt)
		assert.True(t, again.SentAt.Equal(sentAt))

		require.ErrorIs(t, repo.MarkSent(ctx, "00000000-0000-0000-0000-000000000000"), ErrQueueRecordNotFound)

		queued, err = repo.CountQueuedByRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Zero(t, queued)
	})
}

func TestQueueRecordRepo_MarkSkipped(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewQueueRecordRepo(db)
		userID := fmt.Sprintf("user-%d", time.Now().UnixNano())
		run := createTestRun(t, db, userID)
		posting := createTestPosting(t, db, fmt.Sprintf("ext-%d", time.Now().UnixNano()))

		rec, err := repo.Create(ctx, &model.QueueRecord{
			RunID:  run.ID,
			JobID:  posting.ID,
			UserID: userID,
			Status: model.QueueRecordStatusQueued,
		})
		require.NoError(t, err)

		require.Error(t, repo.MarkSkipped(ctx, rec.ID, model.SkipReason("bogus"), ""))

		require.NoError(t, repo.MarkSkipped(ctx, rec.ID, model.SkipReasonMissingEvidence, "2 unsupported claims"))

		got, err := repo.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, model.QueueRecordStatusSkipped, got.Status)
		require.NotNil(t, got.SkipReason)
		assert.Equal(t, model.SkipReasonMissingEvidence, *got.SkipReason)
		require.NotNil(t, got.SkipDetail)
		assert.Equal(t, "2 unsupported claims", *got.SkipDetail)

		// A settled record keeps its state.
		require.NoError(t, repo.MarkSkipped(ctx, rec.ID, model.SkipReasonPolicyBlock, "later"))
		again, err := repo.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		require.NotNil(t, again.SkipReason)
		assert.Equal(t, model.SkipReasonMissingEvidence, *again.SkipReason)

		require.ErrorIs(t,
			repo.MarkSkipped(ctx, "00000000-0000-0000-0000-000000000000", model.SkipReasonMissingEvidence, ""),
			ErrQueueRecordNotFound)
	})
}

func TestQueueRecordRepo_ListSkipped(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewQueueRecordRepo(db)
		userID := fmt.Sprintf("user-%d", time.Now().UnixNano())
		run := createTestRun(t, db, userID)

		reasons := []model.SkipReason{
			model.SkipReasonLowMatchScore,
			model.SkipReasonPolicyBlock,
			model.SkipReasonCompanyCooldown,
		}
		for i, reason := range reasons {
			posting := createTestPosting(t, db, fmt.Sprintf("skip-%d-%d", time.Now().UnixNano(), i))
			detail := fmt.Sprintf("detail %d", i)
			_, err := repo.Create(ctx, &model.QueueRecord{
				RunID:      run.ID,
				JobID:      posting.ID,
				UserID:     userID,
				Status:     model.QueueRecordStatusSkipped,
				SkipReason: &reason,
				SkipDetail: &detail,
			})
			require.NoError(t, err)
		}
		// One queued record that must not show up.
		posting := createTestPosting(t, db, fmt.Sprintf("queued-%d", time.Now().UnixNano()))
		_, err := repo.Create(ctx, &model.QueueRecord{
			RunID:  run.ID,
			JobID:  posting.ID,
			UserID: userID,
			Status: model.QueueRecordStatusQueued,
		})
		require.NoError(t, err)

		skipped, err := repo.ListSkipped(ctx, model.SkippedListOptions{UserID: userID})
		require.NoError(t, err)
		require.Len(t, skipped, 3)
		for _, rec := range skipped {
			assert.Equal(t, model.QueueRecordStatusSkipped, rec.Status)
			require.NotNil(t, rec.SkipReason)
			require.NotNil(t, rec.SkipDetail)
		}

		reason := model.SkipReasonPolicyBlock
		blocked, err := repo.ListSkipped(ctx, model.SkippedListOptions{
			UserID: userID,
			RunID:  run.ID,
			Reason: &reason,
		})
		require.NoError(t, err)
		require.Len(t, blocked, 1)
		assert.Equal(t, model.SkipReasonPolicyBlock, *blocked[0].SkipReason)

		_, err = repo.ListSkipped(ctx, model.SkippedListOptions{})
		require.ErrorIs(t, err, ErrUserIDRequired)
	})
}
