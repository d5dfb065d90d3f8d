package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/autoapply/autoapply/config"
	"github.com/autoapply/autoapply/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockReaperRepo is a simple mock implementation for testing.
type mockReaperRepo struct {
	failStalePendingTasksCalled int
	failStalePendingTasksCount  int64
	failStalePendingTasksError  error

	deleteOldTasksCalled int
	deleteOldTasksCount  int64
	deleteOldTasksError  error
}

func (m *mockReaperRepo) FailStalePendingTasks(
	ctx context.Context,
	maxAge time.Duration,
	batchSize int,
) (int64, error) {
	m.failStalePendingTasksCalled++
	if m.failStalePendingTasksError != nil {
		return 0, m.failStalePendingTasksError
	}
	// Return count on first call, then 0 to simulate batch exhaustion
	if m.failStalePendingTasksCalled == 1 {
		return m.failStalePendingTasksCount, nil
	}
	return 0, nil
}

func (m *mockReaperRepo) DeleteOldTasks(
	ctx context.Context,
	params core.DeleteOldTasksParams,
) (int64, error) {
	m.deleteOldTasksCalled++
	if m.deleteOldTasksError != nil {
		return 0, m.deleteOldTasksError
	}
	// Return count on odd calls (1st, 3rd, 5th...), then 0 on even calls to simulate batch exhaustion
	// This allows multiple cleanup operations (completed, failed) to each get their batch
	if m.deleteOldTasksCalled%2 == 1 {
		return m.deleteOldTasksCount, nil
	}
	return 0, nil
}

func TestNewReaperService(t *testing.T) {
	t.Run("creates service with valid options", func(t *testing.T) {
		repo := &mockReaperRepo{}
		cfg := config.ReaperConfig{
			Interval:        5 * time.Minute,
			PendingMaxAge:   1 * time.Hour,
			CompletedMaxAge: 7 * 24 * time.Hour,
			FailedMaxAge:    7 * 24 * time.Hour,
			BatchSize:       1000,
		}

		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: cfg,
			Logger: slog.Default(),
		})

		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("returns error when repo is nil", func(t *testing.T) {
		cfg := config.ReaperConfig{
			Interval:        5 * time.Minute,
			PendingMaxAge:   1 * time.Hour,
			CompletedMaxAge: 7 * 24 * time.Hour,
			FailedMaxAge:    7 * 24 * time.Hour,
			BatchSize:       1000,
		}

		_, err := NewReaperService(ReaperServiceOptions{
			Repo:   nil,
			Config: cfg,
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "ReaperRepository is required")
	})
}

func TestReaperService_runCleanup(t *testing.T) {
	t.Run("runs all cleanup operations successfully", func(t *testing.T) {
		repo := &mockReaperRepo{
			failStalePendingTasksCount: 5,
			deleteOldTasksCount:        10,
		}
		cfg := config.ReaperConfig{
			Interval:        5 * time.Minute,
			PendingMaxAge:   1 * time.Hour,
			CompletedMaxAge: 7 * 24 * time.Hour,
			FailedMaxAge:    7 * 24 * time.Hour,
			BatchSize:       1000,
		}

		svc, _ := MustNewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: cfg,
		})

		ctx := context.Background()
		err := svc.runCleanup(ctx)

		require.NoError(t, err)
		// Each operation is called twice: once returning count, once returning 0
		assert.Equal(t, 2, repo.failStalePendingTasksCalled)
		// DeleteOldTasks is called twice per status (completed, failed): 2 * 2 = 4
		assert.Equal(t, 4, repo.deleteOldTasksCalled)
	})

	t.Run("continues on partial errors", func(t *testing.T) {
		repo := &mockReaperRepo{
			failStalePendingTasksError: errors.New("fail error"),
			deleteOldTasksCount:        10,
		}
		cfg := config.ReaperConfig{
			Interval:        5 * time.Minute,
			PendingMaxAge:   1 * time.Hour,
			CompletedMaxAge: 7 * 24 * time.Hour,
			FailedMaxAge:    7 * 24 * time.Hour,
			BatchSize:       1000,
		}

		svc, _ := MustNewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: cfg,
		})

		ctx := context.Background()
		err := svc.runCleanup(ctx)

		// Should return error but still call all cleanup methods
		require.Error(t, err)
		// FailStalePendingTasks called once (returns error immediately)
		assert.Equal(t, 1, repo.failStalePendingTasksCalled)
		// DeleteOldTasks called twice per status (completed, failed): 2 * 2 = 4
		assert.Equal(t, 4, repo.deleteOldTasksCalled)
	})
}

func TestReaperService_Run(t *testing.T) {
	t.Run("stops on context cancellation", func(t *testing.T) {
		repo := &mockReaperRepo{}
		cfg := config.ReaperConfig{
			Interval:        100 * time.Millisecond,
			PendingMaxAge:   1 * time.Hour,
			CompletedMaxAge: 7 * 24 * time.Hour,
			FailedMaxAge:    7 * 24 * time.Hour,
			BatchSize:       1000,
		}

		svc, _ := MustNewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: cfg,
		})

		ctx, cancel := context.WithCancel(context.Background())

		// Run in goroutine
		done := make(chan error, 1)
		go func() {
			done <- svc.Run(ctx)
		}()

		// Wait a bit to ensure at least one cleanup runs
		time.Sleep(150 * time.Millisecond)

		// Cancel context
		cancel()

		// Wait for Run to return
		select {
		case err := <-done:
			// Should return nil on graceful shutdown
			require.NoError(t, err)
		case <-time.After(1 * time.Second):
			t.Fatal("Run did not stop after context cancellation")
		}

		// Verify cleanup was called at least once (initial + maybe one tick)
		assert.GreaterOrEqual(t, repo.failStalePendingTasksCalled, 1)
	})

	t.Run("continues running despite cleanup errors", func(t *testing.T) {
		repo := &mockReaperRepo{
			failStalePendingTasksError: errors.New("test error"),
		}
		cfg := config.ReaperConfig{
			Interval:        50 * time.Millisecond,
			PendingMaxAge:   1 * time.Hour,
			CompletedMaxAge: 7 * 24 * time.Hour,
			FailedMaxAge:    7 * 24 * time.Hour,
			BatchSize:       1000,
		}

		svc, _ := MustNewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: cfg,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		err := svc.Run(ctx)

		// Should return context deadline exceeded, not the cleanup error
		require.Error(t, err)
		require.ErrorIs(t, err, context.DeadlineExceeded)

		// Verify cleanup was called multiple times despite errors
		assert.GreaterOrEqual(t, repo.failStalePendingTasksCalled, 2)
	})
}

func TestReaperService_failStalePendingTasks(t *testing.T) {
	t.Run("calls repo with correct max age", func(t *testing.T) {
		repo := &mockReaperRepo{
			failStalePendingTasksCount: 3,
		}
		cfg := config.ReaperConfig{
			PendingMaxAge: 2 * time.Hour,
			BatchSize:     1000,
		}

		svc, _ := MustNewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: cfg,
		})

		ctx := context.Background()
		count, err := svc.failStalePendingTasks(ctx)

		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
		// Called twice: once returning count, once returning 0
		assert.Equal(t, 2, repo.failStalePendingTasksCalled)
	})
}

func TestReaperService_deleteOldCompletedTasks(t *testing.T) {
	t.Run("calls repo with correct status and max age", func(t *testing.T) {
		repo := &mockReaperRepo{
			deleteOldTasksCount: 5,
		}
		cfg := config.ReaperConfig{
			CompletedMaxAge: 7 * 24 * time.Hour,
			BatchSize:       1000,
		}

		svc, _ := MustNewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: cfg,
		})

		ctx := context.Background()
		count, err := svc.deleteOldCompletedTasks(ctx)

		require.NoError(t, err)
		assert.Equal(t, int64(5), count)
		// Called twice: once returning count, once returning 0
		assert.Equal(t, 2, repo.deleteOldTasksCalled)
	})
}

func TestReaperService_deleteOldFailedTasks(t *testing.T) {
	t.Run("calls repo with correct status and max age", func(t *testing.T) {
		repo := &mockReaperRepo{
			deleteOldTasksCount: 8,
		}
		cfg := config.ReaperConfig{
			FailedMaxAge: 7 * 24 * time.Hour,
			BatchSize:    1000,
		}

		svc, _ := MustNewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: cfg,
		})

		ctx := context.Background()
		count, err := svc.deleteOldFailedTasks(ctx)

		require.NoError(t, err)
		assert.Equal(t, int64(8), count)
		// Called twice: once returning count, once returning 0
		assert.Equal(t, 2, repo.deleteOldTasksCalled)
	})
}
