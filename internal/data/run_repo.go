package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/autoapply/autoapply/internal/data/pgxutil"
	"github.com/autoapply/autoapply/internal/domain/model"
	apperrors "github.com/autoapply/autoapply/internal/errors"
)

// RunRepo provides database operations for discovery runs.
type RunRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewRunRepo creates a new RunRepo with real time provider.
func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewRunRepoWithTimeProvider creates a new RunRepo with a custom time provider (useful for tests).
func NewRunRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *RunRepo {
	return &RunRepo{DB: db, timeProvider: tp}
}

const runColumns = `id, user_id, status, applied_count_today, skipped_count_today, kill_switch,
	last_checkpoint, last_error, started_at, finished_at, created_at, updated_at`

// Create starts a new run for a user. At most one run per user may be active;
// a second concurrent start returns model.ErrRunAlreadyActive.
func (r *RunRepo) Create(ctx context.Context, req *model.StartRunRequest) (*model.Run, error) {
	if req == nil {
		return nil, errors.New("start run request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.timeProvider.Now().UTC()
	var out model.Run
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO runs (user_id, status, started_at, created_at, updated_at)
			VALUES ($1, $2, $3, $3, $3)
			RETURNING `+runColumns,
			req.UserID, model.RunStatusRunning, now,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Run])
		return err
	}); err != nil {
		if mapped := apperrors.MapDBError(err); apperrors.IsConflict(mapped) {
			return nil, model.ErrRunAlreadyActive
		}
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return &out, nil
}

// GetByID retrieves a run by ID.
func (r *RunRepo) GetByID(ctx context.Context, id string) (*model.Run, error) {
	return r.getByQuery(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
}

// GetLatestByUser retrieves the most recently started run for a user.
func (r *RunRepo) GetLatestByUser(ctx context.Context, userID string) (*model.Run, error) {
	return r.getByQuery(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT 1`, userID)
}

// GetActiveByUser retrieves the user's currently running run, if any.
func (r *RunRepo) GetActiveByUser(ctx context.Context, userID string) (*model.Run, error) {
	return r.getByQuery(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE user_id = $1 AND status = $2
		LIMIT 1`, userID, model.RunStatusRunning)
}

// SetCheckpoint records the last completed pipeline stage on an active run.
func (r *RunRepo) SetCheckpoint(ctx context.Context, id, checkpoint string) error {
	return r.exec(ctx, `
		UPDATE runs
		SET last_checkpoint = $2, updated_at = $3
		WHERE id = $1 AND status = $4`,
		id, checkpoint, r.timeProvider.Now().UTC(), model.RunStatusRunning)
}

// IncrementCounters atomically adds to the run's applied and skipped counters.
func (r *RunRepo) IncrementCounters(ctx context.Context, id string, applied, skipped int) error {
	if applied == 0 && skipped == 0 {
		return nil
	}
	return r.exec(ctx, `
		UPDATE runs
		SET applied_count_today = applied_count_today + $2,
		    skipped_count_today = skipped_count_today + $3,
		    updated_at = $4
		WHERE id = $1`,
		id, applied, skipped, r.timeProvider.Now().UTC())
}

// EngageKillSwitch sets the kill switch on an active run. Workers observe the
// flag before each unit of work and stop admitting new jobs.
func (r *RunRepo) EngageKillSwitch(ctx context.Context, id string) error {
	return r.exec(ctx, `
		UPDATE runs
		SET kill_switch = TRUE, updated_at = $2
		WHERE id = $1 AND status = $3`,
		id, r.timeProvider.Now().UTC(), model.RunStatusRunning)
}

// Finish transitions a run to a terminal status. The transition happens at
// most once: a run that already reached a terminal state is left untouched
// and the stale finish is reported as ErrRunNotFound.
func (r *RunRepo) Finish(
	ctx context.Context,
	id string,
	status model.RunStatus,
	lastError *string,
) (*model.Run, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("finish requires a terminal status, got %q", status)
	}
	if lastError != nil && strings.TrimSpace(*lastError) == "" {
		lastError = nil
	}

	now := r.timeProvider.Now().UTC()
	var out model.Run
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			UPDATE runs
			SET status = $2, last_error = $3, finished_at = $4, updated_at = $4
			WHERE id = $1 AND status = $5
			RETURNING `+runColumns,
			id, status, lastError, now, model.RunStatusRunning,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Run])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to finish run: %w", err)
	}
	return &out, nil
}

func (r *RunRepo) getByQuery(ctx context.Context, q string, args ...any) (*model.Run, error) {
	var run model.Run
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		run, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Run])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// exec runs an update and maps zero affected rows to ErrRunNotFound.
func (r *RunRepo) exec(ctx context.Context, q string, args ...any) error {
	var affected int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, q, args...)
		if err != nil {
			return err
		}
		affected = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if affected == 0 {
		return ErrRunNotFound
	}
	return nil
}
