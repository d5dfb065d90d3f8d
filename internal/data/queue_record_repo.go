package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/autoapply/autoapply/internal/data/database"
	"github.com/autoapply/autoapply/internal/data/pgxutil"
	"github.com/autoapply/autoapply/internal/domain/model"
)

// QueueRecordRepo provides database operations for admission decisions.
type QueueRecordRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewQueueRecordRepo creates a new QueueRecordRepo with real time provider.
func NewQueueRecordRepo(db *sql.DB) *QueueRecordRepo {
	return &QueueRecordRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewQueueRecordRepoWithTimeProvider creates a new QueueRecordRepo with a custom time provider.
func NewQueueRecordRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *QueueRecordRepo {
	return &QueueRecordRepo{DB: db, timeProvider: tp}
}

const queueRecordColumns = `id, run_id, job_id, user_id, status, skip_reason, skip_detail,
	skip_explanation, cooldown_until, queued_at, sent_at`

// Create inserts an admission decision. The (run, job) pair is the
// idempotency boundary: re-inserting an existing pair returns the stored
// record unchanged.
func (r *QueueRecordRepo) Create(
	ctx context.Context,
	rec *model.QueueRecord,
) (*model.QueueRecord, error) {
	if rec == nil {
		return nil, errors.New("queue record is required")
	}
	if !rec.Status.Valid() {
		return nil, fmt.Errorf("invalid queue record status %q", rec.Status)
	}
	if rec.Status == model.QueueRecordStatusSkipped {
		if rec.SkipReason == nil || !rec.SkipReason.Valid() {
			return nil, errors.New("skipped queue record requires a valid skip reason")
		}
	}

	now := r.timeProvider.Now().UTC()
	var out model.QueueRecord
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO queue_records (
				run_id, job_id, user_id, status, skip_reason, skip_detail,
				skip_explanation, cooldown_until, queued_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (run_id, job_id) DO NOTHING
			RETURNING `+queueRecordColumns,
			rec.RunID,
			rec.JobID,
			rec.UserID,
			rec.Status,
			rec.SkipReason,
			rec.SkipDetail,
			rec.SkipExplanation,
			rec.CooldownUntil,
			now,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.QueueRecord])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.GetByRunAndJob(ctx, rec.RunID, rec.JobID)
		}
		return nil, fmt.Errorf("failed to create queue record: %w", err)
	}
	return &out, nil
}

// GetByID retrieves a queue record by ID.
func (r *QueueRecordRepo) GetByID(ctx context.Context, id string) (*model.QueueRecord, error) {
	return r.getByQuery(ctx, `
		SELECT `+queueRecordColumns+`
		FROM queue_records
		WHERE id = $1`, id)
}

// GetByRunAndJob retrieves the admission decision for one (run, job) pair.
func (r *QueueRecordRepo) GetByRunAndJob(
	ctx context.Context,
	runID, jobID string,
) (*model.QueueRecord, error) {
	return r.getByQuery(ctx, `
		SELECT `+queueRecordColumns+`
		FROM queue_records
		WHERE run_id = $1 AND job_id = $2`, runID, jobID)
}

// MarkSent transitions a queued record to sent. Already-sent records are left
// untouched so re-delivered work settles as a no-op.
func (r *QueueRecordRepo) MarkSent(ctx context.Context, id string) error {
	now := r.timeProvider.Now().UTC()
	var affected int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, `
			UPDATE queue_records
			SET status = $2, sent_at = $3
			WHERE id = $1 AND status = $4`,
			id, model.QueueRecordStatusSent, now, model.QueueRecordStatusQueued)
		if err != nil {
			return err
		}
		affected = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark queue record sent: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing record from an already-sent one.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// MarkSkipped demotes a queued record to skipped with the given reason. Records
// that already settled keep their state so re-delivered work is a no-op.
func (r *QueueRecordRepo) MarkSkipped(
	ctx context.Context,
	id string,
	reason model.SkipReason,
	detail string,
) error {
	if !reason.Valid() {
		return fmt.Errorf("invalid skip reason %q", reason)
	}
	var detailPtr *string
	if detail != "" {
		detailPtr = &detail
	}
	var affected int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, `
			UPDATE queue_records
			SET status = $2, skip_reason = $3, skip_detail = $4
			WHERE id = $1 AND status = $5`,
			id, model.QueueRecordStatusSkipped, reason, detailPtr,
			model.QueueRecordStatusQueued)
		if err != nil {
			return err
		}
		affected = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark queue record skipped: %w", err)
	}
	if affected == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// ListByRun retrieves all admission decisions for a run in queue order.
func (r *QueueRecordRepo) ListByRun(
	ctx context.Context,
	runID string,
) ([]model.QueueRecord, error) {
	var rowsOut []model.QueueRecord
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+queueRecordColumns+`
			FROM queue_records
			WHERE run_id = $1
			ORDER BY queued_at ASC`, runID)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.QueueRecord])
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to list queue records: %w", err)
	}
	return rowsOut, nil
}

// ListSkipped retrieves skipped records for a user, newest first, with the
// stored reason, detail, and explanation.
func (r *QueueRecordRepo) ListSkipped(
	ctx context.Context,
	opts model.SkippedListOptions,
) ([]model.QueueRecord, error) {
	if opts.UserID == "" {
		return nil, ErrUserIDRequired
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := max(opts.Offset, 0)

	queryOpts := []database.ListQueryOption{
		database.WithColumns(queueRecordColumnList()...),
		database.WithCondition(database.WhereCond("user_id", database.Equal, opts.UserID)),
		database.WithCondition(
			database.WhereCond("status", database.Equal, string(model.QueueRecordStatusSkipped)),
		),
		database.WithOrderBy("queued_at", sortDirDesc),
		database.WithLimit(limit),
		database.WithOffset(offset),
	}
	if opts.RunID != "" {
		queryOpts = append(queryOpts,
			database.WithCondition(database.WhereCond("run_id", database.Equal, opts.RunID)))
	}
	if opts.Reason != nil {
		queryOpts = append(queryOpts,
			database.WithCondition(
				database.WhereCond("skip_reason", database.Equal, string(*opts.Reason))))
	}

	query, args := database.BuildListQuery(database.NewListQueryOptions("queue_records", queryOpts...))

	var rowsOut []model.QueueRecord
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.QueueRecord])
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to list skipped queue records: %w", err)
	}
	return rowsOut, nil
}

// CountQueuedByRun returns how many records of a run still await processing.
func (r *QueueRecordRepo) CountQueuedByRun(ctx context.Context, runID string) (int, error) {
	var count int
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, `
			SELECT COUNT(*)
			FROM queue_records
			WHERE run_id = $1 AND status = $2`,
			runID, model.QueueRecordStatusQueued).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count queued records: %w", err)
	}
	return count, nil
}

func queueRecordColumnList() []string {
	return []string{
		"id",
		"run_id",
		"job_id",
		"user_id",
		"status",
		"skip_reason",
		"skip_detail",
		"skip_explanation",
		"cooldown_until",
		"queued_at",
		"sent_at",
	}
}

func (r *QueueRecordRepo) getByQuery(
	ctx context.Context,
	q string,
	args ...any,
) (*model.QueueRecord, error) {
	var rec model.QueueRecord
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		rec, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.QueueRecord])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQueueRecordNotFound
		}
		return nil, fmt.Errorf("failed to get queue record: %w", err)
	}
	return &rec, nil
}
