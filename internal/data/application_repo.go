package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/autoapply/autoapply/internal/data/database"
	"github.com/autoapply/autoapply/internal/data/pgxutil"
	"github.com/autoapply/autoapply/internal/domain/model"
)

// ApplicationRepo provides database operations for submitted applications.
type ApplicationRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewApplicationRepo creates a new ApplicationRepo with real time provider.
func NewApplicationRepo(db *sql.DB) *ApplicationRepo {
	return &ApplicationRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewApplicationRepoWithTimeProvider creates a new ApplicationRepo with a custom time provider.
func NewApplicationRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ApplicationRepo {
	return &ApplicationRepo{DB: db, timeProvider: tp}
}

// Sort directions shared by the list queries in this package.
const (
	sortDirAsc  = "ASC"
	sortDirDesc = "DESC"
)

const applicationColumns = `id, run_id, job_id, user_id, resume_variant_used, answered_questions,
	validation_state, status, attempts, receipt, error, timeline, created_at, updated_at`

// Upsert writes the application record for one (run, job) pair. The first
// write inserts; later writes for the same pair replace the mutable fields
// and append the new timeline entries, so each submission attempt settles
// into a single row.
func (r *ApplicationRepo) Upsert(
	ctx context.Context,
	app *model.Application,
) (*model.Application, error) {
	if app == nil {
		return nil, errors.New("application is required")
	}
	if !app.Status.Valid() {
		return nil, fmt.Errorf("invalid application status %q", app.Status)
	}

	now := r.timeProvider.Now().UTC()
	var out model.Application
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO applications (
				run_id, job_id, user_id, resume_variant_used, answered_questions,
				validation_state, status, attempts, receipt, error, timeline,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
			ON CONFLICT (run_id, job_id) DO UPDATE SET
				resume_variant_used = EXCLUDED.resume_variant_used,
				answered_questions = EXCLUDED.answered_questions,
				validation_state = EXCLUDED.validation_state,
				status = EXCLUDED.status,
				attempts = EXCLUDED.attempts,
				receipt = EXCLUDED.receipt,
				error = EXCLUDED.error,
				timeline = applications.timeline || EXCLUDED.timeline,
				updated_at = EXCLUDED.updated_at
			RETURNING `+applicationColumns,
			app.RunID,
			app.JobID,
			app.UserID,
			app.ResumeVariantUsed,
			questionsOrEmpty(app.AnsweredQuestions),
			app.ValidationState,
			app.Status,
			app.Attempts,
			app.Receipt,
			app.Error,
			timelineOrEmpty(app.Timeline),
			now,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Application])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert application: %w", err)
	}
	return &out, nil
}

// AppendTimeline adds one progress marker to an application's timeline.
func (r *ApplicationRepo) AppendTimeline(
	ctx context.Context,
	id string,
	entry model.TimelineEntry,
) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.timeProvider.Now().UTC()
	}
	var affected int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, `
			UPDATE applications
			SET timeline = timeline || $2::jsonb, updated_at = $3
			WHERE id = $1`,
			id, []model.TimelineEntry{entry}, r.timeProvider.Now().UTC())
		if err != nil {
			return err
		}
		affected = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append application timeline: %w", err)
	}
	if affected == 0 {
		return ErrApplicationNotFound
	}
	return nil
}

// GetByID retrieves an application by ID.
func (r *ApplicationRepo) GetByID(ctx context.Context, id string) (*model.Application, error) {
	return r.getByQuery(ctx, `
		SELECT `+applicationColumns+`
		FROM applications
		WHERE id = $1`, id)
}

// GetByRunAndJob retrieves the application for one (run, job) pair.
func (r *ApplicationRepo) GetByRunAndJob(
	ctx context.Context,
	runID, jobID string,
) (*model.Application, error) {
	return r.getByQuery(ctx, `
		SELECT `+applicationColumns+`
		FROM applications
		WHERE run_id = $1 AND job_id = $2`, runID, jobID)
}

// List retrieves applications for a user, newest first.
func (r *ApplicationRepo) List(
	ctx context.Context,
	opts model.ApplicationsListOptions,
) ([]model.Application, error) {
	if opts.UserID == "" {
		return nil, ErrUserIDRequired
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := max(opts.Offset, 0)

	queryOpts := []database.ListQueryOption{
		database.WithColumns(applicationColumnList()...),
		database.WithCondition(database.WhereCond("user_id", database.Equal, opts.UserID)),
		database.WithOrderBy("created_at", sortDirDesc),
		database.WithLimit(limit),
		database.WithOffset(offset),
	}
	if opts.RunID != "" {
		queryOpts = append(queryOpts,
			database.WithCondition(database.WhereCond("run_id", database.Equal, opts.RunID)))
	}
	if opts.Status != nil {
		queryOpts = append(queryOpts,
			database.WithCondition(
				database.WhereCond("status", database.Equal, string(*opts.Status))))
	}

	query, args := database.BuildListQuery(database.NewListQueryOptions("applications", queryOpts...))

	var rowsOut []model.Application
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Application])
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	return rowsOut, nil
}

// SubmittedJobIDs returns the set of job IDs the user has ever applied to
// with a successful submission. Used for duplicate detection.
func (r *ApplicationRepo) SubmittedJobIDs(
	ctx context.Context,
	userID string,
) (map[string]bool, error) {
	out := make(map[string]bool)
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT job_id
			FROM applications
			WHERE user_id = $1 AND status IN ($2, $3)`,
			userID, model.ApplicationStatusSubmitted, model.ApplicationStatusRetried)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var jobID string
			if err := rows.Scan(&jobID); err != nil {
				return err
			}
			out[jobID] = true
		}
		return rows.Err()
	}); err != nil {
		return nil, fmt.Errorf("failed to load submitted job ids: %w", err)
	}
	return out, nil
}

// ListSubmittedSince retrieves successful applications created at or after
// the cutoff. Feeds the company cooldown window.
func (r *ApplicationRepo) ListSubmittedSince(
	ctx context.Context,
	userID string,
	since time.Time,
) ([]model.Application, error) {
	var rowsOut []model.Application
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+applicationColumns+`
			FROM applications
			WHERE user_id = $1 AND status IN ($2, $3) AND created_at >= $4
			ORDER BY created_at ASC`,
			userID, model.ApplicationStatusSubmitted, model.ApplicationStatusRetried, since)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Application])
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to list submitted applications: %w", err)
	}
	return rowsOut, nil
}

// CountSubmittedSince returns how many successful submissions the user made
// at or after the cutoff. Feeds the daily application cap.
func (r *ApplicationRepo) CountSubmittedSince(
	ctx context.Context,
	userID string,
	since time.Time,
) (int, error) {
	var count int
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, `
			SELECT COUNT(*)
			FROM applications
			WHERE user_id = $1 AND status IN ($2, $3) AND created_at >= $4`,
			userID, model.ApplicationStatusSubmitted, model.ApplicationStatusRetried, since,
		).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count submitted applications: %w", err)
	}
	return count, nil
}

func applicationColumnList() []string {
	return []string{
		"id",
		"run_id",
		"job_id",
		"user_id",
		"resume_variant_used",
		"answered_questions",
		"validation_state",
		"status",
		"attempts",
		"receipt",
		"error",
		"timeline",
		"created_at",
		"updated_at",
	}
}

func questionsOrEmpty(in []model.AnsweredQuestion) []model.AnsweredQuestion {
	if in == nil {
		return []model.AnsweredQuestion{}
	}
	return in
}

func timelineOrEmpty(in []model.TimelineEntry) []model.TimelineEntry {
	if in == nil {
		return []model.TimelineEntry{}
	}
	return in
}

func (r *ApplicationRepo) getByQuery(
	ctx context.Context,
	q string,
	args ...any,
) (*model.Application, error) {
	var app model.Application
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		app, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Application])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrApplicationNotFound
		}
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return &app, nil
}
