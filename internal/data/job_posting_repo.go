package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/autoapply/autoapply/internal/data/pgxutil"
	"github.com/autoapply/autoapply/internal/domain/model"
)

// JobPostingRepo provides database operations for ingested job postings.
type JobPostingRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewJobPostingRepo creates a new JobPostingRepo with real time provider.
func NewJobPostingRepo(db *sql.DB) *JobPostingRepo {
	return &JobPostingRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

const jobPostingColumns = `id, external_id, source, company, title, location, is_remote,
	description, requirements, skills, employment_type, apply_url, content_hash, created_at`

// Create inserts a posting. Postings are deduplicated on content hash; an
// insert that collides returns the already stored posting.
func (r *JobPostingRepo) Create(
	ctx context.Context,
	posting *model.JobPosting,
) (*model.JobPosting, error) {
	if posting == nil {
		return nil, errors.New("job posting is required")
	}

	now := r.timeProvider.Now().UTC()
	var out model.JobPosting
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO job_postings (
				external_id, source, company, title, location, is_remote, description,
				requirements, skills, employment_type, apply_url, content_hash, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (content_hash) DO NOTHING
			RETURNING `+jobPostingColumns,
			posting.ExternalID,
			posting.Source,
			posting.Company,
			posting.Title,
			posting.Location,
			posting.IsRemote,
			posting.Description,
			jsonArray(posting.Requirements),
			jsonArray(posting.Skills),
			posting.EmploymentType,
			posting.ApplyURL,
			posting.ContentHash,
			now,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.JobPosting])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.getByQuery(ctx, `
				SELECT `+jobPostingColumns+`
				FROM job_postings
				WHERE content_hash = $1`, posting.ContentHash)
		}
		return nil, fmt.Errorf("failed to create job posting: %w", err)
	}
	return &out, nil
}

// GetByID retrieves a posting by ID.
func (r *JobPostingRepo) GetByID(ctx context.Context, id string) (*model.JobPosting, error) {
	return r.getByQuery(ctx, `
		SELECT `+jobPostingColumns+`
		FROM job_postings
		WHERE id = $1`, id)
}

// ListRecent retrieves the most recently ingested postings, newest first.
func (r *JobPostingRepo) ListRecent(ctx context.Context, limit int) ([]model.JobPosting, error) {
	if limit <= 0 {
		limit = 200
	}

	var rowsOut []model.JobPosting
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+jobPostingColumns+`
			FROM job_postings
			ORDER BY created_at DESC
			LIMIT $1`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.JobPosting])
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to list recent job postings: %w", err)
	}
	return rowsOut, nil
}

// CompaniesByIDs returns a job ID to company map for the given posting IDs.
// Used by the policy gate to resolve company cooldown windows.
func (r *JobPostingRepo) CompaniesByIDs(
	ctx context.Context,
	ids []string,
) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, company
			FROM job_postings
			WHERE id = ANY($1)`, ids)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id, company string
			if err := rows.Scan(&id, &company); err != nil {
				return err
			}
			out[id] = company
		}
		return rows.Err()
	}); err != nil {
		return nil, fmt.Errorf("failed to resolve posting companies: %w", err)
	}
	return out, nil
}

func (r *JobPostingRepo) getByQuery(
	ctx context.Context,
	q string,
	args ...any,
) (*model.JobPosting, error) {
	var posting model.JobPosting
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		posting, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.JobPosting])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobPostingNotFound
		}
		return nil, fmt.Errorf("failed to get job posting: %w", err)
	}
	return &posting, nil
}
