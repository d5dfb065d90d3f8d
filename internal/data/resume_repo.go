package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/autoapply/autoapply/internal/data/pgxutil"
	"github.com/autoapply/autoapply/internal/domain/model"
)

// ResumeRepo provides database operations for stored resumes.
type ResumeRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewResumeRepo creates a new ResumeRepo with real time provider.
func NewResumeRepo(db *sql.DB) *ResumeRepo {
	return &ResumeRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

const resumeColumns = `id, user_id, name, file_url, position, education, skills, projects,
	experience, links, bullets, proof_links, variants, created_at, updated_at`

// ListByUser retrieves all resumes for a user ordered by position.
func (r *ResumeRepo) ListByUser(ctx context.Context, userID string) ([]*model.Resume, error) {
	var rowsOut []model.Resume
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+resumeColumns+`
			FROM resumes
			WHERE user_id = $1
			ORDER BY position ASC, created_at ASC`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Resume])
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to list resumes: %w", err)
	}

	res := make([]*model.Resume, len(rowsOut))
	for i := range rowsOut {
		res[i] = &rowsOut[i]
	}
	return res, nil
}

// Create inserts a new resume record.
func (r *ResumeRepo) Create(ctx context.Context, resume *model.Resume) (*model.Resume, error) {
	now := r.timeProvider.Now().UTC()
	var out model.Resume
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO resumes (
				user_id, name, file_url, position, education, skills, projects,
				experience, links, bullets, proof_links, variants, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
			RETURNING `+resumeColumns,
			resume.UserID,
			resume.Name,
			resume.FileURL,
			resume.Position,
			jsonArray(resume.Education),
			jsonArray(resume.Skills),
			jsonArray(resume.Projects),
			jsonArray(resume.Experience),
			jsonArray(resume.Links),
			jsonArray(resume.Bullets),
			jsonArray(resume.ProofLinks),
			variantsOrEmpty(resume.Variants),
			now,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Resume])
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to create resume: %w", err)
	}
	return &out, nil
}

// jsonArray normalizes a nil slice to an empty one so JSONB columns store []
// instead of null.
func jsonArray(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func variantsOrEmpty(in []model.ResumeVariant) []model.ResumeVariant {
	if in == nil {
		return []model.ResumeVariant{}
	}
	return in
}
