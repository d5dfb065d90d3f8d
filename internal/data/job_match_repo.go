package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/autoapply/autoapply/internal/data/pgxutil"
	"github.com/autoapply/autoapply/internal/domain/model"
)

// JobMatchRepo provides database operations for per-run match scores.
type JobMatchRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewJobMatchRepo creates a new JobMatchRepo with real time provider.
func NewJobMatchRepo(db *sql.DB) *JobMatchRepo {
	return &JobMatchRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

const jobMatchColumns = `id, run_id, job_id, match_score, skill_overlap_score,
	experience_fit_score, constraint_fit_score, ranking_reason, created_at`

// CreateBatch inserts match records for a run. Matches are write-once per
// (run, job); rows that already exist are left untouched.
func (r *JobMatchRepo) CreateBatch(ctx context.Context, matches []model.JobMatch) error {
	if len(matches) == 0 {
		return nil
	}

	now := r.timeProvider.Now().UTC()
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			batch := &pgx.Batch{}
			for _, m := range matches {
				batch.Queue(`
					INSERT INTO job_matches (
						run_id, job_id, match_score, skill_overlap_score,
						experience_fit_score, constraint_fit_score, ranking_reason, created_at
					) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
					ON CONFLICT (run_id, job_id) DO NOTHING`,
					m.RunID,
					m.JobID,
					m.MatchScore,
					m.SkillOverlapScore,
					m.ExperienceFitScore,
					m.ConstraintFitScore,
					m.RankingReason,
					now,
				)
			}
			return tx.SendBatch(ctx, batch).Close()
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create job matches: %w", err)
	}
	return nil
}

// ListByRun retrieves all match records for a run ordered by score descending.
func (r *JobMatchRepo) ListByRun(ctx context.Context, runID string) ([]model.JobMatch, error) {
	var rowsOut []model.JobMatch
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+jobMatchColumns+`
			FROM job_matches
			WHERE run_id = $1
			ORDER BY match_score DESC, created_at ASC`, runID)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.JobMatch])
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to list job matches: %w", err)
	}
	return rowsOut, nil
}
