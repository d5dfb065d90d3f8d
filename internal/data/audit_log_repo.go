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

// AuditLogRepo provides append and query operations for the audit trail.
// Events are append-only; there is no update or delete path.
type AuditLogRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewAuditLogRepo creates a new AuditLogRepo with real time provider.
func NewAuditLogRepo(db *sql.DB) *AuditLogRepo {
	return &AuditLogRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewAuditLogRepoWithTimeProvider creates a new AuditLogRepo with a custom time provider.
func NewAuditLogRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *AuditLogRepo {
	return &AuditLogRepo{DB: db, timeProvider: tp}
}

const auditLogColumns = `id, run_id, job_id, user_id, stage, level, message, metadata, created_at`

// Append inserts one audit event.
func (r *AuditLogRepo) Append(ctx context.Context, ev *model.LogEvent) (*model.LogEvent, error) {
	if ev == nil {
		return nil, errors.New("log event is required")
	}
	if ev.RunID == "" {
		return nil, ErrRunIDRequired
	}
	if !ev.Level.Valid() {
		return nil, fmt.Errorf("invalid log level %q", ev.Level)
	}

	metadata := ev.Metadata
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}

	var out model.LogEvent
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO audit_logs (run_id, job_id, user_id, stage, level, message, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+auditLogColumns,
			ev.RunID,
			ev.JobID,
			ev.UserID,
			ev.Stage,
			ev.Level,
			ev.Message,
			metadata,
			r.timeProvider.Now().UTC(),
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.LogEvent])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append audit log: %w", err)
	}
	return &out, nil
}

// Query retrieves audit events matching the filter, newest first. The
// JMESPath expression filter is applied by the caller; this layer only
// serves the indexed columns.
func (r *AuditLogRepo) Query(ctx context.Context, q model.LogQuery) ([]model.LogEvent, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := max(q.Offset, 0)

	queryOpts := []database.ListQueryOption{
		database.WithColumns(auditLogColumnList()...),
		database.WithOrderBy("created_at", sortDirDesc),
		database.WithLimit(limit),
		database.WithOffset(offset),
	}
	if q.RunID != "" {
		queryOpts = append(queryOpts,
			database.WithCondition(database.WhereCond("run_id", database.Equal, q.RunID)))
	}
	if q.UserID != "" {
		queryOpts = append(queryOpts,
			database.WithCondition(database.WhereCond("user_id", database.Equal, q.UserID)))
	}
	if q.Stage != "" {
		queryOpts = append(queryOpts,
			database.WithCondition(database.WhereCond("stage", database.Equal, q.Stage)))
	}
	if q.Level != "" {
		queryOpts = append(queryOpts,
			database.WithCondition(database.WhereCond("level", database.Equal, string(q.Level))))
	}

	query, args := database.BuildListQuery(database.NewListQueryOptions("audit_logs", queryOpts...))

	var rowsOut []model.LogEvent
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.LogEvent])
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	return rowsOut, nil
}

func auditLogColumnList() []string {
	return []string{
		"id",
		"run_id",
		"job_id",
		"user_id",
		"stage",
		"level",
		"message",
		"metadata",
		"created_at",
	}
}
