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

// PolicyRepo provides database operations for per-user apply policies.
type PolicyRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewPolicyRepo creates a new PolicyRepo with real time provider.
func NewPolicyRepo(db *sql.DB) *PolicyRepo {
	return &PolicyRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

const policyColumns = `user_id, max_applications_per_day, min_match_score, allowed_locations,
	remote_only, visa_required, blocked_companies, blocked_roles, company_cooldown_days,
	kill_switch, created_at, updated_at`

// GetByUser retrieves the stored policy for a user. A user without a stored
// policy returns ErrPolicyNotFound; callers fall back to the default policy.
func (r *PolicyRepo) GetByUser(ctx context.Context, userID string) (*model.ApplyPolicy, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	var policy model.ApplyPolicy
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+policyColumns+`
			FROM apply_policies
			WHERE user_id = $1`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		policy, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.ApplyPolicy])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPolicyNotFound
		}
		return nil, fmt.Errorf("failed to get apply policy: %w", err)
	}
	return &policy, nil
}

// Upsert stores or replaces the policy for a user.
func (r *PolicyRepo) Upsert(
	ctx context.Context,
	policy *model.ApplyPolicy,
) (*model.ApplyPolicy, error) {
	if policy == nil {
		return nil, errors.New("apply policy is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	now := r.timeProvider.Now().UTC()
	var out model.ApplyPolicy
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO apply_policies (
				user_id, max_applications_per_day, min_match_score, allowed_locations,
				remote_only, visa_required, blocked_companies, blocked_roles,
				company_cooldown_days, kill_switch, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
			ON CONFLICT (user_id) DO UPDATE SET
				max_applications_per_day = EXCLUDED.max_applications_per_day,
				min_match_score = EXCLUDED.min_match_score,
				allowed_locations = EXCLUDED.allowed_locations,
				remote_only = EXCLUDED.remote_only,
				visa_required = EXCLUDED.visa_required,
				blocked_companies = EXCLUDED.blocked_companies,
				blocked_roles = EXCLUDED.blocked_roles,
				company_cooldown_days = EXCLUDED.company_cooldown_days,
				kill_switch = EXCLUDED.kill_switch,
				updated_at = EXCLUDED.updated_at
			RETURNING `+policyColumns,
			policy.UserID,
			policy.MaxApplicationsPerDay,
			policy.MinMatchScore,
			jsonArray(policy.AllowedLocations),
			policy.RemoteOnly,
			policy.VisaRequired,
			jsonArray(policy.BlockedCompanies),
			jsonArray(policy.BlockedRoles),
			policy.CompanyCooldownDays,
			policy.KillSwitch,
			now,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.ApplyPolicy])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert apply policy: %w", err)
	}
	return &out, nil
}

// SetKillSwitch flips the user-level kill switch. Workers check this flag
// before each unit of work.
func (r *PolicyRepo) SetKillSwitch(ctx context.Context, userID string, on bool) error {
	if userID == "" {
		return ErrUserIDRequired
	}

	var affected int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, `
			UPDATE apply_policies
			SET kill_switch = $2, updated_at = $3
			WHERE user_id = $1`,
			userID, on, r.timeProvider.Now().UTC())
		if err != nil {
			return err
		}
		affected = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set kill switch: %w", err)
	}
	if affected == 0 {
		// No stored policy yet; persist the default with the switch applied.
		def := model.DefaultApplyPolicy(userID)
		def.KillSwitch = on
		_, err = r.Upsert(ctx, &def)
		return err
	}
	return nil
}
