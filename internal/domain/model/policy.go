package model

import (
	"errors"
	"time"
)

// ApplyPolicy holds the per-user admission-control rules evaluated by the
// policy gate before any job is queued for application.
type ApplyPolicy struct {
	UserID                string    `json:"user_id"                  db:"user_id"`
	MaxApplicationsPerDay int       `json:"max_applications_per_day" db:"max_applications_per_day"`
	MinMatchScore         int       `json:"min_match_score"          db:"min_match_score"`
	AllowedLocations      []string  `json:"allowed_locations"        db:"allowed_locations"`
	RemoteOnly            bool      `json:"remote_only"              db:"remote_only"`
	VisaRequired          bool      `json:"visa_required"            db:"visa_required"`
	BlockedCompanies      []string  `json:"blocked_companies"        db:"blocked_companies"`
	BlockedRoles          []string  `json:"blocked_roles"            db:"blocked_roles"`
	CompanyCooldownDays   int       `json:"company_cooldown_days"    db:"company_cooldown_days"`
	KillSwitch            bool      `json:"kill_switch"              db:"kill_switch"`
	CreatedAt             time.Time `json:"created_at"               db:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"               db:"updated_at"`
}

// DefaultApplyPolicy returns the policy applied when a user has none stored.
func DefaultApplyPolicy(userID string) ApplyPolicy {
	return ApplyPolicy{
		UserID:                userID,
		MaxApplicationsPerDay: 10,
		MinMatchScore:         40,
		CompanyCooldownDays:   30,
	}
}

// Validate validates the ApplyPolicy fields.
func (p *ApplyPolicy) Validate() error {
	if p.UserID == "" {
		return errors.New("user id is required")
	}
	if p.MaxApplicationsPerDay < 0 {
		return errors.New("max applications per day must be >= 0")
	}
	if p.MinMatchScore < 0 || p.MinMatchScore > 100 {
		return errors.New("min match score must be between 0 and 100")
	}
	if p.CompanyCooldownDays < 0 {
		return errors.New("company cooldown days must be >= 0")
	}
	return nil
}
