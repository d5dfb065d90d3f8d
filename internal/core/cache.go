// Package core provides the business logic and service layer for the autoapply pipeline.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/autoapply/autoapply/internal/domain/model"
)

// CacheRepository defines the interface for caching operations.
// This follows the hexagonal architecture pattern where the core defines interfaces
// and the data layer provides implementations.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists checks if a key exists in the cache.
	Exists(ctx context.Context, key string) (bool, error)

	// SetTTL updates the TTL for an existing key.
	// Returns true if the key exists and TTL was updated.
	SetTTL(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	// Returns true if the key was set, false if it already existed.
	// This is useful for implementing distributed locks and deduplication.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// PolicyCacheService caches resolved apply policies per user so the discovery
// gate does not hit Postgres for every candidate job.
type PolicyCacheService struct {
	cache    CacheRepository
	policies PolicyRepository
	ttl      time.Duration
}

// PolicyCacheConfig holds configuration for policy caching.
type PolicyCacheConfig struct {
	TTL time.Duration `json:"ttl"`
}

// PolicyCacheServiceOptions bundles dependencies for NewPolicyCacheService.
type PolicyCacheServiceOptions struct {
	Cache    CacheRepository
	Policies PolicyRepository
	Config   PolicyCacheConfig
}

// DefaultPolicyCacheConfig returns a PolicyCacheConfig with sensible defaults.
func DefaultPolicyCacheConfig() PolicyCacheConfig {
	return PolicyCacheConfig{
		TTL: 5 * time.Minute,
	}
}

// NewPolicyCacheService creates a new PolicyCacheService.
func NewPolicyCacheService(opts PolicyCacheServiceOptions) *PolicyCacheService {
	return &PolicyCacheService{
		cache:    opts.Cache,
		policies: opts.Policies,
		ttl:      opts.Config.TTL,
	}
}

// ResolvePolicy returns the effective policy for a user. Cache hits skip the
// repository; misses load from the repository (falling back to the default
// policy when none is stored) and populate the cache.
func (s *PolicyCacheService) ResolvePolicy(ctx context.Context, userID string) (*model.ApplyPolicy, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	key := s.policyKey(userID)
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key)
		if err == nil && len(cached) > 0 {
			var policy model.ApplyPolicy
			if err := json.Unmarshal(cached, &policy); err == nil {
				return &policy, nil
			}
			// Corrupt entry, drop it and reload from the repository.
			_, _ = s.cache.Delete(ctx, key)
		}
	}

	policy, err := s.policies.GetByUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrPolicyNotFound) {
			return nil, err
		}
		fallback := model.DefaultApplyPolicy(userID)
		policy = &fallback
	}

	if s.cache != nil {
		if encoded, err := json.Marshal(policy); err == nil {
			_ = s.cache.Set(ctx, key, encoded, s.ttl)
		}
	}
	return policy, nil
}

// InvalidatePolicy removes the cached policy for a user.
// This should be called when a policy is updated or a kill switch toggles.
func (s *PolicyCacheService) InvalidatePolicy(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}

	_, err := s.cache.Delete(ctx, s.policyKey(userID))
	return err
}

// policyKey generates a cache key for a user's apply policy.
func (s *PolicyCacheService) policyKey(userID string) string {
	return "policy:user:" + userID
}
