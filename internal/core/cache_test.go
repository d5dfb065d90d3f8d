package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoapply/autoapply/internal/domain/model"
)

// stubCacheRepo provides a minimal in-memory CacheRepository for tests.
type stubCacheRepo struct {
	values map[string][]byte
	getErr error
	sets   int
}

func newStubCacheRepo() *stubCacheRepo {
	return &stubCacheRepo{values: make(map[string][]byte)}
}

func (s *stubCacheRepo) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.values[key] = value
	s.sets++
	return nil
}

func (s *stubCacheRepo) Get(_ context.Context, key string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.values[key], nil
}

func (s *stubCacheRepo) Delete(_ context.Context, key string) (bool, error) {
	_, ok := s.values[key]
	delete(s.values, key)
	return ok, nil
}

func (s *stubCacheRepo) Exists(_ context.Context, key string) (bool, error) {
	_, ok := s.values[key]
	return ok, nil
}

func (s *stubCacheRepo) SetTTL(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("not implemented")
}

func (s *stubCacheRepo) SetIfNotExists(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, errors.New("not implemented")
}

func (s *stubCacheRepo) Health(context.Context) error { return nil }

// stubPolicyRepo provides a minimal PolicyRepository implementation for tests.
type stubPolicyRepo struct {
	policies map[string]*model.ApplyPolicy
	err      error
	loads    int
}

func (s *stubPolicyRepo) GetByUser(_ context.Context, userID string) (*model.ApplyPolicy, error) {
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	if policy, ok := s.policies[userID]; ok {
		return policy, nil
	}
	return nil, ErrPolicyNotFound
}

func (s *stubPolicyRepo) Upsert(context.Context, *model.ApplyPolicy) (*model.ApplyPolicy, error) {
	return nil, errors.New("not implemented")
}

func (s *stubPolicyRepo) SetKillSwitch(context.Context, string, bool) error {
	return errors.New("not implemented")
}

func newPolicyCacheForTest(cache CacheRepository, policies PolicyRepository) *PolicyCacheService {
	return NewPolicyCacheService(PolicyCacheServiceOptions{
		Cache:    cache,
		Policies: policies,
		Config:   DefaultPolicyCacheConfig(),
	})
}

func TestPolicyCacheService_ResolvePolicy(t *testing.T) {
	t.Parallel()

	t.Run("empty user ID", func(t *testing.T) {
		t.Parallel()

		svc := newPolicyCacheForTest(newStubCacheRepo(), &stubPolicyRepo{})
		_, err := svc.ResolvePolicy(context.Background(), "")
		assert.ErrorIs(t, err, ErrUserIDRequired)
	})

	t.Run("miss loads from repository and populates cache", func(t *testing.T) {
		t.Parallel()

		stored := model.DefaultApplyPolicy("user-1")
		stored.MinMatchScore = 70
		cache := newStubCacheRepo()
		repo := &stubPolicyRepo{policies: map[string]*model.ApplyPolicy{"user-1": &stored}}
		svc := newPolicyCacheForTest(cache, repo)

		policy, err := svc.ResolvePolicy(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, 70, policy.MinMatchScore)
		assert.Equal(t, 1, cache.sets)

		// Second resolve is served from the cache.
		policy, err = svc.ResolvePolicy(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, 70, policy.MinMatchScore)
		assert.Equal(t, 1, repo.loads)
	})

	t.Run("missing policy falls back to default", func(t *testing.T) {
		t.Parallel()

		svc := newPolicyCacheForTest(newStubCacheRepo(), &stubPolicyRepo{})
		policy, err := svc.ResolvePolicy(context.Background(), "user-2")
		require.NoError(t, err)
		assert.Equal(t, "user-2", policy.UserID)
		assert.Equal(t, 10, policy.MaxApplicationsPerDay)
		assert.Equal(t, 40, policy.MinMatchScore)
		assert.False(t, policy.KillSwitch)
	})

	t.Run("repository error propagates", func(t *testing.T) {
		t.Parallel()

		repoErr := errors.New("connection refused")
		svc := newPolicyCacheForTest(newStubCacheRepo(), &stubPolicyRepo{err: repoErr})
		_, err := svc.ResolvePolicy(context.Background(), "user-3")
		assert.ErrorIs(t, err, repoErr)
	})

	t.Run("corrupt cache entry reloads from repository", func(t *testing.T) {
		t.Parallel()

		stored := model.DefaultApplyPolicy("user-4")
		cache := newStubCacheRepo()
		cache.values["policy:user:user-4"] = []byte("{not json")
		repo := &stubPolicyRepo{policies: map[string]*model.ApplyPolicy{"user-4": &stored}}
		svc := newPolicyCacheForTest(cache, repo)

		policy, err := svc.ResolvePolicy(context.Background(), "user-4")
		require.NoError(t, err)
		assert.Equal(t, "user-4", policy.UserID)
		assert.Equal(t, 1, repo.loads)
	})

	t.Run("cache get error falls through to repository", func(t *testing.T) {
		t.Parallel()

		stored := model.DefaultApplyPolicy("user-5")
		cache := newStubCacheRepo()
		cache.getErr = errors.New("redis down")
		repo := &stubPolicyRepo{policies: map[string]*model.ApplyPolicy{"user-5": &stored}}
		svc := newPolicyCacheForTest(cache, repo)

		policy, err := svc.ResolvePolicy(context.Background(), "user-5")
		require.NoError(t, err)
		assert.Equal(t, "user-5", policy.UserID)
	})
}

func TestPolicyCacheService_InvalidatePolicy(t *testing.T) {
	t.Parallel()

	stored := model.DefaultApplyPolicy("user-6")
	cache := newStubCacheRepo()
	repo := &stubPolicyRepo{policies: map[string]*model.ApplyPolicy{"user-6": &stored}}
	svc := newPolicyCacheForTest(cache, repo)

	_, err := svc.ResolvePolicy(context.Background(), "user-6")
	require.NoError(t, err)
	require.Equal(t, 1, repo.loads)

	require.NoError(t, svc.InvalidatePolicy(context.Background(), "user-6"))

	_, err = svc.ResolvePolicy(context.Background(), "user-6")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.loads)

	// Empty user ID is a no-op.
	assert.NoError(t, svc.InvalidatePolicy(context.Background(), ""))
}
