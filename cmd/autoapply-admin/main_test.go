package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoapply/autoapply/internal/domain/model"
)

func TestIsLikelyRemoteHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"", false},
		{"localhost", false},
		{"127.0.0.1", false},
		{"::1", false},
		{"devbox.local", false},
		{"10.1.2.3", true},
		{"db.prod.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, isLikelyRemoteHost(tt.host))
		})
	}
}

func TestResolveTaskTypes(t *testing.T) {
	all, err := resolveTaskTypes("")
	require.NoError(t, err)
	assert.Equal(t, []model.TaskType{model.TaskTypeDiscovery, model.TaskTypeApply}, all)

	apply, err := resolveTaskTypes("apply")
	require.NoError(t, err)
	assert.Equal(t, []model.TaskType{model.TaskTypeApply}, apply)

	_, err = resolveTaskTypes("browser")
	require.Error(t, err)
}

func TestBuildPolicyCachePattern(t *testing.T) {
	assert.Equal(t, "policy:user:*", buildPolicyCachePattern(""))
	assert.Equal(t, "policy:user:u-1", buildPolicyCachePattern("u-1"))
}

func TestFormatCacheTTL(t *testing.T) {
	assert.Equal(t, "none", formatCacheTTL(-1))
	assert.Equal(t, "5m0s", formatCacheTTL(5*time.Minute))
}

func TestParseRequeueFlags(t *testing.T) {
	opts, err := parseRequeueFlags([]string{"-type", "apply", "-limit", "10", "-dry-run"})
	require.NoError(t, err)
	assert.Equal(t, "apply", opts.Type)
	assert.Equal(t, 10, opts.Limit)
	assert.True(t, opts.DryRun)

	_, err = parseRequeueFlags([]string{"-limit", "0"})
	require.Error(t, err)
}

func TestParsePolicyCacheClearFlags(t *testing.T) {
	_, err := parsePolicyCacheClearFlags(nil)
	require.Error(t, err)

	_, err = parsePolicyCacheClearFlags([]string{"-user", "u-1", "-all"})
	require.Error(t, err)

	opts, err := parsePolicyCacheClearFlags([]string{"-all", "-yes"})
	require.NoError(t, err)
	assert.True(t, opts.All)
	assert.True(t, opts.Yes)
}
