package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:  "single service - http",
			input: "http",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP: true,
			},
			expectError: false,
		},
		{
			name:  "single service - discovery-runner",
			input: "discovery-runner",
			expected: map[ServiceMode]bool{
				ServiceModeDiscoveryRunner: true,
			},
			expectError: false,
		},
		{
			name:  "single service - apply-runner",
			input: "apply-runner",
			expected: map[ServiceMode]bool{
				ServiceModeApplyRunner: true,
			},
			expectError: false,
		},
		{
			name:  "multiple services - http and discovery-runner",
			input: "http,discovery-runner",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:            true,
				ServiceModeDiscoveryRunner: true,
			},
			expectError: false,
		},
		{
			name:  "all services",
			input: "http,discovery-runner,apply-runner,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:            true,
				ServiceModeDiscoveryRunner: true,
				ServiceModeApplyRunner:     true,
				ServiceModeReaper:          true,
			},
			expectError: false,
		},
		{
			name:  "services with spaces",
			input: " http , discovery-runner , reaper ",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:            true,
				ServiceModeDiscoveryRunner: true,
				ServiceModeReaper:          true,
			},
			expectError: false,
		},
		{
			name:  "duplicate services",
			input: "http,http,apply-runner",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:        true,
				ServiceModeApplyRunner: true,
			},
			expectError: false,
		},
		{
			name:        "empty string",
			input:       "",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "only spaces and commas",
			input:       " , , ",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "http,invalid-service",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "mixed valid and invalid",
			input:       "http,discovery-runner,invalid",
			expected:    nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestConfig_GetEnabledServices(t *testing.T) {
	tests := []struct {
		name        string
		services    string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "default configuration",
			services: "http",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP: true,
			},
			expectError: false,
		},
		{
			name:     "multiple services",
			services: "http,apply-runner",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:        true,
				ServiceModeApplyRunner: true,
			},
			expectError: false,
		},
		{
			name:        "invalid configuration",
			services:    "invalid-service",
			expected:    nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}
			result, err := cfg.GetEnabledServices()

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestAppConfig_ParseRunnerEnv(t *testing.T) {
	t.Setenv("DISCOVERY_RUNNER_CONCURRENCY", "3")
	t.Setenv("DISCOVERY_CANDIDATE_WINDOW", "50")
	t.Setenv("APPLY_RUNNER_RATE_LIMIT", "20")
	t.Setenv("APPLY_RUNNER_RATE_WINDOW", "30s")
	t.Setenv("APPLY_SUBMIT_ATTEMPTS", "5")
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("SUBMISSION_ENDPOINT", "https://boards.example.com/apply")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}

	if cfg.DiscoveryRunner.Concurrency != 3 {
		t.Errorf("expected discovery concurrency 3, got %d", cfg.DiscoveryRunner.Concurrency)
	}
	if cfg.DiscoveryRunner.CandidateWindow != 50 {
		t.Errorf("expected candidate window 50, got %d", cfg.DiscoveryRunner.CandidateWindow)
	}
	if cfg.ApplyRunner.RateLimit != 20 {
		t.Errorf("expected rate limit 20, got %d", cfg.ApplyRunner.RateLimit)
	}
	if cfg.ApplyRunner.RateWindow != 30*time.Second {
		t.Errorf("expected rate window 30s, got %v", cfg.ApplyRunner.RateWindow)
	}
	if cfg.ApplyRunner.SubmitAttempts != 5 {
		t.Errorf("expected submit attempts 5, got %d", cfg.ApplyRunner.SubmitAttempts)
	}
	if cfg.Generation.APIKey != "test-key" {
		t.Errorf("expected generation api key to be set")
	}
	if cfg.Generation.Model != "gemini-2.5-flash" {
		t.Errorf("expected default generation model, got %q", cfg.Generation.Model)
	}
	if cfg.Submission.Endpoint != "https://boards.example.com/apply" {
		t.Errorf("unexpected submission endpoint %q", cfg.Submission.Endpoint)
	}
	if cfg.Submission.Timeout != 30*time.Second {
		t.Errorf("expected default submission timeout, got %v", cfg.Submission.Timeout)
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name              string
		services          string
		expectedHTTP      bool
		expectedDiscovery bool
		expectedApply     bool
	}{
		{
			name:              "default - http only",
			services:          "http",
			expectedHTTP:      true,
			expectedDiscovery: false,
			expectedApply:     false,
		},
		{
			name:              "http and discovery-runner",
			services:          "http,discovery-runner",
			expectedHTTP:      true,
			expectedDiscovery: true,
			expectedApply:     false,
		},
		{
			name:              "all workers",
			services:          "http,discovery-runner,apply-runner",
			expectedHTTP:      true,
			expectedDiscovery: true,
			expectedApply:     true,
		},
		{
			name:              "discovery-runner only",
			services:          "discovery-runner",
			expectedHTTP:      false,
			expectedDiscovery: true,
			expectedApply:     false,
		},
		{
			name:              "apply-runner only",
			services:          "apply-runner",
			expectedHTTP:      false,
			expectedDiscovery: false,
			expectedApply:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}

			if cfg.IsHTTPServerEnabled() != tt.expectedHTTP {
				t.Errorf("IsHTTPServerEnabled(): expected %v, got %v", tt.expectedHTTP, cfg.IsHTTPServerEnabled())
			}

			if cfg.IsDiscoveryRunnerEnabled() != tt.expectedDiscovery {
				t.Errorf(
					"IsDiscoveryRunnerEnabled(): expected %v, got %v",
					tt.expectedDiscovery,
					cfg.IsDiscoveryRunnerEnabled(),
				)
			}

			if cfg.IsApplyRunnerEnabled() != tt.expectedApply {
				t.Errorf("IsApplyRunnerEnabled(): expected %v, got %v", tt.expectedApply, cfg.IsApplyRunnerEnabled())
			}
		})
	}
}

func TestConfig_ServiceEnabledMethodsWithInvalidConfig(t *testing.T) {
	cfg := AppConfig{Services: "invalid-service"}

	// All methods should return false when configuration is invalid
	if cfg.IsHTTPServerEnabled() != false {
		t.Errorf("IsHTTPServerEnabled() with invalid config: expected false, got true")
	}

	if cfg.IsDiscoveryRunnerEnabled() != false {
		t.Errorf("IsDiscoveryRunnerEnabled() with invalid config: expected false, got true")
	}

	if cfg.IsApplyRunnerEnabled() != false {
		t.Errorf("IsApplyRunnerEnabled() with invalid config: expected false, got true")
	}
}

func TestValidServiceModes(t *testing.T) {
	modes := ValidServiceModes()
	expected := []ServiceMode{
		ServiceModeHTTP,
		ServiceModeDiscoveryRunner,
		ServiceModeApplyRunner,
		ServiceModeReaper,
	}

	if len(modes) != len(expected) {
		t.Errorf("expected %d service modes, got %d", len(expected), len(modes))
	}

	for i, mode := range modes {
		if mode != expected[i] {
			t.Errorf("expected service mode %s at index %d, got %s", expected[i], i, mode)
		}
	}
}

func TestReaperConfig_Sanitize(t *testing.T) {
	cfg := ReaperConfig{
		Interval:        time.Second,
		PendingMaxAge:   time.Minute,
		CompletedMaxAge: time.Minute,
		FailedMaxAge:    time.Minute,
		BatchSize:       0,
	}

	cfg.Sanitize()

	if cfg.Interval < time.Minute {
		t.Errorf("expected interval to be clamped, got %v", cfg.Interval)
	}
	if cfg.PendingMaxAge < 5*time.Minute {
		t.Errorf("expected pending max age to be clamped, got %v", cfg.PendingMaxAge)
	}
	if cfg.CompletedMaxAge < time.Hour {
		t.Errorf("expected completed max age to be clamped, got %v", cfg.CompletedMaxAge)
	}
	if cfg.BatchSize != 1 {
		t.Errorf("expected batch size to be clamped to 1, got %d", cfg.BatchSize)
	}

	cfg = ReaperConfig{BatchSize: 50000}
	cfg.Sanitize()
	if cfg.BatchSize != 10000 {
		t.Errorf("expected batch size to be capped at 10000, got %d", cfg.BatchSize)
	}
}

func TestApplyRunnerConfig_Sanitize(t *testing.T) {
	cfg := ApplyRunnerConfig{}
	cfg.Sanitize()

	if cfg.Concurrency != 1 {
		t.Errorf("expected concurrency floor of 1, got %d", cfg.Concurrency)
	}
	if cfg.RateLimit != 1 {
		t.Errorf("expected rate limit floor of 1, got %d", cfg.RateLimit)
	}
	if cfg.TaskLease < 5*time.Second {
		t.Errorf("expected task lease floor, got %v", cfg.TaskLease)
	}
	if cfg.SubmitAttempts != 1 {
		t.Errorf("expected submit attempts floor of 1, got %d", cfg.SubmitAttempts)
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " ",
	}

	cfg.Sanitize()

	if cfg.Enabled {
		t.Fatalf("expected enabled to be false when address is empty")
	}

	cfg = ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " statsd:1234 ",
	}

	cfg.Sanitize()

	if !cfg.IsEnabled() {
		t.Fatalf("expected metrics to remain enabled")
	}
	if cfg.StatsdAddress != "statsd:1234" {
		t.Fatalf("expected address to be trimmed, got %q", cfg.StatsdAddress)
	}
}

func TestObservabilityNotificationsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityNotificationsConfig{
		Enabled:    true,
		Timeout:    0,
		RetryLimit: -1,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: " ",
			Channel:    "  ",
			Username:   "",
		},
		PagerDuty: PagerDutyNotificationConfig{
			Enabled:    true,
			RoutingKey: " ",
			Source:     "",
			Component:  "",
		},
	}

	cfg.Sanitize()

	if cfg.Timeout <= 0 {
		t.Fatalf("expected timeout to fall back to default, got %v", cfg.Timeout)
	}
	if cfg.RetryLimit < 0 {
		t.Fatalf("expected retry limit to be clamped to >= 0, got %d", cfg.RetryLimit)
	}
	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled without a webhook url")
	}
	if cfg.PagerDuty.Enabled {
		t.Fatal("expected pagerduty to be disabled without a routing key")
	}
	if cfg.PagerDuty.Source != "autoapply" {
		t.Fatalf("expected pagerduty source default, got %q", cfg.PagerDuty.Source)
	}
	if cfg.PagerDuty.Component != "autoapply" {
		t.Fatalf("expected pagerduty component default, got %q", cfg.PagerDuty.Component)
	}

	// Disabled top-level should disable child sinks.
	cfg = ObservabilityNotificationsConfig{
		Enabled: false,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: "https://hooks.slack.com/services/test",
		},
		PagerDuty: PagerDutyNotificationConfig{
			Enabled:    true,
			RoutingKey: "abc",
		},
	}
	cfg.Sanitize()

	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled when top-level notifications disabled")
	}
	if cfg.PagerDuty.Enabled {
		t.Fatal("expected pagerduty to be disabled when top-level notifications disabled")
	}
}
