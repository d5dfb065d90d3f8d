package failurenotifier

import (
	"context"
	"errors"
	"testing"

	"github.com/autoapply/autoapply/internal/observability/notify"
)

func TestServiceNotifyTaskFailure(t *testing.T) {
	ctx := context.Background()

	var received []notify.TaskFailurePayload
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{
				Name: "capture",
				Sink: notify.SinkFunc(func(ctx context.Context, payload notify.TaskFailurePayload) error {
					received = append(received, payload)
					return nil
				}),
			},
		},
	})

	svc.NotifyTaskFailure(ctx, notify.TaskFailurePayload{
		TaskID:   "123",
		TaskType: "apply",
	})

	if len(received) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(received))
	}
	if received[0].Severity != notify.SeverityCritical {
		t.Fatalf("expected severity to default to critical, got %s", received[0].Severity)
	}
}

func TestServiceDisabled(t *testing.T) {
	svc := NewService(Options{})
	if svc.Enabled() {
		t.Fatal("expected Enabled() to be false when no sinks registered")
	}
}

func TestServiceLogsErrors(t *testing.T) {
	// Ensure we don't panic when sink returns an error.
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{
				Name: "fail",
				Sink: notify.SinkFunc(func(ctx context.Context, payload notify.TaskFailurePayload) error {
					return errors.New("boom")
				}),
			},
		},
	})

	svc.NotifyTaskFailure(context.Background(), notify.TaskFailurePayload{TaskID: "123"})
}

func TestServiceSkipsTestTask(t *testing.T) {
	ctx := context.Background()
	var called bool
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{
				Name: "capture",
				Sink: notify.SinkFunc(func(ctx context.Context, payload notify.TaskFailurePayload) error {
					called = true
					return nil
				}),
			},
		},
	})

	svc.NotifyTaskFailure(ctx, notify.TaskFailurePayload{
		TaskID:   "test-task",
		TaskType: "discovery",
		IsTest:   true,
	})

	if called {
		t.Fatal("expected sink not to be invoked for test task")
	}
}
