package adapter

import (
	"context"
	"testing"
	"time"
)

func TestMockAdapterLifecycle(t *testing.T) {
	m := NewMockAdapter(MockConfig{})
	if m.ffmpeg == nil {
		t.Skip("ffmpeg not available in this environment")
	}

	ctx := context.Background()
	jobID, err := m.Initiate(ctx, "a dog running across a field", map[string]interface{}{
		"aspect_ratio":     "9:16",
		"duration_seconds": float64(2),
	})
	if err != nil {
		t.Fatalf("Initiate returned error: %v", err)
	}
	if jobID == "" {
		t.Fatal("expected non-empty external job id")
	}

	deadline := time.Now().Add(10 * time.Second)
	var status Status
	for time.Now().Before(deadline) {
		status, err = m.GetStatus(ctx, jobID)
		if err != nil {
			t.Fatalf("GetStatus returned error: %v", err)
		}
		if status == StatusCompleted || status == StatusFailed {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if status != StatusCompleted {
		t.Fatalf("expected job to complete, got status %s", status)
	}

	result, err := m.GetResult(ctx, jobID)
	if err != nil {
		t.Fatalf("GetResult returned error: %v", err)
	}
	if result.AssetURL == "" {
		t.Fatal("expected non-empty asset URL")
	}
}

func TestMockAdapterUnknownJob(t *testing.T) {
	m := NewMockAdapter(MockConfig{})
	ctx := context.Background()

	if _, err := m.GetStatus(ctx, "does-not-exist"); err == nil {
		t.Fatal("expected error for unknown job id")
	}
}

func TestMockAdapterForcedWorkflowFailure(t *testing.T) {
	m := NewMockAdapter(MockConfig{})
	if m.ffmpeg == nil {
		t.Skip("ffmpeg not available in this environment")
	}
	ctx := context.Background()

	jobID, err := m.Initiate(ctx, "a forbidden prompt", map[string]interface{}{
		"force_error": "workflow",
	})
	if err != nil {
		t.Fatalf("Initiate returned error: %v", err)
	}

	status, err := m.GetStatus(ctx, jobID)
	if err != nil {
		t.Fatalf("GetStatus returned error: %v", err)
	}
	if status != StatusFailed {
		t.Fatalf("expected StatusFailed, got %s", status)
	}

	result, err := m.GetResult(ctx, jobID)
	if err != nil {
		t.Fatalf("GetResult returned error: %v", err)
	}
	if result.ErrorCode != ErrWorkflow {
		t.Errorf("ErrorCode = %v, want %v", result.ErrorCode, ErrWorkflow)
	}
}

func TestMockAdapterForcedConnectionFailureThenSuccess(t *testing.T) {
	m := NewMockAdapter(MockConfig{})
	if m.ffmpeg == nil {
		t.Skip("ffmpeg not available in this environment")
	}
	ctx := context.Background()
	params := map[string]interface{}{
		"force_error":          "connection",
		"force_error_attempts": float64(1),
	}

	if _, err := m.Initiate(ctx, "a flaky prompt", params); err == nil {
		t.Fatal("expected first Initiate attempt to fail")
	} else if adapterErr, ok := err.(*Error); !ok || adapterErr.Code != ErrConnection {
		t.Fatalf("expected ErrConnection, got %v", err)
	}

	jobID, err := m.Initiate(ctx, "a flaky prompt", params)
	if err != nil {
		t.Fatalf("expected second Initiate attempt to succeed, got %v", err)
	}
	if jobID == "" {
		t.Fatal("expected non-empty job id on successful retry")
	}
}

func TestErrorCodeRetryable(t *testing.T) {
	cases := map[ErrorCode]bool{
		ErrConnection: true,
		ErrTimeout:    true,
		ErrGeneration: true,
		ErrWorkflow:   false,
		ErrParameters: false,
		ErrOutput:     false,
	}

	for code, want := range cases {
		if got := code.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", code, got, want)
		}
	}
}
