package adapter

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/renderpipe/engine/internal/ffmpeg"
)

// MockAdapterURLScheme prefixes every asset URL the mock adapter produces.
// The AI worker recognizes this scheme and reads the file directly from
// disk instead of downloading it over HTTP.
const MockAdapterURLScheme = "mock-cdn://"

type mockJob struct {
	prompt       string
	aspectRatio  string
	duration     int
	done         bool
	assetPath    string
	err          error
	forcedCode   ErrorCode
}

// MockConfig controls the mock adapter's synthesis behavior.
type MockConfig struct {
	// GenerationDelay is how long Initiate's background synthesis waits
	// before running ffmpeg. Zero means synthesize immediately.
	GenerationDelay time.Duration
	// FailRate is the probability (0..1) that a job which reaches synthesis
	// (any job without a terminal force_error, including one whose retryable
	// force_error attempts are used up) fails with a generic generation
	// error instead of completing. Used for randomized soak testing; segment-level test
	// scenarios should prefer the deterministic force_error override below.
	FailRate float64
}

// MockAdapter synthesizes a real, playable video for every prompt using
// ffmpeg (a solid-color background with the prompt text overlaid) instead
// of calling out to an external model. It exists for local development,
// integration tests, and any environment without a live model API key.
//
// Two model_params let a caller deterministically drive the failure
// paths: "force_error" names an
// ErrorCode to fail with, and "force_error_attempts" (default 1) bounds how
// many times a retryable force_error fires, keyed per prompt, before the
// job succeeds — the mock equivalent of a flaky-then-recovers adapter.
type MockAdapter struct {
	ffmpeg *ffmpeg.Service
	cfg    MockConfig

	mu       sync.Mutex
	jobs     map[string]*mockJob
	attempts map[string]int
}

func NewMockAdapter(cfg MockConfig) *MockAdapter {
	svc, err := ffmpeg.NewService("/tmp/renderpipe-mock")
	if err != nil {
		// The mock adapter has no other failure mode at construction time;
		// a temp-dir create failure here means the environment itself is
		// broken, which every other adapter would fail on too.
		svc = nil
	}
	return &MockAdapter{
		ffmpeg:   svc,
		cfg:      cfg,
		jobs:     make(map[string]*mockJob),
		attempts: make(map[string]int),
	}
}

var _ Adapter = (*MockAdapter)(nil)

func (m *MockAdapter) Name() string { return "mock" }

func (m *MockAdapter) Initiate(ctx context.Context, prompt string, params map[string]interface{}) (string, error) {
	if m.ffmpeg == nil {
		return "", newError(ErrConnection, "mock adapter ffmpeg service unavailable", nil)
	}

	if code, ok := forcedErrorCode(params); ok && !code.Retryable() {
		// Terminal force_error codes (WORKFLOW, PARAMETERS, OUTPUT) surface
		// through the generation pipeline as if the model itself rejected
		// the job, not at Initiate — the job is accepted, then fails.
		jobID := uuid.New().String()
		job := &mockJob{prompt: prompt, done: true, err: fmt.Errorf("forced %s failure", code), forcedCode: code}
		m.mu.Lock()
		m.jobs[jobID] = job
		m.mu.Unlock()
		return jobID, nil
	}

	if code, ok := forcedErrorCode(params); ok {
		// Retryable force_error codes (CONNECTION, TIMEOUT, GENERATION) fail
		// Initiate itself for force_error_attempts calls keyed by prompt,
		// then succeed, simulating a flaky service that recovers.
		maxAttempts := 1
		if n, ok := params["force_error_attempts"].(float64); ok && n > 0 {
			maxAttempts = int(n)
		}
		m.mu.Lock()
		attempt := m.attempts[prompt]
		m.attempts[prompt] = attempt + 1
		m.mu.Unlock()
		if attempt < maxAttempts {
			return "", newError(code, fmt.Sprintf("forced %s failure (attempt %d/%d)", code, attempt+1, maxAttempts), nil)
		}
	}

	aspectRatio, _ := params["aspect_ratio"].(string)
	duration := 4
	if d, ok := params["duration_seconds"].(float64); ok && d > 0 {
		duration = int(d)
	}

	jobID := uuid.New().String()
	job := &mockJob{prompt: prompt, aspectRatio: aspectRatio, duration: duration}

	m.mu.Lock()
	m.jobs[jobID] = job
	m.mu.Unlock()

	// Synthesize synchronously but off the caller's goroutine so Initiate
	// returns immediately, matching the initiate/poll split every other
	// adapter follows even though this one never has to wait on a remote
	// service.
	go m.synthesize(jobID, job)

	return jobID, nil
}

// forcedErrorCode reads the deterministic test override out of a segment's
// model params, if present.
func forcedErrorCode(params map[string]interface{}) (ErrorCode, bool) {
	raw, ok := params["force_error"].(string)
	if !ok || raw == "" {
		return "", false
	}
	return ErrorCode(strings.ToLower(raw)), true
}

func (m *MockAdapter) synthesize(jobID string, job *mockJob) {
	if m.cfg.GenerationDelay > 0 {
		time.Sleep(m.cfg.GenerationDelay)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if m.cfg.FailRate > 0 && rand.Float64() < m.cfg.FailRate {
		m.mu.Lock()
		job.done = true
		job.err = fmt.Errorf("simulated generation failure")
		job.forcedCode = ErrGeneration
		m.mu.Unlock()
		return
	}

	outputPath := m.ffmpeg.CreateTempFile(jobID + ".mp4")
	err := m.ffmpeg.SynthesizeTextClip(ctx, job.prompt, job.aspectRatio, job.duration, outputPath)

	m.mu.Lock()
	defer m.mu.Unlock()
	job.done = true
	if err != nil {
		job.err = err
		return
	}
	job.assetPath = outputPath
}

func (m *MockAdapter) GetStatus(ctx context.Context, externalJobID string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[externalJobID]
	if !ok {
		return "", newError(ErrWorkflow, fmt.Sprintf("unknown job %s", externalJobID), nil)
	}
	if !job.done {
		return StatusProcessing, nil
	}
	if job.err != nil {
		return StatusFailed, nil
	}
	return StatusCompleted, nil
}

func (m *MockAdapter) GetResult(ctx context.Context, externalJobID string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[externalJobID]
	if !ok {
		return Result{}, newError(ErrWorkflow, fmt.Sprintf("unknown job %s", externalJobID), nil)
	}
	if !job.done {
		return Result{Status: StatusProcessing}, nil
	}
	if job.err != nil {
		code := job.forcedCode
		if code == "" {
			code = ErrGeneration
		}
		return Result{Status: StatusFailed, ErrorCode: code, ErrorMessage: job.err.Error()}, nil
	}

	return Result{
		Status:   StatusCompleted,
		AssetURL: MockAdapterURLScheme + job.assetPath,
	}, nil
}

func (m *MockAdapter) Cancel(ctx context.Context, externalJobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[externalJobID]
	if !ok {
		return false, nil
	}
	job.done = true
	if job.err == nil {
		job.err = fmt.Errorf("cancelled")
	}
	return true, nil
}
