// Package aiworker consumes segment generation tasks and drives them
// through a model adapter to completion: initiate, poll until terminal
// status or a bounded time budget expires, fetch the result, upload the
// asset, and record completion. When a segment is a render job's last
// outstanding one, the worker triggers composition inline instead of
// relying on anything subscribing to the advisory completion fanout.
package aiworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/renderpipe/engine/internal/adapter"
	"github.com/renderpipe/engine/internal/broker"
	"github.com/renderpipe/engine/internal/domain"
	"github.com/renderpipe/engine/internal/objectstore"
)

// Config controls the retry/poll behavior applied to every segment task.
type Config struct {
	Concurrency         int
	PollInterval        time.Duration
	PollBudget          time.Duration
	InitiateMaxAttempts int
}

// Store is the subset of *store.Store the AI worker needs. Narrowed to an
// interface so tests can drive handle against a fake instead of a live
// Postgres connection.
type Store interface {
	GetSegment(ctx context.Context, id uuid.UUID) (*domain.Segment, error)
	MarkSegmentGenerating(ctx context.Context, id uuid.UUID, externalJobID string) (bool, error)
	MarkSegmentCompleted(ctx context.Context, id uuid.UUID, assetURL string) (bool, error)
	MarkSegmentFailed(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) (bool, error)
	IncrementSegmentsCompleted(ctx context.Context, renderJobID uuid.UUID) (completed, total int, justFinished bool, err error)
	GetRenderJob(ctx context.Context, id uuid.UUID) (*domain.RenderJob, error)
	MarkRenderJobCompositing(ctx context.Context, id uuid.UUID) (bool, error)
}

// Broker is the subset of *broker.Broker the AI worker needs.
type Broker interface {
	ConsumeSegmentTasks(ctx context.Context, handler broker.Handler) error
	PublishSegmentCompleted(ctx context.Context, event broker.SegmentCompletedEvent) error
	PublishCompositionTask(ctx context.Context, task broker.CompositionTask) error
}

// Cache is the subset of *progresscache.Cache the AI worker needs.
type Cache interface {
	MarkSegmentGenerating(ctx context.Context, segmentID, renderJobID uuid.UUID) error
	IncrementCompleted(ctx context.Context, renderJobID uuid.UUID) error
	SetProgress(ctx context.Context, renderJobID uuid.UUID, segmentsTotal, segmentsCompleted int, status string) error
}

type Pool struct {
	store       Store
	broker      Broker
	cache       Cache
	objectStore objectstore.Store
	factory     *adapter.Factory
	adapterCfg  adapter.Config
	cfg         Config
	httpClient  *http.Client
}

func NewPool(
	s Store,
	b Broker,
	c Cache,
	os_ objectstore.Store,
	factory *adapter.Factory,
	adapterCfg adapter.Config,
	cfg Config,
) *Pool {
	return &Pool{
		store:       s,
		broker:      b,
		cache:       c,
		objectStore: os_,
		factory:     factory,
		adapterCfg:  adapterCfg,
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Run starts Concurrency goroutines, each consuming from the segment
// generation queue independently — RabbitMQ's prefetch=1 per channel means
// each consumer gets its own fair share of deliveries.
func (p *Pool) Run(ctx context.Context) error {
	n := p.cfg.Concurrency
	if n < 1 {
		n = 1
	}

	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(slot int) {
			errCh <- p.broker.ConsumeSegmentTasks(ctx, p.handle)
		}(i)
	}

	for i := 0; i < n; i++ {
		if err := <-errCh; err != nil {
			return fmt.Errorf("aiworker: consumer exited: %w", err)
		}
	}
	return nil
}

func (p *Pool) handle(ctx context.Context, body []byte) error {
	var task broker.SegmentTask
	if err := json.Unmarshal(body, &task); err != nil {
		log.Printf("aiworker: dropping malformed task: %v", err)
		return nil
	}

	segmentID, err := uuid.Parse(task.SegmentID)
	if err != nil {
		log.Printf("aiworker: dropping task with invalid segment id %q: %v", task.SegmentID, err)
		return nil
	}
	renderJobID, err := uuid.Parse(task.RenderJobID)
	if err != nil {
		log.Printf("aiworker: dropping task with invalid render job id %q: %v", task.RenderJobID, err)
		return nil
	}
	projectID, err := uuid.Parse(task.ProjectID)
	if err != nil {
		log.Printf("aiworker: dropping task with invalid project id %q: %v", task.ProjectID, err)
		return nil
	}

	// A redelivery of a task whose segment is already terminal is a no-op:
	// re-check the state store before doing any adapter work.
	seg, err := p.store.GetSegment(ctx, segmentID)
	if err != nil {
		return fmt.Errorf("aiworker: load segment %s: %w", segmentID, err)
	}
	if seg.Status == domain.SegmentCompleted || seg.Status == domain.SegmentFailed {
		// A redelivered task for a segment that's already terminal: the
		// increment-and-maybe-trigger-composition step already ran for
		// whichever delivery got there first, so this one is a pure no-op ack.
		return nil
	}

	if err := p.cache.MarkSegmentGenerating(ctx, segmentID, renderJobID); err != nil {
		log.Printf("aiworker: mark segment %s generating in cache: %v", segmentID, err)
	}

	ad, err := p.factory.Build(task.ModelName, p.adapterCfg)
	if err != nil {
		code := adapter.ErrParameters
		if adapterErr, ok := err.(*adapter.Error); ok {
			code = adapterErr.Code
		}
		p.fail(ctx, segmentID, string(code), err.Error())
		return nil
	}

	externalJobID, failure := p.initiateWithRetry(ctx, ad, task)
	if failure != nil {
		p.fail(ctx, segmentID, string(failure.Code), failure.Message)
		return nil
	}

	if _, err := p.store.MarkSegmentGenerating(ctx, segmentID, externalJobID); err != nil {
		return fmt.Errorf("aiworker: mark segment %s generating: %w", segmentID, err)
	}

	result, failure := p.pollUntilDone(ctx, ad, externalJobID)
	if failure != nil {
		if failure.Retryable() {
			_, _ = ad.Cancel(ctx, externalJobID)
			return fmt.Errorf("aiworker: segment %s: %w", segmentID, failure)
		}
		p.fail(ctx, segmentID, string(failure.Code), failure.Message)
		return nil
	}

	assetURL, err := p.persistAsset(ctx, projectID, segmentID, result.AssetURL)
	if err != nil {
		p.fail(ctx, segmentID, string(adapter.ErrOutput), err.Error())
		return nil
	}

	ok, err := p.store.MarkSegmentCompleted(ctx, segmentID, assetURL)
	if err != nil {
		return fmt.Errorf("aiworker: mark segment %s completed: %w", segmentID, err)
	}
	if !ok {
		// The early terminal-status check at the top of handle normally
		// catches redeliveries, but a race between two redeliveries can
		// still land here. Either way segments_completed must not be
		// incremented twice.
		return nil
	}

	_ = p.cache.IncrementCompleted(ctx, renderJobID)
	_ = p.broker.PublishSegmentCompleted(ctx, broker.SegmentCompletedEvent{
		SegmentID:   segmentID.String(),
		RenderJobID: renderJobID.String(),
	})

	return p.advanceComposition(ctx, segmentID, renderJobID, projectID)
}

// initiateWithRetry retries only retryable Initiate failures, up to
// InitiateMaxAttempts. A terminal failure on any attempt stops immediately.
func (p *Pool) initiateWithRetry(ctx context.Context, ad adapter.Adapter, task broker.SegmentTask) (string, *adapter.Error) {
	attempts := p.cfg.InitiateMaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr *adapter.Error
	for attempt := 1; attempt <= attempts; attempt++ {
		externalJobID, err := ad.Initiate(ctx, task.Prompt, task.ModelParams)
		if err == nil {
			return externalJobID, nil
		}

		adapterErr, ok := err.(*adapter.Error)
		if !ok {
			adapterErr = &adapter.Error{Code: adapter.ErrConnection, Message: err.Error(), Err: err}
		}
		lastErr = adapterErr
		if !adapterErr.Retryable() {
			return "", adapterErr
		}

		backoff := 2 * time.Second << (attempt - 1)
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
		select {
		case <-ctx.Done():
			return "", &adapter.Error{Code: adapter.ErrTimeout, Message: "cancelled during initiate retry", Err: ctx.Err()}
		case <-time.After(backoff):
		}
	}
	return "", lastErr
}

// pollUntilDone polls GetStatus/GetResult until the job reaches a terminal
// status or PollBudget elapses. On budget exhaustion it makes a
// best-effort cancel call and returns a retryable timeout error.
func (p *Pool) pollUntilDone(ctx context.Context, ad adapter.Adapter, externalJobID string) (adapter.Result, *adapter.Error) {
	deadline := time.Now().Add(p.cfg.PollBudget)
	interval := p.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	for {
		if time.Now().After(deadline) {
			_, _ = ad.Cancel(ctx, externalJobID)
			return adapter.Result{}, &adapter.Error{Code: adapter.ErrTimeout, Message: "poll budget exhausted"}
		}

		status, err := ad.GetStatus(ctx, externalJobID)
		if err != nil {
			if adapterErr, ok := err.(*adapter.Error); ok {
				if !adapterErr.Retryable() {
					return adapter.Result{}, adapterErr
				}
			} else {
				return adapter.Result{}, &adapter.Error{Code: adapter.ErrConnection, Message: err.Error(), Err: err}
			}
		}

		switch status {
		case adapter.StatusCompleted:
			result, err := ad.GetResult(ctx, externalJobID)
			if err != nil {
				if adapterErr, ok := err.(*adapter.Error); ok {
					return adapter.Result{}, adapterErr
				}
				return adapter.Result{}, &adapter.Error{Code: adapter.ErrOutput, Message: err.Error(), Err: err}
			}
			return result, nil
		case adapter.StatusFailed:
			result, err := ad.GetResult(ctx, externalJobID)
			if err != nil {
				return adapter.Result{}, &adapter.Error{Code: adapter.ErrGeneration, Message: "generation failed"}
			}
			return adapter.Result{}, &adapter.Error{Code: result.ErrorCode, Message: result.ErrorMessage}
		}

		select {
		case <-ctx.Done():
			_, _ = ad.Cancel(ctx, externalJobID)
			return adapter.Result{}, &adapter.Error{Code: adapter.ErrTimeout, Message: "cancelled while polling", Err: ctx.Err()}
		case <-time.After(interval):
		}
	}
}

// persistAsset fetches the adapter's result asset and re-uploads it to the
// durable object store under this segment's canonical key. mock-cdn://
// URLs point at a local file the mock adapter wrote directly, so they are
// read straight off disk instead of downloaded over HTTP.
func (p *Pool) persistAsset(ctx context.Context, projectID, segmentID uuid.UUID, assetURL string) (string, error) {
	var data []byte
	var err error

	switch {
	case strings.HasPrefix(assetURL, adapter.MockAdapterURLScheme):
		path := strings.TrimPrefix(assetURL, adapter.MockAdapterURLScheme)
		data, err = os.ReadFile(path)
	case strings.HasPrefix(assetURL, "file://"):
		data, err = os.ReadFile(strings.TrimPrefix(assetURL, "file://"))
	default:
		data, err = p.download(ctx, assetURL)
	}
	if err != nil {
		return "", fmt.Errorf("persist asset: %w", err)
	}

	key := objectstore.SegmentKey(projectID, segmentID)
	url, err := p.objectStore.Upload(ctx, key, data, "video/mp4")
	if err != nil {
		return "", fmt.Errorf("upload asset: %w", err)
	}
	return url, nil
}

func (p *Pool) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d downloading %s", resp.StatusCode, url)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Pool) fail(ctx context.Context, segmentID uuid.UUID, code, message string) {
	if _, err := p.store.MarkSegmentFailed(ctx, segmentID, code, message); err != nil {
		log.Printf("aiworker: failed to mark segment %s failed: %v", segmentID, err)
	}
}

// advanceComposition bumps the render job's segments_completed counter for
// the segment that just completed and, if that was the last one
// outstanding, publishes the composition task. This is the sole trigger for
// composition on the success path — FAILED segments never reach here, so a
// render with any failed segment simply never accumulates enough completions
// to cross segments_total: it stalls in PROCESSING, observable by callers
// as segments_completed < segments_total, rather than failing outright.
func (p *Pool) advanceComposition(ctx context.Context, segmentID, renderJobID, projectID uuid.UUID) error {
	completed, total, justFinished, err := p.store.IncrementSegmentsCompleted(ctx, renderJobID)
	if err != nil {
		return fmt.Errorf("aiworker: increment progress for render %s: %w", renderJobID, err)
	}
	if err := p.cache.SetProgress(ctx, renderJobID, total, completed, string(domain.RenderJobProcessing)); err != nil {
		log.Printf("aiworker: update progress cache for render %s: %v", renderJobID, err)
	}
	if !justFinished {
		return nil
	}

	renderJob, err := p.store.GetRenderJob(ctx, renderJobID)
	if err != nil {
		return fmt.Errorf("aiworker: load render job %s: %w", renderJobID, err)
	}

	ok, err := p.store.MarkRenderJobCompositing(ctx, renderJobID)
	if err != nil {
		return fmt.Errorf("aiworker: mark render %s compositing: %w", renderJobID, err)
	}
	if !ok {
		return nil
	}

	ids := make([]string, len(renderJob.SegmentIDs))
	for i, id := range renderJob.SegmentIDs {
		ids[i] = id.String()
	}

	return p.broker.PublishCompositionTask(ctx, broker.CompositionTask{
		RenderJobID: renderJobID.String(),
		ProjectID:   projectID.String(),
		SegmentIDs:  ids,
	})
}
