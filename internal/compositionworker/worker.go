// Package compositionworker consumes composition tasks and stitches a
// render job's completed segment assets into one final video: download each
// segment blob in order, concat-copy them with ffmpeg, upload the result,
// and record the outcome on the render job. A segment missing a live asset
// is skipped rather than failing the whole render (best-effort
// composition); a non-zero ffmpeg exit is not — that fails the render job.
package compositionworker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/renderpipe/engine/internal/broker"
	"github.com/renderpipe/engine/internal/domain"
	"github.com/renderpipe/engine/internal/ffmpeg"
	"github.com/renderpipe/engine/internal/objectstore"
)

// Store is the subset of *store.Store the composition worker needs.
type Store interface {
	GetSegment(ctx context.Context, id uuid.UUID) (*domain.Segment, error)
	MarkRenderJobCompositing(ctx context.Context, id uuid.UUID) (bool, error)
	MarkRenderJobCompleted(ctx context.Context, id uuid.UUID, finalURL string) (bool, error)
	MarkRenderJobFailed(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error)
}

// Broker is the subset of *broker.Broker the composition worker needs.
type Broker interface {
	ConsumeCompositionTasks(ctx context.Context, handler broker.Handler) error
}

// Cache is the subset of *progresscache.Cache the composition worker
// needs: mirroring the render job's terminal status for UI polling.
type Cache interface {
	SetStatus(ctx context.Context, renderJobID uuid.UUID, status string) error
}

// Config controls composition worker concurrency.
type Config struct {
	Concurrency int
}

type Pool struct {
	store       Store
	broker      Broker
	cache       Cache
	objectStore objectstore.Store
	ffmpeg      *ffmpeg.Service
	cfg         Config
}

func NewPool(s Store, b Broker, c Cache, os_ objectstore.Store, ff *ffmpeg.Service, cfg Config) *Pool {
	return &Pool{store: s, broker: b, cache: c, objectStore: os_, ffmpeg: ff, cfg: cfg}
}

// Run starts Concurrency goroutines, each consuming from the composition
// queue independently.
func (p *Pool) Run(ctx context.Context) error {
	n := p.cfg.Concurrency
	if n < 1 {
		n = 1
	}

	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			errCh <- p.broker.ConsumeCompositionTasks(ctx, p.handle)
		}()
	}

	for i := 0; i < n; i++ {
		if err := <-errCh; err != nil {
			return fmt.Errorf("compositionworker: consumer exited: %w", err)
		}
	}
	return nil
}

func (p *Pool) handle(ctx context.Context, body []byte) error {
	var task broker.CompositionTask
	if err := json.Unmarshal(body, &task); err != nil {
		log.Printf("compositionworker: dropping malformed task: %v", err)
		return nil
	}

	renderJobID, err := uuid.Parse(task.RenderJobID)
	if err != nil {
		log.Printf("compositionworker: dropping task with invalid render job id %q: %v", task.RenderJobID, err)
		return nil
	}
	projectID, err := uuid.Parse(task.ProjectID)
	if err != nil {
		log.Printf("compositionworker: dropping task with invalid project id %q: %v", task.ProjectID, err)
		return nil
	}

	segmentIDs := make([]uuid.UUID, 0, len(task.SegmentIDs))
	for _, raw := range task.SegmentIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			log.Printf("compositionworker: dropping task with invalid segment id %q: %v", raw, err)
			return nil
		}
		segmentIDs = append(segmentIDs, id)
	}

	// Usually a no-op: both publishers (the AI worker on the last segment
	// completion and the orchestrator's empty-regeneration path) make this
	// transition before they publish the task. Repeating it here keeps the
	// handler from depending on that.
	if _, err := p.store.MarkRenderJobCompositing(ctx, renderJobID); err != nil {
		log.Printf("compositionworker: mark render %s compositing: %v", renderJobID, err)
	}

	clipPaths := p.downloadSegments(ctx, projectID, segmentIDs)
	defer p.ffmpeg.Cleanup(clipPaths...)

	if len(clipPaths) == 0 {
		return p.fail(ctx, renderJobID, "no segment files available to compose")
	}

	outputPath := p.ffmpeg.CreateTempFile(renderJobID.String() + "_final.mp4")
	defer p.ffmpeg.Cleanup(outputPath)

	if err := p.ffmpeg.ConcatenateClips(ctx, clipPaths, outputPath); err != nil {
		return p.fail(ctx, renderJobID, err.Error())
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return p.fail(ctx, renderJobID, fmt.Sprintf("read composed video: %v", err))
	}

	finalURL, err := p.objectStore.Upload(ctx, objectstore.RenderKey(projectID, renderJobID), data, "video/mp4")
	if err != nil {
		return p.fail(ctx, renderJobID, fmt.Sprintf("upload composed video: %v", err))
	}

	if _, err := p.store.MarkRenderJobCompleted(ctx, renderJobID, finalURL); err != nil {
		return fmt.Errorf("compositionworker: mark render %s completed: %w", renderJobID, err)
	}
	p.mirrorStatus(ctx, renderJobID, domain.RenderJobCompleted)
	return nil
}

// mirrorStatus copies a terminal render job status into the advisory
// progress cache. Failures only log — the state store already holds the
// truth.
func (p *Pool) mirrorStatus(ctx context.Context, renderJobID uuid.UUID, status domain.RenderJobStatus) {
	if p.cache == nil {
		return
	}
	if err := p.cache.SetStatus(ctx, renderJobID, string(status)); err != nil {
		log.Printf("compositionworker: mirror status for render %s: %v", renderJobID, err)
	}
}

// downloadSegments fetches each segment's asset in order, skipping any
// segment with no live asset URL instead of failing the whole
// composition. It downloads by the
// segment's canonical object store key (the same one the AI worker uploaded
// under), not by parsing the stored asset_url, so the lookup is independent
// of which storage backend produced that URL. Returns the local file paths
// actually fetched, in composition order.
func (p *Pool) downloadSegments(ctx context.Context, projectID uuid.UUID, segmentIDs []uuid.UUID) []string {
	var paths []string

	for _, segID := range segmentIDs {
		seg, err := p.store.GetSegment(ctx, segID)
		if err != nil {
			log.Printf("compositionworker: segment %s not found, skipping: %v", segID, err)
			continue
		}
		if seg.Status != domain.SegmentCompleted || seg.AssetURL == nil || *seg.AssetURL == "" {
			log.Printf("compositionworker: segment %s has no completed asset, skipping", segID)
			continue
		}

		data, err := p.objectStore.Download(ctx, objectstore.SegmentKey(projectID, segID))
		if err != nil {
			log.Printf("compositionworker: failed to download segment %s: %v", segID, err)
			continue
		}

		path := p.ffmpeg.CreateTempFile(segID.String() + ".mp4")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			log.Printf("compositionworker: failed to write segment %s to disk: %v", segID, err)
			continue
		}
		paths = append(paths, path)
	}

	return paths
}

func (p *Pool) fail(ctx context.Context, renderJobID uuid.UUID, message string) error {
	if _, err := p.store.MarkRenderJobFailed(ctx, renderJobID, message); err != nil {
		return fmt.Errorf("compositionworker: mark render %s failed: %w", renderJobID, err)
	}
	p.mirrorStatus(ctx, renderJobID, domain.RenderJobFailed)
	return nil
}
