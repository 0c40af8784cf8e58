// Package orchestrator implements the render-creation entry point: given a
// project, it figures out which segments actually need to be regenerated
// and either fans out segment generation tasks to the AI worker pool or, if
// nothing changed, goes straight to composition with the previous render's
// assets.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/renderpipe/engine/internal/broker"
	"github.com/renderpipe/engine/internal/domain"
	"github.com/renderpipe/engine/internal/progresscache"
	"github.com/renderpipe/engine/internal/store"
)

// ErrEmptyProject is returned when a project has no segments to render.
var ErrEmptyProject = errors.New("orchestrator: project has no segments")

// Store is the subset of *store.Store the orchestrator needs. Narrowed to
// an interface so tests can drive CreateRender against a fake instead of a
// live Postgres connection.
type Store interface {
	GetProject(ctx context.Context, id uuid.UUID) (*domain.Project, error)
	ListSegmentsByProject(ctx context.Context, projectID uuid.UUID) ([]domain.Segment, error)
	GetLastCompletedRenderJob(ctx context.Context, projectID uuid.UUID) (*domain.RenderJob, error)
	CreateRenderJob(ctx context.Context, projectID uuid.UUID, segmentIDs []uuid.UUID, segmentsTotal int) (*domain.RenderJob, error)
	MarkSegmentDispatched(ctx context.Context, id uuid.UUID) (bool, error)
	MarkRenderJobProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	MarkRenderJobCompositing(ctx context.Context, id uuid.UUID) (bool, error)
}

// Broker is the subset of *broker.Broker the orchestrator needs.
type Broker interface {
	PublishSegmentTask(ctx context.Context, task broker.SegmentTask) error
	PublishCompositionTask(ctx context.Context, task broker.CompositionTask) error
}

// Cache is the subset of *progresscache.Cache the orchestrator needs.
type Cache interface {
	SetProgress(ctx context.Context, renderJobID uuid.UUID, segmentsTotal, segmentsCompleted int, status string) error
}

type Orchestrator struct {
	store  Store
	broker Broker
	cache  Cache
}

func New(s *store.Store, b *broker.Broker, c *progresscache.Cache) *Orchestrator {
	return &Orchestrator{store: s, broker: b, cache: c}
}

// NewWithDeps wires an orchestrator directly against the narrow interfaces
// above — used by tests to inject fakes for the store, broker and cache.
func NewWithDeps(s Store, b Broker, c Cache) *Orchestrator {
	return &Orchestrator{store: s, broker: b, cache: c}
}

// CreateRender starts a new render attempt for a project: it loads the
// project's current segments, diffs them against the last completed
// render, creates a render_job row scoped to the segments that changed,
// and publishes one segment generation task per segment in that set. If
// the regeneration set is empty every segment is reused unchanged, so the
// render job is pushed directly into composition instead of waiting on the
// AI worker pool.
func (o *Orchestrator) CreateRender(ctx context.Context, projectID uuid.UUID) (*domain.RenderJob, error) {
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load project %s: %w", projectID, err)
	}

	segments, err := o.store.ListSegmentsByProject(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list segments for project %s: %w", projectID, err)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyProject, projectID)
	}

	var lastSegmentIDs []uuid.UUID
	lastRender, err := o.store.GetLastCompletedRenderJob(ctx, project.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		lastSegmentIDs = nil
	case err != nil:
		return nil, fmt.Errorf("orchestrator: load last render for project %s: %w", projectID, err)
	default:
		lastSegmentIDs = lastRender.SegmentIDs
	}

	allSegmentIDs := make([]uuid.UUID, len(segments))
	for i, seg := range segments {
		allSegmentIDs[i] = seg.ID
	}

	toRegenerate := domain.IdentifyRegenerationSet(segments, lastSegmentIDs)

	renderJob, err := o.store.CreateRenderJob(ctx, project.ID, allSegmentIDs, len(toRegenerate))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: create render job for project %s: %w", projectID, err)
	}

	if err := o.cache.SetProgress(ctx, renderJob.ID, len(toRegenerate), 0, string(domain.RenderJobPending)); err != nil {
		log.Printf("orchestrator: seed progress cache for render %s: %v", renderJob.ID, err)
	}

	if len(toRegenerate) == 0 {
		// Every segment is already COMPLETED with a live asset from a prior
		// render — there's nothing for the AI worker pool to do, so go
		// straight to composition instead of waiting on a segment count
		// that will never be dispatched.
		if err := o.triggerComposition(ctx, renderJob, allSegmentIDs); err != nil {
			return nil, err
		}
		return renderJob, nil
	}

	bySegmentID := make(map[uuid.UUID]domain.Segment, len(segments))
	for _, seg := range segments {
		bySegmentID[seg.ID] = seg
	}

	if _, err := o.store.MarkRenderJobProcessing(ctx, renderJob.ID); err != nil {
		return nil, fmt.Errorf("orchestrator: mark render %s processing: %w", renderJob.ID, err)
	}
	renderJob.Status = domain.RenderJobProcessing

	for _, segID := range toRegenerate {
		seg := bySegmentID[segID]
		// Flip the segment to GENERATING before its task goes out, so a
		// caller polling right after CreateRender returns already sees the
		// whole regeneration set in flight. Dispatch proceeds even on a
		// no-op transition — a concurrent render may have gotten there
		// first, and the worker tolerates double dispatch.
		if _, err := o.store.MarkSegmentDispatched(ctx, seg.ID); err != nil {
			return nil, fmt.Errorf("orchestrator: dispatch segment %s: %w", seg.ID, err)
		}
		task := broker.SegmentTask{
			SegmentID:   seg.ID.String(),
			RenderJobID: renderJob.ID.String(),
			ProjectID:   project.ID.String(),
			Prompt:      seg.Prompt,
			ModelName:   seg.ModelName,
			ModelParams: map[string]interface{}(seg.ModelParams),
		}
		if err := o.broker.PublishSegmentTask(ctx, task); err != nil {
			// Publication failures leave the render job in PROCESSING with
			// segments_completed < segments_total and no mechanism here to
			// roll back segments already enqueued. The caller observes the
			// stall; nothing retries the publish.
			return nil, fmt.Errorf("orchestrator: publish segment task %s: %w", seg.ID, err)
		}
	}

	return renderJob, nil
}

// triggerComposition is used when a render's regeneration set is empty:
// every segment is already completed from a prior render, so composition
// can start immediately without waiting on the AI worker pool.
func (o *Orchestrator) triggerComposition(ctx context.Context, renderJob *domain.RenderJob, segmentIDs []uuid.UUID) error {
	if ok, err := o.store.MarkRenderJobCompositing(ctx, renderJob.ID); err != nil {
		return fmt.Errorf("orchestrator: mark render %s compositing: %w", renderJob.ID, err)
	} else if !ok {
		return nil
	}

	ids := make([]string, len(segmentIDs))
	for i, id := range segmentIDs {
		ids[i] = id.String()
	}

	task := broker.CompositionTask{
		RenderJobID: renderJob.ID.String(),
		ProjectID:   renderJob.ProjectID.String(),
		SegmentIDs:  ids,
	}
	if err := o.broker.PublishCompositionTask(ctx, task); err != nil {
		return fmt.Errorf("orchestrator: publish composition task for render %s: %w", renderJob.ID, err)
	}

	renderJob.Status = domain.RenderJobCompositing
	return nil
}
