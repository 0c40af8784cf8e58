package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/renderpipe/engine/internal/broker"
	"github.com/renderpipe/engine/internal/domain"
	"github.com/renderpipe/engine/internal/store"
)

type fakeStore struct {
	project          *domain.Project
	segments         []domain.Segment
	lastRender       *domain.RenderJob
	lastRenderErr    error
	createdJob       *domain.RenderJob
	createArgs       []uuid.UUID
	createTotal      int
	dispatched       []uuid.UUID
	processingCalls  int
	compositingCalls int
	compositingOK    bool
}

func (f *fakeStore) GetProject(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	if f.project == nil {
		return nil, store.ErrNotFound
	}
	return f.project, nil
}

func (f *fakeStore) ListSegmentsByProject(ctx context.Context, projectID uuid.UUID) ([]domain.Segment, error) {
	return f.segments, nil
}

func (f *fakeStore) GetLastCompletedRenderJob(ctx context.Context, projectID uuid.UUID) (*domain.RenderJob, error) {
	if f.lastRenderErr != nil {
		return nil, f.lastRenderErr
	}
	return f.lastRender, nil
}

func (f *fakeStore) CreateRenderJob(ctx context.Context, projectID uuid.UUID, segmentIDs []uuid.UUID, segmentsTotal int) (*domain.RenderJob, error) {
	f.createArgs = segmentIDs
	f.createTotal = segmentsTotal
	job := &domain.RenderJob{
		ID:            uuid.New(),
		ProjectID:     projectID,
		SegmentIDs:    segmentIDs,
		Status:        domain.RenderJobPending,
		SegmentsTotal: segmentsTotal,
	}
	f.createdJob = job
	return job, nil
}

func (f *fakeStore) MarkSegmentDispatched(ctx context.Context, id uuid.UUID) (bool, error) {
	f.dispatched = append(f.dispatched, id)
	return true, nil
}

func (f *fakeStore) MarkRenderJobProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	f.processingCalls++
	return true, nil
}

func (f *fakeStore) MarkRenderJobCompositing(ctx context.Context, id uuid.UUID) (bool, error) {
	f.compositingCalls++
	return f.compositingOK, nil
}

type fakeBroker struct {
	segmentTasks     []broker.SegmentTask
	compositionTasks []broker.CompositionTask
}

func (f *fakeBroker) PublishSegmentTask(ctx context.Context, task broker.SegmentTask) error {
	f.segmentTasks = append(f.segmentTasks, task)
	return nil
}

func (f *fakeBroker) PublishCompositionTask(ctx context.Context, task broker.CompositionTask) error {
	f.compositionTasks = append(f.compositionTasks, task)
	return nil
}

type fakeCache struct {
	calls int
}

func (f *fakeCache) SetProgress(ctx context.Context, renderJobID uuid.UUID, segmentsTotal, segmentsCompleted int, status string) error {
	f.calls++
	return nil
}

func TestCreateRenderEmptyProjectReturnsError(t *testing.T) {
	projectID := uuid.New()
	fs := &fakeStore{project: &domain.Project{ID: projectID}}
	o := NewWithDeps(fs, &fakeBroker{}, &fakeCache{})

	_, err := o.CreateRender(context.Background(), projectID)
	if !errors.Is(err, ErrEmptyProject) {
		t.Fatalf("expected ErrEmptyProject, got %v", err)
	}
}

func TestCreateRenderFirstRenderDispatchesAllSegments(t *testing.T) {
	projectID := uuid.New()
	segA, segB := uuid.New(), uuid.New()
	fs := &fakeStore{
		project: &domain.Project{ID: projectID},
		segments: []domain.Segment{
			{ID: segA, Status: domain.SegmentPending, Prompt: "a dog running"},
			{ID: segB, Status: domain.SegmentPending, Prompt: "a cat sleeping"},
		},
		lastRenderErr: store.ErrNotFound,
	}
	fb := &fakeBroker{}
	fc := &fakeCache{}
	o := NewWithDeps(fs, fb, fc)

	rj, err := o.CreateRender(context.Background(), projectID)
	if err != nil {
		t.Fatalf("CreateRender returned error: %v", err)
	}
	if rj.Status != domain.RenderJobProcessing {
		t.Errorf("Status = %v, want %v", rj.Status, domain.RenderJobProcessing)
	}
	if fs.createTotal != 2 {
		t.Errorf("segmentsTotal = %d, want 2", fs.createTotal)
	}
	if len(fb.segmentTasks) != 2 {
		t.Fatalf("expected 2 segment tasks published, got %d", len(fb.segmentTasks))
	}
	if len(fs.dispatched) != 2 {
		t.Errorf("expected both segments flipped to generating at dispatch, got %v", fs.dispatched)
	}
	if fs.processingCalls != 1 {
		t.Errorf("expected MarkRenderJobProcessing called once, got %d", fs.processingCalls)
	}
	if fc.calls != 1 {
		t.Errorf("expected progress cache seeded once, got %d", fc.calls)
	}
	if len(fb.compositionTasks) != 0 {
		t.Errorf("expected no composition task dispatched yet, got %d", len(fb.compositionTasks))
	}
}

func TestCreateRenderIncrementalRegeneratesOnlyChangedSegments(t *testing.T) {
	projectID := uuid.New()
	unchangedID, editedID := uuid.New(), uuid.New()
	url := "https://cdn.example.com/a.mp4"
	fs := &fakeStore{
		project: &domain.Project{ID: projectID},
		segments: []domain.Segment{
			{ID: unchangedID, Status: domain.SegmentCompleted, AssetURL: &url},
			{ID: editedID, Status: domain.SegmentPending},
		},
		lastRender: &domain.RenderJob{SegmentIDs: []uuid.UUID{unchangedID, editedID}},
	}
	fb := &fakeBroker{}
	o := NewWithDeps(fs, fb, &fakeCache{})

	_, err := o.CreateRender(context.Background(), projectID)
	if err != nil {
		t.Fatalf("CreateRender returned error: %v", err)
	}
	if fs.createTotal != 1 {
		t.Errorf("segmentsTotal = %d, want 1", fs.createTotal)
	}
	if len(fb.segmentTasks) != 1 || fb.segmentTasks[0].SegmentID != editedID.String() {
		t.Fatalf("expected only the edited segment dispatched, got %+v", fb.segmentTasks)
	}
	if len(fs.dispatched) != 1 || fs.dispatched[0] != editedID {
		t.Errorf("expected only the edited segment flipped to generating, got %v", fs.dispatched)
	}
}

func TestCreateRenderEmptyRegenerationSetGoesStraightToComposition(t *testing.T) {
	projectID := uuid.New()
	segID := uuid.New()
	url := "https://cdn.example.com/a.mp4"
	fs := &fakeStore{
		project: &domain.Project{ID: projectID},
		segments: []domain.Segment{
			{ID: segID, Status: domain.SegmentCompleted, AssetURL: &url},
		},
		lastRender:    &domain.RenderJob{SegmentIDs: []uuid.UUID{segID}},
		compositingOK: true,
	}
	fb := &fakeBroker{}
	o := NewWithDeps(fs, fb, &fakeCache{})

	rj, err := o.CreateRender(context.Background(), projectID)
	if err != nil {
		t.Fatalf("CreateRender returned error: %v", err)
	}
	if rj.Status != domain.RenderJobCompositing {
		t.Errorf("Status = %v, want %v", rj.Status, domain.RenderJobCompositing)
	}
	if fs.processingCalls != 0 {
		t.Errorf("expected MarkRenderJobProcessing never called, got %d", fs.processingCalls)
	}
	if len(fb.segmentTasks) != 0 {
		t.Errorf("expected no segment tasks published, got %d", len(fb.segmentTasks))
	}
	if len(fb.compositionTasks) != 1 {
		t.Fatalf("expected 1 composition task published, got %d", len(fb.compositionTasks))
	}
	if fb.compositionTasks[0].SegmentIDs[0] != segID.String() {
		t.Errorf("composition task segment ids = %v, want [%v]", fb.compositionTasks[0].SegmentIDs, segID)
	}
}
