package compositionworker

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"testing"

	"github.com/google/uuid"

	"github.com/renderpipe/engine/internal/broker"
	"github.com/renderpipe/engine/internal/domain"
	"github.com/renderpipe/engine/internal/ffmpeg"
)

func requireFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available in this environment")
	}
}

type fakeStore struct {
	segments          map[uuid.UUID]*domain.Segment
	completedURL      string
	failedMessage     string
	compositingCalled bool
	completedCalled   bool
	failedCalled      bool
}

func (f *fakeStore) GetSegment(ctx context.Context, id uuid.UUID) (*domain.Segment, error) {
	seg, ok := f.segments[id]
	if !ok {
		return nil, errNotFound
	}
	return seg, nil
}

func (f *fakeStore) MarkRenderJobCompositing(ctx context.Context, id uuid.UUID) (bool, error) {
	f.compositingCalled = true
	return true, nil
}

func (f *fakeStore) MarkRenderJobCompleted(ctx context.Context, id uuid.UUID, finalURL string) (bool, error) {
	f.completedCalled = true
	f.completedURL = finalURL
	return true, nil
}

func (f *fakeStore) MarkRenderJobFailed(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error) {
	f.failedCalled = true
	f.failedMessage = errorMessage
	return true, nil
}

var errNotFound = &notFoundError{}

type notFoundError struct{}

func (e *notFoundError) Error() string { return "not found" }

type fakeObjectStore struct {
	blobs    map[string][]byte
	uploaded map[string][]byte
}

func (f *fakeObjectStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if f.uploaded == nil {
		f.uploaded = make(map[string][]byte)
	}
	f.uploaded[key] = data
	return "file://" + key, nil
}

func (f *fakeObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.blobs[key]
	if !ok {
		return nil, errNotFound
	}
	return data, nil
}

func (f *fakeObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.blobs[key]
	return ok, nil
}

func newTestPool(t *testing.T, store Store, os_ *fakeObjectStore) *Pool {
	t.Helper()
	svc, err := ffmpeg.NewService(t.TempDir())
	if err != nil {
		t.Fatalf("ffmpeg.NewService: %v", err)
	}
	return NewPool(store, nil, nil, os_, svc, Config{Concurrency: 1})
}

func synthesizeClip(t *testing.T, svc *ffmpeg.Service, name string) []byte {
	t.Helper()
	path := svc.CreateTempFile(name)
	if err := svc.SynthesizeTextClip(context.Background(), "test clip "+name, "16:9", 1, path); err != nil {
		t.Fatalf("SynthesizeTextClip: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read synthesized clip: %v", err)
	}
	return data
}

func TestHandleSkipsSegmentWithoutAsset(t *testing.T) {
	requireFFmpeg(t)
	renderJobID, projectID, segID := uuid.New(), uuid.New(), uuid.New()

	fs := &fakeStore{segments: map[uuid.UUID]*domain.Segment{
		segID: {ID: segID, Status: domain.SegmentPending},
	}}
	fos := &fakeObjectStore{blobs: map[string][]byte{}}
	p := newTestPool(t, fs, fos)

	body, _ := json.Marshal(broker.CompositionTask{
		RenderJobID: renderJobID.String(),
		ProjectID:   projectID.String(),
		SegmentIDs:  []string{segID.String()},
	})

	if err := p.handle(context.Background(), body); err != nil {
		t.Fatalf("handle returned error: %v", err)
	}
	if !fs.failedCalled {
		t.Fatal("expected render job to be marked failed when no segment files are available")
	}
}

func TestHandleComposesAvailableSegments(t *testing.T) {
	requireFFmpeg(t)
	renderJobID, projectID := uuid.New(), uuid.New()
	segA, segB := uuid.New(), uuid.New()

	svc, err := ffmpeg.NewService(t.TempDir())
	if err != nil {
		t.Fatalf("ffmpeg.NewService: %v", err)
	}
	clipA := synthesizeClip(t, svc, "a.mp4")
	clipB := synthesizeClip(t, svc, "b.mp4")

	urlA, urlB := "file:///irrelevant-a.mp4", "file:///irrelevant-b.mp4"
	fs := &fakeStore{segments: map[uuid.UUID]*domain.Segment{
		segA: {ID: segA, Status: domain.SegmentCompleted, AssetURL: &urlA},
		segB: {ID: segB, Status: domain.SegmentCompleted, AssetURL: &urlB},
	}}

	keyA := "segments/" + projectID.String() + "/" + segA.String() + ".mp4"
	keyB := "segments/" + projectID.String() + "/" + segB.String() + ".mp4"
	fos := &fakeObjectStore{blobs: map[string][]byte{keyA: clipA, keyB: clipB}}

	p := newTestPool(t, fs, fos)

	body, _ := json.Marshal(broker.CompositionTask{
		RenderJobID: renderJobID.String(),
		ProjectID:   projectID.String(),
		SegmentIDs:  []string{segA.String(), segB.String()},
	})

	if err := p.handle(context.Background(), body); err != nil {
		t.Fatalf("handle returned error: %v", err)
	}
	if !fs.completedCalled {
		t.Fatalf("expected render job to be marked completed, failed=%v message=%q", fs.failedCalled, fs.failedMessage)
	}
	if fs.completedURL == "" {
		t.Fatal("expected a non-empty final URL")
	}
}
