package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/renderpipe/engine/internal/domain"
)

var renderJobCols = []string{
	"id", "project_id", "segment_ids", "status", "segments_total", "segments_completed",
	"final_url", "error_message", "metadata", "created_at", "updated_at",
}

func TestGetLastCompletedRenderJobNone(t *testing.T) {
	s, mock := newMockStore(t)
	projectID := uuid.New()

	mock.ExpectQuery("SELECT id, project_id, segment_ids").
		WithArgs(projectID, domain.RenderJobCompleted).
		WillReturnRows(sqlmock.NewRows(renderJobCols))

	_, err := s.GetLastCompletedRenderJob(context.Background(), projectID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetLastCompletedRenderJobFound(t *testing.T) {
	s, mock := newMockStore(t)
	projectID := uuid.New()
	jobID := uuid.New()
	segID := uuid.New()
	now := time.Now()

	mock.ExpectQuery("SELECT id, project_id, segment_ids").
		WithArgs(projectID, domain.RenderJobCompleted).
		WillReturnRows(sqlmock.NewRows(renderJobCols).
			AddRow(jobID, projectID, "{"+segID.String()+"}", domain.RenderJobCompleted, 1, 1,
				"https://cdn.example.com/final.mp4", nil, nil, now, now))

	rj, err := s.GetLastCompletedRenderJob(context.Background(), projectID)
	if err != nil {
		t.Fatalf("GetLastCompletedRenderJob returned error: %v", err)
	}
	if len(rj.SegmentIDs) != 1 || rj.SegmentIDs[0] != segID {
		t.Errorf("SegmentIDs = %v, want [%v]", rj.SegmentIDs, segID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMarkRenderJobCompositingRaceIsIdempotent(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE render_jobs").
		WithArgs(id, domain.RenderJobCompositing, domain.RenderJobPending, domain.RenderJobProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.MarkRenderJobCompositing(context.Background(), id)
	if err != nil {
		t.Fatalf("MarkRenderJobCompositing returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected first winner to apply the transition")
	}

	mock.ExpectExec("UPDATE render_jobs").
		WithArgs(id, domain.RenderJobCompositing, domain.RenderJobPending, domain.RenderJobProcessing).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err = s.MarkRenderJobCompositing(context.Background(), id)
	if err != nil {
		t.Fatalf("MarkRenderJobCompositing (loser) returned error: %v", err)
	}
	if ok {
		t.Fatal("expected second racer to see a no-op")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMarkRenderJobCompletedAndFailedAreMutuallyTerminal(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE render_jobs").
		WithArgs(id, domain.RenderJobCompleted, "https://cdn.example.com/final.mp4", domain.RenderJobCompositing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.MarkRenderJobCompleted(context.Background(), id, "https://cdn.example.com/final.mp4")
	if err != nil {
		t.Fatalf("MarkRenderJobCompleted returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected completion to apply")
	}

	mock.ExpectExec("UPDATE render_jobs").
		WithArgs(id, domain.RenderJobFailed, "composition failed", domain.RenderJobPending, domain.RenderJobProcessing, domain.RenderJobCompositing).
		WillReturnResult(sqlmock.NewResult(0, 0))

	failed, err := s.MarkRenderJobFailed(context.Background(), id, "composition failed")
	if err != nil {
		t.Fatalf("MarkRenderJobFailed returned error: %v", err)
	}
	if failed {
		t.Fatal("expected failure to be a no-op once the job is already completed")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateRenderJob(t *testing.T) {
	s, mock := newMockStore(t)
	projectID := uuid.New()
	jobID := uuid.New()
	segIDs := []uuid.UUID{uuid.New(), uuid.New()}
	now := time.Now()

	mock.ExpectQuery("INSERT INTO render_jobs").
		WithArgs(projectID, uuidsToStringArray(segIDs), domain.RenderJobPending, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "created_at", "updated_at"}).
			AddRow(jobID, projectID, now, now))

	rj, err := s.CreateRenderJob(context.Background(), projectID, segIDs, 1)
	if err != nil {
		t.Fatalf("CreateRenderJob returned error: %v", err)
	}
	if rj.Status != domain.RenderJobPending {
		t.Errorf("Status = %v, want %v", rj.Status, domain.RenderJobPending)
	}
	if len(rj.SegmentIDs) != 2 {
		t.Errorf("SegmentIDs = %v, want 2 entries", rj.SegmentIDs)
	}
	if rj.SegmentsTotal != 1 {
		t.Errorf("SegmentsTotal = %d, want 1", rj.SegmentsTotal)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestIncrementSegmentsCompletedReportsJustFinished(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("UPDATE render_jobs").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"segments_completed", "segments_total"}).
			AddRow(2, 2))

	completed, total, justFinished, err := s.IncrementSegmentsCompleted(context.Background(), id)
	if err != nil {
		t.Fatalf("IncrementSegmentsCompleted returned error: %v", err)
	}
	if completed != 2 || total != 2 {
		t.Fatalf("completed/total = %d/%d, want 2/2", completed, total)
	}
	if !justFinished {
		t.Fatal("expected justFinished once completed reaches total")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestIncrementSegmentsCompletedNotYetDone(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("UPDATE render_jobs").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"segments_completed", "segments_total"}).
			AddRow(1, 2))

	completed, total, justFinished, err := s.IncrementSegmentsCompleted(context.Background(), id)
	if err != nil {
		t.Fatalf("IncrementSegmentsCompleted returned error: %v", err)
	}
	if completed != 1 || total != 2 {
		t.Fatalf("completed/total = %d/%d, want 1/2", completed, total)
	}
	if justFinished {
		t.Fatal("expected justFinished false while segments remain outstanding")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
