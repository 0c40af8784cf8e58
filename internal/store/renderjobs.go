package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/google/uuid"

	"github.com/renderpipe/engine/internal/domain"
)

const renderJobColumns = `id, project_id, segment_ids, status, segments_total, segments_completed,
	       final_url, error_message, metadata, created_at, updated_at`

func scanRenderJob(row *sql.Row, rj *domain.RenderJob) error {
	var segmentIDs pq.StringArray
	err := row.Scan(
		&rj.ID, &rj.ProjectID, &segmentIDs, &rj.Status, &rj.SegmentsTotal, &rj.SegmentsCompleted,
		&rj.FinalURL, &rj.ErrorMessage, &rj.Metadata, &rj.CreatedAt, &rj.UpdatedAt,
	)
	if err != nil {
		return err
	}
	rj.SegmentIDs, err = parseUUIDs(segmentIDs)
	return err
}

func (s *Store) GetRenderJob(ctx context.Context, id uuid.UUID) (*domain.RenderJob, error) {
	var rj domain.RenderJob
	row := s.db.QueryRowContext(ctx, `SELECT `+renderJobColumns+` FROM render_jobs WHERE id = $1`, id)
	if err := scanRenderJob(row, &rj); err == sql.ErrNoRows {
		return nil, fmt.Errorf("render job %s: %w", id, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("store: get render job %s: %w", id, err)
	}
	return &rj, nil
}

// GetLastCompletedRenderJob returns the most recently completed render job
// for a project, or ErrNotFound if the project has never completed one.
// The render orchestrator diffs against this to compute the regeneration
// set for a new render.
func (s *Store) GetLastCompletedRenderJob(ctx context.Context, projectID uuid.UUID) (*domain.RenderJob, error) {
	var rj domain.RenderJob
	row := s.db.QueryRowContext(ctx, `
		SELECT `+renderJobColumns+`
		FROM render_jobs
		WHERE project_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, projectID, domain.RenderJobCompleted)
	if err := scanRenderJob(row, &rj); err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("store: get last completed render job for project %s: %w", projectID, err)
	}
	return &rj, nil
}

// CreateRenderJob inserts a new render job pinned to the project's full
// current segment timeline. segmentsTotal is the size of the regeneration
// set the orchestrator computed, not len(segmentIDs): it tracks progress
// against what this job must actually (re)produce.
func (s *Store) CreateRenderJob(ctx context.Context, projectID uuid.UUID, segmentIDs []uuid.UUID, segmentsTotal int) (*domain.RenderJob, error) {
	var rj domain.RenderJob
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO render_jobs (id, project_id, segment_ids, status, segments_total, segments_completed, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, 0, NOW(), NOW())
		RETURNING id, project_id, created_at, updated_at
	`, projectID, uuidsToStringArray(segmentIDs), domain.RenderJobPending, segmentsTotal).Scan(&rj.ID, &rj.ProjectID, &rj.CreatedAt, &rj.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create render job: %w", err)
	}
	rj.Status = domain.RenderJobPending
	rj.SegmentIDs = segmentIDs
	rj.SegmentsTotal = segmentsTotal
	return &rj, nil
}

// MarkRenderJobProcessing idempotently transitions a render job from
// pending to processing, once its segment tasks have been published.
func (s *Store) MarkRenderJobProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE render_jobs
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, domain.RenderJobProcessing, domain.RenderJobPending)
	if err != nil {
		return false, fmt.Errorf("store: mark render job %s processing: %w", id, err)
	}
	return rowsAffected(res)
}

// MarkRenderJobCompositing idempotently transitions a render job into the
// compositing state. Called once by whichever delivery of the "last
// segment done" notification wins the race; later redeliveries see the
// WHERE clause fail and treat it as already in progress.
func (s *Store) MarkRenderJobCompositing(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE render_jobs
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
	`, id, domain.RenderJobCompositing, domain.RenderJobPending, domain.RenderJobProcessing)
	if err != nil {
		return false, fmt.Errorf("store: mark render job %s compositing: %w", id, err)
	}
	return rowsAffected(res)
}

// MarkRenderJobCompleted idempotently records the final composed asset URL.
func (s *Store) MarkRenderJobCompleted(ctx context.Context, id uuid.UUID, finalURL string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE render_jobs
		SET status = $2, final_url = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, domain.RenderJobCompleted, finalURL, domain.RenderJobCompositing)
	if err != nil {
		return false, fmt.Errorf("store: mark render job %s completed: %w", id, err)
	}
	return rowsAffected(res)
}

// MarkRenderJobFailed idempotently fails a render job. Composition failures
// are not retried, so this is a terminal transition from any non-terminal
// status.
func (s *Store) MarkRenderJobFailed(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE render_jobs
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $5, $6)
	`, id, domain.RenderJobFailed, errorMessage,
		domain.RenderJobPending, domain.RenderJobProcessing, domain.RenderJobCompositing)
	if err != nil {
		return false, fmt.Errorf("store: mark render job %s failed: %w", id, err)
	}
	return rowsAffected(res)
}

// IncrementSegmentsCompleted atomically bumps a render job's completed
// counter by one and reports whether that pushed it to segments_total —
// the sole trigger the AI worker uses to decide whether this was the
// render's last outstanding segment. It is not idempotent on its own. The WHERE clause bounds the
// increment so a caller that (incorrectly) invoked this twice for the same
// segment can't push segments_completed past segments_total;
// callers are expected to gate the call itself on
// MarkSegmentCompleted's row-count, so in practice this only ever runs
// once per segment.
func (s *Store) IncrementSegmentsCompleted(ctx context.Context, renderJobID uuid.UUID) (completed, total int, justFinished bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE render_jobs
		SET segments_completed = segments_completed + 1, updated_at = NOW()
		WHERE id = $1 AND segments_completed < segments_total
		RETURNING segments_completed, segments_total
	`, renderJobID)
	if scanErr := row.Scan(&completed, &total); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			// Either the render job doesn't exist, or segments_completed
			// was already at segments_total — read the current row back so
			// the caller still gets an accurate count to log.
			rj, getErr := s.GetRenderJob(ctx, renderJobID)
			if getErr != nil {
				return 0, 0, false, fmt.Errorf("store: increment render job %s progress: %w", renderJobID, getErr)
			}
			return rj.SegmentsCompleted, rj.SegmentsTotal, false, nil
		}
		return 0, 0, false, fmt.Errorf("store: increment render job %s progress: %w", renderJobID, scanErr)
	}
	return completed, total, completed >= total, nil
}

func uuidsToStringArray(ids []uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(raw))
	for i, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: rows affected: %w", err)
	}
	return n > 0, nil
}
