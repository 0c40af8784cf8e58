package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/renderpipe/engine/internal/domain"
)

func (s *Store) ListSegmentsByProject(ctx context.Context, projectID uuid.UUID) ([]domain.Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, sequence_index, prompt, model_params, model_name,
		       status, asset_url, external_job_id, error_code, error_message,
		       created_at, updated_at
		FROM segments
		WHERE project_id = $1
		ORDER BY sequence_index ASC, id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list segments for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var segments []domain.Segment
	for rows.Next() {
		var seg domain.Segment
		if err := rows.Scan(
			&seg.ID, &seg.ProjectID, &seg.SequenceIndex, &seg.Prompt, &seg.ModelParams, &seg.ModelName,
			&seg.Status, &seg.AssetURL, &seg.ExternalJobID, &seg.ErrorCode, &seg.ErrorMessage,
			&seg.CreatedAt, &seg.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan segment: %w", err)
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate segments: %w", err)
	}
	return segments, nil
}

func (s *Store) GetSegment(ctx context.Context, id uuid.UUID) (*domain.Segment, error) {
	var seg domain.Segment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, sequence_index, prompt, model_params, model_name,
		       status, asset_url, external_job_id, error_code, error_message,
		       created_at, updated_at
		FROM segments
		WHERE id = $1
	`, id).Scan(
		&seg.ID, &seg.ProjectID, &seg.SequenceIndex, &seg.Prompt, &seg.ModelParams, &seg.ModelName,
		&seg.Status, &seg.AssetURL, &seg.ExternalJobID, &seg.ErrorCode, &seg.ErrorMessage,
		&seg.CreatedAt, &seg.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("segment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get segment %s: %w", id, err)
	}
	return &seg, nil
}

// MarkSegmentDispatched flips a segment to generating as the orchestrator
// publishes its generation task. FAILED segments in a regeneration set go
// back through here directly; COMPLETED segments are never dispatched, so
// the conditional WHERE leaves them alone.
func (s *Store) MarkSegmentDispatched(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE segments
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
	`, id, domain.SegmentGenerating, domain.SegmentPending, domain.SegmentFailed)
	if err != nil {
		return false, fmt.Errorf("store: mark segment %s dispatched: %w", id, err)
	}
	return rowsAffected(res)
}

// MarkSegmentGenerating records the adapter's external job id once a
// worker has initiated generation. The segment is normally already in
// generating (set at dispatch time); pending is accepted too so a task
// whose dispatch-time transition was lost still proceeds.
func (s *Store) MarkSegmentGenerating(ctx context.Context, id uuid.UUID, externalJobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE segments
		SET status = $2, external_job_id = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)
	`, id, domain.SegmentGenerating, externalJobID, domain.SegmentPending, domain.SegmentGenerating)
	if err != nil {
		return false, fmt.Errorf("store: mark segment %s generating: %w", id, err)
	}
	return rowsAffected(res)
}

// MarkSegmentCompleted idempotently transitions a segment to completed.
// Returns false (no error) when the segment was already completed or
// failed — the caller should treat that as "nothing to do", not an error.
func (s *Store) MarkSegmentCompleted(ctx context.Context, id uuid.UUID, assetURL string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE segments
		SET status = $2, asset_url = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)
	`, id, domain.SegmentCompleted, assetURL, domain.SegmentPending, domain.SegmentGenerating)
	if err != nil {
		return false, fmt.Errorf("store: mark segment %s completed: %w", id, err)
	}
	return rowsAffected(res)
}

// MarkSegmentFailed idempotently transitions a segment to failed with an
// error code/message for display and troubleshooting.
func (s *Store) MarkSegmentFailed(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE segments
		SET status = $2, error_code = $3, error_message = $4, updated_at = NOW()
		WHERE id = $1 AND status IN ($5, $6)
	`, id, domain.SegmentFailed, errorCode, errorMessage, domain.SegmentPending, domain.SegmentGenerating)
	if err != nil {
		return false, fmt.Errorf("store: mark segment %s failed: %w", id, err)
	}
	return rowsAffected(res)
}

func (s *Store) CreateSegment(ctx context.Context, seg domain.Segment) (*domain.Segment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO segments (id, project_id, sequence_index, prompt, model_params, model_name, status, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, seg.ProjectID, seg.SequenceIndex, seg.Prompt, seg.ModelParams, seg.ModelName, domain.SegmentPending,
	).Scan(&seg.ID, &seg.CreatedAt, &seg.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create segment: %w", err)
	}
	seg.Status = domain.SegmentPending
	return &seg, nil
}

// UpdateSegmentContent rewrites a segment's prompt/model params and resets
// it to PENDING with a null asset URL in the same statement. That reset is
// what lets the orchestrator trust "still COMPLETED" as "content unchanged
// since the last render".
func (s *Store) UpdateSegmentContent(ctx context.Context, id uuid.UUID, prompt string, modelParams domain.JSONB, modelName string) (*domain.Segment, error) {
	var seg domain.Segment
	err := s.db.QueryRowContext(ctx, `
		UPDATE segments
		SET prompt = $2, model_params = $3, model_name = $4,
		    status = $5, asset_url = NULL, updated_at = NOW()
		WHERE id = $1
		RETURNING id, project_id, sequence_index, prompt, model_params, model_name,
		          status, asset_url, external_job_id, error_code, error_message,
		          created_at, updated_at
	`, id, prompt, modelParams, modelName, domain.SegmentPending).Scan(
		&seg.ID, &seg.ProjectID, &seg.SequenceIndex, &seg.Prompt, &seg.ModelParams, &seg.ModelName,
		&seg.Status, &seg.AssetURL, &seg.ExternalJobID, &seg.ErrorCode, &seg.ErrorMessage,
		&seg.CreatedAt, &seg.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("segment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: update segment %s content: %w", id, err)
	}
	return &seg, nil
}

// RetrySegment resets a FAILED segment back to PENDING, clearing its error
// fields and external job id, so the next create_render call includes it
// in the regeneration set again.
func (s *Store) RetrySegment(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE segments
		SET status = $2, error_code = NULL, error_message = NULL, external_job_id = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, domain.SegmentPending, domain.SegmentFailed)
	if err != nil {
		return false, fmt.Errorf("store: retry segment %s: %w", id, err)
	}
	return rowsAffected(res)
}
