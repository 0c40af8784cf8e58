// Package domain holds the core entities shared by every component of the
// render pipeline: projects, segments and render jobs, plus the enumerated
// status values that drive their state machines.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SegmentStatus is the lifecycle state of a single segment's generation.
type SegmentStatus string

const (
	SegmentPending    SegmentStatus = "pending"
	SegmentGenerating SegmentStatus = "generating"
	SegmentCompleted  SegmentStatus = "completed"
	SegmentFailed     SegmentStatus = "failed"
)

// RenderJobStatus is the lifecycle state of one render attempt for a project.
type RenderJobStatus string

const (
	RenderJobPending     RenderJobStatus = "pending"
	RenderJobProcessing  RenderJobStatus = "processing"
	RenderJobCompositing RenderJobStatus = "compositing"
	RenderJobCompleted   RenderJobStatus = "completed"
	RenderJobFailed      RenderJobStatus = "failed"
)

// JSONB stores arbitrary per-segment model parameters and per-job metadata
// as a jsonb column, the same Value/Scan shape the state store uses for
// every other free-form column.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Project is the top-level unit of work: a sequence of segments that get
// rendered together into one final video.
type Project struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Segment is one prompt + model-parameter pair that a model adapter turns
// into a single video asset. SequenceIndex fixes its position in the final
// composition.
type Segment struct {
	ID            uuid.UUID     `json:"id"`
	ProjectID     uuid.UUID     `json:"project_id"`
	SequenceIndex int           `json:"sequence_index"`
	Prompt        string        `json:"prompt"`
	ModelParams   JSONB         `json:"model_params"`
	ModelName     string        `json:"model_name"`
	Status        SegmentStatus `json:"status"`
	AssetURL      *string       `json:"asset_url,omitempty"`
	ExternalJobID *string       `json:"external_job_id,omitempty"`
	ErrorCode     *string       `json:"error_code,omitempty"`
	ErrorMessage  *string       `json:"error_message,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// RenderJob is one attempt at rendering a project's segments into a final
// video. SegmentIDs freezes the project's full ordered timeline at creation
// time — composition needs every segment, not just the ones this render
// regenerates. SegmentsTotal counts only the regeneration set; once
// SegmentsCompleted reaches it, the AI worker enqueues composition.
type RenderJob struct {
	ID                uuid.UUID       `json:"id"`
	ProjectID         uuid.UUID       `json:"project_id"`
	SegmentIDs        []uuid.UUID     `json:"segment_ids"`
	Status            RenderJobStatus `json:"status"`
	SegmentsTotal     int             `json:"segments_total"`
	SegmentsCompleted int             `json:"segments_completed"`
	FinalURL          *string         `json:"final_url,omitempty"`
	ErrorMessage      *string         `json:"error_message,omitempty"`
	Metadata          JSONB           `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IdentifyRegenerationSet decides which of a project's current segments a
// new render job must (re)generate. Because editing a segment's prompt or
// model params resets it to PENDING with a null asset URL (see
// Segment's content-edit invariant), a segment's own current status and
// asset URL are a sufficient proxy for "did this segment's content change
// since the last completed render" — no separate content hash is needed.
//
// lastSegmentIDs is nil when the project has never had a completed render;
// in that case every non-completed segment needs generating. Otherwise a
// segment needs (re)generating if it's new since that render, isn't
// currently COMPLETED, or has no live asset URL.
func IdentifyRegenerationSet(current []Segment, lastSegmentIDs []uuid.UUID) []uuid.UUID {
	var toRegenerate []uuid.UUID

	if lastSegmentIDs == nil {
		for _, seg := range current {
			if seg.Status != SegmentCompleted {
				toRegenerate = append(toRegenerate, seg.ID)
			}
		}
		return toRegenerate
	}

	lastSet := make(map[uuid.UUID]struct{}, len(lastSegmentIDs))
	for _, id := range lastSegmentIDs {
		lastSet[id] = struct{}{}
	}

	for _, seg := range current {
		if _, existed := lastSet[seg.ID]; !existed || seg.Status != SegmentCompleted || seg.AssetURL == nil {
			toRegenerate = append(toRegenerate, seg.ID)
		}
	}

	return toRegenerate
}
