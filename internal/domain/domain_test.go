package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestJSONBValueScan(t *testing.T) {
	j := JSONB{"width": 1080, "height": 1920}

	val, err := j.Value()
	if err != nil {
		t.Fatalf("Value() returned error: %v", err)
	}

	var scanned JSONB
	if err := scanned.Scan(val); err != nil {
		t.Fatalf("Scan() returned error: %v", err)
	}

	if scanned["width"].(float64) != 1080 {
		t.Errorf("expected width 1080, got %v", scanned["width"])
	}
}

func TestJSONBScanNil(t *testing.T) {
	var j JSONB
	if err := j.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) returned error: %v", err)
	}
	if j != nil {
		t.Errorf("expected nil JSONB after scanning nil, got %v", j)
	}
}

func TestIdentifyRegenerationSetFirstRender(t *testing.T) {
	segs := []Segment{
		{ID: uuid.New(), Prompt: "a dog running", Status: SegmentPending},
		{ID: uuid.New(), Prompt: "a cat sleeping", Status: SegmentPending},
	}

	got := IdentifyRegenerationSet(segs, nil)
	if len(got) != 2 {
		t.Fatalf("expected all %d segments on first render, got %d", len(segs), len(got))
	}
}

func TestIdentifyRegenerationSetFirstRenderSkipsAlreadyCompleted(t *testing.T) {
	completedID := uuid.New()
	url := "https://cdn.example.com/a.mp4"
	segs := []Segment{
		{ID: completedID, Status: SegmentCompleted, AssetURL: &url},
		{ID: uuid.New(), Status: SegmentPending},
	}

	got := IdentifyRegenerationSet(segs, nil)
	if len(got) != 1 {
		t.Fatalf("expected only the pending segment flagged, got %v", got)
	}
}

func TestIdentifyRegenerationSetUnchangedSkipped(t *testing.T) {
	segID := uuid.New()
	url := "https://cdn.example.com/a.mp4"
	seg := Segment{ID: segID, Prompt: "a dog running", Status: SegmentCompleted, AssetURL: &url}

	got := IdentifyRegenerationSet([]Segment{seg}, []uuid.UUID{segID})
	if len(got) != 0 {
		t.Fatalf("expected no segments to regenerate, got %v", got)
	}
}

func TestIdentifyRegenerationSetNewSegmentSinceLastRender(t *testing.T) {
	oldID, newID := uuid.New(), uuid.New()
	url := "https://cdn.example.com/a.mp4"
	segs := []Segment{
		{ID: oldID, Status: SegmentCompleted, AssetURL: &url},
		{ID: newID, Status: SegmentPending},
	}

	got := IdentifyRegenerationSet(segs, []uuid.UUID{oldID})
	if len(got) != 1 || got[0] != newID {
		t.Fatalf("expected only the new segment %s flagged, got %v", newID, got)
	}
}

func TestIdentifyRegenerationSetEditResetsStatus(t *testing.T) {
	// An edited segment's status/asset_url are reset to PENDING/nil at the
	// API boundary before the orchestrator ever sees it, so a
	// non-COMPLETED current status alone is enough to flag it.
	segID := uuid.New()
	seg := Segment{ID: segID, Prompt: "a dog jumping", Status: SegmentPending}

	got := IdentifyRegenerationSet([]Segment{seg}, []uuid.UUID{segID})
	if len(got) != 1 || got[0] != segID {
		t.Fatalf("expected segment %s to be flagged for regeneration, got %v", segID, got)
	}
}

func TestIdentifyRegenerationSetPreviouslyFailed(t *testing.T) {
	segID := uuid.New()
	seg := Segment{ID: segID, Prompt: "a dog running", Status: SegmentFailed}

	got := IdentifyRegenerationSet([]Segment{seg}, []uuid.UUID{segID})
	if len(got) != 1 {
		t.Fatalf("expected previously-failed segment to be regenerated, got %v", got)
	}
}

func TestIdentifyRegenerationSetMissingAssetURL(t *testing.T) {
	// A COMPLETED segment somehow missing its asset URL must still be
	// regenerated — the diff shouldn't trust a COMPLETED status on its own.
	segID := uuid.New()
	seg := Segment{ID: segID, Status: SegmentCompleted, AssetURL: nil}

	got := IdentifyRegenerationSet([]Segment{seg}, []uuid.UUID{segID})
	if len(got) != 1 {
		t.Fatalf("expected segment with missing asset URL to be regenerated, got %v", got)
	}
}
