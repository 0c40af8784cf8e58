// Package progresscache is an advisory, eventually-consistent view of
// render job progress backed by Redis. It lets a status endpoint answer
// "how far along is this render" in one round trip instead of querying the
// state store, but it is never the system of record — the state store
// always wins on conflict.
package progresscache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const progressTTL = 24 * time.Hour

type Cache struct {
	client *redis.Client
}

func Connect(url string) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("progresscache: parse url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("progresscache: connect: %w", err)
	}

	return &Cache{client: client}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func renderJobKey(id uuid.UUID) string {
	return "render_job:" + id.String()
}

func segmentKey(id uuid.UUID) string {
	return "segment:" + id.String()
}

// MarkSegmentGenerating records that a segment is in flight for a render
// job, so a UI can show per-segment activity without querying the state
// store. Advisory only; it's fine for this to go stale.
func (c *Cache) MarkSegmentGenerating(ctx context.Context, segmentID, renderJobID uuid.UUID) error {
	key := segmentKey(segmentID)
	if err := c.client.HSet(ctx, key, map[string]interface{}{
		"status":        "generating",
		"render_job_id": renderJobID.String(),
	}).Err(); err != nil {
		return fmt.Errorf("progresscache: hset segment: %w", err)
	}
	return c.client.Expire(ctx, key, progressTTL).Err()
}

// SetStatus overwrites just the status field of a render job's progress
// hash, leaving the counters alone. Used for the terminal transitions
// where the counters are already correct.
func (c *Cache) SetStatus(ctx context.Context, renderJobID uuid.UUID, status string) error {
	key := renderJobKey(renderJobID)
	if err := c.client.HSet(ctx, key, "status", status).Err(); err != nil {
		return fmt.Errorf("progresscache: hset status: %w", err)
	}
	return c.client.Expire(ctx, key, progressTTL).Err()
}

// SetProgress overwrites the full progress hash for a render job and resets
// its TTL. Called when the orchestrator seeds a new render job and by the
// AI worker after each segment completion; terminal statuses go through
// SetStatus instead.
func (c *Cache) SetProgress(ctx context.Context, renderJobID uuid.UUID, segmentsTotal, segmentsCompleted int, status string) error {
	key := renderJobKey(renderJobID)

	progress := 0.0
	if segmentsTotal > 0 {
		progress = float64(segmentsCompleted) / float64(segmentsTotal) * 100
	}

	if err := c.client.HSet(ctx, key, map[string]interface{}{
		"segments_total":      segmentsTotal,
		"segments_completed":  segmentsCompleted,
		"status":              status,
		"progress_percentage": progress,
	}).Err(); err != nil {
		return fmt.Errorf("progresscache: hset: %w", err)
	}

	return c.client.Expire(ctx, key, progressTTL).Err()
}

// IncrementCompleted bumps the completed-segments counter by one and
// recomputes the progress percentage. Safe to call more than once for the
// same segment — the state store's idempotent update is what actually
// gates whether a completion is "new"; this cache is advisory and a double
// increment here only produces a stale-but-harmless percentage until the
// next SetProgress call corrects it.
func (c *Cache) IncrementCompleted(ctx context.Context, renderJobID uuid.UUID) error {
	key := renderJobKey(renderJobID)

	if err := c.client.HIncrBy(ctx, key, "segments_completed", 1).Err(); err != nil {
		return fmt.Errorf("progresscache: hincrby: %w", err)
	}

	data, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("progresscache: hgetall: %w", err)
	}

	total := parseIntOr(data["segments_total"], 0)
	completed := parseIntOr(data["segments_completed"], 0)
	if total > 0 {
		progress := float64(completed) / float64(total) * 100
		return c.client.HSet(ctx, key, "progress_percentage", progress).Err()
	}
	return nil
}

type Progress struct {
	SegmentsTotal      int
	SegmentsCompleted  int
	Status             string
	ProgressPercentage float64
}

// GetProgress returns nil, nil when the key is absent — e.g. it expired or
// this render job was never tracked. The progress endpoint answers such a
// render as not found; nothing here reads the state store.
func (c *Cache) GetProgress(ctx context.Context, renderJobID uuid.UUID) (*Progress, error) {
	data, err := c.client.HGetAll(ctx, renderJobKey(renderJobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("progresscache: hgetall: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	return &Progress{
		SegmentsTotal:      parseIntOr(data["segments_total"], 0),
		SegmentsCompleted:  parseIntOr(data["segments_completed"], 0),
		Status:             data["status"],
		ProgressPercentage: parseFloatOr(data["progress_percentage"], 0),
	}, nil
}

func (c *Cache) DeleteProgress(ctx context.Context, renderJobID uuid.UUID) error {
	return c.client.Del(ctx, renderJobKey(renderJobID)).Err()
}

func parseIntOr(s string, fallback int) int {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseFloatOr(s string, fallback float64) float64 {
	var v float64
	if _, err := fmt.Sscanf(s, "%f", &v); err != nil {
		return fallback
	}
	return v
}
