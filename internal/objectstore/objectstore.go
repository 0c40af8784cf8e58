// Package objectstore is the durable blob store for segment and final
// render videos. Store is implemented by an S3-backed client (the
// production backend) and a local-disk client used for development and
// tests, selected at startup by the USE_LOCAL_STORAGE setting.
package objectstore

import (
	"context"

	"github.com/google/uuid"
)

type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	Download(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// SegmentKey returns the storage key for one segment's generated video.
func SegmentKey(projectID, segmentID uuid.UUID) string {
	return "segments/" + projectID.String() + "/" + segmentID.String() + ".mp4"
}

// RenderKey returns the storage key for a render job's final composed
// video.
func RenderKey(projectID, renderJobID uuid.UUID) string {
	return "renders/" + projectID.String() + "/" + renderJobID.String() + ".mp4"
}
