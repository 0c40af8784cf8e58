// Package ffmpeg wraps the external ffmpeg/ffprobe binaries: concat-copy
// composition for the composition worker, duration probing, and the
// solid-color-plus-text synthesis the mock adapter uses to produce a real
// playable segment without calling any external model.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

type Service struct {
	tempDir string
}

func NewService(tempDir string) (*Service, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("ffmpeg: create temp dir: %w", err)
	}
	return &Service{tempDir: tempDir}, nil
}

// ConcatenateClips combines multiple video clips, in order, into one final
// video using ffmpeg's concat demuxer with -c copy (no re-encoding). Every
// input must share codec, resolution and frame rate — that's the
// responsibility of whatever produced the segments, not this function.
func (s *Service) ConcatenateClips(ctx context.Context, clipPaths []string, outputPath string) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("ffmpeg: no clips to concatenate")
	}

	listPath := filepath.Join(s.tempDir, fmt.Sprintf("concat_list_%d.txt", os.Getpid()))
	f, err := os.Create(listPath)
	if err != nil {
		return fmt.Errorf("ffmpeg: create concat list: %w", err)
	}
	for _, path := range clipPaths {
		fmt.Fprintf(f, "file '%s'\n", path)
	}
	f.Close()
	defer os.Remove(listPath)

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// The captured stderr ends up as the render job's error message, so
		// keep it in the error rather than just the exit status.
		return fmt.Errorf("ffmpeg: concatenate failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// GetVideoDuration returns a video's duration in milliseconds via ffprobe.
func (s *Service) GetVideoDuration(ctx context.Context, videoPath string) (int, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	}

	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffmpeg: ffprobe failed: %w", err)
	}

	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &durationSec); err != nil {
		return 0, fmt.Errorf("ffmpeg: parse duration: %w", err)
	}

	return int(durationSec * 1000), nil
}

// aspectToResolution maps the handful of aspect ratios the mock adapter
// supports to a concrete output size.
func aspectToResolution(aspectRatio string) (width, height int) {
	switch aspectRatio {
	case "16:9":
		return 1280, 720
	case "1:1":
		return 720, 720
	case "9:16":
		fallthrough
	default:
		return 720, 1280
	}
}

// SynthesizeTextClip generates a solid-color video with the given text
// overlaid in the center, sized by aspectRatio and durationSec long. It's
// used by the mock adapter to produce a real, playable MP4 without calling
// any external generation service — the Go equivalent of a model that
// always "succeeds" for local development and tests.
func (s *Service) SynthesizeTextClip(ctx context.Context, text, aspectRatio string, durationSec int, outputPath string) error {
	if durationSec <= 0 {
		durationSec = 4
	}
	width, height := aspectToResolution(aspectRatio)

	escaped := strings.ReplaceAll(text, "'", "")
	escaped = strings.ReplaceAll(escaped, ":", "")
	if len(escaped) > 200 {
		escaped = escaped[:200]
	}

	color := fmt.Sprintf("color=c=navy:s=%dx%d:d=%d", width, height, durationSec)
	drawtext := fmt.Sprintf("drawtext=text='%s':fontcolor=white:fontsize=36:x=(w-text_w)/2:y=(h-text_h)/2:box=1:boxcolor=black@0.5", escaped)

	args := []string{
		"-f", "lavfi",
		"-i", color,
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=44100:d=%d", durationSec),
		"-vf", drawtext,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-pix_fmt", "yuv420p",
		"-shortest",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: synthesize text clip failed: %w", err)
	}
	return nil
}

// CreateTempFile returns a path inside the service's temp directory.
func (s *Service) CreateTempFile(filename string) string {
	return filepath.Join(s.tempDir, filename)
}

// Cleanup best-effort removes the given temp files.
func (s *Service) Cleanup(paths ...string) {
	for _, path := range paths {
		os.Remove(path)
	}
}
