package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	xaiBaseURL    = "https://api.x.ai/v1"
	xaiVideoModel = "grok-imagine-video"

	xaiMinDuration     = 1
	xaiMaxDuration     = 15
	xaiDefaultDuration = 8
	xaiDefaultAspect   = "9:16"
	xaiDefaultRes      = "720p"
)

// XAIAdapter drives xAI's Grok Imagine Video REST API. Submission maps to
// Initiate and the request id it returns is what GetStatus/GetResult poll
// by, so the AI worker owns the poll loop rather than this adapter
// blocking internally.
type XAIAdapter struct {
	apiKey     string
	httpClient *http.Client
}

func NewXAIAdapter(apiKey string) *XAIAdapter {
	return &XAIAdapter{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

var _ Adapter = (*XAIAdapter)(nil)

func (x *XAIAdapter) Name() string { return "xai" }

type xaiGenerationRequest struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model"`
	Duration    int    `json:"duration,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
}

type xaiGenerationResponse struct {
	RequestID string `json:"request_id"`
}

// xaiVideoResult is the unified response shape from GET /v1/videos/{id}.
// xAI returns different fields depending on state: {"status":"pending"}
// while running, {"video":{...}} (no status field) once complete, or
// {"status":"failed","error":"..."} on failure.
type xaiVideoResult struct {
	Status string          `json:"status"`
	Video  *xaiVideoOutput `json:"video,omitempty"`
	Error  string          `json:"error"`
}

type xaiVideoOutput struct {
	URL      string `json:"url"`
	Duration int    `json:"duration"`
}

func (x *XAIAdapter) Initiate(ctx context.Context, prompt string, params map[string]interface{}) (string, error) {
	duration := xaiDefaultDuration
	if d, ok := params["duration_seconds"].(float64); ok && d > 0 {
		duration = clampInt(int(d), xaiMinDuration, xaiMaxDuration)
	}
	aspectRatio, _ := params["aspect_ratio"].(string)
	if aspectRatio == "" {
		aspectRatio = xaiDefaultAspect
	}

	reqBody := xaiGenerationRequest{
		Prompt:      prompt,
		Model:       xaiVideoModel,
		Duration:    duration,
		AspectRatio: aspectRatio,
		Resolution:  xaiDefaultRes,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", newError(ErrParameters, "failed to marshal xai request", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", xaiBaseURL+"/videos/generations", bytes.NewReader(jsonData))
	if err != nil {
		return "", newError(ErrConnection, "failed to build xai request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+x.apiKey)

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return "", newError(ErrConnection, "xai generation request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", newError(ErrConnection, "failed to read xai response", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", newError(ErrWorkflow, fmt.Sprintf("xai returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var genResp xaiGenerationResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return "", newError(ErrOutput, "failed to parse xai generation response", err)
	}
	if genResp.RequestID == "" {
		return "", newError(ErrOutput, "no request_id in xai generation response", nil)
	}

	return genResp.RequestID, nil
}

func (x *XAIAdapter) poll(ctx context.Context, externalJobID string) (*xaiVideoResult, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/videos/%s", xaiBaseURL, externalJobID), nil)
	if err != nil {
		return nil, newError(ErrConnection, "failed to build xai poll request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+x.apiKey)

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, newError(ErrConnection, "xai poll request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(ErrConnection, "failed to read xai poll response", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, newError(ErrWorkflow, fmt.Sprintf("xai returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var result xaiVideoResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, newError(ErrOutput, "failed to parse xai poll response", err)
	}
	return &result, nil
}

func (x *XAIAdapter) GetStatus(ctx context.Context, externalJobID string) (Status, error) {
	result, err := x.poll(ctx, externalJobID)
	if err != nil {
		return "", err
	}
	switch {
	case result.Video != nil && result.Video.URL != "":
		return StatusCompleted, nil
	case result.Status == "failed":
		return StatusFailed, nil
	default:
		return StatusProcessing, nil
	}
}

func (x *XAIAdapter) GetResult(ctx context.Context, externalJobID string) (Result, error) {
	result, err := x.poll(ctx, externalJobID)
	if err != nil {
		return Result{}, err
	}

	if result.Video != nil && result.Video.URL != "" {
		return Result{Status: StatusCompleted, AssetURL: result.Video.URL}, nil
	}

	if result.Status == "failed" {
		msg := result.Error
		if msg == "" {
			msg = "unknown error"
		}
		return Result{Status: StatusFailed, ErrorCode: ErrGeneration, ErrorMessage: msg}, nil
	}

	return Result{Status: StatusProcessing}, nil
}

func (x *XAIAdapter) Cancel(ctx context.Context, externalJobID string) (bool, error) {
	// xAI's Grok Imagine Video API has no cancellation endpoint; best
	// effort means simply not polling further, which the AI worker
	// already does once it gives up on a job.
	return false, nil
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
