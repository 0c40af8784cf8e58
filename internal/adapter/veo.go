package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

const defaultVeoModel = "veo-3.1-generate-preview"

// VeoAdapter drives Google's Veo video model through the genai SDK.
// Initiate starts the long-running operation and returns its name
// immediately; GetStatus/GetResult are polled by the AI worker, fitting
// the adapter contract every model implements.
type VeoAdapter struct {
	apiKey string
	model  string

	mu         sync.Mutex
	operations map[string]*genai.GenerateVideosOperation
}

func NewVeoAdapter(apiKey, model string) *VeoAdapter {
	if model == "" {
		model = defaultVeoModel
	}
	return &VeoAdapter{apiKey: apiKey, model: model, operations: make(map[string]*genai.GenerateVideosOperation)}
}

var _ Adapter = (*VeoAdapter)(nil)

func (v *VeoAdapter) Name() string { return "veo" }

func (v *VeoAdapter) client(ctx context.Context) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  v.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, newError(ErrConnection, "failed to create genai client", err)
	}
	return client, nil
}

func (v *VeoAdapter) Initiate(ctx context.Context, prompt string, params map[string]interface{}) (string, error) {
	client, err := v.client(ctx)
	if err != nil {
		return "", err
	}

	aspectRatio, _ := params["aspect_ratio"].(string)
	if aspectRatio == "" {
		aspectRatio = "9:16"
	}

	config := &genai.GenerateVideosConfig{
		AspectRatio:      aspectRatio,
		Resolution:       "1080p",
		PersonGeneration: "allow_adult",
		NumberOfVideos:   1,
	}

	operation, err := client.Models.GenerateVideos(ctx, v.model, prompt, nil, config)
	if err != nil {
		return "", newError(ErrWorkflow, "failed to start veo video generation", err)
	}

	v.mu.Lock()
	v.operations[operation.Name] = operation
	v.mu.Unlock()

	return operation.Name, nil
}

func (v *VeoAdapter) refresh(ctx context.Context, externalJobID string) (*genai.GenerateVideosOperation, error) {
	v.mu.Lock()
	operation, ok := v.operations[externalJobID]
	v.mu.Unlock()
	if !ok {
		return nil, newError(ErrWorkflow, fmt.Sprintf("unknown veo operation %s", externalJobID), nil)
	}
	if operation.Done {
		return operation, nil
	}

	client, err := v.client(ctx)
	if err != nil {
		return nil, err
	}

	operation, err = client.Operations.GetVideosOperation(ctx, operation, nil)
	if err != nil {
		return nil, newError(ErrConnection, "failed to poll veo operation", err)
	}

	v.mu.Lock()
	v.operations[externalJobID] = operation
	v.mu.Unlock()

	return operation, nil
}

func (v *VeoAdapter) GetStatus(ctx context.Context, externalJobID string) (Status, error) {
	operation, err := v.refresh(ctx, externalJobID)
	if err != nil {
		return "", err
	}
	if !operation.Done {
		return StatusProcessing, nil
	}
	if operation.Error != nil && len(operation.Error) > 0 {
		return StatusFailed, nil
	}
	return StatusCompleted, nil
}

func (v *VeoAdapter) GetResult(ctx context.Context, externalJobID string) (Result, error) {
	operation, err := v.refresh(ctx, externalJobID)
	if err != nil {
		return Result{}, err
	}

	if !operation.Done {
		return Result{Status: StatusProcessing}, nil
	}

	if operation.Error != nil && len(operation.Error) > 0 {
		return Result{Status: StatusFailed, ErrorCode: ErrGeneration, ErrorMessage: fmt.Sprintf("%v", operation.Error)}, nil
	}

	if operation.Response == nil {
		return Result{Status: StatusFailed, ErrorCode: ErrOutput, ErrorMessage: "no response in completed operation"}, nil
	}

	if operation.Response.RAIMediaFilteredCount > 0 {
		reasons := "unknown"
		if len(operation.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(operation.Response.RAIMediaFilteredReasons, ", ")
		}
		return Result{Status: StatusFailed, ErrorCode: ErrOutput, ErrorMessage: "blocked by safety filters: " + reasons}, nil
	}

	if len(operation.Response.GeneratedVideos) == 0 || operation.Response.GeneratedVideos[0].Video == nil {
		return Result{Status: StatusFailed, ErrorCode: ErrOutput, ErrorMessage: "no video in response"}, nil
	}

	client, err := v.client(ctx)
	if err != nil {
		return Result{}, err
	}

	video := operation.Response.GeneratedVideos[0]
	downloadURI := genai.NewDownloadURIFromVideo(video.Video)
	videoBytes, err := client.Files.Download(ctx, downloadURI, nil)
	if err != nil {
		return Result{}, newError(ErrOutput, "failed to download generated video", err)
	}
	if len(videoBytes) == 0 {
		return Result{Status: StatusFailed, ErrorCode: ErrOutput, ErrorMessage: "downloaded video is empty"}, nil
	}

	// The AI worker, not this adapter, owns uploading bytes to the object
	// store; GetResult is not expected to return raw bytes in the common
	// path (remote URLs are the norm), so the download URI itself is
	// surfaced as the asset URL and the worker fetches it directly.
	return Result{Status: StatusCompleted, AssetURL: video.Video.URI}, nil
}

func (v *VeoAdapter) Cancel(ctx context.Context, externalJobID string) (bool, error) {
	// The genai SDK exposes no cancellation RPC for video operations, so
	// this is a no-op. Cancel is best-effort across all adapters.
	return false, nil
}
