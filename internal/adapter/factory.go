package adapter

import (
	"fmt"
	"time"
)

// Constructor builds an Adapter from a Config. Constructors are registered
// by name in Factory so the AI worker can select a segment's adapter
// dynamically from its model params.
type Constructor func(cfg Config) (Adapter, error)

// Config carries every credential any registered adapter might need.
// Individual constructors only read the fields relevant to them; a missing
// field is a terminal error for that one adapter, not for Load/Factory
// construction as a whole.
type Config struct {
	GeminiAPIKey string
	VeoModel     string
	XAIAPIKey    string

	MockGenerationDelay time.Duration
	MockFailRate        float64
}

// Factory resolves a model name to a constructed Adapter.
type Factory struct {
	constructors map[string]Constructor
}

// NewFactory builds a Factory pre-registered with every adapter this
// repository ships: mock, veo and xai.
func NewFactory() *Factory {
	f := &Factory{constructors: make(map[string]Constructor)}
	f.Register("mock", func(cfg Config) (Adapter, error) {
		return NewMockAdapter(MockConfig{GenerationDelay: cfg.MockGenerationDelay, FailRate: cfg.MockFailRate}), nil
	})
	f.Register("veo", func(cfg Config) (Adapter, error) {
		if cfg.GeminiAPIKey == "" {
			return nil, newError(ErrParameters, "veo adapter requires GEMINI_API_KEY", nil)
		}
		return NewVeoAdapter(cfg.GeminiAPIKey, cfg.VeoModel), nil
	})
	f.Register("xai", func(cfg Config) (Adapter, error) {
		if cfg.XAIAPIKey == "" {
			return nil, newError(ErrParameters, "xai adapter requires XAI_API_KEY", nil)
		}
		return NewXAIAdapter(cfg.XAIAPIKey), nil
	})
	return f
}

// Register adds or replaces the constructor for a model name.
func (f *Factory) Register(name string, ctor Constructor) {
	f.constructors[name] = ctor
}

// Build constructs the adapter registered under name. An unregistered model
// name is a terminal WORKFLOW error — the pipeline has no driver for it at
// all, as opposed to a registered driver with invalid or missing
// parameters, which is ErrParameters.
func (f *Factory) Build(name string, cfg Config) (Adapter, error) {
	ctor, ok := f.constructors[name]
	if !ok {
		return nil, newError(ErrWorkflow, fmt.Sprintf("no adapter registered for model %q", name), nil)
	}
	return ctor(cfg)
}
