package ml

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRetakePhotos is returned by a Model when the provider envelope itself carries
	// the canonical error marker.
	ErrRetakePhotos = errors.New("provider asked to retake photos")
	// ErrMalformedResponse is returned when the provider envelope cannot be read.
	ErrMalformedResponse = errors.New("malformed provider response")
	// ErrNotLoaded is returned when a Model is used before Load.
	ErrNotLoaded = errors.New("model not loaded")
)

// Model is the contract with the external vision/LLM provider. Exactly one
// implementation is active at a time; which one is a configuration choice.
type Model interface {
	// Load initializes the provider client with its configuration
	Load(ctx context.Context) error
	// Detect runs the lightweight detection call for a PurposeVision request
	Detect(ctx context.Context, req Request) (*Detection, error)
	// Complete runs a chat call and returns the assistant text
	Complete(ctx context.Context, req Request) (string, error)
}

// ModelFactory creates a new model instance based on configuration
type ModelFactory interface {
	// CreateModel creates a new model instance
	CreateModel() (Model, error)
}

// ProviderSettings are the provider values carried by the service config. Set
// fields win over the provider's own config file; empty ones leave the file and
// environment in charge.
type ProviderSettings struct {
	ConfigPath string
	APIKey     string
	BaseURL    string
}

// NewModel creates a new model instance based on the model type.
func NewModel(modelType string, settings ProviderSettings) (Model, error) {
	var factory ModelFactory

	switch modelType {
	case "openai", "":
		config := OpenAIConfig{
			BaseConfig: BaseConfig{
				ConfigPath: settings.ConfigPath,
			},
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
		}
		if err := config.Load(); err != nil {
			return nil, fmt.Errorf("failed to load OpenAI config: %w", err)
		}
		settings.applyOpenAI(&config)
		factory = NewOpenAIModelFactory(config)
	case "google":
		config := GoogleConfig{
			BaseConfig: BaseConfig{
				ConfigPath: settings.ConfigPath,
			},
		}
		if err := config.Load(); err != nil {
			return nil, fmt.Errorf("failed to load Google config: %w", err)
		}
		factory = NewGoogleModelFactory(config)
	default:
		return nil, fmt.Errorf("unsupported model type: %s", modelType)
	}
	return factory.CreateModel()
}

// applyOpenAI re-applies set values that the provider file may have overwritten.
func (s ProviderSettings) applyOpenAI(config *OpenAIConfig) {
	if s.APIKey != "" {
		config.APIKey = s.APIKey
	}
	if s.BaseURL != "" {
		config.BaseURL = s.BaseURL
	}
}
