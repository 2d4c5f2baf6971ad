package ml

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// DefaultVisionPath is the detection endpoint, relative to the API base URL.
const DefaultVisionPath = "images/vision"

// OpenAIConfig holds configuration for the OpenAI model
type OpenAIConfig struct {
	BaseConfig
	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url"`
	VisionPath string `json:"vision_path"`

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client `json:"-"`
}

// Load loads the OpenAI configuration
func (c *OpenAIConfig) Load() error {
	if err := c.LoadConfig(c.ConfigPath, "openai", c); err != nil {
		return err
	}

	// Fall back to environment variables if not set
	if c.APIKey == "" {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.BaseURL == "" {
		c.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if c.VisionPath == "" {
		c.VisionPath = DefaultVisionPath
	}

	return nil
}

// OpenAIModel implements the Model interface for the OpenAI chat completions API
type OpenAIModel struct {
	config OpenAIConfig
	client *openai.Client
}

// OpenAIModelFactory implements ModelFactory for OpenAI models
type OpenAIModelFactory struct {
	config OpenAIConfig
}

// NewOpenAIModelFactory creates a new OpenAI model factory
func NewOpenAIModelFactory(config OpenAIConfig) *OpenAIModelFactory {
	return &OpenAIModelFactory{config: config}
}

// CreateModel creates a new OpenAI model instance
func (f *OpenAIModelFactory) CreateModel() (Model, error) {
	return &OpenAIModel{
		config: f.config,
	}, nil
}

// Load initializes the OpenAI client
func (m *OpenAIModel) Load(ctx context.Context) error {
	if m.config.APIKey == "" {
		return fmt.Errorf("openai api key is not set")
	}
	if m.config.VisionPath == "" {
		m.config.VisionPath = DefaultVisionPath
	}

	// Retries are the caller's decision.
	opts := []option.RequestOption{
		option.WithAPIKey(m.config.APIKey),
		option.WithMaxRetries(0),
	}
	if m.config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(m.config.BaseURL))
	}
	if m.config.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(m.config.HTTPClient))
	}

	client := openai.NewClient(opts...)
	m.client = &client
	return nil
}

// Complete sends a chat completion and returns the assistant content
func (m *OpenAIModel) Complete(ctx context.Context, req Request) (string, error) {
	if m.client == nil {
		return "", ErrNotLoaded
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system := req.SystemPrompt(); system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, buildUserMessage(req))

	params := openai.ChatCompletionNewParams{
		Model:    req.Model(),
		Messages: messages,
	}
	if n := req.MaxTokens(); n > 0 {
		params.MaxTokens = openai.Int(int64(n))
	}

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if envelopeAsksRetake(resp.RawJSON()) {
		return "", ErrRetakePhotos
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrMalformedResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// Detect posts the single image to the detection endpoint
func (m *OpenAIModel) Detect(ctx context.Context, req Request) (*Detection, error) {
	if m.client == nil {
		return nil, ErrNotLoaded
	}

	var image []byte
	for _, part := range req.Parts() {
		if part.Kind == PartImage {
			image = part.Data
			break
		}
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("vision request has no inline image")
	}

	body := visionBody{
		Model:    req.Model(),
		Image:    visionImage{Base64: base64.StdEncoding.EncodeToString(image)},
		Features: req.Features(),
	}
	var detection Detection
	if err := m.client.Post(ctx, m.config.VisionPath, body, &detection); err != nil {
		return nil, fmt.Errorf("vision request failed: %w", err)
	}
	return &detection, nil
}

type visionImage struct {
	Base64 string `json:"base64"`
}

type visionBody struct {
	Model    string      `json:"model"`
	Image    visionImage `json:"image"`
	Features []Feature   `json:"features"`
}

func (b visionBody) MarshalJSON() ([]byte, error) {
	type plain visionBody
	return json.Marshal(plain(b))
}

func buildUserMessage(req Request) openai.ChatCompletionMessageParamUnion {
	parts := req.Parts()
	if len(parts) == 1 && parts[0].Kind == PartText {
		return openai.UserMessage(parts[0].Text)
	}

	content := make([]openai.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, part := range parts {
		switch part.Kind {
		case PartText:
			content = append(content, openai.ChatCompletionContentPartUnionParam{
				OfText: &openai.ChatCompletionContentPartTextParam{
					Text: part.Text,
				},
			})
		case PartImage:
			content = append(content, openai.ChatCompletionContentPartUnionParam{
				OfImageURL: &openai.ChatCompletionContentPartImageParam{
					ImageURL: openai.ChatCompletionContentPartImageImageURLParam{
						URL: part.URL(),
					},
				},
			})
		}
	}

	return openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfArrayOfContentParts: content,
			},
		},
	}
}

// envelopeAsksRetake checks for a top-level "error": "retake photos" member.
func envelopeAsksRetake(raw string) bool {
	if raw == "" {
		return false
	}
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil || len(envelope.Error) == 0 {
		return false
	}
	var msg string
	if err := json.Unmarshal(envelope.Error, &msg); err != nil {
		return false
	}
	return msg == RetakePhotos
}
