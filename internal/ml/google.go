package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"
)

// DefaultGoogleModel is used when neither the request nor the config names a model.
const DefaultGoogleModel = "gemini-1.5-pro"

// GoogleConfig holds configuration for the Google model
type GoogleConfig struct {
	BaseConfig
	ProjectID       string `json:"project_id"`
	Location        string `json:"location"`
	CredentialsFile string `json:"credentials_file"`
	// Model replaces the OpenAI model ids carried by requests.
	Model string `json:"model"`
}

// Load loads the Google configuration
func (c *GoogleConfig) Load() error {
	if err := c.LoadConfig(c.ConfigPath, "google", c); err != nil {
		return err
	}

	// Fall back to environment variables if not set
	if c.ProjectID == "" {
		c.ProjectID = os.Getenv("GOOGLE_PROJECT_ID")
	}
	if c.Location == "" {
		c.Location = os.Getenv("GOOGLE_LOCATION")
	}
	if c.CredentialsFile == "" {
		c.CredentialsFile = os.Getenv("GOOGLE_CREDENTIALS_FILE")
	}
	if c.Model == "" {
		c.Model = os.Getenv("GOOGLE_MODEL")
	}
	if c.Model == "" {
		c.Model = DefaultGoogleModel
	}

	return nil
}

// GoogleModel implements the Model interface for Google's Vertex AI
type GoogleModel struct {
	config GoogleConfig
	client *genai.Client
}

// GoogleModelFactory implements ModelFactory for Google models
type GoogleModelFactory struct {
	config GoogleConfig
}

// NewGoogleModelFactory creates a new Google model factory
func NewGoogleModelFactory(config GoogleConfig) *GoogleModelFactory {
	return &GoogleModelFactory{config: config}
}

// CreateModel creates a new Google model instance
func (f *GoogleModelFactory) CreateModel() (Model, error) {
	return &GoogleModel{
		config: f.config,
	}, nil
}

// Load initializes the Google model
func (m *GoogleModel) Load(ctx context.Context) error {
	opts := []option.ClientOption{}

	if m.config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(m.config.CredentialsFile))
	}

	client, err := genai.NewClient(ctx, m.config.ProjectID, m.config.Location, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	m.client = client
	return nil
}

// Close releases the Vertex AI client.
func (m *GoogleModel) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

func (m *GoogleModel) generativeModel(req Request) *genai.GenerativeModel {
	model := m.client.GenerativeModel(m.config.Model)
	if system := req.SystemPrompt(); system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}
	if n := req.MaxTokens(); n > 0 {
		model.SetMaxOutputTokens(int32(n))
	}
	return model
}

// Complete runs the request through Gemini and returns the text of the first candidate
func (m *GoogleModel) Complete(ctx context.Context, req Request) (string, error) {
	if m.client == nil {
		return "", ErrNotLoaded
	}

	var parts []genai.Part
	for _, part := range req.Parts() {
		switch {
		case part.Kind == PartText:
			parts = append(parts, genai.Text(part.Text))
		case part.Inline():
			parts = append(parts, genai.Blob{MIMEType: part.MIMEType, Data: part.Data})
		default:
			parts = append(parts, genai.FileData{MIMEType: part.MIMEType, FileURI: part.ImageURL})
		}
	}

	resp, err := m.generativeModel(req).GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("failed to call ai: %w", err)
	}
	return candidateText(resp)
}

// Detect asks Gemini for the same annotation shape the detection endpoint returns
func (m *GoogleModel) Detect(ctx context.Context, req Request) (*Detection, error) {
	if m.client == nil {
		return nil, ErrNotLoaded
	}

	var image *Part
	for _, part := range req.Parts() {
		if part.Kind == PartImage {
			p := part
			image = &p
			break
		}
	}
	if image == nil {
		return nil, fmt.Errorf("vision request has no image")
	}

	limit := 10
	for _, f := range req.Features() {
		if f.MaxResults > 0 {
			limit = f.MaxResults
		}
	}
	prompt := fmt.Sprintf(`Detect faces and objects in this photo. Return only a JSON object of the form
{"face_annotations": [{"name": "face", "confidence": number}], "object_annotations": [{"name": "string", "confidence": number}]}
with at most %d entries per list and confidence between 0 and 1.`, limit)

	resp, err := m.generativeModel(Request{}).GenerateContent(ctx,
		genai.Text(prompt),
		genai.Blob{MIMEType: image.MIMEType, Data: image.Data},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to call ai: %w", err)
	}
	text, err := candidateText(resp)
	if err != nil {
		return nil, err
	}

	var detection Detection
	if err := json.Unmarshal([]byte(StripFences(text)), &detection); err != nil {
		return nil, fmt.Errorf("%w: %v while parsing %s", ErrMalformedResponse, err, text)
	}
	return &detection, nil
}

func candidateText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no response generated", ErrMalformedResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no content in response", ErrMalformedResponse)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}
