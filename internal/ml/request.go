package ml

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/franckalain/pockettrainer/internal/models"
)

// ErrEmptyInput is returned when a measurement request has neither images nor findings.
var ErrEmptyInput = errors.New("no images or findings to analyze")

// SystemPrompt is the persona sent with every chat request.
const SystemPrompt = "You are a fitness expert and personal trainer."

// RequiredImages is how many usable photos a measurement needs.
const RequiredImages = 4

// Purpose selects which provider endpoint serves a request.
type Purpose int

const (
	PurposeVision Purpose = iota + 1
	PurposeMeasurement
	PurposeText
)

func (p Purpose) String() string {
	switch p {
	case PurposeVision:
		return "vision"
	case PurposeMeasurement:
		return "measurement"
	case PurposeText:
		return "text"
	default:
		return "unknown"
	}
}

// PartKind is the type of a user content part.
type PartKind int

const (
	PartText PartKind = iota + 1
	PartImage
)

// Part is one element of the user content. Images are either inline bytes or a
// hosted URL.
type Part struct {
	Kind     PartKind
	Text     string
	ImageURL string
	Data     []byte
	MIMEType string
}

// URL returns the image reference as a URL, encoding inline bytes as a data URL.
func (p Part) URL() string {
	if p.ImageURL != "" {
		return p.ImageURL
	}
	return fmt.Sprintf("data:%s;base64,%s", p.MIMEType, base64.StdEncoding.EncodeToString(p.Data))
}

// Inline reports whether the image bytes travel with the request.
func (p Part) Inline() bool {
	return p.Kind == PartImage && p.ImageURL == ""
}

// Feature is a detection feature requested from the vision endpoint.
type Feature struct {
	Type       string `json:"type"`
	MaxResults int    `json:"max_results"`
}

// Request is a provider-agnostic analysis request. It is immutable once built.
type Request struct {
	purpose   Purpose
	model     string
	system    string
	parts     []Part
	maxTokens int
	features  []Feature
}

func (r Request) Purpose() Purpose     { return r.purpose }
func (r Request) Model() string        { return r.model }
func (r Request) SystemPrompt() string { return r.system }
func (r Request) MaxTokens() int       { return r.maxTokens }

// Parts returns a copy of the user content parts in order.
func (r Request) Parts() []Part {
	out := make([]Part, len(r.parts))
	for i, p := range r.parts {
		p.Data = bytes.Clone(p.Data)
		out[i] = p
	}
	return out
}

// Features returns a copy of the requested detection features.
func (r Request) Features() []Feature {
	return append([]Feature(nil), r.features...)
}

// Text joins every text part.
func (r Request) Text() string {
	var texts []string
	for _, p := range r.parts {
		if p.Kind == PartText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ImageCount is the number of image parts.
func (r Request) ImageCount() int {
	n := 0
	for _, p := range r.parts {
		if p.Kind == PartImage {
			n++
		}
	}
	return n
}

// BuilderConfig names the models used for each purpose.
type BuilderConfig struct {
	VisionModel      string
	MeasurementModel string
	TextModel        string
	MaxTokens        int
	DetectionResults int
}

// DefaultBuilderConfig matches the models the mobile client used.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		VisionModel:      "vision-001",
		MeasurementModel: "gpt-4o",
		TextModel:        "gpt-4o-mini",
		MaxTokens:        1000,
		DetectionResults: 10,
	}
}

// Builder turns captured images or findings into Requests.
type Builder struct {
	cfg BuilderConfig
}

// NewBuilder creates a Builder. Zero fields fall back to DefaultBuilderConfig.
func NewBuilder(cfg BuilderConfig) *Builder {
	def := DefaultBuilderConfig()
	if cfg.VisionModel == "" {
		cfg.VisionModel = def.VisionModel
	}
	if cfg.MeasurementModel == "" {
		cfg.MeasurementModel = def.MeasurementModel
	}
	if cfg.TextModel == "" {
		cfg.TextModel = def.TextModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.DetectionResults <= 0 {
		cfg.DetectionResults = def.DetectionResults
	}
	return &Builder{cfg: cfg}
}

// BuildVisionRequest builds the first-pass detection call for a single image.
func (b *Builder) BuildVisionRequest(image []byte) Request {
	return Request{
		purpose: PurposeVision,
		model:   b.cfg.VisionModel,
		parts: []Part{{
			Kind:     PartImage,
			Data:     bytes.Clone(image),
			MIMEType: "image/jpeg",
		}},
		features: []Feature{
			{Type: "FACE_DETECTION", MaxResults: b.cfg.DetectionResults},
			{Type: "OBJECT_DETECTION", MaxResults: b.cfg.DetectionResults},
		},
	}
}

// MeasurementInput is what the measurement request is built from. Images win over
// ImageURLs, which win over Findings.
type MeasurementInput struct {
	Images    [][]byte
	ImageURLs []string
	Findings  string
}

// BuildMeasurementRequest builds the structured-extraction call. A non-empty
// promptOverride replaces the generated instruction text verbatim.
func (b *Builder) BuildMeasurementRequest(in MeasurementInput, promptOverride string) (Request, error) {
	var images []Part
	switch {
	case len(in.Images) > 0:
		for _, img := range in.Images {
			images = append(images, Part{Kind: PartImage, Data: bytes.Clone(img), MIMEType: "image/jpeg"})
		}
	case len(in.ImageURLs) > 0:
		for _, u := range in.ImageURLs {
			images = append(images, Part{Kind: PartImage, ImageURL: u, MIMEType: "image/jpeg"})
		}
	}

	if len(images) > 0 {
		prompt := promptOverride
		if prompt == "" {
			prompt = MeasurementPrompt(len(images))
		}
		parts := make([]Part, 0, len(images)+1)
		parts = append(parts, Part{Kind: PartText, Text: prompt})
		parts = append(parts, images...)
		return Request{
			purpose:   PurposeMeasurement,
			model:     b.cfg.MeasurementModel,
			system:    SystemPrompt,
			parts:     parts,
			maxTokens: b.cfg.MaxTokens,
		}, nil
	}

	findings := strings.TrimSpace(in.Findings)
	if findings == "" && promptOverride == "" {
		return Request{}, ErrEmptyInput
	}
	prompt := promptOverride
	if prompt == "" {
		prompt = FindingsPrompt(findings)
	}
	return Request{
		purpose: PurposeText,
		model:   b.cfg.TextModel,
		system:  SystemPrompt,
		parts:   []Part{{Kind: PartText, Text: prompt}},
	}, nil
}

// MeasurementPrompt is the instruction text sent ahead of the photos.
func MeasurementPrompt(imageCount int) string {
	return fmt.Sprintf(`These are %d images of a person, taken from the front, back, left and right. `+
		`Estimate their body measurements and body fat percentage and return a single JSON object with exactly these keys: %s. `+
		`Each measurement must be a single number with at most one decimal place (no ranges, no units), `+
		`in inches, except weight in lbs and bodyFat as a percentage. "picture" is a short description of the photo set and `+
		`"workoutRoutine" is a personalized workout routine as text. `+
		`If fewer than %d usable images of a person are present, return exactly %s instead.`,
		imageCount, quotedKeys(), RequiredImages, CanonicalErrorPayload)
}

// FindingsPrompt asks for the measurement JSON from a detection summary alone.
func FindingsPrompt(findings string) string {
	return fmt.Sprintf(`Based on the following findings from a vision analysis of the person's photos: %s
Please generate a JSON object with the following keys: %s. `+
		`Each measurement should be a single number with at most one decimal place (no ranges) in inches `+
		`(except weight in lbs and bodyFat as a percentage). If there is no person detected in the findings `+
		`or the findings are not valid, return a JSON object with a key "error" whose value is "%s".`,
		findings, quotedKeys(), RetakePhotos)
}

// BuildWorkoutPlanPrompt returns the prompt override for the narrative plan request.
// A nil profile leaves the plan to the measurements alone.
func (b *Builder) BuildWorkoutPlanPrompt(findings string, profile *models.Profile) string {
	findings = strings.TrimSpace(findings)
	if findings == "" {
		findings = NoFindings
	}
	prompt := WorkoutPlanPrompt(findings)
	if profile != nil && profile.Validate() == nil {
		prompt += fmt.Sprintf("\nThe person trains %d days per week and their weight goal is: %s. "+
			"Spread the routine over exactly that many days and steer it toward that goal.",
			profile.WorkoutDays, strings.TrimSpace(profile.WeightGoal))
	}
	return prompt
}

// WorkoutPlanPrompt asks for a narrative workout plan instead of a JSON record.
func WorkoutPlanPrompt(findings string) string {
	return fmt.Sprintf(`Based on the following findings: %s
Please generate a detailed workout plan that includes:
1. A list of all measurements found.
2. A personalized workout routine based solely on those measurements.
Do not analyze the photo itself as it cannot be seen; only use the provided findings.`, findings)
}

func quotedKeys() string {
	quoted := make([]string, len(models.RequiredKeys))
	for i, k := range models.RequiredKeys {
		quoted[i] = `"` + k + `"`
	}
	return strings.Join(quoted, ", ")
}
