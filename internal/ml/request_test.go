package ml

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/pockettrainer/internal/models"
)

func fourImages() [][]byte {
	return [][]byte{[]byte("front"), []byte("back"), []byte("left"), []byte("right")}
}

func TestBuildMeasurementRequest_Images(t *testing.T) {
	b := NewBuilder(BuilderConfig{})

	req, err := b.BuildMeasurementRequest(MeasurementInput{Images: fourImages()}, "")
	require.NoError(t, err)

	parts := req.Parts()
	require.Len(t, parts, 5)
	assert.Equal(t, PartText, parts[0].Kind)
	for i, part := range parts[1:] {
		assert.Equal(t, PartImage, part.Kind)
		assert.True(t, part.Inline())
		assert.Equal(t, fourImages()[i], part.Data, "images keep capture order")
		assert.True(t, strings.HasPrefix(part.URL(), "data:image/jpeg;base64,"))
	}
	assert.Equal(t, 4, req.ImageCount())
	assert.Equal(t, PurposeMeasurement, req.Purpose())
	assert.Equal(t, "gpt-4o", req.Model())
	assert.Equal(t, 1000, req.MaxTokens())
	assert.Equal(t, SystemPrompt, req.SystemPrompt())

	prompt := parts[0].Text
	for _, key := range models.RequiredKeys {
		assert.Contains(t, prompt, `"`+key+`"`)
	}
	assert.Contains(t, prompt, CanonicalErrorPayload)
	assert.Contains(t, prompt, "one decimal place")
}

func TestBuildMeasurementRequest_URLs(t *testing.T) {
	b := NewBuilder(BuilderConfig{})
	urls := []string{"https://x/a.jpg", "https://x/b.jpg", "https://x/c.jpg", "https://x/d.jpg"}

	req, err := b.BuildMeasurementRequest(MeasurementInput{ImageURLs: urls, Findings: "ignored"}, "")
	require.NoError(t, err)

	parts := req.Parts()
	require.Len(t, parts, 5)
	for i, part := range parts[1:] {
		assert.False(t, part.Inline())
		assert.Equal(t, urls[i], part.URL())
	}
}

func TestBuildMeasurementRequest_Findings(t *testing.T) {
	b := NewBuilder(BuilderConfig{TextModel: "small"})

	req, err := b.BuildMeasurementRequest(MeasurementInput{Findings: "Faces detected: 1"}, "")
	require.NoError(t, err)

	assert.Equal(t, PurposeText, req.Purpose())
	assert.Equal(t, "small", req.Model())
	assert.Zero(t, req.MaxTokens())
	assert.Zero(t, req.ImageCount())
	assert.Contains(t, req.Text(), "Faces detected: 1")
	assert.Contains(t, req.Text(), `"workoutRoutine"`)
	assert.Contains(t, req.Text(), RetakePhotos)
}

func TestBuildMeasurementRequest_PromptOverride(t *testing.T) {
	b := NewBuilder(BuilderConfig{})
	override := WorkoutPlanPrompt("Faces detected: 1")

	req, err := b.BuildMeasurementRequest(MeasurementInput{Findings: "Faces detected: 1"}, override)
	require.NoError(t, err)
	assert.Equal(t, override, req.Text())

	req, err = b.BuildMeasurementRequest(MeasurementInput{Images: fourImages()}, "describe")
	require.NoError(t, err)
	assert.Equal(t, "describe", req.Parts()[0].Text)
	assert.Equal(t, 4, req.ImageCount())
}

func TestBuildMeasurementRequest_Empty(t *testing.T) {
	b := NewBuilder(BuilderConfig{})

	_, err := b.BuildMeasurementRequest(MeasurementInput{Findings: "  "}, "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestBuildVisionRequest(t *testing.T) {
	b := NewBuilder(BuilderConfig{})

	req := b.BuildVisionRequest([]byte("front"))
	assert.Equal(t, PurposeVision, req.Purpose())
	assert.Equal(t, "vision-001", req.Model())
	assert.Equal(t, 1, req.ImageCount())
	assert.Equal(t, []Feature{
		{Type: "FACE_DETECTION", MaxResults: 10},
		{Type: "OBJECT_DETECTION", MaxResults: 10},
	}, req.Features())
}

func TestRequest_Immutable(t *testing.T) {
	b := NewBuilder(BuilderConfig{})
	images := fourImages()
	req, err := b.BuildMeasurementRequest(MeasurementInput{Images: images}, "")
	require.NoError(t, err)

	images[0][0] = 'X'
	parts := req.Parts()
	parts[1].Data[0] = 'Y'
	parts[0].Text = "changed"

	again := req.Parts()
	assert.Equal(t, []byte("front"), again[1].Data)
	assert.NotEqual(t, "changed", again[0].Text)
}

func TestDetectionSummary(t *testing.T) {
	var nilDetection *Detection
	assert.Equal(t, NoFindings, nilDetection.Summary())
	assert.Equal(t, NoFindings, (&Detection{}).Summary())

	faces := &Detection{
		FaceAnnotations:   []Annotation{{Name: "face"}, {Name: "face"}},
		ObjectAnnotations: []Annotation{{Name: "person", Confidence: 0.9}},
	}
	assert.Equal(t, "Faces detected: 2", faces.Summary())

	objects := &Detection{ObjectAnnotations: []Annotation{
		{Name: "person", Confidence: 0.75},
		{Confidence: 0.5},
		{Name: "chair", Confidence: 0.25},
	}}
	assert.Equal(t, "person: 75% confidence, chair: 25% confidence", objects.Summary())
}

func TestBuildWorkoutPlanPrompt(t *testing.T) {
	b := NewBuilder(BuilderConfig{})
	assert.Contains(t, b.BuildWorkoutPlanPrompt("Faces detected: 1", nil), "Faces detected: 1")
	assert.Contains(t, b.BuildWorkoutPlanPrompt(" ", nil), NoFindings)
	assert.Equal(t, WorkoutPlanPrompt("x"), b.BuildWorkoutPlanPrompt("x", nil))

	withGoals := b.BuildWorkoutPlanPrompt("x", &models.Profile{WorkoutDays: 4, WeightGoal: " gain 5 lbs "})
	assert.Contains(t, withGoals, "trains 4 days per week")
	assert.Contains(t, withGoals, "weight goal is: gain 5 lbs.")

	incomplete := b.BuildWorkoutPlanPrompt("x", &models.Profile{WorkoutDays: 4})
	assert.Equal(t, WorkoutPlanPrompt("x"), incomplete)
}
