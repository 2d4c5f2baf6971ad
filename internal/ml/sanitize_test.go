package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/pockettrainer/internal/models"
)

func TestSanitize_FencedPartialRecord(t *testing.T) {
	out := Sanitize("```json\n{\"height\":70.5}\n```")

	require.Equal(t, OutcomeSuccess, out.Kind)
	require.NotNil(t, out.Record.Height)
	assert.Equal(t, 70.5, *out.Record.Height)
	assert.Nil(t, out.Record.Weight)
	assert.Equal(t, `{"height":70.5}`, out.Text)
	assert.Len(t, out.Record.Missing(), len(models.RequiredKeys)-1)
}

func TestSanitize_RetryCases(t *testing.T) {
	cases := map[string]string{
		"canonical error":         `{"error": "retake photos"}`,
		"compact error":           `{"error":"retake photos"}`,
		"fenced error":            "```json\n{\"error\": \"retake photos\"}\n```",
		"not json":                "not json at all",
		"empty":                   "   ",
		"only fences":             "```json\n```",
		"array":                   `[{"height": 70}]`,
		"null":                    "null",
		"trailing garbage":        `{"height": 70} extra`,
		"prose around the object": "Here you go: {\"height\": 70}",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			out := Sanitize(input)
			assert.Equal(t, OutcomeRetryNeeded, out.Kind, out.String())
			assert.Nil(t, out.Record)
		})
	}
}

func TestSanitize_ErrorReason(t *testing.T) {
	assert.Equal(t, RetakePhotos, Sanitize(CanonicalErrorPayload).Reason)
	assert.Equal(t, RetakePhotos, Sanitize(`{ "error" : "retake photos" }`).Reason)
}

func TestSanitize_AnyOtherObjectIsSuccess(t *testing.T) {
	cases := map[string]string{
		"empty object":     `{}`,
		"no known fields":  `{"shoeSize": 10}`,
		"other error only": `{"error": "no person visible"}`,
		"marker plus data": `{"error": "retake photos", "height": 70}`,
		"wrong types only": `{"height": "tall", "chest": true}`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			out := Sanitize(input)
			require.Equal(t, OutcomeSuccess, out.Kind, out.String())
			require.NotNil(t, out.Record)
			assert.Equal(t, input, out.Text)
		})
	}

	out := Sanitize(`{"error": "retake photos", "height": 70}`)
	require.NotNil(t, out.Record.Height)
	assert.Equal(t, 70.0, *out.Record.Height)
	assert.Zero(t, Sanitize(`{}`).Record.Len())
}

func TestSanitize_FullRecord(t *testing.T) {
	raw := "```json\n" + `{
  "picture": "front, back, left and right views",
  "height": 70.25,
  "weight": "180.4",
  "bodyFat": 18,
  "chest": 40.1,
  "waist": 32.0,
  "bicep": 14.5,
  "neck": 15.5,
  "leg": 22.3,
  "calf": 15.1,
  "workoutRoutine": "Push/pull/legs, 4 days a week",
  "extra": "ignored"
}` + "\n```"

	out := Sanitize(raw)
	require.Equal(t, OutcomeSuccess, out.Kind)
	rec := out.Record
	assert.Empty(t, rec.Missing())
	assert.Equal(t, 70.3, *rec.Height, "rounded to one decimal")
	assert.Equal(t, 180.4, *rec.Weight, "numeric strings accepted")
	assert.Equal(t, 18.0, *rec.BodyFat)
	assert.Equal(t, "Push/pull/legs, 4 days a week", *rec.WorkoutRoutine)
	_, hasExtra := rec.Fields()["extra"]
	assert.False(t, hasExtra)
}

func TestSanitize_WrongTypedFieldIsDropped(t *testing.T) {
	out := Sanitize(`{"height": "tall", "weight": 150, "chest": [40, 42]}`)

	require.Equal(t, OutcomeSuccess, out.Kind)
	assert.Nil(t, out.Record.Height)
	assert.Nil(t, out.Record.Chest)
	assert.Equal(t, 150.0, *out.Record.Weight)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences("```\n{\"a\":1}\n```\n"))
	assert.Equal(t, `{"a":1}`, StripFences("  {\"a\":1}  "))
}

func TestIsRetakeMarker(t *testing.T) {
	assert.True(t, IsRetakeMarker(CanonicalErrorPayload))
	assert.True(t, IsRetakeMarker("```json\n{ \"error\" : \"retake photos\" }\n```"))
	assert.False(t, IsRetakeMarker(`{"error": "retake photos", "height": 70}`))
	assert.False(t, IsRetakeMarker(`{"error": "Retake Photos"}`))
	assert.False(t, IsRetakeMarker("retake photos"))
}
