package ml

import (
	"encoding/json"
	"strings"

	"github.com/franckalain/pockettrainer/internal/models"
)

const (
	// RetakePhotos is the value of the error marker the provider is told to return.
	RetakePhotos = "retake photos"
	// CanonicalErrorPayload is the exact error object exchanged with the provider.
	CanonicalErrorPayload = `{"error": "retake photos"}`

	fenceJSON = "```json"
	fence     = "```"
)

// StripFences removes a leading ```json marker and every remaining ``` delimiter,
// then trims surrounding whitespace.
func StripFences(raw string) string {
	cleaned := strings.TrimLeft(raw, " \t\r\n")
	cleaned = strings.TrimPrefix(cleaned, fenceJSON)
	cleaned = strings.ReplaceAll(cleaned, fence, "")
	return strings.TrimSpace(cleaned)
}

// IsRetakeMarker reports whether text is the canonical error payload, either
// byte-for-byte or as an object whose only member is "error": "retake photos".
func IsRetakeMarker(text string) bool {
	cleaned := StripFences(text)
	if cleaned == CanonicalErrorPayload {
		return true
	}
	obj, ok := decodeObject(cleaned)
	if !ok {
		return false
	}
	return isErrorOnly(obj) && obj["error"] == RetakePhotos
}

// Sanitize cleans provider text and validates it as a measurement object.
func Sanitize(raw string) Outcome {
	cleaned := StripFences(raw)
	if cleaned == "" {
		return RetryNeeded("empty response")
	}
	if cleaned == CanonicalErrorPayload {
		return RetryNeeded(RetakePhotos)
	}

	obj, ok := decodeObject(cleaned)
	if !ok {
		return RetryNeeded("response is not a JSON object")
	}
	if isErrorOnly(obj) && obj["error"] == RetakePhotos {
		return RetryNeeded(RetakePhotos)
	}

	// Any other object is a record, even when none of its keys are known.
	return Success(models.RecordFromFields(obj), cleaned)
}

func decodeObject(text string) (map[string]any, bool) {
	if !json.Valid([]byte(text)) {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func isErrorOnly(obj map[string]any) bool {
	_, ok := obj["error"]
	return ok && len(obj) == 1
}
