package ml

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatCompletionBody(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message": map[string]any{
				"role":    "assistant",
				"content": content,
			},
		}},
	})
	return string(body)
}

func newTestOpenAIModel(t *testing.T, handler http.HandlerFunc) *OpenAIModel {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	factory := NewOpenAIModelFactory(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/",
	})
	model, err := factory.CreateModel()
	require.NoError(t, err)
	require.NoError(t, model.Load(context.Background()))
	return model.(*OpenAIModel)
}

func TestOpenAIModel_CompleteSendsOrderedParts(t *testing.T) {
	var captured struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	var auth string
	model := newTestOpenAIModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatCompletionBody("```json\n{\"height\": 70.5}\n```"))
	})

	out := NewClient(model).Send(context.Background(), measurementRequest(t))
	require.True(t, out.OK(), out.String())
	assert.Equal(t, 70.5, *out.Record.Height)

	assert.Equal(t, "Bearer test-key", auth)
	assert.Equal(t, "gpt-4o", captured.Model)
	assert.Equal(t, 1000, captured.MaxTokens)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "user", captured.Messages[1].Role)

	var parts []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		ImageURL struct {
			URL string `json:"url"`
		} `json:"image_url"`
	}
	require.NoError(t, json.Unmarshal(captured.Messages[1].Content, &parts))
	require.Len(t, parts, 5)
	assert.Equal(t, "text", parts[0].Type)
	for _, p := range parts[1:] {
		assert.Equal(t, "image_url", p.Type)
		assert.Contains(t, p.ImageURL.URL, "data:image/jpeg;base64,")
	}
}

func TestOpenAIModel_TextRequestUsesPlainContent(t *testing.T) {
	var content json.RawMessage
	model := newTestOpenAIModel(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		content = body.Messages[len(body.Messages)-1].Content
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatCompletionBody(`{"weight": 160}`))
	})

	req, err := NewBuilder(BuilderConfig{}).BuildMeasurementRequest(MeasurementInput{Findings: "Faces detected: 1"}, "")
	require.NoError(t, err)

	out := NewClient(model).Send(context.Background(), req)
	require.True(t, out.OK(), out.String())
	var text string
	require.NoError(t, json.Unmarshal(content, &text), "content is a plain string")
	assert.Contains(t, text, "Faces detected: 1")
}

func TestOpenAIModel_Failures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		outcome OutcomeKind
	}{
		{"envelope retake marker", http.StatusOK, CanonicalErrorPayload, OutcomeRetryNeeded},
		{"content retake marker", http.StatusOK, chatCompletionBody(CanonicalErrorPayload), OutcomeRetryNeeded},
		{"content not json", http.StatusOK, chatCompletionBody("Sorry, I can't help."), OutcomeRetryNeeded},
		{"server error", http.StatusInternalServerError, `{"error": {"message": "boom"}}`, OutcomeTransportFailure},
		{"unauthorized", http.StatusUnauthorized, `{"error": {"message": "bad key"}}`, OutcomeTransportFailure},
		{"body not json", http.StatusOK, "<html>gateway</html>", OutcomeTransportFailure},
		{"no choices", http.StatusOK, `{"id": "x", "choices": []}`, OutcomeTransportFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			model := newTestOpenAIModel(t, func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})

			out := NewClient(model).Send(context.Background(), measurementRequest(t))
			assert.Equal(t, tc.outcome, out.Kind, out.String())
			assert.Equal(t, 1, calls, "no automatic retry")
		})
	}
}

func TestOpenAIModel_Detect(t *testing.T) {
	var body struct {
		Model string `json:"model"`
		Image struct {
			Base64 string `json:"base64"`
		} `json:"image"`
		Features []Feature `json:"features"`
	}
	model := newTestOpenAIModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/vision", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object_annotations": [{"name": "person", "confidence": 0.5}]}`)
	})

	req := NewBuilder(BuilderConfig{}).BuildVisionRequest([]byte("front"))
	findings, out := NewClient(model).Detect(context.Background(), req)
	require.True(t, out.OK(), out.String())
	assert.Equal(t, "person: 50% confidence", findings)
	assert.Equal(t, "vision-001", body.Model)
	assert.Equal(t, "ZnJvbnQ=", body.Image.Base64)
	assert.Len(t, body.Features, 2)
}

func TestOpenAIModel_NotLoaded(t *testing.T) {
	m := &OpenAIModel{}
	_, err := m.Complete(context.Background(), measurementRequest(t))
	assert.ErrorIs(t, err, ErrNotLoaded)

	err = (&OpenAIModel{}).Load(context.Background())
	assert.Error(t, err, "api key required")
}
