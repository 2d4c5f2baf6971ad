package ml

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	text      string
	err       error
	detection *Detection
	delay     time.Duration
	requests  []Request
}

func (m *fakeModel) Load(context.Context) error { return nil }

func (m *fakeModel) Complete(ctx context.Context, req Request) (string, error) {
	m.requests = append(m.requests, req)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.text, m.err
}

func (m *fakeModel) Detect(_ context.Context, req Request) (*Detection, error) {
	m.requests = append(m.requests, req)
	return m.detection, m.err
}

func measurementRequest(t *testing.T) Request {
	t.Helper()
	req, err := NewBuilder(BuilderConfig{}).BuildMeasurementRequest(MeasurementInput{Images: fourImages()}, "")
	require.NoError(t, err)
	return req
}

func TestClient_Send(t *testing.T) {
	cases := []struct {
		name  string
		model *fakeModel
		kind  OutcomeKind
	}{
		{"fenced json", &fakeModel{text: "```json\n{\"height\": 70.5, \"weight\": 170}\n```"}, OutcomeSuccess},
		{"retake in content", &fakeModel{text: CanonicalErrorPayload}, OutcomeRetryNeeded},
		{"retake in envelope", &fakeModel{err: ErrRetakePhotos}, OutcomeRetryNeeded},
		{"unparseable content", &fakeModel{text: "I cannot see anyone"}, OutcomeRetryNeeded},
		{"transport", &fakeModel{err: errors.New("connection reset")}, OutcomeTransportFailure},
		{"malformed envelope", &fakeModel{err: ErrMalformedResponse}, OutcomeTransportFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewClient(tc.model)
			out := c.Send(context.Background(), measurementRequest(t))
			assert.Equal(t, tc.kind, out.Kind, out.String())
			assert.Len(t, tc.model.requests, 1, "exactly one call, no retries")
		})
	}
}

func TestClient_SendTimeout(t *testing.T) {
	model := &fakeModel{text: `{"height": 70}`, delay: time.Second}
	c := NewClient(model, WithTimeout(10*time.Millisecond))

	out := c.Send(context.Background(), measurementRequest(t))
	require.Equal(t, OutcomeTransportFailure, out.Kind)
	assert.ErrorIs(t, out.Cause, context.DeadlineExceeded)
}

func TestClient_SendText(t *testing.T) {
	req, err := NewBuilder(BuilderConfig{}).BuildMeasurementRequest(MeasurementInput{}, WorkoutPlanPrompt("Faces detected: 1"))
	require.NoError(t, err)

	out := NewClient(&fakeModel{text: "  Day 1: push ups\nDay 2: rest  "}).SendText(context.Background(), req)
	require.True(t, out.OK())
	assert.Equal(t, "Day 1: push ups\nDay 2: rest", out.Text)
	assert.Nil(t, out.Record)

	out = NewClient(&fakeModel{text: CanonicalErrorPayload}).SendText(context.Background(), req)
	assert.Equal(t, OutcomeRetryNeeded, out.Kind)
}

func TestClient_Detect(t *testing.T) {
	vision := NewBuilder(BuilderConfig{}).BuildVisionRequest([]byte("front"))
	model := &fakeModel{detection: &Detection{FaceAnnotations: []Annotation{{Name: "face"}}}}

	findings, out := NewClient(model).Detect(context.Background(), vision)
	require.True(t, out.OK())
	assert.Equal(t, "Faces detected: 1", findings)

	findings, out = NewClient(&fakeModel{err: errors.New("boom")}).Detect(context.Background(), vision)
	assert.Empty(t, findings)
	assert.Equal(t, OutcomeTransportFailure, out.Kind)
}

func TestClient_RejectsMismatchedPurpose(t *testing.T) {
	model := &fakeModel{text: `{"height": 70}`}
	c := NewClient(model)

	out := c.Send(context.Background(), NewBuilder(BuilderConfig{}).BuildVisionRequest([]byte("x")))
	assert.Equal(t, OutcomeTransportFailure, out.Kind)

	_, out = c.Detect(context.Background(), measurementRequest(t))
	assert.Equal(t, OutcomeTransportFailure, out.Kind)
	assert.Empty(t, model.requests)
}
