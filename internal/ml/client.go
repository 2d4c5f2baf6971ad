package ml

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRequestTimeout bounds a single provider call.
const DefaultRequestTimeout = 60 * time.Second

// Client executes requests against the active Model and classifies the result.
// It never retries; the caller decides whether to try again.
type Client struct {
	model   Model
	timeout time.Duration
	log     zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout bounds each provider call. Zero disables the bound.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient wraps a loaded Model.
func NewClient(model Model, opts ...ClientOption) *Client {
	c := &Client{
		model:   model,
		timeout: DefaultRequestTimeout,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send runs a measurement request and returns a sanitized outcome.
func (c *Client) Send(ctx context.Context, req Request) Outcome {
	text, out, ok := c.complete(ctx, req)
	if !ok {
		return out
	}
	if IsRetakeMarker(text) {
		return RetryNeeded(RetakePhotos)
	}
	out = Sanitize(text)
	if !out.OK() {
		c.log.Warn().Str("reason", out.Reason).Msg("Provider response rejected")
	}
	return out
}

// SendText runs a request whose answer is free text, such as a workout plan.
// The success outcome carries the text and no record.
func (c *Client) SendText(ctx context.Context, req Request) Outcome {
	text, out, ok := c.complete(ctx, req)
	if !ok {
		return out
	}
	if IsRetakeMarker(text) {
		return RetryNeeded(RetakePhotos)
	}
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return RetryNeeded("empty response")
	}
	return Outcome{Kind: OutcomeSuccess, Text: cleaned}
}

// Detect runs the first-pass detection call and returns the findings summary.
func (c *Client) Detect(ctx context.Context, req Request) (string, Outcome) {
	if req.Purpose() != PurposeVision {
		return "", TransportFailure(fmt.Errorf("detect called with %s request", req.Purpose()))
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	detection, err := c.model.Detect(ctx, req)
	if err != nil {
		c.log.Warn().Err(err).Dur("took", time.Since(start)).Msg("Detection call failed")
		return "", c.classify(err)
	}
	findings := detection.Summary()
	c.log.Debug().Str("findings", findings).Dur("took", time.Since(start)).Msg("Detection call finished")
	return findings, Outcome{Kind: OutcomeSuccess, Text: findings}
}

func (c *Client) complete(ctx context.Context, req Request) (string, Outcome, bool) {
	if req.Purpose() != PurposeMeasurement && req.Purpose() != PurposeText {
		return "", TransportFailure(fmt.Errorf("cannot send %s request as chat", req.Purpose())), false
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	text, err := c.model.Complete(ctx, req)
	if err != nil {
		c.log.Warn().Err(err).
			Str("model", req.Model()).
			Dur("took", time.Since(start)).
			Msg("Analysis call failed")
		return "", c.classify(err), false
	}
	c.log.Debug().
		Str("model", req.Model()).
		Int("images", req.ImageCount()).
		Dur("took", time.Since(start)).
		Str("raw", text).
		Msg("Analysis call finished")
	return text, Outcome{}, true
}

func (c *Client) classify(err error) Outcome {
	if errors.Is(err, ErrRetakePhotos) {
		return RetryNeeded(RetakePhotos)
	}
	return TransportFailure(err)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
