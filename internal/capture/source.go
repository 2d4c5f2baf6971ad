package capture

import (
	"context"
	"errors"
)

// ErrImageUnavailable is returned by a Source that cannot produce pixels right now.
var ErrImageUnavailable = errors.New("image unavailable")

// Source takes one still photo on demand.
type Source interface {
	// Capture returns encoded image bytes (JPEG) for a single frame.
	Capture(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]byte, error)

// Capture calls f(ctx).
func (f SourceFunc) Capture(ctx context.Context) ([]byte, error) {
	return f(ctx)
}
