package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/franckalain/pockettrainer/internal/capture"
)

// clientCamera is a capture.Source backed by the phone: each capture sends a
// capture_request{angle, seq} and waits for the frame that echoes its seq.
type clientCamera struct {
	request func(data any) error
	timeout time.Duration

	mu      sync.Mutex
	next    func() string
	seq     uint64
	pending chan []byte // waiter for request seq, nil once answered
}

func newClientCamera(request func(data any) error, timeout time.Duration) *clientCamera {
	if timeout <= 0 {
		timeout = DefaultFrameTimeout
	}
	return &clientCamera{
		request: request,
		timeout: timeout,
	}
}

func (c *clientCamera) setNext(next func() string) {
	c.mu.Lock()
	c.next = next
	c.mu.Unlock()
}

func (c *clientCamera) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Only the newest request can be answered; an older Capture still
	// winding down after a cancel keeps waiting on a channel nobody feeds.
	frames := make(chan []byte, 1)
	angle := ""
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.pending = frames
	if c.next != nil {
		angle = c.next()
	}
	c.mu.Unlock()
	defer c.release(seq)

	if err := c.request(map[string]any{"angle": angle, "seq": seq}); err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrImageUnavailable, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case img := <-frames:
		if len(img) == 0 {
			return nil, capture.ErrImageUnavailable
		}
		return img, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: no frame within %s", capture.ErrImageUnavailable, c.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *clientCamera) release(seq uint64) {
	c.mu.Lock()
	if c.seq == seq {
		c.pending = nil
	}
	c.mu.Unlock()
}

// deliver hands a frame to the capture waiting on seq. Seq 0 answers whatever
// request is current. It reports false when the frame is dropped: nothing is
// waiting, the request was superseded, or it was already answered.
func (c *clientCamera) deliver(seq uint64, img []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil || (seq != 0 && seq != c.seq) {
		return false
	}
	c.pending <- img
	c.pending = nil
	return true
}
