package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Angles is the fixed capture order. Index i of the shots matches Angles[i].
var Angles = []string{"Front", "Back", "Left", "Right"}

// TimerOptions are the allowed countdown delays in seconds.
var TimerOptions = []int{0, 3, 10}

var (
	ErrCancelled    = errors.New("capture cancelled")
	ErrComplete     = errors.New("capture session already complete")
	ErrBusy         = errors.New("capture already in progress")
	ErrWrongAngle   = errors.New("unexpected angle index")
	ErrInvalidTimer = errors.New("invalid timer delay")
)

// State of a capture session.
type State int

const (
	StateIdle State = iota
	StateCountdown
	StateCapturing
	StateComplete
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCountdown:
		return "countdown"
	case StateCapturing:
		return "capturing"
	case StateComplete:
		return "complete"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Hooks are invoked outside the session lock. Any of them may be nil.
type Hooks struct {
	// OnTick fires once per countdown second with the seconds still remaining.
	OnTick func(angle string, remaining int)
	// OnShot fires after each shot is appended. img is a copy the hook may keep.
	OnShot func(index int, angle string, img []byte, placeholder bool)
	// OnComplete fires exactly once when the last angle has been captured.
	OnComplete func()
}

// Progress is a point-in-time view of a session.
type Progress struct {
	State      State  `json:"-"`
	StateName  string `json:"state"`
	Taken      int    `json:"taken"`
	Total      int    `json:"total"`
	NextAngle  string `json:"next_angle,omitempty"`
	Countdown  int    `json:"countdown"`
	TimerDelay int    `json:"timer_delay"`
	// LastShot is the most recent image, for the "Captured n/4" preview.
	LastShot []byte `json:"-"`
}

// Session drives the ordered multi-angle capture sequence.
type Session struct {
	source Source
	hooks  Hooks
	after  func(time.Duration) <-chan time.Time
	log    zerolog.Logger

	mu         sync.Mutex
	angles     []string
	shots      [][]byte
	timer      int
	countdown  int
	state      State
	generation uint64
	completed  bool
	cancelRun  context.CancelFunc
}

// Option configures a Session.
type Option func(*Session)

// WithHooks sets the event hooks.
func WithHooks(h Hooks) Option {
	return func(s *Session) { s.hooks = h }
}

// WithClock replaces time.After for the countdown.
func WithClock(after func(time.Duration) <-chan time.Time) Option {
	return func(s *Session) { s.after = after }
}

// WithLogger sets the session logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithTimer sets the initial countdown delay. Invalid values are ignored.
func WithTimer(seconds int) Option {
	return func(s *Session) {
		if validTimer(seconds) {
			s.timer = seconds
		}
	}
}

// NewSession creates an idle session capturing from source.
func NewSession(source Source, opts ...Option) *Session {
	s := &Session{
		source: source,
		after:  time.After,
		log:    zerolog.Nop(),
		angles: append([]string(nil), Angles...),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validTimer(seconds int) bool {
	for _, opt := range TimerOptions {
		if opt == seconds {
			return true
		}
	}
	return false
}

// SetTimer changes the countdown delay. It cannot change while a countdown runs.
func (s *Session) SetTimer(seconds int) error {
	if !validTimer(seconds) {
		return fmt.Errorf("%w: %d (allowed %v)", ErrInvalidTimer, seconds, TimerOptions)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCountdown || s.state == StateCapturing {
		return ErrBusy
	}
	s.timer = seconds
	return nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Complete reports whether every angle has a shot.
func (s *Session) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shots) == len(s.angles)
}

// Progress returns a snapshot for the presentation layer.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Progress{
		State:      s.state,
		StateName:  s.state.String(),
		Taken:      len(s.shots),
		Total:      len(s.angles),
		Countdown:  s.countdown,
		TimerDelay: s.timer,
	}
	if n := len(s.shots); n > 0 {
		p.LastShot = bytes.Clone(s.shots[n-1])
	}
	if len(s.shots) < len(s.angles) {
		p.NextAngle = s.angles[len(s.shots)]
	}
	return p
}

// Shots returns a copy of the captured images in angle order.
func (s *Session) Shots() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.shots))
	for i, shot := range s.shots {
		out[i] = bytes.Clone(shot)
	}
	return out
}

// TakeShots hands the completed shots to the caller and returns the session to Idle.
// It fails unless every angle has been captured.
func (s *Session) TakeShots() ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.shots) != len(s.angles) {
		return nil, fmt.Errorf("capture incomplete: %d of %d shots", len(s.shots), len(s.angles))
	}
	shots := s.shots
	s.resetLocked()
	s.state = StateIdle
	return shots, nil
}

// NextAngle returns the index of the next angle to capture.
func (s *Session) NextAngle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shots)
}

// BeginCapture waits out the countdown for angleIndex and then captures one image.
// It blocks until the shot is appended, the session is cancelled, or ctx is done.
func (s *Session) BeginCapture(ctx context.Context, angleIndex int) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateCancelled:
	case StateComplete:
		s.mu.Unlock()
		return ErrComplete
	default:
		s.mu.Unlock()
		return ErrBusy
	}
	if angleIndex != len(s.shots) {
		s.mu.Unlock()
		return fmt.Errorf("%w: got %d, next is %d", ErrWrongAngle, angleIndex, len(s.shots))
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel
	gen := s.generation
	delay := s.timer
	angle := s.angles[angleIndex]
	if delay > 0 {
		s.state = StateCountdown
		s.countdown = delay
	} else {
		s.state = StateCapturing
	}
	s.mu.Unlock()
	defer cancel()

	for remaining := delay; remaining > 0; {
		if s.hooks.OnTick != nil {
			s.hooks.OnTick(angle, remaining)
		}
		select {
		case <-ctx.Done():
			return s.abort(gen, ctx.Err())
		case <-s.after(time.Second):
		}
		remaining--
		if !s.tick(gen, remaining) {
			return ErrCancelled
		}
	}

	img, err := s.source.Capture(ctx)
	placeholder := false
	if err != nil || len(img) == 0 {
		if ctx.Err() != nil {
			return s.abort(gen, ctx.Err())
		}
		if err == nil {
			err = ErrImageUnavailable
		}
		s.log.Warn().Err(err).Str("angle", angle).Msg("Image unavailable, substituting placeholder")
		img = Placeholder()
		placeholder = true
	}
	return s.appendShot(gen, img, placeholder)
}

// OnImageCaptured appends an externally captured image for the next angle.
func (s *Session) OnImageCaptured(img []byte) error {
	s.mu.Lock()
	gen := s.generation
	if s.state == StateCountdown || s.state == StateCapturing {
		s.mu.Unlock()
		return ErrBusy
	}
	s.mu.Unlock()
	placeholder := false
	if len(img) == 0 {
		img = Placeholder()
		placeholder = true
	}
	return s.appendShot(gen, img, placeholder)
}

func (s *Session) tick(gen uint64, remaining int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return false
	}
	s.countdown = remaining
	if remaining == 0 {
		s.state = StateCapturing
	}
	return true
}

func (s *Session) abort(gen uint64, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return ErrCancelled
	}
	s.countdown = 0
	s.state = StateIdle
	s.cancelRun = nil
	return cause
}

func (s *Session) appendShot(gen uint64, img []byte, placeholder bool) error {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return ErrCancelled
	}
	if len(s.shots) >= len(s.angles) {
		s.mu.Unlock()
		return ErrComplete
	}
	s.shots = append(s.shots, img)
	index := len(s.shots) - 1
	angle := s.angles[index]
	s.countdown = 0
	s.cancelRun = nil
	fireComplete := false
	if len(s.shots) == len(s.angles) {
		s.state = StateComplete
		if !s.completed {
			s.completed = true
			fireComplete = true
		}
	} else {
		s.state = StateIdle
	}
	s.mu.Unlock()

	if s.hooks.OnShot != nil {
		s.hooks.OnShot(index, angle, bytes.Clone(img), placeholder)
	}
	if fireComplete && s.hooks.OnComplete != nil {
		s.hooks.OnComplete()
	}
	return nil
}

// Cancel drops every shot and any pending countdown. Safe to call at any time.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.resetLocked()
	s.state = StateCancelled
	s.mu.Unlock()
}

// Reset returns the session to a fresh idle state.
func (s *Session) Reset() {
	s.mu.Lock()
	s.resetLocked()
	s.state = StateIdle
	s.mu.Unlock()
}

func (s *Session) resetLocked() {
	s.generation++
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
	s.shots = nil
	s.countdown = 0
	s.completed = false
}
