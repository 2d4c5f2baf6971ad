package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/franckalain/pockettrainer/internal/models"
)

// Titles of the two alerts the client can show.
const (
	TitleWorkoutPlan  = "Workout Plan"
	TitleRetakePhotos = "Retake Photos"
)

var (
	ErrNoUser    = errors.New("session context has no user")
	ErrAnalyzing = errors.New("analysis in progress")
	ErrStopped   = errors.New("controller stopped")
)

// Context identifies the signed-in user a controller works for. It is created on
// sign-in and dropped on sign-out together with its controller.
type Context struct {
	UserID string
	// Location is the user's calendar. Nil means the deployment default.
	Location *time.Location
}

// NewContext builds a Context from a user id and an optional IANA zone name.
func NewContext(userID, timezone string) (Context, error) {
	sc := Context{UserID: userID}
	if err := sc.validate(); err != nil {
		return Context{}, err
	}
	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return Context{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
		sc.Location = loc
	}
	return sc, nil
}

// Today returns the date key of now in the user's calendar, falling back to def.
func (c Context) Today(now time.Time, def *time.Location) string {
	if c.Location != nil {
		return models.DateKey(now, c.Location)
	}
	return models.DateKey(now, def)
}

func (c Context) validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return ErrNoUser
	}
	return nil
}

// OutcomeKind is what the user is shown after an analysis.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeRetakePhotos
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetakePhotos:
		return "retake_photos"
	default:
		return "unknown"
	}
}

// Outcome is the user-facing result of one completed capture set.
type Outcome struct {
	Kind    OutcomeKind
	Title   string
	Message string
	// Record and DateKey are set on success.
	Record  *models.MeasurementRecord
	DateKey string
	// Stored is false when the record could not be persisted.
	Stored bool
}

func successOutcome(rec *models.MeasurementRecord, dateKey, message string, stored bool) Outcome {
	return Outcome{
		Kind:    OutcomeSuccess,
		Title:   TitleWorkoutPlan,
		Message: message,
		Record:  rec,
		DateKey: dateKey,
		Stored:  stored,
	}
}

func retakeOutcome() Outcome {
	return Outcome{Kind: OutcomeRetakePhotos, Title: "Error", Message: TitleRetakePhotos}
}

// EventKind tags progress events.
type EventKind int

const (
	EventCountdown EventKind = iota + 1
	EventShotCaptured
	EventAnalyzing
	EventReset
)

func (k EventKind) String() string {
	switch k {
	case EventCountdown:
		return "countdown"
	case EventShotCaptured:
		return "shot_captured"
	case EventAnalyzing:
		return "analyzing"
	case EventReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Event reports capture progress to the presentation layer.
type Event struct {
	Kind        EventKind
	Angle       string
	Remaining   int
	Index       int
	Taken       int
	Total       int
	Placeholder bool
	// Preview is the image just captured, set on EventShotCaptured.
	Preview []byte
}
