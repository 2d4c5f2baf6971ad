package ml

import (
	"fmt"

	"github.com/franckalain/pockettrainer/internal/models"
)

// OutcomeKind tags the variant held by an Outcome.
type OutcomeKind int

const (
	// OutcomeSuccess carries a validated record (or narrative text).
	OutcomeSuccess OutcomeKind = iota + 1
	// OutcomeRetryNeeded means the provider asked for new photos or answered with
	// something that is not a measurement object.
	OutcomeRetryNeeded
	// OutcomeTransportFailure covers network, HTTP and serialization errors.
	OutcomeTransportFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryNeeded:
		return "retry_needed"
	case OutcomeTransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// Outcome is the result of one analysis call. Exactly one of the variant payloads is
// meaningful, selected by Kind.
type Outcome struct {
	Kind OutcomeKind

	// Success
	Record *models.MeasurementRecord
	Text   string

	// RetryNeeded
	Reason string

	// TransportFailure. Kept for logging only.
	Cause error
}

// Success wraps a parsed record together with the cleaned provider text.
func Success(record *models.MeasurementRecord, text string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Record: record, Text: text}
}

// RetryNeeded builds a retry outcome.
func RetryNeeded(reason string) Outcome {
	return Outcome{Kind: OutcomeRetryNeeded, Reason: reason}
}

// TransportFailure builds a transport outcome.
func TransportFailure(cause error) Outcome {
	return Outcome{Kind: OutcomeTransportFailure, Cause: cause}
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSuccess:
		return fmt.Sprintf("success(%d fields)", o.Record.Len())
	case OutcomeRetryNeeded:
		return fmt.Sprintf("retry_needed(%s)", o.Reason)
	case OutcomeTransportFailure:
		return fmt.Sprintf("transport_failure(%v)", o.Cause)
	default:
		return "unknown"
	}
}
