package models

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Keys of the measurement object the provider is asked to return.
const (
	KeyPicture        = "picture"
	KeyHeight         = "height"
	KeyWeight         = "weight"
	KeyBodyFat        = "bodyFat"
	KeyChest          = "chest"
	KeyWaist          = "waist"
	KeyBicep          = "bicep"
	KeyNeck           = "neck"
	KeyLeg            = "leg"
	KeyCalf           = "calf"
	KeyWorkoutRoutine = "workoutRoutine"

	// KeyTimestamp is stamped by the store on every write.
	KeyTimestamp = "timestamp"
)

// RequiredKeys is the exact key set of a complete measurement record, in prompt order.
var RequiredKeys = []string{
	KeyPicture, KeyHeight, KeyWeight, KeyBodyFat, KeyChest, KeyWaist,
	KeyBicep, KeyNeck, KeyLeg, KeyCalf, KeyWorkoutRoutine,
}

var dateKeyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// DateKeyLayout formats a calendar day as YYYY-MM-DD.
const DateKeyLayout = "2006-01-02"

// MeasurementRecord represents the body measurements extracted from a scan.
// Absent fields are nil; a partial record is still a valid record.
type MeasurementRecord struct {
	Picture *string  `json:"picture,omitempty"`
	Height  *float64 `json:"height,omitempty"`  // inches
	Weight  *float64 `json:"weight,omitempty"`  // lbs
	BodyFat *float64 `json:"bodyFat,omitempty"` // percent

	// Circumferences (inches)
	Chest *float64 `json:"chest,omitempty"`
	Waist *float64 `json:"waist,omitempty"`
	Bicep *float64 `json:"bicep,omitempty"`
	Neck  *float64 `json:"neck,omitempty"`
	Leg   *float64 `json:"leg,omitempty"`
	Calf  *float64 `json:"calf,omitempty"`

	WorkoutRoutine *string `json:"workoutRoutine,omitempty"`

	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (r *MeasurementRecord) numbers() map[string]**float64 {
	return map[string]**float64{
		KeyHeight:  &r.Height,
		KeyWeight:  &r.Weight,
		KeyBodyFat: &r.BodyFat,
		KeyChest:   &r.Chest,
		KeyWaist:   &r.Waist,
		KeyBicep:   &r.Bicep,
		KeyNeck:    &r.Neck,
		KeyLeg:     &r.Leg,
		KeyCalf:    &r.Calf,
	}
}

// Fields returns the present fields keyed by their wire name.
func (r *MeasurementRecord) Fields() map[string]any {
	out := make(map[string]any)
	if r == nil {
		return out
	}
	if r.Picture != nil {
		out[KeyPicture] = *r.Picture
	}
	for key, ptr := range r.numbers() {
		if *ptr != nil {
			out[key] = **ptr
		}
	}
	if r.WorkoutRoutine != nil {
		out[KeyWorkoutRoutine] = *r.WorkoutRoutine
	}
	if r.Timestamp != nil {
		out[KeyTimestamp] = r.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// Len is the number of present fields, timestamp excluded.
func (r *MeasurementRecord) Len() int {
	n := len(r.Fields())
	if r != nil && r.Timestamp != nil {
		n--
	}
	return n
}

// Missing lists the required keys absent from the record.
func (r *MeasurementRecord) Missing() []string {
	fields := r.Fields()
	var missing []string
	for _, key := range RequiredKeys {
		if _, ok := fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

// RecordFromFields builds a record from loosely typed values. Numbers may arrive as
// JSON numbers or numeric strings and are rounded to one decimal place. Unknown keys
// and values of the wrong type are skipped.
func RecordFromFields(fields map[string]any) *MeasurementRecord {
	rec := &MeasurementRecord{}
	for key, ptr := range rec.numbers() {
		if v, ok := toNumber(fields[key]); ok {
			*ptr = &v
		}
	}
	if s, ok := toText(fields[KeyPicture]); ok {
		rec.Picture = &s
	}
	if s, ok := fields[KeyWorkoutRoutine].(string); ok {
		rec.WorkoutRoutine = &s
	} else if v, ok := fields[KeyWorkoutRoutine]; ok && v != nil {
		// Some answers nest the routine as an object or list; keep it as JSON text.
		if b, err := json.Marshal(v); err == nil {
			s := string(b)
			rec.WorkoutRoutine = &s
		}
	}
	if s, ok := fields[KeyTimestamp].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			rec.Timestamp = &ts
		}
	}
	return rec
}

func toNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return RoundTenth(f), true
}

func toText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

// RoundTenth rounds to at most one decimal place.
func RoundTenth(f float64) float64 {
	return math.Round(f*10) / 10
}

// ValidateDateKey checks a YYYY-MM-DD calendar date.
func ValidateDateKey(dateKey string) error {
	if !dateKeyPattern.MatchString(dateKey) {
		return fmt.Errorf("invalid date key %q: want YYYY-MM-DD", dateKey)
	}
	if _, err := time.Parse(DateKeyLayout, dateKey); err != nil {
		return fmt.Errorf("invalid date key %q: %w", dateKey, err)
	}
	return nil
}

// DateKey returns the calendar date of t in loc.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DateKeyLayout)
}
