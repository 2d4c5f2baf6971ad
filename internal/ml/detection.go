package ml

import (
	"fmt"
	"strings"
)

// Annotation is one detected face or object.
type Annotation struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Detection is the body of the vision endpoint response.
type Detection struct {
	FaceAnnotations   []Annotation `json:"face_annotations"`
	ObjectAnnotations []Annotation `json:"object_annotations"`
}

// NoFindings is the summary used when nothing was detected.
const NoFindings = "No measurements extracted"

// Summary renders the detection as the findings text fed to the text-only request.
// Faces take precedence over objects.
func (d *Detection) Summary() string {
	if d == nil {
		return NoFindings
	}
	if n := len(d.FaceAnnotations); n > 0 {
		return fmt.Sprintf("Faces detected: %d", n)
	}
	var found []string
	for _, obj := range d.ObjectAnnotations {
		if obj.Name == "" {
			continue
		}
		found = append(found, fmt.Sprintf("%s: %d%% confidence", obj.Name, int(obj.Confidence*100)))
	}
	if len(found) == 0 {
		return NoFindings
	}
	return strings.Join(found, ", ")
}
