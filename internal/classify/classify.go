// Package classify defines the frame classification contract for examd.
//
// Classification itself is a black box: a local inference sidecar runs the
// face-geometry and object models and examd talks to it over HTTP. This
// package defines the detection types shared by both classifiers and the
// remote client that invokes them.
package classify

import (
	"context"
	"time"

	"examd/internal/capture"
)

// Label identifies what a classifier found in a frame.
type Label string

// Raw classifier labels. Violation kinds are derived from these by the
// detector; a classifier only reports what is in the frame.
const (
	// LabelFace is one detected face with its bounding box.
	LabelFace Label = "face"
	// LabelPerson is one detected person.
	LabelPerson Label = "person"
	// LabelPhone is a phone or remote-control-shaped device.
	LabelPhone Label = "phone"
	// LabelBook is a book or bound notes.
	LabelBook Label = "book"
)

// Box is a detection bounding box in frame pixel coordinates.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CenterX returns the horizontal center of the box.
func (b Box) CenterX() float64 {
	return float64(b.X) + float64(b.Width)/2
}

// Detection is a single labelled detection with a confidence score.
// Detections are ephemeral: created in one poll tick, consumed in the same
// tick, never persisted.
type Detection struct {
	Label      Label     `json:"label"`
	Confidence float64   `json:"confidence"`
	Box        Box       `json:"box"`
	ObservedAt time.Time `json:"observed_at"`
}

// Classifier is implemented by anything that can classify a captured frame.
// Both the face-geometry and general-object models present this interface.
type Classifier interface {
	// ClassifyFace returns one detection per face found in the frame.
	ClassifyFace(ctx context.Context, frame *capture.Frame) ([]Detection, error)

	// ClassifyObjects returns detections for tracked object kinds.
	ClassifyObjects(ctx context.Context, frame *capture.Frame) ([]Detection, error)
}
