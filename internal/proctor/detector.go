// Package proctor runs the camera-based violation detector.
//
// Two independent polling loops watch the candidate: a face-geometry loop
// on a fast cadence and an object-detection loop on a slower one. Single
// frames misclassify all the time, so nothing is reported on one
// observation; a violation kind must be seen for N consecutive ticks
// before one event is emitted. That trades a bounded detection latency for
// confidence.
//
// The detector owns its counters exclusively and never decides
// termination: every emitted event goes through the ledger's Accept entry
// point like any other producer's.
package proctor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"examd/internal/capture"
	"examd/internal/classify"
	"examd/internal/ledger"
	"examd/internal/sched"
)

// Config controls detector cadence and thresholds.
type Config struct {
	// FaceInterval is the face-geometry loop cadence.
	FaceInterval time.Duration

	// ObjectInterval is the object-detection loop cadence.
	ObjectInterval time.Duration

	// FaceTicks is the consecutive-tick vote for face violation kinds.
	FaceTicks int

	// ObjectTicks is the consecutive-tick vote for object violation kinds.
	ObjectTicks int

	// TurnThreshold is the normalized horizontal offset of the face center
	// from frame center beyond which the face counts as turned away.
	TurnThreshold float64

	// Mirrored flips the left/right mapping. The sign convention: a
	// positive offset means the face sits right of center in the raw
	// frame; whether that is the candidate's left or right depends on
	// whether the pipeline mirrors the feed, so it is configuration, not
	// an assumption.
	Mirrored bool

	// Minimum confidences for object detections to count at all.
	PhoneConfidence  float64
	BookConfidence   float64
	PersonConfidence float64
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{
		FaceInterval:     800 * time.Millisecond,
		ObjectInterval:   time.Second,
		FaceTicks:        3,
		ObjectTicks:      2,
		TurnThreshold:    0.18,
		Mirrored:         true,
		PhoneConfidence:  0.60,
		BookConfidence:   0.60,
		PersonConfidence: 0.50,
	}
}

// faceKinds are mutually exclusive within the face loop: the frame is in
// exactly one face state per tick, so observing one kind resets the others.
var faceKinds = []ledger.Kind{
	ledger.KindFaceAbsent,
	ledger.KindFaceMultiple,
	ledger.KindFaceTurnedLeft,
	ledger.KindFaceTurnedRight,
}

// objectKinds are tracked independently of each other.
var objectKinds = []ledger.Kind{
	ledger.KindPhone,
	ledger.KindBook,
	ledger.KindMultiplePersons,
}

// kindSeverity maps each camera-derived kind to the loudness of its
// warning. Severity never changes escalation math.
var kindSeverity = map[ledger.Kind]ledger.Severity{
	ledger.KindFaceAbsent:      ledger.SeverityHigh,
	ledger.KindFaceMultiple:    ledger.SeverityHigh,
	ledger.KindFaceTurnedLeft:  ledger.SeverityMedium,
	ledger.KindFaceTurnedRight: ledger.SeverityMedium,
	ledger.KindPhone:           ledger.SeverityHigh,
	ledger.KindBook:            ledger.SeverityMedium,
	ledger.KindMultiplePersons: ledger.SeverityHigh,
}

// Detector polls the capture source, classifies frames, and emits debounced
// violation events into the ledger.
type Detector struct {
	cfg        Config
	source     capture.Source
	classifier classify.Classifier
	ledger     *ledger.Ledger
	log        *slog.Logger

	mu       sync.Mutex
	counters map[ledger.Kind]int
}

// New creates a detector. It does nothing until Start.
func New(cfg Config, source capture.Source, classifier classify.Classifier, lgr *ledger.Ledger, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	return &Detector{
		cfg:        cfg,
		source:     source,
		classifier: classifier,
		ledger:     lgr,
		log:        log,
		counters:   make(map[ledger.Kind]int),
	}
}

// Start registers both polling loops with the attempt scheduler. Tick
// handlers run synchronously in their loop, so a classification call still
// in flight when the next tick arrives causes that tick to be skipped, not
// queued.
func (d *Detector) Start(s *sched.Scheduler) {
	if ok, reason := d.source.Available(); !ok {
		// Setup error, not a violation: face and object detection are
		// disabled, the rest of the attempt proceeds.
		d.log.Warn("camera unavailable, detection disabled", "reason", reason)
	}
	s.Every("proctor-face", d.cfg.FaceInterval, d.faceTick)
	s.Every("proctor-object", d.cfg.ObjectInterval, d.objectTick)
}

// faceTick runs one iteration of the face-geometry loop.
func (d *Detector) faceTick(ctx context.Context) {
	frame, ok := d.source.NextFrame()
	if !ok {
		// No frame this tick: counters stay untouched.
		return
	}

	detections, err := d.classifier.ClassifyFace(ctx, frame)
	if err != nil {
		// Transient classification error: skip silently.
		d.log.Debug("face classification failed", "error", err)
		return
	}

	var faces []classify.Detection
	for _, det := range detections {
		if det.Label == classify.LabelFace {
			faces = append(faces, det)
		}
	}

	switch len(faces) {
	case 0:
		d.voteFace(ledger.KindFaceAbsent)
	case 1:
		d.voteSingleFace(faces[0], frame.Width)
	default:
		d.voteFace(ledger.KindFaceMultiple)
	}
}

// voteSingleFace classifies the one-face state: nominal or turned away.
func (d *Detector) voteSingleFace(face classify.Detection, frameWidth int) {
	if frameWidth <= 0 {
		return
	}
	offset := face.Box.CenterX()/float64(frameWidth) - 0.5

	switch {
	case offset > d.cfg.TurnThreshold:
		d.voteFace(d.turnKind(true))
	case offset < -d.cfg.TurnThreshold:
		d.voteFace(d.turnKind(false))
	default:
		// Nominal: looking at the screen resets every face counter.
		d.resetFaceCounters()
	}
}

// turnKind maps a raw-frame direction to a turn kind under the configured
// mirroring convention.
func (d *Detector) turnKind(rightOfCenter bool) ledger.Kind {
	if d.cfg.Mirrored {
		rightOfCenter = !rightOfCenter
	}
	if rightOfCenter {
		return ledger.KindFaceTurnedRight
	}
	return ledger.KindFaceTurnedLeft
}

// objectTick runs one iteration of the object-detection loop.
func (d *Detector) objectTick(ctx context.Context) {
	frame, ok := d.source.NextFrame()
	if !ok {
		return
	}

	detections, err := d.classifier.ClassifyObjects(ctx, frame)
	if err != nil {
		d.log.Debug("object classification failed", "error", err)
		return
	}

	persons := 0
	present := map[ledger.Kind]bool{}
	for _, det := range detections {
		switch det.Label {
		case classify.LabelPhone:
			if det.Confidence >= d.cfg.PhoneConfidence {
				present[ledger.KindPhone] = true
			}
		case classify.LabelBook:
			if det.Confidence >= d.cfg.BookConfidence {
				present[ledger.KindBook] = true
			}
		case classify.LabelPerson:
			if det.Confidence >= d.cfg.PersonConfidence {
				persons++
			}
		}
	}
	present[ledger.KindMultiplePersons] = persons > 1

	for _, kind := range objectKinds {
		d.voteObject(kind, present[kind])
	}
}

// voteFace increments one face counter, resets the rest, and emits when the
// vote threshold is reached.
func (d *Detector) voteFace(kind ledger.Kind) {
	d.mu.Lock()
	for _, k := range faceKinds {
		if k != kind {
			d.counters[k] = 0
		}
	}
	d.counters[kind]++
	emit := d.counters[kind] >= d.cfg.FaceTicks
	if emit {
		d.counters[kind] = 0
	}
	d.mu.Unlock()

	if emit {
		d.emit(kind)
	}
}

// voteObject updates one object counter independently of the others.
func (d *Detector) voteObject(kind ledger.Kind, observed bool) {
	d.mu.Lock()
	if !observed {
		d.counters[kind] = 0
		d.mu.Unlock()
		return
	}
	d.counters[kind]++
	emit := d.counters[kind] >= d.cfg.ObjectTicks
	if emit {
		d.counters[kind] = 0
	}
	d.mu.Unlock()

	if emit {
		d.emit(kind)
	}
}

func (d *Detector) resetFaceCounters() {
	d.mu.Lock()
	for _, k := range faceKinds {
		d.counters[k] = 0
	}
	d.mu.Unlock()
}

func (d *Detector) emit(kind ledger.Kind) {
	severity, ok := kindSeverity[kind]
	if !ok {
		severity = ledger.SeverityMedium
	}
	d.ledger.Accept(ledger.NewEvent(kind, severity, ""))
}
