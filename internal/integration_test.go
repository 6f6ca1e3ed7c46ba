// Package internal provides integration tests for the exam integrity
// pipeline.
//
// These tests wire the real components together the way the daemon does:
// 1. A capture source and classifier feed the violation detector
// 2. A navigation host feeds the guard
// 3. Both producers escalate through the shared warning ledger
// 4. The ledger's termination interrupt freezes the session controller
package internal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"examd/internal/capture"
	"examd/internal/classify"
	"examd/internal/guard"
	"examd/internal/ledger"
	"examd/internal/proctor"
	"examd/internal/sched"
	"examd/internal/session"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeSource struct {
	mu     sync.Mutex
	closed bool
}

func (s *fakeSource) NextFrame() (*capture.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	return &capture.Frame{Data: []byte{0xff}, Width: 640, Height: 480, CapturedAt: time.Now()}, true
}

func (s *fakeSource) Available() (bool, string) { return true, "" }

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeClassifier reports a fixed set of face detections.
type fakeClassifier struct {
	mu    sync.Mutex
	faces []classify.Detection
}

func (c *fakeClassifier) ClassifyFace(ctx context.Context, frame *capture.Frame) ([]classify.Detection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.faces, nil
}

func (c *fakeClassifier) ClassifyObjects(ctx context.Context, frame *capture.Frame) ([]classify.Detection, error) {
	return nil, nil
}

func (c *fakeClassifier) setFaces(faces []classify.Detection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faces = faces
}

type fakeHost struct {
	mu      sync.Mutex
	events  chan guard.HostEvent
	stopped bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{events: make(chan guard.HostEvent, 16)}
}

func (h *fakeHost) Start(ctx context.Context) error { return nil }
func (h *fakeHost) Events() <-chan guard.HostEvent  { return h.events }
func (h *fakeHost) ArmBackTrap(depth int) error     { return nil }
func (h *fakeHost) SetConfirmUnload(enabled bool)   {}
func (h *fakeHost) Available() (bool, string)       { return true, "" }

var _ guard.Host = (*fakeHost)(nil)

func (h *fakeHost) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	return nil
}

func (h *fakeHost) isStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

func (h *fakeHost) inject(t guard.HostEventType) {
	h.events <- guard.HostEvent{Type: t, At: time.Now()}
}

type fakeExamService struct{}

func (fakeExamService) SubmitAnswer(ctx context.Context, sub session.Submission) (*session.SubmitOutcome, error) {
	return &session.SubmitOutcome{
		Next: &session.Question{Number: sub.Number + 1, Section: "general", Body: "next", Budget: time.Minute},
	}, nil
}

func (fakeExamService) GetResults(ctx context.Context, attemptID string) (*session.Results, error) {
	return &session.Results{Summary: "scored"}, nil
}

func startedController(t *testing.T) *session.Controller {
	t.Helper()
	exam := &session.Exam{
		AttemptID:      "attempt-int",
		TotalQuestions: 10,
		Sections:       []session.Section{{Name: "general", QuestionCount: 10, PerQuestion: time.Minute}},
	}
	c, err := session.NewController(session.Config{ProcessingPlaceholder: "processing"}, exam, fakeExamService{}, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	first := &session.Question{Number: 1, Section: "general", Body: "first", Budget: time.Minute}
	if err := c.Start(context.Background(), first); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(2 * time.Millisecond)
		}
	}
}

// =============================================================================
// INTEGRATION: Camera Pipeline
// =============================================================================

// TestAbsentFaceProducesSingleWarning drives the detector with an empty
// camera view: the consecutive-tick vote must produce exactly one warning,
// and returning to nominal must reset the vote.
func TestAbsentFaceProducesSingleWarning(t *testing.T) {
	source := &fakeSource{}
	classifier := &fakeClassifier{}
	lgr := ledger.New(ledger.Config{WarningLimit: 3, Cooldown: time.Minute}, nil)

	detector := proctor.New(proctor.Config{
		FaceInterval:   5 * time.Millisecond,
		ObjectInterval: time.Hour,
		FaceTicks:      3,
		ObjectTicks:    2,
		TurnThreshold:  0.18,
	}, source, classifier, lgr, nil)

	sch := sched.New(context.Background())
	defer sch.Stop()
	detector.Start(sch)

	waitFor(t, "face-absent warning", func() bool {
		return lgr.State().WarningCount == 1
	})

	record := lgr.Record()
	if record[0].Kind != ledger.KindFaceAbsent {
		t.Fatalf("kind = %s, want face-absent", record[0].Kind)
	}

	// Face returns: the cooldown holds and the vote restarts, so the count
	// must stay at one.
	classifier.setFaces([]classify.Detection{{
		Label:      classify.LabelFace,
		Confidence: 0.95,
		Box:        classify.Box{X: 290, Y: 200, Width: 60, Height: 60},
	}})
	time.Sleep(50 * time.Millisecond)
	if got := lgr.State().WarningCount; got != 1 {
		t.Fatalf("count = %d after face returned, want 1", got)
	}
}

// =============================================================================
// INTEGRATION: Escalation and Termination
// =============================================================================

// TestThreeViolationsTerminateTheAttempt pushes three navigation events of
// different kinds through the guard and checks the full termination
// interrupt: ledger terminal, controller frozen, defenses lifted, camera
// released.
func TestThreeViolationsTerminateTheAttempt(t *testing.T) {
	source := &fakeSource{}
	host := newFakeHost()
	lgr := ledger.New(ledger.Config{WarningLimit: 3, Cooldown: 2 * time.Second}, nil)
	controller := startedController(t)

	g := guard.New(guard.Config{TrapDepth: 25, ConfirmUnload: true}, host, lgr, nil)

	lgr.OnTerminate(func(e ledger.Event) {
		controller.Terminate("warning limit reached: " + string(e.Kind))
		g.Disable()
		source.Close()
	})

	sch := sched.New(context.Background())
	defer sch.Stop()
	if err := g.Start(sch); err != nil {
		t.Fatalf("guard start: %v", err)
	}

	host.inject(guard.VisibilityHidden)
	waitFor(t, "first warning", func() bool { return lgr.State().WarningCount == 1 })

	host.inject(guard.BlockedShortcut)
	waitFor(t, "second warning", func() bool { return lgr.State().WarningCount == 2 })

	host.inject(guard.BackNavigation)
	waitFor(t, "termination", func() bool { return lgr.State().Terminated })

	waitFor(t, "controller frozen", func() bool {
		return controller.State() == session.StateTerminated
	})
	if err := controller.Next("too late"); !errors.Is(err, session.ErrEnded) {
		t.Errorf("Next after termination = %v, want ErrEnded", err)
	}

	waitFor(t, "host stood down", host.isStopped)
	waitFor(t, "camera released", source.isClosed)

	if got := lgr.State().TerminationReason; got != "warning limit reached: back-navigation-attempt" {
		t.Errorf("reason = %q", got)
	}

	// Further events change nothing.
	host.inject(guard.VisibilityHidden)
	time.Sleep(20 * time.Millisecond)
	if got := lgr.State().WarningCount; got != 3 {
		t.Errorf("count = %d after termination, want 3", got)
	}
}

// TestAdvisoryNeverTerminates sends only focus-lost events; the attempt
// must stay active no matter how many arrive.
func TestAdvisoryNeverTerminates(t *testing.T) {
	host := newFakeHost()
	lgr := ledger.New(ledger.Config{WarningLimit: 3, Cooldown: 0}, nil)
	g := guard.New(guard.DefaultConfig(), host, lgr, nil)

	notifications := lgr.Subscribe()

	sch := sched.New(context.Background())
	defer sch.Stop()
	if err := g.Start(sch); err != nil {
		t.Fatalf("guard start: %v", err)
	}

	for i := 0; i < 5; i++ {
		host.inject(guard.FocusLost)
	}

	var advisories int
	deadline := time.After(time.Second)
	for advisories < 5 {
		select {
		case n := <-notifications:
			if !n.Advisory {
				t.Fatalf("non-advisory notification for focus loss: %+v", n)
			}
			advisories++
		case <-deadline:
			t.Fatalf("saw %d advisories, want 5", advisories)
		}
	}

	state := lgr.State()
	if state.WarningCount != 0 || state.Terminated {
		t.Fatalf("advisories changed escalation state: %+v", state)
	}
}
