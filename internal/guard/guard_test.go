package guard

import (
	"context"
	"sync"
	"testing"
	"time"

	"examd/internal/ledger"
	"examd/internal/sched"
)

// fakeHost records guard calls and lets tests inject events.
type fakeHost struct {
	mu            sync.Mutex
	events        chan HostEvent
	armed         int
	confirmUnload bool
	stopped       bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{events: make(chan HostEvent, 16)}
}

func (h *fakeHost) Start(ctx context.Context) error { return nil }

func (h *fakeHost) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	return nil
}

func (h *fakeHost) Events() <-chan HostEvent { return h.events }

func (h *fakeHost) ArmBackTrap(depth int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.armed++
	return nil
}

func (h *fakeHost) SetConfirmUnload(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.confirmUnload = enabled
}

func (h *fakeHost) Available() (bool, string) { return true, "" }

func (h *fakeHost) armCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.armed
}

func (h *fakeHost) inject(t *testing.T, event HostEvent) {
	t.Helper()
	event.At = time.Now()
	select {
	case h.events <- event:
	case <-time.After(time.Second):
		t.Fatal("host event channel full")
	}
}

func startGuard(t *testing.T) (*Guard, *fakeHost, *ledger.Ledger, *sched.Scheduler) {
	t.Helper()
	host := newFakeHost()
	lgr := ledger.New(ledger.Config{WarningLimit: 100, Cooldown: 0}, nil)
	g := New(DefaultConfig(), host, lgr, nil)

	s := sched.New(context.Background())
	t.Cleanup(s.Stop)
	if err := g.Start(s); err != nil {
		t.Fatalf("guard start: %v", err)
	}
	return g, host, lgr, s
}

// waitForCount polls until the ledger reaches the expected warning count.
func waitForCount(t *testing.T, lgr *ledger.Ledger, want int) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if lgr.State().WarningCount == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("warning count = %d, want %d", lgr.State().WarningCount, want)
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestStartArmsDefenses(t *testing.T) {
	_, host, _, _ := startGuard(t)

	if host.armCount() != 1 {
		t.Errorf("back trap armed %d times on start, want 1", host.armCount())
	}
	host.mu.Lock()
	defer host.mu.Unlock()
	if !host.confirmUnload {
		t.Error("unload confirmation not enabled on start")
	}
}

func TestBackNavigationRearmsAndReportsHigh(t *testing.T) {
	_, host, lgr, _ := startGuard(t)

	host.inject(t, HostEvent{Type: BackNavigation})
	waitForCount(t, lgr, 1)

	record := lgr.Record()
	if record[0].Kind != ledger.KindBackNavigation {
		t.Errorf("kind = %s, want back-navigation-attempt", record[0].Kind)
	}
	if record[0].Severity != ledger.SeverityHigh {
		t.Errorf("severity = %s, want high", record[0].Severity)
	}
	if host.armCount() != 2 {
		t.Errorf("back trap armed %d times, want 2 (start + re-flood)", host.armCount())
	}
}

func TestBlockedShortcutCarriesChord(t *testing.T) {
	_, host, lgr, _ := startGuard(t)

	host.inject(t, HostEvent{Type: BlockedShortcut, Chord: "ctrl+r"})
	waitForCount(t, lgr, 1)

	record := lgr.Record()
	if record[0].Kind != ledger.KindBlockedShortcut || record[0].Detail != "ctrl+r" {
		t.Errorf("got %s/%q, want blocked-shortcut/ctrl+r", record[0].Kind, record[0].Detail)
	}
}

func TestVisibilityHiddenIsHighTabSwitch(t *testing.T) {
	_, host, lgr, _ := startGuard(t)

	host.inject(t, HostEvent{Type: VisibilityHidden})
	waitForCount(t, lgr, 1)

	record := lgr.Record()
	if record[0].Kind != ledger.KindTabSwitch || record[0].Severity != ledger.SeverityHigh {
		t.Errorf("got %s/%s, want tab-switch/high", record[0].Kind, record[0].Severity)
	}
}

func TestContextMenuIsMediumViolation(t *testing.T) {
	_, host, lgr, _ := startGuard(t)

	host.inject(t, HostEvent{Type: ContextMenu})
	waitForCount(t, lgr, 1)

	record := lgr.Record()
	if record[0].Kind != ledger.KindRightClick || record[0].Severity != ledger.SeverityMedium {
		t.Errorf("got %s/%s, want right-click/medium", record[0].Kind, record[0].Severity)
	}
}

func TestFocusLostIsAdvisoryOnly(t *testing.T) {
	_, host, lgr, _ := startGuard(t)
	notifications := lgr.Subscribe()

	host.inject(t, HostEvent{Type: FocusLost})

	select {
	case n := <-notifications:
		if !n.Advisory {
			t.Error("focus loss produced a counted warning, want advisory")
		}
	case <-time.After(time.Second):
		t.Fatal("no notification for focus loss")
	}
	if got := lgr.State().WarningCount; got != 0 {
		t.Errorf("warning count = %d, want 0", got)
	}
}

func TestUnloadAttemptIsNotAViolation(t *testing.T) {
	_, host, lgr, _ := startGuard(t)

	host.inject(t, HostEvent{Type: UnloadAttempt})
	time.Sleep(20 * time.Millisecond)

	if got := lgr.State().WarningCount; got != 0 {
		t.Errorf("warning count = %d, want 0 (unload prompt is cancelable)", got)
	}
}

func TestDisabledGuardIgnoresEvents(t *testing.T) {
	g, host, lgr, _ := startGuard(t)

	g.Disable()
	host.inject(t, HostEvent{Type: VisibilityHidden})
	host.inject(t, HostEvent{Type: BackNavigation})
	time.Sleep(20 * time.Millisecond)

	if got := lgr.State().WarningCount; got != 0 {
		t.Errorf("warning count = %d after disable, want 0", got)
	}
	host.mu.Lock()
	defer host.mu.Unlock()
	if host.confirmUnload {
		t.Error("unload confirmation still enabled after disable")
	}
	if !host.stopped {
		t.Error("host not stopped after disable")
	}
}
