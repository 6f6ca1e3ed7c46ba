// Package guard defends the exam surface against navigation escapes.
//
// The guard does not know whether it runs inside a browser page or a
// native shell: the Host interface abstracts whatever navigation
// primitives the environment has (history flooding and beforeunload in a
// browser, a keyboard/focus trap in a native client). The guard's job is
// the policy: which host events become violations, which are advisory,
// and which only need the trap re-armed. It is independent of the
// camera pipeline entirely.
package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"examd/internal/ledger"
	"examd/internal/sched"
)

// HostEventType distinguishes the navigation events a host can report.
type HostEventType int

const (
	// BackNavigation is a detected back/forward navigation attempt.
	BackNavigation HostEventType = iota
	// UnloadAttempt is a page close/refresh attempt. The host shows its
	// native confirmation; the candidate may cancel, so this is never a
	// violation by itself.
	UnloadAttempt
	// BlockedShortcut is a cancelled keyboard chord (refresh, close-tab,
	// new-tab, address bar, and so on).
	BlockedShortcut
	// ContextMenu is a suppressed right-click or link drag.
	ContextMenu
	// VisibilityHidden means the exam surface became hidden: tab switch,
	// app switch, or minimize.
	VisibilityHidden
	// FocusLost means the window lost focus while still visible.
	FocusLost
)

// HostEvent is an edge-triggered navigation event from the host.
type HostEvent struct {
	Type  HostEventType
	Chord string // key chord for BlockedShortcut
	At    time.Time
}

// Host is the environment's navigation-interception surface.
type Host interface {
	// Start begins intercepting and emitting events.
	Start(ctx context.Context) error

	// Stop stops intercepting. Called when the session ends so the guard
	// no longer interferes with post-exam navigation.
	Stop() error

	// Events returns the edge-triggered event stream.
	Events() <-chan HostEvent

	// ArmBackTrap (re)installs the back-navigation trap, deep enough that
	// a single back action lands inside it rather than leaving the page.
	ArmBackTrap(depth int) error

	// SetConfirmUnload toggles the native close/refresh confirmation.
	SetConfirmUnload(enabled bool)

	// Available reports whether this host can intercept at all.
	Available() (bool, string)
}

// Config controls guard behavior.
type Config struct {
	// TrapDepth is how many synthetic entries the back trap holds.
	TrapDepth int

	// ConfirmUnload forces the native confirmation on unload attempts.
	ConfirmUnload bool
}

// DefaultConfig returns the default guard configuration.
func DefaultConfig() Config {
	return Config{TrapDepth: 25, ConfirmUnload: true}
}

// Guard turns host navigation events into ledger violations.
type Guard struct {
	cfg    Config
	host   Host
	ledger *ledger.Ledger
	log    *slog.Logger

	mu     sync.Mutex
	active bool
}

// New creates a guard. It does nothing until Start.
func New(cfg Config, host Host, lgr *ledger.Ledger, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{cfg: cfg, host: host, ledger: lgr, log: log}
}

// Start arms the host defenses and begins consuming its events.
func (g *Guard) Start(s *sched.Scheduler) error {
	if ok, reason := g.host.Available(); !ok {
		g.log.Warn("navigation host unavailable, guard disabled", "reason", reason)
		return nil
	}

	if err := g.host.Start(s.Context()); err != nil {
		return err
	}
	if err := g.host.ArmBackTrap(g.cfg.TrapDepth); err != nil {
		g.log.Warn("failed to arm back trap", "error", err)
	}
	g.host.SetConfirmUnload(g.cfg.ConfirmUnload)

	g.mu.Lock()
	g.active = true
	g.mu.Unlock()

	s.Go("guard-events", g.pump)
	return nil
}

// Disable stops reacting to host events and lifts the host defenses.
// Called once the session has ended, submitted or terminated.
func (g *Guard) Disable() {
	g.mu.Lock()
	if !g.active {
		g.mu.Unlock()
		return
	}
	g.active = false
	g.mu.Unlock()

	g.host.SetConfirmUnload(false)
	if err := g.host.Stop(); err != nil {
		g.log.Debug("host stop failed", "error", err)
	}
}

func (g *Guard) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-g.host.Events():
			if !ok {
				return
			}
			g.handle(event)
		}
	}
}

func (g *Guard) handle(event HostEvent) {
	g.mu.Lock()
	active := g.active
	g.mu.Unlock()
	if !active {
		return
	}

	switch event.Type {
	case BackNavigation:
		// Re-flood first so the next back action also lands in the trap,
		// then report. The violation must be raised before any visible
		// page change can happen.
		if err := g.host.ArmBackTrap(g.cfg.TrapDepth); err != nil {
			g.log.Warn("failed to re-arm back trap", "error", err)
		}
		g.ledger.Accept(ledger.NewEvent(ledger.KindBackNavigation, ledger.SeverityHigh, ""))

	case UnloadAttempt:
		// Confirmation only. The candidate may legitimately cancel.
		g.log.Info("unload attempt intercepted")

	case BlockedShortcut:
		// Each keystroke is a discrete, deliberate action: no debounce.
		g.ledger.Accept(ledger.NewEvent(ledger.KindBlockedShortcut, ledger.SeverityMedium, event.Chord))

	case ContextMenu:
		g.ledger.Accept(ledger.NewEvent(ledger.KindRightClick, ledger.SeverityMedium, ""))

	case VisibilityHidden:
		// A single switch away is unambiguous intent.
		g.ledger.Accept(ledger.NewEvent(ledger.KindTabSwitch, ledger.SeverityHigh, ""))

	case FocusLost:
		// Still visible, just unfocused: soft nudge, not a warning.
		g.ledger.Advise(ledger.KindWindowBlur, "window lost focus")
	}
}
