package ledger

import (
	"log/slog"
	"sync"
	"time"
)

// Decision is the outcome of offering an event to the ledger.
type Decision int

const (
	// Accepted means the event was counted as a warning.
	Accepted Decision = iota
	// AcceptedTerminal means the event was counted and crossed the
	// termination threshold.
	AcceptedTerminal
	// RejectedCooldown means a same-kind event was accepted too recently.
	RejectedCooldown
	// RejectedTerminated means the ledger is already terminal.
	RejectedTerminated
)

// Counted reports whether the decision incremented the warning count.
func (d Decision) Counted() bool {
	return d == Accepted || d == AcceptedTerminal
}

// State is a snapshot of the ledger's escalation state.
type State struct {
	WarningCount      int
	WarningLimit      int
	Terminated        bool
	TerminationReason string
}

// Notification is surfaced to subscribers on every accepted event and on
// every advisory. The UI layer renders these; the ledger never blocks on a
// slow subscriber.
type Notification struct {
	Event    Event
	Count    int
	Limit    int
	Audible  bool
	Advisory bool
	Terminal bool
}

// Config controls escalation behavior.
type Config struct {
	// WarningLimit is the accepted-warning count that terminates the
	// attempt.
	WarningLimit int

	// Cooldown is the minimum time between two accepted events of the same
	// kind. It prevents one sustained condition from streaming warnings.
	Cooldown time.Duration
}

// DefaultConfig returns the default escalation configuration.
func DefaultConfig() Config {
	return Config{
		WarningLimit: 3,
		Cooldown:     2 * time.Second,
	}
}

// Ledger is the shared escalation state machine: Active until the warning
// limit is reached, then Terminated, one way, forever.
type Ledger struct {
	mu sync.Mutex

	cfg Config
	log *slog.Logger

	record       []Event
	lastAccepted map[Kind]time.Time
	terminated   bool
	terminalKind Kind
	reason       string

	subscribers []chan<- Notification
	onAccept    []func(Notification)
	onTerminate []func(Event)

	now func() time.Time
}

// New creates a ledger for one exam attempt.
func New(cfg Config, log *slog.Logger) *Ledger {
	if cfg.WarningLimit < 1 {
		cfg.WarningLimit = DefaultConfig().WarningLimit
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		cfg:          cfg,
		log:          log,
		lastAccepted: make(map[Kind]time.Time),
		now:          time.Now,
	}
}

// Accept offers a violation event to the ledger and returns the decision.
// This is the only entry point that mutates escalation state.
func (l *Ledger) Accept(event Event) Decision {
	l.mu.Lock()

	if l.terminated {
		l.mu.Unlock()
		return RejectedTerminated
	}

	now := l.now()
	if last, seen := l.lastAccepted[event.Kind]; seen && now.Sub(last) < l.cfg.Cooldown {
		l.mu.Unlock()
		l.log.Debug("violation rejected by cooldown", "kind", event.Kind)
		return RejectedCooldown
	}

	l.record = append(l.record, event)
	l.lastAccepted[event.Kind] = now
	count := len(l.record)

	terminal := count >= l.cfg.WarningLimit
	if terminal {
		l.terminated = true
		l.terminalKind = event.Kind
		l.reason = terminationReason(event)
	}

	accepts := l.onAccept
	var terminates []func(Event)
	if terminal {
		terminates = l.onTerminate
	}
	notification := Notification{
		Event:    event,
		Count:    count,
		Limit:    l.cfg.WarningLimit,
		Audible:  event.Severity == SeverityHigh,
		Terminal: terminal,
	}
	l.mu.Unlock()

	l.log.Warn("violation accepted",
		"kind", event.Kind,
		"severity", event.Severity.String(),
		"count", count,
		"limit", l.cfg.WarningLimit,
		"terminal", terminal)

	for _, fn := range accepts {
		fn(notification)
	}
	l.notify(notification)

	if terminal {
		for _, fn := range terminates {
			fn(event)
		}
		return AcceptedTerminal
	}
	return Accepted
}

// Advise surfaces a non-counted notification, e.g. the soft nudge when the
// window loses focus without being hidden.
func (l *Ledger) Advise(kind Kind, detail string) {
	l.mu.Lock()
	if l.terminated {
		l.mu.Unlock()
		return
	}
	notification := Notification{
		Event:    NewEvent(kind, SeverityLow, detail),
		Count:    len(l.record),
		Limit:    l.cfg.WarningLimit,
		Advisory: true,
	}
	l.mu.Unlock()

	l.log.Info("advisory", "kind", kind, "detail", detail)
	l.notify(notification)
}

// State returns a snapshot of escalation state.
func (l *Ledger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State{
		WarningCount:      len(l.record),
		WarningLimit:      l.cfg.WarningLimit,
		Terminated:        l.terminated,
		TerminationReason: l.reason,
	}
}

// Record returns a copy of the accepted warning record, oldest first.
func (l *Ledger) Record() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	record := make([]Event, len(l.record))
	copy(record, l.record)
	return record
}

// Subscribe returns a channel of notifications. Sends never block; a slow
// subscriber misses notifications rather than stalling escalation.
func (l *Ledger) Subscribe() <-chan Notification {
	ch := make(chan Notification, 32)
	l.mu.Lock()
	l.subscribers = append(l.subscribers, ch)
	l.mu.Unlock()
	return ch
}

// OnAccept registers a hook invoked for every accepted event, after the
// state change. The notification carries the count assigned to the event
// under the ledger lock; hooks must use it rather than re-reading State,
// which may already reflect a later accept. Used for persistence and
// remote warning reporting.
func (l *Ledger) OnAccept(fn func(Notification)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onAccept = append(l.onAccept, fn)
}

// OnTerminate registers a hook invoked once when the threshold is crossed.
// Used to end the session and release the capture device.
func (l *Ledger) OnTerminate(fn func(Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onTerminate = append(l.onTerminate, fn)
}

func (l *Ledger) notify(n Notification) {
	l.mu.Lock()
	subscribers := l.subscribers
	l.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- n:
		default:
		}
	}
}

func terminationReason(event Event) string {
	return "warning limit reached: " + string(event.Kind)
}
