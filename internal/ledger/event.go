// Package ledger implements the warning escalation and termination state
// machine for one exam attempt.
//
// Every violation producer, the camera-based detector and the navigation
// guard alike, funnels into the single Accept entry point. There is no
// privileged path: cooldown, counting, and the termination threshold are
// enforced in exactly one place.
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies what rule a violation event breached.
type Kind string

// Violation kinds.
const (
	// Camera-derived kinds, emitted by the proctor detector after the
	// consecutive-tick vote.
	KindFaceAbsent      Kind = "face-absent"
	KindFaceMultiple    Kind = "face-multiple"
	KindFaceTurnedLeft  Kind = "face-turned-left"
	KindFaceTurnedRight Kind = "face-turned-right"
	KindPhone           Kind = "phone"
	KindBook            Kind = "book"
	KindMultiplePersons Kind = "multiple-persons"

	// Page-level kinds, emitted edge-triggered by the navigation guard.
	KindTabSwitch       Kind = "tab-switch"
	KindRightClick      Kind = "right-click"
	KindBackNavigation  Kind = "back-navigation-attempt"
	KindBlockedShortcut Kind = "blocked-shortcut"

	// KindWindowBlur is advisory only: losing focus while still visible is
	// a soft nudge, never a counted warning.
	KindWindowBlur Kind = "window-blur"
)

// Severity indicates how loud the warning surface should be. It is
// informational only and never changes the escalation math: every accepted
// event counts as exactly one warning.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseSeverity converts a severity name back to a Severity.
func ParseSeverity(s string) Severity {
	switch s {
	case "low":
		return SeverityLow
	case "high":
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// Event is a discrete, debounced violation signal. Events are immutable
// once created; they are the unit exchanged between producers and the
// ledger.
type Event struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Severity   Severity  `json:"severity"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent creates a violation event stamped with the current time.
func NewEvent(kind Kind, severity Severity, detail string) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Severity:   severity,
		Detail:     detail,
		OccurredAt: time.Now(),
	}
}
