package config

import (
	"errors"
	"fmt"
)

// Validation errors.
var (
	ErrNoExamURL = errors.New("config: service.exam_url is required")
)

// Validate checks the configuration for internally inconsistent or unusable
// values. Zero-value sections fall back to defaults before validation, so
// only genuinely broken settings fail here.
func (c *Config) Validate() error {
	if c.Version <= 0 {
		return fmt.Errorf("config: version must be positive, got %d", c.Version)
	}

	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("config: capture resolution %dx%d is invalid", c.Capture.Width, c.Capture.Height)
	}

	if c.Proctor.FaceIntervalMs <= 0 {
		return fmt.Errorf("config: proctor.face_interval_ms must be positive, got %d", c.Proctor.FaceIntervalMs)
	}
	if c.Proctor.ObjectIntervalMs <= 0 {
		return fmt.Errorf("config: proctor.object_interval_ms must be positive, got %d", c.Proctor.ObjectIntervalMs)
	}
	if c.Proctor.FaceTicks < 1 {
		return fmt.Errorf("config: proctor.face_ticks must be at least 1, got %d", c.Proctor.FaceTicks)
	}
	if c.Proctor.ObjectTicks < 1 {
		return fmt.Errorf("config: proctor.object_ticks must be at least 1, got %d", c.Proctor.ObjectTicks)
	}
	if c.Proctor.TurnThreshold <= 0 || c.Proctor.TurnThreshold >= 0.5 {
		return fmt.Errorf("config: proctor.turn_threshold must be in (0, 0.5), got %g", c.Proctor.TurnThreshold)
	}
	for _, conf := range []struct {
		name  string
		value float64
	}{
		{"phone_confidence", c.Proctor.PhoneConfidence},
		{"book_confidence", c.Proctor.BookConfidence},
		{"person_confidence", c.Proctor.PersonConfidence},
	} {
		if conf.value < 0 || conf.value > 1 {
			return fmt.Errorf("config: proctor.%s must be in [0, 1], got %g", conf.name, conf.value)
		}
	}

	if c.Ledger.WarningLimit < 1 {
		return fmt.Errorf("config: ledger.warning_limit must be at least 1, got %d", c.Ledger.WarningLimit)
	}
	if c.Ledger.CooldownMs < 0 {
		return fmt.Errorf("config: ledger.cooldown_ms must not be negative, got %d", c.Ledger.CooldownMs)
	}

	if c.Guard.TrapDepth < 1 {
		return fmt.Errorf("config: guard.trap_depth must be at least 1, got %d", c.Guard.TrapDepth)
	}

	if c.Storage.Path == "" {
		return errors.New("config: storage.path is required")
	}

	return nil
}
