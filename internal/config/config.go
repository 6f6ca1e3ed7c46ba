// Package config handles configuration loading, validation, and management for examd.
package config

import (
	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete exam client configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version"`

	// Capture configuration for the camera signal source.
	Capture CaptureConfig `toml:"capture"`

	// Classify configuration for the remote frame classifiers.
	Classify ClassifyConfig `toml:"classify"`

	// Proctor configuration for the violation detector loops.
	Proctor ProctorConfig `toml:"proctor"`

	// Ledger configuration for warning escalation and termination.
	Ledger LedgerConfig `toml:"ledger"`

	// Guard configuration for navigation defense.
	Guard GuardConfig `toml:"guard"`

	// Session configuration for the exam session controller.
	Session SessionConfig `toml:"session"`

	// Service configuration for the remote exam service and warning sink.
	Service ServiceConfig `toml:"service"`

	// Storage configuration for the local attempt store.
	Storage StorageConfig `toml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging"`
}

// CaptureConfig holds camera capture configuration.
type CaptureConfig struct {
	// DevicePath is the capture device node, e.g. /dev/video0.
	DevicePath string `toml:"device_path"`

	// Width and Height request a capture resolution from the device.
	Width  int `toml:"width"`
	Height int `toml:"height"`

	// HotplugWatch enables watching the device directory so unplugging the
	// camera is detected immediately instead of on the next failed read.
	HotplugWatch bool `toml:"hotplug_watch"`
}

// ClassifyConfig holds remote inference configuration.
type ClassifyConfig struct {
	// Endpoint is the base URL of the inference sidecar.
	Endpoint string `toml:"endpoint"`

	// RequestTimeoutMs bounds a single classification call.
	RequestTimeoutMs int `toml:"request_timeout_ms"`

	// ValidateResponses enables JSON Schema validation of sidecar responses.
	ValidateResponses bool `toml:"validate_responses"`
}

// ProctorConfig holds violation detector configuration.
type ProctorConfig struct {
	// FaceIntervalMs is the cadence of the face-geometry loop.
	FaceIntervalMs int `toml:"face_interval_ms"`

	// ObjectIntervalMs is the cadence of the object-detection loop.
	ObjectIntervalMs int `toml:"object_interval_ms"`

	// FaceTicks is the consecutive-tick vote required for face violations.
	FaceTicks int `toml:"face_ticks"`

	// ObjectTicks is the consecutive-tick vote required for object violations.
	ObjectTicks int `toml:"object_ticks"`

	// TurnThreshold is the normalized horizontal offset of the face center
	// from frame center beyond which the candidate counts as turned away.
	TurnThreshold float64 `toml:"turn_threshold"`

	// Mirrored flips the left/right sign convention for mirrored feeds.
	// Camera feeds are often displayed mirrored but classified on the raw
	// frame; this must match the capture pipeline, not the display.
	Mirrored bool `toml:"mirrored"`

	// Minimum confidences for object detections to count.
	PhoneConfidence  float64 `toml:"phone_confidence"`
	BookConfidence   float64 `toml:"book_confidence"`
	PersonConfidence float64 `toml:"person_confidence"`
}

// LedgerConfig holds warning escalation configuration.
type LedgerConfig struct {
	// WarningLimit is the number of accepted warnings that terminates the
	// attempt.
	WarningLimit int `toml:"warning_limit"`

	// CooldownMs is the minimum time between two accepted events of the
	// same kind.
	CooldownMs int `toml:"cooldown_ms"`
}

// GuardConfig holds navigation guard configuration.
type GuardConfig struct {
	// TrapDepth is how many synthetic history entries the host pushes so a
	// back action lands inside the trap.
	TrapDepth int `toml:"trap_depth"`

	// ConfirmUnload forces a native confirmation on close/refresh attempts.
	ConfirmUnload bool `toml:"confirm_unload"`
}

// SessionConfig holds session controller configuration.
type SessionConfig struct {
	// ProcessingPlaceholder is shown when neither the completion signal nor
	// a direct results fetch succeeds after final submission.
	ProcessingPlaceholder string `toml:"processing_placeholder"`
}

// ServiceConfig holds remote collaborator configuration.
type ServiceConfig struct {
	// ExamURL is the base URL of the remote exam service.
	ExamURL string `toml:"exam_url"`

	// SinkURL is the base URL of the remote warning sink. Empty disables
	// remote warning reporting; local escalation is authoritative anyway.
	SinkURL string `toml:"sink_url"`

	// RequestTimeoutMs bounds exam service calls.
	RequestTimeoutMs int `toml:"request_timeout_ms"`

	// SinkTimeoutMs bounds fire-and-forget warning reports.
	SinkTimeoutMs int `toml:"sink_timeout_ms"`
}

// StorageConfig holds local persistence configuration.
type StorageConfig struct {
	// Path is the path to the attempt database file.
	Path string `toml:"path"`

	// SecretPath is the path to the device secret used to key the warning
	// record HMAC chain. Created on first use if absent.
	SecretPath string `toml:"secret_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `toml:"level"`
	Format   string `toml:"format"`
	Output   string `toml:"output"`
	FilePath string `toml:"file_path"`
}

// Load reads a TOML configuration file, applying defaults for absent keys.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a TOML file.
func Save(cfg *Config, path string) error {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
