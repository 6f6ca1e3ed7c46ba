package config

import (
	"os"
	"path/filepath"
)

// Default returns the default configuration.
func Default() *Config {
	dataDir := defaultDataDir()

	return &Config{
		Version: Version,
		Capture: CaptureConfig{
			DevicePath:   "/dev/video0",
			Width:        640,
			Height:       480,
			HotplugWatch: true,
		},
		Classify: ClassifyConfig{
			Endpoint:          "http://127.0.0.1:8642",
			RequestTimeoutMs:  700,
			ValidateResponses: true,
		},
		Proctor: ProctorConfig{
			FaceIntervalMs:   800,
			ObjectIntervalMs: 1000,
			FaceTicks:        3,
			ObjectTicks:      2,
			TurnThreshold:    0.18,
			Mirrored:         true,
			PhoneConfidence:  0.60,
			BookConfidence:   0.60,
			PersonConfidence: 0.50,
		},
		Ledger: LedgerConfig{
			WarningLimit: 3,
			CooldownMs:   2000,
		},
		Guard: GuardConfig{
			TrapDepth:     25,
			ConfirmUnload: true,
		},
		Session: SessionConfig{
			ProcessingPlaceholder: "Your results are being processed. Check back shortly.",
		},
		Service: ServiceConfig{
			ExamURL:          "",
			SinkURL:          "",
			RequestTimeoutMs: 8000,
			SinkTimeoutMs:    3000,
		},
		Storage: StorageConfig{
			Path:       filepath.Join(dataDir, "attempts.db"),
			SecretPath: filepath.Join(dataDir, "device.secret"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// defaultDataDir returns the platform data directory for examd.
func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "examd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".examd"
	}
	return filepath.Join(home, ".local", "share", "examd")
}

// createFile creates path's parent directory and opens the file for writing.
func createFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
}
