package examsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"examd/internal/ledger"
)

// SinkConfig configures the warning sink.
type SinkConfig struct {
	// BaseURL of the exam service, without a trailing slash.
	BaseURL string

	// Token is the bearer token identifying this attempt's candidate.
	Token string

	// Timeout bounds each report. Warnings are fire-and-forget, so this is
	// deliberately short.
	Timeout time.Duration
}

// DefaultSinkConfig returns the default sink configuration.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		Timeout: 3 * time.Second,
	}
}

// Sink reports accepted warnings to the exam service. Reporting never
// escalates: a warning the service did not hear about still counted
// locally, and a failed report is logged and dropped.
type Sink struct {
	cfg       SinkConfig
	attemptID string
	client    *http.Client
	log       *slog.Logger
}

// NewSink creates a warning sink for one attempt.
func NewSink(cfg SinkConfig, attemptID string, log *slog.Logger) *Sink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSinkConfig().Timeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sink{
		cfg:       cfg,
		attemptID: attemptID,
		client:    &http.Client{Timeout: cfg.Timeout},
		log:       log,
	}
}

type warningReport struct {
	EventID    string    `json:"event_id"`
	Kind       string    `json:"kind"`
	Severity   string    `json:"severity"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Count      int       `json:"count"`
	Limit      int       `json:"limit"`
	Terminal   bool      `json:"terminal"`
}

// Report sends one accepted warning to the service.
func (s *Sink) Report(n ledger.Notification) {
	report := warningReport{
		EventID:    n.Event.ID,
		Kind:       string(n.Event.Kind),
		Severity:   n.Event.Severity.String(),
		Detail:     n.Event.Detail,
		OccurredAt: n.Event.OccurredAt,
		Count:      n.Count,
		Limit:      n.Limit,
		Terminal:   n.Terminal,
	}

	data, err := json.Marshal(report)
	if err != nil {
		s.log.Error("encode warning report", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1/attempts/%s/warnings", s.cfg.BaseURL, s.attemptID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		s.log.Error("build warning report", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn("warning report failed", "kind", report.Kind, "error", err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		s.log.Warn("warning report rejected",
			"kind", report.Kind, "status", resp.StatusCode)
	}
}
