// Package examsvc is the HTTP client for the remote exam service.
//
// The client covers the three calls the session controller depends on
// (start, submit, results) plus the fire-and-forget warning sink. It never
// retries on its own: the controller decides what a failed submission
// means, and a warning that cannot be reported is logged and dropped.
package examsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"examd/internal/session"
)

// Client errors.
var (
	ErrAttemptNotFound = errors.New("examsvc: attempt not found")
	ErrAttemptClosed   = errors.New("examsvc: attempt already closed")
)

// Config configures the exam service client.
type Config struct {
	// BaseURL of the exam service, without a trailing slash.
	BaseURL string

	// Token is the bearer token identifying this attempt's candidate.
	Token string

	// Timeout bounds each request.
	Timeout time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 15 * time.Second,
	}
}

// Client talks to the exam service. It implements session.Service.
type Client struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

// NewClient creates an exam service client.
func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

const maxResponseBytes = 1 << 20

type wireSection struct {
	Name           string `json:"name"`
	QuestionCount  int    `json:"question_count"`
	PerQuestionSec int    `json:"per_question_sec"`
}

type wireQuestion struct {
	Number         int      `json:"number"`
	Section        string   `json:"section"`
	Body           string   `json:"body"`
	Options        []string `json:"options,omitempty"`
	MultipleChoice bool     `json:"multiple_choice,omitempty"`
	BudgetSec      int      `json:"budget_sec,omitempty"`
}

type startTestResponse struct {
	AttemptID      string        `json:"attempt_id"`
	TotalQuestions int           `json:"total_questions"`
	Sections       []wireSection `json:"sections"`
	TotalBudgetSec int           `json:"total_budget_sec,omitempty"`
	FirstQuestion  *wireQuestion `json:"first_question"`
}

type submitAnswerRequest struct {
	Number       int            `json:"number"`
	Answer       *string        `json:"answer,omitempty"`
	Skipped      bool           `json:"skipped"`
	TimeTakenSec int            `json:"time_taken_sec"`
	Final        bool           `json:"final,omitempty"`
	Answers      map[int]string `json:"answers,omitempty"`
}

type submitAnswerResponse struct {
	Completed bool          `json:"completed"`
	Next      *wireQuestion `json:"next,omitempty"`
	Results   *wireResults  `json:"results,omitempty"`
}

type wireResults struct {
	Summary string `json:"summary"`
}

// StartTest opens the attempt and returns the exam structure plus the
// first question. The response is schema-validated before anything from
// it is trusted.
func (c *Client) StartTest(ctx context.Context, attemptID string) (*session.Exam, *session.Question, error) {
	body, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/v1/attempts/%s/start", attemptID), nil)
	if err != nil {
		return nil, nil, err
	}
	if err := validateStartTest(body); err != nil {
		return nil, nil, fmt.Errorf("examsvc: start test: %w", err)
	}

	var resp startTestResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil, fmt.Errorf("examsvc: start test: %w", err)
	}

	exam := &session.Exam{
		AttemptID:      resp.AttemptID,
		TotalQuestions: resp.TotalQuestions,
		TotalBudget:    time.Duration(resp.TotalBudgetSec) * time.Second,
		StartedAt:      time.Now(),
	}
	for _, s := range resp.Sections {
		exam.Sections = append(exam.Sections, session.Section{
			Name:          s.Name,
			QuestionCount: s.QuestionCount,
			PerQuestion:   time.Duration(s.PerQuestionSec) * time.Second,
		})
	}
	if err := exam.Validate(); err != nil {
		return nil, nil, fmt.Errorf("examsvc: start test: %w", err)
	}
	return exam, toQuestion(resp.FirstQuestion), nil
}

// SubmitAnswer sends one answer or skip and returns the service's verdict.
func (c *Client) SubmitAnswer(ctx context.Context, sub session.Submission) (*session.SubmitOutcome, error) {
	req := submitAnswerRequest{
		Number:       sub.Number,
		Answer:       sub.Answer,
		Skipped:      sub.Skipped,
		TimeTakenSec: int(sub.TimeTaken / time.Second),
		Final:        sub.Final,
		Answers:      sub.Answers,
	}
	body, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/v1/attempts/%s/answers", sub.AttemptID), req)
	if err != nil {
		return nil, err
	}

	var resp submitAnswerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("examsvc: submit answer: %w", err)
	}

	out := &session.SubmitOutcome{
		Completed: resp.Completed,
		Next:      toQuestion(resp.Next),
	}
	if resp.Results != nil {
		out.Results = &session.Results{Summary: resp.Results.Summary}
	}
	return out, nil
}

// GetResults fetches the attempt's results directly. Used as the fallback
// when the final submission did not carry a completion signal.
func (c *Client) GetResults(ctx context.Context, attemptID string) (*session.Results, error) {
	body, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/v1/attempts/%s/results", attemptID), nil)
	if err != nil {
		return nil, err
	}

	var resp wireResults
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("examsvc: get results: %w", err)
	}
	return &session.Results{Summary: resp.Summary, Raw: body}, nil
}

// do performs one request and returns the raw response body.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("examsvc: encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("examsvc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("examsvc: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("examsvc: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrAttemptNotFound
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusGone:
		return nil, ErrAttemptClosed
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("examsvc: %s %s: status %d", method, path, resp.StatusCode)
	}
	return body, nil
}

func toQuestion(w *wireQuestion) *session.Question {
	if w == nil {
		return nil
	}
	return &session.Question{
		Number:         w.Number,
		Section:        w.Section,
		Body:           w.Body,
		Options:        w.Options,
		MultipleChoice: w.MultipleChoice,
		Budget:         time.Duration(w.BudgetSec) * time.Second,
	}
}
