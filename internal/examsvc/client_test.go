package examsvc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examd/internal/ledger"
	"examd/internal/session"
)

const validStartBody = `{
	"attempt_id": "attempt-9",
	"total_questions": 4,
	"sections": [
		{"name": "reading", "question_count": 2, "per_question_sec": 90},
		{"name": "math", "question_count": 2, "per_question_sec": 120}
	],
	"total_budget_sec": 420,
	"first_question": {
		"number": 1,
		"section": "reading",
		"body": "What is the capital of France?",
		"options": ["Paris", "Lyon"],
		"budget_sec": 90
	}
}`

func TestStartTestParsesExamStructure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/attempts/attempt-9/start", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(validStartBody))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "tok"}, nil)
	exam, first, err := c.StartTest(context.Background(), "attempt-9")
	require.NoError(t, err)

	assert.Equal(t, "attempt-9", exam.AttemptID)
	assert.Equal(t, 4, exam.TotalQuestions)
	require.Len(t, exam.Sections, 2)
	assert.Equal(t, 90*time.Second, exam.Sections[0].PerQuestion)
	assert.Equal(t, 7*time.Minute, exam.TotalBudget)

	require.NotNil(t, first)
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, "reading", first.Section)
	assert.Equal(t, 90*time.Second, first.Budget)
}

func TestStartTestRejectsMalformedResponse(t *testing.T) {
	cases := map[string]string{
		"missing sections":   `{"attempt_id": "a", "total_questions": 2, "first_question": {"number": 1, "body": "q"}}`,
		"zero budget":        `{"attempt_id": "a", "total_questions": 1, "sections": [{"name": "s", "question_count": 1, "per_question_sec": 0}], "first_question": {"number": 1, "body": "q"}}`,
		"wrong first number": `{"attempt_id": "a", "total_questions": 1, "sections": [{"name": "s", "question_count": 1, "per_question_sec": 60}], "first_question": {"number": 3, "body": "q"}}`,
		"not json":           `<html>maintenance</html>`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()

			c := NewClient(Config{BaseURL: srv.URL}, nil)
			_, _, err := c.StartTest(context.Background(), "a")
			assert.Error(t, err)
		})
	}
}

func TestSubmitAnswerRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/attempts/attempt-9/answers", r.URL.Path)

		var req submitAnswerRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 2, req.Number)
		require.NotNil(t, req.Answer)
		assert.Equal(t, "B", *req.Answer)
		assert.False(t, req.Skipped)

		json.NewEncoder(w).Encode(submitAnswerResponse{
			Next: &wireQuestion{Number: 3, Section: "math", Body: "next", BudgetSec: 120},
		})
	}))
	defer srv.Close()

	answer := "B"
	c := NewClient(Config{BaseURL: srv.URL}, nil)
	out, err := c.SubmitAnswer(context.Background(), session.Submission{
		AttemptID: "attempt-9",
		Number:    2,
		Answer:    &answer,
		TimeTaken: 42 * time.Second,
	})
	require.NoError(t, err)

	assert.False(t, out.Completed)
	require.NotNil(t, out.Next)
	assert.Equal(t, 3, out.Next.Number)
	assert.Equal(t, 2*time.Minute, out.Next.Budget)
}

func TestSubmitAnswerFinalCarriesSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req submitAnswerRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Final)
		assert.Equal(t, map[int]string{1: "A", 2: "B"}, req.Answers)

		json.NewEncoder(w).Encode(submitAnswerResponse{
			Completed: true,
			Results:   &wireResults{Summary: "3/4 correct"},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	out, err := c.SubmitAnswer(context.Background(), session.Submission{
		AttemptID: "attempt-9",
		Number:    2,
		Skipped:   true,
		Final:     true,
		Answers:   map[int]string{1: "A", 2: "B"},
	})
	require.NoError(t, err)

	assert.True(t, out.Completed)
	require.NotNil(t, out.Results)
	assert.Equal(t, "3/4 correct", out.Results.Summary)
}

func TestStatusCodesMapToTypedErrors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrAttemptNotFound},
		{http.StatusConflict, ErrAttemptClosed},
		{http.StatusGone, ErrAttemptClosed},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		c := NewClient(Config{BaseURL: srv.URL}, nil)
		_, err := c.GetResults(context.Background(), "gone")
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
		srv.Close()
	}
}

func TestGetResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/attempts/attempt-9/results", r.URL.Path)
		json.NewEncoder(w).Encode(wireResults{Summary: "scored"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	results, err := c.GetResults(context.Background(), "attempt-9")
	require.NoError(t, err)
	assert.Equal(t, "scored", results.Summary)
	assert.False(t, results.Pending)
}

func TestSinkReportsAcceptedWarning(t *testing.T) {
	got := make(chan warningReport, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/attempts/attempt-9/warnings", r.URL.Path)
		var report warningReport
		require.NoError(t, json.NewDecoder(r.Body).Decode(&report))
		got <- report
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewSink(SinkConfig{BaseURL: srv.URL}, "attempt-9", nil)
	sink.Report(ledger.Notification{
		Event: ledger.NewEvent(ledger.KindTabSwitch, ledger.SeverityHigh, ""),
		Count: 2,
		Limit: 3,
	})

	select {
	case report := <-got:
		assert.Equal(t, "tab-switch", report.Kind)
		assert.Equal(t, "high", report.Severity)
		assert.Equal(t, 2, report.Count)
	case <-time.After(time.Second):
		t.Fatal("report never arrived")
	}
}

func TestSinkSwallowsServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewSink(SinkConfig{BaseURL: srv.URL}, "attempt-9", nil)

	// Must not panic or block; failures are logged and dropped.
	sink.Report(ledger.Notification{
		Event: ledger.NewEvent(ledger.KindPhone, ledger.SeverityHigh, ""),
		Count: 1,
		Limit: 3,
	})
}
