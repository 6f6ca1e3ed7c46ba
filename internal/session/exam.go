// Package session implements the timed, multi-section exam navigation
// state machine.
//
// The controller owns the question cache, the answer record, and both
// timers. It is independent of proctoring: the integrity ledger only
// touches it through the termination interrupt.
package session

import (
	"errors"
	"fmt"
	"time"
)

// Section is a contiguous block of questions sharing a per-question time
// budget.
type Section struct {
	Name          string
	QuestionCount int
	PerQuestion   time.Duration
}

// Exam is the immutable structure of one exam attempt.
type Exam struct {
	AttemptID      string
	TotalQuestions int
	Sections       []Section
	TotalBudget    time.Duration
	StartedAt      time.Time
}

// Validate checks that the section layout covers the question range.
func (e *Exam) Validate() error {
	if e.TotalQuestions < 1 {
		return fmt.Errorf("session: exam has %d questions", e.TotalQuestions)
	}
	total := 0
	for _, s := range e.Sections {
		if s.QuestionCount < 1 {
			return fmt.Errorf("session: section %q has %d questions", s.Name, s.QuestionCount)
		}
		if s.PerQuestion <= 0 {
			return fmt.Errorf("session: section %q has no time budget", s.Name)
		}
		total += s.QuestionCount
	}
	if total != e.TotalQuestions {
		return fmt.Errorf("session: sections cover %d questions, exam has %d", total, e.TotalQuestions)
	}
	return nil
}

// ErrQuestionOutOfRange is returned for question numbers outside
// [1, TotalQuestions].
var ErrQuestionOutOfRange = errors.New("session: question number out of range")

// SectionFor returns the section containing the given question number.
func (e *Exam) SectionFor(number int) (Section, error) {
	if number < 1 || number > e.TotalQuestions {
		return Section{}, ErrQuestionOutOfRange
	}
	remaining := number
	for _, s := range e.Sections {
		if remaining <= s.QuestionCount {
			return s, nil
		}
		remaining -= s.QuestionCount
	}
	return Section{}, ErrQuestionOutOfRange
}

// Question is one exam question, fetched lazily from the remote service.
type Question struct {
	Number         int
	Section        string
	Body           string
	Options        []string
	MultipleChoice bool
	Budget         time.Duration
}

// Results is what the candidate sees after final submission.
type Results struct {
	// Pending means neither the completion signal nor a direct fetch
	// produced results; the summary is a deterministic placeholder.
	Pending bool
	Summary string
	Raw     []byte
}
