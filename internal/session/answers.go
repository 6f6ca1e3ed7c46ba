package session

import "sync"

// AnswerSet holds the candidate's answers and the skip set. A skipped
// question has no answer entry: for review purposes "skipped" and
// "answered" are distinct states.
type AnswerSet struct {
	mu      sync.RWMutex
	answers map[int]string
	skipped map[int]bool
}

// NewAnswerSet creates an empty answer set.
func NewAnswerSet() *AnswerSet {
	return &AnswerSet{
		answers: make(map[int]string),
		skipped: make(map[int]bool),
	}
}

// Record stores an answer for a question and clears any skip mark.
func (a *AnswerSet) Record(number int, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answers[number] = value
	delete(a.skipped, number)
}

// Skip marks a question skipped. It does not create an answer entry.
func (a *AnswerSet) Skip(number int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, answered := a.answers[number]; !answered {
		a.skipped[number] = true
	}
}

// Answer returns the recorded answer for a question, if any.
func (a *AnswerSet) Answer(number int) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.answers[number]
	return v, ok
}

// Skipped reports whether a question is marked skipped.
func (a *AnswerSet) Skipped(number int) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.skipped[number]
}

// Answers returns a copy of the answer map for the submission payload.
func (a *AnswerSet) Answers() map[int]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[int]string, len(a.answers))
	for k, v := range a.answers {
		out[k] = v
	}
	return out
}

// SkipSet returns a copy of the skip set.
func (a *AnswerSet) SkipSet() map[int]bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[int]bool, len(a.skipped))
	for k := range a.skipped {
		out[k] = true
	}
	return out
}
