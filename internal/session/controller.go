package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the controller's lifecycle state.
type State int

const (
	// StateIdle is the state before Start.
	StateIdle State = iota
	// StateAnswering means a question is live and its timer is running.
	StateAnswering
	// StateSectionBreak pauses timers at a section boundary until the
	// candidate acknowledges continuation.
	StateSectionBreak
	// StateSubmitting means the final submission is in flight.
	StateSubmitting
	// StateCompleted is terminal: the exam was submitted.
	StateCompleted
	// StateTerminated is terminal: the integrity ledger ended the attempt.
	StateTerminated
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAnswering:
		return "answering"
	case StateSectionBreak:
		return "section-break"
	case StateSubmitting:
		return "submitting"
	case StateCompleted:
		return "completed"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is one of the two terminal states.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateTerminated
}

// Submission is one answer (or skip) sent to the remote exam service.
type Submission struct {
	AttemptID string
	Number    int
	Answer    *string
	Skipped   bool
	TimeTaken time.Duration

	// Final marks the last submission of the attempt. Answers then carries
	// the full answer snapshot so backward-navigation edits are included.
	Final   bool
	Answers map[int]string
}

// SubmitOutcome is the remote service's response to a submission.
type SubmitOutcome struct {
	Completed bool
	Next      *Question
	Results   *Results
}

// Service is the narrow contract the controller needs from the remote exam
// service.
type Service interface {
	SubmitAnswer(ctx context.Context, sub Submission) (*SubmitOutcome, error)
	GetResults(ctx context.Context, attemptID string) (*Results, error)
}

// Update is emitted to subscribers on every state or question change.
type Update struct {
	State          State
	QuestionNumber int
	AutoSkipped    bool
}

// Config controls controller behavior.
type Config struct {
	// ProcessingPlaceholder is the results summary used when neither the
	// completion signal nor a direct fetch succeeds.
	ProcessingPlaceholder string
}

// Controller errors.
var (
	ErrNotAnswering   = errors.New("session: no question is live in this state")
	ErrNoSectionBreak = errors.New("session: no section break to acknowledge")
	ErrEnded          = errors.New("session: the attempt has ended")
)

// Controller runs the question/answer/timer state machine for one attempt.
type Controller struct {
	mu sync.Mutex

	cfg     Config
	exam    *Exam
	svc     Service
	log     *slog.Logger
	cache   *Cache
	answers *AnswerSet

	ctx   context.Context
	state State
	cur   int

	// pendingNext holds the target question during a section break.
	pendingNext int

	// navToken invalidates in-flight navigation when it changes.
	navToken int

	questionStarted time.Time
	qDeadline       time.Time
	qTimer          *time.Timer

	// timerGen identifies the live question timer. Every start, resume, and
	// stop bumps it, so an expiry callback that fired for an earlier timer
	// is recognized as stale under the lock and dropped.
	timerGen int

	totalBase    time.Duration
	totalSince   time.Time
	totalRunning bool

	results           *Results
	terminationReason string

	updates chan Update
}

// NewController creates a controller. It does nothing until Start.
func NewController(cfg Config, exam *Exam, svc Service, log *slog.Logger) (*Controller, error) {
	if err := exam.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		cfg:     cfg,
		exam:    exam,
		svc:     svc,
		log:     log,
		cache:   NewCache(),
		answers: NewAnswerSet(),
		state:   StateIdle,
		updates: make(chan Update, 32),
	}, nil
}

// Start begins the attempt at the given first question.
func (c *Controller) Start(ctx context.Context, first *Question) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return fmt.Errorf("session: already started in state %s", c.state)
	}
	if first == nil || first.Number != 1 {
		return errors.New("session: attempt must start at question 1")
	}

	c.ctx = ctx
	c.cache.Put(first)
	c.cur = 1
	c.state = StateAnswering
	c.totalSince = time.Now()
	c.totalRunning = true
	c.startQuestionTimerLocked(1)
	c.emitLocked(Update{State: c.state, QuestionNumber: c.cur})
	return nil
}

// Updates returns the state-change stream. Sends never block.
func (c *Controller) Updates() <-chan Update { return c.updates }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the live question.
func (c *Controller) Current() (*Question, error) {
	c.mu.Lock()
	number := c.cur
	c.mu.Unlock()
	return c.cache.Get(number)
}

// Answers exposes the answer record.
func (c *Controller) Answers() *AnswerSet { return c.answers }

// Cache exposes the question cache.
func (c *Controller) Cache() *Cache { return c.cache }

// Results returns the final results once the controller is Completed.
func (c *Controller) Results() *Results {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results
}

// TerminationReason returns why the attempt was terminated, if it was.
func (c *Controller) TerminationReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminationReason
}

// Elapsed returns total attempt time. It counts up from Start, pauses
// during section breaks, and freezes on the terminal states.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.totalRunning {
		return c.totalBase + time.Since(c.totalSince)
	}
	return c.totalBase
}

// Remaining returns time left on the live question's timer.
func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAnswering {
		return 0
	}
	remaining := time.Until(c.qDeadline)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Next records an answer for the live question and advances.
func (c *Controller) Next(answer string) error {
	return c.advance(&answer, false, false, 0)
}

// Skip marks the live question skipped and advances without an answer.
func (c *Controller) Skip() error {
	return c.advance(nil, true, false, 0)
}

// Previous moves back one question.
func (c *Controller) Previous() error {
	c.mu.Lock()
	target := c.cur - 1
	c.mu.Unlock()
	return c.GoTo(target)
}

// GoTo navigates to a previously visited question. This is a pure cache
// read: a question that was never fetched is a user-visible error, never a
// fetch. Moving around must not reveal new content.
func (c *Controller) GoTo(number int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Terminal() {
		return ErrEnded
	}
	if c.state != StateAnswering {
		return ErrNotAnswering
	}
	if number < 1 || number > c.exam.TotalQuestions {
		return ErrQuestionOutOfRange
	}
	if number == c.cur {
		return nil
	}
	if !c.cache.Has(number) {
		return ErrNotCached
	}

	c.stopQuestionTimerLocked()
	c.cur = number
	c.startQuestionTimerLocked(number)
	c.emitLocked(Update{State: c.state, QuestionNumber: c.cur})
	return nil
}

// AcknowledgeSection resumes the attempt after a section boundary.
func (c *Controller) AcknowledgeSection() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateSectionBreak {
		return ErrNoSectionBreak
	}

	c.cur = c.pendingNext
	c.pendingNext = 0
	c.state = StateAnswering
	c.resumeTotalLocked()
	c.startQuestionTimerLocked(c.cur)
	c.emitLocked(Update{State: c.state, QuestionNumber: c.cur})
	return nil
}

// Finish submits the attempt from the current question by explicit
// candidate action, recording the given answer first if present.
func (c *Controller) Finish(answer *string) error {
	return c.advanceFinal(answer, answer == nil)
}

// Terminate short-circuits the controller into the Terminated state from
// anywhere: timers freeze, in-flight navigation is discarded, and no
// further submission is possible.
func (c *Controller) Terminate(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Terminal() {
		return
	}

	c.stopQuestionTimerLocked()
	c.pauseTotalLocked()
	c.navToken++
	c.state = StateTerminated
	c.terminationReason = reason
	c.emitLocked(Update{State: c.state, QuestionNumber: c.cur})
	c.log.Warn("attempt terminated", "reason", reason)
}

// autoSkip is the per-question timer expiry path. It is deliberately the
// same transition as an explicit skip: inattention must not block progress
// or behave differently from a manual skip. gen names the timer that
// fired; advance drops the expiry if that timer is no longer live.
func (c *Controller) autoSkip(gen, number int) {
	if err := c.advance(nil, true, true, gen); err != nil {
		c.log.Warn("auto-skip failed", "question", number, "error", err)
	}
}

// advance records the live question's outcome and moves forward. gen
// matters only on the expiry path: it is checked against the live timer
// generation under the same lock as the mutation, so an expiry racing a
// manual advance can never skip the question that was just entered.
func (c *Controller) advance(answer *string, skipped, auto bool, gen int) error {
	c.mu.Lock()

	if auto && (c.state != StateAnswering || gen != c.timerGen) {
		// The candidate moved on before this expiry got the lock.
		c.mu.Unlock()
		return nil
	}
	if c.state.Terminal() {
		c.mu.Unlock()
		return ErrEnded
	}
	if c.state != StateAnswering {
		c.mu.Unlock()
		return ErrNotAnswering
	}

	number := c.cur
	timeTaken := time.Since(c.questionStarted)
	c.stopQuestionTimerLocked()
	c.recordLocked(number, answer)

	if number >= c.exam.TotalQuestions {
		return c.finalizeLocked(answer, skipped, number, timeTaken)
	}

	// Returning forward over ground already covered is a pure cache read.
	if next, err := c.cache.Get(number + 1); err == nil {
		c.enterLocked(number, next, auto)
		c.mu.Unlock()
		return nil
	}

	c.navToken++
	token := c.navToken
	sub := Submission{
		AttemptID: c.exam.AttemptID,
		Number:    number,
		Answer:    answer,
		Skipped:   skipped,
		TimeTaken: timeTaken,
	}
	ctx := c.ctx
	c.mu.Unlock()

	out, err := c.svc.SubmitAnswer(ctx, sub)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAnswering || token != c.navToken {
		// Terminated or superseded while in flight: discard.
		return nil
	}
	if err != nil {
		// Recoverable: the candidate may retry. Resume the question timer
		// where it left off.
		c.resumeQuestionTimerLocked(number)
		return fmt.Errorf("session: submit answer %d: %w", number, err)
	}
	if out == nil {
		// A service returning neither outcome nor error is treated like a
		// failed call: recoverable, the candidate may retry.
		c.resumeQuestionTimerLocked(number)
		return fmt.Errorf("session: submit answer %d: service returned no outcome", number)
	}
	if out.Completed {
		// The service may close the attempt early (e.g. adaptive exams).
		c.completeLocked(out.Results)
		return nil
	}
	if out.Next == nil {
		c.resumeQuestionTimerLocked(number)
		return fmt.Errorf("session: service returned no next question after %d", number)
	}

	c.applyBudget(out.Next)
	c.cache.Put(out.Next)
	c.enterLocked(number, out.Next, auto)
	return nil
}

// advanceFinal drives the explicit-finish path through the same recording
// logic as advance on the last question.
func (c *Controller) advanceFinal(answer *string, skipped bool) error {
	c.mu.Lock()

	if c.state.Terminal() {
		c.mu.Unlock()
		return ErrEnded
	}
	if c.state != StateAnswering {
		c.mu.Unlock()
		return ErrNotAnswering
	}

	number := c.cur
	timeTaken := time.Since(c.questionStarted)
	c.stopQuestionTimerLocked()
	c.recordLocked(number, answer)
	return c.finalizeLocked(answer, skipped, number, timeTaken)
}

// finalizeLocked runs final submission with its fallback chain. Called
// with the lock held; releases it.
func (c *Controller) finalizeLocked(answer *string, skipped bool, number int, timeTaken time.Duration) error {
	c.state = StateSubmitting
	c.pauseTotalLocked()
	c.navToken++
	token := c.navToken
	sub := Submission{
		AttemptID: c.exam.AttemptID,
		Number:    number,
		Answer:    answer,
		Skipped:   skipped,
		TimeTaken: timeTaken,
		Final:     true,
		Answers:   c.answers.Answers(),
	}
	ctx := c.ctx
	c.emitLocked(Update{State: c.state, QuestionNumber: number})
	c.mu.Unlock()

	out, err := c.svc.SubmitAnswer(ctx, sub)

	c.mu.Lock()
	if c.state == StateTerminated || token != c.navToken {
		c.mu.Unlock()
		return nil
	}
	if err == nil && out != nil && out.Completed {
		c.completeLocked(out.Results)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	// No completion signal: fall back to fetching results directly.
	results, rerr := c.svc.GetResults(ctx, c.exam.AttemptID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateTerminated || token != c.navToken {
		return nil
	}
	if rerr == nil && results != nil {
		c.completeLocked(results)
		return nil
	}

	// Last resort: a deterministic placeholder instead of blocking.
	c.completeLocked(&Results{Pending: true, Summary: c.cfg.ProcessingPlaceholder})
	return nil
}

// recordLocked applies an answer or skip to the answer record.
func (c *Controller) recordLocked(number int, answer *string) {
	if answer != nil {
		c.answers.Record(number, *answer)
	} else {
		c.answers.Skip(number)
	}
}

// enterLocked moves to the next question or into a section break when the
// section changes.
func (c *Controller) enterLocked(from int, next *Question, auto bool) {
	fromSection, _ := c.exam.SectionFor(from)
	if next.Section != "" && next.Section != fromSection.Name {
		c.pendingNext = next.Number
		c.state = StateSectionBreak
		c.pauseTotalLocked()
		c.emitLocked(Update{State: c.state, QuestionNumber: next.Number, AutoSkipped: auto})
		return
	}

	c.cur = next.Number
	c.startQuestionTimerLocked(next.Number)
	c.emitLocked(Update{State: c.state, QuestionNumber: c.cur, AutoSkipped: auto})
}

// completeLocked enters the Completed terminal state.
func (c *Controller) completeLocked(results *Results) {
	c.state = StateCompleted
	c.results = results
	c.pauseTotalLocked()
	c.emitLocked(Update{State: c.state, QuestionNumber: c.cur})
	c.log.Info("attempt completed", "pending_results", results == nil || results.Pending)
}

// budgetFor returns a question's time budget from its section.
func (c *Controller) budgetFor(number int) time.Duration {
	if q, err := c.cache.Get(number); err == nil && q.Budget > 0 {
		return q.Budget
	}
	section, err := c.exam.SectionFor(number)
	if err != nil {
		return time.Minute
	}
	return section.PerQuestion
}

// applyBudget fills a fetched question's budget from its section when the
// service did not set one.
func (c *Controller) applyBudget(q *Question) {
	if q.Budget > 0 {
		return
	}
	if section, err := c.exam.SectionFor(q.Number); err == nil {
		q.Budget = section.PerQuestion
	}
}

func (c *Controller) startQuestionTimerLocked(number int) {
	budget := c.budgetFor(number)
	c.questionStarted = time.Now()
	c.qDeadline = c.questionStarted.Add(budget)
	c.timerGen++
	gen := c.timerGen
	c.qTimer = time.AfterFunc(budget, func() { c.autoSkip(gen, number) })
}

// resumeQuestionTimerLocked restarts the timer against the original
// deadline after a failed submission. An already-passed deadline gets a
// short grace so the candidate can retry instead of looping auto-skips.
func (c *Controller) resumeQuestionTimerLocked(number int) {
	remaining := time.Until(c.qDeadline)
	if remaining <= 0 {
		remaining = time.Second
		c.qDeadline = time.Now().Add(remaining)
	}
	c.timerGen++
	gen := c.timerGen
	c.qTimer = time.AfterFunc(remaining, func() { c.autoSkip(gen, number) })
}

func (c *Controller) stopQuestionTimerLocked() {
	c.timerGen++
	if c.qTimer != nil {
		c.qTimer.Stop()
		c.qTimer = nil
	}
}

func (c *Controller) pauseTotalLocked() {
	if c.totalRunning {
		c.totalBase += time.Since(c.totalSince)
		c.totalRunning = false
	}
}

func (c *Controller) resumeTotalLocked() {
	if !c.totalRunning {
		c.totalSince = time.Now()
		c.totalRunning = true
	}
}

func (c *Controller) emitLocked(u Update) {
	select {
	case c.updates <- u:
	default:
	}
}
