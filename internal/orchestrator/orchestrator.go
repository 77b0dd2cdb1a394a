// Package orchestrator coordinates one interview session's lifecycle:
// it validates requested events against the state machine, runs the
// domain side effects (question selection, feedback generation,
// adaptation decisions) atomically with the state transition, and
// commits the session back to the store before answering the caller.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/adapt"
	"github.com/parleyhq/parley/internal/fsm"
	"github.com/parleyhq/parley/internal/interview"
)

// Errors surfaced to the boundary layer. ErrInvalidTransition lives in
// the fsm package; questions.ErrNoMoreQuestions is treated as an
// internal invariant violation and logged loud when it escapes.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrCannotResume    = errors.New("session cannot be resumed")
	ErrNotCompleted    = errors.New("interview not completed")
)

// Per-question time budget used for the estimated total duration
// reported when an interview starts.
const perQuestionBudgetMs = 240_000

// processingEstimateMs is the wait estimate reported after an answer is
// submitted. The current pipeline is synchronous, so this is only a hint
// for clients that animate a processing screen.
const processingEstimateMs = 2_000

// SessionStore is the keyed session storage the orchestrator commits to.
// Implemented by store.Memory.
type SessionStore interface {
	Create(s *interview.Session)
	Save(s *interview.Session)
	GetByID(id string) *interview.Session
	GetActiveByUserID(userID string) *interview.Session
	UpdateHeartbeat(id string, at time.Time) bool
}

// QuestionProvider returns questions by ordinal from a fixed bank.
type QuestionProvider interface {
	Get(ordinal int) (interview.Question, error)
	Total() int
}

// FeedbackGenerator scores one answer into a feedback record.
type FeedbackGenerator interface {
	Generate(ctx context.Context, ans interview.Answer) (interview.Feedback, error)
}

// Adapter decides the next macro-action after an answer is processed.
type Adapter interface {
	Decide(questionOrdinal, totalQuestions int, lastFeedback *interview.Feedback) adapt.Decision
}

// RefinementQueue schedules deferred feedback refinement and reports
// outstanding work per session. Optional; a nil queue disables
// refinement entirely.
type RefinementQueue interface {
	EnqueueRefinement(sessionID, answerID string, durationMs int64) error
	PendingRefinements(sessionID string) (int, error)
}

// CompletionSink receives the summary of every completed interview, for
// archival and profile aggregation. Optional; invoked after the
// completing transition has committed, and failures are logged rather
// than unwinding the completed session.
type CompletionSink interface {
	InterviewCompleted(sum Summary) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Orchestrator is the single entry point for session mutations.
type Orchestrator struct {
	store     SessionStore
	questions QuestionProvider
	feedback  FeedbackGenerator
	adapter   Adapter
	refine    RefinementQueue
	sink      CompletionSink
	clock     Clock
	logger    *slog.Logger

	locks sessionLocks
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

// WithRefinementQueue enables deferred feedback refinement.
func WithRefinementQueue(q RefinementQueue) Option {
	return func(o *Orchestrator) { o.refine = q }
}

// WithCompletionSink registers the archival hook.
func WithCompletionSink(s CompletionSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithClock overrides the time source (for testing).
func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// New wires an orchestrator over its collaborators.
func New(store SessionStore, questions QuestionProvider, gen FeedbackGenerator, adapter Adapter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		questions: questions,
		feedback:  gen,
		adapter:   adapter,
		clock:     realClock{},
		logger:    slog.Default(),
	}
	o.locks.m = make(map[string]*sync.Mutex)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// sessionLocks hands out one mutex per session id. Dispatches on the
// same session serialize; disjoint sessions proceed concurrently.
type sessionLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *sessionLocks) get(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.m[id]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.m[id] = m
	return m
}

// Screen is the presentation tag derived 1:1 from the session state.
type Screen string

const (
	ScreenIntro         Screen = "intro"
	ScreenQuestion      Screen = "question"
	ScreenRecording     Screen = "recording"
	ScreenProcessing    Screen = "processing"
	ScreenMicroFeedback Screen = "micro_feedback"
	ScreenCheckpoint    Screen = "checkpoint"
	ScreenPaused        Screen = "paused"
	ScreenSummary       Screen = "summary"
	ScreenError         Screen = "error"
)

// screenFor maps a state to its screen. ERROR and any state outside the
// table both land on the error screen.
func screenFor(state fsm.State) Screen {
	switch state {
	case fsm.StateIntro:
		return ScreenIntro
	case fsm.StateQuestion:
		return ScreenQuestion
	case fsm.StateRecording:
		return ScreenRecording
	case fsm.StateProcessing:
		return ScreenProcessing
	case fsm.StateMicroFeedback:
		return ScreenMicroFeedback
	case fsm.StateCheckpoint:
		return ScreenCheckpoint
	case fsm.StatePaused:
		return ScreenPaused
	case fsm.StateCompleted:
		return ScreenSummary
	default:
		return ScreenError
	}
}
