package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/adapt"
	"github.com/parleyhq/parley/internal/feedback"
	"github.com/parleyhq/parley/internal/fsm"
	"github.com/parleyhq/parley/internal/interview"
	"github.com/parleyhq/parley/internal/questions"
	"github.com/parleyhq/parley/internal/store"
)

// --- test doubles ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockGenerator struct {
	generateFn func(ctx context.Context, ans interview.Answer) (interview.Feedback, error)
}

func (m *mockGenerator) Generate(ctx context.Context, ans interview.Answer) (interview.Feedback, error) {
	return m.generateFn(ctx, ans)
}

type mockSink struct {
	mu        sync.Mutex
	summaries []Summary
	err       error
}

func (m *mockSink) InterviewCompleted(sum Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, sum)
	return m.err
}

type mockRefineQueue struct {
	mu       sync.Mutex
	enqueued []string // answer ids
	pending  int
	err      error
}

func (m *mockRefineQueue) EnqueueRefinement(sessionID, answerID string, durationMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.enqueued = append(m.enqueued, answerID)
	return nil
}

func (m *mockRefineQueue) PendingRefinements(sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending, nil
}

func testBank(t *testing.T) *questions.Bank {
	t.Helper()
	b, err := questions.DefaultBank()
	if err != nil {
		t.Fatalf("loading default bank: %v", err)
	}
	return b
}

func newTestOrchestrator(t *testing.T, opts ...Option) (*Orchestrator, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	o := New(mem, testBank(t), feedback.NewDurationHeuristic(), adapt.New(), opts...)
	return o, mem
}

// answerAndContinue submits one optimal-length answer and acknowledges
// the feedback.
func answerAndContinue(t *testing.T, o *Orchestrator, id string) Result {
	t.Helper()
	ctx := context.Background()
	if _, err := o.SubmitAnswer(ctx, id, "https://cdn.test/a.webm", 90_000); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	res, err := o.Continue(ctx, id)
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	return res
}

// --- tests ---

func TestStartInterview(t *testing.T) {
	o, mem := newTestOrchestrator(t)

	res, err := o.StartInterview(context.Background(), "u1", "backend")
	if err != nil {
		t.Fatalf("StartInterview: %v", err)
	}

	if res.State != fsm.StateQuestion {
		t.Errorf("state = %s, want QUESTION", res.State)
	}
	if res.CurrentQuestion == nil || res.CurrentQuestion.ID != "q1" {
		t.Errorf("current question = %+v, want q1", res.CurrentQuestion)
	}
	if res.TotalQuestions != 10 {
		t.Errorf("total = %d, want 10", res.TotalQuestions)
	}
	if want := int64(10) * perQuestionBudgetMs; res.EstimatedDurationMs != want {
		t.Errorf("estimated duration = %d, want %d", res.EstimatedDurationMs, want)
	}

	if s := mem.GetActiveByUserID("u1"); s == nil || s.ID != res.ID {
		t.Error("started session is not the user's active session")
	}
}

func TestGetActiveInterview(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	if got := o.GetActiveInterview("nobody"); got != nil {
		t.Fatalf("expected nil for user with no session, got %+v", got)
	}

	started, err := o.StartInterview(context.Background(), "u1", "backend")
	if err != nil {
		t.Fatal(err)
	}

	got := o.GetActiveInterview("u1")
	if got == nil {
		t.Fatal("expected active interview")
	}
	if !got.CanResume {
		t.Error("fresh session should be resumable")
	}
	if got.Interview.ID != started.ID || got.Interview.State != fsm.StateQuestion {
		t.Errorf("snapshot = %+v", got.Interview)
	}
}

func TestSubmitAnswerOptimalDuration(t *testing.T) {
	o, mem := newTestOrchestrator(t)
	ctx := context.Background()

	started, err := o.StartInterview(ctx, "u1", "backend")
	if err != nil {
		t.Fatal(err)
	}

	res, err := o.SubmitAnswer(ctx, started.ID, "https://cdn.test/a.webm", 90_000)
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if res.AnswerID == "" {
		t.Error("missing answer id")
	}
	if res.PartialFeedback == nil || res.PartialFeedback.Score != 4 {
		t.Errorf("partial feedback = %+v, want score 4", res.PartialFeedback)
	}
	if !res.PartialFeedback.Partial {
		t.Error("heuristic feedback should be partial")
	}

	s := mem.GetByID(started.ID)
	if s.State != fsm.StateMicroFeedback {
		t.Errorf("state = %s, want MICRO_FEEDBACK", s.State)
	}
	if len(s.Answers) != 1 {
		t.Fatalf("answers = %d, want 1", len(s.Answers))
	}
	if s.Answers[0].Status != interview.AnswerCompleted {
		t.Errorf("answer status = %s, want COMPLETED", s.Answers[0].Status)
	}
	if s.Answers[0].QuestionID != "q1" {
		t.Errorf("answer question = %s, want q1", s.Answers[0].QuestionID)
	}
	if s.PendingDecision != interview.DecisionAdvance {
		t.Errorf("pending decision = %s, want ADVANCE", s.PendingDecision)
	}
	if s.ConfidenceTrend != 0.1 {
		t.Errorf("confidence trend = %v, want 0.1", s.ConfidenceTrend)
	}
}

func TestContinueAdvancesToNextQuestion(t *testing.T) {
	o, mem := newTestOrchestrator(t)
	ctx := context.Background()

	started, err := o.StartInterview(ctx, "u1", "backend")
	if err != nil {
		t.Fatal(err)
	}

	res := answerAndContinue(t, o, started.ID)
	if res.State != fsm.StateQuestion {
		t.Errorf("state = %s, want QUESTION", res.State)
	}
	if res.Payload.Question == nil || res.Payload.Question.ID != "q2" {
		t.Errorf("next question = %+v, want q2", res.Payload.Question)
	}

	s := mem.GetByID(started.ID)
	if s.CurrentQuestionIndex != 1 {
		t.Errorf("ordinal = %d, want 1", s.CurrentQuestionIndex)
	}
	if len(s.AskedQuestionIDs) != 1 || s.AskedQuestionIDs[0] != "q1" {
		t.Errorf("asked = %v, want [q1]", s.AskedQuestionIDs)
	}
	if s.PendingDecision != interview.DecisionNone {
		t.Error("pending decision must be consumed by FEEDBACK_ACK")
	}

	ctxRes, err := o.Continue(ctx, started.ID)
	if !errors.Is(err, fsm.ErrInvalidTransition) {
		t.Errorf("Continue from QUESTION: want ErrInvalidTransition, got %v (%+v)", err, ctxRes)
	}
}

func TestCheckpointAfterFifthAnswer(t *testing.T) {
	o, mem := newTestOrchestrator(t)
	ctx := context.Background()

	started, err := o.StartInterview(ctx, "u1", "backend")
	if err != nil {
		t.Fatal(err)
	}

	var res Result
	for i := 0; i < 5; i++ {
		res = answerAndContinue(t, o, started.ID)
	}

	if res.State != fsm.StateCheckpoint {
		t.Fatalf("state after 5th continue = %s, want CHECKPOINT", res.State)
	}
	cp := res.Payload.Checkpoint
	if cp == nil {
		t.Fatal("missing checkpoint payload")
	}
	if cp.AtOrdinal != 4 {
		t.Errorf("checkpoint ordinal = %d, want 4", cp.AtOrdinal)
	}
	if cp.AggregateScore != 4 {
		t.Errorf("aggregate = %v, want 4 (all optimal answers)", cp.AggregateScore)
	}
	if len(cp.Breakdown) == 0 {
		t.Error("missing category breakdown")
	}

	// Acknowledge the checkpoint: advance to question 6.
	ack, err := o.Continue(ctx, started.ID)
	if err != nil {
		t.Fatalf("Continue from CHECKPOINT: %v", err)
	}
	if ack.State != fsm.StateQuestion {
		t.Errorf("state = %s, want QUESTION", ack.State)
	}
	if ack.Payload.Question == nil || ack.Payload.Question.ID != "q6" {
		t.Errorf("question = %+v, want q6", ack.Payload.Question)
	}

	s := mem.GetByID(started.ID)
	if s.CurrentQuestionIndex != 5 {
		t.Errorf("ordinal = %d, want 5", s.CurrentQuestionIndex)
	}
	if len(s.Checkpoints) != 1 {
		t.Errorf("checkpoints = %d, want 1", len(s.Checkpoints))
	}
}

func TestFullInterviewCompletes(t *testing.T) {
	sink := &mockSink{}
	o, mem := newTestOrchestrator(t, WithCompletionSink(sink))
	ctx := context.Background()

	started, err := o.StartInterview(ctx, "u1", "backend")
	if err != nil {
		t.Fatal(err)
	}

	var res Result
	for i := 0; i < 10; i++ {
		res = answerAndContinue(t, o, started.ID)
		if res.State == fsm.StateCheckpoint {
			res, err = o.Continue(ctx, started.ID)
			if err != nil {
				t.Fatalf("checkpoint ack at answer %d: %v", i+1, err)
			}
		}
	}

	if res.State != fsm.StateCompleted {
		t.Fatalf("final state = %s, want COMPLETED", res.State)
	}
	if res.Screen != ScreenSummary {
		t.Errorf("screen = %s, want summary", res.Screen)
	}

	s := mem.GetByID(started.ID)
	if s.CompletedAt == nil {
		t.Error("completedAt not set on COMPLETED session")
	}
	if len(s.Answers) != 10 {
		t.Errorf("answers = %d, want 10", len(s.Answers))
	}
	if s.CurrentQuestionIndex != 9 {
		t.Errorf("ordinal = %d, want 9 (never passes the last question)", s.CurrentQuestionIndex)
	}
	if mem.GetActiveByUserID("u1") != nil {
		t.Error("completed session must leave the active index")
	}

	if len(sink.summaries) != 1 {
		t.Fatalf("sink received %d summaries, want 1", len(sink.summaries))
	}
	sum := sink.summaries[0]
	if sum.QuestionsAnswered != 10 || sum.AverageScore != 4 {
		t.Errorf("summary = %+v", sum)
	}

	got, processing, err := o.GetSummary(started.ID)
	if err != nil || processing {
		t.Fatalf("GetSummary: %v processing=%v", err, processing)
	}
	if got.SessionID != started.ID || got.Checkpoints != 1 {
		t.Errorf("summary = %+v", got)
	}
}

func TestPauseAndResume(t *testing.T) {
	o, mem := newTestOrchestrator(t)
	ctx := context.Background()

	started, err := o.StartInterview(ctx, "u1", "backend")
	if err != nil {
		t.Fatal(err)
	}

	if err := o.Pause(ctx, started.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	s := mem.GetByID(started.ID)
	if s.State != fsm.StatePaused {
		t.Fatalf("state = %s, want PAUSED", s.State)
	}
	if s.PausedFrom != fsm.StateQuestion {
		t.Errorf("pausedFrom = %s, want QUESTION", s.PausedFrom)
	}

	// A second pause without an intervening resume is illegal.
	if err := o.Pause(ctx, started.ID); !errors.Is(err, fsm.ErrInvalidTransition) {
		t.Errorf("second pause: want ErrInvalidTransition, got %v", err)
	}

	res, err := o.Resume(ctx, started.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.State != fsm.StateQuestion {
		t.Errorf("state = %s, want QUESTION", res.State)
	}
	if res.Payload.Message == "" {
		t.Error("resume should carry a welcome-back message")
	}
	if res.Payload.Question == nil || res.Payload.Question.ID != "q1" {
		t.Errorf("question = %+v, want q1", res.Payload.Question)
	}
}

// A session paused on the feedback screen resumes to the same question, so
// that question can carry two answers. The summary must attribute each
// answer's score to its own question category and count the question once.
func TestSummaryAfterPauseResumeReanswer(t *testing.T) {
	bank := questions.NewBank([]interview.Question{
		{ID: "t1", Text: "Walk through a system you designed.", Category: interview.CategoryTechnical, Difficulty: interview.DifficultyMedium, EstimatedSec: 120},
		{ID: "b1", Text: "Tell me about a disagreement with a teammate.", Category: interview.CategoryBehavioral, Difficulty: interview.DifficultyMedium, EstimatedSec: 120},
		{ID: "t2", Text: "How would you debug a memory leak?", Category: interview.CategoryTechnical, Difficulty: interview.DifficultyMedium, EstimatedSec: 120},
	})
	mem := store.NewMemory()
	o := New(mem, bank, feedback.NewDurationHeuristic(), adapt.New())
	ctx := context.Background()

	started, err := o.StartInterview(ctx, "u1", "backend")
	if err != nil {
		t.Fatal(err)
	}

	// Answer t1 well, then pause while the feedback is on screen.
	if _, err := o.SubmitAnswer(ctx, started.ID, "https://cdn.test/a1.webm", 90_000); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if err := o.Pause(ctx, started.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	res, err := o.Resume(ctx, started.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Payload.Question == nil || res.Payload.Question.ID != "t1" {
		t.Fatalf("resume question = %+v, want t1", res.Payload.Question)
	}

	// Re-answer t1, badly this time, and play out the rest.
	if _, err := o.SubmitAnswer(ctx, started.ID, "https://cdn.test/a2.webm", 10_000); err != nil {
		t.Fatalf("re-answer: %v", err)
	}
	if _, err := o.Continue(ctx, started.ID); err != nil {
		t.Fatalf("Continue: %v", err)
	}
	answerAndContinue(t, o, started.ID)
	res = answerAndContinue(t, o, started.ID)
	if res.State != fsm.StateCompleted {
		t.Fatalf("final state = %s, want COMPLETED", res.State)
	}

	if got := len(mem.GetByID(started.ID).Answers); got != 4 {
		t.Fatalf("answers = %d, want 4 (t1 answered twice)", got)
	}

	sum, processing, err := o.GetSummary(started.ID)
	if err != nil || processing {
		t.Fatalf("GetSummary: %v processing=%v", err, processing)
	}
	if sum.QuestionsAnswered != 3 {
		t.Errorf("questionsAnswered = %d, want 3", sum.QuestionsAnswered)
	}
	if sum.AverageScore != 3.5 {
		t.Errorf("averageScore = %v, want 3.5", sum.AverageScore)
	}
	// The lone behavioral answer scored 4; t1's short retake must not
	// bleed into the behavioral bucket.
	if got := sum.Breakdown[interview.CategoryBehavioral]; got != 4 {
		t.Errorf("behavioral mean = %v, want 4", got)
	}
	if got, want := sum.Breakdown[interview.CategoryTechnical], 10.0/3; math.Abs(got-want) > 1e-9 {
		t.Errorf("technical mean = %v, want %v", got, want)
	}
}

func TestResumeWithoutPauseRedraws(t *testing.T) {
	o, mem := newTestOrchestrator(t)
	ctx := context.Background()

	started, err := o.StartInterview(ctx, "u1", "backend")
	if err != nil {
		t.Fatal(err)
	}

	res, err := o.Resume(ctx, started.ID)
	if err != nil {
		t.Fatalf("Resume on QUESTION: %v", err)
	}
	if res.State != fsm.StateQuestion || res.Payload.Question == nil {
		t.Errorf("res = %+v", res)
	}
	// No transition happened.
	if s := mem.GetByID(started.ID); s.PrevState != fsm.StateIntro {
		t.Errorf("prev state = %s, want INTRO (no transition)", s.PrevState)
	}
}

func TestResumeExpiredSession(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	o, _ := newTestOrchestrator(t, WithClock(clock))
	ctx := context.Background()

	started, err := o.StartInterview(ctx, "u1", "backend")
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Pause(ctx, started.ID); err != nil {
		t.Fatal(err)
	}

	clock.advance(25 * time.Hour)
	if _, err := o.Resume(ctx, started.ID); !errors.Is(err, ErrCannotResume) {
		t.Errorf("want ErrCannotResume, got %v", err)
	}

	// Expiry also flips the active-interview resumability flag.
	if got := o.GetActiveInterview("u1"); got == nil || got.CanResume {
		t.Errorf("active = %+v, want CanResume=false", got)
	}
}

func TestResumeNonResumableState(t *testing.T) {
	o, mem := newTestOrchestrator(t)
	ctx := context.Background()

	started, err := o.StartInterview(ctx, "u1", "backend")
	if err != nil {
		t.Fatal(err)
	}

	// Drive into RECORDING, which is not resumable.
	if _, err := o.Dispatch(ctx, started.ID, fsm.EventStartRecording, nil); err != nil {
		t.Fatal(err)
	}
	if s := mem.GetByID(started.ID); s.State != fsm.StateRecording {
		t.Fatalf("setup failed, state = %s", s.State)
	}

	if _, err := o.Resume(ctx, started.ID); !errors.Is(err, ErrCannotResume) {
		t.Errorf("want ErrCannotResume, got %v", err)
	}
}

func TestDispatchUnknownSession(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	if _, err := o.Dispatch(context.Background(), "missing", fsm.EventPause, nil); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("want ErrSessionNotFound, got %v", err)
	}
}

func TestInvalidEventLeavesSessionUntouched(t *testing.T) {
	o, mem := newTestOrchestrator(t)
	ctx := context.Background()

	started, err := o.StartInterview(ctx, "u1", "backend")
	if err != nil {
		t.Fatal(err)
	}
	before := mem.GetByID(started.ID)

	_, err1 := o.Dispatch(ctx, started.ID, fsm.EventFeedbackAck, nil)
	if !errors.Is(err1, fsm.ErrInvalidTransition) {
		t.Fatalf("want ErrInvalidTransition, got %v", err1)
	}

	// Idempotent failure: repeating yields the identical error.
	_, err2 := o.Dispatch(ctx, started.ID, fsm.EventFeedbackAck, nil)
	if err2 == nil || err1.Error() != err2.Error() {
		t.Errorf("errors differ: %v vs %v", err1, err2)
	}

	after := mem.GetByID(started.ID)
	if after.State != before.State || after.CurrentQuestionIndex != before.CurrentQuestionIndex {
		t.Error("failed dispatch mutated the session")
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Error("failed dispatch touched UpdatedAt")
	}
}

func TestFeedbackFailureLeavesPriorState(t *testing.T) {
	gen := &mockGenerator{
		generateFn: func(context.Context, interview.Answer) (interview.Feedback, error) {
			return interview.Feedback{}, errors.New("scorer offline")
		},
	}
	mem := store.NewMemory()
	o := New(mem, testBank(t), gen, adapt.New())
	ctx := context.Background()

	started, err := o.StartInterview(ctx, "u1", "backend")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := o.SubmitAnswer(ctx, started.ID, "url", 90_000); err == nil {
		t.Fatal("expected error from failing generator")
	}

	// START_RECORDING committed, ANSWER_SUBMITTED did not: the session
	// sits at its last fully-applied state with no half-recorded answer.
	s := mem.GetByID(started.ID)
	if s.State != fsm.StateRecording {
		t.Errorf("state = %s, want RECORDING", s.State)
	}
	if len(s.Answers) != 0 || s.LastFeedback != nil {
		t.Error("partial answer data leaked into session")
	}
}

func TestUpdateHeartbeat(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	o, mem := newTestOrchestrator(t, WithClock(clock))

	started, err := o.StartInterview(context.Background(), "u1", "backend")
	if err != nil {
		t.Fatal(err)
	}

	before := mem.GetByID(started.ID)
	clock.advance(time.Hour)
	if err := o.UpdateHeartbeat(started.ID); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}

	after := mem.GetByID(started.ID)
	if !after.LastHeartbeat.Equal(clock.Now()) {
		t.Errorf("heartbeat = %v, want %v", after.LastHeartbeat, clock.Now())
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Error("heartbeat must not touch UpdatedAt")
	}

	if err := o.UpdateHeartbeat("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("want ErrSessionNotFound, got %v", err)
	}
}

func TestGetSummaryNotCompleted(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	started, err := o.StartInterview(context.Background(), "u1", "backend")
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := o.GetSummary(started.ID); !errors.Is(err, ErrNotCompleted) {
		t.Errorf("want ErrNotCompleted, got %v", err)
	}
	if _, _, err := o.GetSummary("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("want ErrSessionNotFound, got %v", err)
	}
}

func TestGetSummaryWhileRefining(t *testing.T) {
	queue := &mockRefineQueue{pending: 1}
	o, _ := newTestOrchestrator(t, WithRefinementQueue(queue))
	ctx := context.Background()

	started, err := o.StartInterview(ctx, "u1", "backend")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Dispatch(ctx, started.ID, fsm.EventCompleteInterview, nil); err != nil {
		t.Fatal(err)
	}

	sum, processing, err := o.GetSummary(started.ID)
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if !processing || sum != nil {
		t.Errorf("want processing with no summary, got sum=%+v processing=%v", sum, processing)
	}

	queue.pending = 0
	sum, processing, err = o.GetSummary(started.ID)
	if err != nil || processing || sum == nil {
		t.Errorf("after refinement done: sum=%+v processing=%v err=%v", sum, processing, err)
	}
}

func TestRefinementScheduledOnSubmit(t *testing.T) {
	queue := &mockRefineQueue{}
	o, _ := newTestOrchestrator(t, WithRefinementQueue(queue))
	ctx := context.Background()

	started, err := o.StartInterview(ctx, "u1", "backend")
	if err != nil {
		t.Fatal(err)
	}

	res, err := o.SubmitAnswer(ctx, started.ID, "url", 90_000)
	if err != nil {
		t.Fatal(err)
	}
	if !res.PartialFeedback.RefinementScheduled {
		t.Error("feedback should record the scheduled refinement")
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0] != res.AnswerID {
		t.Errorf("enqueued = %v, want [%s]", queue.enqueued, res.AnswerID)
	}
}

func TestRefinementEnqueueFailureIsNonFatal(t *testing.T) {
	queue := &mockRefineQueue{err: errors.New("queue down")}
	o, _ := newTestOrchestrator(t, WithRefinementQueue(queue))
	ctx := context.Background()

	started, err := o.StartInterview(ctx, "u1", "backend")
	if err != nil {
		t.Fatal(err)
	}

	res, err := o.SubmitAnswer(ctx, started.ID, "url", 90_000)
	if err != nil {
		t.Fatalf("SubmitAnswer should survive a queue failure: %v", err)
	}
	if res.PartialFeedback.RefinementScheduled {
		t.Error("refinement must not be marked scheduled when enqueue failed")
	}
}

func TestApplyRefinedFeedback(t *testing.T) {
	o, mem := newTestOrchestrator(t)
	ctx := context.Background()

	started, err := o.StartInterview(ctx, "u1", "backend")
	if err != nil {
		t.Fatal(err)
	}
	res, err := o.SubmitAnswer(ctx, started.ID, "url", 20_000)
	if err != nil {
		t.Fatal(err)
	}

	refined := interview.Feedback{Message: "refined", Score: 3}
	if err := o.ApplyRefinedFeedback(started.ID, res.AnswerID, refined); err != nil {
		t.Fatalf("ApplyRefinedFeedback: %v", err)
	}

	s := mem.GetByID(started.ID)
	if s.LastFeedback.Partial {
		t.Error("refined feedback must clear the partial bit")
	}
	if s.LastFeedback.Score != 3 || s.Answers[0].Score != 3 {
		t.Errorf("refined score not applied: fb=%+v ans=%+v", s.LastFeedback, s.Answers[0])
	}

	if err := o.ApplyRefinedFeedback(started.ID, "no-such-answer", refined); err == nil {
		t.Error("expected error for unknown answer id")
	}
	if err := o.ApplyRefinedFeedback("missing", res.AnswerID, refined); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("want ErrSessionNotFound, got %v", err)
	}
}

func TestApplyRefinedFeedbackSkipsCompletedSession(t *testing.T) {
	o, mem := newTestOrchestrator(t)
	ctx := context.Background()

	started, err := o.StartInterview(ctx, "u1", "backend")
	if err != nil {
		t.Fatal(err)
	}
	res, err := o.SubmitAnswer(ctx, started.ID, "url", 90_000)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Dispatch(ctx, started.ID, fsm.EventCompleteInterview, nil); err != nil {
		t.Fatal(err)
	}

	if err := o.ApplyRefinedFeedback(started.ID, res.AnswerID, interview.Feedback{Score: 1}); err != nil {
		t.Fatalf("refinement on completed session should no-op, got %v", err)
	}
	if s := mem.GetByID(started.ID); s.Answers[0].Score != 4 {
		t.Error("completed session was mutated by late refinement")
	}
}

func TestConcurrentDisjointInterviews(t *testing.T) {
	o, mem := newTestOrchestrator(t)
	const users = 8

	var wg sync.WaitGroup
	errs := make(chan error, users)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := context.Background()
			user := fmt.Sprintf("u%d", i)

			started, err := o.StartInterview(ctx, user, "backend")
			if err != nil {
				errs <- err
				return
			}
			for q := 0; q < 10; q++ {
				if _, err := o.SubmitAnswer(ctx, started.ID, "url", 90_000); err != nil {
					errs <- fmt.Errorf("user %s question %d: %w", user, q, err)
					return
				}
				res, err := o.Continue(ctx, started.ID)
				if err != nil {
					errs <- err
					return
				}
				if res.State == fsm.StateCheckpoint {
					if _, err := o.Continue(ctx, started.ID); err != nil {
						errs <- err
						return
					}
				}
			}
			if s := mem.GetByID(started.ID); !s.Completed() {
				errs <- fmt.Errorf("user %s session not completed", user)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
