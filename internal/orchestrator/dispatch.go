package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/fsm"
	"github.com/parleyhq/parley/internal/interview"
)

// EventData carries event-specific input into a dispatch.
type EventData struct {
	Answer *AnswerInput
}

// AnswerInput is the metadata of a just-submitted answer.
type AnswerInput struct {
	AudioURL   string
	DurationMs int64
	Transcript string
}

// Progress summarizes how far through the bank a session is.
type Progress struct {
	Ordinal int `json:"ordinal"`
	Total   int `json:"total"`
}

// Payload is the event-specific result data returned alongside the new
// state and screen. Fields are set per event; unset fields are omitted.
type Payload struct {
	Question   *interview.Question   `json:"question,omitempty"`
	Feedback   *interview.Feedback   `json:"feedback,omitempty"`
	Checkpoint *interview.Checkpoint `json:"checkpoint,omitempty"`
	AnswerID   string                `json:"answer_id,omitempty"`
	Message    string                `json:"message,omitempty"`
	Progress   *Progress             `json:"progress,omitempty"`
}

// Result is what every dispatch reports back.
type Result struct {
	State   fsm.State `json:"state"`
	Screen  Screen    `json:"screen"`
	Payload Payload   `json:"payload"`
}

// Dispatch validates the event against the session's current state, runs
// its side effects, commits the transition, and persists — all under the
// session's lock. On any failure the session remains at its prior,
// already-valid state.
func (o *Orchestrator) Dispatch(ctx context.Context, sessionID string, event fsm.Event, data *EventData) (Result, error) {
	mu := o.locks.get(sessionID)
	mu.Lock()
	defer mu.Unlock()

	s := o.store.GetByID(sessionID)
	if s == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return o.dispatchLocked(ctx, s, event, data)
}

// dispatchLocked runs one transition on a working copy of the session.
// Callers hold the session lock; s is mutated in place and committed via
// Save only after every side effect succeeded.
func (o *Orchestrator) dispatchLocked(ctx context.Context, s *interview.Session, event fsm.Event, data *EventData) (Result, error) {
	if err := fsm.Validate(s.State, event); err != nil {
		return Result{}, err
	}

	// Side effects run before the transition commits so a mid-step
	// failure leaves the session untouched.
	next, err := fsm.Apply(s.State, event)
	if err != nil {
		return Result{}, err
	}

	var payload Payload
	switch event {
	case fsm.EventIntroDone:
		q, err := o.questions.Get(0)
		if err != nil {
			return Result{}, fmt.Errorf("fetching first question: %w", err)
		}
		payload.Question = &q

	case fsm.EventAnswerSubmitted:
		if data == nil || data.Answer == nil {
			return Result{}, fmt.Errorf("%w: %s requires answer data", fsm.ErrInvalidTransition, event)
		}
		if err := o.recordAnswer(ctx, s, data.Answer, &payload); err != nil {
			return Result{}, err
		}

	case fsm.EventProcessingDone:
		if n := len(s.Answers); n > 0 {
			s.Answers[n-1].Status = interview.AnswerCompleted
		}
		d := o.adapter.Decide(s.CurrentQuestionIndex, s.TotalQuestions, s.LastFeedback)
		s.PendingDecision = d.Action.ToPending()
		payload.Feedback = s.LastFeedback

	case fsm.EventFeedbackAck:
		next, err = o.resolveFeedbackAck(s, &payload)
		if err != nil {
			return Result{}, err
		}

	case fsm.EventCheckpointAck:
		if err := o.advance(s, &payload); err != nil {
			return Result{}, err
		}

	case fsm.EventCompleteInterview:
		o.markComplete(s)

	case fsm.EventPause:
		s.PausedFrom = s.State

	case fsm.EventResume:
		q, err := o.questions.Get(s.CurrentQuestionIndex)
		if err != nil {
			return Result{}, fmt.Errorf("refetching current question: %w", err)
		}
		s.PausedFrom = ""
		payload.Question = &q
		payload.Message = "Welcome back. Let's pick up where you left off."
	}

	// Commit the transition and persist. This is the single commit point
	// for the whole dispatch.
	s.PrevState = s.State
	s.State = next
	s.LastHeartbeat = o.clock.Now()
	o.store.Save(s)

	if s.Completed() {
		o.notifyCompleted(s)
	}

	payload.Progress = &Progress{Ordinal: s.CurrentQuestionIndex, Total: s.TotalQuestions}
	return Result{State: s.State, Screen: screenFor(s.State), Payload: payload}, nil
}

// recordAnswer creates the answer record, scores it, and folds the
// feedback into the session.
func (o *Orchestrator) recordAnswer(ctx context.Context, s *interview.Session, in *AnswerInput, payload *Payload) error {
	q, err := o.questions.Get(s.CurrentQuestionIndex)
	if err != nil {
		o.logger.Error("current ordinal exceeds question bank; adaptation missed a COMPLETE decision",
			"session_id", s.ID, "ordinal", s.CurrentQuestionIndex, "total", s.TotalQuestions)
		return err
	}

	ans := interview.Answer{
		ID:          uuid.New().String(),
		SessionID:   s.ID,
		QuestionID:  q.ID,
		Category:    q.Category,
		AudioURL:    in.AudioURL,
		DurationMs:  in.DurationMs,
		Transcript:  in.Transcript,
		Status:      interview.AnswerProcessing,
		SubmittedAt: o.clock.Now(),
	}

	fb, err := o.feedback.Generate(ctx, ans)
	if err != nil {
		return fmt.Errorf("generating feedback: %w", err)
	}
	fb.AnswerID = ans.ID

	if o.refine != nil {
		if err := o.refine.EnqueueRefinement(s.ID, ans.ID, ans.DurationMs); err != nil {
			// Refinement is best effort; the heuristic feedback stands.
			o.logger.Warn("scheduling feedback refinement failed", "session_id", s.ID, "answer_id", ans.ID, "error", err)
		} else {
			fb.RefinementScheduled = true
		}
	}

	ans.Score = fb.Score
	s.Answers = append(s.Answers, ans)
	s.LastFeedback = &fb
	s.ConfidenceTrend = interview.ClampTrend(s.ConfidenceTrend + float64(fb.Score-3)/10)

	payload.AnswerID = ans.ID
	payload.Feedback = &fb
	return nil
}

// resolveFeedbackAck consumes the pending adaptation decision and
// resolves the dynamic destination the static table cannot express.
func (o *Orchestrator) resolveFeedbackAck(s *interview.Session, payload *Payload) (fsm.State, error) {
	decision := s.PendingDecision
	s.PendingDecision = interview.DecisionNone

	switch decision {
	case interview.DecisionComplete:
		o.markComplete(s)
		return fsm.StateCompleted, nil

	case interview.DecisionCheckpoint:
		cp := o.buildCheckpoint(s)
		s.Checkpoints = append(s.Checkpoints, cp)
		payload.Checkpoint = &cp
		return fsm.StateCheckpoint, nil

	default:
		if err := o.advance(s, payload); err != nil {
			return "", err
		}
		return fsm.StateQuestion, nil
	}
}

// advance appends the just-answered question to history, bumps the
// ordinal, and fetches the next question.
func (o *Orchestrator) advance(s *interview.Session, payload *Payload) error {
	answered, err := o.questions.Get(s.CurrentQuestionIndex)
	if err != nil {
		o.logger.Error("current ordinal exceeds question bank; adaptation missed a COMPLETE decision",
			"session_id", s.ID, "ordinal", s.CurrentQuestionIndex, "total", s.TotalQuestions)
		return err
	}

	nextQ, err := o.questions.Get(s.CurrentQuestionIndex + 1)
	if err != nil {
		o.logger.Error("advance past end of question bank; adaptation missed a COMPLETE decision",
			"session_id", s.ID, "ordinal", s.CurrentQuestionIndex+1, "total", s.TotalQuestions)
		return err
	}

	s.AskedQuestionIDs = append(s.AskedQuestionIDs, answered.ID)
	s.CurrentQuestionIndex++
	payload.Question = &nextQ
	return nil
}

// markComplete stamps the completion time. The COMPLETED state itself is
// set at the dispatch commit point, keeping the "completedAt iff
// COMPLETED" invariant within a single dispatch.
func (o *Orchestrator) markComplete(s *interview.Session) {
	now := o.clock.Now()
	s.CompletedAt = &now
}

// buildCheckpoint aggregates progress so far into a checkpoint record.
func (o *Orchestrator) buildCheckpoint(s *interview.Session) interview.Checkpoint {
	cp := interview.Checkpoint{
		AtOrdinal: s.CurrentQuestionIndex,
		CreatedAt: o.clock.Now(),
	}
	cp.AggregateScore, cp.Breakdown = o.scoreBreakdown(s)
	cp.Insights = insights(s)
	return cp
}

// scoreBreakdown computes the mean answer score overall and per
// question category. Each answer carries its own category, recorded at
// submission; a resumed session can hold two answers for one question,
// so the answer list is not assumed to line up with bank ordinals.
func (o *Orchestrator) scoreBreakdown(s *interview.Session) (float64, map[interview.Category]float64) {
	if len(s.Answers) == 0 {
		return 0, nil
	}

	var sum int
	catSum := make(map[interview.Category]int)
	catN := make(map[interview.Category]int)
	for _, a := range s.Answers {
		sum += a.Score
		catSum[a.Category] += a.Score
		catN[a.Category]++
	}

	breakdown := make(map[interview.Category]float64, len(catSum))
	for cat, total := range catSum {
		breakdown[cat] = float64(total) / float64(catN[cat])
	}
	return float64(sum) / float64(len(s.Answers)), breakdown
}

// insights derives short narrative notes from flags and the confidence
// trend.
func insights(s *interview.Session) []string {
	var out []string

	short := 0
	for _, a := range s.Answers {
		if a.DurationMs < 30_000 {
			short++
		}
	}
	if short >= 2 {
		out = append(out, "Several answers ran short. Aim for one to three minutes with a concrete example.")
	}

	switch {
	case s.ConfidenceTrend > 0.15:
		out = append(out, "Your answers are trending stronger as the interview goes on.")
	case s.ConfidenceTrend < -0.15:
		out = append(out, "Scores have dipped recently. Take a breath before the next answer.")
	}

	if len(out) == 0 {
		out = append(out, "Steady progress. Keep your answers structured: situation, action, result.")
	}
	return out
}

// notifyCompleted hands the finished interview to the completion sink.
// Runs after the completing transition committed; a sink failure cannot
// unwind the session, so it is logged and dropped.
func (o *Orchestrator) notifyCompleted(s *interview.Session) {
	if o.sink == nil {
		return
	}
	if err := o.sink.InterviewCompleted(o.buildSummary(s)); err != nil {
		o.logger.Warn("archiving completed interview failed", "session_id", s.ID, "error", err)
	}
}
