package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/fsm"
	"github.com/parleyhq/parley/internal/interview"
)

// StartResult is returned by StartInterview.
type StartResult struct {
	ID                  string              `json:"id"`
	State               fsm.State           `json:"state"`
	CurrentQuestion     *interview.Question `json:"current_question"`
	TotalQuestions      int                 `json:"total_questions"`
	EstimatedDurationMs int64               `json:"estimated_duration_ms"`
}

// SubmitResult is returned by SubmitAnswer.
type SubmitResult struct {
	AnswerID        string              `json:"answer_id"`
	EstimatedTimeMs int64               `json:"estimated_time_ms"`
	PartialFeedback *interview.Feedback `json:"partial_feedback,omitempty"`
}

// ActiveInterview reports a user's resumable session, if any.
type ActiveInterview struct {
	CanResume bool              `json:"can_resume"`
	Interview InterviewSnapshot `json:"interview"`
}

// InterviewSnapshot is the read-only view handed to clients.
type InterviewSnapshot struct {
	ID                   string    `json:"id"`
	RoleID               string    `json:"role_id"`
	State                fsm.State `json:"state"`
	Screen               Screen    `json:"screen"`
	CurrentQuestionIndex int       `json:"current_question_index"`
	TotalQuestions       int       `json:"total_questions"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Summary is the final report of a completed interview, also what gets
// archived.
type Summary struct {
	SessionID         string                         `json:"session_id"`
	UserID            string                         `json:"user_id"`
	RoleID            string                         `json:"role_id"`
	StartedAt         time.Time                      `json:"started_at"`
	CompletedAt       time.Time                      `json:"completed_at"`
	QuestionsAnswered int                            `json:"questions_answered"`
	TotalQuestions    int                            `json:"total_questions"`
	AverageScore      float64                        `json:"average_score"`
	Breakdown         map[interview.Category]float64 `json:"breakdown,omitempty"`
	ConfidenceTrend   float64                        `json:"confidence_trend"`
	Checkpoints       int                            `json:"checkpoints"`
	Insights          []string                       `json:"insights,omitempty"`
}

// StartInterview creates a fresh session in INTRO, persists it, and
// immediately plays INTRO_DONE to land on the first question. Any prior
// active session for the user is silently displaced.
func (o *Orchestrator) StartInterview(ctx context.Context, userID, roleID string) (StartResult, error) {
	now := o.clock.Now()
	s := &interview.Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		RoleID:         roleID,
		State:          fsm.StateIntro,
		TotalQuestions: o.questions.Total(),
		CreatedAt:      now,
		UpdatedAt:      now,
		LastHeartbeat:  now,
	}
	o.store.Create(s)

	mu := o.locks.get(s.ID)
	mu.Lock()
	defer mu.Unlock()

	res, err := o.dispatchLocked(ctx, s, fsm.EventIntroDone, nil)
	if err != nil {
		return StartResult{}, fmt.Errorf("starting interview: %w", err)
	}

	return StartResult{
		ID:                  s.ID,
		State:               res.State,
		CurrentQuestion:     res.Payload.Question,
		TotalQuestions:      s.TotalQuestions,
		EstimatedDurationMs: int64(s.TotalQuestions) * perQuestionBudgetMs,
	}, nil
}

// SubmitAnswer runs the submission pipeline: START_RECORDING when the
// session still sits on the question screen, then ANSWER_SUBMITTED, then
// PROCESSING_DONE. The three dispatches share one lock acquisition, so
// no concurrent caller observes the intermediate states.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, sessionID, audioURL string, durationMs int64) (SubmitResult, error) {
	mu := o.locks.get(sessionID)
	mu.Lock()
	defer mu.Unlock()

	s := o.store.GetByID(sessionID)
	if s == nil {
		return SubmitResult{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	if s.State == fsm.StateQuestion {
		if _, err := o.dispatchLocked(ctx, s, fsm.EventStartRecording, nil); err != nil {
			return SubmitResult{}, err
		}
	}

	data := &EventData{Answer: &AnswerInput{AudioURL: audioURL, DurationMs: durationMs}}
	res, err := o.dispatchLocked(ctx, s, fsm.EventAnswerSubmitted, data)
	if err != nil {
		return SubmitResult{}, err
	}
	answerID := res.Payload.AnswerID

	if _, err := o.dispatchLocked(ctx, s, fsm.EventProcessingDone, nil); err != nil {
		return SubmitResult{}, err
	}

	return SubmitResult{
		AnswerID:        answerID,
		EstimatedTimeMs: processingEstimateMs,
		PartialFeedback: s.LastFeedback,
	}, nil
}

// Continue acknowledges the screen the session is parked on: feedback
// from MICRO_FEEDBACK, the checkpoint from CHECKPOINT. Anything else is
// an invalid transition.
func (o *Orchestrator) Continue(ctx context.Context, sessionID string) (Result, error) {
	mu := o.locks.get(sessionID)
	mu.Lock()
	defer mu.Unlock()

	s := o.store.GetByID(sessionID)
	if s == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	switch s.State {
	case fsm.StateMicroFeedback:
		return o.dispatchLocked(ctx, s, fsm.EventFeedbackAck, nil)
	case fsm.StateCheckpoint:
		return o.dispatchLocked(ctx, s, fsm.EventCheckpointAck, nil)
	default:
		return Result{}, fmt.Errorf("%w: nothing to continue from state %s", fsm.ErrInvalidTransition, s.State)
	}
}

// Pause suspends the session, remembering the interrupted state.
func (o *Orchestrator) Pause(ctx context.Context, sessionID string) error {
	_, err := o.Dispatch(ctx, sessionID, fsm.EventPause, nil)
	return err
}

// Resume reattaches a client to a resumable, unexpired session. A PAUSED
// session transitions back to QUESTION; a session already on an
// interactive screen is returned as-is with its current question
// refetched, so a reconnecting client can redraw.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) (Result, error) {
	mu := o.locks.get(sessionID)
	mu.Lock()
	defer mu.Unlock()

	s := o.store.GetByID(sessionID)
	if s == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if !s.IsResumable() {
		return Result{}, fmt.Errorf("%w: state %s", ErrCannotResume, s.State)
	}
	if s.Expired(o.clock.Now()) {
		return Result{}, fmt.Errorf("%w: heartbeat older than %s", ErrCannotResume, interview.HeartbeatTTL)
	}

	if s.State == fsm.StatePaused {
		return o.dispatchLocked(ctx, s, fsm.EventResume, nil)
	}

	// Already on an interactive screen: no transition, just a redraw.
	res := o.stateResult(s)
	res.Payload.Message = "Welcome back. Let's pick up where you left off."
	return res, nil
}

// GetState reports the session's current state, screen, and the payload
// a client needs to render it.
func (o *Orchestrator) GetState(sessionID string) (Result, error) {
	s := o.store.GetByID(sessionID)
	if s == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return o.stateResult(s), nil
}

func (o *Orchestrator) stateResult(s *interview.Session) Result {
	payload := Payload{
		Progress: &Progress{Ordinal: s.CurrentQuestionIndex, Total: s.TotalQuestions},
	}

	switch s.State {
	case fsm.StateQuestion, fsm.StateRecording:
		if q, err := o.questions.Get(s.CurrentQuestionIndex); err == nil {
			payload.Question = &q
		}
	case fsm.StateMicroFeedback:
		payload.Feedback = s.LastFeedback
	case fsm.StateCheckpoint:
		if n := len(s.Checkpoints); n > 0 {
			payload.Checkpoint = &s.Checkpoints[n-1]
		}
	}

	return Result{State: s.State, Screen: screenFor(s.State), Payload: payload}
}

// GetActiveInterview looks up the user's one active session. Returns
// nil when the user has none.
func (o *Orchestrator) GetActiveInterview(userID string) *ActiveInterview {
	s := o.store.GetActiveByUserID(userID)
	if s == nil {
		return nil
	}
	return &ActiveInterview{
		CanResume: s.IsResumable() && !s.Expired(o.clock.Now()),
		Interview: InterviewSnapshot{
			ID:                   s.ID,
			RoleID:               s.RoleID,
			State:                s.State,
			Screen:               screenFor(s.State),
			CurrentQuestionIndex: s.CurrentQuestionIndex,
			TotalQuestions:       s.TotalQuestions,
			UpdatedAt:            s.UpdatedAt,
		},
	}
}

// UpdateHeartbeat bumps the liveness timestamp. It bypasses the session
// transition lock: heartbeats do not participate in the state machine.
func (o *Orchestrator) UpdateHeartbeat(sessionID string) error {
	if !o.store.UpdateHeartbeat(sessionID, o.clock.Now()) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// GetSummary returns the final report for a completed interview. The
// second return is true while deferred refinements are still pending, in
// which case no summary is produced yet.
func (o *Orchestrator) GetSummary(sessionID string) (*Summary, bool, error) {
	s := o.store.GetByID(sessionID)
	if s == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if !s.Completed() {
		return nil, false, fmt.Errorf("%w: session in state %s", ErrNotCompleted, s.State)
	}

	if o.refine != nil {
		n, err := o.refine.PendingRefinements(sessionID)
		if err != nil {
			o.logger.Warn("checking pending refinements failed", "session_id", sessionID, "error", err)
		} else if n > 0 {
			return nil, true, nil
		}
	}

	sum := o.buildSummary(s)
	return &sum, false, nil
}

// ApplyRefinedFeedback folds a refined feedback record back into a live
// session under its lock. Completed sessions are left untouched; the
// archived summary is immutable.
func (o *Orchestrator) ApplyRefinedFeedback(sessionID, answerID string, fb interview.Feedback) error {
	mu := o.locks.get(sessionID)
	mu.Lock()
	defer mu.Unlock()

	s := o.store.GetByID(sessionID)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if s.Completed() {
		return nil
	}

	found := false
	for i := range s.Answers {
		if s.Answers[i].ID == answerID {
			s.Answers[i].Score = fb.Score
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("answer %s not found in session %s", answerID, sessionID)
	}

	fb.AnswerID = answerID
	fb.Partial = false
	fb.RefinementScheduled = false
	if s.LastFeedback != nil && s.LastFeedback.AnswerID == answerID {
		s.LastFeedback = &fb
	}

	o.store.Save(s)
	return nil
}

// distinctQuestionsAnswered counts questions with at least one answer. A
// session resumed from pause can re-answer its current question, so the
// answer count can exceed the question count.
func distinctQuestionsAnswered(s *interview.Session) int {
	seen := make(map[string]struct{}, len(s.Answers))
	for _, a := range s.Answers {
		seen[a.QuestionID] = struct{}{}
	}
	return len(seen)
}

// buildSummary assembles the final report from session history.
func (o *Orchestrator) buildSummary(s *interview.Session) Summary {
	avg, breakdown := o.scoreBreakdown(s)
	sum := Summary{
		SessionID:         s.ID,
		UserID:            s.UserID,
		RoleID:            s.RoleID,
		StartedAt:         s.CreatedAt,
		QuestionsAnswered: distinctQuestionsAnswered(s),
		TotalQuestions:    s.TotalQuestions,
		AverageScore:      avg,
		Breakdown:         breakdown,
		ConfidenceTrend:   s.ConfidenceTrend,
		Checkpoints:       len(s.Checkpoints),
		Insights:          insights(s),
	}
	if s.CompletedAt != nil {
		sum.CompletedAt = *s.CompletedAt
	}
	return sum
}
