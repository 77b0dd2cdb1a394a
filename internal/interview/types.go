// Package interview holds the session entity and the value types that
// flow through one interview run: questions, answers, feedback records,
// checkpoints, and the pending adaptation decision.
package interview

import (
	"time"

	"github.com/parleyhq/parley/internal/fsm"
)

// Category classifies a question.
type Category string

const (
	CategoryTechnical      Category = "TECHNICAL"
	CategoryBehavioral     Category = "BEHAVIORAL"
	CategoryProblemSolving Category = "PROBLEM_SOLVING"
	CategoryCommunication  Category = "COMMUNICATION"
)

// Difficulty grades a question.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Question is one immutable entry from the question bank.
type Question struct {
	ID           string     `json:"id"`
	Text         string     `json:"text"`
	Category     Category   `json:"category"`
	Difficulty   Difficulty `json:"difficulty"`
	Signals      []string   `json:"signals,omitempty"`
	EstimatedSec int        `json:"estimated_sec"`
}

// AnswerStatus tracks an answer through its processing pipeline.
type AnswerStatus string

const (
	AnswerPending    AnswerStatus = "PENDING"
	AnswerProcessing AnswerStatus = "PROCESSING"
	AnswerCompleted  AnswerStatus = "COMPLETED"
	AnswerFailed     AnswerStatus = "FAILED"
)

// Answer is one submitted response to a question.
type Answer struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	QuestionID  string       `json:"question_id"`
	Category    Category     `json:"category"`
	AudioURL    string       `json:"audio_url"`
	DurationMs  int64        `json:"duration_ms"`
	Status      AnswerStatus `json:"status"`
	Transcript  string       `json:"transcript,omitempty"`
	Score       int          `json:"score,omitempty"`
	SubmittedAt time.Time    `json:"submitted_at"`
}

// Flag marks a notable trait of an answer.
type Flag string

const (
	FlagTooShort           Flag = "TOO_SHORT"
	FlagTooLong            Flag = "TOO_LONG"
	FlagVague              Flag = "VAGUE"
	FlagExcellent          Flag = "EXCELLENT"
	FlagNeedsClarification Flag = "NEEDS_CLARIFICATION"
	FlagOffTopic           Flag = "OFF_TOPIC"
)

// Feedback is the scored assessment of one answer. Partial stays true
// until a deferred refinement pass replaces the heuristic result;
// RefinementScheduled records that such a pass was enqueued.
type Feedback struct {
	AnswerID            string   `json:"answer_id,omitempty"`
	Message             string   `json:"message"`
	Score               int      `json:"score"` // 1..5
	Strengths           []string `json:"strengths,omitempty"`
	Improvements        []string `json:"improvements,omitempty"`
	Flags               []Flag   `json:"flags,omitempty"`
	Partial             bool     `json:"partial"`
	RefinementScheduled bool     `json:"refinement_scheduled,omitempty"`
}

// Checkpoint is a periodic progress summary. Appended, never mutated.
type Checkpoint struct {
	AtOrdinal      int                  `json:"at_ordinal"`
	AggregateScore float64              `json:"aggregate_score"`
	Breakdown      map[Category]float64 `json:"breakdown,omitempty"`
	Insights       []string             `json:"insights,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

// Decision is the adaptation engine's pending macro-action, attached to
// the session by PROCESSING_DONE and consumed exactly once by the next
// FEEDBACK_ACK dispatch.
type Decision string

const (
	DecisionNone       Decision = ""
	DecisionAdvance    Decision = "ADVANCE"
	DecisionCheckpoint Decision = "CHECKPOINT"
	DecisionComplete   Decision = "COMPLETE"
)

// HeartbeatTTL is how stale a session's heartbeat may get before the
// session counts as expired. Expiry is judged lazily at query time.
const HeartbeatTTL = 24 * time.Hour

// Session is the mutable record of one interview's progress. It is
// owned by the session store; the orchestrator holds a working copy for
// the duration of a single dispatch and commits it back via Save.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	RoleID string `json:"role_id"`

	State     fsm.State `json:"state"`
	PrevState fsm.State `json:"prev_state,omitempty"`
	// PausedFrom remembers the state a PAUSE interrupted.
	PausedFrom fsm.State `json:"paused_from,omitempty"`

	CurrentQuestionIndex int      `json:"current_question_index"`
	AskedQuestionIDs     []string `json:"asked_question_ids,omitempty"`
	TotalQuestions       int      `json:"total_questions"`
	ConfidenceTrend      float64  `json:"confidence_trend"` // clamped to [-1, 1]

	LastFeedback    *Feedback    `json:"last_feedback,omitempty"`
	PendingDecision Decision     `json:"pending_decision,omitempty"`
	Checkpoints     []Checkpoint `json:"checkpoints,omitempty"`
	Answers         []Answer     `json:"answers,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// IsResumable reports whether the session is in a state a client may
// reattach to.
func (s *Session) IsResumable() bool {
	switch s.State {
	case fsm.StatePaused, fsm.StateQuestion, fsm.StateMicroFeedback, fsm.StateCheckpoint:
		return true
	}
	return false
}

// Expired reports whether the session's heartbeat is older than
// HeartbeatTTL as of now.
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.LastHeartbeat) > HeartbeatTTL
}

// Completed reports whether the session reached its terminal COMPLETED state.
func (s *Session) Completed() bool {
	return s.State == fsm.StateCompleted
}

// Clone returns a deep copy. The store hands out and accepts clones so
// no caller ever aliases the authoritative record.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.AskedQuestionIDs = append([]string(nil), s.AskedQuestionIDs...)
	if s.LastFeedback != nil {
		fb := cloneFeedback(*s.LastFeedback)
		c.LastFeedback = &fb
	}
	c.Checkpoints = make([]Checkpoint, len(s.Checkpoints))
	for i, cp := range s.Checkpoints {
		c.Checkpoints[i] = cp
		c.Checkpoints[i].Insights = append([]string(nil), cp.Insights...)
		if cp.Breakdown != nil {
			b := make(map[Category]float64, len(cp.Breakdown))
			for k, v := range cp.Breakdown {
				b[k] = v
			}
			c.Checkpoints[i].Breakdown = b
		}
	}
	c.Answers = append([]Answer(nil), s.Answers...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneFeedback(f Feedback) Feedback {
	f.Strengths = append([]string(nil), f.Strengths...)
	f.Improvements = append([]string(nil), f.Improvements...)
	f.Flags = append([]Flag(nil), f.Flags...)
	return f
}

// ClampTrend bounds a confidence trend value to [-1, 1].
func ClampTrend(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
