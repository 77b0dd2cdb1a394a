// Package adapt decides the next macro-action after each answer:
// continue to the next question, interpose a checkpoint, or complete the
// interview. The engine is a pure function over session progress; it
// never touches session state itself.
package adapt

import (
	"fmt"

	"github.com/parleyhq/parley/internal/interview"
)

// Action is the macro-step the orchestrator should take next.
type Action string

const (
	ActionNextQuestion Action = "NEXT_QUESTION"
	ActionCheckpoint   Action = "CHECKPOINT"
	ActionComplete     Action = "COMPLETE"
)

// checkpointEvery interposes a checkpoint after every Nth answered question.
const checkpointEvery = 5

// Decision is the engine's output.
type Decision struct {
	Action     Action
	Reason     string
	Confidence float64
}

// Engine is the rule-based decision maker.
type Engine struct{}

// New returns the default rule engine.
func New() *Engine {
	return &Engine{}
}

// Decide evaluates the rules in order, first match wins:
// the last question completes the interview, every 5th answered question
// triggers a checkpoint, anything else advances. lastFeedback is accepted
// for interface stability; the current rules do not read it.
func (e *Engine) Decide(questionOrdinal, totalQuestions int, lastFeedback *interview.Feedback) Decision {
	switch {
	case questionOrdinal >= totalQuestions-1:
		return Decision{
			Action:     ActionComplete,
			Reason:     fmt.Sprintf("answered question %d of %d", questionOrdinal+1, totalQuestions),
			Confidence: 1,
		}
	case questionOrdinal > 0 && (questionOrdinal+1)%checkpointEvery == 0:
		return Decision{
			Action:     ActionCheckpoint,
			Reason:     fmt.Sprintf("checkpoint after %d answered questions", questionOrdinal+1),
			Confidence: 0.9,
		}
	default:
		return Decision{
			Action:     ActionNextQuestion,
			Reason:     "interview in progress",
			Confidence: 0.8,
		}
	}
}

// ToPending maps an action onto the decision tag stored on the session
// for the next FEEDBACK_ACK dispatch.
func (a Action) ToPending() interview.Decision {
	switch a {
	case ActionCheckpoint:
		return interview.DecisionCheckpoint
	case ActionComplete:
		return interview.DecisionComplete
	default:
		return interview.DecisionAdvance
	}
}
