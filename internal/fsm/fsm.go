// Package fsm defines the interview session state machine: the set of
// states and events, the static transition table, and pure validation
// helpers. The table is the single source of truth for which events are
// legal in which state; any pair absent from it is an invalid transition.
package fsm

import (
	"errors"
	"fmt"
)

// State is a phase of one interview session.
type State string

const (
	StateIntro         State = "INTRO"
	StateQuestion      State = "QUESTION"
	StateRecording     State = "RECORDING"
	StateProcessing    State = "PROCESSING"
	StateMicroFeedback State = "MICRO_FEEDBACK"
	StateCheckpoint    State = "CHECKPOINT"
	StatePaused        State = "PAUSED"
	StateCompleted     State = "COMPLETED"
	StateError         State = "ERROR"
)

// Event is a trigger that moves a session between states.
type Event string

const (
	EventIntroDone         Event = "INTRO_DONE"
	EventStartRecording    Event = "START_RECORDING"
	EventAnswerSubmitted   Event = "ANSWER_SUBMITTED"
	EventProcessingDone    Event = "PROCESSING_DONE"
	EventFeedbackAck       Event = "FEEDBACK_ACK"
	EventCheckpointAck     Event = "CHECKPOINT_ACK"
	EventCompleteInterview Event = "COMPLETE_INTERVIEW"
	EventPause             Event = "PAUSE"
	EventResume            Event = "RESUME"
)

// ErrInvalidTransition is returned when an event is not legal in the
// session's current state. Wrap sites name the offending state and event.
var ErrInvalidTransition = errors.New("invalid transition")

// transitions maps (state, event) to the next state.
//
// The FEEDBACK_ACK entry is a placeholder: the actual destination
// (QUESTION, CHECKPOINT, or COMPLETED) is resolved at dispatch time from
// the session's pending adaptation decision. The table entry still gates
// the event: FEEDBACK_ACK is only permitted from MICRO_FEEDBACK.
//
// COMPLETED and ERROR are terminal and have no outgoing edges.
var transitions = map[State]map[Event]State{
	StateIntro: {
		EventIntroDone: StateQuestion,
	},
	StateQuestion: {
		EventStartRecording:    StateRecording,
		EventCompleteInterview: StateCompleted,
		EventPause:             StatePaused,
	},
	StateRecording: {
		EventAnswerSubmitted: StateProcessing,
	},
	StateProcessing: {
		EventProcessingDone: StateMicroFeedback,
	},
	StateMicroFeedback: {
		EventFeedbackAck:       StateQuestion,
		EventCompleteInterview: StateCompleted,
		EventPause:             StatePaused,
	},
	StateCheckpoint: {
		EventCheckpointAck: StateQuestion,
		EventPause:         StatePaused,
	},
	StatePaused: {
		EventResume: StateQuestion,
	},
}

// Validate reports whether event is legal from state. It is pure and has
// no side effects; on failure the error wraps ErrInvalidTransition and
// names both the state and the event.
func Validate(state State, event Event) error {
	if _, ok := transitions[state][event]; !ok {
		return fmt.Errorf("%w: event %s not allowed in state %s", ErrInvalidTransition, event, state)
	}
	return nil
}

// Apply returns the next state for (state, event) per the static table,
// or the same error Validate would produce. Callers that need the dynamic
// FEEDBACK_ACK destination resolve it themselves after Apply has vetted
// legality.
func Apply(state State, event Event) (State, error) {
	next, ok := transitions[state][event]
	if !ok {
		return "", fmt.Errorf("%w: event %s not allowed in state %s", ErrInvalidTransition, event, state)
	}
	return next, nil
}

// Terminal reports whether state has no outgoing transitions.
func Terminal(state State) bool {
	return state == StateCompleted || state == StateError
}
