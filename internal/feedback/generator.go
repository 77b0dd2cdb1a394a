// Package feedback scores submitted answers into feedback records. The
// default generator is a deterministic duration heuristic; it stands in
// for a real transcription + AI scoring pipeline, so everything it emits
// is marked partial and may later be replaced by a refinement pass.
package feedback

import (
	"context"

	"github.com/parleyhq/parley/internal/interview"
)

// Generator produces feedback for one answer. Implementations may run
// synchronously or call out to a scoring service; the orchestrator only
// sees the returned record.
type Generator interface {
	Generate(ctx context.Context, ans interview.Answer) (interview.Feedback, error)
}

// Duration buckets, in milliseconds.
const (
	tooShortMs  = 30_000
	optimalLoMs = 60_000
	optimalHiMs = 180_000
	tooLongMs   = 300_000
)

// DurationHeuristic scores an answer purely from how long the candidate
// spoke.
type DurationHeuristic struct{}

// NewDurationHeuristic returns the default generator.
func NewDurationHeuristic() *DurationHeuristic {
	return &DurationHeuristic{}
}

// Generate buckets the answer duration into a 1-5 score:
// under 30s scores 2, 60-180s scores 4, everything else scores 3.
func (g *DurationHeuristic) Generate(_ context.Context, ans interview.Answer) (interview.Feedback, error) {
	fb := interview.Feedback{
		AnswerID: ans.ID,
		Partial:  true,
	}

	d := ans.DurationMs
	switch {
	case d < tooShortMs:
		fb.Score = 2
		fb.Flags = []interview.Flag{interview.FlagTooShort}
		fb.Improvements = []string{"Expand your answer with a concrete example."}
	case d >= optimalLoMs && d <= optimalHiMs:
		fb.Score = 4
		fb.Flags = []interview.Flag{interview.FlagExcellent}
		fb.Strengths = []string{"Well-paced, structured answer length."}
	case d > tooLongMs:
		fb.Score = 3
		fb.Flags = []interview.Flag{interview.FlagTooLong}
		fb.Improvements = []string{"Tighten the answer; lead with the conclusion."}
	default:
		fb.Score = 3
	}

	fb.Message = MessageForScore(fb.Score)
	return fb, nil
}

// MessageForScore maps a score to its human-readable summary line.
func MessageForScore(score int) string {
	switch score {
	case 5:
		return "Outstanding answer - clear, complete, and compelling."
	case 4:
		return "Strong answer - well structured and easy to follow."
	case 3:
		return "Solid answer - covers the question, with room to polish."
	case 2:
		return "Brief answer - add detail and a concrete example."
	default:
		return "This answer needs rework - revisit the question and try again."
	}
}
