// Package refine runs the deferred feedback refinement pipeline: answers
// are scored synchronously by a cheap heuristic, and a queued second pass
// replaces that partial feedback with a final record. The queue is backed
// by the SQLite jobs table so refinements survive a daemon restart.
package refine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/feedback"
	"github.com/parleyhq/parley/internal/interview"
	"github.com/parleyhq/parley/internal/storage"
)

// JobType is the queue type tag for refinement jobs.
const JobType = "feedback_refine"

// payload is the JSON body of one refinement job. The session id rides
// in the job's ref column so pending work can be counted per session.
type payload struct {
	AnswerID   string `json:"answer_id"`
	DurationMs int64  `json:"duration_ms"`
}

// Queue schedules refinement jobs on the persistent job queue.
type Queue struct {
	store *storage.Store
}

// NewQueue wraps the storage layer's job queue.
func NewQueue(store *storage.Store) *Queue {
	return &Queue{store: store}
}

// EnqueueRefinement schedules a second scoring pass for one answer.
func (q *Queue) EnqueueRefinement(sessionID, answerID string, durationMs int64) error {
	body, err := json.Marshal(payload{AnswerID: answerID, DurationMs: durationMs})
	if err != nil {
		return fmt.Errorf("encoding refinement payload: %w", err)
	}
	return q.store.EnqueueJob(storage.Job{
		ID:          uuid.New().String(),
		Type:        JobType,
		Ref:         sessionID,
		PayloadJSON: string(body),
	})
}

// PendingRefinements counts unfinished refinement jobs for a session.
func (q *Queue) PendingRefinements(sessionID string) (int, error) {
	return q.store.PendingJobs(JobType, sessionID)
}

// Refiner produces the final feedback record for one answer.
type Refiner interface {
	Refine(ctx context.Context, sessionID, answerID string, durationMs int64) (interview.Feedback, error)
}

// DurationRefiner is the default deterministic refinement pass. It keeps
// the generator's duration buckets but recognizes a sweet spot the quick
// heuristic does not, and clears the partial bit.
type DurationRefiner struct{}

// NewDurationRefiner returns the default refiner.
func NewDurationRefiner() *DurationRefiner {
	return &DurationRefiner{}
}

// Sweet spot within the optimal bucket, in milliseconds.
const (
	sweetLoMs = 90_000
	sweetHiMs = 150_000
)

func (r *DurationRefiner) Refine(_ context.Context, _, answerID string, durationMs int64) (interview.Feedback, error) {
	fb := interview.Feedback{AnswerID: answerID}

	switch {
	case durationMs < 30_000:
		fb.Score = 2
		fb.Flags = []interview.Flag{interview.FlagTooShort}
		fb.Improvements = []string{"Expand your answer with a concrete example."}
	case durationMs >= sweetLoMs && durationMs <= sweetHiMs:
		fb.Score = 5
		fb.Flags = []interview.Flag{interview.FlagExcellent}
		fb.Strengths = []string{"Ideal answer length with room for a full example."}
	case durationMs >= 60_000 && durationMs <= 180_000:
		fb.Score = 4
		fb.Flags = []interview.Flag{interview.FlagExcellent}
		fb.Strengths = []string{"Well-paced, structured answer length."}
	case durationMs > 300_000:
		fb.Score = 3
		fb.Flags = []interview.Flag{interview.FlagTooLong}
		fb.Improvements = []string{"Tighten the answer; lead with the conclusion."}
	default:
		fb.Score = 3
	}

	fb.Message = feedback.MessageForScore(fb.Score)
	return fb, nil
}
