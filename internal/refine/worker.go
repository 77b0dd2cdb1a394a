package refine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/internal/interview"
	"github.com/parleyhq/parley/internal/storage"
)

// JobStore abstracts the job queue operations the worker needs.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// FeedbackApplier folds a refined feedback record back into its session.
// Implemented by the orchestrator.
type FeedbackApplier interface {
	ApplyRefinedFeedback(sessionID, answerID string, fb interview.Feedback) error
}

// Worker processes feedback_refine jobs from the SQLite job queue.
type Worker struct {
	store   JobStore
	refiner Refiner
	applier FeedbackApplier
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, refiner Refiner, applier FeedbackApplier, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		refiner: refiner,
		applier: applier,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("refine worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single refinement job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("refinement job failed", "job_id", job.ID, "session_id", job.Ref, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var p payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	fb, err := w.refiner.Refine(ctx, job.Ref, p.AnswerID, p.DurationMs)
	if err != nil {
		return fmt.Errorf("refining answer %s: %w", p.AnswerID, err)
	}

	if err := w.applier.ApplyRefinedFeedback(job.Ref, p.AnswerID, fb); err != nil {
		return fmt.Errorf("applying refined feedback to session %s: %w", job.Ref, err)
	}
	return nil
}
