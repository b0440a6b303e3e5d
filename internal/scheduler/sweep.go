package scheduler

import (
	"context"
	"errors"

	"github.com/neoclaw-ai/promptsmith/internal/logging"
	"github.com/neoclaw-ai/promptsmith/internal/refine"
)

// SweepJobName names the refinement sweep job.
const SweepJobName = "feedback-sweep"

// Cycler runs a refinement cycle.
type Cycler interface {
	Run(ctx context.Context, force bool) (refine.Outcome, error)
}

// SweepJob retries refinement periodically so feedback left pending by a
// failed cycle is not stranded until the next submission. It only runs a
// cycle when the trigger policy fires.
func SweepJob(schedule string, loop Cycler) Job {
	return Job{
		Name:     SweepJobName,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			outcome, err := loop.Run(ctx, false)
			switch {
			case errors.Is(err, refine.ErrNothingPending), errors.Is(err, refine.ErrNotTriggered):
				return nil
			case err != nil:
				return err
			}
			logging.Logger().Info("sweep produced prompt version", "version", outcome.Version, "feedback_count", outcome.FeedbackCount)
			return nil
		},
	}
}
