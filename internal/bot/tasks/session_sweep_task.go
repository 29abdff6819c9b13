package tasks

import (
	"context"
)

// newSessionSweepTask creates the scheduled task that evicts idle add-model
// wizard sessions so an abandoned setup does not lock its owner out forever.
func newSessionSweepTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "session_sweep")

	return func(ctx context.Context) error {
		evicted := deps.Wizard.Sweep(ctx)
		if evicted > 0 {
			log.InfoContext(ctx, "Evicted idle wizard sessions", "count", evicted)
		}
		return nil
	}
}
