package tasks

import (
	"context"
	"fmt"
	"time"
)

// newStatsRollupTask creates the scheduled task that aggregates the current
// day's conversation and usage logs into the daily system statistics table.
func newStatsRollupTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "stats_rollup")

	return func(ctx context.Context) error {
		day := time.Now().UTC()
		log.InfoContext(ctx, "Starting scheduled stats rollup task...", "day", day.Format("2006-01-02"))

		if err := deps.Store.RollupSystemStats(ctx, day); err != nil {
			log.ErrorContext(ctx, "Stats rollup task failed", "error", err)
			return fmt.Errorf("stats rollup failed: %w", err)
		}

		log.InfoContext(ctx, "Scheduled stats rollup task completed successfully")
		return nil
	}
}
