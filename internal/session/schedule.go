package session

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"startup-analyst/internal/shared/telemetry"
)

const reloadJobTag = "results-reload"

// Reloader is the part of Store the scheduler drives.
type Reloader interface {
	Reload(ctx context.Context) error
}

// StartReloadSchedule refreshes the collection every interval minutes. A
// zero interval disables it and returns a nil scheduler.
func StartReloadSchedule(ctx context.Context, r Reloader, minutes int) (*gocron.Scheduler, error) {
	if minutes <= 0 {
		telemetry.Info("schedule.reload_disabled", nil)
		return nil, nil
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	_, err := s.Every(minutes).Minutes().Tag(reloadJobTag).WaitForSchedule().Do(func() {
		runScheduledReload(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	telemetry.Info("schedule.reload_enabled", map[string]any{"every_minutes": minutes})
	s.StartAsync()
	return s, nil
}

func runScheduledReload(ctx context.Context, r Reloader) {
	if ctx.Err() != nil {
		return
	}
	if err := r.Reload(ctx); err != nil {
		telemetry.Warn("schedule.reload_failed", map[string]any{"error": err})
	}
}

// ProgressCleaner drops progress entries, finished or not, that have not
// been updated within maxAge.
type ProgressCleaner interface {
	CleanupProgress(maxAge time.Duration) int
}

// StartProgressCleanup prunes stale progress entries every hour.
func StartProgressCleanup(c ProgressCleaner, maxAge time.Duration) (*gocron.Scheduler, error) {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(1).Hour().Tag("progress-cleanup").Do(func() {
		if n := c.CleanupProgress(maxAge); n > 0 {
			telemetry.Info("schedule.progress_cleaned", map[string]any{"removed": n})
		}
	})
	if err != nil {
		return nil, err
	}
	s.StartAsync()
	return s, nil
}
