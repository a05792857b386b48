package history

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"loopcard/internal/pkg/logger"
)

// Janitor evicts archived jobs past the retention age on a schedule.
type Janitor struct {
	archive   *Archive
	retention time.Duration
	log       *logger.Logger
	cron      *cron.Cron
}

// NewJanitor creates a janitor pruning records older than retention.
func NewJanitor(archive *Archive, retention time.Duration, log *logger.Logger) *Janitor {
	return &Janitor{
		archive:   archive,
		retention: retention,
		log:       log.WithComponent("janitor"),
		cron:      cron.New(),
	}
}

// Start schedules an hourly prune. Returns an error only if the schedule
// itself is invalid.
func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc("@hourly", j.prune)
	if err != nil {
		return err
	}
	j.cron.Start()
	j.log.Info("janitor started", "retention", j.retention.String())
	return nil
}

// Stop halts the schedule and waits for a running prune to finish.
func (j *Janitor) Stop(ctx context.Context) error {
	select {
	case <-j.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Janitor) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := j.archive.Prune(ctx, j.retention)
	if err != nil {
		j.log.Error("prune failed", "error", err.Error())
		return
	}
	if removed > 0 {
		j.log.Info("pruned archived jobs", "removed", removed)
	}
}
