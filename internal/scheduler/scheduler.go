// Package scheduler runs periodic background jobs. The only built-in job is
// the rolling store snapshot, but the runner is generic.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Job is one unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// DefaultBackupInterval spaces the rolling snapshots.
const DefaultBackupInterval = 6 * time.Hour

// Scheduler drives registered jobs on their intervals until the context
// given to Start is cancelled.
type Scheduler struct {
	logger *slog.Logger
	jobs   []entry
}

type entry struct {
	job      Job
	interval time.Duration
}

// New creates an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Add registers a job. Intervals at or below zero fall back to the default
// backup interval.
func (s *Scheduler) Add(job Job, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultBackupInterval
	}
	s.jobs = append(s.jobs, entry{job: job, interval: interval})
}

// Start launches one goroutine per job. A failing run is logged and the
// ticker keeps going; jobs stop when the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, e := range s.jobs {
		go s.run(ctx, e)
	}
}

func (s *Scheduler) run(ctx context.Context, e entry) {
	s.logger.Info("job scheduled", "job", e.job.Name(), "interval", e.interval)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := e.job.Run(ctx); err != nil {
				s.logger.Error("job failed", "job", e.job.Name(), "error", err)
				continue
			}
			s.logger.Debug("job finished", "job", e.job.Name(), "duration_ms", time.Since(start).Milliseconds())
		}
	}
}

// Snapshotter is the slice of the backup machinery the snapshot job needs.
type Snapshotter interface {
	Snapshot(reason string) (string, error)
}

// SnapshotJob takes a rolling store snapshot.
type SnapshotJob struct {
	backups Snapshotter
}

// NewSnapshotJob wraps the snapshotter as a schedulable job.
func NewSnapshotJob(backups Snapshotter) *SnapshotJob {
	return &SnapshotJob{backups: backups}
}

func (j *SnapshotJob) Name() string { return "store-snapshot" }

func (j *SnapshotJob) Run(context.Context) error {
	_, err := j.backups.Snapshot("scheduled")
	return err
}
