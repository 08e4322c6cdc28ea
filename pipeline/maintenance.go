package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// MaintenanceJob is one periodic task a Scheduler runs on its own cron
// spec, e.g. sweeping a durable queue's poison store.
type MaintenanceJob struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler drives a set of MaintenanceJobs on their own cron
// schedules, grounded on this module's cron-backed trigger: one
// shared *cron.Cron, jobs registered via AddFunc, started once.
type Scheduler struct {
	cron *cron.Cron
	once sync.Once
}

// NewScheduler creates a Scheduler backed by a seconds-resolution cron.
func NewScheduler() *Scheduler {
	return &Scheduler{cron: cron.New(cron.WithSeconds())}
}

// AddJob registers job on its own schedule. Errors returned by job.Run
// are logged, not propagated, since cron has nowhere to report them to.
func (s *Scheduler) AddJob(ctx context.Context, job MaintenanceJob) error {
	_, err := s.cron.AddFunc(job.Spec, func() {
		if err := job.Run(ctx); err != nil {
			slog.Error("pipeline: maintenance job failed", slog.String("job", job.Name), slog.String("err", err.Error()))
		}
	})
	return err
}

// Start begins running registered jobs; safe to call once per Scheduler.
func (s *Scheduler) Start() {
	s.once.Do(s.cron.Start)
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// PoisonSweeper is satisfied by queues that can requeue their own
// poisoned messages (e.g. sqlqueue.Queue.Sweep).
type PoisonSweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// SweepJob builds a MaintenanceJob that periodically requeues poisoned
// messages on spec, logging how many it recovered.
func SweepJob(name, spec string, sweeper PoisonSweeper) MaintenanceJob {
	return MaintenanceJob{
		Name: name,
		Spec: spec,
		Run: func(ctx context.Context) error {
			n, err := sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				slog.Info("pipeline: requeued poisoned messages", slog.String("job", name), slog.Int64("count", n))
			}
			return nil
		},
	}
}
