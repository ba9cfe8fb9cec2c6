package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobHandler executes one maintenance job run.
type JobHandler func(ctx context.Context) error

// Job is a named maintenance task with a cron schedule. Schedules accept
// standard five-field expressions and descriptors like "@every 15m".
type Job struct {
	Name     string
	Schedule string
	Handler  JobHandler
}

// Scheduler runs the background maintenance jobs: signature reload and
// audit retention cleanup. Job runs are serialized per job, logged, and a
// failing run never stops the schedule.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	lastRun map[string]time.Time
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		logger:  logger,
		entries: make(map[string]cron.EntryID),
		lastRun: make(map[string]time.Time),
	}
}

// Register adds a job to the schedule.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Handler == nil {
		return fmt.Errorf("job needs a name and a handler")
	}

	id, err := s.cron.AddFunc(job.Schedule, func() {
		s.run(job)
	})
	if err != nil {
		return fmt.Errorf("scheduling %s (%q): %w", job.Name, job.Schedule, err)
	}

	s.mu.Lock()
	s.entries[job.Name] = id
	s.mu.Unlock()

	s.logger.Info("job scheduled", "job", job.Name, "schedule", job.Schedule)
	return nil
}

func (s *Scheduler) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "job", job.Name, "panic", r)
		}
	}()

	start := time.Now()
	err := job.Handler(ctx)

	s.mu.Lock()
	s.lastRun[job.Name] = start
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job", job.Name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Info("job completed", "job", job.Name, "duration", time.Since(start))
}

// LastRun reports when a job last started, zero if it has not run.
func (s *Scheduler) LastRun(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun[name]
}

// Start begins executing the schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the schedule and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
