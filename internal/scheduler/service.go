// Package scheduler runs periodic background jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/neoclaw-ai/promptsmith/internal/logging"
	"github.com/robfig/cron/v3"
)

// Job is a named periodic task.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Service runs registered jobs. Runs of one job never overlap.
type Service struct {
	cron *cron.Cron

	mu      sync.Mutex
	jobs    map[string]Job
	started bool
}

// NewService creates a cron-backed scheduler in the local time zone.
func NewService() *Service {
	return &Service{
		cron: cron.New(
			cron.WithLocation(time.Local),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		jobs: make(map[string]Job),
	}
}

// Add registers job. Jobs run with ctx once the service is started; an empty
// schedule registers nothing.
func (s *Service) Add(ctx context.Context, job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	job.Schedule = strings.TrimSpace(job.Schedule)
	if job.Name == "" {
		return errors.New("job name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %q has no run func", job.Name)
	}
	if job.Schedule == "" {
		logging.Logger().Info("scheduled job disabled", "job", job.Name)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	if _, err := s.cron.AddFunc(job.Schedule, func() { s.run(ctx, job, "cron") }); err != nil {
		return fmt.Errorf("register cron job %q: %w", job.Name, err)
	}
	s.jobs[job.Name] = job
	return nil
}

// Start begins cron execution.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.cron.Start()
	s.started = true
	logging.Logger().Info("scheduler started", "jobs_registered", len(s.jobs))
	return nil
}

// Stop stops cron and waits for in-flight runs to finish or ctx cancellation.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	doneCtx := s.cron.Stop()
	select {
	case <-doneCtx.Done():
		logging.Logger().Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow executes one registered job immediately.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	return s.run(ctx, job, "manual")
}

func (s *Service) run(ctx context.Context, job Job, source string) error {
	started := time.Now()
	err := job.Run(ctx)
	if err != nil {
		logging.Logger().Warn(
			"scheduled job failed",
			"job", job.Name,
			"source", source,
			"err", err,
		)
		return err
	}
	logging.Logger().Info(
		"scheduled job complete",
		"job", job.Name,
		"source", source,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return nil
}
