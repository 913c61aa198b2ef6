package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"staybook/internal/adapters/observability"
)

// Task is a named periodic unit of work. Run is the job body; the cron
// schedule only decides when it is called.
type Task struct {
	Name       string
	Schedule   string
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// Scheduler drives registered tasks with robfig/cron.
type Scheduler struct {
	cron *cron.Cron

	mu    sync.Mutex
	ctx   context.Context
	tasks map[string]Task
}

func NewScheduler(logger cron.Logger) *Scheduler {
	c := cron.New(cron.WithChain(cron.Recover(logger)), cron.WithLogger(logger))
	return &Scheduler{cron: c, ctx: context.Background(), tasks: map[string]Task{}}
}

// Register adds a task. Names must be unique.
func (s *Scheduler) Register(t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.tasks[t.Name]; dup {
		return fmt.Errorf("task %q already registered", t.Name)
	}
	if _, err := s.cron.AddFunc(t.Schedule, func() { s.run(s.runCtx(), t) }); err != nil {
		return fmt.Errorf("schedule %q (%s): %w", t.Name, t.Schedule, err)
	}
	s.tasks[t.Name] = t
	log.Info().Str("task", t.Name).Str("schedule", t.Schedule).Msg("task scheduled")
	return nil
}

// Start runs the RunOnStart tasks once and starts the cron loop. ctx is handed
// to every run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	var boot []Task
	for _, t := range s.tasks {
		if t.RunOnStart {
			boot = append(boot, t)
		}
	}
	s.mu.Unlock()

	for _, t := range boot {
		go s.run(ctx, t)
	}
	s.cron.Start()
}

// Stop stops the cron loop; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunNow runs a task synchronously, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}
	return s.run(ctx, t)
}

func (s *Scheduler) runCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) run(ctx context.Context, t Task) error {
	start := time.Now()
	err := t.Run(ctx)
	dur := time.Since(start)
	observability.ObserveJob(t.Name, err, dur)
	if err != nil {
		log.Error().Err(err).Str("task", t.Name).Dur("took", dur).Msg("task failed")
		return err
	}
	log.Debug().Str("task", t.Name).Dur("took", dur).Msg("task finished")
	return nil
}

// SchedulesConfig holds the cron expressions of the reconciliation jobs.
type SchedulesConfig struct {
	Expiry          string
	WithdrawalRetry string
	Reminders       string
	Release         string
	ConfigRefresh   string
}

// RegisterJobs wires every job body onto the scheduler, logging each report.
func RegisterJobs(s *Scheduler, j *Jobs, sc SchedulesConfig) error {
	tasks := []Task{
		{Name: JobExpireUnpaid, Schedule: sc.Expiry, RunOnStart: true, Run: func(ctx context.Context) error {
			rep, err := j.ExpireUnpaidBookings(ctx)
			logReport(JobExpireUnpaid, rep, err)
			return err
		}},
		{Name: JobRetryWithdrawals, Schedule: sc.WithdrawalRetry, Run: func(ctx context.Context) error {
			rep, err := j.RetryFailedWithdrawals(ctx)
			logReport(JobRetryWithdrawals, rep, err)
			return err
		}},
		{Name: JobEvidenceReminders, Schedule: sc.Reminders, Run: func(ctx context.Context) error {
			rep, err := j.SendEvidenceReminders(ctx)
			logReport(JobEvidenceReminders, rep, err)
			return err
		}},
		{Name: JobReleaseEscrows, Schedule: sc.Release, Run: func(ctx context.Context) error {
			rep, err := j.ReleaseEligibleEscrows(ctx)
			logReport(JobReleaseEscrows, rep, err)
			return err
		}},
		{Name: JobRefreshConfig, Schedule: sc.ConfigRefresh, Run: j.RefreshCommissionConfig},
	}
	for _, t := range tasks {
		if t.Schedule == "" {
			continue // disabled
		}
		if err := s.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func logReport(job string, rep any, err error) {
	if err != nil {
		return
	}
	log.Info().Str("job", job).Interface("report", rep).Msg("job finished")
}

// DefaultCronLogger routes cron's own messages to the global zerolog logger.
func DefaultCronLogger() cron.Logger {
	return observability.CronLogger{L: log.Logger}
}
