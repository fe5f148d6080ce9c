package trigger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sells-group/license-watch/internal/metrics"
	"github.com/sells-group/license-watch/internal/model"
	"github.com/sells-group/license-watch/internal/workflow"
)

// Runner starts workflow runs.
type Runner interface {
	Run(ctx context.Context, trigger model.Trigger) (*model.Run, error)
	Start(ctx context.Context, trigger model.Trigger) (string, error)
	Running() bool
}

// Scheduler fires the runner on a schedule and on manual dispatch. A nil
// schedule disables scheduled runs; dispatch still works.
type Scheduler struct {
	schedule *Schedule
	runner   Runner
	metrics  *metrics.Metrics
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewScheduler creates a Scheduler.
func NewScheduler(schedule *Schedule, runner Runner, m *metrics.Metrics) *Scheduler {
	return &Scheduler{schedule: schedule, runner: runner, metrics: m, now: time.Now}
}

// Schedule returns the configured schedule, or nil when disabled.
func (s *Scheduler) Schedule() *Schedule { return s.schedule }

// Start begins firing scheduled runs with ctx. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil || s.cron != nil {
		return
	}
	c := cron.New(
		cron.WithLocation(s.schedule.Location()),
		cron.WithLogger(newCronLogger()),
	)
	c.Schedule(s.schedule.sched, cron.FuncJob(func() { s.tick(ctx) }))
	c.Start()
	s.cron = c
	zap.L().Info("scheduler started",
		zap.String("cron", s.schedule.String()),
		zap.String("timezone", s.schedule.Location().String()),
		zap.Time("next_fire", s.NextFire()),
	)
}

// Stop halts the schedule and waits for a running scheduled job to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	zap.L().Info("scheduler stopped")
}

// Dispatch starts a manual run in the background. It does not touch the
// schedule.
func (s *Scheduler) Dispatch(ctx context.Context) (string, error) {
	id, err := s.runner.Start(ctx, model.TriggerManual)
	if err != nil {
		return "", err
	}
	zap.L().Info("manual run dispatched", zap.String("run_id", id))
	return id, nil
}

// NextFire returns the next scheduled fire time, or the zero time when the
// schedule is disabled.
func (s *Scheduler) NextFire() time.Time {
	if s.schedule == nil {
		return time.Time{}
	}
	return s.schedule.Next(s.now())
}

func (s *Scheduler) tick(ctx context.Context) {
	log := zap.L().With(zap.String("component", "scheduler"))
	_, err := s.runner.Run(ctx, model.TriggerSchedule)
	switch {
	case errors.Is(err, workflow.ErrRunInProgress):
		s.metrics.SkippedTick()
		log.Warn("scheduled run skipped, another run is in progress")
	case err != nil:
		log.Error("scheduled run failed", zap.Error(err))
	}
}
