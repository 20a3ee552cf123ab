package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/orchestrator"
)

// Launcher is the orchestrator surface the scheduler drives.
type Launcher interface {
	HasWork(ctx context.Context, t model.JobType) (bool, error)
	Trigger(ctx context.Context, t model.JobType, params any, source model.TriggerSource) (*model.Job, error)
}

// Scheduler triggers auto-enabled job types on a fixed interval.
type Scheduler struct {
	launcher Launcher
	settings SettingsSource
	interval time.Duration
	types    []model.JobType
}

// New creates a scheduler. A non-positive interval defaults to one minute.
func New(l Launcher, s SettingsSource, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		launcher: l,
		settings: s,
		interval: interval,
		types:    model.JobTypes,
	}
}

// Run ticks until ctx is cancelled. The first tick happens immediately.
func (s *Scheduler) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "scheduler"))
	log.Info("starting scheduler", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			log.Error("scheduler: tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick reads one settings snapshot and triggers every enabled job type
// that has work and no active job. It returns the jobs it created.
func (s *Scheduler) Tick(ctx context.Context) ([]model.Job, error) {
	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.MasterEnabled {
		zap.L().Debug("scheduler: master switch off")
		return nil, nil
	}

	var started []model.Job
	var errs []error
	for _, t := range s.types {
		if !settings.AutoEnabled(t) {
			continue
		}
		log := zap.L().With(zap.String("job_type", string(t)))

		ok, err := s.launcher.HasWork(ctx, t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			log.Debug("scheduler: nothing eligible")
			continue
		}

		job, err := s.launcher.Trigger(ctx, t, paramsFor(t, settings), model.TriggerScheduler)
		switch {
		case errors.Is(err, orchestrator.ErrAlreadyRunning):
			log.Debug("scheduler: job already active")
		case err != nil:
			errs = append(errs, eris.Wrapf(err, "scheduler: trigger %s", t))
		default:
			log.Info("scheduler: job triggered", zap.String("job_id", job.ID))
			started = append(started, *job)
		}
	}
	return started, errors.Join(errs...)
}

func paramsFor(t model.JobType, s model.Settings) any {
	if t == model.JobDiscover {
		return s.Discover
	}
	return model.BatchParams{}
}
