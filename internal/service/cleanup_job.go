package service

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultCleanupSchedule = "@every 5m"

type codeCleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// CleanupJob purges expired one-time codes on a cron schedule.
type CleanupJob struct {
	cleaner  codeCleaner
	schedule cron.Schedule
	spec     string
	logger   *zap.Logger
}

// NewCleanupJob accepts standard five-field cron specs and descriptors such
// as "@hourly" or "@every 5m".
func NewCleanupJob(cleaner codeCleaner, spec string, logger *zap.Logger) (*CleanupJob, error) {
	if cleaner == nil {
		return nil, fmt.Errorf("cleaner is required")
	}
	if spec == "" {
		spec = defaultCleanupSchedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CleanupJob{
		cleaner:  cleaner,
		schedule: schedule,
		spec:     spec,
		logger:   logger,
	}, nil
}

// Start runs one cleanup immediately, then on every schedule tick until ctx
// is cancelled. It waits for an in-flight run before returning.
func (j *CleanupJob) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	j.run(ctx)

	c := cron.New()
	c.Schedule(j.schedule, cron.FuncJob(func() { j.run(ctx) }))
	c.Start()
	j.logger.Info("otp cleanup scheduled", zap.String("schedule", j.spec))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (j *CleanupJob) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	deleted, err := j.cleaner.Cleanup(ctx)
	if err != nil {
		if ctx.Err() == nil {
			j.logger.Error("scheduled otp cleanup failed", zap.Error(err))
		}
		return
	}
	if deleted > 0 {
		j.logger.Info("scheduled otp cleanup completed", zap.Int64("deleted", deleted))
	}
}
