// Package jobs holds the scheduled jobs LeveleandoTG registers.
package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leveleando/leveleando-tg/internal/application/command"
)

// MonthlyRolloverName is the job name and lease resource.
const MonthlyRolloverName = "monthly_rollover"

// MonthlyRolloverSpec fires at 00:05 on the first of every month. The lazy
// check on every message still closes months for chats that are active
// before the tick; the job covers quiet chats.
const MonthlyRolloverSpec = "5 0 1 * *"

// Sweeper runs the rollover for every configured chat.
type Sweeper interface {
	Sweep(ctx context.Context) (command.SweepResult, error)
}

// MonthlyRolloverJob closes the previous month for all chats.
type MonthlyRolloverJob struct {
	sweeper Sweeper
	logger  *slog.Logger
}

// NewMonthlyRolloverJob creates a new MonthlyRolloverJob.
func NewMonthlyRolloverJob(sweeper Sweeper, logger *slog.Logger) *MonthlyRolloverJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonthlyRolloverJob{
		sweeper: sweeper,
		logger:  logger.With("job", MonthlyRolloverName),
	}
}

func (j *MonthlyRolloverJob) Name() string { return MonthlyRolloverName }

func (j *MonthlyRolloverJob) Description() string {
	return "Closes the previous month in every configured chat and credits the top three"
}

// Run sweeps all chats. Per-chat failures are counted, not fatal, unless
// every chat failed.
func (j *MonthlyRolloverJob) Run(ctx context.Context) error {
	res, err := j.sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("monthly rollover: %w", err)
	}

	j.logger.Info("rollover sweep finished", "chats", res.Chats, "failed", res.Failed)
	if res.Chats > 0 && res.Failed == res.Chats {
		return fmt.Errorf("monthly rollover: all %d chats failed", res.Chats)
	}
	return nil
}
