package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leveleando/leveleando-tg/internal/application/command"
	"github.com/leveleando/leveleando-tg/pkg/logger"
)

type stubSweeper struct {
	res   command.SweepResult
	err   error
	calls int
}

func (s *stubSweeper) Sweep(context.Context) (command.SweepResult, error) {
	s.calls++
	return s.res, s.err
}

func TestMonthlyRolloverJob(t *testing.T) {
	t.Run("partial failure is not an error", func(t *testing.T) {
		s := &stubSweeper{res: command.SweepResult{Chats: 3, Failed: 1}}
		job := NewMonthlyRolloverJob(s, logger.Discard())

		require.NoError(t, job.Run(context.Background()))
		assert.Equal(t, 1, s.calls)
		assert.Equal(t, MonthlyRolloverName, job.Name())
		assert.NotEmpty(t, job.Description())
	})

	t.Run("every chat failing is an error", func(t *testing.T) {
		s := &stubSweeper{res: command.SweepResult{Chats: 2, Failed: 2}}
		assert.Error(t, NewMonthlyRolloverJob(s, logger.Discard()).Run(context.Background()))
	})

	t.Run("no chats is fine", func(t *testing.T) {
		s := &stubSweeper{}
		assert.NoError(t, NewMonthlyRolloverJob(s, logger.Discard()).Run(context.Background()))
	})

	t.Run("list failure propagates", func(t *testing.T) {
		boom := errors.New("db down")
		s := &stubSweeper{err: boom}
		assert.ErrorIs(t, NewMonthlyRolloverJob(s, logger.Discard()).Run(context.Background()), boom)
	})
}
