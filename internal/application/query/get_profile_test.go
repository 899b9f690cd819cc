package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leveleando/leveleando-tg/internal/domain/leveling"
	"github.com/leveleando/leveleando-tg/internal/domain/progress"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
)

func (f *fixture) profileHandler() *GetProfileHandler {
	return NewGetProfileHandler(f.store, f.store, f.store.Chats(), f.months, leveling.Default(), f.clock, nil)
}

func TestGetProfile(t *testing.T) {
	f := newFixture(t, 6)
	h := f.profileHandler()

	// User 3: monthly level 3, xp 1. Users ahead: none at level 3 with more XP.
	p, err := h.Handle(context.Background(), GetProfileQuery{ChatID: -100, UserID: 3})
	require.NoError(t, err)

	assert.Equal(t, 3, p.LevelMonthly)
	assert.Equal(t, 1, p.XPMonthly)
	assert.Equal(t, 114, p.MonthlyThreshold)
	assert.Equal(t, 113, p.XPToNext)
	assert.Equal(t, 1, p.Position)
	assert.Equal(t, 6, p.Total)
	assert.Equal(t, 3, p.LevelLifetime)
	assert.False(t, p.MaxLevel)
}

func TestGetProfile_UnknownUser(t *testing.T) {
	f := newFixture(t, 2)

	p, err := f.profileHandler().Handle(context.Background(), GetProfileQuery{ChatID: -100, UserID: 77})
	require.NoError(t, err)
	assert.Zero(t, p.XPMonthly)
	assert.Zero(t, p.Position)
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, 93, p.XPToNext)
}

func TestGetProfile_AfterRolloverShowsHistory(t *testing.T) {
	f := newFixture(t, 6)
	f.clock.Set(time.Date(2024, time.April, 3, 0, 0, 0, 0, time.UTC))

	p, err := f.profileHandler().Handle(context.Background(), GetProfileQuery{ChatID: -100, UserID: 3})
	require.NoError(t, err)
	assert.Equal(t, shared.MonthTag("2024-04"), p.Month)
	assert.Zero(t, p.LevelMonthly)
	assert.Equal(t, 1, p.Top3Count)
	assert.Equal(t, 3, p.LevelLifetime)
}

func TestGetProfile_StaleRecordReadsAsZero(t *testing.T) {
	f := newFixture(t, 0)
	rec := progress.NewRecord(progress.Key{ChatID: -555, UserID: 1}, "2024-01")
	rec.LevelMonthly, rec.XPMonthly = 4, 20
	require.NoError(t, f.store.CompareAndSwap(context.Background(), rec, 0))

	// Chat -555 is not configured: no rollover, but the monthly view is still current.
	p, err := f.profileHandler().Handle(context.Background(), GetProfileQuery{ChatID: -555, UserID: 1})
	require.NoError(t, err)
	assert.Zero(t, p.LevelMonthly)
	assert.Zero(t, p.XPMonthly)
}
