package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leveleando/leveleando-tg/internal/application/command"
	"github.com/leveleando/leveleando-tg/internal/domain/chat"
	"github.com/leveleando/leveleando-tg/internal/domain/progress"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
	"github.com/leveleando/leveleando-tg/internal/infrastructure/persistence/memory"
	"github.com/leveleando/leveleando-tg/pkg/timeutil"
)

var now = time.Date(2024, time.March, 20, 9, 0, 0, 0, time.UTC)

type stubNames map[shared.UserID]string

func (s stubNames) DisplayName(_ context.Context, _ shared.ChatID, userID shared.UserID) (string, error) {
	name, ok := s[userID]
	if !ok {
		return "", errors.New("user not found")
	}
	return name, nil
}

type fixture struct {
	store  *memory.Store
	clock  *timeutil.FixedClock
	months *command.EnsureMonthHandler
}

func newFixture(t *testing.T, users int) *fixture {
	t.Helper()
	store := memory.NewStore()
	clock := timeutil.NewFixedClock(now)
	_, err := store.Register(context.Background(), chat.NewConfig(-100, "2024-03", now))
	require.NoError(t, err)

	for i := 1; i <= users; i++ {
		rec := progress.NewRecord(progress.Key{ChatID: -100, UserID: shared.UserID(i)}, "2024-03")
		rec.LevelMonthly = i % 4
		rec.XPMonthly = 1 + i%3
		rec.LevelLifetime = i
		rec.XPLifetime = 1
		require.NoError(t, store.CompareAndSwap(context.Background(), rec, 0))
	}

	return &fixture{
		store:  store,
		clock:  clock,
		months: command.NewEnsureMonthHandler(store.Chats(), store, command.EnsureMonthConfig{Clock: clock}),
	}
}

func (f *fixture) handler(names NameResolver) *GetLeaderboardHandler {
	return NewGetLeaderboardHandler(f.store, f.months, names, f.clock, nil)
}

func TestGetLeaderboard_ClampsPages(t *testing.T) {
	f := newFixture(t, 25)
	h := f.handler(nil)

	res, err := h.Handle(context.Background(), GetLeaderboardQuery{ChatID: -100, Page: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, 3, res.TotalPages)
	assert.Equal(t, 25, res.Total)
	assert.Len(t, res.Entries, 10)
	assert.Equal(t, 1, res.Entries[0].Position)

	res, err = h.Handle(context.Background(), GetLeaderboardQuery{ChatID: -100, Page: 9999})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Page)
	assert.Len(t, res.Entries, 5)
	assert.Equal(t, 21, res.Entries[0].Position)
	assert.True(t, res.HasPrev())
	assert.False(t, res.HasNext())
}

func TestGetLeaderboard_EmptyChatHasOnePage(t *testing.T) {
	f := newFixture(t, 0)

	res, err := f.handler(nil).Handle(context.Background(), GetLeaderboardQuery{ChatID: -100, Page: 4})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, 1, res.TotalPages)
	assert.Empty(t, res.Entries)
	assert.Equal(t, 11*24*time.Hour+15*time.Hour, res.ClosesIn)
}

func TestGetLeaderboard_OrderAndTies(t *testing.T) {
	f := newFixture(t, 12)
	h := f.handler(nil)

	first, err := h.Handle(context.Background(), GetLeaderboardQuery{ChatID: -100, Page: 1})
	require.NoError(t, err)

	for i := 1; i < len(first.Entries); i++ {
		prev, cur := first.Entries[i-1], first.Entries[i]
		if prev.Level == cur.Level {
			if prev.XP == cur.XP {
				assert.Less(t, prev.UserID.Int64(), cur.UserID.Int64())
			} else {
				assert.Greater(t, prev.XP, cur.XP)
			}
		} else {
			assert.Greater(t, prev.Level, cur.Level)
		}
	}

	for i := 0; i < 5; i++ {
		again, err := h.Handle(context.Background(), GetLeaderboardQuery{ChatID: -100, Page: 1})
		require.NoError(t, err)
		assert.Equal(t, first.Entries, again.Entries)
	}
}

func TestGetLeaderboard_NameFallback(t *testing.T) {
	f := newFixture(t, 3)
	h := f.handler(stubNames{1: "Ana", 2: "Beto"})

	res, err := h.Handle(context.Background(), GetLeaderboardQuery{ChatID: -100, Track: progress.TrackLifetime})
	require.NoError(t, err)
	require.Len(t, res.Entries, 3)

	// Lifetime level equals the user id, so the order is 3, 2, 1.
	assert.Equal(t, "User 3", res.Entries[0].DisplayName)
	assert.Equal(t, "Beto", res.Entries[1].DisplayName)
	assert.Equal(t, "Ana", res.Entries[2].DisplayName)
	assert.Equal(t, 3, res.Entries[0].Level)
}

func TestGetLeaderboard_MonthlyTriggersRollover(t *testing.T) {
	f := newFixture(t, 5)
	f.clock.Set(time.Date(2024, time.April, 1, 8, 0, 0, 0, time.UTC))

	res, err := f.handler(nil).Handle(context.Background(), GetLeaderboardQuery{ChatID: -100})
	require.NoError(t, err)
	assert.Equal(t, shared.MonthTag("2024-04"), res.Month)
	assert.Zero(t, res.Total, "monthly ranking starts empty after rollover")

	cfg, err := f.store.GetChat(context.Background(), -100)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.MonthsElapsed)

	lifetime, err := f.handler(nil).Handle(context.Background(), GetLeaderboardQuery{ChatID: -100, Track: progress.TrackLifetime})
	require.NoError(t, err)
	assert.Equal(t, 5, lifetime.Total)
}

func TestGetLeaderboard_StorageFailure(t *testing.T) {
	f := newFixture(t, 3)
	f.store.SetFault(func(op string) error {
		if op == "Page" {
			return shared.StorageError("memory", op, assert.AnError)
		}
		return nil
	})

	res, err := f.handler(nil).Handle(context.Background(), GetLeaderboardQuery{ChatID: -100})
	assert.Nil(t, res)
	assert.True(t, shared.IsStorageUnavailable(err))
}

func TestGetLeaderboard_RejectsUnknownTrack(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.handler(nil).Handle(context.Background(), GetLeaderboardQuery{ChatID: -100, Track: "weekly"})
	assert.True(t, shared.IsValidation(err))
}
