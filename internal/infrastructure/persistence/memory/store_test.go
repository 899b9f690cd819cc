package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leveleando/leveleando-tg/internal/domain/chat"
	"github.com/leveleando/leveleando-tg/internal/domain/progress"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
)

func TestCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	key := progress.Key{ChatID: -1, UserID: 1}
	rec := progress.NewRecord(key, "2024-03")
	rec.XPMonthly = 5

	require.NoError(t, s.CompareAndSwap(ctx, rec, 0))
	assert.ErrorIs(t, s.CompareAndSwap(ctx, rec, 0), shared.ErrConcurrentModification, "insert over existing row")

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	got.XPMonthly = 9
	require.NoError(t, s.CompareAndSwap(ctx, got, 1))
	assert.ErrorIs(t, s.CompareAndSwap(ctx, got, 1), shared.ErrVersionConflict, "stale version")

	_, err = s.Get(ctx, progress.Key{ChatID: -1, UserID: 2})
	assert.True(t, shared.IsNotFound(err))
}

func TestClaimRollover_SingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_, err := s.Register(ctx, chat.NewConfig(-1, "2024-03", time.Now()))
	require.NoError(t, err)

	for uid, lvl := range map[shared.UserID]int{1: 2, 2: 5, 3: 1, 4: 5} {
		rec := progress.NewRecord(progress.Key{ChatID: -1, UserID: uid}, "2024-03")
		rec.LevelMonthly = lvl
		rec.XPMonthly = 3
		require.NoError(t, s.CompareAndSwap(ctx, rec, 0))
	}

	won, err := s.ClaimRollover(ctx, -1, "2024-03", "2024-04")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.ClaimRollover(ctx, -1, "2024-03", "2024-04")
	require.NoError(t, err)
	assert.False(t, won)

	standings, err := s.Standings(ctx, -1, "2024-04")
	require.NoError(t, err)
	require.Len(t, standings, 3)
	assert.Equal(t, shared.UserID(2), standings[0].UserID)
	assert.Equal(t, shared.UserID(4), standings[1].UserID)
	assert.Equal(t, shared.UserID(1), standings[2].UserID)

	n, err := s.CreditStandings(ctx, -1, "2024-04")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = s.CreditStandings(ctx, -1, "2024-04")
	require.NoError(t, err)
	assert.Zero(t, n)

	h, err := s.Chats().GetHistory(ctx, -1, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Top3Count)
}

func TestClaimRollover_IgnoresOtherMonths(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_, err := s.Register(ctx, chat.NewConfig(-1, "2024-03", time.Now()))
	require.NoError(t, err)

	for uid, tag := range map[shared.UserID]shared.MonthTag{1: "2024-03", 2: "2023-05", 3: "2024-02"} {
		rec := progress.NewRecord(progress.Key{ChatID: -1, UserID: uid}, tag)
		rec.LevelMonthly, rec.XPMonthly = int(uid), 1
		require.NoError(t, s.CompareAndSwap(ctx, rec, 0))
	}

	won, err := s.ClaimRollover(ctx, -1, "2024-03", "2024-04")
	require.NoError(t, err)
	require.True(t, won)

	standings, err := s.Standings(ctx, -1, "2024-04")
	require.NoError(t, err)
	require.Len(t, standings, 1)
	assert.Equal(t, shared.UserID(1), standings[0].UserID)
}

func TestFaultInjection(t *testing.T) {
	s := NewStore()
	s.SetFault(func(op string) error {
		if op == "Get" {
			return shared.StorageError("memory", op, assert.AnError)
		}
		return nil
	})

	_, err := s.Get(context.Background(), progress.Key{ChatID: -1, UserID: 1})
	assert.True(t, shared.IsStorageUnavailable(err))

	s.SetFault(nil)
	_, err = s.Get(context.Background(), progress.Key{ChatID: -1, UserID: 1})
	assert.True(t, shared.IsNotFound(err))
}
