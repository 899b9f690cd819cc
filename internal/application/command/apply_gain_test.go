package command

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leveleando/leveleando-tg/internal/domain/leveling"
	"github.com/leveleando/leveleando-tg/internal/domain/progress"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
	"github.com/leveleando/leveleando-tg/internal/infrastructure/persistence/memory"
	"github.com/leveleando/leveleando-tg/pkg/timeutil"
)

var march15 = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

func newLedger(t *testing.T, store *memory.Store) *ApplyGainHandler {
	t.Helper()
	return NewApplyGainHandler(store, leveling.Default(), ApplyGainConfig{
		MaxAttempts: 10_000,
		Clock:       timeutil.NewFixedClock(march15),
	})
}

func seed(t *testing.T, store *memory.Store, rec progress.Record) {
	t.Helper()
	require.NoError(t, store.CompareAndSwap(context.Background(), rec, 0))
}

func TestApplyGain_CreatesRecord(t *testing.T) {
	store := memory.NewStore()
	ledger := newLedger(t, store)

	res, err := ledger.Handle(context.Background(), ApplyGainCommand{ChatID: -100, UserID: 1, Amount: 8})
	require.NoError(t, err)

	assert.Equal(t, 8, res.Record.XPMonthly)
	assert.Equal(t, 8, res.Record.XPLifetime)
	assert.Equal(t, shared.MonthTag("2024-03"), res.Record.MonthTag)
	assert.Equal(t, int64(1), res.Record.Version)
	assert.False(t, res.LeveledUp())

	stored, err := store.Get(context.Background(), progress.Key{ChatID: -100, UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, res.Record.XPMonthly, stored.XPMonthly)
	assert.Equal(t, res.Record.Version, stored.Version)
}

func TestApplyGain_ChainedLevelUp(t *testing.T) {
	store := memory.NewStore()
	ledger := newLedger(t, store)
	seed(t, store, progress.Record{
		ChatID: -100, UserID: 1,
		XPMonthly: 95, LevelMonthly: 1,
		XPLifetime: 95, LevelLifetime: 1,
		MonthTag: "2024-03",
	})

	res, err := ledger.Handle(context.Background(), ApplyGainCommand{ChatID: -100, UserID: 1, Amount: 140})
	require.NoError(t, err)

	assert.Equal(t, 28, res.Record.XPMonthly)
	assert.Equal(t, 3, res.Record.LevelMonthly)
	require.Len(t, res.LevelUps, 2)
	for _, ev := range res.LevelUps {
		assert.Equal(t, 3, ev.NewLevel)
		assert.Equal(t, 2, ev.LevelsGained)
	}
}

func TestApplyGain_ConcurrentEqualsSequential(t *testing.T) {
	start := progress.Record{
		ChatID: -100, UserID: 1,
		XPMonthly: 97, LevelMonthly: 1,
		XPLifetime: 97, LevelLifetime: 1,
		MonthTag: "2024-03",
	}

	sequential := memory.NewStore()
	seed(t, sequential, start)
	seqLedger := newLedger(t, sequential)
	var seqEvents int
	for _, amount := range []int{5, 8} {
		res, err := seqLedger.Handle(context.Background(), ApplyGainCommand{ChatID: -100, UserID: 1, Amount: amount})
		require.NoError(t, err)
		seqEvents += len(res.LevelUps)
	}

	concurrent := memory.NewStore()
	seed(t, concurrent, start)
	conLedger := newLedger(t, concurrent)
	var conEvents int64
	var wg sync.WaitGroup
	for _, amount := range []int{5, 8} {
		wg.Add(1)
		go func(amount int) {
			defer wg.Done()
			res, err := conLedger.Handle(context.Background(), ApplyGainCommand{ChatID: -100, UserID: 1, Amount: amount})
			if assert.NoError(t, err) {
				atomic.AddInt64(&conEvents, int64(len(res.LevelUps)))
			}
		}(amount)
	}
	wg.Wait()

	key := progress.Key{ChatID: -100, UserID: 1}
	want, err := sequential.Get(context.Background(), key)
	require.NoError(t, err)
	got, err := concurrent.Get(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, 10, want.XPMonthly)
	assert.Equal(t, 2, want.LevelMonthly)
	assert.Equal(t, want.XPMonthly, got.XPMonthly)
	assert.Equal(t, want.LevelMonthly, got.LevelMonthly)
	assert.Equal(t, want.XPLifetime, got.XPLifetime)
	assert.Equal(t, want.LevelLifetime, got.LevelLifetime)
	assert.Equal(t, int64(seqEvents), conEvents, "exactly one level-up per track")
}

func TestApplyGain_NoLostUpdates(t *testing.T) {
	store := memory.NewStore()
	ledger := newLedger(t, store)

	const writers = 50
	var wg sync.WaitGroup
	var levelUps int64
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ledger.Handle(context.Background(), ApplyGainCommand{ChatID: -100, UserID: 9, Amount: 10})
			if assert.NoError(t, err) {
				for _, ev := range res.LevelUps {
					if ev.Track == progress.TrackLifetime {
						atomic.AddInt64(&levelUps, int64(ev.LevelsGained))
					}
				}
			}
		}()
	}
	wg.Wait()

	rec, err := store.Get(context.Background(), progress.Key{ChatID: -100, UserID: 9})
	require.NoError(t, err)

	// 500 XP: 93 + 100 + 107 + 114 = 414 -> level 4 with 86 left.
	assert.Equal(t, 4, rec.LevelLifetime)
	assert.Equal(t, 86, rec.XPLifetime)
	assert.Equal(t, int64(4), levelUps)
	assert.Equal(t, int64(writers), rec.Version)
}

func TestApplyGain_DuplicateEventIsNoop(t *testing.T) {
	store := memory.NewStore()
	ledger := newLedger(t, store)
	cmd := ApplyGainCommand{ChatID: -100, UserID: 1, Amount: 9, EventID: "evt-1"}

	_, err := ledger.Handle(context.Background(), cmd)
	require.NoError(t, err)
	res, err := ledger.Handle(context.Background(), cmd)
	require.NoError(t, err)

	assert.True(t, res.Duplicate)
	assert.Equal(t, 9, res.Record.XPLifetime)
}

func TestApplyGain_StorageUnavailable(t *testing.T) {
	store := memory.NewStore()
	ledger := newLedger(t, store)
	store.SetFault(func(op string) error {
		if op == "CompareAndSwap" {
			return shared.StorageError("memory", op, assert.AnError)
		}
		return nil
	})

	_, err := ledger.Handle(context.Background(), ApplyGainCommand{ChatID: -100, UserID: 1, Amount: 9})
	require.Error(t, err)
	assert.True(t, shared.IsStorageUnavailable(err))
	assert.True(t, shared.IsRetryable(err))

	store.SetFault(nil)
	_, err = store.Get(context.Background(), progress.Key{ChatID: -100, UserID: 1})
	assert.True(t, shared.IsNotFound(err), "nothing committed")
}

func TestApplyGain_GivesUpAfterMaxAttempts(t *testing.T) {
	store := memory.NewStore()
	store.SetFault(func(op string) error {
		if op == "CompareAndSwap" {
			return shared.ErrVersionConflict
		}
		return nil
	})
	ledger := NewApplyGainHandler(store, leveling.Default(), ApplyGainConfig{MaxAttempts: 3})

	_, err := ledger.Handle(context.Background(), ApplyGainCommand{ChatID: -100, UserID: 1, Amount: 9})
	assert.ErrorIs(t, err, shared.ErrConcurrentModification)
}

func TestApplyGain_Validation(t *testing.T) {
	ledger := newLedger(t, memory.NewStore())

	_, err := ledger.Handle(context.Background(), ApplyGainCommand{ChatID: -100, UserID: 1, Amount: -1})
	assert.True(t, shared.IsInvariantViolation(err))

	_, err = ledger.Handle(context.Background(), ApplyGainCommand{ChatID: -100, Amount: 1})
	assert.True(t, shared.IsValidation(err))

	_, err = ledger.Handle(context.Background(), ApplyGainCommand{ChatID: -100, UserID: 1, Amount: 1, Month: "March"})
	assert.True(t, shared.IsValidation(err))
}
