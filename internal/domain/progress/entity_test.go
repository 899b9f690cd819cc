package progress

import (
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leveleando/leveleando-tg/internal/domain/leveling"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
)

const march = shared.MonthTag("2024-03")

func TestApplyGain_ChainedOnMonthlyOnly(t *testing.T) {
	l := leveling.Default()
	rec := Record{
		ChatID: -100, UserID: 7,
		XPMonthly: 95, LevelMonthly: 1,
		XPLifetime: 50, LevelLifetime: 5,
		MonthTag: march, Version: 3,
	}

	next, events, err := rec.ApplyGain(l, 140, march)
	require.NoError(t, err)

	assert.Equal(t, 28, next.XPMonthly)
	assert.Equal(t, 3, next.LevelMonthly)
	// lifetime threshold at level 5 is 128: 190-128 = 62 < 135
	assert.Equal(t, 62, next.XPLifetime)
	assert.Equal(t, 6, next.LevelLifetime)

	require.Len(t, events, 2)
	assert.Equal(t, LevelUpEvent{Track: TrackMonthly, NewLevel: 3, LevelsGained: 2}, events[0])
	assert.Equal(t, LevelUpEvent{Track: TrackLifetime, NewLevel: 6, LevelsGained: 1}, events[1])
	assert.Equal(t, 2, events[0].FirstLevel())

	assert.Equal(t, 95, rec.XPMonthly, "receiver is not mutated")
}

func TestApplyGain_NormalizesStaleMonth(t *testing.T) {
	l := leveling.Default()
	rec := Record{
		ChatID: -100, UserID: 7,
		XPMonthly: 40, LevelMonthly: 4,
		XPLifetime: 40, LevelLifetime: 9,
		MonthTag: "2024-02",
	}

	next, events, err := rec.ApplyGain(l, 10, march)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, march, next.MonthTag)
	assert.Equal(t, 10, next.XPMonthly)
	assert.Equal(t, 0, next.LevelMonthly)
	assert.Equal(t, 50, next.XPLifetime)
	assert.Equal(t, 9, next.LevelLifetime)
}

func TestApplyGain_RejectsNegative(t *testing.T) {
	rec := NewRecord(Key{ChatID: -1, UserID: 1}, march)
	_, _, err := rec.ApplyGain(leveling.Default(), -5, march)
	assert.ErrorIs(t, err, shared.ErrInvariantViolation)
}

func TestApplyGain_RejectsCorruptRecord(t *testing.T) {
	rec := Record{ChatID: -1, UserID: 1, XPLifetime: -10, MonthTag: march}
	_, _, err := rec.ApplyGain(leveling.Default(), 1, march)
	assert.True(t, shared.IsInvariantViolation(err))
}

func TestRanksBefore_DeterministicTies(t *testing.T) {
	records := []Record{
		{ChatID: -1, UserID: 30, LevelMonthly: 2, XPMonthly: 10},
		{ChatID: -1, UserID: 10, LevelMonthly: 2, XPMonthly: 10},
		{ChatID: -1, UserID: 20, LevelMonthly: 3, XPMonthly: 0},
		{ChatID: -1, UserID: 40, LevelMonthly: 2, XPMonthly: 50},
	}

	for i := 0; i < 5; i++ {
		shuffled := append([]Record(nil), records...)
		sort.Slice(shuffled, func(a, b int) bool { return RanksBefore(shuffled[a], shuffled[b], TrackMonthly) })

		var ids []shared.UserID
		for _, r := range shuffled {
			ids = append(ids, r.UserID)
		}
		assert.Equal(t, []shared.UserID{20, 40, 10, 30}, ids)
		records[0], records[3] = records[3], records[0]
	}
}

func TestRecord_JSONPreservesFields(t *testing.T) {
	rec := Record{
		ChatID: -1001234, UserID: 42,
		XPMonthly: 12, LevelMonthly: 3,
		XPLifetime: 99, LevelLifetime: 17,
		MonthTag: march, Version: 8,
		LastEventID: "evt-1",
		UpdatedAt:   time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded Record
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, rec, decoded)
}

func TestParseTrack(t *testing.T) {
	tr, err := ParseTrack("lifetime")
	require.NoError(t, err)
	assert.Equal(t, TrackLifetime, tr)

	_, err = ParseTrack("weekly")
	assert.True(t, shared.IsValidation(err))
}

func TestKey(t *testing.T) {
	k := Key{ChatID: -100, UserID: 5}
	assert.Equal(t, "-100_5", k.String())
	assert.NoError(t, k.Validate())
	assert.Error(t, Key{ChatID: -100}.Validate())
	assert.True(t, Key{ChatID: -100, UserID: 1}.Less(k))
}
