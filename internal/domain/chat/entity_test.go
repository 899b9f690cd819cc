package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leveleando/leveleando-tg/internal/domain/shared"
)

func TestConfig_RolloverStates(t *testing.T) {
	cfg := NewConfig(-100, "2024-03", time.Now())

	assert.False(t, cfg.NeedsClaim("2024-03"))
	assert.False(t, cfg.NeedsCompletion("2024-03"))
	assert.True(t, cfg.NeedsClaim("2024-04"))

	cfg.LastRolloverMonth = "2024-04"
	assert.False(t, cfg.NeedsClaim("2024-04"))
	assert.True(t, cfg.NeedsCompletion("2024-04"))

	// Same month across different years must not be conflated.
	cfg = NewConfig(-100, "2023-04", time.Now())
	assert.True(t, cfg.NeedsClaim("2024-04"))
}

func TestConfig_ThreadID(t *testing.T) {
	cfg := NewConfig(-100, "2024-03", time.Now())
	_, ok := cfg.ThreadID()
	assert.False(t, ok)

	thread := 55
	cfg.AlertThread = &thread
	id, ok := cfg.ThreadID()
	assert.True(t, ok)
	assert.Equal(t, 55, id)
}

func TestNewReward(t *testing.T) {
	r, err := NewReward(-100, 5, "  Rol VIP  ", 100)
	require.NoError(t, err)
	assert.Equal(t, "Rol VIP", r.Text)

	_, err = NewReward(-100, 5, "   ", 100)
	assert.ErrorIs(t, err, shared.ErrEmptyReward)

	_, err = NewReward(-100, 0, "x", 100)
	assert.True(t, shared.IsValidation(err))

	_, err = NewReward(-100, 101, "x", 100)
	assert.True(t, shared.IsValidation(err))
}
