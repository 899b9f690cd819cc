package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leveleando/leveleando-tg/internal/application/command"
	"github.com/leveleando/leveleando-tg/internal/domain/chat"
	"github.com/leveleando/leveleando-tg/internal/domain/leveling"
	"github.com/leveleando/leveleando-tg/internal/domain/notification"
	"github.com/leveleando/leveleando-tg/internal/domain/progress"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
	"github.com/leveleando/leveleando-tg/internal/infrastructure/persistence/memory"
	"github.com/leveleando/leveleando-tg/pkg/timeutil"
)

var now = time.Date(2024, time.March, 10, 18, 0, 0, 0, time.UTC)

type recordingSender struct {
	mu   sync.Mutex
	sent []notification.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg notification.Message) (notification.DeliveryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return notification.DeliveryResult{}, s.err
	}
	s.sent = append(s.sent, msg)
	return notification.DeliveryResult{MessageID: len(s.sent), DeliveredAt: now}, nil
}

func (s *recordingSender) messages() []notification.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.Message(nil), s.sent...)
}

type recordingNames struct {
	names map[shared.UserID]string
}

func (r *recordingNames) RememberName(_ context.Context, _ shared.ChatID, userID shared.UserID, name string) error {
	r.names[userID] = name
	return nil
}

type activityFixture struct {
	store   *memory.Store
	sender  *recordingSender
	names   *recordingNames
	handler *OnActivityHandler
}

func newActivityFixture(t *testing.T, gain int, thread *int) *activityFixture {
	t.Helper()
	store := memory.NewStore()
	clock := timeutil.NewFixedClock(now)

	cfg := chat.NewConfig(-100, "2024-03", now)
	_, err := store.Register(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, store.SetAlertThread(context.Background(), -100, thread))

	months := command.NewEnsureMonthHandler(store.Chats(), store, command.EnsureMonthConfig{Clock: clock})
	ledger := command.NewApplyGainHandler(store, leveling.Default(), command.ApplyGainConfig{Clock: clock})
	sender := &recordingSender{}
	names := &recordingNames{names: map[shared.UserID]string{}}

	return &activityFixture{
		store:  store,
		sender: sender,
		names:  names,
		handler: NewOnActivityHandler(store.Chats(), months, ledger, sender, ActivityConfig{
			Gains: FixedGain(gain),
			Names: names,
			Clock: clock,
		}),
	}
}

func TestOnActivity_DiscardsBots(t *testing.T) {
	f := newActivityFixture(t, 10, nil)

	res, err := f.handler.Handle(context.Background(), ActivityEvent{ChatID: -100, UserID: 1, IsBot: true})
	require.NoError(t, err)
	assert.Equal(t, StateDiscardedBot, res.State)

	_, err = f.store.Get(context.Background(), progress.Key{ChatID: -100, UserID: 1})
	assert.True(t, shared.IsNotFound(err))
}

func TestOnActivity_DiscardsUnconfiguredChat(t *testing.T) {
	f := newActivityFixture(t, 10, nil)

	res, err := f.handler.Handle(context.Background(), ActivityEvent{ChatID: -999, UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, StateDiscardedUnconfigured, res.State)
	assert.Empty(t, f.sender.messages())
}

func TestOnActivity_AccruesWithoutLevelUp(t *testing.T) {
	f := newActivityFixture(t, 8, nil)

	res, err := f.handler.Handle(context.Background(), ActivityEvent{ChatID: -100, UserID: 1, DisplayName: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, StateNoLevelUp, res.State)
	assert.Equal(t, 8, res.Record.XPMonthly)
	assert.Empty(t, f.sender.messages())
	assert.Equal(t, "Ana", f.names.names[1])
}

func TestOnActivity_ChainedLevelUpOnBothTracksSendsOneCongratulation(t *testing.T) {
	thread := 77
	f := newActivityFixture(t, 140, &thread)
	require.NoError(t, f.store.CompareAndSwap(context.Background(), progress.Record{
		ChatID: -100, UserID: 5,
		XPMonthly: 95, LevelMonthly: 1,
		XPLifetime: 5, LevelLifetime: 7,
		MonthTag: "2024-03",
	}, 0))
	require.NoError(t, f.store.SetReward(context.Background(), chat.Reward{ChatID: -100, Level: 3, Text: "Rol Bronce"}))
	require.NoError(t, f.store.SetReward(context.Background(), chat.Reward{ChatID: -100, Level: 2, Text: "nunca"}))

	res, err := f.handler.Handle(context.Background(), ActivityEvent{ChatID: -100, UserID: 5, DisplayName: "Beto"})
	require.NoError(t, err)
	assert.Equal(t, StateNotified, res.State)
	assert.Equal(t, 28, res.Record.XPMonthly)
	assert.Equal(t, 3, res.Record.LevelMonthly)
	require.Len(t, res.LevelUps, 2, "monthly 1->3 and lifetime 7->8")

	msgs := f.sender.messages()
	// one congratulation for the final monthly level, then the level 3 reward;
	// level 8 has no reward.
	require.Len(t, msgs, 2)

	assert.Equal(t, notification.KindLevelUp, msgs[0].Kind)
	assert.Contains(t, msgs[0].Text, "nivel 3")
	assert.Contains(t, msgs[0].Text, "Beto")
	assert.True(t, msgs[0].HTML)

	assert.Equal(t, notification.KindReward, msgs[1].Kind)
	assert.Equal(t, "Rol Bronce", msgs[1].Text)
	assert.False(t, msgs[1].HTML)

	for _, m := range msgs {
		id, ok := m.Destination()
		assert.True(t, ok)
		assert.Equal(t, 77, id)
		assert.Equal(t, shared.ChatID(-100), m.ChatID)
		assert.NotContains(t, m.Text, "nunca", "no reward for intermediate levels")
	}
}

func TestOnActivity_FirstLevelOnBothTracksSendsOneCongratulation(t *testing.T) {
	f := newActivityFixture(t, 140, nil)

	res, err := f.handler.Handle(context.Background(), ActivityEvent{ChatID: -100, UserID: 3, DisplayName: "Caro"})
	require.NoError(t, err)
	require.Len(t, res.LevelUps, 2)

	var congrats int
	for _, m := range f.sender.messages() {
		if m.Kind == notification.KindLevelUp {
			congrats++
		}
	}
	assert.Equal(t, 1, congrats)
	assert.Equal(t, 1, res.Sent)
}

func TestOnActivity_LifetimeOnlyLevelUpIsCongratulated(t *testing.T) {
	f := newActivityFixture(t, 10, nil)
	require.NoError(t, f.store.CompareAndSwap(context.Background(), progress.Record{
		ChatID: -100, UserID: 6,
		XPMonthly: 20, LevelMonthly: 0,
		XPLifetime: 138, LevelLifetime: 7,
		MonthTag: "2024-03",
	}, 0))

	res, err := f.handler.Handle(context.Background(), ActivityEvent{ChatID: -100, UserID: 6, DisplayName: "Dani"})
	require.NoError(t, err)
	require.Len(t, res.LevelUps, 1)
	assert.Equal(t, progress.TrackLifetime, res.LevelUps[0].Track)

	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "nivel histórico 8")
}

func TestCongratulationFrom(t *testing.T) {
	_, ok := CongratulationFrom(nil)
	assert.False(t, ok)

	c, ok := CongratulationFrom([]progress.LevelUpEvent{
		{Track: progress.TrackMonthly, NewLevel: 2, LevelsGained: 2},
		{Track: progress.TrackLifetime, NewLevel: 4, LevelsGained: 1},
	})
	require.True(t, ok)
	assert.Equal(t, 2, c.Monthly.NewLevel)
	assert.Equal(t, 4, c.Lifetime.NewLevel)
}

func TestOnActivity_SameLevelOnBothTracksRewardsOnce(t *testing.T) {
	f := newActivityFixture(t, 93, nil)
	require.NoError(t, f.store.SetReward(context.Background(), chat.Reward{ChatID: -100, Level: 1, Text: "Bienvenido"}))

	res, err := f.handler.Handle(context.Background(), ActivityEvent{ChatID: -100, UserID: 1})
	require.NoError(t, err)
	require.Len(t, res.LevelUps, 2)

	var rewards int
	for _, m := range f.sender.messages() {
		if m.Kind == notification.KindReward {
			rewards++
		}
		_, ok := m.Destination()
		assert.False(t, ok, "default stream when no thread is set")
	}
	assert.Equal(t, 1, rewards)
	assert.Equal(t, 2, res.Sent, "one congratulation and one reward")
}

func TestOnActivity_NotificationFailureIsSwallowed(t *testing.T) {
	f := newActivityFixture(t, 100, nil)
	f.sender.err = shared.ErrBotForbidden

	res, err := f.handler.Handle(context.Background(), ActivityEvent{ChatID: -100, UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, StateNotified, res.State)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Sent)

	rec, err := f.store.Get(context.Background(), progress.Key{ChatID: -100, UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.LevelMonthly, "ledger mutation kept")
	assert.Equal(t, 7, rec.XPMonthly)
}

func TestOnActivity_RewardLookupFailureIsSwallowed(t *testing.T) {
	f := newActivityFixture(t, 100, nil)
	f.store.SetFault(func(op string) error {
		if op == "GetReward" {
			return shared.StorageError("memory", op, errors.New("connection reset"))
		}
		return nil
	})

	res, err := f.handler.Handle(context.Background(), ActivityEvent{ChatID: -100, UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}

func TestOnActivity_StorageFailureBeforeCommitIsReturned(t *testing.T) {
	f := newActivityFixture(t, 10, nil)
	f.store.SetFault(func(op string) error {
		if op == "CompareAndSwap" {
			return shared.StorageError("memory", op, errors.New("timeout"))
		}
		return nil
	})

	_, err := f.handler.Handle(context.Background(), ActivityEvent{ChatID: -100, UserID: 1})
	assert.True(t, shared.IsRetryable(err))
}

func TestOnActivity_RedeliveryIsIdempotent(t *testing.T) {
	f := newActivityFixture(t, 100, nil)
	ev := ActivityEvent{EventID: "update-42", ChatID: -100, UserID: 1}

	_, err := f.handler.Handle(context.Background(), ev)
	require.NoError(t, err)
	res, err := f.handler.Handle(context.Background(), ev)
	require.NoError(t, err)

	assert.Equal(t, StateDuplicate, res.State)
	assert.Len(t, f.sender.messages(), 1, "no second congratulation")
}

func TestGainRange(t *testing.T) {
	g := DefaultGainRange()
	require.NoError(t, g.Validate())
	for i := 0; i < 200; i++ {
		text := g.Roll(false)
		assert.GreaterOrEqual(t, text, 7)
		assert.LessOrEqual(t, text, 10)

		media := g.Roll(true)
		assert.GreaterOrEqual(t, media, 30)
		assert.LessOrEqual(t, media, 50)
	}

	assert.Error(t, GainRange{TextMin: 5, TextMax: 1, MediaMin: 1, MediaMax: 2}.Validate())
}
