// Package eventhandler содержит обработчики входящих событий чата.
// Обработчики связывают шлюз сообщений с бухгалтерией опыта и
// запускают побочные эффекты: поздравления и тексты наград.
package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/leveleando/leveleando-tg/internal/application/command"
	"github.com/leveleando/leveleando-tg/internal/domain/chat"
	"github.com/leveleando/leveleando-tg/internal/domain/notification"
	"github.com/leveleando/leveleando-tg/internal/domain/progress"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
	"github.com/leveleando/leveleando-tg/pkg/timeutil"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ACTIVITY HANDLER
// Каждое сообщение участника проходит путь:
//   Received -> LedgerUpdated -> {LevelUpDetected | NoLevelUp}
//   -> NotificationsDispatched -> Done
// Сообщения ботов и сообщения в ненастроенных чатах отбрасываются сразу.
// Ошибки отправки уведомлений логируются и не откатывают начисление.
// ═══════════════════════════════════════════════════════════════════════════

// ActivityEvent - одно сообщение участника чата.
type ActivityEvent struct {
	// EventID - идентификатор для защиты от повторной доставки.
	EventID string

	ChatID shared.ChatID
	UserID shared.UserID

	// DisplayName - полное имя отправителя, как его видит шлюз.
	DisplayName string

	IsBot    bool
	HasMedia bool

	Timestamp time.Time
}

// Key возвращает ключ записи прогресса.
func (e ActivityEvent) Key() progress.Key {
	return progress.Key{ChatID: e.ChatID, UserID: e.UserID}
}

// State - финальное состояние обработки события.
type State string

const (
	StateDiscardedBot          State = "discarded_bot"
	StateDiscardedUnconfigured State = "discarded_unconfigured"
	StateDuplicate             State = "duplicate"
	StateNoLevelUp             State = "no_level_up"
	StateNotified              State = "notified"
)

// ActivityResult - итог обработки события.
type ActivityResult struct {
	State    State
	Gain     int
	Record   progress.Record
	LevelUps []progress.LevelUpEvent

	// Sent и Failed - сколько уведомлений отправлено и сколько не дошло.
	Sent   int
	Failed int
}

// UserRef - участник, которого поздравляют.
type UserRef struct {
	ID   shared.UserID
	Name string
}

// Congratulation - единственное поздравление за одно начисление.
// Хотя бы одно из полей не nil.
type Congratulation struct {
	Monthly  *progress.LevelUpEvent
	Lifetime *progress.LevelUpEvent
}

// CongratulationFrom сворачивает события повышения одного начисления.
// Второе false, если повышений не было.
func CongratulationFrom(levelUps []progress.LevelUpEvent) (Congratulation, bool) {
	var c Congratulation
	for i := range levelUps {
		switch levelUps[i].Track {
		case progress.TrackMonthly:
			c.Monthly = &levelUps[i]
		case progress.TrackLifetime:
			c.Lifetime = &levelUps[i]
		}
	}
	return c, c.Monthly != nil || c.Lifetime != nil
}

// MessageFormatter собирает текст поздравления.
type MessageFormatter interface {
	LevelUp(user UserRef, c Congratulation) string
}

// MonthEnsurer выполняет отложенный месячный сброс чата.
type MonthEnsurer interface {
	EnsureCurrentMonth(ctx context.Context, chatID shared.ChatID) (shared.MonthTag, error)
}

// GainApplier - бухгалтерия опыта.
type GainApplier interface {
	Handle(ctx context.Context, cmd command.ApplyGainCommand) (*command.ApplyGainResult, error)
}

// NameRecorder запоминает имя участника для рейтинга.
type NameRecorder interface {
	RememberName(ctx context.Context, chatID shared.ChatID, userID shared.UserID, name string) error
}

// Metrics receives activity counters.
type Metrics interface {
	ActivityProcessed(state string, elapsed time.Duration)
	NotificationFailed(kind string)
}

type nopMetrics struct{}

func (nopMetrics) ActivityProcessed(string, time.Duration) {}
func (nopMetrics) NotificationFailed(string)               {}

// ActivityConfig содержит зависимости и настройки обработчика.
type ActivityConfig struct {
	Gains     GainRoller
	Formatter MessageFormatter
	Names     NameRecorder
	Metrics   Metrics
	Clock     timeutil.Clock
	Logger    *slog.Logger
}

// OnActivityHandler обрабатывает ActivityEvent.
type OnActivityHandler struct {
	chats     chat.Repository
	months    MonthEnsurer
	ledger    GainApplier
	sender    notification.Sender
	gains     GainRoller
	formatter MessageFormatter
	names     NameRecorder
	metrics   Metrics
	clock     timeutil.Clock
	logger    *slog.Logger
}

// NewOnActivityHandler создаёт обработчик.
func NewOnActivityHandler(
	chats chat.Repository,
	months MonthEnsurer,
	ledger GainApplier,
	sender notification.Sender,
	cfg ActivityConfig,
) *OnActivityHandler {
	if cfg.Gains == nil {
		cfg.Gains = DefaultGainRange()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.NewSystemClock(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OnActivityHandler{
		chats:     chats,
		months:    months,
		ledger:    ledger,
		sender:    sender,
		gains:     cfg.Gains,
		formatter: cfg.Formatter,
		names:     cfg.Names,
		metrics:   cfg.Metrics,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With("component", "activity"),
	}
}

// Handle обрабатывает одно событие. Ошибка возвращается только если
// начисление не было зафиксировано; такое событие можно повторить.
func (h *OnActivityHandler) Handle(ctx context.Context, ev ActivityEvent) (res *ActivityResult, err error) {
	started := h.clock.Now()
	defer func() {
		state := "error"
		if res != nil {
			state = string(res.State)
		}
		h.metrics.ActivityProcessed(state, h.clock.Now().Sub(started))
	}()

	if ev.IsBot {
		return &ActivityResult{State: StateDiscardedBot}, nil
	}

	cfg, err := h.chats.Get(ctx, ev.ChatID)
	if err != nil {
		if shared.IsNotFound(err) {
			return &ActivityResult{State: StateDiscardedUnconfigured}, nil
		}
		return nil, fmt.Errorf("on_activity: load chat: %w", err)
	}

	month, err := h.months.EnsureCurrentMonth(ctx, ev.ChatID)
	if err != nil {
		if shared.IsNotFound(err) {
			return &ActivityResult{State: StateDiscardedUnconfigured}, nil
		}
		return nil, fmt.Errorf("on_activity: ensure month: %w", err)
	}

	gain := h.gains.Roll(ev.HasMedia)
	applied, err := h.ledger.Handle(ctx, command.ApplyGainCommand{
		ChatID:  ev.ChatID,
		UserID:  ev.UserID,
		Amount:  gain,
		Month:   month,
		EventID: ev.EventID,
	})
	if err != nil {
		return nil, fmt.Errorf("on_activity: %w", err)
	}

	// Below this line the gain is committed; nothing may fail the event.
	h.rememberName(ctx, ev)

	res = &ActivityResult{
		State:    StateNoLevelUp,
		Gain:     gain,
		Record:   applied.Record,
		LevelUps: applied.LevelUps,
	}
	if applied.Duplicate {
		res.State = StateDuplicate
		res.Gain = 0
		return res, nil
	}
	if !applied.LeveledUp() {
		return res, nil
	}

	res.State = StateNotified
	h.dispatch(ctx, cfg, ev, applied.LevelUps, res)
	return res, nil
}

// dispatch отправляет одно поздравление на начисление, даже если
// повысились оба трека или уровень прошёл цепочкой, и затем тексты наград
// за итоговые уровни. Одна награда не отправляется дважды.
func (h *OnActivityHandler) dispatch(
	ctx context.Context,
	cfg chat.Config,
	ev ActivityEvent,
	levelUps []progress.LevelUpEvent,
	res *ActivityResult,
) {
	congrats, ok := CongratulationFrom(levelUps)
	if !ok {
		return
	}
	var thread *int
	if id, ok := cfg.ThreadID(); ok {
		thread = &id
	}

	h.send(ctx, res, notification.Message{
		Kind:     notification.KindLevelUp,
		ChatID:   ev.ChatID,
		ThreadID: thread,
		Text:     h.formatLevelUp(UserRef{ID: ev.UserID, Name: ev.DisplayName}, congrats),
		HTML:     true,
	})

	rewarded := make(map[int]bool)
	for _, lu := range []*progress.LevelUpEvent{congrats.Monthly, congrats.Lifetime} {
		if lu == nil || rewarded[lu.NewLevel] {
			continue
		}
		rewarded[lu.NewLevel] = true

		reward, err := h.chats.GetReward(ctx, ev.ChatID, lu.NewLevel)
		if err != nil {
			if !shared.IsNotFound(err) {
				h.logger.Warn("reward lookup failed",
					"chat_id", ev.ChatID.Int64(),
					"level", lu.NewLevel,
					"error", err,
				)
			}
			continue
		}
		h.send(ctx, res, notification.Message{
			Kind:     notification.KindReward,
			ChatID:   ev.ChatID,
			ThreadID: thread,
			Text:     reward.Text,
		})
	}
}

func (h *OnActivityHandler) send(ctx context.Context, res *ActivityResult, msg notification.Message) {
	if _, err := h.sender.Send(ctx, msg); err != nil {
		res.Failed++
		h.metrics.NotificationFailed(string(msg.Kind))
		if !errors.Is(err, shared.ErrNotificationDeliveryFailed) {
			err = shared.WrapError("notification", "Send", shared.ErrNotificationDeliveryFailed, "delivery failed", err)
		}
		h.logger.Error("notification dropped",
			"chat_id", msg.ChatID.Int64(),
			"kind", string(msg.Kind),
			"error", err,
		)
		return
	}
	res.Sent++
}

func (h *OnActivityHandler) formatLevelUp(user UserRef, c Congratulation) string {
	if h.formatter != nil {
		return h.formatter.LevelUp(user, c)
	}
	name := user.Name
	if name == "" {
		name = "User " + user.ID.String()
	}
	if c.Monthly == nil {
		return fmt.Sprintf("🏅 %s alcanzó el nivel histórico %d!", html.EscapeString(name), c.Lifetime.NewLevel)
	}
	return fmt.Sprintf("🎉 %s subió al nivel %d!", html.EscapeString(name), c.Monthly.NewLevel)
}

func (h *OnActivityHandler) rememberName(ctx context.Context, ev ActivityEvent) {
	if h.names == nil || ev.DisplayName == "" {
		return
	}
	if err := h.names.RememberName(ctx, ev.ChatID, ev.UserID, ev.DisplayName); err != nil {
		h.logger.Debug("name cache write failed", "chat_id", ev.ChatID.Int64(), "user_id", ev.UserID.Int64(), "error", err)
	}
}
