package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leveleando/leveleando-tg/internal/domain/chat"
	"github.com/leveleando/leveleando-tg/internal/domain/leveling"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
	"github.com/leveleando/leveleando-tg/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURE CHAT COMMANDS
// Admin-side writes: where level-up alerts go, which reward text belongs to
// a level, and removing chats the bot can no longer post to.
// Role checks happen before these handlers are reached.
// ══════════════════════════════════════════════════════════════════════════════

// SetAlertThreadCommand points level-up alerts at a forum thread.
type SetAlertThreadCommand struct {
	ChatID shared.ChatID

	// Thread is the forum thread id; nil or zero selects the default stream.
	Thread *int
}

// Validate validates the command.
func (c SetAlertThreadCommand) Validate() error {
	if !c.ChatID.IsValid() {
		return shared.NewDomainError("chat", "SetAlertThread", shared.ErrInvalidInput, "chat id is required")
	}
	if c.Thread != nil && *c.Thread < 0 {
		return shared.ErrInvalidThread
	}
	return nil
}

// SetRewardCommand stores the reward text announced at a level.
type SetRewardCommand struct {
	ChatID shared.ChatID
	Level  int
	Text   string
}

// ConfigureChatHandler handles chat configuration commands.
type ConfigureChatHandler struct {
	chats    chat.Repository
	clock    timeutil.Clock
	maxLevel int
	logger   *slog.Logger
}

// NewConfigureChatHandler creates a new ConfigureChatHandler.
func NewConfigureChatHandler(chats chat.Repository, clock timeutil.Clock, maxLevel int, logger *slog.Logger) *ConfigureChatHandler {
	if clock == nil {
		clock = timeutil.NewSystemClock(nil)
	}
	if maxLevel <= 0 {
		maxLevel = leveling.DefaultMaxLevel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigureChatHandler{
		chats:    chats,
		clock:    clock,
		maxLevel: maxLevel,
		logger:   logger.With("component", "configure_chat"),
	}
}

// SetAlertThread registers the chat if needed and sets its alert thread.
// Registration is what enables XP accrual in the chat.
func (h *ConfigureChatHandler) SetAlertThread(ctx context.Context, cmd SetAlertThreadCommand) (chat.Config, error) {
	if err := cmd.Validate(); err != nil {
		return chat.Config{}, err
	}

	now := h.clock.Now()
	cfg, err := h.chats.Register(ctx, chat.NewConfig(cmd.ChatID, shared.MonthOf(now), now.UTC()))
	if err != nil {
		return chat.Config{}, fmt.Errorf("configure_chat: register %s: %w", cmd.ChatID, err)
	}

	thread := cmd.Thread
	if thread != nil && *thread == 0 {
		thread = nil
	}
	if err := h.chats.SetAlertThread(ctx, cmd.ChatID, thread); err != nil {
		return chat.Config{}, fmt.Errorf("configure_chat: set thread %s: %w", cmd.ChatID, err)
	}
	cfg.AlertThread = thread

	h.logger.Info("alert thread configured", "chat_id", cmd.ChatID.Int64(), "thread", threadAttr(thread))
	return cfg, nil
}

// SetReward validates and stores a level reward.
func (h *ConfigureChatHandler) SetReward(ctx context.Context, cmd SetRewardCommand) (chat.Reward, error) {
	reward, err := chat.NewReward(cmd.ChatID, cmd.Level, cmd.Text, h.maxLevel)
	if err != nil {
		return chat.Reward{}, err
	}
	if err := h.chats.SetReward(ctx, reward); err != nil {
		return chat.Reward{}, fmt.Errorf("configure_chat: set reward: %w", err)
	}
	h.logger.Info("level reward configured", "chat_id", cmd.ChatID.Int64(), "level", cmd.Level)
	return reward, nil
}

// RemoveChat deletes the chat's configuration; XP accrual stops there.
// Progress, rewards and history are kept in case the bot is re-added.
func (h *ConfigureChatHandler) RemoveChat(ctx context.Context, chatID shared.ChatID) error {
	if err := h.chats.Delete(ctx, chatID); err != nil {
		return fmt.Errorf("configure_chat: delete %s: %w", chatID, err)
	}
	h.logger.Warn("chat configuration removed", "chat_id", chatID.Int64())
	return nil
}

func threadAttr(thread *int) interface{} {
	if thread == nil {
		return "default"
	}
	return *thread
}
