// Package telegram is the bot's Telegram surface: it turns updates into
// activity events, commands and callback presses, and announces the bot
// in every configured chat on startup.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/leveleando/leveleando-tg/internal/application/eventhandler"
	"github.com/leveleando/leveleando-tg/internal/domain/chat"
	"github.com/leveleando/leveleando-tg/internal/domain/notification"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
	"github.com/leveleando/leveleando-tg/internal/infrastructure/external/telegram"
	"github.com/leveleando/leveleando-tg/internal/infrastructure/messaging"
	"github.com/leveleando/leveleando-tg/internal/interface/telegram/presenter"
	"github.com/leveleando/leveleando-tg/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOT CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// BotConfig contains configuration for the Telegram bot.
type BotConfig struct {
	// MaxConcurrentUpdates limits concurrent command and callback handling.
	MaxConcurrentUpdates int

	// DropPendingUpdates discards the backlog accumulated while the bot was down.
	DropPendingUpdates bool

	// Announce sends the startup message to every configured chat.
	Announce bool

	// GracefulShutdownTimeout bounds the wait for in-flight handlers.
	GracefulShutdownTimeout time.Duration

	Logger *slog.Logger
	Debug  bool
}

// DefaultBotConfig returns sensible defaults.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		MaxConcurrentUpdates:    32,
		DropPendingUpdates:      true,
		Announce:                true,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Gateway is the Telegram client as the bot uses it.
type Gateway interface {
	Messenger
	notification.Sender
	Self() tgbotapi.User
	Updates() tgbotapi.UpdatesChannel
	Stop()
	DeleteWebhook(ctx context.Context, dropPending bool) error
	SetCommands(ctx context.Context, commands []tgbotapi.BotCommand) error
}

// ActivityProcessor applies one activity event.
type ActivityProcessor interface {
	Handle(ctx context.Context, ev eventhandler.ActivityEvent) (*eventhandler.ActivityResult, error)
}

// JobSubmitter queues keyed work.
type JobSubmitter interface {
	Submit(ctx context.Context, job messaging.Job) error
}

// ChatDirectory lists configured chats and forgets chats the bot left.
type ChatDirectory interface {
	List(ctx context.Context) ([]chat.Config, error)
	RemoveChat(ctx context.Context, chatID shared.ChatID) error
}

// BotDependencies contains all dependencies of the bot.
type BotDependencies struct {
	Gateway    Gateway
	Router     *Router
	Activity   ActivityProcessor
	Dispatcher JobSubmitter
	Chats      ChatDirectory
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT
// ══════════════════════════════════════════════════════════════════════════════

// Bot reads updates and routes them.
type Bot struct {
	config BotConfig
	deps   BotDependencies
	logger *slog.Logger

	username  string
	updateSem chan struct{}
	wg        sync.WaitGroup
}

// NewBot creates a new Telegram bot.
func NewBot(config BotConfig, deps BotDependencies) (*Bot, error) {
	if deps.Gateway == nil || deps.Router == nil || deps.Activity == nil || deps.Dispatcher == nil {
		return nil, errors.New("telegram bot: gateway, router, activity and dispatcher are required")
	}
	def := DefaultBotConfig()
	if config.MaxConcurrentUpdates <= 0 {
		config.MaxConcurrentUpdates = def.MaxConcurrentUpdates
	}
	if config.GracefulShutdownTimeout <= 0 {
		config.GracefulShutdownTimeout = def.GracefulShutdownTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Bot{
		config:    config,
		deps:      deps,
		logger:    config.Logger.With(logger.Component("bot")),
		username:  deps.Gateway.Self().UserName,
		updateSem: make(chan struct{}, config.MaxConcurrentUpdates),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE MANAGEMENT
// ══════════════════════════════════════════════════════════════════════════════

// Run prepares the bot and long-polls until ctx ends.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("starting telegram bot", "username", b.username)

	if err := b.deps.Gateway.DeleteWebhook(ctx, b.config.DropPendingUpdates); err != nil {
		b.logger.Warn("delete webhook failed", "error", err)
	}
	if err := b.deps.Gateway.SetCommands(ctx, botCommands()); err != nil {
		b.logger.Warn("set commands failed", "error", err)
	}
	if b.config.Announce {
		if _, err := b.Announce(ctx); err != nil {
			b.logger.Warn("startup announcement failed", "error", err)
		}
	}

	updates := b.deps.Gateway.Updates()
	defer b.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// shutdown stops polling and waits for in-flight handlers.
func (b *Bot) shutdown() {
	b.deps.Gateway.Stop()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.Info("telegram bot stopped")
	case <-time.After(b.config.GracefulShutdownTimeout):
		b.logger.Warn("graceful shutdown timeout exceeded")
	}
}

// AnnounceResult summarizes the startup announcement.
type AnnounceResult struct {
	Sent    int
	Removed int
	Failed  int
}

// Announce greets every configured chat. Chats where the bot is forbidden
// lose their configuration.
func (b *Bot) Announce(ctx context.Context) (AnnounceResult, error) {
	var res AnnounceResult
	if b.deps.Chats == nil {
		return res, nil
	}

	chats, err := b.deps.Chats.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list chats: %w", err)
	}

	for _, cfg := range chats {
		_, err := b.deps.Gateway.Send(ctx, notification.Message{
			Kind:   notification.KindAnnouncement,
			ChatID: cfg.ChatID,
			Text:   presenter.AnnouncementText,
		})
		switch {
		case err == nil:
			res.Sent++
		case errors.Is(err, shared.ErrBotForbidden):
			if rmErr := b.deps.Chats.RemoveChat(ctx, cfg.ChatID); rmErr != nil {
				b.logger.Error("remove forbidden chat failed", logger.ChatID(cfg.ChatID.Int64()), logger.Err(rmErr))
				res.Failed++
				continue
			}
			res.Removed++
		default:
			b.logger.Warn("announcement failed", logger.ChatID(cfg.ChatID.Int64()), logger.Err(err))
			res.Failed++
		}
	}

	b.logger.Info("startup announcement done", "sent", res.Sent, "removed", res.Removed, "failed", res.Failed)
	return res, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE HANDLING
// ══════════════════════════════════════════════════════════════════════════════

// HandleUpdate routes one update. Activity goes to the dispatcher so one
// member's messages apply in order; commands and callbacks run on their
// own goroutine, bounded by MaxConcurrentUpdates.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		b.goHandle(ctx, func(ctx context.Context) error {
			return b.deps.Router.HandleCallback(ctx, callbackContext(cq))
		})
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}

	if msg.IsCommand() {
		name, ok := b.commandName(msg)
		if !ok {
			return
		}
		cmd := commandContext(msg)
		b.goHandle(ctx, func(ctx context.Context) error {
			return b.deps.Router.HandleCommand(ctx, name, cmd)
		})
		return
	}

	b.submitActivity(ctx, ActivityFromMessage(msg))
}

// commandName strips "@botname" and rejects commands addressed to other bots.
func (b *Bot) commandName(msg *tgbotapi.Message) (string, bool) {
	full := msg.CommandWithAt()
	name, target, addressed := strings.Cut(full, "@")
	if addressed && b.username != "" && !strings.EqualFold(target, b.username) {
		return "", false
	}
	if name == "" {
		return "", false
	}
	return strings.ToLower(name), true
}

func (b *Bot) submitActivity(ctx context.Context, ev eventhandler.ActivityEvent) {
	job := messaging.Job{
		Key:  fmt.Sprintf("%d:%d", ev.ChatID.Int64(), ev.UserID.Int64()),
		Name: "activity",
		Run: func(ctx context.Context) error {
			_, err := b.deps.Activity.Handle(ctx, ev)
			return err
		},
	}
	if err := b.deps.Dispatcher.Submit(ctx, job); err != nil {
		b.logger.Warn("activity dropped",
			logger.ChatID(ev.ChatID.Int64()),
			logger.UserID(ev.UserID.Int64()),
			"event_id", ev.EventID,
			"error", err,
		)
	}
}

// goHandle runs fn on a bounded goroutine. It blocks while all slots are busy.
func (b *Bot) goHandle(ctx context.Context, fn func(ctx context.Context) error) {
	select {
	case b.updateSem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	b.wg.Add(1)
	go func() {
		defer func() {
			<-b.updateSem
			b.wg.Done()
		}()
		if err := fn(ctx); err != nil && b.config.Debug {
			b.logger.Debug("update handler returned error", "error", err)
		}
	}()
}

// ══════════════════════════════════════════════════════════════════════════════
// CONVERSION
// ══════════════════════════════════════════════════════════════════════════════

// ActivityFromMessage builds the activity event for a non-command message.
// The event id is stable across redeliveries of the same message.
func ActivityFromMessage(msg *tgbotapi.Message) eventhandler.ActivityEvent {
	return eventhandler.ActivityEvent{
		EventID:     fmt.Sprintf("%d:%d", msg.Chat.ID, msg.MessageID),
		ChatID:      shared.ChatID(msg.Chat.ID),
		UserID:      shared.UserID(msg.From.ID),
		DisplayName: telegram.FullName(msg.From),
		IsBot:       msg.From.IsBot,
		HasMedia:    hasMedia(msg),
		Timestamp:   msg.Time().UTC(),
	}
}

// hasMedia reports a photo or a video. Other attachments earn the text gain.
func hasMedia(msg *tgbotapi.Message) bool {
	return len(msg.Photo) > 0 || msg.Video != nil
}

func commandContext(msg *tgbotapi.Message) CommandContext {
	return CommandContext{
		UserID:      msg.From.ID,
		ChatID:      msg.Chat.ID,
		ChatType:    msg.Chat.Type,
		MessageID:   msg.MessageID,
		Args:        msg.CommandArguments(),
		DisplayName: telegram.FullName(msg.From),
	}
}

func callbackContext(cq *tgbotapi.CallbackQuery) CallbackContext {
	cb := CallbackContext{QueryID: cq.ID, Data: cq.Data}
	if cq.From != nil {
		cb.UserID = cq.From.ID
	}
	if cq.Message != nil && cq.Message.Chat != nil {
		cb.ChatID = cq.Message.Chat.ID
		cb.MessageID = cq.Message.MessageID
	}
	return cb
}

func botCommands() []tgbotapi.BotCommand {
	cmds := presenter.Commands()
	out := make([]tgbotapi.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, tgbotapi.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}
