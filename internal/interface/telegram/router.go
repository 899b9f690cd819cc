package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/leveleando/leveleando-tg/internal/application/command"
	"github.com/leveleando/leveleando-tg/internal/application/query"
	"github.com/leveleando/leveleando-tg/internal/domain/chat"
	"github.com/leveleando/leveleando-tg/internal/domain/leveling"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
	"github.com/leveleando/leveleando-tg/internal/infrastructure/external/telegram"
	"github.com/leveleando/leveleando-tg/internal/interface/telegram/presenter"
	"github.com/leveleando/leveleando-tg/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Messenger is the part of the Telegram client the router talks through.
type Messenger interface {
	Reply(ctx context.Context, chatID int64, text string, opts telegram.ReplyOptions) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string, opts telegram.ReplyOptions) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// ChatLookup reads chat configuration.
type ChatLookup interface {
	Get(ctx context.Context, chatID shared.ChatID) (chat.Config, error)
}

// LeaderboardQuery serves /levtop pages.
type LeaderboardQuery interface {
	Handle(ctx context.Context, q query.GetLeaderboardQuery) (*query.GetLeaderboardResult, error)
}

// ProfileQuery serves /levperfil.
type ProfileQuery interface {
	Handle(ctx context.Context, q query.GetProfileQuery) (*query.ProfileDTO, error)
}

// ChatConfigurator applies admin commands.
type ChatConfigurator interface {
	SetAlertThread(ctx context.Context, cmd command.SetAlertThreadCommand) (chat.Config, error)
	SetReward(ctx context.Context, cmd command.SetRewardCommand) (chat.Reward, error)
}

// RouterDeps aggregates the application handlers behind the commands.
type RouterDeps struct {
	Chats        ChatLookup
	Leaderboards LeaderboardQuery
	Profiles     ProfileQuery
	Configure    ChatConfigurator
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	// PageSize is the number of leaderboard rows per page.
	PageSize int

	// MaxLevel bounds /levalerta levels in the usage reply.
	MaxLevel int

	Logger *slog.Logger

	// Debug logs every routing decision.
	Debug bool
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT TYPES
// ══════════════════════════════════════════════════════════════════════════════

// CommandContext carries one command invocation.
type CommandContext struct {
	UserID int64
	ChatID int64

	// ChatType is "private", "group", "supergroup" or "channel".
	ChatType string

	// MessageID is the command message; replies thread under it.
	MessageID int

	// Args is the text after the command.
	Args string

	// DisplayName is the sender's full name.
	DisplayName string
}

// IsGroup reports whether the command came from a group chat.
func (c CommandContext) IsGroup() bool {
	return c.ChatType == "group" || c.ChatType == "supergroup"
}

// CallbackContext carries one inline-button press.
type CallbackContext struct {
	UserID    int64
	ChatID    int64
	MessageID int
	QueryID   string
	Data      string
}

// CommandFunc handles a command.
type CommandFunc func(ctx context.Context, cmd CommandContext) error

// ══════════════════════════════════════════════════════════════════════════════
// ROUTER
// ══════════════════════════════════════════════════════════════════════════════

// Router dispatches commands and callbacks to their handlers.
type Router struct {
	messenger Messenger
	deps      RouterDeps
	config    RouterConfig
	logger    *slog.Logger

	mu       sync.RWMutex
	commands map[string]CommandFunc
}

// NewRouter creates a router with the bot's commands registered.
func NewRouter(messenger Messenger, deps RouterDeps, config RouterConfig) *Router {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.PageSize <= 0 {
		config.PageSize = query.DefaultPageSize
	}

	r := &Router{
		messenger: messenger,
		deps:      deps,
		config:    config,
		logger:    config.Logger.With(logger.Component("router")),
		commands:  make(map[string]CommandFunc),
	}

	r.RegisterCommand("start", r.handleStart)
	r.RegisterCommand("levsettema", r.adminOnly(r.handleSetThread))
	r.RegisterCommand("levalerta", r.adminOnly(r.handleSetReward))
	r.RegisterCommand("levperfil", r.handleProfile)
	r.RegisterCommand("levtop", r.handleTop)
	r.RegisterCommand("levcomandos", r.handleCommands)
	return r
}

// RegisterCommand registers fn under name (without the leading "/").
func (r *Router) RegisterCommand(name string, fn CommandFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(name)] = fn
}

// Handles reports whether name is a registered command.
func (r *Router) Handles(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.commands[strings.ToLower(name)]
	return ok
}

// HandleCommand runs the handler for name. Unknown commands are ignored.
func (r *Router) HandleCommand(ctx context.Context, name string, cmd CommandContext) (err error) {
	r.mu.RLock()
	fn, ok := r.commands[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		if r.config.Debug {
			r.logger.Debug("no handler for command", "command", name)
		}
		return nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in command handler",
				"command", name,
				logger.ChatID(cmd.ChatID),
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("command %s panicked: %v", name, rec)
			r.reply(ctx, cmd, presenter.ErrorText)
		}
	}()

	if err := fn(ctx, cmd); err != nil {
		r.logger.Error("command failed", "command", name, logger.ChatID(cmd.ChatID), logger.UserID(cmd.UserID), logger.Err(err))
		r.reply(ctx, cmd, presenter.ErrorText)
		return err
	}
	return nil
}

// HandleCallback handles levtop_<page> presses. Other data is acknowledged
// and dropped.
func (r *Router) HandleCallback(ctx context.Context, cb CallbackContext) error {
	if err := r.messenger.AnswerCallback(ctx, cb.QueryID, ""); err != nil {
		r.logger.Debug("answer callback failed", "error", err)
	}

	page, ok := presenter.ParseTopCallback(cb.Data)
	if !ok || cb.ChatID == 0 {
		if r.config.Debug {
			r.logger.Debug("ignored callback", "data", cb.Data)
		}
		return nil
	}

	view, err := r.leaderboardView(ctx, cb.ChatID, page)
	if err != nil {
		return fmt.Errorf("callback %s: %w", cb.Data, err)
	}
	return r.messenger.EditText(ctx, cb.ChatID, cb.MessageID, view.Text, telegram.ReplyOptions{
		HTML:     view.HTML,
		Keyboard: toMarkup(view.Keyboard),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (r *Router) handleStart(ctx context.Context, cmd CommandContext) error {
	return r.send(ctx, cmd, presenter.StartText)
}

func (r *Router) handleCommands(ctx context.Context, cmd CommandContext) error {
	return r.send(ctx, cmd, presenter.CommandsText)
}

// adminOnly restricts fn to group administrators. Private chats get no
// answer at all.
func (r *Router) adminOnly(fn CommandFunc) CommandFunc {
	return func(ctx context.Context, cmd CommandContext) error {
		if !cmd.IsGroup() {
			return nil
		}
		admin, err := r.messenger.IsAdmin(ctx, cmd.ChatID, cmd.UserID)
		if err != nil {
			return fmt.Errorf("admin check: %w", err)
		}
		if !admin {
			return r.send(ctx, cmd, presenter.OnlyAdminsText)
		}
		return fn(ctx, cmd)
	}
}

func (r *Router) handleSetThread(ctx context.Context, cmd CommandContext) error {
	fields := strings.Fields(cmd.Args)
	if len(fields) == 0 || !isDigits(fields[0]) {
		return r.send(ctx, cmd, presenter.SetThreadUsageText)
	}
	thread, err := strconv.Atoi(fields[0])
	if err != nil {
		return r.send(ctx, cmd, presenter.SetThreadUsageText)
	}

	_, err = r.deps.Configure.SetAlertThread(ctx, command.SetAlertThreadCommand{
		ChatID: shared.ChatID(cmd.ChatID),
		Thread: &thread,
	})
	switch {
	case err == nil:
	case shared.IsValidation(err):
		return r.send(ctx, cmd, presenter.SetThreadUsageText)
	default:
		return err
	}

	if thread == 0 {
		return r.send(ctx, cmd, presenter.ThreadClearedText)
	}
	return r.send(ctx, cmd, presenter.ThreadConfigured(thread))
}

func (r *Router) handleSetReward(ctx context.Context, cmd CommandContext) error {
	fields := strings.Fields(cmd.Args)
	if len(fields) < 2 || !isDigits(fields[0]) {
		return r.send(ctx, cmd, presenter.SetRewardUsageText)
	}
	level, err := strconv.Atoi(fields[0])
	if err != nil {
		return r.send(ctx, cmd, presenter.SetRewardUsageText)
	}

	_, err = r.deps.Configure.SetReward(ctx, command.SetRewardCommand{
		ChatID: shared.ChatID(cmd.ChatID),
		Level:  level,
		Text:   strings.Join(fields[1:], " "),
	})
	switch {
	case err == nil:
		return r.send(ctx, cmd, presenter.RewardConfigured(level))
	case errors.Is(err, shared.ErrValueOutOfRange):
		return r.send(ctx, cmd, presenter.RewardLevelOutOfRange(r.maxLevel()))
	case shared.IsValidation(err):
		return r.send(ctx, cmd, presenter.SetRewardUsageText)
	default:
		return err
	}
}

func (r *Router) handleProfile(ctx context.Context, cmd CommandContext) error {
	profile, err := r.deps.Profiles.Handle(ctx, query.GetProfileQuery{
		ChatID: shared.ChatID(cmd.ChatID),
		UserID: shared.UserID(cmd.UserID),
	})
	if err != nil {
		return err
	}
	return r.send(ctx, cmd, presenter.Profile(cmd.DisplayName, profile))
}

func (r *Router) handleTop(ctx context.Context, cmd CommandContext) error {
	if _, err := r.deps.Chats.Get(ctx, shared.ChatID(cmd.ChatID)); err != nil {
		if shared.IsNotFound(err) {
			return r.send(ctx, cmd, presenter.NeedThreadText)
		}
		return err
	}

	view, err := r.leaderboardView(ctx, cmd.ChatID, 1)
	if err != nil {
		return err
	}
	_, err = r.messenger.Reply(ctx, cmd.ChatID, view.Text, telegram.ReplyOptions{
		ReplyTo:  cmd.MessageID,
		HTML:     view.HTML,
		Keyboard: toMarkup(view.Keyboard),
	})
	return err
}

func (r *Router) leaderboardView(ctx context.Context, chatID int64, page int) (presenter.View, error) {
	result, err := r.deps.Leaderboards.Handle(ctx, query.GetLeaderboardQuery{
		ChatID:   shared.ChatID(chatID),
		Page:     page,
		PageSize: r.config.PageSize,
	})
	if err != nil {
		return presenter.View{}, err
	}
	return presenter.Leaderboard(result), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// send replies with plain text under the command message.
func (r *Router) send(ctx context.Context, cmd CommandContext, text string) error {
	_, err := r.messenger.Reply(ctx, cmd.ChatID, text, telegram.ReplyOptions{ReplyTo: cmd.MessageID})
	return err
}

// reply is send for error paths: failures are only logged.
func (r *Router) reply(ctx context.Context, cmd CommandContext, text string) {
	if err := r.send(ctx, cmd, text); err != nil {
		r.logger.Warn("error reply failed", logger.ChatID(cmd.ChatID), logger.Err(err))
	}
}

func (r *Router) maxLevel() int {
	if r.config.MaxLevel > 0 {
		return r.config.MaxLevel
	}
	return leveling.DefaultMaxLevel
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// toMarkup converts a presenter keyboard into the Bot API type.
func toMarkup(k *presenter.InlineKeyboard) *tgbotapi.InlineKeyboardMarkup {
	if k.IsEmpty() {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(k.Rows))
	for _, row := range k.Rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.CallbackData))
		}
		rows = append(rows, buttons)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}
