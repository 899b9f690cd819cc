// Package telegram wraps the Telegram Bot API for LeveleandoTG: outgoing
// messages (optionally into a forum topic), command replies, callback
// answers, and chat-member lookups for admin checks and display names.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/leveleando/leveleando-tg/internal/domain/notification"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
	"github.com/leveleando/leveleando-tg/pkg/circuitbreaker"
	"github.com/leveleando/leveleando-tg/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the Telegram client.
type ClientConfig struct {
	// Token is the Telegram Bot API token.
	Token string

	// APIEndpoint is the Bot API endpoint format (default: tgbotapi.APIEndpoint).
	APIEndpoint string

	// Timeout is the HTTP request timeout. Must exceed the polling timeout.
	Timeout time.Duration

	// PollTimeout is the long-polling timeout in seconds.
	PollTimeout int

	// RetryAttempts is the number of attempts for transient send failures.
	RetryAttempts int

	// SendTimeout bounds one outgoing call including its retries.
	SendTimeout time.Duration

	// RateLimit shapes outgoing calls. A zero rate disables it.
	RateLimit RateLimiterConfig

	Logger *slog.Logger
	Debug  bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(token string) ClientConfig {
	return ClientConfig{
		Token:         token,
		APIEndpoint:   tgbotapi.APIEndpoint,
		Timeout:       60 * time.Second,
		PollTimeout:   30,
		RetryAttempts: 3,
		SendTimeout:   15 * time.Second,
		RateLimit:     DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT API SEAM
// ══════════════════════════════════════════════════════════════════════════════

// BotAPI is the subset of *tgbotapi.BotAPI the client uses. Tests provide fakes.
type BotAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetSelf() tgbotapi.User
}

type botWrapper struct {
	*tgbotapi.BotAPI
}

func (w botWrapper) GetSelf() tgbotapi.User {
	return w.Self
}

// BotFactory creates a BotAPI.
type BotFactory func(token, apiEndpoint string, client *http.Client) (BotAPI, error)

// DefaultBotFactory authenticates against the real Bot API.
func DefaultBotFactory(token, apiEndpoint string, client *http.Client) (BotAPI, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return botWrapper{BotAPI: bot}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Telegram gateway.
type Client struct {
	bot     BotAPI
	config  ClientConfig
	breaker *circuitbreaker.CircuitBreaker
	retrier *retry.Retrier
	limiter *RateLimiter
	logger  *slog.Logger
}

var _ notification.Sender = (*Client)(nil)

// NewClient authenticates the bot through factory.
func NewClient(cfg ClientConfig, factory BotFactory) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: token is required")
	}
	if factory == nil {
		factory = DefaultBotFactory
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	bot, err := factory(cfg.Token, cfg.APIEndpoint, &http.Client{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	if w, ok := bot.(botWrapper); ok {
		w.Debug = cfg.Debug
	}
	return NewClientWithBot(bot, cfg), nil
}

// NewClientWithBot wraps an already authenticated bot.
func NewClientWithBot(bot BotAPI, cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	logger := cfg.Logger.With("component", "telegram")

	var limiter *RateLimiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = NewRateLimiter(cfg.RateLimit)
	}

	return &Client{
		bot:    bot,
		config: cfg,
		breaker: circuitbreaker.TelegramAPIBreaker(
			func(name string, from, to circuitbreaker.State) {
				logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
			IsTransient,
		),
		retrier: retry.TelegramRetrier(retry.WithMaxAttempts(cfg.RetryAttempts), retry.WithRetryIf(IsTransient)),
		limiter: limiter,
		logger:  logger,
	}
}

// Self returns the bot's own user.
func (c *Client) Self() tgbotapi.User {
	return c.bot.GetSelf()
}

// Updates starts long polling. The channel is closed by Stop.
func (c *Client) Updates() tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.config.PollTimeout
	u.AllowedUpdates = []string{"message", "callback_query"}
	return c.bot.GetUpdatesChan(u)
}

// Stop stops long polling.
func (c *Client) Stop() {
	c.bot.StopReceivingUpdates()
}

// ══════════════════════════════════════════════════════════════════════════════
// SENDING
// ══════════════════════════════════════════════════════════════════════════════

// Send implements notification.Sender. The message goes to the forum topic
// when ThreadID is set and to the main stream otherwise.
func (c *Client) Send(ctx context.Context, msg notification.Message) (notification.DeliveryResult, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", msg.ChatID.Int64())
	params["text"] = msg.Text
	if thread, ok := msg.Destination(); ok {
		params.AddNonZero("message_thread_id", thread)
	}
	if msg.HTML {
		params["parse_mode"] = tgbotapi.ModeHTML
	}
	params.AddBool("disable_web_page_preview", true)

	var sent tgbotapi.Message
	err := c.call(ctx, "sendMessage", func() error {
		resp, err := c.bot.MakeRequest("sendMessage", params)
		if err != nil {
			return err
		}
		return json.Unmarshal(resp.Result, &sent)
	})
	if err != nil {
		return notification.DeliveryResult{}, err
	}

	return notification.DeliveryResult{
		MessageID:   sent.MessageID,
		DeliveredAt: time.Unix(int64(sent.Date), 0).UTC(),
	}, nil
}

// ReplyOptions shapes a command reply or an edit. ReplyTo is ignored by edits.
type ReplyOptions struct {
	// ReplyTo keeps the reply in the topic of the triggering message.
	ReplyTo  int
	HTML     bool
	Keyboard *tgbotapi.InlineKeyboardMarkup
}

// Reply sends a command reply and returns the new message id.
func (c *Client) Reply(ctx context.Context, chatID int64, text string, opts ReplyOptions) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = opts.ReplyTo
	msg.AllowSendingWithoutReply = true
	msg.DisableWebPagePreview = true
	if opts.HTML {
		msg.ParseMode = tgbotapi.ModeHTML
	}
	if opts.Keyboard != nil {
		msg.ReplyMarkup = *opts.Keyboard
	}

	var sent tgbotapi.Message
	err := c.call(ctx, "reply", func() error {
		var err error
		sent, err = c.bot.Send(msg)
		return err
	})
	return sent.MessageID, err
}

// EditText replaces the text and keyboard of an existing message.
func (c *Client) EditText(ctx context.Context, chatID int64, messageID int, text string, opts ReplyOptions) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.DisableWebPagePreview = true
	if opts.HTML {
		edit.ParseMode = tgbotapi.ModeHTML
	}
	if opts.Keyboard != nil {
		edit.ReplyMarkup = opts.Keyboard
	}

	err := c.call(ctx, "editMessageText", func() error {
		_, err := c.bot.Request(edit)
		return err
	})
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	return err
}

// AnswerCallback acknowledges a callback query.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", func() error {
		_, err := c.bot.Request(tgbotapi.NewCallback(callbackID, text))
		return err
	})
}

// DeleteWebhook switches the bot to long polling. With dropPending the
// backlog accumulated while the bot was down is discarded.
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.call(ctx, "deleteWebhook", func() error {
		_, err := c.bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: dropPending})
		return err
	})
}

// SetCommands registers the command menu.
func (c *Client) SetCommands(ctx context.Context, commands []tgbotapi.BotCommand) error {
	return c.call(ctx, "setMyCommands", func() error {
		_, err := c.bot.Request(tgbotapi.NewSetMyCommands(commands...))
		return err
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// CHAT MEMBERS
// ══════════════════════════════════════════════════════════════════════════════

func (c *Client) member(ctx context.Context, chatID, userID int64) (tgbotapi.ChatMember, error) {
	var member tgbotapi.ChatMember
	err := c.call(ctx, "getChatMember", func() error {
		var err error
		member, err = c.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
			ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
		})
		return err
	})
	return member, err
}

// IsAdmin reports whether userID is the creator or an administrator of chatID.
func (c *Client) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	member, err := c.member(ctx, chatID, userID)
	if err != nil {
		return false, err
	}
	return member.IsCreator() || member.IsAdministrator(), nil
}

// DisplayName returns the member's full name as Telegram shows it.
func (c *Client) DisplayName(ctx context.Context, chatID shared.ChatID, userID shared.UserID) (string, error) {
	member, err := c.member(ctx, chatID.Int64(), userID.Int64())
	if err != nil {
		return "", err
	}
	return FullName(member.User), nil
}

// FullName joins first and last name. Usernames are not used as names.
func FullName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// call runs fn through the breaker and the retrier and maps the result
// onto the shared error taxonomy.
func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	if c.config.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.SendTimeout)
		defer cancel()
	}
	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}
		}
		err := c.breaker.Execute(ctx, func(context.Context) error {
			return fn()
		})
		c.observeFloodControl(op, err)
		return err
	})
	if err == nil {
		return nil
	}
	mapped := MapError(op, err)
	c.logger.Debug("telegram request failed", "op", op, "error", mapped)
	return mapped
}

// observeFloodControl pauses the limiter for the retry_after of a 429.
func (c *Client) observeFloodControl(op string, err error) {
	var apiErr *tgbotapi.Error
	if c.limiter == nil || !errors.As(err, &apiErr) || apiErr.RetryAfter <= 0 {
		return
	}
	pause := time.Duration(apiErr.RetryAfter) * time.Second
	c.limiter.Pause(pause)
	c.logger.Warn("telegram flood control", "op", op, "retry_after", pause)
}

// MapError classifies a Bot API failure. A 403 means the bot was removed
// or blocked; everything else is a delivery failure.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
		return shared.WrapError("telegram", op, shared.ErrBotForbidden, apiErr.Message, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return shared.WrapError("telegram", op, shared.ErrTimeout, "request timed out", err)
	}
	return shared.WrapError("telegram", op, shared.ErrTelegramAPIFailed, "request failed", err)
}

// IsTransient reports failures worth retrying: flood control, server
// errors, network errors and an open breaker never count as permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
