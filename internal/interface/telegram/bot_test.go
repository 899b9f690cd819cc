package telegram

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leveleando/leveleando-tg/internal/application/eventhandler"
	"github.com/leveleando/leveleando-tg/internal/domain/chat"
	"github.com/leveleando/leveleando-tg/internal/domain/notification"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
	"github.com/leveleando/leveleando-tg/internal/infrastructure/messaging"
	"github.com/leveleando/leveleando-tg/pkg/logger"
)

type fakeGateway struct {
	*fakeMessenger

	mu        sync.Mutex
	sent      []notification.Message
	forbidden map[shared.ChatID]bool
	commands  []tgbotapi.BotCommand
	dropped   bool
	stopped   bool
	updates   chan tgbotapi.Update
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		fakeMessenger: newFakeMessenger(),
		forbidden:     map[shared.ChatID]bool{},
		updates:       make(chan tgbotapi.Update, 8),
	}
}

func (g *fakeGateway) Send(_ context.Context, msg notification.Message) (notification.DeliveryResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.forbidden[msg.ChatID] {
		return notification.DeliveryResult{}, shared.ErrBotForbidden
	}
	g.sent = append(g.sent, msg)
	return notification.DeliveryResult{MessageID: len(g.sent)}, nil
}

func (g *fakeGateway) Self() tgbotapi.User {
	return tgbotapi.User{ID: 999, UserName: "LeveleandoBot", IsBot: true}
}

func (g *fakeGateway) Updates() tgbotapi.UpdatesChannel { return g.updates }

func (g *fakeGateway) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
}

func (g *fakeGateway) DeleteWebhook(_ context.Context, dropPending bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dropped = dropPending
	return nil
}

func (g *fakeGateway) SetCommands(_ context.Context, commands []tgbotapi.BotCommand) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commands = commands
	return nil
}

type recordingActivity struct {
	mu     sync.Mutex
	events []eventhandler.ActivityEvent
}

func (r *recordingActivity) Handle(_ context.Context, ev eventhandler.ActivityEvent) (*eventhandler.ActivityResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return &eventhandler.ActivityResult{}, nil
}

func (r *recordingActivity) all() []eventhandler.ActivityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]eventhandler.ActivityEvent(nil), r.events...)
}

// inlineSubmitter runs jobs synchronously.
type inlineSubmitter struct {
	keys []string
	err  error
}

func (s *inlineSubmitter) Submit(ctx context.Context, job messaging.Job) error {
	if s.err != nil {
		return s.err
	}
	s.keys = append(s.keys, job.Key)
	return job.Run(ctx)
}

type fakeDirectory struct {
	chats   []chat.Config
	removed []shared.ChatID
}

func (d *fakeDirectory) List(context.Context) ([]chat.Config, error) {
	return d.chats, nil
}

func (d *fakeDirectory) RemoveChat(_ context.Context, chatID shared.ChatID) error {
	d.removed = append(d.removed, chatID)
	return nil
}

type botFixture struct {
	gateway   *fakeGateway
	activity  *recordingActivity
	submitter *inlineSubmitter
	directory *fakeDirectory
	bot       *Bot
}

func newBotFixture(t *testing.T) *botFixture {
	t.Helper()
	f := newRouterFixture(t)
	gateway := newFakeGateway()
	gateway.fakeMessenger = f.messenger
	activity := &recordingActivity{}
	submitter := &inlineSubmitter{}
	directory := &fakeDirectory{}

	cfg := DefaultBotConfig()
	cfg.Logger = logger.Discard()
	cfg.GracefulShutdownTimeout = time.Second

	bot, err := NewBot(cfg, BotDependencies{
		Gateway:    gateway,
		Router:     f.router,
		Activity:   activity,
		Dispatcher: submitter,
		Chats:      directory,
	})
	require.NoError(t, err)
	return &botFixture{gateway: gateway, activity: activity, submitter: submitter, directory: directory, bot: bot}
}

func textMessage(chatID, userID int64, messageID int, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: messageID,
		From:      &tgbotapi.User{ID: userID, FirstName: "Ana", LastName: "Pérez"},
		Chat:      &tgbotapi.Chat{ID: chatID, Type: "supergroup"},
		Date:      int(now.Unix()),
		Text:      text,
	}
}

func commandMessage(chatID, userID int64, text string) *tgbotapi.Message {
	msg := textMessage(chatID, userID, 9, text)
	end := len(text)
	for i, r := range text {
		if r == ' ' {
			end = i
			break
		}
	}
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: end}}
	return msg
}

func TestNewBot_RequiresDependencies(t *testing.T) {
	_, err := NewBot(DefaultBotConfig(), BotDependencies{})
	assert.Error(t, err)
}

func TestActivityFromMessage(t *testing.T) {
	msg := textMessage(groupID, 5, 321, "hola")
	ev := ActivityFromMessage(msg)

	assert.Equal(t, "-100:321", ev.EventID)
	assert.Equal(t, shared.ChatID(groupID), ev.ChatID)
	assert.Equal(t, shared.UserID(5), ev.UserID)
	assert.Equal(t, "Ana Pérez", ev.DisplayName)
	assert.False(t, ev.HasMedia)
	assert.False(t, ev.IsBot)
	assert.True(t, ev.Timestamp.Equal(now))

	msg.Photo = []tgbotapi.PhotoSize{{FileID: "x"}}
	assert.True(t, ActivityFromMessage(msg).HasMedia)

	msg.Photo = nil
	msg.Video = &tgbotapi.Video{FileID: "v"}
	assert.True(t, ActivityFromMessage(msg).HasMedia)

	msg.Video = nil
	msg.Sticker = &tgbotapi.Sticker{FileID: "s"}
	msg.Voice = &tgbotapi.Voice{FileID: "o"}
	msg.Document = &tgbotapi.Document{FileID: "d"}
	assert.False(t, ActivityFromMessage(msg).HasMedia, "only photos and videos earn the media gain")
}

func TestBot_MessageBecomesKeyedActivity(t *testing.T) {
	f := newBotFixture(t)

	f.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: textMessage(groupID, 5, 1, "hola")})

	events := f.activity.all()
	require.Len(t, events, 1)
	assert.Equal(t, "-100:1", events[0].EventID)
	assert.Equal(t, []string{"-100:5"}, f.submitter.keys)
}

func TestBot_SubmitFailureIsDropped(t *testing.T) {
	f := newBotFixture(t)
	f.submitter.err = messaging.ErrDispatcherClosed

	f.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: textMessage(groupID, 5, 1, "hola")})
	assert.Empty(t, f.activity.all())
}

func TestBot_CommandsDoNotEarnXP(t *testing.T) {
	f := newBotFixture(t)

	f.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: commandMessage(groupID, 5, "/levcomandos@LeveleandoBot")})
	f.bot.wg.Wait()

	assert.Empty(t, f.activity.all())
	assert.Contains(t, f.gateway.lastReply(t).Text, "📜 Comandos:")
}

func TestBot_CommandForOtherBotIgnored(t *testing.T) {
	f := newBotFixture(t)

	f.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: commandMessage(groupID, 5, "/levcomandos@OtherBot")})
	f.bot.wg.Wait()

	assert.Empty(t, f.gateway.replies)
	assert.Empty(t, f.activity.all())
}

func TestBot_CallbackRouted(t *testing.T) {
	f := newBotFixture(t)

	f.bot.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: 5},
		Message: textMessage(groupID, 999, 40, "ranking"),
		Data:    "levtop_1",
	}})
	f.bot.wg.Wait()

	assert.Equal(t, []string{"cb"}, f.gateway.answered)
	require.Len(t, f.gateway.edits, 1)
	assert.Equal(t, 40, f.gateway.edits[0].MessageID)
}

func TestBot_AnnounceRemovesForbiddenChats(t *testing.T) {
	f := newBotFixture(t)
	f.directory.chats = []chat.Config{
		chat.NewConfig(-1, "2024-03", now),
		chat.NewConfig(-2, "2024-03", now),
	}
	f.gateway.forbidden[-2] = true

	res, err := f.bot.Announce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AnnounceResult{Sent: 1, Removed: 1}, res)
	assert.Equal(t, []shared.ChatID{-2}, f.directory.removed)

	require.Len(t, f.gateway.sent, 1)
	assert.Equal(t, "🤖 LeveleandoTG activo.", f.gateway.sent[0].Text)
	assert.Equal(t, notification.KindAnnouncement, f.gateway.sent[0].Kind)
}

func TestBot_RunRegistersCommandsAndStops(t *testing.T) {
	f := newBotFixture(t)
	f.gateway.updates <- tgbotapi.Update{Message: textMessage(groupID, 5, 1, "hola")}
	close(f.gateway.updates)

	require.NoError(t, f.bot.Run(context.Background()))

	assert.True(t, f.gateway.dropped)
	assert.True(t, f.gateway.stopped)
	require.Len(t, f.gateway.commands, 6)
	assert.Equal(t, "levsettema", f.gateway.commands[1].Command)
	assert.Len(t, f.activity.all(), 1)
}

func TestBot_RunEndsWithContext(t *testing.T) {
	f := newBotFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.bot.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bot did not stop")
	}
}
