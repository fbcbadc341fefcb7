package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/freshkeep/internal/model"
	"github.com/dukerupert/freshkeep/internal/notify"
)

type fakeAPI struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	err     error
	block   chan struct{}
	updates chan tgbotapi.Update
	stopped bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeAPI) Sent() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

func alert() notify.Message {
	return notify.Message{
		Notification: model.Notification{Priority: model.PriorityUrgent},
		Title:        "Milk expires today",
		Body:         "Use your milk today.",
		URL:          "/notifications",
	}
}

func TestChannelSend(t *testing.T) {
	api := &fakeAPI{}
	ch := NewChannel(api, "https://freshkeep.test")

	err := ch.Send(context.Background(), model.User{ID: 1, TelegramChatID: 555}, alert())
	require.NoError(t, err)

	sent := api.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(555), sent[0].ChatID)
	assert.True(t, strings.HasPrefix(sent[0].Text, "🔴 Milk expires today"))
	assert.Contains(t, sent[0].Text, "https://freshkeep.test/notifications")
}

func TestChannelEnabledRequiresLinkedChat(t *testing.T) {
	ch := NewChannel(&fakeAPI{}, "")
	assert.False(t, ch.Enabled(model.User{}))
	assert.True(t, ch.Enabled(model.User{TelegramChatID: 1}))
}

func TestChannelWithoutSenderIsDisabled(t *testing.T) {
	err := NewChannel(nil, "").Send(context.Background(), model.User{TelegramChatID: 1}, alert())
	assert.ErrorIs(t, err, notify.ErrChannelDisabled)
}

func TestChannelWithoutChatIsNoRecipient(t *testing.T) {
	err := NewChannel(&fakeAPI{}, "").Send(context.Background(), model.User{}, alert())
	assert.ErrorIs(t, err, notify.ErrNoRecipient)
}

func TestChannelSendError(t *testing.T) {
	api := &fakeAPI{err: errors.New("bot was blocked by the user")}
	err := NewChannel(api, "").Send(context.Background(), model.User{TelegramChatID: 1}, alert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
}

func TestChannelSendHonoursContext(t *testing.T) {
	api := &fakeAPI{block: make(chan struct{})}
	defer close(api.block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := NewChannel(api, "").Send(ctx, model.User{TelegramChatID: 1}, alert())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type fakeLinks struct {
	mu     sync.Mutex
	linked map[int64]int64 // chat -> user
}

func (f *fakeLinks) SetTelegramChatID(ctx context.Context, userID, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linked[chatID] = userID
	return nil
}

func (f *fakeLinks) UnlinkTelegramChat(ctx context.Context, chatID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.linked[chatID]; !ok {
		return 0, nil
	}
	delete(f.linked, chatID)
	return 1, nil
}

type fakeCodes map[string]int64

func (f fakeCodes) VerifyLinkCode(code string) (int64, error) {
	if id, ok := f[code]; ok {
		return id, nil
	}
	return 0, errors.New("invalid code")
}

func command(chatID int64, text string) tgbotapi.Update {
	cmdLen := len(text)
	if i := strings.IndexByte(text, ' '); i > 0 {
		cmdLen = i
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}}
}

func runBot(t *testing.T, updates ...tgbotapi.Update) (*fakeAPI, *fakeLinks) {
	t.Helper()
	api := &fakeAPI{updates: make(chan tgbotapi.Update, len(updates))}
	links := &fakeLinks{linked: map[int64]int64{}}
	bot := NewBot(api, links, fakeCodes{"good": 7}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for _, u := range updates {
		api.updates <- u
	}
	close(api.updates)
	bot.Run(context.Background())
	return api, links
}

func TestBotLinksAndUnlinks(t *testing.T) {
	api, links := runBot(t,
		command(100, "/start good"),
		command(100, "/stop"),
		command(100, "/stop"),
	)

	assert.Empty(t, links.linked)
	sent := api.Sent()
	require.Len(t, sent, 3)
	assert.Contains(t, sent[0].Text, "Linked")
	assert.Contains(t, sent[1].Text, "Unlinked")
	assert.Contains(t, sent[2].Text, "not linked")
}

func TestBotStartLinksChat(t *testing.T) {
	_, links := runBot(t, command(100, "/start good"))
	assert.Equal(t, map[int64]int64{100: 7}, links.linked)
}

func TestBotRejectsBadCode(t *testing.T) {
	api, links := runBot(t, command(100, "/start forged"), command(100, "/start"))

	assert.Empty(t, links.linked)
	sent := api.Sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].Text, "expired or is invalid")
	assert.Contains(t, sent[1].Text, "Link Telegram")
}

func TestBotStopsOnCancel(t *testing.T) {
	api := &fakeAPI{updates: make(chan tgbotapi.Update)}
	bot := NewBot(api, &fakeLinks{linked: map[int64]int64{}}, fakeCodes{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bot.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bot did not stop")
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	assert.True(t, api.stopped)
}
