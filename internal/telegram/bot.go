package telegram

import (
	"context"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// API is the slice of *tgbotapi.BotAPI the bot needs.
type API interface {
	Sender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// ChatLinker stores chat links.
type ChatLinker interface {
	SetTelegramChatID(ctx context.Context, userID, chatID int64) error
	UnlinkTelegramChat(ctx context.Context, chatID int64) (int64, error)
}

// CodeVerifier resolves link codes to user ids.
type CodeVerifier interface {
	VerifyLinkCode(code string) (int64, error)
}

// Bot answers /start <code> and /stop so users can link and unlink chats.
type Bot struct {
	api    API
	links  ChatLinker
	codes  CodeVerifier
	logger *slog.Logger
}

func NewBot(api API, links ChatLinker, codes CodeVerifier, logger *slog.Logger) *Bot {
	return &Bot{api: api, links: links, codes: codes, logger: logger}
}

// Connect authorizes token with Telegram.
func Connect(token string) (*tgbotapi.BotAPI, error) {
	return tgbotapi.NewBotAPI(token)
}

// Run long-polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("telegram bot started")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("telegram bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message != nil && update.Message.IsCommand() {
				b.handleCommand(ctx, update.Message)
			}
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start":
		code := strings.TrimSpace(msg.CommandArguments())
		if code == "" {
			b.reply(ctx, chatID, "Open Settings in freshkeep and tap \"Link Telegram\" to get your link.")
			return
		}
		userID, err := b.codes.VerifyLinkCode(code)
		if err != nil {
			b.logger.Warn("telegram link rejected", "chat_id", chatID, "error", err)
			b.reply(ctx, chatID, "That link has expired or is invalid. Please request a new one.")
			return
		}
		if err := b.links.SetTelegramChatID(ctx, userID, chatID); err != nil {
			b.logger.Error("link telegram chat", "user_id", userID, "chat_id", chatID, "error", err)
			b.reply(ctx, chatID, "Something went wrong. Please try again later.")
			return
		}
		b.logger.Info("telegram chat linked", "user_id", userID, "chat_id", chatID)
		b.reply(ctx, chatID, "✅ Linked. You will get expiry alerts here. Send /stop to unlink.")
	case "stop":
		n, err := b.links.UnlinkTelegramChat(ctx, chatID)
		if err != nil {
			b.logger.Error("unlink telegram chat", "chat_id", chatID, "error", err)
			b.reply(ctx, chatID, "Something went wrong. Please try again later.")
			return
		}
		if n == 0 {
			b.reply(ctx, chatID, "This chat is not linked.")
			return
		}
		b.reply(ctx, chatID, "Unlinked. You will no longer get alerts here.")
	default:
		b.reply(ctx, chatID, "Commands: /start <code> to link, /stop to unlink.")
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := send(ctx, b.api, tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error("telegram reply", "chat_id", chatID, "error", err)
	}
}
