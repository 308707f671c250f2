// Package telegram adapts the Telegram Bot API to the channel interfaces.
// It supports long-polling via Connect and webhook delivery via ParseWebhook.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ospreybot/osprey/internal/channel"
)

// Type is the channel identifier for Telegram.
const Type channel.ChannelType = "telegram"

const maxMessageLength = 4096

// Adapter implements channel.Adapter, channel.Sender, channel.Receiver and
// channel.WebhookParser for a single Telegram bot.
type Adapter struct {
	logger *slog.Logger
	token  string

	// newBot is swapped in tests to avoid hitting the Telegram API.
	newBot func(token string) (*tgbotapi.BotAPI, error)
	bot    *tgbotapi.BotAPI
}

// New creates an Adapter for the given bot token.
func New(log *slog.Logger, token string) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	adapter := &Adapter{
		logger: log.With(slog.String("adapter", "telegram")),
		newBot: tgbotapi.NewBotAPI,
		token:  token,
	}
	_ = tgbotapi.SetLogger(&slogBotLogger{log: adapter.logger})
	return adapter
}

// Type returns the Telegram channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

func (a *Adapter) ensureBot() (*tgbotapi.BotAPI, error) {
	if a.bot != nil {
		return a.bot, nil
	}
	bot, err := a.newBot(a.token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	a.bot = bot
	return bot, nil
}

// Connect starts long-polling for updates and forwards normalized messages
// to the handler.
func (a *Adapter) Connect(ctx context.Context, handler channel.InboundHandler) (channel.Connection, error) {
	bot, err := a.ensureBot()
	if err != nil {
		return nil, err
	}
	a.logger.Info("long-poll start", slog.String("bot", bot.Self.UserName))

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := bot.GetUpdatesChan(updateConfig)
	connCtx, cancel := context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					a.logger.Info("updates channel closed")
					return
				}
				msg, ok := normalizeUpdate(update, bot.Self.UserName)
				if !ok {
					continue
				}
				a.logger.Debug("inbound received",
					slog.String("chat_id", msg.ChatID),
					slog.String("sender", msg.Sender.ID))
				go func() {
					if err := handler(connCtx, msg); err != nil {
						a.logger.Error("handle inbound failed", slog.Any("error", err))
					}
				}()
			}
		}
	}()

	stop := func(_ context.Context) error {
		a.logger.Info("long-poll stop")
		bot.StopReceivingUpdates()
		cancel()
		// Drain remaining updates so the library's polling goroutine can
		// finish writing and exit; otherwise the in-flight long-poll keeps
		// the old getUpdates session alive.
		for range updates {
		}
		return nil
	}
	return channel.NewConnection(Type, stop), nil
}

// Send delivers reply text to a Telegram chat, splitting messages that
// exceed the platform limit.
func (a *Adapter) Send(ctx context.Context, msg channel.OutboundMessage) error {
	bot, err := a.ensureBot()
	if err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(msg.ChatID), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", msg.ChatID, err)
	}
	for _, part := range splitMessage(msg.Text, maxMessageLength) {
		if _, err := bot.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// ParseWebhook decodes a Telegram webhook update. Non-message updates
// (edits, channel posts, callbacks) are recognized but not handled.
func (a *Adapter) ParseWebhook(body []byte) (channel.InboundMessage, bool, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return channel.InboundMessage{}, false, fmt.Errorf("telegram webhook decode: %w", err)
	}
	botUsername := ""
	if a.bot != nil {
		botUsername = a.bot.Self.UserName
	}
	msg, ok := normalizeUpdate(update, botUsername)
	return msg, ok, nil
}

// normalizeUpdate maps a Telegram update to the transport-neutral message.
// ok is false for updates that carry no new user text.
func normalizeUpdate(update tgbotapi.Update, botUsername string) (channel.InboundMessage, bool) {
	m := update.Message
	if m == nil || m.Chat == nil {
		return channel.InboundMessage{}, false
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		text = strings.TrimSpace(m.Caption)
	}
	if text == "" {
		return channel.InboundMessage{}, false
	}

	sender := channel.Identity{}
	if m.From != nil {
		sender.ID = strconv.FormatInt(m.From.ID, 10)
		sender.DisplayName = strings.TrimSpace(m.From.UserName)
		if sender.DisplayName == "" {
			sender.DisplayName = strings.TrimSpace(m.From.FirstName)
		}
	}

	return channel.InboundMessage{
		Channel:    Type,
		ChatID:     strconv.FormatInt(m.Chat.ID, 10),
		Sender:     sender,
		IsGroup:    m.Chat.IsGroup() || m.Chat.IsSuperGroup(),
		Text:       text,
		MessageID:  strconv.Itoa(m.MessageID),
		ReceivedAt: time.Unix(int64(m.Date), 0).UTC(),
		Mentioned:  isBotMentioned(m, botUsername),
	}, true
}

// isBotMentioned reports whether the message carries a native mention of the
// bot, either as an @username in the text or as a text_mention entity.
func isBotMentioned(m *tgbotapi.Message, botUsername string) bool {
	normalized := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(botUsername), "@"))
	if normalized != "" {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			text = strings.TrimSpace(m.Caption)
		}
		if strings.Contains(strings.ToLower(text), "@"+normalized) {
			return true
		}
	}
	entities := make([]tgbotapi.MessageEntity, 0, len(m.Entities)+len(m.CaptionEntities))
	entities = append(entities, m.Entities...)
	entities = append(entities, m.CaptionEntities...)
	for _, entity := range entities {
		if entity.Type == "text_mention" && entity.User != nil && entity.User.IsBot {
			return true
		}
	}
	return false
}

// splitMessage cuts text into chunks of at most limit bytes, preferring
// newline boundaries.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var parts []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut <= 0 {
			cut = limit
		}
		parts = append(parts, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...any) {
	l.log.Debug(fmt.Sprint(v...))
}

func (l *slogBotLogger) Printf(format string, v ...any) {
	l.log.Debug(fmt.Sprintf(format, v...))
}
