// Package discord adapts the Discord gateway to the channel interfaces.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/ospreybot/osprey/internal/channel"
)

// Type is the channel identifier for Discord.
const Type channel.ChannelType = "discord"

const maxMessageLength = 2000

// Adapter implements channel.Adapter, channel.Sender and channel.Receiver
// for a single Discord bot.
type Adapter struct {
	logger  *slog.Logger
	token   string
	session *discordgo.Session
}

// New creates an Adapter for the given bot token.
func New(log *slog.Logger, token string) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", "discord")),
		token:  token,
	}
}

// Type returns the Discord channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

func (a *Adapter) ensureSession() (*discordgo.Session, error) {
	if a.session != nil {
		return a.session, nil
	}
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		return nil, fmt.Errorf("discord session init: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	a.session = session
	return session, nil
}

// Connect opens the gateway connection and forwards normalized message
// create events to the handler.
func (a *Adapter) Connect(ctx context.Context, handler channel.InboundHandler) (channel.Connection, error) {
	session, err := a.ensureSession()
	if err != nil {
		return nil, err
	}

	remove := session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if ctx.Err() != nil {
			return
		}
		msg, ok := normalizeMessage(m, s.State.User.ID)
		if !ok {
			return
		}
		a.logger.Debug("inbound received",
			slog.String("chat_id", msg.ChatID),
			slog.String("sender", msg.Sender.ID))
		go func() {
			if err := handler(ctx, msg); err != nil {
				a.logger.Error("handle inbound failed", slog.Any("error", err))
			}
		}()
	})

	if err := session.Open(); err != nil {
		remove()
		return nil, fmt.Errorf("discord open connection: %w", err)
	}
	a.logger.Info("gateway connected")

	stop := func(_ context.Context) error {
		a.logger.Info("gateway stop")
		remove()
		return session.Close()
	}
	return channel.NewConnection(Type, stop), nil
}

// Send delivers reply text to a Discord channel, splitting messages that
// exceed the platform limit.
func (a *Adapter) Send(ctx context.Context, msg channel.OutboundMessage) error {
	session, err := a.ensureSession()
	if err != nil {
		return err
	}
	channelID := strings.TrimSpace(msg.ChatID)
	if channelID == "" {
		return fmt.Errorf("discord channel id is required")
	}
	for _, part := range splitMessage(msg.Text, maxMessageLength) {
		if _, err := session.ChannelMessageSend(channelID, part, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

// normalizeMessage maps a gateway message to the transport-neutral form.
func normalizeMessage(m *discordgo.MessageCreate, botID string) (channel.InboundMessage, bool) {
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return channel.InboundMessage{}, false
	}

	mentioned := false
	for _, user := range m.Mentions {
		if user != nil && user.ID == botID {
			mentioned = true
			break
		}
	}
	// Replies to the bot's own messages count as addressing it.
	if m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil &&
		m.ReferencedMessage.Author.ID == botID {
		mentioned = true
	}

	received := m.Timestamp.UTC()

	return channel.InboundMessage{
		Channel:    Type,
		ChatID:     m.ChannelID,
		Sender:     channel.Identity{ID: m.Author.ID, DisplayName: m.Author.Username},
		IsGroup:    m.GuildID != "",
		Text:       text,
		MessageID:  m.ID,
		ReceivedAt: received,
		Mentioned:  mentioned,
	}, true
}

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
