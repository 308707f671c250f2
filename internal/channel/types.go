// Package channel provides a unified abstraction for messaging transports.
// It defines the normalized inbound event, capability interfaces, and a
// registry for transport adapters such as Telegram and Discord.
package channel

import (
	"strings"
	"time"
)

// ChannelType identifies a messaging transport (e.g. "telegram", "discord").
type ChannelType string

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// Key identifies one chat/group/direct-message thread on one transport.
// It is the map key for all per-conversation state.
type Key struct {
	Channel ChannelType
	ChatID  string
}

// String returns the stable "<channel>:<chat-id>" form of the key.
func (k Key) String() string {
	return string(k.Channel) + ":" + k.ChatID
}

// Identity describes the sender of an inbound message.
type Identity struct {
	ID          string
	DisplayName string
}

// InboundMessage is a normalized message received from a transport adapter.
// The engine never sees transport-specific payloads.
type InboundMessage struct {
	Channel    ChannelType
	ChatID     string
	Sender     Identity
	IsGroup    bool
	Text       string
	MessageID  string
	ReceivedAt time.Time
	// Mentioned is set when the platform's native mention metadata
	// addresses the bot (distinct from alias prefixes in the text).
	Mentioned bool
}

// Key returns the conversation key for this message.
func (m InboundMessage) Key() Key {
	return Key{Channel: m.Channel, ChatID: m.ChatID}
}

// OutboundMessage pairs a chat id with plain reply text.
type OutboundMessage struct {
	ChatID string
	Text   string
}

// IsEmpty reports whether the outbound message carries no content.
func (m OutboundMessage) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == ""
}
