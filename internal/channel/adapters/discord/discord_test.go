package discord

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageCreate(content, guildID string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        "msg-1",
			ChannelID: "chan-1",
			GuildID:   guildID,
			Content:   content,
			Timestamp: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
			Author:    &discordgo.User{ID: "user-1", Username: "ada"},
		},
	}
}

func TestNormalizeMessageGuild(t *testing.T) {
	msg, ok := normalizeMessage(messageCreate("hello bot", "guild-1"), "bot-1")
	require.True(t, ok)

	assert.Equal(t, Type, msg.Channel)
	assert.Equal(t, "chan-1", msg.ChatID)
	assert.Equal(t, "msg-1", msg.MessageID)
	assert.Equal(t, "user-1", msg.Sender.ID)
	assert.True(t, msg.IsGroup)
	assert.False(t, msg.Mentioned)
}

func TestNormalizeMessageDirect(t *testing.T) {
	msg, ok := normalizeMessage(messageCreate("hi", ""), "bot-1")
	require.True(t, ok)
	assert.False(t, msg.IsGroup)
}

func TestNormalizeMessageBotMention(t *testing.T) {
	m := messageCreate("<@bot-1> hello", "guild-1")
	m.Mentions = []*discordgo.User{{ID: "bot-1"}}

	msg, ok := normalizeMessage(m, "bot-1")
	require.True(t, ok)
	assert.True(t, msg.Mentioned)
}

func TestNormalizeMessageReplyToBot(t *testing.T) {
	m := messageCreate("thanks", "guild-1")
	m.ReferencedMessage = &discordgo.Message{Author: &discordgo.User{ID: "bot-1"}}

	msg, ok := normalizeMessage(m, "bot-1")
	require.True(t, ok)
	assert.True(t, msg.Mentioned)
}

func TestNormalizeMessageEmptyContentSkipped(t *testing.T) {
	_, ok := normalizeMessage(messageCreate("   ", "guild-1"), "bot-1")
	assert.False(t, ok)
}

func TestSplitMessageLongText(t *testing.T) {
	parts := splitMessage("aaa\nbbb\nccc", 7)
	require.Len(t, parts, 2)
	assert.Equal(t, "aaa\nbbb", parts[0])
	assert.Equal(t, "ccc", parts[1])
}
