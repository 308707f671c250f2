package chat

import (
	"context"
	"errors"

	"github.com/ospreybot/osprey/internal/conversation"
	"github.com/ospreybot/osprey/internal/search"
)

// ErrUnavailable is returned when the chat backend cannot produce a reply,
// regardless of whether the cause was a timeout, an auth failure or a
// malformed response. Callers degrade instead of retrying.
var ErrUnavailable = errors.New("chat service unavailable")

// Message is one turn in an OpenAI-style conversation payload.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	roleSystem    = "system"
	roleUser      = "user"
	roleAssistant = "assistant"
)

// Completer produces a single completion for a system prompt, prior turns
// and the current user text.
type Completer interface {
	Complete(ctx context.Context, system string, turns []conversation.Turn, user string) (string, error)
}

// RouteDecision is the routing verdict for one inbound prompt.
type RouteDecision struct {
	ShouldSearch bool
	Mode         search.Mode
	Query        string
	// Ambiguous marks prompts built on unresolved pronouns, where the bot
	// should ask who is meant instead of searching.
	Ambiguous bool
	Reason    string
}

// IntentRouter decides whether a prompt needs a web search and which mode.
type IntentRouter interface {
	Route(ctx context.Context, text string, turns []conversation.Turn) (RouteDecision, error)
}

func historyMessages(turns []conversation.Turn) []Message {
	msgs := make([]Message, 0, len(turns))
	for _, t := range turns {
		role := roleUser
		if t.Role == conversation.RoleAssistant {
			role = roleAssistant
		}
		msgs = append(msgs, Message{Role: role, Content: t.Text})
	}
	return msgs
}
