package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ospreybot/osprey/internal/conversation"
	"github.com/ospreybot/osprey/internal/search"
)

// Summarizer turns a result set into a short conversational reply.
type Summarizer struct {
	completer Completer
	// persona, when set, is prepended to the summary constraints so search
	// replies keep the bot's configured voice.
	persona string
}

// NewSummarizer creates a Summarizer. persona may be empty.
func NewSummarizer(completer Completer, persona string) *Summarizer {
	return &Summarizer{completer: completer, persona: persona}
}

type summaryResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
	Source  string `json:"source"`
	Date    string `json:"date,omitempty"`
}

// Summarize asks the model to condense the results for the user's request.
// History is optional. The error is ErrUnavailable-wrapped on any failure;
// callers fall back to a plain listing.
func (s *Summarizer) Summarize(ctx context.Context, set search.ResultSet, query, userRequest string, turns []conversation.Turn) (string, error) {
	payload := make([]summaryResult, 0, len(set.Results))
	for _, r := range set.Results {
		payload = append(payload, summaryResult{
			Title:   r.Title,
			Snippet: r.Snippet,
			URL:     r.URL,
			Source:  r.Source,
			Date:    r.Date,
		})
	}
	resultsJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}

	parts := []string{
		"mode: " + string(set.Mode),
		"query: " + query,
		"user_request: " + userRequest,
	}
	if len(turns) > 0 {
		historyJSON, err := json.Marshal(historyMessages(turns))
		if err != nil {
			return "", fmt.Errorf("marshal history: %w", err)
		}
		parts = append(parts, "recent_history:\n"+string(historyJSON))
	}
	parts = append(parts, "results:\n"+string(resultsJSON))

	text, err := s.completer.Complete(ctx, s.systemPrompt(), nil, strings.Join(parts, "\n"))
	if err != nil {
		return "", err
	}
	return text, nil
}

func (s *Summarizer) systemPrompt() string {
	if s.persona == "" {
		return summarySystemPrompt
	}
	return s.persona + "\n\nSearch-response constraints:\n" + summarySystemPrompt
}
