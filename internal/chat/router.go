package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ospreybot/osprey/internal/conversation"
	"github.com/ospreybot/osprey/internal/search"
)

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// Pronoun-driven prompts that cannot stand alone.
var ambiguousPromptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*who(?:'s| is)\s+(?:he|she|they|it)\b`),
	regexp.MustCompile(`(?i)^\s*what(?:'s| is)\s+(?:he|she|they|it)\b`),
	regexp.MustCompile(`(?i)^\s*what about (?:him|her|them)\b`),
	regexp.MustCompile(`(?i)^\s*(?:tell me about|what do you know about)\s+(?:him|her|them|that person|this person)\b`),
}

var creatorTerms = []string{
	"tiktok", "instagram", "youtube", "youtuber", "streamer",
	"influencer", "creator", "twitch", "twitter", "social media",
}

var wikiTerms = []string{"wiki", "wikipedia", "encyclopedia", "encyclopedic"}

var personLookupPrefixes = []string{
	"who is ", "who's ", "tell me about ", "what do you know about ",
	"give me background on ", "give me info on ",
}

// Router asks the configured model whether a prompt needs a web search.
// It implements IntentRouter.
type Router struct {
	completer Completer
	logger    *slog.Logger
}

// NewRouter creates a Router over the given Completer.
func NewRouter(log *slog.Logger, completer Completer) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		completer: completer,
		logger:    log.With(slog.String("component", "router")),
	}
}

type routerPayload struct {
	ShouldSearch bool   `json:"should_search"`
	Mode         string `json:"mode"`
	Query        string `json:"query"`
	Reason       string `json:"reason"`
}

// Route classifies a prompt. Pronoun-only prompts with no conversation
// history are flagged Ambiguous without consulting the model; for everything
// else a model failure or unparseable verdict degrades to no-search so the
// message still gets a plain chat reply.
func (r *Router) Route(ctx context.Context, text string, turns []conversation.Turn) (RouteDecision, error) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return RouteDecision{Mode: search.ModeSearch, Reason: "empty_prompt"}, nil
	}

	if isAmbiguousPrompt(text) && len(turns) == 0 {
		return RouteDecision{Mode: search.ModeSearch, Ambiguous: true, Reason: "ambiguous_reference"}, nil
	}

	raw, err := r.completer.Complete(ctx, routerSystemPrompt, nil, text)
	if err != nil {
		r.logger.Warn("router fallback", slog.String("reason", "completion_failed"), slog.Any("error", err))
		return RouteDecision{Mode: search.ModeSearch, Reason: "router_unavailable"}, nil
	}

	payload, ok := extractJSONObject(raw)
	if !ok {
		r.logger.Warn("router fallback", slog.String("reason", "json_parse_failed"), slog.Int("response_len", len(raw)))
		return RouteDecision{Mode: search.ModeSearch, Reason: "json_parse_failed"}, nil
	}

	mode := coerceMode(payload.Mode)
	query := strings.TrimSpace(payload.Query)
	reason := strings.TrimSpace(payload.Reason)

	if !payload.ShouldSearch || query == "" {
		return RouteDecision{Mode: search.ModeSearch, Reason: reason}, nil
	}

	if mode == search.ModeWiki && forceSearchOverWiki(text, query) {
		r.logger.Debug("router mode adjusted", slog.String("from", "wiki"), slog.String("to", "search"))
		mode = search.ModeSearch
	}

	return RouteDecision{
		ShouldSearch: true,
		Mode:         mode,
		Query:        query,
		Reason:       reason,
	}, nil
}

func isAmbiguousPrompt(text string) bool {
	for _, p := range ambiguousPromptPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// coerceMode maps unknown or video modes back to plain search; videos are
// reached only through the explicit command.
func coerceMode(value string) search.Mode {
	mode := search.ParseMode(value)
	if mode == search.ModeVideos {
		return search.ModeSearch
	}
	return mode
}

// forceSearchOverWiki overrides a wiki verdict for modern-name lookups the
// encyclopedia will likely miss, unless the user explicitly asked for one.
func forceSearchOverWiki(prompt, query string) bool {
	combined := strings.ToLower(prompt + " " + query)
	for _, term := range wikiTerms {
		if strings.Contains(combined, term) {
			return false
		}
	}
	for _, term := range creatorTerms {
		if strings.Contains(combined, term) {
			return true
		}
	}
	lowered := strings.ToLower(strings.Join(strings.Fields(prompt), " "))
	for _, prefix := range personLookupPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			return true
		}
	}
	return strings.Contains(combined, "@")
}

// extractJSONObject parses the model output as JSON, salvaging an embedded
// object when the model wrapped it in prose.
func extractJSONObject(raw string) (routerPayload, bool) {
	candidates := []string{strings.TrimSpace(raw)}
	if match := jsonObjectRe.FindString(raw); match != "" {
		candidates = append(candidates, match)
	}
	for _, candidate := range candidates {
		var payload routerPayload
		if err := json.Unmarshal([]byte(candidate), &payload); err == nil {
			return payload, true
		}
	}
	return routerPayload{}, false
}
