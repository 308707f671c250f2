// Package engine is the intake pipeline: it deduplicates inbound messages,
// decides what kind of request each one is, coordinates the chat and search
// collaborators, and produces the outbound reply text. All handling for one
// conversation is serialized; unrelated conversations run in parallel.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ospreybot/osprey/internal/channel"
	"github.com/ospreybot/osprey/internal/chat"
	"github.com/ospreybot/osprey/internal/citations"
	"github.com/ospreybot/osprey/internal/conversation"
	"github.com/ospreybot/osprey/internal/dedup"
	"github.com/ospreybot/osprey/internal/mention"
	"github.com/ospreybot/osprey/internal/pending"
	"github.com/ospreybot/osprey/internal/search"
)

const (
	usageReply = "Tag me with a prompt, for example: @osprey summarize today's discussion.\n" +
		"Commands: /search /news /wiki /images /videos /source /help"
	clarificationReply = "Who are you referring to?"
	noResultsReply     = "I couldn't find anything for that."
	noSourcesReply     = "I don't have a saved source for that yet; ask me to search it."
	chatFailedReply    = "Chat service is unavailable right now. Try again."
)

// ContextMode controls whether conversation history feeds routing and chat.
type ContextMode string

const (
	ContextModeContext   ContextMode = "context"
	ContextModeNoContext ContextMode = "no_context"
)

// Config carries the engine's behavioral knobs.
type Config struct {
	SystemPrompt   string
	ContextMode    ContextMode
	ContextTurns   int
	MaxPromptChars int
	MaxReplyChars  int
	// PendingReplyMaxWords bounds how long a reply can be and still count
	// as an answer to an outstanding clarification.
	PendingReplyMaxWords int

	SearchEnabled bool
	ModeEnabled   map[search.Mode]bool

	DisableAuth    bool
	AllowedSenders []string
	AllowedChats   []string
}

// Searcher is the orchestrator contract the engine depends on.
type Searcher interface {
	Execute(ctx context.Context, mode search.Mode, query string) (search.ResultSet, error)
}

// Engine wires the stores, the routing collaborators and the search
// orchestrator into one message handler.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	dedup      *dedup.Cache
	convs      *conversation.Store
	mentions   *mention.Detector
	pending    *pending.Tracker
	citations  *citations.Cache
	searcher   Searcher
	completer  chat.Completer
	router     chat.IntentRouter
	summarizer *chat.Summarizer

	locks *keyLocks
}

// New creates an Engine. All collaborators are required.
func New(
	log *slog.Logger,
	cfg Config,
	dedupCache *dedup.Cache,
	convs *conversation.Store,
	mentions *mention.Detector,
	pendingTracker *pending.Tracker,
	citationCache *citations.Cache,
	searcher Searcher,
	completer chat.Completer,
	router chat.IntentRouter,
	summarizer *chat.Summarizer,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ContextTurns <= 0 {
		cfg.ContextTurns = 6
	}
	if cfg.MaxPromptChars <= 0 {
		cfg.MaxPromptChars = 700
	}
	if cfg.MaxReplyChars <= 0 {
		cfg.MaxReplyChars = 2000
	}
	if cfg.PendingReplyMaxWords <= 0 {
		cfg.PendingReplyMaxWords = 6
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = chat.DefaultSystemPrompt
	}
	return &Engine{
		cfg:        cfg,
		logger:     log.With(slog.String("component", "engine")),
		dedup:      dedupCache,
		convs:      convs,
		mentions:   mentions,
		pending:    pendingTracker,
		citations:  citationCache,
		searcher:   searcher,
		completer:  completer,
		router:     router,
		summarizer: summarizer,
		locks:      newKeyLocks(),
	}
}

// HandleMessage runs the full pipeline for one inbound message and returns
// the reply text. An empty reply means the message was ignored.
func (e *Engine) HandleMessage(ctx context.Context, msg channel.InboundMessage) (string, error) {
	key := msg.Key()
	unlock := e.locks.Lock(key)
	defer unlock()

	if !e.dedup.Accept(dedup.FingerprintOf(msg)) {
		e.logger.Debug("duplicate delivery dropped",
			slog.String("channel", string(msg.Channel)),
			slog.String("chat_id", msg.ChatID))
		return "", nil
	}

	if !e.authorized(msg) {
		e.logger.Info("unauthorized message ignored",
			slog.String("channel", string(msg.Channel)),
			slog.String("chat_id", msg.ChatID),
			slog.String("sender", msg.Sender.ID))
		return "", nil
	}

	addressed, prompt := e.mentions.IsAddressed(msg.Text, msg.IsGroup, msg.Mentioned)
	if !addressed {
		return "", nil
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return usageReply, nil
	}
	if len(prompt) > e.cfg.MaxPromptChars {
		return "Prompt too long. Maximum is " + strconv.Itoa(e.cfg.MaxPromptChars) + " characters.", nil
	}

	return e.dispatch(ctx, key, prompt), nil
}

// dispatch classifies the addressed prompt, first match wins: numbered
// video selection, slash command, source lookup, clarification
// continuation, auto-routing, plain chat. Any follow-up to a key with a
// pending clarification consumes or clears it, whatever it classifies as.
func (e *Engine) dispatch(ctx context.Context, key channel.Key, prompt string) string {
	if n, ok := parseSelectionNumber(prompt); ok {
		if reply, handled := e.selectVideo(key, n); handled {
			e.pending.Clear(key)
			return reply
		}
	}

	if command, rest, ok := parseCommand(prompt); ok {
		e.pending.Clear(key)
		return e.runCommand(ctx, key, command, rest, prompt)
	}

	if claim, ok := parseSourceRequest(prompt); ok {
		e.pending.Clear(key)
		return e.sourceReply(key, claim)
	}

	if p, ok := e.takeContinuation(key, prompt); ok {
		combined := strings.TrimSpace(p.Query + " " + prompt)
		return e.runSearch(ctx, key, p.Mode, combined, combined)
	}

	if e.cfg.ContextMode == ContextModeContext && e.cfg.SearchEnabled {
		turns := e.recentTurns(key)
		decision, err := e.router.Route(ctx, prompt, turns)
		if err == nil {
			switch {
			case decision.Ambiguous:
				e.pending.Set(key, decision.Mode, prompt)
				return clarificationReply
			case decision.ShouldSearch && e.modeEnabled(decision.Mode):
				return e.runSearch(ctx, key, decision.Mode, decision.Query, prompt)
			}
		} else {
			e.logger.Warn("routing failed, falling back to chat", slog.Any("error", err))
		}
	}

	return e.plainChat(ctx, key, prompt)
}

func (e *Engine) runCommand(ctx context.Context, key channel.Key, command, rest, prompt string) string {
	switch command {
	case "help":
		return usageReply
	case "source":
		if rest == "" {
			return "Usage: /source <claim>"
		}
		return e.sourceReply(key, rest)
	case "search", "news", "wiki", "images", "videos":
		mode := search.ParseMode(command)
		if !e.cfg.SearchEnabled || !e.modeEnabled(mode) {
			return "The " + command + " feature is disabled."
		}
		if rest == "" {
			return "Usage: /" + command + " <query>"
		}
		return e.runSearch(ctx, key, mode, rest, prompt)
	default:
		// Unrecognized commands fall through to chat so "/shrug" style
		// messages still get a reply.
		return e.plainChat(ctx, key, prompt)
	}
}

// runSearch executes the orchestrator and composes the user-facing reply.
// Videos produce a numbered list; other modes are summarised, degrading to
// a plain listing when the summariser is unavailable.
func (e *Engine) runSearch(ctx context.Context, key channel.Key, mode search.Mode, query, userRequest string) string {
	set, err := e.searcher.Execute(ctx, mode, query)
	if err != nil {
		if !errors.Is(err, search.ErrNoResults) {
			e.logger.Warn("search failed",
				slog.String("mode", string(mode)),
				slog.Any("error", err))
		}
		return noResultsReply
	}

	e.citations.Put(key, set)

	if mode == search.ModeVideos {
		return e.videoListReply(set)
	}

	reply, err := e.summarizer.Summarize(ctx, set, query, userRequest, e.recentTurns(key))
	if err != nil {
		e.logger.Warn("summary failed, replying with listing", slog.Any("error", err))
		reply = listingReply(set)
	}
	reply = e.truncateReply(reply)
	e.convs.AppendExchange(key, userRequest, reply)
	return reply
}

func (e *Engine) plainChat(ctx context.Context, key channel.Key, prompt string) string {
	var turns []conversation.Turn
	if e.cfg.ContextMode == ContextModeContext {
		turns = e.recentTurns(key)
	}

	reply, err := e.completer.Complete(ctx, e.cfg.SystemPrompt, turns, prompt)
	if err != nil {
		e.logger.Warn("chat completion failed", slog.Any("error", err))
		return chatFailedReply
	}
	reply = e.truncateReply(reply)
	e.convs.AppendExchange(key, prompt, reply)
	return reply
}

// selectVideo resolves a numbered reply against the cached videos ResultSet.
// handled is false when there is no videos set, letting bare numbers fall
// through to normal classification.
func (e *Engine) selectVideo(key channel.Key, n int) (reply string, handled bool) {
	set, ok := e.citations.Get(key)
	if !ok || set.Mode != search.ModeVideos {
		return "", false
	}
	if n < 1 || n > len(set.Results) {
		return "Please choose a number between 1 and " + strconv.Itoa(len(set.Results)) + ".", true
	}
	selected := set.Results[n-1]
	return selected.Title + "\n" + selected.URL, true
}

func (e *Engine) videoListReply(set search.ResultSet) string {
	var b strings.Builder
	b.WriteString("Videos:")
	for i, r := range set.Results {
		b.WriteString("\n" + strconv.Itoa(i+1) + ". " + r.Title)
	}
	b.WriteString("\nReply with a number to get the link.")
	return b.String()
}

// listingReply renders a bare title/URL list, used when summarisation is
// unavailable.
func listingReply(set search.ResultSet) string {
	var b strings.Builder
	b.WriteString("Results:")
	for i, r := range set.Results {
		b.WriteString("\n" + strconv.Itoa(i+1) + ". " + r.Title + " - " + r.URL)
	}
	return b.String()
}

func (e *Engine) sourceReply(key channel.Key, claim string) string {
	var matches []search.Result
	if claim == "" {
		// A bare "sources?" lists the latest cached results.
		if set, ok := e.citations.Get(key); ok {
			matches = set.Results
			if len(matches) > citations.MaxMatches {
				matches = matches[:citations.MaxMatches]
			}
		}
	} else {
		matches = e.citations.Find(key, claim)
	}
	if len(matches) == 0 {
		return noSourcesReply
	}
	var b strings.Builder
	b.WriteString("Sources:")
	for i, m := range matches {
		b.WriteString("\n" + strconv.Itoa(i+1) + ". " + m.Title + " - " + m.URL)
	}
	return b.String()
}

// takeContinuation consumes the key's pending clarification when the prompt
// reads like a short answer to it. A prompt that looks like a fresh request
// clears the stale clarification instead.
func (e *Engine) takeContinuation(key channel.Key, prompt string) (pending.Clarification, bool) {
	if e.isContinuationReply(prompt) {
		return e.pending.Take(key)
	}
	e.pending.Clear(key)
	return pending.Clarification{}, false
}

var interrogativePrefixes = []string{
	"who ", "who's ", "what ", "what's ", "when ", "where ", "why ", "how ",
	"is ", "are ", "can ", "could ", "do ", "does ", "tell me ",
}

// isContinuationReply is the single shape threshold separating "answer to
// my question" from "new question": short, not a command, not phrased as a
// question of its own.
func (e *Engine) isContinuationReply(prompt string) bool {
	if strings.HasPrefix(prompt, "/") {
		return false
	}
	if len(strings.Fields(prompt)) > e.cfg.PendingReplyMaxWords {
		return false
	}
	lowered := strings.ToLower(prompt)
	if strings.HasSuffix(lowered, "?") {
		return false
	}
	for _, prefix := range interrogativePrefixes {
		if strings.HasPrefix(lowered, prefix) {
			return false
		}
	}
	return true
}

func (e *Engine) recentTurns(key channel.Key) []conversation.Turn {
	return e.convs.Recent(key, 2*e.cfg.ContextTurns)
}

func (e *Engine) modeEnabled(mode search.Mode) bool {
	if e.cfg.ModeEnabled == nil {
		return true
	}
	enabled, ok := e.cfg.ModeEnabled[mode]
	return !ok || enabled
}

func (e *Engine) authorized(msg channel.InboundMessage) bool {
	if e.cfg.DisableAuth {
		return true
	}
	if len(e.cfg.AllowedSenders) == 0 && len(e.cfg.AllowedChats) == 0 {
		return true
	}
	for _, id := range e.cfg.AllowedSenders {
		if id == msg.Sender.ID {
			return true
		}
	}
	for _, id := range e.cfg.AllowedChats {
		if id == msg.ChatID {
			return true
		}
	}
	return false
}

func (e *Engine) truncateReply(text string) string {
	if len(text) <= e.cfg.MaxReplyChars {
		return text
	}
	return strings.TrimRight(text[:e.cfg.MaxReplyChars], " \n\t") + "..."
}

// Sweep evicts expired entries from every store. Wired to the periodic
// maintenance job.
func (e *Engine) Sweep(now time.Time) {
	e.dedup.Sweep(now)
	e.convs.Sweep(now)
	e.pending.Sweep(now)
	e.citations.Sweep(now)
}

func parseSelectionNumber(text string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 0 || n > 99 {
		return 0, false
	}
	return n, true
}

// parseCommand splits "/search some query" into ("search", "some query").
func parseCommand(text string) (command, rest string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, tail, _ := strings.Cut(text[1:], " ")
	head = strings.ToLower(strings.TrimSpace(head))
	if head == "" {
		return "", "", false
	}
	return head, strings.TrimSpace(tail), true
}

// parseSourceRequest recognizes the natural-language forms of a citation
// request: "source for <claim>" and a bare "sources?". The slash form is
// handled as a command.
func parseSourceRequest(text string) (claim string, ok bool) {
	trimmed := strings.TrimRight(strings.TrimSpace(text), "?!. ")
	lowered := strings.ToLower(trimmed)
	if lowered == "source" || lowered == "sources" {
		return "", true
	}
	for _, prefix := range []string{"source for ", "sources for "} {
		if strings.HasPrefix(lowered, prefix) {
			return strings.TrimSpace(trimmed[len(prefix):]), true
		}
	}
	return "", false
}
