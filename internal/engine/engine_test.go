package engine

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ospreybot/osprey/internal/channel"
	"github.com/ospreybot/osprey/internal/chat"
	"github.com/ospreybot/osprey/internal/citations"
	"github.com/ospreybot/osprey/internal/conversation"
	"github.com/ospreybot/osprey/internal/dedup"
	"github.com/ospreybot/osprey/internal/mention"
	"github.com/ospreybot/osprey/internal/pending"
	"github.com/ospreybot/osprey/internal/search"
)

type fakeCompleter struct {
	mu    sync.Mutex
	reply string
	err   error
	// hook, when set, runs during each Complete call with no internal
	// locks held.
	hook  func()
	calls int
	// lastUser records the user text of the most recent call.
	lastUser  string
	lastTurns []conversation.Turn
}

func (f *fakeCompleter) Complete(_ context.Context, _ string, turns []conversation.Turn, user string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.lastUser = user
	f.lastTurns = turns
	reply, err, hook := f.reply, f.err, f.hook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return reply, err
}

type fakeRouter struct {
	mu       sync.Mutex
	decision chat.RouteDecision
	err      error
	calls    int
}

func (f *fakeRouter) Route(_ context.Context, _ string, _ []conversation.Turn) (chat.RouteDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.decision, f.err
}

type fakeSearcher struct {
	set       search.ResultSet
	err       error
	calls     int
	lastMode  search.Mode
	lastQuery string
}

func (f *fakeSearcher) Execute(_ context.Context, mode search.Mode, query string) (search.ResultSet, error) {
	f.calls++
	f.lastMode = mode
	f.lastQuery = query
	return f.set, f.err
}

type engineFixture struct {
	engine    *Engine
	completer *fakeCompleter
	router    *fakeRouter
	searcher  *fakeSearcher
	pending   *pending.Tracker
	citations *citations.Cache
	convs     *conversation.Store
}

func newFixture(t *testing.T, mutate func(*Config)) *engineFixture {
	t.Helper()

	cfg := Config{
		ContextMode:   ContextModeContext,
		SearchEnabled: true,
		DisableAuth:   true,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	completer := &fakeCompleter{reply: "chat reply"}
	router := &fakeRouter{}
	searcher := &fakeSearcher{}
	tracker := pending.NewTracker(time.Minute)
	citationCache := citations.NewCache(time.Minute)
	convs := conversation.NewStore(20, time.Hour)

	eng := New(
		nil,
		cfg,
		dedup.NewCache(time.Minute),
		convs,
		mention.NewDetector([]string{"@osprey"}),
		tracker,
		citationCache,
		searcher,
		completer,
		router,
		chat.NewSummarizer(completer, ""),
	)
	return &engineFixture{
		engine:    eng,
		completer: completer,
		router:    router,
		searcher:  searcher,
		pending:   tracker,
		citations: citationCache,
		convs:     convs,
	}
}

var messageSeq int

func inbound(text string) channel.InboundMessage {
	messageSeq++
	return channel.InboundMessage{
		Channel:    "telegram",
		ChatID:     "chat-1",
		Sender:     channel.Identity{ID: "user-1"},
		Text:       text,
		MessageID:  "msg-" + strconv.Itoa(messageSeq),
		ReceivedAt: time.Now(),
	}
}

func TestHandleMessageDuplicateDropped(t *testing.T) {
	f := newFixture(t, nil)
	msg := inbound("hello")

	reply, err := f.engine.HandleMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "chat reply", reply)

	reply, err = f.engine.HandleMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Empty(t, reply)
	assert.Equal(t, 1, f.completer.calls)
}

func TestHandleMessageUnaddressedGroupIgnored(t *testing.T) {
	f := newFixture(t, nil)
	msg := inbound("just chatting among ourselves")
	msg.IsGroup = true

	reply, err := f.engine.HandleMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Empty(t, reply)
	assert.Zero(t, f.completer.calls)
}

func TestHandleMessageEmptyPromptUsage(t *testing.T) {
	f := newFixture(t, nil)
	msg := inbound("@osprey")
	msg.IsGroup = true

	reply, err := f.engine.HandleMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Contains(t, reply, "Tag me with a prompt")
}

func TestHandleMessagePromptTooLong(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.MaxPromptChars = 20 })

	reply, err := f.engine.HandleMessage(context.Background(), inbound(strings.Repeat("a", 21)))
	require.NoError(t, err)
	assert.Equal(t, "Prompt too long. Maximum is 20 characters.", reply)
	assert.Zero(t, f.completer.calls)
}

func TestHandleMessageAuthAllowlist(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.DisableAuth = false
		cfg.AllowedSenders = []string{"user-1"}
	})

	reply, err := f.engine.HandleMessage(context.Background(), inbound("hello"))
	require.NoError(t, err)
	assert.Equal(t, "chat reply", reply)

	msg := inbound("hello again")
	msg.Sender.ID = "stranger"
	reply, err = f.engine.HandleMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestCommandDispatchSearch(t *testing.T) {
	f := newFixture(t, nil)
	f.searcher.set = search.ResultSet{
		Mode:    search.ModeSearch,
		Results: []search.Result{{Title: "Go", URL: "https://go.dev", Snippet: "the language"}},
	}
	f.completer.reply = "summary of go"

	reply, err := f.engine.HandleMessage(context.Background(), inbound("/search golang"))
	require.NoError(t, err)
	assert.Equal(t, "summary of go", reply)
	assert.Equal(t, search.ModeSearch, f.searcher.lastMode)
	assert.Equal(t, "golang", f.searcher.lastQuery)
	assert.Zero(t, f.router.calls)
}

func TestCommandDisabledMode(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.ModeEnabled = map[search.Mode]bool{search.ModeImages: false}
	})

	reply, err := f.engine.HandleMessage(context.Background(), inbound("/images cats"))
	require.NoError(t, err)
	assert.Equal(t, "The images feature is disabled.", reply)
	assert.Zero(t, f.searcher.calls)
}

func TestCommandMissingArgument(t *testing.T) {
	f := newFixture(t, nil)

	reply, err := f.engine.HandleMessage(context.Background(), inbound("/news"))
	require.NoError(t, err)
	assert.Equal(t, "Usage: /news <query>", reply)
}

func TestUnknownCommandFallsThroughToChat(t *testing.T) {
	f := newFixture(t, nil)

	reply, err := f.engine.HandleMessage(context.Background(), inbound("/shrug"))
	require.NoError(t, err)
	assert.Equal(t, "chat reply", reply)
	assert.Equal(t, "/shrug", f.completer.lastUser)
}

func TestSourceLookupHitAndMiss(t *testing.T) {
	f := newFixture(t, nil)
	key := channel.Key{Channel: "telegram", ChatID: "chat-1"}
	f.citations.Put(key, search.ResultSet{
		Mode: search.ModeNews,
		Results: []search.Result{
			{Title: "Fusion milestone reached", URL: "https://example.com/fusion", Snippet: "net energy gain confirmed"},
		},
	})

	reply, err := f.engine.HandleMessage(context.Background(), inbound("/source fusion milestone"))
	require.NoError(t, err)
	assert.Contains(t, reply, "Sources:")
	assert.Contains(t, reply, "https://example.com/fusion")

	reply, err = f.engine.HandleMessage(context.Background(), inbound("source for quantum entanglement"))
	require.NoError(t, err)
	assert.Equal(t, noSourcesReply, reply)
}

func TestBareSourcesListsLatestResults(t *testing.T) {
	f := newFixture(t, nil)
	key := channel.Key{Channel: "telegram", ChatID: "chat-1"}
	f.citations.Put(key, search.ResultSet{
		Mode: search.ModeSearch,
		Results: []search.Result{
			{Title: "First", URL: "https://example.com/1"},
			{Title: "Second", URL: "https://example.com/2"},
		},
	})

	reply, err := f.engine.HandleMessage(context.Background(), inbound("sources?"))
	require.NoError(t, err)
	assert.Contains(t, reply, "1. First - https://example.com/1")
	assert.Contains(t, reply, "2. Second - https://example.com/2")
}

func TestRouterSearchDecision(t *testing.T) {
	f := newFixture(t, nil)
	f.router.decision = chat.RouteDecision{ShouldSearch: true, Mode: search.ModeNews, Query: "election results"}
	f.searcher.set = search.ResultSet{
		Mode:    search.ModeNews,
		Results: []search.Result{{Title: "Results in", URL: "https://example.com/vote"}},
	}
	f.completer.reply = "the election summary"

	reply, err := f.engine.HandleMessage(context.Background(), inbound("what happened in the election"))
	require.NoError(t, err)
	assert.Equal(t, "the election summary", reply)
	assert.Equal(t, search.ModeNews, f.searcher.lastMode)
	assert.Equal(t, "election results", f.searcher.lastQuery)
}

func TestRouterFailureDegradesToChat(t *testing.T) {
	f := newFixture(t, nil)
	f.router.err = errors.New("model unavailable")

	reply, err := f.engine.HandleMessage(context.Background(), inbound("tell me a story"))
	require.NoError(t, err)
	assert.Equal(t, "chat reply", reply)
	assert.Zero(t, f.searcher.calls)
}

func TestAmbiguousDecisionSetsPending(t *testing.T) {
	f := newFixture(t, nil)
	f.router.decision = chat.RouteDecision{Ambiguous: true, Mode: search.ModeSearch}

	reply, err := f.engine.HandleMessage(context.Background(), inbound("what did he announce"))
	require.NoError(t, err)
	assert.Equal(t, clarificationReply, reply)

	key := channel.Key{Channel: "telegram", ChatID: "chat-1"}
	clar, ok := f.pending.Take(key)
	require.True(t, ok)
	assert.Equal(t, "what did he announce", clar.Query)
}

func TestContinuationConsumesPendingOnce(t *testing.T) {
	f := newFixture(t, nil)
	key := channel.Key{Channel: "telegram", ChatID: "chat-1"}
	f.pending.Set(key, search.ModeSearch, "what did he announce")
	f.searcher.set = search.ResultSet{
		Mode:    search.ModeSearch,
		Results: []search.Result{{Title: "Keynote", URL: "https://example.com/keynote"}},
	}
	f.completer.reply = "keynote recap"

	reply, err := f.engine.HandleMessage(context.Background(), inbound("Tim Cook"))
	require.NoError(t, err)
	assert.Equal(t, "keynote recap", reply)
	assert.Equal(t, "what did he announce Tim Cook", f.searcher.lastQuery)

	_, ok := f.pending.Take(key)
	assert.False(t, ok)
}

func TestLongReplyClearsPending(t *testing.T) {
	f := newFixture(t, nil)
	key := channel.Key{Channel: "telegram", ChatID: "chat-1"}
	f.pending.Set(key, search.ModeSearch, "what did he announce")

	reply, err := f.engine.HandleMessage(context.Background(),
		inbound("actually never mind that, write me a limerick about ducks"))
	require.NoError(t, err)
	assert.Equal(t, "chat reply", reply)
	assert.Zero(t, f.searcher.calls)

	_, ok := f.pending.Take(key)
	assert.False(t, ok)
}

func TestCommandClearsPending(t *testing.T) {
	f := newFixture(t, nil)
	key := channel.Key{Channel: "telegram", ChatID: "chat-1"}
	f.pending.Set(key, search.ModeSearch, "what did he announce")
	f.searcher.set = search.ResultSet{
		Mode:    search.ModeNews,
		Results: []search.Result{{Title: "Mars Landing", URL: "https://example.com/mars"}},
	}

	_, err := f.engine.HandleMessage(context.Background(), inbound("/news mars landing"))
	require.NoError(t, err)
	assert.Equal(t, "mars landing", f.searcher.lastQuery)

	_, ok := f.pending.Take(key)
	assert.False(t, ok)

	// A later short message must not combine with the stale query either.
	reply, err := f.engine.HandleMessage(context.Background(), inbound("Tim Cook"))
	require.NoError(t, err)
	assert.Equal(t, "chat reply", reply)
	assert.Equal(t, "mars landing", f.searcher.lastQuery)
}

func TestNumberedSelectionClearsPending(t *testing.T) {
	f := newFixture(t, nil)
	key := channel.Key{Channel: "telegram", ChatID: "chat-1"}
	f.searcher.set = search.ResultSet{
		Mode:    search.ModeVideos,
		Results: []search.Result{{Title: "Advanced Go", URL: "https://youtube.com/watch?v=b"}},
	}
	_, err := f.engine.HandleMessage(context.Background(), inbound("/videos go talks"))
	require.NoError(t, err)

	f.pending.Set(key, search.ModeSearch, "what did he announce")

	reply, err := f.engine.HandleMessage(context.Background(), inbound("1"))
	require.NoError(t, err)
	assert.Equal(t, "Advanced Go\nhttps://youtube.com/watch?v=b", reply)

	_, ok := f.pending.Take(key)
	assert.False(t, ok)
}

func TestSourceLookupClearsPending(t *testing.T) {
	f := newFixture(t, nil)
	key := channel.Key{Channel: "telegram", ChatID: "chat-1"}
	f.citations.Put(key, search.ResultSet{
		Mode:    search.ModeSearch,
		Results: []search.Result{{Title: "Keynote", URL: "https://example.com/keynote"}},
	})
	f.pending.Set(key, search.ModeSearch, "what did he announce")

	reply, err := f.engine.HandleMessage(context.Background(), inbound("sources?"))
	require.NoError(t, err)
	assert.Contains(t, reply, "1. Keynote - https://example.com/keynote")

	_, ok := f.pending.Take(key)
	assert.False(t, ok)
}

func TestQuestionReplyIsNotContinuation(t *testing.T) {
	f := newFixture(t, nil)
	key := channel.Key{Channel: "telegram", ChatID: "chat-1"}
	f.pending.Set(key, search.ModeSearch, "what did he announce")

	reply, err := f.engine.HandleMessage(context.Background(), inbound("who do you mean?"))
	require.NoError(t, err)
	assert.Equal(t, "chat reply", reply)
	assert.Zero(t, f.searcher.calls)
}

func TestVideosListAndNumberedSelection(t *testing.T) {
	f := newFixture(t, nil)
	f.searcher.set = search.ResultSet{
		Mode: search.ModeVideos,
		Results: []search.Result{
			{Title: "Go Concurrency Patterns", URL: "https://youtube.com/watch?v=a"},
			{Title: "Advanced Go", URL: "https://youtube.com/watch?v=b"},
		},
	}

	reply, err := f.engine.HandleMessage(context.Background(), inbound("/videos go talks"))
	require.NoError(t, err)
	assert.Contains(t, reply, "Videos:")
	assert.Contains(t, reply, "1. Go Concurrency Patterns")
	assert.Contains(t, reply, "Reply with a number")

	reply, err = f.engine.HandleMessage(context.Background(), inbound("2"))
	require.NoError(t, err)
	assert.Equal(t, "Advanced Go\nhttps://youtube.com/watch?v=b", reply)

	reply, err = f.engine.HandleMessage(context.Background(), inbound("9"))
	require.NoError(t, err)
	assert.Equal(t, "Please choose a number between 1 and 2.", reply)
}

func TestBareNumberWithoutVideoListGoesToChat(t *testing.T) {
	f := newFixture(t, nil)

	reply, err := f.engine.HandleMessage(context.Background(), inbound("42"))
	require.NoError(t, err)
	assert.Equal(t, "chat reply", reply)
	assert.Equal(t, 1, f.completer.calls)
}

func TestSearchNoResults(t *testing.T) {
	f := newFixture(t, nil)
	f.searcher.err = search.ErrNoResults

	reply, err := f.engine.HandleMessage(context.Background(), inbound("/search obscurewordxyz"))
	require.NoError(t, err)
	assert.Equal(t, noResultsReply, reply)
}

func TestSummaryFailureDegradesToListing(t *testing.T) {
	f := newFixture(t, nil)
	f.searcher.set = search.ResultSet{
		Mode:    search.ModeSearch,
		Results: []search.Result{{Title: "Go", URL: "https://go.dev"}},
	}
	f.completer.err = errors.New("upstream down")

	reply, err := f.engine.HandleMessage(context.Background(), inbound("/search golang"))
	require.NoError(t, err)
	assert.Equal(t, "Results:\n1. Go - https://go.dev", reply)
}

func TestReplyTruncated(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.MaxReplyChars = 30 })
	f.completer.reply = strings.Repeat("word ", 20)

	reply, err := f.engine.HandleMessage(context.Background(), inbound("ramble for me please"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(reply, "..."))
	assert.LessOrEqual(t, len(reply), 33)
}

func TestPlainChatRecordsExchange(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.engine.HandleMessage(context.Background(), inbound("hello there"))
	require.NoError(t, err)

	key := channel.Key{Channel: "telegram", ChatID: "chat-1"}
	turns := f.convs.Recent(key, 10)
	require.Len(t, turns, 2)
	assert.Equal(t, "hello there", turns[0].Text)
	assert.Equal(t, "chat reply", turns[1].Text)
}

func TestNoContextModeSkipsRouting(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.ContextMode = ContextModeNoContext })
	f.router.decision = chat.RouteDecision{ShouldSearch: true, Mode: search.ModeSearch, Query: "x"}

	reply, err := f.engine.HandleMessage(context.Background(), inbound("look up something for me"))
	require.NoError(t, err)
	assert.Equal(t, "chat reply", reply)
	assert.Zero(t, f.router.calls)
	assert.Empty(t, f.completer.lastTurns)
}
