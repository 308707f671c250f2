package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/ospreybot/osprey/internal/channel"
	"github.com/ospreybot/osprey/internal/channel/adapters/discord"
	"github.com/ospreybot/osprey/internal/channel/adapters/telegram"
	"github.com/ospreybot/osprey/internal/chat"
	"github.com/ospreybot/osprey/internal/citations"
	"github.com/ospreybot/osprey/internal/config"
	"github.com/ospreybot/osprey/internal/conversation"
	"github.com/ospreybot/osprey/internal/dedup"
	"github.com/ospreybot/osprey/internal/engine"
	"github.com/ospreybot/osprey/internal/handlers"
	"github.com/ospreybot/osprey/internal/logger"
	"github.com/ospreybot/osprey/internal/mention"
	"github.com/ospreybot/osprey/internal/pending"
	"github.com/ospreybot/osprey/internal/search"
	searchproviders "github.com/ospreybot/osprey/internal/search/providers"
	"github.com/ospreybot/osprey/internal/server"
	"github.com/ospreybot/osprey/internal/version"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideChannelRegistry,
			provideSearchRegistry,
			provideOrchestrator,
			provideChatClient,
			provideRouter,
			provideSummarizer,
			provideDedupCache,
			provideConversationStore,
			provideMentionDetector,
			providePendingTracker,
			provideCitationCache,
			provideEngine,
			provideServerHandler(providePingHandler),
			provideServerHandler(provideWebhookHandler),
			provideServer,
		),
		fx.Invoke(
			startReceivers,
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideChannelRegistry(log *slog.Logger, cfg config.Config) *channel.Registry {
	registry := channel.NewRegistry()
	if cfg.Channels.Telegram.Enabled {
		registry.MustRegister(telegram.New(log, cfg.Channels.Telegram.BotToken))
	}
	if cfg.Channels.Discord.Enabled {
		registry.MustRegister(discord.New(log, cfg.Channels.Discord.BotToken))
	}
	return registry
}

func provideSearchRegistry(log *slog.Logger, cfg config.Config) *search.Registry {
	timeout := cfg.Search.Timeout()
	registry := search.NewRegistry()
	registry.MustRegister(searchproviders.NewDuckDuckGo(log, timeout))
	registry.MustRegister(searchproviders.NewDuckDuckGoNews(log, timeout))
	registry.MustRegister(searchproviders.NewDuckDuckGoImages(log, timeout))
	registry.MustRegister(searchproviders.NewWikipedia(log, "en", timeout))
	registry.MustRegister(searchproviders.NewGrokipedia(log, timeout))
	registry.MustRegister(searchproviders.NewYouTube(log, timeout))
	if cfg.Search.Brave.APIKey != "" {
		registry.MustRegister(searchproviders.NewBrave(log, cfg.Search.Brave.APIKey, timeout))
	}
	if cfg.Search.Google.APIKey != "" && cfg.Search.Google.CX != "" {
		registry.MustRegister(searchproviders.NewGoogle(log, cfg.Search.Google.APIKey, cfg.Search.Google.CX, timeout))
	}
	return registry
}

func provideOrchestrator(log *slog.Logger, registry *search.Registry, cfg config.Config) *search.Orchestrator {
	return search.NewOrchestrator(log, registry, search.Config{
		Strategy:      search.Strategy(cfg.Search.Strategy),
		Timeout:       cfg.Search.Timeout(),
		Order:         cfg.Search.Order,
		NewsOrder:     cfg.Search.NewsOrder,
		WikiBackend:   cfg.Search.WikiBackend,
		ImagesBackend: cfg.Search.ImagesBackend,
		VideosBackend: cfg.Search.VideosBackend,
		MaxResults: map[search.Mode]int{
			search.ModeSearch: cfg.Search.TextMaxResults,
			search.ModeNews:   cfg.Search.NewsMaxResults,
			search.ModeWiki:   cfg.Search.WikiMaxResults,
			search.ModeImages: cfg.Search.ImagesMaxResults,
			search.ModeVideos: cfg.Search.VideosMaxResults,
		},
	})
}

func provideChatClient(log *slog.Logger, cfg config.Config) *chat.Client {
	return chat.NewClient(log, chat.ClientConfig{
		APIKey:      cfg.Chat.APIKey,
		BaseURL:     cfg.Chat.BaseURL,
		Model:       cfg.Chat.Model,
		Timeout:     cfg.Chat.Timeout(),
		MaxTokens:   cfg.Chat.MaxOutputTokens,
		Temperature: cfg.Chat.Temperature,
	})
}

func provideRouter(log *slog.Logger, client *chat.Client) *chat.Router {
	return chat.NewRouter(log, client)
}

func provideSummarizer(client *chat.Client, cfg config.Config) *chat.Summarizer {
	return chat.NewSummarizer(client, cfg.Bot.SystemPrompt)
}

func provideDedupCache(cfg config.Config) *dedup.Cache {
	return dedup.NewCache(cfg.Bot.DedupTTL())
}

func provideConversationStore(cfg config.Config) *conversation.Store {
	return conversation.NewStore(cfg.Bot.ContextTurns, cfg.Bot.ConversationTTL())
}

func provideMentionDetector(cfg config.Config) *mention.Detector {
	return mention.NewDetector(cfg.Bot.Aliases)
}

func providePendingTracker(cfg config.Config) *pending.Tracker {
	return pending.NewTracker(cfg.Bot.PendingTTL())
}

func provideCitationCache(cfg config.Config) *citations.Cache {
	return citations.NewCache(cfg.Search.CitationTTL())
}

func provideEngine(
	log *slog.Logger,
	cfg config.Config,
	dedupCache *dedup.Cache,
	convs *conversation.Store,
	mentions *mention.Detector,
	tracker *pending.Tracker,
	citationCache *citations.Cache,
	orchestrator *search.Orchestrator,
	client *chat.Client,
	router *chat.Router,
	summarizer *chat.Summarizer,
) *engine.Engine {
	return engine.New(
		log,
		engine.Config{
			SystemPrompt:         cfg.Bot.SystemPrompt,
			ContextMode:          engine.ContextMode(cfg.Bot.ContextMode),
			ContextTurns:         cfg.Bot.ContextTurns,
			MaxPromptChars:       cfg.Bot.MaxPromptChars,
			MaxReplyChars:        cfg.Bot.MaxReplyChars,
			PendingReplyMaxWords: cfg.Bot.PendingReplyMaxWords,
			SearchEnabled:        cfg.Search.Enabled,
			ModeEnabled: map[search.Mode]bool{
				search.ModeSearch: cfg.Search.EnableSearch,
				search.ModeNews:   cfg.Search.EnableNews,
				search.ModeWiki:   cfg.Search.EnableWiki,
				search.ModeImages: cfg.Search.EnableImages,
				search.ModeVideos: cfg.Search.EnableVideos,
			},
			DisableAuth:    cfg.Bot.DisableAuth,
			AllowedSenders: cfg.Bot.AllowedSenders,
			AllowedChats:   cfg.Bot.AllowedChats,
		},
		dedupCache,
		convs,
		mentions,
		tracker,
		citationCache,
		orchestrator,
		client,
		router,
		summarizer,
	)
}

func providePingHandler(log *slog.Logger) *handlers.PingHandler {
	return handlers.NewPingHandler(log)
}

func provideWebhookHandler(log *slog.Logger, registry *channel.Registry, eng *engine.Engine, cfg config.Config) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, registry, eng, cfg.Server.WebhookToken)
}

type serverParams struct {
	fx.In
	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.New(params.Logger, params.Config.Server.Addr, params.Handlers)
}

// startReceivers connects every registered adapter that supports long-lived
// connections and routes its messages through the engine.
func startReceivers(lc fx.Lifecycle, log *slog.Logger, registry *channel.Registry, eng *engine.Engine) {
	handler := func(ctx context.Context, msg channel.InboundMessage) error {
		reply, err := eng.HandleMessage(ctx, msg)
		if err != nil || reply == "" {
			return err
		}
		sender, ok := registry.Sender(msg.Channel)
		if !ok {
			return nil
		}
		return sender.Send(ctx, channel.OutboundMessage{ChatID: msg.ChatID, Text: reply})
	}

	var connections []channel.Connection
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			for _, channelType := range registry.Types() {
				adapter, _ := registry.Get(channelType)
				receiver, ok := adapter.(channel.Receiver)
				if !ok {
					continue
				}
				conn, err := receiver.Connect(context.Background(), handler)
				if err != nil {
					return fmt.Errorf("connect %s: %w", channelType, err)
				}
				log.Info("receiver connected", slog.String("channel", channelType.String()))
				connections = append(connections, conn)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			for _, conn := range connections {
				if err := conn.Stop(ctx); err != nil && !errors.Is(err, channel.ErrStopNotSupported) {
					log.Warn("receiver stop failed",
						slog.String("channel", conn.ChannelType().String()),
						slog.Any("error", err))
				}
			}
			return nil
		},
	})
}

// startSweeper evicts expired conversation, dedup, pending and citation
// entries on the configured interval.
func startSweeper(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, eng *engine.Engine) error {
	interval := cfg.Bot.SweepInterval
	if interval == "" {
		interval = config.DefaultSweepInterval
	}
	c := cron.New()
	if _, err := c.AddFunc("@every "+interval, func() {
		eng.Sweep(time.Now())
	}); err != nil {
		return fmt.Errorf("sweep schedule %q: %w", interval, err)
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { c.Start(); return nil },
		OnStop: func(ctx context.Context) error {
			select {
			case <-c.Stop().Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
	return nil
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting osprey %s\n", version.Info())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
