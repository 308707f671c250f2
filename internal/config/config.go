package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultContextTurns      = 6
	DefaultConversationTTL   = 1800
	DefaultDedupTTL          = 300
	DefaultPendingTTL        = 300
	DefaultCitationTTL       = 900
	DefaultMaxPromptChars    = 700
	DefaultMaxReplyChars     = 2000
	DefaultPendingReplyWords = 6
	DefaultChatBaseURL       = "https://openrouter.ai/api/v1"
	DefaultChatModel         = "openai/gpt-4o-mini"
	DefaultChatTimeoutSecs   = 45
	DefaultChatMaxTokens     = 300
	DefaultSearchTimeoutSecs = 15
	DefaultSearchMaxResults  = 8
	DefaultSweepInterval     = "5m"
	DefaultContextMode       = "context"
	DefaultStrategy          = "first_non_empty"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Bot      BotConfig      `toml:"bot"`
	Chat     ChatConfig     `toml:"chat"`
	Search   SearchConfig   `toml:"search"`
	Channels ChannelsConfig `toml:"channels"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// WebhookToken, when set, is required as a bearer token on the
	// generic inbound webhook endpoint.
	WebhookToken string `toml:"webhook_token"`
}

type BotConfig struct {
	// Aliases are leading mention strings that address the bot in group
	// chats, e.g. "@osprey".
	Aliases []string `toml:"aliases"`
	// ContextMode selects whether addressed messages are auto-routed
	// through the LLM router (context) or always handled as plain chat
	// (no_context).
	ContextMode            string   `toml:"context_mode" validate:"omitempty,oneof=context no_context"`
	ContextTurns           int      `toml:"context_turns" validate:"min=1"`
	ConversationTTLSeconds int      `toml:"conversation_ttl_seconds" validate:"min=1"`
	DedupTTLSeconds        int      `toml:"dedup_ttl_seconds" validate:"min=1"`
	PendingTTLSeconds      int      `toml:"pending_ttl_seconds" validate:"min=1"`
	PendingReplyMaxWords   int      `toml:"pending_reply_max_words" validate:"min=1"`
	MaxPromptChars         int      `toml:"max_prompt_chars" validate:"min=1"`
	MaxReplyChars          int      `toml:"max_reply_chars" validate:"min=1"`
	SystemPrompt           string   `toml:"system_prompt"`
	DisableAuth            bool     `toml:"disable_auth"`
	AllowedSenders         []string `toml:"allowed_senders"`
	AllowedChats           []string `toml:"allowed_chats"`
	SweepInterval          string   `toml:"sweep_interval"`
}

type ChatConfig struct {
	BaseURL         string  `toml:"base_url"`
	APIKey          string  `toml:"api_key"`
	Model           string  `toml:"model"`
	TimeoutSeconds  int     `toml:"timeout_seconds" validate:"min=1"`
	MaxOutputTokens int     `toml:"max_output_tokens" validate:"min=1"`
	Temperature     float64 `toml:"temperature"`
}

type SearchConfig struct {
	Enabled bool `toml:"enabled"`
	// Strategy applies to multi-backend modes only.
	Strategy       string `toml:"strategy" validate:"omitempty,oneof=first_non_empty aggregate"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"min=1"`

	CitationTTLSeconds int `toml:"citation_ttl_seconds" validate:"min=1"`

	// Order is the backend fallback order for the search mode; NewsOrder
	// for the news mode. Single-backend modes name their one backend.
	Order         []string `toml:"order"`
	NewsOrder     []string `toml:"news_order"`
	WikiBackend   string   `toml:"wiki_backend"`
	ImagesBackend string   `toml:"images_backend"`
	VideosBackend string   `toml:"videos_backend"`

	EnableSearch bool `toml:"enable_search"`
	EnableNews   bool `toml:"enable_news"`
	EnableWiki   bool `toml:"enable_wiki"`
	EnableImages bool `toml:"enable_images"`
	EnableVideos bool `toml:"enable_videos"`

	TextMaxResults   int `toml:"text_max_results" validate:"min=1"`
	NewsMaxResults   int `toml:"news_max_results" validate:"min=1"`
	WikiMaxResults   int `toml:"wiki_max_results" validate:"min=1"`
	ImagesMaxResults int `toml:"images_max_results" validate:"min=1"`
	VideosMaxResults int `toml:"videos_max_results" validate:"min=1"`

	Google GoogleSearchConfig `toml:"google"`
	Brave  BraveSearchConfig  `toml:"brave"`
}

type GoogleSearchConfig struct {
	APIKey string `toml:"api_key"`
	CX     string `toml:"cx"`
}

type BraveSearchConfig struct {
	APIKey string `toml:"api_key"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
	Discord  DiscordConfig  `toml:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
}

type DiscordConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
}

// ConversationTTL returns the conversation expiry as a duration.
func (c BotConfig) ConversationTTL() time.Duration {
	return time.Duration(c.ConversationTTLSeconds) * time.Second
}

// DedupTTL returns the delivery dedup retention window as a duration.
func (c BotConfig) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLSeconds) * time.Second
}

// PendingTTL returns the pending clarification expiry as a duration.
func (c BotConfig) PendingTTL() time.Duration {
	return time.Duration(c.PendingTTLSeconds) * time.Second
}

// CitationTTL returns the citation cache expiry as a duration.
func (c SearchConfig) CitationTTL() time.Duration {
	return time.Duration(c.CitationTTLSeconds) * time.Second
}

// Timeout returns the shared per-backend-call timeout as a duration.
func (c SearchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout returns the chat completion timeout as a duration.
func (c ChatConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Bot: BotConfig{
			Aliases:                []string{"@osprey", "@bot"},
			ContextMode:            DefaultContextMode,
			ContextTurns:           DefaultContextTurns,
			ConversationTTLSeconds: DefaultConversationTTL,
			DedupTTLSeconds:        DefaultDedupTTL,
			PendingTTLSeconds:      DefaultPendingTTL,
			PendingReplyMaxWords:   DefaultPendingReplyWords,
			MaxPromptChars:         DefaultMaxPromptChars,
			MaxReplyChars:          DefaultMaxReplyChars,
			SweepInterval:          DefaultSweepInterval,
		},
		Chat: ChatConfig{
			BaseURL:         DefaultChatBaseURL,
			Model:           DefaultChatModel,
			TimeoutSeconds:  DefaultChatTimeoutSecs,
			MaxOutputTokens: DefaultChatMaxTokens,
			Temperature:     0.6,
		},
		Search: SearchConfig{
			Enabled:            true,
			Strategy:           DefaultStrategy,
			TimeoutSeconds:     DefaultSearchTimeoutSecs,
			CitationTTLSeconds: DefaultCitationTTL,
			Order:              []string{"duckduckgo", "brave"},
			NewsOrder:          []string{"duckduckgo_news"},
			WikiBackend:        "wikipedia",
			ImagesBackend:      "duckduckgo_images",
			VideosBackend:      "youtube",
			EnableSearch:       true,
			EnableNews:         true,
			EnableWiki:         true,
			EnableImages:       true,
			EnableVideos:       true,
			TextMaxResults:     DefaultSearchMaxResults,
			NewsMaxResults:     DefaultSearchMaxResults,
			WikiMaxResults:     3,
			ImagesMaxResults:   DefaultSearchMaxResults,
			VideosMaxResults:   5,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Validate checks field constraints declared on the config structs.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
