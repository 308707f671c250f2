package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ospreybot/osprey/internal/conversation"
)

const completionsPath = "/chat/completions"

// retryableStatuses are transient upstream failures worth one more attempt.
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// ClientConfig configures the OpenAI-compatible completions client.
type ClientConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	// Referer and Title populate the optional OpenRouter attribution
	// headers; both may be empty.
	Referer string
	Title   string
}

// Client talks to any /chat/completions endpoint. It implements Completer.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *slog.Logger

	// sleep is swapped in tests to skip retry backoff.
	sleep func(time.Duration)
}

// NewClient creates a Client. BaseURL must point at the API root, not at
// the completions path.
func NewClient(log *slog.Logger, cfg ClientConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: log.With(slog.String("component", "chat")),
		sleep:  time.Sleep,
	}
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends one completion request and returns the whitespace-collapsed
// reply text. Timeouts, rate limits and 5xx responses are retried up to
// three attempts with linear backoff; everything that still fails maps to
// ErrUnavailable.
func (c *Client) Complete(ctx context.Context, system string, turns []conversation.Turn, user string) (string, error) {
	messages := make([]Message, 0, len(turns)+2)
	if system != "" {
		messages = append(messages, Message{Role: roleSystem, Content: system})
	}
	messages = append(messages, historyMessages(turns)...)
	messages = append(messages, Message{Role: roleUser, Content: user})

	body, err := json.Marshal(completionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			default:
			}
			c.sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}

		reply, retry, err := c.attempt(ctx, body)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !retry {
			break
		}
		c.logger.Warn("completion attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
	}
	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) attempt(ctx context.Context, body []byte) (reply string, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, compact(string(detail)))
		return "", retryableStatuses[resp.StatusCode], err
	}

	var payload completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", false, fmt.Errorf("decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return "", false, fmt.Errorf("empty choices")
	}

	text := extractContentText(payload.Choices[0].Message.Content)
	if text == "" {
		return "", false, fmt.Errorf("empty reply")
	}
	return text, false, nil
}

// extractContentText accepts both the plain-string content form and the
// multipart list form some gateways return.
func extractContentText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return compact(s)
	}

	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p.Text); t != "" {
				texts = append(texts, t)
			}
		}
		return compact(strings.Join(texts, " "))
	}
	return ""
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
