package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ospreybot/osprey/internal/search"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave queries the Brave Search API.
type Brave struct {
	endpoint string
	apiKey   string
	http     *http.Client
	logger   *slog.Logger
}

func NewBrave(log *slog.Logger, apiKey string, timeout time.Duration) *Brave {
	if log == nil {
		log = slog.Default()
	}
	return &Brave{
		endpoint: braveEndpoint,
		apiKey:   apiKey,
		http:     newHTTPClient(timeout),
		logger:   log.With(slog.String("backend", "brave")),
	}
}

func (b *Brave) Name() string { return "brave" }

func (b *Brave) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	if b.apiKey == "" {
		return nil, fmt.Errorf("brave search requires an api_key")
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(capResults(opts.MaxResults, 8)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave request: %w", err)
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode brave response: %w", err)
	}

	results := make([]search.Result, 0, len(payload.Web.Results))
	for _, item := range payload.Web.Results {
		results = append(results, search.Result{
			Title:   item.Title,
			URL:     item.URL,
			Snippet: normalizeText(item.Description),
			Source:  "Brave",
		})
	}
	return results, nil
}
