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

const googleEndpoint = "https://customsearch.googleapis.com/customsearch/v1"

// Google queries the Custom Search JSON API. Requires an API key and a
// programmable search engine id (cx).
type Google struct {
	endpoint string
	apiKey   string
	cx       string
	http     *http.Client
	logger   *slog.Logger
}

func NewGoogle(log *slog.Logger, apiKey, cx string, timeout time.Duration) *Google {
	if log == nil {
		log = slog.Default()
	}
	return &Google{
		endpoint: googleEndpoint,
		apiKey:   apiKey,
		cx:       cx,
		http:     newHTTPClient(timeout),
		logger:   log.With(slog.String("backend", "google")),
	}
}

func (g *Google) Name() string { return "google" }

func (g *Google) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	if g.apiKey == "" || g.cx == "" {
		return nil, fmt.Errorf("google custom search requires api_key and cx")
	}

	count := capResults(opts.MaxResults, 8)
	// The API rejects num above 10.
	if count > 10 {
		count = 10
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("cx", g.cx)
	params.Set("key", g.apiKey)
	params.Set("num", strconv.Itoa(count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google request: %w", err)
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode google response: %w", err)
	}

	results := make([]search.Result, 0, len(payload.Items))
	for _, item := range payload.Items {
		results = append(results, search.Result{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
			Source:  "Google",
		})
	}
	return results, nil
}
