package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ospreybot/osprey/internal/search"
)

const grokipediaEndpoint = "https://grokipedia.com"

const grokipediaSnippetCap = 500

// Grokipedia resolves a query to its best typeahead match.
type Grokipedia struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

func NewGrokipedia(log *slog.Logger, timeout time.Duration) *Grokipedia {
	if log == nil {
		log = slog.Default()
	}
	return &Grokipedia{
		endpoint: grokipediaEndpoint,
		http:     newHTTPClient(timeout),
		logger:   log.With(slog.String("backend", "grokipedia")),
	}
}

func (g *Grokipedia) Name() string { return "grokipedia" }

func (g *Grokipedia) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"/api/typeahead?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("grokipedia request: %w", err)
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Results []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
			Slug    string `json:"slug"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode typeahead response: %w", err)
	}
	if len(payload.Results) == 0 {
		return nil, nil
	}

	item := payload.Results[0]
	snippet := item.Snippet
	// The snippet opens with a heading block separated by a blank line.
	if _, rest, found := strings.Cut(snippet, "\n\n"); found {
		snippet = rest
	}
	if len(snippet) > grokipediaSnippetCap {
		snippet = snippet[:grokipediaSnippetCap]
	}

	articleURL := ""
	if item.Slug != "" {
		articleURL = g.endpoint + "/page/" + item.Slug
	}

	return []search.Result{{
		Title:   strings.Trim(item.Title, "_"),
		URL:     articleURL,
		Snippet: snippet,
		Source:  "Grokipedia",
	}}, nil
}
