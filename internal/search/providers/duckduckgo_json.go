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

const ddgHomeEndpoint = "https://duckduckgo.com"

// fetchVQD loads the DuckDuckGo front page for the query and extracts the
// vqd token that gates the JSON endpoints.
func fetchVQD(ctx context.Context, client *http.Client, home, query string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, home+"/?q="+url.QueryEscape(query), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vqd request: %w", err)
	}
	body, err := readBody(resp)
	if err != nil {
		return "", err
	}
	return extractVQD(body)
}

// extractVQD scans for the token in its three known quoting forms.
func extractVQD(body []byte) (string, error) {
	markers := []struct {
		open  string
		close byte
	}{
		{`vqd="`, '"'},
		{`vqd=`, '&'},
		{`vqd='`, '\''},
	}
	text := string(body)
	for _, m := range markers {
		start := strings.Index(text, m.open)
		if start < 0 {
			continue
		}
		start += len(m.open)
		end := strings.IndexByte(text[start:], m.close)
		if end > 0 {
			return text[start : start+end], nil
		}
	}
	return "", fmt.Errorf("vqd token not found")
}

// DuckDuckGoNews queries the news.js JSON endpoint.
type DuckDuckGoNews struct {
	home   string
	http   *http.Client
	logger *slog.Logger
}

func NewDuckDuckGoNews(log *slog.Logger, timeout time.Duration) *DuckDuckGoNews {
	if log == nil {
		log = slog.Default()
	}
	return &DuckDuckGoNews{
		home:   ddgHomeEndpoint,
		http:   newHTTPClient(timeout),
		logger: log.With(slog.String("backend", "duckduckgo_news")),
	}
}

func (d *DuckDuckGoNews) Name() string { return "duckduckgo_news" }

func (d *DuckDuckGoNews) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	vqd, err := fetchVQD(ctx, d.http, d.home, query)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("l", "us-en")
	params.Set("o", "json")
	params.Set("noamp", "1")
	params.Set("q", query)
	params.Set("vqd", vqd)
	params.Set("p", "-1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.home+"/news.js?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news request: %w", err)
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Excerpt string `json:"excerpt"`
			Date    int64  `json:"date"`
			Source  string `json:"source"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode news response: %w", err)
	}

	max := capResults(opts.MaxResults, 10)
	results := make([]search.Result, 0, len(payload.Results))
	for _, item := range payload.Results {
		if len(results) >= max {
			break
		}
		date := ""
		if item.Date > 0 {
			date = time.Unix(item.Date, 0).UTC().Format(time.RFC3339)
		}
		results = append(results, search.Result{
			Title:   normalizeText(item.Title),
			URL:     item.URL,
			Snippet: normalizeText(item.Excerpt),
			Source:  "DuckDuckGo News",
			Date:    date,
		})
	}
	return results, nil
}

// DuckDuckGoImages queries the i.js JSON endpoint.
type DuckDuckGoImages struct {
	home   string
	http   *http.Client
	logger *slog.Logger
}

func NewDuckDuckGoImages(log *slog.Logger, timeout time.Duration) *DuckDuckGoImages {
	if log == nil {
		log = slog.Default()
	}
	return &DuckDuckGoImages{
		home:   ddgHomeEndpoint,
		http:   newHTTPClient(timeout),
		logger: log.With(slog.String("backend", "duckduckgo_images")),
	}
}

func (d *DuckDuckGoImages) Name() string { return "duckduckgo_images" }

func (d *DuckDuckGoImages) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	vqd, err := fetchVQD(ctx, d.http, d.home, query)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("o", "json")
	params.Set("q", query)
	params.Set("l", "us-en")
	params.Set("vqd", vqd)
	params.Set("p", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.home+"/i.js?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Referer", "https://duckduckgo.com/")

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("images request: %w", err)
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Results []struct {
			Title     string `json:"title"`
			Image     string `json:"image"`
			Thumbnail string `json:"thumbnail"`
			URL       string `json:"url"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
			Source    string `json:"source"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode images response: %w", err)
	}

	max := capResults(opts.MaxResults, 10)
	results := make([]search.Result, 0, len(payload.Results))
	for _, item := range payload.Results {
		if len(results) >= max {
			break
		}
		link := item.Image
		if link == "" {
			link = item.URL
		}
		snippet := ""
		if item.Width > 0 && item.Height > 0 {
			snippet = fmt.Sprintf("%dx%d", item.Width, item.Height)
		}
		if item.Source != "" {
			if snippet != "" {
				snippet += " | "
			}
			snippet += "Source: " + item.Source
		}
		results = append(results, search.Result{
			Title:        normalizeText(item.Title),
			URL:          link,
			Snippet:      snippet,
			Source:       "DuckDuckGo Images",
			ImageURL:     item.Image,
			ThumbnailURL: item.Thumbnail,
		})
	}
	return results, nil
}
