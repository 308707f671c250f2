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

// Wikipedia requires an identifying User-Agent on API calls.
const wikipediaUserAgent = "osprey/1.0 (https://github.com/ospreybot/osprey; bot)"

const wikipediaExtractCap = 500

// Wikipedia resolves a query to a single best-match article via opensearch,
// then fetches the article extract as the snippet.
type Wikipedia struct {
	apiBase string
	http    *http.Client
	logger  *slog.Logger
}

func NewWikipedia(log *slog.Logger, lang string, timeout time.Duration) *Wikipedia {
	if log == nil {
		log = slog.Default()
	}
	if lang == "" {
		lang = "en"
	}
	return &Wikipedia{
		apiBase: fmt.Sprintf("https://%s.wikipedia.org/w/api.php", lang),
		http:    newHTTPClient(timeout),
		logger:  log.With(slog.String("backend", "wikipedia")),
	}
}

func (w *Wikipedia) Name() string { return "wikipedia" }

func (w *Wikipedia) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	title, articleURL, err := w.opensearch(ctx, query)
	if err != nil {
		return nil, err
	}
	if title == "" {
		return nil, nil
	}

	extract := w.extract(ctx, title)
	// Disambiguation pages carry no usable summary.
	if strings.Contains(extract, "may refer to:") {
		return nil, nil
	}
	if len(extract) > wikipediaExtractCap {
		extract = extract[:wikipediaExtractCap]
	}

	return []search.Result{{
		Title:   title,
		URL:     articleURL,
		Snippet: extract,
		Source:  "Wikipedia",
	}}, nil
}

func (w *Wikipedia) opensearch(ctx context.Context, query string) (title, articleURL string, err error) {
	params := url.Values{}
	params.Set("action", "opensearch")
	params.Set("profile", "fuzzy")
	params.Set("limit", "1")
	params.Set("search", query)

	body, err := w.get(ctx, params)
	if err != nil {
		return "", "", err
	}

	// Opensearch format: [query, [titles], [descriptions], [urls]]
	var payload []json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", "", fmt.Errorf("decode opensearch response: %w", err)
	}
	if len(payload) < 4 {
		return "", "", nil
	}
	var titles, urls []string
	if err := json.Unmarshal(payload[1], &titles); err != nil || len(titles) == 0 {
		return "", "", nil
	}
	if err := json.Unmarshal(payload[3], &urls); err != nil || len(urls) == 0 {
		return "", "", nil
	}
	return titles[0], urls[0], nil
}

// extract fetches the article body text; failures degrade to an empty
// snippet rather than dropping the result.
func (w *Wikipedia) extract(ctx context.Context, title string) string {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("format", "json")
	params.Set("prop", "extracts")
	params.Set("titles", title)
	params.Set("explaintext", "1")
	params.Set("redirects", "1")

	body, err := w.get(ctx, params)
	if err != nil {
		w.logger.Debug("extract fetch failed", slog.Any("error", err))
		return ""
	}

	var payload struct {
		Query struct {
			Pages map[string]struct {
				Extract string `json:"extract"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, page := range payload.Query.Pages {
		return page.Extract
	}
	return ""
}

func (w *Wikipedia) get(ctx context.Context, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.apiBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", wikipediaUserAgent)

	resp, err := w.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wikipedia request: %w", err)
	}
	return readBody(resp)
}
