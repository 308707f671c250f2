package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ospreybot/osprey/internal/search"
)

const youtubeEndpoint = "https://www.youtube.com"

var ytInitialDataRe = regexp.MustCompile(`(?s)ytInitialData\s*=\s*(\{.*?\});`)

// YouTube scrapes the results page and parses the embedded ytInitialData
// JSON blob for videoRenderer entries.
type YouTube struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

func NewYouTube(log *slog.Logger, timeout time.Duration) *YouTube {
	if log == nil {
		log = slog.Default()
	}
	return &YouTube{
		endpoint: youtubeEndpoint,
		http:     newHTTPClient(timeout),
		logger:   log.With(slog.String("backend", "youtube")),
	}
}

func (y *YouTube) Name() string { return "youtube" }

func (y *YouTube) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	params := url.Values{}
	params.Set("search_query", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.endpoint+"/results?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := y.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("youtube request: %w", err)
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	match := ytInitialDataRe.FindSubmatch(body)
	if match == nil {
		return nil, fmt.Errorf("ytInitialData not found")
	}
	var data any
	if err := json.Unmarshal(match[1], &data); err != nil {
		return nil, fmt.Errorf("decode ytInitialData: %w", err)
	}

	max := capResults(opts.MaxResults, 10)
	var results []search.Result
	collectVideoRenderers(data, func(renderer map[string]any) bool {
		videoID, _ := renderer["videoId"].(string)
		if videoID == "" {
			return len(results) < max
		}

		title := pickText(renderer["title"])
		snippet := buildVideoSnippet(renderer)

		results = append(results, search.Result{
			Title:        title,
			URL:          youtubeEndpoint + "/watch?v=" + videoID,
			Snippet:      snippet,
			Source:       "YouTube",
			ThumbnailURL: pickThumbnail(renderer),
		})
		return len(results) < max
	})
	return results, nil
}

// collectVideoRenderers walks the decoded JSON tree and invokes fn for each
// videoRenderer object until fn returns false.
func collectVideoRenderers(node any, fn func(map[string]any) bool) bool {
	switch v := node.(type) {
	case map[string]any:
		if renderer, ok := v["videoRenderer"].(map[string]any); ok {
			if !fn(renderer) {
				return false
			}
		}
		for _, child := range v {
			if !collectVideoRenderers(child, fn) {
				return false
			}
		}
	case []any:
		for _, child := range v {
			if !collectVideoRenderers(child, fn) {
				return false
			}
		}
	}
	return true
}

// pickText handles YouTube's two text shapes: {"simpleText": ...} and
// {"runs": [{"text": ...}, ...]}.
func pickText(value any) string {
	obj, ok := value.(map[string]any)
	if !ok {
		if s, ok := value.(string); ok {
			return s
		}
		return ""
	}
	if s, ok := obj["simpleText"].(string); ok {
		return s
	}
	runs, ok := obj["runs"].([]any)
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, run := range runs {
		if m, ok := run.(map[string]any); ok {
			if t, ok := m["text"].(string); ok {
				b.WriteString(t)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func pickThumbnail(renderer map[string]any) string {
	thumb, ok := renderer["thumbnail"].(map[string]any)
	if !ok {
		return ""
	}
	items, ok := thumb["thumbnails"].([]any)
	if !ok || len(items) == 0 {
		return ""
	}
	// The list is ordered smallest first; the last entry is the largest.
	last, ok := items[len(items)-1].(map[string]any)
	if !ok {
		return ""
	}
	link, _ := last["url"].(string)
	return link
}

func buildVideoSnippet(renderer map[string]any) string {
	var parts []string
	if uploader := pickText(renderer["ownerText"]); uploader != "" {
		parts = append(parts, "by "+uploader)
	}
	if duration := pickText(renderer["lengthText"]); duration != "" {
		parts = append(parts, "["+duration+"]")
	}
	if published := pickText(renderer["publishedTimeText"]); published != "" {
		parts = append(parts, "("+published+")")
	}
	if views := pickText(renderer["viewCountText"]); views != "" {
		parts = append(parts, "- "+views)
	}
	if description := pickText(renderer["descriptionSnippet"]); description != "" {
		parts = append(parts, "| "+description)
	}
	return strings.Join(parts, " ")
}
