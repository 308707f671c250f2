package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/ospreybot/osprey/internal/search"
)

const ddgHTMLEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGo scrapes the JavaScript-free HTML results page.
type DuckDuckGo struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

func NewDuckDuckGo(log *slog.Logger, timeout time.Duration) *DuckDuckGo {
	if log == nil {
		log = slog.Default()
	}
	return &DuckDuckGo{
		endpoint: ddgHTMLEndpoint,
		http:     newHTTPClient(timeout),
		logger:   log.With(slog.String("backend", "duckduckgo")),
	}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	form := url.Values{}
	form.Set("q", query)
	form.Set("b", "")
	form.Set("kl", "us-en")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request: %w", err)
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	results := parseDDGHTML(string(body))
	if max := capResults(opts.MaxResults, 10); len(results) > max {
		results = results[:max]
	}
	return results, nil
}

// parseDDGHTML walks the result markup looking for result__a anchors and
// result__snippet bodies. Ad links through y.js are skipped.
func parseDDGHTML(markup string) []search.Result {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil
	}

	var results []search.Result
	var current *search.Result

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			classes := attrValue(n, "class")
			switch {
			case strings.Contains(classes, "result__a"):
				link := resolveDDGLink(attrValue(n, "href"))
				if link != "" && !strings.HasPrefix(link, "https://duckduckgo.com/y.js") {
					if current != nil && current.URL != "" {
						results = append(results, *current)
					}
					current = &search.Result{
						Title:  normalizeText(nodeText(n)),
						URL:    link,
						Source: "DuckDuckGo",
					}
				}
				return
			case strings.Contains(classes, "result__snippet"):
				if current != nil && current.Snippet == "" {
					current.Snippet = normalizeText(nodeText(n))
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if current != nil && current.URL != "" {
		results = append(results, *current)
	}
	return results
}

// resolveDDGLink unwraps the uddg redirect and fixes protocol-relative URLs.
func resolveDDGLink(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "uddg=") {
		if parsed, err := url.Parse(raw); err == nil {
			if uddg := parsed.Query().Get("uddg"); uddg != "" {
				return uddg
			}
		}
	}
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	return raw
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
