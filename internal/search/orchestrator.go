package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// encyclopediaBackends are excluded from the news mode regardless of
// configuration; a news order naming them silently skips them.
var encyclopediaBackends = map[string]bool{
	"wikipedia":  true,
	"grokipedia": true,
}

// Config holds the orchestrator's per-mode backend orders and limits.
type Config struct {
	Strategy Strategy
	// Timeout bounds every individual backend call.
	Timeout time.Duration

	// Order and NewsOrder are the fallback sequences for the two
	// multi-backend modes; the remaining modes have one backend each.
	Order         []string
	NewsOrder     []string
	WikiBackend   string
	ImagesBackend string
	VideosBackend string

	MaxResults map[Mode]int
}

// Orchestrator executes one or more backends per mode under the configured
// strategy and caps the outcome at the mode's maximum result count.
type Orchestrator struct {
	cfg      Config
	registry *Registry
	logger   *slog.Logger

	now func() time.Time
}

// NewOrchestrator creates an Orchestrator over the given provider registry.
func NewOrchestrator(log *slog.Logger, registry *Registry, cfg Config) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyFirstNonEmpty
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		logger:   log.With(slog.String("component", "search")),
		now:      time.Now,
	}
}

// Execute runs the query against the mode's backends and returns a bounded
// ResultSet. It fails with ErrNoResults when every backend came back empty
// or erroring; backend errors and timeouts are never surfaced directly.
func (o *Orchestrator) Execute(ctx context.Context, mode Mode, query string) (ResultSet, error) {
	query = strings.Join(strings.Fields(query), " ")
	if query == "" {
		return ResultSet{}, fmt.Errorf("%w: empty query", ErrNoResults)
	}

	providers, err := o.backendsFor(mode)
	if err != nil {
		return ResultSet{}, err
	}

	var results []Result
	if len(providers) == 1 || o.cfg.Strategy == StrategyFirstNonEmpty {
		results = o.firstNonEmpty(ctx, providers, query, mode)
	} else {
		results = o.aggregate(ctx, providers, query, mode)
	}
	if len(results) == 0 {
		return ResultSet{}, ErrNoResults
	}

	return ResultSet{
		Mode:        mode,
		Results:     truncate(results, o.maxFor(mode)),
		RetrievedAt: o.now(),
	}, nil
}

// backendsFor resolves the candidate provider sequence for a mode,
// preserving configured order. Unknown identifiers fail loudly so a typo in
// the order list is not a silent no-op.
func (o *Orchestrator) backendsFor(mode Mode) ([]Provider, error) {
	var names []string
	switch mode {
	case ModeSearch:
		names = o.cfg.Order
	case ModeNews:
		for _, name := range o.cfg.NewsOrder {
			if encyclopediaBackends[strings.ToLower(strings.TrimSpace(name))] {
				continue
			}
			names = append(names, name)
		}
	case ModeWiki:
		names = []string{o.cfg.WikiBackend}
	case ModeImages:
		names = []string{o.cfg.ImagesBackend}
	case ModeVideos:
		names = []string{o.cfg.VideosBackend}
	default:
		return nil, fmt.Errorf("%w: mode %q has no backends", ErrUnknownBackend, mode)
	}

	providers := make([]Provider, 0, len(names))
	for _, name := range names {
		p, ok := o.registry.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: mode %q has no backends", ErrUnknownBackend, mode)
	}
	return providers, nil
}

// firstNonEmpty tries backends in order; the first non-empty result set
// short-circuits the rest. A backend that errors or times out counts as
// empty.
func (o *Orchestrator) firstNonEmpty(ctx context.Context, providers []Provider, query string, mode Mode) []Result {
	for _, p := range providers {
		results := o.callBackend(ctx, p, query, mode)
		if len(results) > 0 {
			return results
		}
	}
	return nil
}

// aggregate queries all backends concurrently, concatenates their results
// in backend order, de-duplicates by normalized URL (first occurrence wins)
// and leaves truncation to the caller. A timed-out backend contributes
// nothing and does not cancel its siblings.
func (o *Orchestrator) aggregate(ctx context.Context, providers []Provider, query string, mode Mode) []Result {
	buckets := make([][]Result, len(providers))
	var g errgroup.Group
	for i, p := range providers {
		i, p := i, p
		g.Go(func() error {
			buckets[i] = o.callBackend(ctx, p, query, mode)
			return nil
		})
	}
	_ = g.Wait()

	var merged []Result
	seen := make(map[string]bool)
	for _, bucket := range buckets {
		for _, result := range bucket {
			key := normalizeURL(result.URL)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, result)
		}
	}
	return merged
}

// callBackend runs one provider under the shared timeout. Failures are
// logged and flattened to an empty slice.
func (o *Orchestrator) callBackend(ctx context.Context, p Provider, query string, mode Mode) []Result {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	results, err := p.Search(callCtx, query, Options{MaxResults: o.maxFor(mode)})
	if err != nil {
		o.logger.Warn("backend failed",
			slog.String("backend", p.Name()),
			slog.String("mode", string(mode)),
			slog.Any("error", err))
		return nil
	}
	return results
}

func (o *Orchestrator) maxFor(mode Mode) int {
	if max, ok := o.cfg.MaxResults[mode]; ok && max > 0 {
		return max
	}
	return 8
}

func truncate(results []Result, max int) []Result {
	if max > 0 && len(results) > max {
		return results[:max]
	}
	return results
}

// normalizeURL lowercases the scheme and host and drops fragments and
// trailing slashes so near-identical links from different backends collapse.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimRight(raw, "/"))
	}
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}
