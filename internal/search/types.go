// Package search orchestrates pluggable search backends into bounded
// result sets with configurable fallback and aggregation strategies.
package search

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Mode is a search category.
type Mode string

const (
	ModeSearch Mode = "search"
	ModeNews   Mode = "news"
	ModeWiki   Mode = "wiki"
	ModeImages Mode = "images"
	ModeVideos Mode = "videos"
)

// Modes lists every valid mode.
var Modes = []Mode{ModeSearch, ModeNews, ModeWiki, ModeImages, ModeVideos}

// ParseMode normalizes a mode string, defaulting to ModeSearch for
// unrecognized values.
func ParseMode(raw string) Mode {
	normalized := Mode(strings.ToLower(strings.TrimSpace(raw)))
	for _, m := range Modes {
		if m == normalized {
			return m
		}
	}
	return ModeSearch
}

// Strategy selects how multi-backend modes combine their backends.
type Strategy string

const (
	// StrategyFirstNonEmpty tries backends in order and stops at the
	// first one returning results; errors and timeouts fall through.
	StrategyFirstNonEmpty Strategy = "first_non_empty"
	// StrategyAggregate queries all backends concurrently, concatenates
	// results in backend order, and de-duplicates by URL.
	StrategyAggregate Strategy = "aggregate"
)

// Result is one item produced by a backend, immutable once returned.
type Result struct {
	Title        string
	URL          string
	Snippet      string
	Source       string
	Date         string
	ImageURL     string
	ThumbnailURL string
}

// ResultSet is a bounded, ordered collection of results for one execution.
type ResultSet struct {
	Mode        Mode
	Results     []Result
	RetrievedAt time.Time
}

// Empty reports whether the set holds no results.
func (rs ResultSet) Empty() bool {
	return len(rs.Results) == 0
}

// Options carries per-call parameters to a backend.
type Options struct {
	// MaxResults caps how many results the backend should return; zero
	// means backend default.
	MaxResults int
}

// Provider is one concrete search backend. Implementations must honor
// context cancellation; the orchestrator bounds every call with the shared
// timeout.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// ErrNoResults is returned when every candidate backend came back empty or
// failed.
var ErrNoResults = errors.New("no search results found")

// ErrUnknownBackend is returned when a configured backend identifier has no
// registered provider.
var ErrUnknownBackend = errors.New("unknown search backend")
