// Package mention decides whether an inbound group message addresses the bot.
package mention

import (
	"regexp"
	"strings"
	"sync"
)

// Detector matches configured alias strings at the start of a message.
// It is a pure matcher; it holds no per-conversation state.
type Detector struct {
	aliases []string

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// NewDetector creates a Detector for the given alias strings. Aliases are
// matched case-insensitively.
func NewDetector(aliases []string) *Detector {
	cleaned := make([]string, 0, len(aliases))
	for _, alias := range aliases {
		alias = strings.TrimSpace(alias)
		if alias != "" {
			cleaned = append(cleaned, alias)
		}
	}
	return &Detector{
		aliases:  cleaned,
		patterns: make(map[string]*regexp.Regexp),
	}
}

// IsAddressed reports whether the message addresses the bot, returning the
// text with the leading mention removed and trimmed when it does.
//
// Direct messages always address the bot, text unchanged. Group messages
// address the bot when the platform's native mention metadata says so
// (nativeMention) or when the text begins with one of the configured
// aliases, case-insensitively and tolerant of surrounding whitespace and
// trailing punctuation.
func (d *Detector) IsAddressed(text string, isGroup, nativeMention bool) (bool, string) {
	if !isGroup {
		return true, text
	}
	if nativeMention {
		return true, d.Strip(text)
	}
	trimmed := strings.TrimSpace(text)
	for _, alias := range d.aliases {
		if d.leadingPattern(alias).MatchString(trimmed) {
			return true, d.Strip(text)
		}
	}
	return false, text
}

// Strip removes every alias occurrence from the text and normalizes
// whitespace and leading separators.
func (d *Detector) Strip(text string) string {
	cleaned := text
	for _, alias := range d.aliases {
		cleaned = d.anywherePattern(alias).ReplaceAllString(cleaned, " ")
	}
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	return strings.TrimLeft(cleaned, " ,:;-")
}

func (d *Detector) leadingPattern(alias string) *regexp.Regexp {
	return d.pattern("lead:"+alias, `(?i)^`+regexp.QuoteMeta(alias)+`($|\s|[,:;.!?])`)
}

func (d *Detector) anywherePattern(alias string) *regexp.Regexp {
	return d.pattern("any:"+alias, `(?i)(^|\s)`+regexp.QuoteMeta(alias)+`($|\s|[,:;.!?])`)
}

func (d *Detector) pattern(key, expr string) *regexp.Regexp {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.patterns[key]; ok {
		return p
	}
	p := regexp.MustCompile(expr)
	d.patterns[key] = p
	return p
}
