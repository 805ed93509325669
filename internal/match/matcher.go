package match

import (
	"regexp"
	"strings"
	"sync"
)

// Matcher matches caller numbers against wildcard patterns.
//
// Pattern forms:
// - 441234567890  exact match
// - 441234*       prefix match
// - 44*           country match
// - *             any caller with a usable number
//
// Matching always runs against the normalized form of the caller number.
// Pattern reloads swap the whole set atomically; a reload during a match
// is safe and the match sees either the old or the new set.
type Matcher struct {
	mu       sync.RWMutex
	patterns []string
	compiled []compiledPattern
}

type compiledPattern struct {
	raw string
	re  *regexp.Regexp
}

func New() *Matcher {
	return &Matcher{}
}

// Load replaces the pattern set. Blank entries are skipped.
// Returns the number of patterns loaded.
func (m *Matcher) Load(patterns []string) int {
	raw := make([]string, 0, len(patterns))
	compiled := make([]compiledPattern, 0, len(patterns))

	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		var re *regexp.Regexp
		switch {
		case p == "*":
			// Any non-empty normalized number.
			re = regexp.MustCompile(`^.+$`)
		case strings.Contains(p, "*"):
			escaped := regexp.QuoteMeta(p)
			re = regexp.MustCompile("^" + strings.ReplaceAll(escaped, `\*`, ".*") + "$")
		default:
			re = regexp.MustCompile("^" + regexp.QuoteMeta(p) + "$")
		}

		raw = append(raw, p)
		compiled = append(compiled, compiledPattern{raw: p, re: re})
	}

	m.mu.Lock()
	m.patterns = raw
	m.compiled = compiled
	m.mu.Unlock()

	return len(raw)
}

// Normalize reduces a raw caller number to digits for consistent matching.
// "+44...", "0044..." and "44..." all normalize to "44...". Separators
// (spaces, dashes, dots) are dropped. Non-numeric callers normalize to "".
func Normalize(number string) string {
	if number == "" {
		return ""
	}

	var b strings.Builder
	for i, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			// Leading + is stripped below; anything else is a separator.
			continue
		}
	}
	n := b.String()

	if strings.HasPrefix(n, "00") {
		n = n[2:]
	}
	return n
}

// Match reports whether the caller number matches any loaded pattern,
// returning the first matching pattern. Callers that normalize to ""
// (empty, anonymous) never match.
func (m *Matcher) Match(caller string) (bool, string) {
	normalized := Normalize(caller)
	if normalized == "" {
		return false, ""
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cp := range m.compiled {
		if cp.re.MatchString(normalized) {
			return true, cp.raw
		}
	}
	return false, ""
}

// Patterns returns a copy of the current pattern set.
func (m *Matcher) Patterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.patterns))
	copy(out, m.patterns)
	return out
}

// Len returns the number of loaded patterns.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.patterns)
}
