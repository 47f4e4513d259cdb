// Package tunnel extracts the public address of the playit.gg relay from
// log scrollback and the agent's on-disk files.
package tunnel

import (
	"regexp"
	"sort"
)

// Hostname alternatives shared by every pattern.
const hostExpr = `[\w\-]+\.share\.playit\.gg|[\w\-]+\.[\w\.]+joinmc\.link`

// Pattern is one entry of the ordered match table. Lower Priority values
// are tried first; the first capture group is the address.
type Pattern struct {
	Name     string
	Priority int
	Re       *regexp.Regexp
}

// DefaultPatterns is the match table, most specific first.
var DefaultPatterns = []Pattern{
	{
		// A line that holds nothing but the address (and maybe a port).
		Name:     "exact",
		Priority: 1,
		Re:       regexp.MustCompile(`(?m)^[ \t]*(` + hostExpr + `)(?::\d+)?[ \t]*$`),
	},
	{
		Name:     "contextual",
		Priority: 2,
		Re:       regexp.MustCompile(`(?i)(?:tunnel|link|connect|url|address|server)\s*(?:is|at|:)?\s*(` + hostExpr + `)`),
	},
	{
		Name:     "event",
		Priority: 3,
		Re:       regexp.MustCompile(`(?:Tunnel created|Connected as|Tunnel ready|is now available).*?(` + hostExpr + `)`),
	},
	{
		Name:     "bare",
		Priority: 4,
		Re:       regexp.MustCompile(`(` + hostExpr + `)`),
	},
}

// Matcher evaluates a pattern table in priority order.
type Matcher struct {
	patterns []Pattern
}

// NewMatcher copies and sorts patterns by priority. A nil slice selects
// DefaultPatterns.
func NewMatcher(patterns []Pattern) *Matcher {
	if patterns == nil {
		patterns = DefaultPatterns
	}
	ps := make([]Pattern, len(patterns))
	copy(ps, patterns)
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].Priority < ps[j].Priority })
	return &Matcher{patterns: ps}
}

// Match returns the first address found by the highest-priority pattern
// that matches anywhere in text, together with that pattern's name.
func (m *Matcher) Match(text string) (addr string, pattern string, ok bool) {
	if text == "" {
		return "", "", false
	}
	for _, p := range m.patterns {
		sub := p.Re.FindStringSubmatch(text)
		if len(sub) < 2 || sub[1] == "" {
			continue
		}
		return sub[1], p.Name, true
	}
	return "", "", false
}

var defaultMatcher = NewMatcher(nil)

// Match runs the default pattern table over text.
func Match(text string) (string, bool) {
	addr, _, ok := defaultMatcher.Match(text)
	return addr, ok
}
