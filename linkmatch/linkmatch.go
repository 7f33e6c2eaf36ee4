// Package linkmatch pulls absolute http(s) URLs out of chat text and keeps
// the ones matching a shell-style allow pattern such as
// "https://shop.example/kampanj/*".
package linkmatch

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// urlPattern stops a URL at whitespace or any of <>"{}|\^`[].
var urlPattern = regexp.MustCompile("https?://[^\\s<>\"{}|\\\\^`\\[\\]]+")

// Matcher is a compiled allow pattern. The zero value matches nothing.
type Matcher struct {
	pattern string
	g       glob.Glob
}

// literal escapes the characters glob would otherwise read as alternation or
// escapes; in a shell-style pattern they match themselves.
var literal = strings.NewReplacer(`\`, `\\`, "{", `\{`, "}", `\}`)

// Compile builds a Matcher. '*' matches any run of characters including '/',
// '?' matches one character and [...] is a character class. Braces and
// backslashes are literal.
func Compile(pattern string) (*Matcher, error) {
	// no separators: '*' must cross path segments like fnmatch does
	g, err := glob.Compile(literal.Replace(pattern))
	if err != nil {
		return nil, err
	}
	return &Matcher{pattern: pattern, g: g}, nil
}

// Pattern returns the source pattern.
func (m *Matcher) Pattern() string {
	if m == nil {
		return ""
	}
	return m.pattern
}

// Match reports whether a single URL is allowed.
func (m *Matcher) Match(url string) bool {
	if m == nil || m.g == nil {
		return false
	}
	return m.g.Match(url)
}

// Extract returns matching URLs in order of appearance. Duplicates are kept.
func (m *Matcher) Extract(text string) []string {
	if m == nil || m.g == nil || text == "" {
		return nil
	}
	var out []string
	for _, u := range urlPattern.FindAllString(text, -1) {
		if m.g.Match(u) {
			out = append(out, u)
		}
	}
	return out
}

// ExtractMatchingLinks is the one-shot form of Compile + Extract. A malformed
// pattern yields no links.
func ExtractMatchingLinks(text, pattern string) []string {
	m, err := Compile(pattern)
	if err != nil {
		slog.Debug("link pattern invalid", slog.String("pattern", pattern), slog.Any("err", err))
		return nil
	}
	return m.Extract(text)
}
