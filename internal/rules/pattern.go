package rules

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// apostrophes folds typographic quotes so "I’m" matches patterns written
// with "I'm".
var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "“", `"`, "”", `"`)

// Normalize prepares free text for pattern matching.
func Normalize(text string) string {
	return apostrophes.Replace(text)
}

type pattern struct {
	source string
	re     *regexp.Regexp
}

// PatternGroup is a named, ordered set of case-insensitive patterns.
// A group is immutable after compilation and safe for concurrent use.
type PatternGroup struct {
	Name     string
	patterns []pattern
}

// compileKeywords builds a group from literal keywords. Each keyword must
// match on word boundaries, so "ready" does not fire inside "already".
func compileKeywords(name string, keywords []string) (*PatternGroup, error) {
	g := &PatternGroup{Name: name}
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			return nil, fmt.Errorf("%w: group %s has an empty keyword", ErrInvalidRules, name)
		}
		expr := regexp.QuoteMeta(kw)
		if isWordRune(firstRune(kw)) {
			expr = `\b` + expr
		}
		if isWordRune(lastRune(kw)) {
			expr += `\b`
		}
		re, err := regexp.Compile(`(?i)` + expr)
		if err != nil {
			return nil, fmt.Errorf("%w: group %s keyword %q: %v", ErrInvalidRules, name, kw, err)
		}
		g.patterns = append(g.patterns, pattern{source: kw, re: re})
	}
	return g, nil
}

// compilePatterns builds a group from regular expressions.
func compilePatterns(name string, exprs []string) (*PatternGroup, error) {
	g := &PatternGroup{Name: name}
	for _, expr := range exprs {
		if expr == "" {
			return nil, fmt.Errorf("%w: group %s has an empty pattern", ErrInvalidRules, name)
		}
		re, err := regexp.Compile(`(?i)` + expr)
		if err != nil {
			return nil, fmt.Errorf("%w: group %s pattern %q: %v", ErrInvalidRules, name, expr, err)
		}
		g.patterns = append(g.patterns, pattern{source: expr, re: re})
	}
	return g, nil
}

// Len returns the number of patterns in the group.
func (g *PatternGroup) Len() int {
	if g == nil {
		return 0
	}
	return len(g.patterns)
}

// Count returns how many distinct patterns in the group match text.
func (g *PatternGroup) Count(text string) int {
	if g == nil || text == "" {
		return 0
	}
	text = Normalize(text)
	n := 0
	for _, p := range g.patterns {
		if p.re.MatchString(text) {
			n++
		}
	}
	return n
}

// Any reports whether at least one pattern matches text.
func (g *PatternGroup) Any(text string) bool {
	if g == nil || text == "" {
		return false
	}
	text = Normalize(text)
	for _, p := range g.patterns {
		if p.re.MatchString(text) {
			return true
		}
	}
	return false
}

// Matched returns the sources of the matching patterns in table order.
func (g *PatternGroup) Matched(text string) []string {
	if g == nil || text == "" {
		return nil
	}
	text = Normalize(text)
	var out []string
	for _, p := range g.patterns {
		if p.re.MatchString(text) {
			out = append(out, p.source)
		}
	}
	return out
}

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

func lastRune(s string) rune {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
