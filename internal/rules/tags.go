package rules

import "strings"

// TagSet is a set of lower-case emotional-signal tags.
type TagSet map[string]struct{}

func newTagSet(tags []string) TagSet {
	s := make(TagSet, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			s[t] = struct{}{}
		}
	}
	return s
}

// Has reports whether tag is in the set. tag must already be normalized.
func (s TagSet) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// Count returns how many of the given normalized tags are in the set.
func (s TagSet) Count(tags []string) int {
	n := 0
	for _, t := range tags {
		if s.Has(t) {
			n++
		}
	}
	return n
}
