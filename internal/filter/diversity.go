package filter

import "github.com/dshills/chiprank/pkg/types"

// Default diversity caps.
const (
	DefaultDiversityCap = 3
	NarrowDiversityCap  = 1
)

// Caps limits how many results of one category may appear together.
// PerCategory entries override Default; a zero entry removes the category.
// A Default of zero or less leaves categories without an entry uncapped.
type Caps struct {
	Default     int
	PerCategory map[types.Category]int
}

// Limit returns the cap for c and whether one applies.
func (c Caps) Limit(cat types.Category) (int, bool) {
	if n, ok := c.PerCategory[cat]; ok {
		return n, true
	}
	if c.Default > 0 {
		return c.Default, true
	}
	return 0, false
}

// LimitDiversity walks items in order and skips any item whose category has
// already reached its cap. Kept items keep their relative order. It returns
// the kept items and the number skipped.
func LimitDiversity[T any](items []T, categoryOf func(T) types.Category, caps Caps) ([]T, int) {
	kept := make([]T, 0, len(items))
	counts := make(map[types.Category]int)
	dropped := 0

	for _, item := range items {
		cat := categoryOf(item)
		if limit, ok := caps.Limit(cat); ok && counts[cat] >= limit {
			dropped++
			continue
		}
		counts[cat]++
		kept = append(kept, item)
	}

	return kept, dropped
}
