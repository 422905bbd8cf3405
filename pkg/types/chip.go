package types

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Category is the topical category of a chip or of a query intent.
type Category string

const (
	CategoryAcademics          Category = "academics"
	CategoryActivities         Category = "activities"
	CategoryAwards             Category = "awards"
	CategoryEmotionalSupport   Category = "emotional_support"
	CategoryNarrative          Category = "narrative"
	CategoryStrategicFramework Category = "strategic_framework"
	CategoryGeneral            Category = "general"
)

// Categories lists every category in classifier priority order.
var Categories = []Category{
	CategoryAcademics,
	CategoryActivities,
	CategoryAwards,
	CategoryEmotionalSupport,
	CategoryNarrative,
	CategoryStrategicFramework,
	CategoryGeneral,
}

// Valid reports whether c is one of the closed set of categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory parses a category name, ignoring case and surrounding space.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
	}
	return c, nil
}

// Chip is a retrievable knowledge snippet together with the metadata assigned
// to it upstream. The ranking engine reads chips but never modifies them.
type Chip struct {
	// Identification
	ID string

	// Content
	Text     string
	Category Category
	Signals  []string // Emotional-signal tags, e.g. "supportive", "tactical"

	// Similarity is supplied by the candidate search step, in [0, 1]
	Similarity float64

	// Provenance
	Source   string
	Position int
	Size     int
}

// Validate checks the fields the ranking engine depends on. A failure is an
// input-contract violation.
func (c *Chip) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidCandidate)
	}

	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("%w: chip %s has empty text", ErrInvalidCandidate, c.ID)
	}

	if c.Category == "" {
		return fmt.Errorf("%w: chip %s has no category", ErrInvalidCandidate, c.ID)
	}
	if !c.Category.Valid() {
		return fmt.Errorf("%w: chip %s has unknown category %q", ErrInvalidCandidate, c.ID, c.Category)
	}

	if c.Position < 0 || c.Size < 0 {
		return fmt.Errorf("%w: chip %s has negative position or size", ErrInvalidCandidate, c.ID)
	}

	for i, sig := range c.Signals {
		if strings.TrimSpace(sig) == "" {
			return fmt.Errorf("%w: chip %s has empty signal at index %d", ErrInvalidCandidate, c.ID, i)
		}
	}

	return nil
}

// NormalizedSignals returns the chip's signal tags lower-cased and trimmed,
// without duplicates, in their original order. The chip is left untouched.
func (c *Chip) NormalizedSignals() []string {
	if len(c.Signals) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(c.Signals))
	out := make([]string, 0, len(c.Signals))
	for _, sig := range c.Signals {
		s := strings.ToLower(strings.TrimSpace(sig))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ContentHash returns the SHA-256 of the fields that affect ranking.
// Indexing uses it to skip unchanged chips.
func (c *Chip) ContentHash() [32]byte {
	var b strings.Builder
	b.WriteString(c.Text)
	b.WriteByte(0)
	b.WriteString(string(c.Category))
	for _, sig := range c.Signals {
		b.WriteByte(0)
		b.WriteString(sig)
	}
	return sha256.Sum256([]byte(b.String()))
}
