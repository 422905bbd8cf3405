package indexer

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/dshills/chiprank/pkg/types"
)

// ErrInvalidCorpus is returned when a corpus file cannot be parsed or holds
// an invalid chip.
var ErrInvalidCorpus = errors.New("invalid corpus")

// corpusFile is the on-disk corpus layout. JSON is accepted as well since
// it is a subset of YAML.
type corpusFile struct {
	Chips []corpusChip `yaml:"chips"`
}

type corpusChip struct {
	ID       string   `yaml:"id"`
	Text     string   `yaml:"text"`
	Category string   `yaml:"category"`
	Signals  []string `yaml:"signals"`
	Source   string   `yaml:"source"`
	Position int      `yaml:"position"`
	Size     int      `yaml:"size"`
}

// LoadCorpus reads a YAML or JSON corpus file.
func LoadCorpus(path string) ([]types.Chip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}
	return ParseCorpus(data, path)
}

// ParseCorpus decodes corpus data. Chips without a source get source;
// chips without a size get their text length in runes.
func ParseCorpus(data []byte, source string) ([]types.Chip, error) {
	var file corpusFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCorpus, err)
	}

	chips := make([]types.Chip, 0, len(file.Chips))
	for i, c := range file.Chips {
		category, err := types.ParseCategory(c.Category)
		if err != nil {
			return nil, fmt.Errorf("%w: chip %d (%s): %v", ErrInvalidCorpus, i, c.ID, err)
		}

		chip := types.Chip{
			ID:       strings.TrimSpace(c.ID),
			Text:     c.Text,
			Category: category,
			Signals:  c.Signals,
			Source:   c.Source,
			Position: c.Position,
			Size:     c.Size,
		}
		if chip.Source == "" {
			chip.Source = source
		}
		if chip.Size == 0 {
			chip.Size = utf8.RuneCountInString(chip.Text)
		}

		if err := chip.Validate(); err != nil {
			return nil, fmt.Errorf("%w: chip %d: %v", ErrInvalidCorpus, i, err)
		}
		chips = append(chips, chip)
	}

	return chips, nil
}
