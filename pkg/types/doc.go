// Package types provides shared type definitions for the chiprank engine.
//
// This package defines the domain types used across the ranking pipeline,
// the storage layer and the MCP surface: chips, the closed enums that drive
// mode resolution, weight vectors and ranked results.
//
// # Core Types
//
// Chip is a pre-written knowledge snippet with metadata assigned upstream:
//
//	chip := types.Chip{
//	    ID:       "chip-042",
//	    Text:     "Start by listing three activities you would keep doing for free.",
//	    Category: types.CategoryActivities,
//	    Signals:  []string{"tactical", "guiding"},
//	}
//
// The engine treats a chip's category and signals as immutable inputs. It
// computes scores alongside a chip, never on it.
//
// # Closed Enums
//
// Category, Mode, Archetype and Stage are closed sets. Parse functions accept
// any case and surrounding space and reject everything else:
//
//	stage, err := types.ParseStage("Execution")
//	if errors.Is(err, types.ErrInvalidStage) {
//	    // caller bug: abort the query
//	}
//
// # Validation
//
// Chip.Validate reports missing or malformed metadata as ErrInvalidCandidate.
// These are input-contract violations and abort the query rather than
// degrade it:
//
//	if err := chip.Validate(); err != nil {
//	    return nil, err
//	}
//
// # Weight Vectors
//
// WeightVector splits emphasis across topical, tactical and emotional content
// and always sums to 1.0 within WeightTolerance:
//
//	w := types.WeightVector{Topical: 0.2, Tactical: 0.35, Emotional: 0.45}
//	w.Dominant() // types.ComponentEmotional
package types
