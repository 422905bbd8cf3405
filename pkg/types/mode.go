package types

import (
	"fmt"
	"strings"
)

// Mode is the coaching stance resolved for a single turn.
type Mode string

const (
	ModeSupportive Mode = "supportive"
	ModeDirect     Mode = "direct"
	ModeEnergizing Mode = "energizing"
	ModeReflective Mode = "reflective"
)

// Modes lists every interaction mode.
var Modes = []Mode{ModeSupportive, ModeDirect, ModeEnergizing, ModeReflective}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	for _, known := range Modes {
		if m == known {
			return true
		}
	}
	return false
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	return m, nil
}

// Archetype classifies the user's behavioral profile. It is supplied by the
// conversation-state provider.
type Archetype string

const (
	ArchetypeHighAchiever     Archetype = "high_achiever"
	ArchetypeStrategicPlanner Archetype = "strategic_planner"
	ArchetypeBurnout          Archetype = "burnout"
	ArchetypeAnxiousStriver   Archetype = "anxious_striver"
	ArchetypeQuietThinker     Archetype = "quiet_thinker"
	ArchetypeExplorer         Archetype = "explorer"
	// ArchetypeUndetermined is used before a profile has been established.
	ArchetypeUndetermined Archetype = "undetermined"
)

// Archetypes lists every archetype.
var Archetypes = []Archetype{
	ArchetypeHighAchiever,
	ArchetypeStrategicPlanner,
	ArchetypeBurnout,
	ArchetypeAnxiousStriver,
	ArchetypeQuietThinker,
	ArchetypeExplorer,
	ArchetypeUndetermined,
}

// Valid reports whether a is a known archetype.
func (a Archetype) Valid() bool {
	for _, known := range Archetypes {
		if a == known {
			return true
		}
	}
	return false
}

// ParseArchetype parses an archetype name.
func ParseArchetype(s string) (Archetype, error) {
	a := Archetype(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidArchetype, s)
	}
	return a, nil
}

// Stage is the current conversation stage.
type Stage string

const (
	StageOpening    Stage = "opening"
	StageDiagnostic Stage = "diagnostic"
	StageExecution  Stage = "execution"
	StageClosing    Stage = "closing"
)

// Stages lists every conversation stage in conversational order.
var Stages = []Stage{StageOpening, StageDiagnostic, StageExecution, StageClosing}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStage parses a stage name.
func ParseStage(s string) (Stage, error) {
	st := Stage(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStage, s)
	}
	return st, nil
}
