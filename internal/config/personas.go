package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EmotePolicy controls how often a persona appends emotes to its lines.
type EmotePolicy string

const (
	EmotesNever     EmotePolicy = "never"
	EmotesSometimes EmotePolicy = "sometimes"
	EmotesOften     EmotePolicy = "often"
)

// IsValid reports whether p is a recognised emote policy.
func (p EmotePolicy) IsValid() bool {
	switch p {
	case EmotesNever, EmotesSometimes, EmotesOften:
		return true
	}
	return false
}

// StyleAnchors are the fixed points of a persona's voice. Reflection may
// drift the numeric knobs a little each cycle, but never past the bounds
// declared here.
type StyleAnchors struct {
	// Tone is free text injected into the generation prompt,
	// e.g. "dry, sarcastic, lowercase".
	Tone string `yaml:"tone"`

	// Verbosity in [0, 1] steers reply length. Drifts within Bounds.
	Verbosity float64 `yaml:"verbosity"`

	// Excitability in [0, 1] steers punctuation and caps. Drifts within
	// Bounds.
	Excitability float64 `yaml:"excitability"`

	// EmotePolicy fixes the emote habit. Never drifts.
	EmotePolicy EmotePolicy `yaml:"emote_policy"`

	// Bounds constrain the drifting knobs.
	Bounds StyleBounds `yaml:"bounds"`
}

// StyleBounds are the hard limits style drift may never cross.
type StyleBounds struct {
	VerbosityMin    float64 `yaml:"verbosity_min"`
	VerbosityMax    float64 `yaml:"verbosity_max"`
	ExcitabilityMin float64 `yaml:"excitability_min"`
	ExcitabilityMax float64 `yaml:"excitability_max"`
}

// Persona defines one simulated chat participant.
type Persona struct {
	// ID is the stable persona identifier. It doubles as the bot user id
	// on published messages.
	ID string `yaml:"id"`

	// DisplayName is what viewers see and mention.
	DisplayName string `yaml:"display_name"`

	// Aliases are additional names mention detection matches, on top of
	// the display name (fuzzy matching catches misspellings of both).
	Aliases []string `yaml:"aliases"`

	// Rooms lists the room ids this persona participates in.
	Rooms []string `yaml:"rooms"`

	// BaseProbability is the per-trigger starting chance of speaking,
	// before room and context multipliers.
	BaseProbability float64 `yaml:"base_probability"`

	// Catchphrases are lines the deterministic generator samples from and
	// the LLM prompt offers as flavour.
	Catchphrases []string `yaml:"catchphrases"`

	// Interests are observation tags that excite this persona.
	Interests []string `yaml:"interests"`

	// Style anchors the persona's voice.
	Style StyleAnchors `yaml:"style"`
}

// MentionNames returns the lowercased names mention detection should match.
func (p *Persona) MentionNames() []string {
	names := make([]string, 0, len(p.Aliases)+1)
	names = append(names, strings.ToLower(p.DisplayName))
	for _, a := range p.Aliases {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			names = append(names, a)
		}
	}
	return names
}

// InRoom reports whether the persona participates in roomID. An empty Rooms
// list means every room.
func (p *Persona) InRoom(roomID string) bool {
	if len(p.Rooms) == 0 {
		return true
	}
	for _, r := range p.Rooms {
		if r == roomID {
			return true
		}
	}
	return false
}

// LoadPersonas reads every *.yaml file in dir as one persona definition and
// validates the set.
func LoadPersonas(dir string) ([]Persona, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read persona dir: %w", err)
	}

	var personas []Persona
	seen := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read persona %s: %w", path, err)
		}
		var p Persona
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse persona %s: %w", path, err)
		}
		if err := validatePersona(&p); err != nil {
			return nil, fmt.Errorf("persona %s: %w", path, err)
		}
		if prev, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("persona %s: id %q already defined in %s", path, p.ID, prev)
		}
		seen[p.ID] = path
		personas = append(personas, p)
	}
	if len(personas) == 0 {
		return nil, fmt.Errorf("persona dir %s: no persona files", dir)
	}
	return personas, nil
}

func validatePersona(p *Persona) error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.DisplayName == "" {
		return fmt.Errorf("display_name is required")
	}
	if p.BaseProbability < 0 || p.BaseProbability > 1 {
		return fmt.Errorf("base_probability must be in [0, 1], got %v", p.BaseProbability)
	}
	if p.BaseProbability == 0 {
		p.BaseProbability = 0.05
	}
	s := &p.Style
	if s.EmotePolicy == "" {
		s.EmotePolicy = EmotesSometimes
	}
	if !s.EmotePolicy.IsValid() {
		return fmt.Errorf("unknown emote policy %q", s.EmotePolicy)
	}
	if s.Bounds.VerbosityMax == 0 {
		s.Bounds.VerbosityMax = 1
	}
	if s.Bounds.ExcitabilityMax == 0 {
		s.Bounds.ExcitabilityMax = 1
	}
	if s.Bounds.VerbosityMin > s.Bounds.VerbosityMax {
		return fmt.Errorf("verbosity bounds inverted")
	}
	if s.Bounds.ExcitabilityMin > s.Bounds.ExcitabilityMax {
		return fmt.Errorf("excitability bounds inverted")
	}
	clamp := func(v, lo, hi float64) float64 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	s.Verbosity = clamp(s.Verbosity, s.Bounds.VerbosityMin, s.Bounds.VerbosityMax)
	s.Excitability = clamp(s.Excitability, s.Bounds.ExcitabilityMin, s.Bounds.ExcitabilityMax)
	return nil
}
