package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Room defines one chat room. Rooms are static per deployment; the services
// load them at startup.
type Room struct {
	// ID is the stable room identifier carried on every record.
	ID string `yaml:"id"`

	// Name is the human-readable label shown in logs and stats.
	Name string `yaml:"name"`

	// MaxChars bounds message content length after normalization.
	// Zero means the service default.
	MaxChars int `yaml:"max_chars"`

	// Emotes is the emote vocabulary allowed in this room. Personas only
	// append emotes from this list.
	Emotes []string `yaml:"emotes"`

	// ActivityMultiplier scales every persona's base speak probability in
	// this room. 1.0 is neutral; quiet lobbies run lower.
	ActivityMultiplier float64 `yaml:"activity_multiplier"`

	// BudgetMessages is the per-persona message budget within
	// BudgetWindowSec. Zero disables the budget.
	BudgetMessages int `yaml:"budget_messages"`

	// BudgetWindowSec is the sliding window the budget counts over, seconds.
	BudgetWindowSec int `yaml:"budget_window_sec"`

	// CooldownMS is the per-persona minimum gap between messages in this
	// room, milliseconds.
	CooldownMS int `yaml:"cooldown_ms"`
}

// RoomsFile is the on-disk shape of the room config file.
type RoomsFile struct {
	Rooms []Room `yaml:"rooms"`
}

// LoadRooms reads and validates the room config file, returning rooms keyed
// by id.
func LoadRooms(path string) (map[string]Room, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read room config: %w", err)
	}
	var file RoomsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse room config %s: %w", path, err)
	}
	if len(file.Rooms) == 0 {
		return nil, fmt.Errorf("room config %s: no rooms defined", path)
	}

	rooms := make(map[string]Room, len(file.Rooms))
	for i, room := range file.Rooms {
		if room.ID == "" {
			return nil, fmt.Errorf("room config %s: room %d has no id", path, i)
		}
		if _, dup := rooms[room.ID]; dup {
			return nil, fmt.Errorf("room config %s: duplicate room id %q", path, room.ID)
		}
		if room.ActivityMultiplier <= 0 {
			room.ActivityMultiplier = 1.0
		}
		rooms[room.ID] = room
	}
	return rooms, nil
}
