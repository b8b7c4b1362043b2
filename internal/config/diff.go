package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be safely hot-reloaded are tracked; everything else needs a restart.
type ConfigDiff struct {
	AutoCommentaryChanged bool
	NewAutoCommentary     AutoCommentaryConfig

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired is set when a section outside the hot-reload surface
	// differs, so operators know the running process ignores that edit.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.AutoCommentary != new.AutoCommentary {
		d.AutoCommentaryChanged = true
		d.NewAutoCommentary = new.AutoCommentary
	}
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	if old.Server != new.Server ||
		old.Bus != new.Bus ||
		old.RoomConfigPath != new.RoomConfigPath ||
		old.PersonaConfigDir != new.PersonaConfigDir ||
		old.ModerationRulesPath != new.ModerationRulesPath ||
		old.Policy != new.Policy ||
		old.Generation != new.Generation ||
		old.Memory != new.Memory ||
		old.Reflection != new.Reflection {
		d.RestartRequired = true
	}

	return d
}
