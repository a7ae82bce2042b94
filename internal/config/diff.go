package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	PresetsChanged  bool         // true if any preset persona, voice, or duration changed
	PresetChanges   []PresetDiff // per-preset diffs
	VADChanged      bool         // true if any VAD tunable changed
	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// PresetDiff describes what changed for a single interview preset between two configs.
type PresetDiff struct {
	Name            string
	PersonaChanged  bool
	VoiceChanged    bool
	DurationChanged bool
	Added           bool
	Removed         bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; running sessions
// keep the config they started with.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// VAD tunables apply to sessions started after the reload.
	if old.VAD != new.VAD {
		d.VADChanged = true
	}

	// Build preset lookup maps keyed by name.
	oldPresets := make(map[string]*PresetConfig, len(old.Presets))
	for i := range old.Presets {
		oldPresets[old.Presets[i].Name] = &old.Presets[i]
	}
	newPresets := make(map[string]*PresetConfig, len(new.Presets))
	for i := range new.Presets {
		newPresets[new.Presets[i].Name] = &new.Presets[i]
	}

	// Detect modified and removed presets.
	for name, oldPreset := range oldPresets {
		newPreset, exists := newPresets[name]
		if !exists {
			d.PresetChanges = append(d.PresetChanges, PresetDiff{
				Name:    name,
				Removed: true,
			})
			d.PresetsChanged = true
			continue
		}
		pd := diffPreset(name, oldPreset, newPreset)
		if pd.PersonaChanged || pd.VoiceChanged || pd.DurationChanged {
			d.PresetChanges = append(d.PresetChanges, pd)
			d.PresetsChanged = true
		}
	}

	// Detect added presets.
	for name := range newPresets {
		if _, exists := oldPresets[name]; !exists {
			d.PresetChanges = append(d.PresetChanges, PresetDiff{
				Name:  name,
				Added: true,
			})
			d.PresetsChanged = true
		}
	}

	return d
}

// diffPreset compares two preset configs with the same name.
func diffPreset(name string, old, new *PresetConfig) PresetDiff {
	pd := PresetDiff{Name: name}

	if old.Persona != new.Persona || old.Position != new.Position {
		pd.PersonaChanged = true
	}

	if old.Voice != new.Voice {
		pd.VoiceChanged = true
	}

	if old.DurationSeconds != new.DurationSeconds {
		pd.DurationChanged = true
	}

	return pd
}
