package config_test

import (
	"testing"

	"github.com/prepvox/prepvox/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Presets: []config.PresetConfig{
			{Name: "backend", Position: "Backend Engineer", Persona: "curious"},
		},
	}
	d := config.Diff(cfg, cfg)
	if d.PresetsChanged {
		t.Error("expected PresetsChanged=false for identical configs")
	}
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.VADChanged {
		t.Error("expected VADChanged=false for identical configs")
	}
	if len(d.PresetChanges) != 0 {
		t.Errorf("expected 0 preset changes, got %d", len(d.PresetChanges))
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_VADChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{VAD: config.VADConfig{InitialThreshold: 8}}
	new := &config.Config{VAD: config.VADConfig{InitialThreshold: 12}}

	d := config.Diff(old, new)
	if !d.VADChanged {
		t.Error("expected VADChanged=true")
	}
}

func TestDiff_PresetPersonaChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Presets: []config.PresetConfig{
			{Name: "backend", Persona: "grumpy"},
		},
	}
	new := &config.Config{
		Presets: []config.PresetConfig{
			{Name: "backend", Persona: "cheerful"},
		},
	}

	d := config.Diff(old, new)
	if !d.PresetsChanged {
		t.Error("expected PresetsChanged=true")
	}
	if len(d.PresetChanges) != 1 {
		t.Fatalf("expected 1 preset change, got %d", len(d.PresetChanges))
	}
	if !d.PresetChanges[0].PersonaChanged {
		t.Error("expected PersonaChanged=true")
	}
	if d.PresetChanges[0].VoiceChanged {
		t.Error("expected VoiceChanged=false")
	}
}

func TestDiff_PresetPositionCountsAsPersonaChange(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Presets: []config.PresetConfig{
			{Name: "backend", Position: "Backend Engineer"},
		},
	}
	new := &config.Config{
		Presets: []config.PresetConfig{
			{Name: "backend", Position: "Staff Engineer"},
		},
	}

	d := config.Diff(old, new)
	if !d.PresetsChanged {
		t.Error("expected PresetsChanged=true")
	}
	if len(d.PresetChanges) != 1 || !d.PresetChanges[0].PersonaChanged {
		t.Errorf("expected position change reported as persona change, got %+v", d.PresetChanges)
	}
}

func TestDiff_PresetVoiceChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Presets: []config.PresetConfig{
			{Name: "backend", Voice: config.VoiceConfig{VoiceID: "verse"}},
		},
	}
	new := &config.Config{
		Presets: []config.PresetConfig{
			{Name: "backend", Voice: config.VoiceConfig{VoiceID: "alloy"}},
		},
	}

	d := config.Diff(old, new)
	if !d.PresetsChanged {
		t.Error("expected PresetsChanged=true")
	}
	if len(d.PresetChanges) != 1 || !d.PresetChanges[0].VoiceChanged {
		t.Errorf("expected voice change, got %+v", d.PresetChanges)
	}
}

func TestDiff_PresetDurationChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Presets: []config.PresetConfig{
			{Name: "backend", DurationSeconds: 1800},
		},
	}
	new := &config.Config{
		Presets: []config.PresetConfig{
			{Name: "backend", DurationSeconds: 2700},
		},
	}

	d := config.Diff(old, new)
	if len(d.PresetChanges) != 1 || !d.PresetChanges[0].DurationChanged {
		t.Errorf("expected duration change, got %+v", d.PresetChanges)
	}
}

func TestDiff_PresetAddedAndRemoved(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Presets: []config.PresetConfig{
			{Name: "backend"},
		},
	}
	new := &config.Config{
		Presets: []config.PresetConfig{
			{Name: "frontend"},
		},
	}

	d := config.Diff(old, new)
	if !d.PresetsChanged {
		t.Error("expected PresetsChanged=true")
	}
	if len(d.PresetChanges) != 2 {
		t.Fatalf("expected 2 preset changes, got %d", len(d.PresetChanges))
	}

	var sawAdded, sawRemoved bool
	for _, pc := range d.PresetChanges {
		switch {
		case pc.Name == "frontend" && pc.Added:
			sawAdded = true
		case pc.Name == "backend" && pc.Removed:
			sawRemoved = true
		}
	}
	if !sawAdded {
		t.Error("expected frontend reported as added")
	}
	if !sawRemoved {
		t.Error("expected backend reported as removed")
	}
}
