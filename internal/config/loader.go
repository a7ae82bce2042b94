package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai"},
	"tts": {"openai"},
	"s2s": {"openai-realtime"},
	"vad": {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("s2s", cfg.Providers.S2S.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	// Session defaults
	if cfg.Session.Strategy != "" && !cfg.Session.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("session.strategy %q is invalid; valid values: realtime, segmented", cfg.Session.Strategy))
	}
	if cfg.Session.DefaultDurationSeconds < 0 {
		errs = append(errs, fmt.Errorf("session.default_duration_seconds must not be negative"))
	}
	if cfg.Session.MaxDurationSeconds > 0 && cfg.Session.DefaultDurationSeconds > cfg.Session.MaxDurationSeconds {
		errs = append(errs, fmt.Errorf("session.default_duration_seconds %d exceeds session.max_duration_seconds %d",
			cfg.Session.DefaultDurationSeconds, cfg.Session.MaxDurationSeconds))
	}

	// Strategy ↔ provider cross-validation.
	switch cfg.Session.Strategy {
	case StrategyRealtime:
		if cfg.Providers.S2S.Name == "" {
			errs = append(errs, fmt.Errorf("session.strategy %q requires an S2S provider but providers.s2s is not configured", StrategyRealtime))
		}
	case StrategySegmented:
		if cfg.Providers.STT.Name == "" {
			errs = append(errs, fmt.Errorf("session.strategy %q requires an STT provider but providers.stt is not configured", StrategySegmented))
		}
		if cfg.Providers.LLM.Name == "" {
			errs = append(errs, fmt.Errorf("session.strategy %q requires an LLM provider but providers.llm is not configured", StrategySegmented))
		}
		if cfg.Providers.TTS.Name == "" {
			errs = append(errs, fmt.Errorf("session.strategy %q requires a TTS provider but providers.tts is not configured", StrategySegmented))
		}
	}

	// VAD tunables
	if cfg.VAD.MinThreshold < 0 || cfg.VAD.MaxThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad thresholds must not be negative"))
	}
	if cfg.VAD.MinThreshold > 0 && cfg.VAD.MaxThreshold > 0 && cfg.VAD.MinThreshold > cfg.VAD.MaxThreshold {
		errs = append(errs, fmt.Errorf("vad.min_threshold %.1f exceeds vad.max_threshold %.1f", cfg.VAD.MinThreshold, cfg.VAD.MaxThreshold))
	}
	if cfg.VAD.SilenceDurationMs < 0 {
		errs = append(errs, fmt.Errorf("vad.silence_duration_ms must not be negative"))
	}

	// Guard rules
	guardNamesSeen := make(map[string]int, len(cfg.Guard.Rules))
	for i, rule := range cfg.Guard.Rules {
		prefix := fmt.Sprintf("guard.rules[%d]", i)
		if rule.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := guardNamesSeen[rule.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of guard.rules[%d]", prefix, rule.Name, prev))
			}
			guardNamesSeen[rule.Name] = i
		}
		if rule.Pattern == "" && len(rule.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("%s: either pattern or keywords is required", prefix))
		}
		if rule.Pattern != "" {
			if _, err := regexp.Compile("(?i)" + rule.Pattern); err != nil {
				errs = append(errs, fmt.Errorf("%s.pattern does not compile: %w", prefix, err))
			}
		}
		if rule.Action != "" && !rule.Action.IsValid() {
			errs = append(errs, fmt.Errorf("%s.action %q is invalid; valid values: redirect, flag", prefix, rule.Action))
		}
	}

	// Store availability
	if cfg.Store.TranscriptURL == "" && cfg.Store.PostgresDSN == "" {
		slog.Warn("no transcript store configured; transcripts will only be held in memory")
	}

	// Preset duplicate name detection
	presetNamesSeen := make(map[string]int, len(cfg.Presets))

	// Presets
	for i, preset := range cfg.Presets {
		prefix := fmt.Sprintf("presets[%d]", i)
		if preset.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := presetNamesSeen[preset.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of presets[%d]", prefix, preset.Name, prev))
			}
			presetNamesSeen[preset.Name] = i
		}
		if preset.Strategy != "" && !preset.Strategy.IsValid() {
			errs = append(errs, fmt.Errorf("%s.strategy %q is invalid; valid values: realtime, segmented", prefix, preset.Strategy))
		}
		if preset.Voice.SpeedFactor != 0 {
			if preset.Voice.SpeedFactor < 0.5 || preset.Voice.SpeedFactor > 2.0 {
				errs = append(errs, fmt.Errorf("%s.voice.speed_factor %.2f is out of range [0.5, 2.0]", prefix, preset.Voice.SpeedFactor))
			}
		}
		if preset.DurationSeconds < 0 {
			errs = append(errs, fmt.Errorf("%s.duration_seconds must not be negative", prefix))
		}
		if cfg.Session.MaxDurationSeconds > 0 && preset.DurationSeconds > cfg.Session.MaxDurationSeconds {
			errs = append(errs, fmt.Errorf("%s.duration_seconds %d exceeds session.max_duration_seconds %d",
				prefix, preset.DurationSeconds, cfg.Session.MaxDurationSeconds))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
