package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/callcore/pkg/audio"
	"github.com/MrWong99/callcore/pkg/provider/tts"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram"},
	"tts": {"azure", "google", "elevenlabs", "coqui"},
}

// Telephony defaults: 8 kHz mu-law in both directions.
const (
	defaultEncoding     = "mulaw"
	defaultSamplingRate = audio.MulawSampleRate
)

// envRef matches ${NAME} references expanded by [LoadFromReader].
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

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

// LoadFromReader decodes a YAML config from r, expands ${ENV} references,
// applies defaults and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	raw = expandEnv(raw)

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces ${NAME} with the value of the environment variable NAME.
// Unset variables expand to the empty string and are logged.
func expandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := string(envRef.FindSubmatch(m)[1])
		v, ok := os.LookupEnv(name)
		if !ok {
			slog.Warn("config: environment variable not set", "name", name)
		}
		return []byte(v)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	t := &cfg.Transcriber
	if t.AudioEncoding == "" {
		t.AudioEncoding = defaultEncoding
	}
	if t.SamplingRate == 0 {
		t.SamplingRate = defaultSamplingRate
	}
	s := &cfg.Synthesizer
	if s.AudioEncoding == "" {
		s.AudioEncoding = defaultEncoding
	}
	if s.SamplingRate == 0 {
		s.SamplingRate = defaultSamplingRate
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	switch cfg.Server.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	// Transcriber
	t := cfg.Transcriber
	errs = append(errs, validateProvider("stt", "transcriber.provider", t.Provider)...)
	for i, fb := range t.Fallbacks {
		errs = append(errs, validateProvider("stt", fmt.Sprintf("transcriber.fallbacks[%d]", i), fb)...)
	}
	if err := validateFormat("transcriber", t.AudioEncoding, t.SamplingRate); err != nil {
		errs = append(errs, err)
	}
	if t.InputSamplingRate < 0 {
		errs = append(errs, errors.New("transcriber.input_sampling_rate must not be negative"))
	}
	if t.ChunkSize < 0 {
		errs = append(errs, errors.New("transcriber.chunk_size must not be negative"))
	}
	if t.MaxRestarts < 0 {
		errs = append(errs, errors.New("transcriber.max_restarts must not be negative"))
	}
	if t.MinConfidence < 0 || t.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("transcriber.min_confidence %.2f is out of range [0, 1]", t.MinConfidence))
	}
	if t.Endpointing.TimeCutoffSeconds < 0 {
		errs = append(errs, errors.New("transcriber.endpointing.time_cutoff_seconds must not be negative"))
	}
	if _, err := t.EndpointingPolicy(); err != nil {
		errs = append(errs, fmt.Errorf("transcriber.endpointing: %w", err))
	}
	for i, kw := range t.Keywords {
		if kw.Keyword == "" {
			errs = append(errs, fmt.Errorf("transcriber.keywords[%d].keyword is required", i))
		}
	}

	// Synthesizer
	s := cfg.Synthesizer
	errs = append(errs, validateProvider("tts", "synthesizer.provider", s.Provider)...)
	for i, fb := range s.Fallbacks {
		errs = append(errs, validateProvider("tts", fmt.Sprintf("synthesizer.fallbacks[%d]", i), fb)...)
	}
	if err := validateFormat("synthesizer", s.AudioEncoding, s.SamplingRate); err != nil {
		errs = append(errs, err)
	}
	if s.EncodeAsWAV && s.AudioEncoding != "" {
		if enc, err := audio.ParseEncoding(s.AudioEncoding); err == nil && enc != audio.EncodingLinear16 {
			errs = append(errs, errors.New("synthesizer.encode_as_wav requires audio_encoding linear16"))
		}
	}
	switch s.CutoffHeuristic {
	case "", tts.TierTotalLength.String(), tts.TierSpeakingRate.String():
	default:
		errs = append(errs, fmt.Errorf("synthesizer.cutoff_heuristic %q is invalid; valid values: total_length, speaking_rate", s.CutoffHeuristic))
	}
	if s.WordsPerMinute < 0 {
		errs = append(errs, errors.New("synthesizer.words_per_minute must not be negative"))
	}
	if s.Voice.Pitch < -100 || s.Voice.Pitch > 100 {
		errs = append(errs, fmt.Errorf("synthesizer.voice.pitch %d is out of range [-100, 100]", s.Voice.Pitch))
	}
	if s.Voice.Rate < -100 || s.Voice.Rate > 100 {
		errs = append(errs, fmt.Errorf("synthesizer.voice.rate %d is out of range [-100, 100]", s.Voice.Rate))
	}
	if s.Fillers.Enabled && s.Fillers.CacheDir == "" {
		errs = append(errs, errors.New("synthesizer.fillers.cache_dir is required when fillers are enabled"))
	}

	return errors.Join(errs...)
}

// validateProvider checks a provider entry. Unknown names are only warned
// about since third-party providers may be registered at runtime.
func validateProvider(kind, field string, entry ProviderEntry) []error {
	if entry.Name == "" {
		return []error{fmt.Errorf("%s.name is required", field)}
	}
	validateProviderName(kind, entry.Name)
	return nil
}

func validateFormat(section, encoding string, rate int) error {
	enc, err := audio.ParseEncoding(encoding)
	if err != nil {
		return fmt.Errorf("%s.audio_encoding: %w", section, err)
	}
	if err := audio.Mono(enc, rate).Validate(); err != nil {
		return fmt.Errorf("%s: %w", section, err)
	}
	return nil
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
	slog.Warn("config: unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
