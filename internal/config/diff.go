package config

import (
	"maps"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only sessions started after a reload see the new values; the flags tell
// the host which components need rebuilding.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TranscriberChanged is set when any transcription setting changed.
	TranscriberChanged bool

	// SynthesizerChanged is set when the synthesis backend or output format
	// changed. The engine has to be rebuilt.
	SynthesizerChanged bool

	// VoiceChanged is set when the agent voice changed. Cached fillers of the
	// old voice no longer match.
	VoiceChanged bool

	// FillersChanged is set when the filler settings changed.
	FillersChanged bool
}

// Changed reports whether d records any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.TranscriberChanged || d.SynthesizerChanged || d.VoiceChanged || d.FillersChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.TranscriberChanged = !transcriberEqual(old.Transcriber, new.Transcriber)

	prev, next := old.Synthesizer, new.Synthesizer
	d.SynthesizerChanged = !providerEqual(prev.Provider, next.Provider) ||
		!slices.EqualFunc(prev.Fallbacks, next.Fallbacks, providerEqual) ||
		prev.AudioEncoding != next.AudioEncoding ||
		prev.SamplingRate != next.SamplingRate ||
		prev.EncodeAsWAV != next.EncodeAsWAV ||
		prev.WordsPerMinute != next.WordsPerMinute ||
		prev.CutoffHeuristic != next.CutoffHeuristic
	d.VoiceChanged = prev.Voice.Name != next.Voice.Name ||
		prev.Voice.Language != next.Voice.Language ||
		prev.Voice.Pitch != next.Voice.Pitch ||
		prev.Voice.Rate != next.Voice.Rate ||
		!maps.Equal(prev.Voice.Metadata, next.Voice.Metadata)
	d.FillersChanged = prev.Fillers != next.Fillers

	return d
}

func transcriberEqual(a, b TranscriberConfig) bool {
	warmup := func(p *bool) bool { return p == nil || *p }
	return providerEqual(a.Provider, b.Provider) &&
		slices.EqualFunc(a.Fallbacks, b.Fallbacks, providerEqual) &&
		a.AudioEncoding == b.AudioEncoding &&
		a.SamplingRate == b.SamplingRate &&
		a.InputSamplingRate == b.InputSamplingRate &&
		a.ChunkSize == b.ChunkSize &&
		a.Language == b.Language &&
		a.Tier == b.Tier &&
		a.Version == b.Version &&
		slices.Equal(a.Keywords, b.Keywords) &&
		a.KeywordCorrection == b.KeywordCorrection &&
		a.Endpointing == b.Endpointing &&
		warmup(a.Warmup) == warmup(b.Warmup) &&
		a.WarmupDelay == b.WarmupDelay &&
		a.MaxRestarts == b.MaxRestarts &&
		a.Backoff == b.Backoff &&
		a.MinConfidence == b.MinConfidence
}

// providerEqual compares provider entries. Options are compared by their
// keys and scalar values only.
func providerEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || !scalarEqual(av, bv) {
			return false
		}
	}
	return true
}

func scalarEqual(a, b any) bool {
	switch a.(type) {
	case string, bool, int, float64:
		return a == b
	default:
		// Nested values are treated as changed.
		return false
	}
}
