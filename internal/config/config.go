// Package config provides the configuration schema, loader, and provider registry
// for the callcore voice pipeline.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Synthesizer SynthesizerConfig `yaml:"synthesizer"`
}

// ServerConfig holds process-wide settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects the slog handler: "text" (default) or "json".
	LogFormat string `yaml:"log_format"`
}

// TelemetryConfig configures the OpenTelemetry providers.
type TelemetryConfig struct {
	// ServiceName is reported on every metric and span. Default: "callcore".
	ServiceName string `yaml:"service_name"`

	// Prometheus registers the Prometheus metric reader. Off by default for
	// the developer tool.
	Prometheus bool `yaml:"prometheus"`

	// TraceSampleRatio is the fraction of new traces sampled, in [0, 1].
	// Zero samples every trace.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "deepgram", "azure").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// ${ENV_VAR} references are expanded at load time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// TranscriberConfig configures the caller-side transcription session.
type TranscriberConfig struct {
	// Provider is the primary recognition backend.
	Provider ProviderEntry `yaml:"provider"`

	// Fallbacks are tried in order when the primary fails to connect.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// AudioEncoding is "linear16" or "mulaw".
	AudioEncoding string `yaml:"audio_encoding"`

	// SamplingRate is the rate sent to the backend in Hz.
	SamplingRate int `yaml:"sampling_rate"`

	// InputSamplingRate is the native rate of caller audio. Zero means
	// SamplingRate.
	InputSamplingRate int `yaml:"input_sampling_rate"`

	// ChunkSize is the byte size of warm-up frames.
	ChunkSize int `yaml:"chunk_size"`

	// Language is a BCP-47 tag passed to the backend.
	Language string `yaml:"language"`

	// Tier and Version select the recognition model generation.
	Tier    string `yaml:"tier"`
	Version string `yaml:"version"`

	// Keywords boosts recognition of domain terms.
	Keywords []KeywordConfig `yaml:"keywords"`

	// KeywordCorrection rewrites final transcripts where a keyword was
	// misheard, such as a name split into two words.
	KeywordCorrection bool `yaml:"keyword_correction"`

	Endpointing EndpointingConfig `yaml:"endpointing"`

	// Warmup enables priming new connections with quiet noise. Default: true.
	Warmup *bool `yaml:"warmup"`

	// WarmupDelay is the wait after the warm-up frames. Default: 5s.
	WarmupDelay time.Duration `yaml:"warmup_delay"`

	// MaxRestarts is the connection attempt ceiling. Default: 5.
	MaxRestarts int `yaml:"max_restarts"`

	// Backoff is the initial wait between connection attempts. Default: 250ms.
	Backoff time.Duration `yaml:"backoff"`

	// MinConfidence is the confidence a transcript must exceed to count.
	MinConfidence float64 `yaml:"min_confidence"`
}

// KeywordConfig boosts one recognition term.
type KeywordConfig struct {
	Keyword string  `yaml:"keyword"`
	Boost   float64 `yaml:"boost"`
}

// EndpointingConfig selects the endpointing policy.
type EndpointingConfig struct {
	// Type is "none", "time_based" or "punctuation_based".
	Type string `yaml:"type"`

	// TimeCutoffSeconds is the silence threshold of the time-based and
	// punctuation-based policies.
	TimeCutoffSeconds float64 `yaml:"time_cutoff_seconds"`
}

// SynthesizerConfig configures agent speech synthesis.
type SynthesizerConfig struct {
	// Provider is the primary synthesis backend.
	Provider ProviderEntry `yaml:"provider"`

	// Fallbacks are tried in order when the primary fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// AudioEncoding is "linear16" or "mulaw".
	AudioEncoding string `yaml:"audio_encoding"`

	// SamplingRate is the output rate in Hz. Mu-law requires 8000.
	SamplingRate int `yaml:"sampling_rate"`

	// EncodeAsWAV wraps every chunk in its own WAV header. Linear16 only.
	EncodeAsWAV bool `yaml:"encode_as_wav"`

	Voice VoiceConfig `yaml:"voice"`

	// WordsPerMinute drives the speaking-rate cutoff estimate. Default: 150.
	WordsPerMinute int `yaml:"words_per_minute"`

	// CutoffHeuristic forces "total_length" or "speaking_rate" for backends
	// without boundary events. Empty selects the backend's own tier.
	CutoffHeuristic string `yaml:"cutoff_heuristic"`

	Fillers FillerConfig `yaml:"fillers"`
}

// VoiceConfig specifies the voice and prosody of the agent.
type VoiceConfig struct {
	// Name is the provider-specific voice identifier.
	Name string `yaml:"name"`

	// Language is the BCP-47 language of the voice.
	Language string `yaml:"language"`

	// Pitch and Rate are relative prosody adjustments in percent, each in
	// the range [-100, 100].
	Pitch int `yaml:"pitch"`
	Rate  int `yaml:"rate"`

	// Metadata carries provider-specific voice settings (e.g. ElevenLabs
	// stability). It is part of the filler cache fingerprint.
	Metadata map[string]string `yaml:"metadata"`
}

// FillerConfig configures pre-synthesized filler audio.
type FillerConfig struct {
	// Enabled turns on phrase fillers.
	Enabled bool `yaml:"enabled"`

	// CacheDir stores synthesized fillers across restarts.
	CacheDir string `yaml:"cache_dir"`

	// TypingNoise is an optional WAV file played as an interruptible filler.
	TypingNoise string `yaml:"typing_noise"`
}
