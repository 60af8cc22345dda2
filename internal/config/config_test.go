package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/callcore/internal/config"
	"github.com/MrWong99/callcore/internal/transcriber"
	"github.com/MrWong99/callcore/pkg/audio"
	"github.com/MrWong99/callcore/pkg/provider/stt"
	"github.com/MrWong99/callcore/pkg/provider/stt/mock"
	"github.com/MrWong99/callcore/pkg/provider/tts"
	ttsmock "github.com/MrWong99/callcore/pkg/provider/tts/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  log_level: debug
  log_format: json

telemetry:
  service_name: callcore-test

transcriber:
  provider:
    name: deepgram
    api_key: dg-test
    model: nova-2
  audio_encoding: linear16
  sampling_rate: 16000
  input_sampling_rate: 8000
  language: en-US
  keywords:
    - keyword: callcore
      boost: 2
  keyword_correction: true
  endpointing:
    type: punctuation_based
    time_cutoff_seconds: 0.8
  warmup: false
  max_restarts: 3
  backoff: 100ms
  min_confidence: 0.4

synthesizer:
  provider:
    name: azure
    api_key: az-test
    options:
      region: westeurope
  fallbacks:
    - name: google
      api_key: g-test
  audio_encoding: mulaw
  sampling_rate: 8000
  voice:
    name: en-US-AriaNeural
    language: en-US
    pitch: -5
    rate: 10
  words_per_minute: 170
  cutoff_heuristic: speaking_rate
  fillers:
    enabled: true
    cache_dir: /tmp/fillers
`

func loadSample(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── Schema ───────────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg := loadSample(t)

	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Telemetry.ServiceName != "callcore-test" {
		t.Errorf("service_name = %q", cfg.Telemetry.ServiceName)
	}
	if cfg.Transcriber.Provider.Name != "deepgram" || cfg.Transcriber.Provider.APIKey != "dg-test" {
		t.Errorf("transcriber.provider = %+v", cfg.Transcriber.Provider)
	}
	if cfg.Transcriber.Backoff != 100*time.Millisecond {
		t.Errorf("backoff = %v, want 100ms", cfg.Transcriber.Backoff)
	}
	if got := cfg.Synthesizer.Provider.Options["region"]; got != "westeurope" {
		t.Errorf("region option = %v", got)
	}
	if len(cfg.Synthesizer.Fallbacks) != 1 || cfg.Synthesizer.Fallbacks[0].Name != "google" {
		t.Errorf("fallbacks = %+v", cfg.Synthesizer.Fallbacks)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(`
transcriber:
  provider: {name: deepgram}
synthesizer:
  provider: {name: coqui}
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	for _, sec := range []struct {
		name string
		enc  string
		rate int
	}{
		{"transcriber", cfg.Transcriber.AudioEncoding, cfg.Transcriber.SamplingRate},
		{"synthesizer", cfg.Synthesizer.AudioEncoding, cfg.Synthesizer.SamplingRate},
	} {
		if sec.enc != "mulaw" || sec.rate != 8000 {
			t.Errorf("%s format = %s/%d, want mulaw/8000", sec.name, sec.enc, sec.rate)
		}
	}
}

func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("CALLCORE_TEST_DG_KEY", "from-env")
	cfg, err := config.LoadFromReader(strings.NewReader(`
transcriber:
  provider:
    name: deepgram
    api_key: ${CALLCORE_TEST_DG_KEY}
synthesizer:
  provider:
    name: elevenlabs
    api_key: "${CALLCORE_TEST_UNSET_KEY}"
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if got := cfg.Transcriber.Provider.APIKey; got != "from-env" {
		t.Errorf("api_key = %q, want from-env", got)
	}
	if got := cfg.Synthesizer.Provider.APIKey; got != "" {
		t.Errorf("unset variable expanded to %q, want empty", got)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
transcriber:
  provider: {name: deepgram}
  endpointing_typo: none
`))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

// ── Validate ─────────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "missing providers",
			yaml: `server: {log_level: info}`,
			want: []string{"transcriber.provider.name is required", "synthesizer.provider.name is required"},
		},
		{
			name: "mulaw at 16k",
			yaml: `
transcriber: {provider: {name: deepgram}}
synthesizer: {provider: {name: azure}, audio_encoding: mulaw, sampling_rate: 16000}`,
			want: []string{"synthesizer", "mulaw requires 8000 Hz"},
		},
		{
			name: "unsupported endpointing",
			yaml: `
transcriber: {provider: {name: deepgram}, endpointing: {type: vad}}
synthesizer: {provider: {name: azure}}`,
			want: []string{"transcriber.endpointing", "unsupported endpointing policy"},
		},
		{
			name: "wav requires linear16",
			yaml: `
transcriber: {provider: {name: deepgram}}
synthesizer: {provider: {name: azure}, encode_as_wav: true}`,
			want: []string{"encode_as_wav requires audio_encoding linear16"},
		},
		{
			name: "bad heuristic and prosody",
			yaml: `
transcriber: {provider: {name: deepgram}}
synthesizer:
  provider: {name: azure}
  cutoff_heuristic: vibes
  voice: {pitch: 150, rate: -101}`,
			want: []string{"cutoff_heuristic", "voice.pitch", "voice.rate"},
		},
		{
			name: "fillers without dir",
			yaml: `
transcriber: {provider: {name: deepgram}}
synthesizer: {provider: {name: azure}, fillers: {enabled: true}}`,
			want: []string{"fillers.cache_dir is required"},
		},
		{
			name: "bad log settings",
			yaml: `
server: {log_level: loud, log_format: xml}
telemetry: {trace_sample_ratio: 1.5}
transcriber: {provider: {name: deepgram}, min_confidence: 2}
synthesizer: {provider: {name: azure}}`,
			want: []string{"server.log_level", "server.log_format", "trace_sample_ratio", "min_confidence"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error does not mention %q:\n%v", w, err)
				}
			}
		})
	}
}

// ── Conversion ───────────────────────────────────────────────────────────────

func TestTranscriberConfig_SessionConfig(t *testing.T) {
	t.Parallel()
	cfg := loadSample(t)
	sc, err := cfg.Transcriber.SessionConfig()
	if err != nil {
		t.Fatalf("SessionConfig: %v", err)
	}
	if sc.Format != audio.Mono(audio.EncodingLinear16, 16000) {
		t.Errorf("Format = %v", sc.Format)
	}
	if sc.InputSampleRate != 8000 {
		t.Errorf("InputSampleRate = %d", sc.InputSampleRate)
	}
	want := transcriber.EndpointingPolicy{Kind: transcriber.EndpointingPunctuation, TimeCutoff: 800 * time.Millisecond}
	if sc.Endpointing != want {
		t.Errorf("Endpointing = %+v, want %+v", sc.Endpointing, want)
	}
	if !sc.DisableWarmup || sc.MaxRestarts != 3 || sc.Model != "nova-2" || sc.ProviderName != "deepgram" {
		t.Errorf("unexpected session config: %+v", sc)
	}
	if len(sc.Keywords) != 1 || sc.Keywords[0].Keyword != "callcore" || sc.Keywords[0].Boost != 2 {
		t.Errorf("Keywords = %+v", sc.Keywords)
	}
	if !cfg.Transcriber.KeywordCorrection {
		t.Error("keyword_correction not loaded")
	}
	if got := cfg.Transcriber.KeywordTerms(); len(got) != 1 || got[0] != "callcore" {
		t.Errorf("KeywordTerms = %v", got)
	}

	// The converted config is accepted by the session constructor.
	if _, err := transcriber.New(&mock.Provider{}, sc); err != nil {
		t.Errorf("transcriber.New: %v", err)
	}
}

func TestSynthesizerConfig_EngineConfig(t *testing.T) {
	t.Parallel()
	cfg := loadSample(t)
	ec, err := cfg.Synthesizer.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig: %v", err)
	}
	if ec.Format != audio.Mono(audio.EncodingMulaw, 8000) {
		t.Errorf("Format = %v", ec.Format)
	}
	if ec.Voice.ID != "en-US-AriaNeural" || ec.Voice.Pitch != -5 || ec.Voice.Rate != 10 {
		t.Errorf("Voice = %+v", ec.Voice)
	}
	if ec.WordsPerMinute != 170 || ec.CutoffHeuristic != "speaking_rate" {
		t.Errorf("unexpected engine config: %+v", ec)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterSTT("fake", func(e config.ProviderEntry) (stt.Provider, error) {
		return &mock.Provider{}, nil
	})
	reg.RegisterTTS("fake", func(e config.ProviderEntry) (tts.Backend, error) {
		return &ttsmock.Backend{BackendName: e.Name + "/" + e.Model}, nil
	})
	reg.RegisterTTS("broken", func(config.ProviderEntry) (tts.Backend, error) {
		return nil, errors.New("no credentials")
	})

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "fake"}); err != nil {
		t.Errorf("CreateSTT: %v", err)
	}
	b, err := reg.CreateTTS(config.ProviderEntry{Name: "fake", Model: "m1"})
	if err != nil {
		t.Fatalf("CreateTTS: %v", err)
	}
	if b.Name() != "fake/m1" {
		t.Errorf("backend name = %q, want entry passed to factory", b.Name())
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "broken"}); err == nil {
		t.Error("expected factory error")
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "missing"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
	if got := reg.Names("tts"); len(got) != 2 || got[0] != "broken" || got[1] != "fake" {
		t.Errorf("Names(tts) = %v", got)
	}
}
