package config

import (
	"time"

	"github.com/MrWong99/callcore/internal/synth"
	"github.com/MrWong99/callcore/internal/transcriber"
	"github.com/MrWong99/callcore/pkg/audio"
	"github.com/MrWong99/callcore/pkg/provider/tts"
	"github.com/MrWong99/callcore/pkg/types"
)

// Format returns the audio format sent to the recognition backend.
func (t TranscriberConfig) Format() (audio.Format, error) {
	return parseFormat(t.AudioEncoding, t.SamplingRate)
}

// EndpointingPolicy parses the configured endpointing policy.
func (t TranscriberConfig) EndpointingPolicy() (transcriber.EndpointingPolicy, error) {
	cutoff := time.Duration(t.Endpointing.TimeCutoffSeconds * float64(time.Second))
	return transcriber.ParseEndpointing(t.Endpointing.Type, cutoff)
}

// SessionConfig converts the section into a transcription session config.
func (t TranscriberConfig) SessionConfig() (transcriber.Config, error) {
	f, err := t.Format()
	if err != nil {
		return transcriber.Config{}, err
	}
	policy, err := t.EndpointingPolicy()
	if err != nil {
		return transcriber.Config{}, err
	}
	keywords := make([]types.KeywordBoost, 0, len(t.Keywords))
	for _, kw := range t.Keywords {
		keywords = append(keywords, types.KeywordBoost{Keyword: kw.Keyword, Boost: kw.Boost})
	}
	return transcriber.Config{
		Format:          f,
		InputSampleRate: t.InputSamplingRate,
		ChunkSize:       t.ChunkSize,
		Endpointing:     policy,
		Language:        t.Language,
		Model:           t.Provider.Model,
		Tier:            t.Tier,
		Version:         t.Version,
		Keywords:        keywords,
		MinConfidence:   t.MinConfidence,
		DisableWarmup:   t.Warmup != nil && !*t.Warmup,
		WarmupDelay:     t.WarmupDelay,
		MaxRestarts:     t.MaxRestarts,
		Backoff:         t.Backoff,
		ProviderName:    t.Provider.Name,
	}, nil
}

// KeywordTerms returns the configured keywords without their boosts.
func (t TranscriberConfig) KeywordTerms() []string {
	terms := make([]string, 0, len(t.Keywords))
	for _, kw := range t.Keywords {
		terms = append(terms, kw.Keyword)
	}
	return terms
}

// Format returns the synthesized output format.
func (s SynthesizerConfig) Format() (audio.Format, error) {
	return parseFormat(s.AudioEncoding, s.SamplingRate)
}

// EngineConfig converts the section into a synthesis engine config.
func (s SynthesizerConfig) EngineConfig() (synth.Config, error) {
	f, err := s.Format()
	if err != nil {
		return synth.Config{}, err
	}
	return synth.Config{
		Format:          f,
		EncodeAsWAV:     s.EncodeAsWAV,
		Voice:           s.Voice.Profile(),
		WordsPerMinute:  s.WordsPerMinute,
		CutoffHeuristic: s.CutoffHeuristic,
	}, nil
}

// Profile converts the voice section into a backend voice profile.
func (v VoiceConfig) Profile() tts.VoiceProfile {
	return tts.VoiceProfile{
		ID:       v.Name,
		Language: v.Language,
		Pitch:    v.Pitch,
		Rate:     v.Rate,
		Metadata: v.Metadata,
	}
}

func parseFormat(encoding string, rate int) (audio.Format, error) {
	enc, err := audio.ParseEncoding(encoding)
	if err != nil {
		return audio.Format{}, err
	}
	f := audio.Mono(enc, rate)
	return f, f.Validate()
}
