// Package synth turns agent messages into finite, cancellable streams of
// fixed-size audio chunks and answers how much of a message had been spoken
// after a given amount of played audio.
//
// The Engine wraps one tts.Backend. How precisely a cutoff can be resolved
// depends on the backend's capability tier: backends that report boundary
// events resolve cutoffs exactly, all others fall back to an estimate that
// may end mid-word.
package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/callcore/internal/fillercache"
	"github.com/MrWong99/callcore/internal/observe"
	"github.com/MrWong99/callcore/pkg/audio"
	"github.com/MrWong99/callcore/pkg/provider/tts"
	"github.com/MrWong99/callcore/pkg/types"
)

// ErrUnknownHeuristic is returned by New for an unrecognized cutoff heuristic.
var ErrUnknownHeuristic = errors.New("synth: unknown cutoff heuristic")

// Config configures an Engine.
type Config struct {
	// Format is the output audio format. Mu-law is only valid at 8 kHz.
	Format audio.Format

	// EncodeAsWAV wraps every chunk in its own WAV header. Only valid for
	// linear16 output.
	EncodeAsWAV bool

	// Voice selects voice and prosody for every request.
	Voice tts.VoiceProfile

	// WordsPerMinute drives the speaking-rate cutoff estimate. Defaults to
	// DefaultWordsPerMinute.
	WordsPerMinute int

	// CutoffHeuristic forces the estimate used when a result carries no
	// boundary events: "total_length" or "speaking_rate". Empty selects the
	// backend's tier.
	CutoffHeuristic string

	// FillerLeadTrim is cut from the start of synthesized filler phrases.
	// Defaults to 100 ms; negative disables trimming.
	FillerLeadTrim time.Duration
}

const defaultFillerLeadTrim = 100 * time.Millisecond

// Option configures an Engine.
type Option func(*Engine)

// WithFillerCache enables phrase filler audio backed by c.
func WithFillerCache(c *fillercache.Cache) Option {
	return func(e *Engine) { e.fillers = c }
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine synthesizes agent messages with one backend. It is safe for
// concurrent use.
type Engine struct {
	backend   tts.Backend
	cfg       Config
	heuristic *tts.CutoffTier
	fillers   *fillercache.Cache
	metrics   *observe.Metrics
}

// New validates cfg and creates an Engine for backend.
func New(backend tts.Backend, cfg Config, opts ...Option) (*Engine, error) {
	if backend == nil {
		return nil, errors.New("synth: backend must not be nil")
	}
	if cfg.Format.Channels == 0 {
		cfg.Format.Channels = 1
	}
	if cfg.Format.Channels != 1 {
		return nil, fmt.Errorf("synth: %w: output must be mono", audio.ErrInvalidFormat)
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, fmt.Errorf("synth: %w", err)
	}
	if cfg.EncodeAsWAV && cfg.Format.Encoding != audio.EncodingLinear16 {
		return nil, fmt.Errorf("synth: %w: WAV chunks require linear16", audio.ErrInvalidFormat)
	}
	if cfg.WordsPerMinute <= 0 {
		cfg.WordsPerMinute = DefaultWordsPerMinute
	}
	if cfg.FillerLeadTrim == 0 {
		cfg.FillerLeadTrim = defaultFillerLeadTrim
	}

	e := &Engine{backend: backend, cfg: cfg, metrics: observe.DefaultMetrics()}
	switch cfg.CutoffHeuristic {
	case "":
	case tts.TierTotalLength.String():
		t := tts.TierTotalLength
		e.heuristic = &t
	case tts.TierSpeakingRate.String():
		t := tts.TierSpeakingRate
		e.heuristic = &t
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownHeuristic, cfg.CutoffHeuristic)
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Backend returns the engine's synthesis backend.
func (e *Engine) Backend() tts.Backend { return e.backend }

// Format returns the output audio format.
func (e *Engine) Format() audio.Format { return e.cfg.Format }

// Message is one agent utterance: plain text, or pre-built SSML that is sent
// to SSML-capable backends unchanged.
type Message struct {
	Text string
	SSML string
}

// text returns the plain text of m.
func (m Message) text() string {
	if t := strings.TrimSpace(m.Text); t != "" {
		return t
	}
	return PlainText(m.SSML)
}

// Result is the synthesized audio of one message.
type Result struct {
	// Chunks yields the audio. It is single-pass.
	Chunks *ChunkStream

	// Tier reports how MessageUpTo resolves cutoffs. Only
	// tts.TierTimingMarks is exact; the estimates may end mid-word.
	Tier tts.CutoffTier

	// Duration is the playback length of the audio.
	Duration time.Duration

	cutoff cutoffFunc
}

// MessageUpTo returns the part of the message spoken after elapsed seconds of
// playback. It stays valid after Chunks is exhausted or closed and returns
// the same text for the same elapsed value.
func (r *Result) MessageUpTo(elapsed time.Duration) string {
	return r.cutoff(elapsed)
}

// CreateSpeech synthesizes msg and splits the audio into chunkSize byte
// chunks. sentiment, when set, styles the markup of backends that support
// styles. A backend failure is returned as an error with no partial result.
func (e *Engine) CreateSpeech(ctx context.Context, msg Message, chunkSize int, sentiment *types.BotSentiment) (*Result, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("synth: chunk size must be positive, got %d", chunkSize)
	}
	text := msg.text()
	if text == "" {
		return nil, fmt.Errorf("synth: %w", tts.ErrEmptyText)
	}

	req := e.request(text, msg.SSML, sentiment)
	res, pcm, err := e.synthesize(ctx, req)
	if err != nil {
		return nil, err
	}

	dur := audio.Duration(len(pcm), e.cfg.Format)
	tier, cutoff := e.cutoffFor(text, req, res, dur)
	return &Result{
		Chunks:   newChunkStream(pcm, chunkSize, e.cfg.Format, e.cfg.EncodeAsWAV),
		Tier:     tier,
		Duration: dur,
		cutoff:   cutoff,
	}, nil
}

// request builds the backend request, generating markup for SSML backends.
func (e *Engine) request(text, ssml string, sentiment *types.BotSentiment) tts.Request {
	req := tts.Request{
		Text:      text,
		Voice:     e.cfg.Voice,
		Format:    e.cfg.Format,
		Sentiment: sentiment,
	}
	caps := e.backend.Capabilities()
	if !caps.SSML {
		return req
	}
	if ssml != "" {
		req.SSML = ssml
		return req
	}
	req.SSML = BuildSSML(text, MarkupOptions{
		VoiceName:       e.cfg.Voice.ID,
		Language:        e.cfg.Voice.Language,
		Pitch:           e.cfg.Voice.Pitch,
		Rate:            e.cfg.Voice.Rate,
		StandardProsody: caps.StandardProsody,
		StyleScale:      caps.StyleScale,
		Marks:           caps.Marks,
	}, sentiment)
	return req
}

// synthesize runs one backend round trip and converts the audio to the
// output format.
func (e *Engine) synthesize(ctx context.Context, req tts.Request) (res *tts.Result, pcm []byte, err error) {
	name := e.backend.Name()
	ctx, span := observe.StartSpan(ctx, "synth.synthesize")
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	res, err = e.backend.Synthesize(ctx, req)
	observe.ObserveSince(ctx, e.metrics.TTSDuration, start, observe.Attr("provider", name))
	if err != nil {
		e.metrics.RecordProviderRequest(ctx, name, "tts", "error")
		e.metrics.RecordProviderError(ctx, name, "tts")
		return nil, nil, fmt.Errorf("synth: %s: %w", name, err)
	}
	e.metrics.RecordProviderRequest(ctx, name, "tts", "ok")

	from := res.Format
	if from.Channels == 0 {
		from.Channels = 1
	}
	pcm, err = audio.Convert(res.Audio, from, e.cfg.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("synth: convert %s output: %w", name, err)
	}
	observe.Logger(ctx).Debug("synth: synthesized message",
		"provider", name, "bytes", len(pcm), "events", len(res.Events))
	return res, pcm, nil
}

// cutoffFor selects the cutoff resolver. Results without boundary events fall
// back to an estimate even on timing-capable backends.
func (e *Engine) cutoffFor(text string, req tts.Request, res *tts.Result, dur time.Duration) (tts.CutoffTier, cutoffFunc) {
	caps := e.backend.Capabilities()
	if caps.Tier == tts.TierTimingMarks && len(res.Events) > 0 {
		input := res.Input
		if input == "" {
			input = req.Input()
		}
		markup := req.SSML != "" && input == req.SSML
		return tts.TierTimingMarks, timingCutoff(text, input, markup, res.Events)
	}

	tier := tts.TierTotalLength
	switch {
	case e.heuristic != nil:
		tier = *e.heuristic
	case caps.Tier == tts.TierSpeakingRate:
		tier = tts.TierSpeakingRate
	}
	if tier == tts.TierSpeakingRate {
		return tier, speakingRateCutoff(text, e.cfg.WordsPerMinute)
	}
	return tier, totalLengthCutoff(text, dur)
}

