package synth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callcore/internal/fillercache"
	"github.com/MrWong99/callcore/pkg/audio"
	"github.com/MrWong99/callcore/pkg/provider/tts"
)

// FillerPhrases are the short phrases played to mask response latency.
var FillerPhrases = []string{
	"Um...",
	"Uh...",
	"Uh-huh...",
	"Mm-hmm...",
	"Hmm...",
	"Okay...",
	"Right...",
	"Let me see...",
}

// fillerConcurrency bounds parallel filler synthesis on a cold cache.
const fillerConcurrency = 4

// FillerAudio is a pre-synthesized filler clip. It is immutable.
type FillerAudio struct {
	// Text is the phrase the clip speaks.
	Text string

	// Audio is raw audio in Format.
	Audio []byte

	// Format describes Audio.
	Format audio.Format

	// EncodeAsWAV wraps every chunk of the clip in its own WAV header.
	EncodeAsWAV bool

	// Interruptible reports whether caller speech may cut the clip short.
	Interruptible bool

	// ChunkSeconds is the playback length of one chunk.
	ChunkSeconds int
}

// SynthesisResult returns a fresh chunk stream over the clip. Its cutoff
// resolver always reports the whole phrase.
func (f *FillerAudio) SynthesisResult() *Result {
	secs := max(f.ChunkSeconds, 1)
	size := audio.ChunkSizePerSecond(f.Format.Encoding, f.Format.SampleRate) * secs
	text := f.Text
	return &Result{
		Chunks:   newChunkStream(f.Audio, size, f.Format, f.EncodeAsWAV),
		Tier:     tts.TierTotalLength,
		Duration: audio.Duration(len(f.Audio), f.Format),
		cutoff:   func(time.Duration) string { return text },
	}
}

// Fingerprint returns the cache fingerprint of the engine configuration.
func (e *Engine) Fingerprint() fillercache.Fingerprint {
	return fillercache.Fingerprint{
		Engine:     e.backend.Name(),
		Encoding:   e.cfg.Format.Encoding.String(),
		SampleRate: e.cfg.Format.SampleRate,
		Voice:      e.cfg.Voice.Identity(),
	}
}

// PhraseFillerAudios returns one clip per FillerPhrases entry, loading it from
// the filler cache or synthesizing it on a miss. Without a filler cache the
// engine has no filler capability and the list is empty.
func (e *Engine) PhraseFillerAudios(ctx context.Context) ([]*FillerAudio, error) {
	if e.fillers == nil {
		return nil, nil
	}
	fp := e.Fingerprint()
	out := make([]*FillerAudio, len(FillerPhrases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fillerConcurrency)
	for i, phrase := range FillerPhrases {
		g.Go(func() error {
			data, err := e.fillers.GetOrCreate(gctx, phrase, fp, func(ctx context.Context) ([]byte, error) {
				return e.synthesizeFiller(ctx, phrase)
			})
			if err != nil {
				return err
			}
			out[i] = e.fillerAudio(phrase, data, false, 1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("synth: filler audio: %w", err)
	}
	return out, nil
}

// TypingNoiseFillerAudio converts a WAV recording of keyboard noise into an
// interruptible filler clip.
func (e *Engine) TypingNoiseFillerAudio(wav []byte) (*FillerAudio, error) {
	data, err := audio.ConvertWAV(wav, e.cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("synth: typing noise: %w", err)
	}
	return e.fillerAudio("<typing noise>", data, true, 2), nil
}

func (e *Engine) fillerAudio(text string, data []byte, interruptible bool, chunkSeconds int) *FillerAudio {
	return &FillerAudio{
		Text:          text,
		Audio:         data,
		Format:        e.cfg.Format,
		EncodeAsWAV:   e.cfg.EncodeAsWAV,
		Interruptible: interruptible,
		ChunkSeconds:  chunkSeconds,
	}
}

// synthesizeFiller synthesizes phrase and trims the lead-in silence.
func (e *Engine) synthesizeFiller(ctx context.Context, phrase string) ([]byte, error) {
	_, pcm, err := e.synthesize(ctx, e.request(phrase, "", nil))
	if err != nil {
		return nil, err
	}
	if e.cfg.FillerLeadTrim <= 0 {
		return pcm, nil
	}
	bps := audio.BytesPerSecond(e.cfg.Format)
	frame := e.cfg.Format.Encoding.BytesPerSample()
	n := int(int64(bps) * int64(e.cfg.FillerLeadTrim) / int64(time.Second))
	n -= n % frame
	return pcm[min(n, len(pcm)):], nil
}
