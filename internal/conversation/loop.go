// Package conversation implements turn taking between a caller and the agent.
//
// A Loop consumes transcriptions from a transcription session. Every final
// transcription starts a new agent turn: a filler clip masks the responder's
// latency, the reply is synthesized and streamed to the output paced to real
// time. Caller speech during an interruptible playback is a barge-in: the
// chunk stream is abandoned and the synthesis result's cutoff resolver
// decides how much of the reply the caller actually heard. That prefix, not
// the full reply, is what enters the history.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/callcore/internal/observe"
	"github.com/MrWong99/callcore/internal/synth"
	"github.com/MrWong99/callcore/pkg/audio"
	"github.com/MrWong99/callcore/pkg/types"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerCaller Speaker = "caller"
	SpeakerAgent  Speaker = "agent"
)

// Turn is one entry of the conversation history.
type Turn struct {
	Speaker Speaker

	// Text is what the speaker said. For an interrupted agent turn it is the
	// part of the reply that was played before the barge-in.
	Text string

	// Interrupted is set on agent turns cut short by caller speech.
	Interrupted bool
}

// TranscriptionSource delivers caller transcriptions. The channel is closed
// when the source ends. *transcriber.Session satisfies it.
type TranscriptionSource interface {
	Transcriptions() <-chan types.Transcription
}

// Synthesizer turns agent text into chunked audio. *synth.Engine satisfies it.
type Synthesizer interface {
	CreateSpeech(ctx context.Context, msg synth.Message, chunkSize int, sentiment *types.BotSentiment) (*synth.Result, error)
	Format() audio.Format
}

// Responder decides what the agent says next. history ends with the caller
// turn that triggered the call. Implementations must honour ctx.
type Responder interface {
	Respond(ctx context.Context, history []Turn) (string, error)
}

// SentimentSource classifies the emotional colouring of the next reply.
// A nil sentiment means neutral.
type SentimentSource interface {
	Sentiment(ctx context.Context, transcript string) (*types.BotSentiment, error)
}

// Output plays audio chunks in order. *twilio.Output satisfies it.
type Output interface {
	Play(ctx context.Context, chunk []byte) error
}

// clearer is implemented by outputs that buffer audio and can discard what
// has not been played yet.
type clearer interface {
	Clear(ctx context.Context) error
}

// Config tunes a Loop.
type Config struct {
	// ChunkDuration is the playback length of one reply chunk.
	// Defaults to 200 ms.
	ChunkDuration time.Duration
}

const defaultChunkDuration = 200 * time.Millisecond

// Deps are the collaborators of a Loop. Sentiment and Fillers are optional.
type Deps struct {
	Source      TranscriptionSource
	Synthesizer Synthesizer
	Responder   Responder
	Output      Output
	Sentiment   SentimentSource
	Fillers     []*synth.FillerAudio
	Metrics     *observe.Metrics
}

// Loop runs the turn taking of one call.
type Loop struct {
	cfg       Config
	deps      Deps
	chunkSize int
	metrics   *observe.Metrics

	// clock and sleep are replaced in tests.
	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	fillerIdx int

	mu      sync.Mutex
	history []Turn
	turn    *turn
}

// turn is one in-flight agent turn.
type turn struct {
	cancel        context.CancelFunc
	done          chan struct{}
	interruptible atomic.Bool
	bargedIn      atomic.Bool
}

// New validates deps and creates a Loop.
func New(cfg Config, deps Deps) (*Loop, error) {
	var errs []error
	if deps.Source == nil {
		errs = append(errs, errors.New("source is required"))
	}
	if deps.Synthesizer == nil {
		errs = append(errs, errors.New("synthesizer is required"))
	}
	if deps.Responder == nil {
		errs = append(errs, errors.New("responder is required"))
	}
	if deps.Output == nil {
		errs = append(errs, errors.New("output is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = defaultChunkDuration
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}

	bps := audio.BytesPerSecond(deps.Synthesizer.Format())
	size := int(int64(bps) * int64(cfg.ChunkDuration) / int64(time.Second))
	if frame := deps.Synthesizer.Format().Encoding.BytesPerSample(); frame > 0 {
		size -= size % frame
	}
	if size <= 0 {
		return nil, fmt.Errorf("conversation: chunk duration %v is too short", cfg.ChunkDuration)
	}

	return &Loop{
		cfg:       cfg,
		deps:      deps,
		chunkSize: size,
		metrics:   deps.Metrics,
		clock:     time.Now,
		sleep:     sleepCtx,
	}, nil
}

// History returns a copy of the turns so far.
func (l *Loop) History() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Turn, len(l.history))
	copy(out, l.history)
	return out
}

// Run consumes transcriptions until the source closes or ctx is cancelled.
// An agent turn still playing when the source closes is allowed to finish.
func (l *Loop) Run(ctx context.Context) error {
	src := l.deps.Source.Transcriptions()
	for {
		select {
		case <-ctx.Done():
			l.stopTurn()
			return ctx.Err()
		case tr, ok := <-src:
			if !ok {
				l.waitTurn()
				return nil
			}
			l.handle(ctx, tr)
		}
	}
}

func (l *Loop) handle(ctx context.Context, tr types.Transcription) {
	text := strings.TrimSpace(tr.Text)
	if !tr.IsFinal {
		if text != "" {
			l.bargeIn(ctx)
		}
		return
	}
	if text == "" {
		return
	}

	l.bargeIn(ctx)
	l.stopTurn()
	l.appendTurn(Turn{Speaker: SpeakerCaller, Text: text})
	l.startTurn(ctx, text)
}

// bargeIn interrupts the current playback if it may be interrupted.
func (l *Loop) bargeIn(ctx context.Context) {
	l.mu.Lock()
	t := l.turn
	l.mu.Unlock()
	if t == nil || !t.interruptible.Load() || !t.bargedIn.CompareAndSwap(false, true) {
		return
	}
	l.metrics.BargeIns.Add(ctx, 1)
	observe.Logger(ctx).Debug("conversation: barge-in")
	t.cancel()
	if c, ok := l.deps.Output.(clearer); ok {
		if err := c.Clear(ctx); err != nil {
			observe.Logger(ctx).Warn("conversation: clear output", "err", err)
		}
	}
}

// stopTurn cancels the in-flight turn and waits for it to wind down.
func (l *Loop) stopTurn() {
	l.mu.Lock()
	t := l.turn
	l.mu.Unlock()
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}

func (l *Loop) waitTurn() {
	l.mu.Lock()
	t := l.turn
	l.mu.Unlock()
	if t != nil {
		<-t.done
	}
}

func (l *Loop) startTurn(ctx context.Context, transcript string) {
	tctx, cancel := context.WithCancel(ctx)
	t := &turn{cancel: cancel, done: make(chan struct{})}
	history := l.History()
	filler := l.nextFiller()

	l.mu.Lock()
	l.turn = t
	l.mu.Unlock()

	go func() {
		defer close(t.done)
		defer cancel()
		defer func() {
			l.mu.Lock()
			if l.turn == t {
				l.turn = nil
			}
			l.mu.Unlock()
		}()
		l.runTurn(tctx, t, transcript, history, filler)
	}()
}

type reply struct {
	text string
	err  error
}

func (l *Loop) runTurn(ctx context.Context, t *turn, transcript string, history []Turn, filler *synth.FillerAudio) {
	log := observe.Logger(ctx)

	replies := make(chan reply, 1)
	go func() {
		text, err := l.deps.Responder.Respond(ctx, history)
		replies <- reply{text: text, err: err}
	}()

	if filler != nil {
		t.interruptible.Store(filler.Interruptible)
		if _, _, err := l.play(ctx, filler.SynthesisResult()); err != nil && ctx.Err() == nil {
			log.Warn("conversation: play filler", "err", err)
		}
	}

	var r reply
	select {
	case r = <-replies:
	case <-ctx.Done():
		return
	}
	if r.err != nil {
		if ctx.Err() == nil {
			log.Warn("conversation: responder failed", "err", r.err)
		}
		return
	}
	text := strings.TrimSpace(r.text)
	if text == "" {
		return
	}

	sentiment := l.sentiment(ctx, transcript)
	res, err := l.deps.Synthesizer.CreateSpeech(ctx, synth.Message{Text: text}, l.chunkSize, sentiment)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("conversation: synthesis failed", "err", err)
		}
		return
	}

	t.interruptible.Store(true)
	elapsed, completed, err := l.play(ctx, res)
	if err != nil && ctx.Err() == nil {
		log.Warn("conversation: playback failed", "err", err)
	}
	if completed {
		l.appendTurn(Turn{Speaker: SpeakerAgent, Text: text})
		return
	}
	spoken := res.MessageUpTo(elapsed)
	log.Debug("conversation: reply cut off",
		"elapsed", elapsed, "tier", res.Tier.String(), "spoken", spoken)
	l.appendTurn(Turn{Speaker: SpeakerAgent, Text: spoken, Interrupted: true})
}

// play streams res to the output, one chunk per chunk duration. It returns
// how much audio had been played and whether the stream ran to its end.
func (l *Loop) play(ctx context.Context, res *synth.Result) (elapsed time.Duration, completed bool, err error) {
	defer res.Chunks.Close()
	start := l.clock()
	var sent time.Duration

	played := func() time.Duration {
		return min(l.clock().Sub(start), sent, res.Duration)
	}

	for c := range res.Chunks.All() {
		if ctx.Err() != nil {
			return played(), false, nil
		}
		if err := l.deps.Output.Play(ctx, c.Data); err != nil {
			return played(), false, err
		}
		l.metrics.TTSChunks.Add(ctx, 1)
		sent += c.Duration
		// The last chunk is waited out too so a barge-in while it plays
		// still counts as an interruption.
		if err := l.sleep(ctx, start.Add(sent).Sub(l.clock())); err != nil {
			return played(), false, nil
		}
	}
	if ctx.Err() != nil {
		return played(), false, nil
	}
	return res.Duration, true, nil
}

func (l *Loop) sentiment(ctx context.Context, transcript string) *types.BotSentiment {
	if l.deps.Sentiment == nil {
		return nil
	}
	s, err := l.deps.Sentiment.Sentiment(ctx, transcript)
	if err != nil {
		observe.Logger(ctx).Debug("conversation: sentiment unavailable", "err", err)
		return nil
	}
	return s
}

// nextFiller rotates through the configured fillers.
func (l *Loop) nextFiller() *synth.FillerAudio {
	if len(l.deps.Fillers) == 0 {
		return nil
	}
	f := l.deps.Fillers[l.fillerIdx%len(l.deps.Fillers)]
	l.fillerIdx++
	return f
}

func (l *Loop) appendTurn(t Turn) {
	l.mu.Lock()
	l.history = append(l.history, t)
	l.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
