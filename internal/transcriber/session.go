// Package transcriber turns a live caller audio feed into transcription
// events. A Session owns one streaming connection to a recognition backend
// at a time, reconnecting with exponential backoff when it drops, and runs
// an endpointing policy to decide where caller utterances end.
//
// Each connection attempt runs three duties concurrently: warm-up primes the
// backend with quiet noise before readiness is signalled, the sender drains
// the outbound frame queue and the receiver applies endpointing to backend
// results. Interim transcriptions are emitted in receipt order; a final
// transcription closes the utterance and resets the silence accumulator.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callcore/internal/observe"
	"github.com/MrWong99/callcore/pkg/audio"
	"github.com/MrWong99/callcore/pkg/provider/stt"
	"github.com/MrWong99/callcore/pkg/types"
)

// Default session parameters.
const (
	defaultMaxRestarts    = 5
	defaultBackoff        = 250 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultSendTimeout    = 5 * time.Second
	defaultWarmupDuration = time.Second
	defaultWarmupDelay    = 5 * time.Second
	defaultQueueSize      = 1024
	defaultOutputBuffer   = 64
	defaultProviderName   = "stt"
)

var (
	// ErrTerminated is returned by SendAudio after Terminate.
	ErrTerminated = errors.New("transcriber: session terminated")

	// ErrQueueFull is returned by SendAudio when the outbound queue has no
	// room. The frame is dropped.
	ErrQueueFull = errors.New("transcriber: audio queue full")

	// ErrRetriesExhausted is returned by Run when the connection failed more
	// often than the configured ceiling allows.
	ErrRetriesExhausted = errors.New("transcriber: connection retries exhausted")

	// errStreamEnded marks a connection the backend closed on its own.
	errStreamEnded = errors.New("transcriber: stream ended")
)

// Config configures a [Session].
type Config struct {
	// Format is the encoding and sample rate sent to the backend. Mu-law
	// requires 8 kHz.
	Format audio.Format

	// InputSampleRate is the native rate of frames passed to SendAudio. When
	// it differs from Format.SampleRate and Format is linear16, frames are
	// resampled before they are queued. Zero means Format.SampleRate.
	InputSampleRate int

	// ChunkSize is the byte size of warm-up frames. Defaults to 20 ms of
	// audio in Format.
	ChunkSize int

	// Endpointing decides where utterances end. Immutable for the session.
	Endpointing EndpointingPolicy

	// Language, Model, Tier and Version are passed through to the backend.
	Language string
	Model    string
	Tier     string
	Version  string

	// Keywords boosts recognition of domain terms.
	Keywords []types.KeywordBoost

	// MinConfidence is the confidence a transcript must exceed to count as
	// recognized speech. Defaults to 0.
	MinConfidence float64

	// DisableWarmup skips the warm-up frames and delay; the session becomes
	// ready as soon as the first connection is open.
	DisableWarmup bool

	// WarmupDuration is the length of synthetic noise sent on each new
	// connection. Defaults to 1s.
	WarmupDuration time.Duration

	// WarmupDelay is how long to wait after the warm-up frames before results
	// are trusted. Defaults to 5s.
	WarmupDelay time.Duration

	// SendTimeout bounds how long the sender waits for a new frame before it
	// closes the stream, and how long a closing stream may take to drain.
	// Defaults to 5s.
	SendTimeout time.Duration

	// MaxRestarts is the maximum number of connection attempts. Defaults to 5.
	MaxRestarts int

	// Backoff is the initial wait between attempts. Doubles each attempt up
	// to MaxBackoff. Defaults to 250ms and 5s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// QueueSize is the capacity of the outbound frame queue. Defaults to 1024.
	QueueSize int

	// ProviderName labels metrics and logs. Defaults to "stt".
	ProviderName string
}

// Option is a functional option for [New].
type Option func(*Session)

// WithMetrics records session metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// TextCorrector rewrites final transcript text, for example to repair
// misheard domain terms.
type TextCorrector interface {
	CorrectText(text string) string
}

// WithCorrector applies c to every final transcription before it is
// emitted. Interim transcriptions are passed through unchanged.
func WithCorrector(c TextCorrector) Option {
	return func(s *Session) { s.corrector = c }
}

// Session is one caller's transcription session. SendAudio has a single
// producer; Transcriptions has a single consumer. Terminate and Ready are
// safe for concurrent use.
type Session struct {
	provider stt.Provider
	cfg      Config
	metrics  *observe.Metrics
	warmup   [][]byte

	corrector TextCorrector

	// resampler converts linear16 input to the backend rate; nil when the
	// rates match.
	resampleMu sync.Mutex
	resampler  *audio.Resampler

	queue chan []byte
	out   chan types.Transcription

	ended         atomic.Bool
	terminated    chan struct{}
	terminateOnce sync.Once

	warmedUp  atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once

	running atomic.Bool
	done    chan struct{}
}

// New validates cfg and returns an idle session. An unknown endpointing
// policy or an invalid format is a configuration error.
func New(provider stt.Provider, cfg Config, opts ...Option) (*Session, error) {
	if provider == nil {
		return nil, errors.New("transcriber: provider must not be nil")
	}
	if cfg.Format.Channels == 0 {
		cfg.Format.Channels = 1
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, fmt.Errorf("transcriber: %w", err)
	}
	if err := cfg.Endpointing.Validate(); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	s := &Session{
		provider:   provider,
		cfg:        cfg,
		metrics:    observe.DefaultMetrics(),
		queue:      make(chan []byte, cfg.QueueSize),
		out:        make(chan types.Transcription, defaultOutputBuffer),
		terminated: make(chan struct{}),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if cfg.Format.Encoding == audio.EncodingLinear16 && cfg.InputSampleRate != cfg.Format.SampleRate {
		s.resampler = audio.NewResampler(cfg.InputSampleRate, cfg.Format.SampleRate)
	}
	if !cfg.DisableWarmup {
		s.warmup = warmupChunks(cfg.Format, cfg.WarmupDuration.Seconds(), cfg.ChunkSize)
	}
	return s, nil
}

func applyDefaults(cfg *Config) {
	if cfg.InputSampleRate <= 0 {
		cfg.InputSampleRate = cfg.Format.SampleRate
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = max(1, audio.BytesPerSecond(cfg.Format)/50)
	}
	if cfg.WarmupDuration <= 0 {
		cfg.WarmupDuration = defaultWarmupDuration
	}
	if cfg.WarmupDelay <= 0 {
		cfg.WarmupDelay = defaultWarmupDelay
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = defaultMaxRestarts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = defaultProviderName
	}
}

// Transcriptions returns the stream of interim and final transcriptions. It
// is closed when Run returns. The consumer must keep reading; a stalled
// consumer stalls the receiver.
func (s *Session) Transcriptions() <-chan types.Transcription { return s.out }

// Done is closed when Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// SendAudio queues one caller frame without blocking. Frames sent before the
// connection is ready are buffered. Linear16 frames are resampled to the
// backend rate when the input rate differs; consecutive frames are treated
// as one continuous stream.
func (s *Session) SendAudio(frame []byte) error {
	if s.ended.Load() {
		return ErrTerminated
	}
	if s.resampler != nil {
		s.resampleMu.Lock()
		frame = s.resampler.Process(frame)
		s.resampleMu.Unlock()
		if len(frame) == 0 {
			return nil
		}
	}
	select {
	case s.queue <- frame:
		return nil
	default:
		s.metrics.DroppedFrames.Add(context.Background(), 1)
		slog.Warn("transcriber: dropping caller frame, queue full", "queue_size", s.cfg.QueueSize)
		return ErrQueueFull
	}
}

// Ready blocks until the first warm-up completed and reports whether it
// succeeded. It returns false when Run ended before warm-up finished.
func (s *Session) Ready(ctx context.Context) (bool, error) {
	select {
	case <-s.ready:
		return true, nil
	case <-s.done:
		select {
		case <-s.ready:
			return true, nil
		default:
			return false, nil
		}
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Terminate stops the session gracefully: queued frames are flushed, the
// backend is asked to close, and the receiver drains remaining results for
// at most SendTimeout. SendAudio returns ErrTerminated afterwards.
func (s *Session) Terminate() {
	s.terminateOnce.Do(func() {
		s.ended.Store(true)
		close(s.terminated)
	})
}

// Run connects and keeps the session connected until Terminate is called,
// ctx is cancelled or the retry ceiling is hit. It returns nil after a
// graceful termination and wraps ErrRetriesExhausted when the ceiling is hit.
// Run must be called exactly once.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("transcriber: Run called more than once")
	}
	defer close(s.done)
	defer close(s.out)

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	backoff := s.cfg.Backoff
	for attempt := 1; ; attempt++ {
		if s.ended.Load() {
			return nil
		}
		err := s.connect(ctx, attempt)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.ended.Load() {
			if err != nil && !errors.Is(err, errStreamEnded) {
				slog.Debug("transcriber: connection error while terminating", "err", err)
			}
			return nil
		}
		if attempt >= s.cfg.MaxRestarts {
			slog.Error("transcriber: giving up on recognition backend",
				"provider", s.cfg.ProviderName,
				"attempts", attempt,
				"err", err,
			)
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}

		slog.Warn("transcriber: connection lost, reconnecting",
			"provider", s.cfg.ProviderName,
			"attempt", attempt,
			"max_restarts", s.cfg.MaxRestarts,
			"backoff", backoff,
			"err", err,
		)
		s.metrics.RecordReconnect(ctx, s.cfg.ProviderName)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.terminated:
			timer.Stop()
			return nil
		case <-timer.C:
		}
		backoff = min(backoff*2, s.cfg.MaxBackoff)
	}
}

// connect runs one connection attempt until the stream ends.
func (s *Session) connect(ctx context.Context, attempt int) (err error) {
	ctx, span := observe.StartSpan(ctx, "transcriber.connect",
		trace.WithAttributes(
			attribute.String("provider", s.cfg.ProviderName),
			attribute.Int("attempt", attempt),
		),
	)
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	stream, err := s.provider.StartStream(ctx, s.streamConfig())
	observe.ObserveSince(ctx, s.metrics.STTConnectDuration, start, observe.Attr("provider", s.cfg.ProviderName))
	if err != nil {
		s.metrics.RecordProviderError(ctx, s.cfg.ProviderName, "stt")
		return fmt.Errorf("transcriber: connect: %w", err)
	}
	defer stream.Close()
	observe.Logger(ctx).Debug("transcriber: connected", "attempt", attempt)

	warmupSent := make(chan struct{})
	recvDone := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.runWarmup(gctx, stream, warmupSent) })
	g.Go(func() error { return s.runSender(gctx, stream, warmupSent, recvDone) })
	g.Go(func() error {
		defer close(recvDone)
		return s.runReceiver(gctx, stream)
	})
	return g.Wait()
}

func (s *Session) streamConfig() stt.StreamConfig {
	return stt.StreamConfig{
		Encoding:       s.cfg.Format.Encoding,
		SampleRate:     s.cfg.Format.SampleRate,
		Channels:       1,
		Language:       s.cfg.Language,
		Model:          s.cfg.Model,
		Tier:           s.cfg.Tier,
		Version:        s.cfg.Version,
		InterimResults: true,
		Punctuate:      s.cfg.Endpointing.Kind == EndpointingPunctuation,
		Keywords:       s.cfg.Keywords,
	}
}

// runWarmup primes a fresh connection, then flips readiness once the delay
// has passed. The sender waits for warmupSent so warm-up frames go first.
func (s *Session) runWarmup(ctx context.Context, stream stt.Stream, warmupSent chan<- struct{}) error {
	release := sync.OnceFunc(func() { close(warmupSent) })
	defer release()

	if s.cfg.DisableWarmup {
		release()
		s.markReady()
		return nil
	}
	for _, chunk := range s.warmup {
		if err := stream.SendAudio(ctx, chunk); err != nil {
			return fmt.Errorf("transcriber: send warm-up: %w", err)
		}
	}
	release()

	timer := time.NewTimer(s.cfg.WarmupDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}
	s.markReady()
	return nil
}

func (s *Session) markReady() {
	s.warmedUp.Store(true)
	s.readyOnce.Do(func() { close(s.ready) })
}

// runSender forwards queued frames until the session is terminated, the
// queue stays empty for SendTimeout, or the stream fails.
func (s *Session) runSender(ctx context.Context, stream stt.Stream, warmupSent <-chan struct{}, recvDone <-chan struct{}) error {
	select {
	case <-warmupSent:
	case <-ctx.Done():
		return nil
	}

	idle := time.NewTimer(s.cfg.SendTimeout)
	defer idle.Stop()
	for {
		select {
		case frame := <-s.queue:
			if err := stream.SendAudio(ctx, frame); err != nil {
				return fmt.Errorf("transcriber: send audio: %w", err)
			}
			idle.Reset(s.cfg.SendTimeout)
		case <-s.terminated:
			if err := s.flush(ctx, stream); err != nil {
				return err
			}
			return s.closeStream(ctx, stream, recvDone)
		case <-idle.C:
			slog.Debug("transcriber: no caller audio within send timeout, closing stream",
				"timeout", s.cfg.SendTimeout)
			return s.closeStream(ctx, stream, recvDone)
		case <-ctx.Done():
			return nil
		}
	}
}

// flush sends every frame still queued at termination.
func (s *Session) flush(ctx context.Context, stream stt.Stream) error {
	for {
		select {
		case frame := <-s.queue:
			if err := stream.SendAudio(ctx, frame); err != nil {
				return fmt.Errorf("transcriber: flush audio: %w", err)
			}
		default:
			return nil
		}
	}
}

// closeStream sends the end-of-stream message and gives the receiver up to
// SendTimeout to drain before the connection is torn down.
func (s *Session) closeStream(ctx context.Context, stream stt.Stream, recvDone <-chan struct{}) error {
	if err := stream.CloseSend(ctx); err != nil {
		return fmt.Errorf("transcriber: close stream: %w", err)
	}
	timer := time.NewTimer(s.cfg.SendTimeout)
	defer timer.Stop()
	select {
	case <-recvDone:
	case <-ctx.Done():
	case <-timer.C:
		slog.Debug("transcriber: backend did not close in time, dropping connection")
		_ = stream.Close()
	}
	return nil
}

// runReceiver applies endpointing to every backend result until the stream
// ends. The utterance buffer and silence accumulator live for one connection.
func (s *Session) runReceiver(ctx context.Context, stream stt.Stream) error {
	var ep endpointer
	for {
		res, err := stream.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errStreamEnded
			}
			if errors.Is(err, stt.ErrMalformedMessage) {
				s.metrics.RecordProviderError(ctx, s.cfg.ProviderName, "malformed")
			}
			return fmt.Errorf("transcriber: receive: %w", err)
		}
		if t, ok := ep.observe(res, s.cfg.Endpointing, s.cfg.MinConfidence, s.warmedUp.Load()); ok {
			if t.IsFinal && s.corrector != nil {
				t.Text = s.corrector.CorrectText(t.Text)
			}
			select {
			case s.out <- t:
				s.metrics.RecordTranscription(ctx, t.IsFinal)
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// endpointer is the receiver's utterance state.
type endpointer struct {
	buffer     string
	timeSilent time.Duration
}

// observe folds one backend result into the utterance state and returns the
// transcription to emit, if any. Text is only trusted once warmedUp is set.
func (e *endpointer) observe(res stt.Result, policy EndpointingPolicy, minConfidence float64, warmedUp bool) (types.Transcription, bool) {
	speechFinal := policy.IsSpeechFinal(res, e.buffer, e.timeSilent)
	recognized := warmedUp && res.HasText() && res.Confidence > minConfidence
	if recognized && res.IsFinal {
		e.buffer = joinTranscript(e.buffer, res.Transcript)
	}

	switch {
	case speechFinal:
		text := e.buffer
		e.buffer, e.timeSilent = "", 0
		if text == "" {
			return types.Transcription{}, false
		}
		return types.Transcription{Text: text, Confidence: res.Confidence, IsFinal: true}, true
	case recognized:
		text := e.buffer
		if !res.IsFinal {
			text = joinTranscript(text, res.Transcript)
		}
		e.timeSilent = silenceAfter(res)
		return types.Transcription{Text: text, Confidence: res.Confidence}, true
	default:
		e.timeSilent += res.Duration
		return types.Transcription{}, false
	}
}

func joinTranscript(buffer, transcript string) string {
	transcript = strings.TrimSpace(transcript)
	if buffer == "" {
		return transcript
	}
	return buffer + " " + transcript
}
