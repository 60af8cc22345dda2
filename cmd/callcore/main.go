// Command callcore is the developer tool for the callcore voice core. It
// validates a configuration, pre-warms the filler cache, synthesizes a single
// message to a WAV file and can serve probe and metrics endpoints while
// watching the configuration for changes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callcore/internal/config"
	"github.com/MrWong99/callcore/internal/fillercache"
	"github.com/MrWong99/callcore/internal/health"
	"github.com/MrWong99/callcore/internal/keyword"
	"github.com/MrWong99/callcore/internal/observe"
	"github.com/MrWong99/callcore/internal/resilience"
	"github.com/MrWong99/callcore/internal/synth"
	"github.com/MrWong99/callcore/internal/transcriber"
	"github.com/MrWong99/callcore/pkg/audio"
	"github.com/MrWong99/callcore/pkg/provider/stt"
	"github.com/MrWong99/callcore/pkg/provider/stt/deepgram"
	"github.com/MrWong99/callcore/pkg/provider/tts"
	"github.com/MrWong99/callcore/pkg/provider/tts/azure"
	"github.com/MrWong99/callcore/pkg/provider/tts/coqui"
	"github.com/MrWong99/callcore/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/callcore/pkg/provider/tts/google"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

// options are the parsed command-line flags.
type options struct {
	configPath string
	say        string
	out        string
	prewarm    bool
	listen     string
	watch      time.Duration
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("callcore", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "callcore.yaml", "path to the YAML configuration file")
	fs.StringVar(&o.say, "say", "", "synthesize this message and write it to -out")
	fs.StringVar(&o.out, "out", "say.wav", "WAV file written by -say")
	fs.BoolVar(&o.prewarm, "prewarm-fillers", false, "synthesize all filler phrases into the cache")
	fs.StringVar(&o.listen, "listen", "", "serve /healthz, /readyz and /metrics on this address and watch the config")
	fs.DurationVar(&o.watch, "watch-interval", 5*time.Second, "config polling interval with -listen")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return o, nil
}

func run(args []string) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "callcore: %v\n", err)
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "callcore: config file %q not found, copy configs/example.yaml there to get started\n", opts.configPath)
		} else {
			fmt.Fprintf(os.Stderr, "callcore: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(os.Stderr, cfg.Server.LogFormat, level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		TraceSampleRatio:  cfg.Telemetry.TraceSampleRatio,
		DisablePrometheus: !cfg.Telemetry.Prometheus,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Components ────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	rec, err := buildRecognizer(cfg.Transcriber, reg, metrics)
	if err != nil {
		slog.Error("failed to build transcriber", "err", err)
		return 1
	}
	voice, err := buildVoice(cfg.Synthesizer, reg, metrics)
	if err != nil {
		slog.Error("failed to build synthesizer", "err", err)
		return 1
	}

	slog.Info("callcore configured",
		"config", opts.configPath,
		"stt", cfg.Transcriber.Provider.Name,
		"tts", cfg.Synthesizer.Provider.Name,
		"tier", voice.backend.Capabilities().Tier,
		"format", voice.engine.Format(),
		"typing_noise", len(voice.fillers) > 0,
	)

	// ── Commands ──────────────────────────────────────────────────────────────
	if opts.prewarm {
		if err := prewarm(ctx, voice.engine); err != nil {
			slog.Error("filler pre-warm failed", "err", err)
			return 1
		}
	}
	if opts.say != "" {
		if err := say(ctx, voice.engine, opts.say, opts.out); err != nil {
			slog.Error("synthesis failed", "err", err)
			return 1
		}
		slog.Info("message written", "path", opts.out)
	}
	if opts.listen != "" {
		if err := serve(ctx, opts, reg, metrics, level, rec, voice); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("serve error", "err", err)
			return 1
		}
	}
	return 0
}

// ── Component wiring ──────────────────────────────────────────────────────────

// voiceStack is the synthesis side of a call: the backend chain and the
// engine on top of it.
type voiceStack struct {
	backend *resilience.SynthFallback
	engine  *synth.Engine
	fillers []*synth.FillerAudio
}

// recognizer is the transcription side of a call. Each caller gets a fresh
// session on the shared provider chain.
type recognizer struct {
	chain  *resilience.StreamFallback
	config transcriber.Config
	opts   []transcriber.Option
}

// newSession starts nothing; the caller runs the returned session.
func (r *recognizer) newSession() (*transcriber.Session, error) {
	return transcriber.New(r.chain, r.config, r.opts...)
}

// buildRecognizer creates the recognition provider chain and checks that the
// section converts into a valid session config.
func buildRecognizer(sec config.TranscriberConfig, reg *config.Registry, metrics *observe.Metrics) (*recognizer, error) {
	primary, err := reg.CreateSTT(sec.Provider)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", sec.Provider.Name, err)
	}
	chain := resilience.NewStreamFallback(primary, sec.Provider.Name, resilience.FallbackConfig{})
	for _, fb := range sec.Fallbacks {
		p, err := reg.CreateSTT(fb)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
		}
		chain.AddFallback(fb.Name, p)
	}

	sc, err := sec.SessionConfig()
	if err != nil {
		return nil, err
	}
	r := &recognizer{
		chain:  chain,
		config: sc,
		opts:   []transcriber.Option{transcriber.WithMetrics(metrics)},
	}
	if sec.KeywordCorrection && len(sec.Keywords) > 0 {
		r.opts = append(r.opts, transcriber.WithCorrector(keyword.New(sec.KeywordTerms())))
	}
	if _, err := r.newSession(); err != nil {
		return nil, err
	}
	return r, nil
}

// buildVoice creates the synthesis backend chain and engine. The filler
// cache is opened when fillers are enabled.
func buildVoice(sec config.SynthesizerConfig, reg *config.Registry, metrics *observe.Metrics) (*voiceStack, error) {
	primary, err := reg.CreateTTS(sec.Provider)
	if err != nil {
		return nil, fmt.Errorf("create tts backend %q: %w", sec.Provider.Name, err)
	}
	chain := resilience.NewSynthFallback(primary, resilience.FallbackConfig{})
	for _, fb := range sec.Fallbacks {
		b, err := reg.CreateTTS(fb)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
		}
		chain.AddFallback(b)
	}

	ec, err := sec.EngineConfig()
	if err != nil {
		return nil, err
	}
	engineOpts := []synth.Option{synth.WithMetrics(metrics)}
	if sec.Fillers.Enabled {
		cache, err := fillercache.New(sec.Fillers.CacheDir, fillercache.WithMetrics(metrics))
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, synth.WithFillerCache(cache))
	}
	engine, err := synth.New(chain, ec, engineOpts...)
	if err != nil {
		return nil, err
	}

	vs := &voiceStack{backend: chain, engine: engine}
	if sec.Fillers.TypingNoise != "" {
		data, err := os.ReadFile(sec.Fillers.TypingNoise)
		if err != nil {
			return nil, fmt.Errorf("read typing noise: %w", err)
		}
		f, err := engine.TypingNoiseFillerAudio(data)
		if err != nil {
			return nil, err
		}
		vs.fillers = append(vs.fillers, f)
	}
	return vs, nil
}

// prewarm synthesizes every filler phrase that is not cached yet.
func prewarm(ctx context.Context, engine *synth.Engine) error {
	start := time.Now()
	fillers, err := engine.PhraseFillerAudios(ctx)
	if err != nil {
		return err
	}
	if len(fillers) == 0 {
		slog.Warn("fillers are disabled, nothing to pre-warm")
		return nil
	}
	var total time.Duration
	for _, f := range fillers {
		total += audio.Duration(len(f.Audio), f.Format)
	}
	slog.Info("filler cache warm",
		"phrases", len(fillers),
		"audio", total,
		"took", time.Since(start).Round(time.Millisecond))
	return nil
}

// say synthesizes text and writes it as a 16-bit WAV file.
func say(ctx context.Context, engine *synth.Engine, text, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := writeSpeech(ctx, engine, text, f); err != nil {
		return err
	}
	return f.Close()
}

// writeSpeech synthesizes text and encodes the audio as linear16 WAV at the
// engine's sample rate.
func writeSpeech(ctx context.Context, engine *synth.Engine, text string, ws io.WriteSeeker) error {
	format := engine.Format()
	res, err := engine.CreateSpeech(ctx, synth.Message{Text: text}, audio.BytesPerSecond(format), nil)
	if err != nil {
		return err
	}
	defer res.Chunks.Close()

	var raw []byte
	for chunk := range res.Chunks.All() {
		data := chunk.Data
		if pcm, _, err := audio.UnwrapWAV(data); err == nil {
			data = pcm
		}
		raw = append(raw, data...)
	}
	pcm, err := audio.Convert(raw, format, audio.Mono(audio.EncodingLinear16, format.SampleRate))
	if err != nil {
		return err
	}
	slog.Debug("synthesized message", "tier", res.Tier, "duration", res.Duration)
	return audio.WriteWAV(ws, pcm, format.SampleRate)
}

// ── Serve ─────────────────────────────────────────────────────────────────────

// serve exposes the probe endpoints until ctx ends. The configuration is
// reloaded when the file changes or on SIGHUP. A reload that changes the
// synthesizer rebuilds the voice stack; the readiness checks always see the
// current one.
func serve(ctx context.Context, opts options, reg *config.Registry, metrics *observe.Metrics, level *slog.LevelVar,
	rec *recognizer, voice *voiceStack) error {
	var current atomic.Pointer[voiceStack]
	current.Store(voice)

	onChange := func(_, next *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.TranscriberChanged {
			slog.Warn("transcriber settings changed, restart to apply")
		}
		if d.SynthesizerChanged || d.VoiceChanged || d.FillersChanged {
			vs, err := buildVoice(next.Synthesizer, reg, metrics)
			if err != nil {
				slog.Error("keeping previous synthesizer", "err", err)
				return
			}
			current.Store(vs)
			slog.Info("synthesizer rebuilt", "tts", next.Synthesizer.Provider.Name)
		}
	}
	watcher, err := config.NewWatcher(opts.configPath, onChange, config.WithInterval(opts.watch))
	if err != nil {
		return err
	}

	checks := []health.Checker{
		{Name: "transcriber", Check: func(context.Context) error { return rec.chain.Healthy() }},
		{Name: "synthesizer", Check: func(context.Context) error { return current.Load().backend.Healthy() }},
	}
	var hopts []health.Option
	if watcher.Current().Telemetry.Prometheus {
		hopts = append(hopts, health.WithMetrics())
	}
	mux := http.NewServeMux()
	health.New(checks, hopts...).Register(mux)
	srv := &http.Server{Addr: opts.listen, Handler: observe.Middleware(metrics)(mux), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("serving probes", "addr", opts.listen)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if err := watcher.Reload(); err != nil {
					slog.Warn("reload on SIGHUP failed, keeping previous configuration", "err", err)
				}
			}
		}
	})
	return g.Wait()
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in recognition and synthesis
// backends into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if tier := optString(entry.Options, "tier"); tier != "" {
			opts = append(opts, deepgram.WithTier(tier))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("azure", func(entry config.ProviderEntry) (tts.Backend, error) {
		var opts []azure.Option
		if entry.BaseURL != "" {
			opts = append(opts, azure.WithEndpoint(entry.BaseURL))
		}
		return azure.New(entry.APIKey, optString(entry.Options, "region"), opts...)
	})

	reg.RegisterTTS("google", func(entry config.ProviderEntry) (tts.Backend, error) {
		var opts []google.Option
		if entry.BaseURL != "" {
			opts = append(opts, google.WithEndpoint(entry.BaseURL))
		}
		if profile := optString(entry.Options, "effects_profile"); profile != "" {
			opts = append(opts, google.WithEffectsProfile(profile))
		}
		return google.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Backend, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Backend, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	slog.Debug("registered providers", "stt", reg.Names("stt"), "tts", reg.Names("tts"))
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, format string, level slog.Leveler) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
