// Package elevenlabs implements tts.Backend on top of the ElevenLabs
// with-timestamps synthesis endpoint.
//
// The endpoint returns a per-character alignment next to the audio, which is
// folded into one BoundaryEvent per word so results support the exact
// timing-mark cutoff tier.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/callcore/pkg/audio"
	"github.com/MrWong99/callcore/pkg/provider/tts"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	endpointFmt    = "%s/v1/text-to-speech/%s/with-timestamps?output_format=%s"
	defaultModel   = "eleven_flash_v2_5"
	defaultTimeout = 30 * time.Second

	defaultStability       = 0.5
	defaultSimilarityBoost = 0.75
)

// pcmRates lists the linear16 sample rates ElevenLabs can produce natively.
var pcmRates = map[int]bool{8000: true, 16000: true, 22050: true, 24000: true, 44100: true}

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5"). A
// "model" entry in the voice metadata takes precedence.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL overrides the API base URL. Used by tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements tts.Backend backed by ElevenLabs.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

var _ tts.Backend = (*Provider)(nil)

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements tts.Backend.
func (p *Provider) Name() string { return "elevenlabs" }

// Capabilities implements tts.Backend.
func (p *Provider) Capabilities() tts.Capabilities {
	return tts.Capabilities{Tier: tts.TierTimingMarks}
}

// ---- wire types ----

// synthesisRequest is the JSON body of a with-timestamps request.
type synthesisRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
}

// alignment is the per-character timing returned next to the audio.
type alignment struct {
	Characters          []string  `json:"characters"`
	CharacterStartTimes []float64 `json:"character_start_times_seconds"`
	CharacterEndTimes   []float64 `json:"character_end_times_seconds"`
}

// synthesisResponse is the JSON body returned by the with-timestamps endpoint.
type synthesisResponse struct {
	AudioBase64 string     `json:"audio_base64"`
	Alignment   *alignment `json:"alignment"`
}

// Synthesize requests audio plus character alignment for req.Text.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	if req.Voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, tts.ErrEmptyText
	}

	outputFormat, format := selectOutputFormat(req.Format)
	body, err := buildRequest(text, p.model, req)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf(endpointFmt, p.baseURL, req.Voice.ID, outputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: synthesis HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: synthesis: unexpected status %d", resp.StatusCode)
	}

	var sr synthesisResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("elevenlabs: synthesis decode: %w", err)
	}
	pcm, err := base64.StdEncoding.DecodeString(sr.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
	}

	res := &tts.Result{Audio: pcm, Format: format, Input: text}
	if sr.Alignment != nil {
		res.Input, res.Events = wordEvents(sr.Alignment)
	}
	return res, nil
}

// ---- helpers ----

// buildRequest constructs the JSON body for text. Sentiment degree maps onto
// the style setting.
func buildRequest(text, model string, req tts.Request) ([]byte, error) {
	vs := &voiceSettings{
		Stability:       metaFloat(req.Voice.Metadata, "stability", defaultStability),
		SimilarityBoost: metaFloat(req.Voice.Metadata, "similarity_boost", defaultSimilarityBoost),
	}
	if req.Sentiment.HasEmotion() {
		vs.Style = min(max(req.Sentiment.Degree, 0), 1)
	}
	if m := req.Voice.Metadata["model"]; m != "" {
		model = m
	}
	data, err := json.Marshal(synthesisRequest{Text: text, ModelID: model, VoiceSettings: vs})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}
	return data, nil
}

// selectOutputFormat returns the ElevenLabs output_format closest to want and
// the audio format it produces.
func selectOutputFormat(want audio.Format) (string, audio.Format) {
	if want.Encoding == audio.EncodingMulaw {
		return "ulaw_8000", audio.Mono(audio.EncodingMulaw, audio.MulawSampleRate)
	}
	if pcmRates[want.SampleRate] {
		return "pcm_" + strconv.Itoa(want.SampleRate), audio.Mono(audio.EncodingLinear16, want.SampleRate)
	}
	return "pcm_16000", audio.Mono(audio.EncodingLinear16, 16000)
}

// wordEvents folds the character alignment into one event per word. The
// returned input is the aligned text the event offsets index into.
func wordEvents(a *alignment) (string, []tts.BoundaryEvent) {
	n := min(len(a.Characters), len(a.CharacterStartTimes))
	var (
		sb     strings.Builder
		events []tts.BoundaryEvent
		inWord bool
	)
	for i := range n {
		c := a.Characters[i]
		space := strings.TrimFunc(c, unicode.IsSpace) == ""
		if !space && !inWord {
			events = append(events, tts.BoundaryEvent{
				TextOffset:  sb.Len(),
				AudioOffset: time.Duration(a.CharacterStartTimes[i] * float64(time.Second)),
			})
		}
		inWord = !space
		sb.WriteString(c)
	}
	input := sb.String()
	for i := range events {
		end := len(input)
		if i+1 < len(events) {
			end = events[i+1].TextOffset
		}
		events[i].Text = strings.TrimSpace(input[events[i].TextOffset:end])
	}
	return input, events
}

func metaFloat(meta map[string]string, key string, def float64) float64 {
	v, ok := meta[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
