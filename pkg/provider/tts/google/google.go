// Package google implements tts.Backend on top of the Google Cloud
// Text-to-Speech REST API.
//
// SSML <mark/> elements are reported back as timepoints, which are turned into
// BoundaryEvents so results support the exact timing-mark cutoff tier.
package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/callcore/pkg/audio"
	"github.com/MrWong99/callcore/pkg/provider/tts"
)

const (
	defaultEndpoint = "https://texttospeech.googleapis.com/v1beta1/text:synthesize"
	defaultVoice    = "en-US-Neural2-I"
	defaultLanguage = "en-US"
	defaultRate     = 24000
	defaultTimeout  = 30 * time.Second
	telephonyEffect = "telephony-class-application"
)

// Option is a functional option for configuring the Google Provider.
type Option func(*Provider)

// WithEndpoint overrides the synthesis endpoint.
func WithEndpoint(u string) Option {
	return func(p *Provider) { p.endpoint = u }
}

// WithEffectsProfile sets the audio effects profiles applied to the output.
// Defaults to the telephony profile.
func WithEffectsProfile(ids ...string) Option {
	return func(p *Provider) { p.effects = ids }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements tts.Backend backed by Google Cloud Text-to-Speech.
type Provider struct {
	apiKey     string
	endpoint   string
	effects    []string
	httpClient *http.Client
}

var _ tts.Backend = (*Provider)(nil)

// New creates a Google Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("google: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		effects:    []string{telephonyEffect},
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements tts.Backend.
func (p *Provider) Name() string { return "google" }

// Capabilities implements tts.Backend.
func (p *Provider) Capabilities() tts.Capabilities {
	return tts.Capabilities{
		SSML:            true,
		Marks:           true,
		StandardProsody: true,
		Tier:            tts.TierTimingMarks,
	}
}

// ---- wire types ----

type synthesisInput struct {
	Text string `json:"text,omitempty"`
	SSML string `json:"ssml,omitempty"`
}

type voiceSelection struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name,omitempty"`
}

type audioConfig struct {
	AudioEncoding    string   `json:"audioEncoding"`
	SampleRateHertz  int      `json:"sampleRateHertz"`
	SpeakingRate     float64  `json:"speakingRate,omitempty"`
	Pitch            float64  `json:"pitch"`
	EffectsProfileID []string `json:"effectsProfileId,omitempty"`
}

type synthesizeRequest struct {
	Input              synthesisInput `json:"input"`
	Voice              voiceSelection `json:"voice"`
	AudioConfig        audioConfig    `json:"audioConfig"`
	EnableTimePointing []string       `json:"enableTimePointing,omitempty"`
}

type timepoint struct {
	MarkName    string  `json:"markName"`
	TimeSeconds float64 `json:"timeSeconds"`
}

type synthesizeResponse struct {
	AudioContent string      `json:"audioContent"`
	Timepoints   []timepoint `json:"timepoints"`
}

// Synthesize sends the request and decodes the returned LINEAR16 WAV.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	if strings.TrimSpace(req.Text) == "" && req.SSML == "" {
		return nil, tts.ErrEmptyText
	}

	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("google: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("google: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Goog-Api-Key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("google: POST synthesize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google: synthesize returned status %d", resp.StatusCode)
	}

	var sr synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("google: decode response: %w", err)
	}
	wav, err := base64.StdEncoding.DecodeString(sr.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("google: decode audio content: %w", err)
	}
	pcm, format, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("google: decode WAV: %w", err)
	}

	input := req.Input()
	return &tts.Result{
		Audio:  pcm,
		Format: format,
		Input:  input,
		Events: markEvents(input, sr.Timepoints),
	}, nil
}

// buildRequest translates req into the API request body. Prosody is left to
// the SSML when markup is present.
func (p *Provider) buildRequest(req tts.Request) synthesizeRequest {
	voice := voiceSelection{LanguageCode: req.Voice.Language, Name: req.Voice.ID}
	if voice.LanguageCode == "" {
		voice.LanguageCode = defaultLanguage
	}
	if voice.Name == "" {
		voice.Name = defaultVoice
	}

	rate := defaultRate
	if req.Format.Encoding == audio.EncodingLinear16 && req.Format.SampleRate > 0 {
		rate = req.Format.SampleRate
	}
	cfg := audioConfig{
		AudioEncoding:    "LINEAR16",
		SampleRateHertz:  rate,
		EffectsProfileID: p.effects,
	}

	out := synthesizeRequest{Voice: voice, AudioConfig: cfg}
	if req.SSML != "" {
		out.Input.SSML = req.SSML
		out.EnableTimePointing = []string{"SSML_MARK"}
	} else {
		out.Input.Text = req.Text
		out.AudioConfig.SpeakingRate = 1 + float64(req.Voice.Rate)/100
	}
	return out
}

// markEvents maps timepoints to the byte offsets of their <mark/> elements in
// input. Timepoints whose mark cannot be found are dropped.
func markEvents(input string, tps []timepoint) []tts.BoundaryEvent {
	if len(tps) == 0 {
		return nil
	}
	events := make([]tts.BoundaryEvent, 0, len(tps))
	for _, tp := range tps {
		idx := strings.Index(input, `<mark name="`+tp.MarkName+`"`)
		if idx < 0 {
			continue
		}
		events = append(events, tts.BoundaryEvent{
			Text:        tp.MarkName,
			TextOffset:  idx,
			AudioOffset: time.Duration(tp.TimeSeconds * float64(time.Second)),
		})
	}
	return events
}
