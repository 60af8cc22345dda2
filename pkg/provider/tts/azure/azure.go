// Package azure implements tts.Backend on top of the Azure Speech REST API.
//
// Requests are sent as SSML, so voice, prosody and mstts:express-as styles are
// fully honoured. The REST API does not report word boundaries, so results
// support only the total-length cutoff estimate.
package azure

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/callcore/pkg/audio"
	"github.com/MrWong99/callcore/pkg/provider/tts"
)

const (
	endpointFmt    = "https://%s.tts.speech.microsoft.com/cognitiveservices/v1"
	defaultVoice   = "en-US-AriaNeural"
	defaultTimeout = 30 * time.Second

	// styleScale is the upper bound of Azure's styledegree attribute.
	styleScale = 2
)

// outputFormats maps supported linear16 sample rates to Azure output formats.
var outputFormats = map[int]string{
	8000:  "raw-8khz-16bit-mono-pcm",
	16000: "raw-16khz-16bit-mono-pcm",
	22050: "raw-22050hz-16bit-mono-pcm",
	24000: "raw-24khz-16bit-mono-pcm",
	44100: "raw-44100hz-16bit-mono-pcm",
	48000: "raw-48khz-16bit-mono-pcm",
}

const mulawOutputFormat = "raw-8khz-8bit-mono-mulaw"

// Option is a functional option for configuring the Azure Provider.
type Option func(*Provider)

// WithEndpoint overrides the synthesis endpoint derived from the region.
func WithEndpoint(u string) Option {
	return func(p *Provider) { p.endpoint = u }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements tts.Backend backed by Azure Speech.
type Provider struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

var _ tts.Backend = (*Provider)(nil)

// New creates an Azure Provider. apiKey and region must be non-empty.
func New(apiKey, region string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("azure: apiKey must not be empty")
	}
	if region == "" {
		return nil, errors.New("azure: region must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   fmt.Sprintf(endpointFmt, region),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements tts.Backend.
func (p *Provider) Name() string { return "azure" }

// Capabilities implements tts.Backend.
func (p *Provider) Capabilities() tts.Capabilities {
	return tts.Capabilities{
		SSML:       true,
		StyleScale: styleScale,
		Tier:       tts.TierTotalLength,
	}
}

// Synthesize posts the request SSML and returns the raw audio.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	if strings.TrimSpace(req.Text) == "" && req.SSML == "" {
		return nil, tts.ErrEmptyText
	}
	ssml := req.SSML
	if ssml == "" {
		ssml = plainSSML(req.Text, req.Voice)
	}
	outputFormat, format := selectOutputFormat(req.Format)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(ssml))
	if err != nil {
		return nil, fmt.Errorf("azure: create request: %w", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)
	httpReq.Header.Set("Content-Type", "application/ssml+xml")
	httpReq.Header.Set("X-Microsoft-OutputFormat", outputFormat)
	httpReq.Header.Set("User-Agent", "callcore")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("azure: POST synthesis: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("azure: synthesis returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("azure: read audio: %w", err)
	}
	return &tts.Result{Audio: data, Format: format, Input: ssml}, nil
}

// selectOutputFormat returns the Azure output format closest to want and the
// audio format it produces.
func selectOutputFormat(want audio.Format) (string, audio.Format) {
	if want.Encoding == audio.EncodingMulaw {
		return mulawOutputFormat, audio.Mono(audio.EncodingMulaw, audio.MulawSampleRate)
	}
	if name, ok := outputFormats[want.SampleRate]; ok {
		return name, audio.Mono(audio.EncodingLinear16, want.SampleRate)
	}
	return outputFormats[16000], audio.Mono(audio.EncodingLinear16, 16000)
}

// plainSSML wraps text in the minimal document Azure accepts.
func plainSSML(text string, voice tts.VoiceProfile) string {
	name := voice.ID
	if name == "" {
		name = defaultVoice
	}
	lang := voice.Language
	if lang == "" {
		lang = "en-US"
	}
	var body bytes.Buffer
	_ = xml.EscapeText(&body, []byte(strings.TrimSpace(text)))
	return fmt.Sprintf(`<speak version="1.0" xmlns="https://www.w3.org/2001/10/synthesis" xml:lang="%s"><voice name="%s">%s</voice></speak>`,
		lang, name, body.String())
}
