// Package deepgram implements stt.Provider on top of the Deepgram streaming
// websocket API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/callcore/pkg/audio"
	"github.com/MrWong99/callcore/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultLanguage  = "en-US"

	// closeStreamMessage is Deepgram's end-of-stream control message.
	closeStreamMessage = `{"type":"CloseStream"}`
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the default model (e.g. "nova-2-phonecall"). A model set in
// stt.StreamConfig takes precedence.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithTier sets the default model tier.
func WithTier(tier string) Option {
	return func(p *Provider) { p.tier = tier }
}

// WithLanguage sets the default BCP-47 language.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithBaseURL overrides the websocket endpoint. Used by tests and for
// self-hosted deployments.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.endpoint = u }
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	tier     string
	language string
}

var _ stt.Provider = (*Provider)(nil)

// New creates a Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials Deepgram with the query parameters derived from cfg.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	// Results for long utterances with many words exceed the 32 KiB default.
	conn.SetReadLimit(1 << 20)
	return &stream{conn: conn}, nil
}

// buildURL constructs the streaming endpoint URL for cfg.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	var encoding string
	switch cfg.Encoding {
	case audio.EncodingLinear16:
		encoding = "linear16"
	case audio.EncodingMulaw:
		encoding = "mulaw"
	default:
		return "", fmt.Errorf("unsupported encoding %s", cfg.Encoding)
	}
	if cfg.SampleRate <= 0 {
		return "", fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}

	q := u.Query()
	q.Set("encoding", encoding)
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", strconv.Itoa(channels))
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	q.Set("language", firstNonEmpty(cfg.Language, p.language))
	if m := firstNonEmpty(cfg.Model, p.model); m != "" {
		q.Set("model", m)
	}
	if t := firstNonEmpty(cfg.Tier, p.tier); t != "" {
		q.Set("tier", t)
	}
	if cfg.Version != "" {
		q.Set("version", cfg.Version)
	}
	if cfg.Punctuate {
		q.Set("punctuate", "true")
	}
	for _, kw := range cfg.Keywords {
		if kw.Boost != 0 {
			q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
		} else {
			q.Add("keywords", kw.Keyword)
		}
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// ---- stream ----

// deepgramResponse is the JSON structure of a Deepgram streaming message.
// IsFinal is a pointer so that messages without the field can be told apart.
type deepgramResponse struct {
	Type        string   `json:"type"`
	IsFinal     *bool    `json:"is_final"`
	SpeechFinal bool     `json:"speech_final"`
	Start       float64  `json:"start"`
	Duration    *float64 `json:"duration"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// messageKind classifies a decoded Deepgram message.
type messageKind int

const (
	kindResult messageKind = iota
	kindEnd
	kindIgnore
)

// stream is one live Deepgram connection. It implements stt.Stream.
type stream struct {
	conn *websocket.Conn
	once sync.Once
}

var _ stt.Stream = (*stream)(nil)

// SendAudio writes one binary audio frame.
func (s *stream) SendAudio(ctx context.Context, frame []byte) error {
	if err := s.conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return fmt.Errorf("deepgram: send audio: %w", err)
	}
	return nil
}

// CloseSend asks Deepgram to flush and close the stream.
func (s *stream) CloseSend(ctx context.Context) error {
	if err := s.conn.Write(ctx, websocket.MessageText, []byte(closeStreamMessage)); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", err)
	}
	return nil
}

// Recv returns the next transcription result, skipping informational
// messages. A Metadata message, which Deepgram sends last, or a normal
// websocket closure ends the stream with io.EOF.
func (s *stream) Recv(ctx context.Context) (stt.Result, error) {
	for {
		typ, msg, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return stt.Result{}, io.EOF
			}
			return stt.Result{}, fmt.Errorf("deepgram: read: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		res, kind, err := parseResponse(msg)
		if err != nil {
			return stt.Result{}, err
		}
		switch kind {
		case kindResult:
			return res, nil
		case kindEnd:
			return stt.Result{}, io.EOF
		}
	}
}

// Close tears the connection down without a close handshake.
func (s *stream) Close() error {
	s.once.Do(func() {
		_ = s.conn.CloseNow()
	})
	return nil
}

// parseResponse decodes a raw Deepgram message.
func parseResponse(data []byte) (stt.Result, messageKind, error) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Result{}, kindIgnore, fmt.Errorf("%w: %v", stt.ErrMalformedMessage, err)
	}
	switch resp.Type {
	case "Metadata":
		return stt.Result{}, kindEnd, nil
	case "Results", "":
	default:
		// SpeechStarted, UtteranceEnd and other informational events.
		return stt.Result{}, kindIgnore, nil
	}
	if resp.IsFinal == nil || resp.Duration == nil {
		return stt.Result{}, kindIgnore, fmt.Errorf("%w: result without is_final or duration", stt.ErrMalformedMessage)
	}

	res := stt.Result{
		IsFinal:     *resp.IsFinal,
		SpeechFinal: resp.SpeechFinal,
		Start:       seconds(resp.Start),
		Duration:    seconds(*resp.Duration),
	}
	if len(resp.Channel.Alternatives) == 0 {
		return res, kindResult, nil
	}
	alt := resp.Channel.Alternatives[0]
	res.Transcript = alt.Transcript
	res.Confidence = alt.Confidence
	if len(alt.Words) > 0 {
		res.Words = make([]stt.Word, 0, len(alt.Words))
		for _, w := range alt.Words {
			res.Words = append(res.Words, stt.Word{
				Word:       w.Word,
				Start:      seconds(w.Start),
				End:        seconds(w.End),
				Confidence: w.Confidence,
			})
		}
	}
	return res, kindResult, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
