package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/callcore/pkg/audio"
	"github.com/MrWong99/callcore/pkg/provider/tts"
	"github.com/MrWong99/callcore/pkg/types"
)

// ---- request construction ----

func TestBuildRequest_Defaults(t *testing.T) {
	data, err := buildRequest("Hello there", defaultModel, tts.Request{})
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}

	var msg synthesisRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Text != "Hello there" {
		t.Errorf("expected text 'Hello there', got %q", msg.Text)
	}
	if msg.ModelID != defaultModel {
		t.Errorf("expected model %q, got %q", defaultModel, msg.ModelID)
	}
	if msg.VoiceSettings == nil {
		t.Fatal("expected non-nil voice settings")
	}
	if msg.VoiceSettings.Stability != 0.5 {
		t.Errorf("expected stability 0.5, got %f", msg.VoiceSettings.Stability)
	}
	if msg.VoiceSettings.SimilarityBoost != 0.75 {
		t.Errorf("expected similarity_boost 0.75, got %f", msg.VoiceSettings.SimilarityBoost)
	}
	if msg.VoiceSettings.Style != 0 {
		t.Errorf("expected no style without sentiment, got %f", msg.VoiceSettings.Style)
	}
}

func TestBuildRequest_MetadataAndSentiment(t *testing.T) {
	data, err := buildRequest("Hi", defaultModel, tts.Request{
		Voice: tts.VoiceProfile{Metadata: map[string]string{
			"model":     "eleven_multilingual_v2",
			"stability": "0.3",
		}},
		Sentiment: &types.BotSentiment{Emotion: "cheerful", Degree: 1.7},
	})
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	var msg synthesisRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.ModelID != "eleven_multilingual_v2" {
		t.Errorf("model = %q", msg.ModelID)
	}
	if msg.VoiceSettings.Stability != 0.3 {
		t.Errorf("stability = %f, want 0.3", msg.VoiceSettings.Stability)
	}
	if msg.VoiceSettings.Style != 1 {
		t.Errorf("style = %f, want clamped 1", msg.VoiceSettings.Style)
	}
}

// ---- output format ----

func TestSelectOutputFormat(t *testing.T) {
	tests := []struct {
		in       audio.Format
		wantName string
		wantRate int
	}{
		{audio.Mono(audio.EncodingMulaw, 8000), "ulaw_8000", 8000},
		{audio.Mono(audio.EncodingLinear16, 24000), "pcm_24000", 24000},
		{audio.Mono(audio.EncodingLinear16, 48000), "pcm_16000", 16000},
	}
	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			name, f := selectOutputFormat(tt.in)
			if name != tt.wantName || f.SampleRate != tt.wantRate {
				t.Errorf("got %q/%d, want %q/%d", name, f.SampleRate, tt.wantName, tt.wantRate)
			}
		})
	}
}

// ---- alignment ----

func TestWordEvents(t *testing.T) {
	a := &alignment{
		Characters:          strings.Split("Hi you", ""),
		CharacterStartTimes: []float64{0.0, 0.1, 0.2, 0.3, 0.4, 0.5},
	}
	input, events := wordEvents(a)
	if input != "Hi you" {
		t.Fatalf("input = %q", input)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Text != "Hi" || events[0].TextOffset != 0 || events[0].AudioOffset != 0 {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].Text != "you" || events[1].TextOffset != 3 || events[1].AudioOffset != 300*time.Millisecond {
		t.Errorf("event 1 = %+v", events[1])
	}
}

// ---- round trip ----

func TestSynthesize(t *testing.T) {
	pcm := []byte{9, 8, 7, 6}
	var gotPath, gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("output_format")
		gotKey = r.Header.Get("xi-api-key")
		_ = json.NewEncoder(w).Encode(synthesisResponse{
			AudioBase64: base64.StdEncoding.EncodeToString(pcm),
			Alignment: &alignment{
				Characters:          []string{"O", "k"},
				CharacterStartTimes: []float64{0, 0.1},
			},
		})
	}))
	defer srv.Close()

	p, err := New("secret", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Synthesize(context.Background(), tts.Request{
		Text:   "Ok",
		Voice:  tts.VoiceProfile{ID: "voice-abc123"},
		Format: audio.Mono(audio.EncodingMulaw, 8000),
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotPath != "/v1/text-to-speech/voice-abc123/with-timestamps" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "ulaw_8000" {
		t.Errorf("output_format = %q", gotQuery)
	}
	if gotKey != "secret" {
		t.Errorf("xi-api-key = %q", gotKey)
	}
	if string(res.Audio) != string(pcm) {
		t.Errorf("audio = %v", res.Audio)
	}
	if res.Format.Encoding != audio.EncodingMulaw {
		t.Errorf("format = %v", res.Format)
	}
	if len(res.Events) != 1 || res.Events[0].Text != "Ok" {
		t.Errorf("events = %+v", res.Events)
	}
}

func TestSynthesize_Validation(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty apiKey")
	}
	p, _ := New("secret")
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "Hi"}); err == nil {
		t.Error("expected error for empty voice ID")
	}
	_, err := p.Synthesize(context.Background(), tts.Request{Text: " ", Voice: tts.VoiceProfile{ID: "v"}})
	if err != tts.ErrEmptyText {
		t.Errorf("got %v, want ErrEmptyText", err)
	}
}
