package synth

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/callcore/pkg/provider/tts"
)

func TestTimingCutoff(t *testing.T) {
	t.Parallel()
	message := "Hello there friend"
	// Deliberately unsorted.
	events := []tts.BoundaryEvent{
		{Text: "Hello there friend", TextOffset: 12, AudioOffset: 900 * time.Millisecond},
		{Text: "Hello", TextOffset: 0, AudioOffset: 100 * time.Millisecond},
		{Text: "Hello there", TextOffset: 6, AudioOffset: 400 * time.Millisecond},
	}
	cutoff := timingCutoff(message, message, false, events)

	tests := []struct {
		elapsed time.Duration
		want    string
	}{
		{50 * time.Millisecond, ""},
		{100 * time.Millisecond, "Hello"},
		{250 * time.Millisecond, "Hello"},
		{500 * time.Millisecond, "Hello there"},
		{900 * time.Millisecond, message},
		{2 * time.Second, message},
	}
	for _, tt := range tests {
		if got := cutoff(tt.elapsed); got != tt.want {
			t.Errorf("cutoff(%v) = %q, want %q", tt.elapsed, got, tt.want)
		}
	}

	if a, b := cutoff(500*time.Millisecond), cutoff(500*time.Millisecond); a != b {
		t.Errorf("cutoff is not idempotent: %q vs %q", a, b)
	}
	if events[0].TextOffset != 12 {
		t.Error("timingCutoff must not reorder the caller's events")
	}
}

func TestTimingCutoff_Markup(t *testing.T) {
	t.Parallel()
	input := `<speak><prosody rate="15%">Hello<mark name="0" />, there<mark name="1" />. Bye</prosody></speak>`
	events := []tts.BoundaryEvent{
		{Text: "0", TextOffset: strings.Index(input, `<mark name="0"`), AudioOffset: 300 * time.Millisecond},
		{Text: "1", TextOffset: strings.Index(input, `<mark name="1"`), AudioOffset: 700 * time.Millisecond},
	}
	cutoff := timingCutoff("Hello, there. Bye", input, true, events)

	if got := cutoff(500 * time.Millisecond); got != "Hello, there" {
		t.Errorf("cutoff(500ms) = %q, want %q", got, "Hello, there")
	}
	if got := cutoff(100 * time.Millisecond); got != "Hello" {
		t.Errorf("cutoff(100ms) = %q, want %q", got, "Hello")
	}
	if got := cutoff(time.Second); got != "Hello, there. Bye" {
		t.Errorf("cutoff(1s) = %q, want full message", got)
	}
}

func TestTimingCutoff_OffsetOutOfRange(t *testing.T) {
	t.Parallel()
	cutoff := timingCutoff("abc", "abc", false, []tts.BoundaryEvent{{TextOffset: 99, AudioOffset: time.Second}})
	if got := cutoff(0); got != "abc" {
		t.Errorf("got %q, want clamped prefix %q", got, "abc")
	}
}

func TestTotalLengthCutoff(t *testing.T) {
	t.Parallel()
	cutoff := totalLengthCutoff("abcdefghij", time.Second)
	tests := []struct {
		elapsed time.Duration
		want    string
	}{
		{0, ""},
		{100 * time.Millisecond, "a"},
		{500 * time.Millisecond, "abcde"},
		{999 * time.Millisecond, "abcdefghi"},
		{time.Second, "abcdefghij"},
		{5 * time.Second, "abcdefghij"},
	}
	for _, tt := range tests {
		if got := cutoff(tt.elapsed); got != tt.want {
			t.Errorf("cutoff(%v) = %q, want %q", tt.elapsed, got, tt.want)
		}
	}

	if got := totalLengthCutoff("héllo", 0)(time.Second); got != "héllo" {
		t.Errorf("zero-length audio: got %q, want whole message", got)
	}
	if got := totalLengthCutoff("héllo", time.Second)(400 * time.Millisecond); got != "hé" {
		t.Errorf("multi-byte prefix = %q, want %q", got, "hé")
	}
}

func TestSpeakingRateCutoff(t *testing.T) {
	t.Parallel()
	// 60 words per minute is one token per second.
	cutoff := speakingRateCutoff("Well, I think so", 60)
	tests := []struct {
		elapsed time.Duration
		want    string
	}{
		{0, ""},
		{999 * time.Millisecond, ""},
		{time.Second, "Well"},
		{2500 * time.Millisecond, "Well,"},
		{3 * time.Second, "Well, I"},
		{time.Minute, "Well, I think so"},
	}
	for _, tt := range tests {
		if got := cutoff(tt.elapsed); got != tt.want {
			t.Errorf("cutoff(%v) = %q, want %q", tt.elapsed, got, tt.want)
		}
	}
}

func TestDetokenize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		tokens []string
		want   string
	}{
		{[]string{"I", "do", "n't", "know", ",", "right", "?"}, "I don't know, right?"},
		{[]string{"It", "'s", "(", "almost", ")", "done", "."}, "It's (almost) done."},
		{[]string{"He", "said", "``", "hi", "''"}, `He said "hi"`},
		{[]string{"$", "5", "off"}, "$5 off"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := detokenize(tt.tokens); got != tt.want {
			t.Errorf("detokenize(%q) = %q, want %q", tt.tokens, got, tt.want)
		}
	}
}
