package synth

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/MrWong99/callcore/pkg/types"
)

func TestAddMarks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no punctuation", "No punctuation here", "No punctuation here"},
		{"single clause", "Hello, world", `Hello<mark name="0" />, world`},
		{"final terminator dropped", "Hello, world. Bye.", `Hello<mark name="0" />, world<mark name="1" />. Bye`},
		{"punctuation run", "Wait...", `Wait<mark name="0" />...`},
		{"em dash", "One\u2014two", "One<mark name=\"0\" />\u2014two"},
		{"list", "a, b, c.", `a<mark name="0" />, b<mark name="1" />, c`},
		{"colon and semicolon", "First: this; then that", `First<mark name="0" />: this<mark name="1" />; then that`},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := AddMarks(tt.in); got != tt.want {
				t.Errorf("AddMarks(%q)\n got %q\nwant %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAddMarks_LongInput(t *testing.T) {
	t.Parallel()
	in := strings.Repeat("word, ", 20000)
	out := AddMarks(in)
	if n := strings.Count(out, "<mark "); n != 20000 {
		t.Errorf("got %d marks, want 20000", n)
	}
}

func TestBuildSSML(t *testing.T) {
	t.Parallel()
	opts := MarkupOptions{VoiceName: "en-US-AriaNeural", Rate: 15, StyleScale: 2}

	t.Run("with sentiment", func(t *testing.T) {
		t.Parallel()
		got := BuildSSML("  Hello & welcome ", opts, &types.BotSentiment{Emotion: "cheerful", Degree: 0.5})
		want := `<speak version="1.0" xmlns="https://www.w3.org/2001/10/synthesis" xmlns:mstts="https://www.w3.org/2001/mstts" xml:lang="en-US">` +
			`<voice name="en-US-AriaNeural"><mstts:express-as style="cheerful" styledegree="1">` +
			`<prosody pitch="0%" rate="15%">Hello &amp; welcome</prosody></mstts:express-as></voice></speak>`
		if got != want {
			t.Errorf("BuildSSML\n got %s\nwant %s", got, want)
		}
		assertWellFormed(t, got)
	})

	t.Run("without emotion", func(t *testing.T) {
		t.Parallel()
		got := BuildSSML("Hi", opts, &types.BotSentiment{Degree: 0.9})
		if strings.Contains(got, "express-as") {
			t.Errorf("unexpected style element in %s", got)
		}
		assertWellFormed(t, got)
	})

	t.Run("backend without styles", func(t *testing.T) {
		t.Parallel()
		got := BuildSSML("Hi", MarkupOptions{VoiceName: "v", Language: "de-DE", Pitch: -5}, &types.BotSentiment{Emotion: "sad", Degree: 1})
		if strings.Contains(got, "express-as") {
			t.Errorf("style scale 0 must disable styling: %s", got)
		}
		if !strings.Contains(got, `xml:lang="de-DE"`) || !strings.Contains(got, `pitch="-5%"`) {
			t.Errorf("language or pitch missing: %s", got)
		}
	})

	t.Run("standard prosody", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			pitch, rate int
			want        string
		}{
			{0, 0, `<prosody pitch="+0%" rate="100%">`},
			{-5, 20, `<prosody pitch="-5%" rate="120%">`},
			{3, -40, `<prosody pitch="+3%" rate="60%">`},
			{0, -150, `<prosody pitch="+0%" rate="0%">`},
		}
		for _, tt := range tests {
			got := BuildSSML("Hi", MarkupOptions{VoiceName: "v", Pitch: tt.pitch, Rate: tt.rate, StandardProsody: true}, nil)
			if !strings.Contains(got, tt.want) {
				t.Errorf("pitch %d rate %d: want %s in %s", tt.pitch, tt.rate, tt.want, got)
			}
			assertWellFormed(t, got)
		}
	})

	t.Run("empty voice name leaves the voice element out", func(t *testing.T) {
		t.Parallel()
		got := BuildSSML("Hi", MarkupOptions{}, nil)
		want := `<speak version="1.0" xmlns="https://www.w3.org/2001/10/synthesis" xmlns:mstts="https://www.w3.org/2001/mstts" xml:lang="en-US">` +
			`<prosody pitch="0%" rate="0%">Hi</prosody></speak>`
		if got != want {
			t.Errorf("BuildSSML\n got %s\nwant %s", got, want)
		}
		assertWellFormed(t, got)
	})

	t.Run("marks are inserted around escaped text", func(t *testing.T) {
		t.Parallel()
		got := BuildSSML("Fish & chips, please.", MarkupOptions{VoiceName: "v", Marks: true}, nil)
		if !strings.Contains(got, `>Fish &amp; chips<mark name="0" />, please</prosody>`) {
			t.Errorf("unexpected marked body: %s", got)
		}
		assertWellFormed(t, got)
	})
}

func TestPlainText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{`<speak><voice name="v"><prosody rate="15%">Hello<mark name="0" />, world</prosody></voice></speak>`, "Hello, world"},
		{"Fish &amp; chips", "Fish & chips"},
		{"  spaced \n out  ", "spaced out"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := PlainText(tt.in); got != tt.want {
			t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func assertWellFormed(t *testing.T, doc string) {
	t.Helper()
	dec := xml.NewDecoder(strings.NewReader(doc))
	for {
		_, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			t.Fatalf("malformed SSML %q: %v", doc, err)
		}
	}
}
