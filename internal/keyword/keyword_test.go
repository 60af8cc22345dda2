package keyword_test

import (
	"testing"

	"github.com/MrWong99/callcore/internal/keyword"
)

func TestCorrector_Correct(t *testing.T) {
	t.Parallel()
	c := keyword.New([]string{"Callcore", "  "})

	tests := []struct {
		name string
		in   string
		want string
		n    int
	}{
		{"split name", "I called cal core support.", "I called Callcore support.", 1},
		{"keeps punctuation", "Is it cal core?", "Is it Callcore?", 1},
		{"already correct", "callcore is great", "callcore is great", 0},
		{"unrelated", "hello there how are you", "hello there how are you", 0},
		{"empty", "", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, corrections := c.Correct(tt.in)
			if got != tt.want {
				t.Errorf("Correct(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if len(corrections) != tt.n {
				t.Errorf("corrections = %+v, want %d", corrections, tt.n)
			}
		})
	}
}

func TestCorrector_CorrectionDetails(t *testing.T) {
	t.Parallel()
	c := keyword.New([]string{"Callcore"})
	_, corrections := c.Correct("cal core")
	if len(corrections) != 1 {
		t.Fatalf("corrections = %+v", corrections)
	}
	got := corrections[0]
	if got.Original != "cal core" || got.Corrected != "Callcore" {
		t.Errorf("correction = %+v", got)
	}
	if !got.Phonetic {
		t.Error("expected a phonetic match")
	}
	if got.Confidence < 0.9 || got.Confidence > 1 {
		t.Errorf("confidence = %f", got.Confidence)
	}
}

func TestCorrector_Match(t *testing.T) {
	t.Parallel()
	c := keyword.New([]string{"Callcore"})

	if kw, conf, ok := c.Match("CALLCORE"); !ok || kw != "Callcore" || conf < 0.99 {
		t.Errorf("Match(CALLCORE) = %q, %f, %v", kw, conf, ok)
	}
	// Too short to stand for the keyword.
	if kw, conf, ok := c.Match("cal"); ok || kw != "cal" || conf != 0 {
		t.Errorf("Match(cal) = %q, %f, %v", kw, conf, ok)
	}
}

func TestCorrector_NoKeywords(t *testing.T) {
	t.Parallel()
	c := keyword.New(nil)
	if got := c.CorrectText("cal core"); got != "cal core" {
		t.Errorf("CorrectText = %q", got)
	}
	if _, _, ok := c.Match("anything"); ok {
		t.Error("Match succeeded without keywords")
	}
}

func TestCorrector_Thresholds(t *testing.T) {
	t.Parallel()
	strict := keyword.New([]string{"Callcore"}, keyword.WithPhoneticThreshold(1.01), keyword.WithFuzzyThreshold(1.01))
	if got := strict.CorrectText("cal core"); got != "cal core" {
		t.Errorf("CorrectText with unreachable thresholds = %q", got)
	}
}
