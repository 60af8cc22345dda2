package synth

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/jdkato/prose/tokenize"

	"github.com/MrWong99/callcore/pkg/provider/tts"
)

// DefaultWordsPerMinute is the speaking rate assumed by the speaking-rate
// cutoff estimate.
const DefaultWordsPerMinute = 150

// cutoffFunc maps played audio time to the spoken prefix of a message. It must
// be pure.
type cutoffFunc func(elapsed time.Duration) string

// timingCutoff resolves the spoken prefix from boundary events. input is the
// string the event offsets index into; markup reports whether it carries tags
// that must be stripped. When no event starts after elapsed, the whole message
// was spoken.
func timingCutoff(message, input string, markup bool, events []tts.BoundaryEvent) cutoffFunc {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b tts.BoundaryEvent) int {
		return cmp.Compare(a.AudioOffset, b.AudioOffset)
	})
	return func(elapsed time.Duration) string {
		for _, ev := range sorted {
			if ev.AudioOffset <= elapsed {
				continue
			}
			prefix := input[:min(max(ev.TextOffset, 0), len(input))]
			if markup {
				return PlainText(prefix)
			}
			return strings.TrimSpace(prefix)
		}
		return message
	}
}

// totalLengthCutoff estimates the spoken prefix by assuming every character
// of message takes the same share of total. The boundary may fall inside a
// word.
func totalLengthCutoff(message string, total time.Duration) cutoffFunc {
	runes := []rune(message)
	return func(elapsed time.Duration) string {
		if total <= 0 || elapsed >= total {
			return message
		}
		if elapsed <= 0 {
			return ""
		}
		n := int(float64(len(runes)) * float64(elapsed) / float64(total))
		return string(runes[:min(n, len(runes))])
	}
}

// speakingRateCutoff estimates the spoken prefix from a fixed speaking rate:
// floor(wpm/60 * seconds) treebank tokens are kept and joined back into text.
// Punctuation counts as a token, so the estimate runs slightly short on
// punctuated text.
func speakingRateCutoff(message string, wordsPerMinute int) cutoffFunc {
	tokens := tokenize.NewTreebankWordTokenizer().Tokenize(message)
	return func(elapsed time.Duration) string {
		n := int(math.Floor(float64(wordsPerMinute) / 60 * elapsed.Seconds()))
		return detokenize(tokens[:min(max(n, 0), len(tokens))])
	}
}

// noSpaceBefore lists tokens that attach to the preceding token.
var noSpaceBefore = map[string]bool{
	".": true, ",": true, "!": true, "?": true, ";": true, ":": true, "%": true,
	")": true, "]": true, "}": true, "...": true, "''": true,
}

// noSpaceAfter lists tokens that attach to the following token.
var noSpaceAfter = map[string]bool{
	"(": true, "[": true, "{": true, "$": true, "#": true, "``": true,
}

// detokenize reverses treebank tokenization closely enough for display.
func detokenize(tokens []string) string {
	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 && !noSpaceBefore[tok] && !noSpaceAfter[tokens[i-1]] && !isClitic(tok) {
			b.WriteByte(' ')
		}
		switch tok {
		case "``", "''":
			b.WriteByte('"')
		default:
			b.WriteString(tok)
		}
	}
	return b.String()
}

// isClitic reports whether tok is a contraction suffix split off by the
// treebank tokenizer ("n't", "'s", "'ll", ...).
func isClitic(tok string) bool {
	return (strings.HasPrefix(tok, "'") && tok != "''") || strings.EqualFold(tok, "n't")
}
