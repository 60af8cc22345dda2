// Package keyword corrects recognition errors on domain terms in caller
// transcripts.
//
// Recognition backends accept keyword boosts but still mishear rare names,
// typically splitting them ("cal core" for "Callcore"). A [Corrector] scans a
// transcript with word windows and replaces a window by the keyword it most
// resembles:
//
//  1. Phonetic candidates: the Double Metaphone code of the window, spaces
//     removed, equals one of the keyword's codes. The candidate is accepted
//     when its Jaro-Winkler similarity reaches the phonetic threshold
//     (default 0.70).
//  2. Fuzzy fallback: without a phonetic candidate, plain Jaro-Winkler
//     similarity must reach the fuzzy threshold (default 0.92).
//
// Shorter windows are tried first, and a window is only compared with
// keywords of similar length, so ordinary words next to a keyword are never
// swallowed by it.
package keyword

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.92

	// minLengthRatio bounds the letters of a window relative to the
	// keyword, in both directions.
	minLengthRatio = 0.75
)

// Correction records one replaced window.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64

	// Phonetic is set when the keyword was selected by its phonetic code
	// rather than plain string similarity.
	Phonetic bool
}

// Option configures a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the Jaro-Winkler score a phonetic candidate
// needs. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the Jaro-Winkler score needed without a phonetic
// match. Default: 0.92.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = threshold }
}

type keyword struct {
	text   string
	lower  string
	concat string
	codes  [2]string
}

// Corrector is immutable after construction and safe for concurrent use.
type Corrector struct {
	keywords          []keyword
	maxWords          int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New prepares keywords for matching. Blank keywords are ignored.
func New(keywords []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	for _, k := range keywords {
		text := strings.TrimSpace(k)
		if text == "" {
			continue
		}
		lower := strings.ToLower(text)
		tokens := strings.Fields(lower)
		concat := strings.Join(tokens, "")
		c.keywords = append(c.keywords, keyword{
			text:   text,
			lower:  lower,
			concat: concat,
			codes:  codes(concat),
		})
		c.maxWords = max(c.maxWords, len(tokens))
	}
	return c
}

// Match returns the keyword phrase most resembles. When matched is false,
// corrected equals phrase and confidence is 0.
func (c *Corrector) Match(phrase string) (corrected string, confidence float64, matched bool) {
	k, score, _ := c.match(phrase)
	if k == nil {
		return phrase, 0, false
	}
	return k.text, score, true
}

func (c *Corrector) match(phrase string) (best *keyword, bestScore float64, bestPhonetic bool) {
	lower := strings.ToLower(strings.TrimSpace(phrase))
	if lower == "" {
		return nil, 0, false
	}
	concat := strings.Join(strings.Fields(lower), "")
	code := codes(concat)

	for i := range c.keywords {
		k := &c.keywords[i]
		if !similarLength(len(concat), len(k.concat)) {
			continue
		}
		score := matchr.JaroWinkler(lower, k.lower, false)
		if s := matchr.JaroWinkler(concat, k.concat, false); s > score {
			score = s
		}
		if sameCode(code, k.codes) {
			if score >= c.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = k, score, true
			}
		} else if !bestPhonetic && score >= c.fuzzyThreshold && score > bestScore {
			best, bestScore = k, score
		}
	}
	return best, bestScore, bestPhonetic
}

// Correct replaces misheard keywords in text. Punctuation around a replaced
// window is kept. Windows that already spell a keyword are left alone and
// not reported; text is returned unchanged when nothing was corrected.
func (c *Corrector) Correct(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || c.maxWords == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
	)
	// Recognizers split rare names, so windows may be one word longer than
	// the longest keyword.
	window := c.maxWords + 1
	for i := 0; i < len(tokens); {
		n, replacement, corr := c.matchAt(tokens[i:], window)
		if n == 0 {
			out = append(out, tokens[i])
			i++
			continue
		}
		out = append(out, replacement)
		if corr != nil {
			corrections = append(corrections, *corr)
		}
		i += n
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// CorrectText returns text with misheard keywords replaced.
func (c *Corrector) CorrectText(text string) string {
	out, _ := c.Correct(text)
	return out
}

// matchAt returns the number of leading tokens matched to a keyword, zero
// if none, and their replacement. corr is nil when the tokens already spell
// the keyword.
func (c *Corrector) matchAt(tokens []string, window int) (n int, replacement string, corr *Correction) {
	for n = 1; n <= min(window, len(tokens)); n++ {
		words := make([]string, 0, n)
		for _, t := range tokens[:n] {
			if w := strings.TrimFunc(t, isPunct); w != "" {
				words = append(words, w)
			}
		}
		phrase := strings.Join(words, " ")
		k, score, phonetic := c.match(phrase)
		if k == nil {
			continue
		}
		if strings.EqualFold(phrase, k.text) {
			return n, strings.Join(tokens[:n], " "), nil
		}
		lead, _ := splitPunct(tokens[0])
		_, trail := splitPunct(tokens[n-1])
		return n, lead + k.text + trail, &Correction{
			Original:   phrase,
			Corrected:  k.text,
			Confidence: score,
			Phonetic:   phonetic,
		}
	}
	return 0, "", nil
}

func similarLength(window, keyword int) bool {
	w, k := float64(window), float64(keyword)
	return w >= minLengthRatio*k && k >= minLengthRatio*w
}

// splitPunct returns the leading and trailing punctuation of token.
func splitPunct(token string) (lead, trail string) {
	core := strings.TrimFunc(token, isPunct)
	if core == "" {
		return token, ""
	}
	start := strings.Index(token, core)
	return token[:start], token[start+len(core):]
}

// isPunct reports sentence punctuation. Apostrophes and hyphens belong to
// words.
func isPunct(r rune) bool {
	return unicode.IsPunct(r) && r != '\'' && r != '-'
}

func codes(s string) [2]string {
	p, alt := matchr.DoubleMetaphone(s)
	return [2]string{p, alt}
}

func sameCode(a, b [2]string) bool {
	for _, x := range a {
		if x == "" {
			continue
		}
		if x == b[0] || x == b[1] {
			return true
		}
	}
	return false
}
