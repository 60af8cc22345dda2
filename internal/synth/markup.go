package synth

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/callcore/pkg/types"
)

var (
	// clauseBreak matches a run of clause-terminating punctuation.
	clauseBreak = regexp.MustCompile(`[.,:;\-\x{2014}]+`)

	markupTag = regexp.MustCompile(`<[^>]*>`)
)

// MarkupOptions configures BuildSSML.
type MarkupOptions struct {
	// VoiceName is the backend voice name for the <voice> element.
	VoiceName string

	// Language is the xml:lang of the document. Defaults to "en-US".
	Language string

	// Pitch and Rate are prosody adjustments in percent.
	Pitch int
	Rate  int

	// StandardProsody renders pitch as a signed relative change and rate as a
	// percentage of the default speed, as W3C SSML reads them. Otherwise both
	// are written as the bare adjustment.
	StandardProsody bool

	// StyleScale is the upper bound of the backend's style degree. A sentiment
	// degree in [0, 1] is multiplied by it. Zero disables express-as styling.
	StyleScale float64

	// Marks inserts a <mark/> before every clause-terminating punctuation run.
	Marks bool
}

// BuildSSML wraps text in a speak/voice document. The voice element is left out
// when no voice name is set so the backend default applies. A sentiment with
// an emotion adds an mstts:express-as element when the backend has a style
// scale, and the prosody element always carries the configured pitch and rate.
func BuildSSML(text string, opts MarkupOptions, sentiment *types.BotSentiment) string {
	lang := opts.Language
	if lang == "" {
		lang = "en-US"
	}

	var b strings.Builder
	b.WriteString(`<speak version="1.0" xmlns="https://www.w3.org/2001/10/synthesis" xmlns:mstts="https://www.w3.org/2001/mstts" xml:lang="`)
	b.WriteString(escape(lang))
	b.WriteString(`">`)
	voiced := opts.VoiceName != ""
	if voiced {
		fmt.Fprintf(&b, `<voice name="%s">`, escape(opts.VoiceName))
	}

	styled := sentiment.HasEmotion() && opts.StyleScale > 0
	if styled {
		degree := strconv.FormatFloat(sentiment.Degree*opts.StyleScale, 'f', -1, 64)
		fmt.Fprintf(&b, `<mstts:express-as style="%s" styledegree="%s">`, escape(sentiment.Emotion), degree)
	}

	if opts.StandardProsody {
		fmt.Fprintf(&b, `<prosody pitch="%+d%%" rate="%d%%">`, opts.Pitch, max(100+opts.Rate, 0))
	} else {
		fmt.Fprintf(&b, `<prosody pitch="%d%%" rate="%d%%">`, opts.Pitch, opts.Rate)
	}
	body := strings.TrimSpace(text)
	if opts.Marks {
		b.WriteString(addMarks(body, escape))
	} else {
		b.WriteString(escape(body))
	}
	b.WriteString(`</prosody>`)

	if styled {
		b.WriteString(`</mstts:express-as>`)
	}
	if voiced {
		b.WriteString(`</voice>`)
	}
	b.WriteString(`</speak>`)
	return b.String()
}

// AddMarks inserts a numbered <mark/> before each run of clause-terminating
// punctuation, scanning left to right. After each run the remainder loses one
// trailing punctuation character before it is scanned, so a final sentence
// terminator is dropped from the output.
func AddMarks(message string) string {
	return addMarks(message, func(s string) string { return s })
}

func addMarks(message string, esc func(string) string) string {
	var b strings.Builder
	for i := 0; ; i++ {
		loc := clauseBreak.FindStringIndex(message)
		if loc == nil {
			b.WriteString(esc(message))
			break
		}
		b.WriteString(esc(message[:loc[0]]))
		fmt.Fprintf(&b, `<mark name="%d" />`, i)
		b.WriteString(esc(message[loc[0]:loc[1]]))

		rest := trimTrailingBreak(message[loc[1]:])
		if rest == "" {
			break
		}
		message = rest
	}
	return b.String()
}

// trimTrailingBreak drops the final character of s when it is clause
// punctuation preceded by at least one character on the same line.
func trimTrailingBreak(s string) string {
	r, size := utf8.DecodeLastRuneInString(s)
	if !strings.ContainsRune(".,:;-\u2014", r) {
		return s
	}
	head := s[:len(s)-size]
	if head == "" || strings.Contains(head, "\n") {
		return s
	}
	return head
}

// PlainText strips markup tags from s, resolves entities and normalizes
// whitespace. Plain text passes through with whitespace normalized.
func PlainText(s string) string {
	s = markupTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
