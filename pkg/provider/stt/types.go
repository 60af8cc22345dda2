package stt

import (
	"strings"
	"time"
)

// Result is one recognition message from the backend.
type Result struct {
	// IsFinal reports that the backend will not revise this segment again.
	IsFinal bool

	// SpeechFinal is the backend's own end-of-speech signal.
	SpeechFinal bool

	// Start is the segment's offset from the beginning of the stream.
	Start time.Duration

	// Duration is the length of audio this message covers.
	Duration time.Duration

	// Transcript is the text of the top alternative. Empty for silence.
	Transcript string

	// Confidence of the top alternative in [0, 1].
	Confidence float64

	// Words carries word timings of the top alternative, when reported.
	Words []Word
}

// HasText reports whether the result carries non-whitespace text.
func (r Result) HasText() bool {
	return strings.TrimSpace(r.Transcript) != ""
}

// End returns Start + Duration.
func (r Result) End() time.Duration {
	return r.Start + r.Duration
}

// Word holds per-word timing, measured from the beginning of the stream.
type Word struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}
