// Package types defines the cross-cutting data shared by the transcription,
// synthesis and conversation packages. Each package keeps its own domain
// types; only values that cross package boundaries live here.
package types

// Transcription is one recognized unit of caller speech. Interim results
// (IsFinal false) may be superseded; only the final transcription of an
// utterance is authoritative.
type Transcription struct {
	// Text is the recognized speech. For final transcriptions it is the whole
	// utterance accumulated since the previous final.
	Text string

	// Confidence is the backend's confidence score in [0, 1].
	Confidence float64

	// IsFinal reports whether the endpointing policy decided the utterance
	// ended with this transcription.
	IsFinal bool
}

// BotSentiment is an optional emotional colouring for the agent's next
// utterance, produced by an external classifier. Degree is only meaningful
// when Emotion is non-empty.
type BotSentiment struct {
	// Emotion names a speaking style, e.g. "cheerful" or "empathetic".
	Emotion string

	// Degree is the intensity in [0, 1].
	Degree float64
}

// HasEmotion reports whether s is non-nil and carries an emotion.
func (s *BotSentiment) HasEmotion() bool {
	return s != nil && s.Emotion != ""
}

// KeywordBoost biases recognition toward a domain-specific term.
type KeywordBoost struct {
	// Keyword is the word or phrase to boost.
	Keyword string

	// Boost is the intensity passed to the backend. Zero means the backend
	// default.
	Boost float64
}
