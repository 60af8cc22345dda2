package transcriber

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/callcore/pkg/provider/stt"
)

// ErrUnsupportedEndpointing is returned at construction for an endpointing
// policy the session does not know.
var ErrUnsupportedEndpointing = errors.New("transcriber: unsupported endpointing policy")

// EndpointingKind selects how the end of a caller utterance is detected.
type EndpointingKind int

const (
	// EndpointingNone ends an utterance exactly when the backend reports
	// final speech on a non-empty transcript.
	EndpointingNone EndpointingKind = iota

	// EndpointingTime ends an utterance once accumulated silence exceeds the
	// cutoff, regardless of the backend's own signal.
	EndpointingTime

	// EndpointingPunctuation ends an utterance when the backend reports final
	// speech on a transcript ending in a sentence terminator, or when the
	// time-based silence condition holds.
	EndpointingPunctuation
)

// DefaultTimeCutoff is the silence threshold used when a time or punctuation
// policy is configured without one.
const DefaultTimeCutoff = 400 * time.Millisecond

// sentenceTerminators are the characters that close a sentence for
// punctuation-based endpointing.
const sentenceTerminators = ".!?"

// String returns the configuration name of the kind.
func (k EndpointingKind) String() string {
	switch k {
	case EndpointingNone:
		return "none"
	case EndpointingTime:
		return "time_based"
	case EndpointingPunctuation:
		return "punctuation_based"
	default:
		return fmt.Sprintf("EndpointingKind(%d)", int(k))
	}
}

// EndpointingPolicy is the immutable endpointing configuration of a session.
type EndpointingPolicy struct {
	Kind EndpointingKind

	// TimeCutoff is the silence threshold for the time and punctuation
	// policies. Ignored by EndpointingNone.
	TimeCutoff time.Duration
}

// ParseEndpointing builds a policy from its configuration name. Accepted
// names are "", "none", "time_based" and "punctuation_based"; a zero cutoff
// selects [DefaultTimeCutoff].
func ParseEndpointing(name string, cutoff time.Duration) (EndpointingPolicy, error) {
	var kind EndpointingKind
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		kind = EndpointingNone
	case "time_based", "time":
		kind = EndpointingTime
	case "punctuation_based", "punctuation":
		kind = EndpointingPunctuation
	default:
		return EndpointingPolicy{}, fmt.Errorf("%w: %q", ErrUnsupportedEndpointing, name)
	}
	if cutoff <= 0 {
		cutoff = DefaultTimeCutoff
	}
	p := EndpointingPolicy{Kind: kind, TimeCutoff: cutoff}
	return p, p.Validate()
}

// Validate reports whether the policy can be evaluated.
func (p EndpointingPolicy) Validate() error {
	switch p.Kind {
	case EndpointingNone:
		return nil
	case EndpointingTime, EndpointingPunctuation:
		if p.TimeCutoff <= 0 {
			return fmt.Errorf("transcriber: %s endpointing needs a positive time cutoff", p.Kind)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedEndpointing, p.Kind)
	}
}

// IsSpeechFinal decides whether res closes the current utterance. buffer is
// the text accumulated so far and timeSilent the silence accumulated since
// the last recognized content.
//
// The punctuation policy also accepts the time-based condition. It reuses the
// same cutoff as the pure time policy, so a slow speaker pausing mid-sentence
// is cut off after TimeCutoff either way.
func (p EndpointingPolicy) IsSpeechFinal(res stt.Result, buffer string, timeSilent time.Duration) bool {
	switch p.Kind {
	case EndpointingNone:
		return res.HasText() && res.SpeechFinal
	case EndpointingTime:
		return p.silenceExceeded(res, buffer, timeSilent)
	case EndpointingPunctuation:
		if res.HasText() && res.SpeechFinal && endsSentence(res.Transcript) {
			return true
		}
		return p.silenceExceeded(res, buffer, timeSilent)
	default:
		return false
	}
}

// silenceExceeded holds when the message carries no new text, something has
// been said since the last final, and silence including this message's span
// is above the cutoff.
func (p EndpointingPolicy) silenceExceeded(res stt.Result, buffer string, timeSilent time.Duration) bool {
	return !res.HasText() && strings.TrimSpace(buffer) != "" && timeSilent+res.Duration > p.TimeCutoff
}

func endsSentence(transcript string) bool {
	t := strings.TrimSpace(transcript)
	return t != "" && strings.ContainsRune(sentenceTerminators, rune(t[len(t)-1]))
}

// silenceAfter returns how much trailing silence res carries: the distance
// from its last recognized word to the end of the segment, or its whole span
// when no word timings are reported.
func silenceAfter(res stt.Result) time.Duration {
	if len(res.Words) == 0 {
		return res.Duration
	}
	return max(0, res.End()-res.Words[len(res.Words)-1].End)
}
