package tts

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/callcore/pkg/audio"
	"github.com/MrWong99/callcore/pkg/types"
)

// VoiceProfile describes the voice a backend should speak with.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g. "en-US-AriaNeural" or
	// an ElevenLabs voice id).
	ID string

	// Language is the BCP-47 language tag of the voice (e.g. "en-US").
	Language string

	// Pitch adjusts pitch relative to the voice default, in percent.
	Pitch int

	// Rate adjusts speaking rate relative to the voice default, in percent.
	Rate int

	// Metadata holds provider-specific voice attributes (model, stability, ...).
	Metadata map[string]string
}

// Identity returns a deterministic string covering every field that changes
// the synthesized audio. It is used for cache fingerprints.
func (v VoiceProfile) Identity() string {
	parts := []string{v.ID, v.Language, strconv.Itoa(v.Pitch), strconv.Itoa(v.Rate)}
	for _, k := range slices.Sorted(maps.Keys(v.Metadata)) {
		parts = append(parts, k+"="+v.Metadata[k])
	}
	return strings.Join(parts, "|")
}

// Request is one synthesis round trip.
type Request struct {
	// Text is the plain message text. It is always set, also when SSML is.
	Text string

	// SSML is the markup to synthesize. It is only set for backends whose
	// Capabilities report SSML support; those backends must prefer it over Text.
	SSML string

	// Voice selects the voice and prosody.
	Voice VoiceProfile

	// Format is the desired output format.
	Format audio.Format

	// Sentiment optionally biases expressiveness for backends that support it
	// outside of markup (e.g. a style setting).
	Sentiment *types.BotSentiment
}

// Input returns the string the backend synthesizes: SSML when set, Text
// otherwise. BoundaryEvent text offsets index into this string.
func (r Request) Input() string {
	if r.SSML != "" {
		return r.SSML
	}
	return r.Text
}

// BoundaryEvent correlates a position in the synthesized input with the audio
// time at which it is spoken.
type BoundaryEvent struct {
	// Text is the word or mark the event belongs to.
	Text string

	// TextOffset is the byte offset into Result.Input at which the event's word
	// or mark starts.
	TextOffset int

	// AudioOffset is the time from the start of the audio at which the event
	// starts.
	AudioOffset time.Duration
}

// Result is the outcome of a successful synthesis round trip.
type Result struct {
	// Audio is the raw audio without container headers.
	Audio []byte

	// Format describes Audio.
	Format audio.Format

	// Input is the exact string that was synthesized (Request.Input()).
	Input string

	// Events are boundary events in no particular order. Nil for backends
	// without timing support.
	Events []BoundaryEvent
}

// CutoffTier names how much of a message can be attributed to a span of
// played audio.
type CutoffTier int

const (
	// TierTotalLength estimates the spoken prefix proportionally from the
	// message length and the total audio duration.
	TierTotalLength CutoffTier = iota

	// TierSpeakingRate estimates the spoken prefix from a words-per-minute rate.
	TierSpeakingRate

	// TierTimingMarks resolves the spoken prefix from reported boundary events.
	TierTimingMarks
)

// String returns the configuration name of the tier.
func (t CutoffTier) String() string {
	switch t {
	case TierTotalLength:
		return "total_length"
	case TierSpeakingRate:
		return "speaking_rate"
	case TierTimingMarks:
		return "timing_marks"
	default:
		return "CutoffTier(" + strconv.Itoa(int(t)) + ")"
	}
}

// Exact reports whether the tier is derived from backend timing rather than an
// estimate.
func (t CutoffTier) Exact() bool { return t == TierTimingMarks }

// Capabilities is the capability tag of a backend.
type Capabilities struct {
	// SSML reports that Request.SSML is honoured.
	SSML bool

	// Marks reports that <mark/> elements in the SSML produce BoundaryEvents.
	Marks bool

	// StandardProsody reports that the backend reads SSML prosody the W3C way:
	// an unsigned rate percentage is the speed relative to the default, so
	// "100%" is unchanged.
	StandardProsody bool

	// StyleScale is the upper bound of the backend's style intensity scale used
	// for sentiment markup. Zero disables sentiment styling in markup.
	StyleScale float64

	// Tier is the cutoff tier the backend's results support.
	Tier CutoffTier
}
