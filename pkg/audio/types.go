// Package audio holds the audio primitives shared by the transcription and
// synthesis sides of a call: encodings, formats, frames and the pure
// conversion functions between PCM16, mu-law and WAV.
//
// Nothing in this package keeps state between calls. Audio format is always
// passed explicitly alongside the bytes; it is never sniffed from the data.
package audio

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Encoding identifies the sample encoding of a raw audio byte stream.
type Encoding int

const (
	// EncodingLinear16 is signed 16-bit little-endian PCM.
	EncodingLinear16 Encoding = iota

	// EncodingMulaw is 8-bit G.711 mu-law. Only valid at [MulawSampleRate].
	EncodingMulaw
)

// MulawSampleRate is the only sample rate at which mu-law audio is produced.
const MulawSampleRate = 8000

// ErrInvalidFormat is returned for encoding/rate/channel combinations that
// cannot be produced, e.g. mu-law at anything other than 8 kHz.
var ErrInvalidFormat = errors.New("audio: invalid format")

// String returns the configuration name of the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingLinear16:
		return "linear16"
	case EncodingMulaw:
		return "mulaw"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// BytesPerSample returns the number of bytes one mono sample occupies.
func (e Encoding) BytesPerSample() int {
	if e == EncodingMulaw {
		return 1
	}
	return 2
}

// ParseEncoding parses a configuration name ("linear16", "mulaw") into an
// [Encoding]. Matching is case-insensitive; "pcm16" and "ulaw" are accepted
// as aliases.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear16", "pcm16", "pcm":
		return EncodingLinear16, nil
	case "mulaw", "ulaw", "mu-law":
		return EncodingMulaw, nil
	default:
		return 0, fmt.Errorf("%w: unknown encoding %q", ErrInvalidFormat, s)
	}
}

// Format describes raw audio bytes: encoding, sample rate and channel count.
type Format struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
}

// Mono returns a single-channel format with the given encoding and rate.
func Mono(enc Encoding, rate int) Format {
	return Format{Encoding: enc, SampleRate: rate, Channels: 1}
}

// Validate reports whether the format can be produced. Mu-law is only valid
// at 8 kHz.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidFormat, f.SampleRate)
	}
	if f.Channels != 0 && f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("%w: unsupported channel count %d", ErrInvalidFormat, f.Channels)
	}
	switch f.Encoding {
	case EncodingLinear16:
	case EncodingMulaw:
		if f.SampleRate != MulawSampleRate {
			return fmt.Errorf("%w: mulaw requires %d Hz, got %d", ErrInvalidFormat, MulawSampleRate, f.SampleRate)
		}
		if f.channels() != 1 {
			return fmt.Errorf("%w: mulaw must be mono", ErrInvalidFormat)
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidFormat, f.Encoding)
	}
	return nil
}

// String returns a compact description such as "linear16/16000Hz/mono".
func (f Format) String() string {
	return f.Encoding.String() + "/" + formatString(f.SampleRate, f.channels())
}

func (f Format) channels() int {
	if f.Channels <= 0 {
		return 1
	}
	return f.Channels
}

// AudioFrame is one unit of raw caller or agent audio together with the
// format it was produced in.
type AudioFrame struct {
	// Data holds the raw samples in Format.
	Data []byte

	// Format of Data. Producers must always set it.
	Format Format

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	return Duration(len(f.Data), f.Format)
}
