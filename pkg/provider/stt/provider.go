// Package stt defines the boundary to streaming speech-recognition backends.
//
// A Provider opens a raw bidirectional Stream: audio frames go out, recognition
// Results come back in receipt order. Streams carry no retry or endpointing
// logic of their own; the transcriber package owns reconnection, warm-up and
// utterance boundaries on top of this interface.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/callcore/pkg/audio"
	"github.com/MrWong99/callcore/pkg/types"
)

// ErrMalformedMessage is returned by [Stream.Recv] when the backend sent a
// message that cannot be interpreted. It ends the current stream only.
var ErrMalformedMessage = errors.New("stt: malformed backend message")

// StreamConfig describes the audio format and recognition hints for a stream.
type StreamConfig struct {
	// Encoding of the frames passed to SendAudio.
	Encoding audio.Encoding

	// SampleRate of the frames passed to SendAudio in Hz.
	SampleRate int

	// Channels is always 1 for telephony audio.
	Channels int

	// Language is a BCP-47 tag. Empty selects the provider default.
	Language string

	// Model, Tier and Version select the recognition model. Empty fields are
	// omitted from the request.
	Model   string
	Tier    string
	Version string

	// InterimResults asks for non-final results while the caller is speaking.
	InterimResults bool

	// Punctuate asks the backend to insert punctuation. Punctuation-based
	// endpointing depends on it.
	Punctuate bool

	// Keywords boosts recognition of domain terms.
	Keywords []types.KeywordBoost
}

// Stream is one open recognition connection. SendAudio and CloseSend may be
// called concurrently with Recv, but each of them must only be called from one
// goroutine at a time.
type Stream interface {
	// SendAudio forwards one raw audio frame in the configured format.
	SendAudio(ctx context.Context, frame []byte) error

	// CloseSend sends the end-of-stream control message. The backend flushes
	// its results and then closes, which Recv reports as io.EOF.
	CloseSend(ctx context.Context) error

	// Recv blocks for the next recognition result. It returns io.EOF once the
	// backend has closed the stream normally, an error wrapping
	// ErrMalformedMessage for undecodable messages, and any other error for
	// transport failures.
	Recv(ctx context.Context) (Result, error)

	// Close tears the connection down immediately. Safe to call more than once.
	Close() error
}

// Provider opens recognition streams. Implementations must be safe for
// concurrent use.
type Provider interface {
	// StartStream dials the backend. The returned Stream is ready for audio.
	StartStream(ctx context.Context, cfg StreamConfig) (Stream, error)
}
