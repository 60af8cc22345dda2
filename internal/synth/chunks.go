package synth

import (
	"iter"
	"sync/atomic"
	"time"

	"github.com/MrWong99/callcore/pkg/audio"
)

// ChunkResult is one span of synthesized audio.
type ChunkResult struct {
	// Data is the audio, WAV-wrapped when the engine is configured to.
	Data []byte

	// IsLast is set on the final chunk of a stream and on no other.
	IsLast bool

	// Duration is the playback length of the audio in Data, not counting a
	// WAV header.
	Duration time.Duration
}

// ChunkStream is a finite, single-pass sequence of chunks. Next must be called
// from one goroutine; Close may be called from any goroutine at any time.
type ChunkStream struct {
	spans  [][]byte
	next   int
	format audio.Format
	wav    bool // wraps every chunk in a WAV header
	closed atomic.Bool
}

// newChunkStream splits data, audio in format f, into spans of size bytes.
// Empty audio yields a single empty last chunk so that every stream has
// exactly one last chunk.
func newChunkStream(data []byte, size int, f audio.Format, wav bool) *ChunkStream {
	spans := audio.Split(data, size)
	if len(spans) == 0 {
		spans = [][]byte{{}}
	}
	return &ChunkStream{spans: spans, format: f, wav: wav}
}

// Next returns the next chunk. ok is false once the last chunk was returned or
// the stream was closed.
func (s *ChunkStream) Next() (chunk ChunkResult, ok bool) {
	if s.closed.Load() || s.next >= len(s.spans) {
		return ChunkResult{}, false
	}
	span := s.spans[s.next]
	s.next++
	c := ChunkResult{
		Data:     span,
		IsLast:   s.next == len(s.spans),
		Duration: audio.Duration(len(span), s.format),
	}
	if s.wav {
		c.Data = audio.WrapWAV(span, s.format.SampleRate)
	}
	return c, true
}

// All returns an iterator over the remaining chunks.
func (s *ChunkStream) All() iter.Seq[ChunkResult] {
	return func(yield func(ChunkResult) bool) {
		for {
			c, ok := s.Next()
			if !ok || !yield(c) {
				return
			}
		}
	}
}

// Close abandons the stream. Subsequent Next calls report no more chunks.
func (s *ChunkStream) Close() {
	s.closed.Store(true)
}

// Len returns the total number of chunks in the stream.
func (s *ChunkStream) Len() int { return len(s.spans) }
