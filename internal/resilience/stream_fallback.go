package resilience

import (
	"context"

	"github.com/MrWong99/callcore/pkg/provider/stt"
)

// StreamFallback is an [stt.Provider] that opens each stream on the first
// healthy recognition backend. Only connection setup fails over; a stream
// that breaks later is reopened by the transcription session, which again
// starts at the primary.
type StreamFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*StreamFallback)(nil)

// NewStreamFallback creates a StreamFallback preferring primary.
func NewStreamFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *StreamFallback {
	return &StreamFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another recognition backend.
func (f *StreamFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// StartStream dials the first backend that accepts the stream.
func (f *StreamFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p stt.Provider) (stt.Stream, error) {
		return p.StartStream(ctx, cfg)
	})
}

// Healthy returns nil while at least one backend's circuit admits calls.
func (f *StreamFallback) Healthy() error { return f.group.Healthy() }
