// Package tts defines the Backend interface for speech-synthesis services.
//
// A backend turns one request (plain text or SSML plus voice parameters) into
// the complete synthesized audio of that request. Backends that can correlate
// text positions with audio time report BoundaryEvents alongside the audio;
// chunking, format conversion and cutoff resolution are left to the caller.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrEmptyText is returned by backends when a request carries neither text nor
// markup.
var ErrEmptyText = errors.New("tts: request has no text")

// Backend is the abstraction over any speech-synthesis service.
type Backend interface {
	// Name returns the stable backend identifier used in configuration, cache
	// fingerprints and metric attributes (e.g. "azure", "google").
	Name() string

	// Capabilities reports what the backend honours and which cutoff tier its
	// results support.
	Capabilities() Capabilities

	// Synthesize performs one synthesis round trip. It returns the full audio or
	// an error; partial audio is never returned. Result.Format describes the
	// audio actually produced, which may differ from Request.Format when the
	// service cannot produce the requested format natively.
	Synthesize(ctx context.Context, req Request) (*Result, error)
}
