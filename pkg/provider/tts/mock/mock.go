// Package mock provides a test double for the tts.Backend interface.
//
// Use Backend to return controlled audio and boundary events to the synthesis
// engine and to verify the requests it builds.
//
// Example:
//
//	b := &mock.Backend{
//	    Caps:   tts.Capabilities{SSML: true, Tier: tts.TierTimingMarks},
//	    Result: &tts.Result{Audio: pcm, Format: audio.Mono(audio.EncodingLinear16, 16000)},
//	}
//	res, _ := b.Synthesize(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callcore/pkg/provider/tts"
)

var _ tts.Backend = (*Backend)(nil)

// Backend is a mock implementation of tts.Backend.
type Backend struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// BackendName is returned by Name. Defaults to "mock".
	BackendName string

	// Caps is returned by Capabilities.
	Caps tts.Capabilities

	// Result is returned by Synthesize when SynthesizeFunc is nil. Input is
	// filled from the request when left empty.
	Result *tts.Result

	// Err, if non-nil, is returned by Synthesize instead of Result.
	Err error

	// SynthesizeFunc, if set, computes the response for each request.
	SynthesizeFunc func(ctx context.Context, req tts.Request) (*tts.Result, error)

	// --- Recorded calls ---

	// Requests holds every request passed to Synthesize.
	Requests []tts.Request
}

// Name implements tts.Backend.
func (b *Backend) Name() string {
	if b.BackendName == "" {
		return "mock"
	}
	return b.BackendName
}

// Capabilities implements tts.Backend.
func (b *Backend) Capabilities() tts.Capabilities { return b.Caps }

// Synthesize implements tts.Backend.
func (b *Backend) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	b.mu.Lock()
	b.Requests = append(b.Requests, req)
	fn, res, err := b.SynthesizeFunc, b.Result, b.Err
	b.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &tts.Result{Format: req.Format, Input: req.Input()}, nil
	}
	out := *res
	if out.Input == "" {
		out.Input = req.Input()
	}
	return &out, nil
}

// CallCount returns the number of Synthesize calls so far.
func (b *Backend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Requests)
}

// LastRequest returns the most recent request, or the zero value when
// Synthesize was never called.
func (b *Backend) LastRequest() tts.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Requests) == 0 {
		return tts.Request{}
	}
	return b.Requests[len(b.Requests)-1]
}
