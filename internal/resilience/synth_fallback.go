package resilience

import (
	"context"

	"github.com/MrWong99/callcore/pkg/provider/tts"
)

// SynthFallback is a [tts.Backend] that synthesizes on the first healthy
// backend of a chain.
//
// Requests are built against the primary's capabilities. A fallback without
// SSML support receives the request with its markup removed and synthesizes
// the plain text instead. Results carry the events of the backend that served
// them, so a plain fallback yields no boundary events and the caller falls
// back to an estimated cutoff.
type SynthFallback struct {
	name  string
	group *FallbackGroup[tts.Backend]
}

var _ tts.Backend = (*SynthFallback)(nil)

// NewSynthFallback creates a SynthFallback preferring primary. The fallback
// reports the primary's name.
func NewSynthFallback(primary tts.Backend, cfg FallbackConfig) *SynthFallback {
	return &SynthFallback{
		name:  primary.Name(),
		group: NewFallbackGroup(primary, primary.Name(), cfg),
	}
}

// AddFallback registers another synthesis backend.
func (f *SynthFallback) AddFallback(b tts.Backend) {
	f.group.AddFallback(b.Name(), b)
}

// Name returns the primary backend's name.
func (f *SynthFallback) Name() string { return f.name }

// Capabilities returns the primary backend's capabilities.
func (f *SynthFallback) Capabilities() tts.Capabilities {
	return f.group.Primary().Capabilities()
}

// Synthesize runs req on the first backend that succeeds.
func (f *SynthFallback) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, b tts.Backend) (*tts.Result, error) {
		r := req
		if r.SSML != "" && !b.Capabilities().SSML {
			r.SSML = ""
		}
		return b.Synthesize(ctx, r)
	})
}

// Healthy returns nil while at least one backend's circuit admits calls.
func (f *SynthFallback) Healthy() error { return f.group.Healthy() }
