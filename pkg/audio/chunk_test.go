package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/callcore/pkg/audio"
)

func TestSplit(t *testing.T) {
	for _, tt := range []struct {
		length, size int
	}{
		{0, 10}, {1, 10}, {10, 10}, {11, 10}, {25, 10}, {100, 7}, {9, 0},
	} {
		data := make([]byte, tt.length)
		spans := audio.Split(data, tt.size)
		if tt.length == 0 {
			if len(spans) != 0 {
				t.Errorf("len=%d: expected no spans, got %d", tt.length, len(spans))
			}
			continue
		}
		size := tt.size
		if size <= 0 {
			size = tt.length
		}
		want := (tt.length + size - 1) / size
		if len(spans) != want {
			t.Errorf("len=%d size=%d: got %d spans, want %d", tt.length, tt.size, len(spans), want)
			continue
		}
		total := 0
		for i, s := range spans {
			if i < len(spans)-1 && len(s) != size {
				t.Errorf("len=%d size=%d: span %d has %d bytes", tt.length, tt.size, i, len(s))
			}
			total += len(s)
		}
		if total != tt.length {
			t.Errorf("len=%d size=%d: spans cover %d bytes", tt.length, tt.size, total)
		}
	}
}

func TestChunkSizePerSecond(t *testing.T) {
	if got := audio.ChunkSizePerSecond(audio.EncodingLinear16, 16000); got != 32000 {
		t.Errorf("linear16/16k = %d, want 32000", got)
	}
	if got := audio.ChunkSizePerSecond(audio.EncodingMulaw, 8000); got != 8000 {
		t.Errorf("mulaw/8k = %d, want 8000", got)
	}
}

func TestDuration(t *testing.T) {
	f := audio.Mono(audio.EncodingLinear16, 8000)
	if got := audio.Duration(16000, f); got != time.Second {
		t.Errorf("Duration = %v, want 1s", got)
	}
	frame := audio.AudioFrame{Data: make([]byte, 800), Format: audio.Mono(audio.EncodingMulaw, 8000)}
	if got := frame.Duration(); got != 100*time.Millisecond {
		t.Errorf("frame.Duration = %v, want 100ms", got)
	}
}
