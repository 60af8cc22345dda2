package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Convert re-encodes input from one format to another. PCM is the pivot:
// mu-law input is expanded first, the signal is then down-mixed, resampled
// and finally compressed again when the target is mu-law.
//
// The target must pass [Format.Validate]; requesting mu-law at a rate other
// than 8 kHz returns [ErrInvalidFormat]. Convert is deterministic and keeps no
// state. When from equals to the input is returned unchanged.
func Convert(input []byte, from, to Format) ([]byte, error) {
	if err := from.Validate(); err != nil {
		return nil, fmt.Errorf("audio: convert source: %w", err)
	}
	if err := to.Validate(); err != nil {
		return nil, fmt.Errorf("audio: convert target: %w", err)
	}
	if from.Encoding == to.Encoding && from.SampleRate == to.SampleRate && from.channels() == to.channels() {
		return input, nil
	}

	pcm := input
	if from.Encoding == EncodingMulaw {
		pcm = MulawDecode(pcm)
	} else if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}

	channels := from.channels()
	if channels == 2 && to.channels() == 1 {
		pcm = StereoToMono(pcm)
		channels = 1
	}
	if from.SampleRate != to.SampleRate {
		if channels == 1 {
			pcm = ResampleMono16(pcm, from.SampleRate, to.SampleRate)
		} else {
			pcm = ResampleStereo16(pcm, from.SampleRate, to.SampleRate)
		}
	}
	if channels == 1 && to.channels() == 2 {
		pcm = MonoToStereo(pcm)
	}

	if to.Encoding == EncodingMulaw {
		return MulawEncode(pcm), nil
	}
	return pcm, nil
}

// FormatConverter converts a stream of frames to a fixed target format. It
// logs once on the first format mismatch and once on the first frame it
// cannot convert. Create one per stream; it is not meant for shared use
// across goroutines.
type FormatConverter struct {
	Target Format

	warnedMismatch sync.Once
	warnedFailure  sync.Once
}

// Convert converts a frame to the target format. Frames that already match
// are returned as-is. A frame that cannot be converted comes back with nil
// Data and the target format.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	if frame.Format == c.Target {
		return frame
	}
	c.warnedMismatch.Do(func() {
		slog.Warn("audio: format mismatch, converting",
			"from", frame.Format.String(),
			"to", c.Target.String(),
		)
	})
	data, err := Convert(frame.Data, frame.Format, c.Target)
	if err != nil {
		c.warnedFailure.Do(func() {
			slog.Warn("audio: dropping unconvertible frame", "bytes", len(frame.Data), "err", err)
		})
		data = nil
	}
	return AudioFrame{Data: data, Format: c.Target, Timestamp: frame.Timestamp}
}

// MonoToStereo duplicates every mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)
	for i := range n {
		s := pcm[i*2 : i*2+2]
		copy(out[i*4:], s)
		copy(out[i*4+2:], s)
	}
	return out
}

// StereoToMono averages each L+R frame into one mono sample.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sampleAt(pcm, i*2))
		r := int32(sampleAt(pcm, i*2+1))
		putSample(out, i, clamp16((l+r)/2))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. Equal or invalid rates return the input unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, 1, srcRate, dstRate)
}

// ResampleStereo16 resamples interleaved 16-bit stereo PCM from srcRate to
// dstRate using linear interpolation per channel.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, 2, srcRate, dstRate)
}

func resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	frameBytes := 2 * channels
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < frameBytes {
		return pcm
	}
	srcFrames := len(pcm) / frameBytes
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frameBytes)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			a := float64(sampleAt(pcm, idx*channels+ch))
			b := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int16(a*(1-frac)+b*frac))
		}
	}
	return out
}

// Resampler converts a stream of 16-bit mono PCM frames from one sample rate
// to another with linear interpolation. Unlike ResampleMono16 it keeps the
// read position and the last input sample between calls, so splitting the
// stream into frames neither drops nor repeats samples. A Resampler is not
// safe for concurrent use.
type Resampler struct {
	src, dst int64
	in       int64 // input samples consumed
	out      int64 // output samples produced
	last     int16 // input sample in-1
}

// NewResampler returns a Resampler from srcRate to dstRate. Equal or invalid
// rates make Process return its input unchanged.
func NewResampler(srcRate, dstRate int) *Resampler {
	return &Resampler{src: int64(srcRate), dst: int64(dstRate)}
}

// Process resamples the next frame of the stream. Output sample n sits at
// input position n*src/dst and is emitted once both neighbouring input
// samples have arrived.
func (r *Resampler) Process(pcm []byte) []byte {
	if r.src <= 0 || r.dst <= 0 || r.src == r.dst {
		return pcm
	}
	n := int64(len(pcm) / 2)
	if n == 0 {
		return nil
	}
	at := func(i int64) float64 {
		if i < r.in {
			return float64(r.last)
		}
		return float64(sampleAt(pcm, int(i-r.in)))
	}

	total := r.in + n
	out := make([]byte, 0, 2*(n*r.dst/r.src+2))
	for {
		pos := r.out * r.src
		idx := pos / r.dst
		if idx+1 >= total {
			break
		}
		frac := float64(pos%r.dst) / float64(r.dst)
		v := int16(at(idx)*(1-frac) + at(idx+1)*frac)
		out = append(out, byte(v), byte(v>>8))
		r.out++
	}
	r.last = sampleAt(pcm, int(n-1))
	r.in = total
	return out
}

// sampleAt reads the i-th little-endian int16 sample.
func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

func putSample(pcm []byte, i int, s int16) {
	pcm[i*2] = byte(s)
	pcm[i*2+1] = byte(s >> 8)
}

func clamp16(v int32) int16 {
	return int16(max(-32768, min(32767, v)))
}

// formatString renders a rate and channel count, e.g. "8000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	switch {
	case channels == 2:
		ch = "stereo"
	case channels > 2:
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
