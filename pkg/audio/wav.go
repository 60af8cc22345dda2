package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// wavHeaderSize is the size of the canonical RIFF/WAVE header written by
// [WrapWAV].
const wavHeaderSize = 44

// ErrNotWAV is returned when bytes do not hold a RIFF/WAVE container.
var ErrNotWAV = errors.New("audio: not a WAV container")

// WrapWAV prefixes 16-bit mono PCM with a canonical 44-byte WAV header so the
// span plays on its own. Each call produces an independent container; it is
// used per chunk, not to grow a single file.
func WrapWAV(pcm []byte, sampleRate int) []byte {
	out := make([]byte, wavHeaderSize+len(pcm))
	le := binary.LittleEndian
	copy(out[0:], "RIFF")
	le.PutUint32(out[4:], uint32(36+len(pcm)))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	le.PutUint32(out[16:], 16)
	le.PutUint16(out[20:], 1) // PCM
	le.PutUint16(out[22:], 1)
	le.PutUint32(out[24:], uint32(sampleRate))
	le.PutUint32(out[28:], uint32(sampleRate*2))
	le.PutUint16(out[32:], 2)
	le.PutUint16(out[34:], 16)
	copy(out[36:], "data")
	le.PutUint32(out[40:], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)
	return out
}

// UnwrapWAV returns the data chunk of a PCM WAV container byte-for-byte,
// together with the format declared in its fmt chunk. Unknown chunks are
// skipped. Unwrapping the output of [WrapWAV] returns the original PCM.
func UnwrapWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}
	le := binary.LittleEndian
	var (
		f      Format
		sawFmt bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(le.Uint32(data[off+4:]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			if id == "data" {
				// Streaming writers leave the size unset; take what is there.
				size = len(data) - body
			} else {
				return nil, Format{}, fmt.Errorf("%w: truncated %q chunk", ErrNotWAV, id)
			}
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			if tag := le.Uint16(data[body:]); tag != 1 {
				return nil, Format{}, fmt.Errorf("%w: unsupported format tag %d", ErrInvalidFormat, tag)
			}
			if bits := le.Uint16(data[body+14:]); bits != 16 {
				return nil, Format{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidFormat, bits)
			}
			f = Format{
				Encoding:   EncodingLinear16,
				Channels:   int(le.Uint16(data[body+2:])),
				SampleRate: int(le.Uint32(data[body+4:])),
			}
			sawFmt = true
		case "data":
			if !sawFmt {
				return nil, Format{}, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			return data[body : body+size], f, nil
		}
		off = body + size + size%2
	}
	return nil, Format{}, fmt.Errorf("%w: no data chunk", ErrNotWAV)
}

// DecodeWAV decodes any PCM WAV file the decoder understands (8/16/24/32-bit,
// mono or stereo) into 16-bit little-endian PCM and reports its format.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) == 0 {
		return nil, Format{}, fmt.Errorf("%w: empty input", ErrNotWAV)
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, Format{}, ErrNotWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: reading WAV samples: %w", err)
	}
	pcm := make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		putSample(pcm, i, floatToSample(float64(s)))
	}
	f := Format{
		Encoding:   EncodingLinear16,
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}
	return pcm, f, nil
}

// ConvertWAV decodes a WAV container and converts its samples to the target
// format.
func ConvertWAV(data []byte, to Format) ([]byte, error) {
	pcm, from, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	return Convert(pcm, from, to)
}

// WriteWAV encodes 16-bit mono PCM as a complete WAV file to ws.
func WriteWAV(ws io.WriteSeeker, pcm []byte, sampleRate int) error {
	enc := wav.NewEncoder(ws, sampleRate, 16, 1, 1)
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = float32(sampleAt(pcm, i)) / 32768
	}
	buf := &goaudio.Float32Buffer{
		Data:           samples,
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: 1},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: writing WAV samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: closing WAV encoder: %w", err)
	}
	return nil
}

func floatToSample(f float64) int16 {
	return clamp16(int32(math.Round(f * 32768)))
}
