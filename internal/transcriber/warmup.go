package transcriber

import (
	"encoding/binary"

	"github.com/MrWong99/callcore/pkg/audio"
)

// warmupAmplitude bounds the synthetic noise, roughly -54 dBFS: loud enough
// to be treated as audio by the backend, too quiet to be recognized as speech.
const warmupAmplitude = 64

// warmupChunks returns deterministic low-amplitude noise of the given
// duration in f, cut into full chunks of chunkSize bytes. A trailing partial
// chunk is dropped.
func warmupChunks(f audio.Format, seconds float64, chunkSize int) [][]byte {
	samples := int(float64(f.SampleRate) * seconds)
	if samples <= 0 || chunkSize <= 0 {
		return nil
	}
	pcm := make([]byte, samples*2)
	// Linear congruential generator with a fixed seed keeps the frames
	// identical across runs and reconnects.
	state := uint32(0x2545f491)
	for i := range samples {
		state = state*1664525 + 1013904223
		s := int16(int32(state>>16)%(2*warmupAmplitude+1)) - warmupAmplitude
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}

	data := pcm
	if f.Encoding == audio.EncodingMulaw {
		data = audio.MulawEncode(pcm)
	}
	n := len(data) / chunkSize
	chunks := make([][]byte, 0, n)
	for i := range n {
		chunks = append(chunks, data[i*chunkSize:(i+1)*chunkSize])
	}
	return chunks
}
