package audio

import "time"

// BytesPerSecond returns how many bytes one second of audio occupies in f.
func BytesPerSecond(f Format) int {
	return f.SampleRate * f.channels() * f.Encoding.BytesPerSample()
}

// ChunkSizePerSecond returns the byte size of a one-second mono chunk for the
// given encoding and sample rate.
func ChunkSizePerSecond(enc Encoding, sampleRate int) int {
	return BytesPerSecond(Mono(enc, sampleRate))
}

// Duration returns the playback length of n bytes of audio in f.
func Duration(n int, f Format) time.Duration {
	bps := BytesPerSecond(f)
	if bps <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Seconds is [Duration] expressed in fractional seconds.
func Seconds(n int, f Format) float64 {
	bps := BytesPerSecond(f)
	if bps <= 0 {
		return 0
	}
	return float64(n) / float64(bps)
}

// Split cuts data into consecutive spans of exactly size bytes; the final span
// holds the remainder and may be shorter. A non-positive size yields data as
// a single span. Spans share memory with data.
func Split(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if size <= 0 || size >= len(data) {
		return [][]byte{data}
	}
	out := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		out = append(out, data[start:end:end])
	}
	return out
}
