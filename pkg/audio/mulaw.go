package audio

import "github.com/zaf/g711"

// MulawEncode converts 16-bit little-endian PCM to G.711 mu-law, one byte per
// sample. A trailing odd byte is ignored.
func MulawEncode(pcm []byte) []byte {
	if len(pcm) < 2 {
		return nil
	}
	return g711.EncodeUlaw(pcm[:len(pcm)&^1])
}

// MulawDecode expands G.711 mu-law bytes to 16-bit little-endian PCM.
func MulawDecode(ulaw []byte) []byte {
	if len(ulaw) == 0 {
		return nil
	}
	return g711.DecodeUlaw(ulaw)
}
