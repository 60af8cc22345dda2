package audio_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/callcore/pkg/audio"
)

// samplesToBytes converts int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts little-endian bytes to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func equalSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMonoToStereo(t *testing.T) {
	got := bytesToSamples(audio.MonoToStereo(samplesToBytes([]int16{100, 200, 300})))
	equalSamples(t, got, []int16{100, 100, 200, 200, 300, 300})
}

func TestMonoToStereo_OddLengthInput(t *testing.T) {
	pcm := []byte{0x64, 0x00, 0xC8, 0x00, 0xFF}
	stereo := audio.MonoToStereo(pcm)
	if len(stereo) != 8 {
		t.Fatalf("expected 8 bytes for 2 complete mono samples, got %d", len(stereo))
	}
	equalSamples(t, bytesToSamples(stereo), []int16{100, 100, 200, 200})
}

func TestStereoToMono(t *testing.T) {
	tests := []struct {
		name string
		in   []int16
		want []int16
	}{
		{"average", []int16{100, 200, -100, -200}, []int16{150, -150}},
		{"max positive", []int16{32767, 32767}, []int16{32767}},
		{"max negative", []int16{-32768, -32768}, []int16{-32768}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			equalSamples(t, bytesToSamples(audio.StereoToMono(samplesToBytes(tt.in))), tt.want)
		})
	}
}

func TestResampleMono16(t *testing.T) {
	tests := []struct {
		name     string
		in       []int16
		src, dst int
		wantLen  int
	}{
		{"same rate", []int16{100, 200, 300}, 48000, 48000, 3},
		{"upsample 3x", []int16{1000, 2000}, 16000, 48000, 6},
		{"downsample 3x", []int16{100, 200, 300, 400, 500, 600}, 48000, 16000, 2},
		{"zero src rate", []int16{100, 200}, 0, 48000, 2},
		{"zero dst rate", []int16{100, 200}, 48000, 0, 2},
		{"negative rate", []int16{100, 200}, -1, 48000, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bytesToSamples(audio.ResampleMono16(samplesToBytes(tt.in), tt.src, tt.dst))
			if len(got) != tt.wantLen {
				t.Fatalf("got %d samples, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestResampleMono16_Interpolates(t *testing.T) {
	got := bytesToSamples(audio.ResampleMono16(samplesToBytes([]int16{1000, 2000}), 16000, 48000))
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	if last := got[len(got)-1]; last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want close to 2000", last)
	}
}

func TestResampler_FramesMatchWholeStream(t *testing.T) {
	in := make([]int16, 1000)
	for i := range in {
		in[i] = int16(i * 7)
	}
	whole := audio.NewResampler(22050, 16000).Process(samplesToBytes(in))

	r := audio.NewResampler(22050, 16000)
	var framed []byte
	for off := 0; off < len(in); off += 37 {
		framed = append(framed, r.Process(samplesToBytes(in[off:min(off+37, len(in))]))...)
	}
	equalSamples(t, bytesToSamples(framed), bytesToSamples(whole))

	// Output n sits at input n*22050/16000 and needs the sample after it.
	if got, want := len(whole)/2, 725; got != want {
		t.Errorf("got %d samples, want %d", got, want)
	}
}

func TestResampler_EqualRatesPassThrough(t *testing.T) {
	in := samplesToBytes([]int16{1, 2, 3})
	out := audio.NewResampler(8000, 8000).Process(in)
	equalSamples(t, bytesToSamples(out), []int16{1, 2, 3})
}

func TestResampleStereo16(t *testing.T) {
	got := bytesToSamples(audio.ResampleStereo16(samplesToBytes([]int16{100, 200, 300, 400}), 16000, 48000))
	if len(got) != 12 {
		t.Fatalf("expected 12 samples, got %d", len(got))
	}
	if got[0] != 100 || got[1] != 200 {
		t.Errorf("first frame: got L=%d R=%d, want 100/200", got[0], got[1])
	}
}

func TestFormatValidate(t *testing.T) {
	tests := []struct {
		name    string
		format  audio.Format
		wantErr bool
	}{
		{"linear16 16k", audio.Mono(audio.EncodingLinear16, 16000), false},
		{"linear16 stereo", audio.Format{Encoding: audio.EncodingLinear16, SampleRate: 48000, Channels: 2}, false},
		{"mulaw 8k", audio.Mono(audio.EncodingMulaw, 8000), false},
		{"mulaw 16k", audio.Mono(audio.EncodingMulaw, 16000), true},
		{"mulaw stereo", audio.Format{Encoding: audio.EncodingMulaw, SampleRate: 8000, Channels: 2}, true},
		{"zero rate", audio.Mono(audio.EncodingLinear16, 0), true},
		{"unknown encoding", audio.Mono(audio.Encoding(9), 8000), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, audio.ErrInvalidFormat) {
				t.Errorf("error %v does not wrap ErrInvalidFormat", err)
			}
		})
	}
}

func TestParseEncoding(t *testing.T) {
	for in, want := range map[string]audio.Encoding{
		"linear16": audio.EncodingLinear16,
		"PCM16":    audio.EncodingLinear16,
		"mulaw":    audio.EncodingMulaw,
		" ulaw ":   audio.EncodingMulaw,
	} {
		got, err := audio.ParseEncoding(in)
		if err != nil {
			t.Fatalf("ParseEncoding(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseEncoding(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := audio.ParseEncoding("opus"); !errors.Is(err, audio.ErrInvalidFormat) {
		t.Errorf("ParseEncoding(opus) err = %v, want ErrInvalidFormat", err)
	}
}

func TestConvert_MulawRejectsWrongRate(t *testing.T) {
	pcm := samplesToBytes(make([]int16, 160))
	_, err := audio.Convert(pcm, audio.Mono(audio.EncodingLinear16, 16000), audio.Mono(audio.EncodingMulaw, 16000))
	if !errors.Is(err, audio.ErrInvalidFormat) {
		t.Fatalf("err = %v, want ErrInvalidFormat", err)
	}
}

func TestConvert_PCMToMulawPreservesDuration(t *testing.T) {
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16((i % 200) * 100)
	}
	pcm := samplesToBytes(samples)
	from := audio.Mono(audio.EncodingLinear16, 16000)
	to := audio.Mono(audio.EncodingMulaw, 8000)

	ulaw, err := audio.Convert(pcm, from, to)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	in, out := audio.Seconds(len(pcm), from), audio.Seconds(len(ulaw), to)
	if diff := in - out; diff < 0 || diff > 1.0/8000 {
		t.Errorf("duration drifted: in %.5fs out %.5fs", in, out)
	}

	back, err := audio.Convert(ulaw, to, from)
	if err != nil {
		t.Fatalf("Convert back: %v", err)
	}
	if got := audio.Seconds(len(back), from); in-got > 1.0/8000 {
		t.Errorf("round-trip duration: got %.5fs, want %.5fs", got, in)
	}
}

func TestMulawRoundTrip(t *testing.T) {
	pcm := samplesToBytes([]int16{0, 1000, -1000, 8000, -8000, 32000})
	ulaw := audio.MulawEncode(pcm)
	if len(ulaw) != 6 {
		t.Fatalf("mulaw length = %d, want 6", len(ulaw))
	}
	got := bytesToSamples(audio.MulawDecode(ulaw))
	want := bytesToSamples(pcm)
	for i := range want {
		diff := int(got[i]) - int(want[i])
		if diff < 0 {
			diff = -diff
		}
		// G.711 quantisation error grows with magnitude; 1/16 is generous.
		if limit := max(16, abs(int(want[i]))/16); diff > limit {
			t.Errorf("sample %d: got %d, want ~%d", i, got[i], want[i])
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestConvert_SameFormatIsNoOp(t *testing.T) {
	pcm := samplesToBytes([]int16{1, 2, 3})
	f := audio.Mono(audio.EncodingLinear16, 16000)
	out, err := audio.Convert(pcm, f, f)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if &out[0] != &pcm[0] {
		t.Error("expected the input slice back for matching formats")
	}
}

func TestFormatConverter(t *testing.T) {
	t.Run("matching format passes through", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.Mono(audio.EncodingLinear16, 8000)}
		frame := audio.AudioFrame{Data: samplesToBytes([]int16{100, 200}), Format: audio.Mono(audio.EncodingLinear16, 8000)}
		got := conv.Convert(frame)
		if &got.Data[0] != &frame.Data[0] {
			t.Error("expected same slice for matching format")
		}
	})
	t.Run("resamples linear16", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.Mono(audio.EncodingLinear16, 8000)}
		frame := audio.AudioFrame{Data: samplesToBytes(make([]int16, 320)), Format: audio.Mono(audio.EncodingLinear16, 16000)}
		got := conv.Convert(frame)
		if len(got.Data) != 320 {
			t.Errorf("got %d bytes, want 320", len(got.Data))
		}
		if got.Format != conv.Target {
			t.Errorf("format = %v, want %v", got.Format, conv.Target)
		}
	})
	t.Run("invalid target drops frame", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.Mono(audio.EncodingMulaw, 16000)}
		frame := audio.AudioFrame{Data: samplesToBytes([]int16{1, 2}), Format: audio.Mono(audio.EncodingLinear16, 16000)}
		if got := conv.Convert(frame); got.Data != nil {
			t.Errorf("expected nil data, got %d bytes", len(got.Data))
		}
	})
}
