package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/adagate/pkg/audio"
)

func pcm16(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func samples16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func wantSamples(t *testing.T, got []byte, want []int16) {
	t.Helper()
	gs := samples16(got)
	if len(gs) != len(want) {
		t.Fatalf("got %d samples, want %d", len(gs), len(want))
	}
	for i := range want {
		if gs[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, gs[i], want[i])
		}
	}
}

func TestChannelConversion(t *testing.T) {
	t.Run("mono to stereo duplicates samples", func(t *testing.T) {
		wantSamples(t, audio.MonoToStereo(pcm16(100, 200, 300)),
			[]int16{100, 100, 200, 200, 300, 300})
	})

	t.Run("mono to stereo drops trailing partial sample", func(t *testing.T) {
		in := append(pcm16(100, 200), 0xFF)
		out := audio.MonoToStereo(in)
		if len(out) != 8 {
			t.Fatalf("got %d bytes, want 8", len(out))
		}
		wantSamples(t, out, []int16{100, 100, 200, 200})
	})

	t.Run("stereo to mono averages pairs", func(t *testing.T) {
		wantSamples(t, audio.StereoToMono(pcm16(100, 200, -100, -200)),
			[]int16{150, -150})
	})

	t.Run("stereo to mono clamps instead of overflowing", func(t *testing.T) {
		wantSamples(t, audio.StereoToMono(pcm16(32767, 32767)), []int16{32767})
	})
}

func TestResample16(t *testing.T) {
	t.Run("same rate is a no-op", func(t *testing.T) {
		in := pcm16(100, 200, 300)
		if out := audio.ResampleMono16(in, 48000, 48000); len(out) != len(in) {
			t.Fatalf("got %d bytes, want %d", len(out), len(in))
		}
	})

	t.Run("mono upsample 3x", func(t *testing.T) {
		got := samples16(audio.ResampleMono16(pcm16(1000, 2000), 16000, 48000))
		if len(got) != 6 {
			t.Fatalf("got %d samples, want 6", len(got))
		}
		if got[0] != 1000 {
			t.Errorf("first sample: got %d, want 1000", got[0])
		}
		if last := got[5]; last < 1800 || last > 2200 {
			t.Errorf("last sample: got %d, want close to 2000", last)
		}
	})

	t.Run("mono downsample 3x", func(t *testing.T) {
		got := samples16(audio.ResampleMono16(pcm16(100, 200, 300, 400, 500, 600), 48000, 16000))
		if len(got) != 2 {
			t.Fatalf("got %d samples, want 2", len(got))
		}
	})

	t.Run("stereo upsample keeps interleaving", func(t *testing.T) {
		got := samples16(audio.ResampleStereo16(pcm16(100, 200, 300, 400), 16000, 48000))
		if len(got) != 12 {
			t.Fatalf("got %d samples, want 12", len(got))
		}
	})

	t.Run("invalid rates return input unchanged", func(t *testing.T) {
		mono := pcm16(100, 200)
		for _, rates := range [][2]int{{0, 48000}, {48000, 0}, {-1, 48000}} {
			if out := audio.ResampleMono16(mono, rates[0], rates[1]); len(out) != len(mono) {
				t.Errorf("rates %v: got %d bytes, want %d", rates, len(out), len(mono))
			}
		}
		stereo := pcm16(100, 200, 300, 400)
		if out := audio.ResampleStereo16(stereo, 0, 48000); len(out) != len(stereo) {
			t.Errorf("stereo zero srcRate: got %d bytes, want %d", len(out), len(stereo))
		}
		if out := audio.ResampleStereo16(stereo, 48000, 0); len(out) != len(stereo) {
			t.Errorf("stereo zero dstRate: got %d bytes, want %d", len(out), len(stereo))
		}
	})
}

func TestFormatConverter(t *testing.T) {
	t.Run("matching format passes the same slice through", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
		frame := audio.AudioFrame{Data: pcm16(100, 200), SampleRate: 48000, Channels: 2}
		result := conv.Convert(frame)
		if &result.Data[0] != &frame.Data[0] {
			t.Error("matching format should not copy the frame data")
		}
	})

	t.Run("mono source is widened to stereo", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
		result := conv.Convert(audio.AudioFrame{Data: pcm16(100, 200, 300), SampleRate: 48000, Channels: 1})
		wantSamples(t, result.Data, []int16{100, 100, 200, 200, 300, 300})
		if result.SampleRate != 48000 || result.Channels != 2 {
			t.Errorf("unexpected format: %dHz %dch", result.SampleRate, result.Channels)
		}
	})

	t.Run("resample and channel conversion combine", func(t *testing.T) {
		// 22050 Hz mono in, 48000 Hz stereo out.
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
		result := conv.Convert(audio.AudioFrame{Data: pcm16(1000, 2000), SampleRate: 22050, Channels: 1})
		if result.SampleRate != 48000 || result.Channels != 2 {
			t.Fatalf("unexpected format: %dHz %dch", result.SampleRate, result.Channels)
		}
		got := samples16(result.Data)
		if len(got) == 0 || len(got)%2 != 0 {
			t.Errorf("stereo output should be a non-empty even sample count, got %d", len(got))
		}
	})

	t.Run("odd byte count is dropped and tagged with target format", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 1}}
		result := conv.Convert(audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 22050, Channels: 1})
		if len(result.Data) != 0 {
			t.Errorf("got %d bytes, want empty data", len(result.Data))
		}
		if result.SampleRate != 48000 || result.Channels != 1 {
			t.Errorf("dropped frame should carry target format, got %dHz %dch",
				result.SampleRate, result.Channels)
		}
	})

	t.Run("odd byte count is caught even when formats match", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 1}}
		result := conv.Convert(audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 48000, Channels: 1})
		if len(result.Data) != 0 {
			t.Errorf("got %d bytes, want empty data", len(result.Data))
		}
	})
}

func TestConvertStream(t *testing.T) {
	in := make(chan audio.AudioFrame, 3)
	out := audio.ConvertStream(in, audio.Format{SampleRate: 48000, Channels: 2})

	// One frame needing conversion, one corrupt frame, one pass-through frame.
	in <- audio.AudioFrame{Data: pcm16(100, 200), SampleRate: 48000, Channels: 1}
	in <- audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 48000, Channels: 1}
	in <- audio.AudioFrame{Data: pcm16(500, 600, 700, 800), SampleRate: 48000, Channels: 2}
	close(in)

	var results []audio.AudioFrame
	for frame := range out {
		results = append(results, frame)
	}
	if len(results) != 2 {
		t.Fatalf("got %d frames, want 2 (corrupt frame dropped)", len(results))
	}

	for i, r := range results {
		if r.SampleRate != 48000 || r.Channels != 2 {
			t.Errorf("frame %d: got %dHz %dch, want 48000Hz stereo", i, r.SampleRate, r.Channels)
		}
	}
	wantSamples(t, results[0].Data, []int16{100, 100, 200, 200})
	wantSamples(t, results[1].Data, []int16{500, 600, 700, 800})
}
