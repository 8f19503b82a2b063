package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// sample16 reads the little-endian int16 sample at index i.
func sample16(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

// putSample16 writes s as little-endian int16 at index i.
func putSample16(pcm []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
}

// FormatConverter normalizes AudioFrames to a target format. Mismatched
// frames are resampled and channel-converted; matching frames pass through
// untouched. The first mismatch and the first corrupt frame each produce one
// warning, further occurrences stay silent. One converter serves one stream;
// it is not safe for concurrent use.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns frame converted to the target format. Frames already in
// the target format are returned as-is without copying. Frames whose byte
// count is not int16-aligned are replaced by an empty frame carrying the
// target format.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	if len(frame.Data)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sampleRate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return AudioFrame{
			SampleRate: c.Target.SampleRate,
			Channels:   c.Target.Channels,
			Timestamp:  frame.Timestamp,
		}
	}

	src := Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
	if src == c.Target {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", src.String(),
			"to", c.Target.String(),
		)
	})

	pcm := frame.Data

	// Resample before channel conversion so a stereo source headed for mono
	// never pays the stereo resampling cost twice.
	if src.SampleRate != c.Target.SampleRate {
		pcm = resample16(pcm, src.SampleRate, c.Target.SampleRate, src.Channels)
		src.SampleRate = c.Target.SampleRate
	}

	switch {
	case src.Channels == 1 && c.Target.Channels == 2:
		pcm = MonoToStereo(pcm)
	case src.Channels == 2 && c.Target.Channels == 1:
		pcm = StereoToMono(pcm)
	}

	return AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// ConvertStream spawns a goroutine that converts every frame arriving on in
// to the target format and forwards it. The returned channel shares in's
// buffer capacity and is closed when in closes. Corrupt frames (empty after
// conversion) are skipped.
func ConvertStream(in <-chan AudioFrame, target Format) <-chan AudioFrame {
	out := make(chan AudioFrame, cap(in))
	go func() {
		defer close(out)
		conv := FormatConverter{Target: target}
		for frame := range in {
			converted := conv.Convert(frame)
			if len(converted.Data) == 0 {
				continue
			}
			out <- converted
		}
	}()
	return out
}

// MonoToStereo duplicates each mono int16 sample into an L+R pair. A
// trailing partial sample in the input is discarded.
func MonoToStereo(pcm []byte) []byte {
	samples := len(pcm) / 2
	out := make([]byte, samples*4)
	for i := range samples {
		s := sample16(pcm, i)
		putSample16(out, i*2, s)
		putSample16(out, i*2+1, s)
	}
	return out
}

// StereoToMono averages each interleaved L+R pair into one mono sample.
// The average is computed in int32 and clamped to the int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sample16(pcm, i*2))
		r := int32(sample16(pcm, i*2+1))
		putSample16(out, i, clamp16((l+r)/2))
	}
	return out
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// ResampleMono16 resamples little-endian int16 mono PCM from srcRate to
// dstRate by linear interpolation. Invalid rates or srcRate == dstRate
// return the input unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, srcRate, dstRate, 1)
}

// ResampleStereo16 resamples interleaved little-endian int16 stereo PCM from
// srcRate to dstRate by linear interpolation. Invalid rates or srcRate ==
// dstRate return the input unchanged.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, srcRate, dstRate, 2)
}

// resample16 linearly interpolates int16 PCM with the given interleaved
// channel count. The last source frame is held for interpolation past the
// end of the input.
func resample16(pcm []byte, srcRate, dstRate, channels int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (2 * channels)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*2*channels)
	step := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)

		next := idx + 1
		if next >= srcFrames {
			next = idx
		}

		for ch := range channels {
			s0 := sample16(pcm, idx*channels+ch)
			s1 := sample16(pcm, next*channels+ch)
			v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
			putSample16(out, i*channels+ch, v)
		}
	}
	return out
}
