package audio

import "time"

// AudioFrame is the atomic unit of audio transport through the media channel.
// Frames are captured from participant input streams, run through VAD and
// resampling, and played back through the mixed output stream.
type AudioFrame struct {
	// PCM audio data. Sample rate and channel count are determined by the pipeline config.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for WebRTC playback, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono (STT input), 2 for stereo playback.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}
