// Package audio provides the two real-time pipelines of a live session:
// microphone capture (16 kHz mono PCM16 out) and scheduled gapless playback
// (24 kHz mono PCM16 in). Neither pipeline knows about the protocol layer;
// they communicate through callbacks and buffers only.
package audio

import "time"

const (
	// CaptureSampleRateHz is the fixed microphone capture rate.
	CaptureSampleRateHz = 16000
	// PlaybackSampleRateHz is the fixed playback rate.
	PlaybackSampleRateHz = 24000

	bytesPerSample = 2
)

// Float32FromPCM16 converts little-endian signed 16-bit PCM to normalized
// float32 samples, sample for sample, at scale 1/32768. A trailing odd byte
// is ignored.
func Float32FromPCM16(pcm []byte) []float32 {
	samples := make([]float32, len(pcm)/bytesPerSample)
	for i := range samples {
		s := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// PCM16FromFloat32 converts normalized float32 samples back to little-endian
// signed 16-bit PCM, clipping to the representable range.
func PCM16FromFloat32(samples []float32) []byte {
	pcm := make([]byte, len(samples)*bytesPerSample)
	for i, f := range samples {
		v := f * 32768.0
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		s := int16(v)
		pcm[2*i] = byte(s)
		pcm[2*i+1] = byte(s >> 8)
	}
	return pcm
}

// pcmDuration returns the playback duration of a sample count at a rate.
func pcmDuration(sampleCount, sampleRateHz int) time.Duration {
	if sampleRateHz <= 0 {
		return 0
	}
	return time.Duration(sampleCount) * time.Second / time.Duration(sampleRateHz)
}
