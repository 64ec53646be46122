package audio

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/socially/speech-gateway/internal/failure"
)

// pcm16Scale maps int16 samples onto [-1, 1)
const pcm16Scale = 32768.0

// DecodePCM16 converts a chunk of 16-bit signed little-endian PCM into a Frame
// of normalized samples. The sample count equals len(chunk)/2; the chunk is
// not truncated or padded, so an empty chunk is an empty Frame. Chunks with
// an odd byte length are malformed.
func DecodePCM16(chunk []byte, sampleRate int) (Frame, error) {
	if len(chunk)%2 != 0 {
		return Frame{}, failure.Newf(failure.MalformedAudio, "decode",
			"chunk length %d is not a multiple of 2 (16-bit samples)", len(chunk))
	}

	samples := make([]float32, len(chunk)/2)
	for i := range samples {
		sample := int16(binary.LittleEndian.Uint16(chunk[i*2:]))
		samples[i] = float32(sample) / pcm16Scale
	}

	return Frame{Samples: samples, SampleRate: sampleRate}, nil
}

// EncodePCM16 converts normalized samples back to 16-bit little-endian PCM,
// clipping anything outside [-1, 1]
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s) * pcm16Scale
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// CalculateRMS calculates the root mean square (RMS) of normalized samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		v := float64(sample)
		sum += v * v
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// DurationOf returns the wall-clock duration of n samples at sampleRate
func DurationOf(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
