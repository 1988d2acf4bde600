// Package audio provides level metering and audio device enumeration.
package audio

import "math"

// MinDB is the minimum dB level reported for silence.
const MinDB = -60.0

// Sample is a floating point PCM sample type.
type Sample interface {
	~float32 | ~float64
}

// RMS returns the root-mean-square of buf. The sum of squares is
// accumulated in float64. An empty block yields 0.
//
// RMS does not allocate and is safe to call from a real-time callback.
func RMS[S Sample](buf []S) float32 {
	if len(buf) == 0 {
		return 0
	}
	var sum float64
	for _, s := range buf {
		v := float64(s)
		sum += v * v
	}
	return float32(math.Sqrt(sum / float64(len(buf))))
}

// Peak returns the largest absolute sample value in buf.
func Peak[S Sample](buf []S) float32 {
	var peak float64
	for _, s := range buf {
		if v := math.Abs(float64(s)); v > peak {
			peak = v
		}
	}
	return float32(peak)
}

// ToDB converts a linear level to dBFS, clamped to MinDB.
func ToDB(level float32) float64 {
	if level <= 0 {
		return MinDB
	}
	return max(20*math.Log10(float64(level)), MinDB)
}
