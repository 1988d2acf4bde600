package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRMS(t *testing.T) {
	t.Run("empty_block_is_zero", func(t *testing.T) {
		assert.Zero(t, RMS([]float32{}))
		assert.Zero(t, RMS[float32](nil))
	})

	t.Run("silence_is_zero", func(t *testing.T) {
		assert.Zero(t, RMS(make([]float32, 512)))
	})

	t.Run("constant_signal", func(t *testing.T) {
		for _, c := range []float32{0.25, -0.5, 1} {
			buf := make([]float32, 256)
			for i := range buf {
				buf[i] = c
			}
			assert.InDelta(t, math.Abs(float64(c)), float64(RMS(buf)), 1e-6)
		}
	})

	t.Run("full_scale_sine", func(t *testing.T) {
		const n = 4800
		buf := make([]float32, n)
		for i := range buf {
			buf[i] = float32(math.Sin(2 * math.Pi * 10 * float64(i) / n))
		}
		assert.InDelta(t, 1/math.Sqrt2, float64(RMS(buf)), 1e-3)
	})

	t.Run("float64_samples", func(t *testing.T) {
		assert.InDelta(t, 0.5, float64(RMS([]float64{0.5, -0.5, 0.5, -0.5})), 1e-9)
	})
}

func TestPeak(t *testing.T) {
	assert.Zero(t, Peak([]float32{}))
	assert.InDelta(t, 0.9, float64(Peak([]float32{0.1, -0.9, 0.4})), 1e-6)
}

func TestToDB(t *testing.T) {
	assert.Equal(t, MinDB, ToDB(0))
	assert.Equal(t, MinDB, ToDB(-1))
	assert.InDelta(t, 0, ToDB(1), 1e-9)
	assert.InDelta(t, -6.0206, ToDB(0.5), 1e-3)
	assert.Equal(t, MinDB, ToDB(1e-6))
}
