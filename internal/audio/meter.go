package audio

import (
	"sync"
	"time"

	"github.com/contactlaplanque/akm-control/internal/types"
)

// Meter defaults.
const (
	// DefaultSmoothing is the weight of the previous value in the moving average.
	DefaultSmoothing = 0.6
	// DefaultPeakHoldDuration is how long a peak is held before it decays.
	DefaultPeakHoldDuration = 1500 * time.Millisecond
	// DefaultPeakDecayPerSecond is the linear fall rate of a released peak.
	DefaultPeakDecayPerSecond = 0.5
)

type meterChannel struct {
	rms      float32
	smoothed float32
	peak     float32
	peakTime time.Time
}

// LevelMeter turns raw per-block RMS snapshots into display levels with
// exponential smoothing and peak hold. It is safe for concurrent use.
type LevelMeter struct {
	mu             sync.Mutex
	smoothing      float32
	holdDuration   time.Duration
	decayPerSecond float32
	channels       []meterChannel
	lastUpdate     time.Time
}

// NewLevelMeter creates a level meter with default smoothing and peak behaviour.
func NewLevelMeter() *LevelMeter {
	return &LevelMeter{
		smoothing:      DefaultSmoothing,
		holdDuration:   DefaultPeakHoldDuration,
		decayPerSecond: DefaultPeakDecayPerSecond,
	}
}

// SetHoldDuration updates the peak hold duration.
func (m *LevelMeter) SetHoldDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holdDuration = d
}

// Update feeds one snapshot of linear levels and returns the metered channels.
// A change in channel count resets all channel state.
func (m *LevelMeter) Update(levels []float32, now time.Time) []types.ChannelLevel {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.channels) != len(levels) {
		m.channels = make([]meterChannel, len(levels))
		m.lastUpdate = time.Time{}
	}

	var dt float32
	if !m.lastUpdate.IsZero() {
		dt = float32(now.Sub(m.lastUpdate).Seconds())
	}
	m.lastUpdate = now

	out := make([]types.ChannelLevel, len(levels))
	for i, raw := range levels {
		ch := &m.channels[i]
		ch.rms = raw
		ch.smoothed = raw*(1-m.smoothing) + ch.smoothed*m.smoothing

		if ch.smoothed > ch.peak {
			ch.peak = ch.smoothed
			ch.peakTime = now
		} else if now.Sub(ch.peakTime) > m.holdDuration {
			ch.peak = max(0, ch.peak-dt*m.decayPerSecond)
		}

		out[i] = types.ChannelLevel{
			Channel:  i + 1,
			RMS:      ch.rms,
			Smoothed: ch.smoothed,
			Peak:     ch.peak,
		}
	}
	return out
}

// Reset clears all channel state.
func (m *LevelMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = nil
	m.lastUpdate = time.Time{}
}
