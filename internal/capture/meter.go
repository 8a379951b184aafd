// SPDX-License-Identifier: MIT
package capture

import (
	"fmt"
	"math"
)

const (
	DefaultPeakHoldMs    = 1500 // peak stays elevated this long without a new maximum
	DefaultNoiseGate     = 0.001
	DefaultAverageWindow = 4800 // samples, 100 ms at 48 kHz

	// unitTolerance absorbs running-sum rounding before a value counts as a
	// metering defect.
	unitTolerance = 1e-9
)

// LevelSnapshot is one metering result. All levels are normalised to [0, 1]
// and Peak >= Current after every update.
type LevelSnapshot struct {
	Current     float64 `json:"current"`
	Peak        float64 `json:"peak"`
	Average     float64 `json:"average"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// IsSilent reports whether the current level is below threshold.
func (s LevelSnapshot) IsSilent(threshold float64) bool {
	return s.Current < threshold
}

// IsClipping reports whether the current level is at or above threshold.
func (s LevelSnapshot) IsClipping(threshold float64) bool {
	return s.Current >= threshold
}

// MeterConfig tunes a LevelMeter. Zero fields take the defaults.
type MeterConfig struct {
	HoldMs     int64
	NoiseGate  float64
	WindowSize int
}

// LevelMeter computes RMS, peak-with-hold and a rolling average of absolute
// sample magnitudes. It is owned by a single writer and is not safe for
// concurrent use; Connection publishes its snapshots atomically.
type LevelMeter struct {
	holdMs    int64
	noiseGate float64

	peak          float64
	peakTimestamp int64

	window    []float64 // ring of |sample| in [0, 1]
	next      int
	count     int
	windowSum float64
}

// NewLevelMeter creates a meter, filling zero config fields with defaults.
func NewLevelMeter(cfg MeterConfig) *LevelMeter {
	if cfg.HoldMs <= 0 {
		cfg.HoldMs = DefaultPeakHoldMs
	}
	if cfg.NoiseGate <= 0 {
		cfg.NoiseGate = DefaultNoiseGate
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultAverageWindow
	}
	m := &LevelMeter{
		holdMs: cfg.HoldMs,
		window: make([]float64, cfg.WindowSize),
	}
	m.SetNoiseGate(cfg.NoiseGate)
	return m
}

// SetNoiseGate sets the RMS level below which the current level reads 0.
// The value is clamped to [0, 1].
func (m *LevelMeter) SetNoiseGate(threshold float64) {
	m.noiseGate = math.Min(math.Max(threshold, 0), 1)
}

// NoiseGate returns the current gate threshold.
func (m *LevelMeter) NoiseGate() float64 {
	return m.noiseGate
}

// Update meters samples captured at timestampMs. An empty chunk returns a
// zero snapshot and leaves the meter untouched.
func (m *LevelMeter) Update(samples []int16, timestampMs int64) LevelSnapshot {
	if len(samples) == 0 {
		return LevelSnapshot{}
	}

	var sumSquares float64
	for _, s := range samples {
		v := float64(s) / MaxSampleMagnitude
		sumSquares += v * v
		m.pushMagnitude(math.Abs(v))
	}

	current := math.Sqrt(sumSquares / float64(len(samples)))
	if current < m.noiseGate {
		current = 0
	}
	current = checkUnit("current", current)

	switch {
	case current > m.peak:
		m.peak = current
		m.peakTimestamp = timestampMs
	case timestampMs-m.peakTimestamp > m.holdMs:
		m.peak = current
		m.peakTimestamp = timestampMs
	}

	average := checkUnit("average", m.windowSum/float64(m.count))

	return LevelSnapshot{
		Current:     current,
		Peak:        checkUnit("peak", m.peak),
		Average:     average,
		TimestampMs: timestampMs,
	}
}

// pushMagnitude appends one magnitude to the trailing window, dropping the
// oldest once the window is full.
func (m *LevelMeter) pushMagnitude(v float64) {
	if m.count == len(m.window) {
		m.windowSum -= m.window[m.next]
	} else {
		m.count++
	}
	m.window[m.next] = v
	m.windowSum += v
	m.next = (m.next + 1) % len(m.window)
}

// Reset clears the peak and the rolling window.
func (m *LevelMeter) Reset() {
	m.peak = 0
	m.peakTimestamp = 0
	clear(m.window)
	m.next = 0
	m.count = 0
	m.windowSum = 0
}

// checkUnit clamps v into [0, 1]. Builds with the meterdebug tag panic when v
// is outside the range by more than rounding noise.
func checkUnit(name string, v float64) float64 {
	if v >= 0 && v <= 1 {
		return v
	}
	if meterAssertions && (math.IsNaN(v) || v < -unitTolerance || v > 1+unitTolerance) {
		panic(fmt.Sprintf("capture: %s level %v outside [0, 1]", name, v))
	}
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return 1
}
