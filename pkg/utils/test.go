// SPDX-License-Identifier: MIT

// Package utils holds deterministic signal generators and test doubles shared
// by package tests.
package utils

import (
	"math"
	"sync"
)

// MockTransport records frames instead of transmitting them.
type MockTransport struct {
	mu     sync.Mutex
	frames []any
	closed bool
}

// Send stores data for later inspection.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, data)
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Frames returns a copy of everything sent so far.
func (m *MockTransport) Frames() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.frames...)
}

func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// toInt16 scales a value in [-1, 1] to a rounded, clamped sample.
func toInt16(v float64) int16 {
	s := math.Round(v * 32768)
	return int16(max(min(s, math.MaxInt16), math.MinInt16))
}

// GenerateComplexWave returns a WSPR-like passband: three tones at 1450, 1500
// and 1550 Hz over a 60 Hz hum.
func GenerateComplexWave(size int, sampleRate float64) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*1500*tm)*0.3 +
			math.Sin(2*math.Pi*1450*tm)*0.2 +
			math.Sin(2*math.Pi*1550*tm)*0.2 +
			math.Sin(2*math.Pi*60*tm)*0.1
		buffer[i] = toInt16(signal)
	}
	return buffer
}

// GenerateSineWave returns a sine at frequency with amplitude as a fraction
// of full scale.
func GenerateSineWave(size int, sampleRate, frequency, amplitude float64) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = toInt16(math.Sin(2*math.Pi*frequency*t) * amplitude)
	}
	return buffer
}

// FindPeakBin returns the index of the largest magnitude in [startBin, endBin].
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
