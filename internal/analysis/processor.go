// SPDX-License-Identifier: MIT

// Package analysis runs monitoring DSP over audio pulled from the capture
// buffer. Nothing here sits on the producer path.
package analysis

// Processor consumes blocks of consumer-rate audio.
type Processor interface {
	Process(samples []int16)
}

// ResultProvider exposes the latest magnitude spectrum of a processor.
type ResultProvider interface {
	Magnitudes() []float64                // Magnitudes returns a copy of the latest spectrum.
	FrequencyForBin(binIndex int) float64 // FrequencyForBin returns the center frequency (Hz) of a bin.
	Size() int                            // Size returns the number of FFT points.
	SampleRate() float64                  // SampleRate returns the analysed sample rate.
}
