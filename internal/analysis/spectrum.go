// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	applog "wsprcap/internal/log"
	"wsprcap/pkg/bitint"
)

// FloorDB is reported for a silent band.
const FloorDB = -120.0

// Band is a closed frequency range in Hz.
type Band struct {
	LowHz  float64
	HighHz float64
}

// SpectrumSnapshot summarises the latest analysis window. Magnitudes are
// normalised so a full-scale sine centred on a bin reads 1.0.
type SpectrumSnapshot struct {
	BandEnergy    float64 `json:"band_energy"`
	BandLevelDB   float64 `json:"band_level_db"`
	BandRatio     float64 `json:"band_ratio"` // band energy over total energy excluding DC
	PeakHz        float64 `json:"peak_hz"`    // strongest bin inside the band
	PeakMagnitude float64 `json:"peak_magnitude"`
	Windows       uint64  `json:"windows"`
}

// Spectrum runs a sliding FFT over consumer audio and tracks the energy in
// one passband. Each Process call analyses the most recent Size samples,
// zero-padded until enough audio has arrived.
type Spectrum struct {
	fft        *fourier.FFT
	size       int
	sampleRate float64
	band       Band
	lowBin     int
	highBin    int
	window     []float64
	scale      float64

	history []float64 // last size samples, oldest first

	mu        sync.RWMutex
	input     []float64
	coeffs    []complex128
	magnitude []float64
	snapshot  SpectrumSnapshot
}

var (
	_ Processor      = (*Spectrum)(nil)
	_ ResultProvider = (*Spectrum)(nil)
)

// NewSpectrum creates a spectrum monitor. size must be a power of two and
// band must lie between 0 Hz and the Nyquist frequency.
func NewSpectrum(size int, sampleRate float64, band Band, w WindowFunc) (*Spectrum, error) {
	if !bitint.IsPowerOfTwo(size) {
		return nil, fmt.Errorf("fft size must be a power of 2, got %d (next is %d)", size, bitint.NextPowerOfTwo(size))
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}
	if band.LowHz < 0 || band.HighHz <= band.LowHz || band.HighHz > sampleRate/2 {
		return nil, fmt.Errorf("band %.0f-%.0f Hz outside 0-%.0f Hz", band.LowHz, band.HighHz, sampleRate/2)
	}

	bins := size/2 + 1
	binWidth := sampleRate / float64(size)
	coeffs := windowCoefficients(size, w)
	sum := 0.0
	for _, c := range coeffs {
		sum += c
	}

	s := &Spectrum{
		fft:        fourier.NewFFT(size),
		size:       size,
		sampleRate: sampleRate,
		band:       band,
		lowBin:     min(int(math.Ceil(band.LowHz/binWidth)), bins-1),
		highBin:    min(int(math.Floor(band.HighHz/binWidth)), bins-1),
		window:     coeffs,
		scale:      2 / (sum * 32768),
		history:    make([]float64, size),
		input:      make([]float64, size),
		coeffs:     make([]complex128, bins),
		magnitude:  make([]float64, bins),
		snapshot:   SpectrumSnapshot{BandLevelDB: FloorDB},
	}

	applog.Debugf("Analysis: spectrum %d points at %.0f Hz, %s window, band bins %d-%d",
		size, sampleRate, w, s.lowBin, s.highBin)
	return s, nil
}

// Process slides samples into the analysis window and recomputes the
// spectrum. Calls must not overlap.
func (s *Spectrum) Process(samples []int16) {
	if len(samples) == 0 {
		return
	}
	if len(samples) >= s.size {
		samples = samples[len(samples)-s.size:]
	}
	keep := s.size - len(samples)
	copy(s.history, s.history[len(samples):])
	for i, v := range samples {
		s.history[keep+i] = float64(v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, v := range s.history {
		s.input[i] = v * s.window[i]
	}
	s.fft.Coefficients(s.coeffs, s.input)
	for i, c := range s.coeffs {
		s.magnitude[i] = cmplx.Abs(c) * s.scale
	}

	var total, band, peak float64
	peakBin := s.lowBin
	for i := 1; i < len(s.magnitude); i++ {
		e := s.magnitude[i] * s.magnitude[i]
		total += e
		if i < s.lowBin || i > s.highBin {
			continue
		}
		band += e
		if s.magnitude[i] > peak {
			peak, peakBin = s.magnitude[i], i
		}
	}

	snap := SpectrumSnapshot{
		BandEnergy:  band,
		BandLevelDB: FloorDB,
		Windows:     s.snapshot.Windows + 1,
	}
	if band > 0 {
		snap.BandLevelDB = max(10*math.Log10(band), FloorDB)
	}
	if total > 0 {
		snap.BandRatio = band / total
	}
	if peak > 0 {
		snap.PeakHz = s.frequencyForBin(peakBin)
		snap.PeakMagnitude = peak
	}
	s.snapshot = snap
}

// Snapshot returns the metrics of the latest window.
func (s *Spectrum) Snapshot() SpectrumSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Magnitudes returns a copy of the latest normalised magnitude spectrum.
func (s *Spectrum) Magnitudes() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]float64(nil), s.magnitude...)
}

// MagnitudesInto copies the latest spectrum into dst, which must hold
// Size()/2+1 values.
func (s *Spectrum) MagnitudesInto(dst []float64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(dst) != len(s.magnitude) {
		return fmt.Errorf("destination slice length %d does not match required length %d", len(dst), len(s.magnitude))
	}
	copy(dst, s.magnitude)
	return nil
}

// FrequencyForBin returns the center frequency of binIndex, or 0 when out of
// range.
func (s *Spectrum) FrequencyForBin(binIndex int) float64 {
	if binIndex < 0 || binIndex >= len(s.magnitude) {
		return 0
	}
	return s.frequencyForBin(binIndex)
}

func (s *Spectrum) frequencyForBin(i int) float64 {
	return float64(i) * s.sampleRate / float64(s.size)
}

func (s *Spectrum) Size() int           { return s.size }
func (s *Spectrum) SampleRate() float64 { return s.sampleRate }
func (s *Spectrum) Band() Band          { return s.band }
