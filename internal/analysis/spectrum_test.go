// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"testing"

	"wsprcap/pkg/utils"
)

const (
	testRate = 12000.0
	testSize = 4096
)

var wsprBand = Band{LowHz: 1400, HighHz: 1600}

func tone(freq float64, n int) []int16 {
	return utils.GenerateSineWave(n, testRate, freq, 0.5)
}

func newTestSpectrum(t *testing.T) *Spectrum {
	t.Helper()
	s, err := NewSpectrum(testSize, testRate, wsprBand, Hann)
	if err != nil {
		t.Fatalf("NewSpectrum() error = %v", err)
	}
	return s
}

func TestNewSpectrumErrors(t *testing.T) {
	tests := []struct {
		desc string
		size int
		rate float64
		band Band
	}{
		{"Size not power of two", 1000, testRate, wsprBand},
		{"Zero rate", testSize, 0, wsprBand},
		{"Inverted band", testSize, testRate, Band{1600, 1400}},
		{"Band above Nyquist", testSize, testRate, Band{1400, 7000}},
		{"Negative band", testSize, testRate, Band{-10, 1400}},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if _, err := NewSpectrum(tt.size, tt.rate, tt.band, Hann); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSpectrumToneInBand(t *testing.T) {
	s := newTestSpectrum(t)
	samples := tone(1500, 6000)
	s.Process(samples[:3000])
	s.Process(samples[3000:])

	snap := s.Snapshot()
	if snap.PeakHz != 1500 {
		t.Errorf("PeakHz = %f, want 1500", snap.PeakHz)
	}
	if math.Abs(snap.PeakMagnitude-0.5) > 0.01 {
		t.Errorf("PeakMagnitude = %f, want ~0.5", snap.PeakMagnitude)
	}
	if snap.BandRatio < 0.99 {
		t.Errorf("BandRatio = %f, want ~1", snap.BandRatio)
	}
	// Hann main lobe: 0.5^2 + 2*0.25^2.
	if math.Abs(snap.BandEnergy-0.375) > 0.01 {
		t.Errorf("BandEnergy = %f, want ~0.375", snap.BandEnergy)
	}
	if snap.Windows != 2 {
		t.Errorf("Windows = %d, want 2", snap.Windows)
	}
}

func TestSpectrumToneOutOfBand(t *testing.T) {
	s := newTestSpectrum(t)
	s.Process(tone(3000, 6000))

	snap := s.Snapshot()
	if snap.BandRatio > 1e-6 {
		t.Errorf("BandRatio = %g, want ~0", snap.BandRatio)
	}
	if snap.BandLevelDB > -100 {
		t.Errorf("BandLevelDB = %f, want near the floor", snap.BandLevelDB)
	}

	mags := s.Magnitudes()
	if peak := utils.FindPeakBin(mags, 0, len(mags)-1); peak != 1024 {
		t.Errorf("peak bin = %d, want 1024 (3000 Hz)", peak)
	}
	if got := mags[1024]; math.Abs(got-0.5) > 0.01 {
		t.Errorf("magnitude at 3000 Hz = %f, want ~0.5", got)
	}
}

func TestSpectrumPassband(t *testing.T) {
	s := newTestSpectrum(t)
	s.Process(utils.GenerateComplexWave(testSize, testRate))

	snap := s.Snapshot()
	if snap.PeakHz != 1500 {
		t.Errorf("PeakHz = %f, want strongest tone at 1500", snap.PeakHz)
	}
	// Hum carries about 6% of the energy.
	if snap.BandRatio < 0.9 || snap.BandRatio > 0.97 {
		t.Errorf("BandRatio = %f, want ~0.94", snap.BandRatio)
	}
}

func TestSpectrumSilence(t *testing.T) {
	s := newTestSpectrum(t)

	if snap := s.Snapshot(); snap.BandLevelDB != FloorDB || snap.Windows != 0 {
		t.Errorf("initial snapshot = %+v", snap)
	}

	s.Process(make([]int16, 1200))
	snap := s.Snapshot()
	if snap.BandEnergy != 0 || snap.BandRatio != 0 || snap.PeakHz != 0 {
		t.Errorf("silent snapshot = %+v", snap)
	}
	if snap.BandLevelDB != FloorDB {
		t.Errorf("BandLevelDB = %f, want %f", snap.BandLevelDB, FloorDB)
	}

	s.Process(nil)
	if s.Snapshot().Windows != 1 {
		t.Error("empty input counted as a window")
	}
}

func TestSpectrumSlidingWindow(t *testing.T) {
	s := newTestSpectrum(t)
	s.Process(tone(1500, testSize))
	s.Process(tone(3000, testSize))

	if r := s.Snapshot().BandRatio; r > 1e-6 {
		t.Errorf("old audio still in window, BandRatio = %g", r)
	}
}

func TestFrequencyForBin(t *testing.T) {
	s := newTestSpectrum(t)
	tests := []struct {
		bin  int
		want float64
	}{
		{0, 0},
		{512, 1500},
		{testSize / 2, testRate / 2},
		{-1, 0},
		{testSize/2 + 1, 0},
	}
	for _, tt := range tests {
		if got := s.FrequencyForBin(tt.bin); got != tt.want {
			t.Errorf("FrequencyForBin(%d) = %f, want %f", tt.bin, got, tt.want)
		}
	}
	if s.Size() != testSize || s.SampleRate() != testRate || s.Band() != wsprBand {
		t.Error("accessors do not reflect configuration")
	}
}

func TestMagnitudesInto(t *testing.T) {
	s := newTestSpectrum(t)
	s.Process(tone(1500, testSize))

	dst := make([]float64, testSize/2+1)
	if err := s.MagnitudesInto(dst); err != nil {
		t.Fatalf("MagnitudesInto() error = %v", err)
	}
	if dst[512] != s.Magnitudes()[512] {
		t.Error("MagnitudesInto and Magnitudes disagree")
	}
	if err := s.MagnitudesInto(make([]float64, 10)); err == nil {
		t.Error("expected length error")
	}
}

func TestParseWindowFunc(t *testing.T) {
	tests := []struct {
		name    string
		want    WindowFunc
		wantErr bool
	}{
		{"hann", Hann, false},
		{"Hanning", Hann, false},
		{"", Hann, false},
		{"BLACKMAN", Blackman, false},
		{"blackmannuttall", BlackmanNuttall, false},
		{"bartletthann", BartlettHann, false},
		{"hamming", Hamming, false},
		{"lanczos", Lanczos, false},
		{"nuttall", Nuttall, false},
		{"kaiser", Hann, true},
	}
	for _, tt := range tests {
		got, err := ParseWindowFunc(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseWindowFunc(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseWindowFunc(%q) = %v, want %v", tt.name, got, tt.want)
		}
		if !tt.wantErr && tt.name != "" && tt.name != "Hanning" {
			if back, _ := ParseWindowFunc(got.String()); back != got {
				t.Errorf("String() of %v does not parse back", got)
			}
		}
	}
}

func TestWindowCoefficients(t *testing.T) {
	for w := BartlettHann; w <= Nuttall; w++ {
		coeffs := windowCoefficients(64, w)
		for i, c := range coeffs {
			if math.IsNaN(c) || c < -0.01 || c > 1.0001 {
				t.Errorf("%v coefficient %d = %f out of range", w, i, c)
				break
			}
		}
		if mid := coeffs[32]; mid < 0.9 {
			t.Errorf("%v centre coefficient = %f, want near 1", w, mid)
		}
	}
}

func BenchmarkSpectrumProcess(b *testing.B) {
	s, _ := NewSpectrum(testSize, testRate, wsprBand, Hann)
	chunk := tone(1500, 3000)

	for b.Loop() {
		s.Process(chunk)
	}
}
