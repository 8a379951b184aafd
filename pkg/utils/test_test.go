// SPDX-License-Identifier: MIT
package utils

import (
	"math"
	"testing"
)

// hill is a smooth magnitude curve peaking at bin peak.
func hill(size, peak int) []float64 {
	mags := make([]float64, size)
	for i := range mags {
		d := float64(i - peak)
		mags[i] = math.Exp(-0.01 * d * d)
	}
	return mags
}

func TestMockTransport(t *testing.T) {
	tests := []struct {
		name   string
		frames []any
	}{
		{"Nothing", nil},
		{"Single Frame", []any{"level"}},
		{"Mixed Frames", []any{1, "two", []float64{3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt := &MockTransport{}
			for _, f := range tt.frames {
				if err := mt.Send(f); err != nil {
					t.Errorf("Send() error = %v", err)
				}
			}

			got := mt.Frames()
			if len(got) != len(tt.frames) {
				t.Errorf("stored %d frames, want %d", len(got), len(tt.frames))
			}
			if len(got) > 0 {
				got[0] = "mutated"
				if mt.Frames()[0] == "mutated" {
					t.Errorf("Frames() returned the internal slice")
				}
			}

			if mt.Closed() {
				t.Error("closed before Close")
			}
			_ = mt.Close()
			if !mt.Closed() {
				t.Error("not closed after Close")
			}
		})
	}
}

func TestToInt16(t *testing.T) {
	tests := []struct {
		in   float64
		want int16
	}{
		{0, 0},
		{0.5, 16384},
		{-0.5, -16384},
		{1, math.MaxInt16},
		{-1, math.MinInt16},
		{2, math.MaxInt16},
		{-2, math.MinInt16},
	}
	for _, tt := range tests {
		if got := toInt16(tt.in); got != tt.want {
			t.Errorf("toInt16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestGenerateSineWave(t *testing.T) {
	// 1500 Hz at 12 kHz repeats every 8 samples and hits its crest at i=2.
	wave := GenerateSineWave(1024, 12000, 1500, 0.9)
	if len(wave) != 1024 {
		t.Fatalf("len = %d, want 1024", len(wave))
	}

	crest := int16(math.Round(0.9 * 32768))
	if wave[2] != crest || wave[6] != -crest {
		t.Errorf("crest/trough = %d/%d, want ±%d", wave[2], wave[6], crest)
	}
	for i := 8; i < len(wave); i++ {
		if d := int(wave[i]) - int(wave[i-8]); d < -1 || d > 1 {
			t.Fatalf("sample %d = %d, period start %d", i, wave[i], wave[i-8])
		}
	}

	if got := GenerateSineWave(16, 12000, 1500, 0); got[2] != 0 {
		t.Errorf("zero amplitude produced %d", got[2])
	}
}

func TestGenerateComplexWave(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		sampleRate float64
	}{
		{"Consumer Rate", 1024, 12000},
		{"Small", 16, 8000},
		{"Capture Rate", 8192, 48000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wave := GenerateComplexWave(tt.size, tt.sampleRate)
			if len(wave) != tt.size {
				t.Fatalf("len = %d, want %d", len(wave), tt.size)
			}

			// Component amplitudes sum to 0.8, so the mix never clips.
			limit := int16(math.Round(0.8 * 32768))
			nonZero := false
			for i, v := range wave {
				if v > limit || v < -limit {
					t.Fatalf("sample %d = %d exceeds %d", i, v, limit)
				}
				nonZero = nonZero || v != 0
			}
			if !nonZero {
				t.Error("all zeros")
			}
		})
	}
}

func TestFindPeakBin(t *testing.T) {
	const size = 1024
	mags := hill(size, size/4)

	tests := []struct {
		name     string
		mags     []float64
		start    int
		end      int
		expected int
	}{
		{"Full Range", mags, 0, size - 1, size / 4},
		{"Partial Range Start", mags, size / 8, size - 1, size / 4},
		{"Range Past Peak", mags, size / 2, size - 1, size / 2},
		{"Negative Start", mags, -10, size - 1, size / 4},
		{"Out of Range End", mags, 0, size * 2, size / 4},
		{"Empty Slice", []float64{}, 0, 10, 0},
		{"Single Value", []float64{1.0}, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FindPeakBin(tt.mags, tt.start, tt.end); got != tt.expected {
				t.Errorf("FindPeakBin() = %d, want %d", got, tt.expected)
			}
		})
	}

	allocs := testing.AllocsPerRun(100, func() {
		FindPeakBin(mags, 0, len(mags)-1)
	})
	if allocs > 0 {
		t.Errorf("FindPeakBin allocated memory: got %.1f allocs, want 0", allocs)
	}
}

func BenchmarkGenerators(b *testing.B) {
	for _, size := range []int{64, 1024, 8192} {
		b.Run("Complex", func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				GenerateComplexWave(size, 12000)
			}
		})
		b.Run("Sine", func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				GenerateSineWave(size, 12000, 1500, 0.9)
			}
		})
	}
}

func BenchmarkFindPeakBin(b *testing.B) {
	mags := hill(8192, 4096)
	b.ReportAllocs()
	for b.Loop() {
		FindPeakBin(mags, 0, len(mags)-1)
	}
}
