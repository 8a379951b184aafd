// SPDX-License-Identifier: MIT
package capture

import (
	"math"
	"testing"
)

func TestSincResamplerOutputCount(t *testing.T) {
	tests := []struct {
		name    string
		in, out int
		chunk   int
		want    int
	}{
		{"48k to 12k", 48000, 12000, 480, 120},
		{"24k to 12k", 24000, 12000, 240, 120},
		{"12k to 48k", 12000, 48000, 120, 480},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewSincResampler(tt.in, tt.out)
			if err != nil {
				t.Fatalf("NewSincResampler() error = %v", err)
			}
			for i := range 5 {
				got, err := r.Resample(chunkAt(tt.in, constant(100, tt.chunk)), tt.out)
				if err != nil {
					t.Fatalf("Resample() error = %v", err)
				}
				if len(got.Samples) != tt.want {
					t.Errorf("chunk %d: %d samples, want %d", i, len(got.Samples), tt.want)
				}
				if got.SampleRate != tt.out {
					t.Errorf("chunk %d: rate %d, want %d", i, got.SampleRate, tt.out)
				}
			}
		})
	}
}

func TestSincResamplerNonIntegerRatio(t *testing.T) {
	r, _ := NewSincResampler(44100, 12000)
	total := 0
	for range 100 {
		out, err := r.Resample(chunkAt(44100, constant(100, 441)), 12000)
		if err != nil {
			t.Fatalf("Resample() error = %v", err)
		}
		total += len(out.Samples)
	}
	// One second of input is one second of output, give or take the edge.
	if total < 11999 || total > 12001 {
		t.Errorf("got %d samples for one second, want ~12000", total)
	}
}

func TestSincResamplerPreservesDC(t *testing.T) {
	r, _ := NewSincResampler(48000, 12000)
	_, _ = r.Resample(chunkAt(48000, constant(10000, 480)), 12000) // settle

	out, _ := r.Resample(chunkAt(48000, constant(10000, 480)), 12000)
	for i, s := range out.Samples {
		if math.Abs(float64(s)-10000) > 2 {
			t.Fatalf("sample %d = %d, want 10000", i, s)
		}
	}
}

func TestSincResamplerPassesInBandTone(t *testing.T) {
	const freq = 1500.0 // WSPR audio centre
	r, _ := NewSincResampler(48000, 12000)

	var out []int16
	phase := 0
	for range 10 {
		in := make([]int16, 480)
		for i := range in {
			in[i] = int16(16000 * math.Sin(2*math.Pi*freq*float64(phase)/48000))
			phase++
		}
		chunk, _ := r.Resample(chunkAt(48000, in), 12000)
		out = append(out, chunk.Samples...)
	}

	// Skip the filter warm-up and measure RMS against the ideal 16000/sqrt(2).
	var sum float64
	tail := out[len(out)/2:]
	for _, s := range tail {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(tail)))
	if want := 16000 / math.Sqrt2; math.Abs(rms-want)/want > 0.02 {
		t.Errorf("in-band RMS = %.0f, want %.0f within 2%%", rms, want)
	}
}

func TestSincResamplerRateMismatch(t *testing.T) {
	r, _ := NewSincResampler(48000, 12000)

	if _, err := r.Resample(chunkAt(44100, constant(1, 10)), 12000); err == nil {
		t.Error("expected error for wrong input rate")
	}
	if _, err := r.Resample(chunkAt(48000, constant(1, 10)), 8000); err == nil {
		t.Error("expected error for wrong target rate")
	}
}

func TestNewSincResamplerInvalidRates(t *testing.T) {
	for _, rates := range [][2]int{{0, 12000}, {48000, 0}, {-1, 12000}} {
		if _, err := NewSincResampler(rates[0], rates[1]); err == nil {
			t.Errorf("NewSincResampler(%d, %d) succeeded", rates[0], rates[1])
		}
	}
}

func TestSincResamplerReset(t *testing.T) {
	r, _ := NewSincResampler(48000, 12000)
	first, _ := r.Resample(chunkAt(48000, constant(8000, 480)), 12000)
	_, _ = r.Resample(chunkAt(48000, constant(-8000, 480)), 12000)

	r.Reset()
	again, _ := r.Resample(chunkAt(48000, constant(8000, 480)), 12000)

	if len(first.Samples) != len(again.Samples) {
		t.Fatalf("lengths differ after Reset: %d vs %d", len(first.Samples), len(again.Samples))
	}
	for i := range first.Samples {
		if first.Samples[i] != again.Samples[i] {
			t.Fatalf("sample %d differs after Reset: %d vs %d", i, first.Samples[i], again.Samples[i])
		}
	}
}

func BenchmarkSincResampler(b *testing.B) {
	r, _ := NewSincResampler(48000, 12000)
	chunk := chunkAt(48000, constant(1000, 480))
	b.ReportAllocs()
	for b.Loop() {
		_, _ = r.Resample(chunk, 12000)
	}
}
