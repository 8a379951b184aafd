// SPDX-License-Identifier: MIT
package capture

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

// Resampler converts chunks from one fixed input rate to a target rate. It is
// stateful across chunks of the same stream; Reset clears the filter history.
type Resampler interface {
	Resample(chunk SampleChunk, targetRate int) (SampleChunk, error)
	Reset()
}

// ResamplerFactory builds a resampler for an input/output rate pairing.
type ResamplerFactory func(inputRate, outputRate int) (Resampler, error)

const (
	// defaultHalfTaps is the number of filter taps on each side of the centre.
	defaultHalfTaps = 16
	// windowTableSize is the resolution of the tabulated window.
	windowTableSize = 2048
	// cutoffRolloff keeps the pass band slightly below Nyquist of the slower rate.
	cutoffRolloff = 0.95
)

// SincResampler is a windowed-sinc streaming resampler. Output sample k is
// centred on input position k*step, delayed by halfTaps input samples so a
// chunk of n inputs yields n/step outputs without waiting for lookahead.
type SincResampler struct {
	inRate  int
	outRate int
	step    float64 // input samples per output sample
	cutoff  float64 // cycles per input sample

	halfTaps int
	table    []float64 // Blackman window sampled over [0, 1]

	history []float64
	pos     float64 // centre of the next output, in history coordinates
	weights []float64
}

var _ Resampler = (*SincResampler)(nil)

// NewSincResampler creates a resampler from inputRate to outputRate.
func NewSincResampler(inputRate, outputRate int) (*SincResampler, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got %d -> %d", inputRate, outputRate)
	}

	slower := math.Min(float64(inputRate), float64(outputRate))
	table := make([]float64, windowTableSize+1)
	for i := range table {
		table[i] = 1.0
	}
	window.Blackman(table)

	r := &SincResampler{
		inRate:   inputRate,
		outRate:  outputRate,
		step:     float64(inputRate) / float64(outputRate),
		cutoff:   cutoffRolloff * slower / 2 / float64(inputRate),
		halfTaps: defaultHalfTaps,
		table:    table,
		weights:  make([]float64, 2*defaultHalfTaps),
	}
	r.Reset()
	return r, nil
}

// NewSincResamplerFactory adapts NewSincResampler to a ResamplerFactory.
func NewSincResamplerFactory() ResamplerFactory {
	return func(inputRate, outputRate int) (Resampler, error) {
		return NewSincResampler(inputRate, outputRate)
	}
}

// Reset discards the filter history.
func (r *SincResampler) Reset() {
	// 2*halfTaps of leading silence: halfTaps for the delay and halfTaps for
	// the left side of the first kernel.
	r.history = make([]float64, 2*r.halfTaps, 2*r.halfTaps+4096)
	r.pos = float64(r.halfTaps)
}

// Resample converts chunk to targetRate. The chunk must be at the input rate
// the resampler was built for and targetRate must match its output rate.
func (r *SincResampler) Resample(chunk SampleChunk, targetRate int) (SampleChunk, error) {
	if chunk.SampleRate != r.inRate {
		return SampleChunk{}, fmt.Errorf("chunk rate %d Hz does not match resampler input %d Hz", chunk.SampleRate, r.inRate)
	}
	if targetRate != r.outRate {
		return SampleChunk{}, fmt.Errorf("target rate %d Hz does not match resampler output %d Hz", targetRate, r.outRate)
	}

	for _, s := range chunk.Samples {
		r.history = append(r.history, float64(s))
	}

	out := make([]int16, 0, int(float64(len(chunk.Samples))/r.step)+1)
	last := len(r.history) - 1
	for int(r.pos)+r.halfTaps <= last {
		out = append(out, toInt16(r.interpolate(r.pos)))
		r.pos += r.step
	}

	// Keep only what the next kernel can still reach.
	if drop := int(r.pos) - r.halfTaps; drop > 0 {
		n := copy(r.history, r.history[drop:])
		r.history = r.history[:n]
		r.pos -= float64(drop)
	}

	return SampleChunk{
		Samples:     out,
		TimestampMs: chunk.TimestampMs,
		SampleRate:  r.outRate,
		Sequence:    chunk.Sequence,
	}, nil
}

// interpolate evaluates the normalised kernel centred at pos.
func (r *SincResampler) interpolate(pos float64) float64 {
	base := math.Floor(pos)
	frac := pos - base
	i0 := int(base)

	var sum float64
	for j := -r.halfTaps + 1; j <= r.halfTaps; j++ {
		x := float64(j) - frac
		w := r.sinc(2*r.cutoff*x) * r.windowAt(x)
		r.weights[j+r.halfTaps-1] = w
		sum += w
	}
	if sum == 0 {
		return 0
	}

	taps := r.history[i0-r.halfTaps+1 : i0+r.halfTaps+1]
	return floats.Dot(r.weights, taps) / sum
}

func (r *SincResampler) sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// windowAt linearly interpolates the tabulated window at offset x from the
// kernel centre, x in [-halfTaps, halfTaps].
func (r *SincResampler) windowAt(x float64) float64 {
	u := (x + float64(r.halfTaps)) / float64(2*r.halfTaps) * windowTableSize
	if u <= 0 || u >= windowTableSize {
		return 0
	}
	i := int(u)
	f := u - float64(i)
	return r.table[i]*(1-f) + r.table[i+1]*f
}

func toInt16(v float64) int16 {
	v = math.Round(v)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
