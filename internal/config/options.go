// SPDX-License-Identifier: MIT
package config

import (
	"wsprcap/internal/capture"
	"wsprcap/pkg/bitint"
)

// Candidates returns the probe list in configured order.
func (c *Config) Candidates() []capture.Candidate {
	out := make([]capture.Candidate, len(c.Audio.Candidates))
	for i, cc := range c.Audio.Candidates {
		out[i] = capture.Candidate{Mode: capture.CaptureMode(cc.Mode), SampleRate: cc.SampleRate}
	}
	return out
}

// BufferConfiguration converts the millisecond bounds to samples at the
// consumer rate.
func (c *Config) BufferConfiguration() capture.BufferConfiguration {
	return capture.BufferConfigurationFromDurations(
		c.Buffer.ConsumerRate,
		c.Buffer.MaximumMs,
		c.Buffer.TargetMs,
		c.Buffer.MinimumMs,
	)
}

// CaptureOptions builds connection options from the configuration.
func (c *Config) CaptureOptions() capture.Options {
	return capture.Options{
		Candidates:   c.Candidates(),
		Buffer:       c.BufferConfiguration(),
		ConsumerRate: c.Buffer.ConsumerRate,
		Meter: capture.MeterConfig{
			HoldMs:     c.Meter.HoldMs,
			NoiseGate:  c.Meter.NoiseGate,
			WindowSize: c.Meter.WindowSize,
		},
		CandidateTimeout: c.Probe.CandidateTimeout,
		StopTimeout:      c.Probe.StopTimeout,
	}
}

// FFTSize returns the configured spectrum size, or the power of two covering
// one pull interval when unset.
func (c *Config) FFTSize() int {
	if c.Spectrum.FFTSize > 0 {
		return c.Spectrum.FFTSize
	}
	return bitint.FramesToPowerOfTwo(c.Buffer.ConsumerRate, c.Buffer.PullMs)
}
