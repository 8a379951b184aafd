// SPDX-License-Identifier: MIT
package config

import "time"

// Core configuration constants that define the boundaries and defaults
// for the capture bridge.
const (
	// Audio device settings
	DefaultDeviceID        = MinDeviceID // System default input device
	DefaultFramesPerBuffer = 0           // 0 reads 10 ms per chunk at the negotiated rate
	DefaultCaptureRate     = 48000       // USB audio codecs run natively at 48 kHz

	// Streaming buffer, in milliseconds of consumer audio
	DefaultConsumerRate = 12000   // WSPR decoder input rate
	DefaultMaximumMs    = 150_000 // A full two-minute cycle plus slack
	DefaultTargetMs     = 114_000 // One WSPR transmission
	DefaultMinimumMs    = 1_000
	DefaultPullMs       = 1_000 // Consumer read size per tick

	// Level metering
	DefaultPeakHoldMs       = 1500
	DefaultNoiseGate        = 0.001
	DefaultAverageWindow    = 4800
	DefaultSilenceThreshold = 0.01
	DefaultClipThreshold    = 0.95

	// Probing and teardown
	DefaultCandidateTimeout = 3 * time.Second
	DefaultStopTimeout      = 2 * time.Second

	// Spectrum monitor, WSPR audio passband
	DefaultFFTSize    = 4096
	DefaultBandLowHz  = 1400
	DefaultBandHighHz = 1600
	DefaultWindow     = "hann"

	// Monitor transports
	DefaultWebSocketPort   = "8080"
	DefaultUDPTarget       = "127.0.0.1:9090"
	DefaultUDPSendInterval = 100 * time.Millisecond

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per device read
)

// Default returns the built-in configuration used when no file is found.
func Default() Config {
	return Config{
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			FramesPerBuffer: DefaultFramesPerBuffer,
			Candidates: []CandidateConfig{
				{Mode: "default", SampleRate: DefaultCaptureRate},
				{Mode: "low-latency", SampleRate: DefaultCaptureRate},
				{Mode: "high-latency", SampleRate: DefaultCaptureRate},
				{Mode: "default", SampleRate: 44100},
			},
		},
		Buffer: BufferConfig{
			ConsumerRate: DefaultConsumerRate,
			MaximumMs:    DefaultMaximumMs,
			TargetMs:     DefaultTargetMs,
			MinimumMs:    DefaultMinimumMs,
			PullMs:       DefaultPullMs,
		},
		Meter: MeterConfig{
			HoldMs:           DefaultPeakHoldMs,
			NoiseGate:        DefaultNoiseGate,
			WindowSize:       DefaultAverageWindow,
			SilenceThreshold: DefaultSilenceThreshold,
			ClipThreshold:    DefaultClipThreshold,
		},
		Probe: ProbeConfig{
			CandidateTimeout: DefaultCandidateTimeout,
			StopTimeout:      DefaultStopTimeout,
		},
		Recording: RecordingConfig{
			Enabled:   false,
			OutputDir: "./recordings",
			BitDepth:  16,
		},
		Spectrum: SpectrumConfig{
			Enabled:    true,
			FFTSize:    DefaultFFTSize,
			BandLowHz:  DefaultBandLowHz,
			BandHighHz: DefaultBandHighHz,
			Window:     DefaultWindow,
		},
		Transport: TransportConfig{
			WebSocketEnabled: false,
			WebSocketPort:    DefaultWebSocketPort,
			UDPEnabled:       false,
			UDPTargetAddress: DefaultUDPTarget,
			UDPSendInterval:  DefaultUDPSendInterval,
		},
	}
}
