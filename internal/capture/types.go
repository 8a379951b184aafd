// SPDX-License-Identifier: MIT
/*
Package capture bridges a push-based real-time sample producer to a
pull-based, duration-addressed consumer and meters the captured signal.

The pieces, leaves first:
- LevelMeter computes RMS, peak-with-hold and a rolling average per chunk
- SourceProbe finds the first (mode, rate) candidate the device accepts
- StreamingBuffer is a bounded sample FIFO with drop-oldest overflow and
  lazy sample-rate conversion
- Connection owns all of the above plus the producer goroutine and exposes
  the lifecycle state machine

Thread Safety:
- One producer goroutine per Connection writes; any number of consumers read
- StreamingBuffer operations are atomic per call
- Counters are atomics and are read through copy-on-read Stats snapshots
*/
package capture

import (
	"context"
	"fmt"
	"time"
)

// MaxSampleMagnitude normalises signed 16-bit samples into [-1, 1].
const MaxSampleMagnitude = 32768.0

// CaptureMode names a device capture configuration. The device layer decides
// what each mode means; the probe only orders and reports them.
type CaptureMode string

const (
	ModeDefault     CaptureMode = "default"
	ModeLowLatency  CaptureMode = "low-latency"
	ModeHighLatency CaptureMode = "high-latency"
)

// Candidate is one (mode, sample rate) pairing tried during probing.
type Candidate struct {
	Mode       CaptureMode
	SampleRate int
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s@%dHz", c.Mode, c.SampleRate)
}

// SampleChunk is one batch of mono samples produced by a single device read
// or by the resampler. Chunks are never mutated after being handed on.
type SampleChunk struct {
	Samples     []int16
	TimestampMs int64 // monotonic milliseconds since the connection was created
	SampleRate  int
	Sequence    uint64
}

// DurationMs returns the audio duration the chunk represents.
func (c SampleChunk) DurationMs() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate) * 1000
}

// Device is an opened capture device. Read blocks until a chunk is available
// and is the only intended blocking point of the pipeline.
//
// Read errors are classified by the producer: ErrZeroRead (or a zero count
// with a nil error) is transient, everything else is fatal. Implementations
// wrap ErrDeviceDisconnected for dead-object style failures.
type Device interface {
	Start() error
	Read(buf []int16) (int, error)
	Stop() error
	Release() error

	// Initialized reports whether the device reached a usable state after open.
	Initialized() bool
	// FramesPerRead is the negotiated chunk size in samples.
	FramesPerRead() int
	// Latency is the negotiated input latency.
	Latency() time.Duration
}

// Opener opens a capture device for a candidate configuration.
type Opener interface {
	Open(ctx context.Context, c Candidate) (Device, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, c Candidate) (Device, error)

func (f OpenerFunc) Open(ctx context.Context, c Candidate) (Device, error) {
	return f(ctx, c)
}

// NegotiatedConfig is the outcome of a successful probe. Device is left open
// and ready to start; the caller owns releasing it.
type NegotiatedConfig struct {
	Candidate     Candidate
	FramesPerRead int
	Latency       time.Duration
	Device        Device
}

func (n *NegotiatedConfig) String() string {
	return fmt.Sprintf("%s, %d frames/read, latency %s", n.Candidate, n.FramesPerRead, n.Latency)
}
