// SPDX-License-Identifier: MIT
/*
Package audio is the PortAudio device layer of the capture bridge:
- Device discovery and listing
- A capture.Opener that opens blocking mono int16 input streams per
  (mode, sample rate) candidate
- Classification of PortAudio error codes into transient and fatal reads

Thread Safety:
- A Stream is read by a single producer goroutine
- Stop and Release may be called from any goroutine and are idempotent
- PortAudio must be initialized for the lifetime of any open Stream
*/
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"wsprcap/internal/capture"
	applog "wsprcap/internal/log"
)

// paStream is the subset of *portaudio.Stream used for blocking capture.
type paStream interface {
	Start() error
	Read() error
	Stop() error
	Close() error
	Info() *portaudio.StreamInfo
}

// Stream constructors, replaced in tests.
var (
	paIsFormatSupported = func(p portaudio.StreamParameters, buf []int16) error {
		return portaudio.IsFormatSupported(p, buf)
	}
	paOpenStream = func(p portaudio.StreamParameters, buf []int16) (paStream, error) {
		s, err := portaudio.OpenStream(p, buf)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
)

// Opener opens PortAudio input streams for probe candidates on one device.
type Opener struct {
	deviceID        int
	framesPerBuffer int
	log             applog.Logger
}

var _ capture.Opener = (*Opener)(nil)

// NewOpener creates an opener for deviceID (-1 for the system default). A
// framesPerBuffer of 0 reads 10 ms per chunk at the candidate rate.
func NewOpener(deviceID, framesPerBuffer int) *Opener {
	return &Opener{
		deviceID:        deviceID,
		framesPerBuffer: framesPerBuffer,
		log:             applog.With("PortAudio"),
	}
}

// Open checks that the device accepts the candidate format and opens a
// blocking mono stream. The stream is returned unstarted.
func (o *Opener) Open(ctx context.Context, c capture.Candidate) (capture.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	device, err := InputDevice(o.deviceID)
	if err != nil {
		return nil, err
	}
	latency, err := latencyFor(device, c.Mode)
	if err != nil {
		return nil, err
	}

	frames := o.framesPerBuffer
	if frames <= 0 {
		frames = c.SampleRate / 100
	}
	buf := make([]int16, frames)

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 1,
			Latency:  latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: frames,
		SampleRate:      float64(c.SampleRate),
	}

	if err := paIsFormatSupported(params, buf); err != nil {
		return nil, fmt.Errorf("%s not supported by %q: %w", c, device.Name, classifyError(err))
	}

	stream, err := paOpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("open %s on %q: %w", c, device.Name, classifyError(err))
	}

	s := &Stream{
		stream:  stream,
		buf:     buf,
		name:    device.Name,
		latency: latency,
		log:     o.log,
	}
	if info := stream.Info(); info != nil && info.InputLatency > 0 {
		s.latency = info.InputLatency
	}
	s.open.Store(true)

	o.log.Debugf("opened %q for %s, %d frames/read, latency %s", device.Name, c, frames, s.latency)
	return s, nil
}

// latencyFor maps a capture mode onto the device's suggested latencies.
// The default mode uses the high latency, which PortAudio recommends for
// robust non-interactive capture.
func latencyFor(device *portaudio.DeviceInfo, mode capture.CaptureMode) (time.Duration, error) {
	switch mode {
	case capture.ModeLowLatency:
		return device.DefaultLowInputLatency, nil
	case capture.ModeDefault, capture.ModeHighLatency:
		return device.DefaultHighInputLatency, nil
	default:
		return 0, fmt.Errorf("unknown capture mode %q", mode)
	}
}

// Stream is an open blocking PortAudio input stream.
type Stream struct {
	stream  paStream
	buf     []int16 // filled by PortAudio on every Read
	name    string
	latency time.Duration
	log     applog.Logger

	open      atomic.Bool
	started   atomic.Bool
	overflows atomic.Uint64
}

var _ capture.Device = (*Stream)(nil)

// Start puts the stream into recording mode.
func (s *Stream) Start() error {
	if !s.open.Load() {
		return capture.ErrDeviceNotInitialized
	}
	if err := s.stream.Start(); err != nil {
		return classifyError(err)
	}
	s.started.Store(true)
	return nil
}

// Read blocks for one buffer of samples and copies it into dst. An input
// overflow still delivers the buffer; the lost audio is only counted.
func (s *Stream) Read(dst []int16) (int, error) {
	if err := s.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return 0, classifyError(err)
		}
		if s.overflows.Add(1) == 1 {
			s.log.Warnf("input overflow on %q, host buffer dropped audio", s.name)
		}
	}
	return copy(dst, s.buf), nil
}

// Stop leaves recording mode. It is a no-op when the stream is not started.
func (s *Stream) Stop() error {
	if !s.started.Swap(false) {
		return nil
	}
	return classifyError(s.stream.Stop())
}

// Release stops the stream if needed and closes it. It is idempotent.
func (s *Stream) Release() error {
	if !s.open.Swap(false) {
		return nil
	}
	stopErr := s.Stop()
	closeErr := s.stream.Close()
	return errors.Join(stopErr, closeErr)
}

// Initialized reports whether the stream is open.
func (s *Stream) Initialized() bool { return s.open.Load() }

// FramesPerRead is the number of samples returned by each Read.
func (s *Stream) FramesPerRead() int { return len(s.buf) }

// Latency is the input latency reported by the host API.
func (s *Stream) Latency() time.Duration { return s.latency }

// Overflows returns how many reads reported lost input.
func (s *Stream) Overflows() uint64 { return s.overflows.Load() }

// classifyError maps PortAudio codes onto the capture error classes. Timeouts
// are transient; codes meaning the device or host API went away are fatal
// disconnects. Everything else is returned unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var paErr portaudio.Error
	if !errors.As(err, &paErr) {
		return err
	}
	switch paErr {
	case portaudio.TimedOut:
		return fmt.Errorf("%w: %w", capture.ErrZeroRead, err)
	case portaudio.DeviceUnavailable, portaudio.UnanticipatedHostError, portaudio.NotInitialized, portaudio.BadStreamPtr:
		return fmt.Errorf("%w: %w", capture.ErrDeviceDisconnected, err)
	}
	return err
}
