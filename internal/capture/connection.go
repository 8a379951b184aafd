// SPDX-License-Identifier: MIT
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	applog "wsprcap/internal/log"
)

// subscriberBacklog is the channel depth handed out by Subscribe.
const subscriberBacklog = 16

// Connection owns one capture device for its lifetime: it probes for a
// working configuration, runs the producer goroutine that feeds the buffer
// and meter, and exposes the lifecycle state machine.
//
//	Uninitialized -> Probing -> Ready -> Streaming -> Stopping -> Stopped
//	Stopped -> Streaming
//	Probing | Streaming -> Faulted (terminal)
//	any -> Uninitialized via Disconnect (closes the instance)
type Connection struct {
	id     string
	opener Opener
	opts   Options
	epoch  time.Time
	log    applog.Logger

	mu         sync.Mutex
	state      State
	fault      error
	closed     bool
	negotiated *NegotiatedConfig
	starting   bool // Device.Start in progress outside mu
	cancel     context.CancelFunc
	done       chan struct{} // closed when the last producer exits

	subMu      sync.Mutex
	subs       []chan StateChange
	subsClosed bool

	buffer atomic.Pointer[StreamingBuffer]
	level  atomic.Pointer[LevelSnapshot]
	meter  *LevelMeter // producer goroutine only

	seq        atomic.Uint64
	chunks     atomic.Uint64
	samples    atomic.Uint64
	zeroReads  atomic.Uint64
	pushErrors atomic.Uint64
}

// NewConnection creates an uninitialized connection over opener.
func NewConnection(opener Opener, opts Options) *Connection {
	opts = opts.withDefaults()
	id := uuid.NewString()
	return &Connection{
		id:     id,
		opener: opener,
		opts:   opts,
		epoch:  opts.Clock(),
		log:    applog.With("Capture " + id[:8]),
		meter:  NewLevelMeter(opts.Meter),
	}
}

// ID returns the unique identifier of this connection.
func (c *Connection) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Fault returns the reason for the Faulted state, or nil.
func (c *Connection) Fault() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fault
}

// Config returns the negotiated configuration once probing succeeded.
func (c *Connection) Config() *NegotiatedConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.negotiated
}

// Buffer returns the streaming buffer, or nil before Initialize succeeds and
// after Disconnect.
func (c *Connection) Buffer() *StreamingBuffer {
	return c.buffer.Load()
}

// Initialize validates the buffer configuration and probes the candidates.
// Configuration problems fault the connection and are returned as
// *ConfigError or *ProbeFailure.
func (c *Connection) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateUninitialized {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot initialize from %s", ErrInvalidState, state)
	}

	buf, err := NewStreamingBuffer(c.opts.Buffer, c.opts.ConsumerRate, WithResamplerFactory(c.opts.ResamplerFactory))
	if err != nil {
		change := c.transitionLocked(StateFaulted, err)
		c.mu.Unlock()
		c.notify(change)
		return err
	}
	change := c.transitionLocked(StateProbing, nil)
	c.mu.Unlock()
	c.notify(change)

	cfg, err := NewSourceProbe(c.opener, c.opts.CandidateTimeout).Probe(ctx, c.opts.Candidates)

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		if cfg != nil {
			releaseQuietly(cfg.Device, c.log)
		}
		return ErrClosed

	case c.state != StateProbing:
		// Faulted by NotifyDeviceLost while probing.
		fault := c.fault
		c.mu.Unlock()
		if cfg != nil {
			releaseQuietly(cfg.Device, c.log)
		}
		return fault

	case err != nil:
		change = c.transitionLocked(StateFaulted, err)
		c.mu.Unlock()
		c.notify(change)
		return err
	}

	c.negotiated = cfg
	c.buffer.Store(buf)
	change = c.transitionLocked(StateReady, nil)
	c.mu.Unlock()

	c.log.Infof("ready: %s, delivering %d Hz", cfg, c.opts.ConsumerRate)
	c.notify(change)
	return nil
}

// StartStreaming starts the device and the producer goroutine. It is only
// valid from Ready or Stopped. Device.Start runs without the state lock held.
func (c *Connection) StartStreaming() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateReady && c.state != StateStopped {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot start streaming from %s", ErrInvalidState, state)
	}
	if c.starting {
		c.mu.Unlock()
		return fmt.Errorf("%w: start already in progress", ErrInvalidState)
	}
	if !producerExited(c.done) {
		c.mu.Unlock()
		return fmt.Errorf("%w: previous producer still running", ErrInvalidState)
	}
	from := c.state
	cfg := c.negotiated
	c.starting = true
	c.mu.Unlock()

	startErr := cfg.Device.Start()

	c.mu.Lock()
	c.starting = false
	switch {
	case c.closed:
		// Disconnect released the device while it was starting.
		c.mu.Unlock()
		return ErrClosed

	case c.state != from:
		// Faulted by NotifyDeviceLost while starting.
		fault := c.fault
		c.mu.Unlock()
		if startErr == nil {
			stopQuietly(cfg.Device, c.log)
		}
		return fault

	case startErr != nil:
		err := fmt.Errorf("start device: %w", startErr)
		if !errors.Is(err, ErrDeviceDisconnected) {
			c.mu.Unlock()
			return err
		}
		change := c.transitionLocked(StateFaulted, err)
		c.mu.Unlock()
		c.notify(change)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	change := c.transitionLocked(StateStreaming, nil)
	c.mu.Unlock()

	go c.produce(ctx, cfg, done)

	c.notify(change)
	return nil
}

// StopStreaming cancels the producer, waits up to StopTimeout for it to
// exit and takes the device out of streaming mode. A producer still blocked
// in Read after the timeout gets another StopTimeout once the device has
// stopped. The device handle stays open so streaming can be restarted;
// StartStreaming refuses while the old producer is still running.
func (c *Connection) StopStreaming() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateStreaming {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot stop streaming from %s", ErrInvalidState, state)
	}
	cancel, done, dev := c.cancel, c.done, c.negotiated.Device
	c.cancel = nil
	change := c.transitionLocked(StateStopping, nil)
	c.mu.Unlock()
	c.notify(change)

	cancel()
	exited := c.awaitProducer(done)
	stopQuietly(dev, c.log)
	if !exited {
		// A driver Read may only return once the stream leaves streaming mode.
		if !c.awaitProducer(done) {
			c.log.Warnf("producer did not exit within %s of stopping the device", c.opts.StopTimeout)
		}
	}

	c.mu.Lock()
	if c.state != StateStopping {
		// Faulted while stopping; that outcome stands.
		c.mu.Unlock()
		return nil
	}
	change = c.transitionLocked(StateStopped, nil)
	c.mu.Unlock()
	c.notify(change)
	return nil
}

// NotifyDeviceLost reports an external disconnect or permission revocation.
// An active connection moves to Faulted and its producer is cancelled.
func (c *Connection) NotifyDeviceLost(reason error) {
	fault := ErrDeviceDisconnected
	if reason != nil {
		fault = fmt.Errorf("%w: %w", ErrDeviceDisconnected, reason)
	}

	c.mu.Lock()
	if c.closed || c.state == StateUninitialized || c.state == StateFaulted {
		c.mu.Unlock()
		return
	}
	wasStreaming := c.state == StateStreaming || c.state == StateStopping
	cancel := c.cancel
	var dev Device
	if c.negotiated != nil {
		dev = c.negotiated.Device
	}
	change := c.transitionLocked(StateFaulted, fault)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasStreaming && dev != nil {
		stopQuietly(dev, c.log)
	}
	c.notify(change)
}

// Disconnect stops streaming if active and releases the device, buffer and
// resamplers. It is idempotent; afterwards the connection is closed and
// every lifecycle call returns ErrClosed.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	prev := c.state
	cancel, done, cfg := c.cancel, c.done, c.negotiated
	c.cancel, c.done, c.negotiated = nil, nil, nil
	var change *StateChange
	if prev != StateUninitialized {
		ch := c.transitionLocked(StateUninitialized, nil)
		change = &ch
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	exited := c.awaitProducer(done)
	if cfg != nil && (prev == StateStreaming || prev == StateStopping) {
		stopQuietly(cfg.Device, c.log)
	}
	if !exited && !c.awaitProducer(done) {
		c.log.Warnf("producer did not exit within %s of stopping the device", c.opts.StopTimeout)
	}
	if cfg != nil {
		releaseQuietly(cfg.Device, c.log)
	}
	if buf := c.buffer.Swap(nil); buf != nil {
		buf.Reset()
	}
	c.level.Store(nil)

	c.log.Infof("disconnected from %s", prev)
	if change != nil {
		c.notify(*change)
	}

	c.subMu.Lock()
	c.subsClosed = true
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
	c.subMu.Unlock()
}

// Pull returns up to durationMs of audio at the consumer rate without
// blocking. It fails with ErrNotReady before Initialize succeeds and after
// Disconnect.
func (c *Connection) Pull(durationMs int) ([]int16, error) {
	buf := c.buffer.Load()
	if buf == nil {
		return nil, ErrNotReady
	}
	return buf.Pull(durationMs), nil
}

// CurrentLevel returns the most recent meter snapshot, or a zero snapshot
// if nothing has been captured yet.
func (c *Connection) CurrentLevel() LevelSnapshot {
	if s := c.level.Load(); s != nil {
		return *s
	}
	return LevelSnapshot{}
}

// Stats returns a snapshot of the producer and buffer counters.
func (c *Connection) Stats() Stats {
	c.mu.Lock()
	state, cfg := c.state, c.negotiated
	c.mu.Unlock()

	s := Stats{
		ID:          c.id,
		State:       state,
		ChunksRead:  c.chunks.Load(),
		SamplesRead: c.samples.Load(),
		ZeroReads:   c.zeroReads.Load(),
		PushErrors:  c.pushErrors.Load(),
		Level:       c.CurrentLevel(),
	}
	if cfg != nil {
		s.Candidate = cfg.Candidate.String()
	}
	if buf := c.buffer.Load(); buf != nil {
		s.Buffer = buf.Stats()
	}
	return s
}

// Subscribe returns a channel receiving every subsequent state change.
// Changes are dropped when the channel is full. The channel is closed by
// Disconnect.
func (c *Connection) Subscribe() <-chan StateChange {
	ch := make(chan StateChange, subscriberBacklog)
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.subsClosed {
		close(ch)
		return ch
	}
	c.subs = append(c.subs, ch)
	return ch
}

// produce is the producer loop. Device.Read is the only blocking call;
// cancellation is checked after every read.
func (c *Connection) produce(ctx context.Context, cfg *NegotiatedConfig, done chan<- struct{}) {
	defer close(done)

	frames := cfg.FramesPerRead
	if frames <= 0 {
		frames = defaultFramesPerRead
	}
	readBuf := make([]int16, frames)
	rate := cfg.Candidate.SampleRate

	for {
		n, err := cfg.Device.Read(readBuf)
		if ctx.Err() != nil {
			return
		}

		switch {
		case errors.Is(err, ErrZeroRead), err == nil && n <= 0:
			c.zeroReads.Add(1)
			continue
		case err != nil:
			c.fail(fmt.Errorf("read: %w", err))
			return
		}

		samples := make([]int16, n)
		copy(samples, readBuf[:n])
		ts := c.opts.Clock().Sub(c.epoch).Milliseconds()
		chunk := SampleChunk{
			Samples:     samples,
			TimestampMs: ts,
			SampleRate:  rate,
			Sequence:    c.seq.Add(1) - 1,
		}
		if buf := c.buffer.Load(); buf != nil {
			if err := buf.Push(chunk); err != nil {
				c.pushErrors.Add(1)
				c.log.Warnf("dropped chunk %d: %v", chunk.Sequence, err)
			}
		}

		snap := c.meter.Update(samples, ts)
		c.level.Store(&snap)

		c.samples.Add(uint64(n))
		c.chunks.Add(1)
	}
}

// fail moves a streaming connection to Faulted after a fatal read error.
func (c *Connection) fail(err error) {
	c.mu.Lock()
	if c.state != StateStreaming {
		c.mu.Unlock()
		return
	}
	dev := c.negotiated.Device
	if c.cancel != nil {
		c.cancel()
	}
	change := c.transitionLocked(StateFaulted, err)
	c.mu.Unlock()

	c.log.Errorf("producer stopped: %v", err)
	stopQuietly(dev, c.log)
	c.notify(change)
}

func (c *Connection) awaitProducer(done <-chan struct{}) bool {
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(c.opts.StopTimeout):
		return false
	}
}

// producerExited reports whether the producer owning done has returned.
func producerExited(done <-chan struct{}) bool {
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// transitionLocked records the new state and returns the change to publish
// once c.mu is released.
func (c *Connection) transitionLocked(to State, err error) StateChange {
	change := StateChange{From: c.state, To: to, Err: err, At: c.opts.Clock()}
	c.state = to
	if to == StateFaulted {
		c.fault = err
	}
	return change
}

func (c *Connection) notify(change StateChange) {
	if change.Err != nil {
		c.log.Warnf("%s", change)
	} else {
		c.log.Debugf("%s", change)
	}

	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(change)
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- change:
		default:
		}
	}
}
