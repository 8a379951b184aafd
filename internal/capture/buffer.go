// SPDX-License-Identifier: MIT
package capture

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	applog "wsprcap/internal/log"
)

// overflowLogInterval rate limits overflow warnings from the producer.
const overflowLogInterval = time.Second

// BufferStats is a copy-on-read view of the buffer counters.
type BufferStats struct {
	Size        int     `json:"size"`
	BufferedMs  float64 `json:"buffered_ms"`
	Utilization int     `json:"utilization_percent"`
	Pushed      uint64  `json:"pushed"`
	Evicted     uint64  `json:"evicted"`
	Pulled      uint64  `json:"pulled"`
	Underruns   uint64  `json:"underruns"`
	Resampled   uint64  `json:"resampled_chunks"`
}

// StreamingBuffer is a bounded FIFO of samples at the consumer rate. Push
// never blocks: once the buffer exceeds its maximum the oldest samples are
// evicted and counted. Pull never blocks: it returns what is available up to
// the requested duration.
//
// StreamingBuffer is safe for one producer and any number of consumers.
type StreamingBuffer struct {
	cfg          BufferConfiguration
	consumerRate int

	mu   sync.Mutex
	ring []int16
	head int
	size int

	lastOverflowLog time.Time
	overflowSince   uint64 // evictions not yet reported

	// resampleMu serialises resampler access so Pull is not held up by
	// filtering in Push.
	resampleMu   sync.Mutex
	resamplers   map[int]Resampler
	newResampler ResamplerFactory

	pushed    atomic.Uint64
	evicted   atomic.Uint64
	pulled    atomic.Uint64
	underruns atomic.Uint64
	resampled atomic.Uint64

	now func() time.Time
	log applog.Logger
}

// BufferOption customises a StreamingBuffer.
type BufferOption func(*StreamingBuffer)

// WithResamplerFactory replaces the default SincResampler factory.
func WithResamplerFactory(f ResamplerFactory) BufferOption {
	return func(b *StreamingBuffer) {
		if f != nil {
			b.newResampler = f
		}
	}
}

// WithClock replaces time.Now for overflow log rate limiting.
func WithClock(now func() time.Time) BufferOption {
	return func(b *StreamingBuffer) {
		if now != nil {
			b.now = now
		}
	}
}

// NewStreamingBuffer validates cfg and allocates a buffer delivering samples at
// consumerRate. Invalid input returns a *ConfigError.
func NewStreamingBuffer(cfg BufferConfiguration, consumerRate int, opts ...BufferOption) (*StreamingBuffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if consumerRate <= 0 {
		return nil, &ConfigError{
			Fields: []string{"ConsumerRate"},
			Err:    fmt.Errorf("consumer sample rate must be positive, got %d", consumerRate),
		}
	}

	b := &StreamingBuffer{
		cfg:          cfg,
		consumerRate: consumerRate,
		ring:         make([]int16, cfg.Maximum),
		resamplers:   make(map[int]Resampler),
		newResampler: NewSincResamplerFactory(),
		now:          time.Now,
		log:          applog.With("Buffer"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Config returns the immutable buffer bounds.
func (b *StreamingBuffer) Config() BufferConfiguration { return b.cfg }

// ConsumerRate returns the rate samples are delivered at.
func (b *StreamingBuffer) ConsumerRate() int { return b.consumerRate }

// Push appends chunk, converting it to the consumer rate first if needed. A
// resampler is created on the first chunk of each input rate and reused. On
// conversion failure a *ResampleError is returned and nothing is buffered.
func (b *StreamingBuffer) Push(chunk SampleChunk) error {
	if chunk.SampleRate != b.consumerRate && len(chunk.Samples) > 0 {
		converted, err := b.resample(chunk)
		if err != nil {
			return err
		}
		chunk = converted
	}
	if len(chunk.Samples) == 0 {
		return nil
	}

	b.mu.Lock()
	evicted := b.appendLocked(chunk.Samples)
	b.pushed.Add(uint64(len(chunk.Samples)))
	if evicted > 0 {
		b.evicted.Add(uint64(evicted))
		b.reportOverflowLocked(uint64(evicted))
	}
	b.mu.Unlock()
	return nil
}

func (b *StreamingBuffer) resample(chunk SampleChunk) (SampleChunk, error) {
	b.resampleMu.Lock()
	defer b.resampleMu.Unlock()

	r, ok := b.resamplers[chunk.SampleRate]
	if !ok {
		var err error
		r, err = b.newResampler(chunk.SampleRate, b.consumerRate)
		if err != nil {
			return SampleChunk{}, &ResampleError{FromRate: chunk.SampleRate, ToRate: b.consumerRate, Err: err}
		}
		b.resamplers[chunk.SampleRate] = r
		b.log.Infof("created resampler %d Hz -> %d Hz", chunk.SampleRate, b.consumerRate)
	}

	out, err := r.Resample(chunk, b.consumerRate)
	if err != nil {
		return SampleChunk{}, &ResampleError{FromRate: chunk.SampleRate, ToRate: b.consumerRate, Err: err}
	}
	b.resampled.Add(1)
	return out, nil
}

// appendLocked writes samples at the tail and evicts from the head so that
// size never exceeds the maximum. It returns the number of evicted samples.
func (b *StreamingBuffer) appendLocked(samples []int16) int {
	capacity := len(b.ring)
	evicted := 0

	if excess := b.size + len(samples) - capacity; excess > 0 {
		evicted = excess
		if excess >= b.size {
			// Everything buffered goes, plus the front of the incoming chunk.
			samples = samples[excess-b.size:]
			b.head, b.size = 0, 0
		} else {
			b.head = (b.head + excess) % capacity
			b.size -= excess
		}
	}

	tail := (b.head + b.size) % capacity
	n := copy(b.ring[tail:], samples)
	copy(b.ring, samples[n:])
	b.size += len(samples)
	return evicted
}

func (b *StreamingBuffer) reportOverflowLocked(evicted uint64) {
	b.overflowSince += evicted
	now := b.now()
	if now.Sub(b.lastOverflowLog) < overflowLogInterval {
		return
	}
	b.log.Warnf("overflow, dropped %d oldest sample(s) (%.1f ms)",
		b.overflowSince, float64(b.overflowSince)/float64(b.consumerRate)*1000)
	b.lastOverflowLog = now
	b.overflowSince = 0
}

// Pull removes and returns round(durationMs/1000 * consumerRate) samples from
// the head. When fewer are buffered it returns everything available,
// including for durations too long to express as a sample count.
func (b *StreamingBuffer) Pull(durationMs int) []int16 {
	exact := math.Round(float64(durationMs) / 1000 * float64(b.consumerRate))
	if exact < 1 {
		return []int16{}
	}
	required := math.MaxInt
	if exact < float64(math.MaxInt) {
		required = int(exact)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := min(required, b.size)
	out := make([]int16, n)
	capacity := len(b.ring)
	first := copy(out, b.ring[b.head:min(b.head+n, capacity)])
	copy(out[first:], b.ring[:n-first])

	b.head = (b.head + n) % capacity
	b.size -= n
	if b.size == 0 {
		b.head = 0
	}

	b.pulled.Add(uint64(n))
	if n < required {
		b.underruns.Add(1)
		if b.size < b.cfg.Minimum {
			b.log.Debugf("short read, %d of %d sample(s)", n, required)
		}
	}
	return out
}

// Size returns the number of buffered samples.
func (b *StreamingBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// DurationBuffered returns the buffered audio in milliseconds.
func (b *StreamingBuffer) DurationBuffered() float64 {
	return float64(b.Size()) / float64(b.consumerRate) * 1000
}

// UtilizationPercent returns size/maximum as an integer percentage in [0, 100].
func (b *StreamingBuffer) UtilizationPercent() int {
	return b.Size() * 100 / b.cfg.Maximum
}

// Ready reports whether at least Target samples are buffered.
func (b *StreamingBuffer) Ready() bool {
	return b.Size() >= b.cfg.Target
}

// Reset clears all samples, counters and resampler state.
func (b *StreamingBuffer) Reset() {
	b.resampleMu.Lock()
	for _, r := range b.resamplers {
		r.Reset()
	}
	clear(b.resamplers)
	b.resampleMu.Unlock()

	b.mu.Lock()
	b.head, b.size = 0, 0
	b.overflowSince = 0
	b.lastOverflowLog = time.Time{}
	b.mu.Unlock()

	b.pushed.Store(0)
	b.evicted.Store(0)
	b.pulled.Store(0)
	b.underruns.Store(0)
	b.resampled.Store(0)
}

// Stats returns a snapshot of the buffer counters.
func (b *StreamingBuffer) Stats() BufferStats {
	size := b.Size()
	return BufferStats{
		Size:        size,
		BufferedMs:  float64(size) / float64(b.consumerRate) * 1000,
		Utilization: size * 100 / b.cfg.Maximum,
		Pushed:      b.pushed.Load(),
		Evicted:     b.evicted.Load(),
		Pulled:      b.pulled.Load(),
		Underruns:   b.underruns.Load(),
		Resampled:   b.resampled.Load(),
	}
}
