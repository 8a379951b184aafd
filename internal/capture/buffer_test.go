// SPDX-License-Identifier: MIT
package capture

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func mustBuffer(t *testing.T, cfg BufferConfiguration, rate int, opts ...BufferOption) *StreamingBuffer {
	t.Helper()
	b, err := NewStreamingBuffer(cfg, rate, opts...)
	if err != nil {
		t.Fatalf("NewStreamingBuffer() error = %v", err)
	}
	return b
}

func chunkAt(rate int, samples []int16) SampleChunk {
	return SampleChunk{Samples: samples, SampleRate: rate}
}

func TestNewStreamingBufferValidation(t *testing.T) {
	tests := []struct {
		name   string
		cfg    BufferConfiguration
		rate   int
		fields []string
	}{
		{"zero maximum", BufferConfiguration{}, 1000, []string{"Maximum"}},
		{"target above maximum", BufferConfiguration{Maximum: 10, Target: 20}, 1000, []string{"Target"}},
		{"minimum above target", BufferConfiguration{Maximum: 10, Target: 5, Minimum: 6}, 1000, []string{"Minimum"}},
		{"negative minimum", BufferConfiguration{Maximum: 10, Target: 5, Minimum: -1}, 1000, []string{"Minimum"}},
		{"zero consumer rate", BufferConfiguration{Maximum: 10}, 0, []string{"ConsumerRate"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStreamingBuffer(tt.cfg, tt.rate)
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("error = %v, want *ConfigError", err)
			}
			if !slices.Equal(cfgErr.Fields, tt.fields) {
				t.Errorf("Fields = %v, want %v", cfgErr.Fields, tt.fields)
			}
		})
	}
}

func TestBufferBoundInvariant(t *testing.T) {
	const maximum = 100
	b := mustBuffer(t, BufferConfiguration{Maximum: maximum}, 1000)
	rng := rand.New(rand.NewPCG(1, 2))

	next := 0
	for range 200 {
		n := rng.IntN(60)
		if err := b.Push(chunkAt(1000, ramp(next, n))); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
		next += n

		if size := b.Size(); size > maximum {
			t.Fatalf("size %d exceeds maximum %d", size, maximum)
		}
	}

	stats := b.Stats()
	if stats.Pushed != uint64(next) {
		t.Errorf("Pushed = %d, want %d", stats.Pushed, next)
	}
	if want := uint64(next - stats.Size); stats.Evicted != want {
		t.Errorf("Evicted = %d, want pushed-size = %d", stats.Evicted, want)
	}

	// Survivors are exactly the newest samples, in order.
	got := b.Pull(1000)
	if want := ramp(next-len(got), len(got)); !slices.Equal(got, want) {
		t.Errorf("survivors are not the newest samples in FIFO order")
	}
}

func TestBufferOversizedChunk(t *testing.T) {
	b := mustBuffer(t, BufferConfiguration{Maximum: 100}, 1000)
	_ = b.Push(chunkAt(1000, ramp(0, 40)))
	_ = b.Push(chunkAt(1000, ramp(40, 250)))

	if b.Size() != 100 {
		t.Fatalf("Size() = %d, want 100", b.Size())
	}
	if got := b.Stats().Evicted; got != 190 {
		t.Errorf("Evicted = %d, want 190", got)
	}
	if got := b.Pull(100); !slices.Equal(got, ramp(190, 100)) {
		t.Errorf("Pull() returned %d samples, want the last 100 in order", len(got))
	}
}

func TestBufferWrapAround(t *testing.T) {
	b := mustBuffer(t, BufferConfiguration{Maximum: 8}, 1000)

	_ = b.Push(chunkAt(1000, ramp(0, 6)))
	if got := b.Pull(4); !slices.Equal(got, ramp(0, 4)) {
		t.Fatalf("first Pull() = %v", got)
	}
	_ = b.Push(chunkAt(1000, ramp(6, 5)))
	_ = b.Push(chunkAt(1000, ramp(11, 3)))

	if got := b.Pull(8); !slices.Equal(got, ramp(6, 8)) {
		t.Errorf("Pull() = %v, want %v", got, ramp(6, 8))
	}
	if got := b.Stats().Evicted; got != 2 {
		t.Errorf("Evicted = %d, want 2", got)
	}
}

func TestBufferPullShortRead(t *testing.T) {
	b := mustBuffer(t, BufferConfiguration{Maximum: 1000}, 1000)
	_ = b.Push(chunkAt(1000, ramp(0, 5)))

	got := b.Pull(10)
	if len(got) != 5 {
		t.Fatalf("Pull(10) returned %d samples, want 5", len(got))
	}
	if b.Size() != 0 {
		t.Errorf("Size() = %d after short read, want 0", b.Size())
	}
	if b.Stats().Underruns != 1 {
		t.Errorf("Underruns = %d, want 1", b.Stats().Underruns)
	}
}

func TestBufferPullExactRead(t *testing.T) {
	const rate = 12000
	const n = 120 // 10 ms
	b := mustBuffer(t, BufferConfiguration{Maximum: rate}, rate)
	_ = b.Push(chunkAt(rate, ramp(0, 2*n)))

	got := b.Pull(10)
	if !slices.Equal(got, ramp(0, n)) {
		t.Fatalf("Pull(10) returned %d samples, want the first %d", len(got), n)
	}
	if b.Size() != n {
		t.Errorf("Size() = %d, want %d", b.Size(), n)
	}
	if b.Stats().Underruns != 0 {
		t.Error("exact read counted as underrun")
	}
}

func TestBufferPullNonPositive(t *testing.T) {
	b := mustBuffer(t, BufferConfiguration{Maximum: 10}, 1000)
	_ = b.Push(chunkAt(1000, ramp(0, 5)))

	for _, ms := range []int{0, -5} {
		if got := b.Pull(ms); len(got) != 0 {
			t.Errorf("Pull(%d) returned %d samples", ms, len(got))
		}
	}
	if b.Size() != 5 {
		t.Errorf("Size() = %d, want 5", b.Size())
	}
}

func TestBufferPullHugeDuration(t *testing.T) {
	b := mustBuffer(t, BufferConfiguration{Maximum: 100}, 12000)
	_ = b.Push(chunkAt(12000, ramp(0, 50)))

	got := b.Pull(math.MaxInt)
	if !slices.Equal(got, ramp(0, 50)) {
		t.Fatalf("Pull(MaxInt) returned %d samples, want all 50", len(got))
	}
	if b.Size() != 0 {
		t.Errorf("Size() = %d, want 0", b.Size())
	}
	if b.Stats().Underruns != 1 {
		t.Errorf("Underruns = %d, want 1", b.Stats().Underruns)
	}
}

// One producer pushing 48 kHz chunks through the resampler while several
// consumers pull and read counters. Run with -race.
func TestBufferConcurrentProducerConsumers(t *testing.T) {
	const (
		maximum   = 600
		chunks    = 2000
		consumers = 4
	)
	b := mustBuffer(t, BufferConfiguration{Maximum: maximum}, 12000)

	var (
		wg       sync.WaitGroup
		done     atomic.Bool
		oversize atomic.Int64
		pulled   atomic.Uint64
	)

	for i := range consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !done.Load() {
				switch i % 3 {
				case 0:
					pulled.Add(uint64(len(b.Pull(5))))
				case 1:
					if s := b.Stats(); s.Size > maximum || s.Utilization > 100 {
						oversize.Store(int64(s.Size))
					}
				default:
					if n := b.Size(); n > maximum {
						oversize.Store(int64(n))
					}
				}
			}
		}()
	}

	tone := constant(2000, 120)
	for range chunks {
		if err := b.Push(chunkAt(48000, tone)); err != nil {
			t.Errorf("Push() error = %v", err)
			break
		}
		if n := b.Size(); n > maximum {
			oversize.Store(int64(n))
		}
	}
	done.Store(true)
	wg.Wait()

	if n := oversize.Load(); n != 0 {
		t.Errorf("observed size %d above maximum %d", n, maximum)
	}

	s := b.Stats()
	// 120 samples at 48 kHz become 30 at 12 kHz, less the filter lookahead.
	if s.Pushed > chunks*30 || s.Pushed < chunks*30-30 {
		t.Errorf("Pushed = %d, want about %d", s.Pushed, chunks*30)
	}
	if s.Pulled != pulled.Load() {
		t.Errorf("Pulled = %d, consumers received %d", s.Pulled, pulled.Load())
	}
	if got := s.Pushed - s.Evicted - s.Pulled; got != uint64(s.Size) {
		t.Errorf("Pushed-Evicted-Pulled = %d, Size = %d", got, s.Size)
	}
}

func TestBufferMetrics(t *testing.T) {
	b := mustBuffer(t, BufferConfiguration{Maximum: 200, Target: 60, Minimum: 10}, 1000)
	_ = b.Push(chunkAt(1000, ramp(0, 50)))

	if got := b.DurationBuffered(); got != 50 {
		t.Errorf("DurationBuffered() = %v, want 50", got)
	}
	if got := b.UtilizationPercent(); got != 25 {
		t.Errorf("UtilizationPercent() = %d, want 25", got)
	}
	if b.Ready() {
		t.Error("Ready() with 50 of 60 target samples")
	}

	_ = b.Push(chunkAt(1000, ramp(50, 200)))
	if got := b.UtilizationPercent(); got != 100 {
		t.Errorf("UtilizationPercent() = %d when full, want 100", got)
	}
	if !b.Ready() {
		t.Error("Ready() false when full")
	}
}

func TestBufferResamplesLazily(t *testing.T) {
	calls := map[int]int{}
	factory := func(in, out int) (Resampler, error) {
		calls[in]++
		return NewSincResampler(in, out)
	}
	b := mustBuffer(t, BufferConfiguration{Maximum: 12000}, 12000, WithResamplerFactory(factory))

	_ = b.Push(chunkAt(12000, ramp(0, 120)))
	if len(calls) != 0 {
		t.Fatal("resampler created for a chunk already at the consumer rate")
	}

	for range 3 {
		if err := b.Push(chunkAt(48000, constant(1000, 480))); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}
	_ = b.Push(chunkAt(24000, constant(1000, 240)))

	if calls[48000] != 1 || calls[24000] != 1 {
		t.Errorf("factory calls = %v, want one per input rate", calls)
	}
	if got := b.Size(); got != 120+3*120+120 {
		t.Errorf("Size() = %d, want %d", got, 120+3*120+120)
	}
	if got := b.Stats().Resampled; got != 4 {
		t.Errorf("Resampled = %d, want 4", got)
	}
}

func TestBufferResampleFailureLeavesBufferUntouched(t *testing.T) {
	boom := errors.New("unsupported ratio")
	factory := func(int, int) (Resampler, error) { return nil, boom }
	b := mustBuffer(t, BufferConfiguration{Maximum: 100}, 12000, WithResamplerFactory(factory))
	_ = b.Push(chunkAt(12000, ramp(0, 10)))

	err := b.Push(chunkAt(48000, ramp(0, 40)))
	var rerr *ResampleError
	if !errors.As(err, &rerr) {
		t.Fatalf("Push() error = %v, want *ResampleError", err)
	}
	if rerr.FromRate != 48000 || rerr.ToRate != 12000 || !errors.Is(err, boom) {
		t.Errorf("unexpected ResampleError %+v", rerr)
	}
	if b.Size() != 10 {
		t.Errorf("Size() = %d after failed push, want 10", b.Size())
	}
}

func TestBufferReset(t *testing.T) {
	b := mustBuffer(t, BufferConfiguration{Maximum: 100}, 12000)
	_ = b.Push(chunkAt(48000, constant(500, 480)))
	_ = b.Push(chunkAt(12000, ramp(0, 50)))
	b.Pull(1)

	b.Reset()

	if got := b.Stats(); got != (BufferStats{}) {
		t.Errorf("Stats() after Reset = %+v, want zero", got)
	}
	_ = b.Push(chunkAt(12000, ramp(0, 3)))
	if got := b.Pull(1000); !slices.Equal(got, ramp(0, 3)) {
		t.Errorf("Pull() after Reset = %v", got)
	}
}

func TestBufferPushAllocs(t *testing.T) {
	fixed := time.Unix(1700000000, 0)
	b := mustBuffer(t, BufferConfiguration{Maximum: 4800}, 48000, WithClock(func() time.Time { return fixed }))
	chunk := chunkAt(48000, constant(100, 480))

	// Fill past the maximum so the one overflow warning is already logged.
	for range 11 {
		_ = b.Push(chunk)
	}

	allocs := testing.AllocsPerRun(100, func() {
		_ = b.Push(chunk)
	})
	if allocs != 0 {
		t.Errorf("Push() at the consumer rate allocated %v times, want 0", allocs)
	}
}

func BenchmarkBufferPushPull(b *testing.B) {
	buf, _ := NewStreamingBuffer(BufferConfiguration{Maximum: 48000}, 48000)
	chunk := chunkAt(48000, constant(100, 480))
	b.ReportAllocs()
	for b.Loop() {
		_ = buf.Push(chunk)
		buf.Pull(10)
	}
}

func BenchmarkBufferPushResample(b *testing.B) {
	buf, _ := NewStreamingBuffer(BufferConfiguration{Maximum: 12000}, 12000)
	chunk := chunkAt(48000, constant(100, 480))
	b.ReportAllocs()
	for b.Loop() {
		_ = buf.Push(chunk)
	}
}
