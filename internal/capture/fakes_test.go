// SPDX-License-Identifier: MIT
package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedRead is one canned result returned by fakeDevice.Read.
type scriptedRead struct {
	n    int
	err  error
	fill int16
}

// fakeDevice replays scripted reads, then idles with short zero reads.
type fakeDevice struct {
	mu    sync.Mutex
	reads []scriptedRead

	initialized bool
	frames      int
	startErr    error

	starts   atomic.Int32
	stops    atomic.Int32
	releases atomic.Int32
}

func newFakeDevice(frames int, reads ...scriptedRead) *fakeDevice {
	return &fakeDevice{initialized: true, frames: frames, reads: reads}
}

func (d *fakeDevice) Start() error {
	d.starts.Add(1)
	return d.startErr
}

func (d *fakeDevice) Read(buf []int16) (int, error) {
	d.mu.Lock()
	if len(d.reads) > 0 {
		r := d.reads[0]
		d.reads = d.reads[1:]
		d.mu.Unlock()
		for i := range buf[:r.n] {
			buf[i] = r.fill
		}
		return r.n, r.err
	}
	d.mu.Unlock()

	time.Sleep(time.Millisecond)
	return 0, nil
}

func (d *fakeDevice) script(reads ...scriptedRead) {
	d.mu.Lock()
	d.reads = append(d.reads, reads...)
	d.mu.Unlock()
}

func (d *fakeDevice) Stop() error            { d.stops.Add(1); return nil }
func (d *fakeDevice) Release() error         { d.releases.Add(1); return nil }
func (d *fakeDevice) Initialized() bool      { return d.initialized }
func (d *fakeDevice) FramesPerRead() int     { return d.frames }
func (d *fakeDevice) Latency() time.Duration { return 10 * time.Millisecond }

// fakeOpener records every candidate it is asked to open.
type fakeOpener struct {
	mu       sync.Mutex
	attempts []Candidate
	open     func(ctx context.Context, c Candidate) (Device, error)
}

func (o *fakeOpener) Open(ctx context.Context, c Candidate) (Device, error) {
	o.mu.Lock()
	o.attempts = append(o.attempts, c)
	o.mu.Unlock()
	return o.open(ctx, c)
}

func (o *fakeOpener) tried() []Candidate {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Candidate(nil), o.attempts...)
}

// openerFor returns an opener handing out dev for every candidate.
func openerFor(dev Device) *fakeOpener {
	return &fakeOpener{open: func(context.Context, Candidate) (Device, error) {
		return dev, nil
	}}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// ramp returns n samples counting up from start.
func ramp(start, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(start + i)
	}
	return out
}

// constant returns n copies of v.
func constant(v int16, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}
