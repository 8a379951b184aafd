// SPDX-License-Identifier: MIT
package capture

import (
	"context"
	"fmt"
	"time"

	applog "wsprcap/internal/log"
)

// DefaultCandidateTimeout bounds a single device open during probing.
const DefaultCandidateTimeout = 3 * time.Second

// SourceProbe walks an ordered list of candidates and accepts the first one
// whose device opens and reports itself initialized.
type SourceProbe struct {
	opener  Opener
	timeout time.Duration // per candidate, 0 disables
	log     applog.Logger
}

// NewSourceProbe creates a probe over opener. A timeout of 0 leaves each open
// call bounded only by the platform layer.
func NewSourceProbe(opener Opener, timeout time.Duration) *SourceProbe {
	if timeout < 0 {
		timeout = 0
	}
	return &SourceProbe{
		opener:  opener,
		timeout: timeout,
		log:     applog.With("Probe"),
	}
}

// Probe tries candidates strictly in order and stops at the first success.
// Failed candidates have any partially acquired device released before the
// next one is tried. When every candidate fails the returned error is a
// *ProbeFailure. An empty candidate list is a programming error and panics.
func (p *SourceProbe) Probe(ctx context.Context, candidates []Candidate) (*NegotiatedConfig, error) {
	if len(candidates) == 0 {
		panic("capture: Probe called with an empty candidate list")
	}

	failure := &ProbeFailure{Attempts: make([]Attempt, 0, len(candidates))}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			failure.Cause = err
			return nil, failure
		}

		start := time.Now()
		dev, err := p.tryCandidate(ctx, c)
		if err != nil {
			p.log.Debugf("candidate %s rejected after %s: %v", c, time.Since(start).Round(time.Millisecond), err)
			failure.Attempts = append(failure.Attempts, Attempt{Candidate: c, Err: err})
			continue
		}

		cfg := &NegotiatedConfig{
			Candidate:     c,
			FramesPerRead: dev.FramesPerRead(),
			Latency:       dev.Latency(),
			Device:        dev,
		}
		p.log.Infof("accepted %s after %d rejected candidate(s)", cfg, len(failure.Attempts))
		return cfg, nil
	}

	p.log.Warnf("all %d candidate(s) failed", len(failure.Attempts))
	return nil, failure
}

type openResult struct {
	dev Device
	err error
}

// tryCandidate opens one candidate under the per-candidate budget. The open
// call runs on its own goroutine so a hanging driver cannot stall the probe;
// a device that turns up after the deadline is released in the background.
func (p *SourceProbe) tryCandidate(ctx context.Context, c Candidate) (Device, error) {
	openCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.timeout > 0 {
		openCtx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	defer cancel()

	results := make(chan openResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- openResult{err: fmt.Errorf("platform layer panicked: %v", r)}
			}
		}()
		dev, err := p.opener.Open(openCtx, c)
		results <- openResult{dev: dev, err: err}
	}()

	select {
	case r := <-results:
		if r.err != nil {
			if r.dev != nil {
				releaseQuietly(r.dev, p.log)
			}
			return nil, r.err
		}
		if r.dev == nil {
			return nil, ErrDeviceNotInitialized
		}
		if !r.dev.Initialized() {
			releaseQuietly(r.dev, p.log)
			return nil, ErrDeviceNotInitialized
		}
		return r.dev, nil

	case <-openCtx.Done():
		go func() {
			if r := <-results; r.dev != nil {
				p.log.Debugf("releasing late device for %s", c)
				releaseQuietly(r.dev, p.log)
			}
		}()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %s", ErrCandidateTimeout, p.timeout)
	}
}

// releaseQuietly releases dev and logs any teardown error.
func releaseQuietly(dev Device, l applog.Logger) {
	if err := dev.Release(); err != nil {
		l.Warnf("release failed: %v", err)
	}
}

// stopQuietly takes dev out of streaming mode and logs any teardown error.
func stopQuietly(dev Device, l applog.Logger) {
	if err := dev.Stop(); err != nil {
		l.Warnf("stop failed: %v", err)
	}
}
