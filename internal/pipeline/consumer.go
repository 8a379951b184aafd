// SPDX-License-Identifier: MIT

// Package pipeline drives the consumer side of a capture connection: a pull
// loop feeding the recorder and analysis, and a monitor loop pushing
// telemetry to transports.
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"wsprcap/internal/analysis"
	"wsprcap/internal/capture"
	applog "wsprcap/internal/log"
)

// Source is satisfied by *capture.Connection.
type Source interface {
	Pull(durationMs int) ([]int16, error)
}

// Sink receives every pulled block, e.g. *recording.Recorder.
type Sink interface {
	Write(samples []int16) error
}

// Consumer pulls PullMs of audio every PullMs, standing in for a decoder
// reading the buffer at its own cadence.
type Consumer struct {
	src        Source
	pullMs     int
	sinks      []Sink
	processors []analysis.Processor
	log        applog.Logger

	pulls      atomic.Uint64
	samples    atomic.Uint64
	shortPulls atomic.Uint64
	sinkErrors atomic.Uint64
}

func NewConsumer(src Source, pullMs int, sinks []Sink, processors []analysis.Processor) *Consumer {
	return &Consumer{
		src:        src,
		pullMs:     pullMs,
		sinks:      sinks,
		processors: processors,
		log:        applog.With("Consumer"),
	}
}

// Run pulls until ctx is cancelled. A connection that is not ready yet is
// skipped; a sink error is logged and the sink keeps receiving audio.
func (c *Consumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(c.pullMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick performs one pull.
func (c *Consumer) Tick() {
	samples, err := c.src.Pull(c.pullMs)
	if err != nil {
		if !errors.Is(err, capture.ErrNotReady) {
			c.log.Warnf("pull failed: %v", err)
		}
		return
	}

	c.pulls.Add(1)
	c.samples.Add(uint64(len(samples)))
	if len(samples) == 0 {
		c.shortPulls.Add(1)
		return
	}

	for _, s := range c.sinks {
		if err := s.Write(samples); err != nil {
			if c.sinkErrors.Add(1) == 1 {
				c.log.Errorf("sink write failed: %v", err)
			}
		}
	}
	for _, p := range c.processors {
		p.Process(samples)
	}
}

// ConsumerStats are the consumer's running totals.
type ConsumerStats struct {
	Pulls      uint64 `json:"pulls"`
	Samples    uint64 `json:"samples"`
	EmptyPulls uint64 `json:"empty_pulls"`
	SinkErrors uint64 `json:"sink_errors"`
}

func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Pulls:      c.pulls.Load(),
		Samples:    c.samples.Load(),
		EmptyPulls: c.shortPulls.Load(),
		SinkErrors: c.sinkErrors.Load(),
	}
}
