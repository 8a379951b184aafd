// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"wsprcap/internal/analysis"
	"wsprcap/internal/capture"
	applog "wsprcap/internal/log"
)

// StatsSource is satisfied by *capture.Connection.
type StatsSource interface {
	Stats() capture.Stats
}

// SpectrumSource is satisfied by *analysis.Spectrum.
type SpectrumSource interface {
	Snapshot() analysis.SpectrumSnapshot
	MagnitudesInto(dst []float64) error
	Size() int
}

// UDPPublisher periodically packs connection stats and the latest spectrum
// into a datagram. It runs one goroutine between Start and Stop.
type UDPPublisher struct {
	sender   *UDPSender
	stats    StatsSource
	spectrum SpectrumSource // nil sends no spectrum
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex // protects ticker and doneChan

	sequenceNum uint32
	now         func() time.Time

	magBuffer    []float64
	f32Buffer    []float32
	packetBuffer *bytes.Buffer

	log applog.Logger
}

// NewUDPPublisher creates a publisher. An interval <= 0 defaults to 100ms.
func NewUDPPublisher(interval time.Duration, sender *UDPSender, stats StatsSource, spectrum SpectrumSource) (*UDPPublisher, error) {
	if sender == nil {
		return nil, errors.New("UDPPublisher: UDP sender cannot be nil")
	}
	if stats == nil {
		return nil, errors.New("UDPPublisher: stats source cannot be nil")
	}

	l := applog.With("UDP Publisher")
	if interval <= 0 {
		interval = 100 * time.Millisecond
		l.Warnf("invalid interval provided, defaulting to %s", interval)
	}

	bins := 0
	if spectrum != nil {
		bins = spectrum.Size()/2 + 1
	}
	l.Infof("initializing (interval: %s, spectrum bins: %d)", interval, bins)

	return &UDPPublisher{
		sender:       sender,
		stats:        stats,
		spectrum:     spectrum,
		interval:     interval,
		now:          time.Now,
		magBuffer:    make([]float64, bins),
		f32Buffer:    make([]float32, bins),
		packetBuffer: new(bytes.Buffer),
		log:          l,
	}, nil
}

// Start launches the publishing goroutine. Calling Start while running is a
// no-op.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ticker != nil {
		p.log.Warnf("Start called but already running")
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	ticker, done := p.ticker, p.doneChan

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-done:
				return
			}
		}
	}()
}

// Stop terminates the publishing goroutine and waits for it. It is safe to
// call when not running.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	close(p.doneChan)
	p.ticker.Stop()
	p.ticker = nil
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Debugf("stopped after %d packets", p.sequenceNum)
	return nil
}

// Close stops the publisher and closes its sender.
func (p *UDPPublisher) Close() error {
	return errors.Join(p.Stop(), p.sender.Close())
}

func (p *UDPPublisher) buildAndSendPacket() {
	stats := p.stats.Stats()

	p.sequenceNum++
	h := Header{
		Sequence:    p.sequenceNum,
		Timestamp:   p.now().UnixNano(),
		State:       uint8(stats.State),
		Utilization: uint8(min(max(stats.Buffer.Utilization, 0), 100)),
		Current:     float32(stats.Level.Current),
		Peak:        float32(stats.Level.Peak),
		Average:     float32(stats.Level.Average),
		BufferedMs:  float32(stats.Buffer.BufferedMs),
		Evicted:     stats.Buffer.Evicted,
		Underruns:   stats.Buffer.Underruns,
		BandLevelDB: float32(analysis.FloorDB),
	}

	mags := p.f32Buffer[:0]
	if p.spectrum != nil {
		snap := p.spectrum.Snapshot()
		h.BandLevelDB = float32(snap.BandLevelDB)
		h.PeakHz = float32(snap.PeakHz)
		if err := p.spectrum.MagnitudesInto(p.magBuffer); err != nil {
			p.log.Errorf("error getting magnitudes: %v", err)
		} else {
			for i, v := range p.magBuffer {
				p.f32Buffer[i] = float32(v)
			}
			mags = p.f32Buffer
		}
	}

	if err := encodePacket(p.packetBuffer, h, mags); err != nil {
		p.log.Errorf("error packing data into binary buffer: %v", err)
		return
	}
	if err := p.sender.Send(p.packetBuffer.Bytes()); err != nil {
		p.log.Debugf("packet %d not sent: %v", p.sequenceNum, err)
	}
}

var _ interface{ Close() error } = (*UDPPublisher)(nil)
