// SPDX-License-Identifier: MIT
package pipeline

import (
	"context"
	"time"

	"wsprcap/internal/analysis"
	"wsprcap/internal/capture"
	applog "wsprcap/internal/log"
	"wsprcap/internal/transport"
)

// StatsSource is satisfied by *capture.Connection.
type StatsSource interface {
	ID() string
	Stats() capture.Stats
	CurrentLevel() capture.LevelSnapshot
}

// SpectrumSource is satisfied by *analysis.Spectrum.
type SpectrumSource interface {
	Snapshot() analysis.SpectrumSnapshot
}

// MonitorConfig sets the push cadence and alert thresholds.
type MonitorConfig struct {
	Interval         time.Duration // level frames
	StatsEvery       int           // stats and spectrum frames every N level frames
	SilenceThreshold float64
	ClipThreshold    float64
}

// Monitor pushes level, stats, spectrum and state frames to a transport and
// logs silence and clipping when they start and end.
type Monitor struct {
	src      StatsSource
	spectrum SpectrumSource // optional
	out      transport.Transport
	states   <-chan capture.StateChange
	cfg      MonitorConfig
	now      func() time.Time
	log      applog.Logger

	ticks    int
	silent   bool
	clipping bool
}

// NewMonitor creates a monitor. states may be nil; spectrum may be nil.
func NewMonitor(src StatsSource, spectrum SpectrumSource, out transport.Transport, states <-chan capture.StateChange, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.StatsEvery <= 0 {
		cfg.StatsEvery = 10
	}
	return &Monitor{
		src:      src,
		spectrum: spectrum,
		out:      out,
		states:   states,
		cfg:      cfg,
		now:      time.Now,
		log:      applog.With("Monitor"),
	}
}

// Run pushes frames until ctx is cancelled or the state channel closes.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	states := m.states
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			m.send(transport.StateFrame(m.src.ID(), change))
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick sends one level frame, and stats and spectrum frames every
// StatsEvery ticks.
func (m *Monitor) Tick() {
	id := m.src.ID()
	level := m.src.CurrentLevel()
	m.checkAlerts(level)
	m.send(transport.LevelFrame(id, level))

	m.ticks++
	if m.ticks%m.cfg.StatsEvery != 0 {
		return
	}
	now := m.now()
	m.send(transport.StatsFrame(id, m.src.Stats(), now))
	if m.spectrum != nil {
		m.send(transport.SpectrumFrame(id, m.spectrum.Snapshot(), now))
	}
}

func (m *Monitor) checkAlerts(level capture.LevelSnapshot) {
	if level == (capture.LevelSnapshot{}) {
		return // nothing metered yet
	}

	if silent := level.IsSilent(m.cfg.SilenceThreshold); silent != m.silent {
		m.silent = silent
		if silent {
			m.log.Warnf("input silent (level %.5f below %.5f), check antenna and receiver", level.Current, m.cfg.SilenceThreshold)
		} else {
			m.log.Infof("input signal restored (level %.5f)", level.Current)
		}
	}
	if clipping := level.IsClipping(m.cfg.ClipThreshold); clipping != m.clipping {
		m.clipping = clipping
		if clipping {
			m.log.Warnf("input clipping (level %.3f), reduce receiver audio gain", level.Current)
		} else {
			m.log.Infof("input no longer clipping")
		}
	}
}

func (m *Monitor) send(f transport.Frame) {
	if err := m.out.Send(f); err != nil {
		m.log.Debugf("%s frame not sent: %v", f.Type, err)
	}
}

// Alerts reports the current silence and clipping conditions.
func (m *Monitor) Alerts() (silent, clipping bool) {
	return m.silent, m.clipping
}
