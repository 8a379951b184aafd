// SPDX-License-Identifier: MIT
package transport

import (
	applog "wsprcap/internal/log"
)

// LoggingTransport writes frames to the debug log.
type LoggingTransport struct {
	log applog.Logger
}

func NewLoggingTransport() *LoggingTransport {
	l := applog.With("Monitor")
	l.Debugf("using logging transport")
	return &LoggingTransport{log: l}
}

// Send logs a one-line summary of data. It never fails.
func (lt *LoggingTransport) Send(data any) error {
	frame, ok := data.(Frame)
	if !ok {
		lt.log.Debugf("%T: %+v", data, data)
		return nil
	}

	switch {
	case frame.Level != nil:
		lt.log.Debugf("level current=%.4f peak=%.4f avg=%.4f", frame.Level.Current, frame.Level.Peak, frame.Level.Average)
	case frame.Stats != nil:
		b := frame.Stats.Buffer
		lt.log.Debugf("stats state=%s buffered=%.0fms util=%d%% evicted=%d underruns=%d zero_reads=%d",
			frame.Stats.State, b.BufferedMs, b.Utilization, b.Evicted, b.Underruns, frame.Stats.ZeroReads)
	case frame.State != nil:
		lt.log.Debugf("state %s -> %s %s", frame.State.From, frame.State.To, frame.State.Error)
	case frame.Spectrum != nil:
		lt.log.Debugf("spectrum band=%.1fdB ratio=%.3f peak=%.1fHz",
			frame.Spectrum.BandLevelDB, frame.Spectrum.BandRatio, frame.Spectrum.PeakHz)
	default:
		lt.log.Debugf("%s frame without payload", frame.Type)
	}
	return nil
}

func (lt *LoggingTransport) Close() error { return nil }

var _ Transport = (*LoggingTransport)(nil)
