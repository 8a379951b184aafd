// SPDX-License-Identifier: MIT

// Package transport pushes capture telemetry to monitors.
package transport

import (
	"errors"
	"time"

	"wsprcap/internal/analysis"
	"wsprcap/internal/capture"
)

var ErrClosed = errors.New("transport closed")

// Transport sends frames to a monitor. Implementations are safe for
// concurrent use and never block the caller for long.
type Transport interface {
	Send(data any) error
	Close() error
}

type FrameType string

const (
	FrameLevel    FrameType = "level"
	FrameStats    FrameType = "stats"
	FrameState    FrameType = "state"
	FrameSpectrum FrameType = "spectrum"
)

// Frame is the JSON envelope shared by all monitor transports. Exactly one
// payload field is set, matching Type.
type Frame struct {
	Type         FrameType                  `json:"type"`
	ConnectionID string                     `json:"connection_id"`
	TimestampMs  int64                      `json:"timestamp_ms"`
	Level        *capture.LevelSnapshot     `json:"level,omitempty"`
	Stats        *capture.Stats             `json:"stats,omitempty"`
	State        *StatePayload              `json:"state,omitempty"`
	Spectrum     *analysis.SpectrumSnapshot `json:"spectrum,omitempty"`
}

type StatePayload struct {
	From  capture.State `json:"from"`
	To    capture.State `json:"to"`
	Error string        `json:"error,omitempty"`
}

func LevelFrame(id string, level capture.LevelSnapshot) Frame {
	return Frame{Type: FrameLevel, ConnectionID: id, TimestampMs: level.TimestampMs, Level: &level}
}

func StatsFrame(id string, stats capture.Stats, at time.Time) Frame {
	return Frame{Type: FrameStats, ConnectionID: id, TimestampMs: at.UnixMilli(), Stats: &stats}
}

func StateFrame(id string, change capture.StateChange) Frame {
	payload := &StatePayload{From: change.From, To: change.To}
	if change.Err != nil {
		payload.Error = change.Err.Error()
	}
	return Frame{Type: FrameState, ConnectionID: id, TimestampMs: change.At.UnixMilli(), State: payload}
}

func SpectrumFrame(id string, snap analysis.SpectrumSnapshot, at time.Time) Frame {
	return Frame{Type: FrameSpectrum, ConnectionID: id, TimestampMs: at.UnixMilli(), Spectrum: &snap}
}

// Fanout sends every frame to each of its transports.
type Fanout []Transport

func (f Fanout) Send(data any) error {
	var errs []error
	for _, t := range f {
		if err := t.Send(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, t := range f {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Transport = Fanout(nil)
